package main

import (
	"fmt"
	"os"

	"github.com/r9s-ai/open-treebank-server/internal/admincli"
)

func main() {
	if err := admincli.Execute(os.Args[1:]); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
