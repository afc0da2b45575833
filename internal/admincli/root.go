// Package admincli implements ots-admin, the offline maintenance tool for
// treebank corpora and their registry.
package admincli

import (
	"github.com/spf13/cobra"
)

const defaultConfigPath = "ots.yaml"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ots-admin",
		Short:         "Maintenance commands for the open treebank server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newVersionCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newCorpusCmd())
	return root
}

// Execute runs the command line with args (without the program name).
func Execute(args []string) error {
	root := newRootCmd()
	root.SetArgs(args)
	return root.Execute()
}
