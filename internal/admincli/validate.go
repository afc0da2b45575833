package admincli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/r9s-ai/open-treebank-server/pkg/config"
	"github.com/r9s-ai/open-treebank-server/pkg/corpus"
	"github.com/r9s-ai/open-treebank-server/pkg/registry"
	"github.com/spf13/cobra"
)

type validateOptions struct {
	cfgPath     string
	corporaFile string
	skipOpen    bool
}

func newValidateCmd() *cobra.Command {
	opts := validateOptions{cfgPath: defaultConfigPath}
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the config, the corpus registry and every corpus it names",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.Context(), cmd.OutOrStdout(), opts, corpus.DefaultOpener)
		},
	}
	fs := cmd.Flags()
	fs.StringVarP(&opts.cfgPath, "config", "c", defaultConfigPath, "config yaml path")
	fs.StringVar(&opts.corporaFile, "corpora", "", "corpus registry path (overrides corpora.file)")
	fs.BoolVar(&opts.skipOpen, "skip-open", false, "do not open the corpora")
	return cmd
}

func runValidate(ctx context.Context, out io.Writer, opts validateOptions, opener corpus.Opener) error {
	if ctx == nil {
		ctx = context.Background()
	}
	reg, err := loadRegistry(opts.cfgPath, opts.corporaFile)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "registry ok: %d corpora\n", reg.Len())
	if opts.skipOpen {
		return nil
	}
	var failed []string
	for _, d := range reg.All() {
		r, err := opener.Open(ctx, d.Path)
		if err != nil {
			fmt.Fprintf(out, "FAIL\t%s\t%v\n", d.Name, err)
			failed = append(failed, d.Name)
			continue
		}
		_ = r.Close()
		fmt.Fprintf(out, "ok\t%s\n", d.Name)
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d corpora failed to open: %s", len(failed), strings.Join(failed, ","))
	}
	return nil
}

// loadRegistry reads the config at cfgPath and then the registry it points
// to. An explicit corporaFile wins over the config.
func loadRegistry(cfgPath, corporaFile string) (*registry.Registry, error) {
	file := strings.TrimSpace(corporaFile)
	if file == "" {
		cfg, err := config.Load(strings.TrimSpace(cfgPath))
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		file = cfg.Corpora.File
	}
	reg, err := registry.Load(file)
	if err != nil {
		return nil, fmt.Errorf("load corpora %s: %w", file, err)
	}
	return reg, nil
}
