package admincli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/r9s-ai/open-treebank-server/pkg/corpus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newCorpusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "corpus",
		Short: "Inspect and convert corpora",
	}
	cmd.AddCommand(newCorpusLsCmd())
	cmd.AddCommand(newCorpusImportCmd())
	cmd.AddCommand(newCorpusStatsCmd())
	return cmd
}

type corpusLsOptions struct {
	cfgPath     string
	corporaFile string
	showPath    bool
}

func newCorpusLsCmd() *cobra.Command {
	opts := corpusLsOptions{cfgPath: defaultConfigPath}
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List the registered corpora",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCorpusLs(cmd.OutOrStdout(), opts)
		},
	}
	fs := cmd.Flags()
	fs.StringVarP(&opts.cfgPath, "config", "c", defaultConfigPath, "config yaml path")
	fs.StringVar(&opts.corporaFile, "corpora", "", "corpus registry path (overrides corpora.file)")
	fs.BoolVar(&opts.showPath, "path", false, "include the storage path")
	return cmd
}

func runCorpusLs(out io.Writer, opts corpusLsOptions) error {
	reg, err := loadRegistry(opts.cfgPath, opts.corporaFile)
	if err != nil {
		return err
	}
	for _, d := range reg.All() {
		fields := []string{d.Name, fmt.Sprint(d.Entries), fmt.Sprint(d.FileSize), d.ShortDesc}
		if opts.showPath {
			fields = append(fields, d.Path)
		}
		if _, err := fmt.Fprintln(out, strings.Join(fields, "\t")); err != nil {
			return err
		}
	}
	return nil
}

func newCorpusImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <source> <dest.sqlite>",
		Short: "Copy a directory, zip or sqlite corpus into a new sqlite corpus",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCorpusImport(cmd.Context(), cmd.OutOrStdout(), args[0], args[1])
		},
	}
}

func runCorpusImport(ctx context.Context, out io.Writer, src, dst string) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	r, err := corpus.Open(ctx, src)
	if err != nil {
		return err
	}
	defer r.Close()

	w, err := corpus.CreateSQLite(ctx, dst)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := w.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(dst)
		}
	}()
	n, err := corpus.Import(ctx, r, w)
	if err != nil {
		return fmt.Errorf("import %s: %w", src, err)
	}
	if err := w.Commit(); err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "imported %d entries into %s\n", n, dst)
	return err
}

type corpusStatsOptions struct {
	cfgPath     string
	corporaFile string
	jobs        int
}

func newCorpusStatsCmd() *cobra.Command {
	opts := corpusStatsOptions{cfgPath: defaultConfigPath, jobs: 4}
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Count the entries of every registered corpus",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCorpusStats(cmd.Context(), cmd.OutOrStdout(), opts, corpus.DefaultOpener)
		},
	}
	fs := cmd.Flags()
	fs.StringVarP(&opts.cfgPath, "config", "c", defaultConfigPath, "config yaml path")
	fs.StringVar(&opts.corporaFile, "corpora", "", "corpus registry path (overrides corpora.file)")
	fs.IntVarP(&opts.jobs, "jobs", "j", 4, "corpora counted in parallel")
	return cmd
}

type corpusStat struct {
	registered int64
	actual     int64
	err        error
}

func runCorpusStats(ctx context.Context, out io.Writer, opts corpusStatsOptions, opener corpus.Opener) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.jobs <= 0 {
		return errors.New("--jobs must be > 0")
	}
	reg, err := loadRegistry(opts.cfgPath, opts.corporaFile)
	if err != nil {
		return err
	}
	descs := reg.All()
	stats := make([]corpusStat, len(descs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.jobs)
	for i, d := range descs {
		stats[i].registered = d.Entries
		g.Go(func() error {
			r, err := opener.Open(gctx, d.Path)
			if err != nil {
				stats[i].err = err
				return nil
			}
			defer r.Close()
			stats[i].actual, stats[i].err = corpus.Count(gctx, r)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tREGISTERED\tACTUAL\tSTATUS")
	mismatched := 0
	for i, d := range descs {
		s := stats[i]
		status := "ok"
		actual := fmt.Sprint(s.actual)
		switch {
		case s.err != nil:
			status = "error: " + s.err.Error()
			actual = "-"
			mismatched++
		case s.actual != s.registered:
			status = "mismatch"
			mismatched++
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", d.Name, s.registered, actual, status)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if mismatched > 0 {
		return fmt.Errorf("%d corpora need attention", mismatched)
	}
	return nil
}
