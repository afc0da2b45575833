package otsserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	"github.com/r9s-ai/open-treebank-server/internal/logx"
	"github.com/r9s-ai/open-treebank-server/pkg/config"
	"github.com/r9s-ai/open-treebank-server/pkg/corpus"
	"github.com/r9s-ai/open-treebank-server/pkg/registry"
	"github.com/r9s-ai/open-treebank-server/pkg/requestid"
)

const shutdownTimeout = 10 * time.Second

// Run serves until SIGINT or SIGTERM. SIGHUP reloads the corpus registry.
func Run(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	appLog, err := logx.NewLogger(cfg.Logging.Level, logx.ColorEnabled())
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = appLog.Sync() }()

	accessLogger, accessClose, accessColor, err := openAccessLogger(cfg)
	if err != nil {
		return fmt.Errorf("init access log: %w", err)
	}
	if accessClose != nil {
		defer func() { _ = accessClose.Close() }()
	}

	pidCleanup, err := writePIDFile(cfg)
	if err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	if pidCleanup != nil {
		defer func() { _ = pidCleanup.Close() }()
	}

	reg, err := registry.Load(cfg.Corpora.File)
	if err != nil {
		return fmt.Errorf("load corpora file %q: %w", cfg.Corpora.File, err)
	}
	st := newState(reg, corpus.DefaultOpener, appLog)
	st.SetStartedAtUnix(time.Now().Unix())

	reloadMu := &sync.Mutex{}
	stopReload := installReloadSignalHandler(cfg, st, reloadMu)
	defer stopReload()
	autoReloadClose, err := installCorporaAutoReload(cfg, st, reloadMu)
	if err != nil {
		return fmt.Errorf("init corpora auto reload: %w", err)
	}
	if autoReloadClose != nil {
		defer func() { _ = autoReloadClose.Close() }()
	}

	accessFormat, err := logx.ResolveAccessLogFormat(cfg.Logging.AccessLogFormat, cfg.Logging.AccessLogFormatPreset)
	if err != nil {
		return fmt.Errorf("resolve access log format: %w", err)
	}
	accessFormatter, err := logx.CompileAccessLogFormat(accessFormat)
	if err != nil {
		return fmt.Errorf("compile access_log_format: %w", err)
	}
	engine := NewRouter(cfg, st, accessLogger, accessColor, requestid.DefaultHeaderKey, accessFormatter)

	ln, err := listen(cfg)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Server.Listen, err)
	}
	srv := &http.Server{
		Handler:           engine,
		ReadHeaderTimeout: time.Duration(cfg.Server.ReadTimeoutMs) * time.Millisecond,
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeoutMs) * time.Millisecond,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeoutMs) * time.Millisecond,
		ErrorLog:          zap.NewStdLog(appLog.Named("http")),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	appLog.Info("open-treebank-server listening",
		zap.String("listen", ln.Addr().String()),
		zap.Int("corpora", reg.Len()),
		zap.String("corpora_file", cfg.Corpora.File),
	)
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	appLog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func listen(cfg *config.Config) (net.Listener, error) {
	ln, err := net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		return nil, err
	}
	if cfg.Server.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, cfg.Server.MaxConnections)
	}
	return ln, nil
}

func openAccessLogger(cfg *config.Config) (*log.Logger, io.Closer, bool, error) {
	if cfg == nil || !cfg.Logging.AccessLog {
		return nil, nil, false, nil
	}

	path := strings.TrimSpace(cfg.Logging.AccessLogPath)
	if path == "" {
		return log.New(os.Stdout, "", 0), nil, logx.ColorEnabled(), nil
	}

	if cfg.Logging.AccessLogRotate.Enabled {
		w, err := logx.NewRotateWriter(logx.RotateOptions{
			Path:       path,
			MaxSizeMB:  cfg.Logging.AccessLogRotate.MaxSizeMB,
			MaxBackups: cfg.Logging.AccessLogRotate.MaxBackups,
			MaxAgeDays: cfg.Logging.AccessLogRotate.MaxAgeDays,
			Compress:   cfg.Logging.AccessLogRotate.Compress,
		})
		if err != nil {
			return nil, nil, false, err
		}
		return log.New(w, "", 0), w, false, nil
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, nil, false, err
		}
	}
	// #nosec G304 -- access_log_path comes from trusted config/env.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, false, err
	}
	return log.New(f, "", 0), f, false, nil
}

type closerFunc func() error

func (c closerFunc) Close() error { return c() }

func writePIDFile(cfg *config.Config) (io.Closer, error) {
	if cfg == nil {
		return nil, nil
	}
	path := strings.TrimSpace(cfg.Server.PidFile)
	if path == "" {
		return nil, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, err
		}
	}

	tmp := path + ".tmp"
	pid := strconv.Itoa(os.Getpid()) + "\n"
	if err := os.WriteFile(tmp, []byte(pid), 0o600); err != nil {
		return nil, err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return nil, err
	}
	return closerFunc(func() error { return os.Remove(path) }), nil
}

// installReloadSignalHandler reloads the registry on SIGHUP. The returned
// func stops listening for the signal.
func installReloadSignalHandler(cfg *config.Config, st *state, mu *sync.Mutex) func() {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGHUP)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range ch {
			reloadAndLog(cfg, st, mu, "signal")
		}
	}()
	return func() {
		signal.Stop(ch)
		close(ch)
		<-done
	}
}

func reloadAndLog(cfg *config.Config, st *state, mu *sync.Mutex, trigger string) {
	mu.Lock()
	res, err := reloadRegistry(cfg, st)
	mu.Unlock()
	if err != nil {
		st.log.Error("reload failed", zap.String("trigger", trigger), zap.Error(err))
		return
	}
	st.log.Info("reload ok",
		zap.String("trigger", trigger),
		zap.String("corpora_file", cfg.Corpora.File),
		zap.Int("corpora", res.Total),
		zap.String("changed", corpusNamesForLog(res.Changed)),
	)
}

type registryReloadResult struct {
	Total   int
	Changed []string
}

// reloadRegistry loads the corpora file and publishes it. A broken file
// keeps the current registry.
func reloadRegistry(cfg *config.Config, st *state) (registryReloadResult, error) {
	if cfg == nil || st == nil {
		return registryReloadResult{}, errors.New("reload: nil cfg/state")
	}
	next, err := registry.Load(cfg.Corpora.File)
	if err != nil {
		return registryReloadResult{}, fmt.Errorf("reload corpora file %q: %w", cfg.Corpora.File, err)
	}
	changed := diffChangedCorpusNames(st.Registry(), next)
	st.SetRegistry(next)
	return registryReloadResult{Total: next.Len(), Changed: changed}, nil
}

func corpusNamesForLog(names []string) string {
	if len(names) == 0 {
		return "<none>"
	}
	return strings.Join(names, ",")
}

// diffChangedCorpusNames lists corpora that were added, removed or whose
// descriptor changed, sorted by name.
func diffChangedCorpusNames(before, after *registry.Registry) []string {
	changed := make([]string, 0)
	for _, d := range before.All() {
		if n, ok := after.Lookup(d.Name); !ok || n != d {
			changed = append(changed, d.Name)
		}
	}
	for _, d := range after.All() {
		if _, ok := before.Lookup(d.Name); !ok {
			changed = append(changed, d.Name)
		}
	}
	sort.Strings(changed)
	return changed
}
