package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/r9s-ai/open-treebank-server/internal/otsserver"
	"github.com/r9s-ai/open-treebank-server/internal/version"
	"gopkg.in/yaml.v3"
)

func main() {
	var cfgPath string
	var signalCmd string
	var showVersion bool
	flag.StringVar(&cfgPath, "config", "ots.yaml", "path to config yaml")
	flag.StringVar(&cfgPath, "c", "ots.yaml", "path to config yaml (alias of --config)")
	flag.StringVar(&signalCmd, "s", "", "send signal to a running ots (supported: reload)")
	flag.BoolVar(&showVersion, "version", false, "show version information")
	flag.Parse()

	if showVersion {
		fmt.Println(version.Get())
		return
	}

	if s := strings.ToLower(strings.TrimSpace(signalCmd)); s != "" {
		if s != "reload" {
			_, _ = fmt.Fprintln(os.Stderr, "unsupported -s value: "+s+" (supported: reload)")
			os.Exit(2)
		}
		if err := sendReloadSignal(cfgPath); err != nil {
			_, _ = fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}
		return
	}

	if err := otsserver.Run(cfgPath); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func sendReloadSignal(cfgPath string) error {
	pidFile, err := pidFileFromConfig(cfgPath)
	if err != nil {
		return err
	}
	pid, err := readPID(pidFile)
	if err != nil {
		return err
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process pid=%d: %w", pid, err)
	}
	if err := p.Signal(syscall.SIGHUP); err != nil {
		return fmt.Errorf("send SIGHUP pid=%d: %w", pid, err)
	}
	return nil
}

func readPID(pidFile string) (int, error) {
	// #nosec G304 -- pid file path comes from trusted config/env.
	b, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, fmt.Errorf("read pid file %q: %w", pidFile, err)
	}
	s := strings.TrimSpace(string(b))
	pid, err := strconv.Atoi(s)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid in %q: %q", pidFile, s)
	}
	return pid, nil
}

func pidFileFromConfig(cfgPath string) (string, error) {
	// Must match the pid_file default in pkg/config.
	const def = "/var/run/ots.pid"
	if v := strings.TrimSpace(os.Getenv("OTS_PID_FILE")); v != "" {
		return v, nil
	}
	path := strings.TrimSpace(cfgPath)
	if path == "" {
		return def, nil
	}
	// #nosec G304 -- config path comes from trusted flag.
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read config %q: %w", path, err)
	}
	var partial struct {
		Server struct {
			PidFile string `yaml:"pid_file"`
		} `yaml:"server"`
	}
	if err := yaml.Unmarshal(b, &partial); err != nil {
		return "", fmt.Errorf("parse config %q: %w", path, err)
	}
	if v := strings.TrimSpace(partial.Server.PidFile); v != "" {
		return v, nil
	}
	return def, nil
}
