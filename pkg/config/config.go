package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	defaultAccessLogRotateMaxSizeMB  = 100
	defaultAccessLogRotateMaxBackups = 14
	defaultAccessLogRotateMaxAgeDays = 14

	defaultMaxTransformBytes = 1 << 20
)

type AccessLogRotateConfig struct {
	Enabled    bool `yaml:"enabled"`
	MaxSizeMB  int  `yaml:"max_size_mb"`
	MaxBackups int  `yaml:"max_backups"`
	MaxAgeDays int  `yaml:"max_age_days"`
	Compress   bool `yaml:"compress"`

	maxSizeMBSet  bool `yaml:"-"`
	maxBackupsSet bool `yaml:"-"`
	maxAgeDaysSet bool `yaml:"-"`
}

func (c *AccessLogRotateConfig) UnmarshalYAML(value *yaml.Node) error {
	type rawRotate struct {
		Enabled    bool `yaml:"enabled"`
		MaxSizeMB  int  `yaml:"max_size_mb"`
		MaxBackups int  `yaml:"max_backups"`
		MaxAgeDays int  `yaml:"max_age_days"`
		Compress   bool `yaml:"compress"`
	}
	var raw rawRotate
	if err := value.Decode(&raw); err != nil {
		return err
	}
	c.Enabled = raw.Enabled
	c.MaxSizeMB = raw.MaxSizeMB
	c.MaxBackups = raw.MaxBackups
	c.MaxAgeDays = raw.MaxAgeDays
	c.Compress = raw.Compress
	c.maxSizeMBSet = false
	c.maxBackupsSet = false
	c.maxAgeDaysSet = false

	if value.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(value.Content); i += 2 {
		switch strings.TrimSpace(value.Content[i].Value) {
		case "max_size_mb":
			c.maxSizeMBSet = true
		case "max_backups":
			c.maxBackupsSet = true
		case "max_age_days":
			c.maxAgeDaysSet = true
		}
	}
	return nil
}

type LoggingConfig struct {
	// Level is the application log level: debug, info, warn or error.
	Level                 string                `yaml:"level"`
	AccessLog             bool                  `yaml:"access_log"`
	AccessLogPath         string                `yaml:"access_log_path"`
	AccessLogFormat       string                `yaml:"access_log_format"`
	AccessLogFormatPreset string                `yaml:"access_log_format_preset"`
	AccessLogRotate       AccessLogRotateConfig `yaml:"access_log_rotate"`

	accessLogSet bool `yaml:"-"`
}

func (c *LoggingConfig) UnmarshalYAML(value *yaml.Node) error {
	type rawLogging LoggingConfig
	var raw rawLogging
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*c = LoggingConfig(raw)
	c.accessLogSet = false
	if value.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(value.Content); i += 2 {
		if strings.TrimSpace(value.Content[i].Value) == "access_log" {
			c.accessLogSet = true
		}
	}
	return nil
}

type Config struct {
	Server struct {
		Listen         string `yaml:"listen"`
		ReadTimeoutMs  int    `yaml:"read_timeout_ms"`
		WriteTimeoutMs int    `yaml:"write_timeout_ms"`
		PidFile        string `yaml:"pid_file"`
		// MaxConnections caps concurrently accepted connections. 0 means unlimited.
		MaxConnections int `yaml:"max_connections"`
		// MaxTransformBytes bounds the stylesheet body of POST /{corpus}/entries.
		MaxTransformBytes int64 `yaml:"max_transform_bytes"`
	} `yaml:"server"`

	Corpora struct {
		// File is the corpus registry (.yaml, .yml or .toml).
		File string `yaml:"file"`
		// AutoReload watches the registry file and swaps in a new registry on change.
		AutoReload struct {
			Enabled    bool `yaml:"enabled"`
			DebounceMs int  `yaml:"debounce_ms"`
		} `yaml:"auto_reload"`
	} `yaml:"corpora"`

	Logging LoggingConfig `yaml:"logging"`
}

func Load(path string) (*Config, error) {
	// #nosec G304 -- path is provided by trusted config/flag.
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	return &cfg
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Server.Listen) == "" {
		cfg.Server.Listen = ":8080"
	}
	if cfg.Server.ReadTimeoutMs <= 0 {
		cfg.Server.ReadTimeoutMs = 60000
	}
	// Streams over large corpora can take a long time; 0 disables the write timeout.
	if cfg.Server.WriteTimeoutMs < 0 {
		cfg.Server.WriteTimeoutMs = 0
	}
	if strings.TrimSpace(cfg.Server.PidFile) == "" {
		cfg.Server.PidFile = "/var/run/ots.pid"
	}
	if cfg.Server.MaxTransformBytes == 0 {
		cfg.Server.MaxTransformBytes = defaultMaxTransformBytes
	}
	if strings.TrimSpace(cfg.Corpora.File) == "" {
		cfg.Corpora.File = "./corpora.yaml"
	}
	if cfg.Corpora.AutoReload.DebounceMs <= 0 {
		cfg.Corpora.AutoReload.DebounceMs = 300
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	// default true for local debugging
	if !cfg.Logging.accessLogSet {
		cfg.Logging.AccessLog = true
	}
	if !cfg.Logging.AccessLogRotate.maxSizeMBSet {
		cfg.Logging.AccessLogRotate.MaxSizeMB = defaultAccessLogRotateMaxSizeMB
	}
	if !cfg.Logging.AccessLogRotate.maxBackupsSet {
		cfg.Logging.AccessLogRotate.MaxBackups = defaultAccessLogRotateMaxBackups
	}
	if !cfg.Logging.AccessLogRotate.maxAgeDaysSet {
		cfg.Logging.AccessLogRotate.MaxAgeDays = defaultAccessLogRotateMaxAgeDays
	}
}

func applyEnvOverrides(cfg *Config) {
	applyEnvServerOverrides(cfg)
	applyEnvCorporaOverrides(cfg)
	applyEnvLoggingOverrides(cfg)
}

func applyEnvServerOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("OTS_LISTEN")); v != "" {
		cfg.Server.Listen = v
	}
	if n, ok := envInt("OTS_READ_TIMEOUT_MS"); ok && n > 0 {
		cfg.Server.ReadTimeoutMs = n
	}
	if n, ok := envInt("OTS_WRITE_TIMEOUT_MS"); ok && n >= 0 {
		cfg.Server.WriteTimeoutMs = n
	}
	if v := strings.TrimSpace(os.Getenv("OTS_PID_FILE")); v != "" {
		cfg.Server.PidFile = v
	}
	if n, ok := envInt("OTS_MAX_CONNECTIONS"); ok {
		cfg.Server.MaxConnections = n
	}
	if n, ok := envInt("OTS_MAX_TRANSFORM_BYTES"); ok {
		cfg.Server.MaxTransformBytes = int64(n)
	}
}

func applyEnvCorporaOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("OTS_CORPORA_FILE")); v != "" {
		cfg.Corpora.File = v
	}
	cfg.Corpora.AutoReload.Enabled = envBool("OTS_CORPORA_AUTO_RELOAD_ENABLED", cfg.Corpora.AutoReload.Enabled)
	if n, ok := envInt("OTS_CORPORA_AUTO_RELOAD_DEBOUNCE_MS"); ok {
		cfg.Corpora.AutoReload.DebounceMs = n
	}
}

func applyEnvLoggingOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("OTS_LOG_LEVEL")); v != "" {
		cfg.Logging.Level = v
	}
	cfg.Logging.AccessLog = envBool("OTS_ACCESS_LOG", cfg.Logging.AccessLog)
	if v := strings.TrimSpace(os.Getenv("OTS_ACCESS_LOG_PATH")); v != "" {
		cfg.Logging.AccessLogPath = v
	}
	if v := os.Getenv("OTS_ACCESS_LOG_FORMAT"); strings.TrimSpace(v) != "" {
		cfg.Logging.AccessLogFormat = v
	}
	if v := strings.TrimSpace(os.Getenv("OTS_ACCESS_LOG_FORMAT_PRESET")); v != "" {
		cfg.Logging.AccessLogFormatPreset = v
	}
	cfg.Logging.AccessLogRotate.Enabled = envBool("OTS_ACCESS_LOG_ROTATE_ENABLED", cfg.Logging.AccessLogRotate.Enabled)
	if n, ok := envInt("OTS_ACCESS_LOG_ROTATE_MAX_SIZE_MB"); ok {
		cfg.Logging.AccessLogRotate.MaxSizeMB = n
		cfg.Logging.AccessLogRotate.maxSizeMBSet = true
	}
	if n, ok := envInt("OTS_ACCESS_LOG_ROTATE_MAX_BACKUPS"); ok {
		cfg.Logging.AccessLogRotate.MaxBackups = n
		cfg.Logging.AccessLogRotate.maxBackupsSet = true
	}
	if n, ok := envInt("OTS_ACCESS_LOG_ROTATE_MAX_AGE_DAYS"); ok {
		cfg.Logging.AccessLogRotate.MaxAgeDays = n
		cfg.Logging.AccessLogRotate.maxAgeDaysSet = true
	}
	cfg.Logging.AccessLogRotate.Compress = envBool("OTS_ACCESS_LOG_ROTATE_COMPRESS", cfg.Logging.AccessLogRotate.Compress)
}

func envInt(name string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(name string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func validate(cfg *Config) error {
	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return errors.New("logging.level must be one of debug, info, warn, error")
	}
	if cfg.Server.MaxConnections < 0 {
		return errors.New("server.max_connections must be >= 0")
	}
	if cfg.Server.MaxTransformBytes <= 0 {
		return errors.New("server.max_transform_bytes must be > 0")
	}
	if cfg.Corpora.AutoReload.Enabled && cfg.Corpora.AutoReload.DebounceMs <= 0 {
		return errors.New("corpora.auto_reload.debounce_ms must be > 0 when corpora.auto_reload.enabled=true")
	}
	if cfg.Logging.AccessLogRotate.Enabled {
		if !cfg.Logging.AccessLog {
			return errors.New("logging.access_log must be true when logging.access_log_rotate.enabled=true")
		}
		if strings.TrimSpace(cfg.Logging.AccessLogPath) == "" {
			return errors.New("logging.access_log_path is required when logging.access_log_rotate.enabled=true")
		}
	}
	if cfg.Logging.AccessLogRotate.MaxSizeMB <= 0 {
		return errors.New("logging.access_log_rotate.max_size_mb must be > 0")
	}
	if cfg.Logging.AccessLogRotate.MaxBackups <= 0 {
		return errors.New("logging.access_log_rotate.max_backups must be > 0")
	}
	if cfg.Logging.AccessLogRotate.MaxAgeDays < 0 {
		return errors.New("logging.access_log_rotate.max_age_days must be >= 0")
	}
	return nil
}
