package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	settingsFile     = "config/setting.ini"
	defaultEnv       = "dev"
	envConfigPattern = "config/%s/localllama.ini"
	envPrefix        = "LOCALLLAMA_"
)

// Settings contains global toggles such as the active environment.
type Settings struct {
	Environment string
	Defaults    map[string]string
}

// ServerConfig describes runtime options for localllamad.
type ServerConfig struct {
	Environment string
	HTTPAddress string

	// Model
	Engine         string // llamacpp | loopback
	ModelPath      string
	ModelType      string
	ContextLength  int
	MaxNewTokens   int
	GPULayers      int
	Threads        int
	Temperature    float64
	TopP           float64
	StopSequences  []string
	LlamaServerBin string
	LlamaServerURL string

	// Stop-flag registry
	Registry       string // memory | redis
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string
	StopFlagTTL    time.Duration

	// Generation ledger
	LedgerDSN   string
	LedgerAsync bool

	LogFile            string
	LogLevel           string
	DefaultSessionID   string
	ShutdownTimeout    time.Duration
	CORSAllowedOrigins []string

	// ConfigFile is the YAML overlay that was applied, if any.
	ConfigFile string
}

// LoadServerConfig merges, lowest precedence first: config/setting.ini,
// config/<env>/localllama.ini, the YAML file named by config_file, and
// LOCALLLAMA_* environment variables.
func LoadServerConfig(root string) (ServerConfig, error) {
	if root == "" {
		root = "."
	}
	s, err := loadSettings(root)
	if err != nil {
		return ServerConfig{}, err
	}
	if env := os.Getenv(envPrefix + "ENV"); env != "" {
		s.Environment = env
	}

	envValues, err := parseINI(filepath.Join(root, fmt.Sprintf(envConfigPattern, s.Environment)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			envValues = map[string]string{}
		} else {
			return ServerConfig{}, err
		}
	}

	merged := make(map[string]string)
	for k, v := range s.Defaults {
		merged[k] = v
	}
	for k, v := range envValues {
		merged[k] = v
	}

	configFile := firstNonEmpty(os.Getenv(envPrefix+"CONFIG_FILE"), merged["config_file"])
	if configFile != "" {
		if !filepath.IsAbs(configFile) {
			configFile = filepath.Join(root, configFile)
		}
		overlay, err := parseYAML(configFile)
		if err != nil {
			return ServerConfig{}, err
		}
		for k, v := range overlay {
			merged[k] = v
		}
	}

	get := func(key, fallback string) string {
		return firstNonEmpty(os.Getenv(envKey(key)), merged[key], fallback)
	}

	cfg := ServerConfig{
		Environment:        s.Environment,
		HTTPAddress:        get("http_address", "127.0.0.1:8000"),
		Engine:             strings.ToLower(get("engine", "llamacpp")),
		ModelPath:          get("model_path", filepath.Join("models", "llama-2-7b-chat.Q4_K_M.gguf")),
		ModelType:          strings.ToLower(get("model_type", "llama")),
		StopSequences:      parseCSV(get("stop_sequences", "")),
		LlamaServerBin:     get("llama_server_bin", "llama-server"),
		LlamaServerURL:     get("llama_server_url", ""),
		Registry:           strings.ToLower(get("registry", "memory")),
		RedisAddr:          get("redis_addr", "127.0.0.1:6379"),
		RedisPassword:      get("redis_password", ""),
		RedisKeyPrefix:     get("redis_key_prefix", "localllama:"),
		LedgerDSN:          get("ledger_dsn", DefaultLedgerPath()),
		LedgerAsync:        parseOptionalBool(get("ledger_async", ""), true),
		LogFile:            get("log_file", ""),
		LogLevel:           strings.ToLower(get("log_level", "info")),
		DefaultSessionID:   get("default_session_id", "default"),
		CORSAllowedOrigins: parseCSV(get("cors_allowed_origins", "*")),
		ConfigFile:         configFile,
	}

	ints := []struct {
		key      string
		fallback int
		dst      *int
	}{
		{"context_length", 2048, &cfg.ContextLength},
		{"max_new_tokens", 256, &cfg.MaxNewTokens},
		{"gpu_layers", 0, &cfg.GPULayers},
		{"threads", 0, &cfg.Threads},
		{"redis_db", 0, &cfg.RedisDB},
	}
	for _, f := range ints {
		v, err := parseInt(f.key, get(f.key, ""), f.fallback)
		if err != nil {
			return ServerConfig{}, err
		}
		*f.dst = v
	}

	floats := []struct {
		key      string
		fallback float64
		dst      *float64
	}{
		{"temperature", 0.8, &cfg.Temperature},
		{"top_p", 0.95, &cfg.TopP},
	}
	for _, f := range floats {
		v, err := parseFloat(f.key, get(f.key, ""), f.fallback)
		if err != nil {
			return ServerConfig{}, err
		}
		*f.dst = v
	}

	durations := []struct {
		key      string
		fallback time.Duration
		dst      *time.Duration
	}{
		{"stop_flag_ttl", 10 * time.Minute, &cfg.StopFlagTTL},
		{"shutdown_timeout", 10 * time.Second, &cfg.ShutdownTimeout},
	}
	for _, f := range durations {
		v, err := parseDuration(f.key, get(f.key, ""), f.fallback)
		if err != nil {
			return ServerConfig{}, err
		}
		*f.dst = v
	}

	if err := cfg.Validate(); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c ServerConfig) Validate() error {
	switch c.Engine {
	case "llamacpp", "loopback":
	default:
		return fmt.Errorf("invalid engine %q (want llamacpp or loopback)", c.Engine)
	}
	switch c.Registry {
	case "memory", "redis":
	default:
		return fmt.Errorf("invalid registry %q (want memory or redis)", c.Registry)
	}
	if c.MaxNewTokens <= 0 {
		return fmt.Errorf("max_new_tokens must be positive, got %d", c.MaxNewTokens)
	}
	if c.ContextLength <= 0 {
		return fmt.Errorf("context_length must be positive, got %d", c.ContextLength)
	}
	if c.Temperature < 0 {
		return fmt.Errorf("temperature must not be negative, got %v", c.Temperature)
	}
	if c.TopP <= 0 || c.TopP > 1 {
		return fmt.Errorf("top_p must be in (0, 1], got %v", c.TopP)
	}
	if strings.TrimSpace(c.DefaultSessionID) == "" {
		return errors.New("default_session_id must not be empty")
	}
	return nil
}

// UsesPostgres reports whether LedgerDSN points at PostgreSQL.
func (c ServerConfig) UsesPostgres() bool {
	dsn := strings.ToLower(c.LedgerDSN)
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

func loadSettings(root string) (Settings, error) {
	values, err := parseINI(filepath.Join(root, settingsFile))
	if errors.Is(err, os.ErrNotExist) {
		return Settings{Environment: defaultEnv, Defaults: map[string]string{}}, nil
	}
	if err != nil {
		return Settings{}, err
	}
	env := values["environment"]
	if env == "" {
		env = defaultEnv
	}
	defaults := make(map[string]string)
	for k, v := range values {
		if k == "environment" {
			continue
		}
		defaults[k] = v
	}
	return Settings{Environment: env, Defaults: defaults}, nil
}

func parseINI(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[strings.ToLower(key)] = strings.TrimSpace(val)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

// parseYAML reads a flat mapping of the same keys the INI files use.
// Sequences are joined with commas.
func parseYAML(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	values := make(map[string]string, len(raw))
	for k, v := range raw {
		key := strings.ToLower(strings.TrimSpace(k))
		switch val := v.(type) {
		case nil:
			continue
		case []any:
			parts := make([]string, 0, len(val))
			for _, item := range val {
				parts = append(parts, fmt.Sprint(item))
			}
			values[key] = strings.Join(parts, ",")
		case map[string]any:
			return nil, fmt.Errorf("config file %s: key %q must be a scalar or list", path, k)
		default:
			values[key] = fmt.Sprint(val)
		}
	}
	return values, nil
}

func envKey(key string) string {
	return envPrefix + strings.ToUpper(key)
}

func parseOptionalBool(v string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "":
		return fallback
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseInt(key, v string, fallback int) (int, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return parsed, nil
}

func parseFloat(key, v string, fallback float64) (float64, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return parsed, nil
}

func parseDuration(key, v string, fallback time.Duration) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return parsed, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func parseCSV(input string) []string {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// DefaultLedgerPath returns ~/.localllama/ledger.db.
func DefaultLedgerPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "ledger.db"
	}
	return filepath.Join(home, ".localllama", "ledger.db")
}
