package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadServerConfigDefaults(t *testing.T) {
	cfg, err := LoadServerConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadServerConfig: %v", err)
	}
	if cfg.Environment != "dev" || cfg.HTTPAddress != "127.0.0.1:8000" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Engine != "llamacpp" || cfg.ModelType != "llama" || cfg.ContextLength != 2048 || cfg.MaxNewTokens != 256 {
		t.Fatalf("unexpected model defaults %+v", cfg)
	}
	if cfg.ModelPath != filepath.Join("models", "llama-2-7b-chat.Q4_K_M.gguf") {
		t.Fatalf("unexpected model path %s", cfg.ModelPath)
	}
	if cfg.Temperature != 0.8 || cfg.TopP != 0.95 {
		t.Fatalf("unexpected sampling defaults %v %v", cfg.Temperature, cfg.TopP)
	}
	if cfg.Registry != "memory" || cfg.StopFlagTTL != 10*time.Minute || cfg.RedisKeyPrefix != "localllama:" {
		t.Fatalf("unexpected registry defaults %+v", cfg)
	}
	if !cfg.LedgerAsync || !strings.HasSuffix(cfg.LedgerDSN, filepath.Join(".localllama", "ledger.db")) {
		t.Fatalf("unexpected ledger defaults %+v", cfg)
	}
	if len(cfg.CORSAllowedOrigins) != 1 || cfg.CORSAllowedOrigins[0] != "*" {
		t.Fatalf("unexpected cors origins %v", cfg.CORSAllowedOrigins)
	}
	if cfg.DefaultSessionID != "default" || cfg.LogLevel != "info" {
		t.Fatalf("unexpected misc defaults %+v", cfg)
	}
}

func TestLoadServerConfigLayers(t *testing.T) {
	tmp := t.TempDir()
	writeFile(t, filepath.Join(tmp, "config", "setting.ini"),
		"environment=test\nlog_level=debug\nmax_new_tokens=64\nengine=loopback\n")
	writeFile(t, filepath.Join(tmp, "config", "test", "localllama.ini"),
		"; test overrides\n[server]\nhttp_address=:9090\nmax_new_tokens=128\nconfig_file=overlay.yaml\nredis_db=2\n")
	writeFile(t, filepath.Join(tmp, "overlay.yaml"),
		"registry: redis\nstop_flag_ttl: 30s\ntemperature: 0.2\nstop_sequences:\n  - \"</s>\"\n  - \"[INST]\"\n")
	t.Setenv("LOCALLLAMA_MAX_NEW_TOKENS", "512")
	t.Setenv("LOCALLLAMA_REDIS_ADDR", "redis:6380")

	cfg, err := LoadServerConfig(tmp)
	if err != nil {
		t.Fatalf("LoadServerConfig: %v", err)
	}
	if cfg.Environment != "test" {
		t.Fatalf("unexpected environment %s", cfg.Environment)
	}
	if cfg.LogLevel != "debug" || cfg.Engine != "loopback" {
		t.Fatalf("expected values from setting.ini, got %+v", cfg)
	}
	if cfg.HTTPAddress != ":9090" || cfg.RedisDB != 2 {
		t.Fatalf("expected values from env ini, got %+v", cfg)
	}
	if cfg.Registry != "redis" || cfg.StopFlagTTL != 30*time.Second || cfg.Temperature != 0.2 {
		t.Fatalf("expected values from yaml overlay, got %+v", cfg)
	}
	if len(cfg.StopSequences) != 2 || cfg.StopSequences[0] != "</s>" || cfg.StopSequences[1] != "[INST]" {
		t.Fatalf("unexpected stop sequences %v", cfg.StopSequences)
	}
	if cfg.MaxNewTokens != 512 || cfg.RedisAddr != "redis:6380" {
		t.Fatalf("expected env overrides, got %+v", cfg)
	}
	if cfg.ConfigFile != filepath.Join(tmp, "overlay.yaml") {
		t.Fatalf("unexpected config file %s", cfg.ConfigFile)
	}
}

func TestLoadServerConfigEnvSelectsEnvironment(t *testing.T) {
	tmp := t.TempDir()
	writeFile(t, filepath.Join(tmp, "config", "prod", "localllama.ini"), "http_address=0.0.0.0:80\n")
	t.Setenv("LOCALLLAMA_ENV", "prod")
	cfg, err := LoadServerConfig(tmp)
	if err != nil {
		t.Fatalf("LoadServerConfig: %v", err)
	}
	if cfg.HTTPAddress != "0.0.0.0:80" {
		t.Fatalf("unexpected http address %s", cfg.HTTPAddress)
	}
}

func TestLoadServerConfigInvalidValues(t *testing.T) {
	cases := map[string]string{
		"bad int":      "max_new_tokens=lots\n",
		"bad float":    "top_p=high\n",
		"bad duration": "stop_flag_ttl=forever\n",
		"bad engine":   "engine=onnx\n",
		"bad registry": "registry=etcd\n",
		"zero tokens":  "max_new_tokens=0\n",
		"top_p range":  "top_p=1.5\n",
		"missing yaml": "config_file=absent.yaml\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			tmp := t.TempDir()
			writeFile(t, filepath.Join(tmp, "config", "dev", "localllama.ini"), content)
			if _, err := LoadServerConfig(tmp); err == nil {
				t.Fatalf("expected error for %q", content)
			}
		})
	}
}

func TestUsesPostgres(t *testing.T) {
	if !(ServerConfig{LedgerDSN: "postgres://u:p@db/ledger"}).UsesPostgres() {
		t.Fatalf("postgres:// should select postgres")
	}
	if !(ServerConfig{LedgerDSN: "postgresql://db/ledger"}).UsesPostgres() {
		t.Fatalf("postgresql:// should select postgres")
	}
	if (ServerConfig{LedgerDSN: "/var/lib/localllama/ledger.db"}).UsesPostgres() {
		t.Fatalf("file path should select sqlite")
	}
}

func TestParseCSV(t *testing.T) {
	got := parseCSV(" a, ,b ,")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected csv %v", got)
	}
	if parseCSV("  ") != nil {
		t.Fatalf("blank input should be nil")
	}
}
