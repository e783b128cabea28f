package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "DOCTRANS"

type Config struct {
	Addr          string
	DataDir       string
	DBPath        string
	UploadsDir    string
	OutputsDir    string
	GlossariesDir string
	ArtifactExt   string
	SecretKeys    []string
	Engine        Engine
	EvictAfter    time.Duration
	Auth          Auth
	Log           Log
}

type Engine struct {
	Command     string
	Args        []string
	MaxDuration time.Duration
}

type Auth struct {
	Secret   string
	TokenTTL time.Duration
}

type Log struct {
	Level  string
	Format string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":8080")
	v.SetDefault("data_dir", "./data")
	v.SetDefault("artifact_ext", ".pdf")
	v.SetDefault("sanitize.secret_keys", []string{"api_key"})
	v.SetDefault("engine.command", "babeldoc-bridge")
	v.SetDefault("engine.args", []string{})
	v.SetDefault("engine.max_duration", "0s")
	v.SetDefault("jobs.evict_after", "10m")
	v.SetDefault("auth.token_ttl", "24h")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration from defaults, an optional file and DOCTRANS_*
// environment variables (engine.max_duration becomes
// DOCTRANS_ENGINE_MAX_DURATION), in increasing priority.
func Load(file string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Keys without a default are only seen by AutomaticEnv once bound.
	for _, key := range []string{"db_path", "uploads_dir", "outputs_dir", "glossaries_dir", "auth.secret"} {
		_ = v.BindEnv(key)
	}

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	dataDir := v.GetString("data_dir")
	cfg := Config{
		Addr:          v.GetString("addr"),
		DataDir:       dataDir,
		DBPath:        orDefault(v.GetString("db_path"), filepath.Join(dataDir, "history.db")),
		UploadsDir:    orDefault(v.GetString("uploads_dir"), filepath.Join(dataDir, "uploads")),
		OutputsDir:    orDefault(v.GetString("outputs_dir"), filepath.Join(dataDir, "outputs")),
		GlossariesDir: orDefault(v.GetString("glossaries_dir"), filepath.Join(dataDir, "glossaries")),
		ArtifactExt:   v.GetString("artifact_ext"),
		SecretKeys:    getList(v, "sanitize.secret_keys"),
		Engine: Engine{
			Command:     v.GetString("engine.command"),
			Args:        getList(v, "engine.args"),
			MaxDuration: v.GetDuration("engine.max_duration"),
		},
		EvictAfter: v.GetDuration("jobs.evict_after"),
		Auth: Auth{
			Secret:   v.GetString("auth.secret"),
			TokenTTL: v.GetDuration("auth.token_ttl"),
		},
		Log: Log{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}
	if cfg.ArtifactExt != "" && !strings.HasPrefix(cfg.ArtifactExt, ".") {
		cfg.ArtifactExt = "." + cfg.ArtifactExt
	}
	if cfg.EvictAfter < 0 || cfg.Engine.MaxDuration < 0 {
		return Config{}, errors.New("durations must not be negative")
	}
	return cfg, nil
}

// RequireSecret fails when no token secret is configured.
func (c Config) RequireSecret() error {
	if c.Auth.Secret == "" {
		return fmt.Errorf("auth.secret is required (set %s_AUTH_SECRET)", EnvPrefix)
	}
	return nil
}

// getList accepts a YAML list or a comma separated string, the form lists
// take in environment variables.
func getList(v *viper.Viper, key string) []string {
	if raw, ok := v.Get(key).(string); ok {
		return splitCSV(raw)
	}
	return v.GetStringSlice(key)
}

func orDefault(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}
