// Package config loads agentmux's layered configuration: compiled-in
// defaults, a session .env file, the process environment, and a per-session
// config.json, in increasing order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds every configuration section agentmux needs.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Session      SessionConfig      `mapstructure:"session"`
	Docker       DockerConfig       `mapstructure:"docker"`
	NATS         NATSConfig         `mapstructure:"nats"`
	Worktree     WorktreeConfig     `mapstructure:"worktree"`
	Healthcheck  HealthcheckConfig  `mapstructure:"healthcheck"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	ModelProfile ModelProfileConfig `mapstructure:"modelProfile"`
}

// ServerConfig holds the admin HTTP surface's listen settings.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // seconds
}

// SessionConfig holds the paths a session is rooted at.
type SessionConfig struct {
	ID            string `mapstructure:"id"`
	BaseDir       string `mapstructure:"baseDir"`       // root holding dashboard/registry/mailboxes
	McpDir        string `mapstructure:"mcpDir"`        // holds config.json + .env
	EnableGit     bool   `mapstructure:"enableGit"`
	McpToolPrefix string `mapstructure:"mcpToolPrefix"`
}

// DockerConfig controls the optional container-backed terminal adapter.
type DockerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Image   string `mapstructure:"image"`
}

// NATSConfig controls the optional cross-process cache-invalidation bus.
type NATSConfig struct {
	URL       string `mapstructure:"url"` // empty disables NATS; a no-op bus is used instead
	ClientID  string `mapstructure:"clientId"`
	Namespace string `mapstructure:"namespace"`
}

// WorktreeConfig controls where worker working copies are provisioned.
type WorktreeConfig struct {
	BasePath        string `mapstructure:"basePath"`
	DefaultBranch   string `mapstructure:"defaultBranch"`
	CleanupOnRemove bool   `mapstructure:"cleanupOnRemove"`
	MaxWorkers      int    `mapstructure:"maxWorkers"`
}

// HealthcheckConfig controls stall detection and recovery pacing.
type HealthcheckConfig struct {
	PollIntervalSeconds  int `mapstructure:"pollIntervalSeconds"`
	StallThresholdPolls  int `mapstructure:"stallThresholdPolls"`
	IdleAutoStopMinutes  int `mapstructure:"idleAutoStopMinutes"`
	MaxRecoveryAttempts  int `mapstructure:"maxRecoveryAttempts"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ModelProfileConfig names the default AI CLI backend and its fallback chain.
type ModelProfileConfig struct {
	DefaultAICli string   `mapstructure:"defaultAiCli"`
	FallbackCli  []string `mapstructure:"fallbackCli"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 7890)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	v.SetDefault("session.baseDir", "~/.agentmux/sessions")
	v.SetDefault("session.mcpDir", ".agentmux")
	v.SetDefault("session.enableGit", true)
	v.SetDefault("session.mcpToolPrefix", "")

	v.SetDefault("docker.enabled", false)
	v.SetDefault("docker.host", defaultDockerHost())
	v.SetDefault("docker.image", "agentmux/sandbox:latest")

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "agentmux-client")
	v.SetDefault("nats.namespace", "")

	v.SetDefault("worktree.basePath", "~/.agentmux/worktrees")
	v.SetDefault("worktree.defaultBranch", "main")
	v.SetDefault("worktree.cleanupOnRemove", true)
	v.SetDefault("worktree.maxWorkers", 8)

	v.SetDefault("healthcheck.pollIntervalSeconds", 15)
	v.SetDefault("healthcheck.stallThresholdPolls", 4)
	v.SetDefault("healthcheck.idleAutoStopMinutes", 30)
	v.SetDefault("healthcheck.maxRecoveryAttempts", 3)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("modelProfile.defaultAiCli", "claude")
	v.SetDefault("modelProfile.fallbackCli", []string{"codex", "gemini"})
}

func detectDefaultLogFormat() string {
	if os.Getenv("AGENTMUX_ENV") == "production" {
		return "json"
	}
	return "console"
}

func defaultDockerHost() string {
	if host := os.Getenv("DOCKER_HOST"); host != "" {
		return host
	}
	return "unix:///var/run/docker.sock"
}

// Load reads configuration for a session, honoring the precedence chain:
// defaults < sessionDir/.env < process env (AGENTMUX_*) < sessionDir/config.json.
// sessionDir may be empty, in which case only defaults and the environment
// apply.
func Load(sessionDir string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("AGENTMUX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if sessionDir != "" {
		envPath := filepath.Join(sessionDir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			dotEnv := viper.New()
			if err := loadDotEnv(dotEnv, envPath); err != nil {
				return nil, fmt.Errorf("reading session .env: %w", err)
			}
			// Defaults tier: beats compiled-in defaults, loses to the environment.
			for _, key := range dotEnv.AllKeys() {
				v.SetDefault(key, dotEnv.Get(key))
			}
		}

		fileCfg := viper.New()
		fileCfg.SetConfigName("config")
		fileCfg.SetConfigType("json")
		fileCfg.AddConfigPath(sessionDir)
		if err := fileCfg.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("reading session config.json: %w", err)
			}
		}
		// Override tier: config.json beats the environment.
		for _, key := range fileCfg.AllKeys() {
			v.Set(key, fileCfg.Get(key))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadDotEnv sets KEY=VALUE lines from a .env file on v; Load layers the
// result between the compiled-in defaults and the process environment.
func loadDotEnv(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(parts[0]))
		val := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		v.Set(strings.ReplaceAll(key, "_", "."), val)
	}
	return nil
}

func validate(cfg *Config) error {
	var errs []string
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if cfg.Worktree.MaxWorkers <= 0 {
		errs = append(errs, "worktree.maxWorkers must be positive")
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of debug, info, warn, error")
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}
