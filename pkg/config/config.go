package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App       AppConfig                 `json:"app" yaml:"app"`
	Gateways  map[string]GatewayConfig  `json:"gateways" yaml:"gateways"`
	Providers map[string]ProviderConfig `json:"providers" yaml:"providers"`
	Memory    MemoryConfig              `json:"memory" yaml:"memory"`
	Security  SecurityConfig            `json:"security" yaml:"security"`
	Execution ExecutionConfig           `json:"execution" yaml:"execution"`
	VCS       VCSConfig                 `json:"vcs" yaml:"vcs"`
	Metrics   MetricsConfig             `json:"metrics" yaml:"metrics"`
}

type AppConfig struct {
	Name      string `json:"name" yaml:"name"`
	Workspace string `json:"workspace" yaml:"workspace"`
	LogDir    string `json:"log_dir" yaml:"log_dir"`
	PromptDir string `json:"prompt_dir" yaml:"prompt_dir"`
}

type GatewayConfig struct {
	Token     string `json:"token" yaml:"token"`
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	ChannelID string `json:"channel_id,omitempty" yaml:"channel_id,omitempty"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key" yaml:"api_key"`
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
}

type MemoryConfig struct {
	Type string `json:"type" yaml:"type"`
	Path string `json:"path" yaml:"path"`
}

type SecurityConfig struct {
	Level        string   `json:"level" yaml:"level"`
	AdminToken   string   `json:"admin_token,omitempty" yaml:"admin_token,omitempty"`
	DenyPatterns []string `json:"deny_patterns,omitempty" yaml:"deny_patterns,omitempty"`
	AuditLog     string   `json:"audit_log" yaml:"audit_log"`
}

type ExecutionConfig struct {
	StateFile         string   `json:"state_file" yaml:"state_file"`
	MaxStepRetries    int      `json:"max_step_retries" yaml:"max_step_retries"`
	MaxResumeAttempts int      `json:"max_resume_attempts" yaml:"max_resume_attempts"`
	StepTimeout       Duration `json:"step_timeout" yaml:"step_timeout"`
	LLMTimeout        Duration `json:"llm_timeout" yaml:"llm_timeout"`
	CriticalFiles     []string `json:"critical_files,omitempty" yaml:"critical_files,omitempty"`
	ContextTokens     int      `json:"context_tokens" yaml:"context_tokens"`
}

type VCSConfig struct {
	Enabled      bool     `json:"enabled" yaml:"enabled"`
	BranchPrefix string   `json:"branch_prefix" yaml:"branch_prefix"`
	Remote       string   `json:"remote" yaml:"remote"`
	Exclude      []string `json:"exclude,omitempty" yaml:"exclude,omitempty"`
}

type MetricsConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

// Duration reads "90s" style strings or plain seconds.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	return d.set(v)
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var v any
	if err := node.Decode(&v); err != nil {
		return err
	}
	return d.set(v)
}

func (d *Duration) set(v any) error {
	switch val := v.(type) {
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(time.Duration(val * float64(time.Second)))
	case int:
		*d = Duration(time.Duration(val) * time.Second)
	case nil:
	default:
		return fmt.Errorf("invalid duration %v", v)
	}
	return nil
}

// Load reads a JSON or YAML config, fills defaults and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfig is Load for main: it exits on any error.
func LoadConfig(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		log.Fatalf("%v", err)
	}
	return cfg
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "autopilot"
	}
	if c.App.Workspace == "" {
		c.App.Workspace = "."
	}
	if c.App.LogDir == "" {
		c.App.LogDir = "logs"
	}
	if c.App.PromptDir == "" {
		c.App.PromptDir = "prompts"
	}
	if c.Memory.Type == "" {
		c.Memory.Type = "sqlite"
	}
	if c.Memory.Path == "" {
		c.Memory.Path = filepath.Join("data", "autopilot.db")
	}
	if c.Security.Level == "" {
		c.Security.Level = "STANDARD"
	}
	if c.Security.AuditLog == "" {
		c.Security.AuditLog = filepath.Join(c.App.LogDir, "audit.log")
	}
	e := &c.Execution
	if e.StateFile == "" {
		e.StateFile = filepath.Join("data", "agent_execution_state.json")
	}
	if e.MaxStepRetries == 0 {
		e.MaxStepRetries = 3
	}
	if e.MaxResumeAttempts == 0 {
		e.MaxResumeAttempts = 3
	}
	if e.StepTimeout == 0 {
		e.StepTimeout = Duration(2 * time.Minute)
	}
	if e.LLMTimeout == 0 {
		e.LLMTimeout = Duration(90 * time.Second)
	}
	if e.ContextTokens == 0 {
		e.ContextTokens = 2000
	}
	if c.VCS.BranchPrefix == "" {
		c.VCS.BranchPrefix = "agent"
	}
	if c.VCS.Remote == "" {
		c.VCS.Remote = "origin"
	}
}

var validLevels = map[string]bool{"DENIED": true, "SAFE": true, "STANDARD": true, "ADVANCED": true, "ROOT": true}

// Validate rejects values the runtime cannot work with.
func (c *Config) Validate() error {
	var errs []error
	if !validLevels[strings.ToUpper(c.Security.Level)] {
		errs = append(errs, fmt.Errorf("security.level: unknown level %q", c.Security.Level))
	}
	if c.Execution.MaxStepRetries < 0 {
		errs = append(errs, errors.New("execution.max_step_retries must not be negative"))
	}
	if c.Execution.MaxResumeAttempts < 0 {
		errs = append(errs, errors.New("execution.max_resume_attempts must not be negative"))
	}
	if c.Execution.StepTimeout < 0 || c.Execution.LLMTimeout < 0 {
		errs = append(errs, errors.New("execution timeouts must not be negative"))
	}
	if strings.ContainsAny(c.VCS.BranchPrefix, " ~^:?*[\\") {
		errs = append(errs, fmt.Errorf("vcs.branch_prefix: invalid branch name %q", c.VCS.BranchPrefix))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// GetDefaultProvider returns the first enabled provider
func (c *Config) GetDefaultProvider() (string, ProviderConfig) {
	for name, p := range c.Providers {
		if p.Enabled {
			return name, p
		}
	}
	return "", ProviderConfig{}
}

// GetGateway returns a gateway config if enabled
func (c *Config) GetGateway(name string) (GatewayConfig, bool) {
	g, ok := c.Gateways[name]
	if ok && g.Enabled {
		return g, true
	}
	return GatewayConfig{}, false
}

// GetTelegramConfig returns telegram config if enabled
func (c *Config) GetTelegramConfig() (GatewayConfig, bool) {
	return c.GetGateway("telegram")
}
