package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the assistant backend.
type Config struct {
	General   GeneralConfig             `json:"general" yaml:"general"`
	Knowledge KnowledgeConfig           `json:"knowledge" yaml:"knowledge"`
	Agent     AgentConfig               `json:"agent" yaml:"agent"`
	Providers map[string]ProviderConfig `json:"providers" yaml:"providers" validate:"dive"`
	Server    ServerConfig              `json:"server" yaml:"server"`
	Traces    TracesConfig              `json:"traces" yaml:"traces"`
}

type GeneralConfig struct {
	LogLevel  string   `json:"logLevel" yaml:"logLevel" validate:"oneof=debug info warn error"`
	LogFormat string   `json:"logFormat" yaml:"logFormat" validate:"oneof=text json"`
	EnvFiles  []string `json:"envFiles,omitempty" yaml:"envFiles,omitempty"` // dotenv files loaded before provider keys are read
}

// KnowledgeConfig configures the document index and the tools built over it.
type KnowledgeConfig struct {
	DataDir          string         `json:"dataDir" yaml:"dataDir" validate:"required"`
	PersistDir       string         `json:"persistDir" yaml:"persistDir" validate:"required"`
	ChunkSize        int            `json:"chunkSize" yaml:"chunkSize" validate:"min=16,max=8192"`
	ChunkOverlap     int            `json:"chunkOverlap" yaml:"chunkOverlap" validate:"min=0,ltfield=ChunkSize"`
	ChunkUnit        string         `json:"chunkUnit" yaml:"chunkUnit" validate:"oneof=words tokens"`
	SearchTopK       int            `json:"searchTopK" yaml:"searchTopK" validate:"min=1,max=50"`
	SummarySentences int            `json:"summarySentences" yaml:"summarySentences" validate:"min=1,max=50"`
	Synthesis        string         `json:"synthesis" yaml:"synthesis" validate:"oneof=extractive llm"` // how query answers are produced
	Embedder         EmbedderConfig `json:"embedder" yaml:"embedder"`
}

type EmbedderConfig struct {
	Type           string `json:"type" yaml:"type" validate:"oneof=hash openai ollama"`
	Dimension      int    `json:"dimension,omitempty" yaml:"dimension,omitempty" validate:"min=0"`
	Model          string `json:"model,omitempty" yaml:"model,omitempty"`
	APIBase        string `json:"apiBase,omitempty" yaml:"apiBase,omitempty"`
	APIKey         string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	BatchSize      int    `json:"batchSize,omitempty" yaml:"batchSize,omitempty" validate:"min=0"`
	TimeoutSeconds int    `json:"timeoutSeconds,omitempty" yaml:"timeoutSeconds,omitempty" validate:"min=0"`
}

// AgentConfig configures the tool-using document agent.
type AgentConfig struct {
	Provider          string   `json:"provider" yaml:"provider"`
	FailoverChain     []string `json:"failoverChain,omitempty" yaml:"failoverChain,omitempty"`
	Model             string   `json:"model,omitempty" yaml:"model,omitempty"`
	MaxIterations     int      `json:"maxIterations" yaml:"maxIterations" validate:"min=1,max=200"`
	Temperature       float64  `json:"temperature" yaml:"temperature" validate:"min=0,max=2"`
	RatePerMinute     float64  `json:"ratePerMinute" yaml:"ratePerMinute" validate:"min=0"`
	SystemPromptExtra string   `json:"systemPromptExtra,omitempty" yaml:"systemPromptExtra,omitempty"`
	AllowedTools      []string `json:"allowedTools,omitempty" yaml:"allowedTools,omitempty"`
	DeniedTools       []string `json:"deniedTools,omitempty" yaml:"deniedTools,omitempty"`
}

type ProviderConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled"`
	APIBase      string `json:"apiBase,omitempty" yaml:"apiBase,omitempty" validate:"omitempty,url"`
	APIKey       string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	DefaultModel string `json:"defaultModel,omitempty" yaml:"defaultModel,omitempty"`
}

// ServerConfig configures the HTTP tool surface used by the voice session.
type ServerConfig struct {
	Host   string `json:"host" yaml:"host"`
	Port   int    `json:"port" yaml:"port" validate:"min=0,max=65535"`
	APIKey string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"` // bearer token required on /api/v1 when set
}

type TracesConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	DBPath  string `json:"dbPath" yaml:"dbPath" validate:"required_if=Enabled true"`
}

func DefaultConfigPath() string {
	return "ragagent.json"
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Knowledge.DataDir = ExpandPath(cfg.Knowledge.DataDir)
	cfg.Knowledge.PersistDir = ExpandPath(cfg.Knowledge.PersistDir)
	cfg.Traces.DBPath = ExpandPath(cfg.Traces.DBPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""
		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their config key rather than the Go field name.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if err := validate.Struct(cfg); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return err
		}
		for _, e := range verrs {
			errs = append(errs, fmt.Sprintf("%s failed on '%s' (value %v)", fieldPath(e.Namespace()), e.Tag(), e.Value()))
		}
	}

	checkProvider := func(field, name string) {
		if name == "" {
			return
		}
		pc, ok := cfg.Providers[name]
		if !ok {
			errs = append(errs, fmt.Sprintf("%s references unknown provider: %s", field, name))
			return
		}
		if !pc.Enabled {
			errs = append(errs, fmt.Sprintf("%s references disabled provider: %s", field, name))
		}
	}
	checkProvider("agent.provider", cfg.Agent.Provider)
	for _, name := range cfg.Agent.FailoverChain {
		checkProvider("agent.failoverChain", name)
	}

	if cfg.Knowledge.Synthesis == "llm" && cfg.Agent.Provider == "" {
		errs = append(errs, "knowledge.synthesis=llm requires agent.provider")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// fieldPath drops the root type from a validator namespace ("Config.knowledge.chunkSize").
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
