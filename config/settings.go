// Package config provides application settings.
//
// Settings are created via Load() which layers:
// - Built-in defaults
// - An optional TOML file (morph.toml, MORPH_CONFIG or --config)
// - Environment variable overrides with validation
// - Provider-specific model and key lookup

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultFile is read when no config path is given and it exists.
const DefaultFile = "morph.toml"

// Settings holds all application configuration.
type Settings struct {
	LLM     LLMConfig     `toml:"llm"`
	Agent   AgentConfig   `toml:"agent"`
	Swarm   SwarmConfig   `toml:"swarm"`
	Storage StorageConfig `toml:"storage"`
	Log     LogConfig     `toml:"log"`
}

// LLMConfig holds LLM provider configuration.
type LLMConfig struct {
	Provider    string  `toml:"provider"`
	Model       string  `toml:"model"`
	MaxTokens   uint32  `toml:"max_tokens"`
	Temperature float64 `toml:"temperature"`
	Stream      bool    `toml:"stream"`
	// Retries is how often a transient backend failure is retried.
	Retries int `toml:"retries"`
}

// AgentConfig holds control loop configuration.
type AgentConfig struct {
	HistorySize         int    `toml:"history_size"`
	CallTag             string `toml:"call_tag"`
	CaseInsensitiveTags bool   `toml:"case_insensitive_tags"`
	StrictTags          bool   `toml:"strict_tags"`
	Persona             string `toml:"persona"`
	ToolTimeoutSecs     uint64 `toml:"tool_timeout_secs"`
}

// SwarmConfig holds worker supervision configuration.
type SwarmConfig struct {
	PollInterval time.Duration `toml:"poll_interval"`
	// IdleTimeout of zero disables the unresponsive check.
	IdleTimeout time.Duration `toml:"idle_timeout"`
}

// StorageConfig selects where per-nickname state lives.
type StorageConfig struct {
	Backend string `toml:"backend"`
	DataDir string `toml:"data_dir"`
}

// LogConfig configures the structured log.
type LogConfig struct {
	Level string `toml:"level"`
	// File defaults to <data_dir>/<nickname>/morph.log when empty.
	File string `toml:"file"`
}

// Storage backends.
const (
	BackendFile   = "file"
	BackendSqlite = "sqlite"
	BackendMemory = "memory"
)

// providerInfo holds configuration for a specific LLM provider.
type providerInfo struct {
	modelEnv     string
	defaultModel string
	apiKeyEnv    string
}

// Supported providers and their configuration.
var providers = map[string]providerInfo{
	"openai":    {"OPENAI_MODEL", "gpt-4o", "OPENAI_API_KEY"},
	"anthropic": {"ANTHROPIC_MODEL", "claude-sonnet-4-20250514", "ANTHROPIC_API_KEY"},
	"deepseek":  {"DEEPSEEK_MODEL", "deepseek-chat", "DEEPSEEK_API_KEY"},
	"gemini":    {"GEMINI_MODEL", "gemini-2.5-flash", "GEMINI_API_KEY"},
}

// Provider aliases map to canonical names.
var providerAliases = map[string]string{
	"claude": "anthropic",
	"google": "gemini",
	"gpt":    "openai",
}

var tagNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]*$`)

// Defaults returns the built-in settings.
func Defaults() Settings {
	return Settings{
		LLM: LLMConfig{
			Provider:    "anthropic",
			MaxTokens:   4096,
			Temperature: 0.7,
			Retries:     3,
		},
		Agent: AgentConfig{
			HistorySize:     10,
			CallTag:         "CALL",
			ToolTimeoutSecs: 30,
		},
		Swarm: SwarmConfig{
			PollInterval: 500 * time.Millisecond,
		},
		Storage: StorageConfig{
			Backend: BackendFile,
			DataDir: ".morph",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds settings from defaults, the TOML file at path and the
// environment, in that order. An empty path falls back to MORPH_CONFIG, then
// to DefaultFile when it exists. A non-empty provider overrides every layer.
func Load(provider, path string) (Settings, error) {
	s := Defaults()

	if err := s.loadFile(path); err != nil {
		return Settings{}, err
	}
	if err := s.applyEnv(); err != nil {
		return Settings{}, err
	}

	if provider != "" && normalizeProvider(provider) != normalizeProvider(s.LLM.Provider) {
		// A model configured for another provider does not carry over.
		s.LLM.Model = ""
	}
	if provider != "" {
		s.LLM.Provider = provider
	}
	s.LLM.Provider = normalizeProvider(s.LLM.Provider)

	info, err := getProviderInfo(s.LLM.Provider)
	if err != nil {
		return Settings{}, err
	}
	if val := os.Getenv(info.modelEnv); val != "" {
		s.LLM.Model = val
	}
	if s.LLM.Model == "" {
		s.LLM.Model = info.defaultModel
	}

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// New creates settings for the specified provider without an explicit config file.
func New(provider string) (Settings, error) {
	return Load(provider, "")
}

func (s *Settings) loadFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = os.Getenv("MORPH_CONFIG")
		explicit = path != ""
	}
	if !explicit {
		path = DefaultFile
	}

	md, err := toml.DecodeFile(path, s)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown keys in config %s: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

func (s *Settings) applyEnv() error {
	var err error
	s.LLM.Provider = getEnvString("MORPH_PROVIDER", s.LLM.Provider)
	if s.LLM.MaxTokens, err = getEnvUint32("LLM_MAX_TOKENS", s.LLM.MaxTokens); err != nil {
		return err
	}
	if s.LLM.Temperature, err = getEnvFloat64("LLM_TEMPERATURE", s.LLM.Temperature); err != nil {
		return err
	}
	if s.LLM.Stream, err = getEnvBool("MORPH_STREAM", s.LLM.Stream); err != nil {
		return err
	}
	if s.LLM.Retries, err = getEnvInt("MORPH_LLM_RETRIES", s.LLM.Retries); err != nil {
		return err
	}

	if s.Agent.HistorySize, err = getEnvInt("MORPH_HISTORY_SIZE", s.Agent.HistorySize); err != nil {
		return err
	}
	s.Agent.CallTag = getEnvString("MORPH_CALL_TAG", s.Agent.CallTag)
	if s.Agent.CaseInsensitiveTags, err = getEnvBool("MORPH_TAGS_CASE_INSENSITIVE", s.Agent.CaseInsensitiveTags); err != nil {
		return err
	}
	if s.Agent.StrictTags, err = getEnvBool("MORPH_STRICT_TAGS", s.Agent.StrictTags); err != nil {
		return err
	}
	s.Agent.Persona = getEnvString("MORPH_PERSONA", s.Agent.Persona)
	if s.Agent.ToolTimeoutSecs, err = getEnvUint64("MORPH_TOOL_TIMEOUT", s.Agent.ToolTimeoutSecs); err != nil {
		return err
	}

	if s.Swarm.PollInterval, err = getEnvDuration("MORPH_POLL_INTERVAL", s.Swarm.PollInterval); err != nil {
		return err
	}
	if s.Swarm.IdleTimeout, err = getEnvDuration("MORPH_IDLE_TIMEOUT", s.Swarm.IdleTimeout); err != nil {
		return err
	}

	s.Storage.Backend = getEnvString("MORPH_STORAGE", s.Storage.Backend)
	s.Storage.DataDir = getEnvString("MORPH_DATA_DIR", s.Storage.DataDir)
	s.Log.Level = getEnvString("MORPH_LOG_LEVEL", s.Log.Level)
	s.Log.File = getEnvString("MORPH_LOG_FILE", s.Log.File)
	return nil
}

// Validate reports the first setting that cannot work.
func (s Settings) Validate() error {
	switch {
	case s.LLM.Retries < 0:
		return fmt.Errorf("retries must not be negative, got %d", s.LLM.Retries)
	case s.Agent.HistorySize < 1:
		return fmt.Errorf("history size must be at least 1, got %d", s.Agent.HistorySize)
	case !tagNamePattern.MatchString(s.Agent.CallTag):
		return fmt.Errorf("invalid call tag %q", s.Agent.CallTag)
	case s.Swarm.PollInterval <= 0:
		return fmt.Errorf("poll interval must be positive, got %s", s.Swarm.PollInterval)
	case s.Swarm.IdleTimeout < 0:
		return fmt.Errorf("idle timeout must not be negative, got %s", s.Swarm.IdleTimeout)
	case !slices.Contains([]string{BackendFile, BackendSqlite, BackendMemory}, s.Storage.Backend):
		return fmt.Errorf("unknown storage backend %q", s.Storage.Backend)
	case s.Storage.DataDir == "" && s.Storage.Backend != BackendMemory:
		return fmt.Errorf("data dir must be set for the %s backend", s.Storage.Backend)
	}
	return nil
}

// normalizeProvider converts provider aliases to canonical names.
func normalizeProvider(provider string) string {
	provider = strings.ToLower(provider)
	if canonical, ok := providerAliases[provider]; ok {
		return canonical
	}
	return provider
}

// getProviderInfo returns configuration for a provider.
func getProviderInfo(provider string) (providerInfo, error) {
	info, ok := providers[provider]
	if !ok {
		return providerInfo{}, fmt.Errorf("unknown provider: %q", provider)
	}
	return info, nil
}

// APIKeyFor returns the API key for a provider from environment variables.
func APIKeyFor(provider string) (string, error) {
	provider = normalizeProvider(provider)

	info, err := getProviderInfo(provider)
	if err != nil {
		return "", err
	}

	key := os.Getenv(info.apiKeyEnv)
	if key == "" {
		return "", fmt.Errorf("%s environment variable not set", info.apiKeyEnv)
	}
	return key, nil
}

// ModelFor returns the model for a provider, checking environment first.
func ModelFor(provider string) (string, error) {
	provider = normalizeProvider(provider)

	info, err := getProviderInfo(provider)
	if err != nil {
		return "", err
	}

	if val := os.Getenv(info.modelEnv); val != "" {
		return val, nil
	}
	return info.defaultModel, nil
}

// SupportedProviders returns the supported provider names in sorted order.
func SupportedProviders() []string {
	result := make([]string, 0, len(providers))
	for name := range providers {
		result = append(result, name)
	}
	slices.Sort(result)
	return result
}

// Environment variable helpers with proper error handling

func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return i, nil
}

func getEnvUint32(key string, defaultVal uint32) (uint32, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.ParseUint(val, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return uint32(i), nil
}

func getEnvUint64(key string, defaultVal uint64) (uint64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return i, nil
}

func getEnvFloat64(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return f, nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return b, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return d, nil
}
