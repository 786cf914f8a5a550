package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
	// TraceExporter is otlp, stdout or none. Empty picks otlp when an
	// endpoint is set and stdout otherwise.
	TraceExporter  string `yaml:"trace_exporter"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	History     HistoryConfig   `yaml:"history"`
	LLM         LLMConfig       `yaml:"llm"`
	TTS         TTSConfig       `yaml:"tts"`
	Story       StoryConfig     `yaml:"story"`
	Transport   TransportConfig `yaml:"transport"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// HistoryConfig selects where completed stories are kept.
type HistoryConfig struct {
	Mode          string `yaml:"mode"` // memory, sqlite
	Path          string `yaml:"path"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
	DefaultLimit  int    `yaml:"default_limit"`
}

type LLMConfig struct {
	Mode        string  `yaml:"mode"` // mock, ollama, openrouter, exec
	Endpoint    string  `yaml:"endpoint"`
	Command     string  `yaml:"command"`
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	TopP        float64 `yaml:"top_p"`
	MockDelayMS int     `yaml:"mock_delay_ms"`
}

type TTSConfig struct {
	Mode            string `yaml:"mode"` // mock, exec
	Command         string `yaml:"command"`
	Voice           string `yaml:"voice"`
	DefaultVoice    string `yaml:"default_voice"`
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
	ChunkDurationMS int    `yaml:"chunk_duration_ms"`
}

// PhaseConfig is one entry of the ordered narrative template.
type PhaseConfig struct {
	Name              string `yaml:"name"`
	MaxTokens         int    `yaml:"max_tokens"`
	TargetWords       string `yaml:"target_words"`
	Description       string `yaml:"description"`
	InteractivePrompt string `yaml:"interactive_prompt"`
}

type StoryConfig struct {
	Phased                   bool          `yaml:"phased"`
	Interactive              bool          `yaml:"interactive"`
	InteractionTemplate      string        `yaml:"interaction_template"`
	InteractionTimeoutMS     int           `yaml:"interaction_timeout_ms"`
	InteractionTimeoutPolicy string        `yaml:"interaction_timeout_policy"` // abort, proceed
	FragmentBuffer           int           `yaml:"fragment_buffer"`
	ContinuePrevious         bool          `yaml:"continue_previous"`
	DefaultLanguage          string        `yaml:"default_language"`
	Phases                   []PhaseConfig `yaml:"phases"`
}

type TransportConfig struct {
	ReadLimitBytes int `yaml:"read_limit_bytes"`
	WriteTimeoutMS int `yaml:"write_timeout_ms"`
	PingIntervalMS int `yaml:"ping_interval_ms"`
	PongWaitMS     int `yaml:"pong_wait_ms"`
	InboundBuffer  int `yaml:"inbound_buffer"`
}

const defaultInteractionTemplate = `Based on the story so far:
{previous_content}

We're about to begin the {next_phase} phase. What would you like to happen next? You can:
1. Suggest a direction for the story
2. Add new characters
3. Introduce a new challenge
4. Keep the current direction

Your input will influence how the story continues.`

// DefaultPhases returns the four-act template used when no phases are configured.
func DefaultPhases() []PhaseConfig {
	return []PhaseConfig{
		{
			Name:              "Exposition",
			MaxTokens:         650,
			TargetWords:       "400-500",
			Description:       "Set up the story world, introduce main characters, establish the tone and setting. Focus on creating a vivid initial scene that hooks the reader. MUST end with a complete sentence that creates suspense or curiosity. Never end mid-sentence.",
			InteractivePrompt: "What do you think will happen to our characters? What would you like to discover about them?",
		},
		{
			Name:              "Rising Action",
			MaxTokens:         1300,
			TargetWords:       "800-1000",
			Description:       "Develop the conflict, show character relationships evolving, and build tension. Include 2-3 smaller challenges that lead to the main conflict. MUST end with a complete sentence showing characters facing an important choice.",
			InteractivePrompt: "Our heroes face an important choice. What do you think they should do?",
		},
		{
			Name:              "Climax",
			MaxTokens:         975,
			TargetWords:       "600-750",
			Description:       "Present the main conflict and build towards its resolution. Show how characters use what they've learned. MUST end with a complete sentence at a crucial moment of tension.",
			InteractivePrompt: "The crucial moment has arrived! How would you like our heroes to face this challenge?",
		},
		{
			Name:              "Resolution",
			MaxTokens:         325,
			TargetWords:       "200-250",
			Description:       "Wrap up loose ends, show character growth, and leave a lasting message. Provide a satisfying conclusion that reinforces the story's theme and shows how the characters have changed.",
			InteractivePrompt: "What did you learn from this story? What would you do in our heroes' place?",
		},
	}
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-story",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8000,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		History: HistoryConfig{
			Mode:         "memory",
			Path:         "./data/story-history.db",
			DefaultLimit: 5,
		},
		LLM: LLMConfig{
			Mode:        "mock",
			Endpoint:    "http://localhost:11434",
			Model:       "llama3.2:latest",
			MaxTokens:   2048,
			Temperature: 0.7,
			TopP:        0.8,
			MockDelayMS: 15,
		},
		TTS: TTSConfig{
			Mode:            "mock",
			DefaultVoice:    "en-US",
			SampleRate:      16000,
			Channels:        1,
			ChunkDurationMS: 400,
		},
		Story: StoryConfig{
			Phased:                   true,
			Interactive:              true,
			InteractionTemplate:      defaultInteractionTemplate,
			InteractionTimeoutMS:     300000,
			InteractionTimeoutPolicy: "abort",
			FragmentBuffer:           32,
			ContinuePrevious:         true,
			DefaultLanguage:          "english",
			Phases:                   DefaultPhases(),
		},
		Transport: TransportConfig{
			ReadLimitBytes: 64 * 1024,
			WriteTimeoutMS: 10000,
			PingIntervalMS: 30000,
			PongWaitMS:     60000,
			InboundBuffer:  16,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "STORY_RUNTIME_NAME")
	overrideString(&cfg.Environment, "STORY_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "STORY_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "STORY_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "STORY_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "STORY_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "STORY_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "STORY_TELEMETRY_PROMETHEUS_BIND")
	overrideString(&cfg.Telemetry.TraceExporter, "STORY_TELEMETRY_TRACE_EXPORTER")
	overrideBool(&cfg.Bus.Enabled, "STORY_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "STORY_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "STORY_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "STORY_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "STORY_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "STORY_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "STORY_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "STORY_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "STORY_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "STORY_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.History.Mode, "STORY_HISTORY_MODE")
	overrideString(&cfg.History.Path, "STORY_HISTORY_PATH")
	overrideBool(&cfg.History.VacuumOnStart, "STORY_HISTORY_VACUUM_ON_START")
	overrideInt(&cfg.History.DefaultLimit, "STORY_HISTORY_DEFAULT_LIMIT")
	overrideString(&cfg.LLM.Mode, "STORY_LLM_MODE")
	overrideString(&cfg.LLM.Endpoint, "STORY_LLM_ENDPOINT")
	overrideString(&cfg.LLM.Command, "STORY_LLM_COMMAND")
	overrideString(&cfg.LLM.Model, "STORY_LLM_MODEL")
	overrideString(&cfg.LLM.APIKey, "STORY_LLM_API_KEY")
	overrideInt(&cfg.LLM.MaxTokens, "STORY_LLM_MAX_TOKENS")
	overrideFloat(&cfg.LLM.Temperature, "STORY_LLM_TEMPERATURE")
	overrideFloat(&cfg.LLM.TopP, "STORY_LLM_TOP_P")
	overrideInt(&cfg.LLM.MockDelayMS, "STORY_LLM_MOCK_DELAY_MS")
	overrideString(&cfg.TTS.Mode, "STORY_TTS_MODE")
	overrideString(&cfg.TTS.Command, "STORY_TTS_COMMAND")
	overrideString(&cfg.TTS.Voice, "STORY_TTS_VOICE")
	overrideString(&cfg.TTS.DefaultVoice, "STORY_TTS_DEFAULT_VOICE")
	overrideInt(&cfg.TTS.SampleRate, "STORY_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.Channels, "STORY_TTS_CHANNELS")
	overrideInt(&cfg.TTS.ChunkDurationMS, "STORY_TTS_CHUNK_DURATION_MS")
	overrideBool(&cfg.Story.Phased, "STORY_PHASED")
	overrideBool(&cfg.Story.Interactive, "STORY_INTERACTIVE")
	overrideInt(&cfg.Story.InteractionTimeoutMS, "STORY_INTERACTION_TIMEOUT_MS")
	overrideString(&cfg.Story.InteractionTimeoutPolicy, "STORY_INTERACTION_TIMEOUT_POLICY")
	overrideInt(&cfg.Story.FragmentBuffer, "STORY_FRAGMENT_BUFFER")
	overrideBool(&cfg.Story.ContinuePrevious, "STORY_CONTINUE_PREVIOUS")
	overrideString(&cfg.Story.DefaultLanguage, "STORY_DEFAULT_LANGUAGE")
	overrideInt(&cfg.Transport.ReadLimitBytes, "STORY_TRANSPORT_READ_LIMIT_BYTES")
	overrideInt(&cfg.Transport.WriteTimeoutMS, "STORY_TRANSPORT_WRITE_TIMEOUT_MS")
	overrideInt(&cfg.Transport.PingIntervalMS, "STORY_TRANSPORT_PING_INTERVAL_MS")
	overrideInt(&cfg.Transport.PongWaitMS, "STORY_TRANSPORT_PONG_WAIT_MS")
	overrideInt(&cfg.Transport.InboundBuffer, "STORY_TRANSPORT_INBOUND_BUFFER")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg *Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	switch cfg.Telemetry.TraceExporter {
	case "", "stdout", "none":
	case "otlp":
		if strings.TrimSpace(cfg.Telemetry.OTLPEndpoint) == "" {
			return errors.New("telemetry.otlp_endpoint must be set when trace_exporter=otlp")
		}
	default:
		return errors.New("telemetry.trace_exporter must be one of otlp|stdout|none")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	switch cfg.History.Mode {
	case "memory":
	case "sqlite":
		if cfg.History.Path == "" {
			return errors.New("history.path must be set when mode=sqlite")
		}
	default:
		return errors.New("history.mode must be one of memory|sqlite")
	}
	if cfg.History.DefaultLimit <= 0 {
		cfg.History.DefaultLimit = 5
	}
	switch cfg.LLM.Mode {
	case "mock", "ollama", "openrouter", "exec":
	default:
		return errors.New("llm.mode must be one of mock|ollama|openrouter|exec")
	}
	if (cfg.LLM.Mode == "ollama" || cfg.LLM.Mode == "openrouter") && cfg.LLM.Endpoint == "" {
		return fmt.Errorf("llm.endpoint must be set when mode=%s", cfg.LLM.Mode)
	}
	if cfg.LLM.Mode == "openrouter" && cfg.LLM.APIKey == "" {
		return errors.New("llm.api_key must be set when mode=openrouter")
	}
	if cfg.LLM.Mode == "exec" && cfg.LLM.Command == "" {
		return errors.New("llm.command must be set when mode=exec")
	}
	if cfg.LLM.MaxTokens < 0 {
		return errors.New("llm.max_tokens must be >= 0")
	}
	switch cfg.TTS.Mode {
	case "mock", "exec":
	default:
		return errors.New("tts.mode must be one of mock|exec")
	}
	if cfg.TTS.Mode == "exec" && cfg.TTS.Command == "" {
		return errors.New("tts.command must be set when mode=exec")
	}
	if cfg.TTS.SampleRate <= 0 {
		return errors.New("tts.sample_rate must be positive")
	}
	if cfg.TTS.Channels <= 0 {
		return errors.New("tts.channels must be positive")
	}
	if cfg.TTS.DefaultVoice == "" {
		cfg.TTS.DefaultVoice = "en-US"
	}
	if cfg.Story.Phased && len(cfg.Story.Phases) == 0 {
		return errors.New("story.phases must not be empty when phased generation is enabled")
	}
	for i, phase := range cfg.Story.Phases {
		if strings.TrimSpace(phase.Name) == "" {
			return fmt.Errorf("story.phases[%d].name must not be empty", i)
		}
		if phase.MaxTokens < 0 {
			return fmt.Errorf("story.phases[%d].max_tokens must be >= 0", i)
		}
	}
	if cfg.Story.InteractionTimeoutMS < 0 {
		return errors.New("story.interaction_timeout_ms must be >= 0")
	}
	switch cfg.Story.InteractionTimeoutPolicy {
	case "abort", "proceed":
	default:
		return errors.New("story.interaction_timeout_policy must be one of abort|proceed")
	}
	if cfg.Story.FragmentBuffer <= 0 {
		return errors.New("story.fragment_buffer must be >= 1")
	}
	if cfg.Story.DefaultLanguage == "" {
		cfg.Story.DefaultLanguage = "english"
	}
	if cfg.Transport.InboundBuffer <= 0 {
		return errors.New("transport.inbound_buffer must be >= 1")
	}
	if cfg.Transport.PingIntervalMS > 0 && cfg.Transport.PongWaitMS <= cfg.Transport.PingIntervalMS {
		return errors.New("transport.pong_wait_ms must be greater than ping interval")
	}
	return nil
}
