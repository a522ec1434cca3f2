package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config aggregates every tunable of the service.
type Config struct {
	Server     ServerConfig
	AI         AIConfig
	Compaction CompactionConfig
	Store      StoreConfig
}

// Load parses configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if cfg.Compaction.MemoryMaxRatio <= 0 || cfg.Compaction.MemoryMaxRatio >= 1 {
		return nil, fmt.Errorf("invalid COMPACTION_MEMORY_MAX_RATIO %v: must be in (0, 1)", cfg.Compaction.MemoryMaxRatio)
	}
	if cfg.Compaction.MessageSetCount < 1 {
		return nil, fmt.Errorf("invalid COMPACTION_MESSAGE_SET_COUNT %d: must be >= 1", cfg.Compaction.MessageSetCount)
	}

	return cfg, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Port string `env:"PORT" envDefault:"8080"`
}

// Addr returns the listen address. PORT may be a bare port or a full
// host:port form.
func (c ServerConfig) Addr() string {
	port := strings.TrimSpace(c.Port)
	if strings.Contains(port, ":") {
		return port
	}
	return ":" + port
}

// AIConfig describes the model backends.
type AIConfig struct {
	APIKey    string `env:"ARK_API_KEY"`
	AccessKey string `env:"ARK_ACCESS_KEY"`
	SecretKey string `env:"ARK_SECRET_KEY"`
	Model     string `env:"ARK_MODEL"`
	// SummaryModel is the cheaper model used for compaction and
	// translation. Falls back to Model when unset.
	SummaryModel   string   `env:"ARK_SUMMARY_MODEL"`
	BaseURL        string   `env:"ARK_BASE_URL" envDefault:"https://ark.cn-beijing.volces.com/api/v3"`
	Region         string   `env:"ARK_REGION" envDefault:"cn-beijing"`
	Temperature    *float64 `env:"ARK_TEMPERATURE"`
	TopP           *float64 `env:"ARK_TOP_P"`
	MaxTokens      *int     `env:"ARK_MAX_TOKENS"`
	StreamResponse bool     `env:"ARK_STREAM" envDefault:"true"`
	// ReplyLanguage is the target-language directive appended to every
	// conversation prompt.
	ReplyLanguage  string        `env:"AI_REPLY_LANGUAGE" envDefault:"English"`
	RequestTimeout time.Duration `env:"AI_REQUEST_TIMEOUT" envDefault:"300s"`
}

// Enabled reports whether the required credentials are present.
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel creates the conversation model instance.
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	return c.newModel(ctx, c.Model)
}

// NewSummaryModel creates the model instance used for summarization and
// translation.
func (c AIConfig) NewSummaryModel(ctx context.Context) (model.ChatModel, error) {
	id := c.SummaryModel
	if id == "" {
		id = c.Model
	}
	return c.newModel(ctx, id)
}

func (c AIConfig) newModel(ctx context.Context, modelID string) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials or model missing: provide ARK_API_KEY + ARK_MODEL or an AK/SK pair")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       modelID,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

// CompactionConfig holds the token-budget policy parameters.
type CompactionConfig struct {
	// TokenThreshold bounds the combined estimated size of recent
	// messages and memory text sent as context.
	TokenThreshold int `env:"COMPACTION_TOKEN_THRESHOLD" envDefault:"40000"`
	// MemoryMaxRatio caps memory text at this fraction of the threshold.
	MemoryMaxRatio float64 `env:"COMPACTION_MEMORY_MAX_RATIO" envDefault:"0.3"`
	// MessageSetCount is how many user+character pairs are summarized
	// per compaction pass.
	MessageSetCount int `env:"COMPACTION_MESSAGE_SET_COUNT" envDefault:"4"`
}

// StoreConfig selects the persistence backend. An empty DataDir keeps
// chats in memory only.
type StoreConfig struct {
	DataDir string `env:"HEARTH_DATA_DIR"`
}
