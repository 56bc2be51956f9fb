package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server      ServerConfig
	AI          AIConfig
	Compose     ComposeConfig
	Retrieval   RetrievalConfig
	Interaction InteractionConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	compose, err := loadComposeConfig()
	if err != nil {
		return nil, err
	}

	retrieval, err := loadRetrievalConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:      server,
		AI:          ai,
		Compose:     compose,
		Retrieval:   retrieval,
		Interaction: InteractionConfig{LogPath: getEnvOrDefault("INTERACTION_LOG_PATH", "chat_logs.jsonl")},
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// ComposeConfig 描述分段提问合并引擎的配置。
type ComposeConfig struct {
	Window            time.Duration
	HistoryLimit      int
	GenerationTimeout time.Duration
	SessionIdleTTL    time.Duration
	SweepSchedule     string
}

// RetrievalConfig 描述员工手册检索配置。
type RetrievalConfig struct {
	PagesDir      string
	TopK          int
	ChunkMaxChars int
}

// InteractionConfig 描述问答记录日志配置。
type InteractionConfig struct {
	LogPath string
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_MODEL 以及 ARK_API_KEY 或 AK/SK 组合")
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

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
	}, nil
}

func loadComposeConfig() (ComposeConfig, error) {
	// 静默窗口，默认 10 秒
	window := 10 * time.Second
	if seconds, err := parseOptionalFloatEnv("COMPOSE_WINDOW_SECONDS"); err != nil {
		return ComposeConfig{}, err
	} else if seconds != nil {
		if *seconds <= 0 {
			return ComposeConfig{}, fmt.Errorf("invalid COMPOSE_WINDOW_SECONDS value %v: must be positive", *seconds)
		}
		window = time.Duration(*seconds * float64(time.Second))
	}

	historyLimit := 5
	if override, err := parseOptionalIntEnv("HISTORY_LIMIT"); err != nil {
		return ComposeConfig{}, err
	} else if override != nil {
		if *override < 1 {
			historyLimit = 1
		} else {
			historyLimit = *override
		}
	}

	timeout := 60 * time.Second
	if seconds, err := parseOptionalIntEnv("GENERATION_TIMEOUT_SECONDS"); err != nil {
		return ComposeConfig{}, err
	} else if seconds != nil {
		// 0 表示不限制生成时长
		timeout = time.Duration(*seconds) * time.Second
	}

	idleTTL, err := parseDurationEnv("SESSION_IDLE_TTL", 30*time.Minute)
	if err != nil {
		return ComposeConfig{}, err
	}

	return ComposeConfig{
		Window:            window,
		HistoryLimit:      historyLimit,
		GenerationTimeout: timeout,
		SessionIdleTTL:    idleTTL,
		SweepSchedule:     getEnvOrDefault("SESSION_SWEEP_SCHEDULE", "*/5 * * * *"),
	}, nil
}

func loadRetrievalConfig() (RetrievalConfig, error) {
	topK := 5
	if override, err := parseOptionalIntEnv("RETRIEVAL_TOP_K"); err != nil {
		return RetrievalConfig{}, err
	} else if override != nil && *override > 0 {
		topK = *override
	}

	chunkMaxChars := 1200
	if override, err := parseOptionalIntEnv("CHUNK_MAX_CHARS"); err != nil {
		return RetrievalConfig{}, err
	} else if override != nil && *override > 0 {
		chunkMaxChars = *override
	}

	return RetrievalConfig{
		PagesDir:      getEnvOrDefault("PAGES_DIR", "./pages"),
		TopK:          topK,
		ChunkMaxChars: chunkMaxChars,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("invalid %s value %q: must not be negative", key, raw)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
