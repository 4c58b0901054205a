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
	Server        ServerConfig
	AI            AIConfig
	Webhook       WebhookConfig
	Storage       StorageConfig
	Turn          TurnConfig
	Embeds        EmbedsConfig
	Observability ObservabilityConfig
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

	webhook, err := loadWebhookConfig()
	if err != nil {
		return nil, err
	}

	storage, err := loadStorageConfig()
	if err != nil {
		return nil, err
	}

	turn, err := loadTurnConfig()
	if err != nil {
		return nil, err
	}

	obs, err := loadObservabilityConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:        server,
		AI:            ai,
		Webhook:       webhook,
		Storage:       storage,
		Turn:          turn,
		Embeds:        EmbedsConfig{ProfilesFile: strings.TrimSpace(os.Getenv("EMBED_PROFILES_FILE"))},
		Observability: obs,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
	// APIKeys 为空时不启用鉴权。
	APIKeys []string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	keys := parseListEnv("API_KEYS")

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port, APIKeys: keys}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, APIKeys: keys}, nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey         string
	AccessKey      string
	SecretKey      string
	Model          string
	BaseURL        string
	Region         string
	Temperature    *float64
	TopP           *float64
	MaxTokens      *int
	StreamResponse bool
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: toFloat32(c.Temperature),
		TopP:        toFloat32(c.TopP),
	}

	return ark.NewChatModel(ctx, cfg)
}

func toFloat32(v *float64) *float32 {
	if v == nil {
		return nil
	}
	val := float32(*v)
	return &val
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

	stream, err := parseBoolEnv("ARK_STREAM", true)
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:         strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:      strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:      strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:          strings.TrimSpace(os.Getenv("Model")),
		BaseURL:        getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:         getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:    temperature,
		TopP:           topP,
		MaxTokens:      maxTokens,
		StreamResponse: stream,
	}, nil
}

// WebhookConfig 描述外部工作流 webhook。
type WebhookConfig struct {
	URL       string
	HealthURL string
	Timeout   time.Duration
}

// Enabled 表示是否配置了 webhook 地址。
func (c WebhookConfig) Enabled() bool {
	return c.URL != ""
}

func loadWebhookConfig() (WebhookConfig, error) {
	timeout, err := parseDurationEnv("WEBHOOK_TIMEOUT", 60*time.Second)
	if err != nil {
		return WebhookConfig{}, err
	}

	return WebhookConfig{
		URL:       strings.TrimSpace(os.Getenv("WEBHOOK_URL")),
		HealthURL: strings.TrimSpace(os.Getenv("WEBHOOK_HEALTH_URL")),
		Timeout:   timeout,
	}, nil
}

// StorageBackend 选择会话历史的存储实现。
type StorageBackend string

const (
	StorageMemory StorageBackend = "memory"
	StorageBadger StorageBackend = "badger"
)

// StorageConfig 描述持久化配置。
type StorageConfig struct {
	Backend    StorageBackend
	BadgerPath string
	SyncWrites bool
}

func loadStorageConfig() (StorageConfig, error) {
	backend := StorageBackend(strings.ToLower(getEnvOrDefault("STORAGE_BACKEND", string(StorageMemory))))
	switch backend {
	case StorageMemory, StorageBadger:
	default:
		return StorageConfig{}, fmt.Errorf("invalid STORAGE_BACKEND value %q", backend)
	}

	syncWrites, err := parseBoolEnv("BADGER_SYNC_WRITES", false)
	if err != nil {
		return StorageConfig{}, err
	}

	return StorageConfig{
		Backend:    backend,
		BadgerPath: getEnvOrDefault("BADGER_PATH", "./data/badger"),
		SyncWrites: syncWrites,
	}, nil
}

// UpstreamBackend 选择回答生成后端。
type UpstreamBackend string

const (
	UpstreamArk     UpstreamBackend = "ark"
	UpstreamWebhook UpstreamBackend = "webhook"
	// UpstreamAuto 优先使用 webhook，其次 Ark。
	UpstreamAuto UpstreamBackend = "auto"
)

const defaultUnavailableReply = "The assistant is not available right now. Please try again in a moment."

// TurnConfig 描述单轮对话的行为开关。
type TurnConfig struct {
	Upstream         UpstreamBackend
	PrefetchSources  bool
	UnavailableReply string
	HelpKeywords     []string
	HelpReply        string
}

func loadTurnConfig() (TurnConfig, error) {
	upstream := UpstreamBackend(strings.ToLower(getEnvOrDefault("UPSTREAM_BACKEND", string(UpstreamAuto))))
	switch upstream {
	case UpstreamArk, UpstreamWebhook, UpstreamAuto:
	default:
		return TurnConfig{}, fmt.Errorf("invalid UPSTREAM_BACKEND value %q", upstream)
	}

	prefetch, err := parseBoolEnv("PREFETCH_SOURCES", false)
	if err != nil {
		return TurnConfig{}, err
	}

	return TurnConfig{
		Upstream:         upstream,
		PrefetchSources:  prefetch,
		UnavailableReply: getEnvOrDefault("UNAVAILABLE_REPLY", defaultUnavailableReply),
		HelpKeywords:     parseListEnv("HELP_KEYWORDS"),
		HelpReply:        strings.TrimSpace(os.Getenv("HELP_REPLY")),
	}, nil
}

// EmbedsConfig 指向嵌入配置文件 (YAML)。
type EmbedsConfig struct {
	ProfilesFile string
}

// ObservabilityConfig 描述指标与追踪。
type ObservabilityConfig struct {
	MetricsEnabled bool
	OTelStdout     bool
}

func loadObservabilityConfig() (ObservabilityConfig, error) {
	metrics, err := parseBoolEnv("METRICS_ENABLED", true)
	if err != nil {
		return ObservabilityConfig{}, err
	}

	stdout, err := parseBoolEnv("OTEL_STDOUT", false)
	if err != nil {
		return ObservabilityConfig{}, err
	}

	return ObservabilityConfig{MetricsEnabled: metrics, OTelStdout: stdout}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
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

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	// 纯数字按秒处理。
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

// parseListEnv 解析逗号分隔的列表，忽略空项。
func parseListEnv(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
