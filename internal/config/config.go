package config

import (
	"os"
	"strconv"
	"strings"
)

// Config holds application configuration
type Config struct {
	Port               string
	Env                string
	PublicBaseURL      string
	LogLevel           string
	CORSAllowedOrigins []string
	WorkerCount        int
	DatabaseURL        string

	// Voice-platform webhook (§4.H)
	VoiceWebhookSecret string

	// SMS provider configuration (§6 "SMS provider"), generic over whichever
	// vendor internal/messaging is configured against.
	SMSProvider              string
	SMSProviderAPIKey        string
	SMSProviderAccountID     string
	SMSProviderWebhookSecret string
	SMSProviderFromNumber    string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	BedrockModelID string

	// Gemini fallback provider configuration (§4.K)
	GeminiAPIKey    string
	GeminiModelID   string
	GeminiProjectID string
	GeminiLocation  string

	LLMPrimaryProvider  string // "bedrock" (default)
	LLMFallbackEnabled  bool
	LLMFallbackProvider string // default: "gemini"

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Eligibility / insurance verification (tool #8, §4.I)
	EligibilityAPIBaseURL string
	EligibilityAPIKey     string

	// S3 archive configuration, used by the training pipeline's recording
	// upload path (§4.L).
	S3ArchiveBucket string
	S3ArchiveKMSKey string

	// Optional async fan-out queue for call-feedback analysis jobs (§4.K).
	// Empty means analysis runs in-process on a background goroutine with
	// retries (webhook.Dispatcher.analyzeWithRetry).
	FeedbackAnalysisQueueURL string
}

// SMSProviderIssues returns a list of configuration problems that would
// prevent SMS from working. An empty slice means the provider is fully
// configured. Intended for startup diagnostics and integration tests.
func (c *Config) SMSProviderIssues() []string {
	var issues []string
	if c.SMSProviderAPIKey == "" || c.SMSProviderAccountID == "" {
		issues = append(issues, "no SMS provider configured: need SMS_PROVIDER_API_KEY and SMS_PROVIDER_ACCOUNT_ID")
	}
	if c.SMSProviderFromNumber == "" {
		issues = append(issues, "SMS_PROVIDER_FROM_NUMBER is empty — outbound SMS will fail")
	}
	return issues
}

// Load reads configuration from environment variables
func Load() *Config {
	corsAllowedOrigins := []string{}
	if raw := strings.TrimSpace(getEnv("CORS_ALLOWED_ORIGINS", "")); raw != "" {
		for _, origin := range strings.Split(raw, ",") {
			origin = strings.TrimSpace(origin)
			if origin == "" {
				continue
			}
			corsAllowedOrigins = append(corsAllowedOrigins, origin)
		}
	}

	return &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		PublicBaseURL:      getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		CORSAllowedOrigins: corsAllowedOrigins,
		WorkerCount:        getEnvAsInt("WORKER_COUNT", 2),
		DatabaseURL:        getEnv("DATABASE_URL", ""),

		VoiceWebhookSecret: getEnv("VOICE_WEBHOOK_SECRET", ""),

		SMSProvider:              strings.ToLower(strings.TrimSpace(getEnv("SMS_PROVIDER", "telnyx"))),
		SMSProviderAPIKey:        getEnv("SMS_PROVIDER_API_KEY", ""),
		SMSProviderAccountID:     getEnv("SMS_PROVIDER_ACCOUNT_ID", ""),
		SMSProviderWebhookSecret: getEnv("SMS_PROVIDER_WEBHOOK_SECRET", ""),
		SMSProviderFromNumber:    getEnv("SMS_PROVIDER_FROM_NUMBER", ""),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		BedrockModelID: strings.TrimSpace(getEnv("BEDROCK_MODEL_ID", "")),

		GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:   getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),
		GeminiProjectID: getEnv("GOOGLE_CLOUD_PROJECT", ""),
		GeminiLocation:  getEnv("GEMINI_LOCATION", "us-central1"),

		LLMPrimaryProvider:  strings.ToLower(strings.TrimSpace(getEnv("LLM_PRIMARY_PROVIDER", "bedrock"))),
		LLMFallbackEnabled:  getEnvAsBool("LLM_FALLBACK_ENABLED", false),
		LLMFallbackProvider: strings.ToLower(strings.TrimSpace(getEnv("LLM_FALLBACK_PROVIDER", "gemini"))),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		EligibilityAPIBaseURL: getEnv("ELIGIBILITY_API_BASE_URL", ""),
		EligibilityAPIKey:     getEnv("ELIGIBILITY_API_KEY", ""),

		S3ArchiveBucket: getEnv("S3_ARCHIVE_BUCKET", ""),
		S3ArchiveKMSKey: getEnv("S3_ARCHIVE_KMS_KEY", ""),

		FeedbackAnalysisQueueURL: getEnv("FEEDBACK_ANALYSIS_QUEUE_URL", ""),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

