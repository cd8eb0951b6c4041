package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64
	LogLevel       string

	// Storage
	StorageBackend string

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost      string
	RedisPort      string
	RedisPassword  string
	RedisDB        int
	LockBackend    string
	SessionLockTTL time.Duration

	// Kafka
	KafkaEnabled      bool
	KafkaBrokers      []string
	KafkaSessionTopic string

	// Rulesets
	RulesetDir            string
	RulesetVersion        string
	DefaultERSeverity     string
	DefaultERDepartment   string
	PediatricAgeThreshold int
	MaxAutoEvalSteps      int

	// LLM
	LLMEnabled        bool
	LLMAPIKey         string
	LLMBaseURL        string
	LLMModelName      string
	LLMRequestTimeout time.Duration
	LLMRetryAttempts  int
	DLPEnabled        bool
	DLPRulesPath      string

	// Gateway specific
	GatewayRateLimitRPS   int
	GatewayRateLimitBurst int
}

// llmCallsPerRequest is the most collaborator calls a single locked request
// makes: follow-up generation then prediction.
const llmCallsPerRequest = 2

// LockTTL is SessionLockTTL raised to cover the worst-case LLM time of one
// locked request, so the lock cannot expire while a collaborator runs.
func (c *Config) LockTTL() time.Duration {
	ttl := c.SessionLockTTL
	if !c.LLMEnabled {
		return ttl
	}
	attempts := c.LLMRetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	budget := time.Duration(llmCallsPerRequest*attempts)*c.LLMRequestTimeout + 30*time.Second
	if budget > ttl {
		return budget
	}
	return ttl
}

func Load() *Config {
	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 60*time.Second),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 1024*1024)),
		LogLevel:       getEnv("LOG_LEVEL", "info"),

		StorageBackend: getEnv("STORAGE_BACKEND", "postgres"),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "prescreen"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "prescreen"),
		PostgresDB:       getEnv("POSTGRES_DB", "prescreen"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:      getEnv("REDIS_HOST", "localhost"),
		RedisPort:      getEnv("REDIS_PORT", "6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getIntEnv("REDIS_DB", 0),
		LockBackend:    getEnv("LOCK_BACKEND", "redis"),
		SessionLockTTL: getDuration("SESSION_LOCK_TTL", 5*time.Minute),

		KafkaEnabled:      getBoolEnv("KAFKA_ENABLED", false),
		KafkaBrokers:      getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaSessionTopic: getEnv("KAFKA_SESSION_TOPIC", "prescreen.sessions"),

		RulesetDir:            getEnv("RULESET_DIR", "rulesets/v1"),
		RulesetVersion:        getEnv("RULESET_VERSION", "v1"),
		DefaultERSeverity:     getEnv("DEFAULT_ER_SEVERITY", "sev003"),
		DefaultERDepartment:   getEnv("DEFAULT_ER_DEPARTMENT", "dept002"),
		PediatricAgeThreshold: getIntEnv("PEDIATRIC_AGE_THRESHOLD", 15),
		MaxAutoEvalSteps:      getIntEnv("MAX_AUTO_EVAL_STEPS", 200),

		LLMEnabled:        getBoolEnv("LLM_ENABLED", false),
		LLMAPIKey:         getEnv("LLM_API_KEY", ""),
		LLMBaseURL:        getEnv("LLM_BASE_URL", "https://api.openai.com/v1"),
		LLMModelName:      getEnv("LLM_MODEL_NAME", "gpt-4o-mini"),
		LLMRequestTimeout: getDuration("LLM_REQUEST_TIMEOUT", 30*time.Second),
		LLMRetryAttempts:  getIntEnv("LLM_RETRY_ATTEMPTS", 3),
		DLPEnabled:        getBoolEnv("DLP_ENABLED", true),
		DLPRulesPath:      getEnv("DLP_RULES_PATH", ""),

		GatewayRateLimitRPS:   getIntEnv("GATEWAY_RATE_LIMIT_RPS", 50),
		GatewayRateLimitBurst: getIntEnv("GATEWAY_RATE_LIMIT_BURST", 100),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// Comma separated, blanks dropped.
func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
