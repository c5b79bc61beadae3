// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション設定を表す。
type Config struct {
	// クライアント側
	PeerURL                    string
	ServerPublicKey            string
	ClientPrivateKey           string
	ClientPrivateKeyKMSWrapped bool
	KMSKeyName                 string
	RequestTimeout             time.Duration
	SessionTTL                 time.Duration

	// サンドボックス側
	Port             string
	ServerPrivateKey string
	ClientPublicKey  string
	RedisAddr        string
	NonceTTL         time.Duration
	MaxClockSkew     time.Duration
	RateLimitRPS     float64
	RateLimitBurst   int
	MaxFailures      int
	FailureBlock     time.Duration
	MetricsEnabled   bool

	// 共通
	DatabaseURL        string
	GoogleCloudProject string
	LogLevel           string
	OtelEnabled        bool
	OtelEndpoint       string
	OtelServiceName    string
	OtelSamplingRate   float64
}

// Load は環境変数から設定を読み込む。
func Load() *Config {
	return &Config{
		PeerURL:                    getEnv("PEER_URL", "http://localhost:8080"),
		ServerPublicKey:            getEnv("SERVER_PUBLIC_KEY", "./keys/server_public.pem"),
		ClientPrivateKey:           getEnv("CLIENT_PRIVATE_KEY", "./keys/client_private.pem"),
		ClientPrivateKeyKMSWrapped: getBool("CLIENT_PRIVATE_KEY_KMS_WRAPPED", false),
		KMSKeyName:                 os.Getenv("KMS_KEY_NAME"),
		RequestTimeout:             getDuration("REQUEST_TIMEOUT", 30*time.Second),
		SessionTTL:                 getDuration("SESSION_TTL", 0),

		Port:             getEnv("PORT", "8080"),
		ServerPrivateKey: getEnv("SERVER_PRIVATE_KEY", "./keys/server_private.pem"),
		ClientPublicKey:  getEnv("CLIENT_PUBLIC_KEY", "./keys/client_public.pem"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		NonceTTL:         getDuration("NONCE_TTL", 10*time.Minute),
		MaxClockSkew:     getDuration("MAX_CLOCK_SKEW", 5*time.Minute),
		RateLimitRPS:     getFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst:   getInt("RATE_LIMIT_BURST", 10),
		MaxFailures:      getInt("MAX_FAILED_ATTEMPTS", 3),
		FailureBlock:     getDuration("FAILED_ATTEMPT_BLOCK", 3*time.Minute),
		MetricsEnabled:   getBool("METRICS_ENABLED", true),

		DatabaseURL:        os.Getenv("DATABASE_URL"),
		GoogleCloudProject: os.Getenv("GOOGLE_CLOUD_PROJECT"),
		LogLevel:           getEnv("LOG_LEVEL", "INFO"),
		OtelEnabled:        getBool("OTEL_ENABLED", false),
		OtelEndpoint:       getEnv("OTEL_ENDPOINT", "localhost:4317"),
		OtelServiceName:    getEnv("OTEL_SERVICE_NAME", "payment-session-client"),
		OtelSamplingRate:   getFloat("OTEL_SAMPLING_RATE", 1.0),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

func getInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}

func getFloat(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultVal
	}
	return f
}
