package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr    string
	PostgresDSN string
	LogLevel    string
	Env         string

	DefaultProvider string

	SoftPKCS12Path     string
	SoftPKCS12Password string
	SoftCertPEMPath    string
	SoftKeyPEMPath     string

	PKCS11ModulePath string
	PKCS11Slot       int
	PKCS11PIN        string

	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSSessionToken    string
	AWSKMSEndpoint     string

	GCPProjectID   string
	GCPAccessToken string
	GCPKMSEndpoint string

	TSAPrimaryURL          string
	TSAFallbackURLs        []string
	TSAAuthoritiesFile     string
	TSAAttemptTimeout      time.Duration
	TSAFailoverTimeout     time.Duration
	TSAMaxFailoverAttempts int

	BatchMaxConcurrency int
	BatchRetryBudget    int
	QueuePollInterval   time.Duration
	QueueSettleTimeout  time.Duration

	PolicyBundlePath string
	PolicyBundleID   string

	CertCacheTTL time.Duration

	TemporalAddress   string
	TemporalNamespace string
	TemporalTaskQueue string
	WorkerHealthAddr  string

	RateLimitRequests      int
	RateLimitWindowSeconds int
	RateLimitMaxKeys       int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

func FromEnv() Config {
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	return Config{
		HTTPAddr:    addr,
		PostgresDSN: os.Getenv("POSTGRES_DSN"),
		LogLevel:    envDefault("LOG_LEVEL", "info"),
		Env:         envDefault("ENV", "dev"),

		DefaultProvider: envDefault("DEFAULT_PROVIDER", "soft"),

		SoftPKCS12Path:     os.Getenv("SOFT_PKCS12_PATH"),
		SoftPKCS12Password: os.Getenv("SOFT_PKCS12_PASSWORD"),
		SoftCertPEMPath:    os.Getenv("SOFT_CERT_PEM_PATH"),
		SoftKeyPEMPath:     os.Getenv("SOFT_KEY_PEM_PATH"),

		PKCS11ModulePath: os.Getenv("PKCS11_MODULE_PATH"),
		PKCS11Slot:       envIntDefault("PKCS11_SLOT", 0),
		PKCS11PIN:        os.Getenv("PKCS11_PIN"),

		AWSRegion:          os.Getenv("AWS_REGION"),
		AWSAccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		AWSSecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		AWSSessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
		AWSKMSEndpoint:     os.Getenv("AWS_KMS_ENDPOINT"),

		GCPProjectID:   os.Getenv("GCP_PROJECT_ID"),
		GCPAccessToken: os.Getenv("GCP_ACCESS_TOKEN"),
		GCPKMSEndpoint: os.Getenv("GCP_KMS_ENDPOINT"),

		TSAPrimaryURL:          os.Getenv("TSA_PRIMARY_URL"),
		TSAFallbackURLs:        splitCSV(os.Getenv("TSA_FALLBACK_URLS")),
		TSAAuthoritiesFile:     os.Getenv("TSA_AUTHORITIES_FILE"),
		TSAAttemptTimeout:      envDurationSecs("TSA_ATTEMPT_TIMEOUT_SECONDS", 10),
		TSAFailoverTimeout:     envDurationSecs("TSA_FAILOVER_TIMEOUT_SECONDS", 30),
		TSAMaxFailoverAttempts: envIntDefault("TSA_MAX_FAILOVER_ATTEMPTS", 3),

		BatchMaxConcurrency: envIntDefault("BATCH_MAX_CONCURRENCY", 4),
		BatchRetryBudget:    envIntDefault("BATCH_RETRY_BUDGET", 2),
		QueueSettleTimeout:  envDurationSecs("QUEUE_SETTLE_TIMEOUT_SECONDS", 600),
		QueuePollInterval:   envDurationMillis("QUEUE_POLL_INTERVAL_MILLIS", 500),

		PolicyBundlePath: os.Getenv("POLICY_BUNDLE_PATH"),
		PolicyBundleID:   envDefault("POLICY_BUNDLE_ID", "signing_default"),

		CertCacheTTL: envDurationSecs("CERT_CACHE_TTL_SECONDS", 300),

		TemporalAddress:   envDefault("TEMPORAL_ADDRESS", "127.0.0.1:7233"),
		TemporalNamespace: envDefault("TEMPORAL_NAMESPACE", "default"),
		TemporalTaskQueue: envDefault("TEMPORAL_TASK_QUEUE", "signtusk-batches"),
		WorkerHealthAddr:  envDefault("WORKER_HEALTH_ADDR", ":8081"),

		RateLimitRequests:      envIntDefault("RATE_LIMIT_REQUESTS", 0),
		RateLimitWindowSeconds: envIntDefault("RATE_LIMIT_WINDOW_SECONDS", 60),
		RateLimitMaxKeys:       envIntDefault("RATE_LIMIT_MAX_KEYS", 10000),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       envIntDefault("REDIS_DB", 0),
	}
}

func envDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed < 0 {
		return def
	}
	return parsed
}

func envDurationSecs(key string, defSecs int) time.Duration {
	return time.Duration(envIntDefault(key, defSecs)) * time.Second
}

func envDurationMillis(key string, defMillis int) time.Duration {
	return time.Duration(envIntDefault(key, defMillis)) * time.Millisecond
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}
