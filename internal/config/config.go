package config

import (
	"os"
	"strings"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server     ServerConfig
	Redis      RedisConfig
	JWT        JWTConfig
	RateLimit  RateLimitConfig
	Replicate  ReplicateConfig
	Storage    StorageConfig
	Generation GenerationConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

type RateLimitConfig struct {
	GeneratePerHour int
	UploadPerHour   int
}

type ReplicateConfig struct {
	APIToken string
	BaseURL  string
	Model    string
}

type StorageConfig struct {
	// Local directory used when R2 is not configured.
	Dir string

	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
	R2PublicURL       string
}

type GenerationConfig struct {
	// Upper bound on one synthesis call, in seconds.
	TimeoutSeconds int
	Concurrency    int
	// When true, a remote provider failure retries the job once on the stub
	// provider instead of failing it. Explicit policy, off by default.
	FallbackToStub bool
	MaxSampleBytes int64
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("REPLICATE_API_TOKEN")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = viper.BindEnv("ratelimit.generate_per_hour", "RATELIMIT_GENERATE_PER_HOUR")
	_ = viper.BindEnv("ratelimit.upload_per_hour", "RATELIMIT_UPLOAD_PER_HOUR")
	_ = viper.BindEnv("replicate.api_token", "REPLICATE_API_TOKEN")
	_ = viper.BindEnv("replicate.base_url", "REPLICATE_BASE_URL")
	_ = viper.BindEnv("replicate.model", "REPLICATE_MODEL")
	_ = viper.BindEnv("storage.dir", "STORAGE_DIR")
	_ = viper.BindEnv("storage.r2_account_id", "R2_ACCOUNT_ID")
	_ = viper.BindEnv("storage.r2_access_key_id", "R2_ACCESS_KEY_ID")
	_ = viper.BindEnv("storage.r2_secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("storage.r2_bucket_name", "R2_BUCKET_NAME")
	_ = viper.BindEnv("storage.r2_public_url", "R2_PUBLIC_URL")
	_ = viper.BindEnv("generation.timeout_seconds", "GENERATION_TIMEOUT_SECONDS")
	_ = viper.BindEnv("generation.concurrency", "GENERATION_CONCURRENCY")
	_ = viper.BindEnv("generation.fallback_to_stub", "GENERATION_FALLBACK_TO_STUB")
	_ = viper.BindEnv("generation.max_sample_bytes", "GENERATION_MAX_SAMPLE_BYTES")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.expiration", 24)
	viper.SetDefault("ratelimit.generate_per_hour", 20)
	viper.SetDefault("ratelimit.upload_per_hour", 50)

	// Replicate defaults
	viper.SetDefault("replicate.base_url", "https://api.replicate.com")
	viper.SetDefault("replicate.model", "resemble-ai/chatterbox")

	// Storage defaults
	viper.SetDefault("storage.dir", "./storage")

	// Generation defaults
	viper.SetDefault("generation.timeout_seconds", 1800)
	viper.SetDefault("generation.concurrency", 10)
	viper.SetDefault("generation.fallback_to_stub", false)
	viper.SetDefault("generation.max_sample_bytes", 50*1024*1024)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:     viper.GetString("server.port"),
			Env:      viper.GetString("server.env"),
			LogLevel: viper.GetString("server.log_level"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     viper.GetString("jwt.secret"),
			Expiration: viper.GetInt("jwt.expiration"),
		},
		RateLimit: RateLimitConfig{
			GeneratePerHour: viper.GetInt("ratelimit.generate_per_hour"),
			UploadPerHour:   viper.GetInt("ratelimit.upload_per_hour"),
		},
		Replicate: ReplicateConfig{
			APIToken: viper.GetString("replicate.api_token"),
			BaseURL:  viper.GetString("replicate.base_url"),
			Model:    viper.GetString("replicate.model"),
		},
		Storage: StorageConfig{
			Dir:               viper.GetString("storage.dir"),
			R2AccountID:       viper.GetString("storage.r2_account_id"),
			R2AccessKeyID:     viper.GetString("storage.r2_access_key_id"),
			R2SecretAccessKey: viper.GetString("storage.r2_secret_access_key"),
			R2BucketName:      viper.GetString("storage.r2_bucket_name"),
			R2PublicURL:       viper.GetString("storage.r2_public_url"),
		},
		Generation: GenerationConfig{
			TimeoutSeconds: viper.GetInt("generation.timeout_seconds"),
			Concurrency:    viper.GetInt("generation.concurrency"),
			FallbackToStub: viper.GetBool("generation.fallback_to_stub"),
			MaxSampleBytes: viper.GetInt64("generation.max_sample_bytes"),
		},
	}

	return cfg, nil
}
