// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds process settings read from the environment plus the pipeline file.
type Config struct {
	Port               string
	DataDir            string
	OutputDir          string
	SourcePath         string
	LogDir             string
	LogLevel           string
	DebugMode          bool
	PipelineConfigPath string
	DatabaseURL        string
	RedisURL           string
	ShutdownTimeout    time.Duration

	Pipeline *PipelineConfig
}

// Load reads .env (optional), the environment and the YAML pipeline file.
// A missing pipeline file is not an error; defaults are used instead.
func Load() (*Config, error) {
	godotenv.Load()

	config := &Config{
		Port:               getEnv("PORT", "8080"),
		DataDir:            getEnvPath("DATA_DIR", "data"),
		OutputDir:          getEnvPath("OUTPUT_DIR", "output"),
		SourcePath:         getEnv("SOURCE_PATH", "chapters"),
		LogDir:             getEnvPath("LOG_DIR", "logs"),
		LogLevel:           getEnv("LOG_LEVEL", "INFO"),
		DebugMode:          getEnvBool("DEBUG_MODE", false),
		PipelineConfigPath: getEnv("PIPELINE_CONFIG", "config/pipeline.yaml"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		RedisURL:           getEnv("REDIS_URL", ""),
		ShutdownTimeout:    getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
	}

	pipeline, err := LoadPipeline(config.PipelineConfigPath)
	if err != nil {
		return nil, err
	}
	if v := getEnvInt("WORKER_POOL_SIZE", 0); v > 0 {
		pipeline.Workers.PoolSize = v
	}
	if err := pipeline.Validate(); err != nil {
		return nil, err
	}
	config.Pipeline = pipeline

	if pipeline.Storage.Characters == StoragePostgres && config.DatabaseURL == "" {
		return nil, fmt.Errorf("characters storage is postgres but DATABASE_URL is empty")
	}
	if pipeline.Storage.Progress == StorageRedis && config.RedisURL == "" {
		return nil, fmt.Errorf("progress storage is redis but REDIS_URL is empty")
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvPath returns a directory path and makes sure it exists.
func getEnvPath(key, defaultValue string) string {
	path := getEnv(key, defaultValue)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0755); err != nil {
			fmt.Printf("warning: create dir %s: %v\n", path, err)
		}
	}
	return path
}

func getEnvBool(key string, defaultValue bool) bool {
	value := strings.ToLower(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

func getEnvInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}
