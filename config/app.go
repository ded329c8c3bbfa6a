package config

import (
	"sync"
)

var (
	appOnce   sync.Once
	appConfig *AppConfig
)

type AppConfig struct {
	Env         string
	HTTPPort    string
	LogLevel    string
	LogFile     string
	StorageType string // minio | s3
	// JobBackend selects where jobs live when DATABASE_URL is set: postgres or redis
	JobBackend string
	// DemoMode lets the server and worker start on the in-memory store; each process then has its own store
	DemoMode bool
}

func GetAppConfig() *AppConfig {
	appOnce.Do(func() {
		loadEnv()
		appConfig = &AppConfig{
			Env:         getEnv("APP_ENV", "development"),
			HTTPPort:    getEnv("HTTP_PORT", "8080"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFile:     getEnv("LOG_FILE", ""),
			StorageType: getEnv("STORAGE_TYPE", "minio"),
			JobBackend:  getEnv("JOB_BACKEND", "postgres"),
			DemoMode:    getBool("DEMO_MODE", false),
		}
	})
	return appConfig
}
