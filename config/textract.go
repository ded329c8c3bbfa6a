package config

import (
	"sync"
)

var (
	textractOnce   sync.Once
	textractConfig *TextractConfig
)

type TextractConfig struct {
	Enabled       bool
	Region        string
	AccessKey     string
	SecretKey     string
	MinConfidence float32
}

func GetTextractConfig() *TextractConfig {
	textractOnce.Do(func() {
		loadEnv()
		textractConfig = &TextractConfig{
			Enabled:       getBool("TEXTRACT_ENABLED", false),
			Region:        getEnv("AWS_REGION", "us-east-1"),
			AccessKey:     getEnv("AWS_ACCESS_KEY", ""),
			SecretKey:     getEnv("AWS_SECRET_KEY", ""),
			MinConfidence: float32(getFloat("TEXTRACT_MIN_CONFIDENCE", 0)),
		}
	})
	return textractConfig
}
