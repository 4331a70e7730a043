package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"payproof/pkg/intake"
)

const devJWTSecret = "dev-insecure-secret-change"

// Config is read from the environment; a local .env fills in unset variables.
type Config struct {
	IntakeAddr        string
	APIAddr           string
	IntakeURL         string
	UploadDir         string
	MaxUploadBytes    int64
	CORSOrigins       []string
	AdminPasswordHash string

	DBDSN         string
	DBAutoMigrate bool
	JWTSecret     []byte

	TessdataPrefix string
	OCRLanguages   []string

	S3 intake.S3Config

	Debug bool
}

func loadConfig() (*Config, error) {
	// .env never overrides variables that are already set
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetDefault("INTAKE_ADDR", ":3001")
	v.SetDefault("API_ADDR", ":8081")
	v.SetDefault("UPLOAD_DIR", "uploads/payment-screenshots")
	v.SetDefault("MAX_UPLOAD_BYTES", intake.DefaultMaxBytes)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000,http://localhost:5173,http://127.0.0.1:3000,http://127.0.0.1:5173")
	v.SetDefault("DB_AUTO_MIGRATE", true)
	v.SetDefault("OCR_LANGUAGE", "eng")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("S3_PREFIX", "payment-screenshots")
	v.SetDefault("DEBUG", false)
	v.AutomaticEnv()

	cfg := &Config{
		IntakeAddr:        v.GetString("INTAKE_ADDR"),
		APIAddr:           v.GetString("API_ADDR"),
		IntakeURL:         v.GetString("INTAKE_URL"),
		UploadDir:         v.GetString("UPLOAD_DIR"),
		MaxUploadBytes:    v.GetInt64("MAX_UPLOAD_BYTES"),
		CORSOrigins:       splitList(v.GetString("CORS_ORIGINS")),
		AdminPasswordHash: v.GetString("ADMIN_PASSWORD_HASH"),
		DBDSN:             v.GetString("DB_DSN"),
		DBAutoMigrate:     v.GetBool("DB_AUTO_MIGRATE"),
		JWTSecret:         []byte(v.GetString("JWT_SECRET")),
		TessdataPrefix:    v.GetString("TESSDATA_PREFIX"),
		OCRLanguages:      splitList(strings.ReplaceAll(v.GetString("OCR_LANGUAGE"), "+", ",")),
		S3: intake.S3Config{
			Endpoint:        v.GetString("S3_ENDPOINT"),
			Region:          v.GetString("S3_REGION"),
			Bucket:          v.GetString("S3_BUCKET"),
			AccessKeyID:     v.GetString("S3_ACCESS_KEY_ID"),
			SecretAccessKey: v.GetString("S3_SECRET_ACCESS_KEY"),
			Prefix:          v.GetString("S3_PREFIX"),
		},
		Debug: v.GetBool("DEBUG"),
	}
	if len(cfg.JWTSecret) == 0 {
		cfg.JWTSecret = []byte(devJWTSecret)
	}
	if cfg.MaxUploadBytes <= 0 {
		return nil, fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", cfg.MaxUploadBytes)
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
