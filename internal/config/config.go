package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
)

type Config struct {
	Environment string `env:"ENV,default=development"`
	Port        string `env:"PORT,default=8080"`

	// TrustProxy takes client IPs from X-Forwarded-For for rate limiting.
	TrustProxy bool `env:"TRUST_PROXY,default=false"`

	PostgresURI string `env:"POSTGRES_URI,default=postgres://localhost:5432/filebounty?sslmode=disable"`
	RedisURI    string `env:"REDIS_URI,default=redis://localhost:6379/0"`
	MongoURI    string `env:"MONGODB_URI,default=mongodb://localhost:27017/filebounty"`

	JWTSecret      string        `env:"JWT_SECRET,default=change-me-user-secret"`
	AdminJWTSecret string        `env:"ADMIN_JWT_SECRET,default=change-me-admin-secret"`
	JWTExpiry      time.Duration `env:"JWT_EXPIRY,default=24h"`

	// Comma separated list; FRONTEND_URL is used when empty.
	AllowedOriginsRaw string `env:"ALLOWED_ORIGINS"`
	FrontendURL       string `env:"FRONTEND_URL,default=http://localhost:3000"`
	AllowedOrigins    []string

	CloudinaryName      string `env:"CLOUDINARY_CLOUD_NAME"`
	CloudinaryAPIKey    string `env:"CLOUDINARY_API_KEY"`
	CloudinaryAPISecret string `env:"CLOUDINARY_API_SECRET"`

	// Storage selects where merged uploads live: "local" or "s3".
	Storage          string        `env:"STORAGE,default=local"`
	S3Bucket         string        `env:"S3_BUCKET"`
	S3Region         string        `env:"S3_REGION,default=us-east-1"`
	S3BaseEndpoint   string        `env:"S3_BASE_ENDPOINT"`
	S3AccessKey      string        `env:"S3_ACCESS_KEY"`
	S3SecretKey      string        `env:"S3_SECRET_KEY"`
	S3PresignExpires time.Duration `env:"S3_PRESIGN_EXPIRES,default=15m"`

	UploadBaseDir    string `env:"UPLOAD_BASE_DIR,default=./uploads/files"`
	UploadURLPrefix  string `env:"UPLOAD_URL_PREFIX,default=/uploads"`
	ChunkDir         string `env:"UPLOAD_CHUNK_DIR,default=./uploads/chunks"`
	TusDir           string `env:"UPLOAD_TUS_DIR,default=./uploads/tus-temp"`
	UploadPolicyFile string `env:"UPLOAD_POLICY_FILE"`
}

// Load decodes the process environment into a Config. Call godotenv.Load
// beforehand to pick up a local .env file.
func Load() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode env: %w", err)
	}

	cfg.Environment = strings.ToLower(strings.TrimSpace(cfg.Environment))
	cfg.Storage = strings.ToLower(strings.TrimSpace(cfg.Storage))
	cfg.AllowedOrigins = parseOrigins(cfg.AllowedOriginsRaw)
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = parseOrigins(cfg.FrontendURL)
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"http://localhost:3000"}
	}

	if cfg.IsProduction() {
		if strings.HasPrefix(cfg.JWTSecret, "change-me") || strings.HasPrefix(cfg.AdminJWTSecret, "change-me") {
			return nil, errors.New("JWT_SECRET and ADMIN_JWT_SECRET must be set in production")
		}
	}
	if cfg.Storage == "s3" && cfg.S3Bucket == "" {
		return nil, errors.New("S3_BUCKET is required when STORAGE=s3")
	}
	return &cfg, nil
}

func parseOrigins(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" && !containsOrigin(out, part) {
			out = append(out, part)
		}
	}
	return out
}

func containsOrigin(list []string, o string) bool {
	o = strings.TrimSpace(strings.ToLower(o))
	for _, v := range list {
		if strings.TrimSpace(strings.ToLower(v)) == o {
			return true
		}
	}
	return false
}

// IsProduction returns true when ENV is set to "production".
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// CloudinaryEnabled reports whether all Cloudinary credentials are present.
func (c *Config) CloudinaryEnabled() bool {
	return c.CloudinaryName != "" && c.CloudinaryAPIKey != "" && c.CloudinaryAPISecret != ""
}
