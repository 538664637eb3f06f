// Package config provides configuration loading and management for the
// vehicle history report service. It handles environment variable parsing
// and provides default values for all settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// init loads environment variables from .env files during package initialization.
// In development, it loads .env and .env.local files if they exist.
// In production, it relies solely on system environment variables.
// godotenv.Load() does not override already-set variables, preserving
// OS env > .env precedence.
func init() {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env file: %v\n", err)
		}
	}

	// .env.local holds local overrides and is gitignored
	if _, err := os.Stat(".env.local"); err == nil {
		if err := godotenv.Load(".env.local"); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env.local file: %v\n", err)
		}
	}
}

// Config captures environment-driven settings for the report service.
type Config struct {
	Env         string // Deployment environment (dev, staging, prod)
	Port        string // HTTP server port
	DatabaseDSN string // Database connection string (PostgreSQL)
	NATSURL     string // NATS server URL

	// Provider integration endpoints. Empty values mean the fixture
	// provider is used in dev and the source is recorded as unconfigured
	// otherwise.
	PPSRURL         string        // PPSR integration endpoint
	RegistryURL     string        // Vehicle registry integration endpoint
	ValuationURL    string        // Market valuation integration endpoint
	ProviderTimeout time.Duration // Per-provider lookup deadline

	// S3 settings for certificate artifacts
	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string

	// Admin JWT validation
	JWTIssuer   string // Expected issuer for admin JWTs
	JWTAudience string // Expected audience for admin JWTs

	// VIN strictness
	StrictVINChecksum bool // Reject VINs whose ISO 3779 check digit fails

	// Report dedup
	DedupEnabled bool // Reuse reports for the same identifier within a day bucket

	// Certificate limits
	MaxCertSize      int64    // Maximum certificate size in bytes (default 10MB)
	AllowedCertTypes []string // Allowed MIME types for certificate uploads

	// CORS configuration
	CORSAllowedOrigins []string // Allowed origins for CORS (empty means deny all)
}

// Default configuration values used when environment variables are not set
const (
	defaultPort            = "8080"
	defaultS3Region        = "ap-southeast-2"
	defaultEnv             = "dev"
	defaultProviderTimeout = 10 * time.Second
)

// Load reads environment variables and produces a Config suitable for wiring
// the service. Returns an error if required parameters are missing or invalid.
func Load() (Config, error) {
	cfg := Config{}

	if env, exists := os.LookupEnv("VHR_ENV"); exists {
		cfg.Env = env
	} else {
		cfg.Env = defaultEnv
	}

	if port, exists := os.LookupEnv("VHR_PORT"); exists {
		cfg.Port = port
	} else {
		cfg.Port = defaultPort
	}

	if dsn, exists := os.LookupEnv("VHR_DB_DSN"); exists {
		cfg.DatabaseDSN = dsn
	}

	if natsURL, exists := os.LookupEnv("VHR_NATS_URL"); exists {
		cfg.NATSURL = natsURL
	}

	cfg.PPSRURL = os.Getenv("VHR_PPSR_URL")
	cfg.RegistryURL = os.Getenv("VHR_REGISTRY_URL")
	cfg.ValuationURL = os.Getenv("VHR_VALUATION_URL")

	cfg.ProviderTimeout = defaultProviderTimeout
	if raw, exists := os.LookupEnv("VHR_PROVIDER_TIMEOUT"); exists {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			cfg.ProviderTimeout = d
		}
	}

	if s3Endpoint, exists := os.LookupEnv("VHR_S3_ENDPOINT"); exists {
		cfg.S3Endpoint = s3Endpoint
	}

	if s3Region, exists := os.LookupEnv("VHR_S3_REGION"); exists {
		cfg.S3Region = s3Region
	} else {
		cfg.S3Region = defaultS3Region
	}

	if s3Bucket, exists := os.LookupEnv("VHR_S3_BUCKET"); exists {
		cfg.S3Bucket = s3Bucket
	}

	if s3AccessKey, exists := os.LookupEnv("VHR_S3_ACCESS_KEY"); exists {
		cfg.S3AccessKey = s3AccessKey
	}

	if s3SecretKey, exists := os.LookupEnv("VHR_S3_SECRET_KEY"); exists {
		cfg.S3SecretKey = s3SecretKey
	}

	if jwtIssuer, exists := os.LookupEnv("VHR_JWT_ISSUER"); exists {
		cfg.JWTIssuer = jwtIssuer
	}

	if jwtAudience, exists := os.LookupEnv("VHR_JWT_AUDIENCE"); exists {
		cfg.JWTAudience = jwtAudience
	}

	if strict, exists := os.LookupEnv("VHR_STRICT_VIN_CHECKSUM"); exists {
		cfg.StrictVINChecksum = parseBool(strict)
	}

	if dedup, exists := os.LookupEnv("VHR_DEDUP_ENABLED"); exists {
		cfg.DedupEnabled = parseBool(dedup)
	}

	if maxCertSize, exists := os.LookupEnv("VHR_MAX_CERT_SIZE"); exists {
		if size, err := strconv.ParseInt(maxCertSize, 10, 64); err == nil {
			cfg.MaxCertSize = size
		}
	} else {
		// Default to 10MB
		cfg.MaxCertSize = 10 * 1024 * 1024
	}

	if allowedTypes, exists := os.LookupEnv("VHR_ALLOWED_CERT_TYPES"); exists {
		cfg.AllowedCertTypes = strings.Split(allowedTypes, ",")
		for i, mimeType := range cfg.AllowedCertTypes {
			cfg.AllowedCertTypes[i] = strings.TrimSpace(mimeType)
		}
	} else {
		cfg.AllowedCertTypes = []string{"application/pdf"}
	}

	if corsOrigins, exists := os.LookupEnv("VHR_CORS_ALLOWED_ORIGINS"); exists {
		cfg.CORSAllowedOrigins = strings.Split(corsOrigins, ",")
		for i, origin := range cfg.CORSAllowedOrigins {
			cfg.CORSAllowedOrigins[i] = strings.TrimSpace(origin)
		}
	}

	// Validate required parameters
	if cfg.JWTIssuer == "" {
		return cfg, fmt.Errorf("VHR_JWT_ISSUER is required")
	}

	if cfg.JWTAudience == "" {
		return cfg, fmt.Errorf("VHR_JWT_AUDIENCE is required")
	}

	return cfg, nil
}

// parseBool converts a string to a boolean value, returning false if parsing fails
func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
}
