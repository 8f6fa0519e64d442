package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	DriverMongo  = "mongo"
	DriverMemory = "memory"
)

type Config struct {
	Env  string
	Port string

	// --- Database ---
	StoreDriver       string
	MongoURI          string
	DBName            string
	MongoTransactions bool
	MongoClient       *mongo.Client

	// --- Auth ---
	JWTSecret     string
	TokenTTL      time.Duration
	AdminUsername string
	AdminPassword string

	// --- Payments ---
	StripeSecretKey     string
	StripeWebhookSecret string
	StripeCurrency      string
	FrontendURL         string

	// --- Files ---
	UploadDir           string
	PublicBaseURL       string
	CloudinaryCloudName string
	CloudinaryAPIKey    string
	CloudinaryAPISecret string

	// --- Email ---
	ZeptoAPIURL  string
	ZeptoAPIKey  string
	EmailFrom    string
	SMTPHost     string
	SMTPUsername string
	SMTPPassword string

	// --- HTTP / logging ---
	CORSOrigins []string
	LogLevel    string
	LogFile     string
}

// LoadConfig reads .env (if present) and the process environment.
func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Warn("No .env file found, relying on system environment variables")
	}

	return &Config{
		Env:  getEnv("ENV", "development"),
		Port: getEnv("PORT", "5000"),

		StoreDriver:       strings.ToLower(getEnv("STORE_DRIVER", DriverMongo)),
		MongoURI:          getEnv("MONGO_URI", ""),
		DBName:            getEnv("DB_NAME", "schoolfund"),
		MongoTransactions: getEnvBool("MONGO_TRANSACTIONS", false),

		JWTSecret:     getEnv("JWT_SECRET", ""),
		TokenTTL:      getEnvDuration("TOKEN_TTL", 24*time.Hour),
		AdminUsername: getEnv("ADMIN_USERNAME", ""),
		AdminPassword: getEnv("ADMIN_PASSWORD", ""),

		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripeCurrency:      strings.ToLower(getEnv("STRIPE_CURRENCY", "usd")),
		FrontendURL:         strings.TrimRight(getEnv("FRONTEND_URL", "http://localhost:5173"), "/"),

		UploadDir:           getEnv("UPLOAD_DIR", "./uploads"),
		PublicBaseURL:       strings.TrimRight(getEnv("PUBLIC_BASE_URL", ""), "/"),
		CloudinaryCloudName: getEnv("CLOUDINARY_CLOUD_NAME", ""),
		CloudinaryAPIKey:    getEnv("CLOUDINARY_API_KEY", ""),
		CloudinaryAPISecret: getEnv("CLOUDINARY_API_SECRET", ""),

		ZeptoAPIURL:  getEnv("ZEPTO_API_URL", ""),
		ZeptoAPIKey:  getEnv("ZEPTO_API_KEY", ""),
		EmailFrom:    getEnv("EMAIL_FROM", "noreply@schoolfund.org"),
		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),

		CORSOrigins: splitList(getEnv("CORS_ORIGINS", "http://localhost:5173")),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFile:     getEnv("LOG_FILE", ""),
	}
}

// Validate rejects configurations that cannot serve traffic safely.
func (c *Config) Validate() error {
	var errs []error
	if c.StoreDriver != DriverMongo && c.StoreDriver != DriverMemory {
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}
	if c.StoreDriver == DriverMongo && c.MongoURI == "" {
		errs = append(errs, errors.New("MONGO_URI is required for the mongo store"))
	}
	if c.JWTSecret == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("JWT_SECRET is required in production"))
		} else {
			slog.Warn("JWT_SECRET not set, using an insecure development secret")
			c.JWTSecret = "schoolfund-dev-secret"
		}
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("TOKEN_TTL must be positive"))
	}
	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func (c *Config) CloudinaryEnabled() bool {
	return c.CloudinaryCloudName != "" && c.CloudinaryAPIKey != "" && c.CloudinaryAPISecret != ""
}

// ConnectMongo dials MongoDB and stores the client on the config.
func (c *Config) ConnectMongo(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(c.MongoURI))
	if err != nil {
		return fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return fmt.Errorf("ping mongo: %w", err)
	}

	c.MongoClient = client
	return nil
}

// Helper to get env with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(getEnv(key, strconv.FormatBool(fallback)))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		slog.Warn("Invalid duration in environment, using default", slog.String("key", key), slog.Any("err", err))
		return fallback
	}
	return d
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
