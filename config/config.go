package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ssm"
	"github.com/joho/godotenv"
)

type Config struct {
	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string

	// JWT
	JWTSecret    string
	JWTExpiresIn time.Duration

	// AWS S3
	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	S3BucketName       string

	// Server
	Port   string
	AppEnv string

	// Logging
	LogLevel string
	LogFile  string

	Channel ChannelConfig
	Sync    SyncConfig

	// LINE
	LineChannelSecret string
	LineChannelToken  string

	// RabbitMQ (empty disables event publishing)
	RabbitMQURL      string
	RabbitMQExchange string

	// Feature Toggles
	UseRedisNotifications bool
	SkipMigrate           bool
	SeedData              bool
}

// ChannelConfig holds credentials and transport limits for the booking channel API.
type ChannelConfig struct {
	BaseURL        string
	AccessKey      string
	SecretKey      string
	VendorID       string
	PageSize       int
	Timeout        time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	RateLimitRPS   float64
	RateLimitBurst int
	WebhookSecret  string
}

// SyncConfig drives the sync orchestrator and the grouping engine.
type SyncConfig struct {
	TenantID               string
	Timezone               string
	Cron                   string
	DaysAhead              int
	FullSyncDaysBack       int
	FullSyncDaysAhead      int
	AutoGroup              bool
	DefaultMaxPax          int
	LockTTL                time.Duration
	ItemTimeout            time.Duration
	HistoryRetentionDays   int
	HistoryCron            string
	GuideReminderCron      string
	ManifestPresignExpires time.Duration
}

func (c *Config) GetDSN() string {
	return c.DBUser + ":" + c.DBPassword + "@tcp(" + c.DBHost + ":" + c.DBPort + ")/" + c.DBName + "?charset=utf8mb4&parseTime=True&loc=Local"
}

// Location resolves the configured tour timezone, falling back to UTC.
func (c SyncConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		log.Printf("Warning: unknown TOUR_TIMEZONE %q, using UTC", c.Timezone)
		return time.UTC
	}
	return loc
}

var AppConfig *Config

func LoadConfig() {
	useSSM := getEnv("USE_SSM", "false") == "true"

	var paramMap map[string]string

	// Stage & base path for SSM (allows multi-env without code changes)
	basePath := getEnv("SSM_BASE_PATH", "/tourdesk")
	stage := getEnv("STAGE", getEnv("APP_ENV", "production"))
	basePath = strings.TrimRight(basePath, "/")
	prefix := basePath + "/" + stage

	if useSSM {
		sess, err := session.NewSession(&aws.Config{Region: aws.String(getEnv("AWS_REGION", "eu-west-1"))})
		if err != nil {
			log.Fatal("Failed to create AWS session:", err)
		}
		log.Printf("Using AWS SSM Parameter Store (prefix=%s)", prefix)
		paramMap = fetchSSMParameters(ssm.New(sess), prefix)
	} else {
		if err := godotenv.Load(); err != nil {
			log.Println("Warning: .env file not found, using environment variables")
		}
	}

	getVal := func(key, def string) string {
		if useSSM {
			if v, ok := paramMap[strings.ToUpper(key)]; ok && v != "" {
				return v
			}
		}
		return getEnv(strings.ToUpper(key), def)
	}

	jwtExpires, err := parseDurationShorthand(getVal("JWT_EXPIRES_IN", "24h"))
	if err != nil {
		log.Fatal("Invalid JWT_EXPIRES_IN format:", err)
	}

	AppConfig = &Config{
		DBHost:     getVal("DB_HOST", "localhost"),
		DBPort:     getVal("DB_PORT", "3306"),
		DBUser:     getVal("DB_USER", "root"),
		DBPassword: getVal("DB_PASSWORD", ""),
		DBName:     getVal("DB_NAME", "tourdesk"),

		RedisHost:     getVal("REDIS_HOST", "localhost"),
		RedisPort:     getVal("REDIS_PORT", "6379"),
		RedisPassword: getVal("REDIS_PASSWORD", ""),

		JWTSecret:    getVal("JWT_SECRET", "your_super_secret_jwt_key"),
		JWTExpiresIn: jwtExpires,

		AWSRegion:          getVal("AWS_REGION", "eu-west-1"),
		AWSAccessKeyID:     getVal("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey: getVal("AWS_SECRET_ACCESS_KEY", ""),
		S3BucketName:       getVal("S3_BUCKET_NAME", "tourdesk-storage"),

		Port:   getVal("PORT", "3000"),
		AppEnv: getVal("APP_ENV", "development"),

		LogLevel: getVal("LOG_LEVEL", "info"),
		LogFile:  getVal("LOG_FILE", "logs/app.log"),

		Channel: ChannelConfig{
			BaseURL:        getVal("CHANNEL_BASE_URL", "https://api.bokun.io"),
			AccessKey:      getVal("CHANNEL_ACCESS_KEY", ""),
			SecretKey:      getVal("CHANNEL_SECRET_KEY", ""),
			VendorID:       getVal("CHANNEL_VENDOR_ID", ""),
			PageSize:       getInt(getVal("CHANNEL_PAGE_SIZE", "50"), 50),
			Timeout:        getDuration(getVal("CHANNEL_TIMEOUT", "30s"), 30*time.Second),
			MaxRetries:     getInt(getVal("CHANNEL_MAX_RETRIES", "3"), 3),
			RetryBaseDelay: getDuration(getVal("CHANNEL_RETRY_DELAY", "1s"), time.Second),
			RateLimitRPS:   getFloat(getVal("CHANNEL_RATE_LIMIT_RPS", "5"), 5),
			RateLimitBurst: getInt(getVal("CHANNEL_RATE_LIMIT_BURST", "5"), 5),
			WebhookSecret:  getVal("CHANNEL_WEBHOOK_SECRET", ""),
		},

		Sync: SyncConfig{
			TenantID:               getVal("TENANT_ID", "default"),
			Timezone:               getVal("TOUR_TIMEZONE", "Europe/Madrid"),
			Cron:                   getVal("SYNC_CRON", "@every 30m"),
			DaysAhead:              getInt(getVal("SYNC_DAYS_AHEAD", "14"), 14),
			FullSyncDaysBack:       getInt(getVal("FULL_SYNC_DAYS_BACK", "30"), 30),
			FullSyncDaysAhead:      getInt(getVal("FULL_SYNC_DAYS_AHEAD", "180"), 180),
			AutoGroup:              strings.ToLower(getVal("SYNC_AUTO_GROUP", "true")) == "true",
			DefaultMaxPax:          getInt(getVal("DEFAULT_MAX_PAX", "9"), 9),
			LockTTL:                getDuration(getVal("SYNC_LOCK_TTL", "15m"), 15*time.Minute),
			ItemTimeout:            getDuration(getVal("SYNC_ITEM_TIMEOUT", "10s"), 10*time.Second),
			HistoryRetentionDays:   getInt(getVal("SYNC_HISTORY_RETENTION_DAYS", "60"), 60),
			HistoryCron:            getVal("SYNC_HISTORY_CRON", "30 3 * * *"),
			GuideReminderCron:      getVal("GUIDE_REMINDER_CRON", "0 18 * * *"),
			ManifestPresignExpires: getDuration(getVal("MANIFEST_PRESIGN_EXPIRES", "1h"), time.Hour),
		},

		LineChannelSecret: getVal("LINE_CHANNEL_SECRET", ""),
		LineChannelToken:  getVal("LINE_CHANNEL_ACCESS_TOKEN", ""),

		RabbitMQURL:      getVal("RABBITMQ_URL", ""),
		RabbitMQExchange: getVal("RABBITMQ_EXCHANGE", "tourdesk.events"),

		UseRedisNotifications: strings.ToLower(getVal("USE_REDIS_NOTIFICATIONS", "false")) == "true",
		SkipMigrate:           strings.ToLower(getVal("SKIP_MIGRATE", "false")) == "true",
		SeedData:              strings.ToLower(getVal("SEED_DATA", "false")) == "true",
	}

	validateConfig(AppConfig, useSSM)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(raw string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		log.Printf("Warning: invalid integer %q, using %d", raw, def)
		return def
	}
	return n
}

func getFloat(raw string, def float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		log.Printf("Warning: invalid number %q, using %v", raw, def)
		return def
	}
	return f
}

func getDuration(raw string, def time.Duration) time.Duration {
	d, err := parseDurationShorthand(raw)
	if err != nil {
		log.Printf("Warning: invalid duration %q, using %s", raw, def)
		return def
	}
	return d
}

// parseDurationShorthand accepts time.ParseDuration syntax plus "7d" and "2w".
func parseDurationShorthand(raw string) (time.Duration, error) {
	d, err := time.ParseDuration(raw)
	if err == nil {
		return d, nil
	}
	s := strings.TrimSpace(strings.ToLower(raw))
	if len(s) > 1 {
		unit := s[len(s)-1]
		if n, err2 := strconv.Atoi(s[:len(s)-1]); err2 == nil {
			switch unit {
			case 'd':
				return time.Duration(n) * 24 * time.Hour, nil
			case 'w':
				return time.Duration(n*7) * 24 * time.Hour, nil
			}
		}
	}
	return 0, err
}

// fetchSSMParameters reads all parameters under prefix and returns map with UPPERCASE keys.
func fetchSSMParameters(client *ssm.SSM, prefix string) map[string]string {
	out := make(map[string]string)
	next := aws.String("")
	for {
		in := &ssm.GetParametersByPathInput{
			Path:           aws.String(prefix),
			WithDecryption: aws.Bool(true),
			Recursive:      aws.Bool(true),
		}
		if *next != "" {
			in.NextToken = next
		}
		resp, err := client.GetParametersByPath(in)
		if err != nil {
			log.Printf("Warning: unable to fetch SSM parameters for prefix %s: %v", prefix, err)
			break
		}
		for _, p := range resp.Parameters {
			if p.Name == nil || p.Value == nil {
				continue
			}
			name := *p.Name
			key := name
			if idx := strings.LastIndex(name, "/"); idx >= 0 {
				key = name[idx+1:]
			}
			if key == "" {
				continue
			}
			out[strings.ToUpper(key)] = *p.Value
		}
		if resp.NextToken == nil || *resp.NextToken == "" {
			break
		}
		next = resp.NextToken
	}
	return out
}

func validateConfig(c *Config, usedSSM bool) {
	if c.Sync.DefaultMaxPax <= 0 {
		log.Fatal("DEFAULT_MAX_PAX must be positive")
	}
	if c.Channel.PageSize <= 0 {
		log.Fatal("CHANNEL_PAGE_SIZE must be positive")
	}
	// Only enforce stricter rules in production
	if strings.ToLower(c.AppEnv) != "production" {
		return
	}
	required := map[string]string{
		"DB_PASSWORD":        c.DBPassword,
		"JWT_SECRET":         c.JWTSecret,
		"CHANNEL_ACCESS_KEY": c.Channel.AccessKey,
		"CHANNEL_SECRET_KEY": c.Channel.SecretKey,
		"CHANNEL_VENDOR_ID":  c.Channel.VendorID,
	}
	for k, v := range required {
		if strings.TrimSpace(v) == "" {
			log.Fatalf("Missing required secret %s in production (SSM=%v)", k, usedSSM)
		}
	}
	if len(c.JWTSecret) < 16 {
		log.Fatal("JWT_SECRET too short (min 16 chars)")
	}
}
