package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	App      AppConfig
	Import   ImportConfig
	Matching MatchingConfig
	Variance VarianceConfig
	Mapping  MappingConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
}

type DatabaseConfig struct {
	Host     string `validate:"required_if=Driver postgres"`
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	Driver   string `validate:"oneof=memory postgres"`
}

type ServerConfig struct {
	Port string `validate:"required,numeric"`
}

type AppConfig struct {
	LogLevel  string `validate:"oneof=trace debug info warn warning error fatal panic"`
	BatchSize int    `validate:"gte=1"`
}

type ImportConfig struct {
	MaxFileBytes     int64 `validate:"gte=1"`
	MaxRows          int   `validate:"gte=1"`
	Workers          int   `validate:"gte=1"`
	CurrencyExponent int32 `validate:"gte=0,lte=4"`
}

type MatchingConfig struct {
	DateToleranceDays  int   `validate:"gte=0"`
	RoundingUnit       int64 `validate:"gte=1"`
	RoundingMultiplier int64 `validate:"gte=0"`
	ManualWindowDays   int   `validate:"gte=0"`
}

type VarianceConfig struct {
	LowPercent    float64 `validate:"gte=0"`
	MediumPercent float64 `validate:"gtefield=LowPercent"`
}

type MappingConfig struct {
	SuggestionMinScore float64 `validate:"gte=0,lte=1"`
	SuggestionLimit    int     `validate:"gte=0"`
}

type RedisConfig struct {
	Enabled  bool
	Address  string `validate:"required_if=Enabled true"`
	LockTTL  time.Duration
	CacheTTL time.Duration
}

type KafkaConfig struct {
	Brokers    []string
	AuditTopic string `validate:"required"`
}

func Load() (*Config, error) {
	// A missing .env file is fine; the environment wins.
	_ = godotenv.Load()

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "recon_db"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			Driver:   getEnv("STORAGE_DRIVER", "postgres"),
		},
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
		},
		App: AppConfig{
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			BatchSize: getEnvInt("BATCH_SIZE", 500),
		},
		Import: ImportConfig{
			MaxFileBytes:     int64(getEnvInt("IMPORT_MAX_FILE_BYTES", 20<<20)),
			MaxRows:          getEnvInt("IMPORT_MAX_ROWS", 100000),
			Workers:          getEnvInt("IMPORT_WORKERS", 4),
			CurrencyExponent: int32(getEnvInt("CURRENCY_EXPONENT", 2)),
		},
		Matching: MatchingConfig{
			DateToleranceDays:  getEnvInt("MATCH_DATE_TOLERANCE_DAYS", 3),
			RoundingUnit:       int64(getEnvInt("MATCH_ROUNDING_UNIT", 1)),
			RoundingMultiplier: int64(getEnvInt("MATCH_ROUNDING_MULTIPLIER", 5)),
			ManualWindowDays:   getEnvInt("MATCH_MANUAL_WINDOW_DAYS", 31),
		},
		Variance: VarianceConfig{
			LowPercent:    getEnvFloat("VARIANCE_LOW_PERCENT", 0.5),
			MediumPercent: getEnvFloat("VARIANCE_MEDIUM_PERCENT", 2),
		},
		Mapping: MappingConfig{
			SuggestionMinScore: getEnvFloat("MAPPING_SUGGESTION_MIN_SCORE", 0.6),
			SuggestionLimit:    getEnvInt("MAPPING_SUGGESTION_LIMIT", 3),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			Address:  getEnv("REDIS_ADDRESS", "localhost:6379"),
			LockTTL:  getEnvDuration("REDIS_LOCK_TTL", 30*time.Second),
			CacheTTL: getEnvDuration("REDIS_CACHE_TTL", 10*time.Minute),
		},
		Kafka: KafkaConfig{
			Brokers:    splitList(getEnv("KAFKA_BROKERS", "")),
			AuditTopic: getEnv("KAFKA_AUDIT_TOPIC", "recon.audit"),
		},
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the struct tags and reports every failing field
func Validate(cfg *Config) error {
	err := validator.New().Struct(cfg)
	if err == nil {
		return nil
	}
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	fields := make([]string, 0, len(validationErrors))
	for _, ve := range validationErrors {
		fields = append(fields, fmt.Sprintf("%s(%s)", ve.Namespace(), ve.Tag()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(fields, ", "))
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// RoundingTolerance is the largest amount difference the manual tier accepts, in minor units
func (c MatchingConfig) RoundingTolerance() int64 {
	return c.RoundingUnit * c.RoundingMultiplier
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return v
}

func getEnvFloat(key string, defaultValue float64) float64 {
	v, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil {
		return defaultValue
	}
	return v
}

func getEnvBool(key string, defaultValue bool) bool {
	v, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return v
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	v, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return v
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
