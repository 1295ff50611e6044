package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	ServiceName     string
	HTTPAddr        string
	ShutdownTimeout time.Duration

	DB    DBConfig
	Redis RedisConfig
	Kafka KafkaConfig

	JaegerEndpoint string
	JWTSecret      string

	Stripe    StripeConfig
	Braintree BraintreeConfig

	GatewayTimeout  time.Duration
	CheckoutLockTTL time.Duration
	OutboxInterval  time.Duration
	OutboxBatch     int
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

// DSN renders the lib/pq connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.User, c.Password, c.Name)
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

type KafkaConfig struct {
	Broker string
	Topic  string
}

type StripeConfig struct {
	SecretKey      string
	PublishableKey string
}

type BraintreeConfig struct {
	Environment       string
	PublicKey         string
	PrivateKey        string
	MerchantAccountID string
}

var (
	ErrMissingJWTSecret = errors.New("JWT_SECRET is required")
	ErrMissingStripeKey = errors.New("STRIPE_SECRET_KEY is required")
)

func Load() Config {
	return Config{
		ServiceName:     getEnv("SERVICE_NAME", "cart-service"),
		HTTPAddr:        getEnv("HTTP_ADDR", ":8085"),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			Name:     getEnv("DB_NAME", "cartdb"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
		},
		Kafka: KafkaConfig{
			Broker: getEnv("KAFKA_BROKER", "localhost:9092"),
			Topic:  getEnv("KAFKA_TOPIC", "cart_events"),
		},
		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
		JWTSecret:      getEnv("JWT_SECRET", ""),
		Stripe: StripeConfig{
			SecretKey:      getEnv("STRIPE_SECRET_KEY", ""),
			PublishableKey: getEnv("STRIPE_PUBLISHABLE_KEY", ""),
		},
		Braintree: BraintreeConfig{
			Environment:       getEnv("BRAINTREE_ENVIRONMENT", "sandbox"),
			PublicKey:         getEnv("BRAINTREE_PUBLIC_KEY", ""),
			PrivateKey:        getEnv("BRAINTREE_PRIVATE_KEY", ""),
			MerchantAccountID: getEnv("BRAINTREE_MERCHANT_ACCOUNT_ID", ""),
		},
		GatewayTimeout:  getDuration("GATEWAY_TIMEOUT", 15*time.Second),
		CheckoutLockTTL: getDuration("CHECKOUT_LOCK_TTL", 10*time.Minute),
		OutboxInterval:  getDuration("OUTBOX_INTERVAL", 2*time.Second),
		OutboxBatch:     getInt("OUTBOX_BATCH", 32),
	}
}

// Validate reports the secrets the service cannot start without.
func (c Config) Validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, ErrMissingJWTSecret)
	}
	if c.Stripe.SecretKey == "" {
		errs = append(errs, ErrMissingStripeKey)
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if raw := os.Getenv(key); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			return d
		}
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if raw := os.Getenv(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			return v
		}
	}
	return defaultValue
}
