package database

import (
	"database/sql"
	"fmt"
	"time"

	"cart-svc/config"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS products (
	id SERIAL PRIMARY KEY,
	name VARCHAR(255) NOT NULL,
	price DECIMAL(10, 2) NOT NULL,
	stock INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS profiles (
	id SERIAL PRIMARY KEY,
	user_id INTEGER UNIQUE NOT NULL,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS profile_ebooks (
	profile_id INTEGER NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
	product_id INTEGER NOT NULL REFERENCES products(id),
	added_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (profile_id, product_id)
);

CREATE TABLE IF NOT EXISTS orders (
	id SERIAL PRIMARY KEY,
	ref_code VARCHAR(32) UNIQUE NOT NULL,
	owner_id INTEGER NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
	is_ordered BOOLEAN NOT NULL DEFAULT FALSE,
	date_ordered TIMESTAMP,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS orders_one_pending_per_owner
	ON orders (owner_id) WHERE is_ordered = FALSE;

CREATE TABLE IF NOT EXISTS order_items (
	id SERIAL PRIMARY KEY,
	order_id INTEGER NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
	product_id INTEGER NOT NULL REFERENCES products(id),
	is_ordered BOOLEAN NOT NULL DEFAULT FALSE,
	date_ordered TIMESTAMP,
	date_added TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (order_id, product_id)
);

CREATE TABLE IF NOT EXISTS payment_receipts (
	token VARCHAR(255) PRIMARY KEY,
	profile_id INTEGER NOT NULL REFERENCES profiles(id),
	order_id INTEGER NOT NULL REFERENCES orders(id),
	provider VARCHAR(32) NOT NULL,
	amount DECIMAL(10, 2) NOT NULL,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	consumed_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS transactions (
	id SERIAL PRIMARY KEY,
	profile_id INTEGER NOT NULL REFERENCES profiles(id),
	token VARCHAR(255) NOT NULL,
	order_id INTEGER UNIQUE NOT NULL REFERENCES orders(id),
	amount DECIMAL(10, 2) NOT NULL,
	success BOOLEAN NOT NULL DEFAULT FALSE,
	timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS cart_outbox (
	id BIGSERIAL PRIMARY KEY,
	event_type VARCHAR(64) NOT NULL,
	payload JSONB NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	published_at TIMESTAMP
);
`

func InitDB(cfg config.DBConfig, logger *zap.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	logger.Info("Database connection established", zap.String("database", cfg.Name))
	return db, nil
}

// Migrate creates the cart tables when they do not exist yet.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}
