package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Profile struct {
	ID        int       `json:"id"`
	UserID    int       `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Product struct {
	ID    int             `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

type ProfileView struct {
	Profile  *Profile  `json:"profile"`
	Ebooks   []Product `json:"ebooks"`
	Messages []string  `json:"messages"`
}
