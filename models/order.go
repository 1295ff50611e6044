package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Order struct {
	ID          int         `json:"id"`
	OwnerID     int         `json:"owner_id"`
	RefCode     string      `json:"ref_code"`
	IsOrdered   bool        `json:"is_ordered"`
	DateOrdered *time.Time  `json:"date_ordered,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	Items       []OrderItem `json:"items"`
}

// CartTotal sums the prices of the items currently attached to the order.
func (o *Order) CartTotal() decimal.Decimal {
	return SumItems(o.Items)
}

type OrderItem struct {
	ID          int        `json:"id"`
	OrderID     int        `json:"order_id"`
	Product     Product    `json:"product"`
	IsOrdered   bool       `json:"is_ordered"`
	DateOrdered *time.Time `json:"date_ordered,omitempty"`
	DateAdded   time.Time  `json:"date_added"`
}

// SumItems is the single definition of a cart total, shared by the charge amount and the
// transaction log.
func SumItems(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Product.Price)
	}
	return total
}

// MinorUnits converts a decimal amount to cents.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

type OrderView struct {
	Order    *Order   `json:"order"`
	Total    string   `json:"total,omitempty"`
	Messages []string `json:"messages"`
}

type OrderFinalizedEvent struct {
	OrderID   int       `json:"order_id"`
	RefCode   string    `json:"ref_code"`
	ProfileID int       `json:"profile_id"`
	UserID    int       `json:"user_id"`
	Token     string    `json:"token"`
	Amount    string    `json:"amount"`
	Products  []int     `json:"products"`
	EventType string    `json:"event_type"`
	OrderedAt time.Time `json:"ordered_at"`
}

const EventOrderFinalized = "order_finalized"
