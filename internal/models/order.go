package models

import (
	"time"
)

// OrderStatus is the four-valued local payment status of an order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusExpired   OrderStatus = "expired"
)

// Terminal reports whether no further automatic transition is permitted.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusPaid, OrderStatusCancelled, OrderStatusExpired:
		return true
	}
	return false
}

// Valid reports whether s is one of the four known statuses.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusCancelled, OrderStatusExpired:
		return true
	}
	return false
}

// Order represents a storefront order. Amounts are always integer
// centavos; there is no major-unit representation anywhere in the system.
type Order struct {
	ID               string      `json:"id" db:"id"`
	CustomerEmail    string      `json:"customer_email" db:"customer_email"`
	PaymentReference string      `json:"payment_reference,omitempty" db:"payment_reference"`
	Status           OrderStatus `json:"status" db:"status"`
	AmountCents      int64       `json:"amount_cents" db:"amount_cents"`
	CreatedAt        time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at" db:"updated_at"`
	Items            []OrderItem `json:"items,omitempty"`
}

// Item kinds sold by the storefront.
const (
	ItemKindTicket = "ticket"
	ItemKindMerch  = "merch"
)

// OrderItem is a single line of an order. Ticket items carry one
// pre-generated ticket code per unit; the codes are only redeemable
// once the order is paid.
type OrderItem struct {
	ID             int      `json:"id" db:"id"`
	OrderID        string   `json:"order_id" db:"order_id"`
	Kind           string   `json:"kind" db:"kind"`
	EventID        int      `json:"event_id,omitempty" db:"event_id"`
	ProductID      int      `json:"product_id,omitempty" db:"product_id"`
	Quantity       int      `json:"quantity" db:"quantity"`
	UnitPriceCents int64    `json:"unit_price_cents" db:"unit_price_cents"`
	TicketCodes    []string `json:"ticket_codes,omitempty" db:"ticket_codes"`
}
