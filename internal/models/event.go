package models

import "time"

// Event is a ticketed event in the catalog.
type Event struct {
	ID         int       `json:"id" db:"id"`
	Name       string    `json:"name" db:"name"`
	Venue      string    `json:"venue" db:"venue"`
	StartsAt   time.Time `json:"starts_at" db:"starts_at"`
	PriceCents int64     `json:"price_cents" db:"price_cents"`
	Capacity   int       `json:"capacity" db:"capacity"`
	Published  bool      `json:"published" db:"published"`
	BannerURL  string    `json:"banner_url,omitempty" db:"banner_url"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Product is a branded merchandise item.
type Product struct {
	ID          int       `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	PriceCents  int64     `json:"price_cents" db:"price_cents"`
	Stock       int       `json:"stock" db:"stock"`
	Active      bool      `json:"active" db:"active"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
