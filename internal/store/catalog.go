package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bilheteria/backend/internal/models"
)

// Catalog is the repository for events and merch products.
type Catalog struct {
	db *sql.DB
}

func NewCatalog(db *sql.DB) *Catalog {
	return &Catalog{db: db}
}

func (s *Catalog) CreateEvent(ctx context.Context, ev *models.Event) error {
	return s.db.QueryRowContext(ctx,
		`INSERT INTO events (name, venue, starts_at, price_cents, capacity, published, banner_url)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id, created_at`,
		ev.Name, ev.Venue, ev.StartsAt, ev.PriceCents, ev.Capacity, ev.Published, ev.BannerURL).
		Scan(&ev.ID, &ev.CreatedAt)
}

func (s *Catalog) UpdateEvent(ctx context.Context, ev models.Event) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE events SET name = $1, venue = $2, starts_at = $3, price_cents = $4,
		        capacity = $5, published = $6, banner_url = $7
		 WHERE id = $8`,
		ev.Name, ev.Venue, ev.StartsAt, ev.PriceCents, ev.Capacity, ev.Published, ev.BannerURL, ev.ID)
	if err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Catalog) GetEvent(ctx context.Context, id int) (models.Event, error) {
	var ev models.Event
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, venue, starts_at, price_cents, capacity, published, COALESCE(banner_url, ''), created_at
		 FROM events WHERE id = $1`, id).
		Scan(&ev.ID, &ev.Name, &ev.Venue, &ev.StartsAt, &ev.PriceCents, &ev.Capacity,
			&ev.Published, &ev.BannerURL, &ev.CreatedAt)
	if err == sql.ErrNoRows {
		return models.Event{}, ErrNotFound
	}
	if err != nil {
		return models.Event{}, fmt.Errorf("get event: %w", err)
	}
	return ev, nil
}

// ListEvents returns the catalog; publishedOnly restricts to what the
// storefront may show.
func (s *Catalog) ListEvents(ctx context.Context, publishedOnly bool) ([]models.Event, error) {
	query := `SELECT id, name, venue, starts_at, price_cents, capacity, published, COALESCE(banner_url, ''), created_at
		 FROM events`
	if publishedOnly {
		query += ` WHERE published`
	}
	query += ` ORDER BY starts_at ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	events := []models.Event{}
	for rows.Next() {
		var ev models.Event
		if err := rows.Scan(&ev.ID, &ev.Name, &ev.Venue, &ev.StartsAt, &ev.PriceCents,
			&ev.Capacity, &ev.Published, &ev.BannerURL, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *Catalog) CreateProduct(ctx context.Context, p *models.Product) error {
	return s.db.QueryRowContext(ctx,
		`INSERT INTO products (name, description, price_cents, stock, active)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`,
		p.Name, p.Description, p.PriceCents, p.Stock, p.Active).
		Scan(&p.ID, &p.CreatedAt)
}

func (s *Catalog) UpdateProduct(ctx context.Context, p models.Product) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE products SET name = $1, description = $2, price_cents = $3, stock = $4, active = $5
		 WHERE id = $6`,
		p.Name, p.Description, p.PriceCents, p.Stock, p.Active, p.ID)
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Catalog) GetProduct(ctx context.Context, id int) (models.Product, error) {
	var p models.Product
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, price_cents, stock, active, created_at
		 FROM products WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Description, &p.PriceCents, &p.Stock, &p.Active, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return models.Product{}, ErrNotFound
	}
	if err != nil {
		return models.Product{}, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

func (s *Catalog) ListProducts(ctx context.Context, activeOnly bool) ([]models.Product, error) {
	query := `SELECT id, name, description, price_cents, stock, active, created_at FROM products`
	if activeOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY name ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := []models.Product{}
	for rows.Next() {
		var p models.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.PriceCents, &p.Stock,
			&p.Active, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}
