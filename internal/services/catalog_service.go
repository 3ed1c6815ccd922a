package services

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/bilheteria/backend/internal/models"
	"github.com/bilheteria/backend/internal/store"
)

// CatalogService serves the public event/merch catalog and the admin
// CRUD surface over it.
type CatalogService struct {
	catalog   *store.Catalog
	validator *ValidationHelper
	log       *zap.Logger
}

func NewCatalogService(catalog *store.Catalog, log *zap.Logger) *CatalogService {
	return &CatalogService{
		catalog:   catalog,
		validator: NewValidationHelper(),
		log:       log,
	}
}

// EventRequest represents the event create/update payload
// @Description Event payload, prices in integer centavos
type EventRequest struct {
	Name       string    `json:"name" validate:"required,min=2,max=200"`
	Venue      string    `json:"venue" validate:"required,min=2,max=200"`
	StartsAt   time.Time `json:"starts_at" validate:"required"`
	PriceCents int64     `json:"price_cents" validate:"required,gt=0"`
	Capacity   int       `json:"capacity" validate:"required,gt=0"`
	Published  bool      `json:"published"`
	BannerURL  string    `json:"banner_url" validate:"omitempty,url"`
}

// ProductRequest represents the merch create/update payload
type ProductRequest struct {
	Name        string `json:"name" validate:"required,min=2,max=200"`
	Description string `json:"description" validate:"max=2000"`
	PriceCents  int64  `json:"price_cents" validate:"required,gt=0"`
	Stock       int    `json:"stock" validate:"gte=0"`
	Active      bool   `json:"active"`
}

// ListEvents returns published events
// @Summary List events
// @Tags catalog
// @Produce json
// @Success 200 {object} map[string]any
// @Router /events [get]
func (s *CatalogService) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.catalog.ListEvents(r.Context(), true)
	if err != nil {
		s.log.Error("event list failed", zap.Error(err))
		SendErrorResponse(w, "Failed to list events", http.StatusInternalServerError, nil)
		return
	}
	SendJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

// GetEvent returns one published event
// @Summary Get event
// @Tags catalog
// @Produce json
// @Param eventId path int true "Event ID"
// @Success 200 {object} models.Event
// @Failure 404 {object} ErrorResponse
// @Router /events/{eventId} [get]
func (s *CatalogService) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "eventId"))
	if err != nil {
		SendErrorResponse(w, "Invalid event id", http.StatusBadRequest, nil)
		return
	}

	ev, err := s.catalog.GetEvent(r.Context(), id)
	if err != nil || !ev.Published {
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			s.log.Error("event lookup failed", zap.Int("event_id", id), zap.Error(err))
			SendErrorResponse(w, "Failed to fetch event", http.StatusInternalServerError, nil)
			return
		}
		SendErrorResponse(w, "Event not found", http.StatusNotFound, nil)
		return
	}
	SendJSON(w, http.StatusOK, ev)
}

// ListProducts returns active merch products
// @Summary List products
// @Tags catalog
// @Produce json
// @Success 200 {object} map[string]any
// @Router /products [get]
func (s *CatalogService) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.catalog.ListProducts(r.Context(), true)
	if err != nil {
		s.log.Error("product list failed", zap.Error(err))
		SendErrorResponse(w, "Failed to list products", http.StatusInternalServerError, nil)
		return
	}
	SendJSON(w, http.StatusOK, map[string]any{"products": products, "count": len(products)})
}

// CreateEvent creates an event
// @Summary Create event
// @Tags admin
// @Accept json
// @Produce json
// @Param request body EventRequest true "Event payload"
// @Success 201 {object} models.Event
// @Failure 400 {object} ErrorResponse
// @Router /admin/events [post]
func (s *CatalogService) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if err := DecodeStrictJSON(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	ev := models.Event{
		Name:       req.Name,
		Venue:      req.Venue,
		StartsAt:   req.StartsAt,
		PriceCents: req.PriceCents,
		Capacity:   req.Capacity,
		Published:  req.Published,
		BannerURL:  req.BannerURL,
	}
	if err := s.catalog.CreateEvent(r.Context(), &ev); err != nil {
		s.log.Error("event creation failed", zap.Error(err))
		SendErrorResponse(w, "Failed to create event", http.StatusInternalServerError, nil)
		return
	}

	s.log.Info("event created", zap.Int("event_id", ev.ID), zap.String("name", ev.Name))
	SendJSON(w, http.StatusCreated, ev)
}

// UpdateEvent updates an event
// @Summary Update event
// @Tags admin
// @Accept json
// @Produce json
// @Param eventId path int true "Event ID"
// @Param request body EventRequest true "Event payload"
// @Success 200 {object} models.Event
// @Failure 404 {object} ErrorResponse
// @Router /admin/events/{eventId} [put]
func (s *CatalogService) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "eventId"))
	if err != nil {
		SendErrorResponse(w, "Invalid event id", http.StatusBadRequest, nil)
		return
	}

	var req EventRequest
	if err := DecodeStrictJSON(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	ev := models.Event{
		ID:         id,
		Name:       req.Name,
		Venue:      req.Venue,
		StartsAt:   req.StartsAt,
		PriceCents: req.PriceCents,
		Capacity:   req.Capacity,
		Published:  req.Published,
		BannerURL:  req.BannerURL,
	}
	if err := s.catalog.UpdateEvent(r.Context(), ev); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			SendErrorResponse(w, "Event not found", http.StatusNotFound, nil)
			return
		}
		s.log.Error("event update failed", zap.Int("event_id", id), zap.Error(err))
		SendErrorResponse(w, "Failed to update event", http.StatusInternalServerError, nil)
		return
	}
	SendJSON(w, http.StatusOK, ev)
}

// CreateProduct creates a merch product
// @Summary Create product
// @Tags admin
// @Accept json
// @Produce json
// @Param request body ProductRequest true "Product payload"
// @Success 201 {object} models.Product
// @Failure 400 {object} ErrorResponse
// @Router /admin/products [post]
func (s *CatalogService) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req ProductRequest
	if err := DecodeStrictJSON(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	p := models.Product{
		Name:        req.Name,
		Description: req.Description,
		PriceCents:  req.PriceCents,
		Stock:       req.Stock,
		Active:      req.Active,
	}
	if err := s.catalog.CreateProduct(r.Context(), &p); err != nil {
		s.log.Error("product creation failed", zap.Error(err))
		SendErrorResponse(w, "Failed to create product", http.StatusInternalServerError, nil)
		return
	}

	s.log.Info("product created", zap.Int("product_id", p.ID), zap.String("name", p.Name))
	SendJSON(w, http.StatusCreated, p)
}

// UpdateProduct updates a merch product
// @Summary Update product
// @Tags admin
// @Accept json
// @Produce json
// @Param productId path int true "Product ID"
// @Param request body ProductRequest true "Product payload"
// @Success 200 {object} models.Product
// @Failure 404 {object} ErrorResponse
// @Router /admin/products/{productId} [put]
func (s *CatalogService) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "productId"))
	if err != nil {
		SendErrorResponse(w, "Invalid product id", http.StatusBadRequest, nil)
		return
	}

	var req ProductRequest
	if err := DecodeStrictJSON(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	p := models.Product{
		ID:          id,
		Name:        req.Name,
		Description: req.Description,
		PriceCents:  req.PriceCents,
		Stock:       req.Stock,
		Active:      req.Active,
	}
	if err := s.catalog.UpdateProduct(r.Context(), p); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			SendErrorResponse(w, "Product not found", http.StatusNotFound, nil)
			return
		}
		s.log.Error("product update failed", zap.Int("product_id", id), zap.Error(err))
		SendErrorResponse(w, "Failed to update product", http.StatusInternalServerError, nil)
		return
	}
	SendJSON(w, http.StatusOK, p)
}
