package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/bilheteria/backend/internal/gateway"
	"github.com/bilheteria/backend/internal/models"
	"github.com/bilheteria/backend/internal/store"
)

// ChargeCreator is the slice of the gateway checkout needs.
type ChargeCreator interface {
	CreateCharge(ctx context.Context, req gateway.CreateChargeRequest) (gateway.Charge, error)
}

// OrderService handles storefront checkout and order lookups.
type OrderService struct {
	orders    *store.Orders
	catalog   *store.Catalog
	gateway   ChargeCreator
	redis     *redis.Client
	validator *ValidationHelper
	log       *zap.Logger
}

func NewOrderService(orders *store.Orders, catalog *store.Catalog, gw ChargeCreator, rdb *redis.Client, log *zap.Logger) *OrderService {
	return &OrderService{
		orders:    orders,
		catalog:   catalog,
		gateway:   gw,
		redis:     rdb,
		validator: NewValidationHelper(),
		log:       log,
	}
}

// CheckoutItem is one requested line of a checkout.
type CheckoutItem struct {
	Kind      string `json:"kind" validate:"required,oneof=ticket merch"`
	EventID   int    `json:"event_id" validate:"required_if=Kind ticket"`
	ProductID int    `json:"product_id" validate:"required_if=Kind merch"`
	Quantity  int    `json:"quantity" validate:"required,gt=0,max=10"`
}

// CheckoutRequest represents the checkout payload
// @Description Checkout request structure
type CheckoutRequest struct {
	CustomerEmail string         `json:"customer_email" validate:"required,email"`
	Items         []CheckoutItem `json:"items" validate:"required,min=1,max=20,dive"`
}

// CheckoutResponse carries the created order plus the PIX payment data.
type CheckoutResponse struct {
	Order     models.Order `json:"order"`
	BRCode    string       `json:"br_code"`
	QRCodePNG string       `json:"qr_code_png"` // base64 PNG of the BR code
	ExpiresAt time.Time    `json:"expires_at"`
}

// Checkout creates an order and its PIX charge
// @Summary Create an order
// @Description Create a pending order, reserve stock and issue a PIX charge
// @Tags orders
// @Accept json
// @Produce json
// @Param request body CheckoutRequest true "Checkout request"
// @Success 201 {object} CheckoutResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse "Sold out"
// @Failure 502 {object} ErrorResponse "Payment gateway unavailable"
// @Router /orders [post]
func (s *OrderService) Checkout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if err := DecodeStrictJSON(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	order, err := s.buildOrder(r.Context(), req)
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	if err := s.orders.Create(r.Context(), &order); err != nil {
		if errors.Is(err, store.ErrInsufficientStock) {
			SendErrorResponse(w, "Sold out", http.StatusConflict, nil)
			return
		}
		s.log.Error("order creation failed", zap.Error(err))
		SendErrorResponse(w, "Failed to create order", http.StatusInternalServerError, nil)
		return
	}

	charge, err := s.gateway.CreateCharge(r.Context(), gateway.CreateChargeRequest{
		AmountCents:   order.AmountCents,
		Description:   fmt.Sprintf("bilheteria order %s", order.ID),
		CustomerEmail: order.CustomerEmail,
		ExternalID:    order.ID,
	})
	if err != nil {
		// The order stays pending without a reference; it will be
		// skipped by reconciliation and picked up by the expiry policy.
		s.log.Error("charge creation failed", zap.String("order_id", order.ID), zap.Error(err))
		SendErrorResponse(w, "Payment gateway unavailable", http.StatusBadGateway, nil)
		return
	}

	if err := s.orders.SetPaymentReference(r.Context(), order.ID, charge.Reference); err != nil {
		s.log.Error("failed to persist payment reference",
			zap.String("order_id", order.ID), zap.String("reference", charge.Reference), zap.Error(err))
		SendErrorResponse(w, "Failed to create order", http.StatusInternalServerError, nil)
		return
	}
	order.PaymentReference = charge.Reference

	qrPNG, err := s.qrFor(r.Context(), order.ID, charge)
	if err != nil {
		s.log.Warn("qr generation failed", zap.String("order_id", order.ID), zap.Error(err))
	}

	s.log.Info("order created",
		zap.String("order_id", order.ID),
		zap.Int64("amount_cents", order.AmountCents),
		zap.String("reference", charge.Reference))

	SendJSON(w, http.StatusCreated, CheckoutResponse{
		Order:     order,
		BRCode:    charge.BRCode,
		QRCodePNG: qrPNG,
		ExpiresAt: charge.ExpiresAt,
	})
}

// buildOrder resolves prices server-side and pre-generates ticket
// codes; client-sent amounts are never trusted.
func (s *OrderService) buildOrder(ctx context.Context, req CheckoutRequest) (models.Order, error) {
	order := models.Order{
		ID:            uuid.NewString(),
		CustomerEmail: req.CustomerEmail,
		Status:        models.OrderStatusPending,
	}

	for _, item := range req.Items {
		line := models.OrderItem{Kind: item.Kind, Quantity: item.Quantity}
		switch item.Kind {
		case models.ItemKindTicket:
			ev, err := s.catalog.GetEvent(ctx, item.EventID)
			if err != nil || !ev.Published {
				return models.Order{}, fmt.Errorf("event %d not available", item.EventID)
			}
			line.EventID = ev.ID
			line.UnitPriceCents = ev.PriceCents
			for i := 0; i < item.Quantity; i++ {
				line.TicketCodes = append(line.TicketCodes, uuid.NewString())
			}
		case models.ItemKindMerch:
			p, err := s.catalog.GetProduct(ctx, item.ProductID)
			if err != nil || !p.Active {
				return models.Order{}, fmt.Errorf("product %d not available", item.ProductID)
			}
			line.ProductID = p.ID
			line.UnitPriceCents = p.PriceCents
		}
		order.AmountCents += line.UnitPriceCents * int64(item.Quantity)
		order.Items = append(order.Items, line)
	}

	if order.AmountCents <= 0 {
		return models.Order{}, fmt.Errorf("order total must be positive")
	}
	return order, nil
}

// qrFor renders the BR code as a base64 PNG, cached in Redis until the
// charge expires so repeated status-page loads skip re-encoding.
func (s *OrderService) qrFor(ctx context.Context, orderID string, charge gateway.Charge) (string, error) {
	key := fmt.Sprintf("qr:order:%s", orderID)
	if s.redis != nil {
		if cached, err := s.redis.Get(ctx, key).Result(); err == nil {
			return cached, nil
		}
	}

	png, err := qrcode.Encode(charge.BRCode, qrcode.Medium, 256)
	if err != nil {
		return "", err
	}
	encoded := base64.StdEncoding.EncodeToString(png)

	if s.redis != nil {
		ttl := 15 * time.Minute
		if !charge.ExpiresAt.IsZero() {
			if until := time.Until(charge.ExpiresAt); until > 0 {
				ttl = until
			}
		}
		if err := s.redis.Set(ctx, key, encoded, ttl).Err(); err != nil {
			s.log.Warn("failed to cache qr", zap.String("order_id", orderID), zap.Error(err))
		}
	}
	return encoded, nil
}

// GetOrder returns one order with items
// @Summary Get order by id
// @Tags orders
// @Produce json
// @Param orderId path string true "Order ID"
// @Success 200 {object} models.Order
// @Failure 404 {object} ErrorResponse
// @Router /orders/{orderId} [get]
func (s *OrderService) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	order, err := s.orders.Get(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			SendErrorResponse(w, "Order not found", http.StatusNotFound, nil)
			return
		}
		s.log.Error("order lookup failed", zap.String("order_id", orderID), zap.Error(err))
		SendErrorResponse(w, "Failed to fetch order", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, order)
}

// Ticket is a redeemable entry code for a paid order.
type Ticket struct {
	EventID   int    `json:"event_id"`
	Code      string `json:"code"`
	QRCodePNG string `json:"qr_code_png"`
}

// GetTickets returns the ticket codes of a paid order
// @Summary Get tickets for an order
// @Description Ticket codes are only released once the order is paid
// @Tags orders
// @Produce json
// @Param orderId path string true "Order ID"
// @Success 200 {object} map[string]any
// @Failure 402 {object} ErrorResponse "Order not paid"
// @Failure 404 {object} ErrorResponse
// @Router /orders/{orderId}/tickets [get]
func (s *OrderService) GetTickets(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	order, err := s.orders.Get(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			SendErrorResponse(w, "Order not found", http.StatusNotFound, nil)
			return
		}
		s.log.Error("order lookup failed", zap.String("order_id", orderID), zap.Error(err))
		SendErrorResponse(w, "Failed to fetch order", http.StatusInternalServerError, nil)
		return
	}

	if order.Status != models.OrderStatusPaid {
		SendErrorResponse(w, "Order not paid", http.StatusPaymentRequired, nil)
		return
	}

	tickets := []Ticket{}
	for _, item := range order.Items {
		for _, code := range item.TicketCodes {
			png, err := qrcode.Encode(code, qrcode.Medium, 256)
			if err != nil {
				s.log.Warn("ticket qr generation failed", zap.String("code", code), zap.Error(err))
				continue
			}
			tickets = append(tickets, Ticket{
				EventID:   item.EventID,
				Code:      code,
				QRCodePNG: base64.StdEncoding.EncodeToString(png),
			})
		}
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"order_id": order.ID,
		"tickets":  tickets,
		"count":    len(tickets),
	})
}

// ListOrders returns recent orders for the back office
// @Summary List orders
// @Tags admin
// @Produce json
// @Param status query string false "Filter by status"
// @Param limit query int false "Max rows (default 50)"
// @Success 200 {object} map[string]any
// @Failure 400 {object} ErrorResponse
// @Router /admin/orders [get]
func (s *OrderService) ListOrders(w http.ResponseWriter, r *http.Request) {
	status := models.OrderStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		SendErrorResponse(w, "Unknown status filter", http.StatusBadRequest, nil)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &limit); err != nil || limit < 1 || limit > 500 {
			SendErrorResponse(w, "Invalid limit", http.StatusBadRequest, nil)
			return
		}
	}

	orders, err := s.orders.List(r.Context(), status, limit)
	if err != nil {
		s.log.Error("order list failed", zap.Error(err))
		SendErrorResponse(w, "Failed to list orders", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"orders": orders,
		"count":  len(orders),
	})
}
