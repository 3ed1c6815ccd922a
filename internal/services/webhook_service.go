package services

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/bilheteria/backend/internal/config"
	"github.com/bilheteria/backend/internal/gateway"
	"github.com/bilheteria/backend/internal/models"
	"github.com/bilheteria/backend/internal/store"
)

// SignatureHeader carries the gateway's HMAC of the delivery body.
const SignatureHeader = "X-Webhook-Signature"

// WebhookService ingests PIX charge notifications pushed by the
// gateway. It applies the same guarded, never-regress transition rule
// as the reconciliation job; the two writers can race safely.
type WebhookService struct {
	orders *store.Orders
	audit  *store.Audit
	cfg    config.GatewayConfig
	log    *zap.Logger
}

func NewWebhookService(orders *store.Orders, audit *store.Audit, cfg config.GatewayConfig, log *zap.Logger) *WebhookService {
	return &WebhookService{orders: orders, audit: audit, cfg: cfg, log: log}
}

// HandlePix processes a charge notification
// @Summary PIX webhook
// @Description Receive a signed charge-status notification from the gateway
// @Tags webhooks
// @Accept json
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse "Bad signature"
// @Router /webhooks/pix [post]
func (s *WebhookService) HandlePix(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1_048_576))
	if err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if !gateway.VerifySignature(s.cfg.WebhookSecret, body, r.Header.Get(SignatureHeader)) {
		s.log.Warn("webhook signature rejected", zap.String("remote", r.RemoteAddr))
		SendErrorResponse(w, "Invalid signature", http.StatusUnauthorized, nil)
		return
	}

	var envelope struct {
		Event      string `json:"event"`
		ID         string `json:"id"`
		ExternalID string `json:"external_id"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	payload, ok := gateway.NormalizeChargePayload(body)
	if !ok {
		s.log.Warn("unrecognized webhook payload shape", zap.String("event", envelope.Event))
		SendErrorResponse(w, "Unrecognized payload", http.StatusBadRequest, nil)
		return
	}

	order, err := s.resolveOrder(r, envelope.ExternalID, envelope.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Unknown charge: acknowledge so the gateway stops retrying.
			s.log.Warn("webhook for unknown order",
				zap.String("charge_id", envelope.ID), zap.String("external_id", envelope.ExternalID))
			SendJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}
		s.log.Error("webhook order lookup failed", zap.Error(err))
		SendErrorResponse(w, "Lookup failed", http.StatusInternalServerError, nil)
		return
	}

	mapped := gateway.MapGatewayStatus(payload.Status)
	switch {
	case mapped == order.Status:
		SendJSON(w, http.StatusOK, map[string]string{"status": "unchanged"})

	case order.Status.Terminal():
		s.recordConflict(r, order, mapped)
		SendJSON(w, http.StatusOK, map[string]string{"status": "conflict"})

	default:
		if err := s.orders.ApplyStatus(r.Context(), order.ID, order.Status, mapped); err != nil {
			if errors.Is(err, store.ErrStatusConflict) {
				s.recordConflict(r, order, mapped)
				SendJSON(w, http.StatusOK, map[string]string{"status": "conflict"})
				return
			}
			s.log.Error("webhook status update failed",
				zap.String("order_id", order.ID), zap.Error(err))
			SendErrorResponse(w, "Update failed", http.StatusInternalServerError, nil)
			return
		}
		s.log.Info("order status updated by webhook",
			zap.String("order_id", order.ID),
			zap.String("from", string(order.Status)),
			zap.String("to", string(mapped)))
		SendJSON(w, http.StatusOK, map[string]string{"status": "updated"})
	}
}

func (s *WebhookService) resolveOrder(r *http.Request, externalID, chargeID string) (models.Order, error) {
	if externalID != "" {
		order, err := s.orders.Get(r.Context(), externalID)
		if err == nil || !errors.Is(err, store.ErrNotFound) {
			return order, err
		}
	}
	return s.orders.GetByPaymentReference(r.Context(), chargeID)
}

// recordConflict surfaces a terminal-state disagreement for external
// review, mirroring the reconciler's conflict outcome.
func (s *WebhookService) recordConflict(r *http.Request, order models.Order, mapped models.OrderStatus) {
	s.log.Warn("webhook disagrees with terminal local status",
		zap.String("order_id", order.ID),
		zap.String("local", string(order.Status)),
		zap.String("gateway", string(mapped)))
	outcome := models.Outcome{
		OrderID:        order.ID,
		Kind:           models.OutcomeConflict,
		PreviousStatus: order.Status,
		NewStatus:      order.Status,
		ErrorKind:      "webhook",
	}
	if err := s.audit.Record(r.Context(), outcome); err != nil {
		s.log.Error("failed to record webhook conflict",
			zap.String("order_id", order.ID), zap.Error(err))
	}
}
