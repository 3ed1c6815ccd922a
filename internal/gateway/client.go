package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/bilheteria/backend/internal/config"
	"github.com/bilheteria/backend/internal/models"
)

// Error kinds reported in audit records and used to decide retries.
const (
	ErrKindTimeout  = "timeout"
	ErrKindNotFound = "not_found"
	ErrKindServer   = "server_error"
)

var (
	// ErrTimeout means the per-call deadline elapsed. Transient, retried.
	ErrTimeout = errors.New("gateway: call timed out")
	// ErrNotFound means the gateway does not know the payment reference.
	// Permanent for the current cycle, never retried.
	ErrNotFound = errors.New("gateway: charge not found")
	// ErrServer covers 5xx-class responses. Transient, retried.
	ErrServer = errors.New("gateway: server error")
)

// ErrorKind maps a gateway error to its audit label. Unclassified
// errors (DNS failures, connection resets) count as server errors so
// they stay retryable.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return ErrKindTimeout
	case errors.Is(err, ErrNotFound):
		return ErrKindNotFound
	default:
		return ErrKindServer
	}
}

// Retryable reports whether the reconciler may retry after err.
func Retryable(err error) bool {
	return !errors.Is(err, ErrNotFound)
}

// Charge is the normalized view of a gateway charge.
type Charge struct {
	Reference   string             `json:"reference"`
	Status      models.OrderStatus `json:"status"`
	RawStatus   string             `json:"raw_status"`
	AmountCents int64              `json:"amount_cents"`
	FeeCents    int64              `json:"fee_cents"`
	BRCode      string             `json:"br_code,omitempty"`
	ExpiresAt   time.Time          `json:"expires_at,omitempty"`
}

// CreateChargeRequest is the outbound shape for issuing a new PIX charge.
type CreateChargeRequest struct {
	AmountCents   int64  `json:"amount"`
	Description   string `json:"description"`
	CustomerEmail string `json:"customer_email"`
	ExternalID    string `json:"external_id"`
}

// Client wraps the PIX billing gateway REST API. Every outbound call,
// success or failure, first waits on the shared limiter so consecutive
// calls within a batch keep the configured minimum spacing.
type Client struct {
	http        *resty.Client
	limiter     *rate.Limiter
	callTimeout time.Duration
	log         *zap.Logger
}

func NewClient(cfg config.GatewayConfig, log *zap.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetHeader("Authorization", "Bearer "+cfg.APIKey).
		SetHeader("Content-Type", "application/json")

	var limiter *rate.Limiter
	if cfg.ThrottleDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.ThrottleDelay), 1)
	}

	return &Client{
		http:        httpClient,
		limiter:     limiter,
		callTimeout: cfg.CallTimeout,
		log:         log,
	}
}

// QueryCharge fetches the authoritative status of a charge by its
// payment reference.
func (c *Client) QueryCharge(ctx context.Context, reference string) (Charge, error) {
	if err := c.throttle(ctx); err != nil {
		return Charge{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	resp, err := c.http.R().
		SetContext(callCtx).
		Get("/v1/charges/" + reference)
	if err != nil {
		return Charge{}, classifyTransportError(err)
	}

	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return Charge{}, fmt.Errorf("%w: reference %s", ErrNotFound, reference)
	case resp.StatusCode() >= http.StatusInternalServerError:
		return Charge{}, fmt.Errorf("%w: status %d", ErrServer, resp.StatusCode())
	case resp.StatusCode() != http.StatusOK:
		return Charge{}, fmt.Errorf("%w: unexpected status %d", ErrServer, resp.StatusCode())
	}

	payload, ok := NormalizeChargePayload(resp.Body())
	if !ok {
		c.log.Warn("unrecognized gateway payload shape",
			zap.String("reference", reference))
		return Charge{}, fmt.Errorf("%w: unrecognized payload", ErrServer)
	}

	return Charge{
		Reference:   reference,
		Status:      MapGatewayStatus(payload.Status),
		RawStatus:   payload.Status,
		AmountCents: payload.AmountCents,
		FeeCents:    payload.FeeCents,
	}, nil
}

// CreateCharge issues a new PIX charge for a checkout order and
// returns its reference plus the copia-e-cola BR code.
func (c *Client) CreateCharge(ctx context.Context, req CreateChargeRequest) (Charge, error) {
	if err := c.throttle(ctx); err != nil {
		return Charge{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	var body struct {
		ID        string `json:"id"`
		Status    string `json:"status"`
		Amount    int64  `json:"amount"`
		BRCode    string `json:"br_code"`
		ExpiresAt string `json:"expires_at"`
	}

	resp, err := c.http.R().
		SetContext(callCtx).
		SetBody(req).
		SetResult(&body).
		Post("/v1/charges")
	if err != nil {
		return Charge{}, classifyTransportError(err)
	}

	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusCreated {
		if resp.StatusCode() >= http.StatusInternalServerError {
			return Charge{}, fmt.Errorf("%w: status %d", ErrServer, resp.StatusCode())
		}
		return Charge{}, fmt.Errorf("%w: create rejected with status %d", ErrServer, resp.StatusCode())
	}

	expiresAt, _ := time.Parse(time.RFC3339, body.ExpiresAt)
	return Charge{
		Reference:   body.ID,
		Status:      MapGatewayStatus(body.Status),
		RawStatus:   body.Status,
		AmountCents: body.Amount,
		BRCode:      body.BRCode,
		ExpiresAt:   expiresAt,
	}, nil
}

func (c *Client) throttle(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return nil
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrServer, err)
}

// MapGatewayStatus normalizes a gateway status string into the local
// four-valued enum. Unknown values stay pending so a later cycle can
// settle them once the gateway reaches a recognizable state.
func MapGatewayStatus(raw string) models.OrderStatus {
	switch raw {
	case "confirmed", "paid", "paid_out":
		return models.OrderStatusPaid
	case "refunded", "cancelled", "canceled", "chargeback":
		return models.OrderStatusCancelled
	case "expired":
		return models.OrderStatusExpired
	default:
		return models.OrderStatusPending
	}
}
