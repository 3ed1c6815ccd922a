package gateway

import (
	"encoding/json"
)

// ChargePayload is the recognized subset of a gateway charge response.
type ChargePayload struct {
	Status      string
	AmountCents int64
	FeeCents    int64
}

type paymentBody struct {
	Status string `json:"status"`
	Amount int64  `json:"amount"`
	Fee    int64  `json:"fee"`
}

type chargeEnvelope struct {
	Status  string       `json:"status"`
	Amount  int64        `json:"amount"`
	Payment *paymentBody `json:"payment"`
	Data    *struct {
		Status  string       `json:"status"`
		Amount  int64        `json:"amount"`
		Payment *paymentBody `json:"payment"`
	} `json:"data"`
}

// NormalizeChargePayload parses a gateway response body into a tagged
// result. The gateway has shipped the payment object at two different
// depths over time, so candidates are probed in a fixed priority
// order: payment, then data.payment, then the bare envelope. The
// second return value is false when no candidate carries a status.
func NormalizeChargePayload(body []byte) (ChargePayload, bool) {
	var env chargeEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return ChargePayload{}, false
	}

	candidates := []paymentBody{}
	if env.Payment != nil {
		candidates = append(candidates, *env.Payment)
	}
	if env.Data != nil {
		if env.Data.Payment != nil {
			candidates = append(candidates, *env.Data.Payment)
		}
		candidates = append(candidates, paymentBody{Status: env.Data.Status, Amount: env.Data.Amount})
	}
	candidates = append(candidates, paymentBody{Status: env.Status, Amount: env.Amount})

	for _, cand := range candidates {
		if cand.Status == "" {
			continue
		}
		return ChargePayload{
			Status:      cand.Status,
			AmountCents: cand.Amount,
			FeeCents:    cand.Fee,
		}, true
	}
	return ChargePayload{}, false
}
