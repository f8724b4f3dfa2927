package provider

import (
	"context"
	"encoding/json"
	"strings"

	"offer_booster/internal/model"
)

// BoostResult is the remote acknowledgement of a boost call that came back
// with a 2xx status.
type BoostResult struct {
	Status string          `json:"status"`
	Raw    json.RawMessage `json:"-"`
}

// Succeeded reports whether the API confirmed the boost.
func (r BoostResult) Succeeded() bool {
	return strings.EqualFold(strings.TrimSpace(r.Status), "success")
}

// Session is one account's connection context. It lives for a single
// processing run and is then dropped.
type Session interface {
	ListOffers(ctx context.Context) ([]model.Offer, error)
	BoostOffer(ctx context.Context, offerID string) (BoostResult, error)
}

type Provider interface {
	Name() string

	NewSession(account model.Account) (Session, error)
}
