package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"offer_booster/internal/logbus"
	"offer_booster/internal/model"
	"offer_booster/internal/provider"
)

type ProcessorOptions struct {
	Provider provider.Provider
	Bus      *logbus.Bus
	// BoostPace is the minimum spacing between two boost calls of one run.
	BoostPace time.Duration
}

// Processor runs the fetch, filter and boost sequence for one account at a time.
type Processor struct {
	provider provider.Provider
	bus      *logbus.Bus
	pace     time.Duration
	now      func() time.Time
}

func NewProcessor(opts ProcessorOptions) *Processor {
	pace := opts.BoostPace
	if pace < 0 {
		pace = 0
	}
	return &Processor{
		provider: opts.Provider,
		bus:      opts.Bus,
		pace:     pace,
		now:      time.Now,
	}
}

// Process never fails: every problem ends up in the returned result's Err
// or in its per-offer outcomes.
func (p *Processor) Process(ctx context.Context, account model.Account) (res model.RunResult) {
	res = model.RunResult{
		RunID:       uuid.NewString(),
		AccountName: account.Name,
		StartedAt:   p.now(),
	}
	defer func() { res.FinishedAt = p.now() }()

	fields := func(extra map[string]any) map[string]any {
		out := map[string]any{"runId": res.RunID, "account": account.Name}
		for k, v := range extra {
			out[k] = v
		}
		return out
	}

	if missing := account.MissingFields(); len(missing) > 0 {
		res.Err = &model.CredentialsError{Missing: missing}
		p.log("warn", "account skipped: missing credentials", fields(map[string]any{"missing": missing}))
		return res
	}

	p.log("info", "processing account", fields(nil))

	sess, err := p.provider.NewSession(account)
	if err != nil {
		if !errors.Is(err, model.ErrConfigInvalid) {
			err = fmt.Errorf("%w: %w", model.ErrFetchFailed, err)
		}
		res.Err = err
		p.log("error", "open session failed", fields(map[string]any{"error": err.Error()}))
		return res
	}

	offers, err := sess.ListOffers(ctx)
	if err != nil {
		res.Err = fmt.Errorf("%w: %w", model.ErrFetchFailed, err)
		p.log("error", "fetch offers failed", fields(map[string]any{"error": err.Error()}))
		return res
	}

	pending := model.PendingOffers(offers)
	res.Pending = len(pending)
	p.log("info", "offers fetched", fields(map[string]any{
		"total":   len(offers),
		"pending": len(pending),
	}))
	if len(pending) == 0 {
		return res
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if p.pace > 0 {
		limiter = rate.NewLimiter(rate.Every(p.pace), 1)
	}

	for i, offer := range pending {
		if err := limiter.Wait(ctx); err != nil {
			for _, rest := range pending[i:] {
				res.Outcomes = append(res.Outcomes, model.BoostOutcome{
					OfferID: rest.ID,
					Kind:    model.BoostOutcomeFailed,
					Error:   err.Error(),
				})
			}
			p.log("warn", "boost loop interrupted", fields(map[string]any{
				"remaining": len(pending) - i,
				"error":     err.Error(),
			}))
			break
		}
		out := p.boost(ctx, sess, offer, fields)
		if out.Kind == model.BoostOutcomeBoosted {
			res.Boosted++
		}
		res.Outcomes = append(res.Outcomes, out)
	}

	p.log("info", "account processed", fields(map[string]any{
		"boosted": res.Boosted,
		"pending": res.Pending,
	}))
	return res
}

func (p *Processor) boost(ctx context.Context, sess provider.Session, offer model.Offer, fields func(map[string]any) map[string]any) model.BoostOutcome {
	if offer.ID == "" {
		p.log("warn", "pending offer without id skipped", fields(nil))
		return model.BoostOutcome{Kind: model.BoostOutcomeFailed, Error: "offer has no id"}
	}

	ack, err := sess.BoostOffer(ctx, offer.ID)
	if err != nil {
		err = fmt.Errorf("%w: %w", model.ErrBoostFailed, err)
		p.log("error", "boost failed", fields(map[string]any{"offerId": offer.ID, "error": err.Error()}))
		return model.BoostOutcome{OfferID: offer.ID, Kind: model.BoostOutcomeFailed, Error: err.Error()}
	}
	if !ack.Succeeded() {
		p.log("warn", "unexpected boost response", fields(map[string]any{
			"offerId":  offer.ID,
			"status":   ack.Status,
			"response": string(ack.Raw),
		}))
		return model.BoostOutcome{
			OfferID: offer.ID,
			Kind:    model.BoostOutcomeRejected,
			Error:   fmt.Sprintf("remote status %q", ack.Status),
		}
	}

	p.log("info", "offer boosted", fields(map[string]any{"offerId": offer.ID}))
	return model.BoostOutcome{OfferID: offer.ID, Kind: model.BoostOutcomeBoosted}
}

func (p *Processor) log(level, msg string, fields map[string]any) {
	if p.bus != nil {
		p.bus.Log(level, msg, fields)
	}
}
