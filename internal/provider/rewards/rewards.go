package rewards

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"offer_booster/internal/config"
	"offer_booster/internal/logbus"
	"offer_booster/internal/model"
	"offer_booster/internal/provider"
	"offer_booster/internal/utils"
)

const (
	offersPath = "/offers"
	boostPath  = "/offers/boost"
)

type RewardsProvider struct {
	cfg config.ProviderConfig
	bus *logbus.Bus
	now func() time.Time
}

func New(cfg config.ProviderConfig, bus *logbus.Bus) *RewardsProvider {
	return &RewardsProvider{
		cfg: cfg,
		bus: bus,
		now: time.Now,
	}
}

func (p *RewardsProvider) Name() string { return "rewards" }

type listOffersResp struct {
	Offers []model.Offer `json:"offers"`
}

type boostReq struct {
	OfferIDs []string `json:"offerIds"`
}

type Session struct {
	client  *Client
	origin  string
	referer string
}

// NewSession builds a fresh client carrying the account's identity headers.
// Nothing is shared between sessions.
func (p *RewardsProvider) NewSession(account model.Account) (provider.Session, error) {
	if missing := account.MissingFields(); len(missing) > 0 {
		return nil, &model.CredentialsError{Missing: missing}
	}

	localTime := strings.TrimSpace(p.cfg.UserLocalTime)
	if localTime == "" {
		localTime = utils.UserLocalTime(p.now())
	}

	headers := map[string]string{
		"User-Agent":        utils.NormalizeBrowserUserAgent(p.cfg.UserAgent),
		"Accept":            "application/json",
		headerClientID:      account.ClientID,
		headerHashCRN:       account.HashCRN,
		headerAPIKey:        account.APIKey,
		headerSecondaryKey:  account.SecondaryAPIKey,
		headerUserLocalTime: localTime,
	}
	client, err := newClient(p.cfg, headers, p.bus)
	if err != nil {
		return nil, err
	}
	return &Session{
		client:  client,
		origin:  p.cfg.Origin,
		referer: p.cfg.Referer,
	}, nil
}

func (s *Session) ListOffers(ctx context.Context) ([]model.Offer, error) {
	var resp listOffersResp
	if err := s.client.Get(ctx, offersPath, &resp); err != nil {
		return nil, err
	}
	return resp.Offers, nil
}

func (s *Session) BoostOffer(ctx context.Context, offerID string) (provider.BoostResult, error) {
	if strings.TrimSpace(offerID) == "" {
		return provider.BoostResult{}, errors.New("offer id is empty")
	}
	headers := map[string]string{}
	if s.origin != "" {
		headers["origin"] = s.origin
	}
	if s.referer != "" {
		headers["referer"] = s.referer
	}

	var raw json.RawMessage
	if err := s.client.Post(ctx, boostPath, boostReq{OfferIDs: []string{offerID}}, headers, &raw); err != nil {
		return provider.BoostResult{}, err
	}
	var res provider.BoostResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return provider.BoostResult{}, &DecodeError{Method: "POST", Path: boostPath, Err: err}
	}
	res.Raw = raw
	return res, nil
}
