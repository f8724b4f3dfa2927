package model

type OfferStatus string

// Only NotActivated is acted upon. Every other status is kept as reported.
const (
	OfferStatusNotActivated OfferStatus = "NotActivated"
	OfferStatusActivated    OfferStatus = "Activated"
)

type Offer struct {
	ID     string      `json:"id"`
	Status OfferStatus `json:"status"`
}

// Pending reports whether the remote API lists the offer as not yet boosted.
// The comparison is case-sensitive on purpose: the API owns the casing.
func (o Offer) Pending() bool {
	return o.Status == OfferStatusNotActivated
}

func PendingOffers(offers []Offer) []Offer {
	out := make([]Offer, 0, len(offers))
	for _, o := range offers {
		if o.Pending() {
			out = append(out, o)
		}
	}
	return out
}
