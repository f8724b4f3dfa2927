// Package mockapi is an in-memory stand-in for the remote offers API. It
// backs cmd/mock and the HTTP tests of the provider and engine packages.
package mockapi

import (
	"encoding/json"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"offer_booster/internal/model"
)

type Options struct {
	// FailRate and RejectRate randomly fail (HTTP 500) or reject
	// (status "Failed") boost calls. Zero disables them.
	FailRate   float64
	RejectRate float64
	// RequireCredentials answers 401 when client_id is missing.
	RequireCredentials bool
}

type Server struct {
	opts Options
	rnd  *rand.Rand

	mu           sync.Mutex
	offers       []model.Offer
	offersQueue  []int
	boostQueue   []int
	boostFail    map[string]int
	boostReject  map[string]bool
	offersCalls  int
	boostCalls   int
	boosted      []string
	offersHeader http.Header
	boostHeader  http.Header
	rawOffers    string
}

func New(opts Options) *Server {
	return &Server{
		opts:        opts,
		rnd:         rand.New(rand.NewSource(time.Now().UnixNano())),
		boostFail:   make(map[string]int),
		boostReject: make(map[string]bool),
	}
}

func (s *Server) SetOffers(offers ...model.Offer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offers = append([]model.Offer(nil), offers...)
}

// FailOffers queues statuses returned by the next GET /offers calls, one per call.
func (s *Server) FailOffers(statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offersQueue = append(s.offersQueue, statuses...)
}

// FailBoosts queues statuses returned by the next boost calls, one per call.
func (s *Server) FailBoosts(statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.boostQueue = append(s.boostQueue, statuses...)
}

// FailBoostFor always answers status for boosts of offerID.
func (s *Server) FailBoostFor(offerID string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.boostFail[offerID] = status
}

// RejectBoostFor answers 200 with a non-success status for offerID.
func (s *Server) RejectBoostFor(offerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.boostReject[offerID] = true
}

// SetRawOffersBody makes GET /offers return body verbatim with status 200.
func (s *Server) SetRawOffersBody(body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rawOffers = body
}

func (s *Server) OffersCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offersCalls
}

func (s *Server) BoostCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boostCalls
}

func (s *Server) Boosted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.boosted...)
}

func (s *Server) LastOffersHeader() http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offersHeader.Clone()
}

func (s *Server) LastBoostHeader() http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boostHeader.Clone()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimRight(r.URL.Path, "/")
	switch {
	case strings.HasSuffix(path, "/health"):
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case strings.HasSuffix(path, "/offers/boost"):
		if r.Method != http.MethodPost {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
			return
		}
		s.handleBoost(w, r)
	case strings.HasSuffix(path, "/offers"):
		if r.Method != http.MethodGet {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
			return
		}
		s.handleOffers(w, r)
	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
	}
}

func (s *Server) authorized(r *http.Request) bool {
	return !s.opts.RequireCredentials || strings.TrimSpace(r.Header.Get("client_id")) != ""
}

func (s *Server) handleOffers(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.offersCalls++
	s.offersHeader = r.Header.Clone()
	if len(s.offersQueue) > 0 {
		status := s.offersQueue[0]
		s.offersQueue = s.offersQueue[1:]
		s.mu.Unlock()
		writeJSON(w, status, map[string]any{"error": http.StatusText(status)})
		return
	}
	if raw := s.rawOffers; raw != "" {
		s.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(raw))
		return
	}
	offers := append([]model.Offer(nil), s.offers...)
	s.mu.Unlock()

	if !s.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "missing client_id"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"offers": offers})
}

func (s *Server) handleBoost(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OfferIDs []string `json:"offerIds"`
	}
	decodeErr := json.NewDecoder(r.Body).Decode(&body)

	s.mu.Lock()
	s.boostCalls++
	s.boostHeader = r.Header.Clone()
	if len(s.boostQueue) > 0 {
		status := s.boostQueue[0]
		s.boostQueue = s.boostQueue[1:]
		s.mu.Unlock()
		writeJSON(w, status, map[string]any{"error": http.StatusText(status)})
		return
	}
	s.mu.Unlock()

	if !s.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "missing client_id"})
		return
	}
	if decodeErr != nil || len(body.OfferIDs) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "offerIds is required"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range body.OfferIDs {
		if status, ok := s.boostFail[id]; ok {
			writeJSON(w, status, map[string]any{"error": http.StatusText(status)})
			return
		}
		if s.opts.FailRate > 0 && s.rnd.Float64() < s.opts.FailRate {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "simulated failure"})
			return
		}
		if s.boostReject[id] || (s.opts.RejectRate > 0 && s.rnd.Float64() < s.opts.RejectRate) {
			writeJSON(w, http.StatusOK, map[string]any{"status": "Failed", "offerId": id})
			return
		}
	}
	for _, id := range body.OfferIDs {
		for i := range s.offers {
			if s.offers[i].ID == id {
				s.offers[i].Status = model.OfferStatusActivated
			}
		}
		s.boosted = append(s.boosted, id)
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "Success"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
