package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"offer_booster/internal/logbus"
	"offer_booster/internal/mockapi"
	"offer_booster/internal/model"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	offers := flag.Int("offers", 6, "number of seeded offers; every other one starts NotActivated")
	failRate := flag.Float64("fail-rate", 0, "fraction of boost calls answered with HTTP 500")
	rejectRate := flag.Float64("reject-rate", 0, "fraction of boost calls answered with status Failed")
	requireCreds := flag.Bool("require-credentials", true, "answer 401 when client_id is missing")
	flag.Parse()

	logger := logbus.NewLogger(os.Stderr, "info")

	api := mockapi.New(mockapi.Options{
		FailRate:           *failRate,
		RejectRate:         *rejectRate,
		RequireCredentials: *requireCreds,
	})
	api.SetOffers(seedOffers(*offers)...)

	server := &http.Server{
		Addr:              *addr,
		Handler:           logRequests(logger, api),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.WithField("addr", *addr).Info("mock offers api listening; set provider.base_url to http://<addr>/wx/v1/csl/customers")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Fatal("mock server failed")
	}
}

func seedOffers(n int) []model.Offer {
	out := make([]model.Offer, 0, n)
	for i := 1; i <= n; i++ {
		status := model.OfferStatusActivated
		if i%2 == 1 {
			status = model.OfferStatusNotActivated
		}
		out = append(out, model.Offer{ID: fmt.Sprintf("mock-%03d", i), Status: status})
	}
	return out
}

func logRequests(logger *logrus.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"clientId": r.Header.Get("client_id"),
			"took":     time.Since(start).String(),
		}).Info("request")
	})
}
