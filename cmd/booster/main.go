package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"offer_booster/internal/config"
	"offer_booster/internal/engine"
	"offer_booster/internal/httpapi"
	"offer_booster/internal/logbus"
	"offer_booster/internal/notify"
	"offer_booster/internal/provider/rewards"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stderr, os.LookupEnv))
}

// run returns the process exit code: 1 for configuration problems found at
// start-up, 0 otherwise.
func run(ctx context.Context, args []string, stderr io.Writer, lookup func(string) (string, bool)) int {
	fs := flag.NewFlagSet("booster", flag.ContinueOnError)
	fs.SetOutput(stderr)
	defaultPath, _ := lookup("BOOSTER_CONFIG")
	configPath := fs.String("config", defaultPath, "path to config.yaml or options.json (optional)")
	once := fs.Bool("once", false, "process every account once and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.LoadWithEnv(*configPath, lookup)
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}

	bus := logbus.New(200, logbus.NewLogger(stderr, cfg.LogLevel))
	defer bus.Close()

	notifier, closeNotifier := newNotifier(cfg, bus)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		closeNotifier(shutdownCtx)
	}()

	prov := rewards.New(cfg.Provider, bus)
	eng := engine.New(engine.Options{
		Processor: engine.NewProcessor(engine.ProcessorOptions{
			Provider:  prov,
			Bus:       bus,
			BoostPace: cfg.Provider.BoostPace(),
		}),
		Accounts:     cfg.Accounts,
		Notifier:     notifier,
		Bus:          bus,
		TriggerTime:  cfg.RunTime,
		PollInterval: cfg.PollInterval(),
	})

	if *once {
		if err := eng.Validate(ctx); err != nil {
			return 1
		}
		eng.RunAll(ctx)
		return 0
	}

	var server *http.Server
	if cfg.Status.Addr != "" {
		api := httpapi.New(httpapi.Options{
			Cfg:       cfg.Status,
			Accounts:  cfg.Accounts,
			Bus:       bus,
			Scheduler: eng,
		})
		server = &http.Server{
			Addr:              cfg.Status.Addr,
			Handler:           api.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			bus.Log("info", "status server listening", map[string]any{"addr": cfg.Status.Addr})
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				bus.Log("error", "status server error", map[string]any{"error": err.Error()})
			}
		}()
	}

	runErr := eng.Run(ctx)

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = server.Shutdown(shutdownCtx)
		cancel()
	}
	if runErr != nil {
		return 1
	}
	bus.Log("info", "booster stopped", nil)
	return 0
}

var newNotifier = buildNotifier

// buildNotifier assembles the configured sinks. The returned func flushes
// sinks that buffer.
func buildNotifier(cfg config.Config, bus *logbus.Bus) (notify.Notifier, func(context.Context)) {
	title := cfg.Notify.Title
	var (
		sinks []notify.Notifier
		email *notify.EmailNotifier
	)
	if cfg.NotificationsEnabled() {
		sinks = append(sinks, notify.NewMQTTNotifier(cfg.MQTT, title, bus))
	}
	if cfg.NATS.Enabled() {
		sinks = append(sinks, notify.NewNATSNotifier(cfg.NATS, title, bus))
	}
	if cfg.Email.Enabled {
		email = notify.NewEmailNotifier(cfg.Email.Settings(), title, cfg.Email.SummaryWindow(), bus)
		sinks = append(sinks, email)
	}

	names := make([]string, 0, len(sinks))
	for _, s := range sinks {
		names = append(names, fmt.Sprintf("%T", s))
	}
	bus.Log("info", "notification sinks", map[string]any{"sinks": names})

	closeFn := func(ctx context.Context) {
		if email == nil {
			return
		}
		if err := email.Close(ctx); err != nil {
			bus.Log("warn", "email flush incomplete", map[string]any{"error": err.Error()})
		}
	}
	return notify.NewMulti(bus, sinks...), closeFn
}
