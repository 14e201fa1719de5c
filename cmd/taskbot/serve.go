package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/vinayprograms/taskbot/bus"
	"github.com/vinayprograms/taskbot/calendar"
	"github.com/vinayprograms/taskbot/chat"
	"github.com/vinayprograms/taskbot/config"
	"github.com/vinayprograms/taskbot/delivery"
	"github.com/vinayprograms/taskbot/digest"
	"github.com/vinayprograms/taskbot/httpapi"
	"github.com/vinayprograms/taskbot/identity"
	"github.com/vinayprograms/taskbot/logging"
	"github.com/vinayprograms/taskbot/ratelimit"
	"github.com/vinayprograms/taskbot/reminders"
	"github.com/vinayprograms/taskbot/rpc"
	"github.com/vinayprograms/taskbot/search"
	"github.com/vinayprograms/taskbot/shutdown"
	"github.com/vinayprograms/taskbot/tasks"
	"github.com/vinayprograms/taskbot/telemetry"
)

var shutdownTimeout time.Duration

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bot until SIGINT or SIGTERM",
		Long: `Run the bot.

serve loads the task snapshot, starts the reminder scheduler and the daily
digest, and accepts commands over JSON-RPC on /ws and on the bus subject
taskbot.rpc. Outbound chat messages go to the chat gateway on chat.send,
or to the log when chat.transport is "log".`,
		RunE: runServe,
	}
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 30*time.Second, "time allowed for a graceful stop")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	ctx := context.Background()
	coord := shutdown.NewCoordinator(shutdown.Config{
		Timeout:         shutdownTimeout,
		ContinueOnError: true,
	}, logger)

	// Any startup failure after this point still releases what was opened.
	abort := func(err error) error {
		coord.ShutdownWithTimeout(shutdownTimeout)
		return err
	}

	if err := startTelemetry(ctx, cfg, coord); err != nil {
		return abort(err)
	}
	events, err := telemetry.NewExporter(cfg.Telemetry.EventsProtocol, cfg.Telemetry.EventsEndpoint)
	if err != nil {
		return abort(fmt.Errorf("events exporter: %w", err))
	}
	coord.RegisterFunc("events", shutdown.PhaseTransport, func(context.Context) error {
		return events.Close()
	})

	var nb *bus.NATSBus
	if needsNATS(cfg) {
		if nb, err = connectNATS(cfg); err != nil {
			return abort(err)
		}
		coord.RegisterFunc("nats", shutdown.PhaseTransport, func(context.Context) error {
			return nb.Close()
		})
	}

	st, err := openState(cfg, nb)
	if err != nil {
		return abort(fmt.Errorf("open %s store: %w", cfg.Store.Backend, err))
	}
	store := tasks.NewStore(st, tasks.WithStoreLogger(logger))
	// Registered before Load so a half-loaded process still closes the backend.
	coord.RegisterFunc("store", shutdown.PhaseState, func(context.Context) error {
		ferr := store.Flush()
		if cerr := st.Close(); ferr == nil {
			ferr = cerr
		}
		return ferr
	})
	if err := store.Load(); err != nil {
		return abort(err)
	}
	registry, err := identity.NewStoreRegistry(st)
	if err != nil {
		return abort(fmt.Errorf("load identities: %w", err))
	}

	store.Subscribe(func(c tasks.Change) {
		events.LogEvent("task."+c.Kind.String(), map[string]interface{}{
			"task_id": c.Task.ID,
			"status":  string(c.Task.Status),
		})
	})

	router, closeLimiter := newRouter(cfg, nb, registry, logger)
	if closeLimiter != nil {
		coord.RegisterFunc("ratelimit", shutdown.PhaseTransport, func(context.Context) error {
			return closeLimiter()
		})
	}

	dh, dm, _ := config.ParseClock(cfg.Bot.DefaultDeadline)
	manager := tasks.NewManager(store, router,
		tasks.WithRegistry(registry),
		tasks.WithLocation(loc),
		tasks.WithDefaultDeadline(dh, dm),
		tasks.WithLogger(logger),
	)

	index, err := search.New(store, logger)
	if err != nil {
		return abort(fmt.Errorf("search index: %w", err))
	}
	coord.RegisterFunc("search", shutdown.PhaseState, func(context.Context) error {
		return index.Close()
	})

	// Loops stop first; the dispatcher keeps its own context so sends
	// already started can finish within the shutdown timeout.
	loopCtx, stopLoops := context.WithCancel(ctx)
	sendCtx, stopSends := context.WithCancel(ctx)
	dispatcher := delivery.NewDispatcher(sendCtx, logger)
	var loops sync.WaitGroup
	runLoop := func(name string, run func(context.Context) error) {
		loops.Add(1)
		go func() {
			defer loops.Done()
			if err := run(loopCtx); err != nil && loopCtx.Err() == nil {
				logger.Error("loop stopped", map[string]interface{}{"loop": name, "error": err.Error()})
			}
		}()
	}

	scheduler := reminders.NewScheduler(store, router, dispatcher,
		reminders.WithInterval(cfg.Reminders.Interval),
		reminders.WithCatchUp(cfg.Reminders.CatchUp),
		reminders.WithLocation(loc),
		reminders.WithLogger(logger),
	)
	runLoop("reminders", scheduler.Run)

	if cfg.Digest.Enabled {
		h, m, _ := config.ParseClock(cfg.Digest.Time)
		agg := digest.NewAggregator(store, st, registry, router, dispatcher,
			digest.WithTime(h, m),
			digest.WithWindow(cfg.Digest.Window),
			digest.WithLocation(loc),
			digest.WithLogger(logger),
		)
		runLoop("digest", agg.Run)
	}

	if cfg.Calendar.Enabled {
		mirror, err := calendar.NewGoogleMirror(ctx, calendar.Config{
			CredentialsFile: cfg.Calendar.CredentialsFile,
			CalendarID:      cfg.Calendar.CalendarID,
		}, calendar.WithLogger(logger), calendar.WithLocation(loc))
		if err != nil {
			stopLoops()
			stopSends()
			return abort(fmt.Errorf("calendar: %w", err))
		}
		mirror.Watch(store)
		runLoop("calendar", mirror.Run)
	}

	coord.RegisterFunc("workers", shutdown.PhaseWorkers, func(ctx context.Context) error {
		stopLoops()
		done := make(chan struct{})
		go func() {
			loops.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			stopSends()
			return ctx.Err()
		}
		err := dispatcher.Drain(ctx)
		stopSends()
		return err
	})

	service := rpc.NewService(manager, registry, rpc.WithSearch(index), rpc.WithLogger(logger))
	ws := rpc.NewWebSocketServer(service, rpc.DefaultWebSocketConfig(), logger)
	coord.RegisterFunc("websocket", shutdown.PhaseIngress, func(context.Context) error {
		return ws.Close()
	})

	if nb != nil {
		busSrv := rpc.NewBusServer(nb, service, logger)
		if err := busSrv.Start(ctx); err != nil {
			return abort(fmt.Errorf("rpc bus: %w", err))
		}
		coord.RegisterFunc("rpc-bus", shutdown.PhaseIngress, func(context.Context) error {
			return busSrv.Stop()
		})
	}

	if cfg.HTTP.Enabled {
		srv := httpapi.New(store, httpapi.WithSearch(index), httpapi.WithWebSocket(ws), httpapi.WithLogger(logger))
		if err := srv.Start(cfg.HTTP.Addr); err != nil {
			return abort(err)
		}
		coord.RegisterFunc("http", shutdown.PhaseIngress, srv.Shutdown)
	}

	coord.HandleSignals()
	logger.Info("taskbot started", map[string]interface{}{
		"version":   Version,
		"store":     cfg.Store.Backend,
		"transport": cfg.Chat.Transport,
		"tasks":     store.Len(),
		"timezone":  loc.String(),
	})

	<-coord.Done()
	if err := coord.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "shutdown:", err)
		return err
	}
	return nil
}

// startTelemetry installs the OTLP tracer provider when an endpoint is
// configured. Without one, spans go to the no-op tracer.
func startTelemetry(ctx context.Context, cfg *config.Config, coord *shutdown.Coordinator) error {
	if cfg.Telemetry.Endpoint == "" && os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") == "" {
		return nil
	}
	provider, err := telemetry.InitProvider(ctx, telemetry.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Protocol:       cfg.Telemetry.Protocol,
		Insecure:       cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	coord.RegisterFunc("telemetry", shutdown.PhaseTransport, provider.Shutdown)
	return nil
}

// newRouter builds the delivery router over the configured transport.
// The returned close func is nil when pacing is disabled.
func newRouter(cfg *config.Config, nb *bus.NATSBus, registry identity.Registry, logger *logging.Logger) (*delivery.Router, func() error) {
	var transport chat.Transport
	if cfg.Chat.Transport == "bus" {
		transport = chat.NewBusTransport(nb, cfg.Chat.SendTimeout)
	} else {
		transport = chat.NewLogTransport(logger)
	}

	opts := []delivery.Option{
		delivery.WithMaxRateLimitRetries(cfg.Delivery.MaxRetries),
		delivery.WithDefaultRetryAfter(cfg.Delivery.RetryAfter),
		delivery.WithLogger(logger),
	}
	var closeLimiter func() error
	if cfg.Delivery.RateLimit > 0 {
		limiter := ratelimit.NewMemoryLimiter(
			ratelimit.WithDefaultCapacity(cfg.Delivery.RateLimit, cfg.Delivery.RateWindow),
		)
		opts = append(opts, delivery.WithLimiter(limiter))
		closeLimiter = limiter.Close
	}
	return delivery.NewRouter(transport, registry, opts...), closeLimiter
}
