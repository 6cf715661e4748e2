package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"legbook/internal/config"
	"legbook/internal/creds"
	"legbook/internal/exitengine"
	"legbook/internal/gateway/broker"
	"legbook/internal/logger"
	"legbook/internal/service/legs"
	"legbook/internal/store/gormstore"
	statehttp "legbook/internal/transport/http/state"
)

// App owns the process lifecycle: config -> store -> credentials -> broker
// gateway -> exit engine -> leg service -> HTTP server, plus the override
// janitor.
type App struct {
	cfg      *config.Config
	store    *gormstore.Store
	provider *creds.FileProvider
	server   *statehttp.Server
	janitor  *cron.Cron
}

// NewApp builds the application from configuration without starting it.
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}

	st, err := gormstore.New(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	provider, err := creds.NewFileProvider(cfg.Credentials.File)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("load credentials: %w", err)
	}

	client, err := broker.NewClient(cfg.Broker)
	if err != nil {
		_ = provider.Close()
		_ = st.Close()
		return nil, fmt.Errorf("build broker client: %w", err)
	}

	engine := exitengine.New(
		client, client, client,
		exitengine.RealClock(),
		time.Duration(cfg.Exit.PollIntervalSeconds*float64(time.Second)),
		cfg.Exit.MaxRetries,
	)

	service := legs.NewService(st, engine, provider)

	server, err := statehttp.NewServer(statehttp.ServerConfig{
		Addr:    cfg.Server.Addr,
		Store:   st,
		Service: service,
	})
	if err != nil {
		_ = provider.Close()
		_ = st.Close()
		return nil, fmt.Errorf("build http server: %w", err)
	}

	a := &App{
		cfg:      cfg,
		store:    st,
		provider: provider,
		server:   server,
		janitor:  cron.New(),
	}
	if _, err := a.janitor.AddFunc(cfg.Overrides.PurgeCron, a.purgeOverrides); err != nil {
		_ = provider.Close()
		_ = st.Close()
		return nil, fmt.Errorf("schedule override purge %q: %w", cfg.Overrides.PurgeCron, err)
	}
	return a, nil
}

// Run serves until the context is cancelled or an interrupt arrives.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer a.close()

	a.janitor.Start()
	defer func() { <-a.janitor.Stop().Done() }()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.server.Run(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	logger.Infof("legbook listening on %s (store=%s)", a.cfg.Server.Addr, a.cfg.Store.Path)
	return group.Wait()
}

// purgeOverrides drops consumed/stale overrides past their TTL. Overrides are
// advisory; losing one means the monitor keeps the previous level, so a purge
// failure is logged and retried on the next tick.
func (a *App) purgeOverrides() {
	ttl := time.Duration(a.cfg.Overrides.TTLMinutes) * time.Minute
	cutoff := time.Now().UTC().Add(-ttl)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	removed, err := a.store.PurgeOverrides(ctx, cutoff)
	if err != nil {
		logger.Warnf("override purge failed: %v", err)
		return
	}
	if removed > 0 {
		logger.Infof("purged %d overrides older than %s", removed, ttl)
	}
}

func (a *App) close() {
	if err := a.provider.Close(); err != nil {
		logger.Warnf("close credential provider: %v", err)
	}
	if err := a.store.Close(); err != nil {
		logger.Warnf("close store: %v", err)
	}
}
