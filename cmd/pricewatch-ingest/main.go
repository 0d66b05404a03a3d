package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"pricewatch/internal/adapters/filecache"
	"pricewatch/internal/adapters/portal"
	"pricewatch/internal/platform/config"
	"pricewatch/internal/platform/logger"
	"pricewatch/internal/platform/store"
	"pricewatch/internal/services/ingest/repo"
	"pricewatch/internal/services/ingest/service"
)

func main() {
	root := config.New()
	dbCfg := root.Prefix("PRICEWATCH_DB_")
	cacheCfg := root.Prefix("PRICEWATCH_CACHE_")
	credCfg := root.Prefix("PRICEWATCH_PORTAL_")

	l := logger.Get()

	var (
		fChains = flag.String("chains", "", "comma-separated chain names to run (default: all)")
		fOnce   = flag.Bool("once", false, "run a single cycle and exit")
		fAtHour = flag.Int("at", 4, "local hour of day each daily cycle starts at")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, store.Config{
		Driver:   dbCfg.MayString("DRIVER", store.DriverSQLite),
		DSN:      dbCfg.MustString("DSN"),
		MaxConns: dbCfg.MayInt("MAX_CONNS", 4),
		LogSQL:   dbCfg.MayBool("LOG_SQL", false),
	}, store.WithLogger(*l))
	if err != nil {
		l.Panic().Err(err).Msg("store.Open failed")
	}
	defer func() {
		if err := st.Close(context.Background()); err != nil {
			l.Error().Err(err).Msg("failed to close store")
		}
	}()
	if err := st.Migrate(ctx); err != nil {
		l.Panic().Err(err).Msg("migrate failed")
	}

	cache, err := filecache.New(cacheCfg.MayString("DIR", "data"))
	if err != nil {
		l.Panic().Err(err).Msg("file cache init failed")
	}

	var names []string
	if *fChains != "" {
		names = strings.Split(*fChains, ",")
	}
	defs, unknown := selectChains(builtinChains(credCfg), names)
	if len(unknown) > 0 {
		l.Panic().Strs("chains", unknown).Msg("unknown chain names")
	}
	if len(defs) == 0 {
		l.Panic().Msg("no chains selected")
	}

	orchs := make([]*service.Orchestrator, 0, len(defs))
	for _, d := range defs {
		adapter, err := portal.New(d.Portal)
		if err != nil {
			l.Panic().Err(err).Str("chain", d.Portal.Name).Msg("bad chain definition")
		}
		orch, err := service.New(service.Options{
			ChainID:         d.Portal.ChainID,
			Name:            d.Portal.Name,
			Targeting:       d.Targeting,
			PricePrefix:     d.Portal.PricePrefix,
			CatalogEncoding: d.Portal.CatalogEncoding,
		}, adapter, st.SQL, repo.NewSQL(), cache)
		if err != nil {
			l.Panic().Err(err).Str("chain", d.Portal.Name).Msg("orchestrator init failed")
		}
		orchs = append(orchs, orch)
	}

	for {
		runCycle(ctx, defs, orchs)
		if *fOnce || ctx.Err() != nil {
			break
		}
		wait := untilNext(time.Now(), *fAtHour)
		l.Info().Dur("sleep", wait).Msg("cycle complete, waiting for next window")
		select {
		case <-time.After(wait):
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	l.Info().Msg("shutting down")
}

// runCycle runs every chain once, sequentially. A failing chain is logged
// and the cycle moves on; one broken portal must not starve the rest.
func runCycle(ctx context.Context, defs []chainDef, orchs []*service.Orchestrator) {
	l := logger.Get()
	for i, orch := range orchs {
		if ctx.Err() != nil {
			return
		}
		name := defs[i].Portal.Name
		rep, err := orch.Run(ctx)
		if err != nil {
			l.Error().Err(err).Str("chain", name).Msg("chain run failed")
			continue
		}
		l.Info().
			Str("chain", name).
			Int("files", rep.Files).
			Int("skipped", rep.Skipped).
			Int("inserted", rep.Inserted).
			Int("deduped", rep.Deduped).
			Msg("chain run complete")
	}
}

// untilNext returns the duration from now to the next occurrence of hour
// o'clock, always in the future.
func untilNext(now time.Time, hour int) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}
