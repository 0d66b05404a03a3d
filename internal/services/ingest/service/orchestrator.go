// Package service drives one chain's full ingestion cycle: authenticate,
// paginated download into the file cache, then a chronological scan that
// reconciles identities and persists prices.
package service

import (
	"bytes"
	"context"
	stderrs "errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"pricewatch/internal/adapters/archive"
	"pricewatch/internal/adapters/filecache"
	"pricewatch/internal/adapters/pricexml"
	"pricewatch/internal/modkit/repokit"
	"pricewatch/internal/platform/errors"
	"pricewatch/internal/platform/logger"
	"pricewatch/internal/services/ingest/domain"
)

// State names where a chain run currently is.
type State string

const (
	StateUninitialized      State = "uninitialized"
	StateStoreCatalogSynced State = "store_catalog_synced"
	StateDownloading        State = "downloading"
	StateReconciling        State = "reconciling"
	StateIdle               State = "idle"
)

const (
	defaultRetries      = 3
	defaultRetryBackoff = 30 * time.Second
	defaultPricePrefix  = "PriceFull"

	// maxPages is a hard stop for portals whose paging misbehaves in
	// ways the cycle guard cannot see
	maxPages = 1000
)

// Options configures one chain's orchestrator.
type Options struct {
	// ChainID is the chain's external id
	ChainID int64

	// Name labels the chain row on first insert
	Name string

	// Targeting selects which items the scan keeps
	Targeting domain.Targeting

	// PricePrefix filters price files in the cache listing
	PricePrefix string

	// CatalogEncoding names the store-catalog text encoding
	CatalogEncoding archive.Encoding

	// Retries and RetryBackoff bound per-file fetch retries
	Retries      int
	RetryBackoff time.Duration
}

// Orchestrator runs one chain end to end against an adapter, the file
// cache and the content store.
type Orchestrator struct {
	opts    Options
	adapter domain.SourceAdapter
	db      repokit.TxRunner
	bind    repokit.Binder[domain.CatalogRepo]
	cache   *filecache.Cache
	log     *logger.Logger

	state   State
	chain   int64
	session domain.Session

	// sleep is a seam so tests can skip the retry backoff
	sleep func(time.Duration)
}

// New wires an orchestrator. The chain row itself is resolved lazily on
// the first Download or Scan, because resolving may require a full store
// catalog sync.
func New(
	opts Options,
	adapter domain.SourceAdapter,
	db repokit.TxRunner,
	bind repokit.Binder[domain.CatalogRepo],
	cache *filecache.Cache,
) (*Orchestrator, error) {
	if opts.ChainID <= 0 {
		return nil, errors.New(errors.ErrorCodeInvalidArgument, "ingest: chain id required")
	}
	if adapter == nil || db == nil || bind == nil || cache == nil {
		return nil, errors.New(errors.ErrorCodeInvalidArgument, "ingest: missing dependency")
	}
	if opts.PricePrefix == "" {
		opts.PricePrefix = defaultPricePrefix
	}
	if opts.Retries <= 0 {
		opts.Retries = defaultRetries
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = defaultRetryBackoff
	}
	return &Orchestrator{
		opts:    opts,
		adapter: adapter,
		db:      db,
		bind:    bind,
		cache:   cache,
		log:     logger.Named("ingest"),
		state:   StateUninitialized,
		sleep:   time.Sleep,
	}, nil
}

// State reports the orchestrator's current lifecycle state.
func (o *Orchestrator) State() State { return o.state }

// Run performs one full cycle: download everything new, then scan it in.
func (o *Orchestrator) Run(ctx context.Context) (domain.ScanReport, error) {
	ctx = logger.WithChain(ctx, o.opts.ChainID, uuid.NewString())
	// cookies and CSRF tokens expire between scheduled cycles, so a run
	// never trusts the previous run's portal session
	o.session = nil
	if err := o.Download(ctx); err != nil {
		return domain.ScanReport{}, err
	}
	return o.Scan(ctx)
}

// ensureReady authenticates and resolves the chain's internal id. A chain
// never seen before gets a full store-catalog sync first: prices cannot
// be attributed without at least one catalog ingest.
func (o *Orchestrator) ensureReady(ctx context.Context) error {
	if o.session == nil {
		s, err := o.adapter.Authenticate(ctx)
		if err != nil {
			return err
		}
		o.session = s
	}
	if o.chain != 0 {
		return nil
	}

	var id int64
	err := repokit.WithTx(ctx, o.db, func(q repokit.Queryer) error {
		var err error
		id, err = repokit.MustBind(o.bind, q).ChainID(ctx, o.opts.ChainID)
		return err
	})
	switch {
	case err == nil:
		o.chain = id
		return nil
	case stderrs.Is(err, errors.ErrNotFound):
		logger.C(ctx).Info().Msg("chain not in content store, running initial store catalog sync")
		if err := o.syncStoreCatalog(ctx, true); err != nil {
			return err
		}
		o.state = StateStoreCatalogSynced
		return nil
	default:
		return err
	}
}

// Download walks the portal's price-file listing down to the watermark
// and lands every new file in the cache as canonical gzip.
func (o *Orchestrator) Download(ctx context.Context) error {
	if err := o.ensureReady(ctx); err != nil {
		return err
	}
	o.state = StateDownloading

	watermark, err := o.watermark(ctx)
	if err != nil {
		return err
	}
	log := logger.C(ctx)
	log.Info().Time("watermark", watermark).Msg("starting download")

	page := domain.Page{}
	firstOfLast := ""
	fetched := 0

	for page.Number < maxPages {
		page.Number++
		page.FirstOfLast = firstOfLast

		entries, more, err := o.listPage(ctx, watermark, page)
		if err != nil {
			// a dead listing endpoint must not block the scan: files
			// already in the cache are still worth ingesting
			log.Warn().Err(err).Int("page", page.Number).Msg("giving up on listing, scanning what is cached")
			break
		}

		// the cycle guard applies to every portal family, whether or
		// not the adapter enforced it: a page that leads with the
		// previous page's first file means the listing wrapped around
		if len(entries) == 0 {
			firstOfLast = ""
		} else {
			if entries[0].Name == firstOfLast {
				log.Warn().Int("page", page.Number).Msg("pagination wrapped, stopping")
				break
			}
			firstOfLast = entries[0].Name
		}

		for _, entry := range entries {
			if o.cache.Has(o.opts.ChainID, entry.Name) {
				continue
			}
			if err := o.downloadEntry(ctx, entry); err != nil {
				log.Warn().Err(err).Str("file", entry.Name).Msg("giving up on file, continuing batch")
				continue
			}
			fetched++
		}

		if !more {
			break
		}
	}

	log.Info().Int("files", fetched).Msg("download finished")
	o.state = StateReconciling
	return nil
}

// listPage requests one listing page under the same bounded retry as
// file fetches; listing endpoints flake just as often as downloads.
func (o *Orchestrator) listPage(
	ctx context.Context, since time.Time, page domain.Page,
) ([]domain.FileEntry, bool, error) {
	var err error
	for attempt := 1; attempt <= o.opts.Retries; attempt++ {
		entries, more, lerr := o.adapter.ListPriceFiles(ctx, o.session, since, page)
		if lerr == nil {
			return entries, more, nil
		}
		err = lerr
		if ctx.Err() != nil {
			break
		}
		if attempt < o.opts.Retries {
			logger.C(ctx).Warn().Err(err).Int("page", page.Number).Int("attempt", attempt).Msg("listing failed, backing off")
			o.sleep(o.opts.RetryBackoff)
		}
	}
	return nil, false, errors.Wrapf(err, errors.CodeOf(err), "list price files page %d", page.Number)
}

// downloadEntry fetches one listed file with a bounded fixed-backoff
// retry, normalizes it and lands it in the cache.
func (o *Orchestrator) downloadEntry(ctx context.Context, entry domain.FileEntry) error {
	var raw []byte
	var err error
	for attempt := 1; attempt <= o.opts.Retries; attempt++ {
		raw, err = o.adapter.Fetch(ctx, o.session, entry)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return err
		}
		if attempt < o.opts.Retries {
			logger.C(ctx).Warn().Err(err).Str("file", entry.Name).Int("attempt", attempt).Msg("fetch failed, backing off")
			o.sleep(o.opts.RetryBackoff)
		}
	}
	if err != nil {
		return err
	}

	norm, err := archive.Normalize(raw)
	if err != nil {
		return err
	}
	return o.cache.Put(o.opts.ChainID, entry.Name, norm)
}

// Scan processes cached price files newer than the watermark in
// chronological order so price history accumulates in time order.
func (o *Orchestrator) Scan(ctx context.Context) (domain.ScanReport, error) {
	if err := o.ensureReady(ctx); err != nil {
		return domain.ScanReport{}, err
	}
	o.state = StateReconciling

	watermark, err := o.watermark(ctx)
	if err != nil {
		return domain.ScanReport{}, err
	}

	names, err := o.candidateFiles(watermark)
	if err != nil {
		return domain.ScanReport{}, err
	}

	log := logger.C(ctx)
	log.Info().Int("files", len(names)).Msg("scanning cached files")

	report := domain.ScanReport{Files: len(names)}
	resynced := false

	for _, name := range names {
		inserted, deduped, err := o.processFile(ctx, name)
		if stderrs.Is(err, domain.ErrStoreNotFound) && !resynced {
			// the file references a store we have never seen; refresh
			// the catalog once and retry this one file
			resynced = true
			if serr := o.syncStoreCatalog(ctx, false); serr != nil && !stderrs.Is(serr, domain.ErrCatalogCurrent) {
				log.Warn().Err(serr).Msg("store catalog resync failed")
			}
			inserted, deduped, err = o.processFile(ctx, name)
		}
		if err != nil {
			report.Skipped++
			log.Warn().Err(err).Str("file", name).Msg("skipping file")
			continue
		}
		report.Inserted += inserted
		report.Deduped += deduped
	}

	o.state = StateIdle
	log.Info().
		Int("inserted", report.Inserted).
		Int("deduped", report.Deduped).
		Int("skipped", report.Skipped).
		Msg("scan finished")
	return report, nil
}

// candidateFiles lists cached price files strictly after the watermark,
// sorted by their embedded date ascending.
func (o *Orchestrator) candidateFiles(watermark time.Time) ([]string, error) {
	names, err := o.cache.Files(o.opts.ChainID, o.opts.PricePrefix)
	if err != nil {
		return nil, err
	}

	type dated struct {
		name string
		at   time.Time
	}
	var picked []dated
	for _, name := range names {
		at, err := o.adapter.FileDate(name)
		if err != nil {
			continue
		}
		if !at.After(watermark) {
			continue
		}
		picked = append(picked, dated{name: name, at: at})
	}
	sort.Slice(picked, func(i, j int) bool { return picked[i].at.Before(picked[j].at) })

	out := make([]string, len(picked))
	for i, d := range picked {
		out[i] = d.name
	}
	return out, nil
}

// watermark is the chain's latest ingested file date, zero when the
// chain has no prices yet, meaning ingest everything available.
func (o *Orchestrator) watermark(ctx context.Context) (time.Time, error) {
	if o.chain == 0 {
		return time.Time{}, nil
	}
	var wm time.Time
	err := repokit.WithTx(ctx, o.db, func(q repokit.Queryer) error {
		t, ok, err := repokit.MustBind(o.bind, q).LatestFileDate(ctx, o.chain)
		if err != nil {
			return err
		}
		if ok {
			wm = t
		}
		return nil
	})
	return wm, err
}

// syncStoreCatalog downloads and reconciles the chain's store catalog.
// When initial is false and the latest catalog file already sits in the
// cache, the sync reports ErrCatalogCurrent instead of re-ingesting; the
// initial sync skips that check because the chain has no baseline yet.
func (o *Orchestrator) syncStoreCatalog(ctx context.Context, initial bool) error {
	entry, err := o.adapter.StoreCatalogFile(ctx, o.session)
	if err != nil {
		return err
	}
	if !initial && o.cache.Has(o.opts.ChainID, entry.Name) {
		return errors.Wrapf(domain.ErrCatalogCurrent, errors.ErrorCodeConflict,
			"catalog file %s already ingested", entry.Name)
	}

	logger.C(ctx).Info().Str("file", entry.Name).Bool("initial", initial).Msg("syncing store catalog")

	if err := o.downloadEntry(ctx, entry); err != nil {
		return err
	}
	gz, err := o.cache.Get(o.opts.ChainID, entry.Name)
	if err != nil {
		return err
	}
	doc, err := archive.Decompress(gz)
	if err != nil {
		return err
	}
	if doc, err = archive.DecodeText(doc, o.opts.CatalogEncoding); err != nil {
		return err
	}

	cat, err := pricexml.ParseStoreCatalog(bytes.NewReader(doc))
	if err != nil {
		return err
	}
	if cat.ChainID != o.opts.ChainID {
		return errors.Wrapf(domain.ErrWrongChainFile, errors.ErrorCodeInvalidArgument,
			"catalog declares chain %d, expected %d", cat.ChainID, o.opts.ChainID)
	}
	return o.reconcileCatalog(ctx, cat)
}

// reconcileCatalog lands a parsed catalog in the content store inside one
// transaction: chain row first, then lazily created subchains, stores and
// links.
func (o *Orchestrator) reconcileCatalog(ctx context.Context, cat *domain.StoreCatalog) error {
	return repokit.WithTx(ctx, o.db, func(q repokit.Queryer) error {
		r := repokit.MustBind(o.bind, q)

		chain, err := r.ChainID(ctx, cat.ChainID)
		if stderrs.Is(err, errors.ErrNotFound) {
			name := o.opts.Name
			if name == "" {
				name = cat.ChainName
			}
			chain, err = r.InsertChain(ctx, cat.ChainID, name)
		}
		if err != nil {
			return err
		}
		o.chain = chain

		subchains, err := r.Subchains(ctx, chain)
		if err != nil {
			return err
		}
		stores, err := r.Stores(ctx, chain)
		if err != nil {
			return err
		}

		created := 0
		for _, sc := range cat.Subchains {
			scID, ok := subchains[sc.ID]
			if !ok {
				if scID, err = r.InsertSubchain(ctx, chain, sc.ID, sc.Name); err != nil {
					return err
				}
				subchains[sc.ID] = scID
			}
			for _, st := range sc.Stores {
				stID, ok := stores[st.ID]
				if !ok {
					if stID, err = r.InsertStore(ctx, chain, st.ID, st.Name, st.City); err != nil {
						return err
					}
					stores[st.ID] = stID
					created++
				}
				// linked for known stores too: a partial earlier sync may
				// have left the pair without its store_link row
				if err := r.LinkStore(ctx, scID, stID); err != nil {
					return err
				}
			}
		}
		logger.C(ctx).Info().Int("new_stores", created).Msg("store catalog reconciled")
		return nil
	})
}
