package service

import (
	"bytes"
	"context"

	"pricewatch/internal/adapters/archive"
	"pricewatch/internal/adapters/pricexml"
	"pricewatch/internal/modkit/repokit"
	"pricewatch/internal/platform/errors"
	"pricewatch/internal/platform/logger"
	"pricewatch/internal/services/ingest/domain"
)

// processFile ingests one cached price file: parse, validate the chain,
// resolve the store, keep targeted items, reconcile chain-item identities
// and persist price rows. Identity resolution and the price insert share
// one transaction so a failed file leaves nothing behind.
func (o *Orchestrator) processFile(ctx context.Context, name string) (inserted, deduped int, err error) {
	gz, err := o.cache.Get(o.opts.ChainID, name)
	if err != nil {
		return 0, 0, err
	}
	raw, err := archive.Decompress(gz)
	if err != nil {
		return 0, 0, errors.Wrapf(domain.ErrMalformedFile, errors.ErrorCodeInvalidArgument,
			"%s: %v", name, err)
	}

	doc, err := pricexml.ParsePriceDocument(bytes.NewReader(raw))
	if err != nil {
		return 0, 0, err
	}
	if doc.ChainID != o.opts.ChainID {
		return 0, 0, errors.Wrapf(domain.ErrWrongChainFile, errors.ErrorCodeInvalidArgument,
			"%s declares chain %d, expected %d", name, doc.ChainID, o.opts.ChainID)
	}

	fileDate, err := o.adapter.FileDate(name)
	if err != nil {
		return 0, 0, err
	}

	matched := make([]domain.CatalogItem, 0, len(doc.Items))
	for _, it := range doc.Items {
		if o.opts.Targeting.Match(it) {
			matched = append(matched, it)
		}
	}
	if len(matched) == 0 {
		logger.C(ctx).Debug().Str("file", name).Msg("no targeted items in file")
		return 0, 0, nil
	}

	err = repokit.WithTx(ctx, o.db, func(q repokit.Queryer) error {
		r := repokit.MustBind(o.bind, q)

		// per-chain store lookup; a miss here is the resync trigger
		stores, err := r.Stores(ctx, o.chain)
		if err != nil {
			return err
		}
		storeID, ok := stores[doc.StoreID]
		if !ok {
			return errors.Wrapf(domain.ErrStoreNotFound, errors.ErrorCodeNotFound,
				"%s references store %d", name, doc.StoreID)
		}

		ids, err := o.resolveItems(ctx, r, matched)
		if err != nil {
			return err
		}

		rows := make([]domain.PriceRow, 0, len(matched))
		for _, it := range matched {
			id, ok := ids[it.Code]
			if !ok {
				return errors.Newf(errors.ErrorCodeDB, "item %s unresolved after insert", it.Code)
			}
			update := it.UpdateDate
			if update.IsZero() {
				update = fileDate
			}
			rows = append(rows, domain.PriceRow{
				FileDate:   fileDate,
				StoreID:    storeID,
				ItemID:     id,
				UpdateDate: update,
				Price:      it.Price,
			})
		}

		inserted, deduped, err = r.InsertPrices(ctx, rows)
		return err
	})
	if err != nil {
		return 0, 0, err
	}

	logger.C(ctx).Info().
		Str("file", name).
		Int("matched", len(matched)).
		Int("inserted", inserted).
		Int("deduped", deduped).
		Msg("file ingested")
	return inserted, deduped, nil
}

// resolveItems maps item codes to internal ids, batch-inserting anything
// unknown and re-resolving once. Single-writer execution makes the
// insert-then-requery pattern safe.
func (o *Orchestrator) resolveItems(
	ctx context.Context,
	r domain.CatalogRepo,
	items []domain.CatalogItem,
) (map[string]int64, error) {
	codes := make([]string, 0, len(items))
	for _, it := range items {
		codes = append(codes, it.Code)
	}

	ids, err := r.ItemIDs(ctx, o.chain, codes)
	if err != nil {
		return nil, err
	}

	var missing []domain.CatalogItem
	for _, it := range items {
		if _, ok := ids[it.Code]; !ok {
			missing = append(missing, it)
		}
	}
	if len(missing) == 0 {
		return ids, nil
	}

	if err := r.InsertItems(ctx, o.chain, missing); err != nil {
		return nil, err
	}
	return r.ItemIDs(ctx, o.chain, codes)
}
