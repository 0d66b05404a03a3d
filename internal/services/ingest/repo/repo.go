// Package repo provides SQL bindings for domain.CatalogRepo
package repo

import (
	"context"
	"strings"
	"time"

	"pricewatch/internal/modkit/repokit"
	"pricewatch/internal/platform/errors"
	"pricewatch/internal/services/ingest/domain"
)

// dateLayout is how filedate and update_date are stored. Minute
// resolution matches the timestamps embedded in portal filenames
const dateLayout = "2006-01-02 15:04"

type (
	// SQL is a binder for domain.CatalogRepo over any SQL backend
	SQL     struct{}
	queries struct{ q repokit.Queryer }
)

// Compile-time assertion: queries implements domain.CatalogRepo
var _ domain.CatalogRepo = (*queries)(nil)

// NewSQL returns a SQL binder for CatalogRepo
func NewSQL() repokit.Binder[domain.CatalogRepo] { return SQL{} }

// Bind implements repokit.Binder
func (SQL) Bind(q repokit.Queryer) domain.CatalogRepo { return &queries{q: q} }

// ChainID resolves a chain's external id to its internal id
func (r *queries) ChainID(ctx context.Context, externalID int64) (int64, error) {
	var id int64
	err := r.q.QueryRow(ctx, `SELECT id FROM chain WHERE chain_id = ?`, externalID).Scan(&id)
	if err != nil {
		if errors.IsNoRows(err) {
			return 0, errors.Wrapf(errors.ErrNotFound, errors.ErrorCodeNotFound, "chain %d", externalID)
		}
		return 0, errors.Wrap(err, errors.ErrorCodeDB, "select chain")
	}
	return id, nil
}

// InsertChain creates a chain row and returns its internal id
func (r *queries) InsertChain(ctx context.Context, externalID int64, name string) (int64, error) {
	var id int64
	err := r.q.QueryRow(ctx,
		`INSERT INTO chain (chain_id, name) VALUES (?, ?) RETURNING id`,
		externalID, name,
	).Scan(&id)
	if err != nil {
		return 0, errors.FromDB(err, "insert chain")
	}
	return id, nil
}

// Subchains maps a chain's subchain external ids to internal ids
func (r *queries) Subchains(ctx context.Context, chainID int64) (map[int64]int64, error) {
	return r.idMap(ctx, `SELECT subchain_id, id FROM subchain WHERE chain = ?`, chainID)
}

// InsertSubchain creates a subchain row and returns its internal id
func (r *queries) InsertSubchain(ctx context.Context, chainID, externalID int64, name string) (int64, error) {
	var id int64
	err := r.q.QueryRow(ctx,
		`INSERT INTO subchain (chain, subchain_id, name) VALUES (?, ?, ?) RETURNING id`,
		chainID, externalID, name,
	).Scan(&id)
	if err != nil {
		return 0, errors.FromDB(err, "insert subchain")
	}
	return id, nil
}

// Stores maps a chain's store external ids to internal ids
func (r *queries) Stores(ctx context.Context, chainID int64) (map[int64]int64, error) {
	return r.idMap(ctx, `SELECT store_id, id FROM store WHERE chain = ?`, chainID)
}

// InsertStore creates a store row and returns its internal id
func (r *queries) InsertStore(ctx context.Context, chainID, externalID int64, name, city string) (int64, error) {
	var id int64
	err := r.q.QueryRow(ctx,
		`INSERT INTO store (chain, store_id, name, city) VALUES (?, ?, ?, ?) RETURNING id`,
		chainID, externalID, name, city,
	).Scan(&id)
	if err != nil {
		return 0, errors.FromDB(err, "insert store")
	}
	return id, nil
}

// LinkStore associates a store with a subchain, once per pair
func (r *queries) LinkStore(ctx context.Context, subchainID, storeID int64) error {
	_, err := r.q.Exec(ctx,
		`INSERT INTO store_link (subchain, store) VALUES (?, ?) ON CONFLICT (subchain, store) DO NOTHING`,
		subchainID, storeID,
	)
	if err != nil {
		return errors.FromDB(err, "insert store link")
	}
	return nil
}

// ItemIDs maps item codes to internal ids for one chain. Unknown codes
// are absent from the result
func (r *queries) ItemIDs(ctx context.Context, chainID int64, codes []string) (map[string]int64, error) {
	out := make(map[string]int64, len(codes))
	if len(codes) == 0 {
		return out, nil
	}

	args := make([]any, 0, len(codes)+1)
	args = append(args, chainID)
	for _, c := range codes {
		args = append(args, c)
	}
	query := `SELECT code, id FROM chain_item WHERE chain = ? AND code IN (` + placeholders(len(codes)) + `)`

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorCodeDB, "select chain items")
	}
	defer rows.Close()

	for rows.Next() {
		var code string
		var id int64
		if err := rows.Scan(&code, &id); err != nil {
			return nil, errors.Wrap(err, errors.ErrorCodeDB, "scan chain item")
		}
		out[code] = id
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorCodeDB, "iterate chain items")
	}
	return out, nil
}

// InsertItems creates chain-item rows for a batch of catalog items
func (r *queries) InsertItems(ctx context.Context, chainID int64, items []domain.CatalogItem) error {
	for _, it := range items {
		_, err := r.q.Exec(ctx, `
			INSERT INTO chain_item (chain, code, name, manufacturer, units)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (chain, code) DO NOTHING`,
			chainID, it.Code, it.Name, it.Manufacturer, it.Unit,
		)
		if err != nil {
			return errors.FromDB(err, "insert chain item")
		}
	}
	return nil
}

// InsertPrices persists price rows. The (filedate, store, item)
// uniqueness rule makes re-ingesting a file a counted no-op, first
// write wins
func (r *queries) InsertPrices(ctx context.Context, rows []domain.PriceRow) (inserted, deduped int, err error) {
	for _, row := range rows {
		tag, err := r.q.Exec(ctx, `
			INSERT INTO price (filedate, store, item, update_date, price)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (filedate, store, item) DO NOTHING`,
			row.FileDate.Format(dateLayout),
			row.StoreID,
			row.ItemID,
			row.UpdateDate.Format(dateLayout),
			row.Price.String(),
		)
		if err != nil {
			return inserted, deduped, errors.FromDB(err, "insert price")
		}
		if tag.RowsAffected() > 0 {
			inserted++
		} else {
			deduped++
		}
	}
	return inserted, deduped, nil
}

// LatestFileDate returns the chain's watermark, ok=false when the chain
// has no prices yet
func (r *queries) LatestFileDate(ctx context.Context, chainID int64) (time.Time, bool, error) {
	var raw string
	err := r.q.QueryRow(ctx, `
		SELECT price.filedate
		FROM price
		INNER JOIN chain_item ON chain_item.id = price.item
		WHERE chain_item.chain = ?
		ORDER BY price.filedate DESC
		LIMIT 1`,
		chainID,
	).Scan(&raw)
	if err != nil {
		if errors.IsNoRows(err) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, errors.Wrap(err, errors.ErrorCodeDB, "select watermark")
	}

	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, false, errors.Wrapf(err, errors.ErrorCodeDB, "bad stored filedate %q", raw)
	}
	return t, true, nil
}

func (r *queries) idMap(ctx context.Context, query string, chainID int64) (map[int64]int64, error) {
	rows, err := r.q.Query(ctx, query, chainID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorCodeDB, "select id map")
	}
	defer rows.Close()

	out := map[int64]int64{}
	for rows.Next() {
		var external, internal int64
		if err := rows.Scan(&external, &internal); err != nil {
			return nil, errors.Wrap(err, errors.ErrorCodeDB, "scan id map")
		}
		out[external] = internal
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorCodeDB, "iterate id map")
	}
	return out, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
