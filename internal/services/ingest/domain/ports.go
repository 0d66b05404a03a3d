package domain

import (
	"context"
	"time"
)

// SourceAdapter is the contract every portal family implements. The
// orchestrator is written once against these four operations plus the
// filename date convention.
type SourceAdapter interface {
	// Authenticate establishes whatever session state the portal needs.
	// Portals without auth return a nil Session. Login rejection wraps
	// ErrAuthFailed
	Authenticate(ctx context.Context) (Session, error)

	// ListPriceFiles returns one page of price-file entries newer than
	// since, most recent first, plus whether another page should be
	// requested. Adapters stop paging on an empty page, an entry at or
	// before since, or a leading entry equal to page.FirstOfLast
	ListPriceFiles(ctx context.Context, s Session, since time.Time, page Page) ([]FileEntry, bool, error)

	// StoreCatalogFile locates the most recent store-catalog listing
	StoreCatalogFile(ctx context.Context, s Session) (FileEntry, error)

	// Fetch downloads one entry's raw bytes, hitting PreFetchLink first
	// when the entry carries one
	Fetch(ctx context.Context, s Session, entry FileEntry) ([]byte, error)

	// FileDate extracts the embedded timestamp from a canonical filename
	FileDate(name string) (time.Time, error)
}

// CatalogRepo is the content-store port for identity reconciliation and
// price persistence. Lookups return perr.ErrNotFound when absent.
type CatalogRepo interface {
	// ChainID resolves a chain's external id to its internal id
	ChainID(ctx context.Context, externalID int64) (int64, error)

	// InsertChain creates a chain row and returns its internal id
	InsertChain(ctx context.Context, externalID int64, name string) (int64, error)

	// Subchains maps a chain's known subchain external ids to internal ids
	Subchains(ctx context.Context, chainID int64) (map[int64]int64, error)

	// InsertSubchain creates a subchain row and returns its internal id
	InsertSubchain(ctx context.Context, chainID, externalID int64, name string) (int64, error)

	// Stores maps a chain's known store external ids to internal ids
	Stores(ctx context.Context, chainID int64) (map[int64]int64, error)

	// InsertStore creates a store row and returns its internal id
	InsertStore(ctx context.Context, chainID, externalID int64, name, city string) (int64, error)

	// LinkStore associates a store with a subchain, once per pair
	LinkStore(ctx context.Context, subchainID, storeID int64) error

	// ItemIDs maps item codes to internal ids for one chain in one round
	// trip. Unknown codes are simply absent from the result
	ItemIDs(ctx context.Context, chainID int64, codes []string) (map[string]int64, error)

	// InsertItems creates chain-item rows for items not yet known
	InsertItems(ctx context.Context, chainID int64, items []CatalogItem) error

	// InsertPrices persists price rows, counting how many were new and
	// how many hit the (filedate, store, item) uniqueness rule
	InsertPrices(ctx context.Context, rows []PriceRow) (inserted, deduped int, err error)

	// LatestFileDate returns the chain's watermark, ok=false when the
	// chain has no prices yet
	LatestFileDate(ctx context.Context, chainID int64) (time.Time, bool, error)
}
