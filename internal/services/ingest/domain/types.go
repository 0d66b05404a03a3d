// Package domain holds the ingest service's core types and ports.
package domain

import (
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

// Session is an opaque auth handle produced by a portal adapter's
// Authenticate and threaded back into its later calls. Stateless portals
// may return nil.
type Session any

// FileEntry is one downloadable catalog file as listed by a portal.
type FileEntry struct {
	// Name is the canonical filename, carrying the portal's date suffix
	Name string

	// SourceLink is the URL the payload is fetched from
	SourceLink string

	// PreFetchLink, when set, must be requested (and its body discarded)
	// before SourceLink becomes servable
	PreFetchLink string
}

// Page carries pagination state between listing calls.
type Page struct {
	// Number is the 1-based page to request
	Number int

	// FirstOfLast is the leading filename of the previous page. Adapters
	// and the orchestrator use it as a cycle guard against portals whose
	// paging wraps around instead of terminating
	FirstOfLast string
}

// Targeting selects which catalog items a chain run cares about. All
// criteria are optional and their matches union.
type Targeting struct {
	Manufacturer string
	ItemCodes    []string
	CodePattern  *regexp.Regexp
}

// Empty reports whether no criterion is configured, which matches nothing.
func (t Targeting) Empty() bool {
	return t.Manufacturer == "" && len(t.ItemCodes) == 0 && t.CodePattern == nil
}

// Match reports whether an item satisfies at least one configured criterion.
func (t Targeting) Match(it CatalogItem) bool {
	if t.Manufacturer != "" && it.Manufacturer == t.Manufacturer {
		return true
	}
	for _, code := range t.ItemCodes {
		if it.Code == code {
			return true
		}
	}
	if t.CodePattern != nil && t.CodePattern.MatchString(it.Code) {
		return true
	}
	return false
}

// CatalogItem is one product entry parsed out of a price-full document.
type CatalogItem struct {
	Code         string
	Name         string
	Manufacturer string
	Unit         string
	Price        decimal.Decimal
	UpdateDate   time.Time
}

// PriceDocument is a parsed per-store price snapshot.
type PriceDocument struct {
	ChainID    int64
	SubchainID int64
	StoreID    int64
	Items      []CatalogItem
}

// StoreEntry is one store row parsed out of a store-catalog document.
type StoreEntry struct {
	ID   int64
	Name string
	City string
}

// SubchainEntry groups the stores of one subchain within a catalog.
type SubchainEntry struct {
	ID     int64
	Name   string
	Stores []StoreEntry
}

// StoreCatalog is a parsed store-catalog document for one chain.
type StoreCatalog struct {
	ChainID   int64
	ChainName string
	Subchains []SubchainEntry
}

// PriceRow is one persisted price observation, keyed by internal ids.
type PriceRow struct {
	FileDate   time.Time
	StoreID    int64
	ItemID     int64
	UpdateDate time.Time
	Price      decimal.Decimal
}

// ScanReport summarizes one pass over cached price files.
type ScanReport struct {
	Files    int
	Skipped  int
	Inserted int
	Deduped  int
}
