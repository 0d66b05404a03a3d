package domain

import (
	perr "pricewatch/internal/platform/errors"
)

// Sentinel conditions the orchestrator branches on. Adapters and the
// processor wrap these with context; callers match with errors.Is.
var (
	// ErrAuthFailed means the portal rejected the chain's credentials.
	// Fatal for the chain's current run
	ErrAuthFailed = perr.New(perr.ErrorCodeUnauthorized, "portal authentication failed")

	// ErrWrongChainFile means a file declares a chain id other than the
	// one being processed. The file is discarded, the batch continues
	ErrWrongChainFile = perr.New(perr.ErrorCodeInvalidArgument, "file belongs to a different chain")

	// ErrMalformedFile means a payload could not be parsed into the
	// expected document shape at all
	ErrMalformedFile = perr.New(perr.ErrorCodeInvalidArgument, "malformed catalog file")

	// ErrStoreNotFound means a price file references a store the content
	// store does not know yet. Triggers one catalog resync and retry
	ErrStoreNotFound = perr.New(perr.ErrorCodeNotFound, "store not known")

	// ErrCatalogCurrent means a store-catalog resync found the latest
	// available catalog file already ingested
	ErrCatalogCurrent = perr.New(perr.ErrorCodeConflict, "store catalog already current")
)
