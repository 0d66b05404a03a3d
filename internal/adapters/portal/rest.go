package portal

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	"pricewatch/internal/platform/errors"
	"pricewatch/internal/services/ingest/domain"
)

// restAdapter speaks to unauthenticated JSON portals. The listing
// endpoint returns every file of one type in a single response, newest
// first, and downloads only become servable after a prefetch hit against
// a companion endpoint.
type restAdapter struct {
	base
}

const (
	fileTypePrices = "4"
	fileTypeStores = "1"
)

// restFile is one row of the listing response.
type restFile struct {
	Name string `json:"FileNm"`
}

func (a *restAdapter) Authenticate(context.Context) (domain.Session, error) {
	return nil, nil
}

func (a *restAdapter) ListPriceFiles(
	ctx context.Context,
	_ domain.Session,
	since time.Time,
	_ domain.Page,
) ([]domain.FileEntry, bool, error) {
	files, err := a.listFiles(ctx, fileTypePrices)
	if err != nil {
		return nil, false, err
	}

	var entries []domain.FileEntry
	for _, f := range files {
		at, err := a.rules.fileDate(f.Name)
		if err != nil {
			a.log.Warn().Str("file", f.Name).Msg("no date in listed filename, skipping")
			continue
		}
		// rows come newest first, the first stale one ends the walk
		if !at.After(since) {
			break
		}
		entries = append(entries, a.entryFor(f.Name))
	}
	return entries, false, nil
}

func (a *restAdapter) StoreCatalogFile(ctx context.Context, _ domain.Session) (domain.FileEntry, error) {
	files, err := a.listFiles(ctx, fileTypeStores)
	if err != nil {
		return domain.FileEntry{}, err
	}
	if len(files) == 0 {
		return domain.FileEntry{}, errors.Newf(errors.ErrorCodeNotFound,
			"portal %s: no store catalog listed", a.cfg.Name)
	}
	return a.entryFor(files[0].Name), nil
}

func (a *restAdapter) Fetch(ctx context.Context, _ domain.Session, entry domain.FileEntry) ([]byte, error) {
	return a.fetchEntry(ctx, entry)
}

func (a *restAdapter) entryFor(name string) domain.FileEntry {
	return domain.FileEntry{
		Name:         a.rules.cleanName(name),
		SourceLink:   a.absURL("/Download/" + name),
		PreFetchLink: a.absURL("/Download.aspx?FileNm=" + url.QueryEscape(name)),
	}
}

func (a *restAdapter) listFiles(ctx context.Context, fileType string) ([]restFile, error) {
	body, err := a.get(ctx, a.absURL("/MainIO_Hok.aspx?WFileType="+fileType))
	if err != nil {
		return nil, err
	}
	var files []restFile
	if err := json.Unmarshal(body, &files); err != nil {
		return nil, errors.Wrapf(err, errors.ErrorCodeUnavailable,
			"portal %s: bad listing response", a.cfg.Name)
	}
	return files, nil
}
