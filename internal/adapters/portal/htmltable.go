package portal

import (
	"bytes"
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"pricewatch/internal/platform/errors"
	"pricewatch/internal/services/ingest/domain"
)

// htmlAdapter scrapes portals that publish their listings as an HTML
// table: one row per file, a cell with the filename and a cell with the
// download anchor. Some of these portals page the table, some dump it
// whole; Config.HasPaging tells them apart.
type htmlAdapter struct {
	base
}

func (a *htmlAdapter) Authenticate(context.Context) (domain.Session, error) {
	return nil, nil
}

func (a *htmlAdapter) ListPriceFiles(
	ctx context.Context,
	_ domain.Session,
	since time.Time,
	page domain.Page,
) ([]domain.FileEntry, bool, error) {
	doc, err := a.listingTable(ctx, a.pricePath(page.Number))
	if err != nil {
		return nil, false, err
	}

	var entries []domain.FileEntry
	stop := false

	doc.Find("tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		name, link := a.scanRow(row, a.rules.price)
		if name == "" || link == "" {
			return true
		}

		at, err := a.rules.fileDate(name)
		if err != nil {
			a.log.Warn().Str("file", name).Msg("no date in listed filename, skipping")
			return true
		}
		// rows are newest first: a stale entry or the previous page's
		// leading name means the portal wrapped around
		if !at.After(since) || name == page.FirstOfLast {
			stop = true
			return false
		}
		entries = append(entries, domain.FileEntry{Name: name, SourceLink: a.absURL(link)})
		return true
	})

	continuePaging := a.cfg.HasPaging && !stop && len(entries) > 0
	return entries, continuePaging, nil
}

func (a *htmlAdapter) StoreCatalogFile(ctx context.Context, _ domain.Session) (domain.FileEntry, error) {
	doc, err := a.listingTable(ctx, a.cfg.StorePath)
	if err != nil {
		return domain.FileEntry{}, err
	}

	var entry domain.FileEntry
	doc.Find("tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		name, link := a.scanRow(row, a.rules.store)
		if name == "" || link == "" {
			return true
		}
		entry = domain.FileEntry{Name: name, SourceLink: a.absURL(link)}
		return false
	})
	if entry.Name == "" {
		return domain.FileEntry{}, errors.Newf(errors.ErrorCodeNotFound,
			"portal %s: no store catalog listed", a.cfg.Name)
	}
	return entry, nil
}

func (a *htmlAdapter) Fetch(ctx context.Context, _ domain.Session, entry domain.FileEntry) ([]byte, error) {
	return a.fetchEntry(ctx, entry)
}

// scanRow pulls the filename and download href out of one table row. The
// filename cell is whichever td's text matches the prefix rule, the link
// is the row's first anchor.
func (a *htmlAdapter) scanRow(row *goquery.Selection, prefix interface{ MatchString(string) bool }) (name, link string) {
	row.Find("td").Each(func(_ int, td *goquery.Selection) {
		if href, ok := td.Find("a").Attr("href"); ok && link == "" {
			link = href
			return
		}
		text := a.rules.cleanName(td.Text())
		if name == "" && prefix.MatchString(text) {
			name = text
		}
	})
	return name, link
}

func (a *htmlAdapter) pricePath(page int) string {
	if page < 1 {
		page = 1
	}
	return strings.ReplaceAll(a.cfg.PricePath, "{page}", strconv.Itoa(page))
}

func (a *htmlAdapter) listingTable(ctx context.Context, path string) (*goquery.Document, error) {
	body, err := a.get(ctx, a.absURL(path))
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorCodeUnavailable,
			"portal %s: bad listing page", a.cfg.Name)
	}
	return doc, nil
}
