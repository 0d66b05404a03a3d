package portal

import (
	"bytes"
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"pricewatch/internal/platform/errors"
	"pricewatch/internal/services/ingest/domain"
)

var dateFolderRe = regexp.MustCompile(`^\d{8}/?$`)

// folderAdapter speaks to portals that publish plain directory indexes,
// one date-named folder per day of files. Each folder acts as one page:
// page N of the listing is the Nth newest folder.
type folderAdapter struct {
	base
}

func (a *folderAdapter) Authenticate(context.Context) (domain.Session, error) {
	return nil, nil
}

func (a *folderAdapter) ListPriceFiles(
	ctx context.Context,
	_ domain.Session,
	since time.Time,
	page domain.Page,
) ([]domain.FileEntry, bool, error) {
	folders, err := a.dateFolders(ctx)
	if err != nil {
		return nil, false, err
	}
	idx := page.Number - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(folders) {
		return nil, false, nil
	}
	folder := folders[idx]

	names, err := a.folderLinks(ctx, folder, a.rules.price)
	if err != nil {
		return nil, false, err
	}

	var entries []domain.FileEntry
	stop := false
	for _, name := range names {
		at, err := a.rules.fileDate(name)
		if err != nil {
			a.log.Warn().Str("file", name).Msg("no date in listed filename, skipping")
			continue
		}
		if !at.After(since) || name == page.FirstOfLast {
			stop = true
			break
		}
		entries = append(entries, domain.FileEntry{
			Name:       a.rules.cleanName(name),
			SourceLink: a.absURL(folder + "/" + name),
		})
	}

	continuePaging := !stop && idx+1 < len(folders)
	return entries, continuePaging, nil
}

func (a *folderAdapter) StoreCatalogFile(ctx context.Context, _ domain.Session) (domain.FileEntry, error) {
	folders, err := a.dateFolders(ctx)
	if err != nil {
		return domain.FileEntry{}, err
	}
	for _, folder := range folders {
		names, err := a.folderLinks(ctx, folder, a.rules.store)
		if err != nil {
			return domain.FileEntry{}, err
		}
		if len(names) == 0 {
			continue
		}
		return domain.FileEntry{
			Name:       a.rules.cleanName(names[0]),
			SourceLink: a.absURL(folder + "/" + names[0]),
		}, nil
	}
	return domain.FileEntry{}, errors.Newf(errors.ErrorCodeNotFound,
		"portal %s: no store catalog listed", a.cfg.Name)
}

func (a *folderAdapter) Fetch(ctx context.Context, _ domain.Session, entry domain.FileEntry) ([]byte, error) {
	return a.fetchEntry(ctx, entry)
}

// dateFolders lists the portal root's date-named folders, newest first.
func (a *folderAdapter) dateFolders(ctx context.Context) ([]string, error) {
	hrefs, err := a.indexLinks(ctx, "")
	if err != nil {
		return nil, err
	}
	var folders []string
	for _, href := range hrefs {
		if dateFolderRe.MatchString(href) {
			folders = append(folders, strings.TrimSuffix(href, "/"))
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(folders)))
	return folders, nil
}

// folderLinks lists one folder's filenames matching the given rule,
// newest first by embedded date.
func (a *folderAdapter) folderLinks(ctx context.Context, folder string, rule *regexp.Regexp) ([]string, error) {
	hrefs, err := a.indexLinks(ctx, folder+"/")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, href := range hrefs {
		name := href[strings.LastIndex(href, "/")+1:]
		if rule.MatchString(name) {
			names = append(names, name)
		}
	}
	sort.Slice(names, func(i, j int) bool { return names[i] > names[j] })
	return names, nil
}

func (a *folderAdapter) indexLinks(ctx context.Context, path string) ([]string, error) {
	body, err := a.get(ctx, a.absURL(path))
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorCodeUnavailable,
			"portal %s: bad index page", a.cfg.Name)
	}

	var hrefs []string
	doc.Find("a").Each(func(_ int, sel *goquery.Selection) {
		if href, ok := sel.Attr("href"); ok {
			hrefs = append(hrefs, strings.TrimSpace(href))
		}
	})
	return hrefs, nil
}
