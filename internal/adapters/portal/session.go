package portal

import (
	"context"
	"encoding/json"
	"net/url"
	"regexp"
	"sort"
	"time"

	"pricewatch/internal/platform/errors"
	"pricewatch/internal/services/ingest/domain"
)

var csrfTokenRe = regexp.MustCompile(`<meta name="csrftoken" content="([^"]+)"`)

// sessionAdapter speaks to cookie-session portals: a CSRF-token form
// login followed by POSTs to a JSON directory endpoint. The whole listing
// comes back in one response, so paging never continues.
type sessionAdapter struct {
	base
}

// sessionState is the live auth handle: the cookie jar lives on the HTTP
// client, the handle carries the post-login CSRF token.
type sessionState struct {
	csrf string
}

// dirEntry is one row of the portal's directory JSON.
type dirEntry struct {
	RowID string `json:"DT_RowId"`
	Time  string `json:"time"`
}

type dirListing struct {
	Rows []dirEntry `json:"aaData"`
}

func (a *sessionAdapter) Authenticate(ctx context.Context) (domain.Session, error) {
	loginPage, err := a.get(ctx, a.absURL("/login"))
	if err != nil {
		return nil, errors.Wrapf(domain.ErrAuthFailed, errors.ErrorCodeUnauthorized,
			"portal %s: load login page: %v", a.cfg.Name, err)
	}
	m := csrfTokenRe.FindSubmatch(loginPage)
	if m == nil {
		return nil, errors.Wrapf(domain.ErrAuthFailed, errors.ErrorCodeUnauthorized,
			"portal %s: login page has no csrf token", a.cfg.Name)
	}

	form := url.Values{
		"username":  {a.cfg.Username},
		"password":  {a.cfg.Password},
		"csrftoken": {string(m[1])},
	}
	if _, err := a.postForm(ctx, a.absURL("/login/user"), form); err != nil {
		return nil, errors.Wrapf(domain.ErrAuthFailed, errors.ErrorCodeUnauthorized,
			"portal %s: login post: %v", a.cfg.Name, err)
	}

	// the directory endpoint wants a fresh token from the file page;
	// failing to find one there means the login did not stick
	filePage, err := a.get(ctx, a.absURL("/file"))
	if err != nil {
		return nil, errors.Wrapf(domain.ErrAuthFailed, errors.ErrorCodeUnauthorized,
			"portal %s: load file page: %v", a.cfg.Name, err)
	}
	m = csrfTokenRe.FindSubmatch(filePage)
	if m == nil {
		return nil, errors.Wrapf(domain.ErrAuthFailed, errors.ErrorCodeUnauthorized,
			"portal %s: credentials rejected", a.cfg.Name)
	}
	return &sessionState{csrf: string(m[1])}, nil
}

func (a *sessionAdapter) ListPriceFiles(
	ctx context.Context,
	s domain.Session,
	since time.Time,
	_ domain.Page,
) ([]domain.FileEntry, bool, error) {
	rows, err := a.listDir(ctx, s, a.cfg.pricePrefix())
	if err != nil {
		return nil, false, err
	}

	type dated struct {
		entry domain.FileEntry
		at    time.Time
	}
	var picked []dated
	for _, row := range rows {
		at, err := time.Parse(time.RFC3339, row.Time)
		if err != nil {
			a.log.Warn().Str("file", row.RowID).Str("time", row.Time).Msg("unparseable listing time, skipping")
			continue
		}
		if !at.After(since) {
			continue
		}
		picked = append(picked, dated{
			entry: domain.FileEntry{
				Name:       a.rules.cleanName(row.RowID),
				SourceLink: a.absURL("/file/d/" + row.RowID),
			},
			at: at,
		})
	}
	sort.Slice(picked, func(i, j int) bool { return picked[i].at.After(picked[j].at) })

	entries := make([]domain.FileEntry, 0, len(picked))
	for _, d := range picked {
		entries = append(entries, d.entry)
	}
	return entries, false, nil
}

func (a *sessionAdapter) StoreCatalogFile(ctx context.Context, s domain.Session) (domain.FileEntry, error) {
	rows, err := a.listDir(ctx, s, a.cfg.storePrefix())
	if err != nil {
		return domain.FileEntry{}, err
	}

	var best domain.FileEntry
	var bestAt time.Time
	for _, row := range rows {
		if !a.rules.store.MatchString(row.RowID) {
			continue
		}
		at, err := a.rules.fileDate(row.RowID)
		if err != nil {
			continue
		}
		if best.Name == "" || at.After(bestAt) {
			best = domain.FileEntry{
				Name:       a.rules.cleanName(row.RowID),
				SourceLink: a.absURL("/file/d/" + row.RowID),
			}
			bestAt = at
		}
	}
	if best.Name == "" {
		return domain.FileEntry{}, errors.Newf(errors.ErrorCodeNotFound,
			"portal %s: no store catalog listed", a.cfg.Name)
	}
	return best, nil
}

func (a *sessionAdapter) Fetch(ctx context.Context, _ domain.Session, entry domain.FileEntry) ([]byte, error) {
	return a.fetchEntry(ctx, entry)
}

func (a *sessionAdapter) listDir(ctx context.Context, s domain.Session, search string) ([]dirEntry, error) {
	st, ok := s.(*sessionState)
	if !ok || st == nil {
		return nil, errors.Wrapf(domain.ErrAuthFailed, errors.ErrorCodeUnauthorized,
			"portal %s: listing without a session", a.cfg.Name)
	}

	form := url.Values{
		"csrftoken":      {st.csrf},
		"sSearch":        {search},
		"iDisplayLength": {"100000"},
	}
	body, err := a.postForm(ctx, a.absURL("/file/json/dir"), form)
	if err != nil {
		return nil, err
	}

	var listing dirListing
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, errors.Wrapf(err, errors.ErrorCodeUnavailable,
			"portal %s: bad directory response", a.cfg.Name)
	}
	return listing.Rows, nil
}
