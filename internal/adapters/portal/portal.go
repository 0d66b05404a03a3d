// Package portal implements the source-adapter contract for the four
// upstream portal families chains publish through.
//
// Families differ in auth (cookie session with a CSRF token, or none),
// listing mechanism (JSON endpoints, scraped HTML tables, date-named
// folder indexes) and pagination signal. Each family is one adapter type
// configured per chain with a Config value; chains never get their own
// type.
package portal

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"pricewatch/internal/adapters/archive"
	"pricewatch/internal/platform/errors"
	"pricewatch/internal/platform/logger"
	"pricewatch/internal/services/ingest/domain"
)

// Family selects which portal protocol an adapter speaks.
type Family string

const (
	// FamilySession is a cookie-session portal with CSRF form login and
	// a JSON directory endpoint
	FamilySession Family = "session"

	// FamilyREST is an unauthenticated JSON listing endpoint whose
	// downloads need a prefetch hit first
	FamilyREST Family = "rest"

	// FamilyHTMLTable serves its file listing as an HTML table, paged or
	// not per portal
	FamilyHTMLTable Family = "html"

	// FamilyFolder publishes date-named folder indexes of plain links
	FamilyFolder Family = "folder"
)

const (
	defaultPricePrefix = "PriceFull"
	defaultStorePrefix = "Stores"
	defaultDatePattern = `-(\d{12})`
	defaultDateLayout  = "200601021504"
	defaultHTTPTimeout = 2 * time.Minute
)

// Config is the per-chain portal description. One Config plus one family
// adapter replaces a chain subclass.
type Config struct {
	Family  Family `validate:"required,oneof=session rest html folder"`
	Name    string `validate:"required"`
	ChainID int64  `validate:"required,gt=0"`
	BaseURL string `validate:"required,url"`

	// Credentials, session family only
	Username string `validate:"required_if=Family session"`
	Password string

	// PricePath and StorePath are the listing paths for the html family.
	// PricePath may carry a {page} placeholder when HasPaging is set
	PricePath string `validate:"required_if=Family html"`
	StorePath string `validate:"required_if=Family html"`

	// PricePrefix and StorePrefix distinguish the two file kinds in
	// listings. Defaults cover every known portal
	PricePrefix string
	StorePrefix string

	// DatePattern captures the timestamp digits embedded in filenames,
	// DateLayout parses the captured group. A filename that does not
	// match is a setup error, caught by Verify against SampleName
	DatePattern string
	DateLayout  string

	// CleanPattern is stripped from listed filenames before use. Some
	// portals append a spurious suffix to display names
	CleanPattern string

	// CatalogEncoding names the store-catalog text encoding when the
	// portal does not emit utf-8
	CatalogEncoding archive.Encoding

	// HasPaging marks html portals whose listing takes a page parameter
	HasPaging bool

	// SampleName, when set, must parse under DatePattern at build time
	SampleName string
}

func (c Config) pricePrefix() string { return orDefault(c.PricePrefix, defaultPricePrefix) }
func (c Config) storePrefix() string { return orDefault(c.StorePrefix, defaultStorePrefix) }

// rules holds the compiled per-chain matchers shared by all families.
type rules struct {
	price *regexp.Regexp
	store *regexp.Regexp
	date  *regexp.Regexp
	clean *regexp.Regexp

	dateLayout string
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// New builds the adapter for cfg's family. The configuration is validated
// and its patterns compiled up front so a bad chain definition fails at
// startup, never mid-run.
func New(cfg Config) (domain.SourceAdapter, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, errors.Wrapf(err, errors.ErrorCodeInvalidArgument, "portal %s: bad config", cfg.Name)
	}

	r, err := compileRules(cfg)
	if err != nil {
		return nil, err
	}

	base := newBase(cfg, r)
	switch cfg.Family {
	case FamilySession:
		return &sessionAdapter{base: base}, nil
	case FamilyREST:
		return &restAdapter{base: base}, nil
	case FamilyHTMLTable:
		return &htmlAdapter{base: base}, nil
	case FamilyFolder:
		return &folderAdapter{base: base}, nil
	default:
		return nil, errors.Newf(errors.ErrorCodeInvalidArgument, "portal %s: unknown family %q", cfg.Name, cfg.Family)
	}
}

func compileRules(cfg Config) (rules, error) {
	r := rules{dateLayout: cfg.DateLayout}
	if r.dateLayout == "" {
		r.dateLayout = defaultDateLayout
	}

	var err error
	if r.price, err = regexp.Compile("^" + orDefault(cfg.PricePrefix, defaultPricePrefix)); err != nil {
		return r, errors.Wrapf(err, errors.ErrorCodeInvalidArgument, "portal %s: price prefix", cfg.Name)
	}
	if r.store, err = regexp.Compile("^" + orDefault(cfg.StorePrefix, defaultStorePrefix)); err != nil {
		return r, errors.Wrapf(err, errors.ErrorCodeInvalidArgument, "portal %s: store prefix", cfg.Name)
	}
	if r.date, err = regexp.Compile(orDefault(cfg.DatePattern, defaultDatePattern)); err != nil {
		return r, errors.Wrapf(err, errors.ErrorCodeInvalidArgument, "portal %s: date pattern", cfg.Name)
	}
	if r.date.NumSubexp() < 1 {
		return r, errors.Newf(errors.ErrorCodeInvalidArgument, "portal %s: date pattern needs a capture group", cfg.Name)
	}
	if cfg.CleanPattern != "" {
		if r.clean, err = regexp.Compile(cfg.CleanPattern); err != nil {
			return r, errors.Wrapf(err, errors.ErrorCodeInvalidArgument, "portal %s: clean pattern", cfg.Name)
		}
	}

	if cfg.SampleName != "" {
		if _, err := r.fileDate(cfg.SampleName); err != nil {
			return r, errors.Wrapf(err, errors.ErrorCodeInvalidArgument,
				"portal %s: sample name does not match date pattern", cfg.Name)
		}
	}
	return r, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// fileDate extracts the embedded timestamp from a canonical filename.
func (r rules) fileDate(name string) (time.Time, error) {
	m := r.date.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, errors.Newf(errors.ErrorCodeInvalidArgument, "portal: no date in filename %q", name)
	}
	t, err := time.Parse(r.dateLayout, m[1])
	if err != nil {
		return time.Time{}, errors.Wrapf(err, errors.ErrorCodeInvalidArgument, "portal: bad date in filename %q", name)
	}
	return t, nil
}

// cleanName strips the configured junk suffix and whitespace from a
// listed filename.
func (r rules) cleanName(name string) string {
	name = strings.TrimSpace(name)
	if r.clean != nil {
		name = r.clean.ReplaceAllString(name, "")
	}
	return name
}

// base carries what every family shares: config, compiled rules, the
// HTTP client and a component logger.
type base struct {
	cfg    Config
	rules  rules
	client *http.Client
	log    *logger.Logger
}

func newBase(cfg Config, r rules) base {
	jar, _ := cookiejar.New(nil)
	return base{
		cfg:   cfg,
		rules: r,
		client: &http.Client{
			Timeout: defaultHTTPTimeout,
			Jar:     jar,
		},
		log: logger.Named("portal"),
	}
}

// FileDate implements the adapter contract's filename convention.
func (b *base) FileDate(name string) (time.Time, error) { return b.rules.fileDate(name) }

// absURL resolves a possibly relative link against the portal base URL.
func (b *base) absURL(link string) string {
	link = strings.ReplaceAll(strings.Join(strings.Fields(link), ""), "\\", "/")
	if strings.HasPrefix(link, "http://") || strings.HasPrefix(link, "https://") {
		return link
	}
	return strings.TrimRight(b.cfg.BaseURL, "/") + "/" + strings.TrimLeft(link, "/")
}

// get issues a GET and returns the body for 2xx responses.
func (b *base) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorCodeInvalidArgument, "portal %s: bad url %s", b.cfg.Name, rawURL)
	}
	return b.do(req)
}

// postForm issues a form POST and returns the body for 2xx responses.
func (b *base) postForm(ctx context.Context, rawURL string, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorCodeInvalidArgument, "portal %s: bad url %s", b.cfg.Name, rawURL)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return b.do(req)
}

func (b *base) do(req *http.Request) ([]byte, error) {
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorCodeUnavailable, "portal %s: %s %s", b.cfg.Name, req.Method, req.URL)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorCodeUnavailable, "portal %s: read %s", b.cfg.Name, req.URL)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		code := errors.ErrorCodeUnavailable
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			code = errors.ErrorCodeUnauthorized
		}
		return nil, errors.Newf(code, "portal %s: %s %s: status %d", b.cfg.Name, req.Method, req.URL, resp.StatusCode)
	}
	return body, nil
}

// fetchEntry downloads one listed file, hitting its prefetch link first
// when present. The prefetch response is deliberately discarded.
func (b *base) fetchEntry(ctx context.Context, entry domain.FileEntry) ([]byte, error) {
	if entry.PreFetchLink != "" {
		if _, err := b.get(ctx, entry.PreFetchLink); err != nil {
			return nil, errors.Wrapf(err, errors.CodeOf(err), "portal %s: prefetch %s", b.cfg.Name, entry.Name)
		}
	}
	body, err := b.get(ctx, entry.SourceLink)
	if err != nil {
		return nil, err
	}
	if looksLikeHTMLError(body) {
		return nil, errors.Newf(errors.ErrorCodeUnavailable, "portal %s: %s served an error page", b.cfg.Name, entry.Name)
	}
	return body, nil
}

// looksLikeHTMLError catches portals that answer a file download with a
// 200 error page instead of payload bytes.
func looksLikeHTMLError(body []byte) bool {
	head := bytes.TrimSpace(body)
	if len(head) > 64 {
		head = head[:64]
	}
	lower := bytes.ToLower(head)
	return bytes.HasPrefix(lower, []byte("<!doctype html")) || bytes.HasPrefix(lower, []byte("<html"))
}
