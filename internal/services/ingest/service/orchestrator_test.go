package service

import (
	"context"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"pricewatch/internal/adapters/archive"
	"pricewatch/internal/adapters/filecache"
	"pricewatch/internal/platform/errors"
	"pricewatch/internal/platform/store"
	"pricewatch/internal/services/ingest/domain"
	"pricewatch/internal/services/ingest/repo"
)

var testDateRe = regexp.MustCompile(`-(\d{12})`)

// fakeAdapter is a synthetic portal: canned listing pages, canned file
// bodies, a swappable store catalog.
type fakeAdapter struct {
	pages [][]domain.FileEntry
	more  []bool
	files map[string][]byte

	catalogName string
	catalogBody []byte

	authCalls    int
	listCalls    []domain.Page
	catalogCalls int
	fetchFails   map[string]int
	listFails    int
}

func (f *fakeAdapter) Authenticate(context.Context) (domain.Session, error) {
	f.authCalls++
	return struct{}{}, nil
}

func (f *fakeAdapter) ListPriceFiles(
	_ context.Context, _ domain.Session, _ time.Time, page domain.Page,
) ([]domain.FileEntry, bool, error) {
	f.listCalls = append(f.listCalls, page)
	if f.listFails > 0 {
		f.listFails--
		return nil, false, errors.Unavailablef("fake: listing endpoint down")
	}
	idx := page.Number - 1
	if idx < 0 || idx >= len(f.pages) {
		return nil, false, nil
	}
	return f.pages[idx], f.more[idx], nil
}

func (f *fakeAdapter) StoreCatalogFile(context.Context, domain.Session) (domain.FileEntry, error) {
	f.catalogCalls++
	return domain.FileEntry{Name: f.catalogName, SourceLink: "fake://" + f.catalogName}, nil
}

func (f *fakeAdapter) Fetch(_ context.Context, _ domain.Session, entry domain.FileEntry) ([]byte, error) {
	if n := f.fetchFails[entry.Name]; n > 0 {
		f.fetchFails[entry.Name] = n - 1
		return nil, errors.Unavailablef("fake: %s unavailable", entry.Name)
	}
	if entry.Name == f.catalogName {
		return f.catalogBody, nil
	}
	body, ok := f.files[entry.Name]
	if !ok {
		return nil, errors.NotFoundf("fake: no body for %s", entry.Name)
	}
	return body, nil
}

func (f *fakeAdapter) FileDate(name string) (time.Time, error) {
	m := testDateRe.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, errors.InvalidArgf("fake: no date in %q", name)
	}
	return time.Parse("200601021504", m[1])
}

func catalogXML(chainID int64) []byte {
	return fmt.Appendf(nil, `<Root>
		<ChainId>%d</ChainId>
		<ChainName>Springfield Foods</ChainName>
		<SubChains><SubChain>
			<SubChainId>1</SubChainId>
			<SubChainName>North</SubChainName>
			<Stores><Store>
				<StoreId>55</StoreId><StoreName>Springfield</StoreName><City>Springfield</City>
			</Store></Stores>
		</SubChain></SubChains>
	</Root>`, chainID)
}

func priceXML(chainID, storeID int64) []byte {
	return fmt.Appendf(nil, `<Root>
		<ChainId>%d</ChainId>
		<SubChainId>1</SubChainId>
		<StoreId>%d</StoreId>
		<Items><Item>
			<ItemCode>999</ItemCode>
			<ItemName>Corn Flakes</ItemName>
			<ManufacturerName>Acme</ManufacturerName>
			<UnitOfMeasure>100g</UnitOfMeasure>
			<ItemPrice>12.50</ItemPrice>
			<PriceUpdateDate>2023-01-01 08:00</PriceUpdateDate>
		</Item><Item>
			<ItemCode>1000</ItemCode>
			<ItemName>Rice</ItemName>
			<ManufacturerName>Other</ManufacturerName>
			<UnitOfMeasure>kg</UnitOfMeasure>
			<ItemPrice>8.90</ItemPrice>
			<PriceUpdateDate>2023-01-01 08:00</PriceUpdateDate>
		</Item></Items>
	</Root>`, chainID, storeID)
}

const priceFileName = "PriceFull123-055-202301010800.gz"

type fixture struct {
	store   *store.Store
	adapter *fakeAdapter
	cache   *filecache.Cache
	orch    *Orchestrator
}

func newFixture(t *testing.T, adapter *fakeAdapter) *fixture {
	t.Helper()
	ctx := context.Background()

	s, err := store.Open(ctx, store.Config{Driver: store.DriverSQLite, DSN: ":memory:"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	cache, err := filecache.New(t.TempDir())
	if err != nil {
		t.Fatalf("filecache: %v", err)
	}

	orch, err := New(Options{
		ChainID:   123,
		Name:      "Springfield Foods",
		Targeting: domain.Targeting{Manufacturer: "Acme"},
	}, adapter, s.SQL, repo.NewSQL(), cache)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	orch.sleep = func(time.Duration) {}

	return &fixture{store: s, adapter: adapter, cache: cache, orch: orch}
}

func (f *fixture) count(t *testing.T, table string) int {
	t.Helper()
	var n int
	if err := f.store.SQL.QueryRow(context.Background(), "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func singleFileAdapter() *fakeAdapter {
	return &fakeAdapter{
		pages: [][]domain.FileEntry{{
			{Name: priceFileName, SourceLink: "fake://" + priceFileName},
		}},
		more:        []bool{false},
		files:       map[string][]byte{priceFileName: priceXML(123, 55)},
		catalogName: "Stores123-202301010000.gz",
		catalogBody: catalogXML(123),
	}
}

func TestRunEndToEnd(t *testing.T) {
	f := newFixture(t, singleFileAdapter())
	ctx := context.Background()

	report, err := f.orch.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Inserted != 1 || report.Skipped != 0 {
		t.Fatalf("report = %+v", report)
	}
	if f.orch.State() != StateIdle {
		t.Fatalf("state = %s", f.orch.State())
	}

	for table, want := range map[string]int{
		"chain": 1, "subchain": 1, "store": 1, "store_link": 1, "chain_item": 1, "price": 1,
	} {
		if got := f.count(t, table); got != want {
			t.Fatalf("%s rows = %d, want %d", table, got, want)
		}
	}

	var filedate, update, price string
	err = f.store.SQL.QueryRow(ctx, `
		SELECT price.filedate, price.update_date, price.price
		FROM price
		INNER JOIN chain_item ON chain_item.id = price.item
		WHERE chain_item.code = ?`, "999",
	).Scan(&filedate, &update, &price)
	if err != nil {
		t.Fatalf("select price: %v", err)
	}
	if filedate != "2023-01-01 08:00" || update != "2023-01-01 08:00" {
		t.Fatalf("dates = %q %q", filedate, update)
	}
	if !decimal.RequireFromString(price).Equal(decimal.RequireFromString("12.50")) {
		t.Fatalf("price = %q", price)
	}

	// only the Acme item was targeted
	var code string
	if err := f.store.SQL.QueryRow(ctx, "SELECT code FROM chain_item").Scan(&code); err != nil || code != "999" {
		t.Fatalf("chain_item = %q err=%v", code, err)
	}
}

func TestRunTwiceIsIdempotent(t *testing.T) {
	f := newFixture(t, singleFileAdapter())
	ctx := context.Background()

	if _, err := f.orch.Run(ctx); err != nil {
		t.Fatalf("first run: %v", err)
	}
	report, err := f.orch.Run(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if report.Inserted != 0 {
		t.Fatalf("second run inserted %d rows", report.Inserted)
	}
	if got := f.count(t, "price"); got != 1 {
		t.Fatalf("price rows = %d", got)
	}
}

func TestWrongChainFileLeavesStoreUnchanged(t *testing.T) {
	adapter := singleFileAdapter()
	adapter.files[priceFileName] = priceXML(456, 55)
	f := newFixture(t, adapter)

	report, err := f.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Skipped != 1 || report.Inserted != 0 {
		t.Fatalf("report = %+v", report)
	}
	if got := f.count(t, "price"); got != 0 {
		t.Fatalf("price rows = %d", got)
	}
}

func TestPaginationTermination(t *testing.T) {
	fileAt := func(day int) string {
		return fmt.Sprintf("PriceFull123-055-2023010%d0800.gz", day)
	}
	adapter := singleFileAdapter()
	adapter.pages = [][]domain.FileEntry{
		{{Name: fileAt(3), SourceLink: "fake://" + fileAt(3)}},
		{{Name: fileAt(2), SourceLink: "fake://" + fileAt(2)}},
		// the portal wraps around and serves the previous page again
		{{Name: fileAt(2), SourceLink: "fake://" + fileAt(2)}},
	}
	adapter.more = []bool{true, true, true}
	for d := 2; d <= 3; d++ {
		adapter.files[fileAt(d)] = priceXML(123, 55)
	}
	f := newFixture(t, adapter)

	if err := f.orch.Download(context.Background()); err != nil {
		t.Fatalf("Download: %v", err)
	}
	// the wrapped page is requested, detected, and nothing follows it
	if len(adapter.listCalls) != 3 {
		t.Fatalf("list calls = %d", len(adapter.listCalls))
	}
	// the orchestrator threads the previous page's leading name through
	if adapter.listCalls[1].FirstOfLast != fileAt(3) || adapter.listCalls[2].FirstOfLast != fileAt(2) {
		t.Fatalf("firstOfLast chain = %+v", adapter.listCalls)
	}
}

func TestFetchRetriesThenSkips(t *testing.T) {
	adapter := singleFileAdapter()
	adapter.fetchFails = map[string]int{priceFileName: 5} // exceeds the retry allowance
	f := newFixture(t, adapter)

	report, err := f.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// nothing downloaded, nothing scanned, run still completed
	if report.Files != 0 || report.Inserted != 0 {
		t.Fatalf("report = %+v", report)
	}
}

func TestFetchRetryEventuallySucceeds(t *testing.T) {
	adapter := singleFileAdapter()
	adapter.fetchFails = map[string]int{priceFileName: 2} // third attempt wins
	f := newFixture(t, adapter)

	report, err := f.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Inserted != 1 {
		t.Fatalf("report = %+v", report)
	}
}

func TestStoreNotFoundTriggersOneResync(t *testing.T) {
	adapter := singleFileAdapter()
	// first catalog knows only store 99; the refreshed one adds store 55
	adapter.catalogBody = []byte(`<Root>
		<ChainId>123</ChainId><ChainName>Springfield Foods</ChainName>
		<SubChains><SubChain>
			<SubChainId>1</SubChainId><SubChainName>North</SubChainName>
			<Stores><Store><StoreId>99</StoreId><StoreName>Old</StoreName><City>Old</City></Store></Stores>
		</SubChain></SubChains>
	</Root>`)
	f := newFixture(t, adapter)
	ctx := context.Background()

	if err := f.orch.Download(ctx); err != nil {
		t.Fatalf("Download: %v", err)
	}

	// portal publishes a fresh catalog before the scan
	adapter.catalogName = "Stores123-202301020000.gz"
	adapter.catalogBody = catalogXML(123)

	report, err := f.orch.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if report.Inserted != 1 || report.Skipped != 0 {
		t.Fatalf("report = %+v", report)
	}
	// initial sync plus exactly one resync
	if adapter.catalogCalls != 2 {
		t.Fatalf("catalog calls = %d", adapter.catalogCalls)
	}
}

func TestStoreGenuinelyRetiredIsSkipped(t *testing.T) {
	adapter := singleFileAdapter()
	// catalog never learns about store 55
	adapter.catalogBody = []byte(`<Root>
		<ChainId>123</ChainId><ChainName>Springfield Foods</ChainName>
		<SubChains><SubChain>
			<SubChainId>1</SubChainId><SubChainName>North</SubChainName>
			<Stores><Store><StoreId>99</StoreId><StoreName>Old</StoreName><City>Old</City></Store></Stores>
		</SubChain></SubChains>
	</Root>`)
	f := newFixture(t, adapter)

	report, err := f.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Skipped != 1 || report.Inserted != 0 {
		t.Fatalf("report = %+v", report)
	}
	if got := f.count(t, "price"); got != 0 {
		t.Fatalf("price rows = %d", got)
	}
}

func TestRunReauthenticatesEachCycle(t *testing.T) {
	f := newFixture(t, singleFileAdapter())
	ctx := context.Background()

	if _, err := f.orch.Run(ctx); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if _, err := f.orch.Run(ctx); err != nil {
		t.Fatalf("second run: %v", err)
	}
	// each scheduled cycle opens a fresh portal session; a cookie or CSRF
	// token from the previous cycle may have lapsed
	if f.adapter.authCalls != 2 {
		t.Fatalf("auth calls = %d, want 2", f.adapter.authCalls)
	}
}

func TestListingFailureStillScansCache(t *testing.T) {
	adapter := singleFileAdapter()
	adapter.listFails = 10 // every listing attempt fails
	f := newFixture(t, adapter)
	ctx := context.Background()

	// a file from an earlier cycle is already sitting in the cache
	norm, err := archive.Normalize(priceXML(123, 55))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if err := f.cache.Put(123, priceFileName, norm); err != nil {
		t.Fatalf("Put: %v", err)
	}

	report, err := f.orch.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Inserted != 1 {
		t.Fatalf("report = %+v", report)
	}
	// page 1 was retried up to the allowance, then abandoned
	if len(adapter.listCalls) != 3 {
		t.Fatalf("list calls = %d, want 3", len(adapter.listCalls))
	}
	if got := f.count(t, "price"); got != 1 {
		t.Fatalf("price rows = %d", got)
	}
}

func TestListingRetryEventuallySucceeds(t *testing.T) {
	adapter := singleFileAdapter()
	adapter.listFails = 2 // third attempt wins
	f := newFixture(t, adapter)

	report, err := f.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Inserted != 1 {
		t.Fatalf("report = %+v", report)
	}
}

func TestCatalogLinksExistingStores(t *testing.T) {
	f := newFixture(t, singleFileAdapter())
	ctx := context.Background()

	// a partial earlier sync left store 55 present but unlinked
	err := f.store.SQL.Tx(ctx, func(q store.RowQuerier) error {
		r := repo.NewSQL().Bind(q)
		chain, err := r.InsertChain(ctx, 123, "Springfield Foods")
		if err != nil {
			return err
		}
		if _, err := r.InsertSubchain(ctx, chain, 1, "North"); err != nil {
			return err
		}
		_, err = r.InsertStore(ctx, chain, 55, "Springfield", "Springfield")
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := f.orch.syncStoreCatalog(ctx, true); err != nil {
		t.Fatalf("syncStoreCatalog: %v", err)
	}
	if got := f.count(t, "store"); got != 1 {
		t.Fatalf("store rows = %d", got)
	}
	if got := f.count(t, "store_link"); got != 1 {
		t.Fatalf("store_link rows = %d", got)
	}
}
