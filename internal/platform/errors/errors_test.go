package errors

import (
	stderrs "errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestWrapAndCodeOf(t *testing.T) {
	base := stderrs.New("boom")
	err := Wrap(base, ErrorCodeDB, "insert failed")

	if CodeOf(err) != ErrorCodeDB {
		t.Fatalf("CodeOf = %v, want ErrorCodeDB", CodeOf(err))
	}
	if !stderrs.Is(err, base) {
		t.Fatal("wrapped cause lost")
	}
	if got := err.Error(); got != "insert failed: boom" {
		t.Fatalf("Error() = %q", got)
	}
}

func TestRootUnwrapsChains(t *testing.T) {
	base := stderrs.New("cause")
	err := fmt.Errorf("outer: %w", Wrap(base, ErrorCodeUnknown, "mid"))
	if Root(err) != base {
		t.Fatalf("Root = %v, want %v", Root(err), base)
	}
}

func TestCodeOfForeignError(t *testing.T) {
	if CodeOf(stderrs.New("plain")) != ErrorCodeUnknown {
		t.Fatal("foreign errors should map to Unknown")
	}
	if CodeOf(nil) != ErrorCodeUnknown {
		t.Fatal("nil should map to Unknown")
	}
}

func TestWithOpCopyOnWrite(t *testing.T) {
	orig := New(ErrorCodeNotFound, "missing")
	tagged := WithOp(orig, "repo.ChainID")

	e, ok := As(tagged)
	if !ok || e.Op() != "repo.ChainID" {
		t.Fatalf("op not attached: %+v", tagged)
	}
	o, _ := As(orig)
	if o.Op() != "" {
		t.Fatal("WithOp mutated the original")
	}
}

func TestIsDuplicateKey_Postgres(t *testing.T) {
	err := fmt.Errorf("exec: %w", &pgconn.PgError{Code: "23505"})
	if !IsDuplicateKey(err) {
		t.Fatal("pg unique violation not detected")
	}
	if IsDuplicateKey(stderrs.New("some other failure")) {
		t.Fatal("false positive duplicate key")
	}
}

func TestIsDuplicateKey_TextFallback(t *testing.T) {
	err := stderrs.New("constraint failed: UNIQUE constraint failed: price.filedate, price.store, price.item")
	if !IsDuplicateKey(err) {
		t.Fatal("text unique violation not detected")
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(New(ErrorCodeUnavailable, "transient")) {
		t.Fatal("Unavailable must be retryable")
	}
	if !Retryable(&pgconn.PgError{Code: "40P01"}) {
		t.Fatal("deadlock must be retryable")
	}
	if Retryable(&pgconn.PgError{Code: "23505"}) {
		t.Fatal("unique violation must not be retryable")
	}
	if !Retryable(stderrs.New("database is locked (5) (SQLITE_BUSY)")) {
		t.Fatal("sqlite busy text must be retryable")
	}
	if Retryable(nil) {
		t.Fatal("nil must not be retryable")
	}
}
