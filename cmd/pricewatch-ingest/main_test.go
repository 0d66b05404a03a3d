package main

import (
	"testing"
	"time"

	"pricewatch/internal/adapters/portal"
	"pricewatch/internal/platform/config"
)

func TestBuiltinChainsBuild(t *testing.T) {
	defs := builtinChains(config.New().Prefix("TEST_PORTAL_"))
	if len(defs) == 0 {
		t.Fatal("no builtin chains")
	}
	seen := map[string]bool{}
	for _, d := range defs {
		if seen[d.Portal.Name] {
			t.Fatalf("duplicate chain name %q", d.Portal.Name)
		}
		seen[d.Portal.Name] = true
		if _, err := portal.New(d.Portal); err != nil {
			t.Errorf("chain %s does not build: %v", d.Portal.Name, err)
		}
	}
}

func TestSelectChains(t *testing.T) {
	defs := builtinChains(config.New().Prefix("TEST_PORTAL_"))

	all, unknown := selectChains(defs, nil)
	if len(all) != len(defs) || unknown != nil {
		t.Fatalf("empty selection should keep all %d chains", len(defs))
	}

	picked, unknown := selectChains(defs, []string{"Shufersal", "Nope", "Victory"})
	if len(picked) != 2 {
		t.Fatalf("picked = %d, want 2", len(picked))
	}
	if len(unknown) != 1 || unknown[0] != "Nope" {
		t.Fatalf("unknown = %v, want [Nope]", unknown)
	}
	if picked[0].Portal.Name != "Shufersal" || picked[1].Portal.Name != "Victory" {
		t.Fatalf("selection order not preserved: %s, %s", picked[0].Portal.Name, picked[1].Portal.Name)
	}
}

func TestUntilNext(t *testing.T) {
	now := time.Date(2023, 6, 1, 10, 30, 0, 0, time.UTC)

	d := untilNext(now, 4)
	if got := now.Add(d); got.Hour() != 4 || got.Day() != 2 {
		t.Fatalf("next window = %v, want 04:00 next day", got)
	}

	d = untilNext(now, 12)
	if got := now.Add(d); got.Hour() != 12 || got.Day() != 1 {
		t.Fatalf("next window = %v, want 12:00 same day", got)
	}
	if d <= 0 {
		t.Fatal("duration must be positive")
	}
}
