package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"

	kit "pricewatch/internal/platform/testkit"
)

func TestParseLevel_AllBranches(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"trace", "trace"},
		{"debug", "debug"},
		{"info", "info"},
		{"warn", "warn"},
		{"warning", "warn"},
		{"error", "error"},
		{"fatal", "fatal"},
		{"panic", "panic"},
		{"", "debug"},
		{"   nonsense   ", "debug"},
	}
	for _, c := range cases {
		lvl := parseLevel(c.in)
		if strings.ToLower(lvl.String()) != c.want {
			t.Fatalf("parseLevel(%q) = %q, want %q", c.in, lvl, c.want)
		}
	}
}

func TestInit_Get_Named_C_WithChain(t *testing.T) {
	var buf bytes.Buffer

	Init(Options{
		Level:     "info",
		Format:    "json",
		Service:   "pricewatch",
		Component: "root",
		Writer:    &buf,
		StaticFields: map[string]string{
			"env": "test",
		},
	})

	Get().Info().Msg("root line")
	Named("portal").Info().Msg("named line")

	ctx := WithChain(context.Background(), 7290027600007, "run-1")
	C(ctx).Info().Msg("chain line")

	out := buf.String()
	kit.MustContain(t, out, "root line")
	kit.MustContain(t, out, `"component":"portal"`)
	kit.MustContain(t, out, `"chain_id":"7290027600007"`)
	kit.MustContain(t, out, `"run_id":"run-1"`)
	kit.MustContain(t, out, `"env":"test"`)
}

func TestC_EmptyContextIsRoot(t *testing.T) {
	l := C(context.Background())
	if l == nil {
		t.Fatal("C returned nil logger")
	}
}
