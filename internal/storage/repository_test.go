package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type fakeRepo struct{ closed int }

func (f *fakeRepo) ReplaceItems(context.Context, string, []ItemRow) (int64, error) { return 0, nil }
func (f *fakeRepo) Close()                                                        { f.closed++ }

// TestRegisterAndNew covers lookup, unknown kinds and factory errors.
func TestRegisterAndNew(t *testing.T) {
	repo := &fakeRepo{}
	Register("test-ok", func(context.Context, Config) (Repository, error) { return repo, nil })
	Register("test-fail", func(context.Context, Config) (Repository, error) { return nil, errors.New("refused") })

	got, err := New(context.Background(), Config{Kind: "test-ok"})
	if err != nil || got != repo {
		t.Fatalf("New(test-ok)=%v, %v", got, err)
	}

	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatal("expected error for empty kind")
	}
	if _, err := New(context.Background(), Config{Kind: "nope"}); err == nil || !strings.Contains(err.Error(), "test-ok") {
		t.Fatalf("expected unsupported kind error listing registered kinds, got %v", err)
	}
	if _, err := New(context.Background(), Config{Kind: "test-fail"}); err == nil || !strings.Contains(err.Error(), "refused") {
		t.Fatalf("expected factory error, got %v", err)
	}
}

// TestRegister_Panics covers the fail-fast registration rules.
func TestRegister_Panics(t *testing.T) {
	f := func(context.Context, Config) (Repository, error) { return nil, nil }
	Register("test-dup", f)

	for name, fn := range map[string]func(){
		"empty_kind":  func() { Register("", f) },
		"nil_factory": func() { Register("test-nil", nil) },
		"duplicate":   func() { Register("test-dup", f) },
	} {
		t.Run(name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Fatalf("expected panic")
				}
			}()
			fn()
		})
	}
}

// TestValidateTableName accepts plain and qualified identifiers only.
func TestValidateTableName(t *testing.T) {
	t.Parallel()

	for _, ok := range []string{"items", "_x1", "dbo.items", "Archive_2024"} {
		if err := ValidateTableName(ok); err != nil {
			t.Fatalf("%q: unexpected error %v", ok, err)
		}
	}
	for _, bad := range []string{"", "1items", "items;DROP", "a.b.c", "my items", `"items"`, "items."} {
		if err := ValidateTableName(bad); err == nil {
			t.Fatalf("%q: expected error", bad)
		}
	}
}

// TestBatches keeps every chunk under the parameter limit.
func TestBatches(t *testing.T) {
	t.Parallel()

	rows := make([]ItemRow, 7)
	got := Batches(rows, 10) // 2 rows per chunk
	if len(got) != 4 || len(got[3]) != 1 {
		t.Fatalf("unexpected chunks: %d (last=%d)", len(got), len(got[len(got)-1]))
	}

	if got := Batches(rows, 1); len(got) != 7 {
		t.Fatalf("tiny limit must still make progress, got %d chunks", len(got))
	}
	if got := Batches(nil, 100); len(got) != 0 {
		t.Fatalf("expected no chunks for no rows, got %d", len(got))
	}
}

// TestItemRowValues orders values like ItemColumns and stores UTC.
func TestItemRowValues(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 3, 9, 15, 0, 0, 0, time.FixedZone("CET", 3600))
	v := ItemRow{Identifier: "1", RowHash: "h", Record: "{}", RunID: "r", LoadedAt: at}.Values()
	if len(v) != len(ItemColumns) {
		t.Fatalf("values=%d columns=%d", len(v), len(ItemColumns))
	}
	if ts := v[4].(time.Time); ts.Location() != time.UTC || !ts.Equal(at) {
		t.Fatalf("loaded_at=%v", ts)
	}
}
