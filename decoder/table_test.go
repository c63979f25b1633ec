package decoder

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/hanpama/treewire/refs"
	"github.com/hanpama/treewire/scope"
	"github.com/hanpama/treewire/wire"
)

func newTestTable(t *testing.T, loader refs.Loader) *Table {
	t.Helper()
	if loader == nil {
		loader = refs.LoaderFunc(func(ctx context.Context, loc refs.Locator) (any, error) {
			return nil, errors.New("no loader in this test")
		})
	}
	return NewTable(scope.NewRegistry(), loader)
}

func feed(t *testing.T, tbl *Table, rows ...wire.Row) {
	t.Helper()
	for _, row := range rows {
		if err := tbl.Feed(context.Background(), row); err != nil {
			t.Fatalf("feed row %d: %v", row.ID, err)
		}
	}
}

func TestFeedRoot(t *testing.T) {
	tbl := newTestTable(t, nil)
	if _, ok := tbl.Root(); ok {
		t.Fatal("Root available before any row")
	}

	feed(t, tbl, wire.Row{ID: 0, Tag: wire.TagRoot, Payload: map[string]any{
		"greeting": "hello",
		"n":        int64(42),
		"items":    []any{"a", json.Number("7")},
	}})

	root, ok := tbl.Root()
	if !ok {
		t.Fatal("Root not available after root row")
	}
	want := map[string]any{
		"greeting": "hello",
		"n":        int64(42),
		"items":    []any{"a", int64(7)},
	}
	if diff := cmp.Diff(want, root.Interface()); diff != "" {
		t.Fatalf("root mismatch (-want +got):\n%s", diff)
	}
}

func TestOutOfOrderResolution(t *testing.T) {
	tbl := newTestTable(t, nil)

	feed(t, tbl,
		wire.Row{ID: 1, Tag: wire.TagBlocked},
		wire.Row{ID: 0, Tag: wire.TagRoot, Payload: map[string]any{"x": wire.Ref(1)}},
	)

	root, _ := tbl.Root()
	ph := root.Fields["x"]
	if ph.Kind != NodePlaceholder || ph.Chunk != 1 {
		t.Fatalf("placeholder = %+v", ph)
	}
	if n := tbl.Outstanding(); n != 1 {
		t.Fatalf("outstanding = %d, want 1", n)
	}

	var calls atomic.Int64
	tbl.Subscribe(1, func(node *Node, err error) {
		calls.Add(1)
		if err != nil || node == nil || node.Scalar != "done" {
			t.Errorf("subscriber got (%+v, %v)", node, err)
		}
	})

	feed(t, tbl, wire.Row{ID: 1, Tag: wire.TagValue, Payload: "done"})

	// The placeholder resolves in place; holders of the old pointer see
	// the value without re-walking.
	if ph.Kind != NodeScalar || ph.Scalar != "done" {
		t.Fatalf("placeholder after resolution = %+v", ph)
	}
	if diff := cmp.Diff(map[string]any{"x": "done"}, root.Interface()); diff != "" {
		t.Fatalf("root mismatch (-want +got):\n%s", diff)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("subscriber calls = %d, want 1", n)
	}
	if n := tbl.Outstanding(); n != 0 {
		t.Fatalf("outstanding = %d, want 0", n)
	}
}

func TestSubscribe(t *testing.T) {
	t.Run("notification order", func(t *testing.T) {
		tbl := newTestTable(t, nil)
		feed(t, tbl, wire.Row{ID: 2, Tag: wire.TagBlocked})

		var order []int
		for i := 0; i < 3; i++ {
			i := i
			tbl.Subscribe(2, func(*Node, error) { order = append(order, i) })
		}
		feed(t, tbl, wire.Row{ID: 2, Tag: wire.TagValue, Payload: "v"})
		if diff := cmp.Diff([]int{0, 1, 2}, order); diff != "" {
			t.Fatalf("order mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("terminal chunk fires immediately", func(t *testing.T) {
		tbl := newTestTable(t, nil)
		feed(t, tbl, wire.Row{ID: 2, Tag: wire.TagValue, Payload: "v"})
		fired := false
		tbl.Subscribe(2, func(node *Node, err error) {
			fired = true
			if node.Scalar != "v" || err != nil {
				t.Errorf("subscriber got (%+v, %v)", node, err)
			}
		})
		if !fired {
			t.Fatal("subscriber on a terminal chunk did not fire")
		}
	})
}

func TestFailedChunk(t *testing.T) {
	tbl := newTestTable(t, nil)
	_, digest := wire.Sanitize("render of Card failed", false)

	feed(t, tbl,
		wire.Row{ID: 1, Tag: wire.TagBlocked},
		wire.Row{ID: 0, Tag: wire.TagRoot, Payload: map[string]any{"card": wire.Ref(1), "ok": "fine"}},
		wire.Row{ID: 1, Tag: wire.TagError, Payload: wire.ErrorPayload("", digest)},
	)

	state, _, err := tbl.Get(1)
	if state != StateFailed {
		t.Fatalf("state = %s, want Failed", state)
	}
	var ce *ChunkError
	if !errors.As(err, &ce) || ce.Digest != digest || ce.Message != "" {
		t.Fatalf("chunk error = %v", err)
	}

	// The failure lands on its own subtree; the sibling stays consumable.
	root, _ := tbl.Root()
	if root.Fields["card"].Kind != NodeFailed {
		t.Fatalf("card node = %+v", root.Fields["card"])
	}
	if root.Fields["ok"].Scalar != "fine" {
		t.Fatalf("ok node = %+v", root.Fields["ok"])
	}
}

func TestProtocolViolations(t *testing.T) {
	cases := []struct {
		name string
		rows []wire.Row
		bad  wire.Row
	}{
		{
			name: "terminal row twice",
			rows: []wire.Row{{ID: 1, Tag: wire.TagValue, Payload: "v"}},
			bad:  wire.Row{ID: 1, Tag: wire.TagValue, Payload: "again"},
		},
		{
			name: "error after value",
			rows: []wire.Row{{ID: 1, Tag: wire.TagValue, Payload: "v"}},
			bad:  wire.Row{ID: 1, Tag: wire.TagError, Payload: wire.ErrorPayload("", "00")},
		},
		{
			name: "blocked twice",
			rows: []wire.Row{{ID: 1, Tag: wire.TagBlocked}},
			bad:  wire.Row{ID: 1, Tag: wire.TagBlocked},
		},
		{
			name: "blocked after terminal",
			rows: []wire.Row{{ID: 1, Tag: wire.TagValue, Payload: "v"}},
			bad:  wire.Row{ID: 1, Tag: wire.TagBlocked},
		},
		{
			name: "reference to undeclared id",
			bad:  wire.Row{ID: 0, Tag: wire.TagRoot, Payload: map[string]any{"x": wire.Ref(9)}},
		},
		{
			name: "duplicate root",
			rows: []wire.Row{{ID: 0, Tag: wire.TagRoot, Payload: "a"}},
			bad:  wire.Row{ID: 1, Tag: wire.TagRoot, Payload: "b"},
		},
		{
			name: "malformed error payload",
			bad:  wire.Row{ID: 1, Tag: wire.TagError, Payload: "not a payload"},
		},
		{
			name: "unknown tag",
			bad:  wire.Row{ID: 1, Tag: wire.Tag("bogus")},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tbl := newTestTable(t, nil)
			feed(t, tbl, tc.rows...)

			err := tbl.Feed(context.Background(), tc.bad)
			var pv *ProtocolViolationError
			if !errors.As(err, &pv) {
				t.Fatalf("Feed = %v, want protocol violation", err)
			}

			// The violation poisons the table.
			later := tbl.Feed(context.Background(), wire.Row{ID: 50, Tag: wire.TagValue, Payload: "v"})
			if !errors.Is(later, pv) {
				t.Fatalf("poisoned Feed = %v, want %v", later, pv)
			}
		})
	}
}

func TestSharedChunk(t *testing.T) {
	tbl := newTestTable(t, nil)
	feed(t, tbl,
		wire.Row{ID: 1, Tag: wire.TagValue, Payload: map[string]any{"k": "v"}},
		wire.Row{ID: 0, Tag: wire.TagRoot, Payload: []any{wire.Ref(1), wire.Ref(1)}},
	)
	root, _ := tbl.Root()
	if root.Items[0] != root.Items[1] {
		t.Fatal("references to the same resolved chunk did not share the node")
	}
}

func TestProviderReplay(t *testing.T) {
	tbl := newTestTable(t, nil)
	payload := []any{
		wire.ProviderEnter("theme", "dark"),
		map[string]any{"body": "content"},
		wire.ProviderExit("theme"),
	}
	feed(t, tbl, wire.Row{ID: 0, Tag: wire.TagRoot, Payload: payload})

	root, _ := tbl.Root()
	if root.Kind != NodeProvider || root.Key != "theme" {
		t.Fatalf("root = %+v, want provider for theme", root)
	}
	if root.Bound.Scalar != "dark" {
		t.Fatalf("bound = %+v", root.Bound)
	}
	if diff := cmp.Diff(map[string]any{"body": "content"}, root.Interface()); diff != "" {
		t.Fatalf("body mismatch (-want +got):\n%s", diff)
	}
}

func TestTokenResolution(t *testing.T) {
	t.Run("resolved once per locator", func(t *testing.T) {
		var calls atomic.Int64
		tbl := newTestTable(t, refs.LoaderFunc(func(ctx context.Context, loc refs.Locator) (any, error) {
			calls.Add(1)
			return loc.Module + "." + loc.Export, nil
		}))
		feed(t, tbl, wire.Row{ID: 0, Tag: wire.TagRoot, Payload: []any{
			wire.TokenWithLocator(0, "ui/button", "default"),
			wire.Token(0),
		}})

		root, _ := tbl.Root()
		want := []any{"ui/button.default", "ui/button.default"}
		if diff := cmp.Diff(want, root.Interface()); diff != "" {
			t.Fatalf("root mismatch (-want +got):\n%s", diff)
		}
		if n := calls.Load(); n != 1 {
			t.Fatalf("loader calls = %d, want 1", n)
		}
	})

	t.Run("loader failure scoped to node", func(t *testing.T) {
		tbl := newTestTable(t, refs.LoaderFunc(func(ctx context.Context, loc refs.Locator) (any, error) {
			return nil, errors.New("module not found")
		}))
		feed(t, tbl, wire.Row{ID: 0, Tag: wire.TagRoot, Payload: []any{
			wire.TokenWithLocator(0, "gone", "default"),
			"still here",
		}})
		root, _ := tbl.Root()
		if root.Items[0].Kind != NodeFailed {
			t.Fatalf("token node = %+v, want failed", root.Items[0])
		}
		if root.Items[1].Scalar != "still here" {
			t.Fatalf("sibling = %+v", root.Items[1])
		}
	})

	t.Run("token before locator violates", func(t *testing.T) {
		tbl := newTestTable(t, nil)
		err := tbl.Feed(context.Background(), wire.Row{ID: 0, Tag: wire.TagRoot, Payload: wire.Token(5)})
		var pv *ProtocolViolationError
		if !errors.As(err, &pv) {
			t.Fatalf("Feed = %v, want protocol violation", err)
		}
	})
}

func TestNodeInterfacePlaceholder(t *testing.T) {
	tbl := newTestTable(t, nil)
	feed(t, tbl,
		wire.Row{ID: 1, Tag: wire.TagBlocked},
		wire.Row{ID: 0, Tag: wire.TagRoot, Payload: map[string]any{"slow": wire.Ref(1), "fast": "v"}},
	)
	root, _ := tbl.Root()
	want := map[string]any{"slow": nil, "fast": "v"}
	if diff := cmp.Diff(want, root.Interface()); diff != "" {
		t.Fatalf("partial root mismatch (-want +got):\n%s", diff)
	}
}
