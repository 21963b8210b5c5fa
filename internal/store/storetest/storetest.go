// Package storetest holds the behaviour every store.Backend must share. Each
// backend's tests call Run with a constructor for a fresh, empty backend.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/lu-zhengda/aeromail/internal/store"
)

// Note is the record shape used by the suite.
type Note struct {
	ID    string   `json:"id"`
	Title string   `json:"title"`
	Count int      `json:"count"`
	Done  bool     `json:"done"`
	Tags  []string `json:"tags"`
}

var noteKind = store.Kind[Note]{
	Name:    "note",
	Initial: func() Note { return Note{Tags: []string{}} },
	ID:      func(n Note) string { return n.ID },
}

// Run exercises open's backend through the typed entity layer and the index
// interface.
func Run(t *testing.T, open func(t *testing.T) store.Backend) {
	t.Run("CreateGetExists", func(t *testing.T) { testCreateGetExists(t, open(t)) })
	t.Run("GetMissingReturnsInitial", func(t *testing.T) { testGetMissing(t, open(t)) })
	t.Run("CreateOverwrites", func(t *testing.T) { testCreateOverwrites(t, open(t)) })
	t.Run("Mutate", func(t *testing.T) { testMutate(t, open(t)) })
	t.Run("MutateConcurrent", func(t *testing.T) { testMutateConcurrent(t, open(t)) })
	t.Run("Patch", func(t *testing.T) { testPatch(t, open(t)) })
	t.Run("PatchInvalidField", func(t *testing.T) { testPatchInvalid(t, open(t)) })
	t.Run("ListPages", func(t *testing.T) { testListPages(t, open(t)) })
	t.Run("Keys", func(t *testing.T) { testKeys(t, open(t)) })
	t.Run("DeleteMany", func(t *testing.T) { testDeleteMany(t, open(t)) })
	t.Run("EnsureSeed", func(t *testing.T) { testEnsureSeed(t, open(t)) })
	t.Run("KindsAreIsolated", func(t *testing.T) { testKindsIsolated(t, open(t)) })
	t.Run("IndexAddRemove", func(t *testing.T) { testIndexAddRemove(t, open(t)) })
	t.Run("IndexPage", func(t *testing.T) { testIndexPage(t, open(t)) })
	t.Run("IndexReverse", func(t *testing.T) { testIndexReverse(t, open(t)) })
	t.Run("IndexClear", func(t *testing.T) { testIndexClear(t, open(t)) })
}

func testCreateGetExists(t *testing.T, b store.Backend) {
	ctx := context.Background()
	notes := store.NewEntities(b, noteKind)

	ok, err := notes.Exists(ctx, "n1")
	if err != nil {
		t.Fatalf("Exists() error: %v", err)
	}
	if ok {
		t.Fatal("Exists(n1) = true before Create")
	}

	want := Note{ID: "n1", Title: "first", Count: 3, Tags: []string{"a"}}
	if err := notes.Create(ctx, "n1", want); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if ok, _ := notes.Exists(ctx, "n1"); !ok {
		t.Error("Exists(n1) = false after Create")
	}
	got, err := notes.Get(ctx, "n1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Title != "first" || got.Count != 3 || len(got.Tags) != 1 {
		t.Errorf("Get() = %+v, want %+v", got, want)
	}
}

func testGetMissing(t *testing.T, b store.Backend) {
	notes := store.NewEntities(b, noteKind)
	got, err := notes.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.ID != "" || got.Tags == nil {
		t.Errorf("Get(missing) = %+v, want the initial value", got)
	}
}

func testCreateOverwrites(t *testing.T, b store.Backend) {
	ctx := context.Background()
	notes := store.NewEntities(b, noteKind)
	if err := notes.Create(ctx, "n1", Note{ID: "n1", Title: "old"}); err != nil {
		t.Fatal(err)
	}
	if err := notes.Create(ctx, "n1", Note{ID: "n1", Title: "new"}); err != nil {
		t.Fatalf("second Create() error: %v", err)
	}
	got, _ := notes.Get(ctx, "n1")
	if got.Title != "new" {
		t.Errorf("Title = %q, want %q", got.Title, "new")
	}
}

func testMutate(t *testing.T, b store.Backend) {
	ctx := context.Background()
	notes := store.NewEntities(b, noteKind)

	// Mutating an absent record starts from the initial value.
	got, err := notes.Mutate(ctx, "n1", func(n Note) Note {
		n.ID = "n1"
		n.Count++
		return n
	})
	if err != nil {
		t.Fatalf("Mutate() error: %v", err)
	}
	if got.Count != 1 {
		t.Errorf("Count = %d, want 1", got.Count)
	}

	got, err = notes.Mutate(ctx, "n1", func(n Note) Note {
		n.Count += 10
		n.Tags = append(n.Tags, "x")
		return n
	})
	if err != nil {
		t.Fatalf("Mutate() error: %v", err)
	}
	if got.Count != 11 || len(got.Tags) != 1 {
		t.Errorf("Mutate() = %+v, want Count 11 and one tag", got)
	}

	stored, _ := notes.Get(ctx, "n1")
	if stored.Count != 11 {
		t.Errorf("stored Count = %d, want 11", stored.Count)
	}
}

func testMutateConcurrent(t *testing.T, b store.Backend) {
	ctx := context.Background()
	notes := store.NewEntities(b, noteKind)

	const workers, rounds = 4, 10
	var wg sync.WaitGroup
	errs := make(chan error, workers*rounds)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				if _, err := notes.Mutate(ctx, "counter", func(n Note) Note {
					n.ID = "counter"
					n.Count++
					return n
				}); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent Mutate() error: %v", err)
	}

	got, _ := notes.Get(ctx, "counter")
	if got.Count != workers*rounds {
		t.Errorf("Count = %d, want %d (lost updates)", got.Count, workers*rounds)
	}
}

func testPatch(t *testing.T, b store.Backend) {
	ctx := context.Background()
	notes := store.NewEntities(b, noteKind)
	if err := notes.Create(ctx, "n1", Note{ID: "n1", Title: "keep", Count: 2}); err != nil {
		t.Fatal(err)
	}

	got, err := store.Patch(ctx, notes, "n1", map[string]any{"done": true, "count": 5})
	if err != nil {
		t.Fatalf("Patch() error: %v", err)
	}
	if !got.Done || got.Count != 5 || got.Title != "keep" {
		t.Errorf("Patch() = %+v, want done, count 5, title kept", got)
	}
}

func testPatchInvalid(t *testing.T, b store.Backend) {
	ctx := context.Background()
	notes := store.NewEntities(b, noteKind)
	if err := notes.Create(ctx, "n1", Note{ID: "n1", Count: 2}); err != nil {
		t.Fatal(err)
	}

	_, err := store.Patch(ctx, notes, "n1", map[string]any{"count": "many"})
	if !errors.Is(err, store.ErrInvalidPatch) {
		t.Fatalf("Patch() error = %v, want ErrInvalidPatch", err)
	}
	if errors.Is(err, store.ErrFailure) {
		t.Error("an invalid patch must not be reported as a store failure")
	}
	got, _ := notes.Get(ctx, "n1")
	if got.Count != 2 {
		t.Errorf("Count = %d after rejected patch, want 2", got.Count)
	}
}

func testListPages(t *testing.T, b store.Backend) {
	ctx := context.Background()
	notes := store.NewEntities(b, noteKind)
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("n%d", i)
		if err := notes.Create(ctx, id, Note{ID: id}); err != nil {
			t.Fatal(err)
		}
	}

	page, next, err := notes.List(ctx, "", 2)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(page) != 2 || page[0].ID != "n0" || page[1].ID != "n1" {
		t.Fatalf("first page = %+v, want n0 n1", page)
	}
	if next != "n1" {
		t.Errorf("next = %q, want %q", next, "n1")
	}

	var ids []string
	cursor := ""
	for {
		page, next, err := notes.List(ctx, cursor, 2)
		if err != nil {
			t.Fatalf("List() error: %v", err)
		}
		for _, n := range page {
			ids = append(ids, n.ID)
		}
		if next == "" {
			break
		}
		cursor = next
	}
	if len(ids) != 5 || ids[4] != "n4" {
		t.Errorf("walked ids = %v, want n0..n4", ids)
	}

	all, err := notes.All(ctx, 3)
	if err != nil {
		t.Fatalf("All() error: %v", err)
	}
	if len(all) != 5 {
		t.Errorf("All() returned %d records, want 5", len(all))
	}
}

func testKeys(t *testing.T, b store.Backend) {
	ctx := context.Background()
	notes := store.NewEntities(b, noteKind)
	for _, id := range []string{"n3", "n1", "n2"} {
		if err := notes.Create(ctx, id, Note{ID: id}); err != nil {
			t.Fatal(err)
		}
	}
	// Stored under a key that differs from the record's ID field.
	if err := notes.Create(ctx, "n4", Note{ID: "other"}); err != nil {
		t.Fatal(err)
	}

	keys, err := notes.Keys(ctx, 2)
	if err != nil {
		t.Fatalf("Keys() error: %v", err)
	}
	if strings.Join(keys, ",") != "n1,n2,n3,n4" {
		t.Errorf("Keys() = %v, want [n1 n2 n3 n4]", keys)
	}

	if err := notes.DeleteMany(ctx, keys); err != nil {
		t.Fatal(err)
	}
	if keys, _ := notes.Keys(ctx, 2); len(keys) != 0 {
		t.Errorf("Keys() after delete = %v, want none", keys)
	}
}

func testDeleteMany(t *testing.T, b store.Backend) {
	ctx := context.Background()
	notes := store.NewEntities(b, noteKind)
	for _, id := range []string{"a", "b", "c"} {
		if err := notes.Create(ctx, id, Note{ID: id}); err != nil {
			t.Fatal(err)
		}
	}
	if err := notes.DeleteMany(ctx, []string{"a", "c", "missing"}); err != nil {
		t.Fatalf("DeleteMany() error: %v", err)
	}
	all, _ := notes.All(ctx, 10)
	if len(all) != 1 || all[0].ID != "b" {
		t.Errorf("remaining = %+v, want only b", all)
	}
	if err := notes.DeleteMany(ctx, nil); err != nil {
		t.Errorf("DeleteMany(nil) error: %v", err)
	}
}

func testEnsureSeed(t *testing.T, b store.Backend) {
	ctx := context.Background()
	notes := store.NewEntities(b, noteKind)
	seed := []Note{{ID: "s1", Title: "one"}, {ID: "s2", Title: "two"}}

	seeded, err := notes.EnsureSeed(ctx, seed)
	if err != nil {
		t.Fatalf("EnsureSeed() error: %v", err)
	}
	if !seeded {
		t.Error("first EnsureSeed() = false, want true")
	}

	if _, err := notes.Mutate(ctx, "s1", func(n Note) Note { n.Title = "edited"; return n }); err != nil {
		t.Fatal(err)
	}

	seeded, err = notes.EnsureSeed(ctx, seed)
	if err != nil {
		t.Fatalf("second EnsureSeed() error: %v", err)
	}
	if seeded {
		t.Error("second EnsureSeed() = true, want false")
	}
	all, _ := notes.All(ctx, 10)
	if len(all) != 2 {
		t.Errorf("len = %d, want 2 (no duplicates)", len(all))
	}
	got, _ := notes.Get(ctx, "s1")
	if got.Title != "edited" {
		t.Errorf("Title = %q, second seed must not overwrite", got.Title)
	}
}

func testKindsIsolated(t *testing.T, b store.Backend) {
	ctx := context.Background()
	notes := store.NewEntities(b, noteKind)
	other := store.NewEntities(b, store.Kind[Note]{
		Name:    "other",
		Initial: noteKind.Initial,
		ID:      noteKind.ID,
	})
	if err := notes.Create(ctx, "x", Note{ID: "x"}); err != nil {
		t.Fatal(err)
	}
	if ok, _ := other.Exists(ctx, "x"); ok {
		t.Error("record leaked into another kind")
	}
	seeded, err := other.EnsureSeed(ctx, []Note{{ID: "y"}})
	if err != nil || !seeded {
		t.Errorf("EnsureSeed() on empty kind = %v, %v; want true", seeded, err)
	}
}

func testIndexAddRemove(t *testing.T, b store.Backend) {
	ctx := context.Background()
	idx := b.Index("folder:inbox")

	for _, k := range []string{"b", "a", "a", "c"} {
		if err := idx.Add(ctx, k); err != nil {
			t.Fatalf("Add(%q) error: %v", k, err)
		}
	}
	keys, _, err := idx.Page(ctx, "", 10)
	if err != nil {
		t.Fatalf("Page() error: %v", err)
	}
	if fmt.Sprint(keys) != "[a b c]" {
		t.Errorf("keys = %v, want [a b c]", keys)
	}

	for i := 0; i < 2; i++ {
		if err := idx.Remove(ctx, "b"); err != nil {
			t.Fatalf("Remove(b) #%d error: %v", i+1, err)
		}
	}
	if err := idx.Remove(ctx, "never-added"); err != nil {
		t.Errorf("Remove(never-added) error: %v", err)
	}
	keys, _, _ = idx.Page(ctx, "", 10)
	if fmt.Sprint(keys) != "[a c]" {
		t.Errorf("keys = %v, want [a c]", keys)
	}

	if err := b.Index("never-used").Remove(ctx, "x"); err != nil {
		t.Errorf("Remove on unused index error: %v", err)
	}
}

func testIndexPage(t *testing.T, b store.Backend) {
	ctx := context.Background()
	idx := b.Index("paged")
	for i := 0; i < 5; i++ {
		if err := idx.Add(ctx, fmt.Sprintf("k%d", i)); err != nil {
			t.Fatal(err)
		}
	}

	keys, next, err := idx.Page(ctx, "", 2)
	if err != nil {
		t.Fatalf("Page() error: %v", err)
	}
	if fmt.Sprint(keys) != "[k0 k1]" || next != "k1" {
		t.Errorf("Page(\"\", 2) = %v, %q", keys, next)
	}
	keys, next, _ = idx.Page(ctx, next, 2)
	if fmt.Sprint(keys) != "[k2 k3]" || next != "k3" {
		t.Errorf("Page(k1, 2) = %v, %q", keys, next)
	}
	keys, next, _ = idx.Page(ctx, next, 2)
	if fmt.Sprint(keys) != "[k4]" || next != "" {
		t.Errorf("Page(k3, 2) = %v, %q; want [k4] and no continuation", keys, next)
	}

	keys, _, _ = b.Index("empty").Page(ctx, "", 10)
	if len(keys) != 0 {
		t.Errorf("empty index Page() = %v", keys)
	}
}

func testIndexReverse(t *testing.T, b store.Backend) {
	ctx := context.Background()
	idx := b.Index("reversed")
	for i := 0; i < 5; i++ {
		if err := idx.Add(ctx, fmt.Sprintf("k%d", i)); err != nil {
			t.Fatal(err)
		}
	}

	keys, next, err := idx.Reverse(ctx, "", 2)
	if err != nil {
		t.Fatalf("Reverse() error: %v", err)
	}
	if fmt.Sprint(keys) != "[k4 k3]" || next != "k3" {
		t.Errorf("Reverse(\"\", 2) = %v, %q", keys, next)
	}
	keys, next, _ = idx.Reverse(ctx, next, 2)
	if fmt.Sprint(keys) != "[k2 k1]" {
		t.Errorf("Reverse(k3, 2) = %v, %q", keys, next)
	}
	keys, next, _ = idx.Reverse(ctx, next, 2)
	if fmt.Sprint(keys) != "[k0]" || next != "" {
		t.Errorf("Reverse(k1, 2) = %v, %q", keys, next)
	}

	keys, _, _ = idx.Reverse(ctx, "k25", 10)
	if fmt.Sprint(keys) != "[k2 k1 k0]" {
		t.Errorf("Reverse(k25) = %v, want keys below an absent cursor", keys)
	}
}

func testIndexClear(t *testing.T, b store.Backend) {
	ctx := context.Background()
	idx := b.Index("cleared")
	other := b.Index("kept")
	for _, k := range []string{"a", "b"} {
		if err := idx.Add(ctx, k); err != nil {
			t.Fatal(err)
		}
	}
	if err := other.Add(ctx, "z"); err != nil {
		t.Fatal(err)
	}
	if err := idx.Clear(ctx); err != nil {
		t.Fatalf("Clear() error: %v", err)
	}
	if err := idx.Clear(ctx); err != nil {
		t.Fatalf("second Clear() error: %v", err)
	}
	keys, _, _ := idx.Page(ctx, "", 10)
	if len(keys) != 0 {
		t.Errorf("keys after Clear = %v", keys)
	}
	keys, _, _ = other.Page(ctx, "", 10)
	if len(keys) != 1 {
		t.Errorf("Clear removed keys from another index: %v", keys)
	}
	if err := idx.Add(ctx, "c"); err != nil {
		t.Errorf("Add after Clear error: %v", err)
	}
}
