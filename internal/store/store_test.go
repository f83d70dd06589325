package store

import (
	"path/filepath"
	"testing"
	"time"

	"expandd/internal/snippet"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "expandd.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertAndGetSnippet(t *testing.T) {
	s := openTestStore(t)

	sn := snippet.Snippet{ID: "sig", Trigger: ";sig", Content: "Best regards"}
	if err := s.UpsertSnippet(sn); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.GetSnippet("sig")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || *got != sn {
		t.Fatalf("got %+v, want %+v", got, sn)
	}
}

func TestGetMissingSnippetReturnsNil(t *testing.T) {
	s := openTestStore(t)

	got, err := s.GetSnippet("nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestUpsertUpdatesExisting(t *testing.T) {
	s := openTestStore(t)

	s.UpsertSnippet(snippet.Snippet{ID: "sig", Trigger: ";sig", Content: "old"})
	if err := s.UpsertSnippet(snippet.Snippet{ID: "sig", Trigger: ";sig", Content: "new"}); err != nil {
		t.Fatalf("upsert update: %v", err)
	}

	got, _ := s.GetSnippet("sig")
	if got.Content != "new" {
		t.Fatalf("content = %q, want new", got.Content)
	}

	all, _ := s.ListSnippets()
	if len(all) != 1 {
		t.Fatalf("expected 1 snippet, got %d", len(all))
	}
}

func TestUpsertTriggerConflictLastWriteWins(t *testing.T) {
	s := openTestStore(t)

	s.UpsertSnippet(snippet.Snippet{ID: "a", Trigger: ";sig", Content: "first"})
	if err := s.UpsertSnippet(snippet.Snippet{ID: "b", Trigger: ";sig", Content: "second"}); err != nil {
		t.Fatalf("conflicting upsert: %v", err)
	}

	all, err := s.ListSnippets()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 snippet after trigger conflict, got %d", len(all))
	}
	if all[0].ID != "b" || all[0].Content != "second" {
		t.Fatalf("wrong winner: %+v", all[0])
	}
}

func TestUpsertRejectsInvalidSnippet(t *testing.T) {
	s := openTestStore(t)

	if err := s.UpsertSnippet(snippet.Snippet{ID: "x", Trigger: "a", Content: "too short"}); err == nil {
		t.Fatal("expected validation error for one-rune trigger")
	}
}

func TestDeleteSnippet(t *testing.T) {
	s := openTestStore(t)

	s.UpsertSnippet(snippet.Snippet{ID: "sig", Trigger: ";sig", Content: "x"})
	if err := s.DeleteSnippet("sig"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got, _ := s.GetSnippet("sig"); got != nil {
		t.Fatal("snippet still present after delete")
	}
	// Unknown ID is not an error.
	if err := s.DeleteSnippet("missing"); err != nil {
		t.Fatalf("delete missing: %v", err)
	}
}

func TestReplaceSnippetsWholesale(t *testing.T) {
	s := openTestStore(t)

	s.UpsertSnippet(snippet.Snippet{ID: "old", Trigger: ";old", Content: "gone"})

	err := s.ReplaceSnippets([]snippet.Snippet{
		{ID: "mail", Trigger: "!mail", Content: "a@b.com"},
		{ID: "sig", Trigger: ";sig", Content: "Best"},
	})
	if err != nil {
		t.Fatalf("replace: %v", err)
	}

	all, _ := s.ListSnippets()
	if len(all) != 2 {
		t.Fatalf("expected 2 snippets, got %d", len(all))
	}
	for _, sn := range all {
		if sn.ID == "old" {
			t.Fatal("replaced set still contains the old snippet")
		}
	}
}

func TestReplaceSnippetsRejectsInvalidSetAtomically(t *testing.T) {
	s := openTestStore(t)
	s.UpsertSnippet(snippet.Snippet{ID: "keep", Trigger: ";keep", Content: "x"})

	err := s.ReplaceSnippets([]snippet.Snippet{
		{ID: "ok", Trigger: ";ok", Content: "fine"},
		{ID: "bad", Trigger: "", Content: "no trigger"},
	})
	if err == nil {
		t.Fatal("expected validation error")
	}

	// The old set survives a rejected replace.
	all, _ := s.ListSnippets()
	if len(all) != 1 || all[0].ID != "keep" {
		t.Fatalf("store mutated by failed replace: %+v", all)
	}
}

func TestExpansionHistory(t *testing.T) {
	s := openTestStore(t)

	base := time.Now()
	for i, trig := range []string{";sig", "!mail", ";sig"} {
		if err := s.RecordExpansion(trig, 10+i, base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	n, err := s.CountExpansions()
	if err != nil || n != 3 {
		t.Fatalf("count = %d, %v; want 3", n, err)
	}

	recent, err := s.RecentExpansions(2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(recent))
	}
	// Newest first.
	if recent[0].Trigger != ";sig" || recent[0].ContentLen != 12 {
		t.Fatalf("wrong newest row: %+v", recent[0])
	}
	if recent[1].Trigger != "!mail" {
		t.Fatalf("wrong second row: %+v", recent[1])
	}
}

func TestPruneExpansions(t *testing.T) {
	s := openTestStore(t)

	now := time.Now()
	s.RecordExpansion(";old", 5, now.Add(-48*time.Hour))
	s.RecordExpansion(";new", 5, now)

	removed, err := s.PruneExpansions(now.Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}

	n, _ := s.CountExpansions()
	if n != 1 {
		t.Fatalf("count after prune = %d, want 1", n)
	}
}

func TestReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "expandd.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s.UpsertSnippet(snippet.Snippet{ID: "sig", Trigger: ";sig", Content: "x"})
	s.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	all, _ := s2.ListSnippets()
	if len(all) != 1 {
		t.Fatalf("expected 1 snippet after reopen, got %d", len(all))
	}
}
