// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package archive

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestArchive(t *testing.T) *Archive {
	t.Helper()
	arch, err := Open(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { arch.Close() })
	return arch
}

// =============================================================================
// OPEN
// =============================================================================

func TestOpenCreatesDirectoryAndSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "archive.db")

	arch, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer arch.Close()

	n, err := arch.Count(context.Background())
	if err != nil {
		t.Fatalf("Count failed on fresh archive: %v", err)
	}
	if n != 0 {
		t.Errorf("fresh archive has %d exchanges", n)
	}
}

func TestOpenEmptyPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Error("Open accepted an empty path")
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.db")
	ctx := context.Background()

	first, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	first.Save(ctx, 1, "hola", "hola, ¿qué tal?")
	first.Close()

	second, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer second.Close()

	n, _ := second.Count(ctx)
	if n != 1 {
		t.Errorf("Count = %d after reopen, want 1", n)
	}
}

// =============================================================================
// SAVE / QUERY
// =============================================================================

func TestSaveAndRecent(t *testing.T) {
	arch := openTestArchive(t)
	ctx := context.Background()

	exchanges := []struct {
		conv   int64
		prompt string
		reply  string
	}{
		{1, "first question", "first answer"},
		{1, "second question", "second answer"},
		{2, "other conversation", "other answer"},
	}
	for _, ex := range exchanges {
		if err := arch.Save(ctx, ex.conv, ex.prompt, ex.reply); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	recent, err := arch.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("Recent returned %d exchanges, want 2", len(recent))
	}
	// Newest first; same-second inserts break ties by row id.
	if recent[0].Prompt != "other conversation" {
		t.Errorf("recent[0].Prompt = %q", recent[0].Prompt)
	}
	if recent[1].Prompt != "second question" {
		t.Errorf("recent[1].Prompt = %q", recent[1].Prompt)
	}
}

func TestRecentDefaultLimit(t *testing.T) {
	arch := openTestArchive(t)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		arch.Save(ctx, 1, "p", "r")
	}

	recent, err := arch.Recent(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 20 {
		t.Errorf("Recent(0) returned %d exchanges, want default 20", len(recent))
	}
}

func TestSearch(t *testing.T) {
	arch := openTestArchive(t)
	ctx := context.Background()

	arch.Save(ctx, 1, "how do goroutines work", "goroutines are lightweight threads")
	arch.Save(ctx, 1, "what is a channel", "a channel carries values between goroutines")
	arch.Save(ctx, 2, "unrelated", "nothing here")

	hits, err := arch.Search(ctx, "goroutine", 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("Search returned %d hits, want 2", len(hits))
	}

	// Matches in the reply count too.
	hits, _ = arch.Search(ctx, "carries values", 10)
	if len(hits) != 1 {
		t.Errorf("reply-side search returned %d hits, want 1", len(hits))
	}

	hits, _ = arch.Search(ctx, "no-such-term", 10)
	if len(hits) != 0 {
		t.Errorf("Search returned %d hits for an absent term", len(hits))
	}
}

func TestConversationChronological(t *testing.T) {
	arch := openTestArchive(t)
	ctx := context.Background()

	arch.Save(ctx, 7, "q1", "a1")
	arch.Save(ctx, 7, "q2", "a2")
	arch.Save(ctx, 8, "elsewhere", "elsewhere")

	exchanges, err := arch.Conversation(ctx, 7)
	if err != nil {
		t.Fatalf("Conversation failed: %v", err)
	}
	if len(exchanges) != 2 {
		t.Fatalf("Conversation returned %d exchanges, want 2", len(exchanges))
	}
	if exchanges[0].Prompt != "q1" || exchanges[1].Prompt != "q2" {
		t.Errorf("exchanges out of order: %q, %q", exchanges[0].Prompt, exchanges[1].Prompt)
	}
	for _, ex := range exchanges {
		if ex.ConversationID != 7 {
			t.Errorf("exchange from conversation %d leaked in", ex.ConversationID)
		}
	}
}

func TestCount(t *testing.T) {
	arch := openTestArchive(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		arch.Save(ctx, 1, "p", "r")
	}

	n, err := arch.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("Count = %d, want 3", n)
	}
}
