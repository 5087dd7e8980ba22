// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

// =============================================================================
// STREAMING BUFFER TESTS
// =============================================================================

func TestStreamingBufferWrite(t *testing.T) {
	sb := NewStreamingBuffer()

	sb.Write("Hola")
	sb.Write(" ")
	sb.Write("mundo")

	if pending := sb.Pending(); pending != 3 {
		t.Errorf("Pending = %d, want 3", pending)
	}
}

func TestStreamingBufferFlushBySize(t *testing.T) {
	sb := NewStreamingBuffer()

	// Just under the batch threshold, immediately after a flush window
	// reset: nothing should flush yet.
	sb.Reset()
	sb.Write("A")
	sb.Write("B")
	if content, ok := sb.Flush(); ok {
		t.Errorf("premature flush: %q", content)
	}

	// Crossing the batch threshold flushes regardless of elapsed time.
	for i := 0; i < 15; i++ {
		sb.Write("x")
	}
	content, ok := sb.Flush()
	if !ok {
		t.Fatal("no flush after crossing the batch threshold")
	}
	if content != "AB"+strings.Repeat("x", 15) {
		t.Errorf("content = %q", content)
	}
	if sb.Pending() != 0 {
		t.Errorf("Pending = %d after flush", sb.Pending())
	}
}

func TestStreamingBufferFlushByTime(t *testing.T) {
	sb := NewStreamingBuffer()
	sb.Reset()
	sb.Write("slow stream")

	time.Sleep(40 * time.Millisecond)

	content, ok := sb.Flush()
	if !ok {
		t.Fatal("no flush after the time threshold")
	}
	if content != "slow stream" {
		t.Errorf("content = %q", content)
	}
}

func TestStreamingBufferEmptyNeverFlushes(t *testing.T) {
	sb := NewStreamingBuffer()
	time.Sleep(40 * time.Millisecond)

	if content, ok := sb.Flush(); ok {
		t.Errorf("empty buffer flushed: %q", content)
	}
	if content, ok := sb.ForceFlush(); ok {
		t.Errorf("empty buffer force-flushed: %q", content)
	}
}

func TestStreamingBufferForceFlush(t *testing.T) {
	sb := NewStreamingBuffer()
	sb.Reset()
	sb.Write("tail")

	content, ok := sb.ForceFlush()
	if !ok || content != "tail" {
		t.Errorf("ForceFlush = %q, %v", content, ok)
	}
}

func TestStreamingBufferReset(t *testing.T) {
	sb := NewStreamingBuffer()
	sb.Write("discarded")
	sb.Reset()

	if content, ok := sb.ForceFlush(); ok {
		t.Errorf("content survived Reset: %q", content)
	}
}

func TestStreamingBufferPreservesOrder(t *testing.T) {
	sb := NewStreamingBuffer()

	var want strings.Builder
	for i := 0; i < 100; i++ {
		fragment := fmt.Sprintf("[%d]", i)
		sb.Write(fragment)
		want.WriteString(fragment)
	}

	var got strings.Builder
	for {
		content, ok := sb.ForceFlush()
		if !ok {
			break
		}
		got.WriteString(content)
	}

	if got.String() != want.String() {
		t.Error("flushed content is not the concatenation of writes in order")
	}
}
