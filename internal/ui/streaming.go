// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// =============================================================================
// STREAMING BUFFER
// =============================================================================

// StreamingBuffer batches stream fragments for rendering. Fragments arrive
// from the stream goroutine faster than a terminal can usefully repaint;
// accumulating them and flushing at a capped frame rate keeps the display
// smooth without burning CPU on hundreds of renders per second.
//
// Delivery guarantees are unaffected: every fragment lands in the buffer in
// arrival order, and a flush drains the buffer wholesale, so the rendered
// transcript is always a prefix of the accumulated response.
//
// Thread-safety: all operations take a mutex since writes happen in the
// stream goroutine while flushes happen in the Bubble Tea loop.
type StreamingBuffer struct {
	mu            sync.Mutex
	buffer        strings.Builder
	fragmentCount int
	lastFlush     time.Time

	batchSize     int
	minFlushEvery time.Duration
}

// NewStreamingBuffer creates a streaming buffer with default settings:
// flush after 15 fragments or ~33ms (30fps), whichever comes first.
func NewStreamingBuffer() *StreamingBuffer {
	const (
		defaultBatchSize = 15
		defaultMaxFPS    = 30
	)

	return &StreamingBuffer{
		batchSize:     defaultBatchSize,
		minFlushEvery: time.Duration(1000/defaultMaxFPS) * time.Millisecond,
		lastFlush:     time.Now(),
	}
}

// Write appends a fragment to the buffer. Called from the stream goroutine.
func (sb *StreamingBuffer) Write(fragment string) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	sb.buffer.WriteString(fragment)
	sb.fragmentCount++
}

// Flush returns the accumulated content if a flush is due (batch size or
// time threshold reached) and resets the buffer. Called from the Bubble Tea
// loop on each stream tick.
func (sb *StreamingBuffer) Flush() (string, bool) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if sb.buffer.Len() == 0 {
		return "", false
	}
	if sb.fragmentCount < sb.batchSize && time.Since(sb.lastFlush) < sb.minFlushEvery {
		return "", false
	}

	return sb.drainLocked(), true
}

// ForceFlush drains the buffer regardless of thresholds. Used when the
// stream completes so no trailing fragment is left unrendered.
func (sb *StreamingBuffer) ForceFlush() (string, bool) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if sb.buffer.Len() == 0 {
		return "", false
	}
	return sb.drainLocked(), true
}

// Reset clears the buffer without flushing, for a cancelled stream.
func (sb *StreamingBuffer) Reset() {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	sb.buffer.Reset()
	sb.fragmentCount = 0
	sb.lastFlush = time.Now()
}

// Pending returns the number of fragments waiting to be flushed.
func (sb *StreamingBuffer) Pending() int {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.fragmentCount
}

func (sb *StreamingBuffer) drainLocked() string {
	content := sb.buffer.String()
	sb.buffer.Reset()
	sb.fragmentCount = 0
	sb.lastFlush = time.Now()
	return content
}

// =============================================================================
// STREAMING TICK COMMAND
// =============================================================================

// streamTickCmd emits StreamTickMsg at ~30fps while a stream is active.
func streamTickCmd() tea.Cmd {
	return tea.Tick(33*time.Millisecond, func(t time.Time) tea.Msg {
		return StreamTickMsg{Time: t}
	})
}
