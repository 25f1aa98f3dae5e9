// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package proxy

import (
	"io"
	"strings"
	"testing"
)

// =============================================================================
// Helpers
// =============================================================================

// chunkedReader yields the given segments one per Read call, simulating an
// SSE body arriving in arbitrary network fragments.
type chunkedReader struct {
	segments []string
	closed   bool
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if len(r.segments) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.segments[0])
	r.segments[0] = r.segments[0][n:]
	if r.segments[0] == "" {
		r.segments = r.segments[1:]
	}
	return n, nil
}

func (r *chunkedReader) Close() error {
	r.closed = true
	return nil
}

func frame(content, finishReason string) string {
	out := `data: {"choices":[{"delta":{"content":"` + content + `"},"finish_reason":`
	if finishReason == "" {
		return out + "null}]}\n"
	}
	return out + `"` + finishReason + `"}]}` + "\n"
}

func drain(t *testing.T, s *ChunkStream) []StreamChunk {
	t.Helper()
	var chunks []StreamChunk
	for {
		chunk, err := s.Next()
		if err == io.EOF {
			return chunks
		}
		if err != nil {
			t.Fatalf("Next returned error: %v", err)
		}
		chunks = append(chunks, chunk)
	}
}

// =============================================================================
// ChunkStream Tests
// =============================================================================

// TestChunkStream_BasicSequence tests decoding a complete stream.
//
// # Description
//
// Verifies that content frames become content chunks in order and that the
// finish_reason frame becomes exactly one final done chunk.
func TestChunkStream_BasicSequence(t *testing.T) {
	t.Parallel()

	body := &chunkedReader{segments: []string{
		frame("A", "") + frame("B", "") + frame("", "stop") + "data: [DONE]\n",
	}}
	s := newChunkStream(body, nil, nil)

	chunks := drain(t, s)
	want := []StreamChunk{{Content: "A"}, {Content: "B"}, {Done: true}}
	if len(chunks) != len(want) {
		t.Fatalf("got %d chunks, want %d: %+v", len(chunks), len(want), chunks)
	}
	for i := range want {
		if chunks[i].Content != want[i].Content || chunks[i].Done != want[i].Done {
			t.Errorf("chunk %d = %+v, want %+v", i, chunks[i], want[i])
		}
	}
	if !body.closed {
		t.Error("body was not closed after the final chunk")
	}
}

// TestChunkStream_WarningsOnFirstChunkOnly tests warning propagation.
//
// # Description
//
// Verifies that the configured warnings ride on the first chunk returned
// and on no later chunk.
func TestChunkStream_WarningsOnFirstChunkOnly(t *testing.T) {
	t.Parallel()

	body := &chunkedReader{segments: []string{
		frame("A", "") + frame("B", "stop"),
	}}
	s := newChunkStream(body, []string{"Masked email addresses before sending your message."}, nil)

	chunks := drain(t, s)
	if len(chunks) == 0 {
		t.Fatal("got no chunks")
	}
	if len(chunks[0].Warnings) != 1 {
		t.Errorf("first chunk warnings = %v, want one warning", chunks[0].Warnings)
	}
	for i, c := range chunks[1:] {
		if len(c.Warnings) != 0 {
			t.Errorf("chunk %d carries warnings: %v", i+1, c.Warnings)
		}
	}
}

// TestChunkStream_FragmentReassembly tests line reassembly across reads.
//
// # Description
//
// Verifies that a data line split across several Read calls is reassembled
// before decoding.
func TestChunkStream_FragmentReassembly(t *testing.T) {
	t.Parallel()

	full := frame("Hello world", "")
	body := &chunkedReader{segments: []string{
		full[:10], full[10:25], full[25:] + frame("", "stop"),
	}}
	s := newChunkStream(body, nil, nil)

	chunks := drain(t, s)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2: %+v", len(chunks), chunks)
	}
	if chunks[0].Content != "Hello world" {
		t.Errorf("content = %q, want %q", chunks[0].Content, "Hello world")
	}
	if !chunks[1].Done {
		t.Error("last chunk is not the done chunk")
	}
}

// TestChunkStream_MalformedFrameSkipped tests decode error tolerance.
//
// # Description
//
// Verifies that an undecodable data line is skipped and the stream
// continues with the following frames.
func TestChunkStream_MalformedFrameSkipped(t *testing.T) {
	t.Parallel()

	body := &chunkedReader{segments: []string{
		frame("A", "") + "data: {not json}\n" + frame("B", "stop"),
	}}
	s := newChunkStream(body, nil, nil)

	chunks := drain(t, s)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3: %+v", len(chunks), chunks)
	}
	if chunks[0].Content != "A" || chunks[1].Content != "B" || !chunks[2].Done {
		t.Errorf("unexpected sequence: %+v", chunks)
	}
}

// TestChunkStream_NonDataLinesIgnored tests SSE comment and event handling.
//
// # Description
//
// Verifies that lines without the data prefix (comments, event names,
// blank keep-alives) are ignored.
func TestChunkStream_NonDataLinesIgnored(t *testing.T) {
	t.Parallel()

	body := &chunkedReader{segments: []string{
		": keep-alive\n\nevent: message\n" + frame("A", "stop"),
	}}
	s := newChunkStream(body, nil, nil)

	chunks := drain(t, s)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2: %+v", len(chunks), chunks)
	}
}

// TestChunkStream_CancelStopsWithoutDone tests cooperative cancellation.
//
// # Description
//
// Verifies that once the cancel predicate fires, the stream ends without a
// done chunk and the body is closed.
func TestChunkStream_CancelStopsWithoutDone(t *testing.T) {
	t.Parallel()

	body := &chunkedReader{segments: []string{
		frame("A", ""), frame("B", ""), frame("", "stop"),
	}}
	cancelled := false
	s := newChunkStream(body, nil, func() bool { return cancelled })

	first, err := s.Next()
	if err != nil {
		t.Fatalf("Next returned error: %v", err)
	}
	if first.Content != "A" {
		t.Errorf("first chunk = %+v, want content A", first)
	}

	cancelled = true
	if _, err := s.Next(); err != io.EOF {
		t.Errorf("Next after cancel = %v, want io.EOF", err)
	}
	if !body.closed {
		t.Error("body was not closed on cancellation")
	}
	if _, err := s.Next(); err != io.EOF {
		t.Errorf("Next after cancelled stream = %v, want io.EOF", err)
	}
}

// TestChunkStream_EOFWithoutFinish tests an upstream that closes early.
//
// # Description
//
// Verifies that a body ending without a finish_reason still yields a final
// done chunk so consumers terminate cleanly.
func TestChunkStream_EOFWithoutFinish(t *testing.T) {
	t.Parallel()

	body := io.NopCloser(strings.NewReader(frame("A", "")))
	s := newChunkStream(body, nil, nil)

	chunks := drain(t, s)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2: %+v", len(chunks), chunks)
	}
	if chunks[0].Content != "A" || !chunks[1].Done {
		t.Errorf("unexpected sequence: %+v", chunks)
	}
}
