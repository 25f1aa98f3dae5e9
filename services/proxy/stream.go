package proxy

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
)

// CancelPredicate is polled between reads of the upstream body. Returning
// true ends the stream immediately without a final done chunk.
type CancelPredicate func() bool

const (
	streamOpen = iota
	streamDone
	streamCancelled
	streamFailed
)

// ChunkStream decodes an OpenAI-style SSE body into StreamChunks on demand.
//
// Frames arrive as "data: <json>" lines; the "[DONE]" sentinel and frames
// that fail to decode are skipped. A finish_reason produces one final chunk
// with Done set, as does a clean end of the body. Not safe for concurrent
// use.
type ChunkStream struct {
	body     io.ReadCloser
	cancel   CancelPredicate
	warnings []string

	state     int
	firstSent bool
	pending   []byte
	queue     []StreamChunk
	readBuf   []byte
}

func newChunkStream(body io.ReadCloser, warnings []string, cancel CancelPredicate) *ChunkStream {
	if cancel == nil {
		cancel = func() bool { return false }
	}
	return &ChunkStream{
		body:     body,
		cancel:   cancel,
		warnings: warnings,
		readBuf:  make([]byte, 4096),
	}
}

// Next returns the next chunk. After the final chunk (or after
// cancellation) every call returns io.EOF.
func (s *ChunkStream) Next() (StreamChunk, error) {
	for {
		if len(s.queue) > 0 {
			chunk := s.queue[0]
			s.queue = s.queue[1:]
			if !s.firstSent {
				s.firstSent = true
				chunk.Warnings = s.warnings
			}
			return chunk, nil
		}
		if s.state != streamOpen {
			return StreamChunk{}, io.EOF
		}

		if s.cancel() {
			s.finish(streamCancelled)
			s.queue = nil
			return StreamChunk{}, io.EOF
		}

		n, err := s.body.Read(s.readBuf)
		if n > 0 {
			s.consume(s.readBuf[:n])
		}
		if err == io.EOF {
			// Upstream closed without a finish_reason; end the stream
			// gracefully for the consumer.
			if s.state == streamOpen {
				s.finish(streamDone)
				s.queue = append(s.queue, StreamChunk{Done: true})
			}
			continue
		}
		if err != nil {
			if s.state != streamOpen {
				continue
			}
			s.finish(streamFailed)
			slog.Warn("Stream read failed", "error", err)
			return StreamChunk{}, &Error{Code: CodeTransient, Status: 0,
				Message: "stream interrupted: " + err.Error()}
		}
	}
}

// consume splits incoming bytes into lines and decodes complete ones,
// keeping any trailing fragment for the next read.
func (s *ChunkStream) consume(data []byte) {
	s.pending = append(s.pending, data...)
	for {
		idx := bytes.IndexByte(s.pending, '\n')
		if idx < 0 {
			return
		}
		line := strings.TrimRight(string(s.pending[:idx]), "\r")
		s.pending = s.pending[idx+1:]
		s.decodeLine(line)
		if s.state != streamOpen {
			return
		}
	}
}

func (s *ChunkStream) decodeLine(line string) {
	if !strings.HasPrefix(line, "data: ") {
		return
	}
	data := strings.TrimPrefix(line, "data: ")
	if data == "[DONE]" {
		return
	}

	var frame streamFrame
	if err := json.Unmarshal([]byte(data), &frame); err != nil {
		slog.Warn("Skipping undecodable stream frame", "error", err)
		return
	}
	if len(frame.Choices) == 0 {
		return
	}
	choice := frame.Choices[0]
	if choice.Delta.Content != "" {
		s.queue = append(s.queue, StreamChunk{Content: choice.Delta.Content})
	}
	if choice.FinishReason != "" {
		s.finish(streamDone)
		s.queue = append(s.queue, StreamChunk{Done: true})
	}
}

func (s *ChunkStream) finish(state int) {
	s.state = state
	s.body.Close()
}

// Close releases the underlying body. Safe to call at any time; pending
// chunks already decoded remain readable.
func (s *ChunkStream) Close() error {
	if s.state == streamOpen {
		s.state = streamCancelled
		return s.body.Close()
	}
	return nil
}
