// Copyright (c) 2025 KactLabs
// SPDX-License-Identifier: MIT

package ollama

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// =============================================================================
// STREAM
// =============================================================================

// Stream is the lazy sequence of chunks produced by a streaming chat
// request. It owns the underlying connection exclusively: the sequence ends
// with exactly one final chunk (Done=true) or an error, and Close releases
// the connection on any exit path, including early cancellation.
//
// A Stream is not restartable and must not be shared across goroutines.
type Stream struct {
	body   io.ReadCloser
	reader *bufio.Reader
	cancel context.CancelFunc

	op        string
	requestID string

	// gap is the stall watchdog: the longest Recv waits for the next chunk
	// before failing the stream with a Timeout error.
	gap     time.Duration
	stalled atomic.Bool

	acc       strings.Builder
	done      bool
	err       error
	closeOnce sync.Once
}

func newStream(body io.ReadCloser, cancel context.CancelFunc, op, requestID string, gap time.Duration) *Stream {
	return &Stream{
		body:      body,
		reader:    bufio.NewReader(body),
		cancel:    cancel,
		op:        op,
		requestID: requestID,
		gap:       gap,
	}
}

// Recv returns the next chunk. After the final chunk has been delivered it
// returns io.EOF. Any other error terminates the stream; the connection is
// released before Recv returns it.
func (s *Stream) Recv() (StreamChunk, error) {
	if s.err != nil {
		return StreamChunk{}, s.err
	}
	if s.done {
		return StreamChunk{}, io.EOF
	}

	chunk, err := s.next()
	if err != nil {
		s.err = err
		s.Close()
		return StreamChunk{}, err
	}

	s.acc.WriteString(chunk.Content)
	if chunk.Done {
		s.done = true
		s.Close()
	}
	return chunk, nil
}

// next reads NDJSON lines until one yields a chunk, guarded by the stall
// watchdog.
func (s *Stream) next() (StreamChunk, error) {
	if s.gap > 0 {
		timer := time.AfterFunc(s.gap, func() {
			s.stalled.Store(true)
			s.cancel()
		})
		defer timer.Stop()
	}

	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil {
			if len(strings.TrimSpace(string(line))) > 0 {
				// The server may omit the trailing newline on the last line.
				return s.decode(line)
			}
			return StreamChunk{}, s.readError(err)
		}
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		return s.decode(line)
	}
}

// decode parses one NDJSON line into a chunk.
func (s *Stream) decode(line []byte) (StreamChunk, error) {
	var wire chatResponse
	if err := json.Unmarshal(line, &wire); err != nil {
		return StreamChunk{}, &ClientError{
			Kind:      ErrKindDecode,
			Op:        s.op,
			Message:   "malformed stream chunk",
			Cause:     err,
			RequestID: s.requestID,
		}
	}

	chunk := StreamChunk{
		Content: wire.Message.Content,
		Done:    wire.Done,
		Model:   wire.Model,
	}
	if wire.Done {
		chunk.DoneReason = wire.DoneReason
		chunk.PromptTokens = wire.PromptEvalCount
		chunk.CompletionTokens = wire.EvalCount
	}
	return chunk, nil
}

// readError classifies a failed read. The stream never silently truncates:
// EOF before the final chunk is an error, and a watchdog-cancelled read
// surfaces as a timeout.
func (s *Stream) readError(err error) error {
	if s.stalled.Load() {
		return &ClientError{
			Kind:      ErrKindTimeout,
			Op:        s.op,
			Message:   "stream stalled: no chunk within " + s.gap.String(),
			Cause:     err,
			RequestID: s.requestID,
		}
	}
	if err == io.EOF {
		return &ClientError{
			Kind:      ErrKindNetwork,
			Op:        s.op,
			Message:   "stream closed before final chunk",
			Cause:     io.ErrUnexpectedEOF,
			RequestID: s.requestID,
		}
	}
	return classifyTransport(s.op, s.requestID, err)
}

// Close cancels the request and releases the connection. It is idempotent
// and safe to call at any point; abandoning a Stream without Close leaks
// the connection until the caller's context ends.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.body.Close()
	})
	return nil
}

// Content returns everything accumulated so far. After a complete stream it
// equals the Invoke result for the same deterministic request.
func (s *Stream) Content() string {
	return s.acc.String()
}

// Chan adapts the stream for select-based consumers. The channel closes
// after the final chunk or an error; errors arrive as a chunk with Err set.
// Cancelling ctx abandons and closes the stream.
func (s *Stream) Chan(ctx context.Context) <-chan StreamChunk {
	ch := make(chan StreamChunk)
	go func() {
		defer close(ch)
		defer s.Close()
		for {
			chunk, err := s.Recv()
			if err == io.EOF {
				return
			}
			if err != nil {
				select {
				case ch <- StreamChunk{Err: err, Done: true}:
				case <-ctx.Done():
				}
				return
			}
			select {
			case ch <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

// =============================================================================
// ACCUMULATOR
// =============================================================================

// StreamAccumulator collects chunks into the final content. Useful when a
// caller wants streaming delivery and the assembled response.
type StreamAccumulator struct {
	content strings.Builder
	final   StreamChunk
	done    bool
}

// Add processes one chunk.
func (a *StreamAccumulator) Add(chunk StreamChunk) {
	a.content.WriteString(chunk.Content)
	if chunk.Done {
		a.final = chunk
		a.done = true
	}
}

// Content returns the accumulated text.
func (a *StreamAccumulator) Content() string {
	return a.content.String()
}

// Done reports whether the final chunk has arrived.
func (a *StreamAccumulator) Done() bool {
	return a.done
}

// Final returns the final chunk with the usage metadata, valid once Done.
func (a *StreamAccumulator) Final() StreamChunk {
	return a.final
}
