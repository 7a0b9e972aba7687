package llm

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// callRecord is one recorded completion, keyed by a request fingerprint.
type callRecord struct {
	Key      string    `json:"key"`
	Model    string    `json:"model"`
	Prompt   string    `json:"prompt"`
	Response *Response `json:"response"`
}

// requestKey fingerprints a request for replay lookup.
func requestKey(req Request) string {
	h := sha256.New()
	io.WriteString(h, req.Model)
	h.Write([]byte{0})
	io.WriteString(h, req.System)
	h.Write([]byte{0})
	io.WriteString(h, req.Prompt)
	h.Write([]byte{0})
	h.Write(req.Schema)
	return hex.EncodeToString(h.Sum(nil))
}

// RecordingClient forwards requests to an inner client and appends each
// successful call to a JSONL recording that ReplayClient can serve later.
type RecordingClient struct {
	inner  Client
	file   *os.File
	writer *bufio.Writer
	enc    *json.Encoder
}

// NewRecordingClient opens (or appends to) the recording at path.
func NewRecordingClient(inner Client, path string) (*RecordingClient, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open recording: %w", err)
	}
	w := bufio.NewWriter(f)
	return &RecordingClient{inner: inner, file: f, writer: w, enc: json.NewEncoder(w)}, nil
}

// Complete forwards to the inner client and records the reply.
func (c *RecordingClient) Complete(ctx context.Context, req Request) (*Response, error) {
	resp, err := c.inner.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	rec := callRecord{Key: requestKey(req), Model: req.Model, Prompt: req.Prompt, Response: resp}
	if err := c.enc.Encode(rec); err != nil {
		return nil, fmt.Errorf("encode recording: %w", err)
	}
	if err := c.writer.Flush(); err != nil {
		return nil, fmt.Errorf("flush recording: %w", err)
	}
	return resp, nil
}

// Close flushes and closes the recording file.
func (c *RecordingClient) Close() error {
	if err := c.writer.Flush(); err != nil {
		return err
	}
	return c.file.Close()
}

// ReplayClient serves recorded completions by request fingerprint, in
// recording order when a request repeats. It never touches the network.
type ReplayClient struct {
	queues map[string][]*Response
}

// NewReplayClient loads a JSONL recording produced by RecordingClient.
func NewReplayClient(path string) (*ReplayClient, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()

	queues := make(map[string][]*Response)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec callRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("recording line %d: %w", line, err)
		}
		if rec.Response == nil {
			return nil, fmt.Errorf("recording line %d: missing response", line)
		}
		queues[rec.Key] = append(queues[rec.Key], rec.Response)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read recording: %w", err)
	}
	return &ReplayClient{queues: queues}, nil
}

// Complete serves the next recorded response for this request.
func (c *ReplayClient) Complete(ctx context.Context, req Request) (*Response, error) {
	key := requestKey(req)
	queue := c.queues[key]
	if len(queue) == 0 {
		return nil, fmt.Errorf("no recorded response for this request (model=%s); re-record with --record", req.Model)
	}
	resp := queue[0]
	c.queues[key] = queue[1:]
	return resp, nil
}
