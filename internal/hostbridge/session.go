// Package hostbridge exchanges commands with the plugin host through a
// shared queue directory: requests/<id>.json out, responses/<id>.json back.
package hostbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"assetlibrary/internal/apperr"
	"assetlibrary/internal/fileops"
)

const (
	RequestsDir  = "requests"
	ResponsesDir = "responses"

	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"

	defaultTimeout = 60 * time.Second
)

// ErrHostFailed is returned when the host answered with status failed.
var ErrHostFailed = errors.New("host reported failure")

type Request struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

type Response struct {
	ID          string          `json:"id"`
	Status      string          `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CompletedAt time.Time       `json:"completed_at"`
}

// Session allows a single command in flight at a time.
type Session struct {
	dir     string
	timeout time.Duration
	log     *zap.Logger

	mu      sync.Mutex
	pending string
}

func NewSession(dir string, timeout time.Duration, log *zap.Logger) (*Session, error) {
	if dir == "" {
		return nil, fmt.Errorf("queue directory is required")
	}
	for _, sub := range []string{RequestsDir, ResponsesDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s queue: %w", sub, err)
		}
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{dir: dir, timeout: timeout, log: log.Named("hostbridge")}, nil
}

// Pending returns the id of the command in flight, or "".
func (s *Session) Pending() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

func (s *Session) begin(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != "" {
		return apperr.Conflict("host command", "command %s is still waiting for the host", s.pending)
	}
	s.pending = id
	return nil
}

func (s *Session) end() {
	s.mu.Lock()
	s.pending = ""
	s.mu.Unlock()
}

func (s *Session) requestPath(id string) string {
	return filepath.Join(s.dir, RequestsDir, id+".json")
}

func (s *Session) responsePath(id string) string {
	return filepath.Join(s.dir, ResponsesDir, id+".json")
}

// Send queues a command and waits for the host's answer. A host that does not
// answer within the session timeout yields a Cancelled error and the request
// is withdrawn.
func (s *Session) Send(ctx context.Context, cmdType string, payload any) (*Response, error) {
	const op = "host command"

	req := Request{
		ID:        uuid.NewString(),
		Type:      cmdType,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.KindInvalid, op, "encode payload")
		}
		req.Payload = raw
	}

	if err := s.begin(req.ID); err != nil {
		return nil, err
	}
	defer s.end()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, apperr.IO(op, err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Join(s.dir, ResponsesDir)); err != nil {
		return nil, apperr.IO(op, err)
	}

	raw, err := json.Marshal(req)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindInvalid, op, "encode request")
	}
	if _, err := fileops.WriteAtomic(s.requestPath(req.ID), bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	s.log.Debug("command queued", zap.String("id", req.ID), zap.String("type", cmdType))

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	// The host may have answered before the first event was delivered.
	if resp, ok := s.readResponse(req.ID); ok {
		return s.finish(req.ID, resp)
	}

	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil, apperr.New(apperr.KindIO, op, "response watcher closed")
			}
			if filepath.Base(ev.Name) != req.ID+".json" || !ev.Has(fsnotify.Create|fsnotify.Write|fsnotify.Rename) {
				continue
			}
			if resp, ok := s.readResponse(req.ID); ok {
				return s.finish(req.ID, resp)
			}
		case err, ok := <-watcher.Errors:
			if ok {
				s.log.Warn("response watcher error", zap.Error(err))
			}
		case <-timer.C:
			s.withdraw(req.ID)
			s.log.Warn("host did not respond", zap.String("id", req.ID), zap.Duration("timeout", s.timeout))
			return nil, apperr.Cancelled(op, fmt.Errorf("host did not respond within %s", s.timeout))
		case <-ctx.Done():
			s.withdraw(req.ID)
			return nil, apperr.Cancelled(op, ctx.Err())
		}
	}
}

// readResponse reports false while the response is missing, partial or
// still pending.
func (s *Session) readResponse(id string) (*Response, bool) {
	raw, err := os.ReadFile(s.responsePath(id))
	if err != nil {
		return nil, false
	}
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, false
	}
	if resp.Status != StatusCompleted && resp.Status != StatusFailed {
		return nil, false
	}
	return &resp, true
}

func (s *Session) finish(id string, resp *Response) (*Response, error) {
	s.withdraw(id)
	if err := fileops.Remove(s.responsePath(id)); err != nil {
		s.log.Warn("failed to remove response", zap.String("id", id), zap.Error(err))
	}
	if resp.Status == StatusFailed {
		return resp, fmt.Errorf("%w: %s", ErrHostFailed, resp.Error)
	}
	return resp, nil
}

func (s *Session) withdraw(id string) {
	if err := fileops.Remove(s.requestPath(id)); err != nil {
		s.log.Warn("failed to remove request", zap.String("id", id), zap.Error(err))
	}
}
