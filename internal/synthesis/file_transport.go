package synthesis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"narrate/internal/fileutil"
)

const claimSuffix = ".claimed"

// FileTransport exchanges JSON documents through an inbox and an outbox
// directory. The worker consumes <inbox>/<id>.json and answers with
// <outbox>/<id>.json.
type FileTransport struct {
	inbox  string
	outbox string
}

// NewFileTransport creates both directories when missing.
func NewFileTransport(inbox, outbox string) (*FileTransport, error) {
	inbox = strings.TrimSpace(inbox)
	outbox = strings.TrimSpace(outbox)
	if inbox == "" || outbox == "" {
		return nil, errors.New("file transport: inbox and outbox are required")
	}
	if filepath.Clean(inbox) == filepath.Clean(outbox) {
		return nil, errors.New("file transport: inbox and outbox must differ")
	}
	for _, dir := range []string{inbox, outbox} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("file transport: create %s: %w", dir, err)
		}
	}
	return &FileTransport{inbox: inbox, outbox: outbox}, nil
}

// RequestPath returns the inbox location for id.
func (t *FileTransport) RequestPath(id string) string {
	return filepath.Join(t.inbox, id+".json")
}

// ResponsePath returns the outbox location for id.
func (t *FileTransport) ResponsePath(id string) string {
	return filepath.Join(t.outbox, id+".json")
}

// Submit writes the request atomically so the worker never picks up a
// half-written file.
func (t *FileTransport) Submit(_ context.Context, req Request) error {
	if err := validateID(req.ID); err != nil {
		return err
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	if err := fileutil.WriteFileAtomic(t.RequestPath(req.ID), payload, 0o644); err != nil {
		return fmt.Errorf("write request: %w", err)
	}
	return nil
}

// Poll claims the response by renaming it before decoding, so a second poll
// for the same id cannot read it again even if the delete below fails. A
// response that does not parse yet is still being written and is left alone.
func (t *FileTransport) Poll(_ context.Context, id string) (Response, bool, error) {
	if err := validateID(id); err != nil {
		return Response{}, false, err
	}
	path := t.ResponsePath(id)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Response{}, false, nil
		}
		return Response{}, false, fmt.Errorf("read response: %w", err)
	}
	if !json.Valid(data) {
		return Response{}, false, nil
	}

	claimed := path + claimSuffix
	if err := os.Rename(path, claimed); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Response{}, false, nil
		}
		return Response{}, false, fmt.Errorf("claim response: %w", err)
	}
	defer os.Remove(claimed)

	data, err = os.ReadFile(claimed)
	if err != nil {
		return Response{}, false, fmt.Errorf("read claimed response: %w", err)
	}
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return Response{}, false, fmt.Errorf("decode response %s: %w", id, err)
	}
	return resp, true, nil
}

// Withdraw removes the request and any response for id.
func (t *FileTransport) Withdraw(_ context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	var errs []error
	for _, path := range []string{t.RequestPath(id), t.ResponsePath(id), t.ResponsePath(id) + claimSuffix} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Pending lists request ids still waiting in the inbox.
func (t *FileTransport) Pending() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(t.inbox, "*.json"))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(matches))
	for _, match := range matches {
		ids = append(ids, strings.TrimSuffix(filepath.Base(match), ".json"))
	}
	return ids, nil
}

func (t *FileTransport) Close() error { return nil }

func validateID(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("request id is required")
	}
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return fmt.Errorf("invalid request id %q", id)
	}
	return nil
}
