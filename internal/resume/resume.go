// Package resume decides whether a unit of batch output is already complete
// and can be skipped on a rerun.
package resume

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// Checker reports and records completion of output files.
type Checker interface {
	Complete(ctx context.Context, path string) (bool, error)
	MarkComplete(ctx context.Context, path string) error
}

// Forgetter is implemented by checkers that can drop a completion record.
type Forgetter interface {
	Forget(ctx context.Context, path string) error
}

// DefaultMinBytes is the size threshold of the default checker.
const DefaultMinBytes = 10000

// SizeThreshold treats a file as complete when it exists and holds at least
// MinBytes. A truncated file above the threshold is never retried.
type SizeThreshold struct {
	MinBytes int64
}

// Complete implements Checker.
func (s SizeThreshold) Complete(_ context.Context, path string) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	threshold := s.MinBytes
	if threshold <= 0 {
		threshold = DefaultMinBytes
	}
	return !info.IsDir() && info.Size() >= threshold, nil
}

// MarkComplete implements Checker. The size rule needs no marker.
func (SizeThreshold) MarkComplete(context.Context, string) error { return nil }
