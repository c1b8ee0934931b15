package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ThomasTBO/rsr-sea-ice/internal/logging"
)

// Download fetches names into dir. Names absent from the archive or whose
// transfer fails are logged and skipped; the fetched names are returned in
// input order. Only context cancellation and local I/O errors abort.
func Download(ctx context.Context, client Client, dir string, names []string, log logging.Logger) ([]string, error) {
	if log == nil {
		log = logging.Noop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create download directory: %w", err)
	}

	listing, err := client.List(ctx)
	if err != nil {
		return nil, err
	}
	available := make(map[string]struct{}, len(listing))
	for _, n := range listing {
		available[n] = struct{}{}
	}

	var fetched []string
	var total int64
	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return fetched, err
		}
		if i%10 == 0 {
			log.Info(ctx, "downloading products", logging.Int("done", i), logging.Int("total", len(names)))
		}
		name = strings.TrimSpace(name)
		if _, ok := available[name]; !ok {
			log.Warn(ctx, "product not found on archive", logging.String("file", name))
			continue
		}

		size, err := fetchFile(ctx, client, filepath.Join(dir, name), name)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return fetched, err
			}
			var pathErr *os.PathError
			if errors.As(err, &pathErr) {
				return fetched, err
			}
			log.Warn(ctx, "product download failed", logging.String("file", name), logging.Err(err))
			continue
		}
		total += size
		fetched = append(fetched, name)
	}

	log.Info(ctx, "products downloaded",
		logging.Int("fetched", len(fetched)),
		logging.Int("requested", len(names)),
		logging.Bytes("size", total),
		logging.String("dir", dir),
	)
	return fetched, nil
}

func fetchFile(ctx context.Context, client Client, path, name string) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	if err := client.Fetch(ctx, name, f); err != nil {
		f.Close()
		os.Remove(path)
		return 0, err
	}
	info, statErr := f.Stat()
	if err := f.Close(); err != nil {
		return 0, err
	}
	if statErr != nil {
		return 0, statErr
	}
	return info.Size(), nil
}

// Cleanup deletes the named files from dir, then dir itself when it is
// empty. Files already gone are ignored.
func Cleanup(dir string, names []string) error {
	var errs []error
	for _, name := range names {
		err := os.Remove(filepath.Join(dir, strings.TrimSpace(name)))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	entries, err := os.ReadDir(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		errs = append(errs, err)
	case len(entries) == 0:
		if err := os.Remove(dir); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
