package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

type fakeClient struct {
	mu      sync.Mutex
	files   map[string]string
	failing map[string]bool
	fetched []string
}

func (f *fakeClient) List(context.Context) ([]string, error) {
	names := make([]string, 0, len(f.files))
	for n := range f.files {
		names = append(names, n)
	}
	return names, nil
}

func (f *fakeClient) Fetch(_ context.Context, name string, w io.Writer) error {
	f.mu.Lock()
	f.fetched = append(f.fetched, name)
	f.mu.Unlock()
	if f.failing[name] {
		return errors.New("550 transfer aborted")
	}
	body, ok := f.files[name]
	if !ok {
		return fmt.Errorf("no such file %s", name)
	}
	_, err := io.WriteString(w, body)
	return err
}

func (f *fakeClient) Close() error { return nil }

func header(startMicro, stopMicro int) string {
	return fmt.Sprintf(`<?xml version="1.0"?>
<Earth_Explorer_Header>
  <Variable_Header>
    <Specific_Product_Header>
      <Product_Location>
        <Start_Lat unit="10-6 deg">%d</Start_Lat>
        <Stop_Lat unit="10-6 deg">%d</Stop_Lat>
      </Product_Location>
    </Specific_Product_Header>
  </Variable_Header>
</Earth_Explorer_Header>`, startMicro, stopMicro)
}

func TestParseHeader(t *testing.T) {
	ext, err := ParseHeader(strings.NewReader(header(71500000, 80250000)))
	if err != nil {
		t.Fatalf("ParseHeader() error = %v", err)
	}
	if ext.StartLat != 71.5 || ext.StopLat != 80.25 {
		t.Fatalf("ParseHeader() = %+v", ext)
	}
	if !ext.Reaches(72) {
		t.Fatalf("Reaches(72) = false, want true")
	}
}

func TestParseHeaderWithoutLocation(t *testing.T) {
	_, err := ParseHeader(strings.NewReader("<Earth_Explorer_Header/>"))
	if !errors.Is(err, ErrNoLocation) {
		t.Fatalf("ParseHeader() error = %v, want ErrNoLocation", err)
	}
}

func TestSelectTracks(t *testing.T) {
	client := &fakeClient{files: map[string]string{
		"CS_A.HDR": header(60000000, 73000000),
		"CS_A.nc":  "",
		"CS_B.HDR": header(60000000, 65000000),
		"CS_B.nc":  "",
		"CS_C.HDR": "not xml at all <",
		"CS_D.HDR": header(85000000, 70000000),
	}}

	got, err := SelectTracks(context.Background(), client, 72, nil)
	if err != nil {
		t.Fatalf("SelectTracks() error = %v", err)
	}
	want := []string{"CS_A.nc", "CS_D.nc"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("SelectTracks() = %v, want %v", got, want)
	}
	for _, name := range client.fetched {
		if strings.HasSuffix(name, ".nc") {
			t.Fatalf("SelectTracks() fetched product %s, want headers only", name)
		}
	}
}

func TestManifestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", ManifestName)
	if err := WriteManifest(path, []string{"a.nc", "b.nc"}); err != nil {
		t.Fatalf("WriteManifest() error = %v", err)
	}
	if err := os.WriteFile(path, []byte("a.nc\n\n  b.nc  \n"), 0o644); err != nil {
		t.Fatalf("rewrite manifest: %v", err)
	}
	got, err := ReadManifest(path)
	if err != nil {
		t.Fatalf("ReadManifest() error = %v", err)
	}
	if len(got) != 2 || got[0] != "a.nc" || got[1] != "b.nc" {
		t.Fatalf("ReadManifest() = %q", got)
	}
}

func TestDownloadSkipsMissingAndFailed(t *testing.T) {
	client := &fakeClient{
		files: map[string]string{
			"a.nc": "aaaa",
			"c.nc": "cc",
			"d.nc": "dd",
		},
		failing: map[string]bool{"d.nc": true},
	}
	dir := filepath.Join(t.TempDir(), "0_4")

	got, err := Download(context.Background(), client, dir, []string{"a.nc", "b.nc", "c.nc", "d.nc"}, nil)
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if strings.Join(got, ",") != "a.nc,c.nc" {
		t.Fatalf("Download() = %v, want [a.nc c.nc]", got)
	}
	body, err := os.ReadFile(filepath.Join(dir, "a.nc"))
	if err != nil || string(body) != "aaaa" {
		t.Fatalf("a.nc = %q, %v", body, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "d.nc")); !os.IsNotExist(err) {
		t.Fatalf("failed download should leave no partial file, stat error = %v", err)
	}

	if err := Cleanup(dir, got); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("Cleanup() should remove empty directory, stat error = %v", err)
	}
}

func TestCleanupKeepsNonEmptyDirectory(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"a.nc", "keep.txt"} {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o644); err != nil {
			t.Fatalf("write fixture: %v", err)
		}
	}
	if err := Cleanup(dir, []string{"a.nc", "gone.nc"}); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "keep.txt")); err != nil {
		t.Fatalf("unrelated file removed: %v", err)
	}
}

func TestDownloadCancelled(t *testing.T) {
	client := &fakeClient{files: map[string]string{"a.nc": "a"}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Download(ctx, client, t.TempDir(), []string{"a.nc"}, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("Download() error = %v, want context.Canceled", err)
	}
}
