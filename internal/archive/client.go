// Package archive talks to the remote SAR FBR product archive: listing,
// header based track selection, manifests and batch downloads.
package archive

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"
)

// Client is a remote directory of products.
type Client interface {
	// List returns the file names of the archive directory.
	List(ctx context.Context) ([]string, error)
	// Fetch copies the named file into w.
	Fetch(ctx context.Context, name string, w io.Writer) error
	Close() error
}

// FTPConfig locates an FTP archive directory.
type FTPConfig struct {
	Addr     string // host:port
	User     string
	Password string
	Dir      string // e.g. /SIR_SAR_FR/2018/01/
	Timeout  time.Duration
}

// FTP is a Client over one FTP control connection. Calls are serialised.
type FTP struct {
	mu   sync.Mutex
	conn *ftp.ServerConn
	dir  string
}

// DialFTP connects, logs in and changes to cfg.Dir.
func DialFTP(ctx context.Context, cfg FTPConfig) (*FTP, error) {
	opts := []ftp.DialOption{ftp.DialWithContext(ctx)}
	if cfg.Timeout > 0 {
		opts = append(opts, ftp.DialWithTimeout(cfg.Timeout))
	}
	conn, err := ftp.Dial(cfg.Addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.Addr, err)
	}
	if err := conn.Login(cfg.User, cfg.Password); err != nil {
		conn.Quit()
		return nil, fmt.Errorf("login to %s as %s: %w", cfg.Addr, cfg.User, err)
	}
	if cfg.Dir != "" {
		if err := conn.ChangeDir(cfg.Dir); err != nil {
			conn.Quit()
			return nil, fmt.Errorf("change directory to %s: %w", cfg.Dir, err)
		}
	}
	return &FTP{conn: conn, dir: cfg.Dir}, nil
}

// List implements Client.
func (f *FTP) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	names, err := f.conn.NameList("")
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", f.dir, err)
	}
	return names, nil
}

// Fetch implements Client.
func (f *FTP) Fetch(ctx context.Context, name string, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	resp, err := f.conn.Retr(name)
	if err != nil {
		return fmt.Errorf("retrieve %s: %w", name, err)
	}
	_, copyErr := io.Copy(w, resp)
	closeErr := resp.Close()
	if copyErr != nil {
		return fmt.Errorf("read %s: %w", name, copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close %s: %w", name, closeErr)
	}
	return nil
}

// Close implements Client.
func (f *FTP) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conn.Quit()
}
