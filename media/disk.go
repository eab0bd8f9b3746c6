package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/corpos/channel/api"
)

// URLPrefix is the path under which Disk uploads are served.
const URLPrefix = "/uploads/"

// Disk stores uploads in a local directory.
type Disk struct {
	// Now is used to name files. Defaults to time.Now.
	Now func() time.Time

	dir string
}

// NewDisk creates dir if needed.
func NewDisk(dir string) (*Disk, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Disk{Now: time.Now, dir: dir}, nil
}

// Save writes r to a new randomly named file and returns its URL path.
func (d *Disk) Save(_ context.Context, filename string, r io.Reader) (api.SavedFile, error) {
	contentType, r, err := sniff(r)
	if err != nil {
		return api.SavedFile{}, err
	}

	name := randomName(filename, d.Now())
	f, err := os.OpenFile(filepath.Join(d.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return api.SavedFile{}, fmt.Errorf("create upload: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(f.Name())
		return api.SavedFile{}, fmt.Errorf("write upload: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return api.SavedFile{}, fmt.Errorf("close upload: %w", err)
	}

	return api.SavedFile{
		Key:         name,
		URL:         path.Join(URLPrefix, name),
		ContentType: contentType,
	}, nil
}

// Remove deletes a saved file. Removing a file that is already gone is not
// an error.
func (d *Disk) Remove(_ context.Context, f api.SavedFile) error {
	if f.Key == "" {
		return nil
	}
	err := os.Remove(filepath.Join(d.dir, filepath.Base(f.Key)))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove upload: %w", err)
	}
	return nil
}

// Handler serves the stored files read-only. Directory listings are not
// served.
func (d *Disk) Handler() http.Handler {
	files := http.FileServer(http.Dir(d.dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		files.ServeHTTP(w, r)
	})
}
