// Package archive reads and writes the zip container of a QTI package.
package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path"
	"slices"
	"time"

	"github.com/pavelanni/qticsv/internal/qti"
)

// MissingEntryError means the package lacks an entry the conversion needs.
type MissingEntryError struct {
	Name string
}

func (e *MissingEntryError) Error() string {
	return fmt.Sprintf("package has no %s entry", e.Name)
}

// maxEntrySize caps a single decompressed entry.
const maxEntrySize = 64 << 20

// modTime is stamped on every written entry so output is reproducible.
var modTime = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// Reader gives named access to the entries of a zip archive.
type Reader struct {
	zr *zip.Reader
}

// Open parses zip data held in memory.
func Open(data []byte) (*Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	return &Reader{zr: zr}, nil
}

// Names lists the file entries in archive order.
func (r *Reader) Names() []string {
	var names []string
	for _, f := range r.zr.File {
		if !f.FileInfo().IsDir() {
			names = append(names, f.Name)
		}
	}
	return names
}

// ReadFile returns the contents of the named entry.
func (r *Reader) ReadFile(name string) ([]byte, error) {
	rc, err := r.zr.Open(path.Clean(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &MissingEntryError{Name: name}
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxEntrySize+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	if len(data) > maxEntrySize {
		return nil, fmt.Errorf("read %s: entry larger than %d bytes", name, maxEntrySize)
	}
	return data, nil
}

// FindAssessment locates and reads the assessment document. The manifest's
// QTI resource wins; without one the first XML entry that is neither the
// manifest nor quiz settings is used.
func (r *Reader) FindAssessment() (string, []byte, error) {
	name := ""
	if data, err := r.ReadFile(qti.ManifestPath); err == nil {
		mf, err := qti.ParseManifest(data)
		if err != nil {
			slog.Warn("ignoring unreadable manifest", "error", err)
		} else {
			name = mf.AssessmentHref()
		}
	}
	if name == "" {
		for _, n := range r.Names() {
			if qti.IsAssessmentCandidate(n) {
				name = n
				break
			}
		}
	}
	if name == "" {
		return "", nil, &MissingEntryError{Name: "QTI assessment XML"}
	}
	data, err := r.ReadFile(name)
	if err != nil {
		return "", nil, err
	}
	slog.Debug("found assessment document", "entry", name, "bytes", len(data))
	return name, data, nil
}

// Write creates a zip archive from entry name -> contents. Entries are
// written in name order with a fixed timestamp.
func Write(w io.Writer, files map[string][]byte) error {
	names := make([]string, 0, len(files))
	for n := range files {
		names = append(names, n)
	}
	slices.Sort(names)

	zw := zip.NewWriter(w)
	for _, n := range names {
		fw, err := zw.CreateHeader(&zip.FileHeader{
			Name:     n,
			Method:   zip.Deflate,
			Modified: modTime,
		})
		if err != nil {
			return fmt.Errorf("create %s: %w", n, err)
		}
		if _, err := fw.Write(files[n]); err != nil {
			return fmt.Errorf("write %s: %w", n, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close zip: %w", err)
	}
	return nil
}
