// Package filecache keeps downloaded catalog files on local disk.
//
// Each chain owns a subdirectory named by its chain id and every file in it
// is a canonical gzip payload keyed by the portal filename. Presence of a
// file is what makes a download idempotent; re-running ingestion never
// fetches a name that already sits in the chain directory.
package filecache

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"pricewatch/internal/platform/errors"
)

// Cache is a per chain on disk file store
type Cache struct {
	root string
}

// New builds a cache rooted at dir, creating it when missing
func New(dir string) (*Cache, error) {
	if dir == "" {
		return nil, errors.New(errors.ErrorCodeInvalidArgument, "filecache: empty root dir")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrorCodeUnknown, "filecache: create root")
	}
	return &Cache{root: dir}, nil
}

// Dir returns the chain directory, creating it when missing
func (c *Cache) Dir(chainID int64) (string, error) {
	dir := filepath.Join(c.root, strconv.FormatInt(chainID, 10))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, errors.ErrorCodeUnknown, "filecache: create chain dir")
	}
	return dir, nil
}

// Path returns where a payload for name lives under the chain directory.
// The file may or may not exist
func (c *Cache) Path(chainID int64, name string) string {
	return filepath.Join(c.root, strconv.FormatInt(chainID, 10), safeName(name))
}

// Has reports whether a payload for name is already cached
func (c *Cache) Has(chainID int64, name string) bool {
	fi, err := os.Stat(c.Path(chainID, name))
	return err == nil && fi.Mode().IsRegular()
}

// Put writes a payload atomically: bytes land in a .part sibling first and
// the final name only appears once the write is complete
func (c *Cache) Put(chainID int64, name string, data []byte) error {
	if _, err := c.Dir(chainID); err != nil {
		return err
	}
	path := c.Path(chainID, name)
	tmp := path + ".part"

	out, err := os.Create(tmp)
	if err != nil {
		return errors.Wrap(err, errors.ErrorCodeUnknown, "filecache: create part file")
	}
	_, werr := out.Write(data)
	cerr := out.Close()
	if werr != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(werr, errors.ErrorCodeUnknown, "filecache: write part file")
	}
	if cerr != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(cerr, errors.ErrorCodeUnknown, "filecache: close part file")
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, errors.ErrorCodeUnknown, "filecache: finalize part file")
	}
	return nil
}

// Get reads a cached payload back
func (c *Cache) Get(chainID int64, name string) ([]byte, error) {
	b, err := os.ReadFile(c.Path(chainID, name))
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(err, errors.ErrorCodeNotFound, "filecache: %s not cached", name)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorCodeUnknown, "filecache: read payload")
	}
	return b, nil
}

// Files lists cached filenames for a chain that start with prefix, sorted
// ascending. In-flight .part files are skipped
func (c *Cache) Files(chainID int64, prefix string) ([]string, error) {
	dir, err := c.Dir(chainID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorCodeUnknown, "filecache: list chain dir")
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || strings.HasSuffix(name, ".part") {
			continue
		}
		if prefix != "" && !strings.HasPrefix(name, prefix) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// safeName flattens a portal filename to a single path element
func safeName(name string) string {
	return filepath.Base(strings.ReplaceAll(name, "\\", "/"))
}
