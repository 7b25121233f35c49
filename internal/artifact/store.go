// Package artifact holds the per-window rasters produced by the consensus
// stage until the mosaic assembler consumes them.
package artifact

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/grazing-cli/internal/raster"
)

// ErrNotFound is returned by Get for an unknown id.
var ErrNotFound = eris.New("artifact: not found")

// Store is keyed storage for window artifacts. The id is the idempotency key:
// Has reports whether an artifact was already produced, and Put replaces any
// existing artifact under the same id.
type Store interface {
	Has(ctx context.Context, id string) (bool, error)
	Put(ctx context.Context, id string, g *raster.Grid) error
	Get(ctx context.Context, id string) (*raster.Grid, error)
	// Profile returns an artifact's profile without its pixels.
	Profile(ctx context.Context, id string) (raster.Profile, error)
	// IDs returns every stored id in ascending order.
	IDs(ctx context.Context) ([]string, error)
	// Purge removes every artifact.
	Purge(ctx context.Context) error
}

// DirStore keeps artifacts as raster files named <id>.tif in one directory.
type DirStore struct {
	dir string
}

// NewDirStore returns a store rooted at dir. The directory is created on the
// first Put.
func NewDirStore(dir string) *DirStore {
	return &DirStore{dir: dir}
}

// Dir returns the directory backing the store.
func (s *DirStore) Dir() string { return s.dir }

// Path returns the file an artifact id maps to.
func (s *DirStore) Path(id string) string {
	return filepath.Join(s.dir, id+".tif")
}

// Has implements Store.
func (s *DirStore) Has(_ context.Context, id string) (bool, error) {
	return raster.Exists(s.Path(id)), nil
}

// Put implements Store.
func (s *DirStore) Put(ctx context.Context, id string, g *raster.Grid) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := raster.Write(s.Path(id), g); err != nil {
		return eris.Wrapf(err, "artifact: put %s", id)
	}
	return nil
}

// Get implements Store.
func (s *DirStore) Get(_ context.Context, id string) (*raster.Grid, error) {
	path := s.Path(id)
	if !raster.Exists(path) {
		return nil, eris.Wrapf(ErrNotFound, "artifact: %s", id)
	}
	g, err := raster.Read(path)
	if err != nil {
		return nil, eris.Wrapf(err, "artifact: get %s", id)
	}
	return g, nil
}

// Profile implements Store.
func (s *DirStore) Profile(_ context.Context, id string) (raster.Profile, error) {
	path := s.Path(id)
	if !raster.Exists(path) {
		return raster.Profile{}, eris.Wrapf(ErrNotFound, "artifact: %s", id)
	}
	p, err := raster.ReadProfile(path)
	if err != nil {
		return raster.Profile{}, eris.Wrapf(err, "artifact: profile %s", id)
	}
	return p, nil
}

// IDs implements Store.
func (s *DirStore) IDs(_ context.Context) ([]string, error) {
	files, err := raster.List(s.dir)
	if err != nil {
		return nil, eris.Wrap(err, "artifact: list")
	}
	ids := make([]string, 0, len(files))
	for _, f := range files {
		if !raster.Exists(f) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(filepath.Base(f), ".tif"))
	}
	slices.Sort(ids)
	return ids, nil
}

// Purge implements Store. The directory itself is removed.
func (s *DirStore) Purge(_ context.Context) error {
	if err := os.RemoveAll(s.dir); err != nil {
		return eris.Wrapf(err, "artifact: purge %s", s.dir)
	}
	return nil
}

// MemStore keeps artifacts in memory. It is safe for concurrent use.
type MemStore struct {
	mu    sync.RWMutex
	grids map[string]*raster.Grid
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{grids: make(map[string]*raster.Grid)}
}

// Has implements Store.
func (s *MemStore) Has(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.grids[id]
	return ok, nil
}

// Put implements Store. The grid is copied.
func (s *MemStore) Put(ctx context.Context, id string, g *raster.Grid) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := &raster.Grid{Profile: g.Profile, Data: slices.Clone(g.Data)}
	s.mu.Lock()
	s.grids[id] = cp
	s.mu.Unlock()
	return nil
}

// Get implements Store.
func (s *MemStore) Get(_ context.Context, id string) (*raster.Grid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.grids[id]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "artifact: %s", id)
	}
	return &raster.Grid{Profile: g.Profile, Data: slices.Clone(g.Data)}, nil
}

// Profile implements Store.
func (s *MemStore) Profile(_ context.Context, id string) (raster.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.grids[id]
	if !ok {
		return raster.Profile{}, eris.Wrapf(ErrNotFound, "artifact: %s", id)
	}
	return g.Profile, nil
}

// IDs implements Store.
func (s *MemStore) IDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.grids))
	for id := range s.grids {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// Purge implements Store.
func (s *MemStore) Purge(_ context.Context) error {
	s.mu.Lock()
	clear(s.grids)
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored artifacts.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.grids)
}
