package vector

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/analytical-agent/backend/pkg/apperr"
	"github.com/analytical-agent/backend/pkg/logger"
)

const (
	indexSuffix = ".index"
	metaSuffix  = ".meta"
)

// Manager owns one Store per source id and their on-disk snapshots.
// Mutating operations are serialized; lookups against built stores are
// safe for concurrent use.
type Manager struct {
	mu      sync.RWMutex
	dataDir string
	stores  map[string]*Store
}

// NewManager creates a manager whose snapshots live under dataDir.
func NewManager(dataDir string) (*Manager, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create vector data dir: %w", err)
	}
	return &Manager{
		dataDir: dataDir,
		stores:  make(map[string]*Store),
	}, nil
}

// Create allocates an empty index for sourceID.
func (m *Manager) Create(sourceID string, dimension int) (*Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.stores[sourceID]; ok {
		return nil, apperr.New(apperr.KindDuplicateIndex, "index for source %q already exists", sourceID)
	}

	store, err := NewStore(dimension)
	if err != nil {
		return nil, err
	}
	m.stores[sourceID] = store
	return store, nil
}

// Get returns the in-memory store for sourceID, loading a persisted
// snapshot on first access. The second return is false when neither
// exists.
func (m *Manager) Get(sourceID string) (*Store, bool) {
	m.mu.RLock()
	store, ok := m.stores[sourceID]
	m.mu.RUnlock()
	if ok {
		return store, true
	}

	store, err := m.Load(sourceID)
	if err != nil {
		return nil, false
	}
	return store, true
}

// snapshot is the serialized form of a Store. The index artifact holds
// the vectors, the meta artifact holds the unit sequence; their order
// correspondence is positional.
type indexSnapshot struct {
	Dimension int
	Vectors   [][]float32
}

// Save writes the two snapshot artifacts for sourceID.
func (m *Manager) Save(sourceID string) error {
	m.mu.RLock()
	store, ok := m.stores[sourceID]
	m.mu.RUnlock()
	if !ok {
		return apperr.New(apperr.KindIndexNotFound, "no index for source %q", sourceID)
	}

	store.mu.RLock()
	defer store.mu.RUnlock()
	store.checkConsistency()

	if err := writeGob(m.indexPath(sourceID), indexSnapshot{
		Dimension: store.dimension,
		Vectors:   store.vectors,
	}); err != nil {
		return fmt.Errorf("failed to write index snapshot: %w", err)
	}
	if err := writeGob(m.metaPath(sourceID), store.units); err != nil {
		return fmt.Errorf("failed to write metadata snapshot: %w", err)
	}

	logger.Debug("Vector index persisted",
		zap.String("source_id", sourceID),
		zap.Int("vectors", len(store.vectors)),
	)
	return nil
}

// Load reads the persisted snapshot for sourceID into memory.
func (m *Manager) Load(sourceID string) (*Store, error) {
	var snap indexSnapshot
	if err := readGob(m.indexPath(sourceID), &snap); err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.New(apperr.KindIndexNotFound, "no persisted index for source %q", sourceID)
		}
		return nil, fmt.Errorf("failed to read index snapshot: %w", err)
	}

	var units []IndexUnit
	if err := readGob(m.metaPath(sourceID), &units); err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.New(apperr.KindIndexNotFound, "no persisted metadata for source %q", sourceID)
		}
		return nil, fmt.Errorf("failed to read metadata snapshot: %w", err)
	}

	if len(snap.Vectors) != len(units) {
		return nil, fmt.Errorf("snapshot for %q corrupted: %d vectors, %d metadata entries",
			sourceID, len(snap.Vectors), len(units))
	}

	store := &Store{
		dimension: snap.Dimension,
		vectors:   snap.Vectors,
		units:     units,
	}

	m.mu.Lock()
	m.stores[sourceID] = store
	m.mu.Unlock()

	logger.Debug("Vector index loaded",
		zap.String("source_id", sourceID),
		zap.Int("vectors", len(snap.Vectors)),
	)
	return store, nil
}

// Remove drops the in-memory store and deletes its snapshot artifacts.
// Removing an absent index is not an error.
func (m *Manager) Remove(sourceID string) error {
	m.mu.Lock()
	delete(m.stores, sourceID)
	m.mu.Unlock()

	for _, path := range []string{m.indexPath(sourceID), m.metaPath(sourceID)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
	}
	return nil
}

// List returns the sorted union of in-memory and persisted source ids.
func (m *Manager) List() []string {
	seen := make(map[string]struct{})

	m.mu.RLock()
	for id := range m.stores {
		seen[id] = struct{}{}
	}
	m.mu.RUnlock()

	entries, err := os.ReadDir(m.dataDir)
	if err == nil {
		for _, entry := range entries {
			name := entry.Name()
			if strings.HasSuffix(name, indexSuffix) {
				seen[strings.TrimSuffix(name, indexSuffix)] = struct{}{}
			}
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *Manager) indexPath(sourceID string) string {
	return filepath.Join(m.dataDir, sourceID+indexSuffix)
}

func (m *Manager) metaPath(sourceID string) string {
	return filepath.Join(m.dataDir, sourceID+metaSuffix)
}

func writeGob(path string, value any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := gob.NewEncoder(f).Encode(value); err != nil {
		return err
	}
	return f.Sync()
}

func readGob(path string, out any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return gob.NewDecoder(f).Decode(out)
}
