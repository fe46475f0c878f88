package chassis

import (
	"math"
	"math/rand"
	"sync"

	"github.com/chassis-db/chassis/graph"
	"github.com/chassis-db/chassis/link"
	"github.com/chassis-db/chassis/search"
	"github.com/chassis-db/chassis/storage"
)

// Index is the open handle on one Chassis file: the storage, graph, link,
// and search layers sharing one memory mapping, guarded by a single
// reader/writer lock. Mutating operations (Add, Commit) take the
// exclusive side; Search takes the shared side, exactly the single-writer,
// multi-reader contract the file format is designed around.
type Index struct {
	mu      sync.RWMutex
	storage *storage.File
	graph   *graph.File
	link    *link.Engine
	search  *search.Engine
	cfg     Config
}

// Open opens or creates the Chassis file at path for dim-dimensional
// vectors. A nil cfg uses DefaultConfig(); a partially populated cfg has
// its zero fields filled from the defaults.
func Open(path string, dim uint32, cfg *Config) (*Index, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	} else {
		cfg = cfg.withDefaults()
	}

	sf, err := storage.Open(path, dim)
	if err != nil {
		return nil, err
	}
	gf, err := graph.Open(sf, cfg.recordParams())
	if err != nil {
		sf.Close()
		return nil, err
	}

	return &Index{
		storage: sf,
		graph:   gf,
		link:    link.New(gf, sf),
		search:  search.New(gf, sf),
		cfg:     *cfg,
	}, nil
}

// Close flushes, unmaps, and releases the file's exclusive OS lock.
func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.storage.Close()
}

// Commit forces the mapped region to the underlying device.
func (ix *Index) Commit() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.storage.Commit()
}

// Add inserts vector and returns its assigned node id. It first makes room
// for the vector zone to grow past the graph zone's reserved gap,
// relocating the graph zone further out in the file if necessary. That
// must happen before the vector is written, or the write could land on
// top of live graph bytes. It then samples a layer count by the
// exponential-decay rule (spec.md's m_L multiplier), searches the existing
// graph for link candidates at each of that node's layers, and installs
// the node and its bidirectional edges via the linking engine's
// three-step protocol.
func (ix *Index) Add(vector []float32) (uint64, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	nextID := ix.storage.VectorCount()
	if err := ix.graph.EnsureRoomForVectors(nextID + 1); err != nil {
		return 0, err
	}

	id, err := ix.storage.InsertVector(vector)
	if err != nil {
		return 0, err
	}

	level := sampleLevel(ix.cfg.ML, ix.cfg.MaxLayers)
	layerCount := level + 1

	candidatesPerLayer := make([][]uint64, layerCount)
	if id > 0 {
		if err := ix.gatherCandidates(vector, level, candidatesPerLayer); err != nil {
			return 0, err
		}
	}

	if err := ix.link.InsertNode(id, layerCount, candidatesPerLayer); err != nil {
		return 0, err
	}
	return id, nil
}

// gatherCandidates walks down from the current entry point exactly the way
// Search does: ef=1 pure navigation through layers above the new node's
// own top layer, then an EfConstruction-wide search at every layer the new
// node actually occupies, each one filling the corresponding slot of
// candidatesPerLayer.
func (ix *Index) gatherCandidates(vector []float32, level uint8, candidatesPerLayer [][]uint64) error {
	entry := ix.graph.EntryPoint()
	entryRec, err := ix.graph.ReadNode(entry)
	if err != nil {
		return err
	}
	topLayer := int(entryRec.LayerCount) - 1

	current := entry
	for l := topLayer; l > int(level); l-- {
		res, err := ix.search.SearchLayer(vector, current, 1, uint8(l))
		if err != nil {
			return err
		}
		if len(res) > 0 {
			current = res[0].ID
		}
	}

	start := int(level)
	if topLayer < start {
		start = topLayer
	}
	for l := start; l >= 0; l-- {
		res, err := ix.search.SearchLayer(vector, current, ix.cfg.EfConstruction, uint8(l))
		if err != nil {
			return err
		}
		ids := make([]uint64, len(res))
		for i, r := range res {
			ids[i] = r.ID
		}
		candidatesPerLayer[l] = ids
		if len(res) > 0 {
			current = res[0].ID
		}
	}
	return nil
}

// sampleLevel draws a layer count index (0-based) by exponential decay,
// capped at maxLayers-1.
func sampleLevel(ml float64, maxLayers uint8) uint8 {
	u := rand.Float64()
	for u == 0 {
		u = rand.Float64()
	}
	level := int(math.Floor(-math.Log(u) * ml))
	if level > int(maxLayers)-1 {
		level = int(maxLayers) - 1
	}
	return uint8(level)
}

// SearchOption overrides a per-query search parameter.
type SearchOption func(*searchOptions)

type searchOptions struct {
	ef int
}

// WithEf overrides the candidate pool size for one query, per spec.md's
// "ef_search is the only option that may be overridden per query".
func WithEf(ef int) SearchOption {
	return func(o *searchOptions) { o.ef = ef }
}

// Search returns the k nodes nearest to query.
func (ix *Index) Search(query []float32, k int, opts ...SearchOption) ([]search.Result, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	o := searchOptions{ef: ix.cfg.EfSearch}
	for _, opt := range opts {
		opt(&o)
	}
	return ix.search.Search(query, k, o.ef)
}

// Len returns the number of visible (published) nodes, N_g.
func (ix *Index) Len() uint64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.graph.NodeCount()
}

// VectorSlice returns a zero-copy view of vector id's stored components.
// The caller must not retain it across any subsequent Add or Commit.
func (ix *Index) VectorSlice(id uint64) ([]float32, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.storage.VectorSlice(id)
}
