// Package chassis is the thin external facade wrapping the storage, graph,
// link, and search packages into the open/add/search/commit/close surface
// the rest of the module's internals are built to serve.
package chassis

import (
	"math"

	"github.com/chassis-db/chassis/graph"
)

// Config holds the index geometry options recognized at file creation.
// Every field is immutable once a file exists, except EfSearch, which may
// also be overridden per query via a SearchOption.
type Config struct {
	M              uint16  // slot capacity for layers > 0
	M0             uint16  // slot capacity for layer 0
	EfConstruction int     // candidate pool size during insert
	EfSearch       int     // default candidate pool size during search
	ML             float64 // layer-selection multiplier
	MaxLayers      uint8   // max graph depth
}

// DefaultConfig returns the documented defaults: M=16, M0=2M,
// EfConstruction=200, EfSearch=50, ML=1/ln(M), MaxLayers=16.
func DefaultConfig() *Config {
	return &Config{
		M:              graph.DefaultM,
		M0:             graph.DefaultM0,
		EfConstruction: 200,
		EfSearch:       50,
		ML:             1 / math.Log(float64(graph.DefaultM)),
		MaxLayers:      graph.DefaultMaxLayers,
	}
}

// withDefaults fills any zero-valued field of a caller-supplied Config with
// its documented default, so callers can set only the options they care
// about. The M0 and ML defaults are derived from the (possibly caller-set)
// M: M0=2M and ML=1/ln(M).
func (c *Config) withDefaults() *Config {
	d := DefaultConfig()
	out := *c
	if out.M == 0 {
		out.M = d.M
	}
	if out.M0 == 0 {
		out.M0 = 2 * out.M
	}
	if out.EfConstruction == 0 {
		out.EfConstruction = d.EfConstruction
	}
	if out.EfSearch == 0 {
		out.EfSearch = d.EfSearch
	}
	if out.ML == 0 {
		out.ML = 1 / math.Log(float64(out.M))
	}
	if out.MaxLayers == 0 {
		out.MaxLayers = d.MaxLayers
	}
	return &out
}

// recordParams translates the config into the geometry the graph package
// needs. Metric is always MetricEuclidean: it's the only metric this
// engine computes distances with, but the tag is still recorded and
// checked on every open so a file can never be silently reinterpreted
// under a different metric later.
func (c *Config) recordParams() graph.RecordParams {
	return graph.RecordParams{M: c.M, M0: c.M0, MaxLayers: c.MaxLayers, Metric: graph.MetricEuclidean}
}
