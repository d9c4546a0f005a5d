package vector

import (
	"github.com/hyperjump/recall/internal/config"
	"github.com/hyperjump/recall/internal/hnsw"
)

// Options controls store growth and proximity index routing.
type Options struct {
	InitialCapacity int
	// IndexEnabled lets Search route through a built index.
	IndexEnabled bool
	// MinIndexVectors is the live record count below which Search scans every record
	// even when an index is built.
	MinIndexVectors int
	Index           hnsw.Config
}

// DefaultOptions returns capacity 100, index routing on above 1000 records.
func DefaultOptions() Options {
	return Options{
		InitialCapacity: 100,
		IndexEnabled:    true,
		MinIndexVectors: 1000,
		Index:           hnsw.DefaultConfig(),
	}
}

// OptionsFromConfig maps storage and index configuration onto store options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		InitialCapacity: cfg.Storage.InitialCapacity,
		IndexEnabled:    cfg.Index.EnabledOrDefault(),
		MinIndexVectors: cfg.Index.MinVectors,
		Index: hnsw.Config{
			M:               cfg.Index.M,
			MMax:            cfg.Index.MMax,
			EfConstruction:  cfg.Index.EfConstruction,
			EfSearch:        cfg.Index.EfSearch,
			MaxLayers:       cfg.Index.MaxLayers,
			LevelMultiplier: cfg.Index.LevelMultiplier,
			Seed:            cfg.Index.Seed,
		},
	}
}
