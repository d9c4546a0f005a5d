// Package hnsw implements a hierarchical navigable small world graph for approximate
// nearest-neighbour search over embeddings.
//
// Nodes live in an arena and refer to each other by index. Removal marks a node as
// deleted; deleted nodes still route searches but never appear in results.
// An Index performs no locking.
package hnsw

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/emirpasic/gods/queues/priorityqueue"

	"github.com/hyperjump/recall/internal/models"
	"github.com/hyperjump/recall/pkg/utils"
)

// Config holds graph construction and search parameters.
type Config struct {
	M               int     // neighbours per node above layer 0
	MMax            int     // neighbours per node at layer 0
	EfConstruction  int     // beam width while inserting
	EfSearch        int     // beam width at layer 0 while searching
	MaxLayers       int     // levels are drawn from [0, MaxLayers-1]
	LevelMultiplier float64 // mL in floor(-ln(u) * mL)
	Seed            int64   // 0 means seed from the clock
}

// DefaultConfig returns M=16, MMax=32, efConstruction=100, efSearch=64, 16 layers, mL=1/ln(M).
func DefaultConfig() Config {
	return Config{
		M:               16,
		MMax:            32,
		EfConstruction:  100,
		EfSearch:        64,
		MaxLayers:       16,
		LevelMultiplier: 1 / math.Log(16),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.M <= 0 {
		c.M = d.M
	}
	if c.MMax <= 0 {
		c.MMax = 2 * c.M
	}
	if c.EfConstruction <= 0 {
		c.EfConstruction = d.EfConstruction
	}
	if c.EfSearch <= 0 {
		c.EfSearch = d.EfSearch
	}
	if c.MaxLayers <= 0 {
		c.MaxLayers = d.MaxLayers
	}
	if c.LevelMultiplier <= 0 {
		c.LevelMultiplier = 1 / math.Log(float64(max(c.M, 2)))
	}
	return c
}

type neighbor struct {
	idx  uint32
	dist float64
}

type node struct {
	id        string
	emb       *models.Embedding
	level     int
	neighbors [][]neighbor // one list per layer 0..level
	deleted   bool
}

// Index is the proximity graph.
type Index struct {
	cfg      Config
	nodes    []*node
	byID     map[string]uint32
	entry    int64 // -1 while empty
	maxLayer int
	deleted  int
	rng      *rand.Rand
}

// Result is one search hit. Distance is 1 - cosine similarity.
type Result struct {
	ID       string  `json:"id"`
	Distance float64 `json:"distance"`
}

// Stats describes the graph shape.
type Stats struct {
	Nodes       int   `json:"nodes"`
	Deleted     int   `json:"deleted"`
	MaxLayer    int   `json:"max_layer"`
	Connections int   `json:"connections"`
	Levels      []int `json:"levels"` // node count per level
}

// New returns an empty index.
func New(cfg Config) *Index {
	cfg = cfg.withDefaults()
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Int63()
	}
	return &Index{
		cfg:   cfg,
		byID:  make(map[string]uint32),
		entry: -1,
		rng:   rand.New(rand.NewSource(seed)),
	}
}

// Len returns the number of live nodes.
func (ix *Index) Len() int {
	return len(ix.nodes) - ix.deleted
}

// Contains reports whether id is a live node.
func (ix *Index) Contains(id string) bool {
	_, ok := ix.byID[id]
	return ok
}

// Insert adds emb under id. Inserting an existing id replaces the old node.
func (ix *Index) Insert(id string, emb *models.Embedding) error {
	if emb == nil {
		return fmt.Errorf("%w: nil embedding for %q", models.ErrInvalidArgument, id)
	}
	if id == "" {
		return fmt.Errorf("%w: empty id", models.ErrInvalidArgument)
	}
	if ix.entry >= 0 {
		if d := ix.nodes[ix.entry].emb.Dimensions(); d != emb.Dimensions() {
			return fmt.Errorf("%w: embedding has %d dimensions, index has %d",
				models.ErrInvalidArgument, emb.Dimensions(), d)
		}
	}
	if len(ix.nodes) >= math.MaxUint32 {
		return fmt.Errorf("%w: index full", models.ErrResource)
	}
	ix.Remove(id)

	level := ix.randomLevel()
	n := &node{id: id, emb: emb, level: level, neighbors: make([][]neighbor, level+1)}
	idx := uint32(len(ix.nodes))
	ix.nodes = append(ix.nodes, n)
	ix.byID[id] = idx

	if ix.entry < 0 {
		ix.entry = int64(idx)
		ix.maxLayer = level
		return nil
	}

	cur := uint32(ix.entry)
	curDist := ix.distance(emb, cur)
	for l := ix.maxLayer; l > level; l-- {
		cur, curDist = ix.greedy(emb, cur, curDist, l)
	}

	for l := min(level, ix.maxLayer); l >= 0; l-- {
		candidates := ix.searchLayer(emb, cur, curDist, ix.cfg.EfConstruction, l)
		limit := ix.capacity(l)
		if len(candidates) > limit {
			candidates = candidates[:limit]
		}
		n.neighbors[l] = append([]neighbor(nil), candidates...)
		for _, c := range candidates {
			ix.connect(c.idx, l, neighbor{idx: idx, dist: c.dist})
		}
		if len(candidates) > 0 {
			cur, curDist = candidates[0].idx, candidates[0].dist
		}
	}

	if level > ix.maxLayer {
		ix.maxLayer = level
		ix.entry = int64(idx)
	}
	return nil
}

// Remove marks id as deleted. It reports whether a live node was removed.
func (ix *Index) Remove(id string) bool {
	idx, ok := ix.byID[id]
	if !ok {
		return false
	}
	delete(ix.byID, id)
	ix.nodes[idx].deleted = true
	ix.deleted++
	return true
}

// Search returns up to k live nodes nearest to q, closest first.
func (ix *Index) Search(q *models.Embedding, k int) ([]Result, error) {
	if q == nil {
		return nil, fmt.Errorf("%w: nil query embedding", models.ErrInvalidArgument)
	}
	if k <= 0 || ix.entry < 0 || ix.Len() == 0 {
		return nil, nil
	}
	cur := uint32(ix.entry)
	curDist := ix.distance(q, cur)
	for l := ix.maxLayer; l > 0; l-- {
		cur, curDist = ix.greedy(q, cur, curDist, l)
	}

	// Deleted nodes take up beam slots, so widen the beam by their count when it is small.
	ef := max(ix.cfg.EfSearch, k)
	if ix.deleted > 0 {
		ef = min(ef+ix.deleted, len(ix.nodes))
	}
	candidates := ix.searchLayer(q, cur, curDist, ef, 0)

	results := make([]Result, 0, k)
	for _, c := range candidates {
		n := ix.nodes[c.idx]
		if n.deleted {
			continue
		}
		results = append(results, Result{ID: n.id, Distance: c.dist})
		if len(results) == k {
			break
		}
	}
	return results, nil
}

// Stats returns node, layer and edge counts.
func (ix *Index) Stats() Stats {
	s := Stats{Nodes: ix.Len(), Deleted: ix.deleted, MaxLayer: ix.maxLayer}
	if ix.entry >= 0 {
		s.Levels = make([]int, ix.maxLayer+1)
	}
	for _, n := range ix.nodes {
		if !n.deleted {
			s.Levels[n.level]++
		}
		for _, layer := range n.neighbors {
			s.Connections += len(layer)
		}
	}
	return s
}

func (ix *Index) randomLevel() int {
	u := 1 - ix.rng.Float64() // (0, 1]
	level := int(math.Floor(-math.Log(u) * ix.cfg.LevelMultiplier))
	if level >= ix.cfg.MaxLayers {
		level = ix.cfg.MaxLayers - 1
	}
	return level
}

func (ix *Index) capacity(layer int) int {
	if layer == 0 {
		return ix.cfg.MMax
	}
	return ix.cfg.M
}

func (ix *Index) distance(q *models.Embedding, idx uint32) float64 {
	e := ix.nodes[idx].emb
	return 1 - utils.Cosine(q.Values, e.Values, float64(q.Magnitude), float64(e.Magnitude))
}

// greedy walks layer l from cur, always moving to the closest neighbour, until no
// neighbour is closer.
func (ix *Index) greedy(q *models.Embedding, cur uint32, curDist float64, l int) (uint32, float64) {
	for changed := true; changed; {
		changed = false
		for _, nb := range ix.nodes[cur].neighbors[l] {
			if d := ix.distance(q, nb.idx); d < curDist {
				cur, curDist, changed = nb.idx, d, true
			}
		}
	}
	return cur, curDist
}

// connect adds nb to the layer-l list of idx. A full list keeps nb only if it is closer
// than the current farthest entry, which it replaces.
func (ix *Index) connect(idx uint32, l int, nb neighbor) {
	n := ix.nodes[idx]
	list := n.neighbors[l]
	if len(list) < ix.capacity(l) {
		n.neighbors[l] = append(list, nb)
		return
	}
	far := 0
	for i := range list {
		if list[i].dist > list[far].dist {
			far = i
		}
	}
	if nb.dist < list[far].dist {
		list[far] = nb
	}
}

// searchLayer runs a bounded best-first search of width ef on layer l starting at ep and
// returns the visited nodes nearest to q, closest first.
func (ix *Index) searchLayer(q *models.Embedding, ep uint32, epDist float64, ef, l int) []neighbor {
	visited := map[uint32]struct{}{ep: {}}
	candidates := priorityqueue.NewWith(byDistance)
	results := priorityqueue.NewWith(byDistanceDesc)
	candidates.Enqueue(neighbor{idx: ep, dist: epDist})
	results.Enqueue(neighbor{idx: ep, dist: epDist})

	for !candidates.Empty() {
		v, _ := candidates.Dequeue()
		c := v.(neighbor)
		worst, _ := results.Peek()
		if c.dist > worst.(neighbor).dist && results.Size() >= ef {
			break
		}
		for _, nb := range ix.nodes[c.idx].neighbors[l] {
			if _, seen := visited[nb.idx]; seen {
				continue
			}
			visited[nb.idx] = struct{}{}
			d := ix.distance(q, nb.idx)
			worst, _ := results.Peek()
			if results.Size() < ef || d < worst.(neighbor).dist {
				candidates.Enqueue(neighbor{idx: nb.idx, dist: d})
				results.Enqueue(neighbor{idx: nb.idx, dist: d})
				if results.Size() > ef {
					results.Dequeue()
				}
			}
		}
	}

	out := make([]neighbor, 0, results.Size())
	for _, v := range results.Values() {
		out = append(out, v.(neighbor))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].dist < out[j].dist })
	return out
}

func byDistance(a, b interface{}) int {
	da, db := a.(neighbor).dist, b.(neighbor).dist
	switch {
	case da < db:
		return -1
	case da > db:
		return 1
	}
	return 0
}

func byDistanceDesc(a, b interface{}) int {
	return -byDistance(a, b)
}
