package chunkcache

import (
	"container/list"
	"log"

	"github.com/groundframe/client/internal/grid"
)

// State is the lifecycle state of a chunk coordinate.
type State int

const (
	// StateUnloaded means the cache holds nothing for the coordinate.
	StateUnloaded State = iota
	// StateCached means content is retained but hidden, ready for promotion.
	StateCached
	// StateActive means content is loaded and visible.
	StateActive
)

// OpKind names one state transition applied during a tick.
type OpKind int

const (
	// OpActivated admits a brand new chunk; the owner must start a fetch.
	OpActivated OpKind = iota
	// OpPromoted moved a chunk Cached to Active. No re-fetch is needed.
	OpPromoted
	// OpDemoted moved a chunk Active to Cached, hiding its content.
	OpDemoted
	// OpDestroyed removed a chunk entirely; its content was released.
	OpDestroyed
	// OpDropped rejected a load because the active budget was exhausted
	// and no eviction candidate existed.
	OpDropped
)

// Op records one transition so the owner can react (dispatch fetches, hide
// or show content) and tests can assert exact behaviour.
type Op struct {
	Kind  OpKind
	Coord grid.ChunkCoord
}

// Options bound the cache.
type Options struct {
	Radius           float64 // load radius in chunk units
	PriorityRadius   float64 // active chunks this close to the reference are never evicted
	HysteresisMargin float64 // extra radius within which unloads demote instead of destroy
	MaxLoaded        int     // active-chunk budget
	CacheCapacity    int     // cached-chunk bound
}

type entry struct {
	coord   grid.ChunkCoord
	content interface{}
	visible bool
}

// Cache maps chunk coordinates to content state with bounded per-tick work.
// It is not safe for concurrent use: every method must be called from the
// tick goroutine. Fetch completions reach it through SetContent, which the
// owner calls when applying queued completions on a tick.
type Cache struct {
	opts      Options
	onDestroy func(grid.ChunkCoord, interface{})

	reference grid.ChunkCoord
	active    map[grid.ChunkCoord]*entry
	cached    map[grid.ChunkCoord]*entry

	loadQueue    *list.List
	loadQueued   map[grid.ChunkCoord]struct{}
	unloadQueue  *list.List
	unloadQueued map[grid.ChunkCoord]struct{}
}

// New builds a chunk cache. onDestroy is invoked whenever a chunk is hard
// evicted so the owner can release the content item; it may be nil.
func New(opts Options, onDestroy func(grid.ChunkCoord, interface{})) *Cache {
	return &Cache{
		opts:         opts,
		onDestroy:    onDestroy,
		active:       make(map[grid.ChunkCoord]*entry),
		cached:       make(map[grid.ChunkCoord]*entry),
		loadQueue:    list.New(),
		loadQueued:   make(map[grid.ChunkCoord]struct{}),
		unloadQueue:  list.New(),
		unloadQueued: make(map[grid.ChunkCoord]struct{}),
	}
}

// SetReference updates the coordinate the priority radius and eviction
// distances are measured from.
func (c *Cache) SetReference(coord grid.ChunkCoord) {
	c.reference = coord
}

// Reference returns the current reference coordinate.
func (c *Cache) Reference() grid.ChunkCoord {
	return c.reference
}

// RequestLoad queues a coordinate for loading. Already-active and
// already-queued coordinates are not re-queued, except that an active
// coordinate with a pending unload still takes the load: the unload drains
// first and retires the chunk, so the queued load is what honors the newest
// request.
func (c *Cache) RequestLoad(coord grid.ChunkCoord) {
	if _, ok := c.loadQueued[coord]; ok {
		return
	}
	if _, ok := c.active[coord]; ok {
		if _, pending := c.unloadQueued[coord]; !pending {
			return
		}
	}
	c.loadQueued[coord] = struct{}{}
	c.loadQueue.PushBack(coord)
}

// RequestUnload queues a coordinate for unloading; de-duplicated like loads.
func (c *Cache) RequestUnload(coord grid.ChunkCoord) {
	if _, ok := c.unloadQueued[coord]; ok {
		return
	}
	if _, ok := c.active[coord]; !ok {
		return
	}
	c.unloadQueued[coord] = struct{}{}
	c.unloadQueue.PushBack(coord)
}

// Tick drains up to maxOps queued operations, unloads before loads so budget
// freed this tick is available to admissions in the same tick. This bounded
// drain is the backpressure mechanism protecting frame-rate-sensitive
// callers: queue depth never affects per-tick cost.
func (c *Cache) Tick(maxOps int) []Op {
	var ops []Op
	budget := maxOps
	for budget > 0 && (c.unloadQueue.Len() > 0 || c.loadQueue.Len() > 0) {
		if c.unloadQueue.Len() > 0 {
			coord := c.pop(c.unloadQueue, c.unloadQueued)
			ops = append(ops, c.processUnload(coord)...)
			budget--
			continue
		}
		coord := c.pop(c.loadQueue, c.loadQueued)
		ops = append(ops, c.processLoad(coord)...)
		budget--
	}
	return ops
}

func (c *Cache) pop(queue *list.List, queued map[grid.ChunkCoord]struct{}) grid.ChunkCoord {
	front := queue.Front()
	queue.Remove(front)
	coord := front.Value.(grid.ChunkCoord)
	delete(queued, coord)
	return coord
}

func (c *Cache) processLoad(coord grid.ChunkCoord) []Op {
	if _, ok := c.active[coord]; ok {
		return nil
	}

	var ops []Op
	if len(c.active) >= c.opts.MaxLoaded {
		evicted, evictOps := c.evictFarthest()
		ops = append(ops, evictOps...)
		if !evicted {
			log.Printf("[ChunkCache] load of %s dropped: active budget %d exhausted and no eviction candidate",
				coord, c.opts.MaxLoaded)
			return append(ops, Op{Kind: OpDropped, Coord: coord})
		}
	}

	if e, ok := c.cached[coord]; ok {
		// Promotion: the content survives the cached round trip untouched,
		// so no re-fetch happens.
		delete(c.cached, coord)
		e.visible = true
		c.active[coord] = e
		return append(ops, Op{Kind: OpPromoted, Coord: coord})
	}

	c.active[coord] = &entry{coord: coord, visible: true}
	return append(ops, Op{Kind: OpActivated, Coord: coord})
}

func (c *Cache) processUnload(coord grid.ChunkCoord) []Op {
	e, ok := c.active[coord]
	if !ok {
		return nil
	}
	delete(c.active, coord)
	return []Op{c.demoteOrDestroy(e)}
}

// demoteOrDestroy retires an entry that just left the active set: chunks
// still near the reference keep their content hidden in the cached set, the
// rest are destroyed outright.
func (c *Cache) demoteOrDestroy(e *entry) Op {
	keepRadius := c.opts.Radius + c.opts.HysteresisMargin
	if grid.Within(c.reference, e.coord, keepRadius) && len(c.cached) < c.opts.CacheCapacity {
		e.visible = false
		c.cached[e.coord] = e
		return Op{Kind: OpDemoted, Coord: e.coord}
	}
	if c.onDestroy != nil && e.content != nil {
		c.onDestroy(e.coord, e.content)
	}
	return Op{Kind: OpDestroyed, Coord: e.coord}
}

// evictFarthest removes the active chunk farthest from the reference that is
// outside the priority radius. Ties on equal distance fall to map iteration
// order, which is allowed to be nondeterministic.
func (c *Cache) evictFarthest() (bool, []Op) {
	var victim *entry
	var victimDist float64
	for coord, e := range c.active {
		if grid.Within(c.reference, coord, c.opts.PriorityRadius) {
			continue
		}
		d := grid.Distance(c.reference, coord)
		if victim == nil || d > victimDist {
			victim = e
			victimDist = d
		}
	}
	if victim == nil {
		return false, nil
	}
	delete(c.active, victim.coord)
	return true, []Op{c.demoteOrDestroy(victim)}
}

// SetContent attaches fetched content to a chunk. It returns false when the
// coordinate is no longer wanted (unloaded before the fetch completed), in
// which case the caller must discard the content. The check is idempotent
// and order independent.
func (c *Cache) SetContent(coord grid.ChunkCoord, content interface{}) bool {
	if e, ok := c.active[coord]; ok {
		e.content = content
		return true
	}
	if e, ok := c.cached[coord]; ok {
		e.content = content
		return true
	}
	return false
}

// ContentOf returns the content stored for a coordinate, if any.
func (c *Cache) ContentOf(coord grid.ChunkCoord) (interface{}, bool) {
	if e, ok := c.active[coord]; ok {
		return e.content, true
	}
	if e, ok := c.cached[coord]; ok {
		return e.content, true
	}
	return nil, false
}

// StateOf reports the lifecycle state of a coordinate.
func (c *Cache) StateOf(coord grid.ChunkCoord) State {
	if _, ok := c.active[coord]; ok {
		return StateActive
	}
	if _, ok := c.cached[coord]; ok {
		return StateCached
	}
	return StateUnloaded
}

// ActiveCount returns the number of active chunks.
func (c *Cache) ActiveCount() int { return len(c.active) }

// CachedCount returns the number of cached chunks.
func (c *Cache) CachedCount() int { return len(c.cached) }

// PendingLoads returns the load-queue depth.
func (c *Cache) PendingLoads() int { return c.loadQueue.Len() }

// PendingUnloads returns the unload-queue depth.
func (c *Cache) PendingUnloads() int { return c.unloadQueue.Len() }

// ActiveCoords returns a snapshot of the active coordinate set.
func (c *Cache) ActiveCoords() []grid.ChunkCoord {
	coords := make([]grid.ChunkCoord, 0, len(c.active))
	for coord := range c.active {
		coords = append(coords, coord)
	}
	return coords
}

// EvictStale destroys cached chunks that have drifted outside the keep
// radius. The movement predictor's stopped hook calls this opportunistically;
// it is safe to call at any time.
func (c *Cache) EvictStale() int {
	keepRadius := c.opts.Radius + c.opts.HysteresisMargin
	evicted := 0
	for coord, e := range c.cached {
		if grid.Within(c.reference, coord, keepRadius) {
			continue
		}
		delete(c.cached, coord)
		if c.onDestroy != nil && e.content != nil {
			c.onDestroy(coord, e.content)
		}
		evicted++
	}
	if evicted > 0 {
		log.Printf("[ChunkCache] opportunistic pass evicted %d stale cached chunks", evicted)
	}
	return evicted
}
