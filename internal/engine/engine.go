package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/groundframe/client/internal/anchor"
	"github.com/groundframe/client/internal/chunkcache"
	"github.com/groundframe/client/internal/config"
	"github.com/groundframe/client/internal/grid"
	"github.com/groundframe/client/internal/movement"
	"github.com/groundframe/client/internal/performance"
	"github.com/groundframe/client/internal/pose"
	"github.com/groundframe/client/internal/posefeed"
	"github.com/groundframe/client/internal/resolver"
	"github.com/groundframe/client/internal/session"
)

// ContentSource resolves a logical content key to a handle. Satisfied by
// *resolver.Resolver; tests substitute fakes.
type ContentSource interface {
	Resolve(ctx context.Context, key string) resolver.Handle
}

// completion carries one finished resolution back onto the tick goroutine.
// Fetch goroutines never mutate engine state; they enqueue here and the next
// tick applies the transition.
type completion struct {
	coord  grid.ChunkCoord
	handle resolver.Handle
}

// Deps are the collaborators the engine drives.
type Deps struct {
	Resolver ContentSource
	Store    *session.Store
	Updates  <-chan posefeed.Update
	Profiler *performance.Profiler
}

// Engine owns the tick loop. All chunk, anchor, and movement state is
// mutated exclusively from Step, which Run invokes at the configured rate.
type Engine struct {
	cfg      *config.Config
	deps     Deps
	cache    *chunkcache.Cache
	anchor   *anchor.Stabilizer
	movement *movement.Predictor

	completions chan completion

	trackerPose pose.Pose
	havePose    bool
	tracking    posefeed.TrackingState
	lastSave    time.Time
}

// New wires an engine. It fails when neither a pose provider nor a
// placeholder source is configured, since then nothing could ever render;
// that is the one condition surfaced as a hard failure rather than a
// degraded mode.
func New(cfg *config.Config, deps Deps) (*Engine, error) {
	if deps.Updates == nil && cfg.Resolver.PlaceholderPool <= 0 {
		return nil, fmt.Errorf("no reference-pose provider and no placeholder pool configured: nothing can render")
	}
	if deps.Profiler == nil {
		deps.Profiler = performance.NewProfiler(false)
	}

	e := &Engine{
		cfg:         cfg,
		deps:        deps,
		completions: make(chan completion, 256),
		tracking:    posefeed.TrackingLost,
	}
	e.anchor = anchor.New(anchor.Options{
		StabilityThreshold: cfg.Anchor.StabilityThreshold,
		RotationThreshold:  cfg.Anchor.RotationThreshold,
		UpdateFrames:       cfg.Anchor.UpdateFrames,
		SmoothTime:         cfg.Anchor.SmoothTime,
		MaxSmoothSpeed:     cfg.Anchor.MaxSmoothSpeed,
		AttachRadius:       cfg.Anchor.AttachRadius,
	})
	e.cache = chunkcache.New(chunkcache.Options{
		Radius:           cfg.Chunks.Radius,
		PriorityRadius:   cfg.Chunks.PriorityRadius,
		HysteresisMargin: cfg.Chunks.HysteresisMargin,
		MaxLoaded:        cfg.Chunks.MaxLoaded,
		CacheCapacity:    cfg.Chunks.CacheCapacity,
	}, func(coord grid.ChunkCoord, _ interface{}) {
		e.anchor.Remove(KeyFor(coord))
	})
	e.movement = movement.New(movement.Options{
		SampleInterval: cfg.Movement.SampleInterval,
		MoveThreshold:  cfg.Movement.MoveThreshold,
		PrefetchDepth:  cfg.Movement.PrefetchDepth,
		ChunkSize:      cfg.Chunks.Size,
	})
	return e, nil
}

// KeyFor derives the logical content key for a chunk coordinate.
func KeyFor(coord grid.ChunkCoord) string {
	return fmt.Sprintf("chunk_%s", coord)
}

// Cache exposes the chunk cache for inspection.
func (e *Engine) Cache() *chunkcache.Cache { return e.cache }

// Anchor exposes the stabilizer for inspection.
func (e *Engine) Anchor() *anchor.Stabilizer { return e.anchor }

// Tracking returns the provider's last reported tracking state.
func (e *Engine) Tracking() posefeed.TrackingState { return e.tracking }

// Run restores any persisted session and drives ticks until ctx is
// cancelled, then performs the final save-or-delete.
func (e *Engine) Run(ctx context.Context) error {
	if e.deps.Store != nil {
		snapshot, err := e.deps.Store.Load()
		if err != nil {
			log.Printf("[Engine] session restore failed, cold start: %v", err)
		} else if snapshot != nil {
			items := make([]anchor.Item, 0, len(snapshot.Items))
			for _, record := range snapshot.Items {
				items = append(items, anchor.Item{
					Key:      record.Key,
					Home:     record.Home,
					Rendered: record.Rendered,
					Stable:   record.Stable,
				})
			}
			e.anchor.Restore(snapshot.Reference, items)
		}
	}

	interval := time.Second / time.Duration(e.cfg.Engine.TickRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	dt := interval.Seconds()

	log.Printf("[Engine] tick loop running at %d Hz", e.cfg.Engine.TickRate)
	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return nil
		case now := <-ticker.C:
			e.Step(ctx, now, dt)
		}
	}
}

// Step runs one tick: apply queued completions, consume pose updates, sample
// movement, drain bounded chunk work, then stabilize. Chunk queues drain
// before smoothing so freshly promoted content never pops ahead of a drift
// correction in the same tick.
func (e *Engine) Step(ctx context.Context, now time.Time, dt float64) {
	span := e.deps.Profiler.Start("tick")
	defer span.End()

	e.applyCompletions()
	e.consumePoseUpdates()

	// While tracking is limited or lost the last pose is stale: the chunk
	// reference, movement sampling, and stabilization all hold until the
	// provider reports tracked again. Fetches and queue drains continue.
	poseTrusted := e.havePose && e.tracking == posefeed.TrackingTracked

	if poseTrusted {
		refCoord := grid.FromWorld(e.trackerPose.Position.X, e.trackerPose.Position.Z, e.cfg.Chunks.Size)
		e.cache.SetReference(refCoord)
		e.sampleMovement(now)
	}

	chunkSpan := e.deps.Profiler.Start("chunks")
	ops := e.cache.Tick(e.cfg.Chunks.MaxOpsPerTick)
	chunkSpan.End()
	for _, op := range ops {
		if op.Kind == chunkcache.OpActivated {
			e.dispatch(ctx, op.Coord)
		}
	}

	if poseTrusted {
		anchorSpan := e.deps.Profiler.Start("anchor")
		e.anchor.Tick(e.trackerPose, now, dt)
		anchorSpan.End()
	}

	e.maybeSave(now)
}

// applyCompletions applies every queued fetch result. Results for
// coordinates that were unloaded while the fetch was in flight are
// discarded; the check is idempotent and order independent.
func (e *Engine) applyCompletions() {
	for {
		select {
		case done := <-e.completions:
			if !e.cache.SetContent(done.coord, done.handle) {
				log.Printf("[Engine] discarding completed fetch for unloaded chunk %s", done.coord)
				continue
			}
			key := KeyFor(done.coord)
			if e.anchor.Valid() {
				e.anchor.Attach(key, e.homeFor(done.coord))
			} else {
				e.anchor.AttachPending(key)
			}
		default:
			return
		}
	}
}

func (e *Engine) consumePoseUpdates() {
	if e.deps.Updates == nil {
		return
	}
	for {
		select {
		case update := <-e.deps.Updates:
			e.tracking = update.Tracking
			if !update.HasPose {
				continue
			}
			e.trackerPose = update.Pose
			e.havePose = true
			if !e.anchor.Valid() {
				e.anchor.OnReferencePose(update.Pose)
			}
		default:
			return
		}
	}
}

func (e *Engine) sampleMovement(now time.Time) {
	event := e.movement.Sample(now, e.trackerPose.Position)
	if event == nil {
		return
	}
	switch event.Kind {
	case movement.EventStartedMoving:
		for _, coord := range event.Prefetch {
			e.cache.RequestLoad(coord)
		}
		e.recomputeWindow()
	case movement.EventRadiusRecompute:
		e.recomputeWindow()
	case movement.EventStopped:
		e.cache.EvictStale()
	}
}

// recomputeWindow diffs the desired chunk window around the reference
// coordinate against the active set, requesting loads for newly wanted
// chunks and unloads for chunks that drifted out past the hysteresis band.
func (e *Engine) recomputeWindow() {
	center := e.cache.Reference()
	desired := grid.CoordsInRadius(center, e.cfg.Chunks.Radius)
	want := make(map[grid.ChunkCoord]struct{}, len(desired))
	for _, coord := range desired {
		want[coord] = struct{}{}
		e.cache.RequestLoad(coord)
	}
	keepRadius := e.cfg.Chunks.Radius + e.cfg.Chunks.HysteresisMargin
	for _, coord := range e.cache.ActiveCoords() {
		if _, ok := want[coord]; ok {
			continue
		}
		if grid.Within(center, coord, keepRadius) {
			continue
		}
		e.cache.RequestUnload(coord)
	}
}

// dispatch starts one asynchronous resolution. The goroutine only touches
// the completions channel; state transitions happen on a later tick.
func (e *Engine) dispatch(ctx context.Context, coord grid.ChunkCoord) {
	key := KeyFor(coord)
	go func() {
		handle := e.deps.Resolver.Resolve(ctx, key)
		select {
		case e.completions <- completion{coord: coord, handle: handle}:
		case <-ctx.Done():
		}
	}()
}

// homeFor derives an item's home pose from the anchor: the chunk's center in
// the horizontal plane, at the anchored surface height, facing the way the
// anchor faces. Drift corrections keep this offset rigid afterwards.
func (e *Engine) homeFor(coord grid.ChunkCoord) pose.Pose {
	ref := e.anchor.Reference()
	x, z := grid.Center(coord, e.cfg.Chunks.Size)
	return pose.Pose{
		Position: pose.Vec3{X: x, Y: ref.Position.Y, Z: z},
		Rotation: ref.Rotation,
	}
}

func (e *Engine) maybeSave(now time.Time) {
	if e.deps.Store == nil || !e.anchor.Dirty() {
		return
	}
	if now.Sub(e.lastSave) < e.cfg.Session.SaveInterval {
		return
	}
	e.save()
	e.lastSave = now
}

func (e *Engine) save() {
	records := itemRecords(e.anchor.Items())
	if err := e.deps.Store.Save(e.anchor.Reference(), records); err != nil {
		log.Printf("[Engine] session save failed: %v", err)
		return
	}
	e.anchor.ClearDirty()
}

func (e *Engine) shutdown() {
	if e.deps.Store == nil {
		return
	}
	if e.cfg.Session.KeepOnExit {
		e.save()
		log.Printf("[Engine] session saved on exit")
		return
	}
	e.deps.Store.Delete()
	log.Printf("[Engine] session file deleted on clean exit")
}

func itemRecords(items []anchor.Item) []session.ItemRecord {
	records := make([]session.ItemRecord, 0, len(items))
	for _, item := range items {
		records = append(records, session.ItemRecord{
			Key:      item.Key,
			Home:     item.Home,
			Rendered: item.Rendered,
			Stable:   item.Stable,
		})
	}
	return records
}
