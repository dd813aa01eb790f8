package anchor

import (
	"log"
	"math"
	"time"

	"github.com/groundframe/client/internal/pose"
)

// Item is one placed content item: the home pose it is anchored to, the
// rendered pose lagging toward it, and the stability state physics
// collaborators key off. Items are owned exclusively by the stabilizer;
// callers receive copies.
type Item struct {
	Key        string
	Home       pose.Pose
	Rendered   pose.Pose
	Stable     bool
	LastStable time.Time

	velocity pose.Vec3
}

// Options tunes drift correction and smoothing.
type Options struct {
	StabilityThreshold float64 // meters
	RotationThreshold  float64 // degrees
	UpdateFrames       int     // reference resync cadence in ticks
	SmoothTime         float64 // seconds
	MaxSmoothSpeed     float64 // meters per second
	AttachRadius       float64 // placement ring for items resolved pre-anchor
}

// Stabilizer keeps every placed item's home pose consistent with the tracked
// reference frame and smooths rendered poses toward their homes. All methods
// must be called from the tick goroutine.
type Stabilizer struct {
	opts Options

	valid     bool
	reference pose.Pose // anchor bookkeeping pose, resynced every UpdateFrames ticks
	corrected pose.Pose // tracker pose the last drift correction was measured against
	tickCount int
	dirty     bool

	items   map[string]*Item
	pending []string
}

// New builds a stabilizer with no valid anchor.
func New(opts Options) *Stabilizer {
	if opts.UpdateFrames <= 0 {
		opts.UpdateFrames = 30
	}
	return &Stabilizer{
		opts:  opts,
		items: make(map[string]*Item),
	}
}

// Valid reports whether a reference pose has been detected.
func (s *Stabilizer) Valid() bool { return s.valid }

// Reference returns the stored reference anchor pose.
func (s *Stabilizer) Reference() pose.Pose { return s.reference }

// OnReferencePose records the first detected reference pose and attaches any
// items that resolved before detection, distributing them evenly on a ring
// around the anchor. Later detections are ignored; drift against the live
// tracker pose is handled by Tick.
func (s *Stabilizer) OnReferencePose(p pose.Pose) {
	if s.valid {
		return
	}
	s.valid = true
	s.reference = p
	s.corrected = p
	log.Printf("[Anchor] reference pose acquired at (%.2f, %.2f, %.2f), attaching %d pending items",
		p.Position.X, p.Position.Y, p.Position.Z, len(s.pending))

	n := len(s.pending)
	for i, key := range s.pending {
		angle := 2 * math.Pi * float64(i) / float64(max(n, 1))
		offset := pose.Vec3{
			X: s.opts.AttachRadius * math.Cos(angle),
			Z: s.opts.AttachRadius * math.Sin(angle),
		}
		home := pose.Pose{
			Position: p.Position.Add(p.Rotation.Rotate(offset)),
			Rotation: p.Rotation,
		}
		s.attach(key, home)
	}
	s.pending = nil
}

// AttachPending registers an item that resolved before the anchor was valid.
// It is placed when the first reference pose arrives.
func (s *Stabilizer) AttachPending(key string) {
	if s.valid {
		s.attach(key, pose.Pose{Position: s.reference.Position, Rotation: s.reference.Rotation})
		return
	}
	s.pending = append(s.pending, key)
}

// Attach places an item at an explicit home pose.
func (s *Stabilizer) Attach(key string, home pose.Pose) {
	s.attach(key, home)
}

func (s *Stabilizer) attach(key string, home pose.Pose) {
	s.items[key] = &Item{
		Key:      key,
		Home:     home,
		Rendered: home,
	}
	s.dirty = true
}

// Remove drops an item, typically because its owning chunk was destroyed.
func (s *Stabilizer) Remove(key string) {
	if _, ok := s.items[key]; ok {
		delete(s.items, key)
		s.dirty = true
	}
}

// Tick runs one stabilization pass against the tracker's current pose:
// drift detection and correction first, then per-item smoothing and
// stability recomputation. dt is the tick duration in seconds.
func (s *Stabilizer) Tick(current pose.Pose, now time.Time, dt float64) {
	if !s.valid {
		return
	}
	s.tickCount++

	delta := pose.RigidDelta(s.corrected, current)
	translation := delta.Translation().Length()
	rotation := delta.RotationAngleDeg()
	if translation > s.opts.StabilityThreshold || rotation > s.opts.RotationThreshold {
		// Apply the same rigid transform to every home pose, never
		// recomputing placements from scratch, so the relative layout of
		// the items survives any number of corrections.
		for _, item := range s.items {
			item.Home = delta.Apply(item.Home)
		}
		s.corrected = current
		s.dirty = true
		log.Printf("[Anchor] drift correction applied: translation=%.3fm rotation=%.2fdeg items=%d",
			translation, rotation, len(s.items))
	}

	// The stored anchor resyncs on a fixed cadence only, so high-frequency
	// tracker jitter never propagates into the bookkeeping pose.
	if s.tickCount%s.opts.UpdateFrames == 0 {
		s.reference = current
	}

	step := pose.SmoothStep(s.opts.SmoothTime, dt)
	for _, item := range s.items {
		item.Rendered.Position = pose.SmoothDamp(
			item.Rendered.Position, item.Home.Position, &item.velocity,
			s.opts.SmoothTime, s.opts.MaxSmoothSpeed, dt)
		item.Rendered.Rotation = item.Rendered.Rotation.Nlerp(item.Home.Rotation, step)

		distance := item.Rendered.Position.Sub(item.Home.Position).Length()
		item.Stable = distance <= s.opts.StabilityThreshold
		if item.Stable {
			item.LastStable = now
		}
	}
}

// Item returns a copy of the named item.
func (s *Stabilizer) Item(key string) (Item, bool) {
	item, ok := s.items[key]
	if !ok {
		return Item{}, false
	}
	return *item, true
}

// Items returns copies of every placed item. Physics collaborators read the
// Stable flag from here: items must stay kinematic while unstable and may go
// dynamic once stable.
func (s *Stabilizer) Items() []Item {
	out := make([]Item, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, *item)
	}
	return out
}

// Dirty reports whether any home pose changed since the last ClearDirty.
// Every home-pose mutation marks the session snapshot dirty.
func (s *Stabilizer) Dirty() bool { return s.dirty }

// ClearDirty acknowledges a persisted snapshot.
func (s *Stabilizer) ClearDirty() { s.dirty = false }

// Restore rebuilds stabilizer state from a persisted session: the anchor is
// considered valid at the stored reference pose and the items are re-placed
// at their stored poses.
func (s *Stabilizer) Restore(reference pose.Pose, items []Item) {
	s.valid = true
	s.reference = reference
	s.corrected = reference
	for i := range items {
		restored := items[i]
		s.items[restored.Key] = &Item{
			Key:      restored.Key,
			Home:     restored.Home,
			Rendered: restored.Rendered,
			Stable:   restored.Stable,
		}
	}
	log.Printf("[Anchor] restored session with %d items", len(items))
}
