package movement

import (
	"log"
	"time"

	"github.com/groundframe/client/internal/grid"
	"github.com/groundframe/client/internal/pose"
)

// EventKind classifies a predictor emission.
type EventKind int

const (
	// EventStartedMoving fires exactly once on the stationary-to-moving
	// edge and carries directional prefetch coordinates.
	EventStartedMoving EventKind = iota
	// EventStopped fires exactly once on the moving-to-stationary edge.
	// It is the opportunistic-optimization hook; reacting to it is policy,
	// ignoring it is always safe.
	EventStopped
	// EventRadiusRecompute fires on every sample while moving so the owner
	// refreshes the chunk window around the new position.
	EventRadiusRecompute
)

// Event is one movement classification result.
type Event struct {
	Kind      EventKind
	Position  pose.Vec3
	Direction pose.Vec3         // normalized movement vector, zero when stationary
	Prefetch  []grid.ChunkCoord // populated on EventStartedMoving
}

// Options tunes the predictor.
type Options struct {
	SampleInterval time.Duration
	MoveThreshold  float64 // meters moved per sample to classify as moving
	PrefetchDepth  int     // chunks projected ahead on the moving edge
	ChunkSize      float64
}

// Predictor samples a moving reference point on a fixed interval and
// classifies it as moving or stationary, emitting edge events exactly once
// per transition.
type Predictor struct {
	opts Options

	primed       bool
	moving       bool
	lastSampleAt time.Time
	lastPos      pose.Vec3
}

// New builds a predictor in the stationary state.
func New(opts Options) *Predictor {
	return &Predictor{opts: opts}
}

// Moving reports the current classification.
func (p *Predictor) Moving() bool { return p.moving }

// Sample feeds the current position. It returns nil between sample
// intervals and when nothing noteworthy happened; otherwise one event.
func (p *Predictor) Sample(now time.Time, position pose.Vec3) *Event {
	if !p.primed {
		p.primed = true
		p.lastSampleAt = now
		p.lastPos = position
		return nil
	}
	if now.Sub(p.lastSampleAt) < p.opts.SampleInterval {
		return nil
	}

	delta := position.Sub(p.lastPos)
	moved := delta.Length() > p.opts.MoveThreshold
	p.lastSampleAt = now
	p.lastPos = position

	switch {
	case moved && !p.moving:
		p.moving = true
		direction := delta.Normalized()
		event := &Event{
			Kind:      EventStartedMoving,
			Position:  position,
			Direction: direction,
			Prefetch:  p.project(position, direction),
		}
		log.Printf("[Movement] started moving, prefetching %d chunks ahead", len(event.Prefetch))
		return event
	case moved:
		return &Event{Kind: EventRadiusRecompute, Position: position, Direction: delta.Normalized()}
	case p.moving:
		p.moving = false
		log.Printf("[Movement] stopped moving")
		return &Event{Kind: EventStopped, Position: position}
	default:
		return nil
	}
}

// project walks PrefetchDepth chunk lengths along the movement vector and
// collects the distinct chunk coordinates it crosses.
func (p *Predictor) project(position, direction pose.Vec3) []grid.ChunkCoord {
	seen := make(map[grid.ChunkCoord]struct{})
	var coords []grid.ChunkCoord
	for i := 1; i <= p.opts.PrefetchDepth; i++ {
		ahead := position.Add(direction.Scale(p.opts.ChunkSize * float64(i)))
		coord := grid.FromWorld(ahead.X, ahead.Z, p.opts.ChunkSize)
		if _, ok := seen[coord]; ok {
			continue
		}
		seen[coord] = struct{}{}
		coords = append(coords, coord)
	}
	return coords
}
