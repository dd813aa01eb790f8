package performance

import (
	"encoding/json"
	"sync"
	"time"
)

// Profiler aggregates per-stage timings of the tick loop. Stages record from
// the tick goroutine; readers (the health endpoint) snapshot concurrently.
type Profiler struct {
	mu        sync.RWMutex
	stages    map[string]*Stage
	enabled   bool
	startTime time.Time
}

// Stage tracks timing statistics for one named tick stage.
type Stage struct {
	Name      string
	Count     int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration
	LastTime  time.Duration
}

// Span is a single in-flight timed stage.
type Span struct {
	profiler *Profiler
	name     string
	start    time.Time
}

// NewProfiler creates a profiler. When disabled, Start returns a nil span
// and recording is a no-op.
func NewProfiler(enabled bool) *Profiler {
	return &Profiler{
		stages:    make(map[string]*Stage),
		enabled:   enabled,
		startTime: time.Now(),
	}
}

// Start begins timing a stage.
func (p *Profiler) Start(name string) *Span {
	if !p.enabled {
		return nil
	}
	return &Span{profiler: p, name: name, start: time.Now()}
}

// End completes the span and records the duration.
func (s *Span) End() {
	if s == nil {
		return
	}
	s.profiler.record(s.name, time.Since(s.start))
}

func (p *Profiler) record(name string, duration time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	stage, ok := p.stages[name]
	if !ok {
		stage = &Stage{Name: name, MinTime: duration, MaxTime: duration}
		p.stages[name] = stage
	}
	stage.Count++
	stage.TotalTime += duration
	stage.LastTime = duration
	if duration < stage.MinTime {
		stage.MinTime = duration
	}
	if duration > stage.MaxTime {
		stage.MaxTime = duration
	}
}

// AverageTime returns the mean duration of the stage.
func (s *Stage) AverageTime() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.TotalTime / time.Duration(s.Count)
}

// Snapshot returns a copy of all stage statistics.
func (p *Profiler) Snapshot() map[string]Stage {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]Stage, len(p.stages))
	for name, stage := range p.stages {
		out[name] = *stage
	}
	return out
}

// JSONReport renders the snapshot for the health endpoint.
func (p *Profiler) JSONReport() ([]byte, error) {
	type stageJSON struct {
		Count int64         `json:"count"`
		Avg   time.Duration `json:"avg_ns"`
		Min   time.Duration `json:"min_ns"`
		Max   time.Duration `json:"max_ns"`
		Last  time.Duration `json:"last_ns"`
	}
	report := struct {
		StartTime time.Time            `json:"start_time"`
		Runtime   time.Duration        `json:"runtime_ns"`
		Stages    map[string]stageJSON `json:"stages"`
	}{
		StartTime: p.startTime,
		Runtime:   time.Since(p.startTime),
		Stages:    make(map[string]stageJSON),
	}

	for name, stage := range p.Snapshot() {
		report.Stages[name] = stageJSON{
			Count: stage.Count,
			Avg:   stage.AverageTime(),
			Min:   stage.MinTime,
			Max:   stage.MaxTime,
			Last:  stage.LastTime,
		}
	}
	return json.MarshalIndent(report, "", "  ")
}
