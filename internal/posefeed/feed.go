package posefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"github.com/groundframe/client/internal/pose"
)

const (
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	writeTimeout = 10 * time.Second
)

// TrackingState mirrors the external tracking provider's state machine.
type TrackingState string

const (
	TrackingTracked TrackingState = "tracked"
	TrackingLimited TrackingState = "limited"
	TrackingLost    TrackingState = "lost"
)

// Update is one observation from the pose provider. Pose carries the
// tracker's current reference pose; Tracking tells the consumer whether that
// pose is trustworthy.
type Update struct {
	Pose     pose.Pose
	Tracking TrackingState
	HasPose  bool
}

// message is the wire form of a pose provider frame.
type message struct {
	Type     string    `json:"type"`
	Position pose.Vec3 `json:"position,omitempty"`
	Rotation pose.Quat `json:"rotation,omitempty"`
	State    string    `json:"state,omitempty"`
}

// Feed consumes the reference-pose provider's WebSocket stream. Updates are
// delivered latest-wins on a small buffered channel; the feed never touches
// engine state directly.
type Feed struct {
	url     string
	backoff time.Duration
	updates chan Update
}

// New builds a feed for the given ws:// URL.
func New(url string, reconnectBackoff time.Duration) *Feed {
	if reconnectBackoff <= 0 {
		reconnectBackoff = 2 * time.Second
	}
	return &Feed{
		url:     url,
		backoff: reconnectBackoff,
		updates: make(chan Update, 8),
	}
}

// Updates returns the channel the engine drains each tick.
func (f *Feed) Updates() <-chan Update { return f.updates }

// Run dials the provider and pumps updates until ctx is cancelled,
// reconnecting with a fixed backoff on any read failure.
func (f *Feed) Run(ctx context.Context) {
	for {
		if err := f.connect(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[PoseFeed] connection lost: %v, reconnecting in %v", err, f.backoff)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(f.backoff):
		}
	}
}

func (f *Feed) connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s failed: %w", f.url, err)
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil {
			log.Printf("[PoseFeed] failed to close connection: %v", closeErr)
		}
	}()
	log.Printf("[PoseFeed] connected to %s", f.url)

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go pingLoop(pingCtx, conn)

	for {
		if ctx.Err() != nil {
			return nil
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read failed: %w", err)
		}
		update, ok := parseMessage(data)
		if !ok {
			continue
		}
		f.publish(update)
	}
}

func pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(writeTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

// parseMessage decodes one provider frame. Malformed frames are skipped, not
// fatal; the provider owns its own wire hygiene.
func parseMessage(data []byte) (Update, bool) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("[PoseFeed] skipping malformed message: %v", err)
		return Update{}, false
	}
	switch msg.Type {
	case "pose":
		p := pose.Pose{Position: msg.Position, Rotation: msg.Rotation.Normalized()}
		if err := p.Position.Validate(); err != nil {
			log.Printf("[PoseFeed] skipping invalid pose: %v", err)
			return Update{}, false
		}
		return Update{Pose: p, Tracking: TrackingTracked, HasPose: true}, true
	case "tracking":
		switch TrackingState(msg.State) {
		case TrackingTracked, TrackingLimited, TrackingLost:
			return Update{Tracking: TrackingState(msg.State)}, true
		}
		log.Printf("[PoseFeed] unknown tracking state %q", msg.State)
		return Update{}, false
	default:
		return Update{}, false
	}
}

// publish delivers latest-wins: when the engine is behind, the oldest queued
// update is discarded rather than blocking the read loop.
func (f *Feed) publish(update Update) {
	for {
		select {
		case f.updates <- update:
			return
		default:
			select {
			case <-f.updates:
			default:
			}
		}
	}
}
