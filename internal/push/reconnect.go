package push

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"github.com/rs/zerolog/log"
)

// ErrMaxRetries is returned once the reconnect budget is spent; it carries
// the MaxRetriesExceeded closure code.
var ErrMaxRetries = fmt.Errorf("push: closed after max reconnect attempts (code %d)", CloseMaxRetriesExceeded)

// ReconnectingClient dials a push endpoint and keeps the connection alive
// through at most MaxRetries reconnect attempts with exponential backoff.
// Frames are handed to OnFrame in arrival order; after a successful
// reconnect the server replays initial_data, so the consumer resyncs
// automatically.
type ReconnectingClient struct {
	URL        string
	Token      string
	MaxRetries int
	BaseWait   time.Duration
	OnFrame    func(frame Frame)
}

// Run blocks until the context is cancelled or the retry budget is spent.
func (r *ReconnectingClient) Run(ctx context.Context) error {
	retries := r.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	wait := r.BaseWait
	if wait <= 0 {
		wait = 2 * time.Second
	}
	b := &backoff.Backoff{
		Min:    wait,
		Max:    wait * 16,
		Factor: 2,
		Jitter: true,
	}

	attempt := 0
	for {
		err := r.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			// Clean server close.
			return nil
		}

		attempt++
		if attempt > retries {
			log.Warn().Str("url", r.URL).Int("attempts", attempt-1).Msg("Reconnect budget exhausted")
			return ErrMaxRetries
		}

		delay := b.Duration()
		log.Info().Str("url", r.URL).Int("attempt", attempt).Dur("wait", delay).Msg("Reconnecting to push endpoint")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (r *ReconnectingClient) runOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, r.URL+"?token="+r.Token, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if frame.Type == FrameHeartbeat {
			_ = conn.WriteJSON(ClientMessage{Action: ActionHeartbeatResponse})
			continue
		}
		if r.OnFrame != nil {
			r.OnFrame(frame)
		}
	}
}
