package call

import (
	"context"
	"fmt"

	"github.com/rescp17/callKit/pkg/locus"
	"github.com/rescp17/callKit/pkg/media"
)

// ToggleSendingAudio flips whether local audio is sent. The new state is
// computed inside the media-update gate, so two toggles issued before the
// first settles apply in sequence and land back on the original state.
func (c *Call) ToggleSendingAudio(ctx context.Context) error {
	return c.mediaGate.Execute(func() error {
		return c.updateSendingLocked(ctx, media.FieldSendingAudio, !c.media.SendingAudio())
	})
}

// StartSendingAudio unmutes local audio.
func (c *Call) StartSendingAudio(ctx context.Context) error {
	return c.mediaGate.Execute(func() error {
		return c.updateSendingLocked(ctx, media.FieldSendingAudio, true)
	})
}

// StopSendingAudio mutes local audio.
func (c *Call) StopSendingAudio(ctx context.Context) error {
	return c.mediaGate.Execute(func() error {
		return c.updateSendingLocked(ctx, media.FieldSendingAudio, false)
	})
}

// ToggleSendingVideo flips whether local video is sent.
func (c *Call) ToggleSendingVideo(ctx context.Context) error {
	return c.mediaGate.Execute(func() error {
		return c.updateSendingLocked(ctx, media.FieldSendingVideo, !c.media.SendingVideo())
	})
}

// StartSendingVideo enables the local video feed.
func (c *Call) StartSendingVideo(ctx context.Context) error {
	return c.mediaGate.Execute(func() error {
		return c.updateSendingLocked(ctx, media.FieldSendingVideo, true)
	})
}

// StopSendingVideo disables the local video feed.
func (c *Call) StopSendingVideo(ctx context.Context) error {
	return c.mediaGate.Execute(func() error {
		return c.updateSendingLocked(ctx, media.FieldSendingVideo, false)
	})
}

// ToggleReceivingAudio flips local handling of inbound audio. Purely
// local: no remote round trip is needed.
func (c *Call) ToggleReceivingAudio(ctx context.Context) error {
	return c.setAndWait(ctx, media.FieldReceivingAudio, !c.media.ReceivingAudio())
}

// StartReceivingAudio resumes handling inbound audio.
func (c *Call) StartReceivingAudio(ctx context.Context) error {
	return c.setAndWait(ctx, media.FieldReceivingAudio, true)
}

// StopReceivingAudio stops handling inbound audio.
func (c *Call) StopReceivingAudio(ctx context.Context) error {
	return c.setAndWait(ctx, media.FieldReceivingAudio, false)
}

// ToggleReceivingVideo flips local handling of inbound video.
func (c *Call) ToggleReceivingVideo(ctx context.Context) error {
	return c.setAndWait(ctx, media.FieldReceivingVideo, !c.media.ReceivingVideo())
}

// StartReceivingVideo resumes handling inbound video.
func (c *Call) StartReceivingVideo(ctx context.Context) error {
	return c.setAndWait(ctx, media.FieldReceivingVideo, true)
}

// StopReceivingVideo stops handling inbound video.
func (c *Call) StopReceivingVideo(ctx context.Context) error {
	return c.setAndWait(ctx, media.FieldReceivingVideo, false)
}

// ToggleFacingMode swaps the camera between user and environment facing.
// Only valid for calls with a video constraint and a known facing mode;
// anything else is an invalid operation and leaves the stream untouched.
func (c *Call) ToggleFacingMode(ctx context.Context) error {
	cons := c.media.Constraints()
	if !cons.Video.Enabled {
		return fmt.Errorf("%w: audio-only call has no camera to flip", ErrInvalidOperation)
	}

	c.mu.Lock()
	facing := c.facing
	c.mu.Unlock()

	var opposite string
	switch facing {
	case media.FacingModeUser:
		opposite = media.FacingModeEnvironment
	case media.FacingModeEnvironment:
		opposite = media.FacingModeUser
	default:
		return fmt.Errorf("%w: current facing mode is unknown", ErrInvalidOperation)
	}

	next := cons
	next.Video.FacingMode = opposite
	stream, err := c.media.CaptureStream(next)
	if err != nil {
		return fmt.Errorf("failed to capture %s-facing stream: %w", opposite, err)
	}

	// Register before the swap so the renegotiation it triggers cannot
	// complete unobserved.
	wait := c.waitRenegotiation()
	if err := c.media.SetLocalStream(stream); err != nil {
		return fmt.Errorf("failed to swap stream: %w", err)
	}

	select {
	case err := <-wait:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	// Re-read the facing mode from the swapped-in stream. A stream whose
	// constraints carry no facing mode leaves it unset, which in turn makes
	// the next toggle fail as invalid.
	c.mu.Lock()
	if ls := c.media.LocalStream(); ls != nil {
		c.facing = ls.FacingMode
	} else {
		c.facing = ""
	}
	c.mu.Unlock()
	return nil
}

// updateSendingLocked applies one send-flag change: flip the adapter flag
// and wait for its change notification, then push the updated mute flags
// (no offer) to the session, re-fetch, and reconcile. Caller must hold the
// media-update gate.
func (c *Call) updateSendingLocked(ctx context.Context, field string, enabled bool) error {
	if err := c.setAndWait(ctx, field, enabled); err != nil {
		return err
	}

	c.mu.Lock()
	l := c.locus
	link := c.mediaLink
	dev := c.device
	c.mu.Unlock()
	if l == nil || link == nil {
		// Not joined yet; the flag change will be part of the join offer.
		return nil
	}

	upd := MediaUpdate{
		MediaID:     link.MediaID,
		AudioStatus: locus.DirectionStatus(c.media.SendingAudio(), c.media.ReceivingAudio()),
		VideoStatus: locus.DirectionStatus(c.media.SendingVideo(), c.media.ReceivingVideo()),
		DeviceURL:   dev.URL,
	}
	res, err := c.svc.UpdateMedia(ctx, l, upd)
	if err != nil {
		return fmt.Errorf("media update failed: %w", err)
	}
	if err := c.applyLocus(ctx, res); err != nil {
		return err
	}

	fetched, err := c.fetchExpectedLocus(ctx)
	if err != nil {
		return err
	}
	return c.applyLocus(ctx, fetched)
}

// setAndWait flips one adapter flag and waits for the corresponding local
// change notification. A flag already in the requested state returns
// immediately.
func (c *Call) setAndWait(ctx context.Context, field string, enabled bool) error {
	var get func() bool
	var set func(bool)
	switch field {
	case media.FieldSendingAudio:
		get, set = c.media.SendingAudio, c.media.SetSendingAudio
	case media.FieldSendingVideo:
		get, set = c.media.SendingVideo, c.media.SetSendingVideo
	case media.FieldReceivingAudio:
		get, set = c.media.ReceivingAudio, c.media.SetReceivingAudio
	case media.FieldReceivingVideo:
		get, set = c.media.ReceivingVideo, c.media.SetReceivingVideo
	default:
		return fmt.Errorf("%w: unknown media field %q", ErrInvalidOperation, field)
	}

	if get() == enabled {
		return nil
	}

	// Subscribe before flipping so a synchronous notification is not lost.
	notified := make(chan struct{}, 1)
	cancel := c.media.OnChange(func(chg media.Change) {
		if chg.Field == field {
			select {
			case notified <- struct{}{}:
			default:
			}
		}
	})
	defer cancel()

	set(enabled)

	select {
	case <-notified:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// renegotiate runs one offer/answer round against the session: new local
// offer, media-update push, poll until the authoritative copy reflects the
// local media status, then apply the updated remote description. Failures
// are not retried; the debounced caller surfaces them as error events.
// Waiters are released on every exit, including the paths that skip the
// round trip, so a facing-mode swap racing a teardown never blocks.
func (c *Call) renegotiate(ctx context.Context) error {
	c.mu.Lock()
	if c.torndown || c.locus == nil || c.mediaLink == nil {
		ended := c.torndown
		c.mu.Unlock()
		if ended {
			c.notifyRenegotiated(ErrCallEnded)
			return nil
		}
		// Not joined yet; the pending media state rides the join offer.
		c.notifyRenegotiated(nil)
		return nil
	}
	l := c.locus
	link := c.mediaLink
	dev := c.device
	c.mu.Unlock()

	err := c.renegotiateOnce(ctx, l, link, dev)
	c.notifyRenegotiated(err)
	return err
}

func (c *Call) renegotiateOnce(ctx context.Context, l *locus.Locus, link *locus.MediaConnection, dev DeviceInfo) error {
	offer, err := c.media.CreateOffer(ctx)
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}

	upd := MediaUpdate{
		MediaID:     link.MediaID,
		OfferSDP:    offer,
		AudioStatus: locus.DirectionStatus(c.media.SendingAudio(), c.media.ReceivingAudio()),
		VideoStatus: locus.DirectionStatus(c.media.SendingVideo(), c.media.ReceivingVideo()),
		DeviceURL:   dev.URL,
	}
	res, err := c.svc.UpdateMedia(ctx, l, upd)
	if err != nil {
		return fmt.Errorf("media update failed: %w", err)
	}
	if err := c.applyLocus(ctx, res); err != nil {
		return err
	}

	fetched, err := c.fetchExpectedLocus(ctx)
	if err != nil {
		return err
	}
	if err := c.applyLocus(ctx, fetched); err != nil {
		return err
	}

	c.mu.Lock()
	link = c.mediaLink
	c.mu.Unlock()
	if link == nil {
		return ErrNoMediaLink
	}
	if err := c.media.AcceptAnswer(link.RemoteSDP); err != nil {
		return fmt.Errorf("failed to accept answer: %w", err)
	}
	return nil
}

// fetchExpectedLocus polls the session until its reported audio/video
// status matches what the local flags imply. The session document is
// eventually consistent after a media update; a mismatch is recoverable,
// so the fetch is retried a bounded number of times before the last
// mismatch propagates. A failed fetch itself is a remote error and is not
// retried.
func (c *Call) fetchExpectedLocus(ctx context.Context) (*locus.Locus, error) {
	expectedAudio := locus.DirectionStatus(c.media.SendingAudio(), c.media.ReceivingAudio())
	expectedVideo := locus.DirectionStatus(c.media.SendingVideo(), c.media.ReceivingVideo())

	var lastErr error
	for attempt := 0; attempt < c.pollAttempts; attempt++ {
		c.mu.Lock()
		l := c.locus
		c.mu.Unlock()
		if l == nil {
			return nil, ErrNoSession
		}

		fetched, err := c.svc.Get(ctx, l)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch session: %w", err)
		}
		self := fetched.Self
		if self != nil && self.Status.AudioStatus == expectedAudio && self.Status.VideoStatus == expectedVideo {
			return fetched, nil
		}

		got := locus.MediaStatus{}
		if self != nil {
			got = self.Status
		}
		lastErr = fmt.Errorf("%w: want audio %q video %q, got audio %q video %q",
			ErrMediaStatusMismatch, expectedAudio, expectedVideo, got.AudioStatus, got.VideoStatus)
		c.log.Debug().Str("module", "call").Int("attempt", attempt+1).Err(lastErr).
			Msg("session media status not yet consistent")
	}
	return nil, lastErr
}

// waitRenegotiation returns a channel that receives the outcome of the
// next completed renegotiation round. On a call that has already been
// torn down the outcome is ErrCallEnded, delivered immediately.
func (c *Call) waitRenegotiation() <-chan error {
	ch := make(chan error, 1)
	c.mu.Lock()
	if c.torndown {
		c.mu.Unlock()
		ch <- ErrCallEnded
		return ch
	}
	c.renegWaiters = append(c.renegWaiters, ch)
	c.mu.Unlock()
	return ch
}

func (c *Call) notifyRenegotiated(err error) {
	c.mu.Lock()
	waiters := c.renegWaiters
	c.renegWaiters = nil
	c.mu.Unlock()
	for _, ch := range waiters {
		ch <- err
	}
}
