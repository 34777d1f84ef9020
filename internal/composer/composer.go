// Package composer derives the single mixed stream handed to the recording
// sink from whichever local and remote streams are currently active.
package composer

import (
	"context"
	"errors"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

var ErrNotRecording = errors.New("composer not started")

// Stream is one mixable input. The composer never owns the underlying
// media; it only decides the input set.
type Stream struct {
	ID       string
	HasVideo bool
	HasAudio bool
}

// Mix is the composed output description consumed by the recording sink.
// The sink is responsible for container packaging and persistence.
type Mix struct {
	Inputs        []Stream
	FrameInterval time.Duration
	// Synthetic is non-nil when no input carries video and a blank video
	// track was substituted to keep the output format valid.
	Synthetic *SyntheticVideo
}

// Composer recomputes its input set on membership changes without
// restarting the recording.
type Composer struct {
	FrameInterval time.Duration
	// Whiteboard supplies the canvas capture stream when recording with
	// whiteboard is configured; nil otherwise.
	Whiteboard func() (Stream, bool)

	OnMixChanged func(mix Mix)

	ctx     context.Context
	mixing  bool
	current Mix
}

// Start begins composing from the given active streams.
func (c *Composer) Start(ctx context.Context, streams []Stream) (Mix, error) {
	if c.mixing {
		return c.current, nil
	}
	c.ctx = ctx
	c.mixing = true
	c.derive(streams)
	log.Info().Str("module", "composer").Int("inputs", len(c.current.Inputs)).Msg("recording mix started")
	return c.current, nil
}

// Refresh re-derives the input set after a participant joins or leaves
// mid-recording.
func (c *Composer) Refresh(streams []Stream) error {
	if !c.mixing {
		return ErrNotRecording
	}
	c.derive(streams)
	if c.OnMixChanged != nil {
		c.OnMixChanged(c.current)
	}
	return nil
}

func (c *Composer) Stop() {
	if !c.mixing {
		return
	}
	if c.current.Synthetic != nil {
		c.current.Synthetic.Stop()
	}
	c.mixing = false
	c.current = Mix{}
	log.Info().Str("module", "composer").Msg("recording mix stopped")
}

func (c *Composer) Mixing() bool { return c.mixing }

func (c *Composer) Current() Mix { return c.current }

func (c *Composer) derive(streams []Stream) {
	inputs := make([]Stream, 0, len(streams)+1)
	hasVideo := false
	for _, s := range streams {
		if s.HasVideo {
			hasVideo = true
		}
		inputs = append(inputs, s)
	}

	if c.Whiteboard != nil {
		if wb, ok := c.Whiteboard(); ok {
			hasVideo = true
			inputs = append(inputs, wb)
		}
	}

	interval := c.FrameInterval
	if interval <= 0 {
		interval = 33 * time.Millisecond
	}

	synthetic := c.current.Synthetic
	if hasVideo {
		if synthetic != nil {
			synthetic.Stop()
			synthetic = nil
		}
	} else if synthetic == nil {
		sv, err := NewSyntheticVideo()
		if err != nil {
			log.Error().Err(err).Str("module", "composer").Msg("synthetic video track")
		} else {
			sv.Run(c.ctx, interval)
			synthetic = sv
		}
	}

	c.current = Mix{Inputs: inputs, FrameInterval: interval, Synthetic: synthetic}
}

// SyntheticVideo is a blank video track substituted when every input is
// audio-only, so the mixed output always contains video.
type SyntheticVideo struct {
	track  *webrtc.TrackLocalStaticSample
	cancel context.CancelFunc
}

// blankFrame is a minimal pre-encoded VP8 keyframe of a black picture.
var blankFrame = []byte{
	0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a, 0x40, 0x01,
	0xb4, 0x00, 0x07, 0x07, 0x09, 0x03, 0x0b, 0x0b,
	0x11, 0x33, 0x68, 0x20, 0x00, 0x00, 0x00, 0x00,
}

func NewSyntheticVideo() (*SyntheticVideo, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"synthetic-video", "recording-mix",
	)
	if err != nil {
		return nil, err
	}
	return &SyntheticVideo{track: track}, nil
}

func (s *SyntheticVideo) Track() webrtc.TrackLocal { return s.track }

// Run writes blank frames at the mix frame interval until Stop or ctx end.
func (s *SyntheticVideo) Run(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.track.WriteSample(media.Sample{Data: blankFrame, Duration: interval}); err != nil {
					log.Error().Err(err).Str("module", "composer").Msg("write blank frame")
					return
				}
			}
		}
	}()
}

func (s *SyntheticVideo) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}
