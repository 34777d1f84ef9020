// Package media supplies local tracks to the mesh. Device ownership stays
// here; the orchestrator only consumes tracks.
package media

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

// Capture is the local media collaborator. Mute means disabled, not
// stopped: the track stays attached and goes silent/blank.
type Capture interface {
	Tracks() []webrtc.TrackLocal
	SetAudioEnabled(enabled bool)
	SetVideoEnabled(enabled bool)
	HasVideo() bool
	Close()
}

// silenceFrame is a pre-encoded opus frame of silence.
var silenceFrame = []byte{0xf8, 0xff, 0xfe}

// blackFrame is a minimal pre-encoded VP8 keyframe of a black picture.
var blackFrame = []byte{
	0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a, 0x40, 0x01,
	0xb4, 0x00, 0x07, 0x07, 0x09, 0x03, 0x0b, 0x0b,
	0x11, 0x33, 0x68, 0x20, 0x00, 0x00, 0x00, 0x00,
}

// SampleCapture generates local tracks from sample writers. It stands in
// for device capture in headless runs; a real device adapter satisfies the
// same interface.
type SampleCapture struct {
	audio *webrtc.TrackLocalStaticSample
	video *webrtc.TrackLocalStaticSample

	audioOn atomic.Bool
	videoOn atomic.Bool
	cancel  context.CancelFunc
}

// NewSampleCapture creates an audio track and, when withVideo, a video
// track, both started enabled.
func NewSampleCapture(ctx context.Context, withVideo bool) (*SampleCapture, error) {
	c := &SampleCapture{}
	c.audioOn.Store(true)

	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "local",
	)
	if err != nil {
		return nil, err
	}
	c.audio = audio

	if withVideo {
		video, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
			"video", "local",
		)
		if err != nil {
			return nil, err
		}
		c.video = video
		c.videoOn.Store(true)
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go c.pump(ctx)
	return c, nil
}

func (c *SampleCapture) pump(ctx context.Context) {
	audioTicker := time.NewTicker(20 * time.Millisecond)
	videoTicker := time.NewTicker(33 * time.Millisecond)
	defer audioTicker.Stop()
	defer videoTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-audioTicker.C:
			if !c.audioOn.Load() {
				continue
			}
			if err := c.audio.WriteSample(media.Sample{Data: silenceFrame, Duration: 20 * time.Millisecond}); err != nil {
				log.Error().Err(err).Str("module", "media").Msg("write audio sample")
				return
			}
		case <-videoTicker.C:
			if c.video == nil || !c.videoOn.Load() {
				continue
			}
			if err := c.video.WriteSample(media.Sample{Data: blackFrame, Duration: 33 * time.Millisecond}); err != nil {
				log.Error().Err(err).Str("module", "media").Msg("write video sample")
				return
			}
		}
	}
}

func (c *SampleCapture) Tracks() []webrtc.TrackLocal {
	out := []webrtc.TrackLocal{c.audio}
	if c.video != nil {
		out = append(out, c.video)
	}
	return out
}

func (c *SampleCapture) SetAudioEnabled(enabled bool) { c.audioOn.Store(enabled) }
func (c *SampleCapture) SetVideoEnabled(enabled bool) { c.videoOn.Store(enabled) }

func (c *SampleCapture) HasVideo() bool { return c.video != nil }

func (c *SampleCapture) Close() {
	if c.cancel != nil {
		c.cancel()
	}
}
