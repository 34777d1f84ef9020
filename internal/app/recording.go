package app

import (
	"sort"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"meshmeet/internal/composer"
	"meshmeet/internal/domain"
	"meshmeet/internal/signal"
)

// canBypassApproval reports whether a feature starts without a moderator
// round-trip: the moderator itself, or a meeting without the approval
// machinery configured.
func (a *Agent) canBypassApproval() bool {
	return a.session.IsModerator() ||
		a.cfg.AuthMode == "disabled" ||
		a.cfg.ModeratorRights == "disabled"
}

// StartRecording begins the local recording, asking the moderator first
// when approval is configured.
func (a *Agent) StartRecording() {
	a.Post(func() {
		if a.recording || a.recordPending {
			return
		}
		if a.canBypassApproval() {
			a.startRecording()
			return
		}
		a.recordPending = true
		a.admission.RequestRecording()
	})
}

func (a *Agent) StopRecording() {
	a.Post(func() {
		if !a.recording {
			return
		}
		a.stopRecording()
	})
}

func (a *Agent) recordingResolved(approved bool) {
	if !a.recordPending {
		return
	}
	a.recordPending = false
	if !approved {
		a.notifier.Error("recording_declined")
		return
	}
	a.startRecording()
}

func (a *Agent) startRecording() {
	mix, err := a.composer.Start(a.ctx, a.activeStreams())
	if err != nil {
		log.Error().Err(err).Str("module", "app").Msg("start recording mix")
		return
	}
	if err := a.sink.Start(mix); err != nil {
		log.Error().Err(err).Str("module", "app").Msg("recording sink")
		a.composer.Stop()
		return
	}
	a.recording = true
	_ = a.send(signal.Message{
		Type:     signal.TypeRecordingStarted,
		From:     a.session.SelfIdentity,
		Username: a.cfg.Username,
	})
	log.Info().Str("module", "app").Msg("recording started")
}

func (a *Agent) stopRecording() {
	a.composer.Stop()
	a.sink.Stop()
	a.recording = false
	log.Info().Str("module", "app").Msg("recording stopped")
}

// refreshMix re-derives the recording input set after any membership or
// mute change. No-op while not recording.
func (a *Agent) refreshMix() {
	if !a.composer.Mixing() {
		return
	}
	if err := a.composer.Refresh(a.activeStreams()); err != nil {
		log.Error().Err(err).Str("module", "app").Msg("refresh mix")
	}
}

// activeStreams is the local stream plus every tracked remote, in stable
// order.
func (a *Agent) activeStreams() []composer.Stream {
	out := make([]composer.Stream, 0, len(a.streams)+1)
	out = append(out, composer.Stream{
		ID:       "local",
		HasAudio: !a.moderation.AudioMuted(),
		HasVideo: a.capture.HasVideo() && !a.moderation.VideoMuted(),
	})

	keys := make([]string, 0, len(a.streams))
	for k := range a.streams {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, a.streams[k])
	}
	return out
}

func localScreenStream(id domain.Identity) composer.Stream {
	return composer.Stream{ID: streamKey(id, true), HasVideo: true}
}

func streamKey(id domain.Identity, screen bool) string {
	if screen {
		return string(id) + ":screen"
	}
	return string(id)
}

func (a *Agent) remoteTrack(id domain.Identity, screen, moderator bool, track *webrtc.TrackRemote) {
	key := streamKey(id, screen)
	s, ok := a.streams[key]
	if !ok {
		s = composer.Stream{ID: key}
	}
	switch track.Kind() {
	case webrtc.RTPCodecTypeAudio:
		s.HasAudio = true
	case webrtc.RTPCodecTypeVideo:
		s.HasVideo = true
	}
	a.streams[key] = s
	a.refreshMix()
	a.renderer.RemoteTrackAttached(id, screen, moderator, track)
}

func (a *Agent) remoteGone(id domain.Identity, screen bool) {
	delete(a.streams, streamKey(id, screen))
	a.refreshMix()
	a.renderer.RemoteDetached(id, screen)
}
