// Package app wires the session components together behind a single
// cooperative event loop. Every mutation of session state happens on that
// loop; transport reads, pion callbacks and timers re-enter through Post.
package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"meshmeet/internal/admission"
	"meshmeet/internal/clock"
	"meshmeet/internal/composer"
	"meshmeet/internal/config"
	"meshmeet/internal/domain"
	"meshmeet/internal/media"
	"meshmeet/internal/mesh"
	"meshmeet/internal/moderation"
	"meshmeet/internal/rtc"
	"meshmeet/internal/signal"
)

// Options carries the external collaborators. Nil entries get no-op
// defaults so headless runs need no wiring.
type Options struct {
	Renderer   Renderer
	Notifier   Notifier
	Whiteboard Whiteboard
	Sink       RecordingSink

	// NewCapture builds the local media source; nil falls back to the
	// sample generator.
	NewCapture func(ctx context.Context, withVideo bool) (media.Capture, error)
}

// Agent owns one meeting session end to end: transport, admission, the
// connection mesh, moderation, clock and recording.
type Agent struct {
	cfg     *config.Config
	session *domain.Session

	conn       signal.Conn
	router     *signal.Router
	mesh       *mesh.Orchestrator
	admission  *admission.Controller
	moderation *moderation.Manager
	clock      *clock.Clock
	composer   *composer.Composer
	capture    media.Capture

	renderer   Renderer
	notifier   Notifier
	whiteboard Whiteboard
	sink       RecordingSink
	newCapture func(ctx context.Context, withVideo bool) (media.Capture, error)

	events chan func()
	ctx    context.Context
	cancel context.CancelFunc

	streams       map[string]composer.Stream
	recording     bool
	recordPending bool
	screenPending bool
	screen        *screenShare
	left          bool
}

func New(cfg *config.Config, opts Options) *Agent {
	a := &Agent{
		cfg: cfg,
		session: &domain.Session{
			MeetingID:        domain.MeetingID(cfg.MeetingID),
			TimeLimitSeconds: cfg.TimeLimitSeconds(),
		},
		renderer:   opts.Renderer,
		notifier:   opts.Notifier,
		whiteboard: opts.Whiteboard,
		sink:       opts.Sink,
		newCapture: opts.NewCapture,
		events:     make(chan func(), 128),
		streams:    make(map[string]composer.Stream),
	}
	if a.renderer == nil {
		a.renderer = nopRenderer{}
	}
	if a.notifier == nil {
		a.notifier = nopNotifier{}
	}
	if a.sink == nil {
		a.sink = nopSink{}
	}
	if a.newCapture == nil {
		a.newCapture = func(ctx context.Context, withVideo bool) (media.Capture, error) {
			return media.NewSampleCapture(ctx, withVideo)
		}
	}
	return a
}

// Post schedules fn on the agent loop. Safe from any goroutine.
func (a *Agent) Post(fn func()) {
	if a.ctx == nil {
		a.events <- fn
		return
	}
	select {
	case a.events <- fn:
	case <-a.ctx.Done():
	}
}

// Run connects to the relay and drives the session until ctx ends or the
// meeting is over. Blocking; the caller owns the goroutine.
func (a *Agent) Run(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)
	defer a.cancel()

	capture, err := a.newCapture(a.ctx, true)
	if err != nil {
		return err
	}
	a.capture = capture
	defer capture.Close()

	conn, err := signal.Dial(a.ctx, a.cfg.SignalingURL)
	if err != nil {
		return err
	}
	a.conn = conn

	a.wire()

	conn.Run(a.ctx,
		func(data []byte) { a.Post(func() { a.router.Route(data) }) },
		func() { a.Post(a.transportLost) },
	)

	log.Info().Str("module", "app").Str("meeting", a.cfg.MeetingID).Msg("agent running")

	for {
		select {
		case <-a.ctx.Done():
			a.teardown()
			return a.ctx.Err()
		case fn := <-a.events:
			fn()
		}
	}
}

func (a *Agent) wire() {
	rtcCfg := rtc.Config(a.cfg.StunURL, a.cfg.TurnURL, a.cfg.TurnUsername, a.cfg.TurnPassword)

	a.mesh = &mesh.Orchestrator{
		Session:    a.session,
		SelfName:   a.cfg.Username,
		SelfAvatar: a.cfg.Avatar,
		Factory: func(id domain.Identity, screen bool) (mesh.PeerLink, error) {
			return rtc.NewPeer(rtcCfg, id, screen)
		},
		Local: a.capture,
		Send:  a.send,
		Post:  a.Post,
		ScreenIdentity: func() domain.Identity {
			if a.screen != nil {
				return a.screen.session.SelfIdentity
			}
			return ""
		},
		OnRemoteTrack:      a.remoteTrack,
		OnRemoteGone:       a.remoteGone,
		OnPeerConnected:    a.peerConnected,
		OnMeetingEnded:     a.meetingEnded,
		OnScreenConflict:   a.screenConflict,
		LimitedScreenShare: a.cfg.LimitedScreenShare == "enabled",
	}
	a.mesh.Init(a.ctx)

	a.admission = &admission.Controller{
		Session: a.session,
		Settings: admission.Settings{
			Username:         a.cfg.Username,
			Avatar:           a.cfg.Avatar,
			Host:             a.cfg.Moderator,
			PasswordRequired: a.cfg.PasswordRequired,
			AuthMode:         a.cfg.AuthMode,
			ModeratorRights:  a.cfg.ModeratorRights,
			UserLimit:        a.cfg.UserLimit,
		},
		Send:                a.send,
		Verifier:            &admission.HTTPVerifier{BaseURL: a.cfg.APIURL},
		Post:                a.Post,
		OnAdmitted:          a.joined,
		OnRejected:          a.rejected,
		OnWaiting:           a.renderer.WaitingForHost,
		OnPermissionRequest: a.notifier.PermissionRequested,
		OnRecordingResult:   a.recordingResolved,
		OnScreenShareResult: a.screenShareResolved,
	}

	a.moderation = &moderation.Manager{
		Session:         a.session,
		Participants:    a.mesh,
		Send:            a.send,
		SelfName:        a.cfg.Username,
		MeetingType:     a.cfg.MeetingType,
		ModeratorRights: a.cfg.ModeratorRights,
		OnLocalAudio:    a.localAudio,
		OnLocalVideo:    a.localVideo,
		OnRemoteStateSync: func(id domain.Identity) {
			if p, ok := a.mesh.Participant(id); ok {
				a.renderer.RemoteStateChanged(*p)
			}
		},
		OnModeratorGained: func() { a.notifier.Info("moderator_role_gained") },
		OnModeratorLost:   func() { a.notifier.Info("moderator_role_lost") },
		OnModeratorChanged: func(username string, id domain.Identity) {
			a.notifier.Info("new_moderator: " + username)
		},
		OnKicked: a.kicked,
	}

	a.composer = &composer.Composer{
		FrameInterval: a.cfg.FrameIntervalDuration(),
		OnMixChanged:  a.sink.Update,
	}
	if a.cfg.RecordWhiteboard && a.whiteboard != nil {
		a.composer.Whiteboard = a.whiteboard.CaptureStream
	}

	a.router = &signal.Router{
		Admission:  a.admission,
		Mesh:       a.mesh,
		Moderation: a.moderation,
		Clock:      a,
		Events:     forwarded{a},
	}
}

func (a *Agent) send(m signal.Message) error {
	if m.MeetingID == "" {
		m.MeetingID = string(a.session.MeetingID)
	}
	return a.conn.SendJSON(m)
}

// setIdentity receives the relay-assigned identity and starts admission.
func (a *Agent) setIdentity(id domain.Identity) {
	a.session.SelfIdentity = id
	log.Info().Str("module", "app").Str("identity", string(id)).Msg("identity assigned")
	a.admission.Join(a.ctx, a.cfg.Password)
}

// joined fires once when admission resolves positively: broadcast presence,
// start the clock, apply the inherited muteAll state.
func (a *Agent) joined(allMuted bool, chatBotName string) {
	if a.cfg.Moderator {
		a.session.ModeratorIdentity = a.session.SelfIdentity
	}
	a.session.Started = true

	err := a.send(signal.Message{
		Type:        signal.TypeJoin,
		From:        a.session.SelfIdentity,
		Username:    a.cfg.Username,
		Avatar:      a.cfg.Avatar,
		IsModerator: a.cfg.Moderator,
		Mic:         a.moderation.AudioMuted(),
		Camera:      a.moderation.VideoMuted(),
	})
	if err != nil {
		log.Error().Err(err).Str("module", "app").Msg("send join")
	}

	a.clock = clock.New(a.session.TimeLimitSeconds)
	a.clock.OnTick = func(elapsed int) {
		a.session.ElapsedSeconds = elapsed
		a.renderer.TimerUpdated(a.clock.Display(), a.clock.Urgent())
	}
	a.clock.OnUrgent = func() { a.notifier.Info("meeting_ending_soon") }
	a.clock.OnExpired = a.meetingEnded
	a.clock.Run(a.ctx, a.Post)

	if allMuted {
		a.moderation.HandleMuteAll(signal.Message{Type: signal.TypeMuteAll, Value: true})
	}
	if chatBotName != "" {
		a.notifier.Info("chat_bot: " + chatBotName)
	}
	a.renderer.LocalStateChanged(a.moderation.AudioMuted(), a.moderation.VideoMuted())
	log.Info().Str("module", "app").Bool("all_muted", allMuted).Msg("admitted")
}

func (a *Agent) rejected(reason string) {
	a.notifier.Error(reason)
	log.Warn().Str("module", "app").Str("reason", reason).Msg("admission rejected")
}

// HandleCurrentTime resynchronizes the clock from the moderator's value.
func (a *Agent) HandleCurrentTime(m signal.Message) {
	if a.clock != nil {
		a.clock.SyncTo(m.CurrentTime)
	}
}

// peerConnected pushes the elapsed time to late joiners (moderator only)
// and asks for the whiteboard state when the local canvas is empty.
func (a *Agent) peerConnected(id domain.Identity, screen bool) {
	if screen {
		return
	}
	if a.session.IsModerator() && a.clock != nil {
		_ = a.send(signal.Message{
			Type:        signal.TypeCurrentTime,
			To:          id,
			CurrentTime: a.clock.Elapsed(),
		})
	}
	if a.whiteboard != nil && !a.whiteboard.HasContent() {
		_ = a.send(signal.Message{Type: signal.TypeSync, To: id})
	}
}

func (a *Agent) localAudio(muted, byModerator bool) {
	a.capture.SetAudioEnabled(!muted)
	a.renderer.LocalStateChanged(a.moderation.AudioMuted(), a.moderation.VideoMuted())
	if byModerator && muted {
		a.notifier.Info("muted_by_moderator")
	}
	a.refreshMix()
}

func (a *Agent) localVideo(muted, byModerator bool) {
	a.capture.SetVideoEnabled(!muted)
	a.renderer.LocalStateChanged(a.moderation.AudioMuted(), a.moderation.VideoMuted())
	if byModerator && muted {
		a.notifier.Info("camera_disabled_by_moderator")
	}
	a.refreshMix()
}

func (a *Agent) kicked() {
	a.notifier.Error("removed_by_moderator")
	a.teardown()
	a.cancel()
}

func (a *Agent) meetingEnded() {
	a.notifier.Info("meeting_ended")
	a.teardown()
	a.cancel()
}

func (a *Agent) transportLost() {
	if a.left {
		return
	}
	a.notifier.Error("connection_lost")
	a.teardown()
	a.cancel()
}

// teardown releases everything exactly once. The relay broadcasts the
// leave on disconnect; no explicit leave message is sent.
func (a *Agent) teardown() {
	if a.left {
		return
	}
	a.left = true
	if a.recording {
		a.stopRecording()
	}
	if a.screen != nil {
		a.stopScreenShare()
	}
	a.mesh.CloseAll()
	a.conn.Close()
	log.Info().Str("module", "app").Msg("session closed")
}

// --- user-facing operations (safe from any goroutine) ---------------------

func (a *Agent) Leave() {
	a.Post(func() {
		a.teardown()
		a.cancel()
	})
}

func (a *Agent) ToggleMic()    { a.Post(a.moderation.ToggleMic) }
func (a *Agent) ToggleCamera() { a.Post(a.moderation.ToggleCamera) }

func (a *Agent) Kick(target domain.Identity) {
	a.Post(func() { a.moderation.Kick(target) })
}

func (a *Agent) SetMicAdmin(target domain.Identity, muted bool) {
	a.Post(func() { a.moderation.SetMicAdmin(target, muted) })
}

func (a *Agent) SetCameraAdmin(target domain.Identity, muted bool) {
	a.Post(func() { a.moderation.SetCameraAdmin(target, muted) })
}

func (a *Agent) MuteAll(value bool) {
	a.Post(func() { a.moderation.MuteAll(value) })
}

func (a *Agent) TransferModerator(target domain.Identity) {
	a.Post(func() { a.moderation.TransferModerator(target) })
}

// ResolvePermission answers a pending join/recording/screen-share request.
func (a *Agent) ResolvePermission(key domain.PermissionKey, approve bool) {
	a.Post(func() { a.admission.Resolve(key, approve) })
}

func (a *Agent) SendChat(text string) {
	a.Post(func() {
		_ = a.send(signal.Message{
			Type:     signal.TypeMeetingMessage,
			From:     a.session.SelfIdentity,
			Username: a.cfg.Username,
			Text:     text,
		})
	})
}

func (a *Agent) SendFile(filename, data string) {
	a.Post(func() {
		_ = a.send(signal.Message{
			Type:     signal.TypeFileMessage,
			From:     a.session.SelfIdentity,
			Username: a.cfg.Username,
			Filename: filename,
			Data:     data,
		})
	})
}

func (a *Agent) RaiseHand() {
	a.Post(func() {
		_ = a.send(signal.Message{
			Type:     signal.TypeRaiseHand,
			From:     a.session.SelfIdentity,
			Username: a.cfg.Username,
		})
	})
}

func (a *Agent) Speaking() {
	a.Post(func() {
		_ = a.send(signal.Message{Type: signal.TypeSpeaking, From: a.session.SelfIdentity})
	})
}

func (a *Agent) PushWhiteboard(data string) {
	a.Post(func() {
		_ = a.send(signal.Message{Type: signal.TypeWhiteboard, From: a.session.SelfIdentity, Data: data})
	})
}

func (a *Agent) ClearWhiteboard() {
	a.Post(func() {
		_ = a.send(signal.Message{Type: signal.TypeClearWhiteboard, From: a.session.SelfIdentity})
	})
}
