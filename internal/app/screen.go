package app

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"meshmeet/internal/domain"
	"meshmeet/internal/media"
	"meshmeet/internal/mesh"
	"meshmeet/internal/rtc"
	"meshmeet/internal/signal"
)

// screenShare is the secondary participant carrying the shared screen: its
// own relay connection, identity and connection mesh. Handlers run on the
// agent loop like everything else.
type screenShare struct {
	session *domain.Session
	conn    *signal.WSConn
	orch    *mesh.Orchestrator
	capture media.Capture
	cancel  context.CancelFunc
}

// StartScreenShare starts sharing, asking the moderator first when
// approval is configured.
func (a *Agent) StartScreenShare() {
	a.Post(func() {
		if a.screen != nil || a.screenPending {
			return
		}
		if a.canBypassApproval() {
			a.startScreenShare()
			return
		}
		a.screenPending = true
		a.admission.RequestScreenShare()
	})
}

func (a *Agent) StopScreenShare() {
	a.Post(func() {
		if a.screen != nil {
			a.stopScreenShare()
		}
	})
}

func (a *Agent) screenShareResolved(approved bool) {
	if !a.screenPending {
		return
	}
	a.screenPending = false
	if !approved {
		a.notifier.Error("screen_share_declined")
		return
	}
	a.startScreenShare()
}

func (a *Agent) startScreenShare() {
	ctx, cancel := context.WithCancel(a.ctx)

	capture, err := a.newCapture(ctx, true)
	if err != nil {
		log.Error().Err(err).Str("module", "app").Msg("screen capture")
		cancel()
		return
	}

	conn, err := signal.Dial(ctx, a.cfg.SignalingURL)
	if err != nil {
		log.Error().Err(err).Str("module", "app").Msg("screen share dial")
		capture.Close()
		cancel()
		return
	}

	s := &screenShare{
		session: &domain.Session{MeetingID: a.session.MeetingID},
		conn:    conn,
		capture: capture,
		cancel:  cancel,
	}

	rtcCfg := rtc.Config(a.cfg.StunURL, a.cfg.TurnURL, a.cfg.TurnUsername, a.cfg.TurnPassword)
	s.orch = &mesh.Orchestrator{
		Session:  s.session,
		SelfName: a.cfg.Username + "-screen",
		Factory: func(id domain.Identity, screen bool) (mesh.PeerLink, error) {
			return rtc.NewPeer(rtcCfg, id, true)
		},
		Local: capture,
		Send:  func(m signal.Message) error { return conn.SendJSON(m) },
		Post:  a.Post,
	}
	s.orch.Init(ctx)

	a.screen = s
	conn.Run(ctx,
		func(data []byte) { a.Post(func() { a.screenMessage(data) }) },
		func() { a.Post(a.screenDropped) },
	)
	log.Info().Str("module", "app").Msg("screen share starting")
}

// screenMessage handles the screen connection's narrow protocol: identity
// assignment, then answering offers from every participant.
func (a *Agent) screenMessage(data []byte) {
	if a.screen == nil {
		return
	}
	var m signal.Message
	if err := json.Unmarshal(data, &m); err != nil {
		log.Error().Err(err).Str("module", "app").Msg("bad screen envelope")
		return
	}

	switch m.Type {
	case signal.TypeID:
		a.screen.session.SelfIdentity = m.From
		err := a.screen.conn.SendJSON(signal.Message{
			Type:      signal.TypeJoin,
			From:      m.From,
			MeetingID: string(a.session.MeetingID),
			Username:  a.cfg.Username + "-screen",
			Screen:    true,
		})
		if err != nil {
			log.Error().Err(err).Str("module", "app").Msg("send screen join")
		}
		a.streams[streamKey(m.From, true)] = localScreenStream(m.From)
		a.refreshMix()
	case signal.TypeOffer:
		m.Screen = true
		a.screen.orch.HandleOffer(m)
	case signal.TypeAnswer:
		m.Screen = true
		a.screen.orch.HandleAnswer(m)
	case signal.TypeCandidate:
		m.Screen = true
		a.screen.orch.HandleCandidate(m)
	case signal.TypeLeave:
		a.screen.orch.HandleLeave(m)
	}
}

func (a *Agent) screenDropped() {
	if a.screen == nil {
		return
	}
	a.stopScreenShare()
	a.notifier.Error("screen_share_lost")
}

// screenConflict stops the local share when a remote one starts and
// single-share mode is configured.
func (a *Agent) screenConflict() {
	if a.screen == nil {
		return
	}
	a.stopScreenShare()
	a.notifier.Info("screen_share_taken_over")
}

func (a *Agent) stopScreenShare() {
	s := a.screen
	a.screen = nil
	delete(a.streams, streamKey(s.session.SelfIdentity, true))
	s.orch.CloseAll()
	s.conn.Close()
	s.capture.Close()
	s.cancel()
	a.refreshMix()
	log.Info().Str("module", "app").Msg("screen share stopped")
}
