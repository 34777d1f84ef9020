// Package mesh maintains one peer connection per remote identity. Every
// participant fans media out to every other participant directly; the
// orchestrator is the offer initiator for each join broadcast it sees.
package mesh

import (
	"context"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"meshmeet/internal/domain"
	"meshmeet/internal/signal"
)

type ConnState int

const (
	StateNew ConnState = iota
	StateOfferSent
	StateOfferReceived
	StateAnswerSent
	StateAnswerReceived
	StateConnected
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateOfferSent:
		return "offer_sent"
	case StateOfferReceived:
		return "offer_received"
	case StateAnswerSent:
		return "answer_sent"
	case StateAnswerReceived:
		return "answer_received"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "new"
	}
}

// PeerLink is the negotiation surface of one peer connection.
// rtc.Peer implements it; tests substitute fakes.
type PeerLink interface {
	Start(ctx context.Context) error
	CreateOfferAndSet() (*webrtc.SessionDescription, error)
	ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	ApplyAnswer(answer webrtc.SessionDescription) error
	AddICECandidate(ci webrtc.ICECandidateInit) error
	AddLocalTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
	OnICECandidate(fn func(webrtc.ICECandidateInit))
	OnTrack(fn func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver))
	OnConnected(fn func())
	OnClosed(fn func())
	Close()
}

// PeerFactory creates the link for one remote identity.
type PeerFactory func(id domain.Identity, screen bool) (PeerLink, error)

// TrackSource supplies the local media tracks to attach. The orchestrator
// only consumes tracks, it never owns capture devices.
type TrackSource interface {
	Tracks() []webrtc.TrackLocal
}

type connKey struct {
	id     domain.Identity
	screen bool
}

type conn struct {
	key       connKey
	link      PeerLink
	state     ConnState
	remoteSet bool
	// Candidates that arrived before the remote description; flushed once
	// it lands, since pion rejects candidates without one.
	pending []webrtc.ICECandidateInit
	senders []*webrtc.RTPSender
}

// Orchestrator owns the live connection set. All methods must be called
// from the agent loop; peer callbacks re-enter through post.
type Orchestrator struct {
	Session    *domain.Session
	SelfName   string
	SelfAvatar string
	Factory    PeerFactory
	Local      TrackSource
	Send       func(signal.Message) error
	Post       func(func())

	// ScreenIdentity reports the local screen-share identity so its own
	// join broadcast is not answered with an offer.
	ScreenIdentity func() domain.Identity

	// Collaborator hooks, wired by the agent.
	OnRemoteTrack    func(id domain.Identity, screen, moderator bool, track *webrtc.TrackRemote)
	OnRemoteGone     func(id domain.Identity, screen bool)
	OnPeerConnected  func(id domain.Identity, screen bool)
	OnMeetingEnded   func()
	OnScreenConflict func()

	// LimitedScreenShare stops the local share when a remote one joins.
	LimitedScreenShare bool

	ctx          context.Context
	conns        map[connKey]*conn
	participants map[domain.Identity]*domain.Participant
}

func (o *Orchestrator) Init(ctx context.Context) {
	o.ctx = ctx
	o.conns = make(map[connKey]*conn)
	o.participants = make(map[domain.Identity]*domain.Participant)
}

// Participant returns the tracked meta for a remote identity.
func (o *Orchestrator) Participant(id domain.Identity) (*domain.Participant, bool) {
	p, ok := o.participants[id]
	return p, ok
}

func (o *Orchestrator) Participants() []*domain.Participant {
	out := make([]*domain.Participant, 0, len(o.participants))
	for _, p := range o.participants {
		out = append(out, p)
	}
	return out
}

// Live reports the number of non-closed connections.
func (o *Orchestrator) Live() int {
	n := 0
	for _, c := range o.conns {
		if c.state != StateClosed {
			n++
		}
	}
	return n
}

func (o *Orchestrator) State(id domain.Identity, screen bool) (ConnState, bool) {
	c, ok := o.conns[connKey{id, screen}]
	if !ok {
		return StateClosed, false
	}
	return c.state, true
}

// HandleJoin makes this participant the offer initiator for the joining
// identity. A join for an identity that already has a non-closed connection
// is a protocol error and is ignored.
func (o *Orchestrator) HandleJoin(m signal.Message) {
	if o.ScreenIdentity != nil && m.From == o.ScreenIdentity() {
		return
	}
	key := connKey{m.From, m.Screen}
	if existing, ok := o.conns[key]; ok && existing.state != StateClosed {
		log.Warn().Str("module", "mesh").Str("identity", string(m.From)).Msg("duplicate join ignored")
		return
	}

	if m.Screen && o.LimitedScreenShare && o.OnScreenConflict != nil {
		o.OnScreenConflict()
	}

	o.trackParticipant(m)

	c, err := o.dial(key)
	if err != nil {
		log.Error().Err(err).Str("module", "mesh").Str("identity", string(m.From)).Msg("new peer")
		return
	}

	offer, err := c.link.CreateOfferAndSet()
	if err != nil {
		log.Error().Err(err).Str("module", "mesh").Str("identity", string(m.From)).Msg("create offer")
		return
	}
	c.state = StateOfferSent

	err = o.Send(signal.Message{
		Type:        signal.TypeOffer,
		To:          m.From,
		From:        o.Session.SelfIdentity,
		SDP:         offer,
		Username:    o.SelfName,
		Avatar:      o.SelfAvatar,
		IsModerator: o.Session.IsModerator(),
		Screen:      m.Screen,
	})
	if err != nil {
		log.Error().Err(err).Str("module", "mesh").Msg("send offer")
	}
}

// HandleOffer answers an initiator. The joining side receives one offer per
// existing participant and answers each independently.
func (o *Orchestrator) HandleOffer(m signal.Message) {
	key := connKey{m.From, m.Screen}
	if existing, ok := o.conns[key]; ok && existing.state != StateClosed {
		log.Warn().Str("module", "mesh").Str("identity", string(m.From)).Msg("duplicate offer ignored")
		return
	}
	if m.SDP == nil {
		log.Warn().Str("module", "mesh").Msg("offer without sdp")
		return
	}

	o.trackParticipant(m)

	c, err := o.dial(key)
	if err != nil {
		log.Error().Err(err).Str("module", "mesh").Str("identity", string(m.From)).Msg("new peer")
		return
	}
	c.state = StateOfferReceived

	answer, err := c.link.ApplyOfferAndCreateAnswer(*m.SDP)
	if err != nil {
		log.Error().Err(err).Str("module", "mesh").Str("identity", string(m.From)).Msg("apply offer")
		return
	}
	c.remoteSet = true
	o.flushPending(c)
	c.state = StateAnswerSent

	err = o.Send(signal.Message{
		Type:   signal.TypeAnswer,
		To:     m.From,
		From:   o.Session.SelfIdentity,
		Answer: answer,
		Screen: m.Screen,
	})
	if err != nil {
		log.Error().Err(err).Str("module", "mesh").Msg("send answer")
	}
}

// HandleAnswer completes the offerer side.
func (o *Orchestrator) HandleAnswer(m signal.Message) {
	c, ok := o.conns[connKey{m.From, m.Screen}]
	if !ok || c.state != StateOfferSent {
		log.Warn().Str("module", "mesh").Str("identity", string(m.From)).Msg("unexpected answer ignored")
		return
	}
	if m.Answer == nil {
		log.Warn().Str("module", "mesh").Msg("answer without sdp")
		return
	}
	if err := c.link.ApplyAnswer(*m.Answer); err != nil {
		log.Error().Err(err).Str("module", "mesh").Str("identity", string(m.From)).Msg("apply answer")
		return
	}
	c.remoteSet = true
	o.flushPending(c)
	c.state = StateAnswerReceived
}

// HandleCandidate applies or buffers a remote candidate. Candidates for
// unknown connections are dropped; renegotiation is the recovery path.
func (o *Orchestrator) HandleCandidate(m signal.Message) {
	c, ok := o.conns[connKey{m.From, m.Screen}]
	if !ok || m.Candidate == nil {
		log.Warn().Str("module", "mesh").Str("identity", string(m.From)).Msg("candidate for unknown connection")
		return
	}
	if !c.remoteSet {
		c.pending = append(c.pending, *m.Candidate)
		return
	}
	if err := c.link.AddICECandidate(*m.Candidate); err != nil {
		log.Error().Err(err).Str("module", "mesh").Str("identity", string(m.From)).Msg("add ice candidate")
	}
}

// HandleLeave tears down the remote's connections and, when the session
// moderator leaves, ends the whole local session: no failover exists.
func (o *Orchestrator) HandleLeave(m signal.Message) {
	o.closeConn(connKey{m.From, false})
	o.closeConn(connKey{m.From, true})
	delete(o.participants, m.From)

	if m.IsModerator && !m.Screen {
		log.Info().Str("module", "mesh").Str("identity", string(m.From)).Msg("moderator left, ending session")
		if o.OnMeetingEnded != nil {
			o.OnMeetingEnded()
		}
	}
}

// CloseAll tears down every connection, e.g. on local leave or kick.
func (o *Orchestrator) CloseAll() {
	for key := range o.conns {
		o.closeConn(key)
	}
}

func (o *Orchestrator) closeConn(key connKey) {
	c, ok := o.conns[key]
	if !ok || c.state == StateClosed {
		return
	}
	c.state = StateClosed
	c.link.OnICECandidate(nil)
	c.link.OnTrack(nil)
	c.link.OnClosed(nil)
	c.link.Close()
	delete(o.conns, key)
	if o.OnRemoteGone != nil {
		o.OnRemoteGone(key.id, key.screen)
	}
}

func (o *Orchestrator) dial(key connKey) (*conn, error) {
	link, err := o.Factory(key.id, key.screen)
	if err != nil {
		return nil, err
	}
	c := &conn{key: key, link: link, state: StateNew}
	o.conns[key] = c

	link.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		o.Post(func() { o.sendCandidate(key, ci) })
	})
	link.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		o.Post(func() { o.remoteTrack(key, track) })
	})
	link.OnConnected(func() {
		o.Post(func() { o.connected(key) })
	})
	link.OnClosed(func() {
		o.Post(func() { o.closeConn(key) })
	})

	if o.Local != nil {
		for _, track := range o.Local.Tracks() {
			sender, err := link.AddLocalTrack(track)
			if err != nil {
				log.Error().Err(err).Str("module", "mesh").Msg("add local track")
				continue
			}
			c.senders = append(c.senders, sender)
		}
	}

	if err := link.Start(o.ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// ReplaceLocalTrack swaps a local track of the same kind on every live
// connection, e.g. after a device change.
func (o *Orchestrator) ReplaceLocalTrack(track webrtc.TrackLocal) {
	for _, c := range o.conns {
		for _, sender := range c.senders {
			current := sender.Track()
			if current != nil && current.Kind() == track.Kind() {
				if err := sender.ReplaceTrack(track); err != nil {
					log.Error().Err(err).Str("module", "mesh").Msg("replace track")
				}
			}
		}
	}
}

func (o *Orchestrator) sendCandidate(key connKey, ci webrtc.ICECandidateInit) {
	err := o.Send(signal.Message{
		Type:      signal.TypeCandidate,
		From:      o.Session.SelfIdentity,
		To:        key.id,
		Candidate: &ci,
		Screen:    key.screen,
	})
	if err != nil {
		log.Error().Err(err).Str("module", "mesh").Msg("send candidate")
	}
}

func (o *Orchestrator) remoteTrack(key connKey, track *webrtc.TrackRemote) {
	moderator := false
	if p, ok := o.participants[key.id]; ok {
		moderator = p.Role == domain.RoleModerator
	}
	if o.OnRemoteTrack != nil {
		o.OnRemoteTrack(key.id, key.screen, moderator, track)
	}
}

func (o *Orchestrator) connected(key connKey) {
	c, ok := o.conns[key]
	if !ok || c.state == StateClosed || c.state == StateConnected {
		return
	}
	c.state = StateConnected
	if o.OnPeerConnected != nil {
		o.OnPeerConnected(key.id, key.screen)
	}
}

func (o *Orchestrator) flushPending(c *conn) {
	for _, ci := range c.pending {
		if err := c.link.AddICECandidate(ci); err != nil {
			log.Error().Err(err).Str("module", "mesh").Str("identity", string(c.key.id)).Msg("flush candidate")
		}
	}
	c.pending = nil
}

func (o *Orchestrator) trackParticipant(m signal.Message) {
	role := domain.RoleRegular
	if m.IsModerator {
		role = domain.RoleModerator
	}
	o.participants[m.From] = &domain.Participant{
		Identity:    m.From,
		DisplayName: m.Username,
		AvatarRef:   m.Avatar,
		Role:        role,
		IsScreen:    m.Screen,
		AudioMuted:  m.Mic,
		VideoMuted:  m.Camera,
	}
}
