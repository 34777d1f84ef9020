// Package rtc wraps pion peer connections for the mesh. Each remote
// identity (camera/mic or screen) gets its own Peer; state transitions are
// driven by the orchestrator, never by pion callbacks directly.
package rtc

import (
	"context"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"meshmeet/internal/domain"
)

type Peer struct {
	pc     *webrtc.PeerConnection
	id     domain.Identity
	screen bool
	cancel context.CancelFunc

	onICE       func(webrtc.ICECandidateInit)
	onTrack     func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
	onConnected func()
	onClosed    func()
}

// Config builds the pion configuration from the STUN/TURN settings fetched
// before any signaling occurs.
func Config(stunURL, turnURL, turnUser, turnPass string) webrtc.Configuration {
	servers := []webrtc.ICEServer{{URLs: []string{stunURL}}}
	if turnURL != "" {
		servers = append(servers, webrtc.ICEServer{
			URLs:       []string{turnURL},
			Username:   turnUser,
			Credential: turnPass,
		})
	}
	return webrtc.Configuration{ICEServers: servers}
}

func NewPeer(cfg webrtc.Configuration, id domain.Identity, screen bool) (*Peer, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	return &Peer{pc: pc, id: id, screen: screen}, nil
}

func (p *Peer) Identity() domain.Identity { return p.id }
func (p *Peer) IsScreen() bool            { return p.screen }

// Start binds the pion callbacks and ties the peer lifetime to ctx.
func (p *Peer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "rtc").Str("identity", string(p.id)).Str("ice_state", s.String()).Msg("ICE state")
		if s == webrtc.ICEConnectionStateDisconnected ||
			s == webrtc.ICEConnectionStateFailed ||
			s == webrtc.ICEConnectionStateClosed {
			cancel()
		}
	})

	p.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("identity", string(p.id)).Str("peer_connection_state", s.String()).Msg("peer state")
		switch s {
		case webrtc.PeerConnectionStateConnected:
			if p.onConnected != nil {
				p.onConnected()
			}
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			if p.onClosed != nil {
				p.onClosed()
			}
		}
	})

	p.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil && p.onICE != nil {
			p.onICE(cand.ToJSON())
		}
	})

	p.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("identity", string(p.id)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("remote track")
		if p.onTrack != nil {
			p.onTrack(track, receiver)
		}
	})

	return nil
}

// CreateOfferAndSet is the offerer half of the handshake. Candidates
// trickle through OnICECandidate; there is no gathering wait.
func (p *Peer) CreateOfferAndSet() (*webrtc.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	return p.pc.LocalDescription(), nil
}

// ApplyOfferAndCreateAnswer is the answerer half.
func (p *Peer) ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	return p.pc.LocalDescription(), nil
}

func (p *Peer) ApplyAnswer(answer webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(answer)
}

func (p *Peer) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(ci)
}

// AddLocalTrack attaches a local track to the underlying PeerConnection.
func (p *Peer) AddLocalTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	return p.pc.AddTrack(track)
}

func (p *Peer) OnICECandidate(fn func(webrtc.ICECandidateInit)) { p.onICE = fn }

func (p *Peer) OnTrack(fn func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)) {
	p.onTrack = fn
}

func (p *Peer) OnConnected(fn func()) { p.onConnected = fn }
func (p *Peer) OnClosed(fn func())    { p.onClosed = fn }

func (p *Peer) Close() {
	if p.cancel != nil {
		p.cancel()
	}
	if p.pc != nil {
		if err := p.pc.Close(); err != nil {
			log.Error().Err(err).Str("module", "rtc").Str("identity", string(p.id)).Msg("close error")
		} else {
			log.Info().Str("module", "rtc").Str("identity", string(p.id)).Msg("closed")
		}
	}
}
