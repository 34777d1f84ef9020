// Package moderation owns the single mutable moderator role and the mute
// state side effects. Enforcement here is client-side defense in depth; the
// relay/server is the real boundary.
package moderation

import (
	"github.com/rs/zerolog/log"

	"meshmeet/internal/domain"
	"meshmeet/internal/signal"
)

// ParticipantStore is the orchestrator's view of remote participants.
type ParticipantStore interface {
	Participant(id domain.Identity) (*domain.Participant, bool)
}

// Manager applies moderation messages and issues moderator operations.
// Moderator transfer is two-phase and eventually consistent: a short window
// where two participants both hold the role is accepted by design.
type Manager struct {
	Session         *domain.Session
	Participants    ParticipantStore
	Send            func(signal.Message) error
	SelfName        string
	MeetingType     string
	ModeratorRights string

	audioMuted bool
	videoMuted bool

	// Collaborator hooks (rendering/capture are external).
	OnLocalAudio       func(muted, byModerator bool)
	OnLocalVideo       func(muted, byModerator bool)
	OnRemoteStateSync  func(id domain.Identity)
	OnModeratorGained  func()
	OnModeratorLost    func()
	OnModeratorChanged func(username string, id domain.Identity)
	OnKicked           func()
}

func (m *Manager) AudioMuted() bool { return m.audioMuted }
func (m *Manager) VideoMuted() bool { return m.videoMuted }

// --- local toggles --------------------------------------------------------

// ToggleMic flips the local microphone. Non-moderators report the change
// when moderator rights are enabled so the moderator's affordances track it.
func (m *Manager) ToggleMic() {
	if !m.Session.IsModerator() && m.ModeratorRights == "enabled" {
		m.send(signal.Message{
			Type:       signal.TypeMicToggled,
			MeetingID:  string(m.Session.MeetingID),
			AudioMuted: !m.audioMuted,
		})
	}
	m.setLocalAudio(!m.audioMuted, false)
}

func (m *Manager) ToggleCamera() {
	if !m.Session.IsModerator() && m.ModeratorRights == "enabled" {
		m.send(signal.Message{
			Type:       signal.TypeCameraToggled,
			MeetingID:  string(m.Session.MeetingID),
			VideoMuted: !m.videoMuted,
		})
	}
	m.setLocalVideo(!m.videoMuted, false)
}

func (m *Manager) setLocalAudio(muted, byModerator bool) {
	if m.audioMuted == muted {
		return
	}
	m.audioMuted = muted
	if m.OnLocalAudio != nil {
		m.OnLocalAudio(muted, byModerator)
	}
}

func (m *Manager) setLocalVideo(muted, byModerator bool) {
	if m.videoMuted == muted {
		return
	}
	m.videoMuted = muted
	if m.OnLocalVideo != nil {
		m.OnLocalVideo(muted, byModerator)
	}
}

// --- moderator operations -------------------------------------------------

func (m *Manager) Kick(target domain.Identity) {
	if !m.Session.IsModerator() {
		return
	}
	m.send(signal.Message{Type: signal.TypeKick, To: target})
}

// SetMicAdmin mutes or unmutes a participant's microphone. The admin origin
// makes the receiver apply it without local confirmation.
func (m *Manager) SetMicAdmin(target domain.Identity, muted bool) {
	if !m.Session.IsModerator() {
		return
	}
	m.send(signal.Message{Type: signal.TypeMicAdmin, To: target, Value: muted})
}

func (m *Manager) SetCameraAdmin(target domain.Identity, muted bool) {
	if !m.Session.IsModerator() {
		return
	}
	m.send(signal.Message{Type: signal.TypeCameraAdmin, To: target, Value: muted})
}

// MuteAll broadcasts a forced microphone state to every participant. The
// sender does not mute itself; receivers do on delivery.
func (m *Manager) MuteAll(value bool) {
	if !m.Session.IsModerator() {
		return
	}
	m.Session.AllMuted = value
	m.send(signal.Message{
		Type:      signal.TypeMuteAll,
		MeetingID: string(m.Session.MeetingID),
		Value:     value,
	})
}

// TransferModerator starts the two-phase role handover: the target adopts
// the role on receipt and broadcasts, and the previous moderator renounces
// on seeing the broadcast.
func (m *Manager) TransferModerator(target domain.Identity) {
	if !m.Session.IsModerator() {
		return
	}
	m.send(signal.Message{
		Type:      signal.TypeModeratorAssignment,
		To:        target,
		MeetingID: string(m.Session.MeetingID),
	})
}

// --- inbound handlers -----------------------------------------------------

// HandleMicAdmin applies a moderator-forced microphone state.
func (m *Manager) HandleMicAdmin(msg signal.Message) {
	m.setLocalAudio(msg.Value, true)
}

func (m *Manager) HandleCameraAdmin(msg signal.Message) {
	m.setLocalVideo(msg.Value, true)
}

// HandleMicToggled records a remote participant's own toggle so moderator
// affordances stay in sync.
func (m *Manager) HandleMicToggled(msg signal.Message) {
	if p, ok := m.Participants.Participant(msg.From); ok {
		p.AudioMuted = msg.AudioMuted
		m.remoteStateSync(msg.From)
	}
}

func (m *Manager) HandleCameraToggled(msg signal.Message) {
	if p, ok := m.Participants.Participant(msg.From); ok {
		p.VideoMuted = msg.VideoMuted
		m.remoteStateSync(msg.From)
	}
}

// HandleMuteAll forces the local microphone to the disabled state,
// independent of the participant's own prior preference. Idempotent.
func (m *Manager) HandleMuteAll(msg signal.Message) {
	if m.Session.AllMuted == msg.Value && m.audioMuted == msg.Value {
		return
	}
	m.Session.AllMuted = msg.Value
	m.setLocalAudio(msg.Value, true)
}

// HandleModeratorAssignment adopts the role unilaterally and notifies
// everyone of the new moderator.
func (m *Manager) HandleModeratorAssignment(msg signal.Message) {
	m.Session.ModeratorIdentity = m.Session.SelfIdentity
	log.Info().Str("module", "moderation").Msg("moderator role adopted")

	m.send(signal.Message{
		Type:      signal.TypeModeratorUpdated,
		MeetingID: string(m.Session.MeetingID),
		Username:  m.SelfName,
		From:      m.Session.SelfIdentity,
	})
	if m.OnModeratorGained != nil {
		m.OnModeratorGained()
	}
}

// HandleModeratorUpdated renounces the role if this participant held it,
// and pushes the local av state to the new moderator so its affordances
// start correct.
func (m *Manager) HandleModeratorUpdated(msg signal.Message) {
	wasModerator := m.Session.IsModerator()
	m.Session.ModeratorIdentity = msg.From
	if p, ok := m.Participants.Participant(msg.From); ok {
		p.Role = domain.RoleModerator
	}
	if wasModerator && msg.From != m.Session.SelfIdentity {
		if m.OnModeratorLost != nil {
			m.OnModeratorLost()
		}
	}
	if m.OnModeratorChanged != nil {
		m.OnModeratorChanged(msg.Username, msg.From)
	}

	m.send(signal.Message{
		Type:        signal.TypeModeratorButtons,
		MeetingID:   string(m.Session.MeetingID),
		To:          msg.From,
		From:        m.Session.SelfIdentity,
		AudioMuted:  m.audioMuted,
		VideoMuted:  m.videoMuted,
		MeetingType: m.MeetingType,
	})
}

// HandleModeratorButtons receives each participant's av state after a
// transfer; only meaningful on the new moderator.
func (m *Manager) HandleModeratorButtons(msg signal.Message) {
	p, ok := m.Participants.Participant(msg.From)
	if !ok {
		return
	}
	p.AudioMuted = msg.AudioMuted
	p.VideoMuted = msg.VideoMuted
	m.remoteStateSync(msg.From)
}

func (m *Manager) HandleKick(msg signal.Message) {
	log.Info().Str("module", "moderation").Msg("kicked by moderator")
	if m.OnKicked != nil {
		m.OnKicked()
	}
}

func (m *Manager) remoteStateSync(id domain.Identity) {
	if m.OnRemoteStateSync != nil {
		m.OnRemoteStateSync(id)
	}
}

func (m *Manager) send(msg signal.Message) {
	if err := m.Send(msg); err != nil {
		log.Error().Err(err).Str("module", "moderation").Str("type", msg.Type).Msg("send")
	}
}
