package app

import (
	"github.com/pion/webrtc/v4"

	"meshmeet/internal/composer"
	"meshmeet/internal/domain"
	"meshmeet/internal/signal"
)

// Renderer consumes track and state events. The core never touches a
// visual surface directly.
type Renderer interface {
	RemoteTrackAttached(id domain.Identity, screen, moderator bool, track *webrtc.TrackRemote)
	RemoteDetached(id domain.Identity, screen bool)
	RemoteStateChanged(p domain.Participant)
	LocalStateChanged(audioMuted, videoMuted bool)
	TimerUpdated(display string, urgent bool)
	WaitingForHost()
}

// Notifier surfaces human-readable session events; keys index the language
// catalog on the UI side.
type Notifier interface {
	Info(key string)
	Error(key string)
	PermissionRequested(req domain.PermissionRequest)
	ChatMessage(username, text string)
	FileShared(username, filename string)
	HandRaised(username string)
	Speaking(id domain.Identity)
}

// Whiteboard is the collaborative widget collaborator; the core only
// forwards its synchronization events.
type Whiteboard interface {
	Apply(data string)
	Clear()
	PushSnapshot()
	HasContent() bool
	CaptureStream() (composer.Stream, bool)
}

// RecordingSink consumes the composed mixed stream and owns container
// packaging and persistence.
type RecordingSink interface {
	Start(mix composer.Mix) error
	Update(mix composer.Mix)
	Stop()
}

// nop collaborators keep headless runs wiring-free.

type nopRenderer struct{}

func (nopRenderer) RemoteTrackAttached(domain.Identity, bool, bool, *webrtc.TrackRemote) {}
func (nopRenderer) RemoteDetached(domain.Identity, bool)                                 {}
func (nopRenderer) RemoteStateChanged(domain.Participant)                                {}
func (nopRenderer) LocalStateChanged(bool, bool)                                         {}
func (nopRenderer) TimerUpdated(string, bool)                                            {}
func (nopRenderer) WaitingForHost()                                                      {}

type nopNotifier struct{}

func (nopNotifier) Info(string)                                {}
func (nopNotifier) Error(string)                               {}
func (nopNotifier) PermissionRequested(domain.PermissionRequest) {}
func (nopNotifier) ChatMessage(string, string)                 {}
func (nopNotifier) FileShared(string, string)                  {}
func (nopNotifier) HandRaised(string)                          {}
func (nopNotifier) Speaking(domain.Identity)                   {}

type nopSink struct{}

func (nopSink) Start(composer.Mix) error { return nil }
func (nopSink) Update(composer.Mix)      {}
func (nopSink) Stop()                    {}

// forwarded implements signal.EventHandler on behalf of the agent.
type forwarded struct {
	a *Agent
}

func (f forwarded) HandleIdentity(m signal.Message) {
	f.a.setIdentity(m.From)
}

func (f forwarded) HandleChatMessage(m signal.Message) {
	f.a.notifier.ChatMessage(m.Username, m.Text)
}

func (f forwarded) HandleFileMessage(m signal.Message) {
	f.a.notifier.FileShared(m.Username, m.Filename)
}

func (f forwarded) HandleRaiseHand(m signal.Message) {
	f.a.notifier.HandRaised(m.Username)
}

func (f forwarded) HandleSpeaking(m signal.Message) {
	f.a.notifier.Speaking(m.From)
}

func (f forwarded) HandleWhiteboard(m signal.Message) {
	if f.a.whiteboard != nil {
		f.a.whiteboard.Apply(m.Data)
	}
}

func (f forwarded) HandleClearWhiteboard(m signal.Message) {
	if f.a.whiteboard != nil {
		f.a.whiteboard.Clear()
	}
}

func (f forwarded) HandleSyncRequest(m signal.Message) {
	if f.a.whiteboard != nil {
		f.a.whiteboard.PushSnapshot()
	}
}

func (f forwarded) HandleInfo(m signal.Message) {
	f.a.notifier.Info(m.Text)
}

func (f forwarded) HandleRecordingStarted(m signal.Message) {
	f.a.notifier.Info("recording_started: " + m.Username)
}
