// Package admission owns the join workflow: password check, meeting status
// query, host/moderator approval, and the moderator side of permission
// requests. Exactly one outcome fires per attempt and every resolving
// message is idempotent against duplicate delivery.
package admission

import (
	"context"

	"github.com/rs/zerolog/log"

	"meshmeet/internal/domain"
	"meshmeet/internal/signal"
)

type Phase int

const (
	PhaseConnecting Phase = iota
	PhasePasswordCheck
	PhaseRequestingEntry
	PhaseWaitingForHost
	PhaseWaitingForModeratorApproval
	PhaseAdmitted
	PhaseRejected
)

func (p Phase) String() string {
	switch p {
	case PhasePasswordCheck:
		return "password_check"
	case PhaseRequestingEntry:
		return "requesting_entry"
	case PhaseWaitingForHost:
		return "waiting_for_host"
	case PhaseWaitingForModeratorApproval:
		return "waiting_for_moderator_approval"
	case PhaseAdmitted:
		return "admitted"
	case PhaseRejected:
		return "rejected"
	default:
		return "connecting"
	}
}

// PasswordVerifier checks the meeting password against the server before
// any checkMeeting request is sent.
type PasswordVerifier interface {
	Verify(ctx context.Context, meetingID domain.MeetingID, password string) (bool, error)
}

type Settings struct {
	Username         string
	Avatar           string
	Host             bool
	PasswordRequired bool
	AuthMode         string
	ModeratorRights  string
	UserLimit        int
}

// Controller runs one admission attempt per local session. Declined or
// erroring admission never retries automatically; a retry is a fresh
// user-initiated Join.
type Controller struct {
	Session  *domain.Session
	Settings Settings
	Send     func(signal.Message) error
	Verifier PasswordVerifier

	// Post re-enters the agent loop from the password check goroutine; nil
	// runs the continuation inline.
	Post func(func())

	// Outcome hooks, each fired at most once per attempt.
	OnAdmitted func(allMuted bool, chatBotName string)
	OnRejected func(reason string)
	OnWaiting  func()

	// Moderator-side affordance hook.
	OnPermissionRequest func(req domain.PermissionRequest)

	// Requester-side resolutions for feature permissions.
	OnRecordingResult   func(approved bool)
	OnScreenShareResult func(approved bool)

	phase            Phase
	passwordVerified bool
	startListener    bool
	pending          map[domain.PermissionKey]domain.PermissionRequest
}

func (c *Controller) Phase() Phase { return c.phase }

// Join starts an admission attempt. The password, when configured, must be
// verified before the meeting status query goes out; the HTTP round-trip
// runs off the loop so no handler blocks on it.
func (c *Controller) Join(ctx context.Context, password string) {
	if c.phase != PhaseConnecting && c.phase != PhasePasswordCheck && c.phase != PhaseRejected {
		return
	}

	if c.Settings.PasswordRequired {
		c.phase = PhasePasswordCheck
		go c.verifyPassword(ctx, password)
		return
	}

	c.requestEntry()
}

func (c *Controller) verifyPassword(ctx context.Context, password string) {
	ok, err := c.Verifier.Verify(ctx, c.Session.MeetingID, password)
	c.post(func() {
		if c.phase != PhasePasswordCheck {
			return
		}
		if err != nil {
			log.Error().Err(err).Str("module", "admission").Msg("password check")
			c.reject("cant_connect")
			c.phase = PhasePasswordCheck
			return
		}
		if !ok {
			c.reject("invalid_password")
			c.phase = PhasePasswordCheck
			return
		}
		c.passwordVerified = true
		c.requestEntry()
	})
}

func (c *Controller) requestEntry() {
	c.phase = PhaseRequestingEntry
	err := c.Send(signal.Message{
		Type:            signal.TypeCheckMeeting,
		Username:        c.Settings.Username,
		MeetingID:       string(c.Session.MeetingID),
		IsModerator:     c.Settings.Host,
		AuthMode:        c.Settings.AuthMode,
		ModeratorRights: c.Settings.ModeratorRights,
		UserLimit:       c.Settings.UserLimit,
	})
	if err != nil {
		log.Error().Err(err).Str("module", "admission").Msg("send checkMeeting")
		c.reject("cant_connect")
	}
}

func (c *Controller) post(fn func()) {
	if c.Post != nil {
		c.Post(fn)
		return
	}
	fn()
}

// HandleAdmissionResult resolves the attempt from either a
// checkMeetingResult or a moderator's permissionResult. Duplicate delivery
// of the same resolving message is a no-op.
func (c *Controller) HandleAdmissionResult(m signal.Message) {
	if c.phase == PhaseAdmitted || c.phase == PhaseRejected {
		return
	}

	if !m.Result {
		reason := m.Text
		if reason == "" {
			reason = "request_declined"
		}
		c.reject(reason)
		return
	}

	if m.Type == signal.TypePermissionResult {
		c.admit(m.AllMuted, m.ChatBotName)
		return
	}

	// checkMeeting accepted: evaluate the auto-join ladder. The source
	// referenced the auto-join function without calling it, which made
	// these branches dead; the evident intent is to join, so we do.
	if m.Started {
		c.Session.Started = true
	}
	if c.passwordVerified || c.Session.Started || c.Settings.Host || c.Settings.AuthMode == "disabled" {
		c.admit(m.AllMuted, m.ChatBotName)
		return
	}

	// Block on the host while concurrently asking the moderator; whichever
	// resolution arrives first wins, the other becomes a duplicate no-op.
	c.phase = PhaseWaitingForHost
	c.startListener = true
	if c.OnWaiting != nil {
		c.OnWaiting()
	}

	err := c.Send(signal.Message{
		Type:      signal.TypePermission,
		Username:  c.Settings.Username,
		MeetingID: string(c.Session.MeetingID),
	})
	if err != nil {
		log.Error().Err(err).Str("module", "admission").Msg("send permission request")
		c.reject("cant_connect")
		return
	}
	c.phase = PhaseWaitingForModeratorApproval
}

// HandleMeetingStarted promotes a waiting requester exactly once, then
// deregisters itself.
func (c *Controller) HandleMeetingStarted(m signal.Message) {
	c.Session.Started = true
	if !c.startListener {
		return
	}
	c.startListener = false
	if c.phase == PhaseWaitingForHost || c.phase == PhaseWaitingForModeratorApproval {
		c.admit(m.AllMuted, "")
	}
}

func (c *Controller) admit(allMuted bool, chatBotName string) {
	c.phase = PhaseAdmitted
	c.startListener = false
	if c.OnAdmitted != nil {
		c.OnAdmitted(allMuted, chatBotName)
	}
}

func (c *Controller) reject(reason string) {
	c.phase = PhaseRejected
	c.startListener = false
	if c.OnRejected != nil {
		c.OnRejected(reason)
	}
}

// RequestRecording asks the moderator for permission to record. The caller
// gates on moderator rights; when they are off no request round-trip exists.
func (c *Controller) RequestRecording() {
	c.sendRequest(signal.TypeRecordingPermission)
}

func (c *Controller) RequestScreenShare() {
	c.sendRequest(signal.TypeScreenSharePermission)
}

func (c *Controller) sendRequest(kind string) {
	err := c.Send(signal.Message{
		Type:      kind,
		Username:  c.Settings.Username,
		From:      c.Session.SelfIdentity,
		MeetingID: string(c.Session.MeetingID),
	})
	if err != nil {
		log.Error().Err(err).Str("module", "admission").Str("type", kind).Msg("send feature permission request")
	}
}

// HandleRecordingPermissionResult resolves the requester's recording ask.
func (c *Controller) HandleRecordingPermissionResult(m signal.Message) {
	if c.OnRecordingResult != nil {
		c.OnRecordingResult(m.Result)
	}
}

func (c *Controller) HandleScreenSharePermissionResult(m signal.Message) {
	if c.OnScreenShareResult != nil {
		c.OnScreenShareResult(m.Result)
	}
}

// --- moderator side -------------------------------------------------------

func (c *Controller) HandlePermission(m signal.Message) {
	c.enqueue(domain.PermissionRequest{
		Kind:      domain.JoinApproval,
		Requester: m.From,
		Username:  m.Username,
	})
}

func (c *Controller) HandleRecordingPermission(m signal.Message) {
	c.enqueue(domain.PermissionRequest{
		Kind:      domain.RecordingApproval,
		Requester: m.From,
		Username:  m.Username,
	})
}

func (c *Controller) HandleScreenSharePermission(m signal.Message) {
	c.enqueue(domain.PermissionRequest{
		Kind:      domain.ScreenShareApproval,
		Requester: m.From,
		Username:  m.Username,
	})
}

func (c *Controller) enqueue(req domain.PermissionRequest) {
	if c.pending == nil {
		c.pending = make(map[domain.PermissionKey]domain.PermissionRequest)
	}
	if _, ok := c.pending[req.Key()]; ok {
		return
	}
	c.pending[req.Key()] = req
	log.Info().
		Str("module", "admission").
		Str("kind", req.Kind.String()).
		Str("requester", string(req.Requester)).
		Msg("permission requested")
	if c.OnPermissionRequest != nil {
		c.OnPermissionRequest(req)
	}
}

// Pending reports whether a request is still actionable.
func (c *Controller) Pending(key domain.PermissionKey) bool {
	_, ok := c.pending[key]
	return ok
}

// Resolve sends the result for a pending request exactly once; a request
// already resolved is not actionable again.
func (c *Controller) Resolve(key domain.PermissionKey, approve bool) {
	if _, ok := c.pending[key]; !ok {
		return
	}
	delete(c.pending, key)

	msg := signal.Message{
		Result: approve,
		To:     key.Requester,
	}
	switch key.Kind {
	case domain.JoinApproval:
		msg.Type = signal.TypePermissionResult
		msg.AllMuted = c.Session.AllMuted
	case domain.RecordingApproval:
		msg.Type = signal.TypeRecordingPermissionResult
	case domain.ScreenShareApproval:
		msg.Type = signal.TypeScreenSharePermissionResult
	}
	if !approve {
		msg.Text = "request_declined"
	}

	if err := c.Send(msg); err != nil {
		log.Error().Err(err).Str("module", "admission").Msg("send permission result")
	}
}
