package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"
)

// AdmissionHandler reacts to the join workflow messages.
type AdmissionHandler interface {
	HandleAdmissionResult(m Message)
	HandleMeetingStarted(m Message)
	HandlePermission(m Message)
	HandleRecordingPermission(m Message)
	HandleRecordingPermissionResult(m Message)
	HandleScreenSharePermission(m Message)
	HandleScreenSharePermissionResult(m Message)
}

// MeshHandler owns the per-peer connection lifecycle.
type MeshHandler interface {
	HandleJoin(m Message)
	HandleOffer(m Message)
	HandleAnswer(m Message)
	HandleCandidate(m Message)
	HandleLeave(m Message)
}

// ModerationHandler applies role and mute side effects.
type ModerationHandler interface {
	HandleMicAdmin(m Message)
	HandleCameraAdmin(m Message)
	HandleMicToggled(m Message)
	HandleCameraToggled(m Message)
	HandleMuteAll(m Message)
	HandleModeratorAssignment(m Message)
	HandleModeratorUpdated(m Message)
	HandleModeratorButtons(m Message)
	HandleKick(m Message)
}

// ClockHandler resynchronizes the session clock.
type ClockHandler interface {
	HandleCurrentTime(m Message)
}

// EventHandler receives everything the core only forwards to external
// collaborators (chat panel, whiteboard widget, notifications).
type EventHandler interface {
	HandleIdentity(m Message)
	HandleChatMessage(m Message)
	HandleFileMessage(m Message)
	HandleRaiseHand(m Message)
	HandleSpeaking(m Message)
	HandleWhiteboard(m Message)
	HandleClearWhiteboard(m Message)
	HandleSyncRequest(m Message)
	HandleInfo(m Message)
	HandleRecordingStarted(m Message)
}

// Router decodes envelopes and dispatches by tag. No business logic lives
// here; it invokes exactly one handler per message, in arrival order.
// Unknown tags are ignored for forward compatibility.
type Router struct {
	Admission  AdmissionHandler
	Mesh       MeshHandler
	Moderation ModerationHandler
	Clock      ClockHandler
	Events     EventHandler
}

func (r *Router) Route(data []byte) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad envelope")
		return
	}

	switch m.Type {
	case TypeID:
		r.Events.HandleIdentity(m)
	case TypeJoin:
		r.Mesh.HandleJoin(m)
	case TypeOffer:
		r.Mesh.HandleOffer(m)
	case TypeAnswer:
		r.Mesh.HandleAnswer(m)
	case TypeCandidate:
		r.Mesh.HandleCandidate(m)
	case TypeLeave:
		r.Mesh.HandleLeave(m)
	case TypeCheckMeetingResult, TypePermissionResult:
		r.Admission.HandleAdmissionResult(m)
	case TypeMeetingStarted:
		r.Admission.HandleMeetingStarted(m)
	case TypePermission:
		r.Admission.HandlePermission(m)
	case TypeRecordingPermission:
		r.Admission.HandleRecordingPermission(m)
	case TypeRecordingPermissionResult, TypeRecordingPermissionResultLegacy:
		r.Admission.HandleRecordingPermissionResult(m)
	case TypeScreenSharePermission:
		r.Admission.HandleScreenSharePermission(m)
	case TypeScreenSharePermissionResult:
		r.Admission.HandleScreenSharePermissionResult(m)
	case TypeMicAdmin:
		r.Moderation.HandleMicAdmin(m)
	case TypeCameraAdmin:
		r.Moderation.HandleCameraAdmin(m)
	case TypeMicToggled:
		r.Moderation.HandleMicToggled(m)
	case TypeCameraToggled:
		r.Moderation.HandleCameraToggled(m)
	case TypeMuteAll:
		r.Moderation.HandleMuteAll(m)
	case TypeModeratorAssignment:
		r.Moderation.HandleModeratorAssignment(m)
	case TypeModeratorUpdated:
		r.Moderation.HandleModeratorUpdated(m)
	case TypeModeratorButtons:
		r.Moderation.HandleModeratorButtons(m)
	case TypeKick:
		r.Moderation.HandleKick(m)
	case TypeCurrentTime:
		r.Clock.HandleCurrentTime(m)
	case TypeMeetingMessage:
		r.Events.HandleChatMessage(m)
	case TypeFileMessage:
		r.Events.HandleFileMessage(m)
	case TypeRaiseHand:
		r.Events.HandleRaiseHand(m)
	case TypeSpeaking:
		r.Events.HandleSpeaking(m)
	case TypeWhiteboard:
		r.Events.HandleWhiteboard(m)
	case TypeClearWhiteboard:
		r.Events.HandleClearWhiteboard(m)
	case TypeSync:
		r.Events.HandleSyncRequest(m)
	case TypeInfo:
		r.Events.HandleInfo(m)
	case TypeRecordingStarted:
		r.Events.HandleRecordingStarted(m)
	default:
		log.Warn().Str("module", "signal").Str("type", m.Type).Msg("unknown signal")
	}
}
