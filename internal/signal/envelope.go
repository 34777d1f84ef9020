// Package signal carries typed envelopes between the agent and the relay
// and dispatches them to the session components.
package signal

import (
	"github.com/pion/webrtc/v4"

	"meshmeet/internal/domain"
)

// Message kind tags. The relay never interprets these beyond routing;
// every participant reacts to the same stream independently.
const (
	TypeID   = "id"
	TypeJoin = "join"

	TypeOffer     = "offer"
	TypeAnswer    = "answer"
	TypeCandidate = "candidate"
	TypeLeave     = "leave"

	TypeCheckMeeting       = "checkMeeting"
	TypeCheckMeetingResult = "checkMeetingResult"
	TypeMeetingStarted     = "meetingStarted"

	TypePermission       = "permission"
	TypePermissionResult = "permissionResult"

	TypeRecordingPermission       = "recordingPermission"
	TypeRecordingPermissionResult = "recordingPermissionResult"
	// Misspelled variant kept for wire compatibility with older peers.
	TypeRecordingPermissionResultLegacy = "recordongPermissionResult"
	TypeRecordingStarted                = "recordingStarted"

	TypeScreenSharePermission       = "screenSharePermission"
	TypeScreenSharePermissionResult = "screenSharePermissionResult"

	TypeMicAdmin      = "mic-admin"
	TypeCameraAdmin   = "camera-admin"
	TypeMicToggled    = "micToggled"
	TypeCameraToggled = "cameraToggled"
	TypeMuteAll       = "muteAll"

	TypeModeratorAssignment = "moderatorAssignment"
	TypeModeratorUpdated    = "moderatorUpdated"
	TypeModeratorButtons    = "moderatorButtons"
	TypeKick                = "kick"

	TypeMeetingMessage = "meetingMessage"
	TypeFileMessage    = "fileMessage"
	TypeRaiseHand      = "raiseHand"
	TypeSpeaking       = "speaking"

	TypeWhiteboard      = "whiteboard"
	TypeClearWhiteboard = "clearWhiteboard"
	TypeSync            = "sync"
	TypeCurrentTime     = "currentTime"

	TypeInfo = "info"
)

// Message is the flat signaling envelope. Only the fields relevant to a
// given Type are populated; the relay forwards by To or broadcasts when
// To is empty.
type Message struct {
	Type string          `json:"type"`
	From domain.Identity `json:"fromSocketId,omitempty"`
	To   domain.Identity `json:"toSocketId,omitempty"`

	MeetingID string `json:"meetingId,omitempty"`
	Username  string `json:"username,omitempty"`
	Avatar    string `json:"avatar,omitempty"`

	IsModerator bool `json:"isModerator,omitempty"`
	Screen      bool `json:"screen,omitempty"`
	Mic         bool `json:"mic,omitempty"`
	Camera      bool `json:"camera,omitempty"`

	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Answer    *webrtc.SessionDescription `json:"answer,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`

	// Admission fields. Text doubles as the admission reason and the chat
	// body; the wire field has always been "message" for both.
	Result          bool   `json:"result,omitempty"`
	Text            string `json:"message,omitempty"`
	ChatBotName     string `json:"chatBotName,omitempty"`
	AllMuted        bool   `json:"allMuted,omitempty"`
	Started         bool   `json:"started,omitempty"`
	AuthMode        string `json:"authMode,omitempty"`
	ModeratorRights string `json:"moderatorRights,omitempty"`
	UserLimit       int    `json:"userLimit,omitempty"`

	// Moderation fields.
	Value      bool `json:"value,omitempty"`
	AudioMuted bool `json:"audioMuted,omitempty"`
	VideoMuted bool `json:"videoMuted,omitempty"`

	MeetingType string `json:"meetingType,omitempty"`
	CurrentTime int    `json:"currentTime,omitempty"`

	// Collaborator payloads forwarded opaquely.
	Filename string `json:"filename,omitempty"`
	Data     string `json:"data,omitempty"`
}
