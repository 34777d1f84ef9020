package domain

type PermissionKind int

const (
	JoinApproval PermissionKind = iota
	RecordingApproval
	ScreenShareApproval
)

func (k PermissionKind) String() string {
	switch k {
	case RecordingApproval:
		return "recording"
	case ScreenShareApproval:
		return "screenshare"
	default:
		return "join"
	}
}

// PermissionRequest is an ephemeral approval item pending on the moderator.
// Resolved exactly once, then discarded.
type PermissionRequest struct {
	Kind      PermissionKind
	Requester Identity
	Username  string
}

type PermissionKey struct {
	Kind      PermissionKind
	Requester Identity
}

func (r PermissionRequest) Key() PermissionKey {
	return PermissionKey{Kind: r.Kind, Requester: r.Requester}
}
