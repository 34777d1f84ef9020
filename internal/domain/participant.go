// Package domain contains entity without logic, just meta-data
package domain

import "errors"

const MaxDisplayNameLen = 36

var (
	ErrDisplayNameTooLong = errors.New("display name too long")
	ErrDisplayNameEmpty   = errors.New("display name empty")
)

// Identity is a signaling-layer endpoint address. A user owns one identity
// per camera/mic stream and one more per active screen share.
type Identity string

type Role int

const (
	RoleRegular Role = iota
	RoleModerator
)

func (r Role) String() string {
	if r == RoleModerator {
		return "moderator"
	}
	return "regular"
}

// Participant is one remote endpoint in the meeting. A screen-share
// participant is a full secondary record, never merged with its owner.
type Participant struct {
	Identity    Identity `json:"identity"`
	DisplayName string   `json:"displayName"`
	AvatarRef   string   `json:"avatarRef,omitempty"`
	Role        Role     `json:"role"`
	IsScreen    bool     `json:"isScreen"`
	AudioMuted  bool     `json:"audioMuted"`
	VideoMuted  bool     `json:"videoMuted"`
}

// NewParticipant is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewParticipant(id Identity, displayName string, isScreen bool) (*Participant, error) {
	if len(displayName) == 0 {
		return nil, ErrDisplayNameEmpty
	}
	if len(displayName) > MaxDisplayNameLen {
		return nil, ErrDisplayNameTooLong
	}
	return &Participant{Identity: id, DisplayName: displayName, IsScreen: isScreen}, nil
}
