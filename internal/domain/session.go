package domain

type MeetingID string

// Session is the process-wide meeting state. Single writer: only the agent
// loop mutates it; cross-process consistency comes from the relayed message
// stream, never shared memory.
type Session struct {
	MeetingID         MeetingID
	SelfIdentity      Identity
	ModeratorIdentity Identity // empty until known
	TimeLimitSeconds  int
	ElapsedSeconds    int
	AllMuted          bool
	Started           bool
}

func (s *Session) HasModerator() bool { return s.ModeratorIdentity != "" }

func (s *Session) IsModerator() bool {
	return s.SelfIdentity != "" && s.SelfIdentity == s.ModeratorIdentity
}
