// Package relay is the dumb signaling fan-out: it assigns identities,
// forwards targeted messages, broadcasts the rest to the meeting, and
// answers the few queries that need server-side state (meeting status,
// user limit, password). It never interprets session semantics.
package relay

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"meshmeet/internal/domain"
	"meshmeet/internal/signal"
)

type client struct {
	id          domain.Identity
	conn        *clientConn
	meetingID   domain.MeetingID
	username    string
	screen      bool
	isModerator bool
	joined      bool
}

type meeting struct {
	clients  map[domain.Identity]*client
	started  bool
	allMuted bool

	// Set by the first checkMeeting and answered back to later callers.
	authMode        string
	moderatorRights string
	userLimit       int
}

// Hub tracks connected clients grouped by meeting.
type Hub struct {
	// Password guards every meeting when non-empty; checked over HTTP
	// before signaling starts.
	Password string

	mu       sync.RWMutex
	clients  map[domain.Identity]*client
	meetings map[domain.MeetingID]*meeting
}

func NewHub(password string) *Hub {
	return &Hub{
		Password: password,
		clients:  make(map[domain.Identity]*client),
		meetings: make(map[domain.MeetingID]*meeting),
	}
}

// VerifyPassword backs the HTTP password check.
func (h *Hub) VerifyPassword(meetingID domain.MeetingID, password string) bool {
	return h.Password == "" || h.Password == password
}

// Connect registers a new client and tells it its identity.
func (h *Hub) Connect(id domain.Identity, conn *clientConn) {
	h.mu.Lock()
	h.clients[id] = &client{id: id, conn: conn}
	h.mu.Unlock()

	h.sendTo(id, signal.Message{Type: signal.TypeID, From: id})
	log.Info().Str("module", "relay").Str("identity", string(id)).Msg("client connected")
}

// Disconnect removes the client and propagates its departure to the
// meeting, so peers tear the connection down.
func (h *Hub) Disconnect(id domain.Identity) {
	h.mu.Lock()
	c, ok := h.clients[id]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, id)

	var peers []*client
	if c.meetingID != "" {
		if m, ok := h.meetings[c.meetingID]; ok {
			delete(m.clients, id)
			if len(m.clients) == 0 {
				delete(h.meetings, c.meetingID)
			} else if c.joined {
				peers = snapshotJoined(m, id)
			}
		}
	}
	h.mu.Unlock()

	if c.joined {
		leave := signal.Message{
			Type:        signal.TypeLeave,
			From:        id,
			MeetingID:   string(c.meetingID),
			Screen:      c.screen,
			IsModerator: c.isModerator,
		}
		for _, p := range peers {
			h.deliver(p, leave)
		}
	}
	log.Info().Str("module", "relay").Str("identity", string(id)).Msg("client disconnected")
}

// Handle processes one inbound frame from a client. The sender identity is
// stamped server-side; whatever the client claimed is discarded.
func (h *Hub) Handle(id domain.Identity, data []byte) {
	var m signal.Message
	if err := json.Unmarshal(data, &m); err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("bad frame")
		return
	}
	m.From = id

	switch m.Type {
	case signal.TypeCheckMeeting:
		h.checkMeeting(id, m)
	case signal.TypeJoin:
		h.join(id, m)
	case signal.TypeMuteAll:
		h.noteMuteAll(m)
		h.broadcast(id, m)
	default:
		if m.To != "" {
			h.forward(m)
			return
		}
		h.broadcast(id, m)
	}
}

// checkMeeting answers the admission status query and records the caller as
// a pending member of the meeting, so a waiter is reachable before it joins.
// The first caller for a meeting defines its policy settings.
func (h *Hub) checkMeeting(id domain.Identity, m signal.Message) {
	h.mu.Lock()
	c, ok := h.clients[id]
	if !ok {
		h.mu.Unlock()
		return
	}
	mt, ok := h.meetings[domain.MeetingID(m.MeetingID)]
	if !ok {
		mt = &meeting{
			clients:         make(map[domain.Identity]*client),
			authMode:        m.AuthMode,
			moderatorRights: m.ModeratorRights,
			userLimit:       m.UserLimit,
		}
		h.meetings[domain.MeetingID(m.MeetingID)] = mt
	}
	c.meetingID = domain.MeetingID(m.MeetingID)
	mt.clients[id] = c

	full := mt.userLimit > 0 && joinedCount(mt) >= mt.userLimit
	result := signal.Message{
		Type:            signal.TypeCheckMeetingResult,
		MeetingID:       m.MeetingID,
		Result:          !full,
		Started:         mt.started,
		AllMuted:        mt.allMuted,
		AuthMode:        mt.authMode,
		ModeratorRights: mt.moderatorRights,
	}
	h.mu.Unlock()
	if full {
		result.Text = "meeting_full"
	}
	h.sendTo(id, result)
}

// join adds the client to its meeting and rebroadcasts the presence. A
// moderator's join starts the meeting and releases anyone waiting on it.
func (h *Hub) join(id domain.Identity, m signal.Message) {
	meetingID := domain.MeetingID(m.MeetingID)

	h.mu.Lock()
	c, ok := h.clients[id]
	if !ok {
		h.mu.Unlock()
		return
	}
	c.meetingID = meetingID
	c.username = m.Username
	c.screen = m.Screen
	c.isModerator = m.IsModerator
	c.joined = true

	mt, ok := h.meetings[meetingID]
	if !ok {
		mt = &meeting{clients: make(map[domain.Identity]*client)}
		h.meetings[meetingID] = mt
	}
	mt.clients[id] = c

	starting := m.IsModerator && !m.Screen && !mt.started
	if starting {
		mt.started = true
	}
	allMuted := mt.allMuted
	// meetingStarted must reach pending waiters too; the presence broadcast
	// only concerns members already in the mesh.
	everyone := snapshot(mt, id)
	peers := snapshotJoined(mt, id)
	h.mu.Unlock()

	log.Info().
		Str("module", "relay").
		Str("identity", string(id)).
		Str("meeting", m.MeetingID).
		Bool("screen", m.Screen).
		Msg("join")

	if starting {
		started := signal.Message{
			Type:      signal.TypeMeetingStarted,
			MeetingID: m.MeetingID,
			AllMuted:  allMuted,
		}
		for _, p := range everyone {
			h.deliver(p, started)
		}
	}
	for _, p := range peers {
		h.deliver(p, m)
	}
}

func (h *Hub) noteMuteAll(m signal.Message) {
	h.mu.Lock()
	if mt, ok := h.meetings[domain.MeetingID(m.MeetingID)]; ok {
		mt.allMuted = m.Value
	}
	h.mu.Unlock()
}

func (h *Hub) forward(m signal.Message) {
	h.mu.RLock()
	c, ok := h.clients[m.To]
	h.mu.RUnlock()
	if !ok {
		log.Warn().Str("module", "relay").Str("to", string(m.To)).Str("type", m.Type).Msg("target gone")
		return
	}
	h.deliver(c, m)
}

// broadcast fans a message out to every joined member of the sender's
// meeting. A sender that has not joined yet (a waiter asking for
// permission) is routed by the envelope's meeting id.
func (h *Hub) broadcast(from domain.Identity, m signal.Message) {
	h.mu.RLock()
	meetingID := domain.MeetingID(m.MeetingID)
	if c, ok := h.clients[from]; ok && c.meetingID != "" {
		meetingID = c.meetingID
	}
	var peers []*client
	if mt, found := h.meetings[meetingID]; found {
		peers = snapshotJoined(mt, from)
	}
	h.mu.RUnlock()

	for _, p := range peers {
		h.deliver(p, m)
	}
}

func (h *Hub) sendTo(id domain.Identity, m signal.Message) {
	h.mu.RLock()
	c, ok := h.clients[id]
	h.mu.RUnlock()
	if ok {
		h.deliver(c, m)
	}
}

func (h *Hub) deliver(c *client, m signal.Message) {
	b, err := json.Marshal(m)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("marshal")
		return
	}
	if err := c.conn.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "relay").Str("identity", string(c.id)).Msg("drop frame")
	}
}

// snapshot collects every meeting member, pending included, except the
// given identity. Callers hold h.mu.
func snapshot(mt *meeting, except domain.Identity) []*client {
	out := make([]*client, 0, len(mt.clients))
	for id, c := range mt.clients {
		if id == except {
			continue
		}
		out = append(out, c)
	}
	return out
}

// snapshotJoined collects only members that have joined the mesh. Callers
// hold h.mu.
func snapshotJoined(mt *meeting, except domain.Identity) []*client {
	out := make([]*client, 0, len(mt.clients))
	for id, c := range mt.clients {
		if id == except || !c.joined {
			continue
		}
		out = append(out, c)
	}
	return out
}

// joinedCount reports mesh members, ignoring pending waiters. Callers hold
// h.mu.
func joinedCount(mt *meeting) int {
	n := 0
	for _, c := range mt.clients {
		if c.joined {
			n++
		}
	}
	return n
}
