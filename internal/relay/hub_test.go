package relay

import (
	"encoding/json"
	"testing"

	"meshmeet/internal/domain"
	"meshmeet/internal/signal"
)

func connect(t *testing.T, h *Hub, id domain.Identity) *clientConn {
	t.Helper()
	conn := &clientConn{send: make(chan signal.Frame, 32)}
	h.Connect(id, conn)

	// The identity assignment is the first frame.
	m := next(t, conn)
	if m.Type != signal.TypeID || m.From != id {
		t.Fatalf("identity frame = %+v", m)
	}
	return conn
}

func next(t *testing.T, c *clientConn) signal.Message {
	t.Helper()
	select {
	case f := <-c.send:
		var m signal.Message
		if err := json.Unmarshal(f, &m); err != nil {
			t.Fatal(err)
		}
		return m
	default:
		t.Fatal("no frame queued")
		return signal.Message{}
	}
}

func drain(c *clientConn) []signal.Message {
	var out []signal.Message
	for {
		select {
		case f := <-c.send:
			var m signal.Message
			_ = json.Unmarshal(f, &m)
			out = append(out, m)
		default:
			return out
		}
	}
}

func send(t *testing.T, h *Hub, from domain.Identity, m signal.Message) {
	t.Helper()
	b, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	h.Handle(from, b)
}

func TestCheckMeetingAnswersStatus(t *testing.T) {
	h := NewHub("")
	a := connect(t, h, "a")

	send(t, h, "a", signal.Message{Type: signal.TypeCheckMeeting, MeetingID: "m1", UserLimit: 2})
	res := next(t, a)
	if res.Type != signal.TypeCheckMeetingResult || !res.Result || res.Started {
		t.Fatalf("result = %+v", res)
	}
}

func TestUserLimitEnforced(t *testing.T) {
	h := NewHub("")
	a := connect(t, h, "a")
	b := connect(t, h, "b")
	c := connect(t, h, "c")

	send(t, h, "a", signal.Message{Type: signal.TypeCheckMeeting, MeetingID: "m1", UserLimit: 2})
	next(t, a)
	send(t, h, "a", signal.Message{Type: signal.TypeJoin, MeetingID: "m1", Username: "a"})
	send(t, h, "b", signal.Message{Type: signal.TypeCheckMeeting, MeetingID: "m1"})
	next(t, b)
	send(t, h, "b", signal.Message{Type: signal.TypeJoin, MeetingID: "m1", Username: "b"})

	send(t, h, "c", signal.Message{Type: signal.TypeCheckMeeting, MeetingID: "m1"})
	res := next(t, c)
	if res.Result || res.Text != "meeting_full" {
		t.Fatalf("result = %+v", res)
	}
}

func TestJoinBroadcastsToPeersOnly(t *testing.T) {
	h := NewHub("")
	a := connect(t, h, "a")
	b := connect(t, h, "b")

	send(t, h, "a", signal.Message{Type: signal.TypeJoin, MeetingID: "m1", Username: "alice"})
	send(t, h, "b", signal.Message{Type: signal.TypeJoin, MeetingID: "m1", Username: "bob"})

	msgs := drain(a)
	if len(msgs) != 1 || msgs[0].Type != signal.TypeJoin || msgs[0].From != "b" {
		t.Fatalf("a received %+v", msgs)
	}
	if got := drain(b); len(got) != 0 {
		t.Fatalf("joiner received its own join: %+v", got)
	}
}

func TestModeratorJoinStartsMeeting(t *testing.T) {
	h := NewHub("")
	a := connect(t, h, "a")
	connect(t, h, "mod")

	send(t, h, "a", signal.Message{Type: signal.TypeJoin, MeetingID: "m1", Username: "alice"})
	send(t, h, "mod", signal.Message{Type: signal.TypeJoin, MeetingID: "m1", Username: "host", IsModerator: true})

	msgs := drain(a)
	if len(msgs) != 2 {
		t.Fatalf("a received %d frames, want meetingStarted+join", len(msgs))
	}
	if msgs[0].Type != signal.TypeMeetingStarted {
		t.Fatalf("first frame = %+v", msgs[0])
	}
	if msgs[1].Type != signal.TypeJoin || msgs[1].From != "mod" {
		t.Fatalf("second frame = %+v", msgs[1])
	}

	// A later status query sees the started flag.
	c := connect(t, h, "c")
	send(t, h, "c", signal.Message{Type: signal.TypeCheckMeeting, MeetingID: "m1"})
	res := next(t, c)
	if !res.Started {
		t.Fatal("meeting not marked started")
	}
}

func TestTargetedForward(t *testing.T) {
	h := NewHub("")
	a := connect(t, h, "a")
	b := connect(t, h, "b")
	send(t, h, "a", signal.Message{Type: signal.TypeJoin, MeetingID: "m1"})
	send(t, h, "b", signal.Message{Type: signal.TypeJoin, MeetingID: "m1"})
	drain(a)
	drain(b)

	send(t, h, "a", signal.Message{Type: signal.TypeOffer, To: "b"})
	msgs := drain(b)
	if len(msgs) != 1 || msgs[0].Type != signal.TypeOffer || msgs[0].From != "a" {
		t.Fatalf("b received %+v", msgs)
	}
	if got := drain(a); len(got) != 0 {
		t.Fatalf("sender received %+v", got)
	}
}

func TestSenderIdentityStamped(t *testing.T) {
	h := NewHub("")
	a := connect(t, h, "a")
	b := connect(t, h, "b")
	send(t, h, "a", signal.Message{Type: signal.TypeJoin, MeetingID: "m1"})
	send(t, h, "b", signal.Message{Type: signal.TypeJoin, MeetingID: "m1"})
	drain(a)
	drain(b)

	// A spoofed fromSocketId is overwritten server-side.
	send(t, h, "a", signal.Message{Type: signal.TypeOffer, To: "b", From: "someone-else"})
	msgs := drain(b)
	if len(msgs) != 1 || msgs[0].From != "a" {
		t.Fatalf("b received %+v", msgs)
	}
}

func TestWaiterPromotedWhenHostJoins(t *testing.T) {
	h := NewHub("")
	waiter := connect(t, h, "waiter")

	// The waiter queries before the host ever connected.
	send(t, h, "waiter", signal.Message{Type: signal.TypeCheckMeeting, MeetingID: "m1", AuthMode: "enabled"})
	res := next(t, waiter)
	if !res.Result || res.Started {
		t.Fatalf("result = %+v", res)
	}
	send(t, h, "waiter", signal.Message{Type: signal.TypePermission, MeetingID: "m1", Username: "guest"})

	mod := connect(t, h, "mod")
	send(t, h, "mod", signal.Message{Type: signal.TypeCheckMeeting, MeetingID: "m1"})
	drain(mod)
	send(t, h, "mod", signal.Message{Type: signal.TypeJoin, MeetingID: "m1", Username: "host", IsModerator: true})

	// The waiter has not joined the mesh, so it must see exactly the
	// start broadcast, not the presence one.
	msgs := drain(waiter)
	if len(msgs) != 1 || msgs[0].Type != signal.TypeMeetingStarted {
		t.Fatalf("waiter received %+v, want meetingStarted", msgs)
	}
}

func TestUnjoinedPermissionReachesMeeting(t *testing.T) {
	h := NewHub("")
	mod := connect(t, h, "mod")
	send(t, h, "mod", signal.Message{Type: signal.TypeJoin, MeetingID: "m1", Username: "host", IsModerator: true})
	drain(mod)

	// A requester that only checkMeeting'd can still reach the meeting.
	waiter := connect(t, h, "waiter")
	send(t, h, "waiter", signal.Message{Type: signal.TypeCheckMeeting, MeetingID: "m1"})
	next(t, waiter)
	send(t, h, "waiter", signal.Message{Type: signal.TypePermission, MeetingID: "m1", Username: "guest"})

	msgs := drain(mod)
	if len(msgs) != 1 || msgs[0].Type != signal.TypePermission || msgs[0].From != "waiter" {
		t.Fatalf("moderator received %+v, want permission", msgs)
	}
}

func TestUnjoinedBroadcastRoutedByEnvelopeMeeting(t *testing.T) {
	h := NewHub("")
	mod := connect(t, h, "mod")
	send(t, h, "mod", signal.Message{Type: signal.TypeJoin, MeetingID: "m1", IsModerator: true})
	drain(mod)

	// No checkMeeting at all: only the envelope names the meeting.
	connect(t, h, "stranger")
	send(t, h, "stranger", signal.Message{Type: signal.TypePermission, MeetingID: "m1", Username: "guest"})

	msgs := drain(mod)
	if len(msgs) != 1 || msgs[0].Type != signal.TypePermission {
		t.Fatalf("moderator received %+v, want permission", msgs)
	}
}

func TestPendingWaiterDoesNotCountAgainstUserLimit(t *testing.T) {
	h := NewHub("")
	a := connect(t, h, "a")
	send(t, h, "a", signal.Message{Type: signal.TypeCheckMeeting, MeetingID: "m1", UserLimit: 2})
	next(t, a)
	send(t, h, "a", signal.Message{Type: signal.TypeJoin, MeetingID: "m1"})

	// Two pending waiters do not fill the meeting.
	w1 := connect(t, h, "w1")
	send(t, h, "w1", signal.Message{Type: signal.TypeCheckMeeting, MeetingID: "m1"})
	next(t, w1)

	w2 := connect(t, h, "w2")
	send(t, h, "w2", signal.Message{Type: signal.TypeCheckMeeting, MeetingID: "m1"})
	res := next(t, w2)
	if !res.Result {
		t.Fatalf("pending waiter counted against the limit: %+v", res)
	}
}

func TestDisconnectBroadcastsLeave(t *testing.T) {
	h := NewHub("")
	a := connect(t, h, "a")
	connect(t, h, "mod")
	send(t, h, "a", signal.Message{Type: signal.TypeJoin, MeetingID: "m1"})
	send(t, h, "mod", signal.Message{Type: signal.TypeJoin, MeetingID: "m1", IsModerator: true})
	drain(a)

	h.Disconnect("mod")
	msgs := drain(a)
	if len(msgs) != 1 || msgs[0].Type != signal.TypeLeave || msgs[0].From != "mod" || !msgs[0].IsModerator {
		t.Fatalf("a received %+v", msgs)
	}

	// Double disconnect is a no-op.
	h.Disconnect("mod")
	if got := drain(a); len(got) != 0 {
		t.Fatalf("duplicate disconnect produced %+v", got)
	}
}

func TestDisconnectBeforeJoinSilent(t *testing.T) {
	h := NewHub("")
	a := connect(t, h, "a")
	connect(t, h, "b")
	send(t, h, "a", signal.Message{Type: signal.TypeJoin, MeetingID: "m1"})

	h.Disconnect("b")
	if got := drain(a); len(got) != 0 {
		t.Fatalf("unjoined disconnect produced %+v", got)
	}
}

func TestMuteAllStateInheritedByLateJoiner(t *testing.T) {
	h := NewHub("")
	mod := connect(t, h, "mod")
	send(t, h, "mod", signal.Message{Type: signal.TypeJoin, MeetingID: "m1", IsModerator: true})
	send(t, h, "mod", signal.Message{Type: signal.TypeMuteAll, MeetingID: "m1", Value: true})
	drain(mod)

	late := connect(t, h, "late")
	send(t, h, "late", signal.Message{Type: signal.TypeCheckMeeting, MeetingID: "m1"})
	res := next(t, late)
	if !res.AllMuted {
		t.Fatal("late joiner not told about muteAll")
	}
}

func TestVerifyPassword(t *testing.T) {
	tests := []struct {
		name     string
		hubPass  string
		given    string
		want     bool
	}{
		{"no password configured", "", "anything", true},
		{"match", "s3cret", "s3cret", true},
		{"mismatch", "s3cret", "wrong", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHub(tt.hubPass)
			if got := h.VerifyPassword("m1", tt.given); got != tt.want {
				t.Fatalf("VerifyPassword = %v, want %v", got, tt.want)
			}
		})
	}
}
