package admission

import (
	"context"
	"errors"
	"testing"
	"time"

	"meshmeet/internal/domain"
	"meshmeet/internal/signal"
)

type stubVerifier struct {
	ok  bool
	err error
}

func (v stubVerifier) Verify(ctx context.Context, meetingID domain.MeetingID, password string) (bool, error) {
	return v.ok, v.err
}

type outcome struct {
	admitted int
	rejected int
	waiting  int
	allMuted bool
	reason   string
	requests []domain.PermissionRequest
	sent     []signal.Message
	posted   chan func()
}

// pump runs the next continuation the controller posted from its password
// check goroutine.
func (o *outcome) pump(t *testing.T) {
	t.Helper()
	select {
	case fn := <-o.posted:
		fn()
	case <-time.After(time.Second):
		t.Fatal("no continuation posted")
	}
}

func newController(settings Settings, verifier PasswordVerifier) (*Controller, *outcome) {
	o := &outcome{posted: make(chan func(), 1)}
	c := &Controller{
		Session:  &domain.Session{MeetingID: "m1", SelfIdentity: "self"},
		Settings: settings,
		Verifier: verifier,
		Post:     func(fn func()) { o.posted <- fn },
		Send: func(m signal.Message) error {
			o.sent = append(o.sent, m)
			return nil
		},
		OnAdmitted: func(allMuted bool, chatBotName string) {
			o.admitted++
			o.allMuted = allMuted
		},
		OnRejected: func(reason string) {
			o.rejected++
			o.reason = reason
		},
		OnWaiting: func() { o.waiting++ },
		OnPermissionRequest: func(req domain.PermissionRequest) {
			o.requests = append(o.requests, req)
		},
	}
	return c, o
}

func TestAutoAdmit(t *testing.T) {
	tests := []struct {
		name     string
		settings Settings
		result   signal.Message
	}{
		{
			name:     "host joins its own meeting",
			settings: Settings{Username: "alice", Host: true, AuthMode: "enabled"},
			result:   signal.Message{Type: signal.TypeCheckMeetingResult, Result: true},
		},
		{
			name:     "auth disabled skips approval",
			settings: Settings{Username: "bob", AuthMode: "disabled"},
			result:   signal.Message{Type: signal.TypeCheckMeetingResult, Result: true},
		},
		{
			name:     "meeting already started",
			settings: Settings{Username: "carol", AuthMode: "enabled"},
			result:   signal.Message{Type: signal.TypeCheckMeetingResult, Result: true, Started: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, o := newController(tt.settings, nil)
			c.Join(context.Background(), "")
			if len(o.sent) != 1 || o.sent[0].Type != signal.TypeCheckMeeting {
				t.Fatalf("expected one checkMeeting, got %+v", o.sent)
			}
			c.HandleAdmissionResult(tt.result)
			if o.admitted != 1 {
				t.Fatalf("admitted = %d, want 1", o.admitted)
			}
			if o.waiting != 0 {
				t.Fatal("auto-admit went through the waiting phase")
			}
		})
	}
}

func TestPasswordVerifiedAdmitsWithoutApproval(t *testing.T) {
	c, o := newController(Settings{Username: "dave", PasswordRequired: true, AuthMode: "enabled"}, stubVerifier{ok: true})
	c.Join(context.Background(), "secret")

	// The verify runs off the loop; nothing goes out until it lands.
	if len(o.sent) != 0 {
		t.Fatal("checkMeeting sent before password verified")
	}
	o.pump(t)
	if len(o.sent) != 1 || o.sent[0].Type != signal.TypeCheckMeeting {
		t.Fatalf("expected one checkMeeting, got %+v", o.sent)
	}

	c.HandleAdmissionResult(signal.Message{Type: signal.TypeCheckMeetingResult, Result: true})
	if o.admitted != 1 {
		t.Fatalf("admitted = %d, want 1", o.admitted)
	}
}

func TestInvalidPasswordRejects(t *testing.T) {
	c, o := newController(Settings{Username: "dave", PasswordRequired: true}, stubVerifier{ok: false})
	c.Join(context.Background(), "wrong")
	o.pump(t)
	if o.rejected != 1 || o.reason != "invalid_password" {
		t.Fatalf("rejected=%d reason=%q", o.rejected, o.reason)
	}
	if len(o.sent) != 0 {
		t.Fatal("checkMeeting sent despite failed password")
	}
}

func TestPasswordCheckErrorRejects(t *testing.T) {
	c, o := newController(Settings{PasswordRequired: true}, stubVerifier{err: errors.New("boom")})
	c.Join(context.Background(), "x")
	o.pump(t)
	if o.rejected != 1 || o.reason != "cant_connect" {
		t.Fatalf("rejected=%d reason=%q", o.rejected, o.reason)
	}
}

func TestWaitingThenModeratorApproves(t *testing.T) {
	c, o := newController(Settings{Username: "eve", AuthMode: "enabled"}, nil)
	c.Join(context.Background(), "")
	c.HandleAdmissionResult(signal.Message{Type: signal.TypeCheckMeetingResult, Result: true})

	if o.waiting != 1 {
		t.Fatalf("waiting = %d, want 1", o.waiting)
	}
	if o.admitted != 0 {
		t.Fatal("admitted while waiting")
	}
	last := o.sent[len(o.sent)-1]
	if last.Type != signal.TypePermission {
		t.Fatalf("expected permission request, got %+v", last)
	}

	c.HandleAdmissionResult(signal.Message{Type: signal.TypePermissionResult, Result: true, AllMuted: true})
	if o.admitted != 1 || !o.allMuted {
		t.Fatalf("admitted=%d allMuted=%v", o.admitted, o.allMuted)
	}

	// Duplicate resolution is a no-op.
	c.HandleAdmissionResult(signal.Message{Type: signal.TypePermissionResult, Result: true})
	if o.admitted != 1 {
		t.Fatalf("admitted = %d after duplicate, want 1", o.admitted)
	}
}

func TestWaitingThenMeetingStartedPromotesOnce(t *testing.T) {
	c, o := newController(Settings{Username: "eve", AuthMode: "enabled"}, nil)
	c.Join(context.Background(), "")
	c.HandleAdmissionResult(signal.Message{Type: signal.TypeCheckMeetingResult, Result: true})

	c.HandleMeetingStarted(signal.Message{Type: signal.TypeMeetingStarted})
	if o.admitted != 1 {
		t.Fatalf("admitted = %d, want 1", o.admitted)
	}
	c.HandleMeetingStarted(signal.Message{Type: signal.TypeMeetingStarted})
	if o.admitted != 1 {
		t.Fatalf("admitted = %d after duplicate start, want 1", o.admitted)
	}
}

func TestDeclineCarriesReason(t *testing.T) {
	c, o := newController(Settings{Username: "eve", AuthMode: "enabled"}, nil)
	c.Join(context.Background(), "")
	c.HandleAdmissionResult(signal.Message{Type: signal.TypeCheckMeetingResult, Result: true})
	c.HandleAdmissionResult(signal.Message{Type: signal.TypePermissionResult, Result: false})
	if o.rejected != 1 || o.reason != "request_declined" {
		t.Fatalf("rejected=%d reason=%q", o.rejected, o.reason)
	}
}

func TestMeetingFullRejects(t *testing.T) {
	c, o := newController(Settings{Username: "frank", AuthMode: "disabled"}, nil)
	c.Join(context.Background(), "")
	c.HandleAdmissionResult(signal.Message{Type: signal.TypeCheckMeetingResult, Result: false, Text: "meeting_full"})
	if o.rejected != 1 || o.reason != "meeting_full" {
		t.Fatalf("rejected=%d reason=%q", o.rejected, o.reason)
	}
}

func TestModeratorResolveIdempotent(t *testing.T) {
	c, o := newController(Settings{Username: "mod", Host: true}, nil)
	c.Session.ModeratorIdentity = "self"

	c.HandlePermission(signal.Message{Type: signal.TypePermission, From: "peer1", Username: "guest"})
	c.HandlePermission(signal.Message{Type: signal.TypePermission, From: "peer1", Username: "guest"})
	if len(o.requests) != 1 {
		t.Fatalf("requests = %d, want 1 (duplicate ignored)", len(o.requests))
	}

	key := o.requests[0].Key()
	if !c.Pending(key) {
		t.Fatal("request not pending")
	}
	c.Resolve(key, true)
	if c.Pending(key) {
		t.Fatal("request still pending after resolve")
	}
	last := o.sent[len(o.sent)-1]
	if last.Type != signal.TypePermissionResult || !last.Result || last.To != "peer1" {
		t.Fatalf("unexpected result message %+v", last)
	}

	before := len(o.sent)
	c.Resolve(key, false)
	if len(o.sent) != before {
		t.Fatal("resolved request was actionable twice")
	}
}

func TestModeratorDeclineSendsReason(t *testing.T) {
	c, o := newController(Settings{Username: "mod", Host: true}, nil)
	c.HandleRecordingPermission(signal.Message{Type: signal.TypeRecordingPermission, From: "peer2", Username: "guest"})
	key := o.requests[0].Key()
	c.Resolve(key, false)
	last := o.sent[len(o.sent)-1]
	if last.Type != signal.TypeRecordingPermissionResult || last.Result || last.Text != "request_declined" {
		t.Fatalf("unexpected decline message %+v", last)
	}
}

func TestFeaturePermissionResults(t *testing.T) {
	c, _ := newController(Settings{Username: "eve"}, nil)
	var recording, screen []bool
	c.OnRecordingResult = func(ok bool) { recording = append(recording, ok) }
	c.OnScreenShareResult = func(ok bool) { screen = append(screen, ok) }

	c.HandleRecordingPermissionResult(signal.Message{Type: signal.TypeRecordingPermissionResult, Result: true})
	c.HandleScreenSharePermissionResult(signal.Message{Type: signal.TypeScreenSharePermissionResult, Result: false})

	if len(recording) != 1 || !recording[0] {
		t.Fatalf("recording results = %v", recording)
	}
	if len(screen) != 1 || screen[0] {
		t.Fatalf("screen results = %v", screen)
	}
}
