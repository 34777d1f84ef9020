package composer

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSyntheticSubstitutionWhenAudioOnly(t *testing.T) {
	c := &Composer{FrameInterval: 33 * time.Millisecond}
	mix, err := c.Start(context.Background(), []Stream{
		{ID: "a", HasAudio: true},
		{ID: "b", HasAudio: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	if mix.Synthetic == nil {
		t.Fatal("no synthetic video for audio-only mix")
	}
	if len(mix.Inputs) != 2 {
		t.Fatalf("inputs = %d, want 2", len(mix.Inputs))
	}
}

func TestNoSyntheticWhenVideoPresent(t *testing.T) {
	c := &Composer{}
	mix, err := c.Start(context.Background(), []Stream{
		{ID: "a", HasAudio: true, HasVideo: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	if mix.Synthetic != nil {
		t.Fatal("synthetic substituted despite live video")
	}
}

func TestRefreshSwapsSynthetic(t *testing.T) {
	c := &Composer{}
	_, err := c.Start(context.Background(), []Stream{{ID: "a", HasAudio: true}})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	if c.Current().Synthetic == nil {
		t.Fatal("expected synthetic at start")
	}

	// A camera turns on mid-recording: the blank track goes away.
	if err := c.Refresh([]Stream{{ID: "a", HasAudio: true, HasVideo: true}}); err != nil {
		t.Fatal(err)
	}
	if c.Current().Synthetic != nil {
		t.Fatal("synthetic kept after video appeared")
	}

	// And back off again.
	if err := c.Refresh([]Stream{{ID: "a", HasAudio: true}}); err != nil {
		t.Fatal(err)
	}
	if c.Current().Synthetic == nil {
		t.Fatal("synthetic not restored after video left")
	}
}

func TestRefreshNotifies(t *testing.T) {
	c := &Composer{}
	changes := 0
	c.OnMixChanged = func(Mix) { changes++ }

	_, _ = c.Start(context.Background(), []Stream{{ID: "a", HasAudio: true}})
	defer c.Stop()

	_ = c.Refresh([]Stream{{ID: "a", HasAudio: true}, {ID: "b", HasAudio: true}})
	if changes != 1 {
		t.Fatalf("changes = %d, want 1", changes)
	}
	if len(c.Current().Inputs) != 2 {
		t.Fatalf("inputs = %d, want 2", len(c.Current().Inputs))
	}
}

func TestRefreshWithoutStart(t *testing.T) {
	c := &Composer{}
	if err := c.Refresh(nil); !errors.Is(err, ErrNotRecording) {
		t.Fatalf("err = %v, want ErrNotRecording", err)
	}
}

func TestWhiteboardJoinsMix(t *testing.T) {
	c := &Composer{
		Whiteboard: func() (Stream, bool) {
			return Stream{ID: "whiteboard", HasVideo: true}, true
		},
	}
	mix, err := c.Start(context.Background(), []Stream{{ID: "a", HasAudio: true}})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	if len(mix.Inputs) != 2 || mix.Inputs[1].ID != "whiteboard" {
		t.Fatalf("inputs = %+v", mix.Inputs)
	}
	if mix.Synthetic != nil {
		t.Fatal("whiteboard canvas counts as video, no synthetic needed")
	}
}

func TestStopResets(t *testing.T) {
	c := &Composer{}
	_, _ = c.Start(context.Background(), []Stream{{ID: "a", HasAudio: true}})
	c.Stop()
	if c.Mixing() {
		t.Fatal("still mixing after stop")
	}
	if len(c.Current().Inputs) != 0 {
		t.Fatal("current mix not cleared")
	}
	// Stop again is a no-op.
	c.Stop()
}
