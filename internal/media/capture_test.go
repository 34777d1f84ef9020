package media

import (
	"context"
	"testing"
)

func TestSampleCaptureTracks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tests := []struct {
		name      string
		withVideo bool
		tracks    int
	}{
		{"audio only", false, 1},
		{"audio and video", true, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewSampleCapture(ctx, tt.withVideo)
			if err != nil {
				t.Fatal(err)
			}
			defer c.Close()

			if got := len(c.Tracks()); got != tt.tracks {
				t.Fatalf("tracks = %d, want %d", got, tt.tracks)
			}
			if c.HasVideo() != tt.withVideo {
				t.Fatalf("HasVideo = %v", c.HasVideo())
			}
		})
	}
}

func TestMuteKeepsTrackAttached(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := NewSampleCapture(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	c.SetAudioEnabled(false)
	c.SetVideoEnabled(false)
	if got := len(c.Tracks()); got != 2 {
		t.Fatalf("tracks = %d after mute, want 2", got)
	}
}
