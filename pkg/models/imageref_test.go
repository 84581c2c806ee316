package models

import (
	"encoding/json"
	"testing"
)

func TestParseImageRef(t *testing.T) {
	cases := []struct {
		raw  string
		kind ImageRefKind
	}{
		{"uploaded:0", ImageRefUploaded},
		{"uploaded:12", ImageRefUploaded},
		{"uploaded:abc", ImageRefLiteral},
		{"step:0:tool:call_abc", ImageRefArtifact},
		{"step:3:tool:toolu_01X", ImageRefArtifact},
		{"https://cdn.example.com/cat.png", ImageRefLiteral},
		{"data:image/png;base64,iVBOR", ImageRefLiteral},
		{"stepladder.png", ImageRefLiteral},
	}
	for _, tc := range cases {
		if got := ParseImageRef(tc.raw); got.Kind != tc.kind {
			t.Errorf("ParseImageRef(%q).Kind = %s, want %s", tc.raw, got.Kind, tc.kind)
		}
	}
}

func TestImageRefKeys(t *testing.T) {
	if got := ArtifactKey(2, "call_9"); got != "step:2:tool:call_9" {
		t.Errorf("ArtifactKey = %q", got)
	}
	if got := UploadedKey(1); got != "uploaded:1" {
		t.Errorf("UploadedKey = %q", got)
	}

	ref := ParseImageRef("uploaded:1")
	n, ok := ref.UploadedIndex()
	if !ok || n != 1 {
		t.Errorf("UploadedIndex() = %d, %v", n, ok)
	}
	if _, ok := ParseImageRef("https://x").UploadedIndex(); ok {
		t.Error("UploadedIndex() on a literal reported ok")
	}
}

func TestImageRefJSONRoundTrip(t *testing.T) {
	for _, raw := range []string{"uploaded:0", "step:1:tool:c2", "https://cdn.example.com/a.png"} {
		ref := ParseImageRef(raw)
		data, err := json.Marshal(ref)
		if err != nil {
			t.Fatalf("Marshal(%q) error = %v", raw, err)
		}
		if string(data) != `"`+raw+`"` {
			t.Errorf("Marshal(%q) = %s, want the wire string", raw, data)
		}

		var back ImageRef
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatalf("Unmarshal(%s) error = %v", data, err)
		}
		if back != ref {
			t.Errorf("round trip of %q = %+v, want %+v", raw, back, ref)
		}
	}
}

func TestSessionStatusTerminal(t *testing.T) {
	terminal := map[SessionStatus]bool{
		StatusIdle:        false,
		StatusRunning:     false,
		StatusWaitingTool: false,
		StatusCompleted:   true,
		StatusFailed:      true,
		StatusCancelled:   true,
	}
	for status, want := range terminal {
		if got := status.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", status, got, want)
		}
	}
}
