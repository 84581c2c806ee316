package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ImageRefKind tags how an image argument should be resolved.
type ImageRefKind string

const (
	// ImageRefLiteral is a URL or data URI passed through unchanged.
	ImageRefLiteral ImageRefKind = "literal"

	// ImageRefUploaded points at an image attached to the current user
	// message, by position.
	ImageRefUploaded ImageRefKind = "uploaded"

	// ImageRefArtifact points at the image produced by an earlier tool
	// call in this session.
	ImageRefArtifact ImageRefKind = "artifact"
)

// ImageRef is a tagged reference to an image available to a session.
// The wire form is a plain string:
//
//	"uploaded:<n>"              image n attached to the current message
//	"step:<i>:tool:<callID>"    output of a prior tool call
//	anything else               literal URL or data URI
//
// A single resolver interprets the reference at execution time; handlers
// never see the sentinel forms.
type ImageRef struct {
	Kind  ImageRefKind
	Value string
}

// ParseImageRef classifies a raw argument string into a tagged reference.
func ParseImageRef(raw string) ImageRef {
	if rest, ok := strings.CutPrefix(raw, "uploaded:"); ok {
		if _, err := strconv.Atoi(rest); err == nil {
			return ImageRef{Kind: ImageRefUploaded, Value: rest}
		}
	}
	if strings.HasPrefix(raw, "step:") && strings.Contains(raw, ":tool:") {
		return ImageRef{Kind: ImageRefArtifact, Value: raw}
	}
	return ImageRef{Kind: ImageRefLiteral, Value: raw}
}

// ArtifactKey builds the reference key for an image produced by a tool call.
func ArtifactKey(stepIndex int, callID string) string {
	return fmt.Sprintf("step:%d:tool:%s", stepIndex, callID)
}

// UploadedKey builds the reference key for the nth uploaded image.
func UploadedKey(n int) string {
	return "uploaded:" + strconv.Itoa(n)
}

// UploadedIndex returns the position for an uploaded reference.
func (r ImageRef) UploadedIndex() (int, bool) {
	if r.Kind != ImageRefUploaded {
		return 0, false
	}
	n, err := strconv.Atoi(r.Value)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// String returns the wire form of the reference.
func (r ImageRef) String() string {
	if r.Kind == ImageRefUploaded {
		return "uploaded:" + r.Value
	}
	return r.Value
}

// MarshalJSON encodes the reference as its wire string.
func (r ImageRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// UnmarshalJSON decodes the wire string back into a tagged reference.
func (r *ImageRef) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = ParseImageRef(raw)
	return nil
}
