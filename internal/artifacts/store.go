// Package artifacts tracks the images available to a session: uploads
// attached to the current user message and outputs produced by earlier
// tool calls. Tool arguments reference these indirectly, so conversation
// history and model payloads never embed image data.
package artifacts

import (
	"log/slog"
	"sync"
	"time"

	"github.com/pixelforge/pixelforge/pkg/models"
)

// Image is one stored image value with its provenance.
type Image struct {
	// Key is the wire reference ("step:<i>:tool:<callID>" for artifacts).
	Key string
	// Value is the URL or data URI handlers operate on.
	Value string
	// ToolName is the tool that produced the image, empty for uploads.
	ToolName  string
	StepIndex int
	CallID    string
	CreatedAt time.Time
}

type sessionImages struct {
	// uploads holds the current message's attachments by position.
	// Replaced wholesale at the start of each turn.
	uploads   []string
	artifacts map[string]*Image
}

// Store keeps per-session image state. Safe for concurrent use, though
// each session is normally touched by a single orchestrator loop.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*sessionImages
	logger   *slog.Logger
}

// NewStore creates an empty image store.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		sessions: make(map[string]*sessionImages),
		logger:   logger,
	}
}

func (s *Store) session(sessionID string) *sessionImages {
	si, ok := s.sessions[sessionID]
	if !ok {
		si = &sessionImages{artifacts: make(map[string]*Image)}
		s.sessions[sessionID] = si
	}
	return si
}

// SetUploads replaces the session's current-message uploads. Called at
// the start of every turn, including with nil when nothing is attached.
func (s *Store) SetUploads(sessionID string, values []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	si := s.session(sessionID)
	si.uploads = append([]string(nil), values...)
}

// Upload returns the nth attachment of the current message.
func (s *Store) Upload(sessionID string, n int) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	si, ok := s.sessions[sessionID]
	if !ok || n < 0 || n >= len(si.uploads) {
		return "", false
	}
	return si.uploads[n], true
}

// PutArtifact records the image produced by a tool call. The key is
// derived from the step index and call ID so later arguments can name it.
func (s *Store) PutArtifact(sessionID string, img *Image) string {
	key := models.ArtifactKey(img.StepIndex, img.CallID)
	img.Key = key
	if img.CreatedAt.IsZero() {
		img.CreatedAt = time.Now()
	}

	s.mu.Lock()
	s.session(sessionID).artifacts[key] = img
	s.mu.Unlock()

	s.logger.Debug("artifact stored",
		"session_id", sessionID,
		"key", key,
		"tool", img.ToolName)
	return key
}

// Artifact returns the image stored under the given reference key.
func (s *Store) Artifact(sessionID, key string) (*Image, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	si, ok := s.sessions[sessionID]
	if !ok {
		return nil, false
	}
	img, ok := si.artifacts[key]
	return img, ok
}

// List returns every artifact recorded for the session, in no
// particular order.
func (s *Store) List(sessionID string) []*Image {
	s.mu.RLock()
	defer s.mu.RUnlock()
	si, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]*Image, 0, len(si.artifacts))
	for _, img := range si.artifacts {
		out = append(out, img)
	}
	return out
}

// Drop discards all image state for a session. Called on session delete.
func (s *Store) Drop(sessionID string) {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
}
