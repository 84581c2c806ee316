// Package sessions persists agent sessions. The default store keeps
// everything in memory; the SQLite store is a durable drop-in behind
// the same interface.
package sessions

import (
	"context"
	"errors"

	"github.com/pixelforge/pixelforge/pkg/models"
)

// ErrNotFound is returned when a session ID is unknown.
var ErrNotFound = errors.New("session not found")

// StorageProvider is the persistence interface for sessions. Save
// overwrites the full session record; implementations must return
// defensive copies from Load and List so callers can mutate freely.
type StorageProvider interface {
	Save(ctx context.Context, session *models.Session) error
	Load(ctx context.Context, id string) (*models.Session, error)
	List(ctx context.Context, userID string) ([]*models.Session, error)
	Delete(ctx context.Context, id string) error
}

func cloneSession(s *models.Session) *models.Session {
	clone := *s
	clone.Messages = make([]*models.Message, len(s.Messages))
	for i, msg := range s.Messages {
		m := *msg
		m.ToolCalls = append([]models.ToolCall(nil), msg.ToolCalls...)
		m.Images = append([]models.ImageRef(nil), msg.Images...)
		clone.Messages[i] = &m
	}
	clone.Steps = make([]*models.Step, len(s.Steps))
	for i, step := range s.Steps {
		st := *step
		if step.Assistant != nil {
			a := *step.Assistant
			a.ToolCalls = append([]models.ToolCall(nil), step.Assistant.ToolCalls...)
			st.Assistant = &a
		}
		st.Executions = make([]*models.ToolExecution, len(step.Executions))
		for j, exec := range step.Executions {
			e := *exec
			st.Executions[j] = &e
		}
		clone.Steps[i] = &st
	}
	if s.LastError != nil {
		e := *s.LastError
		clone.LastError = &e
	}
	clone.Config.AvailableTools = append([]string(nil), s.Config.AvailableTools...)
	return &clone
}
