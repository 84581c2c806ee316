package sessions

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pixelforge/pixelforge/pkg/models"
)

// Manager is the state manager for sessions. It owns ID generation and
// timestamps and delegates persistence to a StorageProvider.
type Manager struct {
	store  StorageProvider
	logger *slog.Logger
}

// NewManager creates a manager over the given store.
func NewManager(store StorageProvider, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, logger: logger}
}

// Create persists a new idle session for the user.
func (m *Manager) Create(ctx context.Context, userID string, cfg models.SessionConfig) (*models.Session, error) {
	now := time.Now()
	session := &models.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Status:    models.StatusIdle,
		Config:    cfg,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.Save(ctx, session); err != nil {
		return nil, err
	}
	m.logger.Info("session created",
		"session_id", session.ID,
		"user_id", userID,
		"model", cfg.Model)
	return session, nil
}

// Get loads a session by ID.
func (m *Manager) Get(ctx context.Context, id string) (*models.Session, error) {
	return m.store.Load(ctx, id)
}

// ListForUser returns the user's sessions, newest first.
func (m *Manager) ListForUser(ctx context.Context, userID string) ([]*models.Session, error) {
	return m.store.List(ctx, userID)
}

// Update persists the session's current state.
func (m *Manager) Update(ctx context.Context, session *models.Session) error {
	return m.store.Save(ctx, session)
}

// Delete removes a session.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.store.Delete(ctx, id); err != nil {
		return err
	}
	m.logger.Info("session deleted", "session_id", id)
	return nil
}
