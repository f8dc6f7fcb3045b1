package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/iudanet/collabsync/internal/models"
	"github.com/iudanet/collabsync/internal/server/storage"
)

// SaveState stores the state as the latest confirmed version of the content.
// Existing state for the same content is overwritten.
func (s *Storage) SaveState(ctx context.Context, state *models.SaveState) error {
	snapshot, err := json.Marshal(state.Content)
	if err != nil {
		return fmt.Errorf("failed to marshal content snapshot: %w", err)
	}

	query := `
		INSERT INTO content_saves (
			content_id, author_id, version, checksum, snapshot, saved_at
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(content_id) DO UPDATE SET
			author_id = excluded.author_id,
			version = excluded.version,
			checksum = excluded.checksum,
			snapshot = excluded.snapshot,
			saved_at = excluded.saved_at
	`

	_, err = s.db.ExecContext(ctx, query,
		state.ContentID,
		state.AuthorID,
		state.Version,
		state.Checksum,
		string(snapshot),
		state.Timestamp.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save content state: %w", err)
	}

	return nil
}

// GetState retrieves the latest confirmed state for the content.
// Returns ErrContentNotFound if the content was never saved.
func (s *Storage) GetState(ctx context.Context, contentID string) (*models.SaveState, error) {
	query := `
		SELECT content_id, author_id, version, checksum, snapshot, saved_at
		FROM content_saves
		WHERE content_id = ?
	`

	var (
		state    models.SaveState
		snapshot string
		savedAt  int64
	)

	err := s.db.QueryRowContext(ctx, query, contentID).Scan(
		&state.ContentID,
		&state.AuthorID,
		&state.Version,
		&state.Checksum,
		&snapshot,
		&savedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrContentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get content state: %w", err)
	}

	if err := json.Unmarshal([]byte(snapshot), &state.Content); err != nil {
		return nil, fmt.Errorf("failed to unmarshal content snapshot: %w", err)
	}
	state.Timestamp = time.UnixMilli(savedAt)

	return &state, nil
}
