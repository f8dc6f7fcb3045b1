package storage

import (
	"context"

	"github.com/iudanet/collabsync/internal/models"
)

// ContentStorage defines interface for persisted content state
type ContentStorage interface {
	// SaveState stores the state as the latest confirmed version of the content.
	// Existing state for the same content is overwritten.
	SaveState(ctx context.Context, state *models.SaveState) error

	// GetState retrieves the latest confirmed state for the content.
	// Returns ErrContentNotFound if the content was never saved.
	GetState(ctx context.Context, contentID string) (*models.SaveState, error)
}
