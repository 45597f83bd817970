package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/linkpass/server/internal/model"
)

// ActivityRepo appends audit entries. Writes are best-effort at the call
// sites: a failed write is logged there, never propagated to the client.
type ActivityRepo interface {
	Record(ctx context.Context, rec model.ActivityRecord) error
}

type activityRepo struct {
	db *sql.DB
}

// NewActivityRepo creates a new ActivityRepo instance
func NewActivityRepo(db *sql.DB) ActivityRepo {
	return &activityRepo{db: db}
}

// Record appends one audit entry
func (r *activityRepo) Record(ctx context.Context, rec model.ActivityRecord) error {
	metadata := rec.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal activity metadata: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO activity_log (activity_type, user_id, display_identity, metadata, device_id, ip_address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		string(rec.Type),
		rec.UserID,
		rec.DisplayIdentity,
		metaJSON,
		rec.DeviceID,
		rec.IPAddress,
		rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert activity record: %w", err)
	}
	return nil
}
