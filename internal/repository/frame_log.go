package repository

import (
	"context"
	"database/sql"
)

// FrameLog stores raw OCPP frames.
type FrameLog struct {
	db            *sql.DB
	chargePointID string
}

func NewFrameLog(db *sql.DB, chargePointID string) *FrameLog {
	return &FrameLog{db: db, chargePointID: chargePointID}
}

// Save stores one frame as sent or received.
func (r *FrameLog) Save(ctx context.Context, direction, messageType string, frame []byte) error {
	const query = `
		INSERT INTO ocpp_frames (charge_point_id, direction, message_type, payload)
		VALUES ($1, $2, $3, $4)
	`
	_, err := r.db.ExecContext(ctx, query, r.chargePointID, direction, messageType, frame)
	return err
}
