package repository

import (
	"context"
	"database/sql"
	"time"

	"chargepoint/internal/station"
)

// SessionEntry is one row of the charging session log.
type SessionEntry struct {
	TransactionID int        `json:"transaction_id"`
	ConnectorID   int        `json:"connector_id"`
	IdTag         string     `json:"id_tag"`
	MeterStartWh  int        `json:"meter_start_wh"`
	MeterNowWh    int        `json:"meter_now_wh"`
	MeterStopWh   *int       `json:"meter_stop_wh,omitempty"`
	StopSent      bool       `json:"stop_sent"`
	StartedAt     time.Time  `json:"started_at"`
	StoppedAt     *time.Time `json:"stopped_at,omitempty"`
}

// SessionJournal keeps the charging session log in Postgres.
type SessionJournal struct {
	db            *sql.DB
	chargePointID string
}

func NewSessionJournal(db *sql.DB, chargePointID string) *SessionJournal {
	return &SessionJournal{db: db, chargePointID: chargePointID}
}

var _ station.Journal = (*SessionJournal)(nil)

// Started records a new transaction. A transaction id seen again overwrites the old row.
func (r *SessionJournal) Started(ctx context.Context, tx station.Transaction) error {
	const query = `
		INSERT INTO charging_sessions (transaction_id, charge_point_id, connector_id, id_tag, meter_start_wh, meter_now_wh, started_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5, $6, NOW())
		ON CONFLICT (charge_point_id, transaction_id) DO UPDATE SET
			connector_id = EXCLUDED.connector_id,
			id_tag = EXCLUDED.id_tag,
			meter_start_wh = EXCLUDED.meter_start_wh,
			meter_now_wh = EXCLUDED.meter_now_wh,
			meter_stop_wh = NULL,
			stop_sent = FALSE,
			started_at = EXCLUDED.started_at,
			stopped_at = NULL,
			updated_at = NOW()
	`
	_, err := r.db.ExecContext(ctx, query,
		tx.ID,
		r.chargePointID,
		tx.ConnectorID,
		tx.IdTag,
		tx.MeterStartWh,
		tx.StartedAt.UTC(),
	)
	return err
}

// MeterUpdated moves the current meter value of an open transaction.
func (r *SessionJournal) MeterUpdated(ctx context.Context, transactionID, meterWh int) error {
	const query = `
		UPDATE charging_sessions
		SET meter_now_wh = $3,
		    updated_at = NOW()
		WHERE charge_point_id = $1 AND transaction_id = $2 AND stopped_at IS NULL
	`
	_, err := r.db.ExecContext(ctx, query, r.chargePointID, transactionID, meterWh)
	return err
}

// Stopped closes a transaction. It reports sql.ErrNoRows when the transaction was never started.
func (r *SessionJournal) Stopped(ctx context.Context, transactionID, meterStopWh int, sent bool, at time.Time) error {
	const query = `
		UPDATE charging_sessions
		SET meter_now_wh = $3,
		    meter_stop_wh = $3,
		    stop_sent = $4,
		    stopped_at = $5,
		    updated_at = NOW()
		WHERE charge_point_id = $1 AND transaction_id = $2
	`
	result, err := r.db.ExecContext(ctx, query, r.chargePointID, transactionID, meterStopWh, sent, at.UTC())
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Recent returns the last limit sessions, newest first.
func (r *SessionJournal) Recent(ctx context.Context, limit int) ([]SessionEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
		SELECT transaction_id, connector_id, id_tag, meter_start_wh, meter_now_wh, meter_stop_wh, stop_sent, started_at, stopped_at
		FROM charging_sessions
		WHERE charge_point_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, r.chargePointID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []SessionEntry
	for rows.Next() {
		var (
			e       SessionEntry
			stopWh  sql.NullInt64
			stopped sql.NullTime
		)
		if err := rows.Scan(
			&e.TransactionID,
			&e.ConnectorID,
			&e.IdTag,
			&e.MeterStartWh,
			&e.MeterNowWh,
			&stopWh,
			&e.StopSent,
			&e.StartedAt,
			&stopped,
		); err != nil {
			return nil, err
		}
		if stopWh.Valid {
			v := int(stopWh.Int64)
			e.MeterStopWh = &v
		}
		if stopped.Valid {
			t := stopped.Time
			e.StoppedAt = &t
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
