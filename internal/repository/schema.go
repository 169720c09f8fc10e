package repository

// Schema creates the tables used by the repositories. Statements are idempotent.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS ocpp_frames (
		id BIGSERIAL PRIMARY KEY,
		charge_point_id TEXT NOT NULL,
		direction TEXT NOT NULL,
		message_type TEXT NOT NULL,
		payload JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS charging_sessions (
		transaction_id INTEGER NOT NULL,
		charge_point_id TEXT NOT NULL,
		connector_id INTEGER NOT NULL,
		id_tag TEXT NOT NULL,
		meter_start_wh INTEGER NOT NULL,
		meter_now_wh INTEGER NOT NULL,
		meter_stop_wh INTEGER,
		stop_sent BOOLEAN NOT NULL DEFAULT FALSE,
		started_at TIMESTAMPTZ NOT NULL,
		stopped_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (charge_point_id, transaction_id)
	)`,
}
