package postgresql

// migrations returns the ordered schema migrations for the journey engine.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS journeys (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL,
				trigger JSONB NOT NULL,
				steps JSONB NOT NULL DEFAULT '[]',
				reentry_policy TEXT NOT NULL DEFAULT 'deny',
				max_attempts INTEGER NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				activated_at TIMESTAMP WITH TIME ZONE
			);

			CREATE TABLE IF NOT EXISTS enrollments (
				id TEXT PRIMARY KEY,
				journey_id TEXT NOT NULL,
				subject_id TEXT NOT NULL,
				status TEXT NOT NULL,
				current_step_id TEXT NOT NULL DEFAULT '',
				next_run_at TIMESTAMP WITH TIME ZONE,
				entered_at TIMESTAMP WITH TIME ZONE NOT NULL,
				finished_at TIMESTAMP WITH TIME ZONE,
				attempts INTEGER NOT NULL DEFAULT 0,
				context JSONB,
				history JSONB NOT NULL DEFAULT '[]',
				version BIGINT NOT NULL DEFAULT 1,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			-- The re-entry invariant: at most one non-terminal enrollment
			-- per (subject, journey) pair, enforced by the database.
			CREATE UNIQUE INDEX IF NOT EXISTS enrollments_single_active
				ON enrollments (subject_id, journey_id)
				WHERE status IN ('active', 'waiting');

			CREATE INDEX IF NOT EXISTS enrollments_due
				ON enrollments (next_run_at)
				WHERE status IN ('active', 'waiting');

			CREATE INDEX IF NOT EXISTS enrollments_by_journey
				ON enrollments (journey_id);

			CREATE TABLE IF NOT EXISTS journey_stats (
				journey_id TEXT PRIMARY KEY,
				enrolled BIGINT NOT NULL DEFAULT 0,
				active BIGINT NOT NULL DEFAULT 0,
				completed BIGINT NOT NULL DEFAULT 0,
				failed BIGINT NOT NULL DEFAULT 0,
				exited BIGINT NOT NULL DEFAULT 0,
				channel_triggered JSONB NOT NULL DEFAULT '{}',
				channel_delivered JSONB NOT NULL DEFAULT '{}',
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);
		`,
	}
}
