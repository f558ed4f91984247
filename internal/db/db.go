package db

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Connect initializes the database connection and runs migrations.
func Connect(dsn string, maxOpenConns int, log *slog.Logger) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	log.Info("database migrations applied")
	return db, nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS groups (
            id SERIAL PRIMARY KEY,
            name TEXT NOT NULL,
            owner_id INT NOT NULL,
            slow_mode_seconds INT NOT NULL DEFAULT 0 CHECK (slow_mode_seconds >= 0),
            chat_config JSONB NOT NULL DEFAULT '{}'::jsonb,
            created_at TIMESTAMPTZ DEFAULT NOW()
        );`,
	`CREATE TABLE IF NOT EXISTS group_members (
            group_id INT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
            user_id INT NOT NULL,
            alias TEXT NOT NULL,
            role TEXT NOT NULL DEFAULT 'member' CHECK (role IN ('member', 'moderator', 'owner')),
            active BOOLEAN NOT NULL DEFAULT TRUE,
            silenced_until TIMESTAMPTZ,
            banned BOOLEAN NOT NULL DEFAULT FALSE,
            joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            PRIMARY KEY(group_id, user_id)
        );`,
	`CREATE UNIQUE INDEX IF NOT EXISTS group_members_one_owner ON group_members (group_id) WHERE role = 'owner';`,
	`CREATE TABLE IF NOT EXISTS group_messages (
            id SERIAL PRIMARY KEY,
            group_id INT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
            author_id INT NOT NULL,
            content TEXT NOT NULL DEFAULT '',
            kind TEXT NOT NULL DEFAULT 'text' CHECK (kind IN ('text', 'image', 'audio', 'file')),
            file_ref TEXT,
            reply_to INT REFERENCES group_messages(id),
            pinned BOOLEAN NOT NULL DEFAULT FALSE,
            reported BOOLEAN NOT NULL DEFAULT FALSE,
            edited BOOLEAN NOT NULL DEFAULT FALSE,
            deleted BOOLEAN NOT NULL DEFAULT FALSE,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            edited_at TIMESTAMPTZ,
            metadata JSONB NOT NULL DEFAULT '{}'::jsonb
        );`,
	`CREATE INDEX IF NOT EXISTS group_messages_recent ON group_messages (group_id, created_at DESC) WHERE deleted = FALSE;`,
	`CREATE TABLE IF NOT EXISTS presence (
            group_id INT NOT NULL,
            user_id INT NOT NULL,
            online BOOLEAN NOT NULL DEFAULT FALSE,
            last_active TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            PRIMARY KEY(group_id, user_id),
            FOREIGN KEY (group_id, user_id) REFERENCES group_members(group_id, user_id) ON DELETE CASCADE
        );`,
	`CREATE TABLE IF NOT EXISTS reports (
            id SERIAL PRIMARY KEY,
            message_id INT NOT NULL REFERENCES group_messages(id) ON DELETE CASCADE,
            group_id INT NOT NULL,
            reporter_id INT NOT NULL,
            reason TEXT NOT NULL,
            description TEXT NOT NULL DEFAULT '',
            resolved BOOLEAN NOT NULL DEFAULT FALSE,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            UNIQUE(message_id, reporter_id)
        );`,
	`CREATE TABLE IF NOT EXISTS crisis_alerts (
            id SERIAL PRIMARY KEY,
            message_id INT NOT NULL UNIQUE REFERENCES group_messages(id) ON DELETE CASCADE,
            group_id INT NOT NULL,
            user_id INT NOT NULL,
            keywords TEXT[] NOT NULL DEFAULT '{}',
            moderator_notified BOOLEAN NOT NULL DEFAULT FALSE,
            contact_notified BOOLEAN NOT NULL DEFAULT FALSE,
            signaled BOOLEAN NOT NULL DEFAULT FALSE,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
	`ALTER TABLE crisis_alerts ADD COLUMN IF NOT EXISTS signaled BOOLEAN NOT NULL DEFAULT FALSE;`,
	`CREATE TABLE IF NOT EXISTS moderation_actions (
            id SERIAL PRIMARY KEY,
            group_id INT NOT NULL,
            actor_id INT NOT NULL,
            target_id INT NOT NULL,
            action TEXT NOT NULL,
            reason TEXT NOT NULL DEFAULT '',
            duration_hours INT NOT NULL DEFAULT 0,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
}

func runMigrations(db *sqlx.DB) error {
	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}
