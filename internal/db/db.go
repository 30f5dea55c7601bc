package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Connect opens the database and verifies the connection.
func Connect(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	return db, nil
}

// Migrate applies the schema. Statements are idempotent.
func Migrate(ctx context.Context, db *sqlx.DB, logger *slog.Logger) error {
	for i, m := range migrations {
		if _, err := db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	logger.Info("database migrations applied", "count", len(migrations))
	return nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
            id SERIAL PRIMARY KEY,
            username TEXT NOT NULL,
            name TEXT NOT NULL DEFAULT '',
            admin BOOLEAN NOT NULL DEFAULT FALSE,
            moderator BOOLEAN NOT NULL DEFAULT FALSE,
            chat_enabled BOOLEAN NOT NULL DEFAULT TRUE,
            trust_level INT NOT NULL DEFAULT 1,
            silenced_till TIMESTAMPTZ,
            last_seen_at TIMESTAMPTZ
        );`,
	`CREATE UNIQUE INDEX IF NOT EXISTS users_username_lower ON users (LOWER(username));`,
	`CREATE TABLE IF NOT EXISTS groups (
            id SERIAL PRIMARY KEY,
            name TEXT NOT NULL UNIQUE,
            mentionable BOOLEAN NOT NULL DEFAULT FALSE
        );`,
	`CREATE TABLE IF NOT EXISTS group_users (
            group_id INT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
            user_id INT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
            PRIMARY KEY(group_id, user_id)
        );`,
	`CREATE TABLE IF NOT EXISTS chat_channels (
            id SERIAL PRIMARY KEY,
            chatable_type TEXT NOT NULL,
            chatable_id INT NOT NULL,
            name TEXT NOT NULL DEFAULT '',
            description TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL DEFAULT 'open',
            read_restricted BOOLEAN NOT NULL DEFAULT FALSE,
            allowed_group_ids INT[] NOT NULL DEFAULT '{}',
            user_count INT NOT NULL DEFAULT 0,
            user_count_stale BOOLEAN NOT NULL DEFAULT FALSE,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            deleted_at TIMESTAMPTZ
        );`,
	`CREATE UNIQUE INDEX IF NOT EXISTS chat_channels_chatable ON chat_channels (chatable_type, chatable_id) WHERE chatable_type <> 'DirectMessage';`,
	`CREATE TABLE IF NOT EXISTS direct_message_users (
            chat_channel_id INT NOT NULL REFERENCES chat_channels(id) ON DELETE CASCADE,
            user_id INT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
            PRIMARY KEY(chat_channel_id, user_id)
        );`,
	`CREATE TABLE IF NOT EXISTS user_chat_channel_memberships (
            id SERIAL PRIMARY KEY,
            user_id INT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
            chat_channel_id INT NOT NULL REFERENCES chat_channels(id) ON DELETE CASCADE,
            following BOOLEAN NOT NULL DEFAULT FALSE,
            muted BOOLEAN NOT NULL DEFAULT FALSE,
            desktop_notification_level TEXT NOT NULL DEFAULT 'mention',
            mobile_notification_level TEXT NOT NULL DEFAULT 'mention',
            last_read_message_id INT,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            UNIQUE(user_id, chat_channel_id)
        );`,
	`CREATE TABLE IF NOT EXISTS chat_messages (
            id SERIAL PRIMARY KEY,
            chat_channel_id INT NOT NULL REFERENCES chat_channels(id) ON DELETE CASCADE,
            user_id INT NOT NULL,
            message TEXT NOT NULL DEFAULT '',
            cooked TEXT NOT NULL DEFAULT '',
            in_reply_to_id INT REFERENCES chat_messages(id) ON DELETE SET NULL,
            post_id INT,
            upload_ids INT[] NOT NULL DEFAULT '{}',
            revision INT NOT NULL DEFAULT 0,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            deleted_at TIMESTAMPTZ,
            deleted_by_id INT
        );`,
	`CREATE INDEX IF NOT EXISTS chat_messages_channel_id ON chat_messages (chat_channel_id, id);`,
	`CREATE TABLE IF NOT EXISTS chat_message_revisions (
            id SERIAL PRIMARY KEY,
            chat_message_id INT NOT NULL REFERENCES chat_messages(id) ON DELETE CASCADE,
            old_message TEXT NOT NULL,
            new_message TEXT NOT NULL,
            user_id INT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
	`CREATE TABLE IF NOT EXISTS chat_message_reactions (
            id SERIAL PRIMARY KEY,
            chat_message_id INT NOT NULL REFERENCES chat_messages(id) ON DELETE CASCADE,
            user_id INT NOT NULL,
            emoji TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            UNIQUE(chat_message_id, user_id, emoji)
        );`,
	`CREATE TABLE IF NOT EXISTS notifications (
            id SERIAL PRIMARY KEY,
            user_id INT NOT NULL,
            notification_type INT NOT NULL,
            data JSONB NOT NULL DEFAULT '{}',
            read BOOLEAN NOT NULL DEFAULT FALSE,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
	`CREATE TABLE IF NOT EXISTS chat_mentions (
            id SERIAL PRIMARY KEY,
            chat_message_id INT NOT NULL REFERENCES chat_messages(id) ON DELETE CASCADE,
            user_id INT NOT NULL,
            notification_id INT NOT NULL REFERENCES notifications(id) ON DELETE CASCADE,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            UNIQUE(chat_message_id, user_id)
        );`,
	`CREATE TABLE IF NOT EXISTS topics (
            id SERIAL PRIMARY KEY,
            title TEXT NOT NULL,
            category_id INT,
            tags TEXT[] NOT NULL DEFAULT '{}',
            user_id INT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
	`CREATE TABLE IF NOT EXISTS posts (
            id SERIAL PRIMARY KEY,
            topic_id INT NOT NULL REFERENCES topics(id) ON DELETE CASCADE,
            user_id INT NOT NULL,
            post_number INT NOT NULL,
            raw TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            UNIQUE(topic_id, post_number)
        );`,
	`CREATE TABLE IF NOT EXISTS chat_channel_archives (
            id SERIAL PRIMARY KEY,
            chat_channel_id INT NOT NULL UNIQUE REFERENCES chat_channels(id) ON DELETE CASCADE,
            archived_by_id INT NOT NULL,
            destination_topic_id INT,
            destination_topic_title TEXT NOT NULL DEFAULT '',
            destination_category_id INT,
            destination_tags TEXT[] NOT NULL DEFAULT '{}',
            total_messages INT NOT NULL DEFAULT 0,
            archived_messages INT NOT NULL DEFAULT 0,
            archive_error TEXT,
            completed_at TIMESTAMPTZ,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
	`CREATE TABLE IF NOT EXISTS reviewables (
            id SERIAL PRIMARY KEY,
            chat_message_id INT NOT NULL UNIQUE REFERENCES chat_messages(id) ON DELETE CASCADE,
            chat_channel_id INT NOT NULL,
            target_created_by_id INT NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            score DOUBLE PRECISION NOT NULL DEFAULT 0,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
	`CREATE TABLE IF NOT EXISTS reviewable_scores (
            id SERIAL PRIMARY KEY,
            reviewable_id INT NOT NULL REFERENCES reviewables(id) ON DELETE CASCADE,
            user_id INT NOT NULL,
            flag_type TEXT NOT NULL,
            score DOUBLE PRECISION NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            UNIQUE(reviewable_id, user_id)
        );`,
}
