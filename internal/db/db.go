package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type Database struct {
	Conn *sql.DB
}

func NewDatabase(dsn string) (*Database, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	// Only used for migrations; the listener holds its own connection.
	conn.SetMaxOpenConns(2)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(5 * time.Minute)
	return &Database{Conn: conn}, nil
}

func (d *Database) Close() error {
	return d.Conn.Close()
}

// MigrationStatements creates a minimal chats/messages schema plus the
// triggers that feed the listener. In production the chat server owns the
// schema; this exists for local development and integration runs.
var MigrationStatements = []string{
	`DO $$ BEGIN
        CREATE TYPE chat_type AS ENUM ('single', 'group', 'private_channel', 'public_channel');
    EXCEPTION WHEN duplicate_object THEN NULL;
    END $$`,

	`CREATE TABLE IF NOT EXISTS chats (
        id BIGSERIAL PRIMARY KEY,
        ws_id BIGINT NOT NULL,
        name VARCHAR(64),
        type chat_type NOT NULL,
        members BIGINT[] NOT NULL,
        created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
    )`,

	`CREATE TABLE IF NOT EXISTS messages (
        id BIGSERIAL PRIMARY KEY,
        chat_id BIGINT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
        sender_id BIGINT NOT NULL,
        content TEXT,
        files TEXT[] DEFAULT '{}',
        created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
    )`,

	`CREATE OR REPLACE FUNCTION add_to_chat() RETURNS TRIGGER AS $$
    BEGIN
        RAISE NOTICE 'add_to_chat: %', NEW;
        PERFORM pg_notify('chat_updated', json_build_object('op', TG_OP, 'old', OLD, 'new', NEW)::text);
        RETURN NEW;
    END;
    $$ LANGUAGE plpgsql`,

	`CREATE OR REPLACE TRIGGER add_to_chat_trigger
        AFTER INSERT OR UPDATE OF members OR DELETE ON chats
        FOR EACH ROW EXECUTE FUNCTION add_to_chat()`,

	`CREATE OR REPLACE FUNCTION add_to_message() RETURNS TRIGGER AS $$
    DECLARE
        USERS BIGINT[];
    BEGIN
        IF TG_OP = 'INSERT' THEN
            RAISE NOTICE 'add_to_message: %', NEW;
            SELECT members INTO USERS FROM chats WHERE id = NEW.chat_id;
            PERFORM pg_notify('chat_message_created', json_build_object('message', NEW, 'members', USERS)::text);
        END IF;
        RETURN NEW;
    END;
    $$ LANGUAGE plpgsql`,

	`CREATE OR REPLACE TRIGGER add_to_message_trigger
        AFTER INSERT ON messages
        FOR EACH ROW EXECUTE FUNCTION add_to_message()`,
}

func (d *Database) AutoMigrate(ctx context.Context) error {
	for _, query := range MigrationStatements {
		if _, err := d.Conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
