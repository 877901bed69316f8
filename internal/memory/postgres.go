package memory

import (
	"context"
	"embed"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// PostgresStore persists the conversation log in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, sessionID string, role Role, message string) (Turn, error) {
	id, err := normalizeSessionID(sessionID)
	if err != nil {
		return Turn{}, err
	}

	turn := Turn{
		ID:        uuid.NewString(),
		SessionID: id,
		Role:      role,
		Message:   message,
	}

	// The advisory lock serializes seq assignment per session only.
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, id); err != nil {
			return fmt.Errorf("lock session: %w", err)
		}
		return tx.QueryRow(ctx,
			`INSERT INTO conversation_turns (id, session_id, seq, role, message, created_at)
			 SELECT $1, $2, COALESCE(MAX(seq), 0) + 1, $3, $4,
			        GREATEST(clock_timestamp(), COALESCE(MAX(created_at), clock_timestamp()))
			 FROM conversation_turns WHERE session_id = $2
			 RETURNING seq, created_at`,
			turn.ID, id, string(role), message,
		).Scan(&turn.Seq, &turn.Timestamp)
	})
	if err != nil {
		return Turn{}, fmt.Errorf("append turn: %w", err)
	}
	turn.Timestamp = turn.Timestamp.UTC()
	return turn, nil
}

func (s *PostgresStore) Load(ctx context.Context, sessionID string) ([]Turn, error) {
	id, err := normalizeSessionID(sessionID)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, seq, role, message, created_at
		 FROM conversation_turns WHERE session_id = $1 ORDER BY seq ASC`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	turns := make([]Turn, 0, 16)
	for rows.Next() {
		var (
			t    Turn
			role string
		)
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Seq, &role, &t.Message, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		t.Role = Role(role)
		t.Timestamp = t.Timestamp.UTC()
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn rows: %w", err)
	}
	return turns, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
