package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver for database/sql

	"github.com/crucible-dev/crucible/pkg/crucerr"
	"github.com/crucible-dev/crucible/pkg/models"
)

//go:embed migrations
var migrationsFS embed.FS

// PostgresStore persists sessions and artifacts in PostgreSQL.
// Sequences are serialized as JSONB ordered lists; the content-hash
// set is serialized as a sorted list and rehydrated to set semantics.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a pooled connection, verifies connectivity,
// and applies pending migrations.
func NewPostgresStore(ctx context.Context, cfg Config) (*PostgresStore, error) {
	db, err := sql.Open("pgx", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(db, cfg.Database); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an existing connection (useful for
// tests that manage their own container lifecycle).
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// DB returns the underlying pool for health checks.
func (p *PostgresStore) DB() *sql.DB { return p.db }

// runMigrations applies embedded SQL migrations with golang-migrate.
func runMigrations(db *sql.DB, dbName string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, dbName, driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	// Close only the source driver. m.Close() would also close the
	// database driver, which closes the shared *sql.DB.
	if err := sourceDriver.Close(); err != nil {
		return fmt.Errorf("failed to close migration source: %w", err)
	}
	return nil
}

const sessionColumns = `session_id, state, current_iteration, max_iterations,
	quality_threshold, task_timeout_minutes, start_time, last_quality_score,
	score_history, time_per_iteration_ms, content_hashes, created_at, updated_at`

// Create implements Store.
func (p *PostgresStore) Create(ctx context.Context, sessionID string) (*models.SessionState, error) {
	session := models.NewSessionState(sessionID, time.Now())
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4)`,
		session.SessionID, string(session.State), session.CreatedAt, session.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, crucerr.Newf(crucerr.KindValidation, "session %s already exists", sessionID)
		}
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// Load implements Store.
func (p *PostgresStore) Load(ctx context.Context, sessionID string) (*models.SessionState, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE session_id = $1`, sessionID)

	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, crucerr.Newf(crucerr.KindNotFound, "session %s not found", sessionID)
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT artifact_id, session_id, kind, description, timestamp_ms, content, metadata
		FROM artifacts
		WHERE session_id = $1
		ORDER BY timestamp_ms ASC, artifact_id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load artifacts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a models.Artifact
		var metadata []byte
		if err := rows.Scan(&a.ID, &a.SessionID, &a.Kind, &a.Description,
			&a.TimestampMS, &a.Content, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &a.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode artifact metadata: %w", err)
			}
		}
		session.Artifacts = append(session.Artifacts, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate artifacts: %w", err)
	}
	return session, nil
}

// Persist implements Store: overwrites all mutable scalar fields and
// sequences; artifacts are untouched.
func (p *PostgresStore) Persist(ctx context.Context, session *models.SessionState) error {
	scores, err := json.Marshal(session.ScoreHistory)
	if err != nil {
		return fmt.Errorf("failed to encode score history: %w", err)
	}
	times, err := json.Marshal(session.TimePerIterationMS)
	if err != nil {
		return fmt.Errorf("failed to encode iteration times: %w", err)
	}
	hashes, err := json.Marshal(session.HashList())
	if err != nil {
		return fmt.Errorf("failed to encode content hashes: %w", err)
	}

	var lastScore any
	if session.LastQualityScore != nil {
		lastScore = *session.LastQualityScore
	}

	res, err := p.db.ExecContext(ctx, `
		UPDATE sessions SET
			state = $2,
			current_iteration = $3,
			max_iterations = $4,
			quality_threshold = $5,
			task_timeout_minutes = $6,
			start_time = $7,
			last_quality_score = $8,
			score_history = $9,
			time_per_iteration_ms = $10,
			content_hashes = $11,
			updated_at = now()
		WHERE session_id = $1`,
		session.SessionID, string(session.State), session.CurrentIteration,
		session.MaxIterations, session.QualityThreshold, session.TaskTimeoutMinutes,
		session.StartTime, lastScore, scores, times, hashes)
	if err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return crucerr.Newf(crucerr.KindNotFound, "session %s not found", session.SessionID)
	}
	return nil
}

// AppendArtifact implements Store.
func (p *PostgresStore) AppendArtifact(ctx context.Context, sessionID string, artifact *models.Artifact) error {
	var metadata []byte
	if artifact.Metadata != nil {
		var err error
		metadata, err = json.Marshal(artifact.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode artifact metadata: %w", err)
		}
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO artifacts (artifact_id, session_id, kind, description, timestamp_ms, content, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		artifact.ID, sessionID, string(artifact.Kind), artifact.Description,
		artifact.TimestampMS, artifact.Content, nullableBytes(metadata))
	if err != nil {
		if isForeignKeyViolation(err) {
			return crucerr.Newf(crucerr.KindNotFound, "session %s not found", sessionID)
		}
		return fmt.Errorf("failed to append artifact: %w", err)
	}
	return nil
}

// List implements Store: newest-first by creation time, scalars only.
func (p *PostgresStore) List(ctx context.Context, limit, offset int) ([]*models.SessionState, error) {
	if limit <= 0 {
		limit = 25
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 ORDER BY created_at DESC, session_id ASC
		 LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []*models.SessionState
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return out, nil
}

// EvictOlderThan implements Store: removes terminal sessions (and
// their artifacts, via cascade) last updated before the cutoff.
func (p *PostgresStore) EvictOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := p.db.ExecContext(ctx, `
		DELETE FROM sessions
		WHERE state IN ('CONVERGED', 'ESCALATED', 'FAILED')
		  AND updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to evict sessions: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return int(affected), nil
}

// Ping implements Store.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close implements Store.
func (p *PostgresStore) Close() error {
	return p.db.Close()
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.SessionState, error) {
	var (
		s         models.SessionState
		state     string
		lastScore sql.NullInt64
		scores    []byte
		times     []byte
		hashes    []byte
	)
	err := row.Scan(&s.SessionID, &state, &s.CurrentIteration, &s.MaxIterations,
		&s.QualityThreshold, &s.TaskTimeoutMinutes, &s.StartTime, &lastScore,
		&scores, &times, &hashes, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.State = models.State(state)
	if lastScore.Valid {
		v := int(lastScore.Int64)
		s.LastQualityScore = &v
	}
	if err := json.Unmarshal(scores, &s.ScoreHistory); err != nil {
		return nil, fmt.Errorf("failed to decode score history: %w", err)
	}
	if err := json.Unmarshal(times, &s.TimePerIterationMS); err != nil {
		return nil, fmt.Errorf("failed to decode iteration times: %w", err)
	}
	var hashList []string
	if err := json.Unmarshal(hashes, &hashList); err != nil {
		return nil, fmt.Errorf("failed to decode content hashes: %w", err)
	}
	s.SetHashes(hashList)
	if s.ScoreHistory == nil {
		s.ScoreHistory = []int{}
	}
	if s.TimePerIterationMS == nil {
		s.TimePerIterationMS = []int64{}
	}
	return &s, nil
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
