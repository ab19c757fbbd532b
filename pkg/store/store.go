// Package store persists completed activities and voice transcripts in
// Postgres.
package store

import (
	"context"
	"database/sql"
	"embed"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/balanceai/balance/pkg/core"
	"github.com/balanceai/balance/pkg/track"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Activity is one finished tracking session.
type Activity struct {
	ID              uuid.UUID
	StartedAt       time.Time
	DurationSeconds int
	DistanceKm      float64
	Calories        float64
	PaceMinPerKm    float64
	Intensity       track.Intensity
	WeightKg        float64
}

// NewActivity builds an activity record from a finished tracker snapshot.
func NewActivity(startedAt time.Time, weightKg float64, tier track.Intensity, stats track.Stats) Activity {
	return Activity{
		ID:              uuid.New(),
		StartedAt:       startedAt,
		DurationSeconds: stats.ElapsedSeconds,
		DistanceKm:      stats.DistanceKm,
		Calories:        stats.Calories,
		PaceMinPerKm:    stats.PaceMinPerKm,
		Intensity:       tier,
		WeightKg:        weightKg,
	}
}

// TranscriptTurn is one persisted user/model exchange from a voice session.
type TranscriptTurn struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	Seq       int
	UserText  string
	ModelText string
}

// Store wraps the connection pool.
type Store struct {
	pool *pgxpool.Pool
	url  string
	log  *slog.Logger
}

// Open connects and pings the database.
func Open(ctx context.Context, url string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(pingCtx, url)
	if err != nil {
		return nil, core.NewUnavailableError("connect: " + err.Error())
	}
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, core.NewUnavailableError("ping: " + err.Error())
	}
	return &Store{pool: pool, url: url, log: log}, nil
}

// Migrate applies the embedded schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	db, err := sql.Open("pgx", s.url)
	if err != nil {
		return core.NewUnavailableError("open migration conn: " + err.Error())
	}
	defer db.Close()

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("postgres"); err != nil {
		return core.NewUnavailableError("set dialect: " + err.Error())
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return core.NewUnavailableError("migrate: " + err.Error())
	}
	s.log.Debug("migrations applied")
	return nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// SaveActivity inserts one finished activity.
func (s *Store) SaveActivity(ctx context.Context, a Activity) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO activities
			(id, started_at, duration_seconds, distance_km, calories, pace_min_per_km, intensity, weight_kg)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.StartedAt, a.DurationSeconds, a.DistanceKm, a.Calories, a.PaceMinPerKm, string(a.Intensity), a.WeightKg)
	if err != nil {
		return core.NewUnavailableError("save activity: " + err.Error())
	}
	return nil
}

// ListActivities returns the most recent activities, newest first.
func (s *Store) ListActivities(ctx context.Context, limit int) ([]Activity, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, started_at, duration_seconds, distance_km, calories, pace_min_per_km, intensity, weight_kg
		FROM activities
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, core.NewUnavailableError("list activities: " + err.Error())
	}
	defer rows.Close()

	var out []Activity
	for rows.Next() {
		var a Activity
		var intensity string
		if err := rows.Scan(&a.ID, &a.StartedAt, &a.DurationSeconds, &a.DistanceKm,
			&a.Calories, &a.PaceMinPerKm, &intensity, &a.WeightKg); err != nil {
			return nil, core.NewUnavailableError("scan activity: " + err.Error())
		}
		a.Intensity = track.Intensity(intensity)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewUnavailableError("list activities: " + err.Error())
	}
	return out, nil
}

// SaveTranscript stores the turns of one voice session in order.
func (s *Store) SaveTranscript(ctx context.Context, sessionID uuid.UUID, turns []TranscriptTurn) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return core.NewUnavailableError("begin: " + err.Error())
	}
	defer tx.Rollback(ctx)

	for i, turn := range turns {
		id := turn.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO voice_turns (id, session_id, seq, user_text, model_text)
			VALUES ($1, $2, $3, $4, $5)`,
			id, sessionID, i, turn.UserText, turn.ModelText)
		if err != nil {
			return core.NewUnavailableError("save turn: " + err.Error())
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return core.NewUnavailableError("commit: " + err.Error())
	}
	return nil
}

// ListTurns returns one session's transcript in turn order.
func (s *Store) ListTurns(ctx context.Context, sessionID uuid.UUID) ([]TranscriptTurn, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, seq, user_text, model_text
		FROM voice_turns
		WHERE session_id = $1
		ORDER BY seq`, sessionID)
	if err != nil {
		return nil, core.NewUnavailableError("list turns: " + err.Error())
	}
	defer rows.Close()

	var out []TranscriptTurn
	for rows.Next() {
		var t TranscriptTurn
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Seq, &t.UserText, &t.ModelText); err != nil {
			return nil, core.NewUnavailableError("scan turn: " + err.Error())
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewUnavailableError("list turns: " + err.Error())
	}
	return out, nil
}
