package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andresmejia3/skyguard/internal/aggregate"
	"github.com/andresmejia3/skyguard/internal/motion"
	"github.com/andresmejia3/skyguard/internal/pipeline"
	"github.com/andresmejia3/skyguard/internal/records"
	"github.com/andresmejia3/skyguard/internal/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned when a session ID is unknown.
var ErrNotFound = errors.New("session not found")

// Store manages the PostgreSQL connection for scan sessions.
type Store struct {
	conn *pgx.Conn
}

// SessionInfo describes one persisted scan.
type SessionInfo struct {
	ID         uuid.UUID
	VideoID    string
	Path       string
	Width      int
	Height     int
	FPS        float64
	Frames     int
	Detections int
	CreatedAt  time.Time
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the necessary tables if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS scan_sessions (
			id UUID PRIMARY KEY,
			video_id TEXT NOT NULL,
			path TEXT NOT NULL,
			frame_width INT NOT NULL,
			frame_height INT NOT NULL,
			fps DOUBLE PRECISION NOT NULL,
			frames INT NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS detections (
			id BIGSERIAL PRIMARY KEY,
			session_id UUID NOT NULL REFERENCES scan_sessions(id) ON DELETE CASCADE,
			frame_index INT NOT NULL,
			ts DOUBLE PRECISION NOT NULL,
			x1 DOUBLE PRECISION NOT NULL,
			y1 DOUBLE PRECISION NOT NULL,
			x2 DOUBLE PRECISION NOT NULL,
			y2 DOUBLE PRECISION NOT NULL,
			score DOUBLE PRECISION NOT NULL,
			label TEXT NOT NULL,
			area DOUBLE PRECISION NOT NULL,
			area_norm DOUBLE PRECISION NOT NULL,
			threat_score DOUBLE PRECISION NOT NULL,
			threat_level TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS label_summaries (
			session_id UUID NOT NULL REFERENCES scan_sessions(id) ON DELETE CASCADE,
			label TEXT NOT NULL,
			count INT NOT NULL,
			first_frame_index INT NOT NULL,
			last_frame_index INT NOT NULL,
			first_ts DOUBLE PRECISION NOT NULL,
			last_ts DOUBLE PRECISION NOT NULL,
			min_score DOUBLE PRECISION NOT NULL,
			max_score DOUBLE PRECISION NOT NULL,
			mean_score DOUBLE PRECISION NOT NULL,
			max_threat_score DOUBLE PRECISION NOT NULL,
			mean_threat_score DOUBLE PRECISION NOT NULL,
			dominant_threat_level TEXT NOT NULL,
			low_count INT NOT NULL,
			medium_count INT NOT NULL,
			high_count INT NOT NULL,
			PRIMARY KEY (session_id, label)
		);
		CREATE TABLE IF NOT EXISTS moving_threats (
			session_id UUID NOT NULL REFERENCES scan_sessions(id) ON DELETE CASCADE,
			rank INT NOT NULL,
			label TEXT NOT NULL,
			count INT NOT NULL,
			dominant_threat_level TEXT NOT NULL,
			mean_threat_score DOUBLE PRECISION NOT NULL,
			pairs INT NOT NULL,
			mean_speed_norm DOUBLE PRECISION NOT NULL,
			max_speed_norm DOUBLE PRECISION NOT NULL,
			moving_threat_index DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (session_id, rank)
		);
		CREATE INDEX IF NOT EXISTS detections_session_id_idx ON detections (session_id, frame_index);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// SaveSession writes a finished scan in a single transaction.
// info.ID, info.Frames and info.Detections are taken from res.
func (s *Store) SaveSession(ctx context.Context, info SessionInfo, res *pipeline.Result) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO scan_sessions (id, video_id, path, frame_width, frame_height, fps, frames)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, res.SessionID, info.VideoID, info.Path, info.Width, info.Height, info.FPS, res.Frames)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	if err := insertDetections(ctx, tx, res.SessionID, res.Detections); err != nil {
		return fmt.Errorf("insert detections: %w", err)
	}
	if err := insertSummaries(ctx, tx, res.SessionID, res.Summaries); err != nil {
		return fmt.Errorf("insert label summaries: %w", err)
	}
	if err := insertRanking(ctx, tx, res.SessionID, res.Ranking); err != nil {
		return fmt.Errorf("insert moving threats: %w", err)
	}
	return tx.Commit(ctx)
}

// insertDetections streams the detection history with COPY.
func insertDetections(ctx context.Context, tx pgx.Tx, id uuid.UUID, dets []types.Detection) error {
	columns := []string{
		"session_id", "frame_index", "ts", "x1", "y1", "x2", "y2", "score", "label",
		"area", "area_norm", "threat_score", "threat_level",
	}
	_, err := tx.CopyFrom(ctx, pgx.Identifier{"detections"}, columns,
		pgx.CopyFromSlice(len(dets), func(i int) ([]any, error) {
			d := dets[i]
			return []any{
				id, d.FrameIndex, d.Timestamp, d.X1, d.Y1, d.X2, d.Y2, d.Score, d.Label,
				d.Area, d.AreaNorm, d.ThreatScore, string(d.ThreatLevel),
			}, nil
		}))
	return err
}

func insertSummaries(ctx context.Context, tx pgx.Tx, id uuid.UUID, summaries []aggregate.LabelSummary) error {
	batch := &pgx.Batch{}
	for _, sm := range summaries {
		batch.Queue(`
			INSERT INTO label_summaries (session_id, label, count, first_frame_index, last_frame_index,
				first_ts, last_ts, min_score, max_score, mean_score, max_threat_score, mean_threat_score,
				dominant_threat_level, low_count, medium_count, high_count)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		`, id, sm.Label, sm.Count, sm.FirstFrameIndex, sm.LastFrameIndex,
			sm.FirstTimestamp, sm.LastTimestamp, sm.MinScore, sm.MaxScore, sm.MeanScore,
			sm.MaxThreatScore, sm.MeanThreatScore, string(sm.DominantThreatLevel),
			sm.LevelCounts[types.ThreatLow], sm.LevelCounts[types.ThreatMedium], sm.LevelCounts[types.ThreatHigh])
	}
	return execBatch(ctx, tx, batch)
}

func insertRanking(ctx context.Context, tx pgx.Tx, id uuid.UUID, ranking []motion.CombinedEntry) error {
	batch := &pgx.Batch{}
	for i, e := range ranking {
		batch.Queue(`
			INSERT INTO moving_threats (session_id, rank, label, count, dominant_threat_level,
				mean_threat_score, pairs, mean_speed_norm, max_speed_norm, moving_threat_index)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, id, i+1, e.Label, e.Count, string(e.DominantLevel),
			e.MeanThreat, e.Pairs, e.MeanSpeedNorm, e.MaxSpeedNorm, e.MovingThreatIndex)
	}
	return execBatch(ctx, tx, batch)
}

func execBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return err
		}
	}
	return br.Close()
}

// ListSessions returns every stored session, newest first.
func (s *Store) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT s.id, s.video_id, s.path, s.frame_width, s.frame_height, s.fps, s.frames,
			(SELECT COUNT(*) FROM detections d WHERE d.session_id = s.id), s.created_at
		FROM scan_sessions s
		ORDER BY s.created_at DESC, s.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []SessionInfo
	for rows.Next() {
		var si SessionInfo
		if err := rows.Scan(&si.ID, &si.VideoID, &si.Path, &si.Width, &si.Height, &si.FPS, &si.Frames, &si.Detections, &si.CreatedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, si)
	}
	return sessions, rows.Err()
}

// GetSession loads one session header.
func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (SessionInfo, error) {
	var si SessionInfo
	err := s.conn.QueryRow(ctx, `
		SELECT s.id, s.video_id, s.path, s.frame_width, s.frame_height, s.fps, s.frames,
			(SELECT COUNT(*) FROM detections d WHERE d.session_id = s.id), s.created_at
		FROM scan_sessions s WHERE s.id = $1
	`, id).Scan(&si.ID, &si.VideoID, &si.Path, &si.Width, &si.Height, &si.FPS, &si.Frames, &si.Detections, &si.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return SessionInfo{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return si, err
}

// GetLabelSummaries returns a session's label summaries sorted by label.
func (s *Store) GetLabelSummaries(ctx context.Context, id uuid.UUID) ([]aggregate.LabelSummary, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT label, count, first_frame_index, last_frame_index, first_ts, last_ts,
			min_score, max_score, mean_score, max_threat_score, mean_threat_score,
			dominant_threat_level, low_count, medium_count, high_count
		FROM label_summaries WHERE session_id = $1 ORDER BY label
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := []aggregate.LabelSummary{}
	for row := 1; rows.Next(); row++ {
		var sm aggregate.LabelSummary
		var level string
		var low, medium, high int
		if err := rows.Scan(&sm.Label, &sm.Count, &sm.FirstFrameIndex, &sm.LastFrameIndex,
			&sm.FirstTimestamp, &sm.LastTimestamp, &sm.MinScore, &sm.MaxScore, &sm.MeanScore,
			&sm.MaxThreatScore, &sm.MeanThreatScore, &level, &low, &medium, &high); err != nil {
			return nil, err
		}
		if sm.DominantThreatLevel, err = parseLevel(row, "dominant_threat_level", level); err != nil {
			return nil, err
		}
		sm.LevelCounts = map[types.ThreatLevel]int{
			types.ThreatLow:    low,
			types.ThreatMedium: medium,
			types.ThreatHigh:   high,
		}
		summaries = append(summaries, sm)
	}
	return summaries, rows.Err()
}

// GetMovingThreats returns a session's ranking in rank order.
func (s *Store) GetMovingThreats(ctx context.Context, id uuid.UUID) ([]motion.CombinedEntry, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT label, count, dominant_threat_level, mean_threat_score, pairs,
			mean_speed_norm, max_speed_norm, moving_threat_index
		FROM moving_threats WHERE session_id = $1 ORDER BY rank
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []motion.CombinedEntry{}
	for row := 1; rows.Next(); row++ {
		var e motion.CombinedEntry
		var level string
		if err := rows.Scan(&e.Label, &e.Count, &level, &e.MeanThreat, &e.Pairs,
			&e.MeanSpeedNorm, &e.MaxSpeedNorm, &e.MovingThreatIndex); err != nil {
			return nil, err
		}
		if e.DominantLevel, err = parseLevel(row, "dominant_threat_level", level); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetDetections returns a session's scored detections in frame order.
func (s *Store) GetDetections(ctx context.Context, id uuid.UUID) ([]types.Detection, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT frame_index, ts, x1, y1, x2, y2, score, label, area, area_norm, threat_score, threat_level
		FROM detections WHERE session_id = $1 ORDER BY frame_index, id
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dets []types.Detection
	for row := 1; rows.Next(); row++ {
		var d types.Detection
		var level string
		if err := rows.Scan(&d.FrameIndex, &d.Timestamp, &d.X1, &d.Y1, &d.X2, &d.Y2, &d.Score, &d.Label,
			&d.Area, &d.AreaNorm, &d.ThreatScore, &level); err != nil {
			return nil, err
		}
		if d.ThreatLevel, err = parseLevel(row, "threat_level", level); err != nil {
			return nil, err
		}
		dets = append(dets, d)
	}
	return dets, rows.Err()
}

// parseLevel validates a stored threat level. row is the 1-based position in
// the result set.
func parseLevel(row int, column, s string) (types.ThreatLevel, error) {
	lvl, ok := types.ParseThreatLevel(s)
	if !ok {
		return "", &records.RecordError{Line: row, Field: column, Err: fmt.Errorf("unknown threat level %q", s)}
	}
	return lvl, nil
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS moving_threats CASCADE;
		DROP TABLE IF EXISTS label_summaries CASCADE;
		DROP TABLE IF EXISTS detections CASCADE;
		DROP TABLE IF EXISTS scan_sessions CASCADE;
	`)
	return err
}
