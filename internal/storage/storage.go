package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"nerfmark/internal/results"
)

// Store wraps SQLite-backed persistence for jobs, frames and centroids.
type Store struct {
	DB *sql.DB // Export for direct database access
}

// New opens (or creates) the database at path and ensures schema.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one writer; the pipeline workers share this handle
	db.SetMaxOpenConns(1)
	s := &Store{DB: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS processing_jobs (
            id TEXT PRIMARY KEY,
            job_type TEXT NOT NULL,
            status TEXT NOT NULL,
            input_path TEXT,
            output_path TEXT,
            options_json TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            started_at TIMESTAMP,
            completed_at TIMESTAMP,
            error_message TEXT
        );`,
		`CREATE TABLE IF NOT EXISTS job_results (
            job_id TEXT,
            meta_json TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS frames (
            job_id TEXT NOT NULL,
            frame TEXT NOT NULL,
            dir TEXT NOT NULL,
            mask_count INTEGER,
            point_count INTEGER,
            failure_count INTEGER,
            error_message TEXT,
            in_table BOOLEAN DEFAULT FALSE,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            PRIMARY KEY (job_id, frame)
        );`,
		`CREATE TABLE IF NOT EXISTS centroids (
            job_id TEXT NOT NULL,
            frame TEXT NOT NULL,
            mask TEXT NOT NULL,
            x INTEGER NOT NULL,
            y INTEGER NOT NULL,
            raw_x INTEGER,
            raw_y INTEGER,
            corrected BOOLEAN DEFAULT FALSE,
            area REAL,
            PRIMARY KEY (job_id, frame, mask)
        );`,
		`CREATE INDEX IF NOT EXISTS idx_centroids_job ON centroids(job_id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// JobRecord captures persisted job info.
type JobRecord struct {
	ID          string
	JobType     string
	Status      string
	InputPath   string
	OutputPath  string
	OptionsJSON string
	Error       string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// FrameRecord summarizes one processed frame directory.
type FrameRecord struct {
	JobID    string
	Frame    string
	Dir      string
	Masks    int
	Points   int
	Failures int
	Error    string
	// InTable mirrors whether the job wrote the frame into its result table.
	InTable bool
}

// CentroidRecord is one stored point.
type CentroidRecord struct {
	Frame     string
	Mask      string
	X, Y      int
	RawX      int
	RawY      int
	Corrected bool
	Area      float64
}

// RecordJobQueued inserts a pending job.
func (s *Store) RecordJobQueued(rec JobRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO processing_jobs (id, job_type, status, input_path, output_path, options_json) VALUES (?, ?, ?, ?, ?, ?);`,
		rec.ID, rec.JobType, rec.Status, rec.InputPath, rec.OutputPath, rec.OptionsJSON)
	return err
}

// RecordJobStart marks a job as running.
func (s *Store) RecordJobStart(id string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE processing_jobs SET status='running', started_at=CURRENT_TIMESTAMP WHERE id=?;`, id)
	return err
}

// RecordJobResult finalizes a job with status and meta.
func (s *Store) RecordJobResult(id string, status string, meta map[string]any, errMsg string) error {
	if s == nil {
		return nil
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}
	_, err = s.DB.Exec(`UPDATE processing_jobs SET status=?, completed_at=CURRENT_TIMESTAMP, error_message=? WHERE id=?;`, status, errMsg, id)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(`INSERT INTO job_results (job_id, meta_json) VALUES (?, ?);`, id, string(metaJSON))
	return err
}

// RecentJobs returns the latest jobs up to limit.
func (s *Store) RecentJobs(limit int) ([]JobRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT id, job_type, status, input_path, output_path, options_json, created_at, started_at, completed_at, error_message FROM processing_jobs ORDER BY created_at DESC, rowid DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []JobRecord
	for rows.Next() {
		var rec JobRecord
		var created time.Time
		var input, output, options, errorMsg sql.NullString
		var started, completed sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.JobType, &rec.Status, &input, &output, &options, &created, &started, &completed, &errorMsg); err != nil {
			return nil, err
		}
		rec.InputPath, rec.OutputPath, rec.OptionsJSON, rec.Error = input.String, output.String, options.String, errorMsg.String
		rec.CreatedAt = created
		if started.Valid {
			rec.StartedAt = &started.Time
		}
		if completed.Valid {
			rec.CompletedAt = &completed.Time
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// JobMeta fetches the last meta blob for a job.
func (s *Store) JobMeta(id string) (map[string]any, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	var metaJSON string
	err := s.DB.QueryRow(`SELECT meta_json FROM job_results WHERE job_id=? ORDER BY created_at DESC, rowid DESC LIMIT 1;`, id).Scan(&metaJSON)
	if err != nil {
		return nil, err
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return nil, fmt.Errorf("unmarshal meta: %w", err)
	}
	return meta, nil
}

// RecordFrame stores the per-frame summary and its centroids in one
// transaction.
func (s *Store) RecordFrame(rec FrameRecord, points []CentroidRecord) error {
	if s == nil {
		return nil
	}
	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO frames (job_id, frame, dir, mask_count, point_count, failure_count, error_message, in_table) VALUES (?, ?, ?, ?, ?, ?, ?, ?);`,
		rec.JobID, rec.Frame, rec.Dir, rec.Masks, rec.Points, rec.Failures, rec.Error, rec.InTable); err != nil {
		return err
	}
	for _, p := range points {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO centroids (job_id, frame, mask, x, y, raw_x, raw_y, corrected, area) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);`,
			rec.JobID, rec.Frame, p.Mask, p.X, p.Y, p.RawX, p.RawY, p.Corrected, p.Area); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Frames lists the frames stored for jobID in frame order.
func (s *Store) Frames(jobID string) ([]FrameRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT frame, dir, mask_count, point_count, failure_count, error_message, in_table FROM frames WHERE job_id=? ORDER BY frame;`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FrameRecord
	for rows.Next() {
		rec := FrameRecord{JobID: jobID}
		var errorMsg sql.NullString
		if err := rows.Scan(&rec.Frame, &rec.Dir, &rec.Masks, &rec.Points, &rec.Failures, &errorMsg, &rec.InTable); err != nil {
			return nil, err
		}
		rec.Error = errorMsg.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Centroids rebuilds the result table of a job. Frames the job put in its table
// without points are kept so the result matches what it wrote to disk.
func (s *Store) Centroids(jobID string) (*results.Table, error) {
	frames, err := s.Frames(jobID)
	if err != nil {
		return nil, err
	}
	tbl := results.NewTable()
	for _, f := range frames {
		if f.InTable {
			tbl.EnsureFrame(f.Frame)
		}
	}

	rows, err := s.DB.Query(`SELECT frame, mask, x, y FROM centroids WHERE job_id=? ORDER BY frame, mask;`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var frame, mask string
		var p results.Point
		if err := rows.Scan(&frame, &mask, &p.X, &p.Y); err != nil {
			return nil, err
		}
		if err := tbl.Add(frame, mask, p); err != nil {
			return nil, err
		}
	}
	return tbl, rows.Err()
}
