package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps SQLite-backed persistence for runs and their registration output.
type Store struct {
	DB *sql.DB // Export for direct database access
}

// New opens (or creates) the database at path and ensures schema.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
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
		`CREATE TABLE IF NOT EXISTS montage_components (
            job_id TEXT NOT NULL,
            group_index INTEGER NOT NULL,
            fov REAL,
            component_id INTEGER NOT NULL,
            root_tile INTEGER NOT NULL,
            tile_count INTEGER NOT NULL,
            PRIMARY KEY (job_id, group_index, component_id)
        );`,
		`CREATE TABLE IF NOT EXISTS tile_placements (
            job_id TEXT NOT NULL,
            group_index INTEGER NOT NULL,
            component_id INTEGER NOT NULL,
            tile_index INTEGER NOT NULL,
            movie TEXT,
            reference_tile INTEGER,
            confocal_path TEXT,
            split_path TEXT,
            avg_path TEXT,
            trans_x REAL,
            trans_y REAL,
            width INTEGER,
            height INTEGER,
            PRIMARY KEY (job_id, group_index, tile_index)
        );`,
		`CREATE TABLE IF NOT EXISTS pair_matches (
            job_id TEXT NOT NULL,
            group_index INTEGER NOT NULL,
            src INTEGER NOT NULL,
            dst INTEGER NOT NULL,
            trans_x REAL,
            trans_y REAL,
            inliers INTEGER,
            PRIMARY KEY (job_id, group_index, src, dst)
        );`,
		`CREATE INDEX IF NOT EXISTS idx_tile_placements_component ON tile_placements(job_id, group_index, component_id);`,
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
	ID          string     `json:"id"`
	JobType     string     `json:"type"`
	Status      string     `json:"status"`
	InputPath   string     `json:"input"`
	OutputPath  string     `json:"output"`
	OptionsJSON string     `json:"options,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ComponentRecord is one montage component of a group.
type ComponentRecord struct {
	JobID       string  `json:"job_id"`
	GroupIndex  int     `json:"group"`
	FOV         float64 `json:"fov"`
	ComponentID int     `json:"component"`
	RootTile    int     `json:"root"`
	TileCount   int     `json:"tiles"`
}

// PlacementRecord is the resolved position of one tile.
type PlacementRecord struct {
	JobID         string  `json:"job_id"`
	GroupIndex    int     `json:"group"`
	ComponentID   int     `json:"component"`
	TileIndex     int     `json:"tile"`
	Movie         string  `json:"movie"`
	ReferenceTile int     `json:"reference"`
	ConfocalPath  string  `json:"confocal"`
	SplitPath     string  `json:"split"`
	AvgPath       string  `json:"avg"`
	TransX        float64 `json:"trans_x"`
	TransY        float64 `json:"trans_y"`
	Width         int     `json:"w"`
	Height        int     `json:"h"`
}

// PairMatchRecord is one cached pairwise estimate.
type PairMatchRecord struct {
	Src     int
	Dst     int
	TransX  float64
	TransY  float64
	Inliers int
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
	metaJSON, _ := json.Marshal(meta)
	_, err := s.DB.Exec(`UPDATE processing_jobs SET status=?, completed_at=CURRENT_TIMESTAMP, error_message=? WHERE id=?;`, status, errMsg, id)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(`INSERT INTO job_results (job_id, meta_json) VALUES (?, ?);`, id, string(metaJSON))
	return err
}

const jobColumns = `id, job_type, status, input_path, output_path, options_json, created_at, started_at, completed_at, error_message`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (JobRecord, error) {
	var rec JobRecord
	var created time.Time
	var input, output, options sql.NullString
	var started, completed sql.NullTime
	var errorMsg sql.NullString
	if err := row.Scan(&rec.ID, &rec.JobType, &rec.Status, &input, &output, &options, &created, &started, &completed, &errorMsg); err != nil {
		return rec, err
	}
	rec.InputPath, rec.OutputPath, rec.OptionsJSON = input.String, output.String, options.String
	rec.CreatedAt = created
	if started.Valid {
		rec.StartedAt = &started.Time
	}
	if completed.Valid {
		rec.CompletedAt = &completed.Time
	}
	if errorMsg.Valid {
		rec.Error = errorMsg.String
	}
	return rec, nil
}

// RecentJobs returns the latest jobs up to limit.
func (s *Store) RecentJobs(limit int) ([]JobRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT `+jobColumns+` FROM processing_jobs ORDER BY created_at DESC, rowid DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []JobRecord
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Job fetches one job by id. It returns sql.ErrNoRows when absent.
func (s *Store) Job(id string) (JobRecord, error) {
	if s == nil {
		return JobRecord{}, errors.New("store not initialized")
	}
	return scanJob(s.DB.QueryRow(`SELECT `+jobColumns+` FROM processing_jobs WHERE id=?;`, id))
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

// RecordComponents persists the components of one group.
func (s *Store) RecordComponents(recs []ComponentRecord) error {
	if s == nil || len(recs) == 0 {
		return nil
	}
	return s.inTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`INSERT OR REPLACE INTO montage_components (job_id, group_index, fov, component_id, root_tile, tile_count) VALUES (?, ?, ?, ?, ?, ?);`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range recs {
			if _, err := stmt.Exec(r.JobID, r.GroupIndex, r.FOV, r.ComponentID, r.RootTile, r.TileCount); err != nil {
				return err
			}
		}
		return nil
	})
}

// RecordPlacements persists resolved tile placements.
func (s *Store) RecordPlacements(recs []PlacementRecord) error {
	if s == nil || len(recs) == 0 {
		return nil
	}
	return s.inTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`INSERT OR REPLACE INTO tile_placements (job_id, group_index, component_id, tile_index, movie, reference_tile, confocal_path, split_path, avg_path, trans_x, trans_y, width, height)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range recs {
			if _, err := stmt.Exec(r.JobID, r.GroupIndex, r.ComponentID, r.TileIndex, r.Movie, r.ReferenceTile,
				r.ConfocalPath, r.SplitPath, r.AvgPath, r.TransX, r.TransY, r.Width, r.Height); err != nil {
				return err
			}
		}
		return nil
	})
}

// RecordPairMatches persists the pair estimates computed for one group.
func (s *Store) RecordPairMatches(jobID string, group int, recs []PairMatchRecord) error {
	if s == nil || len(recs) == 0 {
		return nil
	}
	return s.inTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`INSERT OR REPLACE INTO pair_matches (job_id, group_index, src, dst, trans_x, trans_y, inliers) VALUES (?, ?, ?, ?, ?, ?, ?);`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range recs {
			if _, err := stmt.Exec(jobID, group, r.Src, r.Dst, r.TransX, r.TransY, r.Inliers); err != nil {
				return err
			}
		}
		return nil
	})
}

// Components lists the components recorded for a job.
func (s *Store) Components(jobID string) ([]ComponentRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT job_id, group_index, fov, component_id, root_tile, tile_count FROM montage_components WHERE job_id=? ORDER BY group_index, component_id;`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ComponentRecord
	for rows.Next() {
		var r ComponentRecord
		if err := rows.Scan(&r.JobID, &r.GroupIndex, &r.FOV, &r.ComponentID, &r.RootTile, &r.TileCount); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Placements lists tile placements for a job ordered by group, component and tile.
func (s *Store) Placements(jobID string) ([]PlacementRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT job_id, group_index, component_id, tile_index, movie, reference_tile, confocal_path, split_path, avg_path, trans_x, trans_y, width, height
        FROM tile_placements WHERE job_id=? ORDER BY group_index, component_id, tile_index;`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PlacementRecord
	for rows.Next() {
		var r PlacementRecord
		if err := rows.Scan(&r.JobID, &r.GroupIndex, &r.ComponentID, &r.TileIndex, &r.Movie, &r.ReferenceTile,
			&r.ConfocalPath, &r.SplitPath, &r.AvgPath, &r.TransX, &r.TransY, &r.Width, &r.Height); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PairMatchCount reports how many pair estimates were stored for a job.
func (s *Store) PairMatchCount(jobID string) (int, error) {
	if s == nil {
		return 0, errors.New("store not initialized")
	}
	var n int
	err := s.DB.QueryRow(`SELECT COUNT(*) FROM pair_matches WHERE job_id=?;`, jobID).Scan(&n)
	return n, err
}

func (s *Store) inTx(fn func(*sql.Tx) error) error {
	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
