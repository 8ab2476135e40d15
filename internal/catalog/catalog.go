// Package catalog persists job and artifact provenance in a local
// sqlite database so operators can answer "what produced this file"
// long after the pipeline run. Grid snapshots are stored as compressed
// blobs for later re-rendering. The catalog is optional; the pipeline
// runs fine without one.
package catalog

import (
	"bytes"
	"database/sql"
	"embed"
	"encoding/gob"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/golang/snappy"
	_ "modernc.org/sqlite"

	"github.com/tritonminingco/open-ocean-mapper/internal/grid"
	"github.com/tritonminingco/open-ocean-mapper/internal/monitoring"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Catalog wraps the sqlite handle.
type Catalog struct {
	*sql.DB
}

// Open opens (creating if needed) the catalog at path and applies any
// pending migrations.
func Open(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	c := &Catalog{db}
	if err := c.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Catalog) migrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(c.DB, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	// Note: not closing m here, that would close the underlying DB.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// JobRow is one pipeline run.
type JobRow struct {
	JobID       string
	Source      string
	Sensor      string
	Format      string
	QCMode      string
	Anonymized  bool
	RecordCount int
	ValidCount  int
	CreatedAt   time.Time
}

// ArtifactRow is one exported file.
type ArtifactRow struct {
	JobID  string
	Path   string
	Format string
	SHA256 string
	Size   int64
}

// RecordJob inserts a job row.
func (c *Catalog) RecordJob(j JobRow) error {
	_, err := c.Exec(`
		INSERT INTO jobs (job_id, source, sensor, format, qc_mode, anonymized, record_count, valid_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.JobID, j.Source, j.Sensor, j.Format, j.QCMode, boolInt(j.Anonymized),
		j.RecordCount, j.ValidCount, j.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to record job %s: %w", j.JobID, err)
	}
	return nil
}

// RecordArtifact inserts an artifact row.
func (c *Catalog) RecordArtifact(a ArtifactRow) error {
	_, err := c.Exec(`
		INSERT INTO artifacts (job_id, path, format, sha256, size)
		VALUES (?, ?, ?, ?, ?)`,
		a.JobID, a.Path, a.Format, a.SHA256, a.Size)
	if err != nil {
		return fmt.Errorf("failed to record artifact for job %s: %w", a.JobID, err)
	}
	return nil
}

// GetJob fetches one job row.
func (c *Catalog) GetJob(jobID string) (*JobRow, error) {
	var j JobRow
	var anonymized int
	err := c.QueryRow(`
		SELECT job_id, source, sensor, format, qc_mode, anonymized, record_count, valid_count, created_at
		FROM jobs WHERE job_id = ?`, jobID).
		Scan(&j.JobID, &j.Source, &j.Sensor, &j.Format, &j.QCMode, &anonymized,
			&j.RecordCount, &j.ValidCount, &j.CreatedAt)
	if err != nil {
		return nil, err
	}
	j.Anonymized = anonymized != 0
	return &j, nil
}

// ListJobs returns the most recent jobs, newest first.
func (c *Catalog) ListJobs(limit int) ([]JobRow, error) {
	rows, err := c.Query(`
		SELECT job_id, source, sensor, format, qc_mode, anonymized, record_count, valid_count, created_at
		FROM jobs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []JobRow
	for rows.Next() {
		var j JobRow
		var anonymized int
		if err := rows.Scan(&j.JobID, &j.Source, &j.Sensor, &j.Format, &j.QCMode, &anonymized,
			&j.RecordCount, &j.ValidCount, &j.CreatedAt); err != nil {
			return nil, err
		}
		j.Anonymized = anonymized != 0
		out = append(out, j)
	}
	return out, rows.Err()
}

// ArtifactsForJob returns the artifacts recorded for a job.
func (c *Catalog) ArtifactsForJob(jobID string) ([]ArtifactRow, error) {
	rows, err := c.Query(`
		SELECT job_id, path, format, sha256, size FROM artifacts WHERE job_id = ?`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ArtifactRow
	for rows.Next() {
		var a ArtifactRow
		if err := rows.Scan(&a.JobID, &a.Path, &a.Format, &a.SHA256, &a.Size); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SaveGridSnapshot stores the grid as a snappy-compressed gob blob so
// it can be re-rendered or inspected without re-running the job.
func (c *Catalog) SaveGridSnapshot(jobID string, g *grid.Grid) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(g); err != nil {
		return fmt.Errorf("failed to encode grid snapshot: %w", err)
	}
	blob := snappy.Encode(nil, buf.Bytes())
	_, err := c.Exec(`INSERT INTO grid_snapshots (job_id, blob) VALUES (?, ?)`, jobID, blob)
	if err != nil {
		return fmt.Errorf("failed to store grid snapshot for job %s: %w", jobID, err)
	}
	monitoring.Logf("catalog: stored grid snapshot for job %s (%d bytes compressed)", jobID, len(blob))
	return nil
}

// LoadGridSnapshot restores a stored grid.
func (c *Catalog) LoadGridSnapshot(jobID string) (*grid.Grid, error) {
	var blob []byte
	if err := c.QueryRow(`SELECT blob FROM grid_snapshots WHERE job_id = ?`, jobID).Scan(&blob); err != nil {
		return nil, err
	}
	raw, err := snappy.Decode(nil, blob)
	if err != nil {
		return nil, fmt.Errorf("grid snapshot for job %s corrupt: %w", jobID, err)
	}
	var g grid.Grid
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&g); err != nil {
		return nil, fmt.Errorf("failed to decode grid snapshot: %w", err)
	}
	return &g, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
