// Package reportstore persists the job/report/action model of pkg/report
// into a relational store, with two variants sharing a schema shape: a
// master-side store that also tracks a hosts table (jobs are attributed to
// the host that ran them), and an agent-side store that omits it (an agent
// only ever reports on itself). Both are backed by database/sql and
// github.com/mattn/go-sqlite3.
package reportstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jameshunt/clockwork/pkg/report"
)

// Store is the interface both variants satisfy: insert one job's full
// report in a single logical unit, and close the underlying connection.
type Store interface {
	InsertJob(ctx context.Context, hostName string, job *report.Job) error
	Close() error
}

// SQLStore is the shared sqlite3-backed implementation for both the master
// and agent variants; withHosts switches the host-bookkeeping behavior on.
type SQLStore struct {
	db        *sql.DB
	withHosts bool

	insertJob      *sql.Stmt
	insertResource *sql.Stmt
	insertAction   *sql.Stmt
	lookupHost     *sql.Stmt
	insertHost     *sql.Stmt
}

const masterSchema = `
CREATE TABLE IF NOT EXISTS hosts (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE
);
CREATE TABLE IF NOT EXISTS jobs (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	host_id    INTEGER NOT NULL REFERENCES hosts(id),
	started_at INTEGER NOT NULL,
	ended_at   INTEGER NOT NULL,
	duration   INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS resources (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id    INTEGER NOT NULL REFERENCES jobs(id),
	type      TEXT NOT NULL,
	name      TEXT NOT NULL,
	sequence  INTEGER NOT NULL,
	compliant INTEGER NOT NULL,
	fixed     INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS actions (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	resource_id INTEGER NOT NULL REFERENCES resources(id),
	summary     TEXT NOT NULL,
	sequence    INTEGER NOT NULL,
	result      TEXT NOT NULL
);
`

const agentSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at INTEGER NOT NULL,
	ended_at   INTEGER NOT NULL,
	duration   INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS resources (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id    INTEGER NOT NULL REFERENCES jobs(id),
	type      TEXT NOT NULL,
	name      TEXT NOT NULL,
	sequence  INTEGER NOT NULL,
	compliant INTEGER NOT NULL,
	fixed     INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS actions (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	resource_id INTEGER NOT NULL REFERENCES resources(id),
	summary     TEXT NOT NULL,
	sequence    INTEGER NOT NULL,
	result      TEXT NOT NULL
);
`

// NewMasterStore opens (creating if necessary) the master's report
// database at path, whose jobs carry a host attribution.
func NewMasterStore(path string) (*SQLStore, error) {
	return open(path, true, masterSchema)
}

// NewAgentStore opens (creating if necessary) an agent's local report
// database at path, whose jobs are always about the local host.
func NewAgentStore(path string) (*SQLStore, error) {
	return open(path, false, agentSchema)
}

func open(path string, withHosts bool, schema string) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("reportstore: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("reportstore: init schema: %w", err)
	}

	s := &SQLStore{db: db, withHosts: withHosts}
	if err := s.prepare(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) prepare() error {
	var jobQuery string
	if s.withHosts {
		jobQuery = `INSERT INTO jobs (host_id, started_at, ended_at, duration) VALUES (?, ?, ?, ?)`
	} else {
		jobQuery = `INSERT INTO jobs (started_at, ended_at, duration) VALUES (?, ?, ?)`
	}

	var err error
	if s.insertJob, err = s.db.Prepare(jobQuery); err != nil {
		return fmt.Errorf("reportstore: prepare insert job: %w", err)
	}
	if s.insertResource, err = s.db.Prepare(
		`INSERT INTO resources (job_id, type, name, sequence, compliant, fixed) VALUES (?, ?, ?, ?, ?, ?)`); err != nil {
		return fmt.Errorf("reportstore: prepare insert resource: %w", err)
	}
	if s.insertAction, err = s.db.Prepare(
		`INSERT INTO actions (resource_id, summary, sequence, result) VALUES (?, ?, ?, ?)`); err != nil {
		return fmt.Errorf("reportstore: prepare insert action: %w", err)
	}
	if s.withHosts {
		if s.lookupHost, err = s.db.Prepare(`SELECT id FROM hosts WHERE name = ?`); err != nil {
			return fmt.Errorf("reportstore: prepare lookup host: %w", err)
		}
		if s.insertHost, err = s.db.Prepare(`INSERT INTO hosts (name) VALUES (?)`); err != nil {
			return fmt.Errorf("reportstore: prepare insert host: %w", err)
		}
	}
	return nil
}

// InsertJob persists job and every report/action within it as a single
// transaction, using the store's prepared statements. hostName is ignored
// by the agent variant (it has no hosts table); the master variant
// looks the host up by name, inserting it if this is its first job.
func (s *SQLStore) InsertJob(ctx context.Context, hostName string, job *report.Job) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("reportstore: begin: %w", err)
	}
	defer tx.Rollback()

	var jobID int64
	if s.withHosts {
		hostID, err := s.hostIDOrInsert(ctx, tx, hostName)
		if err != nil {
			return err
		}
		res, err := tx.StmtContext(ctx, s.insertJob).ExecContext(ctx,
			hostID, job.Start.Unix(), job.End.Unix(), job.Duration().Microseconds())
		if err != nil {
			return fmt.Errorf("reportstore: insert job: %w", err)
		}
		jobID, _ = res.LastInsertId()
	} else {
		res, err := tx.StmtContext(ctx, s.insertJob).ExecContext(ctx,
			job.Start.Unix(), job.End.Unix(), job.Duration().Microseconds())
		if err != nil {
			return fmt.Errorf("reportstore: insert job: %w", err)
		}
		jobID, _ = res.LastInsertId()
	}

	for ri, rep := range job.Reports {
		res, err := tx.StmtContext(ctx, s.insertResource).ExecContext(ctx,
			jobID, rep.Kind, rep.Key, ri, rep.Compliant, rep.Fixed)
		if err != nil {
			return fmt.Errorf("reportstore: insert resource %s:%s: %w", rep.Kind, rep.Key, err)
		}
		resourceID, _ := res.LastInsertId()

		for ai, act := range rep.Actions {
			if _, err := tx.StmtContext(ctx, s.insertAction).ExecContext(ctx,
				resourceID, act.Summary, ai, act.Result.String()); err != nil {
				return fmt.Errorf("reportstore: insert action %q: %w", act.Summary, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("reportstore: commit: %w", err)
	}
	return nil
}

func (s *SQLStore) hostIDOrInsert(ctx context.Context, tx *sql.Tx, name string) (int64, error) {
	var id int64
	err := tx.StmtContext(ctx, s.lookupHost).QueryRowContext(ctx, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("reportstore: lookup host %s: %w", name, err)
	}
	res, err := tx.StmtContext(ctx, s.insertHost).ExecContext(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("reportstore: insert host %s: %w", name, err)
	}
	return res.LastInsertId()
}

// CountHosts returns the number of distinct hosts the master has ever
// recorded a job for. It is a master-only operation; calling it on an
// agent store (which has no hosts table) always returns 0.
func (s *SQLStore) CountHosts(ctx context.Context) (int, error) {
	if !s.withHosts {
		return 0, nil
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM hosts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("reportstore: count hosts: %w", err)
	}
	return n, nil
}

// Close closes the underlying database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
