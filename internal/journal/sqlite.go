package journal

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"tickd/pkg/logx"
)

//go:embed schema.sql
var schemaFS embed.FS

type sqliteJournal struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Journal, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	j := &sqliteJournal{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := j.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *sqliteJournal) migrate(ctx context.Context) error {
	b, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return err
	}
	_, err = j.db.ExecContext(ctx, string(b))
	return err
}

func (j *sqliteJournal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func (j *sqliteJournal) AppendRun(ctx context.Context, r Run) error {
	if j == nil || j.db == nil {
		return ErrDisabled
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Started.IsZero() {
		r.Started = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO runs(id, name, handle, started, duration_ms, err)
		 VALUES(?,?,?,?,?,?)`,
		r.ID, r.Name, int64(r.Handle), r.Started.UnixMilli(), r.Duration.Milliseconds(), nullStr(r.Error),
	)
	return err
}

func (j *sqliteJournal) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if j == nil || j.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, name, handle, started, duration_ms, err
		 FROM runs ORDER BY started DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r       Run
			handle  int64
			started int64
			durMS   int64
			errStr  sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Name, &handle, &started, &durMS, &errStr); err != nil {
			return nil, err
		}
		r.Handle = uint64(handle)
		r.Started = time.UnixMilli(started)
		r.Duration = time.Duration(durMS) * time.Millisecond
		if errStr.Valid {
			r.Error = errStr.String
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (j *sqliteJournal) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if j == nil || j.db == nil {
		return 0, ErrDisabled
	}
	res, err := j.db.ExecContext(ctx, `DELETE FROM runs WHERE started < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
