package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "oratio/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
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

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) SlotDone(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT done_at FROM slots WHERE key = ?`, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *sqliteStore) MarkSlotDone(ctx context.Context, key string, at time.Time) error {
	if key == "" {
		return nil
	}
	// DO NOTHING keeps the first completion time; re-marking is a no-op.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO slots(key, done_at) VALUES(?,?) ON CONFLICT(key) DO NOTHING`,
		key, at.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *sqliteStore) PutSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings(key, value) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value,
	)
	return err
}

func (s *sqliteStore) PutBlob(ctx context.Context, key string, data []byte) error {
	if key == "" {
		return errors.New("blob key is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO blobs(key, data) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET data=excluded.data`,
		key, data,
	)
	return err
}

func (s *sqliteStore) GetBlob(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM blobs WHERE key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("blob %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (s *sqliteStore) AppendHistory(ctx context.Context, rec HistoryRecord) error {
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	// at is epoch nanoseconds; integer order is chronological order.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO history(id, at, language, kind, theme, subthemes, title, description, hashtags, chapters, tags, script, audio_key, image_key)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rec.ID, rec.At.UnixNano(), rec.Language, rec.Kind, rec.Theme,
		jsonList(rec.Subthemes), nullStr(rec.Title), nullStr(rec.Description),
		jsonList(rec.Hashtags), jsonList(rec.Chapters), jsonList(rec.Tags),
		nullStr(rec.Script), nullStr(rec.AudioKey), nullStr(rec.ImageKey),
	)
	return err
}

func (s *sqliteStore) RecentHistory(ctx context.Context, limit int) ([]HistoryRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, at, language, kind, theme, subthemes, title, description, hashtags, chapters, tags, script, audio_key, image_key
		 FROM history ORDER BY at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HistoryRecord
	for rows.Next() {
		var rec HistoryRecord
		var at int64
		var subthemes, title, description, hashtags, chapters, tags, script, audioKey, imageKey sql.NullString
		if err := rows.Scan(&rec.ID, &at, &rec.Language, &rec.Kind, &rec.Theme,
			&subthemes, &title, &description, &hashtags, &chapters, &tags, &script, &audioKey, &imageKey); err != nil {
			return nil, err
		}
		rec.At = time.Unix(0, at)
		rec.Subthemes = parseList(subthemes.String)
		rec.Title = title.String
		rec.Description = description.String
		rec.Hashtags = parseList(hashtags.String)
		rec.Chapters = parseList(chapters.String)
		rec.Tags = parseList(tags.String)
		rec.Script = script.String
		rec.AudioKey = audioKey.String
		rec.ImageKey = imageKey.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

func jsonList(v []string) any {
	if len(v) == 0 {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return string(b)
}

func parseList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
