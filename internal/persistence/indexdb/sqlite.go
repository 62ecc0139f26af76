package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"voxelcast.ai/internal/render/notify"
	"voxelcast.ai/internal/render/palette"
	"voxelcast.ai/internal/render/registry"
	"voxelcast.ai/internal/sim/catalogs"
	"voxelcast.ai/internal/sim/tuning"
)

// SQLiteIndex is a queryable secondary record of render sessions and their
// status updates. Writes are queued and applied by one goroutine; the zstd
// status log stays the source of truth when the queue overflows.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropSession atomic.Uint64
	dropStatus  atomic.Uint64
}

type reqKind int

const (
	reqSession reqKind = iota + 1
	reqStatus
)

type req struct {
	kind reqKind

	session registry.Record
	status  notify.Status
}

// Stats reports queue drops since open.
type Stats struct {
	QueueDepth       int    `json:"queue_depth"`
	DropSessionTotal uint64 `json:"drop_session_total"`
	DropStatusTotal  uint64 `json:"drop_status_total"`
}

// SessionRow is one session as the index last saw it.
type SessionRow struct {
	SessionID string    `json:"session_id"`
	Kind      string    `json:"kind"`
	Src       string    `json:"src"`
	X         int       `json:"x"`
	Y         int       `json:"y"`
	Z         int       `json:"z"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Phase     string    `json:"phase"`
	Message   string    `json:"message"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	return openSQLite(path, 65536)
}

func openSQLite(path string, queue int) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, queue),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			src TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			width INTEGER NOT NULL,
			height INTEGER NOT NULL,
			phase TEXT NOT NULL,
			message TEXT NOT NULL,
			error TEXT,
			started_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at);`,
		`CREATE TABLE IF NOT EXISTS status_events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			phase TEXT NOT NULL,
			message TEXT NOT NULL,
			error TEXT,
			at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_status_session ON status_events(session_id, seq);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:       len(s.ch),
		DropSessionTotal: s.dropSession.Load(),
		DropStatusTotal:  s.dropStatus.Load(),
	}
}

// RecordStart implements registry.Journal.
func (s *SQLiteIndex) RecordStart(rec registry.Record) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqSession, session: rec}:
	default:
		s.dropSession.Add(1)
	}
}

// Notify implements notify.Notifier.
func (s *SQLiteIndex) Notify(st notify.Status) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqStatus, status: st}:
	default:
		s.dropStatus.Add(1)
	}
}

// UpsertCatalogs stores the block catalog, the active render palette and the
// applied tuning so a session history can be tied to the colors it used.
func (s *SQLiteIndex) UpsertCatalogs(configDir string, cats *catalogs.Catalogs, pal *palette.Palette, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	type kv struct {
		name   string
		digest string
		json   []byte
	}
	var rows []kv
	if configDir != "" {
		if b, err := os.ReadFile(filepath.Join(configDir, "blocks.json")); err == nil && cats != nil {
			rows = append(rows, kv{name: "blocks_defs", digest: cats.Blocks.DefsDigest, json: b})
		}
	}
	if cats != nil {
		if b, _ := json.Marshal(cats.Blocks.Palette); len(b) > 0 {
			rows = append(rows, kv{name: "blocks_palette", digest: cats.Blocks.PaletteDigest, json: b})
		}
	}
	if pal != nil {
		type entry struct {
			Type  uint16 `json:"type"`
			Name  string `json:"name"`
			Color string `json:"color"`
		}
		entries := pal.Entries()
		out := make([]entry, 0, len(entries))
		for _, e := range entries {
			out = append(out, entry{Type: uint16(e.Type), Name: e.Name, Color: e.Color.Hex()})
		}
		b, _ := json.Marshal(out)
		rows = append(rows, kv{name: "render_palette", digest: digestOf(b), json: b})
	}
	{
		b, _ := json.Marshal(tune)
		rows = append(rows, kv{name: "tuning", digest: digestOf(b), json: b})
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if r.digest == "" || len(r.json) == 0 {
			continue
		}
		if _, err := stmt.Exec(r.name, r.digest, string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func digestOf(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// RecentSessions returns up to limit sessions, newest first. Queued writes
// that have not been committed yet are not visible.
func (s *SQLiteIndex) RecentSessions(ctx context.Context, limit int) ([]SessionRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT session_id,kind,src,x,y,z,width,height,phase,message,COALESCE(error,''),started_at,updated_at
		FROM sessions ORDER BY started_at DESC, session_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRow
	for rows.Next() {
		var (
			r                SessionRow
			started, updated string
		)
		if err := rows.Scan(&r.SessionID, &r.Kind, &r.Src, &r.X, &r.Y, &r.Z, &r.Width, &r.Height, &r.Phase, &r.Message, &r.Error, &started, &updated); err != nil {
			return nil, err
		}
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		r.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertSession, _ := s.db.Prepare(`INSERT OR REPLACE INTO sessions(session_id,kind,src,x,y,z,width,height,phase,message,error,started_at,updated_at) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertStatus, _ := s.db.Prepare(`INSERT INTO status_events(session_id,kind,phase,message,error,at) VALUES(?,?,?,?,?,?)`)
	updateSession, _ := s.db.Prepare(`UPDATE sessions SET phase=?, message=?, error=?, updated_at=? WHERE session_id=?`)
	defer func() {
		for _, st := range []*sql.Stmt{insertSession, insertStatus, updateSession} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqSession:
			rec := r.session
			at := rec.At.UTC().Format(time.RFC3339Nano)
			if insertSession != nil {
				if _, err := tx.Stmt(insertSession).Exec(
					rec.SessionID, rec.Kind, rec.Src,
					rec.Rect.Origin.X, rec.Rect.Origin.Y, rec.Rect.Origin.Z,
					rec.Rect.Width, rec.Rect.Height,
					"started", "", nil, at, at,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqStatus:
			st := r.status
			at := st.Time.UTC().Format(time.RFC3339Nano)
			var errText any
			if st.Error != "" {
				errText = st.Error
			}
			if insertStatus != nil {
				if _, err := tx.Stmt(insertStatus).Exec(st.SessionID, st.Kind, string(st.Phase), st.Message, errText, at); err != nil {
					rollback()
					continue
				}
				opCount++
			}
			if updateSession != nil {
				if _, err := tx.Stmt(updateSession).Exec(string(st.Phase), st.Message, errText, at, st.SessionID); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait || len(s.ch) == 0 {
			commit()
		}
	}

	commit()
}
