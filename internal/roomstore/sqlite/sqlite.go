// Package sqlite backs the room store with a single sqlite database and
// in-process change fan-out. One relay process owns the database; remote
// clients reach it through the transport layer.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"gridmatch/internal/board"
	"gridmatch/internal/roomstore"
)

const schema = `
CREATE TABLE IF NOT EXISTS rooms (
	code            TEXT PRIMARY KEY,
	host            TEXT NOT NULL,
	guest           TEXT NOT NULL DEFAULT '',
	board           TEXT NOT NULL,
	board_size      INTEGER NOT NULL,
	current_player  TEXT NOT NULL,
	game_started    INTEGER NOT NULL DEFAULT 0,
	p1_ready        INTEGER NOT NULL DEFAULT 0,
	p2_ready        INTEGER NOT NULL DEFAULT 0,
	host_connected  INTEGER NOT NULL DEFAULT 0,
	guest_connected INTEGER NOT NULL DEFAULT 0,
	created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS chat (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	room_code  TEXT NOT NULL,
	sender     TEXT NOT NULL,
	message    TEXT NOT NULL,
	is_host    INTEGER NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_chat_room ON chat(room_code, id);
`

// Store implements roomstore.Store for sqlite.
type Store struct {
	db  *sql.DB
	log *zerolog.Logger

	mu     sync.Mutex
	nextID int64
	subs   map[string]map[int64]chan roomstore.RoomEvent
}

// New opens (or creates) the database at dbPath and applies the schema.
func New(dbPath string, logger *zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &Store{
		db:   db,
		log:  logger,
		subs: make(map[string]map[int64]chan roomstore.RoomEvent),
	}, nil
}

// NewWithSetup opens the database and runs a setup function first.
// Useful for tests that want extra fixtures on top of the schema.
func NewWithSetup(dbPath string, logger *zerolog.Logger, setup func(*sql.DB) error) (*Store, error) {
	s, err := New(dbPath, logger)
	if err != nil {
		return nil, err
	}
	if setup != nil {
		if err := setup(s.db); err != nil {
			s.db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}
	return s, nil
}

// Close closes the database connection and all subscriber channels.
func (s *Store) Close() error {
	s.mu.Lock()
	for code, subs := range s.subs {
		for id, ch := range subs {
			close(ch)
			delete(subs, id)
		}
		delete(s.subs, code)
	}
	s.mu.Unlock()
	return s.db.Close()
}

// CreateRoom writes a full new record.
func (s *Store) CreateRoom(ctx context.Context, rec *roomstore.RoomRecord) error {
	query := `
		INSERT INTO rooms (code, host, guest, board, board_size, current_player,
			game_started, p1_ready, p2_ready, host_connected, guest_connected)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.Code, rec.Host, rec.Guest, rec.Board, rec.BoardSize, string(rec.CurrentPlayer),
		rec.GameStarted, rec.Player1Ready, rec.Player2Ready, rec.HostConnected, rec.GuestConnected,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return roomstore.ErrRoomExists
		}
		return fmt.Errorf("insert room: %w", err)
	}
	s.notifyUpdated(ctx, rec.Code)
	return nil
}

// GetRoom reads one record.
func (s *Store) GetRoom(ctx context.Context, code string) (*roomstore.RoomRecord, error) {
	query := `
		SELECT code, host, guest, board, board_size, current_player,
			game_started, p1_ready, p2_ready, host_connected, guest_connected,
			created_at, updated_at
		FROM rooms WHERE code = ?
	`
	rec := &roomstore.RoomRecord{}
	var current string
	err := s.db.QueryRowContext(ctx, query, code).Scan(
		&rec.Code, &rec.Host, &rec.Guest, &rec.Board, &rec.BoardSize, &current,
		&rec.GameStarted, &rec.Player1Ready, &rec.Player2Ready,
		&rec.HostConnected, &rec.GuestConnected, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, roomstore.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select room: %w", err)
	}
	rec.CurrentPlayer = board.Symbol(current)
	return rec, nil
}

// PatchRoom applies the non-nil fields of p as one UPDATE. Each field
// still overwrites independently; there is no merge with concurrent
// writers beyond last-write-wins per column.
func (s *Store) PatchRoom(ctx context.Context, code string, p roomstore.Patch) error {
	if p.Empty() {
		return nil
	}

	sets := make([]string, 0, 9)
	args := make([]any, 0, 10)
	add := func(col string, val any) {
		sets = append(sets, col+" = ?")
		args = append(args, val)
	}

	if p.Guest != nil {
		add("guest", *p.Guest)
	}
	if p.Board != nil {
		add("board", *p.Board)
	}
	if p.CurrentPlayer != nil {
		add("current_player", string(*p.CurrentPlayer))
	}
	if p.GameStarted != nil {
		add("game_started", *p.GameStarted)
	}
	if p.Player1Ready != nil {
		add("p1_ready", *p.Player1Ready)
	}
	if p.Player2Ready != nil {
		add("p2_ready", *p.Player2Ready)
	}
	if p.HostConnected != nil {
		add("host_connected", *p.HostConnected)
	}
	if p.GuestConnected != nil {
		add("guest_connected", *p.GuestConnected)
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, code)

	query := "UPDATE rooms SET " + strings.Join(sets, ", ") + " WHERE code = ?"
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("patch room: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return roomstore.ErrRoomNotFound
	}
	s.notifyUpdated(ctx, code)
	return nil
}

// DeleteRoom removes the record and its chat log.
func (s *Store) DeleteRoom(ctx context.Context, code string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chat WHERE room_code = ?`, code); err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM rooms WHERE code = ?`, code)
	if err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return roomstore.ErrRoomNotFound
	}
	s.notifyDeleted(code)
	return nil
}

// AppendChat appends one entry to the room's chat log.
func (s *Store) AppendChat(ctx context.Context, code string, entry roomstore.ChatEntry) error {
	if _, err := s.GetRoom(ctx, code); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO chat (room_code, sender, message, is_host) VALUES (?, ?, ?, ?)`,
		code, entry.Sender, entry.Message, entry.IsHost,
	)
	if err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}
	entry.ID, _ = res.LastInsertId()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	s.notify(code, roomstore.RoomEvent{Kind: roomstore.ChatAppended, Chat: &entry})
	return nil
}

// ListRooms returns all live records, newest first.
func (s *Store) ListRooms(ctx context.Context) ([]*roomstore.RoomRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT code FROM rooms ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("scan room code: %w", err)
		}
		codes = append(codes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	recs := make([]*roomstore.RoomRecord, 0, len(codes))
	for _, code := range codes {
		rec, err := s.GetRoom(ctx, code)
		if errors.Is(err, roomstore.ErrRoomNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// Subscribe registers a change-event channel for one room.
func (s *Store) Subscribe(ctx context.Context, code string) (<-chan roomstore.RoomEvent, func(), error) {
	if _, err := s.GetRoom(ctx, code); err != nil {
		return nil, nil, err
	}

	ch := make(chan roomstore.RoomEvent, 32)

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	if s.subs[code] == nil {
		s.subs[code] = make(map[int64]chan roomstore.RoomEvent)
	}
	s.subs[code][id] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if subs, ok := s.subs[code]; ok {
			if c, ok := subs[id]; ok {
				delete(subs, id)
				close(c)
			}
			if len(subs) == 0 {
				delete(s.subs, code)
			}
		}
	}
	return ch, cancel, nil
}

// RunSweeper deletes rooms older than ttl on the given interval until
// the context is cancelled. Safety net against orphaned rooms.
func (s *Store) RunSweeper(ctx context.Context, ttl, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(ctx, ttl); err != nil {
				s.log.Warn().Err(err).Msg("room sweep failed")
			}
		}
	}
}

// Sweep deletes every room created more than ttl ago.
func (s *Store) Sweep(ctx context.Context, ttl time.Duration) error {
	cutoff := time.Now().Add(-ttl).UTC()
	rows, err := s.db.QueryContext(ctx, `SELECT code FROM rooms WHERE created_at < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("select expired: %w", err)
	}
	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			rows.Close()
			return err
		}
		codes = append(codes, code)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, code := range codes {
		if err := s.DeleteRoom(ctx, code); err != nil && !errors.Is(err, roomstore.ErrRoomNotFound) {
			return err
		}
		s.log.Info().Str("room", code).Msg("expired room removed")
	}
	return nil
}

func (s *Store) notifyUpdated(ctx context.Context, code string) {
	rec, err := s.GetRoom(ctx, code)
	if err != nil {
		return
	}
	s.notify(code, roomstore.RoomEvent{Kind: roomstore.RoomUpdated, Record: rec})
}

func (s *Store) notifyDeleted(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subs[code] {
		select {
		case ch <- roomstore.RoomEvent{Kind: roomstore.RoomDeleted}:
		default:
		}
		close(ch)
		delete(s.subs[code], id)
	}
	delete(s.subs, code)
}

func (s *Store) notify(code string, ev roomstore.RoomEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs[code] {
		select {
		case ch <- ev:
		default:
			// Drop if slow consumer; a later update carries the
			// full record anyway.
			if s.log != nil {
				s.log.Warn().Str("room", code).Msg("dropping room event for slow subscriber")
			}
		}
	}
}
