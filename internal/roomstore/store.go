// Package roomstore defines the shared room record contract both ends of
// an online match replicate through. The store is a path-addressable,
// subscribe-capable record per room: fields are written individually with
// last-write-wins semantics and no multi-field transaction. Near-simultaneous
// board writes from both sides can clobber each other silently; the
// protocol above tolerates that instead of the store preventing it.
package roomstore

import (
	"context"
	"errors"
	"time"

	"gridmatch/internal/board"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomExists   = errors.New("room already exists")
	ErrRoomFull     = errors.New("room is full")
)

// RoomRecord is the full shared state of one room. Guest == "" means no
// guest has joined (or the host cleared the slot after a guest left).
type RoomRecord struct {
	Code           string
	Host           string
	Guest          string
	Board          string // board.Board encoded, one LWW field
	BoardSize      int
	CurrentPlayer  board.Symbol
	GameStarted    bool
	Player1Ready   bool
	Player2Ready   bool
	HostConnected  bool
	GuestConnected bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DecodeBoard parses the record's encoded board field.
func (r *RoomRecord) DecodeBoard() (board.Board, error) {
	return board.Decode(r.Board)
}

// Patch is a partial room update. Nil fields are untouched; each non-nil
// field overwrites the stored value independently (last-write-wins per
// field).
type Patch struct {
	Guest          *string
	Board          *string
	CurrentPlayer  *board.Symbol
	GameStarted    *bool
	Player1Ready   *bool
	Player2Ready   *bool
	HostConnected  *bool
	GuestConnected *bool
}

// Empty reports whether the patch touches no fields.
func (p Patch) Empty() bool {
	return p.Guest == nil && p.Board == nil && p.CurrentPlayer == nil &&
		p.GameStarted == nil && p.Player1Ready == nil && p.Player2Ready == nil &&
		p.HostConnected == nil && p.GuestConnected == nil
}

// ChatEntry is one message in a room's append-only chat log.
type ChatEntry struct {
	ID        int64
	Sender    string
	Message   string
	IsHost    bool
	CreatedAt time.Time
}

// EventKind discriminates room change notifications.
type EventKind int

const (
	// RoomUpdated carries the full current record after any field change.
	RoomUpdated EventKind = iota
	// ChatAppended carries one newly appended chat entry.
	ChatAppended
	// RoomDeleted fires once when the room record is removed.
	RoomDeleted
)

// RoomEvent is delivered to subscribers of a room.
type RoomEvent struct {
	Kind   EventKind
	Record *RoomRecord // RoomUpdated
	Chat   *ChatEntry  // ChatAppended
}

// Store is the shared room store. Implementations provide field-level
// last-write-wins updates and change notification; they never provide
// multi-field atomicity and callers must not assume it.
type Store interface {
	// CreateRoom writes a full new record. ErrRoomExists on collision.
	CreateRoom(ctx context.Context, rec *RoomRecord) error

	// GetRoom reads the record once. ErrRoomNotFound if absent.
	GetRoom(ctx context.Context, code string) (*RoomRecord, error)

	// PatchRoom applies the non-nil fields of p. ErrRoomNotFound if absent.
	PatchRoom(ctx context.Context, code string, p Patch) error

	// DeleteRoom removes the record and notifies subscribers.
	DeleteRoom(ctx context.Context, code string) error

	// AppendChat appends one entry to the room's chat log.
	AppendChat(ctx context.Context, code string, entry ChatEntry) error

	// ListRooms returns all live records, newest first.
	ListRooms(ctx context.Context) ([]*RoomRecord, error)

	// Subscribe registers for change events on one room. The returned
	// cancel func releases the subscription; the channel is closed after
	// cancel or RoomDeleted. Slow consumers may miss intermediate
	// updates but always observe a later full record.
	Subscribe(ctx context.Context, code string) (<-chan RoomEvent, func(), error)

	// Close releases the store.
	Close() error
}
