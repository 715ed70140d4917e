// Package proto defines the websocket wire protocol between the relay
// and its clients. Both sides share these envelopes and the conversions
// to and from room records.
package proto

import (
	"encoding/json"
	"time"

	"gridmatch/internal/board"
	"gridmatch/internal/roomstore"
)

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	ProtocolVersion = 1

	InboundTypePatch = "patch"
	InboundTypeChat  = "chat"
	InboundTypeLeave = "leave"

	OutboundTypeRoom    = "room"
	OutboundTypeChat    = "chat"
	OutboundTypeDeleted = "deleted"
	OutboundTypeError   = "error"
)

// PatchData carries a partial room update. Only non-nil fields are
// applied; the write wins over any concurrent writer, field by field.
type PatchData struct {
	Guest          *string `json:"guest,omitempty"`
	Board          *string `json:"board,omitempty"`
	CurrentPlayer  *string `json:"current_player,omitempty"`
	GameStarted    *bool   `json:"game_started,omitempty"`
	Player1Ready   *bool   `json:"player1_ready,omitempty"`
	Player2Ready   *bool   `json:"player2_ready,omitempty"`
	HostConnected  *bool   `json:"host_connected,omitempty"`
	GuestConnected *bool   `json:"guest_connected,omitempty"`
}

// ChatData is a chat message from the client. The sender identity comes
// from the connection's ticket, not from the payload.
type ChatData struct {
	Text string `json:"text"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string       `json:"type"`
	Room  *RoomPayload `json:"room,omitempty"`
	Chat  *ChatPayload `json:"chat,omitempty"`
	Error *Error       `json:"error,omitempty"`
}

// RoomPayload is the full room snapshot pushed after every update.
type RoomPayload struct {
	Code           string    `json:"code"`
	Host           string    `json:"host"`
	Guest          string    `json:"guest"`
	Board          string    `json:"board"`
	BoardSize      int       `json:"board_size"`
	CurrentPlayer  string    `json:"current_player"`
	GameStarted    bool      `json:"game_started"`
	Player1Ready   bool      `json:"player1_ready"`
	Player2Ready   bool      `json:"player2_ready"`
	HostConnected  bool      `json:"host_connected"`
	GuestConnected bool      `json:"guest_connected"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ChatPayload is a chat entry fanned out to both seats.
type ChatPayload struct {
	Sender string    `json:"sender"`
	Text   string    `json:"text"`
	IsHost bool      `json:"is_host"`
	SentAt time.Time `json:"sent_at"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// RoomFromRecord converts a store record into its wire form.
func RoomFromRecord(rec roomstore.RoomRecord) *RoomPayload {
	return &RoomPayload{
		Code:           rec.Code,
		Host:           rec.Host,
		Guest:          rec.Guest,
		Board:          rec.Board,
		BoardSize:      rec.BoardSize,
		CurrentPlayer:  string(rec.CurrentPlayer),
		GameStarted:    rec.GameStarted,
		Player1Ready:   rec.Player1Ready,
		Player2Ready:   rec.Player2Ready,
		HostConnected:  rec.HostConnected,
		GuestConnected: rec.GuestConnected,
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
	}
}

// RecordFromRoom converts a wire snapshot back into a store record.
func RecordFromRoom(p *RoomPayload) roomstore.RoomRecord {
	return roomstore.RoomRecord{
		Code:           p.Code,
		Host:           p.Host,
		Guest:          p.Guest,
		Board:          p.Board,
		BoardSize:      p.BoardSize,
		CurrentPlayer:  symbolFromString(p.CurrentPlayer),
		GameStarted:    p.GameStarted,
		Player1Ready:   p.Player1Ready,
		Player2Ready:   p.Player2Ready,
		HostConnected:  p.HostConnected,
		GuestConnected: p.GuestConnected,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

// PatchFromData converts a wire patch into a store patch.
func PatchFromData(d *PatchData) roomstore.Patch {
	p := roomstore.Patch{
		Guest:          d.Guest,
		Board:          d.Board,
		GameStarted:    d.GameStarted,
		Player1Ready:   d.Player1Ready,
		Player2Ready:   d.Player2Ready,
		HostConnected:  d.HostConnected,
		GuestConnected: d.GuestConnected,
	}
	if d.CurrentPlayer != nil {
		sym := symbolFromString(*d.CurrentPlayer)
		p.CurrentPlayer = &sym
	}
	return p
}

// DataFromPatch converts a store patch into its wire form.
func DataFromPatch(p roomstore.Patch) *PatchData {
	d := &PatchData{
		Guest:          p.Guest,
		Board:          p.Board,
		GameStarted:    p.GameStarted,
		Player1Ready:   p.Player1Ready,
		Player2Ready:   p.Player2Ready,
		HostConnected:  p.HostConnected,
		GuestConnected: p.GuestConnected,
	}
	if p.CurrentPlayer != nil {
		s := string(*p.CurrentPlayer)
		d.CurrentPlayer = &s
	}
	return d
}

// ChatFromEntry converts a stored chat entry into its wire form.
func ChatFromEntry(e roomstore.ChatEntry) *ChatPayload {
	return &ChatPayload{
		Sender: e.Sender,
		Text:   e.Message,
		IsHost: e.IsHost,
		SentAt: e.CreatedAt,
	}
}

// EntryFromChat converts a wire chat payload back into a store entry.
func EntryFromChat(p *ChatPayload) roomstore.ChatEntry {
	return roomstore.ChatEntry{
		Sender:    p.Sender,
		Message:   p.Text,
		IsHost:    p.IsHost,
		CreatedAt: p.SentAt,
	}
}

func symbolFromString(s string) board.Symbol {
	switch s {
	case string(board.X):
		return board.X
	case string(board.O):
		return board.O
	default:
		return board.Empty
	}
}
