package session

import "gridmatch/internal/board"

// EventKind discriminates session events.
type EventKind int

const (
	// EventGameStarted carries the fresh board, names and starting player.
	EventGameStarted EventKind = iota
	// EventBoardUpdated carries the board after any applied move.
	EventBoardUpdated
	// EventGameEnded carries the outcome, winner and updated scores.
	EventGameEnded
	// EventAwaitingReady signals the online rematch gate is up.
	EventAwaitingReady
	// EventReturnedToMenu signals the session is idle again.
	EventReturnedToMenu
	// EventChatMessage carries one chat entry.
	EventChatMessage
	// EventNotice carries a user-facing error message.
	EventNotice
)

// ChatMessage is a chat entry as shown to the player. Own decides the
// left/right alignment in the presentation layer.
type ChatMessage struct {
	Sender string
	Text   string
	Own    bool
}

// Event is what the presentation layer consumes. Fields are populated
// per kind; Board is always a copy the receiver may keep.
type Event struct {
	Kind    EventKind
	Board   board.Board
	Current board.Symbol
	Player1 string
	Player2 string
	Size    int
	Outcome Outcome
	Winner  board.Symbol
	Line    board.Line
	Scores  Scores
	Chat    *ChatMessage
	Notice  string
}
