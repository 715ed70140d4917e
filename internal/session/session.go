// Package session owns the local view of one game: the authoritative
// board, whose turn it is, scores, and the transitions between menu,
// active play and the end-of-game states. Local input, AI moves and
// remote notifications all funnel through the same transition methods;
// one mutex serializes them, so no two transitions interleave.
package session

import (
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"gridmatch/internal/ai"
	"gridmatch/internal/board"
)

// Mode selects the opponent source.
type Mode int

const (
	ModeLocal Mode = iota
	ModeAI
	ModeOnline
)

// Phase is the session lifecycle state.
type Phase int

const (
	// PhaseIdle is the menu; no game exists.
	PhaseIdle Phase = iota
	// PhaseSetup is after mode selection, before names/room are settled.
	PhaseSetup
	// PhaseActive is a running game.
	PhaseActive
	// PhaseAwaitingReady gates an online rematch until both sides are ready.
	PhaseAwaitingReady
	// PhaseEnded is after a win, draw or opponent departure.
	PhaseEnded
)

// Outcome is how a game ended.
type Outcome int

const (
	OutcomeWin Outcome = iota
	OutcomeDraw
	OutcomeOpponentLeft
)

// Scores tallies results across games in one session.
type Scores struct {
	Player1    int
	Player2    int
	Draws      int
	TotalGames int
}

// Identity is the online-mode role of this participant.
type Identity struct {
	IsHost   bool
	MySymbol board.Symbol
	RoomCode string
}

// Remote receives the session's online intents. The replication layer
// implements it; pushes are best-effort, never retried.
type Remote interface {
	// PushState replicates the board and next player after a local move.
	PushState(b board.Board, next board.Symbol)
	// PushReady signals rematch consent. The host side also carries the
	// reset board and the freshly drawn starting player.
	PushReady(reset board.Board, start board.Symbol)
	// PushChat appends a chat message.
	PushChat(text string)
	// Leave tears down this side's presence in the room.
	Leave()
}

// Config tunes a session.
type Config struct {
	BoardSize int
	// AIMoveDelay is the pause before a scheduled AI move, letting
	// state settle first.
	AIMoveDelay time.Duration
	// DisconnectReturnDelay is how long a guest lingers on the
	// opponent-left notice before auto-returning to the menu.
	DisconnectReturnDelay time.Duration
	// Rand seeds starting-player draws and the AI policy. Nil uses a
	// time-seeded source.
	Rand rand.Source
}

// DefaultConfig returns the stock timings.
func DefaultConfig() Config {
	return Config{
		BoardSize:             3,
		AIMoveDelay:           400 * time.Millisecond,
		DisconnectReturnDelay: 2 * time.Second,
	}
}

// Session is one participant's game state machine.
type Session struct {
	mu  sync.Mutex
	log *zerolog.Logger

	mode    Mode
	phase   Phase
	size    int
	board   board.Board
	lines   []board.Line
	current board.Symbol
	player1 string
	player2 string
	scores  Scores

	aiThinking bool
	policy     *ai.Policy
	rng        *rand.Rand

	online *Identity
	remote Remote

	aiMoveDelay time.Duration
	returnDelay time.Duration
	aiTimer     *time.Timer
	returnTimer *time.Timer

	events chan Event
}

// New builds an idle session.
func New(cfg Config, logger *zerolog.Logger) *Session {
	if cfg.BoardSize == 0 {
		cfg.BoardSize = 3
	}
	src := cfg.Rand
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	rng := rand.New(src)
	return &Session{
		log:         logger,
		phase:       PhaseIdle,
		size:        cfg.BoardSize,
		policy:      ai.New(rand.NewSource(rng.Int63())),
		rng:         rng,
		aiMoveDelay: cfg.AIMoveDelay,
		returnDelay: cfg.DisconnectReturnDelay,
		events:      make(chan Event, 32),
	}
}

// Events is the stream the presentation layer consumes.
func (s *Session) Events() <-chan Event { return s.events }

// SelectMode records the chosen mode and leaves the menu.
func (s *Session) SelectMode(mode Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
	s.phase = PhaseSetup
}

// SetBoardSize reconfigures the grid before a game starts. Winning
// lines are a pure function of the size and are recomputed on start.
func (s *Session) SetBoardSize(size int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !board.ValidSize(size) {
		return board.ErrBadSize
	}
	if s.phase == PhaseActive || s.phase == PhaseAwaitingReady {
		return nil // no-op mid-game, same as a stale click
	}
	s.size = size
	return nil
}

// StartLocal begins a local or AI game. Blank names fall back to
// stock defaults.
func (s *Session) StartLocal(name1, name2 string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode == ModeOnline {
		return
	}
	if name1 == "" {
		name1 = "Player 1"
	}
	if name2 == "" {
		if s.mode == ModeAI {
			name2 = "Computer"
		} else {
			name2 = "Player 2"
		}
	}
	s.player1, s.player2 = name1, name2
	s.startBoardLocked(board.X)
}

// BindOnline attaches the online identity and remote sink. Called by
// the replication layer before StartOnline.
func (s *Session) BindOnline(id Identity, remote Remote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = ModeOnline
	s.online = &id
	s.remote = remote
}

// StartOnline begins (or restarts, for a host whose room got a fresh
// guest) the online game with the agreed names, size and starting player.
func (s *Session) StartOnline(player1, player2 string, size int, start board.Symbol) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.online == nil {
		return
	}
	s.player1, s.player2 = player1, player2
	if board.ValidSize(size) {
		s.size = size
	}
	s.startBoardLocked(start)
}

// startBoardLocked resets the grid and enters PhaseActive.
func (s *Session) startBoardLocked(start board.Symbol) {
	s.board = board.New(s.size)
	s.lines = board.Lines(s.size)
	s.current = start
	s.aiThinking = false
	s.phase = PhaseActive
	if s.log != nil {
		s.log.Info().Int("size", s.size).Str("start", string(start)).Msg("game started")
	}
	s.emit(Event{Kind: EventGameStarted, Board: s.board.Clone(), Current: s.current,
		Player1: s.player1, Player2: s.player2, Size: s.size})
	s.maybeScheduleAILocked()
}

// ApplyMove plays the current player's symbol at index. Rejected moves
// are silent no-ops: inactive game, occupied cell, pending AI move, or
// an online turn that is not ours. Returns whether the move applied.
func (s *Session) ApplyMove(index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseActive || s.aiThinking {
		return false
	}
	if index < 0 || index >= len(s.board) || s.board[index] != board.Empty {
		return false
	}
	if s.online != nil && s.current != s.online.MySymbol {
		return false
	}

	s.placeLocked(index, s.current)
	return true
}

// placeLocked writes the symbol, replicates if online, then runs the
// win/draw check and either ends the game or flips the turn.
func (s *Session) placeLocked(index int, sym board.Symbol) {
	s.board[index] = sym
	next := s.current.Other()

	if s.online != nil && s.remote != nil {
		// Best-effort push; the board carries the outcome, so the
		// next-player field is written even on a winning move.
		s.remote.PushState(s.board.Clone(), next)
	}

	if s.checkEndLocked() {
		return
	}

	s.current = next
	s.emit(Event{Kind: EventBoardUpdated, Board: s.board.Clone(), Current: s.current})
	s.maybeScheduleAILocked()
}

// checkEndLocked runs winner-then-draw detection; order matters, a full
// board with a winning line is a win.
func (s *Session) checkEndLocked() bool {
	if winner, line := board.CheckWinner(s.board, s.lines); winner != board.Empty {
		s.endLocked(OutcomeWin, winner, line)
		return true
	}
	if s.board.Full() {
		s.endLocked(OutcomeDraw, board.Empty, nil)
		return true
	}
	return false
}

func (s *Session) endLocked(outcome Outcome, winner board.Symbol, line board.Line) {
	s.phase = PhaseEnded
	s.aiThinking = false
	s.stopAITimerLocked()

	s.scores.TotalGames++
	switch {
	case outcome == OutcomeDraw:
		s.scores.Draws++
	case winner == board.X:
		s.scores.Player1++
	case winner == board.O:
		s.scores.Player2++
	}

	if s.log != nil {
		s.log.Info().Int("outcome", int(outcome)).Str("winner", string(winner)).
			Int("total_games", s.scores.TotalGames).Msg("game ended")
	}
	s.emit(Event{Kind: EventGameEnded, Board: s.board.Clone(), Outcome: outcome,
		Winner: winner, Line: line, Scores: s.scores})
}

// maybeScheduleAILocked arms one deferred AI move when it is the
// computer's turn. The aiThinking flag blocks human input until the
// move lands.
func (s *Session) maybeScheduleAILocked() {
	if s.mode != ModeAI || s.phase != PhaseActive || s.current != board.O {
		return
	}
	s.aiThinking = true
	s.stopAITimerLocked()
	s.aiTimer = time.AfterFunc(s.aiMoveDelay, s.aiMove)
}

func (s *Session) aiMove() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aiThinking = false
	if s.phase != PhaseActive || s.mode != ModeAI || s.current != board.O {
		return
	}
	move := s.policy.ChooseMove(s.board, s.size, board.O)
	if move < 0 || move >= len(s.board) || s.board[move] != board.Empty {
		return
	}
	s.placeLocked(move, board.O)
}

// Rematch starts a fresh game on the same board size with a randomly
// drawn starting player. Online, the game stays gated until both ready
// flags are observed true by the replication layer.
func (s *Session) Rematch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseActive && s.phase != PhaseEnded {
		return
	}
	// Online, a rematch is only offered once the game is over; a
	// mid-game reset would wipe the shared board for both sides.
	if s.online != nil && s.phase != PhaseEnded {
		return
	}

	start := board.X
	if s.rng.Intn(2) == 1 {
		start = board.O
	}

	if s.online != nil {
		s.board = board.New(s.size)
		s.lines = board.Lines(s.size)
		s.current = start
		s.phase = PhaseAwaitingReady
		s.emit(Event{Kind: EventAwaitingReady})
		if s.remote != nil {
			s.remote.PushReady(s.board.Clone(), start)
		}
		return
	}

	s.startBoardLocked(start)
}

// ActivateRematch is the deferred active transition: the replication
// layer observed both ready flags true. The starting player comes from
// the record, where the host wrote it.
func (s *Session) ActivateRematch(start board.Symbol) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.online == nil || s.phase == PhaseActive {
		return
	}
	s.startBoardLocked(start)
}

// ApplyRemoteState folds the replicated board into the local one. Each
// differing non-empty cell is the opponent's move, already validated on
// their side, so it bypasses the turn-ownership gate.
func (s *Session) ApplyRemoteState(remote board.Board, next board.Symbol) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseActive || len(remote) != len(s.board) {
		return
	}

	changed := false
	for i, cell := range remote {
		if cell != board.Empty && s.board[i] != cell {
			s.board[i] = cell
			changed = true
		}
	}
	if !changed {
		return
	}

	s.current = next
	s.emit(Event{Kind: EventBoardUpdated, Board: s.board.Clone(), Current: s.current})
	s.checkEndLocked()
}

// AdoptGuest records the guest's name on the host side.
func (s *Session) AdoptGuest(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.player2 = name
}

// OpponentLeft is the one-shot disconnect transition. The host keeps
// its room and waits for a new guest; the guest is informed and
// auto-returned to the menu after the configured delay.
func (s *Session) OpponentLeft() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.online == nil {
		return
	}
	s.phase = PhaseEnded
	s.aiThinking = false
	s.stopAITimerLocked()
	s.emit(Event{Kind: EventGameEnded, Outcome: OutcomeOpponentLeft, Scores: s.scores})

	if s.online.IsHost {
		// Room stays open; clear the departed guest locally.
		s.player2 = "Player 2"
		s.board = board.New(s.size)
		return
	}

	s.stopReturnTimerLocked()
	s.returnTimer = time.AfterFunc(s.returnDelay, s.ReturnToMenu)
}

// SendChat pushes a chat message to the room. No-op outside online mode.
func (s *Session) SendChat(text string) {
	s.mu.Lock()
	remote := s.remote
	online := s.online != nil
	s.mu.Unlock()
	if !online || remote == nil || text == "" {
		return
	}
	remote.PushChat(text)
}

// ChatReceived surfaces a replicated chat entry to the presentation
// layer, tagged with whether this side authored it.
func (s *Session) ChatReceived(sender, text string, own bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emit(Event{Kind: EventChatMessage, Chat: &ChatMessage{Sender: sender, Text: text, Own: own}})
}

// Notice surfaces a blocking user-facing error, e.g. a failed remote
// write. Nothing is retried.
func (s *Session) Notice(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emit(Event{Kind: EventNotice, Notice: text})
}

// ReturnToMenu tears down the game, leaves the room if online, resets
// scores and re-enters the menu. Pending deferred actions are cancelled
// rather than left to fire against a dead session.
func (s *Session) ReturnToMenu() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopAITimerLocked()
	s.stopReturnTimerLocked()

	if s.online != nil && s.remote != nil {
		s.remote.Leave()
	}
	s.online = nil
	s.remote = nil

	s.mode = ModeLocal
	s.phase = PhaseIdle
	s.board = nil
	s.lines = nil
	s.current = board.X
	s.aiThinking = false
	s.scores = Scores{}
	s.emit(Event{Kind: EventReturnedToMenu})
}

// Snapshot support for the presentation layer and tests.

func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Session) Active() bool {
	return s.Phase() == PhaseActive
}

func (s *Session) Board() board.Board {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.board == nil {
		return nil
	}
	return s.board.Clone()
}

func (s *Session) CurrentPlayer() board.Symbol {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Session) Scores() Scores {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scores
}

func (s *Session) Names() (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.player1, s.player2
}

func (s *Session) Online() *Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.online == nil {
		return nil
	}
	id := *s.online
	return &id
}

func (s *Session) stopAITimerLocked() {
	if s.aiTimer != nil {
		s.aiTimer.Stop()
		s.aiTimer = nil
	}
}

func (s *Session) stopReturnTimerLocked() {
	if s.returnTimer != nil {
		s.returnTimer.Stop()
		s.returnTimer = nil
	}
}

func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		// Drop if the presentation layer is not draining; every event
		// carries full state, not a delta.
		if s.log != nil {
			s.log.Warn().Int("kind", int(ev.Kind)).Msg("dropping session event")
		}
	}
}
