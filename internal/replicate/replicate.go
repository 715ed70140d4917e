// Package replicate binds a local session to the shared room store. It
// maps local intents to record writes and record change notifications
// back to session transitions, deciding what counts as a game start, a
// move to apply, or a disconnect.
package replicate

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"gridmatch/internal/board"
	"gridmatch/internal/roomstore"
	"gridmatch/internal/session"
	"gridmatch/internal/utils"
)

var (
	ErrMissingName     = errors.New("name is required")
	ErrInvalidRoomCode = errors.New("invalid room code")

	// Surfaced unchanged from the store.
	ErrRoomNotFound = roomstore.ErrRoomNotFound
	ErrRoomFull     = roomstore.ErrRoomFull
)

const writeTimeout = 5 * time.Second

// Replicator drives one room subscription for one participant.
type Replicator struct {
	store roomstore.Store
	sess  *session.Session
	log   *zerolog.Logger
	rng   *rand.Rand

	mu             sync.Mutex
	code           string
	name           string
	isHost         bool
	hasStartedOnce bool
	opponentLeft   bool
	cancelSub      func()
	loopDone       chan struct{}
}

// New builds a replicator for one session. src seeds the starting-player
// draw; nil uses a time-seeded source.
func New(st roomstore.Store, sess *session.Session, logger *zerolog.Logger, src rand.Source) *Replicator {
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &Replicator{
		store: st,
		sess:  sess,
		log:   logger,
		rng:   rand.New(src),
	}
}

// CreateRoom creates a fresh room, binds the session as host (symbol X)
// and subscribes for changes. The host's game starts only once a guest
// join is observed. Returns the room code.
func (r *Replicator) CreateRoom(ctx context.Context, hostName string, size int) (string, error) {
	hostName = strings.TrimSpace(hostName)
	if hostName == "" {
		return "", ErrMissingName
	}
	if !board.ValidSize(size) {
		return "", board.ErrBadSize
	}

	code := utils.NewRoomCode()
	start := r.drawStart()

	rec := &roomstore.RoomRecord{
		Code:          code,
		Host:          hostName,
		Board:         board.New(size).Encode(),
		BoardSize:     size,
		CurrentPlayer: start,
		HostConnected: true,
	}
	if err := r.store.CreateRoom(ctx, rec); err != nil {
		return "", fmt.Errorf("create room: %w", err)
	}

	r.mu.Lock()
	r.code = code
	r.name = hostName
	r.isHost = true
	r.hasStartedOnce = false
	r.opponentLeft = false
	r.mu.Unlock()

	r.sess.BindOnline(session.Identity{IsHost: true, MySymbol: board.X, RoomCode: code}, r)

	if err := r.subscribe(ctx); err != nil {
		return "", err
	}
	r.log.Info().Str("room", code).Str("host", hostName).Msg("room created")
	return code, nil
}

// JoinRoom joins an existing room as guest (symbol O), adopting the
// host's board size, and starts the game on both sides by flipping
// gameStarted.
func (r *Replicator) JoinRoom(ctx context.Context, code, guestName string) error {
	guestName = strings.TrimSpace(guestName)
	if guestName == "" {
		return ErrMissingName
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	if !utils.ValidRoomCode(code) {
		return ErrInvalidRoomCode
	}

	rec, err := r.store.GetRoom(ctx, code)
	if err != nil {
		return err
	}
	// Full means a guest is present and still connected; a slot whose
	// guest left can be taken over.
	if rec.Guest != "" && rec.GuestConnected {
		return roomstore.ErrRoomFull
	}

	joined := true
	patch := roomstore.Patch{
		Guest:          &guestName,
		GameStarted:    &joined,
		GuestConnected: &joined,
	}
	if err := r.store.PatchRoom(ctx, code, patch); err != nil {
		return fmt.Errorf("join room: %w", err)
	}

	r.mu.Lock()
	r.code = code
	r.name = guestName
	r.isHost = false
	r.hasStartedOnce = true
	r.opponentLeft = false
	r.mu.Unlock()

	r.sess.BindOnline(session.Identity{IsHost: false, MySymbol: board.O, RoomCode: code}, r)
	r.sess.StartOnline(rec.Host, guestName, rec.BoardSize, rec.CurrentPlayer)

	if err := r.subscribe(ctx); err != nil {
		return err
	}
	r.log.Info().Str("room", code).Str("guest", guestName).Msg("room joined")
	return nil
}

func (r *Replicator) subscribe(ctx context.Context) error {
	events, cancel, err := r.store.Subscribe(ctx, r.code)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	done := make(chan struct{})

	r.mu.Lock()
	r.cancelSub = cancel
	r.loopDone = done
	r.mu.Unlock()

	go r.reconcile(events, done)
	return nil
}

// reconcile is the single consumer of room change notifications. All
// remote-triggered state changes go through the same session transition
// methods local input uses.
func (r *Replicator) reconcile(events <-chan roomstore.RoomEvent, done chan struct{}) {
	defer close(done)
	for ev := range events {
		switch ev.Kind {
		case roomstore.RoomDeleted:
			r.onRoomDeleted()
			return
		case roomstore.ChatAppended:
			r.onChat(ev.Chat)
		case roomstore.RoomUpdated:
			r.onRecord(ev.Record)
		}
	}
}

func (r *Replicator) onRoomDeleted() {
	r.mu.Lock()
	fire := !r.opponentLeft && !r.isHost
	r.opponentLeft = true
	r.mu.Unlock()
	if fire {
		// Host deleted the room underneath us.
		r.log.Info().Str("room", r.code).Msg("room deleted by host")
		r.sess.OpponentLeft()
	}
}

func (r *Replicator) onChat(entry *roomstore.ChatEntry) {
	r.mu.Lock()
	own := entry.IsHost == r.isHost
	r.mu.Unlock()
	r.sess.ChatReceived(entry.Sender, entry.Message, own)
}

func (r *Replicator) onRecord(rec *roomstore.RoomRecord) {
	r.mu.Lock()
	isHost := r.isHost
	name := r.name

	// First-join guard: only a connected guest arrival when the game has
	// never started counts as a game start. Later field updates (chat,
	// ready flags) must not re-trigger it, and a departed guest whose
	// slot has not been wiped yet is not a join.
	firstJoin := isHost && rec.Guest != "" && rec.GuestConnected && rec.GameStarted && !r.hasStartedOnce
	if firstJoin {
		r.hasStartedOnce = true
		r.opponentLeft = false
	}

	// One-shot disconnect detection on the opponent's connected flag.
	oppConnected := rec.HostConnected
	if isHost {
		oppConnected = rec.GuestConnected
	}
	disconnected := rec.GameStarted && !r.opponentLeft && !oppConnected
	if disconnected {
		r.opponentLeft = true
		if isHost {
			// Ready for the next guest's first join.
			r.hasStartedOnce = false
		}
	}
	r.mu.Unlock()

	if firstJoin {
		r.log.Info().Str("room", rec.Code).Str("guest", rec.Guest).Msg("guest joined, starting game")
		r.sess.StartOnline(name, rec.Guest, rec.BoardSize, rec.CurrentPlayer)
	}
	if disconnected {
		r.log.Info().Str("room", rec.Code).Bool("is_host", isHost).Msg("opponent disconnected")
		r.sess.OpponentLeft()
	}

	// Host-side recovery: a departed guest's slot is wiped and the
	// board reset so the room can be rejoined under the same code.
	if isHost && !rec.GuestConnected && rec.Guest != "" {
		r.clearGuestSlot(rec)
	}

	if rec.GameStarted && rec.Board != "" {
		r.syncGameState(rec)
	}
}

func (r *Replicator) clearGuestSlot(rec *roomstore.RoomRecord) {
	noGuest := ""
	no := false
	empty := board.New(rec.BoardSize).Encode()
	patch := roomstore.Patch{
		Guest:          &noGuest,
		GameStarted:    &no,
		Player2Ready:   &no,
		Board:          &empty,
		GuestConnected: &no,
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.store.PatchRoom(ctx, rec.Code, patch); err != nil && !errors.Is(err, roomstore.ErrRoomNotFound) {
		r.log.Warn().Err(err).Str("room", rec.Code).Msg("failed to reopen room after guest left")
	}
}

// syncGameState applies a replicated record to the session: the
// both-ready rematch handshake first, then board reconciliation.
func (r *Replicator) syncGameState(rec *roomstore.RoomRecord) {
	if rec.Player1Ready && rec.Player2Ready && !r.sess.Active() {
		r.sess.ActivateRematch(rec.CurrentPlayer)
		r.mu.Lock()
		isHost := r.isHost
		r.mu.Unlock()
		if isHost {
			// Close the handshake window so a stale notification
			// cannot re-trigger it.
			no := false
			patch := roomstore.Patch{Player1Ready: &no, Player2Ready: &no}
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			defer cancel()
			if err := r.store.PatchRoom(ctx, rec.Code, patch); err != nil {
				r.log.Warn().Err(err).Str("room", rec.Code).Msg("failed to clear ready flags")
			}
		}
		return
	}

	if !r.sess.Active() {
		return
	}

	b, err := rec.DecodeBoard()
	if err != nil {
		r.log.Warn().Err(err).Str("room", rec.Code).Msg("malformed replicated board")
		return
	}
	r.sess.ApplyRemoteState(b, rec.CurrentPlayer)
}

// ---- session.Remote ----
//
// Pushes run in their own goroutines: the session calls these while
// holding its own lock, and a failed write is reported once and
// abandoned, never retried.

// PushState replicates the board and next player after a local move.
func (r *Replicator) PushState(b board.Board, next board.Symbol) {
	encoded := b.Encode()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		patch := roomstore.Patch{Board: &encoded, CurrentPlayer: &next}
		if err := r.store.PatchRoom(ctx, r.roomCode(), patch); err != nil {
			r.log.Warn().Err(err).Msg("failed to replicate move")
			r.sess.Notice("Failed to sync your move. Check your connection.")
		}
	}()
}

// PushReady sets this side's ready flag; the host also writes the reset
// board and its starting-player draw.
func (r *Replicator) PushReady(reset board.Board, start board.Symbol) {
	r.mu.Lock()
	isHost := r.isHost
	code := r.code
	r.mu.Unlock()

	yes := true
	patch := roomstore.Patch{}
	if isHost {
		encoded := reset.Encode()
		patch.Player1Ready = &yes
		patch.Board = &encoded
		patch.CurrentPlayer = &start
	} else {
		patch.Player2Ready = &yes
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := r.store.PatchRoom(ctx, code, patch); err != nil {
			r.log.Warn().Err(err).Msg("failed to signal ready")
			r.sess.Notice("Failed to signal ready. Check your connection.")
		}
	}()
}

// PushChat appends a chat entry authored by this side.
func (r *Replicator) PushChat(text string) {
	r.mu.Lock()
	entry := roomstore.ChatEntry{Sender: r.name, Message: text, IsHost: r.isHost}
	code := r.code
	r.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := r.store.AppendChat(ctx, code, entry); err != nil {
			r.log.Warn().Err(err).Msg("failed to send chat message")
			r.sess.Notice("Failed to send message.")
		}
	}()
}

// Leave clears this side's connected flag; the host then deletes the
// room outright, the guest only unsubscribes.
func (r *Replicator) Leave() {
	r.mu.Lock()
	code := r.code
	isHost := r.isHost
	cancel := r.cancelSub
	r.cancelSub = nil
	r.mu.Unlock()

	if code == "" {
		return
	}
	if cancel != nil {
		cancel()
	}

	go func() {
		ctx, cancelCtx := context.WithTimeout(context.Background(), writeTimeout)
		defer cancelCtx()

		no := false
		patch := roomstore.Patch{HostConnected: &no}
		if !isHost {
			patch = roomstore.Patch{GuestConnected: &no}
		}
		if err := r.store.PatchRoom(ctx, code, patch); err != nil && !errors.Is(err, roomstore.ErrRoomNotFound) {
			r.log.Warn().Err(err).Str("room", code).Msg("failed to mark disconnect")
		}
		if isHost {
			if err := r.store.DeleteRoom(ctx, code); err != nil && !errors.Is(err, roomstore.ErrRoomNotFound) {
				r.log.Warn().Err(err).Str("room", code).Msg("failed to delete room")
			}
		}
	}()
}

func (r *Replicator) roomCode() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.code
}

func (r *Replicator) drawStart() board.Symbol {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rng.Intn(2) == 1 {
		return board.O
	}
	return board.X
}
