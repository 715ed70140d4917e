package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"gridmatch/internal/board"
	"gridmatch/internal/roomstore"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	logger := zerolog.Nop()
	s, err := New(":memory:", &logger)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testRecord(code string) *roomstore.RoomRecord {
	return &roomstore.RoomRecord{
		Code:          code,
		Host:          "alice",
		Board:         board.New(3).Encode(),
		BoardSize:     3,
		CurrentPlayer: board.X,
		HostConnected: true,
	}
}

func mustEvent(t *testing.T, ch <-chan roomstore.RoomEvent, kind roomstore.EventKind) roomstore.RoomEvent {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("event channel closed before kind %v", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("expected event kind %v not received", kind)
		}
	}
}

func TestCreateGetDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateRoom(ctx, testRecord("ABC123")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateRoom(ctx, testRecord("ABC123")); !errors.Is(err, roomstore.ErrRoomExists) {
		t.Fatalf("expected ErrRoomExists, got %v", err)
	}

	rec, err := s.GetRoom(ctx, "ABC123")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Host != "alice" || rec.Guest != "" || !rec.HostConnected || rec.GuestConnected {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.CurrentPlayer != board.X {
		t.Fatalf("got current player %q, want X", rec.CurrentPlayer)
	}

	if err := s.DeleteRoom(ctx, "ABC123"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetRoom(ctx, "ABC123"); !errors.Is(err, roomstore.ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestPatchAppliesOnlySetFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateRoom(ctx, testRecord("ROOM01")); err != nil {
		t.Fatal(err)
	}

	guest := "bob"
	started := true
	connected := true
	err := s.PatchRoom(ctx, "ROOM01", roomstore.Patch{
		Guest:          &guest,
		GameStarted:    &started,
		GuestConnected: &connected,
	})
	if err != nil {
		t.Fatalf("patch: %v", err)
	}

	rec, err := s.GetRoom(ctx, "ROOM01")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Guest != "bob" || !rec.GameStarted || !rec.GuestConnected {
		t.Fatalf("patched fields missing: %+v", rec)
	}
	// Untouched fields keep their values.
	if rec.Host != "alice" || rec.BoardSize != 3 || !rec.HostConnected {
		t.Fatalf("untouched fields changed: %+v", rec)
	}
}

func TestPatchUnknownRoom(t *testing.T) {
	s := newTestStore(t)
	started := true
	err := s.PatchRoom(context.Background(), "NOPE99", roomstore.Patch{GameStarted: &started})
	if !errors.Is(err, roomstore.ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestSubscribeDeliversUpdates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateRoom(ctx, testRecord("ROOM02")); err != nil {
		t.Fatal(err)
	}
	ch, cancel, err := s.Subscribe(ctx, "ROOM02")
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()

	guest := "bob"
	if err := s.PatchRoom(ctx, "ROOM02", roomstore.Patch{Guest: &guest}); err != nil {
		t.Fatal(err)
	}

	ev := mustEvent(t, ch, roomstore.RoomUpdated)
	if ev.Record == nil || ev.Record.Guest != "bob" {
		t.Fatalf("unexpected update event: %+v", ev)
	}
}

func TestSubscribeDeliversChatAndDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateRoom(ctx, testRecord("ROOM03")); err != nil {
		t.Fatal(err)
	}
	ch, cancel, err := s.Subscribe(ctx, "ROOM03")
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()

	entry := roomstore.ChatEntry{Sender: "alice", Message: "gl hf", IsHost: true}
	if err := s.AppendChat(ctx, "ROOM03", entry); err != nil {
		t.Fatal(err)
	}
	ev := mustEvent(t, ch, roomstore.ChatAppended)
	if ev.Chat == nil || ev.Chat.Message != "gl hf" || !ev.Chat.IsHost {
		t.Fatalf("unexpected chat event: %+v", ev)
	}

	if err := s.DeleteRoom(ctx, "ROOM03"); err != nil {
		t.Fatal(err)
	}
	mustEvent(t, ch, roomstore.RoomDeleted)

	// Channel closes after deletion.
	if _, ok := <-ch; ok {
		t.Fatal("channel still open after room deletion")
	}
}

func TestSubscribeUnknownRoom(t *testing.T) {
	s := newTestStore(t)
	if _, _, err := s.Subscribe(context.Background(), "NOPE99"); !errors.Is(err, roomstore.ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestChatRequiresRoom(t *testing.T) {
	s := newTestStore(t)
	err := s.AppendChat(context.Background(), "NOPE99", roomstore.ChatEntry{Sender: "x", Message: "hi"})
	if !errors.Is(err, roomstore.ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestSweepRemovesExpiredRooms(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateRoom(ctx, testRecord("OLD001")); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateRoom(ctx, testRecord("NEW001")); err != nil {
		t.Fatal(err)
	}

	// Backdate one room past the TTL.
	if _, err := s.db.Exec(
		`UPDATE rooms SET created_at = ? WHERE code = ?`,
		time.Now().Add(-2*time.Hour).UTC(), "OLD001",
	); err != nil {
		t.Fatal(err)
	}

	ch, cancel, err := s.Subscribe(ctx, "OLD001")
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()

	if err := s.Sweep(ctx, time.Hour); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	mustEvent(t, ch, roomstore.RoomDeleted)

	if _, err := s.GetRoom(ctx, "OLD001"); !errors.Is(err, roomstore.ErrRoomNotFound) {
		t.Fatalf("expired room survived sweep: %v", err)
	}
	if _, err := s.GetRoom(ctx, "NEW001"); err != nil {
		t.Fatalf("fresh room swept: %v", err)
	}
}

func TestListRooms(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, code := range []string{"AAA111", "BBB222"} {
		if err := s.CreateRoom(ctx, testRecord(code)); err != nil {
			t.Fatal(err)
		}
	}
	recs, err := s.ListRooms(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d rooms, want 2", len(recs))
	}
}
