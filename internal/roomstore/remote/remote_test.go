package remote

import (
	"context"
	"errors"
	stdhttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"gridmatch/internal/board"
	"gridmatch/internal/config"
	"gridmatch/internal/proto"
	"gridmatch/internal/roomstore"
	"gridmatch/internal/roomstore/sqlite"
	transport "gridmatch/internal/transport/http"
)

func newRelay(t *testing.T) *httptest.Server {
	t.Helper()
	logger := zerolog.Nop()
	st, err := sqlite.New(":memory:", &logger)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}

	cfg := config.Default()
	cfg.TicketSecret = "test-secret"
	srv := transport.NewServer(st, cfg, &logger)

	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(func() {
		ts.Close()
		_ = st.Close()
	})
	return ts
}

func newRemote(t *testing.T, relay *httptest.Server, name string) *Store {
	t.Helper()
	logger := zerolog.Nop()
	s := New(relay.URL, name, &logger)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func hostRecord(code string) *roomstore.RoomRecord {
	return &roomstore.RoomRecord{
		Code:          code,
		Host:          "alice",
		Board:         board.New(3).Encode(),
		BoardSize:     3,
		CurrentPlayer: board.X,
		HostConnected: true,
	}
}

func waitEvent(t *testing.T, events <-chan roomstore.RoomEvent, kind roomstore.EventKind) roomstore.RoomEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("event channel closed while waiting for kind %d", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event kind %d", kind)
		}
	}
}

func TestCreateAndGetRoom(t *testing.T) {
	relay := newRelay(t)
	host := newRemote(t, relay, "alice")
	ctx := context.Background()

	rec := hostRecord("AAAAAA")
	if err := host.CreateRoom(ctx, rec); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := host.GetRoom(ctx, "AAAAAA")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Host != "alice" || got.BoardSize != 3 || !got.HostConnected {
		t.Fatalf("unexpected record: %+v", got)
	}

	if err := host.CreateRoom(ctx, hostRecord("AAAAAA")); !errors.Is(err, roomstore.ErrRoomExists) {
		t.Fatalf("duplicate create: %v", err)
	}
	if _, err := host.GetRoom(ctx, "ZZZZZZ"); !errors.Is(err, roomstore.ErrRoomNotFound) {
		t.Fatalf("unknown get: %v", err)
	}
}

func TestPatchReplicatesAcrossStores(t *testing.T) {
	relay := newRelay(t)
	host := newRemote(t, relay, "alice")
	guest := newRemote(t, relay, "bob")
	ctx := context.Background()

	if err := host.CreateRoom(ctx, hostRecord("BBBBBB")); err != nil {
		t.Fatal(err)
	}

	events, cancel, err := host.Subscribe(ctx, "BBBBBB")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	// The guest's first patch claims the seat through the join endpoint.
	name := "bob"
	started := true
	on := true
	err = guest.PatchRoom(ctx, "BBBBBB", roomstore.Patch{Guest: &name, GameStarted: &started, GuestConnected: &on})
	if err != nil {
		t.Fatalf("guest patch: %v", err)
	}

	ev := waitEvent(t, events, roomstore.RoomUpdated)
	if ev.Record.Guest != "bob" || !ev.Record.GameStarted {
		t.Fatalf("host saw record %+v", ev.Record)
	}
}

func TestChatStampedByRelay(t *testing.T) {
	relay := newRelay(t)
	host := newRemote(t, relay, "alice")
	ctx := context.Background()

	if err := host.CreateRoom(ctx, hostRecord("CCCCCC")); err != nil {
		t.Fatal(err)
	}
	events, cancel, err := host.Subscribe(ctx, "CCCCCC")
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()

	// Sender metadata in the entry is ignored; the ticket decides it.
	err = host.AppendChat(ctx, "CCCCCC", roomstore.ChatEntry{Sender: "mallory", Message: "hi"})
	if err != nil {
		t.Fatalf("append chat: %v", err)
	}

	ev := waitEvent(t, events, roomstore.ChatAppended)
	if ev.Chat.Sender != "alice" || !ev.Chat.IsHost || ev.Chat.Message != "hi" {
		t.Fatalf("unexpected chat: %+v", ev.Chat)
	}
}

func TestGuestJoinFullRoom(t *testing.T) {
	relay := newRelay(t)
	host := newRemote(t, relay, "alice")
	guest := newRemote(t, relay, "bob")
	third := newRemote(t, relay, "carol")
	ctx := context.Background()

	if err := host.CreateRoom(ctx, hostRecord("DDDDDD")); err != nil {
		t.Fatal(err)
	}
	name := "bob"
	on := true
	if err := guest.PatchRoom(ctx, "DDDDDD", roomstore.Patch{Guest: &name, GuestConnected: &on}); err != nil {
		t.Fatal(err)
	}

	err := third.PatchRoom(ctx, "DDDDDD", roomstore.Patch{GuestConnected: &on})
	if !errors.Is(err, roomstore.ErrRoomFull) {
		t.Fatalf("expected ErrRoomFull, got %v", err)
	}
}

func TestHostDeleteNotifiesGuest(t *testing.T) {
	relay := newRelay(t)
	host := newRemote(t, relay, "alice")
	guest := newRemote(t, relay, "bob")
	ctx := context.Background()

	if err := host.CreateRoom(ctx, hostRecord("EEEEEE")); err != nil {
		t.Fatal(err)
	}
	name := "bob"
	on := true
	if err := guest.PatchRoom(ctx, "EEEEEE", roomstore.Patch{Guest: &name, GuestConnected: &on}); err != nil {
		t.Fatal(err)
	}
	events, cancel, err := guest.Subscribe(ctx, "EEEEEE")
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()

	if err := host.DeleteRoom(ctx, "EEEEEE"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	waitEvent(t, events, roomstore.RoomDeleted)

	deadline := time.Now().Add(2 * time.Second)
	for {
		_, err := guest.GetRoom(ctx, "EEEEEE")
		if errors.Is(err, roomstore.ErrRoomNotFound) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("room still present after host delete")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestGuestDeleteDoesNotRemoveRoom(t *testing.T) {
	relay := newRelay(t)
	host := newRemote(t, relay, "alice")
	guest := newRemote(t, relay, "bob")
	ctx := context.Background()

	if err := host.CreateRoom(ctx, hostRecord("FFFFFF")); err != nil {
		t.Fatal(err)
	}
	name := "bob"
	on := true
	if err := guest.PatchRoom(ctx, "FFFFFF", roomstore.Patch{Guest: &name, GuestConnected: &on}); err != nil {
		t.Fatal(err)
	}

	// A guest leave only releases the seat server-side.
	if err := guest.DeleteRoom(ctx, "FFFFFF"); err != nil {
		t.Fatalf("guest leave: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		rec, err := host.GetRoom(ctx, "FFFFFF")
		if err != nil {
			t.Fatalf("room disappeared after guest leave: %v", err)
		}
		if !rec.GuestConnected {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("guest seat never released")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// A relay error frame with no detail payload must not kill the event
// stream; later events still arrive.
func TestErrorFrameWithoutDetail(t *testing.T) {
	mux := stdhttp.NewServeMux()
	mux.HandleFunc("/api/rooms", func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(stdhttp.StatusCreated)
		_, _ = w.Write([]byte(`{"code":"HHHHHH","ticket":"tkt"}`))
	})
	mux.HandleFunc("/ws", func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		ctx := r.Context()
		// Wait for the client's first write so its subscriber is attached.
		var in proto.Inbound
		if err := wsjson.Read(ctx, conn, &in); err != nil {
			return
		}
		_ = wsjson.Write(ctx, conn, map[string]any{"type": proto.OutboundTypeError})
		_ = wsjson.Write(ctx, conn, proto.Outbound{
			Type: proto.OutboundTypeRoom,
			Room: &proto.RoomPayload{Code: "HHHHHH", Guest: "bob"},
		})
		<-ctx.Done()
	})
	relay := httptest.NewServer(mux)
	defer relay.Close()

	logger := zerolog.Nop()
	s := New(relay.URL, "alice", &logger)
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	if err := s.CreateRoom(ctx, hostRecord("HHHHHH")); err != nil {
		t.Fatalf("create: %v", err)
	}
	events, cancel, err := s.Subscribe(ctx, "HHHHHH")
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()

	started := true
	if err := s.PatchRoom(ctx, "HHHHHH", roomstore.Patch{GameStarted: &started}); err != nil {
		t.Fatalf("patch: %v", err)
	}

	ev := waitEvent(t, events, roomstore.RoomUpdated)
	if ev.Record.Guest != "bob" {
		t.Fatalf("record after error frame: %+v", ev.Record)
	}
}

func TestListRooms(t *testing.T) {
	relay := newRelay(t)
	host := newRemote(t, relay, "alice")
	ctx := context.Background()

	if err := host.CreateRoom(ctx, hostRecord("GGGGGG")); err != nil {
		t.Fatal(err)
	}
	rooms, err := host.ListRooms(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rooms) != 1 || rooms[0].Code != "GGGGGG" {
		t.Fatalf("unexpected list: %+v", rooms)
	}
}
