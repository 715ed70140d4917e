package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	stdhttp "net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"gridmatch/internal/config"
	"gridmatch/internal/roomstore"
	"gridmatch/internal/roomstore/sqlite"
	"gridmatch/internal/utils"
)

func newTestServer(t *testing.T) (*httptest.Server, roomstore.Store) {
	t.Helper()
	logger := zerolog.Nop()
	st, err := sqlite.New(":memory:", &logger)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}

	cfg := config.Default()
	cfg.TicketSecret = "test-secret"
	srv := NewServer(st, cfg, &logger)

	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(func() {
		ts.Close()
		_ = st.Close()
	})
	return ts, st
}

func postJSON(t *testing.T, url string, body any) (int, []byte) {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := stdhttp.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp.StatusCode, raw
}

func getJSON(t *testing.T, url string) (int, []byte) {
	t.Helper()
	resp, err := stdhttp.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp.StatusCode, raw
}

func createTestRoom(t *testing.T, ts *httptest.Server, name string, size int) CreateRoomResponse {
	t.Helper()
	status, raw := postJSON(t, ts.URL+"/api/rooms", CreateRoomRequest{HostName: name, BoardSize: size})
	if status != stdhttp.StatusCreated {
		t.Fatalf("create room status %d: %s", status, raw)
	}
	var out CreateRoomResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	return out
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t)
	status, raw := getJSON(t, ts.URL+"/healthz")
	if status != stdhttp.StatusOK || string(raw) != "ok" {
		t.Fatalf("healthz = %d %q", status, raw)
	}
}

func TestCreateRoom(t *testing.T) {
	ts, st := newTestServer(t)

	out := createTestRoom(t, ts, "alice", 3)
	if !utils.ValidRoomCode(out.Code) {
		t.Fatalf("bad room code %q", out.Code)
	}
	if out.Ticket == "" {
		t.Fatal("missing host ticket")
	}
	if out.Room == nil || out.Room.Host != "alice" || !out.Room.HostConnected {
		t.Fatalf("unexpected room payload: %+v", out.Room)
	}

	rec, err := st.GetRoom(context.Background(), out.Code)
	if err != nil {
		t.Fatalf("room not stored: %v", err)
	}
	if rec.BoardSize != 3 || rec.Guest != "" || rec.GameStarted {
		t.Fatalf("unexpected stored record: %+v", rec)
	}
}

func TestCreateRoomValidation(t *testing.T) {
	ts, _ := newTestServer(t)

	tests := []struct {
		name string
		body CreateRoomRequest
	}{
		{"missing name", CreateRoomRequest{BoardSize: 3}},
		{"bad size", CreateRoomRequest{HostName: "alice", BoardSize: 7}},
		{"bad code", CreateRoomRequest{HostName: "alice", BoardSize: 3, Code: "nope"}},
		{"bad starter", CreateRoomRequest{HostName: "alice", BoardSize: 3, CurrentPlayer: "Z"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _ := postJSON(t, ts.URL+"/api/rooms", tt.body)
			if status != stdhttp.StatusBadRequest {
				t.Fatalf("status = %d, want 400", status)
			}
		})
	}
}

func TestCreateRoomDuplicateCode(t *testing.T) {
	ts, _ := newTestServer(t)

	req := CreateRoomRequest{HostName: "alice", BoardSize: 3, Code: "AAAAAA"}
	if status, raw := postJSON(t, ts.URL+"/api/rooms", req); status != stdhttp.StatusCreated {
		t.Fatalf("first create status %d: %s", status, raw)
	}
	if status, _ := postJSON(t, ts.URL+"/api/rooms", req); status != stdhttp.StatusConflict {
		t.Fatalf("duplicate create status %d, want 409", status)
	}
}

func TestJoinRoom(t *testing.T) {
	ts, st := newTestServer(t)
	room := createTestRoom(t, ts, "alice", 4)

	status, raw := postJSON(t, ts.URL+"/api/rooms/"+room.Code+"/join", JoinRoomRequest{GuestName: "bob"})
	if status != stdhttp.StatusOK {
		t.Fatalf("join status %d: %s", status, raw)
	}
	var out JoinRoomResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode join response: %v", err)
	}
	if out.Ticket == "" {
		t.Fatal("missing guest ticket")
	}
	if out.Room.BoardSize != 4 {
		t.Fatalf("guest sees board size %d, want 4", out.Room.BoardSize)
	}

	// Joining never mutates the record; the guest claims the seat over ws.
	rec, err := st.GetRoom(context.Background(), room.Code)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Guest != "" {
		t.Fatalf("join mutated guest to %q", rec.Guest)
	}
}

func TestJoinRoomNotFound(t *testing.T) {
	ts, _ := newTestServer(t)
	status, _ := postJSON(t, ts.URL+"/api/rooms/ZZZZZZ/join", JoinRoomRequest{GuestName: "bob"})
	if status != stdhttp.StatusNotFound {
		t.Fatalf("status = %d, want 404", status)
	}
}

func TestJoinRoomFull(t *testing.T) {
	ts, st := newTestServer(t)
	room := createTestRoom(t, ts, "alice", 3)

	guest := "bob"
	connected := true
	if err := st.PatchRoom(context.Background(), room.Code, roomstore.Patch{Guest: &guest, GuestConnected: &connected}); err != nil {
		t.Fatal(err)
	}

	status, raw := postJSON(t, ts.URL+"/api/rooms/"+room.Code+"/join", JoinRoomRequest{GuestName: "carol"})
	if status != stdhttp.StatusConflict {
		t.Fatalf("status = %d (%s), want 409", status, raw)
	}

	// A disconnected guest does not hold the seat.
	off := false
	if err := st.PatchRoom(context.Background(), room.Code, roomstore.Patch{GuestConnected: &off}); err != nil {
		t.Fatal(err)
	}
	if status, _ := postJSON(t, ts.URL+"/api/rooms/"+room.Code+"/join", JoinRoomRequest{GuestName: "carol"}); status != stdhttp.StatusOK {
		t.Fatalf("rejoin status %d, want 200", status)
	}
}

func TestGetRoom(t *testing.T) {
	ts, _ := newTestServer(t)
	room := createTestRoom(t, ts, "alice", 3)

	status, raw := getJSON(t, ts.URL+"/api/rooms/"+room.Code)
	if status != stdhttp.StatusOK {
		t.Fatalf("status = %d", status)
	}
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatal(err)
	}
	if got["code"] != room.Code {
		t.Fatalf("payload code %v, want %s", got["code"], room.Code)
	}

	if status, _ := getJSON(t, ts.URL+"/api/rooms/ZZZZZZ"); status != stdhttp.StatusNotFound {
		t.Fatalf("unknown room status %d, want 404", status)
	}
}

func TestListRooms(t *testing.T) {
	ts, _ := newTestServer(t)
	createTestRoom(t, ts, "alice", 3)
	createTestRoom(t, ts, "bob", 5)

	status, raw := getJSON(t, ts.URL+"/api/rooms")
	if status != stdhttp.StatusOK {
		t.Fatalf("status = %d", status)
	}
	var rooms []RoomSummary
	if err := json.Unmarshal(raw, &rooms); err != nil {
		t.Fatal(err)
	}
	if len(rooms) != 2 {
		t.Fatalf("listed %d rooms, want 2", len(rooms))
	}
}
