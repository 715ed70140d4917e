// Package remote implements the room store contract over the relay's
// REST and websocket API. Reads go over REST; writes travel as websocket
// envelopes on a per-room connection, and the same connection streams
// change events back. Host and guest on different machines each hold a
// remote store pointed at the same relay and observe one shared record.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	stdhttp "net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"gridmatch/internal/proto"
	"gridmatch/internal/roomstore"
)

const requestTimeout = 10 * time.Second

var _ roomstore.Store = (*Store)(nil)

// Store talks to a relay on behalf of one player. The player name is
// used when the relay asks who is claiming the guest seat.
type Store struct {
	baseURL string
	name    string
	httpc   *stdhttp.Client
	log     *zerolog.Logger

	mu     sync.Mutex
	rooms  map[string]*roomConn
	closed bool
}

// roomConn is one live websocket to the relay, scoped to a single room.
type roomConn struct {
	ticket string
	conn   *websocket.Conn

	writeMu sync.Mutex // websocket allows one writer at a time

	sub chan roomstore.RoomEvent // nil until Subscribe
}

// New builds a remote store against baseURL (e.g. "http://host:8080").
func New(baseURL, playerName string, logger *zerolog.Logger) *Store {
	return &Store{
		baseURL: strings.TrimRight(baseURL, "/"),
		name:    playerName,
		httpc:   &stdhttp.Client{Timeout: requestTimeout},
		log:     logger,
		rooms:   make(map[string]*roomConn),
	}
}

// CreateRoom registers the record with the relay and opens the room's
// websocket using the host ticket from the response.
func (s *Store) CreateRoom(ctx context.Context, rec *roomstore.RoomRecord) error {
	body := map[string]any{
		"host_name":      rec.Host,
		"board_size":     rec.BoardSize,
		"code":           rec.Code,
		"board":          rec.Board,
		"current_player": string(rec.CurrentPlayer),
	}
	var out struct {
		Code   string             `json:"code"`
		Ticket string             `json:"ticket"`
		Room   *proto.RoomPayload `json:"room"`
	}
	status, err := s.postJSON(ctx, "/api/rooms", body, &out)
	if err != nil {
		return fmt.Errorf("create room: %w", err)
	}
	switch status {
	case stdhttp.StatusCreated:
	case stdhttp.StatusConflict:
		return roomstore.ErrRoomExists
	default:
		return fmt.Errorf("create room: relay returned %d", status)
	}

	if out.Room != nil {
		*rec = proto.RecordFromRoom(out.Room)
	}
	return s.connect(ctx, out.Code, out.Ticket)
}

// GetRoom reads the record once over REST.
func (s *Store) GetRoom(ctx context.Context, code string) (*roomstore.RoomRecord, error) {
	var payload proto.RoomPayload
	status, err := s.getJSON(ctx, "/api/rooms/"+code, &payload)
	if err != nil {
		return nil, fmt.Errorf("get room: %w", err)
	}
	switch status {
	case stdhttp.StatusOK:
		rec := proto.RecordFromRoom(&payload)
		return &rec, nil
	case stdhttp.StatusNotFound:
		return nil, roomstore.ErrRoomNotFound
	default:
		return nil, fmt.Errorf("get room: relay returned %d", status)
	}
}

// PatchRoom sends the patch as a websocket envelope. The first write to a
// room we did not create claims the guest seat via the join endpoint.
func (s *Store) PatchRoom(ctx context.Context, code string, p roomstore.Patch) error {
	if p.Empty() {
		return nil
	}
	rc, err := s.ensureConn(ctx, code)
	if err != nil {
		return err
	}
	return rc.send(ctx, proto.InboundTypePatch, proto.DataFromPatch(p))
}

// DeleteRoom asks the relay to tear the room down. The relay only honors
// this for the host's ticket; a guest's leave just releases its seat.
func (s *Store) DeleteRoom(ctx context.Context, code string) error {
	s.mu.Lock()
	rc := s.rooms[code]
	s.mu.Unlock()
	if rc == nil {
		return roomstore.ErrRoomNotFound
	}
	return rc.send(ctx, proto.InboundTypeLeave, struct{}{})
}

// AppendChat sends the message text; the relay stamps sender and seat
// from the connection's ticket.
func (s *Store) AppendChat(ctx context.Context, code string, entry roomstore.ChatEntry) error {
	rc, err := s.ensureConn(ctx, code)
	if err != nil {
		return err
	}
	return rc.send(ctx, proto.InboundTypeChat, proto.ChatData{Text: entry.Message})
}

// ListRooms returns the relay's live room list. Only the summary fields
// are populated.
func (s *Store) ListRooms(ctx context.Context) ([]*roomstore.RoomRecord, error) {
	var summaries []struct {
		Code        string `json:"code"`
		Host        string `json:"host"`
		Guest       string `json:"guest"`
		BoardSize   int    `json:"board_size"`
		GameStarted bool   `json:"game_started"`
		CreatedAt   string `json:"created_at"`
	}
	status, err := s.getJSON(ctx, "/api/rooms", &summaries)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	if status != stdhttp.StatusOK {
		return nil, fmt.Errorf("list rooms: relay returned %d", status)
	}

	out := make([]*roomstore.RoomRecord, 0, len(summaries))
	for _, sum := range summaries {
		created, _ := time.Parse(time.RFC3339, sum.CreatedAt)
		out = append(out, &roomstore.RoomRecord{
			Code:        sum.Code,
			Host:        sum.Host,
			Guest:       sum.Guest,
			BoardSize:   sum.BoardSize,
			GameStarted: sum.GameStarted,
			CreatedAt:   created,
		})
	}
	return out, nil
}

// Subscribe attaches to the room's event stream.
func (s *Store) Subscribe(ctx context.Context, code string) (<-chan roomstore.RoomEvent, func(), error) {
	rc, err := s.ensureConn(ctx, code)
	if err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	if rc.sub != nil {
		s.mu.Unlock()
		return nil, nil, fmt.Errorf("room %s already subscribed", code)
	}
	ch := make(chan roomstore.RoomEvent, 32)
	rc.sub = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if rc.sub == ch {
			rc.sub = nil
			close(ch)
		}
	}
	return ch, cancel, nil
}

// Close tears down every room connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for code, rc := range s.rooms {
		_ = rc.conn.Close(websocket.StatusNormalClosure, "store closed")
		delete(s.rooms, code)
	}
	return nil
}

// ensureConn returns the room's connection, acquiring a guest ticket
// through the join endpoint when this store never created the room.
func (s *Store) ensureConn(ctx context.Context, code string) (*roomConn, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("store closed")
	}
	if rc, ok := s.rooms[code]; ok {
		s.mu.Unlock()
		return rc, nil
	}
	s.mu.Unlock()

	var out struct {
		Ticket string `json:"ticket"`
	}
	status, err := s.postJSON(ctx, "/api/rooms/"+code+"/join", map[string]any{"guest_name": s.name}, &out)
	if err != nil {
		return nil, fmt.Errorf("join room: %w", err)
	}
	switch status {
	case stdhttp.StatusOK:
	case stdhttp.StatusNotFound:
		return nil, roomstore.ErrRoomNotFound
	case stdhttp.StatusConflict:
		return nil, roomstore.ErrRoomFull
	default:
		return nil, fmt.Errorf("join room: relay returned %d", status)
	}

	if err := s.connect(ctx, code, out.Ticket); err != nil {
		return nil, err
	}
	s.mu.Lock()
	rc := s.rooms[code]
	s.mu.Unlock()
	return rc, nil
}

// connect dials the room's websocket and starts its read loop.
func (s *Store) connect(ctx context.Context, code, ticket string) error {
	wsURL := "ws" + strings.TrimPrefix(s.baseURL, "http") + "/ws?ticket=" + ticket
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial relay: %w", err)
	}

	rc := &roomConn{ticket: ticket, conn: conn}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "store closed")
		return fmt.Errorf("store closed")
	}
	if _, ok := s.rooms[code]; ok {
		// Lost a race against another caller; keep the first connection.
		s.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "duplicate connection")
		return nil
	}
	s.rooms[code] = rc
	s.mu.Unlock()

	go s.readLoop(code, rc)
	return nil
}

// readLoop forwards relay events to the room's subscriber until the
// connection dies or the room is deleted. Slow subscribers drop events;
// a later room snapshot always supersedes a missed one.
func (s *Store) readLoop(code string, rc *roomConn) {
	defer s.detach(code, rc)

	for {
		var out proto.Outbound
		if err := wsjson.Read(context.Background(), rc.conn, &out); err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				s.log.Debug().Err(err).Str("room_code", code).Msg("relay stream closed")
			}
			return
		}

		switch out.Type {
		case proto.OutboundTypeRoom:
			rec := proto.RecordFromRoom(out.Room)
			s.deliver(rc, roomstore.RoomEvent{Kind: roomstore.RoomUpdated, Record: &rec})
		case proto.OutboundTypeChat:
			entry := proto.EntryFromChat(out.Chat)
			s.deliver(rc, roomstore.RoomEvent{Kind: roomstore.ChatAppended, Chat: &entry})
		case proto.OutboundTypeDeleted:
			s.deliver(rc, roomstore.RoomEvent{Kind: roomstore.RoomDeleted})
			return
		case proto.OutboundTypeError:
			if out.Error == nil {
				s.log.Warn().Str("room_code", code).Msg("relay error without detail")
				continue
			}
			s.log.Warn().Str("room_code", code).Str("code", out.Error.Code).Str("msg", out.Error.Msg).Msg("relay error")
		}
	}
}

func (s *Store) deliver(rc *roomConn, ev roomstore.RoomEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rc.sub == nil {
		return
	}
	select {
	case rc.sub <- ev:
	default:
	}
}

// detach removes the connection and closes the subscriber channel.
func (s *Store) detach(code string, rc *roomConn) {
	_ = rc.conn.Close(websocket.StatusNormalClosure, "done")

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rooms[code] == rc {
		delete(s.rooms, code)
	}
	if rc.sub != nil {
		close(rc.sub)
		rc.sub = nil
	}
}

func (rc *roomConn) send(ctx context.Context, msgType string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msgType, err)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	rc.writeMu.Lock()
	defer rc.writeMu.Unlock()
	if err := wsjson.Write(ctx, rc.conn, proto.Inbound{Type: msgType, Data: raw}); err != nil {
		return fmt.Errorf("send %s: %w", msgType, err)
	}
	return nil
}

func (s *Store) postJSON(ctx context.Context, path string, body, out any) (int, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	req, err := stdhttp.NewRequestWithContext(ctx, stdhttp.MethodPost, s.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	return s.do(req, out)
}

func (s *Store) getJSON(ctx context.Context, path string, out any) (int, error) {
	req, err := stdhttp.NewRequestWithContext(ctx, stdhttp.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return 0, err
	}
	return s.do(req, out)
}

func (s *Store) do(req *stdhttp.Request, out any) (int, error) {
	resp, err := s.httpc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 && out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
