package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"gridmatch/internal/auth"
	"gridmatch/internal/proto"
	"gridmatch/internal/roomstore"
)

// chatLimitPerMinute bounds chat appends per connection.
const chatLimitPerMinute = 30

// WSHandler upgrades HTTP connections and bridges them to the room store:
// change events stream down, patches and chat appends come up. The ticket
// presented on upgrade decides the room and the seat.
type WSHandler struct {
	store   roomstore.Store
	tickets *auth.TicketConfig
	log     *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(st roomstore.Store, tickets *auth.TicketConfig, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{store: st, tickets: tickets, log: logger}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	claims, err := auth.ValidateTicket(h.tickets, r.URL.Query().Get("ticket"))
	if err != nil {
		h.log.Debug().Err(err).Msg("ws upgrade with bad ticket")
		stdhttp.Error(w, "invalid ticket", stdhttp.StatusUnauthorized)
		return
	}

	connID := uuid.NewString()
	logger := h.log.With().
		Str("conn_id", connID).
		Str("room_code", claims.RoomCode).
		Str("role", claims.Role).
		Logger()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		logger.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, unsubscribe, err := h.store.Subscribe(ctx, claims.RoomCode)
	if err != nil {
		if errors.Is(err, roomstore.ErrRoomNotFound) {
			conn.Close(websocket.StatusPolicyViolation, "room not found")
			return
		}
		logger.Error().Err(err).Msg("subscribe failed")
		return
	}
	defer unsubscribe()

	logger.Info().Msg("ws connected")

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, claims, &logger)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, events)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	h.clearSeat(claims, &logger)

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != 0 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			logger.Warn().Err(err).Msg("ws connection closed with error")
		}
	}

	logger.Info().Msg("ws disconnected")
	conn.Close(status, reason)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, claims *auth.TicketClaims, logger *zerolog.Logger) error {
	limiter := newChatLimiter(chatLimitPerMinute)

	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			return err
		}

		switch inbound.Type {
		case proto.InboundTypePatch:
			var data proto.PatchData
			if err := json.Unmarshal(inbound.Data, &data); err != nil {
				if werr := writeError(ctx, conn, "bad_patch", "malformed patch data"); werr != nil {
					return werr
				}
				continue
			}
			patch := proto.PatchFromData(&data)
			if patch.Empty() {
				continue
			}
			if err := h.store.PatchRoom(ctx, claims.RoomCode, patch); err != nil {
				if errors.Is(err, roomstore.ErrRoomNotFound) {
					return nil
				}
				logger.Error().Err(err).Msg("patch failed")
				if werr := writeError(ctx, conn, "patch_failed", "could not apply patch"); werr != nil {
					return werr
				}
			}

		case proto.InboundTypeChat:
			var data proto.ChatData
			if err := json.Unmarshal(inbound.Data, &data); err != nil {
				if werr := writeError(ctx, conn, "bad_chat", "malformed chat data"); werr != nil {
					return werr
				}
				continue
			}
			text := strings.TrimSpace(data.Text)
			if text == "" {
				continue
			}
			if !limiter.allow() {
				if werr := writeError(ctx, conn, "rate_limited", "too many chat messages"); werr != nil {
					return werr
				}
				continue
			}
			entry := roomstore.ChatEntry{
				Sender:    claims.Name,
				Message:   text,
				IsHost:    claims.Role == auth.RoleHost,
				CreatedAt: time.Now().UTC(),
			}
			if err := h.store.AppendChat(ctx, claims.RoomCode, entry); err != nil {
				if errors.Is(err, roomstore.ErrRoomNotFound) {
					return nil
				}
				logger.Error().Err(err).Msg("chat append failed")
			}

		case proto.InboundTypeLeave:
			h.handleLeave(ctx, claims, logger)
			return nil

		default:
			if werr := writeError(ctx, conn, "bad_type", "unknown message type"); werr != nil {
				return werr
			}
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, events <-chan roomstore.RoomEvent) error {
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return nil
			}
			out, done := outboundFromEvent(event)
			if err := wsjson.Write(ctx, conn, out); err != nil {
				return err
			}
			if done {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// handleLeave applies the role's leave semantics: the host tears the room
// down, the guest only releases its seat.
func (h *WSHandler) handleLeave(ctx context.Context, claims *auth.TicketClaims, logger *zerolog.Logger) {
	if claims.Role == auth.RoleHost {
		if err := h.store.DeleteRoom(ctx, claims.RoomCode); err != nil && !errors.Is(err, roomstore.ErrRoomNotFound) {
			logger.Error().Err(err).Msg("delete on host leave failed")
		}
		return
	}
	off := false
	if err := h.store.PatchRoom(ctx, claims.RoomCode, roomstore.Patch{GuestConnected: &off}); err != nil && !errors.Is(err, roomstore.ErrRoomNotFound) {
		logger.Error().Err(err).Msg("seat release on guest leave failed")
	}
}

// clearSeat marks the connection's seat disconnected once the socket is
// gone, so the peer learns about abrupt drops, not just polite leaves.
func (h *WSHandler) clearSeat(claims *auth.TicketClaims, logger *zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	off := false
	patch := roomstore.Patch{GuestConnected: &off}
	if claims.Role == auth.RoleHost {
		patch = roomstore.Patch{HostConnected: &off}
	}
	if err := h.store.PatchRoom(ctx, claims.RoomCode, patch); err != nil && !errors.Is(err, roomstore.ErrRoomNotFound) {
		logger.Error().Err(err).Msg("seat cleanup failed")
	}
}

func writeError(ctx context.Context, conn *websocket.Conn, code, msg string) error {
	return wsjson.Write(ctx, conn, proto.Outbound{
		Type:  proto.OutboundTypeError,
		Error: &proto.Error{Code: code, Msg: msg},
	})
}

func outboundFromEvent(event roomstore.RoomEvent) (proto.Outbound, bool) {
	switch event.Kind {
	case roomstore.ChatAppended:
		return proto.Outbound{
			Type: proto.OutboundTypeChat,
			Chat: proto.ChatFromEntry(*event.Chat),
		}, false
	case roomstore.RoomDeleted:
		return proto.Outbound{Type: proto.OutboundTypeDeleted}, true
	default:
		return proto.Outbound{
			Type: proto.OutboundTypeRoom,
			Room: proto.RoomFromRecord(*event.Record),
		}, false
	}
}
