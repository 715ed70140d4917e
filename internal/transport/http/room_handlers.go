package http

import (
	"errors"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"gridmatch/internal/auth"
	"gridmatch/internal/board"
	"gridmatch/internal/proto"
	"gridmatch/internal/roomstore"
	"gridmatch/internal/utils"
)

// RoomHandlers provides HTTP handlers for room endpoints.
type RoomHandlers struct {
	store   roomstore.Store
	tickets *auth.TicketConfig
	log     *zerolog.Logger
	rng     *rand.Rand
}

// NewRoomHandlers creates a new room handlers instance.
func NewRoomHandlers(st roomstore.Store, tickets *auth.TicketConfig, logger *zerolog.Logger) *RoomHandlers {
	return &RoomHandlers{
		store:   st,
		tickets: tickets,
		log:     logger,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// CreateRoomRequest represents the create room request body. Code, board
// and current_player are optional; the relay fills them in when absent so
// plain HTTP clients can create rooms with just a name and size.
type CreateRoomRequest struct {
	HostName      string `json:"host_name" binding:"required,min=1,max=64"`
	BoardSize     int    `json:"board_size" binding:"required"`
	Code          string `json:"code,omitempty"`
	Board         string `json:"board,omitempty"`
	CurrentPlayer string `json:"current_player,omitempty"`
}

// CreateRoomResponse carries the new room and the host's ticket.
type CreateRoomResponse struct {
	Code   string             `json:"code"`
	Ticket string             `json:"ticket"`
	Room   *proto.RoomPayload `json:"room"`
}

// JoinRoomRequest represents the join room request body.
type JoinRoomRequest struct {
	GuestName string `json:"guest_name" binding:"required,min=1,max=64"`
}

// JoinRoomResponse carries the room snapshot and the guest's ticket.
type JoinRoomResponse struct {
	Ticket string             `json:"ticket"`
	Room   *proto.RoomPayload `json:"room"`
}

// RoomSummary is one row of the room list.
type RoomSummary struct {
	Code        string `json:"code"`
	Host        string `json:"host"`
	Guest       string `json:"guest"`
	BoardSize   int    `json:"board_size"`
	GameStarted bool   `json:"game_started"`
	CreatedAt   string `json:"created_at"`
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// CreateRoom handles room creation.
// POST /api/rooms
func (h *RoomHandlers) CreateRoom(c *gin.Context) {
	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid create room request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	if !board.ValidSize(req.BoardSize) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "bad_board_size"})
		return
	}

	code := strings.ToUpper(strings.TrimSpace(req.Code))
	if code == "" {
		code = utils.NewRoomCode()
	}
	if !utils.ValidRoomCode(code) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "bad_room_code"})
		return
	}

	encoded := req.Board
	if encoded == "" {
		encoded = board.New(req.BoardSize).Encode()
	}
	if _, err := board.Decode(encoded); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "bad_board"})
		return
	}

	starter := board.X
	switch req.CurrentPlayer {
	case "":
		if h.rng.Intn(2) == 1 {
			starter = board.O
		}
	case string(board.X):
	case string(board.O):
		starter = board.O
	default:
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "bad_current_player"})
		return
	}

	rec := &roomstore.RoomRecord{
		Code:          code,
		Host:          strings.TrimSpace(req.HostName),
		Board:         encoded,
		BoardSize:     req.BoardSize,
		CurrentPlayer: starter,
		HostConnected: true,
	}
	if err := h.store.CreateRoom(c.Request.Context(), rec); err != nil {
		if errors.Is(err, roomstore.ErrRoomExists) {
			c.JSON(http.StatusConflict, ErrorResponse{Error: "room_exists"})
			return
		}
		h.log.Error().Err(err).Str("room_code", code).Msg("failed to create room")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	ticket, err := auth.GenerateTicket(h.tickets, code, auth.RoleHost, rec.Host)
	if err != nil {
		h.log.Error().Err(err).Str("room_code", code).Msg("failed to issue host ticket")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	stored, err := h.store.GetRoom(c.Request.Context(), code)
	if err != nil {
		h.log.Error().Err(err).Str("room_code", code).Msg("failed to read back room")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.log.Info().Str("room_code", code).Str("host", rec.Host).Int("board_size", rec.BoardSize).Msg("room created")
	c.JSON(http.StatusCreated, CreateRoomResponse{
		Code:   code,
		Ticket: ticket,
		Room:   proto.RoomFromRecord(*stored),
	})
}

// JoinRoom issues a guest ticket for an open room. It does not mutate the
// record; the guest claims the seat with its first patch over the socket.
// POST /api/rooms/:code/join
func (h *RoomHandlers) JoinRoom(c *gin.Context) {
	code := strings.ToUpper(strings.TrimSpace(c.Param("code")))
	if !utils.ValidRoomCode(code) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "bad_room_code"})
		return
	}

	var req JoinRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid join room request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	rec, err := h.store.GetRoom(c.Request.Context(), code)
	if err != nil {
		if errors.Is(err, roomstore.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "room_not_found"})
			return
		}
		h.log.Error().Err(err).Str("room_code", code).Msg("failed to read room")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	if rec.Guest != "" && rec.GuestConnected {
		c.JSON(http.StatusConflict, ErrorResponse{Error: "room_full"})
		return
	}

	ticket, err := auth.GenerateTicket(h.tickets, code, auth.RoleGuest, strings.TrimSpace(req.GuestName))
	if err != nil {
		h.log.Error().Err(err).Str("room_code", code).Msg("failed to issue guest ticket")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.log.Info().Str("room_code", code).Str("guest", req.GuestName).Msg("guest ticket issued")
	c.JSON(http.StatusOK, JoinRoomResponse{
		Ticket: ticket,
		Room:   proto.RoomFromRecord(*rec),
	})
}

// GetRoom returns one room snapshot.
// GET /api/rooms/:code
func (h *RoomHandlers) GetRoom(c *gin.Context) {
	code := strings.ToUpper(strings.TrimSpace(c.Param("code")))
	rec, err := h.store.GetRoom(c.Request.Context(), code)
	if err != nil {
		if errors.Is(err, roomstore.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "room_not_found"})
			return
		}
		h.log.Error().Err(err).Str("room_code", code).Msg("failed to read room")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, proto.RoomFromRecord(*rec))
}

// ListRooms returns all live rooms, newest first.
// GET /api/rooms
func (h *RoomHandlers) ListRooms(c *gin.Context) {
	rooms, err := h.store.ListRooms(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list rooms")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	response := make([]RoomSummary, 0, len(rooms))
	for _, rec := range rooms {
		response = append(response, RoomSummary{
			Code:        rec.Code,
			Host:        rec.Host,
			Guest:       rec.Guest,
			BoardSize:   rec.BoardSize,
			GameStarted: rec.GameStarted,
			CreatedAt:   rec.CreatedAt.Format(time.RFC3339),
		})
	}

	h.log.Debug().Int("room_count", len(rooms)).Msg("rooms listed")
	c.JSON(http.StatusOK, response)
}
