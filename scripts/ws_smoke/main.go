// Smoke test against a running relay: creates a room over REST, opens
// the websocket with the host ticket, sends one patch and one chat
// message, and waits for both to stream back.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"gridmatch/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	server := flag.String("server", "http://localhost:8080", "relay base URL")
	name := flag.String("name", "smoke", "host name for the test room")
	size := flag.Int("size", 3, "board size")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	body, err := json.Marshal(map[string]any{"host_name": *name, "board_size": *size})
	if err != nil {
		return fmt.Errorf("marshal create: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, *server+"/api/rooms", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("create room: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("create room: status %d", resp.StatusCode)
	}
	var created struct {
		Code   string `json:"code"`
		Ticket string `json:"ticket"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return fmt.Errorf("decode create response: %w", err)
	}
	fmt.Printf("created room %s\n", created.Code)

	wsURL := "ws" + strings.TrimPrefix(*server, "http") + "/ws?ticket=" + created.Ticket
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	send := func(msgType string, data any) error {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", msgType, err)
		}
		if err := wsjson.Write(ctx, conn, proto.Inbound{Type: msgType, Data: raw}); err != nil {
			return fmt.Errorf("send %s: %w", msgType, err)
		}
		return nil
	}

	started := true
	if err := send(proto.InboundTypePatch, proto.PatchData{GameStarted: &started}); err != nil {
		return err
	}
	if err := send(proto.InboundTypeChat, proto.ChatData{Text: "hello from smoke test"}); err != nil {
		return err
	}

	sawRoom, sawChat := false, false
	for !sawRoom || !sawChat {
		var outbound proto.Outbound
		if err := wsjson.Read(ctx, conn, &outbound); err != nil {
			return fmt.Errorf("read: %w", err)
		}

		switch outbound.Type {
		case proto.OutboundTypeRoom:
			fmt.Printf("room update: game_started=%v board=%q\n", outbound.Room.GameStarted, outbound.Room.Board)
			sawRoom = outbound.Room.GameStarted
		case proto.OutboundTypeChat:
			fmt.Printf("chat: [%s] %s\n", outbound.Chat.Sender, outbound.Chat.Text)
			sawChat = true
		case proto.OutboundTypeError:
			return fmt.Errorf("relay error: %s (%s)", outbound.Error.Code, outbound.Error.Msg)
		}
	}

	fmt.Println("smoke test passed")
	return nil
}
