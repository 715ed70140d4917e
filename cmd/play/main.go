// Command play is the terminal client: local two-player games, games
// against the computer, and online games through a relay.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"gridmatch/internal/board"
	applog "gridmatch/internal/log"
	"gridmatch/internal/replicate"
	"gridmatch/internal/roomstore/remote"
	"gridmatch/internal/session"
)

func main() {
	var serverURL, logLevel string
	flag.StringVar(&serverURL, "server", "http://localhost:8080", "relay base URL for online games")
	flag.StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	flag.Parse()

	c := &client{
		in:        bufio.NewReader(os.Stdin),
		serverURL: serverURL,
		log:       applog.New(logLevel),
	}
	c.run()
}

type client struct {
	in        *bufio.Reader
	serverURL string
	log       *zerolog.Logger

	sess  *session.Session
	store *remote.Store
}

func (c *client) run() {
	for {
		fmt.Println()
		fmt.Println("=== gridmatch ===")
		fmt.Println("  1) two players, one keyboard")
		fmt.Println("  2) against the computer")
		fmt.Println("  3) online")
		fmt.Println("  q) quit")

		switch c.prompt("> ") {
		case "1":
			c.playLocal(session.ModeLocal)
		case "2":
			c.playLocal(session.ModeAI)
		case "3":
			c.playOnline()
		case "q", "quit", "exit":
			return
		}
	}
}

func (c *client) playLocal(mode session.Mode) {
	size := c.promptSize()
	cfg := session.DefaultConfig()
	cfg.BoardSize = size
	c.sess = session.New(cfg, c.log)
	go c.consumeEvents(c.sess)

	c.sess.SelectMode(mode)
	if err := c.sess.SetBoardSize(size); err != nil {
		fmt.Println("bad board size:", err)
		return
	}

	name1 := c.prompt("player 1 name (X): ")
	name2 := ""
	if mode == session.ModeLocal {
		name2 = c.prompt("player 2 name (O): ")
	}
	c.sess.StartLocal(name1, name2)
	c.gameLoop()
}

func (c *client) playOnline() {
	name := c.prompt("your name: ")
	cfg := session.DefaultConfig()
	c.sess = session.New(cfg, c.log)
	go c.consumeEvents(c.sess)
	c.sess.SelectMode(session.ModeOnline)

	c.store = remote.New(c.serverURL, strings.TrimSpace(name), c.log)
	defer func() {
		_ = c.store.Close()
		c.store = nil
	}()

	repl := replicate.New(c.store, c.sess, c.log, rand.NewSource(time.Now().UnixNano()))
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	switch c.prompt("create a room or join one? (c/j): ") {
	case "c":
		size := c.promptSize()
		code, err := repl.CreateRoom(ctx, name, size)
		if err != nil {
			fmt.Println("could not create room:", err)
			return
		}
		fmt.Printf("room %s created — share the code, waiting for an opponent...\n", code)
	case "j":
		code := c.prompt("room code: ")
		if err := repl.JoinRoom(ctx, code, name); err != nil {
			fmt.Println("could not join room:", err)
			return
		}
	default:
		return
	}

	c.gameLoop()
}

// gameLoop reads player input until the session is back at the menu.
func (c *client) gameLoop() {
	fmt.Println(`moves: cell number 1..N², commands: /say <text>, /rematch, /leave`)
	for {
		line := c.prompt("")
		if c.sess.Phase() == session.PhaseIdle {
			return
		}
		switch {
		case line == "":
			continue
		case line == "/leave":
			c.sess.ReturnToMenu()
			return
		case line == "/rematch":
			c.sess.Rematch()
		case strings.HasPrefix(line, "/say "):
			c.sess.SendChat(strings.TrimPrefix(line, "/say "))
		default:
			cell, err := strconv.Atoi(line)
			if err != nil {
				fmt.Println("unrecognized input:", line)
				continue
			}
			if !c.sess.ApplyMove(cell - 1) {
				fmt.Println("move rejected — not your turn or cell taken")
			}
		}
	}
}

// consumeEvents renders session events until the channel drains away
// with the session.
func (c *client) consumeEvents(sess *session.Session) {
	var player1, player2 string
	var size int
	for ev := range sess.Events() {
		switch ev.Kind {
		case session.EventGameStarted:
			player1, player2, size = ev.Player1, ev.Player2, ev.Size
			fmt.Printf("\n%s (X) vs %s (O), %s starts\n", player1, player2, ev.Current)
			printBoard(ev.Board, size)
		case session.EventBoardUpdated:
			printBoard(ev.Board, size)
			fmt.Printf("%s to move\n", ev.Current)
		case session.EventGameEnded:
			printBoard(ev.Board, size)
			printOutcome(ev, player1, player2)
		case session.EventAwaitingReady:
			fmt.Println("waiting for your opponent to accept the rematch...")
		case session.EventReturnedToMenu:
			fmt.Println("back to the menu — press enter")
		case session.EventChatMessage:
			if ev.Chat.Own {
				fmt.Printf("[you] %s\n", ev.Chat.Text)
			} else {
				fmt.Printf("[%s] %s\n", ev.Chat.Sender, ev.Chat.Text)
			}
		case session.EventNotice:
			fmt.Println("!", ev.Notice)
		}
	}
}

func printOutcome(ev session.Event, player1, player2 string) {
	switch ev.Outcome {
	case session.OutcomeWin:
		name := player1
		if ev.Winner == board.O {
			name = player2
		}
		fmt.Printf("%s wins!\n", name)
	case session.OutcomeDraw:
		fmt.Println("draw!")
	case session.OutcomeOpponentLeft:
		fmt.Println("your opponent left the game")
	}
	s := ev.Scores
	fmt.Printf("score: %s %d, %s %d, draws %d (games %d)\n",
		player1, s.Player1, player2, s.Player2, s.Draws, s.TotalGames)
	fmt.Println("/rematch to play again, /leave for the menu")
}

// printBoard renders the grid; empty cells show their move number.
func printBoard(b board.Board, size int) {
	if b == nil || size == 0 {
		return
	}
	width := len(strconv.Itoa(size * size))
	for row := 0; row < size; row++ {
		cells := make([]string, 0, size)
		for col := 0; col < size; col++ {
			idx := row*size + col
			label := strconv.Itoa(idx + 1)
			if b[idx] != board.Empty {
				label = string(b[idx])
			}
			cells = append(cells, fmt.Sprintf("%*s", width, label))
		}
		fmt.Println(" " + strings.Join(cells, " | "))
	}
}

func (c *client) prompt(label string) string {
	if label != "" {
		fmt.Print(label)
	}
	line, err := c.in.ReadString('\n')
	if err != nil {
		os.Exit(0)
	}
	return strings.TrimSpace(line)
}

func (c *client) promptSize() int {
	for {
		answer := c.prompt("board size (3, 4 or 5) [3]: ")
		if answer == "" {
			return 3
		}
		size, err := strconv.Atoi(answer)
		if err == nil && board.ValidSize(size) {
			return size
		}
		fmt.Println("pick 3, 4 or 5")
	}
}
