package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/vovakirdan/pipechat-server/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	user := flag.String("user", "tester", "display name to LOGIN with")
	room := flag.String("room", "#general", "room name")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, *addr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.CloseNow()

	frames := []string{
		proto.FormatFrame("LOGIN", *user),
		proto.FormatFrame("JOIN", *room),
		proto.FormatFrame("SAY", *room, *text),
		proto.FormatFrame("WHO", *room),
		proto.FormatFrame("QUIT"),
	}
	for _, frame := range frames {
		if err := conn.Write(ctx, websocket.MessageText, []byte(frame)); err != nil {
			return fmt.Errorf("send %q: %w", frame, err)
		}
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				fmt.Println("Server closed the session")
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		line := string(data)
		fmt.Println(line)
		if strings.HasPrefix(line, proto.PrefixError) {
			return fmt.Errorf("server error: %s", strings.TrimPrefix(line, proto.PrefixError))
		}
	}
}
