package http

import (
	"context"
	"encoding/json"
	stdhttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/pipechat-server/internal/config"
	"github.com/vovakirdan/pipechat-server/internal/core"
)

type testServer struct {
	ts       *httptest.Server
	hub      *core.Hub
	sessions *Sessions
}

func startTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()

	cfg := config.Default()
	cfg.Addr = ":0"
	cfg.ReadHeaderTimeout = time.Second
	if mutate != nil {
		mutate(&cfg)
	}

	nop := zerolog.Nop()
	sessions := NewSessions(cfg.MailboxBuffer)
	hub := core.NewHub(core.Options{Broadcasters: 2}, sessions, &nop)
	inbound := make(chan core.Command, 64)

	ctx, cancel := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		hub.Run(ctx, inbound)
	}()

	server := NewServer(Deps{
		Hub:      hub,
		Sessions: sessions,
		Inbound:  inbound,
		Done:     ctx.Done(),
	}, &cfg, &nop)

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(func() {
		ts.Close()
		<-hubDone
	})
	t.Cleanup(cancel)

	return &testServer{ts: ts, hub: hub, sessions: sessions}
}

func (s *testServer) dial(t *testing.T, ctx context.Context) *websocket.Conn {
	t.Helper()
	wsURL := strings.Replace(s.ts.URL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func send(t *testing.T, ctx context.Context, conn *websocket.Conn, frame string) {
	t.Helper()
	if err := conn.Write(ctx, websocket.MessageText, []byte(frame)); err != nil {
		t.Fatalf("write %q: %v", frame, err)
	}
}

// readUntil reads lines until want arrives and returns everything read.
func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, want string) []string {
	t.Helper()
	var lines []string
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("waiting for %q (got %q): %v", want, lines, err)
		}
		lines = append(lines, string(data))
		if string(data) == want {
			return lines
		}
	}
}

func login(t *testing.T, ctx context.Context, conn *websocket.Conn, name string) {
	t.Helper()
	send(t, ctx, conn, "LOGIN|"+name)
	readUntil(t, ctx, conn, "SYSTEM: Welcome, "+name+"!")
}

func TestHealthEndpoint(t *testing.T) {
	s := startTestServer(t, nil)

	resp, err := s.ts.Client().Get(s.ts.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestWebSocketUpgradeServesSession(t *testing.T) {
	s := startTestServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := s.dial(t, ctx)
	send(t, ctx, conn, "LOGIN|alice")

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "SYSTEM: Welcome, alice!" {
		t.Fatalf("unexpected first line: %q", data)
	}
	if s.sessions.Len() != 1 {
		t.Fatalf("expected one registered session, got %d", s.sessions.Len())
	}
}

func TestWebSocketDisabledReturnsNotFound(t *testing.T) {
	cfg := config.Default()
	nop := zerolog.Nop()
	hub := core.NewHub(core.Options{}, NewSessions(1), &nop)
	server := NewServer(Deps{Hub: hub}, &cfg, &nop)

	rec := httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, httptest.NewRequest(stdhttp.MethodGet, "/ws", nil))
	if rec.Code != stdhttp.StatusNotFound {
		t.Fatalf("expected 404 without the ws transport, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, httptest.NewRequest(stdhttp.MethodGet, "/health", nil))
	if rec.Code != stdhttp.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("unexpected health response: %d %q", rec.Code, rec.Body.String())
	}
}

func TestWebSocketLoginJoinAndSay(t *testing.T) {
	s := startTestServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connA := s.dial(t, ctx)
	connB := s.dial(t, ctx)

	login(t, ctx, connA, "alice")
	_, data, err := connA.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.HasPrefix(string(data), "SYSTEM: You are now connected as ws-") {
		t.Fatalf("unexpected connection notice: %q", data)
	}

	send(t, ctx, connA, "JOIN|#lab")
	readUntil(t, ctx, connA, "SYSTEM: You joined #lab")

	// Several frames in one text message.
	send(t, ctx, connB, "LOGIN|bob\njoin|#lab")
	readUntil(t, ctx, connB, "SYSTEM: You joined #lab")
	readUntil(t, ctx, connA, "SYSTEM: bob joined the room")

	send(t, ctx, connA, "SAY|#lab|hi there")
	readUntil(t, ctx, connB, "[#lab] alice: hi there")
	readUntil(t, ctx, connA, "[#lab] alice: hi there")

	send(t, ctx, connB, "DM|alice|psst")
	readUntil(t, ctx, connA, "[DM from bob] psst")
	readUntil(t, ctx, connB, "[DM to alice] psst")
}

func TestWebSocketErrorsBeforeLoginAreDelivered(t *testing.T) {
	s := startTestServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := s.dial(t, ctx)
	send(t, ctx, conn, "JOIN|#lab")
	readUntil(t, ctx, conn, "ERROR: Please LOGIN first")

	send(t, ctx, conn, "|x")
	readUntil(t, ctx, conn, "ERROR: Malformed command")
}

func TestWebSocketQuitClosesNormally(t *testing.T) {
	s := startTestServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := s.dial(t, ctx)
	login(t, ctx, conn, "alice")

	send(t, ctx, conn, "QUIT")
	readUntil(t, ctx, conn, "SYSTEM: Goodbye!")

	_, _, err := conn.Read(ctx)
	if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure {
		t.Fatalf("expected normal closure, got %v (%v)", status, err)
	}
}

func TestWebSocketDisconnectLeavesRooms(t *testing.T) {
	s := startTestServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connA := s.dial(t, ctx)
	connB := s.dial(t, ctx)
	login(t, ctx, connA, "alice")
	login(t, ctx, connB, "bob")
	send(t, ctx, connA, "JOIN|#lab")
	readUntil(t, ctx, connA, "SYSTEM: You joined #lab")
	send(t, ctx, connB, "JOIN|#lab")
	readUntil(t, ctx, connB, "SYSTEM: You joined #lab")

	connA.Close(websocket.StatusNormalClosure, "bye")
	readUntil(t, ctx, connB, "SYSTEM: alice left the room")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.hub.Stats().Clients == 1 && s.sessions.Len() == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("client not removed: %+v sessions=%d", s.hub.Stats(), s.sessions.Len())
}

func TestWebSocketRateLimit(t *testing.T) {
	s := startTestServer(t, func(cfg *config.Config) { cfg.RateLimitPerMinute = 2 })
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := s.dial(t, ctx)
	send(t, ctx, conn, "WHO|#a")
	send(t, ctx, conn, "WHO|#b")
	send(t, ctx, conn, "WHO|#c")

	lines := readUntil(t, ctx, conn, "ERROR: rate limit exceeded")
	for _, line := range lines {
		if strings.Contains(line, "#c") {
			t.Fatalf("rate limited frame was processed: %q", lines)
		}
	}
}

func TestAPIRoomsAndStats(t *testing.T) {
	s := startTestServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := s.dial(t, ctx)
	login(t, ctx, conn, "alice")
	send(t, ctx, conn, "JOIN|#lab")
	readUntil(t, ctx, conn, "SYSTEM: You joined #lab")

	var rooms []core.RoomInfo
	getJSON(t, s.ts.URL+"/api/rooms", 200, &rooms)
	if len(rooms) != 1 || rooms[0].Name != "#lab" || len(rooms[0].Members) != 1 || rooms[0].Members[0] != "alice" {
		t.Fatalf("unexpected rooms: %+v", rooms)
	}

	var room core.RoomInfo
	getJSON(t, s.ts.URL+"/api/rooms/%23lab", 200, &room)
	if room.Name != "#lab" {
		t.Fatalf("unexpected room: %+v", room)
	}

	var errResp ErrorResponse
	getJSON(t, s.ts.URL+"/api/rooms/nowhere", 404, &errResp)
	if errResp.Error == "" {
		t.Fatalf("expected error body")
	}

	var stats StatsResponse
	getJSON(t, s.ts.URL+"/api/stats", 200, &stats)
	if stats.Clients != 1 || stats.Rooms != 1 || stats.WSSessions != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func getJSON(t *testing.T, url string, wantStatus int, into any) {
	t.Helper()
	resp, err := stdhttp.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s: status %d, want %d", url, resp.StatusCode, wantStatus)
	}
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
}
