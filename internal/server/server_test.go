package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/squawktown/squawk/internal/callbacks"
	"github.com/squawktown/squawk/internal/player"
	"github.com/squawktown/squawk/internal/protocol"
	"github.com/squawktown/squawk/pkg/config"
	"github.com/squawktown/squawk/pkg/towngen"
)

type frame map[string]json.RawMessage

type snapshot struct {
	Players    map[string]protocol.PlayerView    `json:"players"`
	NPCs       map[string]protocol.NPCView       `json:"npcs"`
	GroundHats map[string]protocol.GroundHatView `json:"groundHats"`
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.World.Seed = "1234"
	cfg.World.NpcHatChance = 1
	return cfg
}

func startTestServer(t *testing.T, cfg *config.Config) (*Server, *httptest.Server) {
	t.Helper()
	srv, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	httpServer := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.network.Close()
		httpServer.Close()
	})
	return srv, httpServer
}

func dial(t *testing.T, httpServer *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("invalid frame %s: %v", data, err)
	}
	return f
}

// readUntil skips frames until match accepts one.
func readUntil(t *testing.T, conn *websocket.Conn, match func(frame) bool) frame {
	t.Helper()
	for i := 0; i < 50; i++ {
		if f := readFrame(t, conn); match(f) {
			return f
		}
	}
	t.Fatalf("no matching frame")
	return nil
}

func readSnapshot(t *testing.T, conn *websocket.Conn, match func(snapshot) bool) snapshot {
	t.Helper()
	var snap snapshot
	readUntil(t, conn, func(f frame) bool {
		if _, ok := f["players"]; !ok {
			return false
		}
		snap = snapshot{}
		data, _ := json.Marshal(f)
		if err := json.Unmarshal(data, &snap); err != nil {
			t.Fatalf("invalid snapshot: %v", err)
		}
		return match(snap)
	})
	return snap
}

func hasKey(key string) func(frame) bool {
	return func(f frame) bool {
		_, ok := f[key]
		return ok
	}
}

func send(t *testing.T, conn *websocket.Conn, msg string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func handshake(t *testing.T, conn *websocket.Conn) (string, json.RawMessage) {
	t.Helper()
	f := readFrame(t, conn)
	var id string
	if err := json.Unmarshal(f["id"], &id); err != nil {
		t.Fatalf("handshake without id: %v", f)
	}
	if len(f["world"]) == 0 {
		t.Fatalf("handshake without world")
	}
	return id, f["world"]
}

func TestHandshakeAndJoin(t *testing.T) {
	srv, httpServer := startTestServer(t, testConfig())

	first := dial(t, httpServer)
	firstID, firstWorld := handshake(t, first)
	if firstID != "p1" {
		t.Fatalf("first id = %q", firstID)
	}

	second := dial(t, httpServer)
	secondID, secondWorld := handshake(t, second)
	if secondID != "p2" {
		t.Fatalf("second id = %q", secondID)
	}

	if !bytes.Equal(firstWorld, secondWorld) {
		t.Fatalf("clients received different worlds")
	}
	if !bytes.Equal(firstWorld, srv.worldJSON) {
		t.Fatalf("handshake world differs from the cached bytes")
	}

	join := readFrame(t, first)
	if string(join["join"]) != `"p2"` {
		t.Fatalf("expected join for p2, got %v", join)
	}
}

func TestWorldEndpointMatchesHandshake(t *testing.T) {
	_, httpServer := startTestServer(t, testConfig())

	conn := dial(t, httpServer)
	_, world := handshake(t, conn)

	resp, err := http.Get(httpServer.URL + "/world")
	if err != nil {
		t.Fatalf("GET /world: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if !bytes.Equal(body, world) {
		t.Fatalf("/world differs from handshake world")
	}

	var decoded towngen.World
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("world does not decode: %v", err)
	}
	if len(decoded.NPCs) != 50 || len(decoded.Cars) != 20 {
		t.Fatalf("unexpected world: %d npcs, %d cars", len(decoded.NPCs), len(decoded.Cars))
	}
}

func TestStealHatScenario(t *testing.T) {
	srv, httpServer := startTestServer(t, testConfig())

	thief := dial(t, httpServer)
	handshake(t, thief)
	watcher := dial(t, httpServer)
	handshake(t, watcher)
	readUntil(t, thief, hasKey("join"))

	srv.gameState.Lock()
	npc, _ := srv.gameState.NPCLocked("npc_3")
	srv.gameState.Unlock()
	if npc.Hat == nil {
		t.Fatalf("npc_3 should start with a hat")
	}
	color := npc.Hat.Color

	send(t, thief, `{"stealHat":{"npcId":"npc_3"}}`)

	snap := readSnapshot(t, watcher, func(s snapshot) bool { return s.Players["p1"].Hat != nil })
	if snap.Players["p1"].Hat.Color != color {
		t.Fatalf("stolen hat color = %#x, want %#x", snap.Players["p1"].Hat.Color, color)
	}
	if snap.NPCs["npc_3"].Hat != nil {
		t.Fatalf("npc_3 still wears a hat")
	}

	// the thief gets the steal snapshot too
	readSnapshot(t, thief, func(s snapshot) bool { return s.Players["p1"].Hat != nil })

	// a second steal is a no-op
	send(t, watcher, `{"stealHat":{"npcId":"npc_3"}}`)
	snap = readSnapshot(t, thief, func(snapshot) bool { return true })
	if snap.Players["p2"].Hat != nil || snap.Players["p1"].Hat == nil {
		t.Fatalf("second steal moved the hat: %+v", snap.Players)
	}
}

func TestPoopHitScenario(t *testing.T) {
	_, httpServer := startTestServer(t, testConfig())

	first := dial(t, httpServer)
	handshake(t, first)
	second := dial(t, httpServer)
	handshake(t, second)

	send(t, second, `{"poopHit":{"npcId":"npc_7","pooper":"p2"}}`)

	snap := readSnapshot(t, first, func(s snapshot) bool { return s.NPCs["npc_7"].Pooped })
	npc := snap.NPCs["npc_7"]
	if npc.Pooper == nil || *npc.Pooper != "p2" {
		t.Fatalf("pooper = %v", npc.Pooper)
	}
	if snap.NPCs["npc_6"].Pooped {
		t.Fatalf("neighbour npc marked pooped")
	}
}

func TestDropAndPickHat(t *testing.T) {
	_, httpServer := startTestServer(t, testConfig())

	dropper := dial(t, httpServer)
	handshake(t, dropper)
	picker := dial(t, httpServer)
	handshake(t, picker)

	send(t, dropper, `{"dropHat":{"id":77,"x":1,"y":0,"z":2,"width":0.5,"height":0.5,"depth":0.5,"color":65280}}`)
	snap := readSnapshot(t, picker, func(s snapshot) bool { return len(s.GroundHats) == 1 })
	if snap.GroundHats["77"].Color != 65280 {
		t.Fatalf("ground hat = %+v", snap.GroundHats)
	}

	send(t, picker, `{"pickHat":{"hatId":77}}`)
	snap = readSnapshot(t, dropper, func(s snapshot) bool { return len(s.GroundHats) == 0 })
	hat := snap.Players["p2"].Hat
	if hat == nil || hat.ID != "77" {
		t.Fatalf("picker hat = %+v", hat)
	}
}

func TestEventsReachEveryone(t *testing.T) {
	_, httpServer := startTestServer(t, testConfig())

	sender := dial(t, httpServer)
	handshake(t, sender)
	other := dial(t, httpServer)
	handshake(t, other)

	send(t, sender, `{"poop":{"x":1,"y":2,"z":3},"chat":"  hello gulls \u0007 "}`)

	for _, conn := range []*websocket.Conn{sender, other} {
		poop := readUntil(t, conn, hasKey("poop"))
		if string(poop["poop"]) != `{"x":1,"y":2,"z":3}` {
			t.Fatalf("poop payload = %s", poop["poop"])
		}
		chat := readUntil(t, conn, hasKey("chat"))
		if string(chat["chat"]) != `"Player p1: hello gulls"` {
			t.Fatalf("chat = %s", chat["chat"])
		}
	}
}

func TestDisconnectRemovesPlayer(t *testing.T) {
	srv, httpServer := startTestServer(t, testConfig())

	stayer := dial(t, httpServer)
	handshake(t, stayer)
	leaver := dial(t, httpServer)
	handshake(t, leaver)
	readUntil(t, stayer, hasKey("join"))

	leaver.Close()

	snap := readSnapshot(t, stayer, func(s snapshot) bool {
		_, ok := s.Players["p2"]
		return !ok
	})
	if _, ok := snap.Players["p1"]; !ok {
		t.Fatalf("remaining player missing from snapshot")
	}
	if srv.gameState.Stats().Players != 1 {
		t.Fatalf("player count = %d", srv.gameState.Stats().Players)
	}
}

func TestMalformedMessageDisconnects(t *testing.T) {
	_, httpServer := startTestServer(t, testConfig())

	conn := dial(t, httpServer)
	handshake(t, conn)

	send(t, conn, `{"stealHat":{}}`)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
				t.Fatalf("expected policy violation close, got %v", err)
			}
			return
		}
	}
}

func TestMalformedMessageSkipped(t *testing.T) {
	cfg := testConfig()
	cfg.Protocol.MalformedPolicy = config.MalformedSkip
	_, httpServer := startTestServer(t, cfg)

	conn := dial(t, httpServer)
	handshake(t, conn)

	send(t, conn, `{"position":{"x":1}}`)
	send(t, conn, `{"chat":"still here"}`)

	chat := readUntil(t, conn, hasKey("chat"))
	if string(chat["chat"]) != `"Player p1: still here"` {
		t.Fatalf("chat = %s", chat["chat"])
	}
}

func TestScriptHooks(t *testing.T) {
	script := `
name = "gatekeeper"

function on_join(id)
	broadcast_chat("welcome " .. id)
end

function on_chat(id, text)
	if text == "bread" then
		return false
	end
end
`
	path := filepath.Join(t.TempDir(), "hooks.lua")
	if err := os.WriteFile(path, []byte(script), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig()
	cfg.Scripting.Hooks = path
	_, httpServer := startTestServer(t, cfg)

	conn := dial(t, httpServer)
	handshake(t, conn)

	welcome := readUntil(t, conn, hasKey("chat"))
	if string(welcome["chat"]) != `"welcome p1"` {
		t.Fatalf("welcome = %s", welcome["chat"])
	}

	send(t, conn, `{"chat":"bread"}`)
	send(t, conn, `{"chat":"crumbs"}`)

	chat := readUntil(t, conn, hasKey("chat"))
	if string(chat["chat"]) != `"Player p1: crumbs"` {
		t.Fatalf("suppressed chat leaked: %s", chat["chat"])
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv, httpServer := startTestServer(t, testConfig())

	conn := dial(t, httpServer)
	handshake(t, conn)

	resp, err := http.Get(httpServer.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()

	var info map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatalf("invalid status: %v", err)
	}
	if info["players_current"] != float64(1) || info["npcs"] != float64(50) {
		t.Fatalf("status = %v", info)
	}
	if info["seed"] != float64(srv.seed) || srv.seed != 1234 {
		t.Fatalf("seed = %v", info["seed"])
	}
}

func TestStartAndStop(t *testing.T) {
	cfg := testConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0

	srv, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("failed to start: %v", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	handshake(t, conn)

	srv.Stop()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("expected going away close, got %v", err)
	}
}

func TestChatCommands(t *testing.T) {
	dir := t.TempDir()
	command := `
name = "count"
description = "how many gulls are here"

function execute(p, args)
	return "gulls: " .. get_player_count()
end
`
	if err := os.WriteFile(filepath.Join(dir, "count.lua"), []byte(command), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig()
	cfg.Scripting.CommandsDir = dir
	_, httpServer := startTestServer(t, cfg)

	caller := dial(t, httpServer)
	handshake(t, caller)
	other := dial(t, httpServer)
	handshake(t, other)

	send(t, caller, `{"chat":"/count"}`)
	reply := readUntil(t, caller, hasKey("chat"))
	if string(reply["chat"]) != `"gulls: 2"` {
		t.Fatalf("reply = %s", reply["chat"])
	}

	send(t, caller, `{"chat":"/help"}`)
	help := readUntil(t, caller, hasKey("chat"))
	if string(help["chat"]) != `"/count - how many gulls are here"` {
		t.Fatalf("help = %s", help["chat"])
	}

	// replies are private, the other client only sees ordinary chat
	send(t, caller, `{"chat":"done"}`)
	chat := readUntil(t, other, hasKey("chat"))
	if string(chat["chat"]) != `"Player p1: done"` {
		t.Fatalf("other saw %s", chat["chat"])
	}
}

// readClose reads until the server closes the connection and returns the
// close error.
func readClose(t *testing.T, conn *websocket.Conn) error {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return err
		}
	}
}

func TestShippedRateLimitKeepsHighRefreshClients(t *testing.T) {
	cfg, err := config.LoadConfig("../../configs/config.toml")
	if err != nil {
		t.Fatalf("failed to load shipped config: %v", err)
	}
	if !cfg.RateLimit.Enabled {
		t.Fatalf("shipped config should rate limit")
	}
	cfg.World.Seed = "1234"
	cfg.Scripting = config.ScriptingConfig{}
	_, httpServer := startTestServer(t, cfg)

	gull := dial(t, httpServer)
	handshake(t, gull)

	// one position frame per display refresh at 144 Hz
	ticker := time.NewTicker(time.Second / 144)
	defer ticker.Stop()
	stop := time.After(3 * time.Second)
	for i := 0; ; i++ {
		select {
		case <-ticker.C:
			msg := fmt.Sprintf(`{"position":{"x":%d,"y":5,"z":0},"yaw":0.5}`, i%50)
			send(t, gull, msg)
			if i%30 == 0 {
				send(t, gull, `{"poop":{"x":0,"y":5,"z":0}}`)
			}
			continue
		case <-stop:
		}
		break
	}

	send(t, gull, `{"chat":"still flying"}`)
	chat := readUntil(t, gull, hasKey("chat"))
	if string(chat["chat"]) != `"Player p1: still flying"` {
		t.Fatalf("chat = %s", chat["chat"])
	}
}

func TestHatTransfersBypassRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = config.RateLimitConfig{Enabled: true, MessagesPerSecond: 1, BurstSize: 1}
	_, httpServer := startTestServer(t, cfg)

	gull := dial(t, httpServer)
	handshake(t, gull)

	send(t, gull, `{"position":{"x":0,"y":5,"z":0}}`)
	for i := 1; i <= 6; i++ {
		send(t, gull, fmt.Sprintf(`{"dropHat":{"id":%d,"x":%d,"y":0,"z":0,"width":1,"height":1,"depth":1,"color":255}}`, i, i))
	}
	readSnapshot(t, gull, func(s snapshot) bool { return len(s.GroundHats) == 6 })

	for i := 0; i < 2*5; i++ {
		if err := gull.WriteMessage(websocket.TextMessage, []byte(`{"position":{"x":1,"y":5,"z":1}}`)); err != nil {
			break
		}
	}
	if err := readClose(t, gull); !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy violation close, got %v", err)
	}
}

func TestNullEventsAreRelayed(t *testing.T) {
	_, httpServer := startTestServer(t, testConfig())

	sender := dial(t, httpServer)
	handshake(t, sender)
	other := dial(t, httpServer)
	handshake(t, other)

	send(t, sender, `{"poop":null}`)
	send(t, sender, `{"diarrhea":null}`)

	for _, conn := range []*websocket.Conn{sender, other} {
		if f := readUntil(t, conn, hasKey("poop")); string(f["poop"]) != "null" {
			t.Fatalf("poop payload = %s", f["poop"])
		}
		if f := readUntil(t, conn, hasKey("diarrhea")); string(f["diarrhea"]) != "null" {
			t.Fatalf("diarrhea payload = %s", f["diarrhea"])
		}
	}
}

type shoutCallbacks struct {
	callbacks.DefaultCallbacks
}

func (s *shoutCallbacks) OnChatMessage(p *player.Player, message string) (string, bool) {
	return strings.ToUpper(message), true
}

func TestRegisteredCallbacksSeeChat(t *testing.T) {
	srv, err := New(testConfig(), nil)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	srv.RegisterCallbacks(&shoutCallbacks{})

	httpServer := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.network.Close()
		httpServer.Close()
	})

	gull := dial(t, httpServer)
	handshake(t, gull)

	send(t, gull, `{"chat":"mine"}`)
	chat := readUntil(t, gull, hasKey("chat"))
	if string(chat["chat"]) != `"Player p1: MINE"` {
		t.Fatalf("chat = %s", chat["chat"])
	}
}
