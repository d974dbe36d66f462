package tcpline

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/emberwake/mud/internal/config"
	"github.com/emberwake/mud/internal/game/session"
)

// fakeGame records facade calls and hands out real sessions so the event
// pump has a sink to drain.
type fakeGame struct {
	mu           sync.Mutex
	reg          *session.Registry
	sess         *session.Session
	loggedOut    bool
	disconnected bool
	moves        []string
	actions      []string
}

func newFakeGame() *fakeGame {
	return &fakeGame{reg: session.NewRegistry(8)}
}

func (f *fakeGame) Login(_ context.Context, sessionID string, characterID int64) (*session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if characterID == 0 {
		return nil, fmt.Errorf("character %d not found", characterID)
	}
	sess, err := f.reg.Register(sessionID, characterID, "Kira", "emberhollow:square", "en", 20, 20, 0)
	if err != nil {
		return nil, err
	}
	f.sess = sess
	return sess, nil
}

func (f *fakeGame) Logout(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loggedOut = true
	return f.reg.Unregister(sessionID)
}

func (f *fakeGame) Disconnect(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = true
	return f.reg.Unregister(sessionID)
}

func (f *fakeGame) StartCombat(_, monsterID string) (string, error) {
	return "enc-" + monsterID, nil
}

func (f *fakeGame) SubmitAction(_, action string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, action)
	return nil
}

func (f *fakeGame) Move(_, direction string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moves = append(f.moves, direction)
	if direction == "west" {
		return "", fmt.Errorf("no exit west")
	}
	return "emberhollow:gate", nil
}

func (f *fakeGame) Follow(_, leaderID string) error {
	if leaderID == "" {
		return fmt.Errorf("no such leader")
	}
	return nil
}

func (f *fakeGame) Unfollow(string) {}

func (f *fakeGame) wasDisconnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnected
}

func (f *fakeGame) wasLoggedOut() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loggedOut
}

func (f *fakeGame) session() *session.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sess
}

type testClient struct {
	conn net.Conn
	r    *bufio.Reader
}

func startSession(t *testing.T, game Game) *testClient {
	t.Helper()
	client, srvSide := net.Pipe()
	h := NewHandler(game, config.ServerConfig{}, zap.NewNop())
	go func() { _ = h.HandleSession(context.Background(), srvSide) }()
	t.Cleanup(func() { client.Close() })
	return &testClient{conn: client, r: bufio.NewReader(client)}
}

func (c *testClient) send(t *testing.T, cmd string) {
	t.Helper()
	_, err := c.conn.Write([]byte(cmd + "\n"))
	require.NoError(t, err)
}

func (c *testClient) readLine(t *testing.T) map[string]any {
	t.Helper()
	line, err := c.r.ReadBytes('\n')
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(line, &m))
	return m
}

func TestSessionLoginAndCommands(t *testing.T) {
	game := newFakeGame()
	c := startSession(t, game)

	c.send(t, `{"op":"login","character_id":1}`)
	m := c.readLine(t)
	assert.Equal(t, true, m["ok"])
	assert.Equal(t, "emberhollow:square", m["result"])

	c.send(t, `{"op":"move","direction":"north"}`)
	m = c.readLine(t)
	assert.Equal(t, true, m["ok"])
	assert.Equal(t, "emberhollow:gate", m["result"])

	c.send(t, `{"op":"move","direction":"west"}`)
	m = c.readLine(t)
	assert.Equal(t, false, m["ok"])
	assert.Contains(t, m["error"], "no exit")

	c.send(t, `{"op":"attack","monster_id":"wolf-1"}`)
	m = c.readLine(t)
	assert.Equal(t, "enc-wolf-1", m["result"])

	c.send(t, `{"op":"action","action":"defend"}`)
	m = c.readLine(t)
	assert.Equal(t, true, m["ok"])

	c.send(t, `{"op":"dance"}`)
	m = c.readLine(t)
	assert.Contains(t, m["error"], "unknown op")

	c.send(t, `{"op":"quit"}`)
	m = c.readLine(t)
	assert.Equal(t, true, m["ok"])
	assert.True(t, game.wasLoggedOut())
}

func TestSessionEventsReachClient(t *testing.T) {
	game := newFakeGame()
	c := startSession(t, game)

	c.send(t, `{"op":"login","character_id":1}`)
	_ = c.readLine(t)

	require.NoError(t, game.session().Conn.Push([]byte(`{"kind":"combat_start"}`)))
	m := c.readLine(t)
	assert.Equal(t, "combat_start", m["kind"])
}

func TestSessionRequiresLogin(t *testing.T) {
	game := newFakeGame()
	c := startSession(t, game)

	c.send(t, `{"op":"move","direction":"north"}`)
	m := c.readLine(t)
	assert.Contains(t, m["error"], "log in first")

	c.send(t, `{"op":"login","character_id":0}`)
	m = c.readLine(t)
	assert.Contains(t, m["error"], "not found")

	c.send(t, "not json")
	m = c.readLine(t)
	assert.Contains(t, m["error"], "malformed")
}

func TestSessionDisconnectOnDrop(t *testing.T) {
	game := newFakeGame()
	c := startSession(t, game)

	c.send(t, `{"op":"login","character_id":1}`)
	_ = c.readLine(t)

	require.NoError(t, c.conn.Close())
	assert.Eventually(t, game.wasDisconnected, time.Second, 10*time.Millisecond)
}

func TestSessionDoubleLoginRejected(t *testing.T) {
	game := newFakeGame()
	c := startSession(t, game)

	c.send(t, `{"op":"login","character_id":1}`)
	_ = c.readLine(t)
	c.send(t, `{"op":"login","character_id":2}`)
	m := c.readLine(t)
	assert.Contains(t, m["error"], "already logged in")
}
