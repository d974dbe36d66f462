package tcpline

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/emberwake/mud/internal/config"
	"github.com/emberwake/mud/internal/game/session"
)

// Game is the slice of the gameserver facade a session needs.
// *gameserver.Server satisfies it.
type Game interface {
	Login(ctx context.Context, sessionID string, characterID int64) (*session.Session, error)
	Logout(ctx context.Context, sessionID string) error
	Disconnect(ctx context.Context, sessionID string) error
	StartCombat(sessionID, monsterID string) (string, error)
	SubmitAction(sessionID, action string) error
	Move(sessionID, direction string) (string, error)
	Follow(sessionID, leaderID string) error
	Unfollow(sessionID string)
}

// command is one inbound JSON line.
type command struct {
	Op          string `json:"op"`
	CharacterID int64  `json:"character_id,omitempty"`
	MonsterID   string `json:"monster_id,omitempty"`
	Action      string `json:"action,omitempty"`
	Direction   string `json:"direction,omitempty"`
	LeaderID    string `json:"leader_id,omitempty"`
}

// reply is the direct response to a command. Game events arrive on the same
// stream as separate lines carrying a "kind" field instead of "ok".
type reply struct {
	OK     bool   `json:"ok"`
	Op     string `json:"op"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// lineWriter serializes writes from the command loop and the event pump
// onto one socket.
type lineWriter struct {
	mu      sync.Mutex
	conn    net.Conn
	timeout time.Duration
}

func (w *lineWriter) writeLine(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timeout > 0 {
		_ = w.conn.SetWriteDeadline(time.Now().Add(w.timeout))
	}
	_, err := w.conn.Write(append(data, '\n'))
	return err
}

// Handler runs the command loop for one client connection. It implements
// SessionHandler.
type Handler struct {
	game   Game
	cfg    config.ServerConfig
	logger *zap.Logger
}

// NewHandler creates a Handler.
//
// Precondition: game and logger must be non-nil.
func NewHandler(game Game, cfg config.ServerConfig, logger *zap.Logger) *Handler {
	return &Handler{game: game, cfg: cfg, logger: logger}
}

// HandleSession reads commands until the connection drops or the client
// quits. A dropped connection after login is treated as a disconnect; a
// quit command as a logout.
//
// Postcondition: Any session registered during the loop is released before
// returning.
func (h *Handler) HandleSession(ctx context.Context, conn net.Conn) error {
	sessionID := uuid.NewString()
	w := &lineWriter{conn: conn, timeout: h.cfg.WriteTimeout}

	var (
		sess     *session.Session
		pumpDone chan struct{}
	)
	defer func() {
		if sess != nil {
			if err := h.game.Disconnect(context.WithoutCancel(ctx), sessionID); err != nil {
				h.logger.Warn("disconnect cleanup failed",
					zap.String("session_id", sessionID),
					zap.Error(err),
				)
			}
			<-pumpDone
		}
	}()

	scanner := bufio.NewScanner(conn)
	for {
		if h.cfg.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var cmd command
		if err := json.Unmarshal(scanner.Bytes(), &cmd); err != nil {
			h.reply(w, reply{Op: "", Error: "malformed command"})
			continue
		}

		switch cmd.Op {
		case "login":
			if sess != nil {
				h.reply(w, reply{Op: cmd.Op, Error: "already logged in"})
				continue
			}
			s, err := h.game.Login(ctx, sessionID, cmd.CharacterID)
			if err != nil {
				h.reply(w, reply{Op: cmd.Op, Error: err.Error()})
				continue
			}
			sess = s
			pumpDone = make(chan struct{})
			go h.pumpEvents(sess, w, pumpDone)
			h.reply(w, reply{OK: true, Op: cmd.Op, Result: sess.RoomID})

		case "quit":
			if sess != nil {
				if err := h.game.Logout(ctx, sessionID); err != nil {
					h.logger.Warn("logout failed",
						zap.String("session_id", sessionID),
						zap.Error(err),
					)
				}
				<-pumpDone
				sess = nil
			}
			h.reply(w, reply{OK: true, Op: cmd.Op})
			return nil

		default:
			if sess == nil {
				h.reply(w, reply{Op: cmd.Op, Error: "log in first"})
				continue
			}
			h.reply(w, h.dispatch(sessionID, cmd))
		}
	}
}

// dispatch executes one post-login command and shapes its reply.
func (h *Handler) dispatch(sessionID string, cmd command) reply {
	switch cmd.Op {
	case "move":
		dest, err := h.game.Move(sessionID, cmd.Direction)
		if err != nil {
			return reply{Op: cmd.Op, Error: err.Error()}
		}
		return reply{OK: true, Op: cmd.Op, Result: dest}

	case "attack":
		encID, err := h.game.StartCombat(sessionID, cmd.MonsterID)
		if err != nil {
			return reply{Op: cmd.Op, Error: err.Error()}
		}
		return reply{OK: true, Op: cmd.Op, Result: encID}

	case "action":
		if err := h.game.SubmitAction(sessionID, cmd.Action); err != nil {
			return reply{Op: cmd.Op, Error: err.Error()}
		}
		return reply{OK: true, Op: cmd.Op}

	case "follow":
		if err := h.game.Follow(sessionID, cmd.LeaderID); err != nil {
			return reply{Op: cmd.Op, Error: err.Error()}
		}
		return reply{OK: true, Op: cmd.Op}

	case "unfollow":
		h.game.Unfollow(sessionID)
		return reply{OK: true, Op: cmd.Op}

	default:
		return reply{Op: cmd.Op, Error: fmt.Sprintf("unknown op %q", cmd.Op)}
	}
}

// pumpEvents copies the session's event stream to the socket until the sink
// closes. Write failures end the pump; the read loop notices the dead
// connection on its own.
func (h *Handler) pumpEvents(sess *session.Session, w *lineWriter, done chan struct{}) {
	defer close(done)
	for data := range sess.Conn.Events() {
		if err := w.writeLine(data); err != nil {
			h.logger.Debug("event write failed",
				zap.String("session_id", sess.ID),
				zap.Error(err),
			)
			return
		}
	}
}

func (h *Handler) reply(w *lineWriter, r reply) {
	data, err := json.Marshal(r)
	if err != nil {
		return
	}
	if err := w.writeLine(data); err != nil {
		h.logger.Debug("reply write failed", zap.Error(err))
	}
}
