package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/posecoach/internal/observe"
	"github.com/MrWong99/posecoach/internal/session"
	"github.com/MrWong99/posecoach/internal/store"
	"github.com/MrWong99/posecoach/internal/voice"
	"github.com/MrWong99/posecoach/pkg/pose"
	"github.com/MrWong99/posecoach/pkg/provider/tts"
)

// Message types of the session protocol.
const (
	msgSession  = "session"
	msgFrame    = "frame"
	msgAnalysis = "analysis"
	msgSpeech   = "speech"
	msgEnd      = "end"
	msgSummary  = "summary"
	msgError    = "error"
)

// errClientEnded stops the session loop after the client sent "end".
var errClientEnded = errors.New("server: client ended session")

// clientMessage is any text message sent by the client.
type clientMessage struct {
	Type        string     `json:"type"`
	TimestampMS int64      `json:"timestamp_ms,omitempty"`
	Landmarks   pose.Frame `json:"landmarks,omitempty"`
}

type sessionMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Exercise  string `json:"exercise"`
}

type analysisMessage struct {
	Type        string `json:"type"`
	TimestampMS int64  `json:"timestamp_ms,omitempty"`
	session.FrameResult
}

// speechMessage announces the binary PCM message that follows it.
type speechMessage struct {
	Type       string `json:"type"`
	Key        string `json:"key"`
	Bytes      int    `json:"bytes"`
	SampleRate int    `json:"sample_rate"`
}

type summaryMessage struct {
	Type string `json:"type"`
	store.Summary
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// handleSession upgrades to a WebSocket and runs one coaching session until
// the client sends "end" or disconnects. The summary is persisted either way
// and sent back when the connection is still open.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.allowedOrigins,
	})
	if err != nil {
		// Accept has already written the HTTP error.
		observe.Logger(r.Context()).Debug("server: websocket upgrade failed", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxBodySize)

	ctx := r.Context()
	sess := s.manager.Start(ctx, r.URL.Query().Get("exercise"))
	log := observe.SessionLogger(ctx, sess.ID(), sess.Exercise())

	c := &wsConn{conn: conn, timeout: s.writeTimeout}
	if err := c.writeJSON(ctx, sessionMessage{Type: msgSession, SessionID: sess.ID(), Exercise: sess.Exercise()}); err != nil {
		s.endSession(ctx, sess.ID(), log)
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	var queue *voice.Queue
	if s.announcer != nil {
		queue = s.announcer.NewQueue(s.queueSize, c.sendSpeech)
		g.Go(func() error { return queue.Run(gctx) })
	}
	g.Go(func() error {
		if queue != nil {
			defer queue.Close()
		}
		return s.readLoop(gctx, c, sess, queue)
	})
	runErr := g.Wait()

	sum, ok := s.endSession(ctx, sess.ID(), log)
	switch {
	case errors.Is(runErr, errClientEnded):
		if ok {
			if err := c.writeJSON(ctx, summaryMessage{Type: msgSummary, Summary: sum}); err != nil {
				log.Debug("server: send summary failed", "err", err)
			}
		}
		conn.Close(websocket.StatusNormalClosure, "session ended")
	case isClosed(runErr):
		log.Debug("server: client disconnected", "status", websocket.CloseStatus(runErr))
	default:
		log.Warn("server: session aborted", "err", runErr)
		conn.Close(websocket.StatusInternalError, "session aborted")
	}
}

// endSession removes the session from the manager. It detaches from the
// request context so the summary is saved after a disconnect too.
func (s *Server) endSession(ctx context.Context, id string, log *slog.Logger) (store.Summary, bool) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	sum, err := s.manager.End(ctx, id)
	if err != nil {
		log.Error("server: end session failed", "err", err)
		return sum, false
	}
	log.Info("session ended",
		"frames", sum.Frames,
		"mean_score", sum.MeanScore,
		"completed_reps", sum.CompletedReps,
		"duration", sum.Duration(),
	)
	return sum, true
}

// readLoop processes client messages until "end", a read error or ctx
// cancellation. Malformed messages are answered with an error message and
// skipped.
func (s *Server) readLoop(ctx context.Context, c *wsConn, sess *session.Session, queue *voice.Queue) error {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			if err := c.writeError(ctx, "expected a text message"); err != nil {
				return err
			}
			continue
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			if err := c.writeError(ctx, "invalid JSON: "+err.Error()); err != nil {
				return err
			}
			continue
		}

		switch msg.Type {
		case msgFrame:
			res := sess.Process(ctx, msg.Landmarks, s.now())
			if res.Speak && queue != nil {
				queue.Offer(ctx, res.Key, res.Feedback)
			}
			if err := c.writeJSON(ctx, analysisMessage{Type: msgAnalysis, TimestampMS: msg.TimestampMS, FrameResult: res}); err != nil {
				return err
			}
		case msgEnd:
			return errClientEnded
		default:
			if err := c.writeError(ctx, fmt.Sprintf("unknown message type %q", msg.Type)); err != nil {
				return err
			}
		}
	}
}

// wsConn adds a per-message deadline to writes. The frame loop and the
// speech queue write concurrently; the connection serialises them.
type wsConn struct {
	conn    *websocket.Conn
	timeout time.Duration
}

func (c *wsConn) write(ctx context.Context, typ websocket.MessageType, p []byte) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.conn.Write(ctx, typ, p)
}

func (c *wsConn) writeJSON(ctx context.Context, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("server: encode message: %w", err)
	}
	return c.write(ctx, websocket.MessageText, b)
}

func (c *wsConn) writeError(ctx context.Context, msg string) error {
	return c.writeJSON(ctx, errorMessage{Type: msgError, Error: msg})
}

// sendSpeech is the [voice.Sink] of a session: a speech header followed by
// the raw PCM clip.
func (c *wsConn) sendSpeech(ctx context.Context, key string, pcm []byte) error {
	if err := c.writeJSON(ctx, speechMessage{Type: msgSpeech, Key: key, Bytes: len(pcm), SampleRate: tts.SampleRate}); err != nil {
		return err
	}
	return c.write(ctx, websocket.MessageBinary, pcm)
}

// isClosed reports whether err means the peer went away.
func isClosed(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway, websocket.StatusNoStatusRcvd:
		return true
	}
	return false
}
