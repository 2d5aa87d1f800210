package proto

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/ZenLiuCN/hotswap"
	"github.com/ZenLiuCN/hotswap/agent"
	"github.com/ZenLiuCN/hotswap/state"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("hotswap.proto")

// FormatText is the format of text render results.
const FormatText = "text/plain"

type (
	// Backend is the agent side served by a Server.
	Backend interface {
		HotReloadSource(path, hash string) agent.ReloadResult
		Rollback() error
		Render() (string, error)
		Invalidate(path string)
		Version() uint64
	}
	// Server answers one controller connection at a time on a unix socket.
	Server struct {
		Path     string
		Backend  Backend
		States   *state.Registry
		Segments Segments

		ln   net.Listener
		mu   sync.Mutex
		conn net.Conn
		done chan struct{}
		once sync.Once
	}
)

// Listen on the unix socket path, a stale socket file is removed first.
func Listen(path string, b Backend, states *state.Registry, seg Segments) (*Server, error) {
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	log.Infof("listening on %s", path)
	return &Server{Path: path, Backend: b, States: states, Segments: seg, ln: ln, done: make(chan struct{})}, nil
}

// Serve connections until ctx is done, Close is called or a Shutdown message arrives.
// The server is closed and the socket file removed on return.
func (s *Server) Serve(ctx context.Context) error {
	defer func() {
		_ = s.Close()
		_ = os.Remove(s.Path)
	}()
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
				return err
			}
		}
		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		s.handle(conn)
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
	}
}

// Close stops the server and drops the current connection.
func (s *Server) Close() (err error) {
	s.once.Do(func() {
		close(s.done)
		err = s.ln.Close()
		s.mu.Lock()
		if s.conn != nil {
			_ = s.conn.Close()
		}
		s.mu.Unlock()
	})
	return
}

func (s *Server) handle(conn net.Conn) {
	defer func() {
		_ = conn.Close()
	}()
	for {
		req, err := Read(conn)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
			return
		case errors.Is(err, hotswap.ErrProtocolDecode):
			log.Warningf("dropping connection: %v", err)
			return
		default:
			log.Errorf("read request: %v", err)
			return
		}
		resp, stop := s.dispatch(req)
		if err = Write(conn, resp); err != nil {
			log.Errorf("write %s: %v", resp.Kind(), err)
			return
		}
		if stop {
			log.Info("shutdown requested")
			_ = s.Close()
			return
		}
	}
}

func (s *Server) dispatch(req Payload) (resp Payload, stop bool) {
	defer func() {
		if v := recover(); v != nil {
			resp = CrashReport{Error: fmt.Sprint(v), Backtrace: string(debug.Stack())}
		}
	}()
	switch m := req.(type) {
	case Reload:
		return complete(s.Backend.HotReloadSource(m.Path, m.SourceHash)), false
	case Rollback:
		if err := s.Backend.Rollback(); err != nil {
			return ReloadComplete{Version: s.Backend.Version(), Error: err.Error()}, false
		}
		return ReloadComplete{Success: true, Version: s.Backend.Version()}, false
	case Invalidate:
		s.Backend.Invalidate(m.Path)
		return Pong{}, false
	case RequestState:
		b, err := s.States.MarshalJSON()
		if err != nil {
			return CrashReport{Error: err.Error()}, false
		}
		return StateSnapshot{JSON: b}, false
	case Render:
		return s.render(), false
	case Ping:
		return Pong{}, false
	case Shutdown:
		return Pong{}, true
	default:
		return CrashReport{Error: fmt.Sprintf("unexpected request %s", req.Kind())}, false
	}
}

func (s *Server) render() Payload {
	out, err := s.Backend.Render()
	if err != nil {
		c := CrashReport{Error: err.Error()}
		var crash *agent.CrashError
		if errors.As(err, &crash) {
			c.Backtrace = string(crash.Stack)
		}
		return c
	}
	d, err := s.Segments.Put([]byte(out), FormatText)
	if err != nil {
		return CrashReport{Error: err.Error()}
	}
	d.Width, d.Height = textSize(out)
	return d
}

func complete(r agent.ReloadResult) ReloadComplete {
	c := ReloadComplete{
		Success:    r.Success,
		Version:    r.Version,
		DurationMs: r.Duration.Milliseconds(),
		Error:      r.Error(),
		Swapped:    r.Swapped,
		Registered: r.Registered,
		Skipped:    r.Skipped,
		Cached:     r.Cached,
	}
	if r.RenderErr != nil {
		c.RenderError = r.RenderErr.Error()
	}
	return c
}

// textSize is the column and line count of a text result.
func textSize(s string) (w, h int) {
	if s == "" {
		return
	}
	for _, line := range strings.Split(strings.TrimSuffix(s, "\n"), "\n") {
		h++
		w = max(w, len([]rune(line)))
	}
	return
}
