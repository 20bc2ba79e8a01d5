// Package devserver serves the resource provider over plain HTTP and
// carries the native bridge over a websocket, so pages can be developed in
// an ordinary browser.
package devserver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/malivvan/hellowebview/bridge"
)

type Options struct {
	Addr string
	// Handler serves the page resources, usually a *resource.Provider.
	Handler            http.Handler
	Functions          *bridge.Functions
	InitialisationData map[string]string
	UserScripts        []string
	EntryPoint         string
	CallTimeout        time.Duration
	// WatchDir makes connected pages reload when files below it change.
	WatchDir string
	Logger   zerolog.Logger
}

type Server struct {
	opts     Options
	log      zerolog.Logger
	client   []byte
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[*session]struct{}
}

func New(opts Options) (*Server, error) {
	if opts.Handler == nil {
		return nil, errors.New("devserver: handler is required")
	}
	if opts.Addr == "" {
		opts.Addr = "127.0.0.1:8080"
	}
	client, err := renderClient(opts.InitialisationData, opts.UserScripts)
	if err != nil {
		return nil, fmt.Errorf("render client script: %w", err)
	}
	return &Server{
		opts:     opts,
		log:      opts.Logger.With().Str("component", "devserver").Logger(),
		client:   client,
		sessions: make(map[*session]struct{}),
	}, nil
}

// Handler routes the bridge endpoints and falls through to the resource
// handler, injecting the client script into HTML documents.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(clientPath, s.serveClient)
	mux.HandleFunc(socketPath, s.serveSocket)
	mux.HandleFunc("/", s.servePage)
	return mux
}

func (s *Server) serveClient(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/javascript")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(s.client)
}

func (s *Server) servePage(w http.ResponseWriter, r *http.Request) {
	rec := newBufferedResponse()
	s.opts.Handler.ServeHTTP(rec, r)

	body := rec.body.Bytes()
	if rec.status == http.StatusOK && strings.HasPrefix(rec.header.Get("Content-Type"), "text/html") && r.Method != http.MethodHead {
		body = injectClient(body)
		rec.header.Set("Content-Length", strconv.Itoa(len(body)))
	}
	for k, v := range rec.header {
		w.Header()[k] = v
	}
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(rec.status)
	_, _ = w.Write(body)
}

func (s *Server) serveSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to upgrade websocket connection")
		return
	}
	defer conn.Close()

	sess := newSession(conn, s.log.With().Str("remote", r.RemoteAddr).Logger())
	sess.bridge = bridge.New(sess, s.opts.Functions, bridge.Options{
		EntryPoint:  s.opts.EntryPoint,
		CallTimeout: s.opts.CallTimeout,
		Logger:      s.opts.Logger,
	})

	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()
	s.log.Info().Str("remote", r.RemoteAddr).Msg("page connected")

	sess.run()

	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
	s.log.Info().Str("remote", r.RemoteAddr).Msg("page disconnected")
}

// Sessions is the number of connected pages.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Reload asks every connected page to reload.
func (s *Server) Reload() {
	for _, sess := range s.snapshot() {
		if err := sess.write(frame{Type: frameReload}); err != nil {
			s.log.Warn().Err(err).Msg("failed to send reload")
		}
	}
}

func (s *Server) snapshot() []*session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// ListenAndServe serves on Options.Addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info().Str("url", "http://"+ln.Addr().String()+"/").Msg("dev server listening")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		// hijacked websocket connections are not closed by Shutdown
		for _, sess := range s.snapshot() {
			_ = sess.conn.Close()
		}
		return err
	})
	if s.opts.WatchDir != "" {
		g.Go(func() error {
			return s.watch(gctx, s.opts.WatchDir)
		})
	}
	return g.Wait()
}

// bufferedResponse collects a handler's response so HTML can be rewritten
// before it is sent.
type bufferedResponse struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newBufferedResponse() *bufferedResponse {
	return &bufferedResponse{header: make(http.Header), status: http.StatusOK}
}

func (b *bufferedResponse) Header() http.Header {
	return b.header
}

func (b *bufferedResponse) WriteHeader(status int) {
	b.status = status
}

func (b *bufferedResponse) Write(p []byte) (int, error) {
	return b.body.Write(p)
}
