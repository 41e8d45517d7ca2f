package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hongjun500/etp-go/internal/protocol"
	"github.com/hongjun500/etp-go/internal/session"
	"github.com/hongjun500/etp-go/pkg/logger"
)

// Server accepts WebSocket connections and runs one server-role session per
// connection. RegisterHandlers attaches the per-session protocol handlers
// (at minimum a Core server) before the receive loop starts.
type Server struct {
	Path    string // endpoint path, defaults to "/etp"
	Catalog *protocol.Catalog
	Config  session.Config

	// RegisterHandlers is called once per new session.
	RegisterHandlers func(s *session.Session) error

	// OnSession, when set, observes each started session (tests, shutdown).
	OnSession func(s *session.Session)
}

// Start serves until ctx is done.
func (srv *Server) Start(ctx context.Context, addr string) error {
	if srv.Path == "" {
		srv.Path = "/etp"
	}
	mux := http.NewServeMux()
	mux.HandleFunc(srv.Path, srv.HandleUpgrade)

	logger.L().Sugar().Infow("etp_listen", "addr", addr, "path", srv.Path)

	server := &http.Server{Addr: addr, Handler: mux}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	return server.ListenAndServe()
}

// HandleUpgrade upgrades one HTTP request into an ETP session. Exported so
// tests can mount it on httptest servers.
func (srv *Server) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		Subprotocols:    []string{Subprotocol},
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// The upgrade headers are captured at construction; the encoding header
	// value latches the codec for the session lifetime.
	sess, err := session.New(protocol.RoleServer, newWSConn(conn, 10*time.Second),
		srv.Catalog, r.Header.Clone(), srv.Config)
	if err != nil {
		logger.L().Sugar().Warnw("session_rejected", "remote", r.RemoteAddr, "err", err)
		_ = conn.Close()
		return
	}
	if srv.RegisterHandlers != nil {
		if err := srv.RegisterHandlers(sess); err != nil {
			logger.L().Sugar().Errorw("register_handlers_failed", "err", err)
			_ = conn.Close()
			return
		}
	}
	sess.Start()
	if srv.OnSession != nil {
		srv.OnSession(sess)
	}
}

// Dial opens a client-role session against url. The encoding request rides
// the handshake header named by cfg.EncodingHeaderName.
func Dial(ctx context.Context, url, encoding string, cat *protocol.Catalog, cfg session.Config) (*session.Session, error) {
	headerName := cfg.EncodingHeaderName
	if headerName == "" {
		headerName = "etp-encoding"
	}
	header := http.Header{}
	if encoding != "" {
		header.Set(headerName, encoding)
	}

	dialer := websocket.Dialer{Subprotocols: []string{Subprotocol}}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return session.New(protocol.RoleClient, newWSConn(conn, 10*time.Second), cat, header, cfg)
}
