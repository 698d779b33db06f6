package internal

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"roomchat/internal/blob"
	"roomchat/internal/storage"
)

const (
	defaultTokenTTL    = 7 * 24 * time.Hour
	defaultMaxFileSize = 10 * 1024 * 1024
	authRateLimit      = 10
	authRateWindow     = time.Minute
)

var errUnauthorized = errors.New("unauthorized")

// ServerOptions configures the HTTP and websocket surface around a hub.
type ServerOptions struct {
	Hub         *Hub
	Store       *storage.Store
	Blobs       *blob.Store
	JoinPath    string
	TokenTTL    time.Duration
	MaxFileSize int64
	RequireAuth bool
}

// Server is the echo application serving the chat hub.
type Server struct {
	echo         *echo.Echo
	hub          *Hub
	store        *storage.Store
	blobs        *blob.Store
	metrics      *Metrics
	presence     *PresenceTracker
	authLimiter  *RateLimiter
	eventLimiter *RateLimiter
	upgrader     websocket.Upgrader
	joinPath     string
	tokenTTL     time.Duration
	maxFileSize  int64
	requireAuth  bool
}

type authContext struct {
	UserID   int64
	Username string
	Token    string
}

// NewServer wires routes for the websocket endpoint, accounts, rooms and
// files.
func NewServer(opts ServerOptions) *Server {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = defaultTokenTTL
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = defaultMaxFileSize
	}
	if opts.JoinPath == "" {
		opts.JoinPath = "/join"
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:         e,
		hub:          opts.Hub,
		store:        opts.Store,
		blobs:        opts.Blobs,
		metrics:      opts.Hub.Metrics(),
		presence:     NewPresenceTracker(opts.Hub.now),
		authLimiter:  NewRateLimiter(authRateLimit, authRateWindow),
		eventLimiter: NewRateLimiter(rateLimitBurst, rateLimitWindow),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		joinPath:    opts.JoinPath,
		tokenTTL:    opts.TokenTTL,
		maxFileSize: opts.MaxFileSize,
		requireAuth: opts.RequireAuth,
	}
	s.registerRoutes()
	return s
}

// Echo exposes the underlying echo instance for serving and tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Hub returns the room registry behind the server.
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) registerRoutes() {
	s.echo.GET(s.joinPath, s.ServeWS)
	s.echo.POST("/signup", s.HandleSignup)
	s.echo.POST("/login", s.HandleLogin)
	s.echo.POST("/logout", s.HandleLogout)
	s.echo.GET("/rooms", s.HandleRooms)
	s.echo.POST("/rooms", s.HandleCreateRoom)
	s.echo.GET("/rooms/:room/files", s.HandleRoomFiles)
	s.echo.GET("/presence/:user", s.HandlePresence)
	s.echo.GET("/exists", s.HandleRoomExists)
	s.echo.GET("/archive/:room", s.HandleArchive)
	s.echo.POST("/upload", s.HandleFileUpload)
	s.echo.GET("/files/:id", s.HandleFileDownload)
	s.echo.GET("/health", s.HandleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(s.metrics))
}

// ServeWS upgrades the request and attaches the connection to the hub.
func (s *Server) ServeWS(c echo.Context) error {
	var (
		userID   int64
		username string
	)
	authCtx, err := s.authenticateRequest(c.Request())
	switch {
	case err == nil:
		userID, username = authCtx.UserID, authCtx.Username
	case errors.Is(err, errUnauthorized):
		if s.requireAuth {
			return writeError(c, http.StatusUnauthorized, errors.New("login required"))
		}
	default:
		return writeError(c, http.StatusInternalServerError, err)
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return fmt.Errorf("upgrade websocket: %w", err)
	}
	client := newClient(conn, userID, username)
	if username != "" {
		s.presence.Connected(username)
	}
	s.hub.Register(client)

	go client.writePump()
	go client.readPump(s)
	return nil
}

// readLimit leaves room for a base64 encoded upload inside a JSON envelope.
func (s *Server) readLimit() int64 {
	limit := s.maxFileSize*4/3 + 4096
	if limit < maxMsgSize {
		return maxMsgSize
	}
	return limit
}

// authenticateRequest resolves the session token from the Authorization
// header or the token query parameter.
func (s *Server) authenticateRequest(r *http.Request) (*authContext, error) {
	token := bearerToken(r)
	if token == "" || s.store == nil {
		return nil, errUnauthorized
	}
	session, err := s.store.GetSession(r.Context(), token)
	if err != nil {
		return nil, err
	}
	if session == nil || time.Now().After(session.ExpiresAt) {
		return nil, errUnauthorized
	}
	user, err := s.store.GetUserByID(r.Context(), session.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errUnauthorized
	}
	return &authContext{UserID: user.ID, Username: user.Username, Token: token}, nil
}

func bearerToken(r *http.Request) string {
	if header := r.Header.Get(echo.HeaderAuthorization); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func (s *Server) clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// statusForError maps hub errors onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrRoomNotFound):
		return http.StatusNotFound
	case errors.Is(err, errUnauthorized):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
