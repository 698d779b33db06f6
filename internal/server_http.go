package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"roomchat/internal/storage"
)

type signupRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expires_at"`
}

type roomsResponse struct {
	Rooms    []RoomSummary `json:"rooms"`
	Archived []string      `json:"archived"`
}

type archiveResponse struct {
	Room     string    `json:"room"`
	Messages []Message `json:"messages"`
}

type createRoomRequest struct {
	Name string `json:"name"`
}

type filesResponse struct {
	Room  string       `json:"room"`
	Files []FileRecord `json:"files"`
}

type healthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Connections int    `json:"connections"`
	Rooms       int    `json:"rooms"`
	UsersOnline int    `json:"users_online"`
}

func (s *Server) HandleSignup(c echo.Context) error {
	r := c.Request()
	if !s.authLimiter.Allow(s.clientIP(r)) {
		return writeError(c, http.StatusTooManyRequests, errors.New(http.StatusText(http.StatusTooManyRequests)))
	}
	if s.store == nil {
		return writeError(c, http.StatusServiceUnavailable, errors.New("accounts are not enabled"))
	}
	var req signupRequest
	if err := decodeJSON(r, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	username := strings.TrimSpace(req.Username)
	password := strings.TrimSpace(req.Password)
	if username == "" || password == "" {
		return writeError(c, http.StatusBadRequest, errors.New("username and password are required"))
	}
	if _, err := s.store.RegisterUser(r.Context(), username, password); err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			return writeError(c, http.StatusConflict, errors.New("username already taken"))
		}
		return writeError(c, http.StatusInternalServerError, err)
	}
	s.metrics.IncSignup()
	return c.JSON(http.StatusCreated, map[string]string{"username": username})
}

func (s *Server) HandleLogin(c echo.Context) error {
	r := c.Request()
	if !s.authLimiter.Allow(s.clientIP(r)) {
		return writeError(c, http.StatusTooManyRequests, errors.New(http.StatusText(http.StatusTooManyRequests)))
	}
	if s.store == nil {
		return writeError(c, http.StatusServiceUnavailable, errors.New("accounts are not enabled"))
	}
	var req signupRequest
	if err := decodeJSON(r, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	username := strings.TrimSpace(req.Username)
	password := strings.TrimSpace(req.Password)
	if username == "" || password == "" {
		return writeError(c, http.StatusBadRequest, errors.New("username and password are required"))
	}
	user, err := s.store.Authenticate(r.Context(), username, password)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidCredentials) {
			return writeError(c, http.StatusUnauthorized, err)
		}
		return writeError(c, http.StatusInternalServerError, err)
	}

	token := uuid.NewString()
	expiresAt := time.Now().Add(s.tokenTTL)
	if err := s.store.CreateSession(r.Context(), user.ID, token, expiresAt); err != nil {
		return writeError(c, http.StatusInternalServerError, err)
	}
	s.metrics.IncLogin()
	return c.JSON(http.StatusOK, loginResponse{Token: token, Username: user.Username, ExpiresAt: expiresAt})
}

func (s *Server) HandleLogout(c echo.Context) error {
	authCtx, err := s.authenticateRequest(c.Request())
	if err != nil {
		return writeError(c, statusForError(err), err)
	}
	if err := s.store.DeleteSession(c.Request().Context(), authCtx.Token); err != nil {
		return writeError(c, http.StatusInternalServerError, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) HandleRooms(c echo.Context) error {
	return c.JSON(http.StatusOK, roomsResponse{
		Rooms:    s.hub.ListRooms(),
		Archived: s.hub.ArchivedRooms(),
	})
}

// HandleCreateRoom creates an empty live room. An existing room answers 200.
func (s *Server) HandleCreateRoom(c echo.Context) error {
	if s.requireAuth {
		if _, err := s.authenticateRequest(c.Request()); err != nil {
			return writeError(c, statusForError(err), err)
		}
	}
	var req createRoomRequest
	if err := decodeJSON(c.Request(), &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	name := strings.TrimSpace(req.Name)
	status := http.StatusCreated
	if s.hub.Exists(name) {
		status = http.StatusOK
	}
	if err := s.hub.CreateRoom(c.Request().Context(), name); err != nil {
		return writeError(c, statusForError(err), err)
	}
	summary := RoomSummary{Name: name}
	for _, room := range s.hub.ListRooms() {
		if room.Name == name {
			summary = room
		}
	}
	return c.JSON(status, summary)
}

func (s *Server) HandleRoomFiles(c echo.Context) error {
	room := strings.TrimSpace(c.Param("room"))
	files, ok := s.hub.Files(room)
	if !ok {
		return writeError(c, http.StatusNotFound, fmt.Errorf("%w: %s", ErrRoomNotFound, room))
	}
	return c.JSON(http.StatusOK, filesResponse{Room: room, Files: files})
}

func (s *Server) HandlePresence(c echo.Context) error {
	return c.JSON(http.StatusOK, s.presence.Status(strings.TrimSpace(c.Param("user"))))
}

func (s *Server) HandleRoomExists(c echo.Context) error {
	room := strings.TrimSpace(c.QueryParam("room"))
	if room == "" {
		return c.String(http.StatusBadRequest, "missing room")
	}
	if s.hub.Exists(room) {
		return c.String(http.StatusOK, "ok")
	}
	return c.String(http.StatusNotFound, "not found")
}

func (s *Server) HandleArchive(c echo.Context) error {
	room := strings.TrimSpace(c.Param("room"))
	return c.JSON(http.StatusOK, archiveResponse{Room: room, Messages: s.hub.GetArchive(room)})
}

func (s *Server) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{
		Status:      "ok",
		Version:     Version,
		Connections: s.hub.ClientCount(),
		Rooms:       len(s.hub.ListRooms()),
		UsersOnline: s.presence.OnlineCount(),
	})
}

func decodeJSON(r *http.Request, out interface{}) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeError(c echo.Context, status int, err error) error {
	return c.JSON(status, map[string]string{"error": err.Error()})
}
