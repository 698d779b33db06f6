package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
)

type (
	incomingMsg      Event
	errorMsg         error
	connectedMsg     struct{ conn *websocket.Conn }
	reconnectMsg     struct{}
	connectFailedMsg struct{ err error }
	readFailedMsg    struct {
		conn *websocket.Conn
		err  error
	}
	roomsMsg struct {
		rooms []RoomSummary
	}
	authResultMsg struct {
		username string
		token    string
		err      error
	}
	archiveMsg struct {
		room     string
		messages []Message
		err      error
	}
	noticeMsg string
)

func (model *TUIModel) scheduleReconnect() tea.Cmd {
	const retryDelay = 2 * time.Second
	return tea.Tick(retryDelay, func(time.Time) tea.Msg {
		return reconnectMsg{}
	})
}

// authCmd signs up first when asked to, then logs in and persists the token.
func (model *TUIModel) authCmd(intent authIntent, username, password string) tea.Cmd {
	joinURL := model.serverJoinURL
	sessionPath := model.sessionPath
	return func() tea.Msg {
		base, err := httpBaseFromJoinURL(joinURL)
		if err != nil {
			return authResultMsg{err: err}
		}
		if intent == authIntentSignup {
			if err := apiSignup(base, username, password); err != nil {
				return authResultMsg{err: err}
			}
		}
		resp, err := apiLogin(base, username, password)
		if err != nil {
			return authResultMsg{err: err}
		}
		if sessionPath != "" {
			_ = saveSessionToDisk(sessionPath, sessionFile{Username: resp.Username, Token: resp.Token})
		}
		return authResultMsg{username: resp.Username, token: resp.Token}
	}
}

func (model *TUIModel) logoutCmd() tea.Cmd {
	joinURL, token, sessionPath := model.serverJoinURL, model.token, model.sessionPath
	return func() tea.Msg {
		if base, err := httpBaseFromJoinURL(joinURL); err == nil && token != "" {
			_ = apiLogout(base, token)
		}
		_ = deleteSessionFile(sessionPath)
		return noticeMsg("Logged out.")
	}
}

// connectCmd dials the websocket endpoint, passing the session token when
// there is one.
func (model *TUIModel) connectCmd() tea.Cmd {
	base, token := model.serverJoinURL, model.token
	return func() tea.Msg {
		joinURL, err := buildJoinURL(base, token)
		if err != nil {
			return connectFailedMsg{err: err}
		}
		conn, resp, err := websocket.DefaultDialer.Dial(joinURL, http.Header{})
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusUnauthorized {
				return connectFailedMsg{err: errUnauthorized}
			}
			return connectFailedMsg{err: err}
		}
		return connectedMsg{conn: conn}
	}
}

// readOnceCmd reads a single event from the current connection. Failures
// carry the connection so stale readers can be ignored.
func (model *TUIModel) readOnceCmd() tea.Cmd {
	conn, room := model.websocketConn, model.roomKey
	return func() tea.Msg {
		if conn == nil {
			return errorMsg(errors.New("websocket not connected"))
		}
		var (
			messageType int
			payload     []byte
			err         error
		)
		for messageType != websocket.TextMessage {
			messageType, payload, err = conn.ReadMessage()
			if err != nil {
				return readFailedMsg{conn: conn, err: err}
			}
		}
		var event Event
		if err := json.Unmarshal(payload, &event); err != nil {
			return incomingMsg(systemEvent(room, string(payload), time.Now()))
		}
		return incomingMsg(event)
	}
}

func (model *TUIModel) sendCmd(event Event) tea.Cmd {
	return func() tea.Msg {
		if err := model.writeEvent(event); err != nil {
			return errorMsg(err)
		}
		return nil
	}
}

func (model *TUIModel) writeEvent(event Event) error {
	if model.websocketConn == nil {
		return errors.New("websocket not connected")
	}
	encoded, err := json.Marshal(event)
	if err != nil {
		return err
	}
	model.writeMutex.Lock()
	defer model.writeMutex.Unlock()
	return model.websocketConn.WriteMessage(websocket.TextMessage, encoded)
}

// uploadCmd reads a local file and sends it into the open room.
func (model *TUIModel) uploadCmd(path string) tea.Cmd {
	room, username := model.roomKey, model.username
	return func() tea.Msg {
		path = expandHome(path)
		info, err := os.Stat(path)
		if err != nil {
			return noticeMsg(fmt.Sprintf("Cannot upload: %v", err))
		}
		if info.IsDir() {
			return noticeMsg(fmt.Sprintf("Cannot upload %s: it is a directory", path))
		}
		if info.Size() > defaultMaxFileSize {
			return noticeMsg(fmt.Sprintf("Cannot upload %s: %s is over the %s limit", filepath.Base(path), formatFileSize(info.Size()), formatFileSize(defaultMaxFileSize)))
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return noticeMsg(fmt.Sprintf("Cannot upload: %v", err))
		}
		err = model.writeEvent(Event{
			Type:         TypeUploadFile,
			Room:         room,
			Username:     username,
			OriginalName: filepath.Base(path),
			Data:         data,
		})
		if err != nil {
			return errorMsg(err)
		}
		return nil
	}
}

func (model *TUIModel) refreshRoomsCmd() tea.Cmd {
	joinURL := model.serverJoinURL
	return func() tea.Msg {
		base, err := httpBaseFromJoinURL(joinURL)
		if err != nil {
			return noticeMsg(err.Error())
		}
		resp, err := apiListRooms(base)
		if err != nil {
			return noticeMsg(fmt.Sprintf("Could not load rooms: %v", err))
		}
		return roomsMsg{rooms: resp.Rooms}
	}
}

func (model *TUIModel) archiveCmd(room string) tea.Cmd {
	joinURL := model.serverJoinURL
	return func() tea.Msg {
		base, err := httpBaseFromJoinURL(joinURL)
		if err != nil {
			return archiveMsg{room: room, err: err}
		}
		resp, err := apiGetArchive(base, room)
		return archiveMsg{room: room, messages: resp.Messages, err: err}
	}
}

func buildJoinURL(base, token string) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return "", fmt.Errorf("invalid scheme for websocket: %s", parsed.Scheme)
	}
	query := parsed.Query()
	if token != "" {
		query.Set("token", token)
	} else {
		query.Del("token")
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
