package internal

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
)

const (
	maxChatLines   = 500
	listingEntries = 20
)

func (model *TUIModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch typedMessage := message.(type) {
	case tea.KeyMsg:
		if typedMessage.Type == tea.KeyCtrlC {
			model.closeConnection("client quit")
			return model, tea.Quit
		}
		switch model.mode {
		case modeAuthMenu:
			return model.updateAuthMenu(typedMessage)
		case modeAuthUsername, modeAuthPassword:
			return model.updateAuthPrompt(typedMessage)
		case modeRooms:
			return model.updateRooms(typedMessage)
		case modeRoomPrompt:
			return model.updateRoomPrompt(typedMessage)
		case modeChat:
			return model.updateChat(typedMessage)
		}

	case authResultMsg:
		model.loading = false
		if typedMessage.err != nil {
			if errors.Is(typedMessage.err, errUnauthorized) {
				model.addNotice("Invalid username or password.")
			} else {
				model.addNotice(fmt.Sprintf("Authentication failed: %v", typedMessage.err))
			}
			model.mode = modeAuthMenu
			return model, nil
		}
		model.username = typedMessage.username
		model.token = typedMessage.token
		model.mode = modeRooms
		return model, model.connectCmd()

	case connectedMsg:
		if model.mode < modeRooms {
			_ = typedMessage.conn.Close()
			return model, nil
		}
		model.websocketConn = typedMessage.conn
		model.isConnected = true
		model.connectionError = nil
		cmds := []tea.Cmd{model.readOnceCmd()}
		if model.pendingRoom != "" {
			room := model.pendingRoom
			model.pendingRoom = ""
			cmds = append(cmds, model.joinRoom(room))
		}
		return model, tea.Batch(cmds...)

	case connectFailedMsg:
		model.isConnected = false
		if errors.Is(typedMessage.err, errUnauthorized) {
			model.token = ""
			_ = deleteSessionFile(model.sessionPath)
			model.mode = modeAuthMenu
			model.addNotice("Your session expired. Log in again.")
			return model, nil
		}
		model.connectionError = typedMessage.err
		return model, model.scheduleReconnect()

	case reconnectMsg:
		if !model.isConnected && model.mode >= modeRooms {
			return model, model.connectCmd()
		}
		return model, nil

	case readFailedMsg:
		if typedMessage.conn != model.websocketConn || model.mode < modeRooms {
			return model, nil
		}
		_ = model.websocketConn.Close()
		model.websocketConn = nil
		model.isConnected = false
		model.connectionError = typedMessage.err
		if model.roomKey != "" {
			model.pendingRoom = model.roomKey
		}
		return model, model.scheduleReconnect()

	case errorMsg:
		model.connectionError = typedMessage
		return model, nil

	case incomingMsg:
		model.applyEvent(Event(typedMessage))
		return model, model.readOnceCmd()

	case roomsMsg:
		model.setRooms(typedMessage.rooms)
		return model, nil

	case archiveMsg:
		model.showArchive(typedMessage)
		return model, nil

	case noticeMsg:
		model.showNotice(string(typedMessage))
		return model, nil
	}
	return model, nil
}

func (model *TUIModel) updateAuthMenu(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	if model.loading {
		return model, nil
	}
	switch key.String() {
	case "1", "l", "L":
		model.authIntent = authIntentLogin
	case "2", "s", "S":
		model.authIntent = authIntentSignup
	case "3", "g", "G":
		model.authIntent = authIntentGuest
	case "q", "Q", "esc":
		return model, tea.Quit
	default:
		return model, nil
	}
	model.mode = modeAuthUsername
	focusCmd := model.setPrompt("user> ", "Enter username…")
	model.textInput.SetValue(model.username)
	return model, focusCmd
}

func (model *TUIModel) updateAuthPrompt(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.Type {
	case tea.KeyEsc:
		model.clearPrompt()
		model.mode = modeAuthMenu
		return model, nil
	case tea.KeyEnter:
		value := strings.TrimSpace(model.textInput.Value())
		if model.mode == modeAuthUsername {
			if value == "" {
				model.addNotice("Username cannot be empty.")
				return model, nil
			}
			model.username = value
			if model.authIntent == authIntentGuest {
				model.clearPrompt()
				model.mode = modeRooms
				return model, model.connectCmd()
			}
			model.mode = modeAuthPassword
			focusCmd := model.setPrompt("pass> ", "Enter password…")
			model.textInput.EchoMode = textinput.EchoPassword
			return model, focusCmd
		}
		if value == "" {
			model.addNotice("Password cannot be empty.")
			return model, nil
		}
		model.clearPrompt()
		model.mode = modeAuthMenu
		model.loading = true
		return model, model.authCmd(model.authIntent, model.username, value)
	}
	var cmd tea.Cmd
	model.textInput, cmd = model.textInput.Update(key)
	return model, cmd
}

func (model *TUIModel) updateRooms(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.String() {
	case "up", "k":
		if model.selectedRoom > 0 {
			model.selectedRoom--
		}
	case "down", "j":
		if model.selectedRoom < len(model.rooms)-1 {
			model.selectedRoom++
		}
	case "enter":
		if len(model.rooms) > 0 {
			return model, model.joinRoom(model.rooms[model.selectedRoom].Name)
		}
	case "n", "N":
		model.mode = modeRoomPrompt
		return model, model.setPrompt("room> ", "Enter a room name…")
	case "r", "R":
		return model, model.refreshRoomsCmd()
	case "l", "L":
		model.closeConnection("logout")
		model.token = ""
		model.rooms = nil
		model.mode = modeAuthMenu
		return model, model.logoutCmd()
	case "q", "Q", "esc":
		model.closeConnection("client quit")
		return model, tea.Quit
	}
	return model, nil
}

func (model *TUIModel) updateRoomPrompt(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.Type {
	case tea.KeyEsc:
		model.clearPrompt()
		model.mode = modeRooms
		return model, nil
	case tea.KeyEnter:
		name := strings.TrimSpace(model.textInput.Value())
		if name == "" {
			return model, nil
		}
		return model, model.joinRoom(name)
	}
	var cmd tea.Cmd
	model.textInput, cmd = model.textInput.Update(key)
	return model, cmd
}

func (model *TUIModel) updateChat(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.Type {
	case tea.KeyEsc:
		return model, model.leaveRoom()
	case tea.KeyEnter:
		trimmed := strings.TrimSpace(model.textInput.Value())
		model.textInput.SetValue("")
		if strings.HasPrefix(trimmed, "/") {
			return model, model.runCommand(trimmed)
		}
		if trimmed != "" && model.isConnected {
			return model, model.sendCmd(Event{Type: TypeChatMessage, Room: model.roomKey, Text: trimmed})
		}
		return model, nil
	}
	var cmd tea.Cmd
	model.textInput, cmd = model.textInput.Update(key)
	return model, cmd
}

// runCommand handles the slash commands available inside a room.
func (model *TUIModel) runCommand(line string) tea.Cmd {
	command, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(command) {
	case "/quit", "/exit":
		model.closeConnection("client quit")
		return tea.Quit
	case "/leave", "/rooms":
		return model.leaveRoom()
	case "/upload":
		if arg == "" {
			model.showNotice("Usage: /upload <path>")
			return nil
		}
		return model.uploadCmd(arg)
	case "/ls":
		model.showNotice(describeDirectory(arg, listingEntries))
		return nil
	case "/archive":
		if arg == "" {
			arg = model.roomKey
		}
		return model.archiveCmd(arg)
	case "/help":
		model.showNotice("Commands: /upload <path>  /ls [dir]  /archive [room]  /leave  /quit")
		return nil
	}
	model.showNotice(fmt.Sprintf("Unknown command %s. Try /help.", command))
	return nil
}

func (model *TUIModel) joinRoom(name string) tea.Cmd {
	model.roomKey = name
	model.messages = model.messages[:0]
	model.mode = modeChat
	focusCmd := model.setPrompt("> ", "Type a message…")
	if !model.isConnected {
		model.pendingRoom = name
		return focusCmd
	}
	return tea.Batch(focusCmd, model.sendCmd(Event{Type: TypeJoinRoom, Room: name, Username: model.username}))
}

func (model *TUIModel) leaveRoom() tea.Cmd {
	room := model.roomKey
	model.roomKey = ""
	model.pendingRoom = ""
	model.messages = model.messages[:0]
	model.clearPrompt()
	model.mode = modeRooms
	if room == "" || !model.isConnected {
		return nil
	}
	return model.sendCmd(Event{Type: TypeLeaveRoom, Room: room})
}

// applyEvent folds one server event into the model.
func (model *TUIModel) applyEvent(event Event) {
	switch event.Type {
	case TypeRoomUpdate:
		model.setRooms(event.Rooms)
	case TypeChatHistory:
		if event.Room != model.roomKey {
			return
		}
		model.messages = model.messages[:0]
		for _, msg := range event.Messages {
			model.appendLine(chatEvent(event.Room, msg))
		}
	case TypeError:
		model.showNotice("Error: " + event.Error)
	case TypeChatMessage, TypeFileMessage, TypeSystemMessage:
		if model.roomKey == "" || event.Room != model.roomKey {
			return
		}
		model.appendLine(event)
	}
}

func (model *TUIModel) setRooms(rooms []RoomSummary) {
	model.rooms = rooms
	if model.selectedRoom >= len(rooms) {
		model.selectedRoom = len(rooms) - 1
	}
	if model.selectedRoom < 0 {
		model.selectedRoom = 0
	}
}

func (model *TUIModel) appendLine(event Event) {
	model.messages = append(model.messages, event)
	if len(model.messages) > maxChatLines {
		model.messages = model.messages[len(model.messages)-maxChatLines:]
	}
}

func (model *TUIModel) showNotice(text string) {
	if model.mode == modeChat {
		model.appendLine(systemEvent(model.roomKey, text, time.Now()))
		return
	}
	model.addNotice(text)
}

func (model *TUIModel) showArchive(result archiveMsg) {
	if result.err != nil {
		model.showNotice(fmt.Sprintf("Could not load archive for %s: %v", result.room, result.err))
		return
	}
	if len(result.messages) == 0 {
		model.showNotice(fmt.Sprintf("No archive for %s.", result.room))
		return
	}
	model.showNotice(fmt.Sprintf("Archive of %s (%d messages):", result.room, len(result.messages)))
	if model.mode != modeChat {
		return
	}
	for _, msg := range result.messages {
		model.appendLine(chatEvent(model.roomKey, msg))
	}
}

func (model *TUIModel) closeConnection(reason string) {
	if model.websocketConn == nil {
		return
	}
	model.writeMutex.Lock()
	_ = model.websocketConn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
	model.writeMutex.Unlock()
	_ = model.websocketConn.Close()
	model.websocketConn = nil
	model.isConnected = false
}
