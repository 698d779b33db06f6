package internal

import (
	"os"
	"sync"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
)

// ClientOptions configures the terminal client.
type ClientOptions struct {
	ServerURL   string
	Username    string
	Password    string
	Room        string
	SessionPath string
}

// TUIModel holds the Bubble Tea state: auth prompts, the room list and the
// open room's log.
type TUIModel struct {
	textInput       textinput.Model
	messages        []Event
	notices         []string
	rooms           []RoomSummary
	selectedRoom    int
	serverJoinURL   string
	sessionPath     string
	token           string
	username        string
	pendingPassword string
	authIntent      authIntent
	roomKey         string
	pendingRoom     string
	websocketConn   *websocket.Conn
	writeMutex      sync.Mutex
	isConnected     bool
	connectionError error
	loading         bool
	mode            appMode
}

type appMode int

const (
	modeAuthMenu appMode = iota
	modeAuthUsername
	modeAuthPassword
	modeRooms
	modeRoomPrompt
	modeChat
)

type authIntent int

const (
	authIntentLogin authIntent = iota
	authIntentSignup
	authIntentGuest
)

func NewTUIModel(opts ClientOptions) *TUIModel {
	input := textinput.New()
	input.CharLimit = 0
	input.Prompt = ""

	model := &TUIModel{
		textInput:     input,
		messages:      make([]Event, 0, 64),
		serverJoinURL: opts.ServerURL,
		sessionPath:   opts.SessionPath,
		username:      opts.Username,
		pendingRoom:   opts.Room,
		mode:          modeAuthMenu,
	}
	if opts.Password != "" && opts.Username != "" {
		model.pendingPassword = opts.Password
		model.loading = true
		return model
	}
	if opts.SessionPath != "" {
		if session, err := loadSessionFromDisk(opts.SessionPath); err == nil {
			if opts.Username == "" || opts.Username == session.Username {
				model.username = session.Username
				model.token = session.Token
				model.mode = modeRooms
			}
		}
	}
	if model.username == "" {
		model.username = defaultUsername()
	}
	return model
}

func defaultUsername() string {
	if user := os.Getenv("ROOMCHAT_USER"); user != "" {
		return user
	}
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return ""
}

func (model *TUIModel) Init() tea.Cmd {
	switch {
	case model.pendingPassword != "":
		password := model.pendingPassword
		model.pendingPassword = ""
		return model.authCmd(authIntentLogin, model.username, password)
	case model.mode == modeRooms:
		return model.connectCmd()
	}
	return nil
}

// RunClient starts the terminal client and blocks until it exits.
func RunClient(opts ClientOptions) error {
	program := tea.NewProgram(NewTUIModel(opts))
	_, err := program.Run()
	return err
}

func (model *TUIModel) setPrompt(prompt, placeholder string) tea.Cmd {
	model.textInput.SetValue("")
	model.textInput.Prompt = prompt
	model.textInput.Placeholder = placeholder
	model.textInput.EchoMode = textinput.EchoNormal
	return model.textInput.Focus()
}

func (model *TUIModel) clearPrompt() {
	model.textInput.SetValue("")
	model.textInput.Prompt = ""
	model.textInput.Placeholder = ""
	model.textInput.EchoMode = textinput.EchoNormal
	model.textInput.Blur()
}

func (model *TUIModel) addNotice(text string) {
	model.notices = append(model.notices, text)
	if len(model.notices) > 5 {
		model.notices = model.notices[len(model.notices)-5:]
	}
}
