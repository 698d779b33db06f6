package internal

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	appTitleStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).Padding(0, 1)
	subtitleStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("110")).MarginTop(1)
	menuBoxStyle       = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(1, 2).MarginTop(1)
	menuItemStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("255")).PaddingLeft(1)
	menuHotkeyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("213")).Bold(true)
	menuHintStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).MarginTop(1)
	noticeBoxStyle     = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("95")).Padding(1, 2).MarginTop(1)
	chatHeaderStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
	statusStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("109")).MarginTop(1)
	connectedStyle     = statusStyle.Copy().Foreground(lipgloss.Color("42")).Bold(true)
	connectingStyle    = statusStyle.Copy().Foreground(lipgloss.Color("178")).Italic(true)
	messageBodyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("253"))
	messageBoxStyle    = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("60")).Padding(1, 2).MarginTop(1)
	inputBoxStyle      = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1).MarginTop(1)
	timestampStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	usernameStyle      = lipgloss.NewStyle().Bold(true)
	activeUserStyle    = usernameStyle.Copy().Foreground(lipgloss.Color("213"))
	systemMessageStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Italic(true)
	errorStyle         = statusStyle.Copy().Foreground(lipgloss.Color("196")).Bold(true)
	dividerStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("237")).Render(" ┃ ")
	roomSelectedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("213")).Bold(true)
	roomItemStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	fileNameStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("81")).Underline(true)
	userColorPalette   = []lipgloss.Color{
		lipgloss.Color("45"),
		lipgloss.Color("81"),
		lipgloss.Color("141"),
		lipgloss.Color("98"),
		lipgloss.Color("63"),
		lipgloss.Color("135"),
		lipgloss.Color("32"),
	}
)

func (model *TUIModel) View() string {
	switch model.mode {
	case modeAuthMenu:
		return model.renderAuthMenuView()
	case modeAuthUsername, modeAuthPassword:
		return model.renderAuthPromptView()
	case modeRooms:
		return model.renderRoomsView()
	case modeRoomPrompt:
		return model.renderPrompt("Join a room", "Enter a room name. It is created if nobody is in it yet.")
	default:
		return model.renderChatView()
	}
}

func (model *TUIModel) renderAuthMenuView() string {
	title := appTitleStyle.Render("RoomChat")
	subtitle := subtitleStyle.Render("Rooms, files and history from your terminal")

	options := []string{
		renderMenuOption("1", "Log in"),
		renderMenuOption("2", "Sign up"),
		renderMenuOption("3", "Continue as guest"),
		renderMenuOption("q", "Quit"),
	}

	viewSections := []string{
		lipgloss.JoinVertical(lipgloss.Left, title, subtitle),
		menuBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, options...)),
	}

	if model.loading {
		viewSections = append(viewSections, connectingStyle.Render("Working…"))
	}

	if notices := model.renderSystemNotices(); notices != "" {
		viewSections = append(viewSections, notices)
	}

	viewSections = append(viewSections, menuHintStyle.Render("1) Log in  •  2) Sign up  •  3) Guest  •  q) Quit"))

	return lipgloss.JoinVertical(lipgloss.Left, viewSections...)
}

func (model *TUIModel) renderAuthPromptView() string {
	title := "Log in"
	switch model.authIntent {
	case authIntentSignup:
		title = "Create an account"
	case authIntentGuest:
		title = "Continue as guest"
	}
	hint := "Enter your username"
	if model.mode == modeAuthPassword {
		hint = "Enter your password"
	}

	return model.renderPrompt(title, hint)
}

func (model *TUIModel) renderPrompt(title, hint string) string {
	header := appTitleStyle.Render(title)
	hintText := menuHintStyle.Render(hint)

	viewSections := []string{header, hintText}

	if model.loading {
		viewSections = append(viewSections, connectingStyle.Render("Working…"))
	}

	if notices := model.renderSystemNotices(); notices != "" {
		viewSections = append(viewSections, notices)
	}

	viewSections = append(viewSections, inputBoxStyle.Render(model.textInput.View()))

	return lipgloss.JoinVertical(lipgloss.Left, viewSections...)
}

func (model *TUIModel) renderRoomsView() string {
	title := appTitleStyle.Render(fmt.Sprintf("Welcome, %s", model.username))
	occupants := 0
	for _, room := range model.rooms {
		occupants += room.Count
	}
	subtitle := subtitleStyle.Render(fmt.Sprintf("Rooms: %d  |  People chatting: %d", len(model.rooms), occupants))

	viewSections := []string{title, subtitle, model.renderStatusLine()}

	if notices := model.renderSystemNotices(); notices != "" {
		viewSections = append(viewSections, notices)
	}

	var roomLines []string
	if len(model.rooms) == 0 {
		roomLines = append(roomLines, menuHintStyle.Render("No rooms yet. Press N to start one."))
	} else {
		for idx, room := range model.rooms {
			line := fmt.Sprintf("%s (%d)", room.Name, room.Count)
			if idx == model.selectedRoom {
				roomLines = append(roomLines, roomSelectedStyle.Render("➤ "+line))
			} else {
				roomLines = append(roomLines, roomItemStyle.Render("  "+line))
			}
		}
	}
	viewSections = append(viewSections, menuBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, roomLines...)))

	hints := menuHintStyle.Render("↑/↓ select • Enter join • N new room • R refresh • L logout • Q quit")
	viewSections = append(viewSections, hints)

	return lipgloss.JoinVertical(lipgloss.Left, viewSections...)
}

func (model *TUIModel) renderStatusLine() string {
	switch {
	case model.connectionError != nil:
		return errorStyle.Render("Connection error: " + model.connectionError.Error())
	case model.isConnected:
		return connectedStyle.Render("Connected")
	default:
		return connectingStyle.Render("Connecting…")
	}
}

func (model *TUIModel) renderChatView() string {
	headerSegments := []string{"RoomChat"}
	if model.roomKey != "" {
		headerSegments = append(headerSegments, fmt.Sprintf("Room %s", model.roomKey))
	}
	headerSegments = append(headerSegments, fmt.Sprintf("User %s", model.username))
	headerSegments = append(headerSegments, fmt.Sprintf("Server %s", model.serverJoinURL))
	header := chatHeaderStyle.Render(strings.Join(headerSegments, dividerStyle))

	var messageLines []string
	for _, event := range model.messages {
		messageLines = append(messageLines, model.renderEvent(event))
	}
	if len(messageLines) == 0 {
		messageLines = append(messageLines, systemMessageStyle.Render("No messages yet. Say hi and start the conversation."))
	}

	messagesView := messageBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, messageLines...))
	inputView := inputBoxStyle.Render(model.textInput.View())
	footerHint := menuHintStyle.Render("Esc or /leave to return to rooms • /upload <path> • /help")

	return lipgloss.JoinVertical(lipgloss.Left, header, model.renderStatusLine(), messagesView, inputView, footerHint)
}

func renderMenuOption(hotkey string, label string) string {
	key := menuHotkeyStyle.Render(hotkey)
	return lipgloss.JoinHorizontal(lipgloss.Left, key, menuItemStyle.Render(label))
}

func (model *TUIModel) renderSystemNotices() string {
	if len(model.notices) == 0 {
		return ""
	}
	notices := make([]string, 0, len(model.notices))
	for _, notice := range model.notices {
		notices = append(notices, systemMessageStyle.Render(notice))
	}
	return noticeBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, notices...))
}

// renderEvent renders a single log line. Multi-line text is indented so it
// stays legible.
func (model *TUIModel) renderEvent(event Event) string {
	stamp := time.UnixMilli(event.Time)
	if event.Time == 0 {
		stamp = time.Now()
	}
	timestamp := timestampStyle.Render(fmt.Sprintf("[%s]", stamp.Format("15:04:05")))
	if event.Type == TypeSystemMessage || event.Username == systemUser {
		body := systemMessageStyle.Render(strings.ReplaceAll(event.Text, "\n", "\n   "))
		return lipgloss.JoinHorizontal(lipgloss.Left, timestamp, " ", body)
	}

	var nameStyle lipgloss.Style
	if event.Username == model.username {
		nameStyle = activeUserStyle
	} else {
		nameStyle = usernameStyle.Copy().Foreground(colorForUser(event.Username))
	}
	name := nameStyle.Render(event.Username)

	if event.Type == TypeFileMessage {
		details := fmt.Sprintf(" (%s, %s) %s", event.MimeType, formatFileSize(event.Size), model.downloadURL(event))
		return lipgloss.JoinHorizontal(lipgloss.Left, timestamp, " ", name, " shared ", fileNameStyle.Render(event.OriginalName), messageBodyStyle.Render(details))
	}

	bodyText := messageBodyStyle.Render(strings.ReplaceAll(event.Text, "\n", "\n   "))
	return lipgloss.JoinHorizontal(lipgloss.Left, timestamp, " ", name, ": ", bodyText)
}

func (model *TUIModel) downloadURL(event Event) string {
	base, err := httpBaseFromJoinURL(model.serverJoinURL)
	if err != nil {
		return event.FileID
	}
	return base + "/files/" + url.PathEscape(event.FileID) + "?room=" + url.QueryEscape(event.Room)
}

// color for users
func colorForUser(name string) lipgloss.Color {
	if len(userColorPalette) == 0 {
		return lipgloss.Color("249")
	}
	if name == "" {
		return userColorPalette[0]
	}
	var sum int
	for _, r := range name {
		sum += int(r)
	}
	return userColorPalette[sum%len(userColorPalette)]
}
