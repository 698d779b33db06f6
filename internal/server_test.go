package internal

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"roomchat/internal/blob"
	"roomchat/internal/storage"
)

type testServer struct {
	server *Server
	hub    *Hub
	http   *httptest.Server
}

func newTestServer(t *testing.T, requireAuth bool) *testServer {
	t.Helper()
	store, err := storage.NewStore(filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Migrate(t.Context()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	blobs, err := blob.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("blob.NewStore: %v", err)
	}
	hub := NewHub(HubConfig{Messages: store, Blobs: blobs, ArchiveSink: store})
	t.Cleanup(hub.Close)
	server := NewServer(ServerOptions{Hub: hub, Store: store, Blobs: blobs, RequireAuth: requireAuth})
	ts := httptest.NewServer(server.Echo())
	t.Cleanup(ts.Close)
	return &testServer{server: server, hub: hub, http: ts}
}

func (ts *testServer) wsURL(query string) string {
	u := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/join"
	if query != "" {
		u += "?" + query
	}
	return u
}

func (ts *testServer) postJSON(t *testing.T, path, token string, body interface{}) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, ts.http.URL+path, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (ts *testServer) login(t *testing.T, username, password string) string {
	t.Helper()
	creds := signupRequest{Username: username, Password: password}
	if resp := ts.postJSON(t, "/signup", "", creds); resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup status %d", resp.StatusCode)
	}
	resp := ts.postJSON(t, "/login", "", creds)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status %d", resp.StatusCode)
	}
	var out loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	return out.Token
}

func (ts *testServer) upload(t *testing.T, room, username, filename string, data []byte) *http.Response {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := writer.WriteField("room", room); err != nil {
		t.Fatal(err)
	}
	if err := writer.WriteField("username", username); err != nil {
		t.Fatal(err)
	}
	writer.Close()

	resp, err := http.Post(ts.http.URL+"/upload", writer.FormDataContentType(), body)
	if err != nil {
		t.Fatalf("POST /upload: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readUntil reads events until one of eventType arrives.
func readUntil(t *testing.T, conn *websocket.Conn, eventType string) Event {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var event Event
		if err := conn.ReadJSON(&event); err != nil {
			t.Fatalf("waiting for %s: %v", eventType, err)
		}
		if event.Type == eventType {
			return event
		}
	}
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, false)

	resp, err := http.Get(ts.http.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if resp.StatusCode != http.StatusOK || health.Status != "ok" || health.Version != Version {
		t.Fatalf("unexpected health: %d %+v", resp.StatusCode, health)
	}

	metricsResp, err := http.Get(ts.http.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer metricsResp.Body.Close()
	var counters map[string]any
	if err := json.NewDecoder(metricsResp.Body).Decode(&counters); err != nil {
		t.Fatalf("decode metrics: %v", err)
	}
	if _, ok := counters["messages_total"]; !ok {
		t.Fatalf("metrics missing messages_total: %v", counters)
	}
}

func TestSignupLoginLogout(t *testing.T) {
	ts := newTestServer(t, false)
	token := ts.login(t, "alice", "wonderland")
	if token == "" {
		t.Fatalf("empty token")
	}
	creds := signupRequest{Username: "alice", Password: "wonderland"}
	if resp := ts.postJSON(t, "/signup", "", creds); resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate signup status %d", resp.StatusCode)
	}
	if resp := ts.postJSON(t, "/login", "", signupRequest{Username: "alice", Password: "nope"}); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad password status %d", resp.StatusCode)
	}
	if resp := ts.postJSON(t, "/logout", token, nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout status %d", resp.StatusCode)
	}
	if resp := ts.postJSON(t, "/logout", token, nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("second logout status %d", resp.StatusCode)
	}
}

func TestWebsocketRoomFlow(t *testing.T) {
	ts := newTestServer(t, false)

	alice := dialWS(t, ts.wsURL(""))
	readUntil(t, alice, TypeRoomUpdate)
	if err := alice.WriteJSON(Event{Type: TypeJoinRoom, Room: "lobby", Username: "alice"}); err != nil {
		t.Fatalf("write join: %v", err)
	}
	if history := readUntil(t, alice, TypeChatHistory); history.Room != "lobby" {
		t.Fatalf("unexpected history: %+v", history)
	}

	bob := dialWS(t, ts.wsURL(""))
	if err := bob.WriteJSON(Event{Type: TypeJoinRoom, Room: "lobby", Username: "bob"}); err != nil {
		t.Fatalf("write join: %v", err)
	}
	readUntil(t, bob, TypeChatHistory)
	if notice := readUntil(t, alice, TypeSystemMessage); notice.Text != "bob joined the room" {
		t.Fatalf("unexpected notice: %+v", notice)
	}

	if err := bob.WriteJSON(Event{Type: TypeChatMessage, Text: "hello alice"}); err != nil {
		t.Fatalf("write chat: %v", err)
	}
	for _, conn := range []*websocket.Conn{alice, bob} {
		chat := readUntil(t, conn, TypeChatMessage)
		if chat.Username != "bob" || chat.Text != "hello alice" || chat.Time == 0 {
			t.Fatalf("unexpected chat: %+v", chat)
		}
	}

	if err := bob.WriteJSON(Event{Type: "shout"}); err != nil {
		t.Fatalf("write bogus: %v", err)
	}
	if errEvent := readUntil(t, bob, TypeError); !strings.Contains(errEvent.Error, "unknown event type") {
		t.Fatalf("unexpected error event: %+v", errEvent)
	}
}

func TestWebsocketUpload(t *testing.T) {
	ts := newTestServer(t, false)
	carol := dialWS(t, ts.wsURL(""))
	if err := carol.WriteJSON(Event{Type: TypeJoinRoom, Room: "r1", Username: "carol"}); err != nil {
		t.Fatalf("write join: %v", err)
	}
	readUntil(t, carol, TypeChatHistory)

	err := carol.WriteJSON(Event{Type: TypeUploadFile, OriginalName: "../../notes.txt", Data: []byte("meeting at noon")})
	if err != nil {
		t.Fatalf("write upload: %v", err)
	}
	file := readUntil(t, carol, TypeFileMessage)
	if file.OriginalName != "notes.txt" || file.Username != "carol" || file.FileID == "" || len(file.Data) != 0 {
		t.Fatalf("unexpected fileMessage: %+v", file)
	}
	if !strings.HasPrefix(file.MimeType, "text/plain") {
		t.Fatalf("mime type = %q", file.MimeType)
	}
}

func TestRequireAuthOnWebsocket(t *testing.T) {
	ts := newTestServer(t, true)

	_, resp, err := websocket.DefaultDialer.Dial(ts.wsURL(""), nil)
	if !errors.Is(err, websocket.ErrBadHandshake) || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 handshake failure, got err=%v resp=%v", err, resp)
	}

	token := ts.login(t, "dana", "secret")
	conn := dialWS(t, ts.wsURL("token="+token))
	if err := conn.WriteJSON(Event{Type: TypeJoinRoom, Room: "ops", Username: "impostor"}); err != nil {
		t.Fatalf("write join: %v", err)
	}
	readUntil(t, conn, TypeChatHistory)
	if err := conn.WriteJSON(Event{Type: TypeChatMessage, Text: "on call"}); err != nil {
		t.Fatalf("write chat: %v", err)
	}
	if chat := readUntil(t, conn, TypeChatMessage); chat.Username != "dana" {
		t.Fatalf("session name should win over the claimed one, got %q", chat.Username)
	}
}

func TestUploadAndDownloadOverHTTP(t *testing.T) {
	ts := newTestServer(t, false)
	if err := ts.hub.CreateRoom(t.Context(), "r1"); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	resp := ts.upload(t, "r1", "carol", "notes.txt", []byte("hello world"))
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("upload status %d: %s", resp.StatusCode, body)
	}
	var uploaded uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&uploaded); err != nil {
		t.Fatalf("decode upload: %v", err)
	}
	if uploaded.OriginalName != "notes.txt" || uploaded.Size != int64(len("hello world")) {
		t.Fatalf("unexpected upload response: %+v", uploaded)
	}

	download, err := http.Get(ts.http.URL + "/files/" + uploaded.FileID + "?room=r1")
	if err != nil {
		t.Fatalf("GET file: %v", err)
	}
	defer download.Body.Close()
	data, _ := io.ReadAll(download.Body)
	if download.StatusCode != http.StatusOK || string(data) != "hello world" {
		t.Fatalf("download returned %d %q", download.StatusCode, data)
	}
	if !strings.Contains(download.Header.Get("Content-Disposition"), "notes.txt") {
		t.Fatalf("missing filename in %q", download.Header.Get("Content-Disposition"))
	}

	missing, err := http.Get(ts.http.URL + "/files/" + uploaded.FileID + "?room=other")
	if err != nil {
		t.Fatalf("GET file: %v", err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("file from another room status %d", missing.StatusCode)
	}

	if resp := ts.upload(t, "nowhere", "carol", "a.txt", []byte("x")); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("upload to unknown room status %d", resp.StatusCode)
	}
}

func TestUploadQuotaOverHTTP(t *testing.T) {
	ts := newTestServer(t, false)
	if err := ts.hub.CreateRoom(t.Context(), "r1"); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	for i := 0; i < defaultDailyUploadLimit; i++ {
		if resp := ts.upload(t, "r1", "carol", "a.txt", []byte("x")); resp.StatusCode != http.StatusCreated {
			t.Fatalf("upload %d status %d", i, resp.StatusCode)
		}
	}
	if resp := ts.upload(t, "r1", "carol", "a.txt", []byte("x")); resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("upload over quota status %d", resp.StatusCode)
	}
}

func TestArchiveAndRoomEndpoints(t *testing.T) {
	ts := newTestServer(t, false)
	ctx := t.Context()
	client := newClient(nil, 0, "")
	ts.hub.Register(client)
	if err := ts.hub.Join(ctx, client, "alice", "lobby"); err != nil {
		t.Fatalf("join: %v", err)
	}
	ts.hub.PostMessage(client, "goodbye")

	exists, err := http.Get(ts.http.URL + "/exists?room=lobby")
	if err != nil {
		t.Fatalf("GET /exists: %v", err)
	}
	exists.Body.Close()
	if exists.StatusCode != http.StatusOK {
		t.Fatalf("exists status %d", exists.StatusCode)
	}

	ts.hub.ArchiveRoom(ctx, "lobby")

	var archive archiveResponse
	getJSON(t, ts.http.URL+"/archive/lobby", &archive)
	if archive.Room != "lobby" || len(archive.Messages) != 1 || archive.Messages[0].Text != "goodbye" {
		t.Fatalf("unexpected archive: %+v", archive)
	}
	var rooms roomsResponse
	getJSON(t, ts.http.URL+"/rooms", &rooms)
	if len(rooms.Rooms) != 0 || len(rooms.Archived) != 1 || rooms.Archived[0] != "lobby" {
		t.Fatalf("unexpected rooms: %+v", rooms)
	}

	gone, err := http.Get(ts.http.URL + "/exists?room=lobby")
	if err != nil {
		t.Fatalf("GET /exists: %v", err)
	}
	gone.Body.Close()
	if gone.StatusCode != http.StatusNotFound {
		t.Fatalf("exists after archive status %d", gone.StatusCode)
	}
}

func getJSON(t *testing.T, url string, out interface{}) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"report.pdf", "report.pdf"},
		{"../../etc/passwd", "passwd"},
		{`C:\Users\me\notes.txt`, "notes.txt"},
		{`say "hi".txt`, "say _hi_.txt"},
		{"..", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := sanitizeFilename(tt.in); got != tt.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCreateRoomAndListFiles(t *testing.T) {
	ts := newTestServer(t, false)

	resp := ts.postJSON(t, "/rooms", "", createRoomRequest{Name: " design "})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d", resp.StatusCode)
	}
	var created RoomSummary
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Name != "design" || !ts.hub.Exists("design") {
		t.Fatalf("room not created: %+v", created)
	}
	if resp := ts.postJSON(t, "/rooms", "", createRoomRequest{Name: "design"}); resp.StatusCode != http.StatusOK {
		t.Fatalf("second create status %d", resp.StatusCode)
	}
	if resp := ts.postJSON(t, "/rooms", "", createRoomRequest{Name: "  "}); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("blank name status %d", resp.StatusCode)
	}

	var empty filesResponse
	getJSON(t, ts.http.URL+"/rooms/design/files", &empty)
	if empty.Room != "design" || empty.Files == nil || len(empty.Files) != 0 {
		t.Fatalf("unexpected empty listing: %+v", empty)
	}
	for _, name := range []string{"a.txt", "b.txt"} {
		if resp := ts.upload(t, "design", "erin", name, []byte("data")); resp.StatusCode != http.StatusCreated {
			t.Fatalf("upload %s status %d", name, resp.StatusCode)
		}
	}
	var listing filesResponse
	getJSON(t, ts.http.URL+"/rooms/design/files", &listing)
	if len(listing.Files) != 2 || listing.Files[0].OriginalName != "a.txt" || listing.Files[1].Uploader != "erin" {
		t.Fatalf("unexpected listing: %+v", listing)
	}

	missing, err := http.Get(ts.http.URL + "/rooms/nowhere/files")
	if err != nil {
		t.Fatalf("GET files: %v", err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown room files status %d", missing.StatusCode)
	}
}

func TestCreateRoomRequiresLoginWhenAuthRequired(t *testing.T) {
	ts := newTestServer(t, true)
	if resp := ts.postJSON(t, "/rooms", "", createRoomRequest{Name: "ops"}); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous create status %d", resp.StatusCode)
	}
	token := ts.login(t, "frank", "secret")
	if resp := ts.postJSON(t, "/rooms", token, createRoomRequest{Name: "ops"}); resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d", resp.StatusCode)
	}
}

func TestPresenceEndpoint(t *testing.T) {
	ts := newTestServer(t, false)
	token := ts.login(t, "gina", "secret")

	conn := dialWS(t, ts.wsURL("token="+token))
	readUntil(t, conn, TypeRoomUpdate)
	var status PresenceStatus
	getJSON(t, ts.http.URL+"/presence/gina", &status)
	if !status.Online || status.Connections != 1 {
		t.Fatalf("gina should be online: %+v", status)
	}

	_ = conn.Close()
	deadline := time.Now().Add(3 * time.Second)
	for {
		getJSON(t, ts.http.URL+"/presence/gina", &status)
		if !status.Online {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("gina still online after disconnect: %+v", status)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if status.LastSeen == nil {
		t.Fatalf("expected a last-seen time: %+v", status)
	}
}

func TestOversizedChatTextIsRejected(t *testing.T) {
	ts := newTestServer(t, false)
	conn := dialWS(t, ts.wsURL(""))
	if err := conn.WriteJSON(Event{Type: TypeJoinRoom, Room: "lobby", Username: "hank"}); err != nil {
		t.Fatalf("write join: %v", err)
	}
	readUntil(t, conn, TypeChatHistory)

	if err := conn.WriteJSON(Event{Type: TypeChatMessage, Text: strings.Repeat("x", maxMsgSize+1)}); err != nil {
		t.Fatalf("write chat: %v", err)
	}
	if errEvent := readUntil(t, conn, TypeError); !strings.Contains(errEvent.Error, "exceeds") {
		t.Fatalf("unexpected error event: %+v", errEvent)
	}
	if err := conn.WriteJSON(Event{Type: TypeChatMessage, Text: strings.Repeat("y", maxMsgSize)}); err != nil {
		t.Fatalf("write chat: %v", err)
	}
	if chat := readUntil(t, conn, TypeChatMessage); len(chat.Text) != maxMsgSize {
		t.Fatalf("chat at the limit should pass, got %d bytes", len(chat.Text))
	}
	if got := ts.hub.Metrics().Snapshot()["messages_total"]; got != uint64(1) {
		t.Fatalf("messages_total = %v, want 1", got)
	}
}

func TestEmptyListsAreSentAsArrays(t *testing.T) {
	ts := newTestServer(t, false)
	conn := dialWS(t, ts.wsURL(""))
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	_, first, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read roomUpdate: %v", err)
	}
	if !strings.Contains(string(first), `"type":"roomUpdate"`) || !strings.Contains(string(first), `"rooms":[]`) {
		t.Fatalf("roomUpdate without rooms array: %s", first)
	}

	if err := conn.WriteJSON(Event{Type: TypeJoinRoom, Room: "fresh", Username: "ivy"}); err != nil {
		t.Fatalf("write join: %v", err)
	}
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read history: %v", err)
		}
		if strings.Contains(string(payload), `"type":"chatHistory"`) {
			if !strings.Contains(string(payload), `"messages":[]`) {
				t.Fatalf("chatHistory without messages array: %s", payload)
			}
			return
		}
	}
}
