package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/valyala/fastjson"
	"go.uber.org/zap"

	"group-chat-service/internal/chat"
	"group-chat-service/internal/chat/chattest"
	"group-chat-service/internal/content"
	mytesting "group-chat-service/internal/testing"
)

func bootstrapHandler(t *testing.T) *handler {
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	registry, err := content.NewRegistry(chattest.Kinds())
	require.NoError(t, err)

	svc := chat.NewService(logger.Sugar(), chattest.NewStore(), registry, chattest.NewFiles())

	return &handler{
		logger:         logger.Sugar(),
		svc:            svc,
		maxUploadBytes: 32 << 20,
	}
}

func (h *handler) seedUser(t *testing.T, name string) int64 {
	id, err := h.svc.CreateUser(context.Background(), name)
	require.NoError(t, err)
	return id
}

func (h *handler) seedRoom(t *testing.T, creator int64) int64 {
	id, err := h.svc.CreateRoom(context.Background(), creator, mytesting.RandString())
	require.NoError(t, err)
	return id
}

func statusOkHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestEnforcePostJson(t *testing.T) {
	t.Parallel()

	payload := bytes.NewBuffer([]byte(`{"username":"` + mytesting.RandString() + `"}`))
	req, err := http.NewRequest("POST", "/", payload)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	handler := enforcePostJson(http.HandlerFunc(statusOkHandler))

	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
}

func TestEnforcePostJsonNotPost(t *testing.T) {
	t.Parallel()

	payload := bytes.NewBuffer([]byte(`{"username":"` + mytesting.RandString() + `"}`))
	req, err := http.NewRequest("GET", "/", payload)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	handler := enforcePostJson(http.HandlerFunc(statusOkHandler))

	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	require.Equal(t, http.StatusText(http.StatusMethodNotAllowed)+"\n", rr.Body.String())
}

func TestEnforcePostJsonMalformedContentType(t *testing.T) {
	t.Parallel()

	payload := bytes.NewBuffer([]byte(`{"username":"` + mytesting.RandString() + `"}`))
	req, err := http.NewRequest("POST", "/", payload)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "1:2\n+/-")

	rr := httptest.NewRecorder()
	handler := enforcePostJson(http.HandlerFunc(statusOkHandler))

	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "Malformed Content-Type header\n", rr.Body.String())
}

func TestEnforcePostJsonUnsupportedContentType(t *testing.T) {
	t.Parallel()

	payload := bytes.NewBuffer([]byte(`{"username":"` + mytesting.RandString() + `"}`))
	req, err := http.NewRequest("POST", "/", payload)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "text/plain")

	rr := httptest.NewRecorder()
	handler := enforcePostJson(http.HandlerFunc(statusOkHandler))

	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusUnsupportedMediaType, rr.Code)
	require.Equal(t, "Content-Type header must be application/json\n", rr.Body.String())
}

func TestEnforcePostJsonMalformedJSON(t *testing.T) {
	t.Parallel()

	// missing opening quotation mark after colon
	payload := bytes.NewBuffer([]byte(`{"username":` + mytesting.RandString() + `"}`))
	req, err := http.NewRequest("POST", "/", payload)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	handler := enforcePostJson(http.HandlerFunc(statusOkHandler))

	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "Malformed JSON\n", rr.Body.String())
}

func TestEnforcePostNotPost(t *testing.T) {
	t.Parallel()

	req, err := http.NewRequest("GET", "/messages/send", nil)
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	handler := enforcePost(http.HandlerFunc(statusOkHandler))

	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func postJSON(t *testing.T, h http.HandlerFunc, path, body string) *httptest.ResponseRecorder {
	req, err := http.NewRequest("POST", path, bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	http.HandlerFunc(h).ServeHTTP(rr, req)
	return rr
}

func parseID(t *testing.T, body []byte) int64 {
	var p fastjson.Parser
	v, err := p.ParseBytes(body)
	require.NoError(t, err)
	id, err := v.Get("id").Int64()
	require.NoError(t, err)
	return id
}

func TestCreateUserHandler(t *testing.T) {
	t.Parallel()

	h := bootstrapHandler(t)

	rr := postJSON(t, h.createUser, "/users/add", `{"username":"`+mytesting.RandString()+`"}`)

	require.Equal(t, http.StatusCreated, rr.Code)
	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	require.Greater(t, parseID(t, body), int64(0))
}

func TestCreateUserHandlerBlankUsername(t *testing.T) {
	t.Parallel()

	h := bootstrapHandler(t)

	rr := postJSON(t, h.createUser, "/users/add", `{"username":""}`)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "Field \"username\" must be a string and have non-zero length\n", rr.Body.String())
}

func TestCreateRoomHandler(t *testing.T) {
	t.Parallel()

	h := bootstrapHandler(t)
	alice := h.seedUser(t, "alice")

	rr := postJSON(t, h.createRoom, "/rooms/add",
		`{"name":"general","creator":`+strconv.FormatInt(alice, 10)+`}`)

	require.Equal(t, http.StatusCreated, rr.Code)

	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	require.Greater(t, parseID(t, body), int64(0))
}

func TestCreateRoomHandlerMissingName(t *testing.T) {
	t.Parallel()

	h := bootstrapHandler(t)

	rr := postJSON(t, h.createRoom, "/rooms/add", `{"creator":1}`)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "Missing Field \"name\"\n", rr.Body.String())
}

func TestRoomsByUserHandler(t *testing.T) {
	t.Parallel()

	h := bootstrapHandler(t)
	alice := h.seedUser(t, "alice")
	room := h.seedRoom(t, alice)

	rr := postJSON(t, h.roomsByUser, "/rooms/get", `{"user":`+strconv.FormatInt(alice, 10)+`}`)

	require.Equal(t, http.StatusOK, rr.Code)

	var rooms []struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rooms))
	require.Len(t, rooms, 1)
	require.Equal(t, room, rooms[0].ID)
}

func TestMessagesSinceHandlerNonMember(t *testing.T) {
	t.Parallel()

	h := bootstrapHandler(t)
	alice := h.seedUser(t, "alice")
	bob := h.seedUser(t, "bob")
	room := h.seedRoom(t, alice)

	rr := postJSON(t, h.messagesSince, "/messages/get",
		`{"room":`+strconv.FormatInt(room, 10)+`,"user":`+strconv.FormatInt(bob, 10)+`,"last":0}`)

	require.Equal(t, http.StatusForbidden, rr.Code)
}

func TestInviteHandler(t *testing.T) {
	t.Parallel()

	h := bootstrapHandler(t)
	alice := h.seedUser(t, "alice")
	bob := h.seedUser(t, "bob")
	room := h.seedRoom(t, alice)

	rr := postJSON(t, h.invite, "/rooms/invite",
		`{"room":`+strconv.FormatInt(room, 10)+`,"actor":`+strconv.FormatInt(alice, 10)+`,"users":[`+strconv.FormatInt(bob, 10)+`]}`)

	require.Equal(t, http.StatusNoContent, rr.Code)
}

func TestSendMessageHandlerMultipart(t *testing.T) {
	t.Parallel()

	h := bootstrapHandler(t)
	alice := h.seedUser(t, "alice")
	room := h.seedRoom(t, alice)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("room", strconv.FormatInt(room, 10)))
	require.NoError(t, mw.WriteField("user", strconv.FormatInt(alice, 10)))
	require.NoError(t, mw.WriteField("text", "see the photo"))

	fw, err := mw.CreateFormFile("files", "holiday pic.png")
	require.NoError(t, err)
	_, err = fw.Write([]byte("png bytes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest("POST", "/messages/send", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	rr := httptest.NewRecorder()
	http.HandlerFunc(h.sendMessage).ServeHTTP(rr, req)

	require.Equal(t, http.StatusCreated, rr.Code)

	// the message comes back with both content items
	rr = postJSON(t, h.messagesSince, "/messages/get",
		`{"room":`+strconv.FormatInt(room, 10)+`,"user":`+strconv.FormatInt(alice, 10)+`,"last":0}`)
	require.Equal(t, http.StatusOK, rr.Code)

	var messages []struct {
		Username string `json:"username"`
		Contents []struct {
			Kind    string `json:"kind"`
			Content string `json:"content"`
		} `json:"contents"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &messages))
	require.Len(t, messages, 1)
	require.Equal(t, "alice", messages[0].Username)
	require.Len(t, messages[0].Contents, 2)
	require.Equal(t, "text", messages[0].Contents[0].Kind)
	require.Equal(t, "image", messages[0].Contents[1].Kind)
	require.Equal(t, "holiday-pic.png", messages[0].Contents[1].Content)
}

func TestSendMessageHandlerEmpty(t *testing.T) {
	t.Parallel()

	h := bootstrapHandler(t)
	alice := h.seedUser(t, "alice")
	room := h.seedRoom(t, alice)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("room", strconv.FormatInt(room, 10)))
	require.NoError(t, mw.WriteField("user", strconv.FormatInt(alice, 10)))
	require.NoError(t, mw.Close())

	req, err := http.NewRequest("POST", "/messages/send", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	rr := httptest.NewRecorder()
	http.HandlerFunc(h.sendMessage).ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestDeleteMessageHandlerForbidden(t *testing.T) {
	t.Parallel()

	h := bootstrapHandler(t)
	alice := h.seedUser(t, "alice")
	bob := h.seedUser(t, "bob")
	room := h.seedRoom(t, alice)
	require.NoError(t, h.svc.Invite(context.Background(), alice, room, []int64{bob}))

	id, err := h.svc.Send(context.Background(), alice, room, "mine", nil)
	require.NoError(t, err)

	rr := postJSON(t, h.deleteMessage, "/messages/delete",
		`{"message":`+strconv.FormatInt(id, 10)+`,"actor":`+strconv.FormatInt(bob, 10)+`}`)

	require.Equal(t, http.StatusForbidden, rr.Code)
}

func TestDeleteMessageHandler(t *testing.T) {
	t.Parallel()

	h := bootstrapHandler(t)
	alice := h.seedUser(t, "alice")
	room := h.seedRoom(t, alice)

	id, err := h.svc.Send(context.Background(), alice, room, "mine", nil)
	require.NoError(t, err)

	rr := postJSON(t, h.deleteMessage, "/messages/delete",
		`{"message":`+strconv.FormatInt(id, 10)+`,"actor":`+strconv.FormatInt(alice, 10)+`}`)

	require.Equal(t, http.StatusNoContent, rr.Code)
}
