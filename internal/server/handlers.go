package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/valyala/fastjson"
	"go.uber.org/zap"

	"group-chat-service/internal/chat"
	"group-chat-service/internal/storage"
)

// TODO limit reading from body

type parsers struct {
	createRoomPool    fastjson.ParserPool
	roomsByUserPool   fastjson.ParserPool
	roomViewPool      fastjson.ParserPool
	leaveRoomPool     fastjson.ParserPool
	invitePool        fastjson.ParserPool
	candidatesPool    fastjson.ParserPool
	messagesSincePool fastjson.ParserPool
	deleteMessagePool fastjson.ParserPool
}

type handler struct {
	logger         *zap.SugaredLogger
	svc            *chat.Service
	maxUploadBytes int64
	parsers        parsers
}

// idField extracts a positive 64-bit integer field. The second return
// value is the client error message when extraction fails.
func idField(v *fastjson.Value, field string) (int64, string) {
	if !v.Exists(field) {
		return 0, "Missing Field \"" + field + "\""
	}

	n, err := v.Get(field).Int64()
	if err != nil {
		return 0, "Field \"" + field + "\" must be a 64-bit integer value"
	}

	if n < 1 {
		return 0, "Field \"" + field + "\" must be a valid id greater than zero"
	}

	return n, ""
}

// cursorField extracts a non-negative 64-bit integer field; zero means
// "everything from the beginning".
func cursorField(v *fastjson.Value, field string) (int64, string) {
	if !v.Exists(field) {
		return 0, "Missing Field \"" + field + "\""
	}

	n, err := v.Get(field).Int64()
	if err != nil {
		return 0, "Field \"" + field + "\" must be a 64-bit integer value"
	}

	if n < 0 {
		return 0, "Field \"" + field + "\" must not be negative"
	}

	return n, ""
}

func stringField(v *fastjson.Value, field string) (string, string) {
	if !v.Exists(field) {
		return "", "Missing Field \"" + field + "\""
	}

	value := v.Get(field)
	if value.Type() != fastjson.TypeString {
		return "", "Field \"" + field + "\" must be a string"
	}

	b, _ := value.StringBytes()
	if len(b) == 0 {
		return "", "Field \"" + field + "\" must have non-zero length"
	}

	return string(b), ""
}

func (h *handler) writeID(w http.ResponseWriter, id int64) {
	payload := []byte(`{"id":` + strconv.FormatInt(id, 10) + `}`)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if _, err := w.Write(payload); err != nil {
		h.logger.Errorf("writing marshaled data to ResponseWriter: %v", err)
	}
}

func (h *handler) writeJSON(w http.ResponseWriter, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		h.logger.Error(err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(payload); err != nil {
		h.logger.Errorf("writing marshaled data to ResponseWriter: %v", err)
	}
}

// writeError maps service errors onto HTTP statuses: validation to
// 400, authorization to 403, not-found to 404, anything else is logged
// and reported as 500.
func (h *handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrUsernameEmpty),
		errors.Is(err, chat.ErrRoomNameEmpty),
		errors.Is(err, chat.ErrEmptyMessage):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, storage.ErrUserExists):
		http.Error(w, "User already exists", http.StatusBadRequest)
	case errors.Is(err, chat.ErrNotMember), errors.Is(err, chat.ErrNotAuthor):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, chat.ErrUserNotFound),
		errors.Is(err, chat.ErrRoomNotFound),
		errors.Is(err, chat.ErrMessageNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		h.logger.Error(err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// createUser handles HTTP requests on the "/users/add" endpoint
func (h *handler) createUser(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	if !fastjson.Exists(body, "username") {
		http.Error(w, "Missing Field \"username\"", http.StatusBadRequest)
		return
	}

	username := fastjson.GetString(body, "username")
	if len(username) == 0 {
		http.Error(w, "Field \"username\" must be a string and have non-zero length", http.StatusBadRequest)
		return
	}

	id, err := h.svc.CreateUser(r.Context(), username)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeID(w, id)
}

// createRoom handles HTTP requests on the "/rooms/add" endpoint
func (h *handler) createRoom(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	parser := h.parsers.createRoomPool.Get()
	defer h.parsers.createRoomPool.Put(parser)
	v, _ := parser.ParseBytes(body)

	name, msg := stringField(v, "name")
	if msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	creator, msg := idField(v, "creator")
	if msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	id, err := h.svc.CreateRoom(r.Context(), creator, name)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeID(w, id)
}

// roomsByUser handles HTTP requests on the "/rooms/get" endpoint
func (h *handler) roomsByUser(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	parser := h.parsers.roomsByUserPool.Get()
	defer h.parsers.roomsByUserPool.Put(parser)
	v, _ := parser.ParseBytes(body)

	user, msg := idField(v, "user")
	if msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	rooms, err := h.svc.ListRooms(r.Context(), user)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, rooms)
}

// roomView handles HTTP requests on the "/rooms/view" endpoint
func (h *handler) roomView(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	parser := h.parsers.roomViewPool.Get()
	defer h.parsers.roomViewPool.Put(parser)
	v, _ := parser.ParseBytes(body)

	room, msg := idField(v, "room")
	if msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	user, msg := idField(v, "user")
	if msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	view, err := h.svc.Room(r.Context(), user, room)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, view)
}

// leaveRoom handles HTTP requests on the "/rooms/leave" endpoint
func (h *handler) leaveRoom(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	parser := h.parsers.leaveRoomPool.Get()
	defer h.parsers.leaveRoomPool.Put(parser)
	v, _ := parser.ParseBytes(body)

	room, msg := idField(v, "room")
	if msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	user, msg := idField(v, "user")
	if msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	if err := h.svc.Leave(r.Context(), user, room); err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// invite handles HTTP requests on the "/rooms/invite" endpoint
func (h *handler) invite(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	parser := h.parsers.invitePool.Get()
	defer h.parsers.invitePool.Put(parser)
	v, _ := parser.ParseBytes(body)

	room, msg := idField(v, "room")
	if msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	actor, msg := idField(v, "actor")
	if msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	if !v.Exists("users") {
		http.Error(w, "Missing Field \"users\"", http.StatusBadRequest)
		return
	}

	userValues, err := v.Get("users").Array()
	if err != nil {
		http.Error(w, "Field \"users\" must be an array", http.StatusBadRequest)
		return
	}

	userIDs := make([]int64, 0, len(userValues))
	for _, uv := range userValues {
		userID, err := uv.Int64()
		if err != nil {
			http.Error(w, "Each item in \"users\" array field must be a 64-bit integer value", http.StatusBadRequest)
			return
		}

		if userID < 1 {
			http.Error(w, "Each integer in \"users\" array must be a valid user id greater than zero", http.StatusBadRequest)
			return
		}
		userIDs = append(userIDs, userID)
	}

	if err := h.svc.Invite(r.Context(), actor, room, userIDs); err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// inviteCandidates handles HTTP requests on the "/rooms/candidates" endpoint
func (h *handler) inviteCandidates(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	parser := h.parsers.candidatesPool.Get()
	defer h.parsers.candidatesPool.Put(parser)
	v, _ := parser.ParseBytes(body)

	room, msg := idField(v, "room")
	if msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	actor, msg := idField(v, "actor")
	if msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	users, err := h.svc.InviteCandidates(r.Context(), actor, room)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, users)
}

// messagesSince handles HTTP requests on the "/messages/get" endpoint
func (h *handler) messagesSince(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	parser := h.parsers.messagesSincePool.Get()
	defer h.parsers.messagesSincePool.Put(parser)
	v, _ := parser.ParseBytes(body)

	room, msg := idField(v, "room")
	if msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	user, msg := idField(v, "user")
	if msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	last, msg := cursorField(v, "last")
	if msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	messages, err := h.svc.FetchSince(r.Context(), user, room, last)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, messages)
}

// sendMessage handles multipart HTTP requests on the "/messages/send"
// endpoint. Fields: room, user, text; attached files go under "files".
func (h *handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		http.Error(w, "Malformed multipart form", http.StatusBadRequest)
		return
	}

	room, msg := formID(r, "room")
	if msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	user, msg := formID(r, "user")
	if msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	var files []chat.Upload
	if r.MultipartForm != nil {
		for _, fh := range r.MultipartForm.File["files"] {
			f, err := fh.Open()
			if err != nil {
				h.logger.Errorf("opening multipart file %q: %v", fh.Filename, err)
				continue
			}
			defer f.Close()
			files = append(files, chat.Upload{Name: fh.Filename, Data: f})
		}
	}

	id, err := h.svc.Send(r.Context(), user, room, r.FormValue("text"), files)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeID(w, id)
}

// deleteMessage handles HTTP requests on the "/messages/delete" endpoint
func (h *handler) deleteMessage(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	parser := h.parsers.deleteMessagePool.Get()
	defer h.parsers.deleteMessagePool.Put(parser)
	v, _ := parser.ParseBytes(body)

	message, msg := idField(v, "message")
	if msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	actor, msg := idField(v, "actor")
	if msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	if err := h.svc.Delete(r.Context(), actor, message); err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func formID(r *http.Request, field string) (int64, string) {
	raw := r.FormValue(field)
	if raw == "" {
		return 0, "Missing Field \"" + field + "\""
	}

	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, "Field \"" + field + "\" must be a 64-bit integer value"
	}

	if n < 1 {
		return 0, "Field \"" + field + "\" must be a valid id greater than zero"
	}

	return n, ""
}
