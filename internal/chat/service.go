// Package chat is the synchronization core: membership-gated room
// operations, message creation with mixed content and incremental
// retrieval by last-seen message id.
package chat

import (
	"context"
	"errors"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"group-chat-service/internal/content"
	"group-chat-service/internal/markup"
	"group-chat-service/internal/metrics"
	"group-chat-service/internal/storage"
	"group-chat-service/internal/upload"
)

// UnknownUser is the display name substituted when a message author
// cannot be resolved through the user directory.
const UnknownUser = "unknown user"

// Storage is the persistence surface the service needs. *storage.Store
// implements it.
type Storage interface {
	CreateUser(ctx context.Context, username string) (int64, error)
	NonMembers(ctx context.Context, room int64) ([]storage.User, error)
	UsernamesByIDs(ctx context.Context, ids []int64) (map[int64]string, error)

	CreateRoom(ctx context.Context, name string, creator int64) (int64, error)
	RoomByID(ctx context.Context, id int64) (storage.Room, error)
	RoomsByUserID(ctx context.Context, user int64) ([]storage.Room, error)
	IsMember(ctx context.Context, user, room int64) (bool, error)
	AddMembers(ctx context.Context, room int64, users []int64) error
	RemoveMember(ctx context.Context, room, user int64) error
	Members(ctx context.Context, room int64) ([]storage.User, error)

	CreateMessage(ctx context.Context, room int64, author *int64) (int64, error)
	AddContent(ctx context.Context, message int64, kind int16, payload string) (int64, error)
	AddContents(ctx context.Context, message int64, items []storage.NewContent) error
	MessagesSince(ctx context.Context, room, after int64) ([]storage.Message, error)
	ContentsByMessageIDs(ctx context.Context, ids []int64) ([]storage.ContentItem, error)
	MessageByID(ctx context.Context, id int64) (storage.Message, error)
	DeleteMessage(ctx context.Context, id int64) error
}

// FileStore persists uploaded files. *upload.Classifier implements it.
type FileStore interface {
	Save(filename string, r io.Reader) (upload.StoredFile, error)
}

// Upload is one file attached to a send.
type Upload struct {
	Name string
	Data io.Reader
}

// ContentView is one content item of a fetched message with its kind
// resolved to a display name. MIME is a playback hint present only for
// sound and video contents.
type ContentView struct {
	ID      int64   `json:"id"`
	Kind    string  `json:"kind"`
	Content string  `json:"content"`
	MIME    *string `json:"mime,omitempty"`
}

// MessageView is one fetched message with its author resolved to a
// display name.
type MessageView struct {
	ID       int64         `json:"id"`
	Username string        `json:"username"`
	AuthorID *int64        `json:"author_id"`
	Contents []ContentView `json:"contents"`
}

// RoomView is a room together with its member list.
type RoomView struct {
	ID      int64          `json:"id"`
	Name    string         `json:"name"`
	Members []storage.User `json:"members"`
}

// Service orchestrates membership checks, message creation and
// incremental fetches. All operations take the acting user id
// explicitly; there is no ambient session state.
type Service struct {
	logger *zap.SugaredLogger
	store  Storage
	kinds  *content.Registry
	files  FileStore
}

// NewService returns a Service wired to the given collaborators.
func NewService(logger *zap.SugaredLogger, store Storage, kinds *content.Registry, files FileStore) *Service {
	return &Service{
		logger: logger,
		store:  store,
		kinds:  kinds,
		files:  files,
	}
}

// CreateUser registers a user directory entry.
func (s *Service) CreateUser(ctx context.Context, username string) (int64, error) {
	if strings.TrimSpace(username) == "" {
		return 0, ErrUsernameEmpty
	}
	return s.store.CreateUser(ctx, username)
}

// CreateRoom creates a room and joins the creator to it.
func (s *Service) CreateRoom(ctx context.Context, creator int64, name string) (int64, error) {
	if strings.TrimSpace(name) == "" {
		return 0, ErrRoomNameEmpty
	}

	id, err := s.store.CreateRoom(ctx, name, creator)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotExist) {
			return 0, ErrUserNotFound
		}
		return 0, err
	}

	metrics.RoomsCreated.Inc()

	return id, nil
}

// ListRooms returns every room the user belongs to.
func (s *Service) ListRooms(ctx context.Context, user int64) ([]storage.Room, error) {
	rooms, err := s.store.RoomsByUserID(ctx, user)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotExist) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return rooms, nil
}

// Room returns the room and its member list. The actor must be a member.
func (s *Service) Room(ctx context.Context, actor, room int64) (RoomView, error) {
	if err := s.requireMember(ctx, actor, room); err != nil {
		return RoomView{}, err
	}

	r, err := s.store.RoomByID(ctx, room)
	if err != nil {
		if errors.Is(err, storage.ErrRoomNotExist) {
			return RoomView{}, ErrRoomNotFound
		}
		return RoomView{}, err
	}

	members, err := s.store.Members(ctx, room)
	if err != nil {
		return RoomView{}, err
	}

	return RoomView{ID: r.ID, Name: r.Name, Members: members}, nil
}

// Leave removes the actor's membership. Leaving a room the actor is
// not a member of is a no-op.
func (s *Service) Leave(ctx context.Context, actor, room int64) error {
	return s.store.RemoveMember(ctx, room, actor)
}

// Invite adds the target users to the room. The actor must be a
// member. Targets that are already members are silently skipped.
func (s *Service) Invite(ctx context.Context, actor, room int64, targets []int64) error {
	if err := s.requireMember(ctx, actor, room); err != nil {
		return err
	}

	if err := s.store.AddMembers(ctx, room, targets); err != nil {
		switch {
		case errors.Is(err, storage.ErrRoomNotExist):
			return ErrRoomNotFound
		case errors.Is(err, storage.ErrBadMembers):
			return ErrUserNotFound
		}
		return err
	}

	return nil
}

// InviteCandidates returns the users that are not yet members of the
// room, for the actor to pick invite targets from.
func (s *Service) InviteCandidates(ctx context.Context, actor, room int64) ([]storage.User, error) {
	if err := s.requireMember(ctx, actor, room); err != nil {
		return nil, err
	}

	users, err := s.store.NonMembers(ctx, room)
	if err != nil {
		if errors.Is(err, storage.ErrRoomNotExist) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return users, nil
}

// Send creates a message from text and attached files. The envelope is
// created first; content items are appended best-effort, so a failed
// item never rolls back the envelope or items persisted before it.
func (s *Service) Send(ctx context.Context, actor, room int64, text string, files []Upload) (int64, error) {
	if err := s.requireMember(ctx, actor, room); err != nil {
		return 0, err
	}

	text = strings.TrimSpace(text)
	if text == "" && len(files) == 0 {
		return 0, ErrEmptyMessage
	}

	author := actor
	id, err := s.store.CreateMessage(ctx, room, &author)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrMessageBadRoom):
			return 0, ErrRoomNotFound
		case errors.Is(err, storage.ErrMessageBadAuthor):
			return 0, ErrUserNotFound
		}
		return 0, err
	}

	if text != "" {
		s.addTextContent(ctx, id, text)
	}

	var items []storage.NewContent
	for _, f := range files {
		stored, err := s.files.Save(f.Name, f.Data)
		if err != nil {
			s.logger.Errorf("storing upload %q for message %d: %v", f.Name, id, err)
			continue
		}
		metrics.FilesStored.Inc()

		kindID, ok := s.kinds.IDFor(stored.Kind)
		if !ok {
			kindID, _ = s.kinds.IDFor(content.File)
		}
		items = append(items, storage.NewContent{KindID: kindID, Content: stored.Name})
	}

	if len(items) > 0 {
		if err := s.store.AddContents(ctx, id, items); err != nil {
			s.logger.Errorf("adding %d file contents to message %d: %v", len(items), id, err)
		}
	}

	metrics.MessagesPosted.Inc()

	return id, nil
}

func (s *Service) addTextContent(ctx context.Context, message int64, text string) {
	rendered, err := markup.Render(text)
	if err != nil {
		s.logger.Errorf("rendering text for message %d: %v", message, err)
		return
	}

	kindID, _ := s.kinds.IDFor(content.Text)
	if _, err := s.store.AddContent(ctx, message, kindID, rendered); err != nil {
		s.logger.Errorf("adding text content to message %d: %v", message, err)
	}
}

// FetchSince returns every message in the room with id greater than
// after, ordered by ascending id, with content items attached and
// author names resolved. An up-to-date cursor yields an empty result.
func (s *Service) FetchSince(ctx context.Context, actor, room, after int64) ([]MessageView, error) {
	if err := s.requireMember(ctx, actor, room); err != nil {
		return nil, err
	}

	messages, err := s.store.MessagesSince(ctx, room, after)
	if err != nil {
		if errors.Is(err, storage.ErrRoomNotExist) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	if len(messages) == 0 {
		return []MessageView{}, nil
	}

	ids := make([]int64, 0, len(messages))
	authorSet := make(map[int64]struct{})
	for _, m := range messages {
		ids = append(ids, m.ID)
		if m.Author != nil {
			authorSet[*m.Author] = struct{}{}
		}
	}

	// one batched lookup for the distinct author set; a missing name
	// falls back to UnknownUser and never fails the listing
	names := map[int64]string{}
	if len(authorSet) > 0 {
		authors := make([]int64, 0, len(authorSet))
		for a := range authorSet {
			authors = append(authors, a)
		}
		names, err = s.store.UsernamesByIDs(ctx, authors)
		if err != nil {
			s.logger.Errorf("resolving author names for room %d: %v", room, err)
			names = map[int64]string{}
		}
	}

	views := make([]MessageView, len(messages))
	byID := make(map[int64]*MessageView, len(messages))
	for i, m := range messages {
		username := UnknownUser
		if m.Author != nil {
			if name, ok := names[*m.Author]; ok {
				username = name
			}
		}
		views[i] = MessageView{
			ID:       m.ID,
			Username: username,
			AuthorID: m.Author,
			Contents: []ContentView{},
		}
		byID[m.ID] = &views[i]
	}

	contents, err := s.store.ContentsByMessageIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	for _, c := range contents {
		view, ok := byID[c.Message]
		if !ok {
			continue
		}

		kindName, ok := s.kinds.NameFor(c.KindID)
		if !ok {
			kindName = content.File
		}

		cv := ContentView{
			ID:      c.ID,
			Kind:    kindName,
			Content: c.Content,
		}
		if kindName == content.Sound || kindName == content.Video {
			if hint := mime.TypeByExtension(filepath.Ext(c.Content)); hint != "" {
				cv.MIME = &hint
			}
		}

		view.Contents = append(view.Contents, cv)
	}

	return views, nil
}

// Delete removes a message. The actor must be a member of the
// message's room and the message's author.
func (s *Service) Delete(ctx context.Context, actor, message int64) error {
	m, err := s.store.MessageByID(ctx, message)
	if err != nil {
		if errors.Is(err, storage.ErrMessageNotExist) {
			return ErrMessageNotFound
		}
		return err
	}

	if err := s.requireMember(ctx, actor, m.Room); err != nil {
		return err
	}

	if m.Author == nil || *m.Author != actor {
		return ErrNotAuthor
	}

	if err := s.store.DeleteMessage(ctx, message); err != nil {
		return err
	}

	metrics.MessagesDeleted.Inc()

	return nil
}

func (s *Service) requireMember(ctx context.Context, user, room int64) error {
	ok, err := s.store.IsMember(ctx, user, room)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotMember
	}
	return nil
}
