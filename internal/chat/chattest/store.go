// Package chattest provides in-memory implementations of the chat
// service's storage and file-store collaborators for tests.
package chattest

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"group-chat-service/internal/content"
	"group-chat-service/internal/storage"
	"group-chat-service/internal/upload"
)

// Kinds mirrors the message_content_kinds seed rows from db/schema.sql.
func Kinds() []content.Kind {
	return []content.Kind{
		{ID: 1, Name: content.Text},
		{ID: 2, Name: content.Image},
		{ID: 3, Name: content.Sound},
		{ID: 4, Name: content.Video},
		{ID: 5, Name: content.File},
	}
}

type membership struct {
	room, user int64
}

// Store is an in-memory chat.Storage. A single id sequence spans all
// tables, so message ids are strictly increasing in creation order
// just like the database's serial assignment.
type Store struct {
	mu          sync.Mutex
	nextID      int64
	users       map[int64]storage.User
	rooms       map[int64]storage.Room
	memberships map[membership]struct{}
	messages    map[int64]storage.Message
	contents    []storage.ContentItem
}

func NewStore() *Store {
	return &Store{
		users:       make(map[int64]storage.User),
		rooms:       make(map[int64]storage.Room),
		memberships: make(map[membership]struct{}),
		messages:    make(map[int64]storage.Message),
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// MessageCount reports the number of stored message envelopes.
func (s *Store) MessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// ContentCount reports the number of stored content items.
func (s *Store) ContentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.contents)
}

func (s *Store) CreateUser(_ context.Context, username string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Username == username {
			return 0, storage.ErrUserExists
		}
	}

	id := s.id()
	s.users[id] = storage.User{ID: id, Username: username, CreatedAt: time.Now()}
	return id, nil
}

func (s *Store) NonMembers(_ context.Context, room int64) ([]storage.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[room]; !ok {
		return nil, storage.ErrRoomNotExist
	}

	var users []storage.User
	for id, u := range s.users {
		if _, member := s.memberships[membership{room, id}]; !member {
			users = append(users, u)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (s *Store) UsernamesByIDs(_ context.Context, ids []int64) (map[int64]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make(map[int64]string, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			names[id] = u.Username
		}
	}
	return names, nil
}

func (s *Store) CreateRoom(_ context.Context, name string, creator int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[creator]; !ok {
		return 0, storage.ErrUserNotExist
	}

	id := s.id()
	s.rooms[id] = storage.Room{ID: id, Name: name, CreatedAt: time.Now()}
	s.memberships[membership{id, creator}] = struct{}{}
	return id, nil
}

func (s *Store) RoomByID(_ context.Context, id int64) (storage.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[id]
	if !ok {
		return storage.Room{}, storage.ErrRoomNotExist
	}
	return r, nil
}

func (s *Store) RoomsByUserID(_ context.Context, user int64) ([]storage.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user]; !ok {
		return nil, storage.ErrUserNotExist
	}

	var rooms []storage.Room
	for m := range s.memberships {
		if m.user != user {
			continue
		}
		r := s.rooms[m.room]
		r.Members = s.membersLocked(m.room)
		rooms = append(rooms, r)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })
	return rooms, nil
}

func (s *Store) IsMember(_ context.Context, user, room int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.memberships[membership{room, user}]
	return ok, nil
}

func (s *Store) AddMembers(_ context.Context, room int64, users []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[room]; !ok {
		return storage.ErrRoomNotExist
	}
	for _, user := range users {
		if _, ok := s.users[user]; !ok {
			return storage.ErrBadMembers
		}
	}
	for _, user := range users {
		s.memberships[membership{room, user}] = struct{}{}
	}
	return nil
}

func (s *Store) RemoveMember(_ context.Context, room, user int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.memberships, membership{room, user})
	return nil
}

func (s *Store) Members(_ context.Context, room int64) ([]storage.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[room]; !ok {
		return nil, storage.ErrRoomNotExist
	}
	return s.membersLocked(room), nil
}

func (s *Store) membersLocked(room int64) []storage.User {
	var users []storage.User
	for m := range s.memberships {
		if m.room == room {
			users = append(users, s.users[m.user])
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users
}

func (s *Store) CreateMessage(_ context.Context, room int64, author *int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[room]; !ok {
		return 0, storage.ErrMessageBadRoom
	}
	if author != nil {
		if _, ok := s.users[*author]; !ok {
			return 0, storage.ErrMessageBadAuthor
		}
	}

	id := s.id()
	s.messages[id] = storage.Message{ID: id, Room: room, Author: author, CreatedAt: time.Now()}
	return id, nil
}

func (s *Store) AddContent(_ context.Context, message int64, kind int16, payload string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[message]; !ok {
		return 0, storage.ErrMessageNotExist
	}

	id := s.id()
	s.contents = append(s.contents, storage.ContentItem{ID: id, Message: message, KindID: kind, Content: payload})
	return id, nil
}

func (s *Store) AddContents(ctx context.Context, message int64, items []storage.NewContent) error {
	for _, item := range items {
		if _, err := s.AddContent(ctx, message, item.KindID, item.Content); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) MessagesSince(_ context.Context, room, after int64) ([]storage.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[room]; !ok {
		return nil, storage.ErrRoomNotExist
	}

	var messages []storage.Message
	for _, m := range s.messages {
		if m.Room == room && m.ID > after {
			messages = append(messages, m)
		}
	}
	sort.Slice(messages, func(i, j int) bool { return messages[i].ID < messages[j].ID })
	return messages, nil
}

func (s *Store) ContentsByMessageIDs(_ context.Context, ids []int64) ([]storage.ContentItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}

	var items []storage.ContentItem
	for _, c := range s.contents {
		if _, ok := wanted[c.Message]; ok {
			items = append(items, c)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (s *Store) MessageByID(_ context.Context, id int64) (storage.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok {
		return storage.Message{}, storage.ErrMessageNotExist
	}
	return m, nil
}

func (s *Store) DeleteMessage(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.messages, id)

	kept := s.contents[:0]
	for _, c := range s.contents {
		if c.Message != id {
			kept = append(kept, c)
		}
	}
	s.contents = kept
	return nil
}

// Files is an in-memory chat.FileStore. It classifies exactly like the
// real classifier but keeps file bytes in memory; name collisions get
// a deterministic "-dup" suffix.
type Files struct {
	mu    sync.Mutex
	saved map[string][]byte
}

func NewFiles() *Files {
	return &Files{saved: make(map[string][]byte)}
}

func (f *Files) Save(filename string, r io.Reader) (upload.StoredFile, error) {
	kind, name := upload.Classify(filename)

	b, err := io.ReadAll(r)
	if err != nil {
		return upload.StoredFile{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.saved[name]; ok {
		base, ext := upload.SplitExtension(name)
		name = base + "-dup"
		if ext != "" {
			name += "." + ext
		}
	}
	f.saved[name] = b

	return upload.StoredFile{Kind: kind, Name: name}, nil
}

// Stored returns the bytes saved under name.
func (f *Files) Stored(name string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.saved[name]
	return b, ok
}
