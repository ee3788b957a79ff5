package chat

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"group-chat-service/internal/chat/chattest"
	"group-chat-service/internal/content"
)

var (
	_ Storage   = (*chattest.Store)(nil)
	_ FileStore = (*chattest.Files)(nil)
)

type fixture struct {
	svc   *Service
	store *chattest.Store
	files *chattest.Files
}

func bootstrap(t *testing.T) *fixture {
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	registry, err := content.NewRegistry(chattest.Kinds())
	require.NoError(t, err)

	store := chattest.NewStore()
	files := chattest.NewFiles()

	return &fixture{
		svc:   NewService(logger.Sugar(), store, registry, files),
		store: store,
		files: files,
	}
}

func (f *fixture) user(t *testing.T, name string) int64 {
	id, err := f.svc.CreateUser(context.Background(), name)
	require.NoError(t, err)
	return id
}

func (f *fixture) room(t *testing.T, creator int64, name string) int64 {
	id, err := f.svc.CreateRoom(context.Background(), creator, name)
	require.NoError(t, err)
	return id
}

func TestCreateRoomEmptyName(t *testing.T) {
	t.Parallel()

	f := bootstrap(t)
	alice := f.user(t, "alice")

	_, err := f.svc.CreateRoom(context.Background(), alice, "   ")
	require.ErrorIs(t, err, ErrRoomNameEmpty)
}

func TestCreateRoomAutoJoinsCreator(t *testing.T) {
	t.Parallel()

	f := bootstrap(t)
	alice := f.user(t, "alice")
	room := f.room(t, alice, "general")

	rooms, err := f.svc.ListRooms(context.Background(), alice)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	require.Equal(t, room, rooms[0].ID)

	// a member polling an empty room gets an empty result, not an error
	messages, err := f.svc.FetchSince(context.Background(), alice, room, 0)
	require.NoError(t, err)
	require.Empty(t, messages)
}

func TestInviteThenLeave(t *testing.T) {
	t.Parallel()

	f := bootstrap(t)
	alice := f.user(t, "alice")
	bob := f.user(t, "bob")
	room := f.room(t, alice, "general")

	_, err := f.svc.FetchSince(context.Background(), bob, room, 0)
	require.ErrorIs(t, err, ErrNotMember)

	require.NoError(t, f.svc.Invite(context.Background(), alice, room, []int64{bob}))

	_, err = f.svc.FetchSince(context.Background(), bob, room, 0)
	require.NoError(t, err)

	require.NoError(t, f.svc.Leave(context.Background(), bob, room))

	_, err = f.svc.FetchSince(context.Background(), bob, room, 0)
	require.ErrorIs(t, err, ErrNotMember)

	// leaving again is a no-op
	require.NoError(t, f.svc.Leave(context.Background(), bob, room))
}

func TestInviteRequiresMembership(t *testing.T) {
	t.Parallel()

	f := bootstrap(t)
	alice := f.user(t, "alice")
	bob := f.user(t, "bob")
	carol := f.user(t, "carol")
	room := f.room(t, alice, "general")

	err := f.svc.Invite(context.Background(), bob, room, []int64{carol})
	require.ErrorIs(t, err, ErrNotMember)
}

func TestInviteSkipsExistingMembers(t *testing.T) {
	t.Parallel()

	f := bootstrap(t)
	alice := f.user(t, "alice")
	bob := f.user(t, "bob")
	room := f.room(t, alice, "general")

	require.NoError(t, f.svc.Invite(context.Background(), alice, room, []int64{bob}))
	require.NoError(t, f.svc.Invite(context.Background(), alice, room, []int64{bob, alice}))

	view, err := f.svc.Room(context.Background(), alice, room)
	require.NoError(t, err)
	require.Len(t, view.Members, 2)
}

func TestInviteCandidatesExcludeMembers(t *testing.T) {
	t.Parallel()

	f := bootstrap(t)
	alice := f.user(t, "alice")
	bob := f.user(t, "bob")
	carol := f.user(t, "carol")
	room := f.room(t, alice, "general")

	require.NoError(t, f.svc.Invite(context.Background(), alice, room, []int64{bob}))

	candidates, err := f.svc.InviteCandidates(context.Background(), alice, room)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Equal(t, carol, candidates[0].ID)
}

func TestSendEmptyMessage(t *testing.T) {
	t.Parallel()

	f := bootstrap(t)
	alice := f.user(t, "alice")
	room := f.room(t, alice, "general")

	_, err := f.svc.Send(context.Background(), alice, room, "   ", nil)
	require.ErrorIs(t, err, ErrEmptyMessage)
	require.Zero(t, f.store.MessageCount())
	require.Zero(t, f.store.ContentCount())
}

func TestSendRequiresMembership(t *testing.T) {
	t.Parallel()

	f := bootstrap(t)
	alice := f.user(t, "alice")
	bob := f.user(t, "bob")
	room := f.room(t, alice, "general")

	_, err := f.svc.Send(context.Background(), bob, room, "hi", nil)
	require.ErrorIs(t, err, ErrNotMember)
	require.Zero(t, f.store.MessageCount())
}

func TestSendEscapesScript(t *testing.T) {
	t.Parallel()

	f := bootstrap(t)
	alice := f.user(t, "alice")
	room := f.room(t, alice, "general")

	_, err := f.svc.Send(context.Background(), alice, room, "Hello <script>evil()</script>", nil)
	require.NoError(t, err)

	messages, err := f.svc.FetchSince(context.Background(), alice, room, 0)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Len(t, messages[0].Contents, 1)

	body := messages[0].Contents[0]
	require.Equal(t, content.Text, body.Kind)
	require.NotContains(t, body.Content, "<script>")
	require.Contains(t, body.Content, "evil()")
}

func TestSendForcesLinkRel(t *testing.T) {
	t.Parallel()

	f := bootstrap(t)
	alice := f.user(t, "alice")
	room := f.room(t, alice, "general")

	_, err := f.svc.Send(context.Background(), alice, room, "- [a link](https://example.com)", nil)
	require.NoError(t, err)

	messages, err := f.svc.FetchSince(context.Background(), alice, room, 0)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Contains(t, messages[0].Contents[0].Content, `rel="noopener noreferrer nofollow"`)
}

func TestSendRoundTrip(t *testing.T) {
	t.Parallel()

	f := bootstrap(t)
	alice := f.user(t, "alice")
	room := f.room(t, alice, "general")

	files := []Upload{
		{Name: "my photo!!.JPG", Data: strings.NewReader("jpeg bytes")},
		{Name: "track.mp3", Data: strings.NewReader("mp3 bytes")},
	}

	id, err := f.svc.Send(context.Background(), alice, room, "caption", files)
	require.NoError(t, err)

	messages, err := f.svc.FetchSince(context.Background(), alice, room, 0)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	msg := messages[0]
	require.Equal(t, id, msg.ID)
	require.Equal(t, "alice", msg.Username)
	require.NotNil(t, msg.AuthorID)
	require.Equal(t, alice, *msg.AuthorID)
	require.Len(t, msg.Contents, 3)

	require.Equal(t, content.Text, msg.Contents[0].Kind)
	require.Contains(t, msg.Contents[0].Content, "caption")

	require.Equal(t, content.Image, msg.Contents[1].Kind)
	require.Equal(t, "my-photo-.JPG", msg.Contents[1].Content)
	require.Nil(t, msg.Contents[1].MIME)

	require.Equal(t, content.Sound, msg.Contents[2].Kind)
	require.Equal(t, "track.mp3", msg.Contents[2].Content)
	require.NotNil(t, msg.Contents[2].MIME)
	require.Equal(t, "audio/mpeg", *msg.Contents[2].MIME)

	stored, ok := f.files.Stored("track.mp3")
	require.True(t, ok)
	require.Equal(t, "mp3 bytes", string(stored))
}

func TestFetchSinceCursor(t *testing.T) {
	t.Parallel()

	f := bootstrap(t)
	alice := f.user(t, "alice")
	room := f.room(t, alice, "general")

	var ids []int64
	for _, text := range []string{"one", "two", "three"} {
		id, err := f.svc.Send(context.Background(), alice, room, text, nil)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	all, err := f.svc.FetchSince(context.Background(), alice, room, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i := 1; i < len(all); i++ {
		require.Greater(t, all[i].ID, all[i-1].ID)
	}

	tail, err := f.svc.FetchSince(context.Background(), alice, room, ids[1])
	require.NoError(t, err)
	require.Len(t, tail, 1)
	require.Equal(t, ids[2], tail[0].ID)

	empty, err := f.svc.FetchSince(context.Background(), alice, room, ids[2])
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestFetchSinceUnknownAuthor(t *testing.T) {
	t.Parallel()

	f := bootstrap(t)
	alice := f.user(t, "alice")
	room := f.room(t, alice, "general")

	// system message created without an author
	_, err := f.store.CreateMessage(context.Background(), room, nil)
	require.NoError(t, err)

	messages, err := f.svc.FetchSince(context.Background(), alice, room, 0)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, UnknownUser, messages[0].Username)
	require.Nil(t, messages[0].AuthorID)
}

func TestDeleteByAuthor(t *testing.T) {
	t.Parallel()

	f := bootstrap(t)
	alice := f.user(t, "alice")
	room := f.room(t, alice, "general")

	id, err := f.svc.Send(context.Background(), alice, room, "delete me", nil)
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(context.Background(), alice, id))

	messages, err := f.svc.FetchSince(context.Background(), alice, room, 0)
	require.NoError(t, err)
	require.Empty(t, messages)
	require.Zero(t, f.store.ContentCount())
}

func TestDeleteByNonAuthor(t *testing.T) {
	t.Parallel()

	f := bootstrap(t)
	alice := f.user(t, "alice")
	bob := f.user(t, "bob")
	room := f.room(t, alice, "general")
	require.NoError(t, f.svc.Invite(context.Background(), alice, room, []int64{bob}))

	id, err := f.svc.Send(context.Background(), alice, room, "keep me", nil)
	require.NoError(t, err)

	require.ErrorIs(t, f.svc.Delete(context.Background(), bob, id), ErrNotAuthor)

	// message is unchanged and still visible
	messages, err := f.svc.FetchSince(context.Background(), bob, room, 0)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, id, messages[0].ID)
}

func TestDeleteUnknownMessage(t *testing.T) {
	t.Parallel()

	f := bootstrap(t)
	alice := f.user(t, "alice")

	require.ErrorIs(t, f.svc.Delete(context.Background(), alice, 404), ErrMessageNotFound)
}

func TestRoomViewRequiresMembership(t *testing.T) {
	t.Parallel()

	f := bootstrap(t)
	alice := f.user(t, "alice")
	bob := f.user(t, "bob")
	room := f.room(t, alice, "general")

	_, err := f.svc.Room(context.Background(), bob, room)
	require.ErrorIs(t, err, ErrNotMember)
}
