package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"go.uber.org/zap"

	"group-chat-service/internal/content"
	"group-chat-service/internal/storage/zapadapter"
)

var (
	ErrUserExists       = errors.New("user already exists")
	ErrUserNotExist     = errors.New("user does not exist")
	ErrRoomNotExist     = errors.New("room does not exist")
	ErrBadMembers       = errors.New("bad member list")
	ErrMessageBadRoom   = errors.New("bad room id")
	ErrMessageBadAuthor = errors.New("bad author id")
	ErrMessageNotExist  = errors.New("message does not exist")
)

// Store defines fields used in db interaction processes
type Store struct {
	logger *zap.SugaredLogger
	db     *pgxpool.Pool
}

// New sets provided zap logger via zapadapter to pgxpool.Pool and returns instance of Store struct
func New(logger *zap.SugaredLogger, cfg Config, opts ...Option) (*Store, error) {
	config, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, err
	}
	config.ConnConfig.Logger = zapadapter.NewLogger(logger.Desugar())

	for _, opt := range opts {
		opt.apply(config)
	}

	pool, err := pgxpool.ConnectConfig(context.Background(), config)
	if err != nil {
		return nil, err
	}

	return &Store{
		logger: logger,
		db:     pool,
	}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.db.Close()
}

// CreateUser creates a user directory entry and returns its id.
func (s *Store) CreateUser(ctx context.Context, username string) (int64, error) {
	s.logger.Debugf("Creating user (%s)", username)

	var id int64
	sql := "insert into users (username, created_at) values ($1, $2) returning id"
	err := s.db.QueryRow(ctx, sql, username, time.Now()).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, ErrUserExists
		}
		return 0, err
	}

	s.logger.Debugf("Created user (%s) with id %d", username, id)

	return id, nil
}

// NonMembers returns users that are not members of the room, ordered
// by id. This backs the pre-filtered invite candidate list.
func (s *Store) NonMembers(ctx context.Context, room int64) ([]User, error) {
	if err := s.roomExists(ctx, room); err != nil {
		return nil, err
	}

	sql := `select id, trim(username), created_at
			  from users
			 where id not in (select user_id from room_users where room_id = $1)
			 order by id`
	rows, err := s.db.Query(ctx, sql, room)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanUsers(rows)
}

// UsernamesByIDs resolves a set of user ids to display names in one
// query. Unknown ids are simply absent from the result map.
func (s *Store) UsernamesByIDs(ctx context.Context, ids []int64) (map[int64]string, error) {
	names := make(map[int64]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}

	var idArr pgtype.Int8Array
	if err := idArr.Set(ids); err != nil {
		return nil, err
	}

	sql := "select id, trim(username) from users where id = any($1)"
	rows, err := s.db.Query(ctx, sql, &idArr)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id   int64
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		names[id] = name
	}

	return names, rows.Err()
}

// CreateRoom performs a two-step transaction (insert room record,
// insert creator membership) and returns the room id.
func (s *Store) CreateRoom(ctx context.Context, name string, creator int64) (int64, error) {
	s.logger.Debugf("Creating room (%s) for user %d", name, creator)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	// error handling can be omitted for rollback according docs
	// see https://pkg.go.dev/github.com/jackc/pgx/v4?tab=doc#hdr-Transactions
	defer tx.Rollback(context.Background())

	var id int64
	sql := "insert into rooms (name, created_at) values ($1, $2) returning id"
	if err := tx.QueryRow(ctx, sql, name, time.Now()).Scan(&id); err != nil {
		return 0, err
	}

	sql = "insert into room_users (room_id, user_id) values ($1, $2)"
	if _, err := tx.Exec(ctx, sql, id, creator); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return 0, ErrUserNotExist
		}
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}

	s.logger.Debugf("Created room (%s) with id %d", name, id)

	return id, nil
}

// RoomByID returns the room record without its member list.
func (s *Store) RoomByID(ctx context.Context, id int64) (Room, error) {
	var room Room
	sql := "select id, trim(name), created_at from rooms where id = $1"
	err := s.db.QueryRow(ctx, sql, id).Scan(&room.ID, &room.Name, &room.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Room{}, ErrRoomNotExist
		}
		return Room{}, err
	}

	return room, nil
}

// IsMember reports whether a membership row for the pair exists.
func (s *Store) IsMember(ctx context.Context, user, room int64) (bool, error) {
	var i int8
	sql := "select 1 from room_users where room_id = $1 and user_id = $2"
	err := s.db.QueryRow(ctx, sql, room, user).Scan(&i)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}

	return true, nil
}

// AddMembers inserts membership rows for every listed user. The unique
// (room_id, user_id) pair plus on conflict do nothing makes the call
// idempotent: users already in the room are skipped.
func (s *Store) AddMembers(ctx context.Context, room int64, users []int64) error {
	s.logger.Debugf("Adding users (%v) to room %d", users, room)

	if len(users) == 0 {
		return nil
	}

	var userArr pgtype.Int8Array
	if err := userArr.Set(users); err != nil {
		return err
	}

	sql := `insert into room_users (room_id, user_id)
			select $1::bigint, u from unnest($2::bigint[]) as u
			on conflict (room_id, user_id) do nothing`
	_, err := s.db.Exec(ctx, sql, room, &userArr)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			switch pgErr.ConstraintName {
			case "room_users_room_id_fkey":
				return ErrRoomNotExist
			case "room_users_user_id_fkey":
				return ErrBadMembers
			}
		}
		return err
	}

	return nil
}

// RemoveMember deletes the membership rows matching the pair. Removing
// a user that is not a member is a no-op.
func (s *Store) RemoveMember(ctx context.Context, room, user int64) error {
	s.logger.Debugf("Removing user %d from room %d", user, room)

	_, err := s.db.Exec(ctx, "delete from room_users where room_id = $1 and user_id = $2", room, user)
	return err
}

// Members returns the users belonging to the room ordered by id.
func (s *Store) Members(ctx context.Context, room int64) ([]User, error) {
	if err := s.roomExists(ctx, room); err != nil {
		return nil, err
	}

	sql := `select users.id, trim(users.username), users.created_at
			  from room_users
			  join users on room_users.user_id = users.id
			 where room_users.room_id = $1
			 order by users.id`
	rows, err := s.db.Query(ctx, sql, room)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanUsers(rows)
}

// RoomsByUserID returns every room the user belongs to, each with its
// member list aggregated in the query.
func (s *Store) RoomsByUserID(ctx context.Context, user int64) ([]Room, error) {
	s.logger.Debugf("Retrieving rooms for user (id: %d)", user)

	// check if user exists
	var i int8
	err := s.db.QueryRow(ctx, "select 1 from users where id = $1", user).Scan(&i)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotExist
		}
		return nil, err
	}

	type retrievedRoom struct {
		id        int64
		name      string
		members   pgtype.JSONBArray
		createdAt time.Time
	}

	sql := `with user_rooms as (
				select rooms.id, rooms.name, rooms.created_at
				  from rooms
				  join room_users on room_users.room_id = rooms.id
				 where room_users.user_id = $1
			),

			members_per_room as (
				select
					room_users.room_id,
					array_agg(jsonb_build_object('id', users.id, 'username', trim(users.username), 'created_at', users.created_at)) as members
				from room_users
				join users on room_users.user_id = users.id
			   where room_users.room_id in (select id from user_rooms)
			   group by room_users.room_id
			)

			select user_rooms.id,
				   trim(user_rooms.name),
				   members_per_room.members,
				   user_rooms.created_at
			  from user_rooms
			  join members_per_room on user_rooms.id = members_per_room.room_id
			 order by user_rooms.id`

	rows, err := s.db.Query(ctx, sql, user)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []Room
	for rows.Next() {
		var r retrievedRoom
		if err := rows.Scan(&r.id, &r.name, &r.members, &r.createdAt); err != nil {
			return nil, err
		}

		currentRoom := Room{
			ID:        r.id,
			Name:      r.name,
			Members:   make([]User, len(r.members.Elements)),
			CreatedAt: r.createdAt,
		}

		membersJSON := make([]string, len(r.members.Elements))
		if err := r.members.AssignTo(&membersJSON); err != nil {
			return nil, err
		}

		for i, v := range membersJSON {
			if err := json.Unmarshal([]byte(v), &currentRoom.Members[i]); err != nil {
				return nil, err
			}
		}

		rooms = append(rooms, currentRoom)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	s.logger.Debugf("Retrieved %d rooms", len(rooms))

	return rooms, nil
}

// CreateMessage inserts an empty message envelope and returns its id.
// A nil author records a system message.
func (s *Store) CreateMessage(ctx context.Context, room int64, author *int64) (int64, error) {
	s.logger.Debugf("Creating message envelope in room %d", room)

	var id int64
	sql := "insert into messages (room_id, author_id, created_at) values ($1, $2, $3) returning id"
	err := s.db.QueryRow(ctx, sql, room, author, time.Now()).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			switch pgErr.ConstraintName {
			case "messages_room_id_fkey":
				return 0, ErrMessageBadRoom
			case "messages_author_id_fkey":
				return 0, ErrMessageBadAuthor
			}
		}
		return 0, err
	}

	return id, nil
}

// AddContent appends a single content item to a message.
func (s *Store) AddContent(ctx context.Context, message int64, kind int16, payload string) (int64, error) {
	var id int64
	sql := "insert into message_contents (message_id, kind_id, content) values ($1, $2, $3) returning id"
	err := s.db.QueryRow(ctx, sql, message, kind, payload).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation &&
			pgErr.ConstraintName == "message_contents_message_id_fkey" {
			return 0, ErrMessageNotExist
		}
		return 0, err
	}

	return id, nil
}

// AddContents bulk-appends content items to a message in one CopyFrom.
func (s *Store) AddContents(ctx context.Context, message int64, items []NewContent) error {
	if len(items) == 0 {
		return nil
	}

	rows := make([]contentRow, 0, len(items))
	for _, item := range items {
		rows = append(rows, contentRow{
			messageID: message,
			kindID:    item.KindID,
			content:   item.Content,
		})
	}

	_, err := s.db.CopyFrom(
		ctx,
		pgx.Identifier{"message_contents"},
		[]string{"message_id", "kind_id", "content"},
		copyFromContents(rows),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation &&
			pgErr.ConstraintName == "message_contents_message_id_fkey" {
			return ErrMessageNotExist
		}
		return err
	}

	return nil
}

// MessagesSince returns every message in the room with id greater than
// after, ordered by ascending id. An up-to-date cursor yields an empty
// result, not an error.
func (s *Store) MessagesSince(ctx context.Context, room, after int64) ([]Message, error) {
	s.logger.Debugf("Retrieving messages for room %d since id %d", room, after)

	if err := s.roomExists(ctx, room); err != nil {
		return nil, err
	}

	sql := `select id, room_id, author_id, created_at
			  from messages
			 where room_id = $1 and id > $2
			 order by id asc`
	rows, err := s.db.Query(ctx, sql, room, after)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Room, &m.Author, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	s.logger.Debugf("Retrieved %d messages", len(messages))

	return messages, nil
}

// ContentsByMessageIDs returns the content items owned by the listed
// messages, ordered by content id.
func (s *Store) ContentsByMessageIDs(ctx context.Context, ids []int64) ([]ContentItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var idArr pgtype.Int8Array
	if err := idArr.Set(ids); err != nil {
		return nil, err
	}

	sql := `select id, message_id, kind_id, content
			  from message_contents
			 where message_id = any($1)
			 order by id`
	rows, err := s.db.Query(ctx, sql, &idArr)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []ContentItem
	for rows.Next() {
		var c ContentItem
		if err := rows.Scan(&c.ID, &c.Message, &c.KindID, &c.Content); err != nil {
			return nil, err
		}
		items = append(items, c)
	}

	return items, rows.Err()
}

// MessageByID returns a single message envelope.
func (s *Store) MessageByID(ctx context.Context, id int64) (Message, error) {
	var m Message
	sql := "select id, room_id, author_id, created_at from messages where id = $1"
	err := s.db.QueryRow(ctx, sql, id).Scan(&m.ID, &m.Room, &m.Author, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, ErrMessageNotExist
		}
		return Message{}, err
	}

	return m, nil
}

// DeleteMessage hard-deletes a message; owned content items go with it
// through the on delete cascade.
func (s *Store) DeleteMessage(ctx context.Context, id int64) error {
	s.logger.Debugf("Deleting message %d", id)

	_, err := s.db.Exec(ctx, "delete from messages where id = $1", id)
	return err
}

// ContentKinds loads the content kind lookup table.
func (s *Store) ContentKinds(ctx context.Context) ([]content.Kind, error) {
	rows, err := s.db.Query(ctx, "select id, trim(name) from message_content_kinds order by id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var kinds []content.Kind
	for rows.Next() {
		var k content.Kind
		if err := rows.Scan(&k.ID, &k.Name); err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}

	return kinds, rows.Err()
}

func (s *Store) roomExists(ctx context.Context, room int64) error {
	var i int8
	err := s.db.QueryRow(ctx, "select 1 from rooms where id = $1", room).Scan(&i)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrRoomNotExist
		}
		return err
	}
	return nil
}

func scanUsers(rows pgx.Rows) ([]User, error) {
	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
