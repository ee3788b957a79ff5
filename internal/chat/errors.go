package chat

import "errors"

// Validation errors: a required field is empty.
var (
	ErrUsernameEmpty = errors.New("username is empty")
	ErrRoomNameEmpty = errors.New("room name is empty")
	ErrEmptyMessage  = errors.New("message has neither text nor files")
)

// Authorization errors: the actor may not perform the operation.
var (
	ErrNotMember = errors.New("user is not a room member")
	ErrNotAuthor = errors.New("user is not the message author")
)

// Not-found errors.
var (
	ErrUserNotFound    = errors.New("user not found")
	ErrRoomNotFound    = errors.New("room not found")
	ErrMessageNotFound = errors.New("message not found")
)
