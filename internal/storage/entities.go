package storage

import "time"

// Typed records constructed at the storage boundary. Row data never
// leaves this package as untyped maps.

type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

type Room struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Members   []User    `json:"members,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is the envelope only; content items are owned rows fetched
// separately. Author is nil for system or deleted-author messages.
type Message struct {
	ID        int64     `json:"id"`
	Room      int64     `json:"room"`
	Author    *int64    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
}

type ContentItem struct {
	ID      int64  `json:"id"`
	Message int64  `json:"message"`
	KindID  int16  `json:"kind_id"`
	Content string `json:"content"`
}

// NewContent is one content item to append to a message.
type NewContent struct {
	KindID  int16
	Content string
}
