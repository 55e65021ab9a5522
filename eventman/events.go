package eventman

import (
	"encoding/json"
	"strings"
	"time"
)

// User identifies the author of a message, question or answer.
type User struct {
	ID   string `json:"_id"`
	Name string `json:"name"`
}

// ChatMessage is broadcast once the server accepted a chat send.
type ChatMessage struct {
	ID        string    `json:"_id"`
	EventID   string    `json:"eventId"`
	User      User      `json:"user"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// Question is a Q&A entry. It is the only record updated in place, when an
// answer broadcast arrives.
type Question struct {
	ID         string    `json:"_id"`
	EventID    string    `json:"eventId"`
	User       User      `json:"user"`
	Question   string    `json:"question"`
	CreatedAt  time.Time `json:"createdAt"`
	IsAnswered bool      `json:"isAnswered"`
	Answer     string    `json:"answer,omitempty"`
	AnsweredBy *User     `json:"answeredBy,omitempty"`
}

// SocketError is a server-pushed error notification.
type SocketError struct {
	Message string `json:"message"`
}

// DecodeSocketError reads a socketError payload. The server sends either an
// object with a message or a bare string; anything else is kept verbatim.
func DecodeSocketError(data json.RawMessage) SocketError {
	var se SocketError
	if err := UnmarshalData(data, &se); err == nil && se.Message != "" {
		return se
	}
	var msg string
	if err := UnmarshalData(data, &msg); err == nil {
		return SocketError{Message: msg}
	}
	return SocketError{Message: strings.TrimSpace(string(data))}
}
