package eventman

import "encoding/json"

const (
	ProtocolVersion = 1

	frameHello = "hello"
	frameReq   = "req"
	frameEmit  = "emit"

	frameAck   = "ack"
	frameEvent = "event"
	frameError = "error"
)

// Request event names.
const (
	EventJoinRoom        = "joinEventRoom"
	EventLeaveRoom       = "leaveEventRoom"
	EventSendChatMessage = "sendChatMessage"
	EventJoinQnaRoom     = "joinEventQnaRoom"
	EventLeaveQnaRoom    = "leaveEventQnaRoom"
	EventSubmitQuestion  = "submitQuestion"
	EventAnswerQuestion  = "answerQuestion"
)

// Broadcast event names.
const (
	EventNewChatMessage   = "newChatMessage"
	EventChatHistory      = "chatHistory"
	EventNewQuestion      = "newQuestion"
	EventQnaHistory       = "qnaHistory"
	EventQuestionAnswered = "questionAnswered"
	EventSocketError      = "socketError"
)

// Inbound represents the envelope from client to server.
type Inbound struct {
	Type  string `json:"type"`
	ID    string `json:"id,omitempty"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// Outbound is the envelope server -> client.
type Outbound struct {
	Type  string          `json:"type"`
	ID    string          `json:"id,omitempty"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *ProtocolError  `json:"error,omitempty"`
}

// HelloPayload initiates the session.
type HelloPayload struct {
	Protocol int    `json:"protocol,omitempty"`
	Token    string `json:"token,omitempty"`
}

// Ack is the server's one-time reply to an acknowledged request.
type Ack struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`

	// Raw holds the full acknowledgement for callers that expect extra fields.
	Raw json.RawMessage `json:"-"`
}

// RoomPayload joins or leaves an event room.
type RoomPayload struct {
	EventID string `json:"eventId"`
}

// ChatSendPayload sends a chat message.
type ChatSendPayload struct {
	EventID string `json:"eventId"`
	Message string `json:"message"`
}

// QuestionPayload submits a question.
type QuestionPayload struct {
	EventID  string `json:"eventId"`
	Question string `json:"question"`
}

// AnswerPayload answers a question.
type AnswerPayload struct {
	EventID    string `json:"eventId"`
	QuestionID string `json:"questionId"`
	Answer     string `json:"answer"`
}

// ProtocolError describes a protocol error frame.
type ProtocolError struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

func (e *ProtocolError) Error() string {
	if e == nil {
		return ""
	}
	return e.Code + ": " + e.Msg
}

// UnmarshalData decodes RawMessage into target.
func UnmarshalData(data json.RawMessage, v any) error {
	return json.Unmarshal(data, v)
}
