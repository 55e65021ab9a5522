package eventman

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// MaxQuestionLength is the longest accepted question, in characters.
const MaxQuestionLength = 300

// QnASession holds the question list of one event's Q&A room. The list keeps
// insertion order; questions are replaced in place by id when answered.
type QnASession struct {
	transport Transport
	eventID   string
	logger    Logger

	mu         sync.Mutex
	questions  []Question
	index      map[string]int
	loaded     bool
	submitting bool
	closed     bool
	onChange   func([]Question)
	subs       []Subscription
}

// NewQnASession subscribes to the Q&A broadcasts of eventID. Create it before
// joining the room so the history snapshot is not missed.
func NewQnASession(t Transport, eventID string, opts ...SessionOption) *QnASession {
	o := applySessionOptions(opts)
	s := &QnASession{
		transport: t,
		eventID:   eventID,
		logger:    o.logger,
		index:     make(map[string]int),
	}
	s.subs = []Subscription{
		t.On(EventQnaHistory, s.handleHistory),
		t.On(EventNewQuestion, s.handleNew),
		t.On(EventQuestionAnswered, s.handleAnswered),
	}
	return s
}

// EventID returns the event the session belongs to.
func (s *QnASession) EventID() string { return s.eventID }

// OnChange registers a callback receiving a copy of the list after every
// applied broadcast.
func (s *QnASession) OnChange(fn func([]Question)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Questions returns a copy of the list in insertion order.
func (s *QnASession) Questions() []Question {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyLocked()
}

// NewestFirst returns a copy of the list ordered by creation time, newest
// first. Ties keep insertion order reversed.
func (s *QnASession) NewestFirst() []Question {
	out := s.Questions()
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Question returns the question with id.
func (s *QnASession) Question(id string) (Question, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[id]
	if !ok {
		return Question{}, false
	}
	return s.questions[i], true
}

// HistoryLoaded reports whether a history snapshot has arrived.
func (s *QnASession) HistoryLoaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// Submitting reports whether a question is awaiting its acknowledgement.
func (s *QnASession) Submitting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitting
}

// Submit validates text and submits it as a question. The question appears
// when the server broadcasts it. One submit runs at a time.
func (s *QnASession) Submit(ctx context.Context, text string) error {
	text, err := validateText(text, MaxQuestionLength, "question")
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return NewError(ErrorNotInRoom, "Q&A session closed")
	}
	if s.submitting {
		s.mu.Unlock()
		return NewError(ErrorInFlight, "a question is already being submitted")
	}
	s.submitting = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.submitting = false
		s.mu.Unlock()
	}()

	ack, err := s.transport.EmitWithAck(ctx, EventSubmitQuestion, QuestionPayload{EventID: s.eventID, Question: text})
	if err != nil {
		return err
	}
	if !ack.Success {
		return rejection(ack, "Failed to submit question")
	}
	return nil
}

// Answer answers a question. Permission is decided by the server; a rejected
// answer leaves the local list untouched.
func (s *QnASession) Answer(ctx context.Context, questionID, answer string) error {
	if strings.TrimSpace(questionID) == "" {
		return NewError(ErrorValidation, "question id is empty")
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return NewError(ErrorValidation, "answer is empty")
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return NewError(ErrorNotInRoom, "Q&A session closed")
	}

	ack, err := s.transport.EmitWithAck(ctx, EventAnswerQuestion, AnswerPayload{
		EventID:    s.eventID,
		QuestionID: questionID,
		Answer:     answer,
	})
	if err != nil {
		return err
	}
	if !ack.Success {
		return rejection(ack, "Failed to submit answer")
	}
	return nil
}

// Close unsubscribes from the transport.
func (s *QnASession) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()
	for _, sub := range subs {
		s.transport.Off(sub)
	}
}

func (s *QnASession) handleHistory(data json.RawMessage) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		s.logger.Warn("malformed Q&A history", map[string]any{"event_id": s.eventID, "error": err.Error()})
		return
	}
	list := make([]Question, 0, len(raw))
	index := make(map[string]int, len(raw))
	for i, r := range raw {
		q, ok := s.decode(r, "history["+strconv.Itoa(i)+"]")
		if !ok {
			continue
		}
		if _, dup := index[q.ID]; dup {
			continue
		}
		index[q.ID] = len(list)
		list = append(list, q)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.questions = list
	s.index = index
	s.loaded = true
	s.notifyLocked()
	s.logger.Debug("Q&A history loaded", map[string]any{"event_id": s.eventID, "count": len(list)})
}

func (s *QnASession) handleNew(data json.RawMessage) {
	q, ok := s.decode(data, EventNewQuestion)
	if !ok {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if _, dup := s.index[q.ID]; dup {
		s.mu.Unlock()
		return
	}
	s.index[q.ID] = len(s.questions)
	s.questions = append(s.questions, q)
	s.notifyLocked()
}

// handleAnswered replaces the matching question wholesale. An unknown id is
// appended so an answer racing ahead of its question is not lost.
func (s *QnASession) handleAnswered(data json.RawMessage) {
	q, ok := s.decode(data, EventQuestionAnswered)
	if !ok {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if i, found := s.index[q.ID]; found {
		s.questions[i] = q
	} else {
		s.logger.Debug("answer for unknown question", map[string]any{"event_id": s.eventID, "question_id": q.ID})
		s.index[q.ID] = len(s.questions)
		s.questions = append(s.questions, q)
	}
	s.notifyLocked()
}

// notifyLocked releases s.mu and calls the change callback with a copy.
func (s *QnASession) notifyLocked() {
	fn := s.onChange
	var out []Question
	if fn != nil {
		out = s.copyLocked()
	}
	s.mu.Unlock()
	if fn != nil {
		fn(out)
	}
}

func (s *QnASession) copyLocked() []Question {
	out := make([]Question, len(s.questions))
	copy(out, s.questions)
	return out
}

func (s *QnASession) decode(data json.RawMessage, where string) (Question, bool) {
	var q Question
	if err := json.Unmarshal(data, &q); err != nil {
		s.logger.Warn("skipping malformed question", map[string]any{"event_id": s.eventID, "at": where, "error": err.Error()})
		return q, false
	}
	if q.ID == "" {
		s.logger.Warn("skipping question without id", map[string]any{"event_id": s.eventID, "at": where})
		return q, false
	}
	if q.EventID != "" && q.EventID != s.eventID {
		return q, false
	}
	return q, true
}
