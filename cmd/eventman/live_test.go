package main

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventman/eventman-live/eventman"
	"github.com/eventman/eventman-live/eventman/rest"
	"github.com/eventman/eventman-live/eventman/session"
)

func TestParseInput(t *testing.T) {
	cases := []struct {
		line string
		want input
	}{
		{"   ", input{kind: inputNone}},
		{"hello there", input{kind: inputChat, text: "hello there"}},
		{"/ask  why Go? ", input{kind: inputAsk, text: "why Go?"}},
		{"/answer q1 because  ", input{kind: inputAnswer, id: "q1", text: "because"}},
		{"/answer q1", input{kind: inputAnswer, id: "q1"}},
		{"/questions", input{kind: inputQuestions}},
		{"/video", input{kind: inputVideo}},
		{"/help", input{kind: inputHelp}},
		{"/quit", input{kind: inputQuit}},
		{"/exit", input{kind: inputQuit}},
		{"/dance now", input{kind: inputUnknown, text: "/dance"}},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, parseInput(tc.line), tc.line)
	}
}

func TestQuestionPrinter(t *testing.T) {
	p := newQuestionPrinter()
	q1 := eventman.Question{ID: "q1", User: eventman.User{Name: "Ada"}, Question: "why?"}
	q2 := eventman.Question{ID: "q2", User: eventman.User{Name: "Bob"}, Question: "how?"}

	assert.Equal(t, []string{"? q1 Ada asks: why?"}, p.diff([]eventman.Question{q1}))
	assert.Equal(t, []string{"? q2 Bob asks: how?"}, p.diff([]eventman.Question{q1, q2}))
	assert.Empty(t, p.diff([]eventman.Question{q1, q2}))

	q1.IsAnswered = true
	q1.Answer = "because"
	q1.AnsweredBy = &eventman.User{Name: "Sam"}
	assert.Equal(t, []string{"? q1 Ada asks: why?\n  answer (Sam): because"}, p.diff([]eventman.Question{q1, q2}))
	assert.Empty(t, p.diff([]eventman.Question{q1, q2}))
}

type liveAPI struct{}

func (liveAPI) GetEvent(context.Context, string) (*rest.Event, error) {
	return &rest.Event{
		ID:        "e1",
		Title:     "Go Meetup",
		Status:    rest.StatusLive,
		StartTime: time.Now().Add(-time.Hour),
		EndTime:   time.Now().Add(time.Hour),
	}, nil
}

func (liveAPI) RegistrationStatus(context.Context, string) (*rest.RegistrationStatus, error) {
	return &rest.RegistrationStatus{IsRegistered: true}, nil
}

// scriptedRealtime acknowledges requests from a per-event table and records
// what was sent.
type scriptedRealtime struct {
	eventman.Dispatcher

	mu   sync.Mutex
	acks map[string]eventman.Ack
	sent []string
}

func (r *scriptedRealtime) Connect(context.Context) error { return nil }

func (r *scriptedRealtime) EmitWithAck(_ context.Context, event string, _ any) (eventman.Ack, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, event)
	ack, ok := r.acks[event]
	if !ok {
		ack = eventman.Ack{Success: true}
	}
	return ack, nil
}

func (r *scriptedRealtime) Emit(event string, _ any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, event)
	return nil
}

func (r *scriptedRealtime) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

func TestHandleInputRefusedWhileRoomUnavailable(t *testing.T) {
	rt := &scriptedRealtime{acks: map[string]eventman.Ack{
		eventman.EventJoinRoom: {Success: false, Message: "Chat is closed"},
	}}
	user := &session.Identity{UserID: "u1", Name: "Ada", Role: rest.RoleAttendee}
	page := session.NewPage(liveAPI{}, rt, user)
	require.NoError(t, page.Open(context.Background(), "e1"))
	defer page.Close()

	var out bytes.Buffer
	done, err := handleInput(context.Background(), page, parseInput("hello"), &out)
	assert.False(t, done)
	require.Error(t, err)
	assert.Equal(t, eventman.ErrorNotInRoom, eventman.CodeOf(err))
	assert.Contains(t, err.Error(), "chat is unavailable")
	assert.NotContains(t, rt.events(), eventman.EventSendChatMessage)

	_, err = handleInput(context.Background(), page, parseInput("/ask why Go?"), &out)
	require.NoError(t, err)
	assert.Contains(t, rt.events(), eventman.EventSubmitQuestion)
	assert.Contains(t, out.String(), "question submitted")
}

func TestPrintRoomStatus(t *testing.T) {
	var out bytes.Buffer
	chat := eventman.Room{EventID: "e1", Kind: eventman.RoomChat}
	qna := eventman.Room{EventID: "e1", Kind: eventman.RoomQnA}

	printRoomStatus(&out, chat, eventman.MembershipJoining)
	printRoomStatus(&out, chat, eventman.MembershipJoinFailed)
	printRoomStatus(&out, qna, eventman.MembershipJoined)
	assert.Equal(t, "! chat rejoin failed, input disabled\n! q&a rejoined\n", out.String())
}
