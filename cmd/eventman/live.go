package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/eventman/eventman-live/eventman"
	"github.com/eventman/eventman-live/eventman/reminder"
	"github.com/eventman/eventman-live/eventman/session"
)

const liveHelp = `Type a line to chat. Commands:
  /ask <question>        submit a question
  /answer <id> <answer>  answer a question (organizer, speakers, admins)
  /questions             list questions, newest first
  /video                 show the video status
  /help                  show this help
  /quit                  leave the event`

func buildLiveCmd(load func() (Config, error)) *cobra.Command {
	var noVideo bool
	cmd := &cobra.Command{
		Use:   "live <event-id>",
		Short: "Join a live event: chat, Q&A and video link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if noVideo {
				cfg.Video.Enabled = false
			}
			out := &syncWriter{w: cmd.OutOrStdout()}
			a := newApp(cfg, out, reminder.NotifierFunc(func(r reminder.Reminder) {
				fmt.Fprintln(out, "*", r.Message())
			}))
			return runLive(cmd.Context(), a, args[0], cmd.InOrStdin(), out)
		},
	}
	cmd.Flags().BoolVar(&noVideo, "no-video", false, "Do not set up the video conference")
	return cmd
}

func runLive(ctx context.Context, a *app, eventID string, in io.Reader, out io.Writer) error {
	a.serveMetrics(ctx)
	if _, err := a.authenticate(ctx); err != nil {
		return err
	}
	defer func() { _ = a.session.Transport.Disconnect() }()

	stopReminders, err := a.session.WatchReminders(ctx, a.cfg.Reminders.Refresh)
	defer stopReminders()
	if err != nil {
		fmt.Fprintf(out, "! reminders unavailable: %v\n", err)
	}

	a.session.Transport.OnStateChange(func(ev eventman.StateEvent) {
		switch ev.NewState {
		case eventman.StateReconnecting:
			fmt.Fprintf(out, "! connection lost, reconnecting (attempt %d)\n", ev.Attempt)
		case eventman.StateConnected:
			if ev.OldState == eventman.StateReconnecting {
				fmt.Fprintln(out, "! reconnected")
			}
		case eventman.StateFailed:
			fmt.Fprintf(out, "! connection failed: %v\n", ev.Error)
		}
	})
	serverErrors := a.session.Transport.On(eventman.EventSocketError, func(data json.RawMessage) {
		fmt.Fprintf(out, "! server error: %s\n", eventman.DecodeSocketError(data).Message)
	})
	defer a.session.Transport.Off(serverErrors)

	// Join outcomes of Open are reported once by reportFeature; later
	// changes come from rejoins after a reconnect.
	var opened atomic.Bool
	qp := newQuestionPrinter()
	authFailed := make(chan error, 1)
	opts := []session.PageOption{
		session.WithMetrics(a.metrics),
		session.OnAuthFailure(func(err error) {
			select {
			case authFailed <- err:
			default:
			}
		}),
		session.OnRoomStatus(func(room eventman.Room, status eventman.MembershipStatus) {
			if opened.Load() {
				printRoomStatus(out, room, status)
			}
		}),
		session.OnChatHistory(func(msgs []eventman.ChatMessage) {
			for _, m := range msgs {
				printMessage(out, m)
			}
		}),
		session.OnChatMessage(func(m eventman.ChatMessage) { printMessage(out, m) }),
		session.OnQuestions(func(qs []eventman.Question) {
			for _, line := range qp.diff(qs) {
				fmt.Fprintln(out, line)
			}
		}),
	}
	if a.cfg.Video.Enabled {
		opts = append(opts, session.WithVideo(a.videoController()))
	}

	page, err := a.session.OpenPage(ctx, eventID, opts...)
	if err != nil {
		return err
	}
	defer page.Close()
	opened.Store(true)

	ev := page.Event()
	fmt.Fprintf(out, "== %s (until %s)\n", ev.Title, ev.EndTime.Local().Format(time.Kitchen))
	reportFeature(out, "realtime", page.ConnErr())
	reportFeature(out, "chat", page.ChatErr())
	reportFeature(out, "q&a", page.QnAErr())
	if a.cfg.Video.Enabled {
		reportFeature(out, "video", page.VideoErr())
	}
	fmt.Fprintln(out, liveHelp)

	lines := make(chan string)
	go readInput(in, lines)

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "\nLeaving...")
			return nil
		case err := <-authFailed:
			return fmt.Errorf("session rejected (%v): run `eventman login` again", err)
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			done, err := handleInput(ctx, page, parseInput(line), out)
			if err != nil {
				fmt.Fprintf(out, "! %v\n", err)
			}
			if done {
				return nil
			}
		}
	}
}

type inputKind int

const (
	inputNone inputKind = iota
	inputChat
	inputAsk
	inputAnswer
	inputQuestions
	inputVideo
	inputHelp
	inputQuit
	inputUnknown
)

type input struct {
	kind inputKind
	id   string
	text string
}

func parseInput(line string) input {
	line = strings.TrimSpace(line)
	if line == "" {
		return input{kind: inputNone}
	}
	if !strings.HasPrefix(line, "/") {
		return input{kind: inputChat, text: line}
	}
	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch name {
	case "/ask":
		return input{kind: inputAsk, text: rest}
	case "/answer":
		id, text, _ := strings.Cut(rest, " ")
		return input{kind: inputAnswer, id: id, text: strings.TrimSpace(text)}
	case "/questions":
		return input{kind: inputQuestions}
	case "/video":
		return input{kind: inputVideo}
	case "/help":
		return input{kind: inputHelp}
	case "/quit", "/exit":
		return input{kind: inputQuit}
	}
	return input{kind: inputUnknown, text: name}
}

func handleInput(ctx context.Context, page *session.Page, in input, out io.Writer) (bool, error) {
	switch in.kind {
	case inputChat:
		if err := page.Ready(eventman.RoomChat); err != nil {
			return false, err
		}
		return false, page.Chat().Send(ctx, in.text)
	case inputAsk:
		if err := page.Ready(eventman.RoomQnA); err != nil {
			return false, err
		}
		if err := page.QnA().Submit(ctx, in.text); err != nil {
			return false, err
		}
		fmt.Fprintln(out, "question submitted")
	case inputAnswer:
		if !page.CanAnswer() {
			return false, errors.New("only the organizer, speakers and admins can answer questions")
		}
		if err := page.Ready(eventman.RoomQnA); err != nil {
			return false, err
		}
		if _, ok := page.QnA().Question(in.id); !ok {
			return false, fmt.Errorf("unknown question %q", in.id)
		}
		return false, page.QnA().Answer(ctx, in.id, in.text)
	case inputQuestions:
		qs := page.QnA().NewestFirst()
		if len(qs) == 0 {
			fmt.Fprintln(out, "no questions yet")
		}
		for _, q := range qs {
			fmt.Fprintln(out, formatQuestion(q))
		}
	case inputVideo:
		if v := page.Video(); v != nil {
			fmt.Fprintf(out, "video: %s\n", v.Status())
			if err := v.Err(); err != nil {
				fmt.Fprintf(out, "video error: %v\n", err)
			}
		} else {
			fmt.Fprintln(out, "video disabled")
		}
	case inputHelp:
		fmt.Fprintln(out, liveHelp)
	case inputQuit:
		return true, nil
	case inputUnknown:
		return false, fmt.Errorf("unknown command %s, try /help", in.text)
	}
	return false, nil
}

func reportFeature(out io.Writer, name string, err error) {
	if err != nil {
		fmt.Fprintf(out, "! %s unavailable: %v\n", name, err)
	}
}

func printRoomStatus(out io.Writer, room eventman.Room, status eventman.MembershipStatus) {
	name := "chat"
	if room.Kind == eventman.RoomQnA {
		name = "q&a"
	}
	switch status {
	case eventman.MembershipJoinFailed:
		fmt.Fprintf(out, "! %s rejoin failed, input disabled\n", name)
	case eventman.MembershipJoined:
		fmt.Fprintf(out, "! %s rejoined\n", name)
	}
}

func printMessage(out io.Writer, m eventman.ChatMessage) {
	fmt.Fprintf(out, "[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04"), m.User.Name, m.Message)
}

func formatQuestion(q eventman.Question) string {
	s := fmt.Sprintf("? %s %s asks: %s", q.ID, q.User.Name, q.Question)
	if q.IsAnswered {
		by := ""
		if q.AnsweredBy != nil {
			by = " (" + q.AnsweredBy.Name + ")"
		}
		s += "\n  answer" + by + ": " + q.Answer
	}
	return s
}

// questionPrinter turns full Q&A snapshots into lines for what changed.
type questionPrinter struct {
	mu       sync.Mutex
	answered map[string]bool
}

func newQuestionPrinter() *questionPrinter {
	return &questionPrinter{answered: make(map[string]bool)}
}

func (p *questionPrinter) diff(qs []eventman.Question) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var lines []string
	for _, q := range qs {
		was, seen := p.answered[q.ID]
		p.answered[q.ID] = q.IsAnswered
		switch {
		case !seen:
			lines = append(lines, formatQuestion(q))
		case !was && q.IsAnswered:
			lines = append(lines, formatQuestion(q))
		}
	}
	return lines
}

func readInput(r io.Reader, dst chan<- string) {
	defer close(dst)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		dst <- scanner.Text()
	}
}

// syncWriter serializes writes from listener goroutines and the input loop.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
