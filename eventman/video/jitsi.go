package video

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

// DefaultDomain is the public conference deployment.
const DefaultDomain = "meet.jit.si"

// DefaultDisplayName is used when the user has no name.
const DefaultDisplayName = "Attendee"

// HTTPScriptLoader fetches the external API script of a conference domain.
// In a terminal there is nothing to execute; a successful fetch proves the
// deployment is reachable before a link is handed out.
type HTTPScriptLoader struct {
	Domain string
	Client *http.Client
}

// ScriptURL returns the external API script location.
func (l HTTPScriptLoader) ScriptURL() string {
	domain := l.Domain
	if domain == "" {
		domain = DefaultDomain
	}
	return "https://" + domain + "/external_api.js"
}

// Load implements Loader.
func (l HTTPScriptLoader) Load(ctx context.Context) error {
	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.ScriptURL(), nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", l.ScriptURL(), resp.Status)
	}
	return nil
}

// MeetingURL builds the join link for opts, carrying the same config and
// user info a browser embed would get.
func MeetingURL(opts WidgetOptions) string {
	domain := opts.Domain
	if domain == "" {
		domain = DefaultDomain
	}
	name := opts.DisplayName
	if name == "" {
		name = DefaultDisplayName
	}
	frag := []string{
		"config.prejoinPageEnabled=false",
		fmt.Sprintf("config.startWithAudioMuted=%t", opts.StartMuted),
		fmt.Sprintf("config.startWithVideoMuted=%t", opts.StartMuted),
		"userInfo.displayName=" + url.PathEscape(`"`+name+`"`),
	}
	if opts.Email != "" {
		frag = append(frag, "userInfo.email="+url.PathEscape(`"`+opts.Email+`"`))
	}
	return "https://" + domain + "/" + url.PathEscape(opts.RoomName) + "#" + strings.Join(frag, "&")
}

// TextMount is a terminal Mount: it writes rendered content to out and
// remembers what is currently shown.
type TextMount struct {
	out io.Writer

	mu      sync.Mutex
	content string
}

// NewTextMount creates a mount writing to out.
func NewTextMount(out io.Writer) *TextMount {
	return &TextMount{out: out}
}

// Render replaces the shown content.
func (m *TextMount) Render(content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.content = content
	if m.out != nil {
		fmt.Fprintln(m.out, content)
	}
}

// Clear implements Mount.
func (m *TextMount) Clear() {
	m.mu.Lock()
	m.content = ""
	m.mu.Unlock()
}

// Content returns what is currently shown.
func (m *TextMount) Content() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.content
}

// LinkWidget renders the conference as a join link. Showing the link is the
// terminal's equivalent of joining, so it reports the conference joined as
// soon as a listener is registered.
type LinkWidget struct {
	mount *TextMount
	link  string

	mu       sync.Mutex
	subject  string
	disposed bool
}

// LinkFactory returns a Factory producing LinkWidgets. The mount passed in
// WidgetOptions must be a *TextMount.
func LinkFactory() Factory {
	return func(_ context.Context, opts WidgetOptions) (Widget, error) {
		mount, ok := opts.Mount.(*TextMount)
		if !ok {
			return nil, fmt.Errorf("link widget needs a *TextMount, got %T", opts.Mount)
		}
		if opts.RoomName == "" {
			return nil, fmt.Errorf("link widget: empty room name")
		}
		w := &LinkWidget{mount: mount, link: MeetingURL(opts)}
		w.render()
		return w, nil
	}
}

// Link returns the join link.
func (w *LinkWidget) Link() string { return w.link }

// On implements Widget.
func (w *LinkWidget) On(event string, fn func()) {
	w.mu.Lock()
	disposed := w.disposed
	w.mu.Unlock()
	if event == EventConferenceJoined && !disposed {
		fn()
	}
}

// SetSubject implements Widget.
func (w *LinkWidget) SetSubject(subject string) error {
	w.mu.Lock()
	if w.disposed {
		w.mu.Unlock()
		return fmt.Errorf("link widget disposed")
	}
	w.subject = subject
	w.mu.Unlock()
	w.render()
	return nil
}

// Dispose implements Widget.
func (w *LinkWidget) Dispose() error {
	w.mu.Lock()
	w.disposed = true
	w.mu.Unlock()
	return nil
}

func (w *LinkWidget) render() {
	w.mu.Lock()
	subject := w.subject
	w.mu.Unlock()
	if subject == "" {
		w.mount.Render("video: " + w.link)
		return
	}
	w.mount.Render("video [" + subject + "]: " + w.link)
}
