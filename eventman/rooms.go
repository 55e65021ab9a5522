package eventman

import (
	"context"
	"sync"
	"time"
)

// RoomKind selects the feature a room carries for an event.
type RoomKind string

const (
	RoomChat RoomKind = "chat"
	RoomQnA  RoomKind = "qna"
)

// Room identifies one logical room: an event and a feature.
type Room struct {
	EventID string
	Kind    RoomKind
}

func (r Room) String() string { return r.EventID + "/" + string(r.Kind) }

func (r Room) joinEvent() string {
	if r.Kind == RoomQnA {
		return EventJoinQnaRoom
	}
	return EventJoinRoom
}

func (r Room) leaveEvent() string {
	if r.Kind == RoomQnA {
		return EventLeaveQnaRoom
	}
	return EventLeaveRoom
}

// MembershipStatus is the local view of a room membership.
type MembershipStatus int

const (
	MembershipNone MembershipStatus = iota
	MembershipJoining
	MembershipJoined
	MembershipJoinFailed
	MembershipLeft
)

func (s MembershipStatus) String() string {
	switch s {
	case MembershipNone:
		return "none"
	case MembershipJoining:
		return "joining"
	case MembershipJoined:
		return "joined"
	case MembershipJoinFailed:
		return "join-failed"
	case MembershipLeft:
		return "left"
	default:
		return "unknown"
	}
}

const rejoinTimeout = 15 * time.Second

// RoomManager tracks room memberships over a shared Transport. Rooms are
// independent: the outcome of one join never changes another room's status.
type RoomManager struct {
	transport Transport
	logger    Logger
	metrics   *Metrics

	mu       sync.Mutex
	rooms    map[Room]MembershipStatus
	onStatus func(Room, MembershipStatus)
	stateSub Subscription
	closed   bool
}

// RoomOption configures a RoomManager.
type RoomOption func(*RoomManager)

// WithRoomLogger sets the logger.
func WithRoomLogger(l Logger) RoomOption {
	return func(m *RoomManager) { m.logger = orNop(l) }
}

// WithRoomMetrics sets the metrics sink.
func WithRoomMetrics(metrics *Metrics) RoomOption {
	return func(m *RoomManager) { m.metrics = metrics }
}

// NewRoomManager creates a manager that rejoins its joined rooms whenever the
// transport comes back from reconnecting.
func NewRoomManager(t Transport, opts ...RoomOption) *RoomManager {
	m := &RoomManager{
		transport: t,
		logger:    noopLogger{},
		rooms:     make(map[Room]MembershipStatus),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.stateSub = t.OnStateChange(m.handleState)
	return m
}

// OnStatusChange registers a callback for membership transitions.
func (m *RoomManager) OnStatusChange(fn func(Room, MembershipStatus)) {
	m.mu.Lock()
	m.onStatus = fn
	m.mu.Unlock()
}

// Status returns the membership status of room.
func (m *RoomManager) Status(room Room) MembershipStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rooms[room]
}

// Join issues an acknowledged join. It is not retried: on failure the room is
// marked join-failed and the server's reason is returned.
func (m *RoomManager) Join(ctx context.Context, room Room) error {
	m.set(room, MembershipJoining)
	m.logger.Info("joining room", map[string]any{"room": room.String()})

	ack, err := m.transport.EmitWithAck(ctx, room.joinEvent(), RoomPayload{EventID: room.EventID})
	if err == nil && !ack.Success {
		err = rejection(ack, "Failed to join room")
	}

	next := MembershipJoined
	if err != nil {
		next = MembershipJoinFailed
	}
	if !m.settle(room, next) {
		m.logger.Debug("join acknowledgement after leave ignored", map[string]any{"room": room.String()})
		if err != nil {
			return err
		}
		return NewError(ErrorNotInRoom, "room left before join completed")
	}

	if err != nil {
		m.metrics.IncRoomJoin(room.Kind, "failed")
		m.logger.Warn("join failed", map[string]any{"room": room.String(), "error": err.Error()})
		return err
	}
	m.metrics.IncRoomJoin(room.Kind, "joined")
	m.logger.Info("joined room", map[string]any{"room": room.String()})
	return nil
}

// Leave marks the room left immediately and tells the server without
// waiting. It never blocks.
func (m *RoomManager) Leave(room Room) {
	m.mu.Lock()
	prev, known := m.rooms[room]
	m.mu.Unlock()
	if !known || prev == MembershipLeft {
		return
	}
	m.set(room, MembershipLeft)
	if err := m.transport.Emit(room.leaveEvent(), RoomPayload{EventID: room.EventID}); err != nil {
		m.logger.Debug("leave not delivered", map[string]any{"room": room.String(), "error": err.Error()})
	}
}

// Close leaves every room and stops following reconnects.
func (m *RoomManager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	rooms := make([]Room, 0, len(m.rooms))
	for r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.Unlock()

	m.transport.Off(m.stateSub)
	for _, r := range rooms {
		m.Leave(r)
	}
}

func (m *RoomManager) set(room Room, status MembershipStatus) {
	m.mu.Lock()
	if m.rooms[room] == status {
		m.mu.Unlock()
		return
	}
	m.rooms[room] = status
	fn := m.onStatus
	m.mu.Unlock()
	if fn != nil {
		fn(room, status)
	}
}

// settle records the outcome of a join acknowledgement. Any ack is
// authoritative, including one of several overlapping joins, unless the room
// was left or the manager closed while it was in flight.
func (m *RoomManager) settle(room Room, to MembershipStatus) bool {
	m.mu.Lock()
	if m.closed || m.rooms[room] == MembershipLeft {
		m.mu.Unlock()
		return false
	}
	changed := m.rooms[room] != to
	m.rooms[room] = to
	fn := m.onStatus
	m.mu.Unlock()
	if fn != nil && changed {
		fn(room, to)
	}
	return true
}

// handleState rejoins joined rooms after a reconnect. The server forgets
// memberships with the old connection.
func (m *RoomManager) handleState(ev StateEvent) {
	if ev.NewState != StateConnected || ev.OldState != StateReconnecting {
		return
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	var rejoin []Room
	for r, s := range m.rooms {
		if s == MembershipJoined {
			rejoin = append(rejoin, r)
		}
	}
	m.mu.Unlock()

	for _, r := range rejoin {
		go func(room Room) {
			ctx, cancel := context.WithTimeout(context.Background(), rejoinTimeout)
			defer cancel()
			if err := m.Join(ctx, room); err != nil {
				m.logger.Warn("rejoin failed", map[string]any{"room": room.String(), "error": err.Error()})
			}
		}(r)
	}
}
