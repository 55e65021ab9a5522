package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/eventman/eventman-live/eventman/rest"
)

// Access errors returned by Page.Open.
var (
	ErrNotAuthenticated = errors.New("not logged in")
	ErrEventNotFound    = errors.New("event not found")
	ErrNotRegistered    = errors.New("you are not registered for this event")
	ErrNotLive          = errors.New("this event is not currently live")
)

// IsStaff reports whether user is the organizer, a listed speaker or a
// platform admin for ev.
func IsStaff(user Identity, ev *rest.Event) bool {
	if user.UserID == "" || ev == nil {
		return false
	}
	if user.IsAdmin() {
		return true
	}
	if ev.Organizer != nil && ev.Organizer.ID == user.UserID {
		return true
	}
	for _, s := range ev.Speakers {
		if s.ID == user.UserID {
			return true
		}
	}
	return false
}

// CanAnswer reports whether the answer control should be offered. The server
// still decides.
func CanAnswer(user Identity, ev *rest.Event) bool { return IsStaff(user, ev) }

// IsLive reports whether ev is live at now: status live and
// startTime <= now < endTime.
func IsLive(ev *rest.Event, now time.Time) bool {
	if ev == nil || ev.Status != rest.StatusLive {
		return false
	}
	return !now.Before(ev.StartTime) && now.Before(ev.EndTime)
}

// CheckAccess decides whether user may open the live page of ev. Staff do
// not need a registration.
func CheckAccess(user *Identity, ev *rest.Event, registered bool, now time.Time) error {
	if user == nil || user.UserID == "" {
		return ErrNotAuthenticated
	}
	if ev == nil {
		return ErrEventNotFound
	}
	if !registered && !IsStaff(*user, ev) {
		return ErrNotRegistered
	}
	if !IsLive(ev, now) {
		return fmt.Errorf("%w (status: %s)", ErrNotLive, ev.Status)
	}
	return nil
}
