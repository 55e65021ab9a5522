package rest

import (
	"fmt"
	"time"
)

// Authentication types

// LoginRequest is the request body for user login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse carries the access token and the logged in user.
type LoginResponse struct {
	AccessToken string `json:"accessToken"`
	User        User   `json:"user"`
}

// User roles.
const (
	RoleAttendee  = "attendee"
	RoleOrganizer = "organizer"
	RoleAdmin     = "admin"
)

// User is a platform account.
type User struct {
	ID    string `json:"_id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Event types

// EventStatus is the lifecycle status of an event.
type EventStatus string

const (
	StatusUpcoming  EventStatus = "upcoming"
	StatusLive      EventStatus = "live"
	StatusPast      EventStatus = "past"
	StatusCancelled EventStatus = "cancelled"
)

// UserRef references a user by id, optionally populated.
type UserRef struct {
	ID   string `json:"_id"`
	Name string `json:"name,omitempty"`
}

// Event is the event detail.
type Event struct {
	ID            string      `json:"_id"`
	Title         string      `json:"title"`
	Description   string      `json:"description,omitempty"`
	Status        EventStatus `json:"status"`
	StartTime     time.Time   `json:"startTime"`
	EndTime       time.Time   `json:"endTime"`
	JitsiRoomName string      `json:"jitsiRoomName"`
	Organizer     *UserRef    `json:"organizer,omitempty"`
	Speakers      []UserRef   `json:"speakers,omitempty"`
}

// RegistrationStatus reports whether the current user registered for an event.
type RegistrationStatus struct {
	IsRegistered bool `json:"isRegistered"`
}

// RegisteredEvent is the event summary embedded in a registration. Fields are
// optional on the wire; consumers validate them.
type RegisteredEvent struct {
	ID        string     `json:"_id"`
	Title     string     `json:"title"`
	StartTime *time.Time `json:"startTime,omitempty"`
}

// Registration is one of the current user's registrations.
type Registration struct {
	ID    string           `json:"_id,omitempty"`
	Event *RegisteredEvent `json:"event"`
}

// RegistrationsResponse is the current user's registrations snapshot.
type RegistrationsResponse struct {
	Registrations []Registration `json:"registrations"`
}

// envelope wraps every successful response.
type envelope[T any] struct {
	Data T `json:"data"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Message string `json:"message"`
}

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Message)
}
