package dto

import (
	"time"

	"github.com/Additional-Code/loadmatch/internal/entity"
	"github.com/Additional-Code/loadmatch/internal/session"
)

// CreateUserRequest is the body of POST /users.
type CreateUserRequest struct {
	Name      string     `json:"name"`
	Phone     string     `json:"phone"`
	Role      string     `json:"role"`
	BirthDate *time.Time `json:"birth_date,omitempty"`
}

// UserResponse represents a dispatcher or loader.
type UserResponse struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	Phone     string     `json:"phone,omitempty"`
	Role      string     `json:"role"`
	Rating    float64    `json:"rating"`
	BirthDate *time.Time `json:"birth_date,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// FromUser maps a user entity.
func FromUser(u *entity.User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Name:      u.Name,
		Phone:     u.Phone,
		Role:      u.Role.String(),
		Rating:    u.Rating,
		BirthDate: u.BirthDate,
		CreatedAt: u.CreatedAt,
	}
}

// StartSessionRequest is the body of POST /sessions.
type StartSessionRequest struct {
	UserID int64 `json:"user_id"`
}

// PreferencesRequest is the body of PUT /sessions/current/preferences.
type PreferencesRequest struct {
	Preferences map[string]string `json:"preferences"`
}

// SessionResponse is the acting user on this device.
type SessionResponse struct {
	Token       string            `json:"token,omitempty"`
	UserID      int64             `json:"user_id"`
	Role        string            `json:"role"`
	Name        string            `json:"name"`
	Preferences map[string]string `json:"preferences"`
	StartedAt   time.Time         `json:"started_at"`
}

// FromSession maps a session; the token is only echoed when withToken is set.
func FromSession(s *session.Session, withToken bool) SessionResponse {
	resp := SessionResponse{
		UserID:      s.UserID,
		Role:        s.Role.String(),
		Name:        s.Name,
		Preferences: s.Preferences,
		StartedAt:   s.StartedAt,
	}
	if resp.Preferences == nil {
		resp.Preferences = map[string]string{}
	}
	if withToken {
		resp.Token = s.Token
	}
	return resp
}
