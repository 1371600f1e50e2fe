package protocol

import "time"

// Session is the server-side conversation the extension is bound to.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
	Active    bool      `json:"active"`
}

// Merge applies non-zero fields from upd onto s, returning the result.
// Used for session_update events, which may carry partial session objects.
func (s Session) Merge(upd Session) Session {
	if upd.ID != "" {
		s.ID = upd.ID
	}
	if upd.UserID != "" {
		s.UserID = upd.UserID
	}
	if !upd.CreatedAt.IsZero() {
		s.CreatedAt = upd.CreatedAt
	}
	if !upd.UpdatedAt.IsZero() {
		s.UpdatedAt = upd.UpdatedAt
	}
	if !upd.ExpiresAt.IsZero() {
		s.ExpiresAt = upd.ExpiresAt
	}
	s.Active = s.Active || upd.Active
	return s
}

// Preferences are user settings persisted across restarts and sent to the
// server when a new session is created.
type Preferences struct {
	Theme          string   `json:"theme"`
	Language       string   `json:"language"`
	Notifications  bool     `json:"notifications"`
	AllowedDomains []string `json:"allowedDomains,omitempty"`
}

// DefaultPreferences returns the settings used before the user changes
// anything.
func DefaultPreferences() Preferences {
	return Preferences{
		Theme:         "system",
		Language:      "en",
		Notifications: true,
	}
}

// ClientType is how this client identifies itself to the server.
const ClientType = "extension"

// DeviceInfo identifies this client to the server on session creation.
type DeviceInfo struct {
	ClientType    string `json:"clientType"`
	ClientVersion string `json:"clientVersion"`
	Platform      string `json:"platform,omitempty"`
}

// SessionInfo is the snapshot returned for session-info requests.
type SessionInfo struct {
	Session     *Session        `json:"session,omitempty"`
	State       ConnectionState `json:"state"`
	Preferences Preferences     `json:"preferences"`
}
