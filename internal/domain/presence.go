package domain

// PresenceUser identifies the participant behind a presence record.
type PresenceUser struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

// Cursor is an opaque pixel offset computed by the editing surface.
type Cursor struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Presence is the record a participant tracks on a document topic.
type Presence struct {
	User     PresenceUser `json:"user"`
	Cursor   *Cursor      `json:"cursor"`
	LastSeen int64        `json:"lastSeen"` // Unix milliseconds
}

// PresenceUserFrom builds the presence identity for a user.
func PresenceUserFrom(u *User) PresenceUser {
	username := u.Username
	if username == "" {
		username = UsernameFromEmail(u.Email)
	}
	return PresenceUser{ID: u.ID, Email: u.Email, Username: username}
}

// ClonePresenceMap returns a shallow copy of a presence view. Cursor
// pointers are copied so callers cannot mutate the source.
func ClonePresenceMap(src map[string]Presence) map[string]Presence {
	dst := make(map[string]Presence, len(src))
	for k, p := range src {
		if p.Cursor != nil {
			c := *p.Cursor
			p.Cursor = &c
		}
		dst[k] = p
	}
	return dst
}

var participantColors = []string{
	"#FF6B6B", // Red
	"#4ECDC4", // Teal
	"#45B7D1", // Blue
	"#96CEB4", // Green
	"#FFEEAD", // Yellow
	"#D4A5A5", // Pink
	"#9B59B6", // Purple
	"#3498DB", // Light Blue
}

// ColorFor returns a stable display colour for a participant.
func ColorFor(userID string) string {
	sum := 0
	for _, r := range userID {
		sum += int(r)
	}
	return participantColors[sum%len(participantColors)]
}
