package models

// UserType is the role a user registers with
type UserType string

const (
	UserTypePlayer    UserType = "player"
	UserTypeCoach     UserType = "coach"
	UserTypeSpectator UserType = "spectator"
)

// Valid reports whether t is a known user type
func (t UserType) Valid() bool {
	switch t {
	case UserTypePlayer, UserTypeCoach, UserTypeSpectator:
		return true
	default:
		return false
	}
}

// CanJoinTeam returns true for types that count in a team roster
func (t UserType) CanJoinTeam() bool {
	return t == UserTypePlayer || t == UserTypeCoach
}

// User represents a registered user
type User struct {
	ID       string    `json:"id" db:"id"`
	Username string    `json:"username" db:"username"`
	Email    string    `json:"email" db:"email"`
	Type     *UserType `json:"type" db:"type"`
	TeamID   *string   `json:"teamId" db:"team_id"`
}

// HasType returns true if the user picked a type
func (u *User) HasType() bool {
	return u.Type != nil && *u.Type != ""
}

// IsPlayer returns true if the user plays
func (u *User) IsPlayer() bool {
	return u.Type != nil && *u.Type == UserTypePlayer
}

// IsCoach returns true if the user coaches
func (u *User) IsCoach() bool {
	return u.Type != nil && *u.Type == UserTypeCoach
}

// InTeam returns true if the user belongs to teamID
func (u *User) InTeam(teamID string) bool {
	return u.TeamID != nil && *u.TeamID == teamID
}

// Clone returns a deep copy of the user
func (u User) Clone() User {
	clone := u
	if u.Type != nil {
		userType := *u.Type
		clone.Type = &userType
	}
	if u.TeamID != nil {
		teamID := *u.TeamID
		clone.TeamID = &teamID
	}
	return clone
}
