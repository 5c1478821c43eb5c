package domain

import "time"

type Role string

const (
	RoleCustomer   Role = "customer"
	RoleManager    Role = "manager"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// Level orders roles by privilege. Unknown roles rank with customers.
func (r Role) Level() int {
	switch r {
	case RoleManager:
		return 1
	case RoleAdmin:
		return 2
	case RoleSuperAdmin:
		return 3
	}
	return 0
}

func (r Role) IsAdmin() bool {
	return r.Level() >= RoleAdmin.Level()
}

type User struct {
	ID    string
	Name  string
	Email string
	Role  Role
}

// ImpersonationSession is the persisted record every impersonation
// token points at. Tokens are only honoured while this row is active.
type ImpersonationSession struct {
	LogID        string
	AdminID      string
	TargetUserID string
	TokenID      string
	Reason       string
	IPAddress    string
	UserAgent    string
	StartedAt    time.Time
	ExpiresAt    time.Time
	EndedAt      *time.Time
}

func (s ImpersonationSession) Active(now time.Time) bool {
	return s.EndedAt == nil && now.Before(s.ExpiresAt)
}

// ImpersonationGrant is returned when a session starts.
type ImpersonationGrant struct {
	Token   string
	Session ImpersonationSession
	Target  User
}

// RequestMeta identifies where a privileged call came from.
type RequestMeta struct {
	IP        string
	UserAgent string
}
