package types

// UserRole is the platform role of an account.
type UserRole string

const (
	UserRoleStudent UserRole = "student"
	UserRoleTeacher UserRole = "teacher"
)

// User is the profile returned by the backend's /profile endpoint.
type User struct {
	ID        int64    `json:"id"`
	Username  string   `json:"username"`
	Email     string   `json:"email"`
	Role      UserRole `json:"role"`
	Signature string   `json:"signature,omitempty"`
	Avatar    string   `json:"avatar,omitempty"`
	CreatedAt string   `json:"created_at,omitempty"`
}

// ProfileUpdate is a partial profile patch; nil fields are left unchanged.
type ProfileUpdate struct {
	Username  *string `json:"username,omitempty"`
	Email     *string `json:"email,omitempty"`
	Signature *string `json:"signature,omitempty"`
}

// Apply merges the patch into u.
func (p ProfileUpdate) Apply(u *User) {
	if p.Username != nil {
		u.Username = *p.Username
	}
	if p.Email != nil {
		u.Email = *p.Email
	}
	if p.Signature != nil {
		u.Signature = *p.Signature
	}
}

// Registration is the form posted to /register.
type Registration struct {
	Username  string   `json:"username"`
	Email     string   `json:"email"`
	Password  string   `json:"password"`
	Role      UserRole `json:"role,omitempty"`
	Signature string   `json:"signature,omitempty"`
}
