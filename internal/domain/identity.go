package domain

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Identity is the verified caller produced by the auth layer.
type Identity struct {
	UserID string
	Email  string
	Role   Role
}
