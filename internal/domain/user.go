package domain

// User es el usuario autenticado tal como lo describen los claims del token.
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
}
