package models

// User is the identity the token provider resolves a bearer token to.
// Only the fields the client needs; the portal backend owns the rest.
type User struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
}
