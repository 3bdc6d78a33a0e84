package models

// User is the authenticated-user profile as returned by the backend. It is
// only ever replaced wholesale from server responses, never locally guessed.
type User struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
	CreatedAt string `json:"created_at"`
	ImageURL  string `json:"image_url,omitempty"`
}
