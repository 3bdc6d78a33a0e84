// Package models defines the wire types exchanged with the TailTrail backend
// and the client's error taxonomy.
package models

import "time"

// Post status values as the backend reports them.
const (
	StatusLost     = "lost"
	StatusFound    = "found"
	StatusReunited = "reunited"
)

// Known species selectors used by the feed filter.
const (
	SpeciesDog   = "dog"
	SpeciesCat   = "cat"
	SpeciesBird  = "bird"
	SpeciesOther = "other"
)

// Coordinate is the last-seen location attached to a post.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Post is a lost/found-pet post. The client never mutates individual fields;
// posts are replaced wholesale on refresh. IsLiked reflects server truth at
// fetch time; the feed engine overlays its own optimistic like state on top.
type Post struct {
	ID           string      `json:"id"`
	PetName      string      `json:"pet_name"`
	Species      string      `json:"pet_species"`
	Breed        string      `json:"pet_breed"`
	Age          float64     `json:"age"`
	Gender       string      `json:"gender"`
	Weight       float64     `json:"weight"`
	Color        string      `json:"color"`
	Images       []string    `json:"images"`
	LocationName string      `json:"location_name"`
	LastSeen     *Coordinate `json:"last_seen_location,omitempty"`
	Description  string      `json:"description"`
	ContactPhone string      `json:"contact_phone"`
	UserID       string      `json:"user_id"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
	LikesCount   int         `json:"likes_count"`
	IsLiked      bool        `json:"is_liked"`
	Status       string      `json:"status"`
}

// PostsPage is the paginated envelope the backend wraps post listings in.
type PostsPage struct {
	Posts      []Post `json:"posts"`
	Total      int    `json:"total"`
	Page       int    `json:"page"`
	PerPage    int    `json:"per_page"`
	TotalPages int    `json:"total_pages"`
	HasNext    bool   `json:"has_next"`
	HasPrev    bool   `json:"has_prev"`
}

// CreatedPost wraps the post returned from the create endpoint.
type CreatedPost struct {
	Post Post `json:"post"`
}
