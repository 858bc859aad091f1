package maps

import "time"

type Map struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeleteResult reports a map deletion: which blob hashes lost their last
// reference for this user and which track rows went away with the map.
type DeleteResult struct {
	Deleted     bool
	TrackIDs    []string
	HashesFreed []string
}
