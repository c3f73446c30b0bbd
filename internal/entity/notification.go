package entity

import "time"

// Notification is a user-targeted or broadcast notification.
type Notification struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id,omitempty"`
	Category  string         `json:"type,omitempty"`
	Title     string         `json:"title,omitempty"`
	Message   string         `json:"message"`
	Read      bool           `json:"read"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at,omitempty"`
}
