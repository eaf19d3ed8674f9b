package models

import "time"

type User struct {
	ID        int64     `json:"id" example:"1"`                   // User ID
	Email     string    `json:"email" example:"user@example.com"` // User email
	FirstName string    `json:"firstName" example:"John"`         // User first name
	LastName  string    `json:"lastName" example:"Doe"`           // User last name
	CreatedAt time.Time `json:"created_at"`
}

// HeadlineRecord is a saved generation result, shown on the dashboard
// history page.
type HeadlineRecord struct {
	ID        int64     `json:"id" db:"id"`
	UserID    int64     `json:"user_id" db:"user_id"`
	Topic     string    `json:"topic" db:"topic"`
	Audience  string    `json:"audience" db:"audience"`
	Tone      string    `json:"tone" db:"tone"`
	Keywords  []string  `json:"keywords" db:"keywords"`
	Results   []string  `json:"results" db:"results"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
