package domain

import "time"

// Document is a knowledge-base entry. Scope ties it to the agent knowledge
// scopes that may retrieve it.
type Document struct {
	ID        int64     `json:"id"`
	Scope     string    `json:"scope"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
