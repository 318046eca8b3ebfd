package model

import "time"

// DocumentStatus is the processing outcome shown to users.
type DocumentStatus string

// Document statuses. A mapping failure never yields StatusFailed.
const (
	StatusPending        DocumentStatus = "pending"
	StatusCompleted      DocumentStatus = "completed"
	StatusRequiresReview DocumentStatus = "requires_review"
	StatusFailed         DocumentStatus = "failed"
)

// Document tracks one uploaded file through extraction and mapping.
type Document struct {
	ID               string         `json:"id"`
	UserID           string         `json:"user_id"`
	FileURL          string         `json:"file_url"`
	Status           DocumentStatus `json:"status"`
	ExtractionMethod string         `json:"extraction_method,omitempty"`
	TotalCost        float64        `json:"total_cost"`
	Confidence       float64        `json:"confidence"`
	Error            string         `json:"error,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}
