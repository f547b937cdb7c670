package domain

import "time"

// VideoStatus is the moderation status of a submitted video.
type VideoStatus string

const (
	VideoPending  VideoStatus = "pending"
	VideoApproved VideoStatus = "approved"
	VideoRejected VideoStatus = "rejected"
)

// Valid reports whether s is a known status.
func (s VideoStatus) Valid() bool {
	switch s {
	case VideoPending, VideoApproved, VideoRejected:
		return true
	default:
		return false
	}
}

// Video is a paid submission waiting for, or past, moderation.
type Video struct {
	ID          int64       `json:"id"`
	URL         string      `json:"url"`
	SubmittedBy int64       `json:"submittedBy"`
	SubmittedAt time.Time   `json:"submittedAt"`
	Status      VideoStatus `json:"status"`
	Cost        int64       `json:"cost"`
	ReviewedBy  *int64      `json:"reviewedBy,omitempty"`
	ReviewedAt  *time.Time  `json:"reviewedAt,omitempty"`
}
