package model

import "time"

type QueueStatus string

const (
	QueueQueued     QueueStatus = "queued"
	QueueProcessing QueueStatus = "processing"
	QueuePosted     QueueStatus = "posted"
	QueueFailed     QueueStatus = "failed"
)

// Active reports whether the entry still blocks another entry for the same video.
func (s QueueStatus) Active() bool {
	return s == QueueQueued || s == QueueProcessing
}

type QueueEntry struct {
	ID          string           `json:"id"`
	UserID      string           `json:"user_id"`
	VideoID     string           `json:"video_id"`
	ScheduledAt time.Time        `json:"scheduled_at"`
	Platforms   []Platform       `json:"platforms"`
	Status      QueueStatus      `json:"status"`
	Results     []PlatformResult `json:"results,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

type PlatformResult struct {
	Platform Platform  `json:"platform"`
	Success  bool      `json:"success"`
	PostID   string    `json:"post_id,omitempty"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// OutcomeStatus is posted only when every platform succeeded.
func OutcomeStatus(results []PlatformResult) QueueStatus {
	if len(results) == 0 {
		return QueueFailed
	}
	for _, r := range results {
		if !r.Success {
			return QueueFailed
		}
	}
	return QueuePosted
}
