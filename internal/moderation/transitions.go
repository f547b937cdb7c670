package moderation

import "github.com/Proton-105/coinwatch/internal/domain"

// validTransitions lists the statuses reachable from each status. Approved
// and rejected are terminal.
var validTransitions = map[domain.VideoStatus][]domain.VideoStatus{
	domain.VideoPending: {
		domain.VideoApproved,
		domain.VideoRejected,
	},
}

// IsTransitionAllowed reports whether moving a video from one status to another is valid.
func IsTransitionAllowed(from, to domain.VideoStatus) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}

	for _, status := range allowed {
		if status == to {
			return true
		}
	}

	return false
}
