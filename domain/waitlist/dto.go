package waitlist

import (
	"github.com/akeren/waitlist-gate/internal/models"
	"github.com/akeren/waitlist-gate/pkg/constants"
)

type WaitlistEntryResponse struct {
	ID                 uint   `json:"id"`
	Email              string `json:"email"`
	TwitterHandle      string `json:"twitter_handle"`
	IsFollowingTwitter bool   `json:"is_following_twitter"`
	CreatedAt          string `json:"created_at"`
}

type WaitlistStatsResponse struct {
	Total int64 `json:"total"`
}

// ========================================
// Mappers
// ========================================

func ToWaitlistEntryResponse(entry *models.WaitlistEntry) WaitlistEntryResponse {
	if entry == nil {
		return WaitlistEntryResponse{}
	}
	return WaitlistEntryResponse{
		ID:                 entry.ID,
		Email:              entry.Email,
		TwitterHandle:      entry.TwitterHandle,
		IsFollowingTwitter: entry.IsFollowingTwitter,
		CreatedAt:          entry.CreatedAt.Format(constants.RFC3339DateTimeFormat),
	}
}
