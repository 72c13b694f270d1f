package models

import "time"

// WaitlistEntry is one signup, keyed by email. Rows are only ever inserted.
type WaitlistEntry struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	Email              string    `gorm:"not null;uniqueIndex:idx_waitlist_email" json:"email"`
	TwitterHandle      string    `gorm:"column:twitter_handle" json:"twitter_handle"`
	IsFollowingTwitter bool      `gorm:"column:is_following_twitter;not null;default:false" json:"is_following_twitter"`
	IPAddress          *string   `gorm:"column:ip_address" json:"ip_address"`
	UserAgent          string    `gorm:"column:user_agent" json:"user_agent"`
	CreatedAt          time.Time `gorm:"not null" json:"created_at"`
}

func (WaitlistEntry) TableName() string {
	return "waitlist"
}
