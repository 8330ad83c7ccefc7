package types

import (
	"time"

	"github.com/lib/pq"
)

// User is a db model of an actor, local or remote.
type User struct {
	ID        string         `json:"id" gorm:"type:text;primaryKey"`
	URL       string         `json:"url" gorm:"type:text;uniqueIndex"`
	Handle    string         `json:"handle" gorm:"type:text;index:idx_user_handle"`
	Domain    string         `json:"domain" gorm:"type:text;index:idx_user_handle"`
	Name      string         `json:"name" gorm:"type:text"`
	Summary   string         `json:"summary" gorm:"type:text"`
	Tags      pq.StringArray `json:"tags" gorm:"type:text[]"`
	Links     []UserLink     `json:"links" gorm:"type:text;serializer:json"`
	Images    UserImages     `json:"images" gorm:"embedded;embeddedPrefix:image_"`
	Counts    UserCounts     `json:"counts" gorm:"embedded;embeddedPrefix:count_"`
	Flags     UserFlags      `json:"flags" gorm:"embedded;embeddedPrefix:flag_"`
	InboxURL  string         `json:"inboxUrl,omitempty" gorm:"type:text"`
	PublicKey string         `json:"publicKey" gorm:"type:text"`
	// PrivateKey is only set for local users.
	PrivateKey string    `json:"-" gorm:"type:text"`
	Created    time.Time `json:"created" gorm:"autoCreateTime"`
	Updated    time.Time `json:"updated" gorm:"autoUpdateTime"`
}

// KeyID returns the id of the user's main key.
func (u User) KeyID() string {
	return u.URL + "#main-key"
}

type UserLink struct {
	Name string `json:"name"`
	Href string `json:"href"`
}

type UserImages struct {
	Cover   string `json:"cover,omitempty" gorm:"type:text"`
	Profile string `json:"profile,omitempty" gorm:"type:text"`
}

// UserCounts are denormalized aggregates of the follows table.
type UserCounts struct {
	Followers int64 `json:"followers" gorm:"not null;default:0"`
	Following int64 `json:"following" gorm:"not null;default:0"`
	Content   int64 `json:"content" gorm:"not null;default:0"`
}

type UserFlags struct {
	Local                     bool `json:"local" gorm:"not null;default:false"`
	ManuallyApprovesFollowers bool `json:"manuallyApprovesFollowers" gorm:"not null;default:false"`
}

// FollowState is the approval state of a follow edge.
// The absence of an edge means NotFollowing.
type FollowState string

const (
	FollowStateFollowing    FollowState = "following"
	FollowStatePending      FollowState = "pending"
	FollowStateNotFollowing FollowState = "not-following"
)

// UserFollow is a db model of a directed follow edge: UserID follows FollowsID.
type UserFollow struct {
	UserID     string      `json:"user" gorm:"type:text;primaryKey"`
	FollowsID  string      `json:"follows" gorm:"type:text;primaryKey;index"`
	ActivityID string      `json:"activityId" gorm:"type:text;index"`
	State      FollowState `json:"state" gorm:"type:text;not null"`
	Created    time.Time   `json:"created" gorm:"autoCreateTime"`
}
