// shared/models/profile.go
package models

import "github.com/google/uuid"

// PlayerProfile is a player's persistent profile, stored in MongoDB and cached
// under profile:<uuid>.
type PlayerProfile struct {
	UUID      string `bson:"_id" json:"uuid"`
	Username  string `bson:"username" json:"username"`
	Skin      string `bson:"skin" json:"skin"`
	LastLogin int64  `bson:"last_login" json:"lastLogin"` // Unix milliseconds
}

// PartyInvite is a pending invitation, cached under
// party-invite:<target>:<sender> until accepted or expired.
type PartyInvite struct {
	Sender    uuid.UUID `json:"sender"`
	Target    uuid.UUID `json:"target"`
	CreatedAt int64     `json:"createdAt"` // Unix milliseconds
}
