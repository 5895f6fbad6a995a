// shared/redis/constants.go
package redis

import "fmt"

const (
	// HeartbeatChannel carries every process's periodic self-announcement.
	HeartbeatChannel = "service:heartbeat"
	// ServiceChannelPrefix + service id is the targeted channel of one process.
	ServiceChannelPrefix = "service-messages-"
	// GlobalChannel carries messages addressed to every process.
	GlobalChannel = ServiceChannelPrefix + "global"

	ProfileKeyPrefix     = "profile:%s"         // profile:<uuid>
	PartyInviteKeyPrefix = "party-invite:%s:%s" // party-invite:<target>:<sender>
	GamesKey             = "games"              // list of active match records
)

// ServiceChannel returns the targeted channel for the given service id.
func ServiceChannel(serviceID string) string {
	return ServiceChannelPrefix + serviceID
}

// ProfileKey returns the cache key of a player profile.
func ProfileKey(playerUUID string) string {
	return fmt.Sprintf(ProfileKeyPrefix, playerUUID)
}

// PartyInviteKey returns the cache key of a pending party invitation.
func PartyInviteKey(target, sender string) string {
	return fmt.Sprintf(PartyInviteKeyPrefix, target, sender)
}
