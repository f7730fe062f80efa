package chat

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random UUID string used for sessions, messages and files.
func NewID() string {
	return uuid.NewString()
}

// ChannelIDFor normalizes an identity into a transport-safe channel id.
func ChannelIDFor(id string) string {
	return strings.ReplaceAll(id, "-", "_")
}

// SessionIDFromChannel inverts ChannelIDFor.
func SessionIDFromChannel(channelID string) string {
	return strings.ReplaceAll(channelID, "_", "-")
}
