package utils

import (
	"math/rand/v2"
	"time"
)

// ReputationLevel maps a reputation score onto a display rank.
func ReputationLevel(reputation int) (name string, icon string) {
	switch {
	case reputation >= 1000:
		return "Civic Champion", "🏛️"
	case reputation >= 201:
		return "Advocate", "📣"
	case reputation >= 51:
		return "Neighbor", "🏘️"
	case reputation >= 11:
		return "Resident", "🏠"
	default:
		return "Newcomer", "🌱"
	}
}

// DaysSinceJoined counts whole days between createdAt and now.
func DaysSinceJoined(createdAt, now time.Time) int {
	if now.Before(createdAt) {
		return 0
	}
	return int(now.Sub(createdAt).Hours() / 24)
}

// RandomAvatar picks a default avatar for new accounts.
func RandomAvatar() string {
	emojis := []string{"🚲", "🌳", "🏙️", "🚦", "🛠️", "💡", "🧹", "🚧", "🦊", "🐦", "🐝", "🌻"}
	return emojis[rand.IntN(len(emojis))]
}
