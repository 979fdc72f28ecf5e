package reconcile

import "strings"

// IsBotActor reports whether identity names the bot. Azure Boards renders
// actors as "Display Name <unique-name>"; the whole string is compared,
// ignoring surrounding whitespace.
func IsBotActor(identity, botIdentity string) bool {
	identity = strings.TrimSpace(identity)
	botIdentity = strings.TrimSpace(botIdentity)
	if identity == "" || botIdentity == "" {
		return false
	}
	return identity == botIdentity
}
