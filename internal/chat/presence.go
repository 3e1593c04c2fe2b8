package chat

import "github.com/samber/lo"

// Aggregate groups connections by userId into roster entries. Entries follow
// the order in which each userId first appears in connections, and the first
// connection of each group is used as the representative socket id.
func Aggregate(connections []Connection) []RosterEntry {
	counts := lo.CountValuesBy(connections, func(c Connection) string {
		return c.UserID
	})
	firsts := lo.UniqBy(connections, func(c Connection) string {
		return c.UserID
	})

	return lo.Map(firsts, func(c Connection, _ int) RosterEntry {
		return RosterEntry{
			UserID:          c.UserID,
			Nickname:        c.Nickname,
			ConnectionCount: counts[c.UserID],
			SocketID:        c.ID,
		}
	})
}
