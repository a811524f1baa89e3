package sharding

import (
	"fmt"
	"hash/crc32"
)

// ShardCount is the fixed number of score subject partitions.
const ShardCount = 1024

// GetShardID calculates the deterministic shard ID for a match ID.
func GetShardID(matchID string) int {
	checksum := crc32.ChecksumIEEE([]byte(matchID))
	return int(checksum % ShardCount)
}

// ScoreSubject returns the NATS subject score events for a match are
// published on. Format: app.score.{shard_id}.match.{match_id}
func ScoreSubject(matchID string) string {
	return fmt.Sprintf("app.score.%d.match.%s", GetShardID(matchID), matchID)
}

// MatchWildcard returns the subscription subject matching every score event
// for one match regardless of shard.
func MatchWildcard(matchID string) string {
	return "app.score.*.match." + matchID
}
