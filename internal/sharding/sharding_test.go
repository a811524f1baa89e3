package sharding

import (
	"fmt"
	"hash/crc32"
	"strings"
	"testing"
)

func TestGetShardID(t *testing.T) {
	tests := []struct {
		matchID string
		want    int
	}{
		{"match-1", 11},
		{"match-2", 433},
		{"wimbledon-2026-f", 33},
	}

	for _, tt := range tests {
		t.Run(tt.matchID, func(t *testing.T) {
			if got := GetShardID(tt.matchID); got != tt.want {
				t.Errorf("GetShardID(%q) = %v, want %v", tt.matchID, got, tt.want)
			}
		})
	}
}

func TestScoreSubject(t *testing.T) {
	want := fmt.Sprintf("app.score.%d.match.match-1", int(crc32.ChecksumIEEE([]byte("match-1"))%ShardCount))
	if got := ScoreSubject("match-1"); got != want {
		t.Errorf("ScoreSubject = %v, want %v", got, want)
	}
}

func TestMatchWildcard(t *testing.T) {
	got := MatchWildcard("match-1")
	if got != "app.score.*.match.match-1" {
		t.Errorf("MatchWildcard = %v", got)
	}
	if !strings.Contains(got, ".match.") {
		t.Errorf("wildcard missing match segment: %v", got)
	}
}

func TestStableSharding(t *testing.T) {
	id := "test-stable-id"
	if GetShardID(id) != GetShardID(id) {
		t.Error("sharding is not deterministic")
	}
	if GetShardID(id) != 730 {
		t.Errorf("GetShardID(%q) = %d, want 730", id, GetShardID(id))
	}
}

func TestDistribution(t *testing.T) {
	distribution := make(map[int]int)
	for i := 0; i < 1000; i++ {
		distribution[GetShardID(fmt.Sprintf("match-%d", i))]++
	}
	if len(distribution) < 100 {
		t.Errorf("shard distribution too poor: %d unique shards for 1000 keys", len(distribution))
	}
}
