package services

import (
	"context"
	"testing"
	"time"

	"offer-market/internal/infrastructure/leader"
	redisinfra "offer-market/internal/infrastructure/redis"
	"offer-market/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func TestRankingSnapshotOnlyLeaderWrites(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	store := newCatalogStore(t)
	offers, _ := newTestOfferService(t, store, "")
	place(t, offers, "item-a", "100")
	place(t, offers, "item-b", "250")

	ranking := NewRankingService(store, 10, 100, logger.NewNop())
	cache := redisinfra.NewRedisRankingCache(client, "ranking:top_offers")
	election := leader.NewRedisLeaderElection(client, "ranking_snapshot_leader", 30*time.Second)

	first := NewRankingSnapshotJob(ranking, cache, election, "instance-1", "@every 1h", 10, logger.NewNop())
	second := NewRankingSnapshotJob(ranking, cache, election, "instance-2", "@every 1h", 10, logger.NewNop())
	ctx := context.Background()

	if err := first.Snapshot(ctx); err != nil {
		t.Fatalf("leader snapshot: %v", err)
	}

	snapshot, err := cache.LoadRanking(ctx)
	if err != nil {
		t.Fatalf("load ranking: %v", err)
	}
	if len(snapshot) != 2 || snapshot[0].ItemName != "Signed Baseball" {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}

	// A follower must not overwrite the leader's snapshot.
	mr.Del("ranking:top_offers")
	if err := second.Snapshot(ctx); err != nil {
		t.Fatalf("follower snapshot: %v", err)
	}
	if mr.Exists("ranking:top_offers") {
		t.Fatal("follower wrote a snapshot while not leader")
	}

	if err := first.Stop(); err != nil {
		t.Fatalf("stop leader: %v", err)
	}
	if err := second.Snapshot(ctx); err != nil {
		t.Fatalf("snapshot after handover: %v", err)
	}
	if !mr.Exists("ranking:top_offers") {
		t.Fatal("expected the new leader to write a snapshot")
	}
}

func TestRankingSnapshotRejectsBadSchedule(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	ranking := NewRankingService(newCatalogStore(t), 10, 100, logger.NewNop())
	job := NewRankingSnapshotJob(ranking,
		redisinfra.NewRedisRankingCache(client, "ranking:top_offers"),
		leader.NewRedisLeaderElection(client, "ranking_snapshot_leader", time.Minute),
		"instance-1", "not a schedule", 10, logger.NewNop())

	if err := job.Start(context.Background()); err == nil {
		t.Fatal("expected an invalid schedule to be rejected")
	}
}
