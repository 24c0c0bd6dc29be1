package services

import (
	"context"
	"time"

	"offer-market/internal/domain"
	"offer-market/pkg/logger"

	"github.com/robfig/cron/v3"
)

// RankingSnapshotJob periodically writes the top offers to the ranking cache.
// Only the instance holding the leader lease writes.
type RankingSnapshotJob struct {
	cron       *cron.Cron
	ranking    *RankingService
	cache      domain.RankingCache
	leader     domain.LeaderElection
	instanceID string
	schedule   string
	limit      int
	log        logger.Logger
}

func NewRankingSnapshotJob(ranking *RankingService, cache domain.RankingCache, leader domain.LeaderElection,
	instanceID, schedule string, limit int, log logger.Logger) *RankingSnapshotJob {
	return &RankingSnapshotJob{
		cron:       cron.New(cron.WithSeconds()),
		ranking:    ranking,
		cache:      cache,
		leader:     leader,
		instanceID: instanceID,
		schedule:   schedule,
		limit:      limit,
		log:        log,
	}
}

func (j *RankingSnapshotJob) Start(ctx context.Context) error {
	j.log.Info("Starting ranking snapshot job", "schedule", j.schedule, "instance_id", j.instanceID)

	_, err := j.cron.AddFunc(j.schedule, func() {
		if err := j.Snapshot(ctx); err != nil {
			j.log.Error("Ranking snapshot failed", "error", err)
		}
	})
	if err != nil {
		return err
	}

	j.cron.Start()
	return nil
}

// Stop waits for a running snapshot to finish and gives up the lease.
func (j *RankingSnapshotJob) Stop() error {
	j.log.Info("Stopping ranking snapshot job")
	<-j.cron.Stop().Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return j.leader.ReleaseLeadership(ctx, j.instanceID)
}

// Snapshot stores the current ranking if this instance holds, or can take,
// the leader lease.
func (j *RankingSnapshotJob) Snapshot(ctx context.Context) error {
	leader, err := j.acquireLease(ctx)
	if err != nil {
		return err
	}
	if !leader {
		j.log.Debug("Skipping ranking snapshot, not leader", "instance_id", j.instanceID)
		return nil
	}

	ranked, err := j.ranking.TopOffers(ctx, j.limit)
	if err != nil {
		return err
	}
	if err := j.cache.StoreRanking(ctx, ranked); err != nil {
		return err
	}

	j.log.Debug("Ranking snapshot stored", "entries", len(ranked))
	return nil
}

func (j *RankingSnapshotJob) acquireLease(ctx context.Context) (bool, error) {
	isLeader, err := j.leader.IsLeader(ctx, j.instanceID)
	if err != nil {
		return false, err
	}
	if isLeader {
		return j.leader.ExtendLeadership(ctx, j.instanceID)
	}

	won, err := j.leader.BecomeLeader(ctx, j.instanceID)
	if err != nil {
		return false, err
	}
	if won {
		j.log.Info("Acquired ranking snapshot leadership", "instance_id", j.instanceID)
	}
	return won, nil
}
