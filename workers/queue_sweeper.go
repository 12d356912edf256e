package workers

import (
	"context"
	"log"
	"time"

	"nardy-match-service/services"

	"github.com/go-co-op/gocron/v2"
)

// StartQueueSweeper prunes the matchmaking queue once a minute: entry
// documents expire on their own via TTL, the sweep drops the leftover
// sorted-set members so nobody pays the cost during a search. Returns the
// scheduler so main can shut it down.
func StartQueueSweeper(mm *services.MatchmakingService) gocron.Scheduler {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	_, _ = sched.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := mm.Sweep(ctx); err != nil {
				log.Printf("[Sweeper] Queue sweep failed: %v", err)
			}
		}),
	)

	return sched
}
