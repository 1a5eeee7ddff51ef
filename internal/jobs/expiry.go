package jobs

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/plantlink/garden-relay-go/internal/pending"
)

// SweeperSource lists the trackers to sweep. Satisfied by router.Router.
type SweeperSource interface {
	Sweepers() []pending.Sweeper
}

// ExpiryJob periodically expires pending device requests that outlived
// their tracker's TTL.
type ExpiryJob struct {
	source   SweeperSource
	interval time.Duration
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewExpiryJob(source SweeperSource, interval time.Duration) *ExpiryJob {
	return &ExpiryJob{
		source:   source,
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (j *ExpiryJob) Start() {
	j.wg.Add(1)
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("pending expiry job started")
}

func (j *ExpiryJob) Stop() {
	j.stopOnce.Do(func() {
		close(j.done)
		j.wg.Wait()
		log.Info().Msg("pending expiry job stopped")
	})
}

func (j *ExpiryJob) run() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.Sweep()
		}
	}
}

// Sweep runs one pass over every tracker and returns the number of expired
// entries.
func (j *ExpiryJob) Sweep() int {
	total := 0
	for _, s := range j.source.Sweepers() {
		total += j.runSweep(s)
	}
	return total
}

func (j *ExpiryJob) runSweep(s pending.Sweeper) (count int) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Str("category", s.Category()).Msg("pending sweep panicked")
		}
	}()

	count = s.ExpireStale()
	if count > 0 {
		log.Info().
			Str("category", s.Category()).
			Int("count", count).
			Int("remaining", s.Len()).
			Msg("expired pending device requests")
	}
	return count
}
