package jobs

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/plantlink/garden-relay-go/internal/pending"
	"github.com/plantlink/garden-relay-go/internal/transport"
	"github.com/plantlink/garden-relay-go/internal/transport/transporttest"
)

type stubSweeper struct {
	category string
	expired  int
	calls    atomic.Int32
	panics   bool
}

func (s *stubSweeper) Category() string { return s.category }

func (s *stubSweeper) ExpireStale() int {
	s.calls.Add(1)
	if s.panics {
		panic("boom")
	}
	return s.expired
}

func (s *stubSweeper) ReleaseConn(transport.Conn) int { return 0 }

func (s *stubSweeper) Len() int { return 0 }

type staticSource []pending.Sweeper

func (s staticSource) Sweepers() []pending.Sweeper { return s }

func TestExpiryJob_Sweep(t *testing.T) {
	t.Run("sums expirations across trackers", func(t *testing.T) {
		a := &stubSweeper{category: "assign", expired: 2}
		b := &stubSweeper{category: "moisture", expired: 1}

		job := NewExpiryJob(staticSource{a, b}, time.Hour)

		assert.Equal(t, 3, job.Sweep())
		assert.Equal(t, int32(1), a.calls.Load())
		assert.Equal(t, int32(1), b.calls.Load())
	})

	t.Run("a panicking tracker does not stop the others", func(t *testing.T) {
		bad := &stubSweeper{category: "bad", panics: true}
		good := &stubSweeper{category: "good", expired: 1}

		job := NewExpiryJob(staticSource{bad, good}, time.Hour)

		assert.NotPanics(t, func() {
			assert.Equal(t, 1, job.Sweep())
		})
		assert.Equal(t, int32(1), good.calls.Load())
	})

	t.Run("expires real tracker entries past their TTL", func(t *testing.T) {
		now := time.Now()
		var mu sync.Mutex
		clock := func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return now
		}
		tracker := pending.New[string, string]("assign", time.Second, pending.WithClock[string, string](clock))
		conn := transporttest.NewConn("c1")

		var gotErr error
		tracker.Register("p1", conn, "ctx", func(_ transport.Conn, _ string, _ string, err error) {
			gotErr = err
		})

		job := NewExpiryJob(staticSource{tracker}, time.Hour)
		assert.Equal(t, 0, job.Sweep())

		mu.Lock()
		now = now.Add(2 * time.Second)
		mu.Unlock()

		assert.Equal(t, 1, job.Sweep())
		assert.Error(t, gotErr)
		assert.Equal(t, 0, tracker.Len())
	})
}

func TestExpiryJob_StartStop(t *testing.T) {
	s := &stubSweeper{category: "assign"}
	job := NewExpiryJob(staticSource{s}, 10*time.Millisecond)

	job.Start()
	assert.Eventually(t, func() bool { return s.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	job.Stop()

	calls := s.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, s.calls.Load())

	assert.NotPanics(t, job.Stop)
}
