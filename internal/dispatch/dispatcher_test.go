package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shehryarbajwa/gridrunner/pkg/models"
)

func makeItems(n int) []models.WorkItem {
	items := make([]models.WorkItem, n)
	for i := range items {
		items[i] = models.WorkItem{
			Index:        i,
			Browser:      models.BrowserConfig{Name: []string{"chrome", "firefox", "safari", "edge", "ie11", "opera"}[i%6]},
			AssignedPort: 9000 + i,
		}
	}
	return items
}

type gateFunc func(ctx context.Context) error

func (f gateFunc) WaitForSlot(ctx context.Context) error { return f(ctx) }

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.RunEvent
}

func (p *recordingPublisher) Publish(e models.RunEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func TestDispatchAllReturnsIndexOrder(t *testing.T) {
	delays := map[int]time.Duration{0: 100 * time.Millisecond, 1: 200 * time.Millisecond, 2: 10 * time.Millisecond}

	var mu sync.Mutex
	var completion []int

	d := NewDispatcher("run", nil, nil, nil)
	outcomes := d.DispatchAll(context.Background(), makeItems(3), 3, func(ctx context.Context, item models.WorkItem) (models.WorkerOutcome, error) {
		time.Sleep(delays[item.Index])
		mu.Lock()
		completion = append(completion, item.Index)
		mu.Unlock()
		return models.WorkerOutcome{ExitCode: 0, Payload: []byte{byte(item.Index)}}, nil
	})

	assert.Equal(t, []int{2, 0, 1}, completion)
	require.Len(t, outcomes, 3)
	for i, o := range outcomes {
		assert.Equal(t, i, o.Index)
		assert.Equal(t, []byte{byte(i)}, o.Payload)
		assert.False(t, o.FinishedAt.Before(o.StartedAt))
	}
}

func TestDispatchAllBoundsConcurrency(t *testing.T) {
	var running, peak int32

	d := NewDispatcher("run", nil, nil, nil)
	outcomes := d.DispatchAll(context.Background(), makeItems(6), 2, func(ctx context.Context, item models.WorkItem) (models.WorkerOutcome, error) {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return models.WorkerOutcome{}, nil
	})

	assert.Len(t, outcomes, 6)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestDispatchAllContainsFailures(t *testing.T) {
	d := NewDispatcher("run", nil, nil, nil)
	outcomes := d.DispatchAll(context.Background(), makeItems(4), 0, func(ctx context.Context, item models.WorkItem) (models.WorkerOutcome, error) {
		switch item.Index {
		case 1:
			return models.WorkerOutcome{}, errors.New("selenium session refused")
		case 2:
			panic("driver blew up")
		case 3:
			return models.WorkerOutcome{ExitCode: 2}, nil
		}
		return models.WorkerOutcome{ExitCode: 0}, nil
	})

	require.Len(t, outcomes, 4)
	assert.Equal(t, 0, outcomes[0].ExitCode)
	assert.Empty(t, outcomes[0].Err)

	assert.Equal(t, 1, outcomes[1].ExitCode)
	assert.Contains(t, outcomes[1].Err, "selenium session refused")

	assert.Equal(t, 1, outcomes[2].ExitCode)
	assert.Contains(t, outcomes[2].Err, "driver blew up")

	assert.Equal(t, 2, outcomes[3].ExitCode)
}

func TestDispatchAllAdmissionPerWorker(t *testing.T) {
	var gateCalls int32
	gate := gateFunc(func(ctx context.Context) error {
		atomic.AddInt32(&gateCalls, 1)
		index, ok := WorkerIndex(ctx)
		assert.True(t, ok)
		if index == 1 {
			return errors.New("no remote sessions available")
		}
		return nil
	})

	var ran []int
	var mu sync.Mutex
	events := &recordingPublisher{}

	d := NewDispatcher("run-7", gate, events, nil)
	outcomes := d.DispatchAll(context.Background(), makeItems(3), 3, func(ctx context.Context, item models.WorkItem) (models.WorkerOutcome, error) {
		mu.Lock()
		ran = append(ran, item.Index)
		mu.Unlock()
		return models.WorkerOutcome{ExitCode: 0}, nil
	})

	assert.Equal(t, int32(3), atomic.LoadInt32(&gateCalls))
	assert.ElementsMatch(t, []int{0, 2}, ran)
	assert.Equal(t, 0, outcomes[0].ExitCode)
	assert.Equal(t, 1, outcomes[1].ExitCode)
	assert.Contains(t, outcomes[1].Err, "no remote sessions available")
	assert.Equal(t, 0, outcomes[2].ExitCode)

	var admitted, finished int
	for _, e := range events.events {
		assert.Equal(t, "run-7", e.RunID)
		switch e.Type {
		case models.EventWorkerAdmitted:
			admitted++
		case models.EventWorkerFinished:
			finished++
		}
	}
	assert.Equal(t, 2, admitted)
	assert.Equal(t, 3, finished)
}

func TestDispatchAllEmpty(t *testing.T) {
	d := NewDispatcher("run", nil, nil, nil)
	assert.Empty(t, d.DispatchAll(context.Background(), nil, 4, nil))
}

func TestWorkerIndexMissing(t *testing.T) {
	_, ok := WorkerIndex(context.Background())
	assert.False(t, ok)
}
