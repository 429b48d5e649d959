package sync

import (
	"context"
	gosync "sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/portal/internal/backend"
	"github.com/nhle/portal/internal/model"
	"github.com/nhle/portal/internal/realtime"
	"github.com/nhle/portal/internal/store"
)

// SyncState represents the current state of the task poll.
type SyncState int

const (
	SyncIdle SyncState = iota
	SyncRunning
	SyncError
)

// SyncStatus holds the state of the last task poll.
type SyncStatus struct {
	State    SyncState
	LastSync time.Time
	Error    error
}

// TasksMsg is a tea.Msg sent when a task poll completes.
type TasksMsg struct {
	Tasks []model.Task
	Error error

	// Unauthorized is set when the backend rejected the access token.
	Unauthorized bool
}

// fetchTimeout is the maximum time allowed for a single poll.
const fetchTimeout = 30 * time.Second

// Poller refreshes the task directory in the background. Tasks have no
// change feed, so they are polled; notifications and comments arrive
// through their live collections instead.
type Poller struct {
	dir      backend.Directory
	filter   store.TaskFilter
	interval time.Duration

	resultCh  chan TasksMsg
	triggerCh chan struct{}
	stopCh    chan struct{}

	mu      gosync.Mutex
	running bool
	status  SyncStatus
}

// New creates a Poller listing tasks matching filter every interval.
func New(dir backend.Directory, filter store.TaskFilter, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	return &Poller{
		dir:       dir,
		filter:    filter,
		interval:  interval,
		resultCh:  make(chan TasksMsg, 4),
		triggerCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the polling goroutine and returns a tea.Cmd that
// waits for the first result.
func (p *Poller) Start() tea.Cmd {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.mu.Unlock()

	go p.loop()
	return p.Next()
}

// Stop halts the polling goroutine.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	close(p.stopCh)
	p.running = false
}

// Refresh triggers an immediate poll.
func (p *Poller) Refresh() {
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

// SetFilter changes which tasks are listed and polls immediately.
func (p *Poller) SetFilter(filter store.TaskFilter) {
	p.mu.Lock()
	p.filter = filter
	p.mu.Unlock()
	p.Refresh()
}

// Filter returns the current task filter.
func (p *Poller) Filter() store.TaskFilter {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.filter
}

// Status returns the state of the last poll.
func (p *Poller) Status() SyncStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Next returns a tea.Cmd that waits for the next poll result. Call it
// again after handling each TasksMsg.
func (p *Poller) Next() tea.Cmd {
	return func() tea.Msg {
		select {
		case res := <-p.resultCh:
			return res
		case <-p.stopCh:
			return nil
		}
	}
}

func (p *Poller) loop() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.poll()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.poll()
		case <-p.triggerCh:
			p.poll()
		}
	}
}

func (p *Poller) poll() {
	p.setStatus(SyncRunning, nil)

	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()

	tasks, err := p.dir.ListTasks(ctx, p.Filter())
	if err != nil {
		p.setStatus(SyncError, err)
		p.send(TasksMsg{Error: err, Unauthorized: realtime.IsUnauthorized(err)})
		return
	}

	p.setStatus(SyncIdle, nil)
	p.send(TasksMsg{Tasks: tasks})
}

func (p *Poller) setStatus(state SyncState, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status.State = state
	p.status.Error = err
	if state == SyncIdle {
		p.status.LastSync = time.Now()
	}
}

// send delivers msg, replacing a stale unread result rather than
// blocking the loop.
func (p *Poller) send(msg TasksMsg) {
	for {
		select {
		case p.resultCh <- msg:
			return
		default:
		}
		select {
		case <-p.resultCh:
		default:
		}
	}
}
