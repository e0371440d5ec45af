// Package hostsim provides minimal, real (non-fake) implementations of
// the port/hostport capability interfaces for running the engine
// outside a GUI shell: the cmd/screensaverd debug host and any future
// headless caller. Its ScheduleRecurring mirrors the
// alt-backend/app/job package's time.Ticker pattern; SubmitIO/
// SubmitCompute run jobs on plain goroutines, since the debug host has
// no UI thread of its own to protect.
package hostsim

import (
	"sync"
	"time"

	"github.com/basjohn/srpss-core/port/hostport"
	"github.com/basjohn/srpss-core/utils/logger"
)

// ThreadPool runs SubmitIO/SubmitCompute jobs on their own goroutine
// and RunOnUI jobs one at a time on a single-worker queue standing in
// for the GUI's UI thread. ScheduleRecurring jobs run on their own
// ticker goroutine, not on the RunOnUI worker.
type ThreadPool struct {
	uiJobs chan func()
	wg     sync.WaitGroup
	once   sync.Once
}

// NewThreadPool starts the UI-job worker goroutine.
func NewThreadPool() *ThreadPool {
	tp := &ThreadPool{uiJobs: make(chan func(), 64)}
	tp.wg.Add(1)
	go func() {
		defer tp.wg.Done()
		for job := range tp.uiJobs {
			job()
		}
	}()
	return tp
}

func (tp *ThreadPool) SubmitIO(job hostport.Job, cb func(result any, err error)) {
	go func() {
		result, err := job()
		cb(result, err)
	}()
}

func (tp *ThreadPool) SubmitCompute(job hostport.Job, cb func(result any, err error)) {
	go func() {
		result, err := job()
		cb(result, err)
	}()
}

func (tp *ThreadPool) ScheduleRecurring(interval time.Duration, job func()) func() {
	ticker := time.NewTicker(interval)
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				ticker.Stop()
				return
			case <-ticker.C:
				job()
			}
		}
	}()
	return func() {
		select {
		case <-stop:
		default:
			close(stop)
		}
	}
}

func (tp *ThreadPool) RunOnUI(job func()) {
	tp.uiJobs <- job
}

// Close stops accepting RunOnUI work and waits for the queue to drain.
func (tp *ThreadPool) Close() {
	tp.once.Do(func() {
		close(tp.uiJobs)
	})
	tp.wg.Wait()
}

// LogDisplay dispatches to the process log instead of a monitor, for
// the debug host where no real display surface exists.
type LogDisplay struct{}

func (LogDisplay) Show(ref any, _ any, mode hostport.DisplayMode) error {
	logger.SafeInfo("hostsim: display show", "ref", ref, "mode", string(mode))
	return nil
}

func (LogDisplay) ShowError(msg string) {
	logger.SafeWarn("hostsim: display error", "message", msg)
}
