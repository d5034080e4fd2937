package tournament

import (
	"context"
	"log"
	"sync"
	"time"

	"bracket-engine/internal/chat"
	"bracket-engine/internal/metrics"
)

// LoopTask drives one tournament's periodic tick. It owns nothing but the
// ticker; all state lives in the tournament and is guarded by its lock.
type LoopTask struct {
	name     string
	t        *Tournament
	interval time.Duration

	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}
}

func newLoopTask(name string, t *Tournament, interval time.Duration) *LoopTask {
	return &LoopTask{
		name:     name,
		t:        t,
		interval: interval,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

func (lt *LoopTask) run() {
	ticker := time.NewTicker(lt.interval)
	defer ticker.Stop()
	defer close(lt.doneChan)
	log.Printf("[LOOP] %s: started (every %s)", lt.name, lt.interval)

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 2*LockTimeout)
			ok := lt.runTick(ctx)
			cancel()
			if !ok {
				return
			}
		case <-lt.stopChan:
			log.Printf("[LOOP] %s: stopped", lt.name)
			return
		}
	}
}

// runTick executes one tick and applies the error budget. It returns false
// once the budget is exhausted and the loop has to give up.
func (lt *LoopTask) runTick(ctx context.Context) bool {
	err := lt.t.Tick(ctx)
	if err == nil {
		lt.t.tickClean()
		metrics.TicksTotal.WithLabelValues(lt.t.GuildID, "ok").Inc()
		metrics.TaskErrors.WithLabelValues(lt.t.GuildID).Set(0)
		return true
	}
	n := lt.t.tickFailed()
	metrics.TicksTotal.WithLabelValues(lt.t.GuildID, "error").Inc()
	metrics.TaskErrors.WithLabelValues(lt.t.GuildID).Set(float64(n))
	log.Printf("[LOOP] %s: tick failed (%d/%d): %v", lt.name, n, TaskErrorBudget, err)
	if n >= TaskErrorBudget {
		log.Printf("[LOOP] %s: %v", lt.name, ErrTaskBudgetExceeded)
		lt.t.alertBudget(context.Background(), err)
		return false
	}
	return true
}

// Stop asks the loop to exit. Safe to call more than once.
func (lt *LoopTask) Stop() {
	lt.stopOnce.Do(func() { close(lt.stopChan) })
}

// Done closes once the loop goroutine has exited.
func (lt *LoopTask) Done() <-chan struct{} {
	return lt.doneChan
}

// alertBudget tells staff the loop gave up. It bypasses the notification
// queue because the lock may be the very thing that is wedged.
func (t *Tournament) alertBudget(ctx context.Context, cause error) {
	n := chat.NewNotification(chat.KindStaffAlert, map[string]interface{}{
		"message": "tournament loop suspended after repeated errors, resume it manually once the cause is fixed",
		"error":   cause.Error(),
	})
	t.journalNote(noteStaff, chat.UserRef{}, n)
	if err := t.notifier.NotifyStaff(ctx, n); err != nil {
		log.Printf("[LOOP] %s: failed to alert staff: %v", t.Name, err)
	}
}

// taskRegistry keeps at most one named loop per tournament. Starting a name
// that already runs cancels the old loop first.
type taskRegistry struct {
	mu    sync.Mutex
	tasks map[string]*LoopTask
}

func newTaskRegistry() *taskRegistry {
	return &taskRegistry{tasks: map[string]*LoopTask{}}
}

func (r *taskRegistry) start(name string, t *Tournament, interval time.Duration) *LoopTask {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.tasks[name]; ok {
		old.Stop()
	}
	task := newLoopTask(name, t, interval)
	r.tasks[name] = task
	go task.run()
	return task
}

func (r *taskRegistry) stop(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if task, ok := r.tasks[name]; ok {
		task.Stop()
		delete(r.tasks, name)
	}
}

func (r *taskRegistry) stopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, task := range r.tasks {
		task.Stop()
		delete(r.tasks, name)
	}
}
