package scheduler

import (
	"fmt"
	"time"
)

// Task 周期任务
// 功能：在调度器中周期执行的任务，支持取消与立即重新调度
// 说明：除s、name、interval、fn外的字段由调度器的锁保护
type Task struct {
	s        *Scheduler
	name     string
	interval time.Duration
	fn       func()

	gen       uint64 // 调度代数
	pending   bool   // 存在一次有效的待执行调度
	started   bool
	cancelled bool
}

func (t *Task) String() string {
	return fmt.Sprintf("Task %s", t.name)
}

// Start 开始调度，首次执行在一个间隔之后
// 说明：已开始或已取消的任务调用无效
func (t *Task) Start() {
	t.s.mtx.Lock()
	defer t.s.mtx.Unlock()
	if t.started || t.cancelled {
		return
	}
	t.started = true
	t.s.push(t, t.s.now().Add(t.interval))
}

// Reset 取消当前等待中的调度并立即重新调度
// 说明：不改变任务状态；已取消的任务调用无效，未开始的任务会被开始
func (t *Task) Reset() {
	t.s.mtx.Lock()
	defer t.s.mtx.Unlock()
	if t.cancelled {
		return
	}
	t.started = true
	t.s.push(t, t.s.now())
}

// Cancel 取消任务，之后不会再执行，可重复调用
func (t *Task) Cancel() {
	t.s.mtx.Lock()
	defer t.s.mtx.Unlock()
	if t.cancelled {
		return
	}
	t.cancelled = true
	t.pending = false
	t.gen++
	log.Debugf("%v cancelled", t)
}

// Active 检查任务是否已开始且未取消
func (t *Task) Active() bool {
	t.s.mtx.Lock()
	defer t.s.mtx.Unlock()
	return t.started && !t.cancelled
}
