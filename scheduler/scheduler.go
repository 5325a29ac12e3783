package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tsinghua-fib-lab/agentsociety-roadflow/utils/container"
)

var log = logrus.WithField("module", "scheduler")

// entry 队列中的一次待执行调度
// 说明：gen与任务当前gen不一致时表示该调度已被Reset/Cancel作废
type entry struct {
	task *Task
	gen  uint64
}

// Scheduler 单协程任务调度器
// 功能：按到期时间顺序在同一个协程中依次执行所有任务，任务之间不会并发执行
// 说明：Reset/Cancel只修改任务的代数（gen），旧的调度在出队时被惰性丢弃
type Scheduler struct {
	mtx   sync.Mutex
	queue *container.PriorityQueue[entry]
	wake  chan struct{}

	done      chan struct{}
	closeOnce sync.Once

	dispatched atomic.Int64 // 已执行的任务次数

	now func() time.Time
}

// New 创建调度器，需要调用Run开始调度
func New() *Scheduler {
	return &Scheduler{
		queue: container.NewPriorityQueue[entry](),
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
		now:   time.Now,
	}
}

// NewTask 创建周期任务
// 参数：name-任务名（用于日志），interval-两次执行之间的间隔，fn-任务函数
// 说明：任务创建后需要调用Start才会被调度
func (s *Scheduler) NewTask(name string, interval time.Duration, fn func()) *Task {
	return &Task{
		s:        s,
		name:     name,
		interval: interval,
		fn:       fn,
	}
}

// Dispatched 获取已执行的任务次数
func (s *Scheduler) Dispatched() int64 {
	return s.dispatched.Load()
}

// Run 调度主循环，阻塞直到ctx结束或Close被调用
// 算法说明：
// 0. 每次执行任务前检查退出信号，任务持续到期时也能及时退出
// 1. 丢弃队首已作废的调度
// 2. 队首已到期则出队并执行，执行期间不持有锁，任务可以调用Reset/Cancel
// 3. 否则等待到期、新的调度加入或退出信号
func (s *Scheduler) Run(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debug("scheduler stopped by context")
			return
		case <-s.done:
			log.Debug("scheduler closed")
			return
		default:
		}
		ready, wait := s.next()
		if ready != nil {
			s.dispatch(ready)
			continue
		}
		var timerC <-chan time.Time
		if wait >= 0 {
			timer.Reset(wait)
			timerC = timer.C
		}
		select {
		case <-ctx.Done():
			log.Debug("scheduler stopped by context")
			return
		case <-s.done:
			log.Debug("scheduler closed")
			return
		case <-s.wake:
		case <-timerC:
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}
}

// Close 停止调度主循环，可重复调用
func (s *Scheduler) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// next 取出一个已到期的任务；没有到期任务时返回距离最早到期的等待时长（队列为空时为-1）
func (s *Scheduler) next() (*Task, time.Duration) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	for {
		e, due, ok := s.queue.First()
		if !ok {
			return nil, -1
		}
		if e.gen != e.task.gen || e.task.cancelled {
			s.queue.HeapPop()
			continue
		}
		if wait := due.Sub(s.now()); wait > 0 {
			return nil, wait
		}
		s.queue.HeapPop()
		e.task.pending = false
		return e.task, 0
	}
}

// dispatch 执行任务并在任务仍有效、且执行期间未被重新调度时安排下一次执行
func (s *Scheduler) dispatch(t *Task) {
	s.dispatched.Add(1)
	t.fn()
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if !t.cancelled && !t.pending {
		s.push(t, s.now().Add(t.interval))
	}
}

// push 加入一次调度并作废该任务之前的调度（需持有锁）
func (s *Scheduler) push(t *Task, due time.Time) {
	t.gen++
	t.pending = true
	s.queue.HeapPush(entry{task: t, gen: t.gen}, due)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
