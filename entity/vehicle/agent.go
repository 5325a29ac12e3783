package vehicle

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tsinghua-fib-lab/agentsociety-roadflow/entity"
	"github.com/tsinghua-fib-lab/agentsociety-roadflow/scheduler"
)

// Status 车辆状态
type Status int32

const (
	StatusIdle     Status = iota // 未进入道路
	StatusMoving                 // 在道路上周期性推进（含被阻塞）
	StatusFinished               // 已到达道路终点
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusMoving:
		return "moving"
	case StatusFinished:
		return "finished"
	default:
		return fmt.Sprintf("Status(%d)", int32(s))
	}
}

// Agent 车辆智能体
// 功能：持有车辆状态并驱动周期性tick，每次tick由道路推进车辆并上报结果
// 说明：阻塞不是独立状态，仅体现为上报中的Blocked；mtx保护除只读属性外的字段
type Agent struct {
	ctx entity.ITaskContext

	id      int32
	length  float64
	targetV float64

	mtx     sync.Mutex
	status  Status
	motion  entity.Motion
	elapsed float64 // 进入道路后累计的模拟时长（小时）
	ticks   int64
	blocked int64 // 被阻塞的tick次数
	road    entity.IRoad

	task *scheduler.Task
}

// newAgent 创建车辆
// 参数：ctx-任务上下文，id-车辆ID，length-占用长度，targetV-期望速度，distance-起始位置
func newAgent(ctx entity.ITaskContext, id int32, length, targetV, distance float64) *Agent {
	a := &Agent{
		ctx:     ctx,
		id:      id,
		length:  length,
		targetV: targetV,
		motion:  entity.Motion{Distance: distance, Segment: entity.UnsetSegment},
	}
	a.task = ctx.Scheduler().NewTask(a.String(), ctx.Clock().TickInterval, a.tick)
	return a
}

func (a *Agent) String() string {
	return fmt.Sprintf("Vehicle %d", a.id)
}

func (a *Agent) ID() int32 {
	return a.id
}

func (a *Agent) Length() float64 {
	return a.length
}

func (a *Agent) TargetV() float64 {
	return a.targetV
}

func (a *Agent) Motion() entity.Motion {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	return a.motion
}

func (a *Agent) SetMotion(m entity.Motion) {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	a.motion = m
}

// Status 获取车辆状态
func (a *Agent) Status() Status {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	return a.status
}

// Elapsed 获取进入道路后累计的模拟时长（小时）
func (a *Agent) Elapsed() float64 {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	return a.elapsed
}

// Ticks 获取tick次数与其中被阻塞的次数
func (a *Agent) Ticks() (ticks int64, blocked int64) {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	return a.ticks, a.blocked
}

// Enter 进入道路（登记并开始tick）
func (a *Agent) Enter(road entity.IRoad) error {
	a.mtx.Lock()
	if a.status != StatusIdle {
		a.mtx.Unlock()
		return fmt.Errorf("%v is %v, cannot enter a road", a, a.status)
	}
	a.road = road
	a.mtx.Unlock()
	return road.AddVehicle(a)
}

// Start 开始周期性tick，由道路在登记后调用
func (a *Agent) Start() {
	a.mtx.Lock()
	if a.status == StatusIdle {
		a.status = StatusMoving
	}
	a.mtx.Unlock()
	a.task.Start()
}

// Stop 取消后续tick，由道路在注销时调用
func (a *Agent) Stop() {
	a.task.Cancel()
}

// ResetSleepTimeout 取消当前等待并立即重新tick，不改变车辆状态
func (a *Agent) ResetSleepTimeout() {
	if a.Status() != StatusMoving {
		return
	}
	a.task.Reset()
}

// tick 一次推进
// 算法说明：
// 1. 由道路推进一个tick对应的模拟时长，车辆已被注销时停止tick
// 2. 累计模拟时长，上报新的位置
// 3. 到达道路终点时标记为完成并从道路注销
func (a *Agent) tick() {
	a.mtx.Lock()
	road := a.road
	if a.status != StatusMoving || road == nil {
		a.mtx.Unlock()
		return
	}
	a.mtx.Unlock()

	hours := a.ctx.Clock().TickHours
	distance, err := road.Advance(a, hours)
	if err != nil {
		if errors.Is(err, entity.ErrVehicleNotRegistered) {
			log.Debugf("%v is no longer on the road, stop ticking", a)
		} else {
			log.Errorf("%v: advance failed: %v", a, err)
		}
		a.Stop()
		return
	}

	finished := distance >= road.Length()
	a.mtx.Lock()
	a.elapsed += hours
	a.ticks++
	m := a.motion
	if m.Blocked {
		a.blocked++
	}
	if finished {
		a.status = StatusFinished
	}
	report := entity.Report{
		VehicleID:    a.id,
		Distance:     distance,
		ElapsedHours: a.elapsed,
		V:            m.V,
		Segment:      m.Segment,
		Blocked:      m.Blocked,
		Finished:     finished,
	}
	a.mtx.Unlock()

	a.ctx.Sink().Record(report)
	if finished {
		log.Debugf("%v finished in %.4fh", a, report.ElapsedHours)
		if err := road.RemoveVehicle(a); err != nil {
			log.Warnf("%v: remove failed: %v", a, err)
		}
	}
}
