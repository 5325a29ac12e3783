package entity

import (
	"github.com/tsinghua-fib-lab/agentsociety-roadflow/clock"
	"github.com/tsinghua-fib-lab/agentsociety-roadflow/scheduler"
)

// task/task.go的依赖倒置
type ITaskContext interface {
	Clock() *clock.Clock             // 获取模拟时钟
	Scheduler() *scheduler.Scheduler // 获取任务调度器
	Road() IRoad                     // 获取道路
	Sink() ISink                     // 获取上报接收方
}
