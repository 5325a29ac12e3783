package task

import (
	"context"
	"flag"
	"time"
)

const (
	SelfName = "roadflow" // 本程序在模拟任务集群中的名字
)

var (
	heartBeatInterval = flag.Int("log.heartbeat_interval", 100, "心跳日志间隔（tick数）")
)

// heartbeat 心跳，每隔若干tick执行一次
// 功能：输出运行状态，更新在途车辆数与路段占用指标，将未成批的上报交给记录器写入
func (ctx *Context) heartbeat() {
	active := ctx.road.ActiveCount()
	ctx.metrics.SetActive(active)
	for _, attr := range ctx.road.Segments() {
		ctx.metrics.SetSegmentOccupancy(attr.Index, attr.Occupancy, attr.Capacity)
	}
	if ctx.recorder != nil {
		ctx.recorder.Flush()
	}
	log.Infof("TIME: %v, active vehicles: %d, dispatched: %d", ctx.clock, active, ctx.scheduler.Dispatched())
}

// waitFinished 等待生成结束且所有车辆驶出道路
// 返回：runCtx结束时返回false
// 说明：生成车辆期间道路可能已经清空过一次，此时按tick间隔检查在途车辆数
func (ctx *Context) waitFinished(runCtx context.Context) bool {
	select {
	case <-ctx.vehicleManager.SpawnerDone():
	case <-runCtx.Done():
		return false
	}
	select {
	case <-ctx.road.Done():
	case <-runCtx.Done():
		return false
	}
	ticker := time.NewTicker(max(ctx.clock.TickInterval, time.Millisecond))
	defer ticker.Stop()
	for ctx.road.ActiveCount() > 0 {
		select {
		case <-ticker.C:
		case <-runCtx.Done():
			return false
		}
	}
	return true
}

// Run 运行
// 算法说明：
// 1. 创建初始车辆并开始生成车辆，启动心跳
// 2. 启动调度器，所有车辆tick在调度器协程中依次执行
// 3. 配置了exit_when_finished时等待所有车辆驶出道路，否则等待runCtx结束
// 4. 关闭任务
func (ctx *Context) Run(runCtx context.Context) {
	// 初始化
	ctx.Init()
	heartbeat := ctx.scheduler.NewTask("heartbeat", time.Duration(max(*heartBeatInterval, 1))*ctx.clock.TickInterval, ctx.heartbeat)
	heartbeat.Start()
	// init syncer
	if ctx.sidecar != nil {
		ctx.sidecar.Step(false)
	}

	go func() {
		ctx.scheduler.Run(runCtx)
		close(ctx.schedulerDone)
	}()

	if ctx.config.Control.ExitWhenFinished {
		if ctx.road.ActiveCount() == 0 && ctx.config.Spawn == nil {
			log.Warn("no vehicle on the road, waiting for vehicles added by RPC")
		}
		if ctx.waitFinished(runCtx) {
			log.Infof("all vehicles finished at %v", ctx.clock)
		}
	} else {
		<-runCtx.Done()
	}
	heartbeat.Cancel()
	ctx.heartbeat()
	for _, s := range ctx.statistics.Snapshot() {
		log.Debugf("segment %d: events=%d vehicles=%d avg_speed=%.2f", s.Index, s.Events, s.Vehicles, s.AvgSpeed)
	}
	log.Infof("engine complete")
	ctx.Close()
	<-ctx.schedulerDone
}
