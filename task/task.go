package task

import (
	"context"
	"sync/atomic"
	"time"

	"git.fiblab.net/general/common/v2/mongoutil"
	"git.fiblab.net/sim/syncer/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/tsinghua-fib-lab/agentsociety-roadflow/clock"
	"github.com/tsinghua-fib-lab/agentsociety-roadflow/entity"
	"github.com/tsinghua-fib-lab/agentsociety-roadflow/entity/road"
	"github.com/tsinghua-fib-lab/agentsociety-roadflow/entity/vehicle"
	"github.com/tsinghua-fib-lab/agentsociety-roadflow/output"
	"github.com/tsinghua-fib-lab/agentsociety-roadflow/scheduler"
	"github.com/tsinghua-fib-lab/agentsociety-roadflow/utils/config"
	"github.com/tsinghua-fib-lab/agentsociety-roadflow/utils/input"
	"go.mongodb.org/mongo-driver/mongo"
)

var log = logrus.WithField("module", "task")

const closeTimeout = 10 * time.Second

// Context 仿真任务上下文
// 功能：包含一次仿真任务的所有组件与状态，替代全局变量
// 说明：管理时钟、调度器、道路、车辆管理器与上报输出
type Context struct {
	// 任务名
	job string
	// 配置
	config config.Config
	// 关闭指令
	closed atomic.Bool

	// 时钟
	clock *clock.Clock
	// 调度器，所有tick在其中依次执行
	scheduler *scheduler.Scheduler
	// 调度器退出信号
	schedulerDone chan struct{}

	// 辅助程序，提供RPC服务，为nil时不提供
	sidecar *syncer.Sidecar
	// sidecar close channel，未启动sidecar服务时为nil
	sidecarCloseCh chan struct{}

	// 道路
	road *road.Road
	// 车辆管理器
	vehicleManager *vehicle.VehicleManager

	// 上报输出
	sink       output.Fanout
	statistics *output.Statistics
	metrics    *output.Metrics
	recorder   *output.MongoRecorder
	client     *mongo.Client
}

// NewContext 创建新的仿真任务上下文
// 功能：加载道路，创建所有组件并注册RPC服务
// 参数：
//   - job: 任务名称
//   - c: 配置对象
//   - sidecar: sidecar实例，为nil时不注册RPC服务
//   - reg: Prometheus指标注册器
//   - startSidecarServe: 是否启动sidecar服务
//
// 返回：初始化完成的Context实例
// 说明：道路加载或校验失败时panic
func NewContext(
	job string,
	c config.Config,
	sidecar *syncer.Sidecar,
	reg prometheus.Registerer,
	startSidecarServe bool,
) *Context {
	ctx := &Context{
		job:           job,
		config:        c,
		clock:         clock.New(c.Control.Tick),
		scheduler:     scheduler.New(),
		schedulerDone: make(chan struct{}),
		sidecar:       sidecar,
		statistics:    output.NewStatistics(),
		metrics:       output.NewMetrics(reg),
	}

	// 道路
	base, err := input.LoadRoad(c)
	if err != nil {
		log.Panicf("failed to load road: %v", err)
	}
	if ctx.road, err = road.New(base); err != nil {
		log.Panicf("failed to build road: %v", err)
	}
	ctx.road.SetStatistics(ctx.statistics)
	log.Infof("%v: length %v, %d segments", ctx.road, ctx.road.Length(), ctx.road.SegmentCount())

	// 输出
	ctx.sink = output.Fanout{ctx.statistics, ctx.metrics, output.LogSink{}}
	if c.Output.URI != "" {
		ctx.client = mongoutil.NewClient(c.Output.URI)
		coll := mongoutil.GetMongoColl(ctx.client, config.InputPath{DB: c.Output.DB, Col: c.Output.Col})
		ctx.recorder = output.NewMongoRecorder(coll, c.Output.Batch)
		ctx.sink = append(ctx.sink, ctx.recorder)
	}

	ctx.vehicleManager = vehicle.NewManager(ctx)

	if ctx.sidecar != nil {
		ctx.clock.Register(ctx.sidecar)
		ctx.road.Register(ctx.sidecar)
		ctx.vehicleManager.Register(ctx.sidecar)

		// sidecar协程，用于提供RPC服务
		if startSidecarServe {
			ctx.sidecarCloseCh = make(chan struct{}, 1)
			go func() {
				err := ctx.sidecar.Serve()
				if err != nil {
					log.Panicf("failed to serve: %v", err)
				}
				ctx.sidecarCloseCh <- struct{}{}
			}()
		}
	}
	return ctx
}

func (ctx *Context) Job() string {
	return ctx.job
}

func (ctx *Context) Clock() *clock.Clock {
	return ctx.clock
}

func (ctx *Context) Scheduler() *scheduler.Scheduler {
	return ctx.scheduler
}

func (ctx *Context) Road() entity.IRoad {
	return ctx.road
}

func (ctx *Context) Sink() entity.ISink {
	return ctx.sink
}

func (ctx *Context) RoadEntity() *road.Road {
	return ctx.road
}

func (ctx *Context) VehicleManager() *vehicle.VehicleManager {
	return ctx.vehicleManager
}

func (ctx *Context) Statistics() *output.Statistics {
	return ctx.statistics
}

// Init 创建初始车辆并开始生成车辆
func (ctx *Context) Init() {
	ctx.clock.Init()
	ctx.vehicleManager.Init(ctx.config.Vehicles)
	if ctx.config.Spawn != nil {
		ctx.vehicleManager.StartSpawner(*ctx.config.Spawn)
	}
}

// Close 停止所有tick，写入剩余的上报并关闭sidecar，可重复调用
func (ctx *Context) Close() {
	if ctx.closed.Swap(true) {
		return
	}
	ctx.vehicleManager.Close()
	ctx.scheduler.Close()

	closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if ctx.recorder != nil {
		if err := ctx.recorder.Close(closeCtx); err != nil {
			log.Errorf("failed to close recorder: %v", err)
		}
	}
	if ctx.client != nil {
		if err := ctx.client.Disconnect(closeCtx); err != nil {
			log.Errorf("failed to disconnect output database: %v", err)
		}
	}
	if ctx.sidecar != nil {
		ctx.sidecar.Close()
		if ctx.sidecarCloseCh != nil {
			// wait for graceful stop
			<-ctx.sidecarCloseCh
		}
	}
}
