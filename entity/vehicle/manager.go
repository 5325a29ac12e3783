package vehicle

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-roadflow/entity"
	"github.com/tsinghua-fib-lab/agentsociety-roadflow/scheduler"
	"github.com/tsinghua-fib-lab/agentsociety-roadflow/utils/config"
	"github.com/tsinghua-fib-lab/agentsociety-roadflow/utils/randengine"
)

// VehicleManager 车辆管理器
// 功能：分配车辆ID，创建车辆并使其进入道路，按配置周期性生成车辆
type VehicleManager struct {
	ctx entity.ITaskContext

	mtx    sync.Mutex
	data   map[int32]*Agent
	nextID int32

	spawner   *scheduler.Task
	spawned   int32
	spawnDone chan struct{}
}

// NewManager 创建车辆管理器
func NewManager(ctx entity.ITaskContext) *VehicleManager {
	done := make(chan struct{})
	close(done)
	return &VehicleManager{
		ctx:       ctx,
		data:      make(map[int32]*Agent),
		nextID:    1,
		spawnDone: done,
	}
}

// Init 根据配置创建初始车辆并进入道路
// 说明：配置不合法时panic
func (m *VehicleManager) Init(vehicles []config.Vehicle) {
	for i, base := range vehicles {
		if _, err := m.Add(base); err != nil {
			log.Panicf("failed to add vehicles[%d]: %v", i, err)
		}
	}
	log.Infof("%d vehicles entered the road", len(vehicles))
}

// Add 创建车辆并进入道路
// 参数：base-车辆配置
// 返回：新车辆，配置不合法或进入失败时返回错误
func (m *VehicleManager) Add(base config.Vehicle) (*Agent, error) {
	if base.TargetVelocity <= 0 {
		return nil, fmt.Errorf("target velocity %v must be positive", base.TargetVelocity)
	}
	if base.Length < 0 || base.StartDistance < 0 {
		return nil, errors.New("length and start distance must not be negative")
	}
	m.mtx.Lock()
	id := m.nextID
	m.nextID++
	if _, ok := m.data[id]; ok {
		m.mtx.Unlock()
		log.Panicf("duplicate vehicle id %d", id)
	}
	a := newAgent(m.ctx, id, base.Length, base.TargetVelocity, base.StartDistance)
	m.data[id] = a
	m.mtx.Unlock()

	if err := a.Enter(m.ctx.Road()); err != nil {
		return nil, err
	}
	return a, nil
}

// GetOrError 根据ID获取车辆
func (m *VehicleManager) GetOrError(id int32) (*Agent, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if a, ok := m.data[id]; !ok {
		return nil, fmt.Errorf("no id %d in vehicle data", id)
	} else {
		return a, nil
	}
}

// Remove 将车辆从道路注销
func (m *VehicleManager) Remove(id int32) error {
	a, err := m.GetOrError(id)
	if err != nil {
		return err
	}
	return m.ctx.Road().RemoveVehicle(a)
}

// Data 获取所有创建过的车辆，按ID排序
func (m *VehicleManager) Data() []*Agent {
	m.mtx.Lock()
	agents := lo.Values(m.data)
	m.mtx.Unlock()
	slices.SortFunc(agents, func(a, b *Agent) int { return cmp.Compare(a.id, b.id) })
	return agents
}

// StartSpawner 开始周期性生成车辆
// 功能：立即生成第一辆车，之后每隔IntervalMs毫秒生成一辆，共Count辆
// 参数：spawn-生成配置
// 算法说明：目标速度 = 均值 + 噪声，噪声绝对值不超过VelocityNoise，结果不为正时取均值
func (m *VehicleManager) StartSpawner(spawn config.Spawn) {
	if spawn.Count <= 0 {
		return
	}
	engine := randengine.New(spawn.Seed)
	done := make(chan struct{})
	m.mtx.Lock()
	m.spawnDone = done
	m.mtx.Unlock()

	var task *scheduler.Task
	task = m.ctx.Scheduler().NewTask("spawner", time.Duration(spawn.IntervalMs)*time.Millisecond, func() {
		v := spawn.TargetVelocity + engine.Noise(spawn.VelocityNoise)
		if v <= 0 {
			v = spawn.TargetVelocity
		}
		if a, err := m.Add(config.Vehicle{TargetVelocity: v, Length: spawn.Length}); err != nil {
			log.Errorf("spawner: %v", err)
		} else {
			log.Debugf("spawner: %v with target velocity %.2f", a, v)
		}
		m.mtx.Lock()
		m.spawned++
		finished := m.spawned >= spawn.Count
		m.mtx.Unlock()
		if finished {
			task.Cancel()
			close(done)
			log.Infof("spawner: %d vehicles spawned", spawn.Count)
		}
	})
	m.mtx.Lock()
	m.spawner = task
	m.mtx.Unlock()
	task.Reset()
}

// SpawnerDone 生成结束后关闭的channel，未启动生成时已关闭
func (m *VehicleManager) SpawnerDone() <-chan struct{} {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.spawnDone
}

// Close 停止生成车辆并取消所有车辆的tick
func (m *VehicleManager) Close() {
	m.mtx.Lock()
	spawner := m.spawner
	m.mtx.Unlock()
	if spawner != nil {
		spawner.Cancel()
	}
	for _, a := range m.Data() {
		a.Stop()
	}
}
