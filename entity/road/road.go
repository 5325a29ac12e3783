package road

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"sync"

	"git.fiblab.net/general/common/v2/parallel"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-roadflow/entity"
	"github.com/tsinghua-fib-lab/agentsociety-roadflow/entity/segment"
	"github.com/tsinghua-fib-lab/agentsociety-roadflow/output"
	"github.com/tsinghua-fib-lab/agentsociety-roadflow/utils/config"
)

const (
	// BorderEpsilon 车辆在已满路段边界前停车时与边界的距离
	BorderEpsilon = 0.001
	// changeIndexEpsilon 修改区间换算为路段序号时的浮点容差
	changeIndexEpsilon = 1e-9
)

// Road 道路实体
// 功能：由等长路段组成的一维道路，负责车辆推进、在途车辆登记与完成信号
// 说明：mtx保护路段状态、在途车辆表与完成状态，推进与登记/注销互斥
type Road struct {
	name          string
	length        float64
	segmentLength float64
	base          []config.Segment // 建立时的路段配置，用于Reset

	mtx      sync.Mutex
	segments []*segment.Segment
	vehicles map[int32]entity.IVehicle // 在途车辆id->车辆

	everActive bool // 曾经有过在途车辆
	finished   bool // 完成信号已触发
	handlers   []func()
	done       chan struct{}

	stats *output.Statistics // 路段统计，可为nil
}

// New 根据配置创建道路
// 功能：校验道路配置并建立所有路段，路段长度 = 道路长度 / 路段数
// 参数：base-道路配置
// 返回：道路实例，配置不合法时返回错误
func New(base config.Road) (*Road, error) {
	if len(base.Segments) == 0 {
		return nil, fmt.Errorf("road %q: no segments", base.Name)
	}
	if base.Length <= 0 || math.IsInf(base.Length, 0) || math.IsNaN(base.Length) {
		return nil, fmt.Errorf("road %q: length %v must be positive", base.Name, base.Length)
	}
	segmentLength := base.Length / float64(len(base.Segments))
	type built struct {
		seg *segment.Segment
		err error
	}
	results := parallel.GoMap(lo.Range(len(base.Segments)), func(i int) built {
		seg, err := segment.New(i, segmentLength, base.Segments[i])
		return built{seg, err}
	})
	for _, res := range results {
		if res.err != nil {
			return nil, fmt.Errorf("road %q: %w", base.Name, res.err)
		}
	}
	return &Road{
		name:          base.Name,
		length:        base.Length,
		segmentLength: segmentLength,
		base:          slices.Clone(base.Segments),
		segments:      lo.Map(results, func(res built, _ int) *segment.Segment { return res.seg }),
		vehicles:      make(map[int32]entity.IVehicle),
		done:          make(chan struct{}),
	}, nil
}

func (r *Road) String() string {
	return fmt.Sprintf("Road %s", r.name)
}

// Name 获取道路名称
func (r *Road) Name() string {
	return r.name
}

// Length 获取道路总长
func (r *Road) Length() float64 {
	return r.length
}

// SegmentLength 获取路段长度
func (r *Road) SegmentLength() float64 {
	return r.segmentLength
}

// SegmentCount 获取路段数
func (r *Road) SegmentCount() int {
	return len(r.segments)
}

// SegmentIndex 获取位置所在的路段序号，可能超出最后一个路段
func (r *Road) SegmentIndex(distance float64) int {
	return int(math.Floor(distance / r.segmentLength))
}

// Segment 获取路段属性快照
func (r *Road) Segment(i int) segment.Attr {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.segments[i].Attr()
}

// Segments 获取所有路段的属性快照
func (r *Road) Segments() []segment.Attr {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return lo.Map(r.segments, func(s *segment.Segment, _ int) segment.Attr { return s.Attr() })
}

// Advance 将车辆推进elapsedHours模拟小时
// 功能：跨路段精确推进车辆位置，处理拥堵减速与前方路段已满时的阻塞
// 参数：v-已登记的车辆，elapsedHours-推进的模拟时长（小时）
// 返回：车辆的新位置
// 算法说明：
// 1. 以车辆当前位置与剩余时长为游标，逐个路段推进
// 2. 路段已满时，若车辆原本不在该路段内或下一路段也已满则停止；从上游到达时停在边界前BorderEpsilon处（不早于原位置）
// 3. 按路段车速计算本段内的位移，不越过路段边界则结束
// 4. 越过边界时精确推进到边界，扣除所用时长后对下一路段重复上述过程
// 5. 结束后更新新旧路段的占用，并写回车辆的位置、速度与所在路段
func (r *Road) Advance(v entity.IVehicle, elapsedHours float64) (float64, error) {
	if elapsedHours < 0 || math.IsNaN(elapsedHours) {
		return 0, entity.ErrNegativeElapsed
	}
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if _, ok := r.vehicles[v.ID()]; !ok {
		return 0, fmt.Errorf("vehicle %d: %w", v.ID(), entity.ErrVehicleNotRegistered)
	}

	m := v.Motion()
	n := len(r.segments)
	originIndex := r.SegmentIndex(m.Distance)
	distance, hours := m.Distance, elapsedHours
	velocity := 0.
	blocked := false

	index := originIndex
	for index < n {
		seg := r.segments[index]
		if seg.IsFull() && (index != originIndex || r.nextIsFull(index)) {
			blocked = true
			if index != originIndex {
				// 从上游到达已满路段的起点边界，停在前一路段内且不后退
				distance = max(float64(index)*r.segmentLength-BorderEpsilon, m.Distance)
				index--
			}
			break
		}
		velocity = seg.ComputeVelocity(v.TargetV())
		delta := velocity * hours
		if r.SegmentIndex(distance+delta) <= index {
			distance += delta
			break
		}
		boundary := float64(index+1) * r.segmentLength
		hours -= (boundary - distance) / velocity
		distance = boundary
		index++
	}

	// 路段占用
	newIndex := min(index, n)
	if m.Segment != newIndex {
		if m.Segment >= 0 && m.Segment < n {
			r.segments[m.Segment].Exit(v)
		}
		if newIndex < n {
			r.segments[newIndex].Enter(v)
		}
	}
	if newIndex >= n {
		newIndex = entity.UnsetSegment
	}
	v.SetMotion(entity.Motion{
		Distance: distance,
		V:        velocity,
		Segment:  newIndex,
		Blocked:  blocked,
	})
	return distance, nil
}

func (r *Road) nextIsFull(index int) bool {
	return index+1 < len(r.segments) && r.segments[index+1].IsFull()
}

// AddVehicle 登记车辆并开始tick
// 功能：将车辆加入在途车辆表，车辆进入起始位置所在的路段
// 参数：v-车辆
// 返回：车辆已登记时返回ErrVehicleExists
func (r *Road) AddVehicle(v entity.IVehicle) error {
	r.mtx.Lock()
	if _, ok := r.vehicles[v.ID()]; ok {
		r.mtx.Unlock()
		return fmt.Errorf("vehicle %d: %w", v.ID(), entity.ErrVehicleExists)
	}
	r.vehicles[v.ID()] = v
	r.everActive = true
	m := v.Motion()
	m.Segment = entity.UnsetSegment
	m.Blocked = false
	if index := r.SegmentIndex(m.Distance); index >= 0 && index < len(r.segments) {
		r.segments[index].Enter(v)
		m.Segment = index
	}
	v.SetMotion(m)
	r.mtx.Unlock()

	log.Debugf("Vehicle %d enters %v at %v", v.ID(), r, m)
	v.Start()
	return nil
}

// RemoveVehicle 注销车辆并取消其tick
// 功能：将车辆移出在途车辆表与所在路段，在途车辆清空时触发完成信号
// 参数：v-车辆
// 返回：车辆未登记时返回ErrVehicleNotRegistered
// 说明：完成判断与移除在同一临界区内进行，完成回调在释放锁后执行且只执行一次
func (r *Road) RemoveVehicle(v entity.IVehicle) error {
	r.mtx.Lock()
	if _, ok := r.vehicles[v.ID()]; !ok {
		r.mtx.Unlock()
		return fmt.Errorf("vehicle %d: %w", v.ID(), entity.ErrVehicleNotRegistered)
	}
	delete(r.vehicles, v.ID())
	m := v.Motion()
	if m.Segment >= 0 && m.Segment < len(r.segments) {
		r.segments[m.Segment].Exit(v)
	}
	m.Segment = entity.UnsetSegment
	v.SetMotion(m)
	var handlers []func()
	if len(r.vehicles) == 0 && r.everActive && !r.finished {
		r.finished = true
		close(r.done)
		handlers = slices.Clone(r.handlers)
	}
	r.mtx.Unlock()

	v.Stop()
	log.Debugf("Vehicle %d leaves %v at %v", v.ID(), r, m.Distance)
	if handlers != nil {
		log.Infof("all vehicles finished on %v", r)
		for _, h := range handlers {
			h()
		}
	}
	return nil
}

// OnAllVehiclesFinished 注册完成回调
// 说明：在途车辆由非空变为空时调用一次；完成信号已触发时立即调用
func (r *Road) OnAllVehiclesFinished(handler func()) {
	r.mtx.Lock()
	if !r.finished {
		r.handlers = append(r.handlers, handler)
		r.mtx.Unlock()
		return
	}
	r.mtx.Unlock()
	handler()
}

// Done 完成信号触发后关闭的channel
func (r *Road) Done() <-chan struct{} {
	return r.done
}

// ActiveCount 获取在途车辆数
func (r *Road) ActiveCount() int {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return len(r.vehicles)
}

// Vehicles 获取在途车辆，按id排序
func (r *Road) Vehicles() []entity.IVehicle {
	r.mtx.Lock()
	vehicles := lo.Values(r.vehicles)
	r.mtx.Unlock()
	slices.SortFunc(vehicles, func(a, b entity.IVehicle) int { return cmp.Compare(a.ID(), b.ID()) })
	return vehicles
}

// ResetAllSchedules 所有在途车辆立即重新tick
func (r *Road) ResetAllSchedules() {
	for _, v := range r.Vehicles() {
		v.ResetSleepTimeout()
	}
}

// ChangeRequest 路段属性修改请求
// From、To为道路长度的比例，修改序号在[From*n, To*n)内的路段；Lanes、SpeedLimit为nil时不修改
type ChangeRequest struct {
	From       float64
	To         float64
	Lanes      *int32
	SpeedLimit *float64
}

// Change 修改部分路段的车道数与限速，之后所有在途车辆立即重新tick
// 返回：修改的路段数
func (r *Road) Change(req ChangeRequest) (int, error) {
	if req.From < 0 || req.To > 1 || req.From > req.To {
		return 0, fmt.Errorf("invalid change range [%v, %v)", req.From, req.To)
	}
	if req.Lanes != nil && *req.Lanes <= 0 {
		return 0, fmt.Errorf("lane count %d must be positive", *req.Lanes)
	}
	if req.SpeedLimit != nil && *req.SpeedLimit <= 0 {
		return 0, fmt.Errorf("speed limit %v must be positive", *req.SpeedLimit)
	}
	n := float64(len(r.segments))
	from := int(math.Ceil(req.From*n - changeIndexEpsilon))
	to := int(math.Ceil(req.To*n - changeIndexEpsilon))

	r.mtx.Lock()
	for _, seg := range r.segments[from:to] {
		if req.Lanes != nil {
			seg.SetLanes(*req.Lanes)
		}
		if req.SpeedLimit != nil {
			seg.SetSpeedLimit(*req.SpeedLimit)
		}
	}
	r.mtx.Unlock()

	log.Infof("%v: changed segments [%d, %d)", r, from, to)
	r.ResetAllSchedules()
	return to - from, nil
}

// Reset 将所有路段的车道数与限速恢复为建立时的配置，之后所有在途车辆立即重新tick
func (r *Road) Reset() {
	r.mtx.Lock()
	for i, seg := range r.segments {
		seg.SetLanes(r.base[i].Lanes)
		seg.SetSpeedLimit(r.base[i].SpeedLimit)
	}
	r.mtx.Unlock()

	log.Infof("%v: reset", r)
	r.ResetAllSchedules()
}
