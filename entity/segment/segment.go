package segment

import (
	"fmt"
	"math"

	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-roadflow/utils/config"
)

// Occupant 占用路段容量的对象（车辆）
type Occupant interface {
	Length() float64
}

// Attr 路段属性快照
type Attr struct {
	Index      int     `json:"index"`
	Length     float64 `json:"length"`
	SpeedLimit float64 `json:"speed_limit"`
	Lanes      int32   `json:"lanes"`
	Capacity   float64 `json:"capacity"`
	Occupancy  float64 `json:"occupancy"`
}

// Segment 路段实体
// 功能：道路中等长的一段，负责容量统计与拥堵速度计算
// 说明：路段不加锁，所有读写由所属道路的锁保护
type Segment struct {
	index      int
	length     float64
	speedLimit float64
	lanes      int32
	capacity   float64 // lanes * length
	occupancy  float64 // 当前占用（车辆长度之和）
}

// New 创建路段
// 参数：index-路段在道路中的序号，length-路段长度，base-路段配置
// 返回：路段实例，配置不合法时返回错误
func New(index int, length float64, base config.Segment) (*Segment, error) {
	if length <= 0 {
		return nil, fmt.Errorf("segment %d: length %v must be positive", index, length)
	}
	if base.SpeedLimit <= 0 {
		return nil, fmt.Errorf("segment %d: speed limit %v must be positive", index, base.SpeedLimit)
	}
	if base.Lanes <= 0 {
		return nil, fmt.Errorf("segment %d: lane count %d must be positive", index, base.Lanes)
	}
	if base.Occupancy < 0 {
		return nil, fmt.Errorf("segment %d: occupancy %v must not be negative", index, base.Occupancy)
	}
	return &Segment{
		index:      index,
		length:     length,
		speedLimit: base.SpeedLimit,
		lanes:      base.Lanes,
		capacity:   float64(base.Lanes) * length,
		occupancy:  base.Occupancy,
	}, nil
}

func (s *Segment) String() string {
	return fmt.Sprintf("Segment %d", s.index)
}

func (s *Segment) Index() int {
	return s.index
}

func (s *Segment) Length() float64 {
	return s.length
}

func (s *Segment) SpeedLimit() float64 {
	return s.speedLimit
}

func (s *Segment) Lanes() int32 {
	return s.lanes
}

func (s *Segment) Capacity() float64 {
	return s.capacity
}

func (s *Segment) Occupancy() float64 {
	return s.occupancy
}

// Attr 获取路段属性快照
func (s *Segment) Attr() Attr {
	return Attr{
		Index:      s.index,
		Length:     s.length,
		SpeedLimit: s.speedLimit,
		Lanes:      s.lanes,
		Capacity:   s.capacity,
		Occupancy:  s.occupancy,
	}
}

// Enter 车辆进入路段
func (s *Segment) Enter(o Occupant) {
	s.occupancy += o.Length()
}

// Exit 车辆离开路段，调用方保证此前调用过对应的Enter
func (s *Segment) Exit(o Occupant) {
	s.occupancy -= o.Length()
}

// IsFull 检查路段是否已满（占用不小于容量）
func (s *Segment) IsFull() bool {
	return s.occupancy >= s.capacity
}

// ComputeVelocity 计算路段内的实际车速
// 功能：根据路段占用率计算拥堵下的车速
// 参数：targetV-车辆期望速度
// 返回：实际车速
// 算法说明：
// 1. 自由流速度 = min(targetV, 限速)
// 2. 无占用时返回自由流速度
// 3. 否则返回 自由流速度 * sqrt(1 - clamp(占用/容量, 0, 1))，占满时为0
func (s *Segment) ComputeVelocity(targetV float64) float64 {
	free := min(targetV, s.speedLimit)
	if s.occupancy == 0 {
		return free
	}
	ratio := lo.Clamp(s.occupancy/s.capacity, 0, 1)
	return free * math.Sqrt(1-ratio)
}

// SetLanes 修改车道数并重新计算容量
func (s *Segment) SetLanes(lanes int32) {
	s.lanes = lanes
	s.capacity = float64(lanes) * s.length
}

// SetSpeedLimit 修改限速
func (s *Segment) SetSpeedLimit(v float64) {
	s.speedLimit = v
}
