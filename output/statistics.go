package output

import (
	"cmp"
	"slices"
	"sync"

	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-roadflow/entity"
)

// SegmentStats 单个路段的统计结果
type SegmentStats struct {
	Index    int     // 路段序号
	Events   int64   // 上报次数
	Vehicles int     // 经过的不同车辆数
	AvgSpeed float64 // 平均速度，无上报时为0
}

type segmentAcc struct {
	events   int64
	speedSum float64
	vehicles map[int32]struct{}
}

func newSegmentAcc() *segmentAcc {
	return &segmentAcc{vehicles: make(map[int32]struct{})}
}

func (a *segmentAcc) result(index int) SegmentStats {
	s := SegmentStats{Index: index, Events: a.events, Vehicles: len(a.vehicles)}
	if a.events > 0 {
		s.AvgSpeed = a.speedSum / float64(a.events)
	}
	return s
}

// Statistics 路段统计
// 功能：按上报所在的路段累计上报次数、不同车辆数与速度和
// 说明：已驶出道路的上报（Segment为UnsetSegment）不计入
type Statistics struct {
	mtx      sync.Mutex
	segments map[int]*segmentAcc
}

func NewStatistics() *Statistics {
	return &Statistics{segments: make(map[int]*segmentAcc)}
}

func (s *Statistics) Record(r entity.Report) {
	if r.Segment < 0 {
		return
	}
	s.mtx.Lock()
	defer s.mtx.Unlock()
	acc, ok := s.segments[r.Segment]
	if !ok {
		acc = newSegmentAcc()
		s.segments[r.Segment] = acc
	}
	acc.events++
	acc.speedSum += r.V
	acc.vehicles[r.VehicleID] = struct{}{}
}

// Segment 获取单个路段的统计结果
func (s *Statistics) Segment(index int) SegmentStats {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if acc, ok := s.segments[index]; ok {
		return acc.result(index)
	}
	return SegmentStats{Index: index}
}

// Snapshot 获取所有有上报的路段的统计结果，按路段序号排序
func (s *Statistics) Snapshot() []SegmentStats {
	s.mtx.Lock()
	res := lo.MapToSlice(s.segments, func(i int, acc *segmentAcc) SegmentStats { return acc.result(i) })
	s.mtx.Unlock()
	slices.SortFunc(res, func(a, b SegmentStats) int { return cmp.Compare(a.Index, b.Index) })
	return res
}
