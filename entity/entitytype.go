package entity

import "fmt"

const (
	UnsetSegment = -1 // 车辆尚未分配路段或已驶出道路
)

// Motion 车辆运动状态
// 功能：道路推进算法读写的车辆状态快照，由道路在一次Advance结束时整体写回
type Motion struct {
	Distance float64 // 在道路上的位置（单调不减）
	V        float64 // 最近一次计算得到的实际速度
	Segment  int     // 当前占用的路段索引，UnsetSegment表示未占用
	Blocked  bool    // 最近一次推进因前方路段已满而提前停止
}

func (m Motion) String() string {
	return fmt.Sprintf("Motion{Distance=%v, V=%v, Segment=%v, Blocked=%v}", m.Distance, m.V, m.Segment, m.Blocked)
}

// Report 车辆每次tick后的上报
// 功能：模拟进度对外可见的唯一途径，由上报回调接收
type Report struct {
	VehicleID    int32   // 车辆ID
	Distance     float64 // tick后的位置
	ElapsedHours float64 // 车辆进入道路后累计的模拟时长（小时）
	V            float64 // tick中最后计算的速度
	Segment      int     // tick后所在路段
	Blocked      bool    // 本次tick因前方路段已满而提前停止
	Finished     bool    // 本次tick到达道路终点
}

// entity/vehicle/agent.go的依赖倒置
type IVehicle interface {
	ID() int32        // 获取车辆ID
	Length() float64  // 获取车辆占用长度
	TargetV() float64 // 获取期望自由流速度

	Motion() Motion     // 获取运动状态
	SetMotion(m Motion) // 写回运动状态（仅由道路调用）

	Start()             // 开始周期性tick
	Stop()              // 取消后续tick
	ResetSleepTimeout() // 取消当前等待并立即重新调度tick
}

// entity/road/road.go的依赖倒置
type IRoad interface {
	Length() float64 // 获取道路总长

	// 将车辆推进elapsedHours模拟小时，返回新位置
	Advance(v IVehicle, elapsedHours float64) (float64, error)
	AddVehicle(v IVehicle) error    // 登记车辆并开始tick
	RemoveVehicle(v IVehicle) error // 注销车辆并取消tick
	ResetAllSchedules()             // 所有在途车辆立即重新tick
}

// output.Sink的依赖倒置
type ISink interface {
	Record(r Report) // 接收一次tick上报
}
