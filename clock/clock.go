package clock

import (
	"fmt"
	"time"

	"github.com/tsinghua-fib-lab/agentsociety-roadflow/utils/config"
)

// Clock 仿真时钟
// 功能：维护真实时间与模拟时间的换算关系，每次tick经过TickInterval真实时间、推进TickHours模拟小时
// 说明：车辆各自累计自己的模拟时长，Clock给出的是任务开始以来的全局模拟时间
type Clock struct {
	TickInterval time.Duration // 每次tick的真实时间间隔
	TickHours    float64       // 每次tick推进的模拟时长（小时）

	start time.Time
	now   func() time.Time
}

// New 根据tick配置创建时钟
// 算法说明：
// 1. 真实间隔 = sleep_ms / fast_forward
// 2. 每次tick的模拟时长 = sleep_ms换算为小时
func New(tick config.ControlTick) *Clock {
	c := &Clock{
		TickInterval: tick.Interval(),
		TickHours:    tick.Hours(),
		now:          time.Now,
	}
	c.Init()
	return c
}

// Init 将模拟时间归零
func (c *Clock) Init() {
	c.start = c.now()
}

// Hours 获取当前模拟时间（小时）
func (c *Clock) Hours() float64 {
	if c.TickInterval <= 0 {
		return 0
	}
	elapsed := c.now().Sub(c.start)
	return float64(elapsed) / float64(c.TickInterval) * c.TickHours
}

// String 获取时钟的字符串表示（HH:MM:SS）
func (c *Clock) String() string {
	h, m, s := c.GetHourMinuteSecond()
	return fmt.Sprintf("%02d:%02d:%02d", h, m, int(s))
}

// GetHourMinuteSecond 获取当前模拟时间的小时、分钟、秒
func (c *Clock) GetHourMinuteSecond() (int, int, float64) {
	t := c.Hours() * 3600
	hour := int(t) / 3600
	minute := int(t) % 3600 / 60
	second := t - float64(hour*3600+minute*60)
	return hour, minute, second
}
