// 随机数引擎，包装了golang.org/x/exp/rand，提供车辆生成所需的扰动方法
package randengine

import (
	"flag"
	"sync"

	"github.com/samber/lo"
	"golang.org/x/exp/rand"
)

var (
	seedOffset = flag.Uint64("rand.seed_offset", 0, "seed offset") // 种子偏移量，用于调整随机数生成
)

// Engine 随机数引擎
// 说明：所有方法线程安全
type Engine struct {
	r   *rand.Rand
	mtx sync.Mutex
}

// New 创建随机数引擎
// 功能：以seed+种子偏移量初始化随机数源
func New(seed uint64) *Engine {
	return &Engine{r: rand.New(rand.NewSource(seed + *seedOffset))}
}

// Float64 生成[0.0, 1.0)范围内的随机浮点数
func (e *Engine) Float64() float64 {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.r.Float64()
}

// Noise 生成[-max, max]范围内的扰动
// 算法说明：取0.5倍标准正态分布并截断到[-1, 1]后乘以max，与车辆属性扰动的做法一致
func (e *Engine) Noise(max float64) float64 {
	if max == 0 {
		return 0
	}
	e.mtx.Lock()
	n := e.r.NormFloat64()
	e.mtx.Unlock()
	return max * lo.Clamp(.5*n, -1, 1)
}
