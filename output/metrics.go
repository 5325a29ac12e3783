package output

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/tsinghua-fib-lab/agentsociety-roadflow/entity"
)

// Metrics Prometheus指标
// 功能：统计tick次数、阻塞次数、驶出车辆数，并维护在途车辆数与路段占用
type Metrics struct {
	ticks     prometheus.Counter
	blocked   prometheus.Counter
	finished  prometheus.Counter
	active    prometheus.Gauge
	occupancy *prometheus.GaugeVec
}

// NewMetrics 创建指标并注册到reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ticks: factory.NewCounter(prometheus.CounterOpts{
			Name: "roadflow_vehicle_ticks_total",
			Help: "Total vehicle ticks",
		}),
		blocked: factory.NewCounter(prometheus.CounterOpts{
			Name: "roadflow_vehicle_blocked_ticks_total",
			Help: "Total vehicle ticks stopped early by a full segment",
		}),
		finished: factory.NewCounter(prometheus.CounterOpts{
			Name: "roadflow_vehicles_finished_total",
			Help: "Total vehicles that reached the end of the road",
		}),
		active: factory.NewGauge(prometheus.GaugeOpts{
			Name: "roadflow_active_vehicles",
			Help: "Vehicles currently on the road",
		}),
		occupancy: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "roadflow_segment_occupancy_ratio",
			Help: "Segment occupancy divided by capacity",
		}, []string{"segment"}),
	}
}

func (m *Metrics) Record(r entity.Report) {
	m.ticks.Inc()
	if r.Blocked {
		m.blocked.Inc()
	}
	if r.Finished {
		m.finished.Inc()
	}
}

// SetActive 更新在途车辆数
func (m *Metrics) SetActive(n int) {
	m.active.Set(float64(n))
}

// SetSegmentOccupancy 更新路段占用率
func (m *Metrics) SetSegmentOccupancy(index int, occupancy, capacity float64) {
	ratio := 0.
	if capacity > 0 {
		ratio = occupancy / capacity
	}
	m.occupancy.WithLabelValues(strconv.Itoa(index)).Set(ratio)
}
