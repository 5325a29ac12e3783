package output

import (
	"github.com/tsinghua-fib-lab/agentsociety-roadflow/entity"
)

// Sink 上报接收方
type Sink interface {
	Record(r entity.Report)
}

// Fanout 将上报按顺序转发给多个接收方
type Fanout []Sink

func (f Fanout) Record(r entity.Report) {
	for _, s := range f {
		s.Record(r)
	}
}

// LogSink 以Debug级别输出每次上报
type LogSink struct{}

func (LogSink) Record(r entity.Report) {
	log.Debugf("Vehicle %d: distance=%.4f elapsed=%.4fh v=%.2f segment=%d blocked=%v finished=%v",
		r.VehicleID, r.Distance, r.ElapsedHours, r.V, r.Segment, r.Blocked, r.Finished)
}
