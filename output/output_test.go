package output

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/agentsociety-roadflow/entity"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type reportList struct {
	ids []int32
}

func (l *reportList) Record(r entity.Report) {
	l.ids = append(l.ids, r.VehicleID)
}

func TestFanout(t *testing.T) {
	got := &reportList{}
	stats := NewStatistics()
	f := Fanout{stats, LogSink{}, got}
	f.Record(entity.Report{VehicleID: 1, Segment: 0, V: 10})
	f.Record(entity.Report{VehicleID: 2, Segment: 0, V: 20})
	assert.Equal(t, []int32{1, 2}, got.ids)
	assert.Equal(t, SegmentStats{Index: 0, Events: 2, Vehicles: 2, AvgSpeed: 15}, stats.Segment(0))
}

func TestStatistics(t *testing.T) {
	s := NewStatistics()
	s.Record(entity.Report{VehicleID: 1, Segment: 0, V: 100})
	s.Record(entity.Report{VehicleID: 1, Segment: 0, V: 50})
	s.Record(entity.Report{VehicleID: 2, Segment: 0, V: 60})
	s.Record(entity.Report{VehicleID: 1, Segment: 1, V: 30})
	s.Record(entity.Report{VehicleID: 1, Segment: 3, V: 10})
	// 已驶出道路的上报不计入
	s.Record(entity.Report{VehicleID: 1, Segment: entity.UnsetSegment, V: 30, Finished: true})

	assert.Equal(t, []SegmentStats{
		{Index: 0, Events: 3, Vehicles: 2, AvgSpeed: 70},
		{Index: 1, Events: 1, Vehicles: 1, AvgSpeed: 30},
		{Index: 3, Events: 1, Vehicles: 1, AvgSpeed: 10},
	}, s.Snapshot())
	assert.Equal(t, SegmentStats{Index: 2}, s.Segment(2))
}

type fakeColl struct {
	mtx     sync.Mutex
	batches [][]interface{}
	err     error
}

func (f *fakeColl) InsertMany(ctx context.Context, documents []interface{}, opts ...*options.InsertManyOptions) (*mongo.InsertManyResult, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.batches = append(f.batches, documents)
	return &mongo.InsertManyResult{}, nil
}

func (f *fakeColl) setErr(err error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.err = err
}

func (f *fakeColl) sizes() []int {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	res := make([]int, len(f.batches))
	for i, b := range f.batches {
		res[i] = len(b)
	}
	return res
}

func TestMongoRecorder(t *testing.T) {
	coll := &fakeColl{}
	m := NewMongoRecorder(coll, 2)
	assert.NotEmpty(t, m.RunID())
	for i := 0; i < 5; i++ {
		m.Record(entity.Report{VehicleID: int32(i), Distance: float64(i)})
	}
	require.NoError(t, m.Close(context.Background()))
	assert.Equal(t, []int{2, 2, 1}, coll.sizes())

	doc := coll.batches[0][1].(record)
	assert.Equal(t, m.RunID(), doc.RunID)
	assert.Equal(t, int32(1), doc.VehicleID)
	assert.Equal(t, 1., doc.Distance)

	// 关闭后不再接收
	m.Record(entity.Report{VehicleID: 9})
	require.NoError(t, m.Close(context.Background()))
	assert.Len(t, coll.sizes(), 3)
}

func TestMongoRecorderFlush(t *testing.T) {
	coll := &fakeColl{}
	m := NewMongoRecorder(coll, 0)
	m.Record(entity.Report{VehicleID: 1})
	m.Flush()
	require.Eventually(t, func() bool { return len(coll.sizes()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []int{1}, coll.sizes())
	// 缓存为空时不写入
	m.Flush()

	coll.setErr(errors.New("boom"))
	m.Record(entity.Report{VehicleID: 2})
	m.Flush()
	require.NoError(t, m.Close(context.Background()))
	assert.Equal(t, []int{1}, coll.sizes())
}

// stalledColl 写入一直阻塞直到ctx结束
type stalledColl struct {
	calls     atomic.Int32
	cancelled atomic.Int32
}

func (s *stalledColl) InsertMany(ctx context.Context, documents []interface{}, opts ...*options.InsertManyOptions) (*mongo.InsertManyResult, error) {
	s.calls.Add(1)
	<-ctx.Done()
	s.cancelled.Add(1)
	return nil, ctx.Err()
}

func TestMongoRecorderNeverBlocksOnStalledDatabase(t *testing.T) {
	coll := &stalledColl{}
	m := NewMongoRecorder(coll, 1)

	recorded := make(chan struct{})
	go func() {
		for i := 0; i < 40; i++ {
			m.Record(entity.Report{VehicleID: int32(i)})
		}
		close(recorded)
	}()
	select {
	case <-recorded:
	case <-time.After(2 * time.Second):
		t.Fatal("Record blocked on a stalled database")
	}
	m.mtx.Lock()
	dropped := m.dropped
	m.mtx.Unlock()
	// 一批在写入中，pendingBatches批在等待，其余被丢弃
	assert.GreaterOrEqual(t, dropped, 40-1-pendingBatches)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	closed := make(chan error, 1)
	go func() { closed <- m.Close(ctx) }()
	select {
	case err := <-closed:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("Close ignored its context")
	}
	assert.Eventually(t, func() bool { return coll.cancelled.Load() >= 1 }, time.Second, time.Millisecond)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.Record(entity.Report{VehicleID: 1})
	m.Record(entity.Report{VehicleID: 1, Blocked: true})
	m.Record(entity.Report{VehicleID: 1, Finished: true})
	m.SetActive(3)
	m.SetSegmentOccupancy(2, 25, 100)

	assert.Equal(t, 3., testutil.ToFloat64(m.ticks))
	assert.Equal(t, 1., testutil.ToFloat64(m.blocked))
	assert.Equal(t, 1., testutil.ToFloat64(m.finished))
	assert.Equal(t, 3., testutil.ToFloat64(m.active))
	assert.Equal(t, 0.25, testutil.ToFloat64(m.occupancy.WithLabelValues("2")))
	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}
