package vehicle_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/agentsociety-roadflow/clock"
	"github.com/tsinghua-fib-lab/agentsociety-roadflow/entity"
	"github.com/tsinghua-fib-lab/agentsociety-roadflow/entity/road"
	"github.com/tsinghua-fib-lab/agentsociety-roadflow/entity/vehicle"
	"github.com/tsinghua-fib-lab/agentsociety-roadflow/scheduler"
	"github.com/tsinghua-fib-lab/agentsociety-roadflow/utils/config"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// 每次tick真实1ms，模拟0.05小时
var fastTick = config.ControlTick{SleepMs: 180000, FastForward: 180000}

type recorder struct {
	mtx     sync.Mutex
	reports []entity.Report
}

func (r *recorder) Record(report entity.Report) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.reports = append(r.reports, report)
}

func (r *recorder) of(id int32) []entity.Report {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	res := []entity.Report{}
	for _, report := range r.reports {
		if report.VehicleID == id {
			res = append(res, report)
		}
	}
	return res
}

func (r *recorder) len() int {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return len(r.reports)
}

type testContext struct {
	clock     *clock.Clock
	scheduler *scheduler.Scheduler
	road      *road.Road
	sink      *recorder
}

func (c *testContext) Clock() *clock.Clock             { return c.clock }
func (c *testContext) Scheduler() *scheduler.Scheduler { return c.scheduler }
func (c *testContext) Road() entity.IRoad              { return c.road }
func (c *testContext) Sink() entity.ISink              { return c.sink }

func newContext(t *testing.T, tick config.ControlTick, base config.Road) *testContext {
	r, err := road.New(base)
	require.NoError(t, err)
	c := &testContext{
		clock:     clock.New(tick),
		scheduler: scheduler.New(),
		road:      r,
		sink:      &recorder{},
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.scheduler.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return c
}

func waitDone(t *testing.T, r *road.Road) {
	select {
	case <-r.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("road did not finish")
	}
}

func TestOneVehicleOneSegment(t *testing.T) {
	c := newContext(t, fastTick, config.Road{Length: 100, Segments: []config.Segment{{SpeedLimit: 100, Lanes: 1}}})
	var calls atomic.Int32
	c.road.OnAllVehiclesFinished(func() { calls.Add(1) })

	m := vehicle.NewManager(c)
	a, err := m.Add(config.Vehicle{TargetVelocity: 100, Length: 3})
	require.NoError(t, err)
	waitDone(t, c.road)

	reports := c.sink.of(a.ID())
	require.Greater(t, len(reports), 1)
	last := reports[len(reports)-1]
	assert.InDelta(t, 100., last.Distance, 1e-4)
	assert.GreaterOrEqual(t, last.ElapsedHours, 1.)
	// 100 / min(100, 100)，自身占用使速度略低于限速
	assert.InDelta(t, 1., last.ElapsedHours, 0.1)
	assert.InDelta(t, last.ElapsedHours, a.Elapsed(), 1e-12)
	assert.True(t, last.Finished)
	assert.Equal(t, entity.UnsetSegment, last.Segment)
	for i := 1; i < len(reports); i++ {
		assert.GreaterOrEqual(t, reports[i].Distance, reports[i-1].Distance)
	}

	assert.Equal(t, vehicle.StatusFinished, a.Status())
	assert.Equal(t, 0, c.road.ActiveCount())
	assert.Equal(t, int32(1), calls.Load())

	// 完成后不再tick
	n := c.sink.len()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, c.sink.len())
	assert.Equal(t, int32(1), calls.Load())
}

func TestOneVehicleTwoSegments(t *testing.T) {
	c := newContext(t, fastTick, config.Road{Length: 100, Segments: []config.Segment{
		{SpeedLimit: 100, Lanes: 1},
		{SpeedLimit: 50, Lanes: 1},
	}})
	m := vehicle.NewManager(c)
	a, err := m.Add(config.Vehicle{TargetVelocity: 100, Length: 3})
	require.NoError(t, err)
	waitDone(t, c.road)

	reports := c.sink.of(a.ID())
	last := reports[len(reports)-1]
	assert.InDelta(t, 100., last.Distance, 1e-4)
	assert.GreaterOrEqual(t, last.ElapsedHours, 1.5)
	assert.InDelta(t, 1.5, a.Elapsed(), 0.2)
}

func TestTwoVehiclesWithTraffic(t *testing.T) {
	c := newContext(t, fastTick, config.Road{Length: 100, Segments: []config.Segment{
		{SpeedLimit: 100, Lanes: 1},
		{SpeedLimit: 100, Lanes: 1},
	}})
	m := vehicle.NewManager(c)
	m.Init([]config.Vehicle{
		{TargetVelocity: 100, Length: 0},
		{TargetVelocity: 50, Length: 40},
	})
	waitDone(t, c.road)

	fast := c.sink.of(1)
	last := fast[len(fast)-1]
	assert.InDelta(t, 100., last.Distance, 1e-4)
	assert.GreaterOrEqual(t, last.ElapsedHours, 1.2)
	assert.True(t, last.Finished)

	slow := c.sink.of(2)
	assert.True(t, slow[len(slow)-1].Finished)
	assert.Len(t, m.Data(), 2)
}

func TestBlockedVehicleKeepsTicking(t *testing.T) {
	c := newContext(t, fastTick, config.Road{Length: 100, Segments: []config.Segment{
		{SpeedLimit: 100, Lanes: 1, Occupancy: 50},
		{SpeedLimit: 100, Lanes: 1, Occupancy: 50},
	}})
	m := vehicle.NewManager(c)
	a, err := m.Add(config.Vehicle{TargetVelocity: 100, Length: 3, StartDistance: 40})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return c.sink.len() >= 5 }, 5*time.Second, time.Millisecond)

	for _, report := range c.sink.of(a.ID()) {
		assert.Equal(t, 40., report.Distance)
		assert.True(t, report.Blocked)
	}
	ticks, blocked := a.Ticks()
	assert.Equal(t, ticks, blocked)
	assert.Equal(t, vehicle.StatusMoving, a.Status())

	// 注销后停止tick并触发完成
	require.NoError(t, m.Remove(a.ID()))
	waitDone(t, c.road)
	// 等待可能正在执行的tick结束
	time.Sleep(5 * time.Millisecond)
	n := c.sink.len()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, c.sink.len())
	assert.Error(t, m.Remove(a.ID()))
}

func TestResetAllSchedulesTicksPromptly(t *testing.T) {
	// 每次tick真实间隔180秒
	c := newContext(t, config.ControlTick{SleepMs: 180000, FastForward: 1}, config.Road{
		Length: 100, Segments: []config.Segment{{SpeedLimit: 100, Lanes: 1}},
	})
	m := vehicle.NewManager(c)
	a, err := m.Add(config.Vehicle{TargetVelocity: 100, Length: 3})
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 0, c.sink.len())

	c.road.ResetAllSchedules()
	require.Eventually(t, func() bool { return c.sink.len() == 1 }, time.Second, time.Millisecond)
	m.Close()
	assert.InDelta(t, 0.05, a.Elapsed(), 1e-12)
	assert.Equal(t, a.Motion().Distance, c.sink.of(a.ID())[0].Distance)
}

func TestSpawner(t *testing.T) {
	c := newContext(t, fastTick, config.Road{Length: 10, Segments: []config.Segment{{SpeedLimit: 100, Lanes: 2}}})
	m := vehicle.NewManager(c)
	select {
	case <-m.SpawnerDone():
	default:
		t.Fatal("spawner done should be closed before start")
	}
	m.StartSpawner(config.Spawn{Count: 3, IntervalMs: 1, TargetVelocity: 80, VelocityNoise: 10, Length: 1, Seed: 7})
	select {
	case <-m.SpawnerDone():
	case <-time.After(5 * time.Second):
		t.Fatal("spawner did not finish")
	}
	agents := m.Data()
	require.Len(t, agents, 3)
	for i, a := range agents {
		assert.Equal(t, int32(i+1), a.ID())
		assert.InDelta(t, 80., a.TargetV(), 10)
		assert.Equal(t, 1., a.Length())
	}
}

func TestManagerErrors(t *testing.T) {
	c := newContext(t, config.ControlTick{SleepMs: 180000, FastForward: 1}, config.Road{
		Length: 100, Segments: []config.Segment{{SpeedLimit: 100, Lanes: 1}},
	})
	m := vehicle.NewManager(c)
	_, err := m.Add(config.Vehicle{TargetVelocity: 0})
	assert.Error(t, err)
	_, err = m.Add(config.Vehicle{TargetVelocity: 10, Length: -1})
	assert.Error(t, err)
	_, err = m.GetOrError(1)
	assert.Error(t, err)
	assert.Panics(t, func() { m.Init([]config.Vehicle{{TargetVelocity: -1}}) })
}

func TestRPC(t *testing.T) {
	c := newContext(t, config.ControlTick{SleepMs: 180000, FastForward: 1}, config.Road{
		Length: 100, Segments: []config.Segment{{SpeedLimit: 100, Lanes: 1}},
	})
	m := vehicle.NewManager(c)
	ctx := context.Background()

	req, err := structpb.NewStruct(map[string]any{"target_velocity": 60, "length": 4, "start_distance": 10})
	require.NoError(t, err)
	res, err := m.AddVehicle(ctx, connect.NewRequest(req))
	require.NoError(t, err)
	id := res.Msg.GetValue()
	a, err := m.GetOrError(id)
	require.NoError(t, err)
	assert.Equal(t, 60., a.TargetV())
	assert.Equal(t, 10., a.Motion().Distance)
	assert.Equal(t, 4., c.road.Segment(0).Occupancy)

	bad, err := structpb.NewStruct(map[string]any{"target_velocity": -1})
	require.NoError(t, err)
	_, err = m.AddVehicle(ctx, connect.NewRequest(bad))
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	query, err := structpb.NewStruct(map[string]any{"ids": []any{id, 99}})
	require.NoError(t, err)
	got, err := m.GetVehicles(ctx, connect.NewRequest(query))
	require.NoError(t, err)
	out := got.Msg.AsMap()
	vehicles := out["vehicles"].([]any)
	require.Len(t, vehicles, 1)
	v := vehicles[0].(map[string]any)
	assert.Equal(t, float64(id), v["id"])
	assert.Equal(t, "moving", v["status"])
	assert.Equal(t, 10., v["distance"])
	assert.Equal(t, []any{99.}, out["failed_ids"])

	frac, err := structpb.NewStruct(map[string]any{"ids": []any{1.5}})
	require.NoError(t, err)
	_, err = m.GetVehicles(ctx, connect.NewRequest(frac))
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	_, err = m.RemoveVehicle(ctx, connect.NewRequest(wrapperspb.Int32(id)))
	require.NoError(t, err)
	_, err = m.RemoveVehicle(ctx, connect.NewRequest(wrapperspb.Int32(id)))
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))
	_, err = m.RemoveVehicle(ctx, connect.NewRequest(wrapperspb.Int32(99)))
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))
	waitDone(t, c.road)
}
