package output

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tsinghua-fib-lab/agentsociety-roadflow/entity"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	defaultBatch   = 100
	pendingBatches = 16
)

// inserter MongoDB集合的批量写入接口（*mongo.Collection）
type inserter interface {
	InsertMany(ctx context.Context, documents []interface{}, opts ...*options.InsertManyOptions) (*mongo.InsertManyResult, error)
}

// record 写入MongoDB的上报文档
type record struct {
	RunID        string    `bson:"run_id"`
	VehicleID    int32     `bson:"vehicle_id"`
	Distance     float64   `bson:"distance"`
	ElapsedHours float64   `bson:"elapsed_hours"`
	V            float64   `bson:"v"`
	Segment      int       `bson:"segment"`
	Blocked      bool      `bson:"blocked"`
	Finished     bool      `bson:"finished"`
	CreatedAt    time.Time `bson:"created_at"`
}

// MongoRecorder 上报记录器
// 功能：为每次运行生成run_id，将上报缓存后按批写入MongoDB
// 说明：写满一批后交给后台协程写入，tick不等待数据库；待写入的批次已满时丢弃新的批次并计数
type MongoRecorder struct {
	coll  inserter
	runID string
	batch int

	mtx     sync.Mutex
	buf     []any
	closed  bool
	dropped int
	batches chan []any
	wg      sync.WaitGroup

	// 取消后台协程中正在进行的写入
	ctx    context.Context
	cancel context.CancelFunc

	now func() time.Time
}

// NewMongoRecorder 创建上报记录器并启动后台写入协程
// 参数：coll-目标集合，batch-每批条数（不大于0时使用默认值）
func NewMongoRecorder(coll inserter, batch int) *MongoRecorder {
	if batch <= 0 {
		batch = defaultBatch
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &MongoRecorder{
		coll:    coll,
		runID:   uuid.NewString(),
		batch:   batch,
		batches: make(chan []any, pendingBatches),
		ctx:     ctx,
		cancel:  cancel,
		now:     time.Now,
	}
	m.wg.Add(1)
	go m.loop()
	log.Infof("recording reports with run_id %s", m.runID)
	return m
}

// RunID 获取本次运行的ID
func (m *MongoRecorder) RunID() string {
	return m.runID
}

func (m *MongoRecorder) Record(r entity.Report) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if m.closed {
		return
	}
	m.buf = append(m.buf, record{
		RunID:        m.runID,
		VehicleID:    r.VehicleID,
		Distance:     r.Distance,
		ElapsedHours: r.ElapsedHours,
		V:            r.V,
		Segment:      r.Segment,
		Blocked:      r.Blocked,
		Finished:     r.Finished,
		CreatedAt:    m.now(),
	})
	if len(m.buf) >= m.batch {
		m.handOver()
	}
}

// Flush 将缓存中尚未成批的上报交给后台协程写入，不等待写入完成
func (m *MongoRecorder) Flush() {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if m.closed || len(m.buf) == 0 {
		return
	}
	m.handOver()
}

// handOver 将缓存交给后台协程（需持有锁，不阻塞）
func (m *MongoRecorder) handOver() {
	select {
	case m.batches <- m.buf:
	default:
		if m.dropped == 0 {
			log.Warnf("database is too slow, dropping reports")
		}
		m.dropped += len(m.buf)
	}
	m.buf = nil
}

// Close 停止接收上报，等待后台写入完成并写入剩余上报
// 说明：ctx结束时取消正在进行的写入并返回错误
func (m *MongoRecorder) Close(ctx context.Context) error {
	m.mtx.Lock()
	if m.closed {
		m.mtx.Unlock()
		return nil
	}
	m.closed = true
	docs := m.buf
	m.buf = nil
	dropped := m.dropped
	close(m.batches)
	m.mtx.Unlock()

	if dropped > 0 {
		log.Warnf("%d reports dropped in run %s", dropped, m.runID)
	}
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		m.cancel()
		return fmt.Errorf("output: close recorder: %w", ctx.Err())
	}
	defer m.cancel()
	return m.insert(ctx, docs)
}

func (m *MongoRecorder) loop() {
	defer m.wg.Done()
	for docs := range m.batches {
		if err := m.insert(m.ctx, docs); err != nil {
			log.Errorf("failed to record %d reports: %v", len(docs), err)
		}
	}
}

func (m *MongoRecorder) insert(ctx context.Context, docs []any) error {
	if len(docs) == 0 {
		return nil
	}
	if _, err := m.coll.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("output: insert reports: %w", err)
	}
	return nil
}
