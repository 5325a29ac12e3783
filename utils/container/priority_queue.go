package container

import (
	"container/heap"
	"time"
)

// item 优先队列中单个元素
// 说明：按到期时间排序，到期时间相同时按入队顺序（seq）排序
type item[T any] struct {
	Value T
	Due   time.Time
	seq   uint64
}

// priorityQueue 实现heap.Interface的最小堆
type priorityQueue[T any] []*item[T]

func (pq priorityQueue[T]) Len() int { return len(pq) }

func (pq priorityQueue[T]) Less(i, j int) bool {
	if pq[i].Due.Equal(pq[j].Due) {
		return pq[i].seq < pq[j].seq
	}
	return pq[i].Due.Before(pq[j].Due)
}

func (pq priorityQueue[T]) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
}

func (pq *priorityQueue[T]) Push(x any) {
	*pq = append(*pq, x.(*item[T]))
}

func (pq *priorityQueue[T]) Pop() any {
	old := *pq
	n := len(old)
	it := old[n-1]
	old[n-1] = nil // 避免内存泄漏
	*pq = old[0 : n-1]
	return it
}

// PriorityQueue 按到期时间排序的优先队列（非线程安全）
// 功能：调度器使用的定时队列，First总是最早到期的元素，同一时刻先入先出
type PriorityQueue[T any] struct {
	queue priorityQueue[T]
	seq   uint64
}

// NewPriorityQueue 创建优先队列
func NewPriorityQueue[T any]() *PriorityQueue[T] {
	return &PriorityQueue[T]{queue: make(priorityQueue[T], 0)}
}

// Len 获取当前队列长度
func (q *PriorityQueue[T]) Len() int {
	return len(q.queue)
}

// First 查看最早到期的元素及其到期时间，队列为空时ok为false
func (q *PriorityQueue[T]) First() (value T, due time.Time, ok bool) {
	if len(q.queue) == 0 {
		return
	}
	return q.queue[0].Value, q.queue[0].Due, true
}

// HeapPush 加入元素
func (q *PriorityQueue[T]) HeapPush(value T, due time.Time) {
	q.seq++
	heap.Push(&q.queue, &item[T]{
		Value: value,
		Due:   due,
		seq:   q.seq,
	})
}

// HeapPop 弹出最早到期的元素
func (q *PriorityQueue[T]) HeapPop() (value T, due time.Time) {
	it := heap.Pop(&q.queue).(*item[T])
	return it.Value, it.Due
}
