package service

import (
	"sync"
	"time"
)

type Operation string

const (
	OpRegistration Operation = "registration"
	OpTransaction  Operation = "transaction"
	OpMint         Operation = "mint"
)

// MetricsCollector tracks counts and timings per ledger operation.
type MetricsCollector struct {
	mu  sync.RWMutex
	now func() time.Time
	ops map[Operation]*operationStats

	rateLimited     int
	persistFailures int
	blocksPersisted int
}

type operationStats struct {
	startTime time.Time
	endTime   time.Time
	count     int
	failures  int
	totalTime time.Duration
}

// OperationMetrics contains timing information for an operation
type OperationMetrics struct {
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	Count          int       `json:"count"`
	Failures       int       `json:"failures"`
	ProcessingTime int64     `json:"processing_time_ms"`
}

type MetricsResponse struct {
	Registration    OperationMetrics `json:"registration"`
	Transactions    OperationMetrics `json:"transactions"`
	Mints           OperationMetrics `json:"mints"`
	RateLimited     int              `json:"rate_limited"`
	BlocksPersisted int              `json:"blocks_persisted"`
	PersistFailures int              `json:"persist_failures"`
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		now: time.Now,
		ops: make(map[Operation]*operationStats),
	}
}

// RecordStart marks the start of an operation and returns its start time.
func (mc *MetricsCollector) RecordStart(op Operation) time.Time {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	now := mc.now()
	stats := mc.stats(op)
	if stats.count == 0 {
		stats.startTime = now
	}
	stats.count++
	return now
}

// RecordEnd closes an operation started at start.
func (mc *MetricsCollector) RecordEnd(op Operation, start time.Time, err error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	now := mc.now()
	stats := mc.stats(op)
	stats.endTime = now
	stats.totalTime += now.Sub(start)
	if err != nil {
		stats.failures++
	}
}

func (mc *MetricsCollector) RecordRateLimited() {
	mc.mu.Lock()
	mc.rateLimited++
	mc.mu.Unlock()
}

func (mc *MetricsCollector) RecordPersist(err error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if err != nil {
		mc.persistFailures++
		return
	}
	mc.blocksPersisted++
}

func (mc *MetricsCollector) GetMetrics() MetricsResponse {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	return MetricsResponse{
		Registration:    mc.snapshot(OpRegistration),
		Transactions:    mc.snapshot(OpTransaction),
		Mints:           mc.snapshot(OpMint),
		RateLimited:     mc.rateLimited,
		BlocksPersisted: mc.blocksPersisted,
		PersistFailures: mc.persistFailures,
	}
}

func (mc *MetricsCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.ops = make(map[Operation]*operationStats)
	mc.rateLimited = 0
	mc.persistFailures = 0
	mc.blocksPersisted = 0
}

// stats must be called with mc.mu held for writing.
func (mc *MetricsCollector) stats(op Operation) *operationStats {
	s, ok := mc.ops[op]
	if !ok {
		s = &operationStats{}
		mc.ops[op] = s
	}
	return s
}

func (mc *MetricsCollector) snapshot(op Operation) OperationMetrics {
	s, ok := mc.ops[op]
	if !ok {
		return OperationMetrics{}
	}
	return OperationMetrics{
		StartTime:      s.startTime,
		EndTime:        s.endTime,
		Count:          s.count,
		Failures:       s.failures,
		ProcessingTime: s.totalTime.Milliseconds(),
	}
}
