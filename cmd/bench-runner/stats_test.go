package main

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPercentile(t *testing.T) {
	values := []float64{5, 1, 4, 2, 3, 10, 9, 8, 7, 6}
	p50, p90, p95, p99 := calcPercentiles(values)
	assert.Equal(t, 5.0, p50)
	assert.Equal(t, 9.0, p90)
	assert.Equal(t, 10.0, p95)
	assert.Equal(t, 10.0, p99)
	assert.Equal(t, 0.0, percentile(nil, 0.5))
}

func TestStatsRecord(t *testing.T) {
	s := newStats()
	s.record(201, 10*time.Millisecond, nil)
	s.record(200, 20*time.Millisecond, nil)
	s.record(409, 5*time.Millisecond, errors.New("status 409"))
	s.record(503, time.Millisecond, errors.New("status 503"))
	s.record(0, 0, errors.New("connection refused"))

	assert.Equal(t, 2, s.success)
	assert.Equal(t, 1, s.rejected)
	assert.Equal(t, 2, s.errors)
	assert.Equal(t, map[string]int{"transient": 1, "transport": 1}, s.errorClasses)
	assert.Equal(t, "status 503", s.firstError)
	assert.Equal(t, 5*time.Millisecond, s.minLatency)
	assert.Equal(t, 20*time.Millisecond, s.maxLatency)
	assert.Len(t, s.latenciesMs, 3)
}
