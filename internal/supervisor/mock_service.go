// ingestd - Personal-use Cryptocurrency Market-Data Ingestion Daemon
// Copyright 2026 feedcore
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedcore/ingestd

package supervisor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// MockService is a test double implementing suture.Service. It records how
// many times it has been started and can be configured to fail its first
// N starts before running cleanly, to exercise supervisor restart behavior.
type MockService struct {
	name       string
	startCount atomic.Int64
	mu         sync.Mutex
	failCount  int
}

// NewMockService creates a mock service with the given name.
func NewMockService(name string) *MockService {
	return &MockService{name: name}
}

// SetFailCount configures the service to return an error on its first n
// starts before succeeding.
func (m *MockService) SetFailCount(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCount = n
}

// StartCount returns how many times Serve has been entered.
func (m *MockService) StartCount() int64 {
	return m.startCount.Load()
}

// Serve implements suture.Service.
func (m *MockService) Serve(ctx context.Context) error {
	n := m.startCount.Add(1)

	m.mu.Lock()
	shouldFail := int(n) <= m.failCount
	m.mu.Unlock()

	if shouldFail {
		return fmt.Errorf("mock service %s: simulated failure on start %d", m.name, n)
	}

	<-ctx.Done()
	return ctx.Err()
}

// String implements fmt.Stringer for suture's logging.
func (m *MockService) String() string {
	return m.name
}
