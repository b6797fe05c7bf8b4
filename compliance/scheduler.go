/*
scheduler.go - Periodic document expiry scan

PURPOSE:
  Walks every compliance document on a fixed interval, classifies it against
  the expiring window and reports what needs attention. Operators see the
  result as warn logs and as the station_ledger_documents gauge.

DESIGN:
  - One background goroutine driven by a ticker
  - Runs once immediately on Start
  - A failed scan is logged and retried on the next tick
  - Reports only; documents are never modified

USAGE:
  scheduler := NewExpiryScheduler(store, logger, m)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - document.go: Classify, DaysLeft
  - metrics/metrics.go: DocumentStatus gauge
*/
package compliance

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/station-ledger/metrics"
)

// ScanResult counts documents per status after one scan.
type ScanResult struct {
	CheckedAt time.Time
	Counts    map[Status]int
}

// ExpiryScheduler scans documents for upcoming and past expiry.
type ExpiryScheduler struct {
	Store         Store
	Logger        *zap.Logger
	Metrics       *metrics.Metrics
	CheckInterval time.Duration
	WindowDays    int
	Enabled       bool

	now    func() time.Time
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	lastMu sync.RWMutex
	last   *ScanResult
}

func NewExpiryScheduler(store Store, logger *zap.Logger, m *metrics.Metrics) *ExpiryScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExpiryScheduler{
		Store:         store,
		Logger:        logger,
		Metrics:       m,
		CheckInterval: time.Hour,
		WindowDays:    DefaultWindowDays,
		Enabled:       true,
		now:           time.Now,
	}
}

// Start begins the scan loop. Calling Start on a running or disabled
// scheduler does nothing.
func (s *ExpiryScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Logger.Info("expiry scheduler disabled")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run(s.ticker, s.stop)

	s.Logger.Info("expiry scheduler started", zap.Duration("interval", s.CheckInterval))
}

// Stop ends the scan loop and waits for a running scan to finish.
func (s *ExpiryScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.Logger.Info("expiry scheduler stopped")
}

func (s *ExpiryScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	s.scan(context.Background())
	for {
		select {
		case <-ticker.C:
			s.scan(context.Background())
		case <-stop:
			return
		}
	}
}

func (s *ExpiryScheduler) scan(ctx context.Context) {
	if _, err := s.RunNow(ctx); err != nil {
		s.Logger.Error("expiry scan failed", zap.Error(err))
	}
}

// RunNow performs one scan synchronously.
func (s *ExpiryScheduler) RunNow(ctx context.Context) (ScanResult, error) {
	docs, err := s.Store.ListDocuments(ctx, "")
	if err != nil {
		return ScanResult{}, err
	}

	today := s.now()
	result := ScanResult{
		CheckedAt: today,
		Counts: map[Status]int{
			StatusExpired:  0,
			StatusExpiring: 0,
			StatusValid:    0,
			StatusNoExpiry: 0,
		},
	}

	for _, d := range docs {
		status := Classify(d, today, s.WindowDays)
		result.Counts[status]++

		switch status {
		case StatusExpired, StatusExpiring:
			left, _ := d.DaysLeft(today)
			s.Logger.Warn("document needs renewal",
				zap.String("status", string(status)),
				zap.String("document_id", d.ID),
				zap.String("station_id", d.StationID),
				zap.String("title", d.Title),
				zap.Int("days_left", left),
			)
		}
	}

	for status, n := range result.Counts {
		s.Metrics.DocumentStatus(string(status), n)
	}

	s.lastMu.Lock()
	s.last = &result
	s.lastMu.Unlock()
	return result, nil
}

// LastResult returns the most recent scan, if any ran.
func (s *ExpiryScheduler) LastResult() (ScanResult, bool) {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	if s.last == nil {
		return ScanResult{}, false
	}
	return *s.last, true
}
