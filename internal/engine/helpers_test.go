package engine

import (
	"context"
	"sync"

	"github.com/roach88/coinsync/internal/model"
	"github.com/roach88/coinsync/internal/retry"
	"github.com/roach88/coinsync/internal/testutil"
)

// testPolicy is the default policy with a sleeper that never sleeps.
func testPolicy() (retry.Policy, *testutil.RecordingSleeper) {
	s := &testutil.RecordingSleeper{}
	p := retry.Default
	p.Sleeper = s
	return p, s
}

type memRecorder struct {
	mu      sync.Mutex
	records []model.BalanceRecord
}

func (r *memRecorder) RecordBalance(_ context.Context, rec model.BalanceRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *memRecorder) all() []model.BalanceRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.BalanceRecord(nil), r.records...)
}
