package syncer

import (
	"math"
	"sync/atomic"

	"github.com/syncdock/syncdock-server/internal/model"
)

// Progress is the run's shared percentage accumulator. Reports are clamped
// monotonic: concurrent chunk completions may arrive out of order, but an
// observer never sees the bar move backwards. Values are kept in hundredths
// of a percent.
type Progress struct {
	basisPoints atomic.Int64
	observer    model.ProgressFunc
}

func NewProgress(observer model.ProgressFunc) *Progress {
	return &Progress{observer: observer}
}

// Report publishes percent if it exceeds the current value.
func (p *Progress) Report(percent float64) {
	if math.IsNaN(percent) {
		return
	}
	next := int64(math.Round(min(max(percent, 0), 100) * 100))
	for {
		current := p.basisPoints.Load()
		if next <= current {
			return
		}
		if p.basisPoints.CompareAndSwap(current, next) {
			break
		}
	}
	if p.observer != nil {
		p.observer(p.Current())
	}
}

func (p *Progress) Current() float64 {
	return float64(p.basisPoints.Load()) / 100
}

// Reset drops back to zero, done at the start and the end of a run.
func (p *Progress) Reset() {
	p.basisPoints.Store(0)
	if p.observer != nil {
		p.observer(0)
	}
}

// LoadPhase adapts the accumulator to the loader's record counter. Processed
// records translate to base + processed/total*weight, the fetch phase having
// already filled the first base percent.
type LoadPhase struct {
	progress  *Progress
	processed atomic.Int64
	total     int64
	base      float64
	weight    float64
}

func (p *Progress) LoadPhase(totalRecords int, base, weight float64) *LoadPhase {
	return &LoadPhase{
		progress: p,
		total:    int64(totalRecords),
		base:     base,
		weight:   weight,
	}
}

func (lp *LoadPhase) Add(records int) {
	if lp.total <= 0 {
		return
	}
	processed := lp.processed.Add(int64(records))
	lp.progress.Report(lp.base + float64(processed)/float64(lp.total)*lp.weight)
}
