package transcode

import "sync"

// progressScaler maps per-stage engine fractions onto one run-wide fraction.
// Values before the first stage starts are dropped and reported values never
// decrease.
type progressScaler struct {
	mu      sync.Mutex
	stages  int
	current int
	last    float64
	emitted bool
	emit    func(float64)
}

func newProgressScaler(stages int, emit func(float64)) *progressScaler {
	if stages < 1 {
		stages = 1
	}
	return &progressScaler{stages: stages, current: -1, emit: emit}
}

// begin marks stage i as started.
func (p *progressScaler) begin(i int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = i
	p.report(float64(i) / float64(p.stages))
}

// stage reports a fraction of the current stage.
func (p *progressScaler) stage(f float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current < 0 {
		return
	}
	p.report((float64(p.current) + f) / float64(p.stages))
}

// finish reports completion of the whole run.
func (p *progressScaler) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.report(1)
}

func (p *progressScaler) report(v float64) {
	if v > 1 {
		v = 1
	}
	if p.emitted && v <= p.last {
		return
	}
	p.last = v
	p.emitted = true
	if p.emit != nil {
		p.emit(v)
	}
}
