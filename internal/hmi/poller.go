package hmi

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Poller reads every variable of a panel cyclically.
type Poller struct {
	panel    *Panel
	interval time.Duration
	logger   *zap.Logger
	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex

	// failing tracks variables whose last read failed, so that errors are
	// logged on change only.
	failing map[string]bool
	cycles  uint64
}

func NewPoller(panel *Panel, interval time.Duration, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		panel:    panel,
		interval: interval,
		logger:   logger,
		failing:  make(map[string]bool),
	}
}

// Start startet das zyklische Polling
func (p *Poller) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	p.running = true
	p.stopChan = make(chan struct{})
	p.wg.Add(1)

	go p.pollLoop(p.stopChan)

	p.logger.Info("Poller started",
		zap.String("screen", p.panel.Screen().Screen.ID),
		zap.Int("variables", len(p.panel.Variables())),
		zap.Duration("interval", p.interval))

	return nil
}

// Stop stoppt das Polling und wartet auf den laufenden Zyklus
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	close(p.stopChan)
	p.running = false
	p.mu.Unlock()

	p.wg.Wait()

	p.logger.Info("Poller stopped", zap.String("screen", p.panel.Screen().Screen.ID))
}

func (p *Poller) pollLoop(stop <-chan struct{}) {
	defer p.wg.Done()

	// first cycle immediately so displays are filled before the first tick
	p.Poll()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.Poll()
		}
	}
}

// Poll runs one read cycle over all variables.
func (p *Poller) Poll() {
	for _, v := range p.panel.Variables() {
		_, err := p.panel.Read(v.Name)

		p.mu.Lock()
		wasFailing := p.failing[v.Name]
		switch {
		case err != nil && !wasFailing:
			p.failing[v.Name] = true
			p.logger.Error("Poll failed",
				zap.String("variable", v.Name),
				zap.Int("address", v.Address),
				zap.Error(err))
		case err == nil && wasFailing:
			delete(p.failing, v.Name)
			p.logger.Info("Poll recovered", zap.String("variable", v.Name))
		}
		p.mu.Unlock()
	}

	p.mu.Lock()
	p.cycles++
	p.mu.Unlock()
}

// IsRunning gibt an ob der Poller läuft
func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Cycles returns the number of completed poll cycles.
func (p *Poller) Cycles() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cycles
}

// Failing returns the names of variables whose last read failed.
func (p *Poller) Failing() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.failing))
	for _, v := range p.panel.Variables() {
		if p.failing[v.Name] {
			out = append(out, v.Name)
		}
	}
	return out
}
