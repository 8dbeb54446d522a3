package pendant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"

	"github.com/gwillem/nfconsole/pkg/input"
	"github.com/gwillem/nfconsole/pkg/monitoring"
)

// PollInterval is how often the pendant joints are read.
const PollInterval = 20 * time.Millisecond

// ErrNotCalibrated is returned by Open when a joint has no usable range.
var ErrNotCalibrated = errors.New("pendant not calibrated")

type readFunc func(ctx context.Context) (map[int]int, error)

// Pendant is an input.GamepadSource backed by a servo bus. A background
// goroutine reads the joints; Poll returns the latest frame.
type Pendant struct {
	port        string
	bus         *feetech.Bus
	group       *feetech.ServoGroup
	calibration Calibration
	read        readFunc

	mu        sync.Mutex
	frame     input.Frame
	positions map[JointName]float64
	ok        bool

	cancel context.CancelFunc
	done   chan struct{}
}

// Open connects to the pendant on port, releases torque so the operator
// can move it, and starts polling.
func Open(port string, cal Calibration) (*Pendant, error) {
	if !cal.Complete() {
		return nil, ErrNotCalibrated
	}
	bus, err := newBus(port)
	if err != nil {
		return nil, err
	}
	group := feetech.NewServoGroupByIDs(bus, cal.MotorIDs()...)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := group.DisableAll(ctx); err != nil {
		bus.Close()
		return nil, fmt.Errorf("release torque: %w", err)
	}

	read := func(ctx context.Context) (map[int]int, error) {
		raw, err := group.Positions(ctx)
		if err != nil {
			return nil, err
		}
		out := make(map[int]int, len(raw))
		for id, pos := range raw {
			out[id] = pos
		}
		return out, nil
	}
	p := newPendant(read, cal)
	p.port, p.bus, p.group = port, bus, group
	p.start(PollInterval)
	return p, nil
}

func newPendant(read readFunc, cal Calibration) *Pendant {
	return &Pendant{read: read, calibration: cal, done: make(chan struct{})}
}

func (p *Pendant) start(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go p.pollLoop(ctx, interval)
}

func (p *Pendant) pollLoop(ctx context.Context, interval time.Duration) {
	defer close(p.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	failing := false
	for {
		if err := p.sample(ctx); err != nil {
			if !failing {
				monitoring.Logf("[pendant] %s: %v", p.port, err)
			}
			failing = true
		} else {
			failing = false
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Pendant) sample(ctx context.Context) error {
	raw, err := p.read(ctx)
	if err != nil {
		p.mu.Lock()
		p.ok = false
		p.mu.Unlock()
		return fmt.Errorf("read positions: %w", err)
	}

	positions := make(map[JointName]float64, len(raw))
	for id, pos := range raw {
		name, cal, ok := p.calibration.ByID(id)
		if !ok {
			continue
		}
		positions[name] = cal.Normalize(pos)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.positions = positions
	p.frame = ToFrame(positions)
	p.ok = true
	return nil
}

// Poll implements input.GamepadSource. It reports false until the first
// successful read and after a failed one.
func (p *Pendant) Poll() (input.Frame, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frame, p.ok
}

// Positions returns the latest normalized joint positions.
func (p *Pendant) Positions() map[JointName]float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[JointName]float64, len(p.positions))
	for k, v := range p.positions {
		out[k] = v
	}
	return out
}

// Recenter drives every joint to the middle of its range and releases
// torque again, so the pendant rests in its neutral pose.
func (p *Pendant) Recenter(ctx context.Context) error {
	if p.group == nil {
		return errors.New("pendant has no servo bus")
	}
	raw := make(feetech.PositionMap, len(p.calibration))
	for _, mc := range p.calibration {
		raw[mc.ID] = mc.Denormalize(0)
	}
	if err := p.group.EnableAll(ctx); err != nil {
		return fmt.Errorf("enable torque: %w", err)
	}
	if err := p.group.SetPositions(ctx, raw); err != nil {
		p.group.DisableAll(ctx)
		return fmt.Errorf("write positions: %w", err)
	}
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
	}
	return p.group.DisableAll(context.WithoutCancel(ctx))
}

// Close stops polling and closes the bus.
func (p *Pendant) Close() error {
	if p.cancel != nil {
		p.cancel()
		<-p.done
	}
	if p.bus != nil {
		return p.bus.Close()
	}
	return nil
}
