package pendant

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"
	"go.bug.st/serial"
)

// Found describes a pendant detected on a serial port.
type Found struct {
	Port   string
	Servos []feetech.FoundServo
}

// FindPorts lists serial ports that may carry a servo bus.
func FindPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list ports: %w", err)
	}
	out := ports[:0]
	for _, port := range ports {
		// Skip Bluetooth ports on macOS
		if strings.Contains(port, "Bluetooth") {
			continue
		}
		out = append(out, port)
	}
	return out, nil
}

// Scan probes every serial port for a six-servo pendant.
func Scan(ctx context.Context) ([]Found, error) {
	ports, err := FindPorts()
	if err != nil {
		return nil, err
	}
	var found []Found
	for _, port := range ports {
		bus, servos, err := Connect(ctx, port)
		if err != nil {
			continue
		}
		bus.Close()
		found = append(found, Found{Port: port, Servos: servos})
	}
	return found, nil
}

// Connect opens the bus on port and verifies it carries a pendant. The
// caller owns the returned bus.
func Connect(ctx context.Context, port string) (*feetech.Bus, []feetech.FoundServo, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	bus, err := newBus(port)
	if err != nil {
		return nil, nil, err
	}
	servos, err := bus.Scan(ctx, 1, 6)
	if err != nil {
		bus.Close()
		return nil, nil, fmt.Errorf("scan %s: %w", port, err)
	}
	if !IsPendant(servos) {
		bus.Close()
		return nil, nil, fmt.Errorf("%s: expected 6 servos with IDs 1-6, found %d", port, len(servos))
	}
	return bus, servos, nil
}

// IsPendant reports whether servos are exactly IDs 1-6.
func IsPendant(servos []feetech.FoundServo) bool {
	if len(servos) != 6 {
		return false
	}
	ids := make(map[int]bool)
	for _, s := range servos {
		ids[s.ID] = true
	}
	for i := 1; i <= 6; i++ {
		if !ids[i] {
			return false
		}
	}
	return true
}

func newBus(port string) (*feetech.Bus, error) {
	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     port,
		BaudRate: 1_000_000,
		Protocol: feetech.ProtocolSTS,
		Timeout:  100 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("open bus %s: %w", port, err)
	}
	return bus, nil
}

// Wiggle nudges the shoulder pan servo on port back and forth so the
// operator can tell which device it is. The servo is left back-drivable.
func Wiggle(ctx context.Context, port string) error {
	bus, servos, err := Connect(ctx, port)
	if err != nil {
		return err
	}
	defer bus.Close()

	var servo *feetech.Servo
	for _, s := range servos {
		if s.ID == 1 {
			servo = feetech.NewServo(bus, s.ID, s.Model)
			break
		}
	}
	if servo == nil {
		return fmt.Errorf("%s: no shoulder pan servo", port)
	}

	origin, err := servo.Position(ctx)
	if err != nil {
		return fmt.Errorf("read position: %w", err)
	}
	if err := servo.Enable(ctx); err != nil {
		return fmt.Errorf("enable torque: %w", err)
	}
	defer servo.Disable(ctx)

	for _, pos := range []int{origin + wiggleAmount, origin - wiggleAmount, origin} {
		servo.SetPositionWithTime(ctx, pos, wiggleMoveMs)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(wiggleMoveMs+100) * time.Millisecond):
		}
	}
	return nil
}

const (
	wiggleAmount = 30
	wiggleMoveMs = 500
)
