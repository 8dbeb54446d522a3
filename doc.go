// Package nfconsole is an operator console for cable-driven gantry robots.
//
// The console connects to a robot (directly on the local network, through a
// cloud relay, or to the bundled simulator), fuses keyboard and gamepad input
// into movement commands and shows the robot's telemetry in the terminal.
//
// # Installation
//
//	go install github.com/gwillem/nfconsole/cmd/nfconsole@latest
//
// # Usage
//
// Choose a robot, and optionally calibrate a servo pendant:
//
//	nfconsole setup
//
// Start the simulator in one terminal and drive it from another:
//
//	nfconsole sim
//	nfconsole teleoperate --mode sim
//
// # Packages
//
//   - cmd/nfconsole: CLI with setup, teleoperate, sim, project and history
//   - pkg/wire: protobuf telemetry and control messages
//   - pkg/session: websocket link to the robot with reconnects
//   - pkg/input: keyboard, joystick and input fusion
//   - pkg/pendant: SO-101 leader arm as gamepad
//   - pkg/scene: robot model built from telemetry
//   - pkg/frame, pkg/lens, pkg/projector: coordinate frames and camera projection
//   - pkg/console: the control loop
//   - pkg/recorder: SQLite session recordings
//   - pkg/sim: simulated robot server
//   - pkg/config: configuration file and environment
package nfconsole
