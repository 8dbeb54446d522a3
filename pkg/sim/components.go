package sim

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/gwillem/nfconsole/pkg/wire"
)

// Component link timings.
const (
	AnchorStagger  = 250 * time.Millisecond
	WebsocketDelay = 1500 * time.Millisecond
	VideoDelay     = time.Second
)

// Scheduled is a telemetry item due At after the client connected.
type Scheduled struct {
	At   time.Duration
	Item wire.TelemetryItem
}

// ConnectionSchedule returns the component status sequence of a robot
// booting: every anchor and then the gripper report connecting, websocket
// connected WebsocketDelay later and video connected VideoDelay after that.
// Anchors start AnchorStagger apart. The result is sorted by At.
func ConnectionSchedule(anchors int) []Scheduled {
	var out []Scheduled
	add := func(start time.Duration, status wire.ComponentConnStatus, key string) {
		phases := []struct {
			at        time.Duration
			ws, video wire.ConnStatus
		}{
			{start, wire.Connecting, wire.NotDetected},
			{start + WebsocketDelay, wire.Connected, wire.NotDetected},
			{start + WebsocketDelay + VideoDelay, wire.Connected, wire.Connected},
		}
		for _, p := range phases {
			s := status
			s.WebsocketStatus, s.VideoStatus = p.ws, p.video
			out = append(out, Scheduled{At: p.at, Item: wire.TelemetryItem{Update: &s, RetainKey: key}})
		}
	}

	for i := range anchors {
		add(time.Duration(i+1)*AnchorStagger, wire.ComponentConnStatus{
			AnchorNum: int32(i),
			IPAddress: fmt.Sprintf("192.168.1.10%d", i),
		}, fmt.Sprintf("conn_status_anchor_%d", i))
	}
	add(time.Duration(anchors)*AnchorStagger, wire.ComponentConnStatus{
		IsGripper:    true,
		IPAddress:    "192.168.1.109",
		GripperModel: wire.GripperPilot,
	}, "conn_status_gripper")

	slices.SortStableFunc(out, func(a, b Scheduled) int { return cmp.Compare(a.At, b.At) })
	return out
}
