package bus

import (
	"context"
	"sync"
	"testing"

	"github.com/matterverse/matterverse-core/internal/device"
)

type commandCall struct {
	nodeID   uint64
	endpoint uint16
	cluster  string
	name     string
	value    string
	invoke   bool
}

type fakeSink struct {
	mu    sync.Mutex
	calls []commandCall
	err   error
}

func (f *fakeSink) InvokeCommand(_ context.Context, nodeID uint64, endpoint uint16, clusterToken, command string, _ ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, commandCall{nodeID, endpoint, clusterToken, command, "", true})
	return nil
}

func (f *fakeSink) WriteAttribute(_ context.Context, nodeID uint64, endpoint uint16, clusterToken, attribute, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, commandCall{nodeID, endpoint, clusterToken, attribute, value, false})
	return nil
}

func newTestNormalizer() (*Normalizer, *fakeBusRegistry, *fakeSink, *fakeClient) {
	client := newFakeClient()
	reg := &fakeBusRegistry{devices: []device.Device{makeBusDevice()}}
	sink := &fakeSink{}
	n := NewNormalizer(client, reg, sink)
	if err := n.Start(context.Background()); err != nil {
		panic(err)
	}
	return n, reg, sink, client
}

func TestNormalizer_Subscribes(t *testing.T) {
	_, _, _, client := newTestNormalizer()
	if client.subbed != "homie/#" {
		t.Errorf("subscribed to %q, want homie/#", client.subbed)
	}
}

func TestHandleMessage_LiveValue(t *testing.T) {
	n, reg, _, _ := newTestNormalizer()

	if err := n.HandleMessage("homie/AcmeLighting_SmartBulb_abc/onoff/on-off", []byte("true")); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}

	if len(reg.sets) != 1 {
		t.Fatalf("got %d value applies, want 1", len(reg.sets))
	}
	got := reg.sets[0]
	if got.nodeID != 5 || got.endpoint != 1 || got.cluster != "onoff" || got.attribute != "on-off" || got.raw != "true" {
		t.Errorf("applied %+v", got)
	}
	if n.GetStats().ValuesApplied != 1 {
		t.Errorf("ValuesApplied = %d, want 1", n.GetStats().ValuesApplied)
	}
}

func TestHandleMessage_Redelivery(t *testing.T) {
	n, reg, _, _ := newTestNormalizer()

	topic := "homie/AcmeLighting_SmartBulb_abc/onoff/on-off"
	n.HandleMessage(topic, []byte("true"))
	n.HandleMessage(topic, []byte("true"))

	// Full-value overwrites: both deliveries apply cleanly.
	if len(reg.sets) != 2 {
		t.Errorf("got %d applies after redelivery, want 2", len(reg.sets))
	}
	if n.GetStats().Dropped != 0 {
		t.Errorf("Dropped = %d, want 0", n.GetStats().Dropped)
	}
}

func TestHandleMessage_Metadata(t *testing.T) {
	n, reg, _, _ := newTestNormalizer()

	tests := []struct {
		name  string
		topic string
		want  metaCall
	}{
		{
			name:  "device level",
			topic: "homie/AcmeLighting_SmartBulb_abc/$name",
			want:  metaCall{"AcmeLighting_SmartBulb_abc", "", "", "$name", "Lamp"},
		},
		{
			name:  "cluster level",
			topic: "homie/AcmeLighting_SmartBulb_abc/onoff/$properties",
			want:  metaCall{"AcmeLighting_SmartBulb_abc", "onoff", "", "$properties", "Lamp"},
		},
		{
			name:  "attribute level",
			topic: "homie/AcmeLighting_SmartBulb_abc/onoff/on-off/$settable",
			want:  metaCall{"AcmeLighting_SmartBulb_abc", "onoff", "on-off", "$settable", "Lamp"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := len(reg.metas)
			if err := n.HandleMessage(tt.topic, []byte("Lamp")); err != nil {
				t.Fatalf("HandleMessage() error = %v", err)
			}
			if len(reg.metas) != before+1 {
				t.Fatalf("metadata not applied")
			}
			if got := reg.metas[len(reg.metas)-1]; got != tt.want {
				t.Errorf("applied %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestHandleMessage_SetOnOff(t *testing.T) {
	n, _, sink, _ := newTestNormalizer()

	n.HandleMessage("homie/AcmeLighting_SmartBulb_abc/onoff/on-off/set", []byte("true"))
	n.HandleMessage("homie/AcmeLighting_SmartBulb_abc/onoff/on-off/set", []byte("false"))

	if len(sink.calls) != 2 {
		t.Fatalf("got %d commands, want 2", len(sink.calls))
	}
	if !sink.calls[0].invoke || sink.calls[0].name != "on" {
		t.Errorf("first call = %+v, want invoke on", sink.calls[0])
	}
	if !sink.calls[1].invoke || sink.calls[1].name != "off" {
		t.Errorf("second call = %+v, want invoke off", sink.calls[1])
	}
}

func TestHandleMessage_SetWrite(t *testing.T) {
	n, _, sink, _ := newTestNormalizer()

	n.HandleMessage("homie/AcmeLighting_SmartBulb_abc/levelcontrol/current-level/set", []byte("128"))

	if len(sink.calls) != 1 {
		t.Fatalf("got %d commands, want 1", len(sink.calls))
	}
	got := sink.calls[0]
	if got.invoke {
		t.Error("expected attribute write, got invoke")
	}
	if got.cluster != "levelcontrol" || got.name != "current-level" || got.value != "128" {
		t.Errorf("call = %+v", got)
	}
	if n.GetStats().CommandsSent != 1 {
		t.Errorf("CommandsSent = %d, want 1", n.GetStats().CommandsSent)
	}
}

func TestHandleMessage_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		topic string
	}{
		{"wrong root", "other/device/onoff/on-off"},
		{"too short", "homie/device"},
		{"empty segment", "homie//onoff/on-off"},
		{"too deep without marker", "homie/device/a/b/c"},
		{"set without attribute", "homie/device/onoff/set"},
		{"unknown device set", "homie/nope/onoff/on-off/set"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, reg, sink, _ := newTestNormalizer()
			if err := n.HandleMessage(tt.topic, []byte("x")); err != nil {
				t.Fatalf("HandleMessage() error = %v, want dropped not failed", err)
			}
			if n.GetStats().Dropped != 1 {
				t.Errorf("Dropped = %d, want 1", n.GetStats().Dropped)
			}
			if len(reg.sets) != 0 || len(sink.calls) != 0 {
				t.Error("malformed message reached a sink")
			}
		})
	}
}

type fakeChangeNotifier struct {
	mu      sync.Mutex
	updates []*device.AttributeUpdate
}

func (f *fakeChangeNotifier) AttributeChanged(u *device.AttributeUpdate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, u)
}

func TestHandleMessage_ValueFansOut(t *testing.T) {
	n, _, _, _ := newTestNormalizer()
	notifier := &fakeChangeNotifier{}
	n.SetNotifier(notifier)

	if err := n.HandleMessage("homie/AcmeLighting_SmartBulb_abc/onoff/on-off", []byte("true")); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}

	if len(notifier.updates) != 1 {
		t.Fatalf("got %d fan-out updates, want 1", len(notifier.updates))
	}
	got := notifier.updates[0]
	if got.NodeID != 5 || got.Cluster != "onoff" || got.Name != "on-off" {
		t.Errorf("fanned out %+v", got)
	}
	if got.TopicID != "AcmeLighting_SmartBulb_abc" {
		t.Errorf("TopicID = %q, update must carry the bus identity", got.TopicID)
	}
}

func TestHandleMessage_UnchangedValueNotFannedOut(t *testing.T) {
	n, reg, _, _ := newTestNormalizer()
	notifier := &fakeChangeNotifier{}
	n.SetNotifier(notifier)
	reg.unchanged = true

	n.HandleMessage("homie/AcmeLighting_SmartBulb_abc/onoff/on-off", []byte("false"))

	if len(reg.sets) != 1 {
		t.Fatalf("value not applied")
	}
	if len(notifier.updates) != 0 {
		t.Errorf("got %d fan-out updates for unchanged value, want 0", len(notifier.updates))
	}
}

func TestHandleMessage_AdoptsUnknownDevice(t *testing.T) {
	n, reg, _, _ := newTestNormalizer()
	notifier := &fakeChangeNotifier{}
	n.SetNotifier(notifier)

	// A device announcing itself: lifecycle state first, then a live
	// value for a cluster it never described.
	if err := n.HandleMessage("homie/dev42/$state", []byte("ready")); err != nil {
		t.Fatalf("HandleMessage($state) error = %v", err)
	}
	if err := n.HandleMessage("homie/dev42/powermeter/activepower", []byte("1500")); err != nil {
		t.Fatalf("HandleMessage(value) error = %v", err)
	}

	if len(reg.adopted) != 1 || reg.adopted[0] != "dev42" {
		t.Fatalf("adopted = %v, want [dev42]", reg.adopted)
	}
	if _, _, err := reg.DeviceByTopicID("dev42"); err != nil {
		t.Fatalf("DeviceByTopicID(dev42) error = %v", err)
	}

	wantMeta := metaCall{"dev42", "", "", "$state", "ready"}
	if len(reg.metas) != 1 || reg.metas[0] != wantMeta {
		t.Errorf("metas = %+v, want [%+v]", reg.metas, wantMeta)
	}

	// The unseen attribute was created on the fly and the value applied.
	if len(reg.puts) != 1 || reg.puts[0] != "powermeter/activepower" {
		t.Errorf("puts = %v, want [powermeter/activepower]", reg.puts)
	}
	if len(reg.sets) != 1 || reg.sets[0].raw != "1500" {
		t.Errorf("sets = %+v, want one apply of 1500", reg.sets)
	}

	// Only the live value fans out; metadata stays quiet.
	if len(notifier.updates) != 1 {
		t.Errorf("got %d fan-out updates, want 1", len(notifier.updates))
	}

	stats := n.GetStats()
	if stats.DevicesAdopted != 1 {
		t.Errorf("DevicesAdopted = %d, want 1", stats.DevicesAdopted)
	}
	if stats.Dropped != 0 {
		t.Errorf("Dropped = %d, want 0", stats.Dropped)
	}
}

func TestHandleMessage_TypeMismatchDropped(t *testing.T) {
	n, reg, _, _ := newTestNormalizer()
	reg.setErr = device.ErrTypeMismatch

	if err := n.HandleMessage("homie/AcmeLighting_SmartBulb_abc/onoff/on-off", []byte("purple")); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if n.GetStats().Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", n.GetStats().Dropped)
	}
}

func TestHandleMessage_StaleNotDropped(t *testing.T) {
	n, reg, _, _ := newTestNormalizer()
	reg.setErr = device.ErrStaleWrite

	n.HandleMessage("homie/AcmeLighting_SmartBulb_abc/onoff/on-off", []byte("true"))
	if n.GetStats().Dropped != 0 {
		t.Errorf("stale write counted as drop")
	}
}
