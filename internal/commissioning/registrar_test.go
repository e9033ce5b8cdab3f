package commissioning

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/matterverse/matterverse-core/internal/datamodel"
	"github.com/matterverse/matterverse-core/internal/device"
)

const clusterFixtureXML = `<?xml version="1.0"?>
<configurator>
  <cluster>
    <name>On/Off</name>
    <code>0x0006</code>
    <attribute side="server" code="0x0000" define="ON_OFF" type="boolean" writable="false" optional="false">OnOff</attribute>
    <attribute side="server" code="0x4001" define="ON_TIME" type="int16u" writable="true" optional="true">OnTime</attribute>
    <command source="client" code="0x01" name="On"/>
    <command source="client" code="0x00" name="Off"/>
  </cluster>
  <cluster>
    <name>Level Control</name>
    <code>0x0008</code>
    <attribute side="server" code="0x0000" define="CURRENT_LEVEL" type="int8u" writable="false" optional="false">CurrentLevel</attribute>
  </cluster>
</configurator>`

const deviceTypeFixtureXML = `<?xml version="1.0"?>
<configurator>
  <deviceType>
    <deviceId>0x0100</deviceId>
    <typeName>On/Off Light</typeName>
    <clusters>
      <include cluster="On/Off" server="true" serverLocked="true"/>
    </clusters>
  </deviceType>
</configurator>`

func loadTestDictionary(t *testing.T) *datamodel.Dictionary {
	t.Helper()

	clusterDir := t.TempDir()
	typeDir := t.TempDir()

	if err := os.WriteFile(filepath.Join(clusterDir, "clusters.xml"), []byte(clusterFixtureXML), 0600); err != nil {
		t.Fatalf("writing cluster fixture: %v", err)
	}
	if err := os.WriteFile(filepath.Join(typeDir, "matter-devices.xml"), []byte(deviceTypeFixtureXML), 0600); err != nil {
		t.Fatalf("writing device type fixture: %v", err)
	}

	dict, err := datamodel.Load(clusterDir, typeDir, nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return dict
}

// fakeGateway answers descriptor and basic information reads from canned
// maps. A nil entry map produces an error for that operation.
type fakeGateway struct {
	basicInfo   map[string]string
	basicErr    error
	endpoints   []uint16
	endpointErr error
	deviceTypes map[uint16][]uint64
	serverLists map[uint16][]uint64
	serverErr   error
}

func (f *fakeGateway) BasicInformation(_ context.Context, _ uint64, attribute string) (string, error) {
	if f.basicErr != nil {
		return "", f.basicErr
	}
	return f.basicInfo[attribute], nil
}

func (f *fakeGateway) EndpointList(_ context.Context, _ uint64) ([]uint16, error) {
	if f.endpointErr != nil {
		return nil, f.endpointErr
	}
	return f.endpoints, nil
}

func (f *fakeGateway) DeviceTypes(_ context.Context, _ uint64, endpoint uint16) ([]uint64, error) {
	return f.deviceTypes[endpoint], nil
}

func (f *fakeGateway) ServerList(_ context.Context, _ uint64, endpoint uint16) ([]uint64, error) {
	if f.serverErr != nil {
		return nil, f.serverErr
	}
	return f.serverLists[endpoint], nil
}

type fakeRegistry struct {
	nextNodeID  uint64
	nextErr     error
	registered  []*device.Device
	registerErr error
}

func (f *fakeRegistry) NextNodeID(_ context.Context) (uint64, error) {
	if f.nextErr != nil {
		return 0, f.nextErr
	}
	return f.nextNodeID, nil
}

func (f *fakeRegistry) RegisterDevice(_ context.Context, dev *device.Device) error {
	if f.registerErr != nil {
		return f.registerErr
	}
	f.registered = append(f.registered, dev)
	return nil
}

func newTestGateway() *fakeGateway {
	return &fakeGateway{
		basicInfo: map[string]string{
			"unique-id":    "ABC123",
			"vendor-name":  "Acme Lighting",
			"product-name": "Smart Bulb",
		},
		endpoints: []uint16{1},
		deviceTypes: map[uint16][]uint64{
			1: {0x0100},
		},
		serverLists: map[uint16][]uint64{
			1: {0x0006, 0x0008},
		},
	}
}

func TestRegister(t *testing.T) {
	gw := newTestGateway()
	reg := &fakeRegistry{nextNodeID: 7}
	registrar := NewRegistrar(gw, reg, loadTestDictionary(t))

	dev, err := registrar.Register(context.Background())
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if dev.NodeID != 7 {
		t.Errorf("NodeID = %d, want 7", dev.NodeID)
	}
	if dev.VendorName != "Acme Lighting" {
		t.Errorf("VendorName = %q", dev.VendorName)
	}
	if dev.UniqueID != "ABC123" {
		t.Errorf("UniqueID = %q", dev.UniqueID)
	}
	if len(reg.registered) != 1 {
		t.Fatalf("registered %d devices, want 1", len(reg.registered))
	}

	ep, ok := dev.Endpoints[1]
	if !ok {
		t.Fatal("endpoint 1 missing")
	}
	if ep.DeviceType != "0x0100" {
		t.Errorf("DeviceType = %q, want 0x0100", ep.DeviceType)
	}
	if !strings.HasPrefix(ep.TopicID, "AcmeLighting_SmartBulb_") {
		t.Errorf("TopicID = %q, want AcmeLighting_SmartBulb_ prefix", ep.TopicID)
	}

	// Both server clusters seeded from the live server-list.
	if len(ep.Clusters) != 2 {
		t.Fatalf("got %d clusters, want 2", len(ep.Clusters))
	}
	onoff, ok := ep.Clusters["onoff"]
	if !ok {
		t.Fatal("onoff cluster missing")
	}
	attr, ok := onoff.Attributes["on-off"]
	if !ok {
		t.Fatal("on-off attribute missing")
	}
	if attr.Type != "boolean" {
		t.Errorf("on-off type = %q, want boolean", attr.Type)
	}
	if attr.Value != nil {
		t.Errorf("seeded attribute has value %v, want unset", attr.Value)
	}

	// Optional attributes are not seeded.
	if _, ok := onoff.Attributes["on-time"]; ok {
		t.Error("optional on-time attribute should not be seeded")
	}
}

func TestRegister_MissingUniqueID(t *testing.T) {
	gw := newTestGateway()
	gw.basicInfo["unique-id"] = ""
	reg := &fakeRegistry{nextNodeID: 7}
	registrar := NewRegistrar(gw, reg, loadTestDictionary(t))

	_, err := registrar.Register(context.Background())
	if !errors.Is(err, ErrNoUniqueID) {
		t.Errorf("Register() error = %v, want ErrNoUniqueID", err)
	}
	if len(reg.registered) != 0 {
		t.Error("device should not be registered without a unique id")
	}
}

func TestRegister_VendorProductFallbacks(t *testing.T) {
	gw := newTestGateway()
	gw.basicInfo["vendor-name"] = ""
	gw.basicInfo["product-name"] = ""
	reg := &fakeRegistry{nextNodeID: 3}
	registrar := NewRegistrar(gw, reg, loadTestDictionary(t))

	dev, err := registrar.Register(context.Background())
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if dev.VendorName != "Unknown" {
		t.Errorf("VendorName = %q, want Unknown", dev.VendorName)
	}
	if dev.ProductName != "Device" {
		t.Errorf("ProductName = %q, want Device", dev.ProductName)
	}
	if !strings.HasPrefix(dev.Endpoints[1].TopicID, "Unknown_Device_") {
		t.Errorf("TopicID = %q, want Unknown_Device_ prefix", dev.Endpoints[1].TopicID)
	}
}

func TestRegister_NoEndpoints(t *testing.T) {
	gw := newTestGateway()
	gw.endpoints = nil
	registrar := NewRegistrar(gw, &fakeRegistry{nextNodeID: 7}, loadTestDictionary(t))

	_, err := registrar.Register(context.Background())
	if !errors.Is(err, ErrNoEndpoints) {
		t.Errorf("Register() error = %v, want ErrNoEndpoints", err)
	}
}

func TestRegister_SkipsEndpointWithoutDeviceType(t *testing.T) {
	gw := newTestGateway()
	gw.endpoints = []uint16{1, 2}
	// Endpoint 2 has no device-type-list answer.
	reg := &fakeRegistry{nextNodeID: 7}
	registrar := NewRegistrar(gw, reg, loadTestDictionary(t))

	dev, err := registrar.Register(context.Background())
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if len(dev.Endpoints) != 1 {
		t.Fatalf("got %d endpoints, want 1", len(dev.Endpoints))
	}
	if _, ok := dev.Endpoints[2]; ok {
		t.Error("endpoint 2 should have been skipped")
	}
}

func TestRegister_AllEndpointsSkipped(t *testing.T) {
	gw := newTestGateway()
	gw.deviceTypes = map[uint16][]uint64{}
	registrar := NewRegistrar(gw, &fakeRegistry{nextNodeID: 7}, loadTestDictionary(t))

	_, err := registrar.Register(context.Background())
	if !errors.Is(err, ErrNoDeviceTypes) {
		t.Errorf("Register() error = %v, want ErrNoDeviceTypes", err)
	}
}

func TestRegister_ServerListFallback(t *testing.T) {
	gw := newTestGateway()
	gw.serverErr = errors.New("read failed")
	registrar := NewRegistrar(gw, &fakeRegistry{nextNodeID: 7}, loadTestDictionary(t))

	dev, err := registrar.Register(context.Background())
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	// The dictionary's 0x0100 type locks only On/Off.
	clusters := dev.Endpoints[1].Clusters
	if len(clusters) != 1 {
		t.Fatalf("got %d clusters, want 1", len(clusters))
	}
	if _, ok := clusters["onoff"]; !ok {
		t.Error("onoff cluster missing from device type fallback")
	}
}

func TestRegister_UnknownServerClusterIgnored(t *testing.T) {
	gw := newTestGateway()
	gw.serverLists[1] = []uint64{0x0006, 0xFC00}
	registrar := NewRegistrar(gw, &fakeRegistry{nextNodeID: 7}, loadTestDictionary(t))

	dev, err := registrar.Register(context.Background())
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if len(dev.Endpoints[1].Clusters) != 1 {
		t.Errorf("got %d clusters, want 1", len(dev.Endpoints[1].Clusters))
	}
}

func TestRegister_RegistryFailure(t *testing.T) {
	gw := newTestGateway()
	reg := &fakeRegistry{nextNodeID: 7, registerErr: device.ErrDeviceExists}
	registrar := NewRegistrar(gw, reg, loadTestDictionary(t))

	_, err := registrar.Register(context.Background())
	if !errors.Is(err, device.ErrDeviceExists) {
		t.Errorf("Register() error = %v, want ErrDeviceExists", err)
	}
}
