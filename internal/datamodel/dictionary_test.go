package datamodel

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const onOffXML = `<?xml version="1.0"?>
<configurator>
  <cluster>
    <name>On/Off</name>
    <code>0x0006</code>
    <attribute side="server" code="0x0000" define="ON_OFF" type="boolean" writable="false" optional="false">OnOff</attribute>
    <attribute side="server" code="0x4001" define="ON_TIME" type="int16u" writable="true" optional="true">OnTime</attribute>
    <attribute side="server" code="0x4003" define="START_UP_ON_OFF" type="StartUpOnOffEnum" writable="true" optional="true">StartUpOnOff</attribute>
    <command source="client" code="0x00" name="Off"/>
    <command source="client" code="0x01" name="On"/>
    <command source="client" code="0x02" name="Toggle"/>
    <command source="client" code="0x42" name="OnWithTimedOff">
      <arg name="OnOffControl" type="OnOffControlBitmap"/>
      <arg name="OnTime" type="int16u"/>
      <arg name="OffWaitTime" type="int16u"/>
    </command>
  </cluster>
  <enum name="StartUpOnOffEnum" type="enum8">
    <cluster code="0x0006"/>
    <item name="Off" value="0x00"/>
    <item name="On" value="0x01"/>
    <item name="Toggle" value="0x02"/>
  </enum>
  <bitmap name="OnOffControlBitmap" type="bitmap8">
    <cluster code="0x0006"/>
    <field name="AcceptOnlyWhenOn" mask="0x01"/>
  </bitmap>
</configurator>`

const levelControlXML = `<?xml version="1.0"?>
<configurator>
  <cluster>
    <name>Level Control</name>
    <code>0x0008</code>
    <attribute side="server" code="0x0000" define="CURRENT_LEVEL" type="int8u" writable="false" optional="false">CurrentLevel</attribute>
    <command source="client" code="0x00" name="MoveToLevel">
      <arg name="Level" type="int8u"/>
      <arg name="TransitionTime" type="int16u"/>
    </command>
  </cluster>
</configurator>`

const deviceTypesXML = `<?xml version="1.0"?>
<configurator>
  <deviceType>
    <deviceId>0x0100</deviceId>
    <typeName>On/Off Light</typeName>
    <clusters>
      <include cluster="On/Off" server="true" serverLocked="true"/>
      <include cluster="Level Control" server="true" serverLocked="false"/>
    </clusters>
  </deviceType>
  <deviceType>
    <deviceId>0x0101</deviceId>
    <typeName>Dimmable Light</typeName>
    <clusters>
      <include cluster="On/Off" server="true" serverLocked="true"/>
      <include cluster="Level Control" server="true" serverLocked="true"/>
    </clusters>
  </deviceType>
</configurator>`

// loadTestDictionary writes the fixture XML into temp dirs and loads them.
func loadTestDictionary(t *testing.T) *Dictionary {
	t.Helper()

	clusterDir := t.TempDir()
	typeDir := t.TempDir()

	files := map[string]string{
		filepath.Join(clusterDir, "onoff-cluster.xml"):         onOffXML,
		filepath.Join(clusterDir, "level-control-cluster.xml"): levelControlXML,
		filepath.Join(typeDir, "matter-devices.xml"):           deviceTypesXML,
	}
	for path, content := range files {
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatalf("writing fixture %s: %v", path, err)
		}
	}

	dict, err := Load(clusterDir, typeDir, nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return dict
}

func TestLoad(t *testing.T) {
	dict := loadTestDictionary(t)

	if got := len(dict.Clusters()); got != 2 {
		t.Errorf("Clusters() count = %d, want 2", got)
	}
	if got := len(dict.DeviceTypes()); got != 2 {
		t.Errorf("DeviceTypes() count = %d, want 2", got)
	}
}

func TestLoad_EmptyDirectory(t *testing.T) {
	_, err := Load(t.TempDir(), t.TempDir(), nil)
	if !errors.Is(err, ErrNoDefinitions) {
		t.Errorf("Load() error = %v, want ErrNoDefinitions", err)
	}
}

func TestLoad_MissingDirectory(t *testing.T) {
	_, err := Load("/nonexistent/clusters", t.TempDir(), nil)
	if err == nil {
		t.Error("Load() expected error for missing directory")
	}
}

func TestLoad_SkipsUnparsableFiles(t *testing.T) {
	clusterDir := t.TempDir()
	typeDir := t.TempDir()

	if err := os.WriteFile(filepath.Join(clusterDir, "good.xml"), []byte(onOffXML), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(clusterDir, "bad.xml"), []byte("<configurator><cluster>"), 0600); err != nil {
		t.Fatal(err)
	}

	dict, err := Load(clusterDir, typeDir, nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := len(dict.Clusters()); got != 1 {
		t.Errorf("Clusters() count = %d, want 1", got)
	}
}

func TestClusterLookups(t *testing.T) {
	dict := loadTestDictionary(t)

	byID, err := dict.ClusterByID("0x0006")
	if err != nil {
		t.Fatalf("ClusterByID() error = %v", err)
	}
	if byID.Name != "On/Off" {
		t.Errorf("ClusterByID().Name = %q, want %q", byID.Name, "On/Off")
	}

	byName, err := dict.ClusterByName("Level Control")
	if err != nil {
		t.Fatalf("ClusterByName() error = %v", err)
	}
	if byName.ID != "0x0008" {
		t.Errorf("ClusterByName().ID = %q, want %q", byName.ID, "0x0008")
	}

	byToken, err := dict.ClusterByToken("onoff")
	if err != nil {
		t.Fatalf("ClusterByToken() error = %v", err)
	}
	if byToken.ID != "0x0006" {
		t.Errorf("ClusterByToken().ID = %q, want %q", byToken.ID, "0x0006")
	}

	if _, err := dict.ClusterByToken("thermostat"); !errors.Is(err, ErrClusterNotFound) {
		t.Errorf("ClusterByToken(unknown) error = %v, want ErrClusterNotFound", err)
	}
}

func TestClusterByToken_NormalizesSpecNames(t *testing.T) {
	dict := loadTestDictionary(t)

	// The spec name forms carry slashes and spaces that the token form
	// strips; lookups accept either.
	for _, token := range []string{"On/Off", "on/off", "ONOFF", "Level Control"} {
		if _, err := dict.ClusterByToken(token); err != nil {
			t.Errorf("ClusterByToken(%q) error = %v, want nil", token, err)
		}
	}
}

func TestClusterToken(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"On/Off", "onoff"},
		{"Level Control", "levelcontrol"},
		{"Basic Information", "basicinformation"},
		{"Descriptor", "descriptor"},
	}

	for _, tt := range tests {
		c := Cluster{Name: tt.name}
		if got := c.Token(); got != tt.token {
			t.Errorf("Token(%q) = %q, want %q", tt.name, got, tt.token)
		}
	}
}

func TestAttributeLookups(t *testing.T) {
	dict := loadTestDictionary(t)

	attr, err := dict.Attribute("onoff", "OnOff")
	if err != nil {
		t.Fatalf("Attribute() error = %v", err)
	}
	if attr.Code != "0x0000" {
		t.Errorf("Attribute().Code = %q, want %q", attr.Code, "0x0000")
	}
	if attr.Writable {
		t.Error("Attribute().Writable = true, want false")
	}

	wire, err := dict.AttributeByWireName("levelcontrol", "current-level")
	if err != nil {
		t.Fatalf("AttributeByWireName() error = %v", err)
	}
	if wire.Name != "CurrentLevel" {
		t.Errorf("AttributeByWireName().Name = %q, want %q", wire.Name, "CurrentLevel")
	}

	if _, err := dict.Attribute("onoff", "Nonexistent"); !errors.Is(err, ErrAttributeNotFound) {
		t.Errorf("Attribute(unknown) error = %v, want ErrAttributeNotFound", err)
	}
}

func TestCommandLookup(t *testing.T) {
	dict := loadTestDictionary(t)

	tests := []struct {
		cluster string
		name    string
		wantErr bool
	}{
		{"onoff", "Toggle", false},
		{"onoff", "toggle", false},
		{"onoff", "on-with-timed-off", false},
		{"levelcontrol", "MoveToLevel", false},
		{"levelcontrol", "move-to-level", false},
		{"onoff", "Dim", true},
		{"thermostat", "SetpointRaiseLower", true},
	}

	for _, tt := range tests {
		_, err := dict.Command(tt.cluster, tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("Command(%q, %q) error = %v, wantErr %v", tt.cluster, tt.name, err, tt.wantErr)
		}
	}
}

func TestDeviceTypes(t *testing.T) {
	dict := loadTestDictionary(t)

	dt, err := dict.DeviceTypeByID("0x0100")
	if err != nil {
		t.Fatalf("DeviceTypeByID() error = %v", err)
	}
	if dt.Name != "On/Off Light" {
		t.Errorf("DeviceTypeByID().Name = %q, want %q", dt.Name, "On/Off Light")
	}

	// Only serverLocked clusters are kept
	clusters := dict.ClustersForDeviceType("0x0100")
	if len(clusters) != 1 || clusters[0] != "On/Off" {
		t.Errorf("ClustersForDeviceType(0x0100) = %v, want [On/Off]", clusters)
	}

	clusters = dict.ClustersForDeviceType("0x0101")
	if len(clusters) != 2 {
		t.Errorf("ClustersForDeviceType(0x0101) = %v, want 2 clusters", clusters)
	}

	if got := dict.ClustersForDeviceType("0xffff"); got != nil {
		t.Errorf("ClustersForDeviceType(unknown) = %v, want nil", got)
	}
}

func TestEnumAssociation(t *testing.T) {
	dict := loadTestDictionary(t)

	cluster, err := dict.ClusterByToken("onoff")
	if err != nil {
		t.Fatalf("ClusterByToken() error = %v", err)
	}
	if len(cluster.Enums) != 1 {
		t.Fatalf("cluster enums = %d, want 1", len(cluster.Enums))
	}
	if cluster.Enums[0].Name != "StartUpOnOffEnum" {
		t.Errorf("enum name = %q, want StartUpOnOffEnum", cluster.Enums[0].Name)
	}
	if len(cluster.Enums[0].Items) != 3 {
		t.Errorf("enum items = %d, want 3", len(cluster.Enums[0].Items))
	}
	if len(cluster.Bitmaps) != 1 {
		t.Errorf("cluster bitmaps = %d, want 1", len(cluster.Bitmaps))
	}

	attr, err := dict.Attribute("onoff", "StartUpOnOff")
	if err != nil {
		t.Fatalf("Attribute() error = %v", err)
	}
	enum := dict.EnumForAttribute("onoff", attr)
	if enum == nil {
		t.Fatal("EnumForAttribute() = nil, want StartUpOnOffEnum")
	}
	if enum.Items[2].Value != 2 {
		t.Errorf("enum item value = %d, want 2", enum.Items[2].Value)
	}

	plain, err := dict.Attribute("onoff", "OnOff")
	if err != nil {
		t.Fatal(err)
	}
	if dict.EnumForAttribute("onoff", plain) != nil {
		t.Error("EnumForAttribute() for boolean attribute should be nil")
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		typeName string
		want     Kind
	}{
		{"boolean", KindBool},
		{"int8u", KindInteger},
		{"int16u", KindInteger},
		{"StartUpOnOffEnum", KindEnum},
		{"enum8", KindEnum},
		{"char_string", KindString},
		{"OnOffControlBitmap", KindString},
	}

	for _, tt := range tests {
		if got := KindOf(tt.typeName); got != tt.want {
			t.Errorf("KindOf(%q) = %q, want %q", tt.typeName, got, tt.want)
		}
	}
}

func TestNameConversions(t *testing.T) {
	kebabTests := []struct {
		in, out string
	}{
		{"OnOff", "on-off"},
		{"CurrentLevel", "current-level"},
		{"VendorName", "vendor-name"},
		{"OnWithTimedOff", "on-with-timed-off"},
		{"UniqueId", "unique-id"},
	}
	for _, tt := range kebabTests {
		if got := KebabCase(tt.in); got != tt.out {
			t.Errorf("KebabCase(%q) = %q, want %q", tt.in, got, tt.out)
		}
	}

	camelTests := []struct {
		in, out string
	}{
		{"ON_OFF", "OnOff"},
		{"CURRENT_LEVEL", "CurrentLevel"},
		{"VENDOR_NAME", "VendorName"},
		{"UNIQUE_ID", "UniqueId"},
	}
	for _, tt := range camelTests {
		if got := CamelCase(tt.in); got != tt.out {
			t.Errorf("CamelCase(%q) = %q, want %q", tt.in, got, tt.out)
		}
	}
}
