package datamodel

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// noopLogger is used when no logger is set.
type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Dictionary is the static Matter data model: every cluster, attribute,
// command, enum and device type the hub knows about.
//
// It is loaded once at startup from the XML definition files and is
// immutable afterwards, so all lookups are safe for concurrent use
// without locking. The dictionary is a hard dependency: if the
// definitions cannot be loaded the process must not start.
type Dictionary struct {
	clusters    []Cluster
	deviceTypes []DeviceType

	byID     map[string]*Cluster
	byName   map[string]*Cluster
	byToken  map[string]*Cluster
	typeByID map[string]*DeviceType
}

// Load reads all cluster definition files from clusterDir and all device
// type definition files from deviceTypeDir, then builds the lookup indexes.
//
// Files that fail to parse are skipped with a warning; an empty result is
// an error because nothing downstream can work without definitions.
func Load(clusterDir, deviceTypeDir string, logger Logger) (*Dictionary, error) {
	if logger == nil {
		logger = noopLogger{}
	}

	d := &Dictionary{
		byID:     make(map[string]*Cluster),
		byName:   make(map[string]*Cluster),
		byToken:  make(map[string]*Cluster),
		typeByID: make(map[string]*DeviceType),
	}

	var enums []enumRef
	var bitmaps []bitmapRef

	clusterFiles, err := listXMLFiles(clusterDir)
	if err != nil {
		return nil, fmt.Errorf("listing cluster definitions: %w", err)
	}
	for _, path := range clusterFiles {
		clusters, fileEnums, fileBitmaps, err := parseClusterFile(path)
		if err != nil {
			logger.Warn("skipping unparsable cluster file", "path", path, "error", err)
			continue
		}
		d.clusters = append(d.clusters, clusters...)
		enums = append(enums, fileEnums...)
		bitmaps = append(bitmaps, fileBitmaps...)
	}

	if len(d.clusters) == 0 {
		return nil, fmt.Errorf("%w: no clusters in %s", ErrNoDefinitions, clusterDir)
	}

	typeFiles, err := listXMLFiles(deviceTypeDir)
	if err != nil {
		return nil, fmt.Errorf("listing device type definitions: %w", err)
	}
	for _, path := range typeFiles {
		types, err := parseDeviceTypeFile(path)
		if err != nil {
			logger.Warn("skipping unparsable device type file", "path", path, "error", err)
			continue
		}
		d.deviceTypes = append(d.deviceTypes, types...)
	}

	// Index clusters before attaching enums/bitmaps so associations can
	// resolve across files.
	for i := range d.clusters {
		c := &d.clusters[i]
		d.byID[c.ID] = c
		d.byName[c.Name] = c
		d.byToken[c.Token()] = c
	}

	for _, ref := range enums {
		for _, code := range ref.clusters {
			if c, ok := d.byID[code]; ok {
				c.Enums = append(c.Enums, ref.enum)
			}
		}
	}
	for _, ref := range bitmaps {
		for _, code := range ref.clusters {
			if c, ok := d.byID[code]; ok {
				c.Bitmaps = append(c.Bitmaps, ref.bitmap)
			}
		}
	}

	for i := range d.deviceTypes {
		dt := &d.deviceTypes[i]
		d.typeByID[dt.ID] = dt
	}

	logger.Info("data model loaded",
		"clusters", len(d.clusters),
		"device_types", len(d.deviceTypes),
	)

	return d, nil
}

// Clusters returns all known clusters.
func (d *Dictionary) Clusters() []Cluster {
	return d.clusters
}

// DeviceTypes returns all known device types.
func (d *Dictionary) DeviceTypes() []DeviceType {
	return d.deviceTypes
}

// ClusterByID looks up a cluster by its lowercase hex code (e.g., "0x0006").
func (d *Dictionary) ClusterByID(id string) (*Cluster, error) {
	c, ok := d.byID[strings.ToLower(id)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrClusterNotFound, id)
	}
	return c, nil
}

// ClusterByName looks up a cluster by its spec name (e.g., "On/Off").
func (d *Dictionary) ClusterByName(name string) (*Cluster, error) {
	c, ok := d.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrClusterNotFound, name)
	}
	return c, nil
}

// ClusterByToken looks up a cluster by its chip-tool token (e.g., "onoff").
// The input is normalised first, so the spec name "On/Off" resolves too.
func (d *Dictionary) ClusterByToken(token string) (*Cluster, error) {
	c, ok := d.byToken[NormalizeToken(token)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrClusterNotFound, token)
	}
	return c, nil
}

// Attribute looks up an attribute on a cluster by its CamelCase name.
func (d *Dictionary) Attribute(clusterToken, name string) (*Attribute, error) {
	c, err := d.ClusterByToken(clusterToken)
	if err != nil {
		return nil, err
	}
	for i := range c.Attributes {
		if c.Attributes[i].Name == name {
			return &c.Attributes[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s/%s", ErrAttributeNotFound, clusterToken, name)
}

// AttributeByWireName looks up an attribute by its kebab-case wire name,
// as carried in chip-tool commands and Homie property topics.
func (d *Dictionary) AttributeByWireName(clusterToken, wireName string) (*Attribute, error) {
	c, err := d.ClusterByToken(clusterToken)
	if err != nil {
		return nil, err
	}
	for i := range c.Attributes {
		if c.Attributes[i].WireName() == wireName {
			return &c.Attributes[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s/%s", ErrAttributeNotFound, clusterToken, wireName)
}

// Command looks up a command on a cluster. The name is matched
// case-insensitively against both the spec name and its kebab-case wire
// form, so "Toggle", "toggle" and "move-to-level" all resolve.
func (d *Dictionary) Command(clusterToken, name string) (*Command, error) {
	c, err := d.ClusterByToken(clusterToken)
	if err != nil {
		return nil, err
	}
	lower := strings.ToLower(name)
	for i := range c.Commands {
		cmd := &c.Commands[i]
		if strings.ToLower(cmd.Name) == lower || KebabCase(cmd.Name) == lower {
			return cmd, nil
		}
	}
	return nil, fmt.Errorf("%w: %s/%s", ErrCommandNotFound, clusterToken, name)
}

// DeviceTypeByID looks up a device type by its lowercase hex code.
func (d *Dictionary) DeviceTypeByID(id string) (*DeviceType, error) {
	dt, ok := d.typeByID[strings.ToLower(id)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceTypeNotFound, id)
	}
	return dt, nil
}

// ClustersForDeviceType returns the locked server cluster names for a
// device type, or an empty slice if the type is unknown.
func (d *Dictionary) ClustersForDeviceType(id string) []string {
	dt, err := d.DeviceTypeByID(id)
	if err != nil {
		return nil
	}
	return dt.Clusters
}

// EnumForAttribute returns the enum definition backing an attribute's
// type, or nil if the attribute is not enum-typed.
func (d *Dictionary) EnumForAttribute(clusterToken string, attr *Attribute) *Enum {
	c, err := d.ClusterByToken(clusterToken)
	if err != nil {
		return nil
	}
	for i := range c.Enums {
		if c.Enums[i].Name == attr.Type {
			return &c.Enums[i]
		}
	}
	return nil
}

// listXMLFiles returns all .xml files directly inside dir, sorted by name.
func listXMLFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".xml") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	return files, nil
}
