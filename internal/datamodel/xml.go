package datamodel

import (
	"encoding/xml"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// The definition files use the ZAP XML format: a <configurator> root
// holding <cluster>, <enum> and <bitmap> elements, or <deviceType>
// elements for the device type library.

type xmlConfigurator struct {
	XMLName     xml.Name        `xml:"configurator"`
	Clusters    []xmlCluster    `xml:"cluster"`
	Enums       []xmlEnum       `xml:"enum"`
	Bitmaps     []xmlBitmap     `xml:"bitmap"`
	DeviceTypes []xmlDeviceType `xml:"deviceType"`
}

type xmlCluster struct {
	Name       string         `xml:"name"`
	Code       string         `xml:"code"`
	Attributes []xmlAttribute `xml:"attribute"`
	Commands   []xmlCommand   `xml:"command"`
}

type xmlAttribute struct {
	Code     string `xml:"code,attr"`
	Define   string `xml:"define,attr"`
	Type     string `xml:"type,attr"`
	Writable string `xml:"writable,attr"`
	Optional string `xml:"optional,attr"`
	Side     string `xml:"side,attr"`
}

type xmlCommand struct {
	Code   string   `xml:"code,attr"`
	Name   string   `xml:"name,attr"`
	Source string   `xml:"source,attr"`
	Args   []xmlArg `xml:"arg"`
}

type xmlArg struct {
	Name     string `xml:"name,attr"`
	Type     string `xml:"type,attr"`
	Optional string `xml:"optional,attr"`
}

type xmlEnum struct {
	Name     string          `xml:"name,attr"`
	Type     string          `xml:"type,attr"`
	Clusters []xmlClusterRef `xml:"cluster"`
	Items    []xmlEnumItem   `xml:"item"`
}

type xmlEnumItem struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type xmlBitmap struct {
	Name     string           `xml:"name,attr"`
	Type     string           `xml:"type,attr"`
	Clusters []xmlClusterRef  `xml:"cluster"`
	Fields   []xmlBitmapField `xml:"field"`
}

type xmlBitmapField struct {
	Name string `xml:"name,attr"`
	Mask string `xml:"mask,attr"`
}

type xmlClusterRef struct {
	Code string `xml:"code,attr"`
}

type xmlDeviceType struct {
	DeviceID string            `xml:"deviceId"`
	TypeName string            `xml:"typeName"`
	Name     string            `xml:"name"`
	Clusters xmlDeviceClusters `xml:"clusters"`
}

type xmlDeviceClusters struct {
	Includes []xmlClusterInclude `xml:"include"`
}

type xmlClusterInclude struct {
	Cluster      string `xml:"cluster,attr"`
	ServerLocked string `xml:"serverLocked,attr"`
}

// enumRef and bitmapRef pair a parsed type with the cluster codes it
// belongs to, so associations can be resolved after all files are read.
type enumRef struct {
	enum     Enum
	clusters []string
}

type bitmapRef struct {
	bitmap   Bitmap
	clusters []string
}

// parseClusterFile reads one cluster definition file.
func parseClusterFile(path string) ([]Cluster, []enumRef, []bitmapRef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var doc xmlConfigurator
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, nil, nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	clusters := make([]Cluster, 0, len(doc.Clusters))
	for _, xc := range doc.Clusters {
		clusters = append(clusters, convertCluster(xc))
	}

	enums := make([]enumRef, 0, len(doc.Enums))
	for _, xe := range doc.Enums {
		enums = append(enums, convertEnum(xe))
	}

	bitmaps := make([]bitmapRef, 0, len(doc.Bitmaps))
	for _, xb := range doc.Bitmaps {
		bitmaps = append(bitmaps, convertBitmap(xb))
	}

	return clusters, enums, bitmaps, nil
}

// parseDeviceTypeFile reads one device type definition file.
func parseDeviceTypeFile(path string) ([]DeviceType, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var doc xmlConfigurator
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	types := make([]DeviceType, 0, len(doc.DeviceTypes))
	for _, xdt := range doc.DeviceTypes {
		dt := DeviceType{
			ID:   strings.ToLower(xdt.DeviceID),
			Name: xdt.TypeName,
		}
		if dt.Name == "" {
			dt.Name = xdt.Name
		}
		// Only serverLocked clusters are guaranteed present on the device.
		for _, inc := range xdt.Clusters.Includes {
			if inc.Cluster != "" && inc.ServerLocked == "true" {
				dt.Clusters = append(dt.Clusters, inc.Cluster)
			}
		}
		if dt.ID != "" {
			types = append(types, dt)
		}
	}
	return types, nil
}

func convertCluster(xc xmlCluster) Cluster {
	c := Cluster{
		ID:   strings.ToLower(strings.TrimSpace(xc.Code)),
		Name: strings.TrimSpace(xc.Name),
	}

	for _, xa := range xc.Attributes {
		attr := Attribute{
			Code:     strings.ToLower(xa.Code),
			Type:     xa.Type,
			Define:   xa.Define,
			Writable: xa.Writable == "true",
			Optional: xa.Optional == "true",
			Side:     xa.Side,
		}
		if xa.Define != "" {
			attr.Name = CamelCase(xa.Define)
		}
		c.Attributes = append(c.Attributes, attr)
	}

	for _, xcmd := range xc.Commands {
		cmd := Command{
			Code:   strings.ToLower(xcmd.Code),
			Name:   xcmd.Name,
			Source: xcmd.Source,
		}
		for _, arg := range xcmd.Args {
			cmd.Args = append(cmd.Args, CommandArg{
				Name:     arg.Name,
				Type:     arg.Type,
				Optional: arg.Optional == "true",
			})
		}
		c.Commands = append(c.Commands, cmd)
	}

	return c
}

func convertEnum(xe xmlEnum) enumRef {
	ref := enumRef{
		enum: Enum{Name: xe.Name, Type: xe.Type},
	}
	for _, cl := range xe.Clusters {
		ref.clusters = append(ref.clusters, strings.ToLower(cl.Code))
	}
	for _, item := range xe.Items {
		value, err := parseIntValue(item.Value)
		if err != nil {
			continue
		}
		ref.enum.Items = append(ref.enum.Items, EnumItem{Name: item.Name, Value: value})
	}
	return ref
}

func convertBitmap(xb xmlBitmap) bitmapRef {
	ref := bitmapRef{
		bitmap: Bitmap{Name: xb.Name, Type: xb.Type},
	}
	for _, cl := range xb.Clusters {
		ref.clusters = append(ref.clusters, strings.ToLower(cl.Code))
	}
	for _, field := range xb.Fields {
		mask, err := parseIntValue(field.Mask)
		if err != nil {
			continue
		}
		ref.bitmap.Fields = append(ref.bitmap.Fields, BitmapField{Name: field.Name, Mask: mask})
	}
	return ref
}

// parseIntValue parses a decimal or 0x-prefixed hex literal.
func parseIntValue(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return strconv.ParseInt(s[2:], 16, 64)
	}
	return strconv.ParseInt(s, 10, 64)
}
