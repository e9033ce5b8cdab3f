package datamodel

import (
	"strings"
	"unicode"
)

// Cluster describes a Matter cluster from the data model definitions.
type Cluster struct {
	// ID is the cluster code in lowercase hex form (e.g., "0x0006").
	ID string

	// Name is the spec name (e.g., "On/Off", "Level Control").
	Name string

	Attributes []Attribute
	Commands   []Command
	Enums      []Enum
	Bitmaps    []Bitmap
}

// Attribute describes a single cluster attribute.
type Attribute struct {
	// Code is the attribute code in lowercase hex form (e.g., "0x0000").
	Code string

	// Name is the CamelCase attribute name derived from the define
	// (e.g., ON_OFF becomes OnOff).
	Name string

	// Type is the raw data model type (e.g., "boolean", "int8u", "LevelControlOptions").
	Type string

	// Define is the original define token from the XML.
	Define string

	Writable bool
	Optional bool
	Side     string
}

// Command describes a cluster command.
type Command struct {
	Code   string
	Name   string
	Source string
	Args   []CommandArg
}

// CommandArg describes a single command argument.
type CommandArg struct {
	Name     string
	Type     string
	Optional bool
}

// Enum describes an enumeration associated with one or more clusters.
type Enum struct {
	Name  string
	Type  string
	Items []EnumItem
}

// EnumItem is a single named enum value.
type EnumItem struct {
	Name  string
	Value int64
}

// Bitmap describes a bitmap type associated with one or more clusters.
type Bitmap struct {
	Name   string
	Type   string
	Fields []BitmapField
}

// BitmapField is a single named bitmap mask.
type BitmapField struct {
	Name string
	Mask int64
}

// DeviceType describes a Matter device type and its mandatory clusters.
type DeviceType struct {
	// ID is the device type code in lowercase hex form (e.g., "0x0100").
	ID string

	// Name is the spec type name (e.g., "On/Off Light").
	Name string

	// Clusters holds the names of the server clusters locked to this type.
	Clusters []string
}

// Kind classifies an attribute type for value coercion and bus publishing.
type Kind string

const (
	KindBool    Kind = "boolean"
	KindInteger Kind = "integer"
	KindEnum    Kind = "enum"
	KindString  Kind = "string"
)

// KindOf classifies a raw data model type name.
//
// Enum types win over integer so that Enum8/Enum16 backed values keep their
// named representation.
func KindOf(typeName string) Kind {
	lower := strings.ToLower(typeName)
	switch {
	case strings.Contains(lower, "enum"):
		return KindEnum
	case strings.Contains(lower, "bool"):
		return KindBool
	case strings.Contains(lower, "int"):
		return KindInteger
	default:
		return KindString
	}
}

// Token returns the chip-tool cluster token for this cluster: the spec name
// lowercased with slashes and spaces removed. "On/Off" becomes "onoff".
func (c *Cluster) Token() string {
	return NormalizeToken(c.Name)
}

// NormalizeToken reduces a cluster name to its chip-tool token form, so
// "On/Off", "on/off" and "onoff" all normalise to "onoff". Lookups apply
// the same reduction as Token on the way in.
func NormalizeToken(name string) string {
	token := strings.ToLower(name)
	token = strings.ReplaceAll(token, "/", "")
	token = strings.ReplaceAll(token, " ", "")
	return token
}

// WireName returns the kebab-case form chip-tool uses for this attribute.
// "OnOff" becomes "on-off", "VendorID" becomes "vendor-id".
func (a *Attribute) WireName() string {
	return KebabCase(a.Name)
}

// Kind classifies this attribute's type.
func (a *Attribute) Kind() Kind {
	return KindOf(a.Type)
}

// KebabCase converts a CamelCase name to kebab-case. A dash is inserted
// before each uppercase letter that starts a new word; runs of uppercase
// letters (acronyms) stay together.
func KebabCase(name string) string {
	runes := []rune(name)
	var b strings.Builder
	b.Grow(len(name) + 4)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) && !unicode.IsUpper(runes[i-1]) {
			b.WriteByte('-')
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// CamelCase converts a SNAKE_CASE define to CamelCase. "ON_OFF" becomes
// "OnOff", "VENDOR_ID" becomes "VendorId".
func CamelCase(define string) string {
	parts := strings.Split(define, "_")
	var b strings.Builder
	b.Grow(len(define))
	for _, p := range parts {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(strings.ToLower(p[1:]))
	}
	return b.String()
}
