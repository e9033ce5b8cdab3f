package chiptool

import (
	"fmt"
	"strconv"
)

// AttributePath identifies one attribute instance in a report. NodeID is
// spliced in by Sanitise from the exchange header; the remaining fields
// come from the AttributePathIB block.
type AttributePath struct {
	NodeID    uint64
	Endpoint  uint16
	ClusterID uint32
	Attribute uint32
}

// AttributeReport is one attribute value carried by a ReportDataMessage.
// Data holds the parsed value: int64, string, []any or map[string]any.
type AttributeReport struct {
	Path AttributePath
	Data any
}

// ParseReports sanitises raw chip-tool output and returns every attribute
// report it carries. Blocks that fail to parse are skipped; ErrNoReport
// is returned when no attribute report survives.
func ParseReports(raw string) ([]AttributeReport, error) {
	var reports []AttributeReport
	for _, block := range ExtractBlocks(Sanitise(raw)) {
		parsed, err := ParseBlock(block)
		if err != nil {
			continue
		}
		reports = append(reports, extractReports(parsed)...)
	}
	if len(reports) == 0 {
		return nil, ErrNoReport
	}
	return reports, nil
}

// extractReports walks a parsed ReportDataMessage block.
func extractReports(parsed map[string]any) []AttributeReport {
	report, ok := parsed["ReportDataMessage"].(map[string]any)
	if !ok {
		return nil
	}
	ibs, ok := report["AttributeReportIBs"].([]any)
	if !ok {
		return nil
	}

	var out []AttributeReport
	for _, item := range ibs {
		wrapper, ok := item.(map[string]any)
		if !ok {
			continue
		}
		ib, ok := wrapper["AttributeReportIB"].(map[string]any)
		if !ok {
			continue
		}
		data, ok := ib["AttributeDataIB"].(map[string]any)
		if !ok {
			continue
		}
		pathIB, ok := data["AttributePathIB"].(map[string]any)
		if !ok {
			continue
		}

		out = append(out, AttributeReport{
			Path: AttributePath{
				NodeID:    uintField(pathIB, "NodeID"),
				Endpoint:  uint16(uintField(pathIB, "Endpoint")),  //nolint:gosec // endpoint ids are small
				ClusterID: uint32(uintField(pathIB, "Cluster")),   //nolint:gosec // cluster ids are 32-bit
				Attribute: uint32(uintField(pathIB, "Attribute")), //nolint:gosec // attribute ids are 32-bit
			},
			Data: data["Data"],
		})
	}
	return out
}

func uintField(m map[string]any, key string) uint64 {
	v, ok := m[key].(int64)
	if !ok || v < 0 {
		return 0
	}
	return uint64(v)
}

// DataString renders report data as the canonical raw value string that
// the registry coerces against the attribute's declared type.
func (r AttributeReport) DataString() string {
	switch v := r.Data.(type) {
	case nil:
		return ""
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// DataUints interprets report data as a list of unsigned integers. Used
// for descriptor parts-list, server-list and attribute-list reads.
func (r AttributeReport) DataUints() []uint64 {
	list, ok := r.Data.([]any)
	if !ok {
		return nil
	}
	out := make([]uint64, 0, len(list))
	for _, item := range list {
		if v, ok := item.(int64); ok && v >= 0 {
			out = append(out, uint64(v))
		}
	}
	return out
}

// DataDeviceTypes interprets report data as a descriptor device-type-list.
// Each entry is a struct printed with field 0x0 (the device type code) and
// field 0x1 (the revision); only the code is of interest.
func (r AttributeReport) DataDeviceTypes() []uint64 {
	list, ok := r.Data.([]any)
	if !ok {
		return nil
	}
	var out []uint64
	for _, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if v, ok := entry["0x0"].(int64); ok && v >= 0 {
			out = append(out, uint64(v))
		}
	}
	return out
}
