package chiptool

import (
	"context"
	"fmt"
)

// Discovery helpers wrap descriptor and Basic Information reads used
// during device registration and rescans. Each returns the typed payload
// of the first attribute report in the response.

// EndpointList reads the descriptor parts-list from the root endpoint and
// returns the node's endpoint IDs.
func (g *Gateway) EndpointList(ctx context.Context, nodeID uint64) ([]uint16, error) {
	result, err := g.Execute(ctx, nodeID,
		"descriptor", "read", "parts-list", formatNode(nodeID), "0")
	if err != nil {
		return nil, err
	}
	reports, err := ParseReports(result.Stdout)
	if err != nil {
		return nil, err
	}
	raw := reports[0].DataUints()
	endpoints := make([]uint16, 0, len(raw))
	for _, ep := range raw {
		endpoints = append(endpoints, uint16(ep)) //nolint:gosec // endpoint ids are small
	}
	return endpoints, nil
}

// DeviceTypes reads the descriptor device-type-list for one endpoint and
// returns the device type codes, primary type first.
func (g *Gateway) DeviceTypes(ctx context.Context, nodeID uint64, endpoint uint16) ([]uint64, error) {
	result, err := g.Execute(ctx, nodeID,
		"descriptor", "read", "device-type-list", formatNode(nodeID), formatEndpoint(endpoint))
	if err != nil {
		return nil, err
	}
	reports, err := ParseReports(result.Stdout)
	if err != nil {
		return nil, err
	}
	return reports[0].DataDeviceTypes(), nil
}

// ServerList reads the descriptor server-list for one endpoint and
// returns the server cluster IDs.
func (g *Gateway) ServerList(ctx context.Context, nodeID uint64, endpoint uint16) ([]uint64, error) {
	result, err := g.Execute(ctx, nodeID,
		"descriptor", "read", "server-list", formatNode(nodeID), formatEndpoint(endpoint))
	if err != nil {
		return nil, err
	}
	reports, err := ParseReports(result.Stdout)
	if err != nil {
		return nil, err
	}
	return reports[0].DataUints(), nil
}

// AttributeList reads a cluster's attribute-list and returns the
// attribute IDs the device actually implements.
func (g *Gateway) AttributeList(ctx context.Context, nodeID uint64, endpoint uint16, clusterToken string) ([]uint64, error) {
	result, err := g.Execute(ctx, nodeID,
		clusterToken, "read", "attribute-list", formatNode(nodeID), formatEndpoint(endpoint))
	if err != nil {
		return nil, err
	}
	reports, err := ParseReports(result.Stdout)
	if err != nil {
		return nil, err
	}
	return reports[0].DataUints(), nil
}

// BasicInformation reads one Basic Information attribute from the root
// endpoint and returns its value as a string.
func (g *Gateway) BasicInformation(ctx context.Context, nodeID uint64, attribute string) (string, error) {
	report, err := g.ReadAttribute(ctx, nodeID, 0, "basicinformation", attribute)
	if err != nil {
		return "", err
	}
	return report.DataString(), nil
}

// FormatDeviceType renders a device type code the way the data model
// dictionary keys it.
func FormatDeviceType(code uint64) string {
	return fmt.Sprintf("0x%04x", code)
}
