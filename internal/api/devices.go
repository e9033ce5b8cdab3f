package api

import (
	"errors"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/matterverse/matterverse-core/internal/device"
)

// parseNode extracts the node ID path parameter.
func parseNode(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	node, err := strconv.ParseUint(chi.URLParam(r, "node"), 10, 64)
	if err != nil {
		writeBadRequest(w, "invalid node id")
		return 0, false
	}
	return node, true
}

// parseEndpoint extracts the endpoint path parameter.
func parseEndpoint(w http.ResponseWriter, r *http.Request) (uint16, bool) {
	endpoint, err := strconv.ParseUint(chi.URLParam(r, "endpoint"), 10, 16)
	if err != nil {
		writeBadRequest(w, "invalid endpoint")
		return 0, false
	}
	return uint16(endpoint), true
}

// handleListDevices returns every registered device with its endpoint tree.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.registry.ListDevices(r.Context())
	if err != nil {
		s.logger.Error("listing devices failed", "error", err)
		writeInternalError(w, "failed to list devices")
		return
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].NodeID < devices[j].NodeID })
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

// handleGetDevice returns one device by node ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	node, ok := parseNode(w, r)
	if !ok {
		return
	}

	dev, err := s.registry.GetDevice(r.Context(), node)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "no devices found for node ID")
			return
		}
		s.logger.Error("getting device failed", "node_id", node, "error", err)
		writeInternalError(w, "failed to get device")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"device": dev})
}

// handleGetEndpoint returns one endpoint of a device.
func (s *Server) handleGetEndpoint(w http.ResponseWriter, r *http.Request) {
	node, ok := parseNode(w, r)
	if !ok {
		return
	}
	endpoint, ok := parseEndpoint(w, r)
	if !ok {
		return
	}

	ep, err := s.registry.GetEndpoint(r.Context(), node, endpoint)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) || errors.Is(err, device.ErrEndpointNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		s.logger.Error("getting endpoint failed", "node_id", node, "endpoint", endpoint, "error", err)
		writeInternalError(w, "failed to get device")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"node_id": node, "endpoint": ep})
}

// clusterInfo pairs a cluster token with its data model name.
type clusterInfo struct {
	Token string `json:"token"`
	Name  string `json:"name"`
}

// handleDeviceClusters lists the clusters present on an endpoint.
func (s *Server) handleDeviceClusters(w http.ResponseWriter, r *http.Request) {
	node, ok := parseNode(w, r)
	if !ok {
		return
	}
	endpoint, ok := parseEndpoint(w, r)
	if !ok {
		return
	}

	ep, err := s.registry.GetEndpoint(r.Context(), node, endpoint)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) || errors.Is(err, device.ErrEndpointNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}

	clusters := make([]clusterInfo, 0, len(ep.Clusters))
	for token := range ep.Clusters {
		info := clusterInfo{Token: token, Name: token}
		if spec, err := s.dict.ClusterByToken(token); err == nil {
			info.Name = spec.Name
		}
		clusters = append(clusters, info)
	}
	sort.Slice(clusters, func(i, j int) bool { return clusters[i].Token < clusters[j].Token })
	writeJSON(w, http.StatusOK, map[string]any{"clusters": clusters})
}

// handleClusterAttributes lists the attributes of one cluster on an endpoint.
func (s *Server) handleClusterAttributes(w http.ResponseWriter, r *http.Request) {
	node, ok := parseNode(w, r)
	if !ok {
		return
	}
	endpoint, ok := parseEndpoint(w, r)
	if !ok {
		return
	}
	cluster := chi.URLParam(r, "cluster")

	ep, err := s.registry.GetEndpoint(r.Context(), node, endpoint)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) || errors.Is(err, device.ErrEndpointNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}

	cl, ok := ep.Clusters[cluster]
	if !ok {
		writeNotFound(w, "cluster not found on endpoint")
		return
	}

	attributes := make([]*device.Attribute, 0, len(cl.Attributes))
	for _, attr := range cl.Attributes {
		attributes = append(attributes, attr)
	}
	sort.Slice(attributes, func(i, j int) bool { return attributes[i].Name < attributes[j].Name })
	writeJSON(w, http.StatusOK, map[string]any{"attributes": attributes})
}

// handleDeleteEndpoint removes one endpoint of a device. When the last
// endpoint goes, the device goes with it and polling stops for the node.
func (s *Server) handleDeleteEndpoint(w http.ResponseWriter, r *http.Request) {
	node, ok := parseNode(w, r)
	if !ok {
		return
	}
	endpoint, ok := parseEndpoint(w, r)
	if !ok {
		return
	}

	// Capture the endpoint before deletion so subscribers get the full
	// identity in the delete report.
	dev, err := s.registry.GetDevice(r.Context(), node)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}
	deleted, ok := dev.Endpoints[endpoint]
	if !ok {
		writeNotFound(w, "device not found")
		return
	}

	if err := s.registry.DeleteEndpoint(r.Context(), node, endpoint); err != nil {
		if errors.Is(err, device.ErrEndpointNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		s.logger.Error("deleting endpoint failed", "node_id", node, "endpoint", endpoint, "error", err)
		writeInternalError(w, "device deletion failed")
		return
	}

	if s.poller != nil && len(dev.Endpoints) == 1 {
		s.poller.RemoveDevice(node)
	}
	if s.notifier != nil {
		trimmed := dev.DeepCopy()
		trimmed.Endpoints = map[uint16]*device.Endpoint{endpoint: deleted}
		s.notifier.DeviceDeleted(trimmed)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": "Device deleted successfully",
	})
}
