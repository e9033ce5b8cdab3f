package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/matterverse/matterverse-core/internal/device"
	"github.com/matterverse/matterverse-core/internal/dispatch"
)

// commandRequest carries a textual command line.
type commandRequest struct {
	Command string `json:"command"`
}

// attributeRequest names one attribute of a cluster, with an optional
// value for writes.
type attributeRequest struct {
	ClusterName   string `json:"cluster_name"`
	AttributeName string `json:"attribute_name"`
	Value         any    `json:"value,omitempty"`
}

// handleCommand dispatches a textual command of the form
// "<cluster> <name> [args...] <node> <endpoint>".
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Command == "" {
		writeBadRequest(w, "command is required")
		return
	}

	s.logger.Info("received command", "command", req.Command)

	result, err := s.dispatcher.DispatchText(r.Context(), req.Command)
	if err != nil {
		if errors.Is(err, dispatch.ErrBadCommandLine) {
			writeBadRequest(w, err.Error())
			return
		}
		writeInternalError(w, err.Error())
		return
	}

	s.writeCommandResult(w, req.Command, result)
}

// handleReadAttribute reads one attribute from a device through the
// control channel and returns its decoded value.
func (s *Server) handleReadAttribute(w http.ResponseWriter, r *http.Request) {
	node, ok := parseNode(w, r)
	if !ok {
		return
	}
	endpoint, ok := parseEndpoint(w, r)
	if !ok {
		return
	}

	var req attributeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.ClusterName == "" || req.AttributeName == "" {
		writeBadRequest(w, "cluster_name and attribute_name are required")
		return
	}

	result := s.dispatcher.Dispatch(r.Context(), dispatch.Request{
		NodeID:   node,
		Endpoint: endpoint,
		Cluster:  req.ClusterName,
		Name:     req.AttributeName,
	})
	if result.Status != dispatch.StatusSuccess {
		s.writeDispatchError(w, result)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"cluster":   req.ClusterName,
		"attribute": req.AttributeName,
		"value":     result.DecodedValue,
	})
}

// handleWriteAttribute writes one attribute value through the control
// channel.
func (s *Server) handleWriteAttribute(w http.ResponseWriter, r *http.Request) {
	node, ok := parseNode(w, r)
	if !ok {
		return
	}
	endpoint, ok := parseEndpoint(w, r)
	if !ok {
		return
	}

	var req attributeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.ClusterName == "" || req.AttributeName == "" {
		writeBadRequest(w, "cluster_name and attribute_name are required")
		return
	}
	if req.Value == nil {
		writeBadRequest(w, "value is required for write operation")
		return
	}

	result := s.dispatcher.Dispatch(r.Context(), dispatch.Request{
		NodeID:   node,
		Endpoint: endpoint,
		Cluster:  req.ClusterName,
		Name:     req.AttributeName,
		Args:     []string{device.FormatValue(req.Value)},
	})
	if result.Status != dispatch.StatusSuccess {
		s.writeDispatchError(w, result)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "success",
		"cluster":   req.ClusterName,
		"attribute": req.AttributeName,
		"value":     result.DecodedValue,
	})
}

// writeCommandResult renders a dispatch result for the textual command
// endpoint, keeping the success envelope callers expect.
func (s *Server) writeCommandResult(w http.ResponseWriter, command string, result *dispatch.CommandResult) {
	if result.Status != dispatch.StatusSuccess {
		s.writeDispatchError(w, result)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "success",
		"command":  command,
		"response": result,
	})
}

// writeDispatchError maps a failed dispatch result to an HTTP status.
// Requests rejected before reaching the device carry no invocation ID
// and are the caller's fault; everything else failed downstream.
func (s *Server) writeDispatchError(w http.ResponseWriter, result *dispatch.CommandResult) {
	if result.InvocationID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, result.ErrorMessage)
		return
	}
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, result.ErrorMessage)
}
