package api

import (
	"errors"
	"net/http"

	"github.com/matterverse/matterverse-core/internal/commissioning"
)

// handleRegisterDevice interrogates the freshly commissioned node and
// registers its endpoints. The commissioning itself (PASE/CASE pairing)
// has already happened on the control channel; this fills the registry.
func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	if s.registrar == nil {
		writeServiceUnavailable(w, "commissioning is not available")
		return
	}

	dev, err := s.registrar.Register(r.Context())
	if err != nil {
		switch {
		case errors.Is(err, commissioning.ErrNoUniqueID),
			errors.Is(err, commissioning.ErrNoEndpoints),
			errors.Is(err, commissioning.ErrNoDeviceTypes):
			writeBadRequest(w, "Device registration failed: "+err.Error())
		default:
			s.logger.Error("device registration failed", "error", err)
			writeInternalError(w, "Device registration failed")
		}
		return
	}

	if s.notifier != nil {
		s.notifier.DeviceRegistered(dev)
	}
	if s.poller != nil {
		s.poller.AddDevice(dev.NodeID)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": "Device registered successfully",
		"device":  dev,
	})
}
