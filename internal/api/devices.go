package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cthz/cthz-core/internal/correlation"
	"github.com/cthz/cthz-core/internal/fleet"
)

// handleListDevices returns all devices.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.fleet.ListDevices(r.Context())
	if err != nil {
		writeInternalError(w, "failed to list devices")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, err := s.fleet.GetDevice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, fleet.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleCreateDevice creates a new device.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var dev fleet.Device
	if err := json.NewDecoder(r.Body).Decode(&dev); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.fleet.CreateDevice(r.Context(), &dev); err != nil {
		writeFleetError(w, err, "failed to create device")
		return
	}
	writeJSON(w, http.StatusCreated, dev)
}

// handleUpdateDevice partially updates a device. Status is owned by the
// aggregator and cannot be set here.
func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	existing, err := s.fleet.GetDevice(r.Context(), id)
	if err != nil {
		if errors.Is(err, fleet.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}

	updated := *existing
	if err := json.NewDecoder(r.Body).Decode(&updated); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	updated.ID = id
	updated.Status = existing.Status

	if err := s.fleet.UpdateDevice(r.Context(), &updated); err != nil {
		writeFleetError(w, err, "failed to update device")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// handleDeleteDevice removes a device from the fleet.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	if err := s.fleet.DeleteDevice(r.Context(), chi.URLParam(r, "id")); err != nil {
		if errors.Is(err, fleet.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeFleetError(w, err, "failed to delete device")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

// handleDeviceStatus returns just the device's health status.
func (s *Server) handleDeviceStatus(w http.ResponseWriter, r *http.Request) {
	dev, err := s.fleet.GetDevice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, fleet.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":        dev.ID,
		"status":    dev.Status,
		"last_seen": dev.LastSeen,
	})
}

// handleDeviceRequests lists a device's hardware requests, newest first.
func (s *Server) handleDeviceRequests(w http.ResponseWriter, r *http.Request) {
	if s.tracker == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "request tracking not configured")
		return
	}
	requests, err := s.tracker.PendingForDevice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeInternalError(w, "failed to list requests")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": requests, "count": len(requests)})
}

// hardwareRequestBody is the optional body for scan/calibrate triggers.
type hardwareRequestBody struct {
	ScanType       string `json:"scan_type,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// handleDeviceScan issues a scan request to a device.
func (s *Server) handleDeviceScan(w http.ResponseWriter, r *http.Request) {
	s.issueRequest(w, r, correlation.RequestScan)
}

// handleDeviceCalibrate issues a calibration request to a device.
func (s *Server) handleDeviceCalibrate(w http.ResponseWriter, r *http.Request) {
	s.issueRequest(w, r, correlation.RequestCalibrate)
}

func (s *Server) issueRequest(w http.ResponseWriter, r *http.Request, requestType string) {
	if s.tracker == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "request tracking not configured")
		return
	}

	var body hardwareRequestBody
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeBadRequest(w, "invalid JSON body")
			return
		}
	}

	params := map[string]any{}
	if body.ScanType != "" {
		params["scan_type"] = body.ScanType
	}

	correlationID, err := s.tracker.Issue(r.Context(), chi.URLParam(r, "id"), requestType,
		params, time.Duration(body.TimeoutSeconds)*time.Second)
	if err != nil {
		switch {
		case errors.Is(err, fleet.ErrDeviceNotFound):
			writeNotFound(w, "device not found")
		case errors.Is(err, correlation.ErrRequestPending):
			writeConflict(w, "a "+requestType+" request is already pending for this device")
		case errors.Is(err, correlation.ErrInvalidRequest):
			writeBadRequest(w, err.Error())
		default:
			writeInternalError(w, "failed to issue "+requestType+" request")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"correlation_id": correlationID,
		"request_type":   requestType,
	})
}

// writeFleetError maps fleet domain errors onto HTTP status codes.
func writeFleetError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, fleet.ErrInvalidDevice),
		errors.Is(err, fleet.ErrInvalidStation),
		errors.Is(err, fleet.ErrInvalidGroup):
		writeBadRequest(w, err.Error())
	case errors.Is(err, fleet.ErrDeviceExists),
		errors.Is(err, fleet.ErrStationExists),
		errors.Is(err, fleet.ErrGroupExists),
		errors.Is(err, fleet.ErrStationFull),
		errors.Is(err, fleet.ErrManagerExists),
		errors.Is(err, fleet.ErrManagerNotMember):
		writeConflict(w, err.Error())
	case errors.Is(err, fleet.ErrDeviceNotFound),
		errors.Is(err, fleet.ErrStationNotFound),
		errors.Is(err, fleet.ErrGroupNotFound):
		writeNotFound(w, err.Error())
	default:
		writeInternalError(w, fallback)
	}
}
