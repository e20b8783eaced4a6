package web

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/FadyJaradat/LicenseWatch-docker-nginx-sub000/internal/core"
	"github.com/FadyJaradat/LicenseWatch-docker-nginx-sub000/internal/expiry"
)

type licenseStatusResponse struct {
	ExpiresOn    string        `json:"expiresOn,omitempty"`
	Status       expiry.Status `json:"status"`
	CriticalDays int           `json:"criticalDays"`
	WarningDays  int           `json:"warningDays"`
}

// handleLicenseStatus classifies ?expiresOn=yyyy-MM-dd with the system
// thresholds, optionally overridden by ?criticalDays= and ?warningDays=.
func (s *Server) handleLicenseStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	expiresOn, ok := core.ParseExpiresOn(q.Get("expiresOn"))
	if !ok {
		respondBadRequest(w, r, "expiresOn must be a date in yyyy-MM-dd format")
		return
	}

	var override expiry.Override
	var err error
	if override.CriticalDays, err = optionalInt(q.Get("criticalDays"), "criticalDays"); err != nil {
		respondBadRequest(w, r, err.Error())
		return
	}
	if override.WarningDays, err = optionalInt(q.Get("warningDays"), "warningDays"); err != nil {
		respondBadRequest(w, r, err.Error())
		return
	}

	status, th, err := s.service.LicenseStatus(r.Context(), expiresOn, override)
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, licenseStatusResponse{
		ExpiresOn:    core.FormatExpiresOn(expiresOn),
		Status:       status,
		CriticalDays: th.CriticalDays,
		WarningDays:  th.WarningDays,
	})
}

func optionalInt(v, name string) (*int, error) {
	if v == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil, fmt.Errorf("%s must be an integer", name)
	}
	return &n, nil
}

type healthResponse struct {
	Status  string                   `json:"status"`
	Uploads core.UploadLimiterStatus `json:"uploads"`
}

// handleHealth reports liveness and, when a Pinger is configured, store
// reachability.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Uploads: s.service.UploadLimiterStatus()}

	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health.Ping(ctx); err != nil {
			resp.Status = "unavailable"
			writeJSON(w, r, http.StatusServiceUnavailable, resp)
			return
		}
	}

	writeJSON(w, r, http.StatusOK, resp)
}
