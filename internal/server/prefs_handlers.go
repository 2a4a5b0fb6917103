package server

import (
	"net/http"
	"strconv"
)

// preferenceDefaults lists the editable preference keys and their defaults.
// Unknown keys on PUT are rejected.
var preferenceDefaults = map[string]string{
	"locale":                "en",
	"theme":                 "system",
	"summary_language":      "",
	"summary_model":         "",
	"max_post_age_days":     "",
	"max_unread_days":       "",
	"toast_timeout_seconds": "5",
	"idle_refresh_minutes":  "15",
	"reading_mode":          "list",
	"split_ratio":           "50",
}

// positiveIntKeys are preferences that must parse as positive integers.
var positiveIntKeys = map[string]bool{
	"max_post_age_days":     true,
	"max_unread_days":       true,
	"toast_timeout_seconds": true,
	"idle_refresh_minutes":  true,
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	stored, err := s.st.AllSettings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load preferences")
		return
	}

	prefs := make(map[string]string, len(preferenceDefaults))
	for key, def := range preferenceDefaults {
		if v, ok := stored[key]; ok {
			prefs[key] = v
		} else {
			prefs[key] = def
		}
	}
	// Env defaults fill in when no override is stored.
	if prefs["summary_language"] == "" {
		prefs["summary_language"] = s.cfg.SummaryLanguage
	}
	if prefs["summary_model"] == "" {
		prefs["summary_model"] = s.cfg.CerebrasModel
	}
	if prefs["max_post_age_days"] == "" {
		prefs["max_post_age_days"] = strconv.Itoa(s.cfg.MaxPostAgeDays)
	}
	if prefs["max_unread_days"] == "" {
		prefs["max_unread_days"] = strconv.Itoa(s.cfg.MaxUnreadDays)
	}
	writeJSON(w, http.StatusOK, prefs)
}

func (s *Server) handlePutPreferences(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	if !decodeBody(w, r, &body) {
		return
	}

	for key, value := range body {
		if _, ok := preferenceDefaults[key]; !ok {
			writeError(w, http.StatusBadRequest, "unknown preference: "+key)
			return
		}
		if positiveIntKeys[key] {
			if n, err := strconv.Atoi(value); err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, key+" must be a positive number")
				return
			}
		}
		if key == "split_ratio" {
			ratio, err := strconv.Atoi(value)
			if err != nil {
				writeError(w, http.StatusBadRequest, "split_ratio must be a number")
				return
			}
			if ratio < 20 {
				ratio = 20
			}
			if ratio > 80 {
				ratio = 80
			}
			body[key] = strconv.Itoa(ratio)
		}
	}

	for key, value := range body {
		if err := s.st.SetSetting(r.Context(), key, value); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to save preferences")
			return
		}
	}
	s.handleGetPreferences(w, r)
}
