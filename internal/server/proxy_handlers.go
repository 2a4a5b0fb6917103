package server

import (
	"io"
	"net/http"
	"strings"
	"time"
)

var allowedImageTypes = map[string]bool{
	"image/jpeg":    true,
	"image/png":     true,
	"image/gif":     true,
	"image/webp":    true,
	"image/svg+xml": true,
	"image/avif":    true,
}

// handleProxyImage fetches a remote image on the client's behalf so article
// images load without exposing the reader's address to the origin.
func (s *Server) handleProxyImage(w http.ResponseWriter, r *http.Request) {
	target, err := validateExternalURL(r.URL.Query().Get("url"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid image url")
		return
	}

	client := &http.Client{Timeout: time.Duration(s.cfg.ProxyTimeoutSeconds) * time.Second}
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target.String(), nil)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid image url")
		return
	}
	req.Header.Set("User-Agent", "skimmer/1.0")

	resp, err := client.Do(req)
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to fetch image")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		writeError(w, http.StatusBadGateway, "upstream returned an error")
		return
	}
	contentType := resp.Header.Get("Content-Type")
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	if !allowedImageTypes[contentType] {
		writeError(w, http.StatusUnsupportedMediaType, "not an image")
		return
	}
	if resp.ContentLength > s.cfg.ProxyMaxSizeBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "image too large")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	io.Copy(w, io.LimitReader(resp.Body, s.cfg.ProxyMaxSizeBytes))
}
