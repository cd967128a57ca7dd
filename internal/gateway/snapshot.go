package gateway

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

type snapshotKind int

const (
	kindSnapshot snapshotKind = iota
	kindFaceSnapshot
)

// resolveSnapshotPath canonicalizes raw (a path stored in event.Meta)
// and verifies it lies under one of the configured allow-listed
// roots. Canonicalization happens before comparison so traversal
// strings such as "../etc/passwd" can't escape the allow-list.
func (s *Server) resolveSnapshotPath(raw string) (string, bool) {
	if raw == "" {
		return "", false
	}
	abs, err := filepath.Abs(raw)
	if err != nil {
		return "", false
	}
	clean := filepath.Clean(abs)

	for _, root := range s.snapshotDirs {
		rootAbs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		rootAbs = filepath.Clean(rootAbs)
		if clean == rootAbs || strings.HasPrefix(clean, rootAbs+string(filepath.Separator)) {
			return clean, true
		}
	}
	return "", false
}

func (s *Server) handleSnapshot(kind snapshotKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid event id")
			return
		}
		e, found, err := s.store.Get(r.Context(), id)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to fetch event")
			return
		}
		if !found {
			writeJSONError(w, http.StatusNotFound, "event not found")
			return
		}

		raw := e.Meta.Snapshot
		if kind == kindFaceSnapshot {
			raw = e.Meta.FaceSnapshot
		}
		if raw == "" {
			writeJSONError(w, http.StatusNotFound, "no snapshot for event")
			return
		}

		path, ok := s.resolveSnapshotPath(raw)
		if !ok {
			writeJSONError(w, http.StatusForbidden, "snapshot path is not authorized")
			return
		}

		s.serveSnapshotFile(w, r, path)
	}
}

// serveSnapshotFile serves path with ETag/Last-Modified caching,
// honoring If-None-Match / If-Modified-Since with 304. Read failures
// mid-flight (the retention engine may be concurrently moving or
// deleting the file) are reported as 404, not 500.
func (s *Server) serveSnapshotFile(w http.ResponseWriter, r *http.Request, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "snapshot not found")
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "snapshot not found")
		return
	}

	sum := sha256.Sum256(data)
	etag := `"` + hex.EncodeToString(sum[:8]) + `"`
	modTime := info.ModTime()

	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	if since := r.Header.Get("If-Modified-Since"); since != "" {
		if t, err := time.Parse(http.TimeFormat, since); err == nil && !modTime.After(t) {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}

	maxAge := int(s.snapshotMaxAge.Seconds())
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("ETag", etag)
	w.Header().Set("Last-Modified", modTime.UTC().Format(http.TimeFormat))
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", maxAge))
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(data)
	}
}

// handleSnapshotDiff decodes the baseline snapshot referenced by the
// "baseline" query param (an event id) and the event's own snapshot,
// returning a pixel-difference PNG. Dimension mismatches return 409.
func (s *Server) handleSnapshotDiff(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid event id")
		return
	}
	e, found, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to fetch event")
		return
	}
	if !found || e.Meta.Snapshot == "" {
		writeJSONError(w, http.StatusNotFound, "no snapshot for event")
		return
	}

	baselineID, err := strconv.ParseInt(r.URL.Query().Get("baseline"), 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "baseline query parameter is required")
		return
	}
	baseline, found, err := s.store.Get(r.Context(), baselineID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to fetch baseline event")
		return
	}
	if !found || baseline.Meta.Snapshot == "" {
		writeJSONError(w, http.StatusNotFound, "no snapshot for baseline event")
		return
	}

	currentPath, ok := s.resolveSnapshotPath(e.Meta.Snapshot)
	if !ok {
		writeJSONError(w, http.StatusForbidden, "snapshot path is not authorized")
		return
	}
	baselinePath, ok := s.resolveSnapshotPath(baseline.Meta.Snapshot)
	if !ok {
		writeJSONError(w, http.StatusForbidden, "snapshot path is not authorized")
		return
	}

	current, err := decodePNG(currentPath)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "snapshot not found")
		return
	}
	base, err := decodePNG(baselinePath)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "baseline snapshot not found")
		return
	}

	if current.Bounds() != base.Bounds() {
		writeJSONError(w, http.StatusConflict, "Snapshot dimensions do not match")
		return
	}

	diff := diffImages(base, current)
	var buf bytes.Buffer
	if err := png.Encode(&buf, diff); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode diff image")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func decodePNG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return png.Decode(f)
}

// diffImages returns a grayscale image where each pixel's intensity
// is the absolute per-channel difference between a and b, summed.
func diffImages(a, b image.Image) image.Image {
	bounds := a.Bounds()
	out := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			ar, ag, ab, _ := a.At(x, y).RGBA()
			br, bg, bb, _ := b.At(x, y).RGBA()
			d := absDiff16(ar, br) + absDiff16(ag, bg) + absDiff16(ab, bb)
			out.SetGray(x, y, color.Gray{Y: grayFromUint32(d)})
		}
	}
	return out
}

func absDiff16(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}

func grayFromUint32(v uint32) uint8 {
	scaled := v >> 9 // three channels of 16-bit each, scale into one byte
	if scaled > 255 {
		scaled = 255
	}
	return uint8(scaled)
}
