package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zombor/finance-bot/internal/bot"
)

const (
	maxJSONSize  = 64 << 10
	maxPhotoSize = int64(20 << 20)
)

type messageRequest struct {
	Text string `json:"text"`
}

type callbackRequest struct {
	Option string `json:"option"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return 0, false
	}
	return id, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONSize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		slog.Debug("Error decoding request", "error", err)
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// handleMessage delivers a typed message
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	var req messageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	writeJSON(w, http.StatusOK, s.bot.OnText(r.Context(), id, req.Text))
}

// handleCallback delivers a pressed option
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	var req callbackRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Option == "" {
		writeError(w, http.StatusBadRequest, "option is required")
		return
	}

	writeJSON(w, http.StatusOK, s.bot.OnCallback(r.Context(), id, req.Option))
}

// handlePhoto delivers a receipt photo sent as multipart "file" with an
// optional "caption"
func (s *Server) handlePhoto(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxPhotoSize)
	if err := r.ParseMultipartForm(maxPhotoSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "photo is too large, maximum size is 20MB")
			return
		}
		writeError(w, http.StatusBadRequest, "error parsing form")
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file provided")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, http.StatusInternalServerError, "error reading file")
		return
	}

	photo := bot.Photo{
		Data:        data,
		ContentType: contentType(header.Header.Get("Content-Type"), header.Filename, data),
		Caption:     r.FormValue("caption"),
	}
	writeJSON(w, http.StatusOK, s.bot.OnPhoto(r.Context(), id, photo))
}

// contentType trusts the part header unless it is generic, then the file
// extension, then the bytes
func contentType(declared, filename string, data []byte) string {
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	}
	return http.DetectContentType(data)
}
