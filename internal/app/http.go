package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"notes/api/internal/assets"
	"notes/api/internal/auth"
	"notes/api/internal/content"
	"notes/api/internal/editor"
	"notes/api/internal/export"
	"notes/api/internal/store"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

type HTTPServer struct {
	service        *Service
	corsOrigin     string
	maxUploadBytes int64
	upgrader       websocket.Upgrader
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	maxUpload := service.cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 10 << 20
	}
	s := &HTTPServer{service: service, corsOrigin: corsOrigin, maxUploadBytes: maxUpload}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || s.corsOrigin == "*" || origin == s.corsOrigin
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	ownerID, ok := s.requireOwner(w, r)
	if !ok {
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}

	switch parts[1] {
	case "pages":
		s.handlePages(w, r, ownerID, parts)
	case "sessions":
		s.handleSessions(w, r, ownerID, parts)
	case "assets":
		s.handleAssets(w, r, ownerID, parts)
	case "search":
		if len(parts) == 2 && r.Method == http.MethodGet {
			s.handleSearch(w, r, ownerID)
			return
		}
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handlePages(w http.ResponseWriter, r *http.Request, ownerID string, parts []string) {
	if len(parts) == 2 && r.Method == http.MethodGet {
		items, err := s.service.ListDocuments(r.Context(), ownerID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"pages": items})
		return
	}

	if len(parts) == 2 && r.Method == http.MethodPost {
		var body struct {
			Title   string        `json:"title"`
			Content *content.Node `json:"content"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		doc, err := s.service.CreateDocument(r.Context(), ownerID, body.Title, body.Content)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"page": doc})
		return
	}

	if len(parts) == 3 && parts[2] == "import" && r.Method == http.MethodPost {
		var body struct {
			Title    string `json:"title"`
			Markdown string `json:"markdown"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		doc, err := s.service.ImportMarkdown(r.Context(), ownerID, body.Title, body.Markdown)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"page": doc})
		return
	}

	if len(parts) == 3 && parts[2] == "subscribe" && r.Method == http.MethodGet {
		s.handleSubscribe(w, r, ownerID)
		return
	}

	if len(parts) < 3 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}
	pageID := parts[2]

	if len(parts) == 3 && r.Method == http.MethodGet {
		doc, err := s.service.ReadDocument(r.Context(), ownerID, pageID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"page": doc})
		return
	}

	if len(parts) == 3 && (r.Method == http.MethodPatch || r.Method == http.MethodPut) {
		var body struct {
			Title   *string       `json:"title"`
			Content *content.Node `json:"content"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		doc, err := s.service.WriteDocument(r.Context(), ownerID, pageID, DocumentFields{Title: body.Title, Content: body.Content})
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"page": doc})
		return
	}

	if len(parts) == 3 && r.Method == http.MethodDelete {
		if err := s.service.DeleteDocument(r.Context(), ownerID, pageID); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(parts) == 4 && parts[3] == "export" && r.Method == http.MethodGet {
		format, err := export.ParseFormat(strings.TrimSpace(r.URL.Query().Get("format")))
		if err != nil {
			writeMappedError(w, err)
			return
		}
		result, err := s.service.Export(r.Context(), ownerID, pageID, format)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		disposition := "inline"
		if format == export.FormatPDF {
			disposition = "attachment"
		}
		w.Header().Set("Content-Type", result.MimeType)
		w.Header().Set("Content-Disposition", mime.FormatMediaType(disposition, map[string]string{"filename": result.Filename}))
		w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)
		return
	}

	if len(parts) == 4 && parts[3] == "sessions" && r.Method == http.MethodPost {
		view, err := s.service.OpenSession(r.Context(), ownerID, pageID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"session": view})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func (s *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request, ownerID string, parts []string) {
	if len(parts) < 3 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}
	sessionID := parts[2]

	if len(parts) == 3 && r.Method == http.MethodDelete {
		discard, _ := strconv.ParseBool(r.URL.Query().Get("discard"))
		if err := s.service.CloseSession(r.Context(), ownerID, sessionID, discard); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	session, err := s.service.EditorSession(ownerID, sessionID)
	if err != nil {
		writeMappedError(w, err)
		return
	}

	if len(parts) == 3 && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]any{"session": session.Snapshot(true)})
		return
	}

	if len(parts) == 4 && parts[3] == "content" && r.Method == http.MethodPut {
		var body struct {
			Content *content.Node `json:"content"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := session.SetContent(body.Content); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"session": session.Snapshot(false)})
		return
	}

	if len(parts) == 4 && parts[3] == "save" && r.Method == http.MethodPost {
		if err := session.Flush(r.Context()); err != nil {
			writeError(w, http.StatusBadGateway, "SAVE_FAILED", "Save failed", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"session": session.Snapshot(false)})
		return
	}

	if len(parts) == 4 && parts[3] == "images" && r.Method == http.MethodPost {
		at, err := parsePosition(r.URL.Query().Get("at"))
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		upload, err := s.readUpload(w, r)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		data, err := io.ReadAll(upload.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "Could not read upload", nil)
			return
		}
		uploadID, err := session.InsertImage(at, editor.ImageUpload{
			Name:        upload.Name,
			ContentType: upload.ContentType,
			Data:        data,
		})
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"uploadId": uploadID, "session": session.Snapshot(false)})
		return
	}

	if len(parts) == 5 && parts[3] == "previews" && r.Method == http.MethodGet {
		data, contentType, ok := session.Preview(parts[4])
		if !ok {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Preview not found", nil)
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func (s *HTTPServer) handleAssets(w http.ResponseWriter, r *http.Request, ownerID string, parts []string) {
	if len(parts) != 2 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}

	switch r.Method {
	case http.MethodPost:
		upload, err := s.readUpload(w, r)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		asset, err := s.service.UploadAsset(r.Context(), ownerID, upload)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, asset)
	case http.MethodDelete:
		storagePath := strings.TrimSpace(r.URL.Query().Get("path"))
		if storagePath == "" {
			writeMappedError(w, validationError("path is required"))
			return
		}
		if err := s.service.DeleteAsset(r.Context(), ownerID, storagePath); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, ownerID string) {
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	offset, _ := strconv.Atoi(query.Get("offset"))
	if offset < 0 {
		offset = 0
	}
	writeJSON(w, http.StatusOK, s.service.Search(r.Context(), ownerID, query.Get("q"), limit, offset))
}

type pagesMessage struct {
	Type  string    `json:"type"`
	Pages []Summary `json:"pages"`
}

// handleSubscribe streams the owner's page list over a websocket until either side closes.
func (s *HTTPServer) handleSubscribe(w http.ResponseWriter, r *http.Request, ownerID string) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("app: websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var writeMu sync.Mutex
	send := func(messageType int, data []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
			return err
		}
		return conn.WriteMessage(messageType, data)
	}

	unsubscribe, err := s.service.Subscribe(ctx, ownerID, func(items []Summary) {
		data, err := json.Marshal(pagesMessage{Type: "pages", Pages: items})
		if err != nil {
			log.Error().Err(err).Msg("app: encode page list")
			return
		}
		if err := send(websocket.TextMessage, data); err != nil {
			cancel()
		}
	})
	if err != nil {
		log.Warn().Err(err).Str("owner", ownerID).Msg("app: subscribe failed")
		_ = send(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed"))
		return
	}
	defer unsubscribe()

	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := send(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *HTTPServer) readUpload(w http.ResponseWriter, r *http.Request) (assets.Upload, error) {
	if r.ContentLength > s.maxUploadBytes {
		return assets.Upload{}, domainError(http.StatusRequestEntityTooLarge, "UPLOAD_TOO_LARGE", fmt.Sprintf("upload exceeds %d bytes", s.maxUploadBytes), nil)
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return assets.Upload{}, domainError(http.StatusRequestEntityTooLarge, "UPLOAD_TOO_LARGE", fmt.Sprintf("upload exceeds %d bytes", s.maxUploadBytes), nil)
		}
		return assets.Upload{}, domainError(http.StatusBadRequest, "INVALID_BODY", "multipart form expected", nil)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return assets.Upload{}, validationError("file is required")
	}
	return assets.Upload{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	}, nil
}

// parsePosition reads an insert position such as "0,2".
func parsePosition(raw string) (content.Path, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("at is required")
	}
	fields := strings.Split(raw, ",")
	at := make(content.Path, 0, len(fields))
	for _, field := range fields {
		index, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil || index < 0 {
			return nil, fmt.Errorf("invalid position %q", raw)
		}
		at = append(at, index)
	}
	return at, nil
}

func (s *HTTPServer) requireOwner(w http.ResponseWriter, r *http.Request) (string, bool) {
	token, ok := auth.BearerToken(r.Header.Get("Authorization"))
	if !ok && websocket.IsWebSocketUpgrade(r) {
		// Browsers cannot set headers on websocket requests.
		token = strings.TrimSpace(r.URL.Query().Get("token"))
		ok = token != ""
	}
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return "", false
	}
	claims, err := auth.ParseToken(s.service.TokenSecret(), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return "", false
	}
	return claims.Sub, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Int64("duration_ms", time.Since(started).Milliseconds()).
			Msg("http request")
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeMappedError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("app: request failed")
	}
	writeError(w, status, code, message, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Page not found", nil
	case errors.Is(err, editor.ErrSessionNotFound):
		return http.StatusNotFound, "SESSION_NOT_FOUND", "Editor session not found", nil
	case errors.Is(err, editor.ErrSessionClosed):
		return http.StatusConflict, "SESSION_CLOSED", "Editor session closed", nil
	case errors.Is(err, editor.ErrInvalidPosition):
		return http.StatusUnprocessableEntity, "INVALID_POSITION", "Invalid insert position", nil
	case errors.Is(err, content.ErrNotDocument):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "content must be a doc node", nil
	case errors.Is(err, assets.ErrUnsupported):
		return http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE", "Unsupported image type", nil
	case errors.Is(err, assets.ErrInvalidUpload):
		return http.StatusUnprocessableEntity, "INVALID_UPLOAD", "Invalid upload", nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity, "UNSUPPORTED_FORMAT", "Unsupported export format", nil
	case errors.Is(err, export.ErrPrintUnavailable):
		return http.StatusServiceUnavailable, "PRINT_UNAVAILABLE", "Print facility unavailable", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
