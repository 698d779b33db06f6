package internal

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/labstack/echo/v4"

	"roomchat/internal/blob"
)

const genericMimeType = "application/octet-stream"

type uploadResponse struct {
	FileID       string `json:"file_id"`
	OriginalName string `json:"original_name"`
	MimeType     string `json:"mime_type"`
	Size         int64  `json:"size"`
}

// HandleFileUpload accepts a multipart upload with fields file, room and
// username. Authenticated requests upload as the session user.
func (s *Server) HandleFileUpload(c echo.Context) error {
	r := c.Request()
	authCtx, err := s.authenticateRequest(r)
	if err != nil && (!errors.Is(err, errUnauthorized) || s.requireAuth) {
		return writeError(c, statusForError(err), err)
	}

	r.Body = http.MaxBytesReader(c.Response(), r.Body, s.maxFileSize+1<<20)
	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return writeError(c, http.StatusRequestEntityTooLarge, errors.New("file too large"))
		}
		return writeError(c, http.StatusBadRequest, errors.New("no file provided"))
	}
	if header.Size > s.maxFileSize {
		return writeError(c, http.StatusRequestEntityTooLarge, errors.New("file too large"))
	}
	src, err := header.Open()
	if err != nil {
		return writeError(c, http.StatusBadRequest, fmt.Errorf("open uploaded file: %w", err))
	}
	defer src.Close()
	data, err := io.ReadAll(io.LimitReader(src, s.maxFileSize+1))
	if err != nil {
		return writeError(c, http.StatusBadRequest, fmt.Errorf("read uploaded file: %w", err))
	}
	if int64(len(data)) > s.maxFileSize {
		return writeError(c, http.StatusRequestEntityTooLarge, errors.New("file too large"))
	}

	username := c.FormValue("username")
	if authCtx != nil {
		username = authCtx.Username
	}
	rec, err := s.hub.SubmitUpload(r.Context(), c.FormValue("room"), username, FileUpload{
		OriginalName: sanitizeFilename(header.Filename),
		MimeType:     header.Header.Get(echo.HeaderContentType),
		Data:         data,
	})
	if err != nil {
		return writeError(c, statusForError(err), err)
	}
	return c.JSON(http.StatusCreated, uploadResponse{
		FileID:       rec.ID,
		OriginalName: rec.OriginalName,
		MimeType:     rec.MimeType,
		Size:         rec.SizeBytes,
	})
}

// HandleFileDownload streams a file that is still in a room's history.
func (s *Server) HandleFileDownload(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	room := strings.TrimSpace(c.QueryParam("room"))
	if id == "" || room == "" {
		return writeError(c, http.StatusBadRequest, errors.New("file id and room are required"))
	}
	rec, ok := s.hub.File(room, id)
	if !ok {
		return writeError(c, http.StatusNotFound, errors.New("file not found"))
	}
	if s.blobs == nil {
		return writeError(c, http.StatusServiceUnavailable, errors.New("blob storage is not configured"))
	}
	f, err := s.blobs.Open(rec.ID)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return writeError(c, http.StatusNotFound, errors.New("file not found"))
		}
		return writeError(c, http.StatusInternalServerError, err)
	}
	defer f.Close()

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, rec.MimeType)
	resp.Header().Set(echo.HeaderContentLength, strconv.FormatInt(rec.SizeBytes, 10))
	resp.Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", rec.OriginalName))
	resp.WriteHeader(http.StatusOK)
	_, err = io.Copy(resp.Writer, f)
	return err
}

// detectMimeType keeps a declared type unless it is missing or generic, in
// which case the content is sniffed.
func detectMimeType(declared string, data []byte) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && declared != genericMimeType {
		return declared
	}
	return mimetype.Detect(data).String()
}

// sanitizeFilename strips directories and separators from a client supplied
// name. An unusable name comes back empty.
func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, "\x00", "")
	name = strings.ReplaceAll(name, `"`, "_")
	if name == "." || name == ".." || name == "/" {
		return ""
	}
	return name
}
