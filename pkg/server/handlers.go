package server

import (
	"errors"
	"mime"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"

	apperrors "github.com/avioli/imagemin-glitch/pkg/errors"
	"github.com/avioli/imagemin-glitch/pkg/messages"
	"github.com/avioli/imagemin-glitch/pkg/result"
	"github.com/avioli/imagemin-glitch/templates"
)

// Query values used when bouncing an upload back to the form.
const (
	limitFiles  = "files"
	limitFields = "fields"
)

var limitMessages = map[string]string{
	limitFiles:  messages.RespFilesLimit,
	limitFields: messages.RespFieldsLimit,
}

// Health is the /healthz payload.
type Health struct {
	Status   string `json:"status"`
	Results  int    `json:"results"`
	Capacity int    `json:"capacity"`
	Slots    int    `json:"slots"`
}

func (s *Server) handleIndex(c *gin.Context) {
	if data, err := afero.ReadFile(s.public, templates.Index); err == nil {
		c.Data(http.StatusOK, "text/html; charset=utf-8", data)
		return
	}
	c.HTML(http.StatusOK, templates.Index, nil)
}

func (s *Server) handleUploadForm(c *gin.Context) {
	token, err := s.slots.Issue()
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.HTML(http.StatusOK, templates.Upload, gin.H{
		"Token": token,
		"Error": limitMessages[c.Query("err")],
	})
}

func (s *Server) handleUpload(c *gin.Context) {
	token := c.Param("token")
	err := s.upload(c, token)
	s.metrics.IncUpload(err)

	switch {
	case err == nil:
		c.Header("Connection", "close")
		c.Redirect(http.StatusSeeOther, "/result/"+token)
	case apperrors.HasCode(err, apperrors.ErrFilesLimitExceeded):
		s.bounce(c, token, err, limitFiles)
	case apperrors.HasCode(err, apperrors.ErrFieldsLimitExceeded):
		s.bounce(c, token, err, limitFields)
	default:
		s.renderError(c, err)
	}
}

// upload runs one submission through ingest, compression and storage. The
// slot is only consumed once the cache has room, so a queue full answer
// leaves the token usable for a retry.
func (s *Server) upload(c *gin.Context, token string) error {
	if !s.slots.Pending(token) {
		return apperrors.NewInvalidTokenError(token)
	}
	if s.results.Full() {
		return apperrors.NewQueueFullError(messages.RespQueueFullResubmit).WithToken(token)
	}
	if !s.slots.Consume(token) {
		return apperrors.NewInvalidTokenError(token)
	}

	ctx := c.Request.Context()
	upload, err := s.ingestor.Ingest(ctx, c.Request)
	if err != nil {
		return err
	}

	data, err := s.compressor.Compress(ctx, upload.Data, upload.MimeType)
	if err != nil {
		return err
	}

	return s.results.Put(token, result.Record{
		Filename:     upload.Filename,
		OriginalSize: upload.Size(),
		MimeType:     upload.MimeType,
		Data:         data,
	})
}

func (s *Server) bounce(c *gin.Context, token string, err error, reason string) {
	s.logger.Warn(messages.MsgRequestFailed,
		"request_id", requestID(c),
		"token", token,
		"code", apperrors.Code(err))
	c.Header("Connection", "close")
	c.Redirect(http.StatusSeeOther, "/upload?err="+reason)
}

func (s *Server) handleResult(c *gin.Context) {
	token := c.Param("token")
	rec, ok := s.results.Get(token)
	if !ok {
		s.renderError(c, apperrors.NewInvalidTokenError(token))
		return
	}
	s.metrics.IncDownload("page")
	c.HTML(http.StatusOK, templates.Result, gin.H{
		"Token":          token,
		"Filename":       rec.Filename,
		"OriginalSize":   rec.OriginalSize,
		"CompressedSize": rec.CompressedSize(),
		"ExpiresAt":      rec.ExpiresAt,
	})
}

func (s *Server) handleMinified(c *gin.Context) {
	token := c.Param("token")
	rec, ok := s.results.Consume(token)
	if !ok {
		s.renderError(c, apperrors.NewInvalidTokenError(token))
		return
	}
	s.metrics.IncDownload("image")
	c.Header("Content-Length", strconv.Itoa(len(rec.Data)))
	c.Header("Content-Disposition", contentDisposition(rec.Filename))
	c.Data(http.StatusOK, rec.MimeType, rec.Data)
}

func contentDisposition(filename string) string {
	if filename == "" {
		return "inline"
	}
	if v := mime.FormatMediaType("inline", map[string]string{"filename": filename}); v != "" {
		return v
	}
	return "inline"
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, Health{
		Status:   "ok",
		Results:  s.results.Len(),
		Capacity: s.results.Capacity(),
		Slots:    s.slots.Len(),
	})
}

// renderError logs err once and answers with the error page.
func (s *Server) renderError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	message := http.StatusText(status)
	var code apperrors.ErrorCode

	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		status = appErr.HTTPStatus()
		message = appErr.Message
		code = appErr.Code
	}

	level := s.logger.Warn
	if status >= http.StatusInternalServerError && code != apperrors.ErrQueueFull {
		level = s.logger.Error
	}
	level(messages.MsgRequestFailed,
		"request_id", requestID(c),
		"status", status,
		"code", code,
		"error", err)

	c.HTML(status, templates.Error, gin.H{
		"Message": message,
		"Code":    code,
	})
}
