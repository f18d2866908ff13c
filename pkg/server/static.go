package server

import (
	"net/http"
	"path"

	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"

	apperrors "github.com/avioli/imagemin-glitch/pkg/errors"
	"github.com/avioli/imagemin-glitch/pkg/messages"
)

// handleStatic serves files from the public directory for any unmatched GET.
// Directories are not listed.
func (s *Server) handleStatic(c *gin.Context) {
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		s.renderError(c, apperrors.New(apperrors.ErrNotFound, messages.RespNotFound))
		return
	}

	name := path.Clean("/" + c.Request.URL.Path)
	info, err := s.public.Stat(name)
	if err != nil || info.IsDir() {
		s.logger.Debug(messages.MsgStaticNotFound, "path", name)
		s.renderError(c, apperrors.New(apperrors.ErrNotFound, messages.RespNotFound))
		return
	}

	http.FileServer(afero.NewHttpFs(s.public)).ServeHTTP(c.Writer, c.Request)
}
