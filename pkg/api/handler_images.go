package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// imageHandler handles GET /images/:id/:file, serving a stored upload.
// Path safety lives in the intake layer; anything it rejects is a 404.
func (s *Server) imageHandler(c *echo.Context) error {
	path, err := s.conversations.ImagePath(c.Param("id"), c.Param("file"))
	if err != nil {
		return s.writeError(c, err)
	}
	http.ServeFile(c.Response(), c.Request(), path)
	return nil
}
