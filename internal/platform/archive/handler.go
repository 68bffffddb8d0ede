package archive

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/CymonMachera/OnSight-Helper/pkg/pagination"
)

// Handler serves archived runs over HTTP.
type Handler struct {
	archive *Archive
}

func NewHandler(a *Archive) *Handler {
	return &Handler{archive: a}
}

// RegisterRoutes mounts the run routes on g.
func (h *Handler) RegisterRoutes(g *echo.Group, mw ...echo.MiddlewareFunc) {
	g.GET("/runs", h.handleList, mw...)
	g.GET("/runs/:id", h.handleGet, mw...)
	g.GET("/runs/:id/csv", h.handleDownload, mw...)
	g.DELETE("/runs/:id", h.handleDelete, mw...)
}

func (h *Handler) handleList(c echo.Context) error {
	p := pagination.FromContext(c)
	entries := h.archive.List()
	start, end := p.Bounds(len(entries))

	resp := pagination.NewResponse(entries[start:end], len(entries), p)
	resp.Links = p.Links(c.Request().URL.Path, len(entries))
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) handleGet(c echo.Context) error {
	entry, err := h.archive.Get(c.Param("id"))
	if err != nil {
		return notFound(err)
	}
	return c.JSON(http.StatusOK, entry)
}

func (h *Handler) handleDownload(c echo.Context) error {
	rc, entry, err := h.archive.Open(c.Param("id"))
	if err != nil {
		return notFound(err)
	}
	defer rc.Close()

	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename="%s.csv"`, entry.Run.ID))
	return c.Stream(http.StatusOK, "text/csv; charset=utf-8", rc)
}

func (h *Handler) handleDelete(c echo.Context) error {
	if err := h.archive.Delete(c.Param("id")); err != nil {
		return notFound(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func notFound(err error) error {
	if errors.Is(err, ErrRunNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return err
}
