package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/lyzr/plugin-registry/cmd/registry/models"
	"github.com/lyzr/plugin-registry/cmd/registry/service"
	"github.com/lyzr/plugin-registry/cmd/registry/storage"
	"github.com/lyzr/plugin-registry/cmd/registry/validation"
	"github.com/lyzr/plugin-registry/common/logger"
)

// PluginInfoHandler handles plugin metadata requests
type PluginInfoHandler struct {
	plugins *service.PluginInfoService
	log     *logger.Logger
}

// NewPluginInfoHandler creates a new plugin info handler
func NewPluginInfoHandler(plugins *service.PluginInfoService, log *logger.Logger) *PluginInfoHandler {
	return &PluginInfoHandler{
		plugins: plugins,
		log:     log,
	}
}

// List lists all plugins, optionally filtered by consuming service
// GET /api/v1/plugins?service=orca
func (h *PluginInfoHandler) List(c echo.Context) error {
	ctx := c.Request().Context()

	if serviceTag := c.QueryParam("service"); serviceTag != "" {
		plugins, err := h.plugins.FindAllByService(ctx, serviceTag)
		if err != nil {
			return h.renderError(c, err)
		}
		return c.JSON(http.StatusOK, plugins)
	}

	plugins, err := h.plugins.FindAll(ctx)
	if err != nil {
		return h.renderError(c, err)
	}
	return c.JSON(http.StatusOK, plugins)
}

// Get retrieves a plugin record by id
// GET /api/v1/plugins/:id
func (h *PluginInfoHandler) Get(c echo.Context) error {
	pluginInfo, err := h.plugins.FindByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.renderError(c, err)
	}
	return c.JSON(http.StatusOK, pluginInfo)
}

// Upsert creates or merges a plugin record
// POST /api/v1/plugins
func (h *PluginInfoHandler) Upsert(c echo.Context) error {
	pluginInfo := &models.PluginInfo{}
	if err := c.Bind(pluginInfo); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid plugin payload"))
	}

	result, err := h.plugins.Upsert(c.Request().Context(), pluginInfo)
	if err != nil {
		return h.renderError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// Delete removes a plugin and all its releases. Idempotent.
// DELETE /api/v1/plugins/:id
func (h *PluginInfoHandler) Delete(c echo.Context) error {
	if err := h.plugins.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return h.renderError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// CreateRelease appends a new release to a plugin
// POST /api/v1/plugins/:id/releases
func (h *PluginInfoHandler) CreateRelease(c echo.Context) error {
	release := models.Release{}
	if err := c.Bind(&release); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid release payload"))
	}

	result, err := h.plugins.CreateRelease(c.Request().Context(), c.Param("id"), release)
	if err != nil {
		return h.renderError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// UpsertRelease replaces an existing release
// PUT /api/v1/plugins/:id/releases
func (h *PluginInfoHandler) UpsertRelease(c echo.Context) error {
	release := models.Release{}
	if err := c.Bind(&release); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid release payload"))
	}

	result, err := h.plugins.UpsertRelease(c.Request().Context(), c.Param("id"), release)
	if err != nil {
		return h.renderError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// DeleteRelease removes a release and its binary
// DELETE /api/v1/plugins/:id/releases/:version
func (h *PluginInfoHandler) DeleteRelease(c echo.Context) error {
	result, err := h.plugins.DeleteRelease(c.Request().Context(), c.Param("id"), c.Param("version"))
	if err != nil {
		return h.renderError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

type preferRequest struct {
	Preferred bool `json:"preferred"`
}

// PreferRelease flips the preferred flag on a release
// PUT /api/v1/plugins/:id/releases/:version/preferred
func (h *PluginInfoHandler) PreferRelease(c echo.Context) error {
	req := preferRequest{}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid prefer payload"))
	}

	release, err := h.plugins.PreferReleaseVersion(
		c.Request().Context(), c.Param("id"), c.Param("version"), req.Preferred)
	if err != nil {
		return h.renderError(c, err)
	}
	return c.JSON(http.StatusOK, release)
}

// UploadBinary stores a release binary
// POST /api/v1/plugins/:id/binaries/:version
func (h *PluginInfoHandler) UploadBinary(c echo.Context) error {
	data, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("failed to read binary payload"))
	}

	if err := h.plugins.StoreBinary(c.Request().Context(), c.Param("id"), c.Param("version"), data); err != nil {
		return h.renderError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// DownloadBinary streams a stored release binary
// GET /api/v1/plugins/:id/binaries/:version
func (h *PluginInfoHandler) DownloadBinary(c echo.Context) error {
	data, err := h.plugins.GetBinary(c.Request().Context(), c.Param("id"), c.Param("version"))
	if err != nil {
		return h.renderError(c, err)
	}
	return c.Blob(http.StatusOK, "application/zip", data)
}

// renderError maps domain errors to HTTP status codes
func (h *PluginInfoHandler) renderError(c echo.Context, err error) error {
	var validationErr *validation.Error
	switch {
	case models.IsNotFound(err) || errors.Is(err, storage.ErrBinaryNotFound):
		return c.JSON(http.StatusNotFound, errorBody(err.Error()))
	case models.IsInvalidRequest(err):
		return c.JSON(http.StatusBadRequest, errorBody(err.Error()))
	case errors.As(err, &validationErr):
		return c.JSON(http.StatusUnprocessableEntity, map[string]interface{}{
			"error":  "validation failed",
			"errors": validationErr.Errors,
		})
	default:
		h.log.Error("plugin request failed", "path", c.Path(), "error", err)
		return c.JSON(http.StatusInternalServerError, errorBody("internal error"))
	}
}

func errorBody(msg string) map[string]interface{} {
	return map[string]interface{}{"error": msg}
}
