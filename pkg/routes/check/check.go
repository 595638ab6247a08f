package check

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/ahg-archives/bramble/internal/repositories/record"
	"github.com/ahg-archives/bramble/pkg/realtime"
	"github.com/ahg-archives/bramble/pkg/records"
	"github.com/ahg-archives/bramble/pkg/rules"
	"github.com/ahg-archives/bramble/pkg/utils"
)

// Register registers duplicate check routes
func Register(g *echo.Group) {
	g.POST("/realtime", RealtimeCheck)
	g.GET("/record/:id", CheckRecord)
}

// RealtimeCheckRequest is the request body for an as-you-type check
type RealtimeCheckRequest struct {
	Title        string `json:"title" validate:"required"`
	RepositoryID *int   `json:"repository_id,omitempty"`
	ExcludeID    int    `json:"exclude_id,omitempty"`
}

// RealtimeCheck scores a draft title against existing catalog titles
func RealtimeCheck(c echo.Context) error {
	ctx := c.Request().Context()

	req, err := utils.BindRequest[RealtimeCheckRequest](c)
	if err != nil {
		return err
	}

	ctx, checker, err := ectoinject.GetContext[*realtime.Checker](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	scope := records.Scope{RepositoryID: req.RepositoryID}
	matches, err := checker.Check(ctx, req.Title, scope, req.ExcludeID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]any{"matches": matches})
}

// CheckRecord evaluates one stored record against the active rules
func CheckRecord(c echo.Context) error {
	ctx := c.Request().Context()

	recordID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid record id")
	}

	ctx, repo, err := ectoinject.GetContext[*record.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	probe, err := repo.Get(ctx, recordID)
	if err != nil {
		return err
	}

	ctx, engine, err := ectoinject.GetContext[*rules.Engine](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	scope := records.Scope{RepositoryID: probe.RepositoryID}
	candidates, err := engine.CheckRecord(ctx, *probe, scope)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]any{
		"record_id":  recordID,
		"candidates": candidates,
	})
}
