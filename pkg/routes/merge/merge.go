package merge

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/ahg-archives/bramble/internal/repositories/mergelog"
	"github.com/ahg-archives/bramble/pkg/appcontext"
	"github.com/ahg-archives/bramble/pkg/merging"
	"github.com/ahg-archives/bramble/pkg/models"
	"github.com/ahg-archives/bramble/pkg/utils"
)

// Register registers merge routes
func Register(g *echo.Group) {
	g.POST("", MergeRecords)
	g.GET("/log", ListRecentMerges)
	g.GET("/log/record/:recordId", ListMergesForRecord)
}

// MergeRecords merges a duplicate record into its primary
func MergeRecords(c echo.Context) error {
	ctx := c.Request().Context()

	actor := appcontext.GetActorID(ctx)
	if actor == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "X-Actor-ID header is required")
	}

	req, err := utils.BindRequest[models.MergeRequest](c)
	if err != nil {
		return err
	}

	ctx, coordinator, err := ectoinject.GetContext[*merging.Coordinator](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	entry, err := coordinator.Merge(ctx, req, actor)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, entry)
}

// ListRecentMerges lists recent merge audit entries
func ListRecentMerges(c echo.Context) error {
	ctx := c.Request().Context()

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	ctx, repo, err := ectoinject.GetContext[*mergelog.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	entries, err := repo.ListRecent(ctx, limit)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, entries)
}

// ListMergesForRecord lists merge audit entries involving a record
func ListMergesForRecord(c echo.Context) error {
	ctx := c.Request().Context()

	recordID, err := strconv.Atoi(c.Param("recordId"))
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid record id")
	}

	ctx, repo, err := ectoinject.GetContext[*mergelog.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	entries, err := repo.ListByRecord(ctx, recordID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, entries)
}
