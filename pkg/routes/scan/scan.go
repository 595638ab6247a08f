package scan

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/ahg-archives/bramble/internal/repositories/scanjob"
	"github.com/ahg-archives/bramble/pkg/appcontext"
	"github.com/ahg-archives/bramble/pkg/models"
	"github.com/ahg-archives/bramble/pkg/scanner"
	"github.com/ahg-archives/bramble/pkg/utils"
	"github.com/ahg-archives/bramble/pkg/worker"
)

// Register registers batch scan routes
func Register(g *echo.Group) {
	g.POST("", StartScan)
	g.GET("", ListScans)
	g.GET("/:id", GetScan)
	g.POST("/:id/cancel", CancelScan)
}

// StartScan creates a scan job and queues it for a worker
func StartScan(c echo.Context) error {
	ctx := c.Request().Context()

	req, err := utils.BindRequest[models.StartScanRequest](c)
	if err != nil {
		return err
	}

	actor := appcontext.GetActorID(ctx)

	ctx, s, err := ectoinject.GetContext[*scanner.Scanner](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	job, err := s.StartScan(ctx, req.RepositoryID, actor)
	if err != nil {
		return err
	}

	ctx, dispatcher, err := ectoinject.GetContext[*worker.Dispatcher](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	if err := dispatcher.Dispatch(ctx, job.ID); err != nil {
		return err
	}

	return c.JSON(http.StatusAccepted, job)
}

// ListScans lists recent scan jobs
func ListScans(c echo.Context) error {
	ctx := c.Request().Context()

	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	ctx, repo, err := ectoinject.GetContext[*scanjob.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	jobs, err := repo.List(ctx, limit)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, jobs)
}

// GetScan gets a scan job by ID
func GetScan(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	ctx, repo, err := ectoinject.GetContext[*scanjob.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	job, err := repo.Get(ctx, id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, job)
}

// CancelScan requests cancellation of a pending or running scan
func CancelScan(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	ctx, s, err := ectoinject.GetContext[*scanner.Scanner](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	if err := s.Cancel(ctx, id); err != nil {
		return err
	}

	ctx, repo, err := ectoinject.GetContext[*scanjob.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	job, err := repo.Get(ctx, id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusAccepted, job)
}
