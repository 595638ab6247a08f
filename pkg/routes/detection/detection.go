package detection

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/ahg-archives/bramble/internal/repositories/detection"
	"github.com/ahg-archives/bramble/pkg/appcontext"
	"github.com/ahg-archives/bramble/pkg/events"
	"github.com/ahg-archives/bramble/pkg/models"
	"github.com/ahg-archives/bramble/pkg/utils"
)

// Register registers duplicate detection routes
func Register(g *echo.Group) {
	g.GET("", ListDetections)
	g.GET("/statistics", GetStatistics)
	g.GET("/:id", GetDetection)
	g.GET("/record/:recordId", ListByRecord)
	g.POST("/:id/dismiss", DismissDetection)
	g.POST("/:id/confirm", ConfirmDetection)
}

// ListDetections lists detections, pending first unless a status is given
func ListDetections(c echo.Context) error {
	ctx := c.Request().Context()

	status := c.QueryParam("status")
	if status == "" {
		status = models.DetectionStatusPending
	}
	switch status {
	case models.DetectionStatusPending, models.DetectionStatusConfirmed,
		models.DetectionStatusDismissed, models.DetectionStatusMerged:
	default:
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid status")
	}

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))

	ctx, repo, err := ectoinject.GetContext[*detection.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	detections, err := repo.ListByStatus(ctx, status, limit, offset)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, detections)
}

// GetStatistics returns aggregate counts over the detection queue
func GetStatistics(c echo.Context) error {
	ctx := c.Request().Context()

	ctx, repo, err := ectoinject.GetContext[*detection.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	stats, err := repo.Statistics(ctx)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, stats)
}

// GetDetection gets a detection by ID
func GetDetection(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	ctx, repo, err := ectoinject.GetContext[*detection.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	det, err := repo.Get(ctx, id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, det)
}

// ListByRecord lists every detection involving a record
func ListByRecord(c echo.Context) error {
	ctx := c.Request().Context()

	recordID, err := strconv.Atoi(c.Param("recordId"))
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid record id")
	}

	ctx, repo, err := ectoinject.GetContext[*detection.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	detections, err := repo.ListByRecord(ctx, recordID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, detections)
}

// ReviewRequest carries the optional reviewer notes
type ReviewRequest struct {
	Notes *string `json:"notes,omitempty"`
}

// DismissDetection marks a pending detection as not a duplicate
func DismissDetection(c echo.Context) error {
	return review(c, models.DetectionStatusDismissed)
}

// ConfirmDetection marks a pending detection as a verified duplicate
func ConfirmDetection(c echo.Context) error {
	return review(c, models.DetectionStatusConfirmed)
}

func review(c echo.Context, status string) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	actor := appcontext.GetActorID(ctx)
	if actor == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "X-Actor-ID header is required")
	}

	req, err := utils.BindRequest[ReviewRequest](c)
	if err != nil {
		return err
	}

	ctx, repo, err := ectoinject.GetContext[*detection.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	if status == models.DetectionStatusConfirmed {
		err = repo.Confirm(ctx, id, actor, req.Notes)
	} else {
		err = repo.Dismiss(ctx, id, actor, req.Notes)
	}
	if err != nil {
		return err
	}

	det, err := repo.Get(ctx, id)
	if err != nil {
		return err
	}

	if ctx, emitter, err := ectoinject.GetContext[*events.Emitter](ctx); err == nil {
		_ = emitter.DuplicateReviewed(ctx, det, status, actor)
	}

	return c.JSON(http.StatusOK, det)
}
