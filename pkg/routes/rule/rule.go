package rule

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/ahg-archives/bramble/internal/repositories/rule"
	"github.com/ahg-archives/bramble/pkg/models"
	"github.com/ahg-archives/bramble/pkg/utils"
)

// Register registers detection rule routes
func Register(g *echo.Group) {
	g.GET("", ListRules)
	g.GET("/:id", GetRule)
	g.POST("", CreateRule)
	g.PUT("/:id", UpdateRule)
	g.DELETE("/:id", DeleteRule)
}

// ListRules lists all detection rules
func ListRules(c echo.Context) error {
	ctx := c.Request().Context()

	ctx, repo, err := ectoinject.GetContext[*rule.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	rules, err := repo.List(ctx)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, rules)
}

// GetRule gets a detection rule by ID
func GetRule(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	ctx, repo, err := ectoinject.GetContext[*rule.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	found, err := repo.Get(ctx, id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, found)
}

// CreateRule creates a new detection rule
func CreateRule(c echo.Context) error {
	ctx := c.Request().Context()

	req, err := utils.BindRequest[models.CreateRuleRequest](c)
	if err != nil {
		return err
	}

	if !req.RuleType.Known() {
		return httperror.NewHTTPError(http.StatusBadRequest, "unknown rule type")
	}

	ctx, repo, err := ectoinject.GetContext[*rule.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	created, err := repo.Create(ctx, &models.Rule{
		Name:         req.Name,
		Description:  req.Description,
		RuleType:     req.RuleType,
		Threshold:    req.Threshold,
		IsBlocking:   req.IsBlocking,
		IsEnabled:    req.IsEnabled,
		Priority:     req.Priority,
		RepositoryID: req.RepositoryID,
		Config:       req.Config,
	})
	if err != nil {
		return err
	}

	ctx, logger, _ := ectoinject.GetContext[ectologger.Logger](ctx)
	if logger != nil {
		logger.WithContext(ctx).WithFields(map[string]any{"id": created.ID}).Info("Created detection rule")
	}

	return c.JSON(http.StatusCreated, created)
}

// UpdateRule updates a detection rule
func UpdateRule(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	req, err := utils.BindRequest[models.UpdateRuleRequest](c)
	if err != nil {
		return err
	}

	ctx, repo, err := ectoinject.GetContext[*rule.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	updated, err := repo.Update(ctx, id, &req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, updated)
}

// DeleteRule deletes a detection rule
func DeleteRule(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	ctx, repo, err := ectoinject.GetContext[*rule.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	if err := repo.Delete(ctx, id); err != nil {
		return err
	}

	return c.NoContent(http.StatusNoContent)
}
