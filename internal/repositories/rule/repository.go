package rule

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/ahg-archives/bramble/pkg/database"
	"github.com/ahg-archives/bramble/pkg/models"
	"github.com/ahg-archives/bramble/pkg/tracing"
)

var ruleColumns = []string{
	"id", "name", "description", "rule_type", "threshold", "is_blocking",
	"is_enabled", "priority", "repository_id", "config", "created_at", "updated_at",
}

// Repository handles detection rule persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new rule repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create creates a new detection rule
func (r *Repository) Create(ctx context.Context, rule *models.Rule) (*models.Rule, error) {
	ctx, span := tracing.StartSpan(ctx, "rule.Repository.Create")
	defer span.End()

	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	rule.CreatedAt = time.Now().UTC()
	rule.UpdatedAt = rule.CreatedAt

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("duplicate_rules")
	sb.Cols(ruleColumns...)
	sb.Values(rule.ID, rule.Name, rule.Description, rule.RuleType, rule.Threshold, rule.IsBlocking,
		rule.IsEnabled, rule.Priority, rule.RepositoryID, rule.Config, rule.CreatedAt, rule.UpdatedAt)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"rule_id": rule.ID}).Error("Failed to create rule")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create rule")
	}

	return rule, nil
}

// Get retrieves a rule by ID
func (r *Repository) Get(ctx context.Context, id string) (*models.Rule, error) {
	ctx, span := tracing.StartSpan(ctx, "rule.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(ruleColumns...)
	sb.From("duplicate_rules")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var rule models.Rule
	if err := r.db.GetContext(ctx, &rule, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("rule %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get rule")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get rule")
	}

	return &rule, nil
}

// List retrieves all rules ordered by priority
func (r *Repository) List(ctx context.Context) ([]models.Rule, error) {
	ctx, span := tracing.StartSpan(ctx, "rule.Repository.List")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(ruleColumns...)
	sb.From("duplicate_rules")
	sb.OrderBy("priority DESC", "created_at ASC")

	query, args := sb.Build()
	var rules []models.Rule
	if err := r.db.SelectContext(ctx, &rules, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list rules")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list rules")
	}

	return rules, nil
}

// GetActive retrieves enabled rules applicable to a repository, ordered by
// priority. Global rules (no repository) always apply.
func (r *Repository) GetActive(ctx context.Context, repositoryID *int) ([]models.Rule, error) {
	ctx, span := tracing.StartSpan(ctx, "rule.Repository.GetActive")
	defer span.End()

	query := `
		SELECT id, name, description, rule_type, threshold, is_blocking, is_enabled, priority, repository_id, config, created_at, updated_at
		FROM duplicate_rules
		WHERE is_enabled = TRUE
		AND (repository_id IS NULL OR repository_id = $1)
		ORDER BY priority DESC, created_at ASC
	`

	var rules []models.Rule
	if err := r.db.SelectContext(ctx, &rules, query, repositoryID); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get active rules")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get active rules")
	}

	return rules, nil
}

// Update applies the non-nil fields of req to an existing rule
func (r *Repository) Update(ctx context.Context, id string, req *models.UpdateRuleRequest) (*models.Rule, error) {
	ctx, span := tracing.StartSpan(ctx, "rule.Repository.Update")
	defer span.End()

	now := time.Now().UTC()
	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("duplicate_rules")

	assignments := []string{sb.Assign("updated_at", now)}
	if req.Name != nil {
		assignments = append(assignments, sb.Assign("name", *req.Name))
	}
	if req.Description != nil {
		assignments = append(assignments, sb.Assign("description", *req.Description))
	}
	if req.Threshold != nil {
		assignments = append(assignments, sb.Assign("threshold", *req.Threshold))
	}
	if req.IsBlocking != nil {
		assignments = append(assignments, sb.Assign("is_blocking", *req.IsBlocking))
	}
	if req.IsEnabled != nil {
		assignments = append(assignments, sb.Assign("is_enabled", *req.IsEnabled))
	}
	if req.Priority != nil {
		assignments = append(assignments, sb.Assign("priority", *req.Priority))
	}
	if req.RepositoryID != nil {
		assignments = append(assignments, sb.Assign("repository_id", *req.RepositoryID))
	}
	if req.Config != nil {
		assignments = append(assignments, sb.Assign("config", *req.Config))
	}
	sb.Set(assignments...)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to update rule")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update rule")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("rule %s not found", id))
	}

	return r.Get(ctx, id)
}

// Delete removes a rule
func (r *Repository) Delete(ctx context.Context, id string) error {
	ctx, span := tracing.StartSpan(ctx, "rule.Repository.Delete")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewDeleteBuilder()
	sb.DeleteFrom("duplicate_rules")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to delete rule")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete rule")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("rule %s not found", id))
	}

	return nil
}
