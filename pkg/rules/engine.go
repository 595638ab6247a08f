// Package rules evaluates duplicate detection rules against catalog records.
package rules

import (
	"context"
	"sort"

	"github.com/Gobusters/ectologger"

	"github.com/ahg-archives/bramble/pkg/models"
	"github.com/ahg-archives/bramble/pkg/records"
	"github.com/ahg-archives/bramble/pkg/tracing"
)

// RuleSource provides the enabled rules for a scope.
type RuleSource interface {
	GetActive(ctx context.Context, repositoryID *int) ([]models.Rule, error)
}

// SummarySource loads display summaries for flagged candidates.
type SummarySource interface {
	Summaries(ctx context.Context, ids []int) ([]models.RecordSummary, error)
}

// Candidate is the aggregate verdict for one record across every rule that
// flagged it against the probe.
type Candidate struct {
	RecordID      int                     `json:"record_id"`
	Scores        []float64               `json:"scores"`
	Methods       []string                `json:"methods"`
	CombinedScore float64                 `json:"combined_score"` // mean of per-rule scores
	MaxScore      float64                 `json:"max_score"`
	Blocking      bool                    `json:"blocking"`
	Details       models.DetectionDetails `json:"details"`
	Record        models.RecordSummary    `json:"record"`
}

// Engine runs every active rule against a probe record and aggregates the
// per-rule matches per candidate.
type Engine struct {
	logger    ectologger.Logger
	source    RuleSource
	summaries SummarySource
	matchers  map[models.RuleType]Matcher
}

// NewEngine creates a rule engine with the given matcher registry.
func NewEngine(logger ectologger.Logger, source RuleSource, summaries SummarySource, matchers map[models.RuleType]Matcher) *Engine {
	return &Engine{
		logger:    logger,
		source:    source,
		summaries: summaries,
		matchers:  matchers,
	}
}

// CheckRecord evaluates every active rule for the probe's scope and returns
// candidates sorted by their best score. A failing or unknown rule is logged
// and skipped; the remaining rules still run.
func (e *Engine) CheckRecord(ctx context.Context, probe models.RecordData, scope records.Scope) ([]Candidate, error) {
	ctx, span := tracing.StartSpan(ctx, "rules.Engine.CheckRecord")
	defer span.End()

	log := e.logger.WithContext(ctx).WithFields(map[string]any{"record_id": probe.ID})

	activeRules, err := e.source.GetActive(ctx, scope.RepositoryID)
	if err != nil {
		return nil, err
	}

	aggregates := map[int]*Candidate{}
	for _, rule := range activeRules {
		matcher, ok := e.matchers[rule.RuleType]
		if !ok {
			log.WithFields(map[string]any{"rule_id": rule.ID, "rule_type": rule.RuleType}).Warn("No matcher registered for rule type, skipping")
			continue
		}

		matches, err := matcher.Match(ctx, probe, rule, scope)
		if err != nil {
			log.WithError(err).WithFields(map[string]any{"rule_id": rule.ID, "rule_type": rule.RuleType}).Error("Rule evaluation failed, skipping")
			continue
		}

		for _, match := range matches {
			agg, ok := aggregates[match.RecordID]
			if !ok {
				agg = &Candidate{RecordID: match.RecordID}
				aggregates[match.RecordID] = agg
			}

			agg.Scores = append(agg.Scores, match.Score)
			agg.Methods = append(agg.Methods, string(rule.RuleType))
			mergeDetails(&agg.Details, match.Details)

			if rule.IsBlocking && match.Score >= rule.Threshold {
				agg.Blocking = true
			}
		}
	}

	candidates := make([]Candidate, 0, len(aggregates))
	for _, agg := range aggregates {
		var sum, maxScore float64
		for _, s := range agg.Scores {
			sum += s
			if s > maxScore {
				maxScore = s
			}
		}
		agg.CombinedScore = sum / float64(len(agg.Scores))
		agg.MaxScore = maxScore
		agg.Details.Methods = agg.Methods
		agg.Details.Scores = agg.Scores
		candidates = append(candidates, *agg)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].MaxScore > candidates[j].MaxScore
	})

	e.enrich(ctx, candidates)

	return candidates, nil
}

// enrich attaches display summaries to the candidates with one batched
// lookup. A failed lookup degrades to bare ids rather than failing the check.
func (e *Engine) enrich(ctx context.Context, candidates []Candidate) {
	if e.summaries == nil || len(candidates) == 0 {
		return
	}

	ids := make([]int, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.RecordID)
	}

	summaries, err := e.summaries.Summaries(ctx, ids)
	if err != nil {
		e.logger.WithContext(ctx).WithError(err).Warn("Failed to load record summaries for duplicate candidates")
		return
	}

	byID := make(map[int]models.RecordSummary, len(summaries))
	for _, s := range summaries {
		byID[s.ID] = s
	}
	for i := range candidates {
		if s, ok := byID[candidates[i].RecordID]; ok {
			candidates[i].Record = s
		}
	}
}

// mergeDetails folds one rule's evidence into the candidate's aggregate,
// keeping the first value seen for each field.
func mergeDetails(dst *models.DetectionDetails, src models.DetectionDetails) {
	if dst.MatchedTitle == "" {
		dst.MatchedTitle = src.MatchedTitle
	}
	if dst.MatchedIdentifier == "" {
		dst.MatchedIdentifier = src.MatchedIdentifier
	}
	if dst.MatchedCreator == "" {
		dst.MatchedCreator = src.MatchedCreator
	}
	if dst.MatchedChecksum == "" {
		dst.MatchedChecksum = src.MatchedChecksum
	}
	if dst.FileName == "" {
		dst.FileName = src.FileName
	}
	if src.DateOverlap {
		dst.DateOverlap = true
	}
	if dst.Factors == nil && src.Factors != nil {
		factors := *src.Factors
		dst.Factors = &factors
	}
}
