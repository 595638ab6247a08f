package realtime

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/Gobusters/ectologger"

	"github.com/ahg-archives/bramble/pkg/models"
	"github.com/ahg-archives/bramble/pkg/normalize"
	"github.com/ahg-archives/bramble/pkg/records"
	"github.com/ahg-archives/bramble/pkg/scoring"
	"github.com/ahg-archives/bramble/pkg/tracing"
)

// CandidateSource is the slice of the catalog the checker needs
type CandidateSource interface {
	TitleCandidates(ctx context.Context, scope records.Scope, excludeID, limit int) ([]records.TitleRow, error)
	Summaries(ctx context.Context, ids []int) ([]models.RecordSummary, error)
}

type Config struct {
	MinQueryLength int
	CandidateLimit int
	MinScore       float64
	MaxResults     int
}

func DefaultConfig() Config {
	return Config{
		MinQueryLength: 5,
		CandidateLimit: 1000,
		MinScore:       0.75,
		MaxResults:     5,
	}
}

// Checker answers as-you-type duplicate lookups against catalog titles.
// It is bounded on purpose: one capped candidate query, one similarity
// pass, no rule evaluation.
type Checker struct {
	logger ectologger.Logger
	source CandidateSource
	scorer *scoring.Scorer
	cfg    Config
}

func NewChecker(logger ectologger.Logger, source CandidateSource, scorer *scoring.Scorer, cfg Config) *Checker {
	if cfg.MinQueryLength <= 0 {
		cfg.MinQueryLength = 5
	}
	if cfg.CandidateLimit <= 0 {
		cfg.CandidateLimit = 1000
	}
	if cfg.MinScore <= 0 {
		cfg.MinScore = 0.75
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 5
	}
	return &Checker{
		logger: logger,
		source: source,
		scorer: scorer,
		cfg:    cfg,
	}
}

// Check scores the query title against existing catalog titles and returns
// the strongest matches. Queries shorter than the configured minimum return
// no matches rather than an error.
func (c *Checker) Check(ctx context.Context, title string, scope records.Scope, excludeID int) ([]models.RealtimeMatch, error) {
	ctx, span := tracing.StartSpan(ctx, "realtime.Checker.Check")
	defer span.End()

	title = strings.TrimSpace(title)
	if len(title) < c.cfg.MinQueryLength {
		return []models.RealtimeMatch{}, nil
	}

	candidates, err := c.source.TitleCandidates(ctx, scope, excludeID, c.cfg.CandidateLimit)
	if err != nil {
		return nil, err
	}

	normalized := normalize.Text(title)
	matches := make([]models.RealtimeMatch, 0, c.cfg.MaxResults)
	for _, candidate := range candidates {
		score := c.scorer.Levenshtein(normalized, normalize.Text(candidate.Title))
		if score < c.cfg.MinScore {
			continue
		}
		matches = append(matches, models.RealtimeMatch{
			Match: models.Match{
				RecordID: candidate.ID,
				Score:    round4(score),
				Method:   string(models.RuleTypeTitleSimilarity),
				Details:  models.DetectionDetails{MatchedTitle: candidate.Title},
			},
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > c.cfg.MaxResults {
		matches = matches[:c.cfg.MaxResults]
	}
	if len(matches) == 0 {
		return matches, nil
	}

	ids := make([]int, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.RecordID)
	}

	summaries, err := c.source.Summaries(ctx, ids)
	if err != nil {
		c.logger.WithContext(ctx).WithError(err).Warn("Failed to load record summaries for realtime matches")
		return matches, nil
	}

	byID := make(map[int]models.RecordSummary, len(summaries))
	for _, s := range summaries {
		byID[s.ID] = s
	}
	for i := range matches {
		if s, ok := byID[matches[i].RecordID]; ok {
			matches[i].Record = s
		}
	}

	return matches, nil
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
