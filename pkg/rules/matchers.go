package rules

import (
	"context"

	"github.com/ahg-archives/bramble/pkg/models"
	"github.com/ahg-archives/bramble/pkg/normalize"
	"github.com/ahg-archives/bramble/pkg/records"
	"github.com/ahg-archives/bramble/pkg/scoring"
)

// Matcher runs one rule type against a probe record and returns every
// candidate that clears the rule's threshold.
type Matcher interface {
	Match(ctx context.Context, probe models.RecordData, rule models.Rule, scope records.Scope) ([]models.Match, error)
}

const defaultMinTitleLength = 5

// Internal thresholds for the combined rule's sub-checks
const (
	combinedTitleFloor      = 0.5
	combinedIdentifierFloor = 0.7
)

// DefaultMatchers returns the matcher registry for every known rule type.
func DefaultMatchers(repo records.Repository, scorer *scoring.Scorer) map[models.RuleType]Matcher {
	title := &TitleMatcher{repo: repo, scorer: scorer}
	fuzzy := &IdentifierFuzzyMatcher{repo: repo, scorer: scorer}

	return map[models.RuleType]Matcher{
		models.RuleTypeTitleSimilarity: title,
		models.RuleTypeIdentifierExact: &IdentifierExactMatcher{repo: repo},
		models.RuleTypeIdentifierFuzzy: fuzzy,
		models.RuleTypeDateCreator:     &DateCreatorMatcher{repo: repo, scorer: scorer},
		models.RuleTypeChecksum:        &ChecksumMatcher{repo: repo},
		models.RuleTypeCombined:        &CombinedMatcher{title: title, identifier: fuzzy},
	}
}

// TitleMatcher compares normalized titles with a configurable algorithm.
type TitleMatcher struct {
	repo   records.Repository
	scorer *scoring.Scorer
}

func (m *TitleMatcher) Match(ctx context.Context, probe models.RecordData, rule models.Rule, scope records.Scope) ([]models.Match, error) {
	minLen := rule.Config.MinTitleLength
	if minLen <= 0 {
		minLen = defaultMinTitleLength
	}
	if probe.Title == "" || len(probe.Title) < minLen {
		return nil, nil
	}

	candidates, err := m.repo.Titles(ctx, scope, probe.ID)
	if err != nil {
		return nil, err
	}

	algorithm := rule.Config.Algorithm
	if algorithm == "" {
		algorithm = models.AlgorithmLevenshtein
	}

	normalized := normalize.Text(probe.Title)
	var matches []models.Match
	for _, c := range candidates {
		candidateNormalized := normalize.Text(c.Title)

		var score float64
		switch algorithm {
		case models.AlgorithmLevenshtein:
			score = m.scorer.Levenshtein(normalized, candidateNormalized)
		case models.AlgorithmJaroWinkler:
			score = m.scorer.JaroWinkler(normalized, candidateNormalized)
		case models.AlgorithmSoundex:
			score = m.scorer.SoundexMatch(normalized, candidateNormalized)
		}

		if score >= rule.Threshold {
			matches = append(matches, models.Match{
				RecordID: c.ID,
				Score:    score,
				Method:   string(models.RuleTypeTitleSimilarity),
				Details:  models.DetectionDetails{MatchedTitle: c.Title},
			})
		}
	}

	return matches, nil
}

// IdentifierExactMatcher flags records sharing an identifier verbatim.
type IdentifierExactMatcher struct {
	repo records.Repository
}

func (m *IdentifierExactMatcher) Match(ctx context.Context, probe models.RecordData, rule models.Rule, scope records.Scope) ([]models.Match, error) {
	if probe.Identifier == "" {
		return nil, nil
	}

	ids, err := m.repo.FindByIdentifier(ctx, probe.Identifier, probe.ID)
	if err != nil {
		return nil, err
	}

	var matches []models.Match
	for _, id := range ids {
		matches = append(matches, models.Match{
			RecordID: id,
			Score:    1.0,
			Method:   string(models.RuleTypeIdentifierExact),
			Details:  models.DetectionDetails{MatchedIdentifier: probe.Identifier},
		})
	}

	return matches, nil
}

// IdentifierFuzzyMatcher compares identifiers stripped of separators with
// Jaro-Winkler, catching renumbered reference codes.
type IdentifierFuzzyMatcher struct {
	repo   records.Repository
	scorer *scoring.Scorer
}

func (m *IdentifierFuzzyMatcher) Match(ctx context.Context, probe models.RecordData, rule models.Rule, scope records.Scope) ([]models.Match, error) {
	if probe.Identifier == "" {
		return nil, nil
	}

	candidates, err := m.repo.Identifiers(ctx, probe.ID)
	if err != nil {
		return nil, err
	}

	normalized := normalize.Identifier(probe.Identifier)
	var matches []models.Match
	for _, c := range candidates {
		score := m.scorer.JaroWinkler(normalized, normalize.Identifier(c.Identifier))
		if score >= rule.Threshold {
			matches = append(matches, models.Match{
				RecordID: c.ID,
				Score:    score,
				Method:   string(models.RuleTypeIdentifierFuzzy),
				Details:  models.DetectionDetails{MatchedIdentifier: c.Identifier},
			})
		}
	}

	return matches, nil
}

// DateCreatorMatcher pairs date range overlap with creator name similarity.
// Overlap is worth a flat 0.5; the creator factor is the similarity of the
// normalized names; the rule scores their average.
type DateCreatorMatcher struct {
	repo   records.Repository
	scorer *scoring.Scorer
}

func (m *DateCreatorMatcher) Match(ctx context.Context, probe models.RecordData, rule models.Rule, scope records.Scope) ([]models.Match, error) {
	if probe.Creator == "" || (probe.StartDate == nil && probe.EndDate == nil) {
		return nil, nil
	}

	events, err := m.repo.CreationEvents(ctx, probe.ID)
	if err != nil {
		return nil, err
	}

	normalizedCreator := normalize.Text(probe.Creator)
	var matches []models.Match
	for _, e := range events {
		if e.Creator == "" {
			continue
		}

		dateScore := 0.0
		overlap := m.scorer.DatesOverlap(probe.StartDate, probe.EndDate, e.StartDate, e.EndDate)
		if overlap {
			dateScore = 0.5
		}

		creatorScore := m.scorer.JaroWinkler(normalizedCreator, normalize.Text(e.Creator))
		combined := (dateScore + creatorScore) / 2

		if combined >= rule.Threshold {
			matches = append(matches, models.Match{
				RecordID: e.ID,
				Score:    combined,
				Method:   string(models.RuleTypeDateCreator),
				Details: models.DetectionDetails{
					MatchedCreator: e.Creator,
					DateOverlap:    overlap,
				},
			})
		}
	}

	return matches, nil
}

// ChecksumMatcher flags records whose attached files share a digest.
type ChecksumMatcher struct {
	repo records.Repository
}

func (m *ChecksumMatcher) Match(ctx context.Context, probe models.RecordData, rule models.Rule, scope records.Scope) ([]models.Match, error) {
	checksum := probe.ChecksumSHA256
	if checksum == "" {
		checksum = probe.ChecksumMD5
	}
	if checksum == "" {
		return nil, nil
	}

	rows, err := m.repo.FindByChecksum(ctx, checksum, probe.ID)
	if err != nil {
		return nil, err
	}

	var matches []models.Match
	for _, row := range rows {
		matches = append(matches, models.Match{
			RecordID: row.RecordID,
			Score:    1.0,
			Method:   string(models.RuleTypeChecksum),
			Details: models.DetectionDetails{
				MatchedChecksum: checksum,
				FileName:        row.FileName,
			},
		})
	}

	return matches, nil
}

// CombinedMatcher runs title and identifier sub-checks with permissive
// internal floors and blends the best factor scores with configured weights.
// The date and creator weight slots participate in the contract but no
// sub-check fills them, so they contribute zero.
type CombinedMatcher struct {
	title      *TitleMatcher
	identifier *IdentifierFuzzyMatcher
}

func (m *CombinedMatcher) Match(ctx context.Context, probe models.RecordData, rule models.Rule, scope records.Scope) ([]models.Match, error) {
	weights := models.DefaultCombinedWeights()
	if rule.Config.Weights != nil {
		weights = *rule.Config.Weights
	}

	titleRule := models.Rule{Threshold: combinedTitleFloor}
	titleMatches, err := m.title.Match(ctx, probe, titleRule, scope)
	if err != nil {
		return nil, err
	}

	idRule := models.Rule{Threshold: combinedIdentifierFloor}
	idMatches, err := m.identifier.Match(ctx, probe, idRule, scope)
	if err != nil {
		return nil, err
	}

	factors := map[int]*models.FactorScores{}
	for _, match := range titleMatches {
		f := factorsFor(factors, match.RecordID)
		if match.Score > f.Title {
			f.Title = match.Score
		}
	}
	for _, match := range idMatches {
		f := factorsFor(factors, match.RecordID)
		if match.Score > f.Identifier {
			f.Identifier = match.Score
		}
	}

	var matches []models.Match
	for recordID, f := range factors {
		weighted := f.Title*weights.Title + f.Identifier*weights.Identifier +
			f.Date*weights.Date + f.Creator*weights.Creator

		if weighted >= rule.Threshold {
			factorCopy := *f
			matches = append(matches, models.Match{
				RecordID: recordID,
				Score:    weighted,
				Method:   string(models.RuleTypeCombined),
				Details:  models.DetectionDetails{Factors: &factorCopy},
			})
		}
	}

	return matches, nil
}

func factorsFor(m map[int]*models.FactorScores, recordID int) *models.FactorScores {
	f, ok := m[recordID]
	if !ok {
		f = &models.FactorScores{}
		m[recordID] = f
	}
	return f
}
