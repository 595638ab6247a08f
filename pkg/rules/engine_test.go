package rules

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahg-archives/bramble/pkg/models"
	"github.com/ahg-archives/bramble/pkg/records"
	"github.com/ahg-archives/bramble/pkg/scoring"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type fakeCatalog struct {
	titles      []records.TitleRow
	identifiers []records.IdentifierRow
	events      []records.CreationRow
	checksums   []records.ChecksumRow
	summaries   []models.RecordSummary
	summaryErr  error
}

func (f *fakeCatalog) Count(ctx context.Context, scope records.Scope) (int, error) { return 0, nil }
func (f *fakeCatalog) List(ctx context.Context, scope records.Scope, limit, offset int) ([]models.RecordData, error) {
	return nil, nil
}
func (f *fakeCatalog) Get(ctx context.Context, id int) (*models.RecordData, error) { return nil, nil }

func (f *fakeCatalog) Titles(ctx context.Context, scope records.Scope, excludeID int) ([]records.TitleRow, error) {
	var out []records.TitleRow
	for _, t := range f.titles {
		if t.ID != excludeID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeCatalog) FindByIdentifier(ctx context.Context, identifier string, excludeID int) ([]int, error) {
	var out []int
	for _, row := range f.identifiers {
		if row.Identifier == identifier && row.ID != excludeID {
			out = append(out, row.ID)
		}
	}
	return out, nil
}

func (f *fakeCatalog) Identifiers(ctx context.Context, excludeID int) ([]records.IdentifierRow, error) {
	var out []records.IdentifierRow
	for _, row := range f.identifiers {
		if row.ID != excludeID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakeCatalog) CreationEvents(ctx context.Context, excludeID int) ([]records.CreationRow, error) {
	var out []records.CreationRow
	for _, row := range f.events {
		if row.ID != excludeID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakeCatalog) FindByChecksum(ctx context.Context, checksum string, excludeID int) ([]records.ChecksumRow, error) {
	var out []records.ChecksumRow
	for _, row := range f.checksums {
		if row.RecordID != excludeID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakeCatalog) Summaries(ctx context.Context, ids []int) ([]models.RecordSummary, error) {
	if f.summaryErr != nil {
		return nil, f.summaryErr
	}
	var out []models.RecordSummary
	for _, s := range f.summaries {
		for _, id := range ids {
			if s.ID == id {
				out = append(out, s)
			}
		}
	}
	return out, nil
}

type fakeRuleSource struct {
	rules []models.Rule
}

func (f *fakeRuleSource) GetActive(ctx context.Context, repositoryID *int) ([]models.Rule, error) {
	return f.rules, nil
}

type failingMatcher struct{}

func (m *failingMatcher) Match(ctx context.Context, probe models.RecordData, rule models.Rule, scope records.Scope) ([]models.Match, error) {
	return nil, errors.New("boom")
}

func date(y int) *time.Time {
	t := time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestTitleMatcher(t *testing.T) {
	catalog := &fakeCatalog{
		titles: []records.TitleRow{
			{ID: 2, Title: "Smith Family Photographs, 1920"},
			{ID: 3, Title: "Annual Report 1998"},
		},
	}
	matcher := &TitleMatcher{repo: catalog, scorer: scoring.NewScorer()}

	probe := models.RecordData{ID: 1, Title: "smith family PHOTOGRAPHS 1920"}
	rule := models.Rule{RuleType: models.RuleTypeTitleSimilarity, Threshold: 0.8}

	matches, err := matcher.Match(context.Background(), probe, rule, records.Scope{})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, 2, matches[0].RecordID)
	assert.Equal(t, 1.0, matches[0].Score)
	assert.Equal(t, "Smith Family Photographs, 1920", matches[0].Details.MatchedTitle)
}

func TestTitleMatcherSkipsShortTitles(t *testing.T) {
	catalog := &fakeCatalog{titles: []records.TitleRow{{ID: 2, Title: "Maps"}}}
	matcher := &TitleMatcher{repo: catalog, scorer: scoring.NewScorer()}

	probe := models.RecordData{ID: 1, Title: "Maps"}
	rule := models.Rule{RuleType: models.RuleTypeTitleSimilarity, Threshold: 0.5}

	matches, err := matcher.Match(context.Background(), probe, rule, records.Scope{})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestTitleMatcherSoundex(t *testing.T) {
	catalog := &fakeCatalog{titles: []records.TitleRow{{ID: 2, Title: "Smyth papers"}}}
	matcher := &TitleMatcher{repo: catalog, scorer: scoring.NewScorer()}

	probe := models.RecordData{ID: 1, Title: "Smith papers"}
	rule := models.Rule{
		RuleType:  models.RuleTypeTitleSimilarity,
		Threshold: 1.0,
		Config:    models.RuleConfig{Algorithm: models.AlgorithmSoundex},
	}

	matches, err := matcher.Match(context.Background(), probe, rule, records.Scope{})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, 1.0, matches[0].Score)
}

func TestIdentifierExactMatcher(t *testing.T) {
	catalog := &fakeCatalog{
		identifiers: []records.IdentifierRow{
			{ID: 2, Identifier: "ACC-2021/034"},
			{ID: 3, Identifier: "ACC-2021/035"},
		},
	}
	matcher := &IdentifierExactMatcher{repo: catalog}

	probe := models.RecordData{ID: 1, Identifier: "ACC-2021/034"}
	rule := models.Rule{RuleType: models.RuleTypeIdentifierExact, Threshold: 1.0}

	matches, err := matcher.Match(context.Background(), probe, rule, records.Scope{})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, 2, matches[0].RecordID)
	assert.Equal(t, 1.0, matches[0].Score)
}

func TestIdentifierFuzzyMatcherIgnoresSeparators(t *testing.T) {
	catalog := &fakeCatalog{
		identifiers: []records.IdentifierRow{{ID: 2, Identifier: "ACC 2021.034"}},
	}
	matcher := &IdentifierFuzzyMatcher{repo: catalog, scorer: scoring.NewScorer()}

	probe := models.RecordData{ID: 1, Identifier: "ACC-2021/034"}
	rule := models.Rule{RuleType: models.RuleTypeIdentifierFuzzy, Threshold: 0.9}

	matches, err := matcher.Match(context.Background(), probe, rule, records.Scope{})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, 1.0, matches[0].Score)
}

func TestDateCreatorMatcher(t *testing.T) {
	catalog := &fakeCatalog{
		events: []records.CreationRow{
			{ID: 2, Creator: "John Smith", StartDate: date(1920), EndDate: date(1930)},
			{ID: 3, Creator: "Jane Doe", StartDate: date(1800), EndDate: date(1810)},
		},
	}
	matcher := &DateCreatorMatcher{repo: catalog, scorer: scoring.NewScorer()}

	probe := models.RecordData{
		ID:        1,
		Creator:   "John Smith",
		StartDate: date(1925),
		EndDate:   date(1935),
	}
	rule := models.Rule{RuleType: models.RuleTypeDateCreator, Threshold: 0.7}

	matches, err := matcher.Match(context.Background(), probe, rule, records.Scope{})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, 2, matches[0].RecordID)
	// date overlap 0.5 + identical creator 1.0, averaged
	assert.InDelta(t, 0.75, matches[0].Score, 1e-12)
	assert.True(t, matches[0].Details.DateOverlap)
	assert.Equal(t, "John Smith", matches[0].Details.MatchedCreator)
}

func TestDateCreatorMatcherRequiresCreatorAndDates(t *testing.T) {
	matcher := &DateCreatorMatcher{repo: &fakeCatalog{}, scorer: scoring.NewScorer()}

	probe := models.RecordData{ID: 1, Creator: "John Smith"}
	rule := models.Rule{Threshold: 0.1}

	matches, err := matcher.Match(context.Background(), probe, rule, records.Scope{})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestDateCreatorMatcherDatelessEventGetsNoDateCredit(t *testing.T) {
	catalog := &fakeCatalog{
		events: []records.CreationRow{{ID: 2, Creator: "John Smith"}},
	}
	matcher := &DateCreatorMatcher{repo: catalog, scorer: scoring.NewScorer()}

	probe := models.RecordData{
		ID:        1,
		Creator:   "John Smith",
		StartDate: date(1925),
		EndDate:   date(1935),
	}
	rule := models.Rule{RuleType: models.RuleTypeDateCreator, Threshold: 0.7}

	// identical creator alone averages to 0.5; without date evidence the
	// pair stays below the threshold
	matches, err := matcher.Match(context.Background(), probe, rule, records.Scope{})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestChecksumMatcher(t *testing.T) {
	catalog := &fakeCatalog{
		checksums: []records.ChecksumRow{
			{RecordID: 2, AssetID: 77, FileName: "scan001.tiff"},
		},
	}
	matcher := &ChecksumMatcher{repo: catalog}

	probe := models.RecordData{ID: 1, ChecksumMD5: "d41d8cd98f00b204e9800998ecf8427e"}
	rule := models.Rule{RuleType: models.RuleTypeChecksum, Threshold: 1.0}

	matches, err := matcher.Match(context.Background(), probe, rule, records.Scope{})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, 2, matches[0].RecordID)
	assert.Equal(t, "scan001.tiff", matches[0].Details.FileName)
}

func TestCombinedMatcher(t *testing.T) {
	catalog := &fakeCatalog{
		titles:      []records.TitleRow{{ID: 2, Title: "Harbour Works Ledger"}},
		identifiers: []records.IdentifierRow{{ID: 2, Identifier: "HW-44"}},
	}
	scorer := scoring.NewScorer()
	matcher := &CombinedMatcher{
		title:      &TitleMatcher{repo: catalog, scorer: scorer},
		identifier: &IdentifierFuzzyMatcher{repo: catalog, scorer: scorer},
	}

	probe := models.RecordData{ID: 1, Title: "Harbour Works Ledger", Identifier: "HW/44"}
	rule := models.Rule{RuleType: models.RuleTypeCombined, Threshold: 0.6}

	matches, err := matcher.Match(context.Background(), probe, rule, records.Scope{})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	// title 1.0 * 0.4 + identifier 1.0 * 0.3; date and creator factors stay zero
	assert.InDelta(t, 0.7, matches[0].Score, 1e-12)
	require.NotNil(t, matches[0].Details.Factors)
	assert.Equal(t, 1.0, matches[0].Details.Factors.Title)
	assert.Equal(t, 1.0, matches[0].Details.Factors.Identifier)
	assert.Equal(t, 0.0, matches[0].Details.Factors.Date)
	assert.Equal(t, 0.0, matches[0].Details.Factors.Creator)
}

func TestEngineAggregatesAcrossRules(t *testing.T) {
	catalog := &fakeCatalog{
		titles:      []records.TitleRow{{ID: 2, Title: "Dockyard Correspondence"}},
		identifiers: []records.IdentifierRow{{ID: 2, Identifier: "DC-01"}},
	}
	source := &fakeRuleSource{rules: []models.Rule{
		{ID: "r1", RuleType: models.RuleTypeTitleSimilarity, Threshold: 0.8, IsEnabled: true},
		{ID: "r2", RuleType: models.RuleTypeIdentifierExact, Threshold: 1.0, IsEnabled: true, IsBlocking: true},
	}}

	engine := NewEngine(testLogger(), source, catalog, DefaultMatchers(catalog, scoring.NewScorer()))

	probe := models.RecordData{ID: 1, Title: "Dockyard Correspondence", Identifier: "DC-01"}
	candidates, err := engine.CheckRecord(context.Background(), probe, records.Scope{})
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	c := candidates[0]
	assert.Equal(t, 2, c.RecordID)
	assert.Equal(t, []string{"title_similarity", "identifier_exact"}, c.Methods)
	assert.Equal(t, 1.0, c.MaxScore)
	assert.InDelta(t, 1.0, c.CombinedScore, 1e-12)
	assert.True(t, c.Blocking)
	assert.Equal(t, "Dockyard Correspondence", c.Details.MatchedTitle)
	assert.Equal(t, "DC-01", c.Details.MatchedIdentifier)
}

func TestEngineSkipsFailingAndUnknownRules(t *testing.T) {
	catalog := &fakeCatalog{titles: []records.TitleRow{{ID: 2, Title: "Estate Papers Volume One"}}}
	source := &fakeRuleSource{rules: []models.Rule{
		{ID: "r1", RuleType: models.RuleTypeChecksum, Threshold: 1.0},
		{ID: "r2", RuleType: models.RuleType("phrenology"), Threshold: 0.5},
		{ID: "r3", RuleType: models.RuleTypeTitleSimilarity, Threshold: 0.9},
	}}

	matchers := DefaultMatchers(catalog, scoring.NewScorer())
	matchers[models.RuleTypeChecksum] = &failingMatcher{}

	engine := NewEngine(testLogger(), source, catalog, matchers)

	probe := models.RecordData{ID: 1, Title: "Estate Papers Volume One"}
	candidates, err := engine.CheckRecord(context.Background(), probe, records.Scope{})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, []string{"title_similarity"}, candidates[0].Methods)
}

func TestEngineSortsByMaxScore(t *testing.T) {
	catalog := &fakeCatalog{
		titles: []records.TitleRow{
			{ID: 2, Title: "Parish Register 1850"},
			{ID: 3, Title: "Parish Register 1851"},
		},
	}
	source := &fakeRuleSource{rules: []models.Rule{
		{ID: "r1", RuleType: models.RuleTypeTitleSimilarity, Threshold: 0.8},
	}}

	engine := NewEngine(testLogger(), source, catalog, DefaultMatchers(catalog, scoring.NewScorer()))

	probe := models.RecordData{ID: 1, Title: "Parish Register 1850"}
	candidates, err := engine.CheckRecord(context.Background(), probe, records.Scope{})
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, 2, candidates[0].RecordID)
	assert.GreaterOrEqual(t, candidates[0].MaxScore, candidates[1].MaxScore)
}

func TestEngineEnrichesCandidatesWithSummaries(t *testing.T) {
	catalog := &fakeCatalog{
		titles: []records.TitleRow{{ID: 2, Title: "Dockyard Correspondence"}},
		summaries: []models.RecordSummary{
			{ID: 2, Title: "Dockyard Correspondence", Identifier: "DC-01", Slug: "dockyard-correspondence"},
		},
	}
	source := &fakeRuleSource{rules: []models.Rule{
		{ID: "r1", RuleType: models.RuleTypeTitleSimilarity, Threshold: 0.8},
	}}

	engine := NewEngine(testLogger(), source, catalog, DefaultMatchers(catalog, scoring.NewScorer()))

	probe := models.RecordData{ID: 1, Title: "Dockyard Correspondence"}
	candidates, err := engine.CheckRecord(context.Background(), probe, records.Scope{})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "Dockyard Correspondence", candidates[0].Record.Title)
	assert.Equal(t, "DC-01", candidates[0].Record.Identifier)
	assert.Equal(t, "dockyard-correspondence", candidates[0].Record.Slug)
}

func TestEngineSummaryFailureDegradesToBareIDs(t *testing.T) {
	catalog := &fakeCatalog{
		titles:     []records.TitleRow{{ID: 2, Title: "Dockyard Correspondence"}},
		summaryErr: errors.New("catalog unavailable"),
	}
	source := &fakeRuleSource{rules: []models.Rule{
		{ID: "r1", RuleType: models.RuleTypeTitleSimilarity, Threshold: 0.8},
	}}

	engine := NewEngine(testLogger(), source, catalog, DefaultMatchers(catalog, scoring.NewScorer()))

	probe := models.RecordData{ID: 1, Title: "Dockyard Correspondence"}
	candidates, err := engine.CheckRecord(context.Background(), probe, records.Scope{})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, 2, candidates[0].RecordID)
	assert.Empty(t, candidates[0].Record.Title)
}
