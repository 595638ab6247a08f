package realtime

import (
	"context"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahg-archives/bramble/pkg/models"
	"github.com/ahg-archives/bramble/pkg/records"
	"github.com/ahg-archives/bramble/pkg/scoring"
)

type fakeSource struct {
	titles       []records.TitleRow
	summaries    []models.RecordSummary
	limitSeen    int
	excludeSeen  int
	summaryCalls int
}

func (f *fakeSource) TitleCandidates(ctx context.Context, scope records.Scope, excludeID, limit int) ([]records.TitleRow, error) {
	f.excludeSeen = excludeID
	f.limitSeen = limit
	return f.titles, nil
}

func (f *fakeSource) Summaries(ctx context.Context, ids []int) ([]models.RecordSummary, error) {
	f.summaryCalls++
	return f.summaries, nil
}

func newTestChecker(source *fakeSource) *Checker {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	return NewChecker(logger, source, scoring.NewScorer(), DefaultConfig())
}

func TestCheckShortQueryReturnsNothing(t *testing.T) {
	source := &fakeSource{titles: []records.TitleRow{{ID: 2, Title: "Maps"}}}
	checker := newTestChecker(source)

	matches, err := checker.Check(context.Background(), "Map", records.Scope{}, 0)
	require.NoError(t, err)
	assert.Empty(t, matches)
	assert.Equal(t, 0, source.summaryCalls)
}

func TestCheckFindsCloseTitles(t *testing.T) {
	source := &fakeSource{
		titles: []records.TitleRow{
			{ID: 2, Title: "Smith Family Photographs, 1920"},
			{ID: 3, Title: "Minutes of the Harbour Board"},
		},
		summaries: []models.RecordSummary{
			{ID: 2, Title: "Smith Family Photographs, 1920", Slug: "smith-family-photographs-1920"},
		},
	}
	checker := newTestChecker(source)

	matches, err := checker.Check(context.Background(), "Smith Family Photographs 1920", records.Scope{}, 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, 2, matches[0].RecordID)
	assert.Equal(t, 1.0, matches[0].Score)
	assert.Equal(t, "smith-family-photographs-1920", matches[0].Record.Slug)
	assert.Equal(t, 5, source.excludeSeen)
	assert.Equal(t, 1000, source.limitSeen)
}

func TestCheckSortsAndCaps(t *testing.T) {
	source := &fakeSource{
		titles: []records.TitleRow{
			{ID: 2, Title: "Parish Register 1850a"},
			{ID: 3, Title: "Parish Register 1850"},
			{ID: 4, Title: "Parish Register 1850ab"},
			{ID: 5, Title: "Parish Register 1850abc"},
			{ID: 6, Title: "Parish Register 1850abcd"},
			{ID: 7, Title: "Parish Register 1850abcde"},
		},
	}
	checker := newTestChecker(source)

	matches, err := checker.Check(context.Background(), "Parish Register 1850", records.Scope{}, 0)
	require.NoError(t, err)
	require.Len(t, matches, 5)
	assert.Equal(t, 3, matches[0].RecordID)
	for i := 1; i < len(matches); i++ {
		assert.GreaterOrEqual(t, matches[i-1].Score, matches[i].Score)
	}
}

func TestCheckFiltersBelowMinScore(t *testing.T) {
	source := &fakeSource{
		titles: []records.TitleRow{{ID: 2, Title: "Completely Unrelated Shipping Manifest"}},
	}
	checker := newTestChecker(source)

	matches, err := checker.Check(context.Background(), "Parish Register 1850", records.Scope{}, 0)
	require.NoError(t, err)
	assert.Empty(t, matches)
}
