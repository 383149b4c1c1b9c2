package capture

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intakeline/internal/domain"
)

func questions() []domain.Question {
	return []domain.Question{
		{ID: "title", Prompt: "Role title", Kind: domain.KindShortText, Category: "role", Required: true, Order: 1},
		{ID: "headcount", Prompt: "Headcount", Kind: domain.KindNumeric, Category: "role", Required: true, Order: 2},
		{ID: "start", Prompt: "Start date", Kind: domain.KindDate, Category: "timeline", Order: 3},
		{ID: "level", Prompt: "Level", Kind: domain.KindSingleSelect, Category: "role", Options: []string{"junior", "senior"}, Order: 4},
		{ID: "stack", Prompt: "Stack", Kind: domain.KindMultiSelect, Category: "skills", Options: []string{"go", "sql", "k8s"}, Required: true, Order: 5},
	}
}

func TestCaptureNormalizesByKind(t *testing.T) {
	qs := questions()

	a, err := Capture(qs, "title", "  Staff Engineer ")
	require.NoError(t, err)
	assert.Equal(t, "Staff Engineer", a.Text)

	a, err = Capture(qs, "headcount", "3")
	require.NoError(t, err)
	require.NotNil(t, a.Number)
	assert.Equal(t, 3.0, *a.Number)

	a, err = Capture(qs, "headcount", json.Number("2.5"))
	require.NoError(t, err)
	assert.Equal(t, 2.5, *a.Number)

	a, err = Capture(qs, "start", "2025-03-01T10:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, "2025-03-01", a.Date)

	a, err = Capture(qs, "level", "senior")
	require.NoError(t, err)
	assert.Equal(t, "senior", a.Choice)

	a, err = Capture(qs, "stack", []any{"go", "sql", "go"})
	require.NoError(t, err)
	assert.Equal(t, []string{"go", "sql"}, a.Choices)
}

func TestCaptureRejectsInvalidValues(t *testing.T) {
	qs := questions()
	cases := []struct {
		qid string
		raw any
	}{
		{"missing", "x"},
		{"headcount", "many"},
		{"headcount", math.Inf(1)},
		{"start", "2025-02-30"},
		{"start", 20250101},
		{"level", "principal"},
		{"stack", []any{"go", "rust"}},
		{"stack", []any{1}},
		{"stack", "go"},
		{"title", 12},
	}
	for _, tc := range cases {
		_, err := Capture(qs, tc.qid, tc.raw)
		var fe *FieldError
		require.ErrorAs(t, err, &fe, "%s=%v", tc.qid, tc.raw)
		assert.Equal(t, tc.qid, fe.QuestionID)
	}
}

func TestCaptureNilClearsAnswer(t *testing.T) {
	a, err := Capture(questions(), "title", nil)
	require.NoError(t, err)
	assert.True(t, a.IsEmpty())
}

func TestCaptureBatchKeepsValidEntries(t *testing.T) {
	accepted, errs := CaptureBatch(questions(), map[string]any{
		"title":     "Engineer",
		"headcount": "lots",
		"level":     "junior",
	})
	assert.Len(t, accepted, 2)
	assert.Contains(t, accepted, "title")
	assert.Contains(t, accepted, "level")
	assert.Len(t, errs, 1)
	assert.Contains(t, errs, "headcount")
}

func TestCompletenessTracksRequiredAnswers(t *testing.T) {
	qs := questions()
	responses := map[string]domain.Answer{}
	assert.False(t, IsComplete(qs, responses))

	missing := Missing(qs, responses)
	require.Len(t, missing, 3)
	assert.Equal(t, "title", missing[0].ID)
	assert.Equal(t, "stack", missing[2].ID)

	responses["title"] = domain.TextAnswer(domain.KindShortText, "Engineer")
	responses["headcount"] = domain.NumberAnswer(0)
	responses["stack"] = domain.ChoicesAnswer([]string{})
	assert.False(t, IsComplete(qs, responses))

	responses["stack"] = domain.ChoicesAnswer([]string{"go"})
	assert.True(t, IsComplete(qs, responses))

	responses["title"] = domain.TextAnswer(domain.KindShortText, "   ")
	assert.False(t, IsComplete(qs, responses))
}
