package scoring

import (
	"context"
	"errors"
	"testing"

	"github.com/spboyer/qbatch/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedScorer struct {
	results []string
	errs    []error
	calls   int
	prompts []string
}

func (s *scriptedScorer) Score(ctx context.Context, prompt string) (string, error) {
	i := s.calls
	s.calls++
	s.prompts = append(s.prompts, prompt)
	var result string
	if i < len(s.results) {
		result = s.results[i]
	}
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return result, err
}

func scorableEntry(ordinal int) *models.BatchEntry {
	return &models.BatchEntry{
		Ordinal:        ordinal,
		Question:       "公司地址在哪裡？",
		ExpectedAnswer: "台北市信義區",
		Best: &models.AnswerRecord{
			Marker:   "KnowledgeBase",
			Priority: 1,
			Answer:   "我們位於台北市信義區。",
		},
	}
}

func TestShouldRetryVerdict(t *testing.T) {
	tests := []struct {
		result string
		retry  bool
	}{
		{"", true},
		{"   ", true},
		{"[45%]：[不符合預期]：回答離題", true},
		{"[85%]：[符合預期]：回答正確", false},
		{"[59%]：[符合預期]：勉強", true},
		{"[60%]：[符合預期]：及格", false},
		{"verdict without a score", false},
		{"[100%]：[符合預期]：完全正確", false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.retry, ShouldRetryVerdict(tc.result), "result %q", tc.result)
	}
}

func TestQueue_AddGates(t *testing.T) {
	q := NewQueue(&scriptedScorer{}, "p", 1)

	assert.False(t, q.Add(nil))
	assert.False(t, q.Add(&models.BatchEntry{}), "no best answer")

	noAnswer := scorableEntry(1)
	noAnswer.Best.Marker = "no answer"
	assert.False(t, q.Add(noAnswer), "fallback markers are not scored")

	noExpected := scorableEntry(2)
	noExpected.ExpectedAnswer = "  "
	assert.False(t, q.Add(noExpected))

	assert.True(t, q.Add(scorableEntry(3)))
}

func TestQueue_DrainSequentialFIFO(t *testing.T) {
	scorer := &scriptedScorer{results: []string{"[90%]：[符合預期]：ok", "[80%]：[符合預期]：ok"}}
	q := NewQueue(scorer, "Q=$使用者問句$ E=$預期答案$ A=$answer$", 0)

	first := scorableEntry(1)
	second := scorableEntry(2)
	second.Question = "營業時間？"
	require.True(t, q.Add(first))
	require.True(t, q.Add(second))

	require.NoError(t, q.Drain(context.Background()))

	assert.Equal(t, 2, scorer.calls)
	assert.Equal(t, "[90%]：[符合預期]：ok", first.ScoreResult)
	assert.Equal(t, "[80%]：[符合預期]：ok", second.ScoreResult)
	assert.Contains(t, scorer.prompts[0], "Q=公司地址在哪裡？")
	assert.Contains(t, scorer.prompts[1], "Q=營業時間？")
	assert.Contains(t, scorer.prompts[0], "E=台北市信義區")
	assert.Contains(t, scorer.prompts[0], "A=我們位於台北市信義區。")
}

func TestQueue_RetriesWeakVerdicts(t *testing.T) {
	scorer := &scriptedScorer{results: []string{
		"[45%]：[不符合預期]：離題",
		"",
		"[88%]：[符合預期]：正確",
	}}
	q := NewQueue(scorer, "p", 3) // capped to 3 attempts total

	entry := scorableEntry(1)
	require.True(t, q.Add(entry))
	require.NoError(t, q.Drain(context.Background()))

	assert.Equal(t, 3, scorer.calls)
	assert.Equal(t, "[88%]：[符合預期]：正確", entry.ScoreResult)
	assert.Empty(t, entry.ScoreError)
}

func TestQueue_LastAttemptStands(t *testing.T) {
	scorer := &scriptedScorer{results: []string{
		"[10%]：[不符合預期]：a",
		"[20%]：[不符合預期]：b",
	}}
	q := NewQueue(scorer, "p", 1)

	entry := scorableEntry(1)
	require.True(t, q.Add(entry))
	require.NoError(t, q.Drain(context.Background()))

	assert.Equal(t, 2, scorer.calls)
	assert.Equal(t, "[20%]：[不符合預期]：b", entry.ScoreResult, "final verdict accepted even when weak")
}

func TestQueue_JudgeErrorRecorded(t *testing.T) {
	scorer := &scriptedScorer{errs: []error{errors.New("503")}}
	q := NewQueue(scorer, "p", 0)

	entry := scorableEntry(1)
	require.True(t, q.Add(entry))
	require.NoError(t, q.Drain(context.Background()))

	assert.Equal(t, "503", entry.ScoreError)
	assert.Empty(t, entry.ScoreResult)
}

func TestQueue_NilQueueIsDisabled(t *testing.T) {
	var q *Queue
	assert.False(t, q.Add(scorableEntry(1)))
	assert.NoError(t, q.Drain(context.Background()))
}
