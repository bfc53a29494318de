package pipeline

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/sectiongen/internal/doctree"
	"github.com/dgallion1/sectiongen/internal/llm"
	"github.com/dgallion1/sectiongen/internal/validate"
)

var section = doctree.Section{Index: 4, Title: "Cable trays", Body: "Trays run along the east wall.", HierarchyPath: "Plant>Electrical"}

func newTestWorker(client llm.Client, kind validate.Kind, sleeps *sleepLog) *Worker {
	w := NewWorker(WorkerOptions{
		Client:    client,
		Renderer:  titleRenderer{},
		Validator: validate.New(kind, 50),
		Policy:    DefaultPolicy(),
		Log:       quietLog,
	})
	w.sleep = sleeps.sleep
	return w
}

func TestAttempt_RateLimitedTwiceThenSucceeds(t *testing.T) {
	sleeps := &sleepLog{}
	client := newScripted(failure(llm.ClassRateLimit), failure(llm.ClassRateLimit), reply{text: longText})
	w := newTestWorker(client, validate.KindText, sleeps)

	res, err := w.Attempt(context.Background(), section)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 3, res.Attempts)
	assert.Empty(t, res.ErrorMessage)
	assert.Equal(t, strings.TrimSpace(longText), res.Content)
	require.Len(t, sleeps.delays, 2)
	for _, d := range sleeps.delays {
		assert.GreaterOrEqual(t, d, 30*time.Second, "rate limits back off at least RateLimitDelay")
	}
}

func TestAttempt_TimeoutExhaustsToFallback(t *testing.T) {
	sleeps := &sleepLog{}
	client := newScripted(failure(llm.ClassTimeout))
	w := newTestWorker(client, validate.KindSVG, sleeps)

	res, err := w.Attempt(context.Background(), section)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 3, res.Attempts)
	assert.Contains(t, res.ErrorMessage, "timeout")
	assert.Contains(t, res.Content, "Cable trays")
	assert.Contains(t, res.Content, validate.FailedMarker)
	assert.Equal(t, 3, client.Calls())
	assert.Len(t, sleeps.delays, 2, "no sleep after the last attempt")
}

func TestAttempt_RepairsMissingViewBox(t *testing.T) {
	client := newScripted(reply{text: "```svg\n<svg xmlns=\"http://www.w3.org/2000/svg\" width=\"300\" height=\"200\"><g></g></svg>\n```"})
	w := newTestWorker(client, validate.KindSVG, &sleepLog{})

	res, err := w.Attempt(context.Background(), section)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Attempts)
	assert.Contains(t, res.Content, `viewBox="0 0 300 200"`)
}

func TestAttempt_ShortTextIsRetried(t *testing.T) {
	sleeps := &sleepLog{}
	client := newScripted(reply{text: "too short"}, reply{text: longText})
	w := newTestWorker(client, validate.KindText, sleeps)

	res, err := w.Attempt(context.Background(), section)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Attempts)
	assert.Len(t, sleeps.delays, 1)
}

func TestAttempt_ShortTextExhausted(t *testing.T) {
	client := newScripted(reply{text: "too short"})
	w := newTestWorker(client, validate.KindText, &sleepLog{})

	res, err := w.Attempt(context.Background(), section)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.ErrorMessage, string(llm.ClassContentTooShort))
	assert.Contains(t, res.Content, validate.FailedMarker)
}

func TestAttempt_UnrepairableOutputFallsBackAtOnce(t *testing.T) {
	client := newScripted(reply{text: `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 1 1"><g>`})
	w := newTestWorker(client, validate.KindSVG, &sleepLog{})

	res, err := w.Attempt(context.Background(), section)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 1, res.Attempts)
	assert.Contains(t, res.ErrorMessage, "unbalanced")
	assert.Equal(t, 1, client.Calls())
}

func TestAttempt_CanceledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := newScripted(failure(llm.ClassServerError))
	w := newTestWorker(client, validate.KindSVG, &sleepLog{})
	w.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	_, err := w.Attempt(ctx, section)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, client.Calls())
}

func TestBackoff_RateLimitAlwaysLongerThanConnection(t *testing.T) {
	p := DefaultPolicy()
	maxJitter := p
	maxJitter.rand = func(n int64) int64 { return n - 1 }
	noJitter := p
	noJitter.rand = func(int64) int64 { return 0 }

	for attempt := range 8 {
		conn := maxJitter.Backoff(llm.ClassConnection, attempt)
		rl := noJitter.Backoff(llm.ClassRateLimit, attempt)
		assert.Greater(t, rl, conn, "attempt %d", attempt)
	}
}

func TestBackoff_GrowsAndCaps(t *testing.T) {
	p := DefaultPolicy()
	p.rand = func(int64) int64 { return 0 }

	assert.Equal(t, 5*time.Second, p.Backoff(llm.ClassServerError, 0))
	assert.Equal(t, 10*time.Second, p.Backoff(llm.ClassServerError, 1))
	assert.Equal(t, 20*time.Second, p.Backoff(llm.ClassServerError, 2))
	assert.Equal(t, 120*time.Second, p.Backoff(llm.ClassServerError, 10))
	assert.Equal(t, 150*time.Second, p.Backoff(llm.ClassRateLimit, 10))
}
