package admission

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHistory serves canned per-client submission timestamps.
type fakeHistory struct {
	submissions map[string][]time.Time
	err         error
	calls       int
}

func (f *fakeHistory) CountSubmissionsSince(_ context.Context, clientKey string, since time.Time) (int64, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	var n int64
	for _, at := range f.submissions[clientKey] {
		if !at.Before(since) {
			n++
		}
	}
	return n, nil
}

func TestAbuseDetector_ContentRule(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	var tests = []struct {
		name    string
		message string
		clean   bool
	}{
		{name: "plain message", message: "Hi, I liked your portfolio.", clean: true},
		{name: "banned phrase", message: "buy now and save big", clean: false},
		{name: "banned phrase mixed case", message: "BUY NOW!!!", clean: false},
		{name: "banned phrase embedded", message: "please Click Here for a deal", clean: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			history := &fakeHistory{}
			d := NewAbuseDetector([]string{"buy now", "click here"}, 5, time.Hour, history, fixedClock(now))

			v, err := d.Evaluate(context.Background(), tt.message, "1.2.3.4")
			require.NoError(t, err)
			assert.Equal(t, tt.clean, v.Clean)
			if !tt.clean {
				assert.Equal(t, ReasonContent, v.Reason)
			}
		})
	}
}

func TestAbuseDetector_ContentWinsOverVolume(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	history := &fakeHistory{}
	d := NewAbuseDetector([]string{"buy now"}, 5, time.Hour, history, fixedClock(now))

	// Client is well under every budget; the content rule still fires
	// first, without even consulting history.
	v, err := d.Evaluate(context.Background(), "buy now", "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, ReasonContent, v.Reason)
	assert.Zero(t, history.calls)
}

func TestAbuseDetector_VolumeThresholdBoundary(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	var tests = []struct {
		name   string
		prior  int
		age    time.Duration
		clean  bool
		reason string
	}{
		{name: "4 prior submissions accepted", prior: 4, age: 10 * time.Minute, clean: true},
		{name: "5th submission within the hour rejected", prior: 5, age: 10 * time.Minute, clean: false, reason: ReasonVolume},
		{name: "5 submissions aged past the window accepted", prior: 5, age: 61 * time.Minute, clean: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			history := &fakeHistory{submissions: map[string][]time.Time{}}
			for i := 0; i < tt.prior; i++ {
				history.submissions["1.2.3.4"] = append(history.submissions["1.2.3.4"], base.Add(-tt.age))
			}
			d := NewAbuseDetector(nil, 5, time.Hour, history, fixedClock(base))

			v, err := d.Evaluate(context.Background(), "hello there", "1.2.3.4")
			require.NoError(t, err)
			assert.Equal(t, tt.clean, v.Clean)
			assert.Equal(t, tt.reason, v.Reason)
		})
	}
}

func TestAbuseDetector_SlidingWindowUsesNow(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	history := &fakeHistory{submissions: map[string][]time.Time{
		"1.2.3.4": {now, now, now, now, now},
	}}
	d := NewAbuseDetector(nil, 5, time.Hour, history, clock)

	v, err := d.Evaluate(context.Background(), "hello", "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, ReasonVolume, v.Reason)

	// The window slides with the clock rather than resetting on the hour.
	now = now.Add(61 * time.Minute)
	v, err = d.Evaluate(context.Background(), "hello", "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, v.Clean)
}

func TestAbuseDetector_HistoryFailurePropagates(t *testing.T) {
	wantErr := errors.New("db down")
	history := &fakeHistory{err: wantErr}
	d := NewAbuseDetector(nil, 5, time.Hour, history, nil)

	_, err := d.Evaluate(context.Background(), "hello", "1.2.3.4")
	assert.ErrorIs(t, err, wantErr)
}
