package schedule

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomTrigger_InRange(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(42))
	seenMinute59, seenHour23 := false, false
	for i := 0; i < 20000; i++ {
		tr := RandomTrigger(rng)
		require.True(t, tr.Valid(), "%+v", tr)
		seenMinute59 = seenMinute59 || tr.Minute == 59
		seenHour23 = seenHour23 || tr.Hour == 23
	}
	assert.True(t, seenMinute59, "minute 59 must be reachable")
	assert.True(t, seenHour23, "hour 23 must be reachable")
}

func TestTrigger_SpecAndNextRuns(t *testing.T) {
	t.Parallel()
	tr := Trigger{Minute: 5, Hour: 3}
	assert.Equal(t, "5 3 * * *", tr.Spec())
	assert.Equal(t, "03:05", tr.String())

	from := time.Date(2024, 3, 10, 4, 0, 0, 0, time.UTC)
	next, err := tr.NextRuns(from, 2)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		time.Date(2024, 3, 11, 3, 5, 0, 0, time.UTC),
		time.Date(2024, 3, 12, 3, 5, 0, 0, time.UTC),
	}, next)

	_, err = Trigger{Minute: 60}.NextRuns(from, 1)
	assert.Error(t, err)
}

func TestParseRetention(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw     string
		want    int
		wantMsg string
	}{
		{"1", 1, ""},
		{" 30 ", 30, ""},
		{"31", 0, "cannot exceed 30"},
		{"0", 0, "greater than 0"},
		{"-1", 0, "greater than 0"},
		{"seven", 0, "must be an integer"},
		{"", 0, "must be an integer"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			got, err := ParseRetention("r1", tt.raw, 30)
			if tt.wantMsg == "" {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
				return
			}
			require.Error(t, err)
			assert.True(t, IsKind(err, KindInvalidArgument))
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestSettingHelpers(t *testing.T) {
	t.Parallel()

	md := WithSetting(nil, 4)
	n, ok, err := SettingFrom(md)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 4, n)

	stripped := WithoutSetting(md)
	_, ok, err = SettingFrom(stripped)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, md, SettingKey, "helpers must not mutate their input")

	_, ok, err = SettingFrom(map[string]string{SettingKey: "x"})
	assert.True(t, ok)
	assert.Error(t, err)
}
