package session

import (
	"image"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaos-io/bgcompare/chroma"
	"github.com/chaos-io/bgcompare/rembg"
	"github.com/chaos-io/bgcompare/replicate"
)

func newLoaded(t *testing.T) *Session {
	t.Helper()
	s := New("s1", chroma.DefaultTolerance)
	s.SetImage("data:image/png;base64,AAAA", image.NewNRGBA(image.Rect(0, 0, 4, 3)))
	return s
}

func succeeded(id string) rembg.ModelJob {
	return rembg.ModelJob{ModelID: id, Status: replicate.StatusSucceeded, Output: []string{id + ".png"}}
}

func TestScore_WithOverall(t *testing.T) {
	tests := []struct {
		name  string
		score Score
		want  int
	}{
		{"未打分", Score{}, 0},
		{"单项", Score{EdgeAccuracy: 7}, 7},
		{"两项取平均", Score{EdgeAccuracy: 7, Transparency: 8}, 8},
		{"三项", Score{EdgeAccuracy: 9, DetailPreservation: 6, Transparency: 6}, 7},
		{"忽略传入的 overall", Score{EdgeAccuracy: 2, Overall: 10}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.score.WithOverall().Overall)
		})
	}
}

func TestSession_SetImageResets(t *testing.T) {
	s := newLoaded(t)
	s.SetReference(&chroma.Color{G: 255})
	s.SetManualResult("data:image/png;base64,BBBB")
	require.NoError(t, s.BeginRun())
	s.EndRun(map[string]rembg.ModelJob{"a": succeeded("a")})
	_, err := s.SetScore("a", Score{EdgeAccuracy: 5})
	require.NoError(t, err)
	require.True(t, s.HasUnsavedResults())

	s.SetImage("data:image/png;base64,CCCC", image.NewNRGBA(image.Rect(0, 0, 8, 8)))

	snap := s.Snapshot()
	assert.Equal(t, "data:image/png;base64,CCCC", snap.ImageURL)
	assert.Equal(t, 8, snap.Width)
	assert.Nil(t, snap.Reference)
	assert.Empty(t, snap.ManualResult)
	assert.Empty(t, snap.Results)
	assert.Empty(t, snap.Scores)
	assert.True(t, snap.Saved)
	assert.False(t, snap.Unsaved)
}

func TestSession_RunLifecycle(t *testing.T) {
	s := New("s1", 30)
	assert.ErrorIs(t, s.BeginRun(), ErrNoImage)

	s = newLoaded(t)
	require.NoError(t, s.BeginRun())
	assert.ErrorIs(t, s.BeginRun(), ErrRunActive)
	assert.True(t, s.Running())

	s.UpdateJob(rembg.ModelJob{ModelID: "a", Status: replicate.StatusStarting})
	s.UpdateJob(succeeded("a"))
	// 迟到的中间快照不能覆盖终态
	s.UpdateJob(rembg.ModelJob{ModelID: "a", Status: replicate.StatusProcessing})
	assert.Equal(t, replicate.StatusSucceeded, s.Snapshot().Results["a"].Status)

	s.EndRun(map[string]rembg.ModelJob{"a": succeeded("a"), "b": {ModelID: "b", Status: replicate.StatusFailed, Error: "boom"}})
	snap := s.Snapshot()
	assert.False(t, snap.Running)
	assert.Len(t, snap.Results, 2)
	assert.True(t, snap.Unsaved)

	s.MarkSaved()
	assert.False(t, s.HasUnsavedResults())
	assert.True(t, s.HasOutputs())
}

func TestSession_OnlyFailuresAreNotUnsaved(t *testing.T) {
	s := newLoaded(t)
	require.NoError(t, s.BeginRun())
	s.EndRun(map[string]rembg.ModelJob{"b": {ModelID: "b", Status: replicate.StatusFailed}})
	assert.False(t, s.HasUnsavedResults())
	assert.False(t, s.HasOutputs())
}

func TestSession_SetScore(t *testing.T) {
	s := newLoaded(t)
	require.NoError(t, s.BeginRun())
	s.EndRun(map[string]rembg.ModelJob{"a": succeeded("a")})

	got, err := s.SetScore("a", Score{EdgeAccuracy: 8, DetailPreservation: 9})
	require.NoError(t, err)
	assert.Equal(t, 9, got.Overall) // 8.5 四舍五入

	_, err = s.SetScore("zzz", Score{EdgeAccuracy: 1})
	assert.ErrorIs(t, err, ErrUnknownModel)

	_, err = s.SetScore("a", Score{EdgeAccuracy: 11})
	assert.Error(t, err)
}

func TestSession_Tolerance(t *testing.T) {
	s := newLoaded(t)
	assert.Equal(t, 30, s.Tolerance())
	require.NoError(t, s.SetTolerance(120))
	assert.Equal(t, 120, s.Tolerance())
	assert.Error(t, s.SetTolerance(201))
	assert.Equal(t, 120, s.Tolerance())
}

func TestSession_SnapshotIsDeepCopy(t *testing.T) {
	s := newLoaded(t)
	ref := &chroma.Color{R: 1}
	s.SetReference(ref)
	ref.R = 99

	require.NoError(t, s.BeginRun())
	s.UpdateJob(succeeded("a"))

	snap := s.Snapshot()
	snap.Reference.R = 50
	snap.Results["a"].Output[0] = "mutated"

	c, ok := s.Reference()
	require.True(t, ok)
	assert.Equal(t, uint8(1), c.R)
	assert.Equal(t, "a.png", s.Snapshot().Results["a"].Output[0])
}

func TestSession_ConcurrentUpdates(t *testing.T) {
	s := newLoaded(t)
	require.NoError(t, s.BeginRun())

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				s.UpdateJob(rembg.ModelJob{ModelID: id, Status: replicate.StatusProcessing})
				_ = s.Snapshot()
			}
			s.UpdateJob(succeeded(id))
		}()
	}
	wg.Wait()

	snap := s.Snapshot()
	require.Len(t, snap.Results, 4)
	for _, j := range snap.Results {
		assert.Equal(t, replicate.StatusSucceeded, j.Status)
	}
}

func TestSession_ResetJobs(t *testing.T) {
	s := newLoaded(t)
	require.NoError(t, s.BeginRun())
	s.EndRun(map[string]rembg.ModelJob{"a": succeeded("a")})
	_, err := s.SetScore("a", Score{Transparency: 4})
	require.NoError(t, err)

	s.ResetJobs()
	snap := s.Snapshot()
	assert.Empty(t, snap.Results)
	assert.Empty(t, snap.Scores)
	assert.False(t, s.HasUnsavedResults())

	s.MarkSaved()
	s.UpdateJob(succeeded("b"))
	assert.False(t, s.HasUnsavedResults())
	s.MarkUnsaved()
	assert.True(t, s.HasUnsavedResults())
}
