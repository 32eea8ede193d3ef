package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v3"
)

func TestNewTask(t *testing.T) {
	params := Params{"predictionLength": 24.0}

	tsk := NewTask("forecast", params)

	assert.Equal(t, "forecast", tsk.Name)
	assert.Equal(t, params, tsk.Hyperparams)
	assert.Equal(t, PendingStatus, tsk.Status)
	assert.False(t, tsk.CreatedAt.IsZero())
	assert.False(t, tsk.CompletedAt.Valid)
	assert.Nil(t, tsk.Metrics)
	assert.False(t, tsk.UserID.Valid)
}

func TestNewTask_NilParams(t *testing.T) {
	tsk := NewTask("forecast", nil)

	assert.NotNil(t, tsk.Hyperparams)
	assert.Empty(t, tsk.Hyperparams)
}

func TestTaskStatuses(t *testing.T) {
	assert.Equal(t, TaskStatus("pending"), PendingStatus)
	assert.Equal(t, TaskStatus("running"), RunningStatus)
	assert.Equal(t, TaskStatus("completed"), CompletedStatus)
	assert.Equal(t, TaskStatus("failed"), FailedStatus)
	assert.False(t, TaskStatus("dead_letter").Valid())
}

func TestCanTransitionTo(t *testing.T) {
	tests := []struct {
		from TaskStatus
		to   TaskStatus
		want bool
	}{
		{PendingStatus, RunningStatus, true},
		{PendingStatus, CompletedStatus, false},
		{PendingStatus, FailedStatus, false},
		{RunningStatus, CompletedStatus, true},
		{RunningStatus, FailedStatus, true},
		{RunningStatus, PendingStatus, false},
		{CompletedStatus, RunningStatus, false},
		{CompletedStatus, FailedStatus, false},
		{FailedStatus, PendingStatus, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestComplete(t *testing.T) {
	tsk := NewTask("forecast", nil)
	require.NoError(t, tsk.Transition(RunningStatus))

	at := tsk.CreatedAt.Add(3 * time.Second)
	err := tsk.Complete(at, 2.5, Metrics{MSE: 0.0025, MAE: 0.0499, RMSE: 0.05}, "results/task_1.json")

	require.NoError(t, err)
	assert.Equal(t, CompletedStatus, tsk.Status)
	assert.Equal(t, at, tsk.CompletedAt.Time)
	assert.Equal(t, 2.5, tsk.Duration.Float64)
	require.NotNil(t, tsk.Metrics)
	assert.Equal(t, 0.05, tsk.Metrics.RMSE)
	assert.Equal(t, "results/task_1.json", tsk.ResultPath.String)
}

func TestComplete_FromPending(t *testing.T) {
	tsk := NewTask("forecast", nil)

	err := tsk.Complete(time.Now(), 1, Metrics{}, "x")

	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, PendingStatus, tsk.Status)
}

func TestFail(t *testing.T) {
	tsk := NewTask("forecast", nil)
	require.NoError(t, tsk.Transition(RunningStatus))

	err := tsk.Fail(time.Now(), 0.4, "empty dataset")

	require.NoError(t, err)
	assert.Equal(t, FailedStatus, tsk.Status)
	assert.True(t, tsk.CompletedAt.Valid)
	assert.Nil(t, tsk.Metrics)
	assert.False(t, tsk.ResultPath.Valid)
	assert.Equal(t, "empty dataset", tsk.FailureReason.String)
}

func TestRerun(t *testing.T) {
	src := NewTask("weekly load", Params{"predictionLength": 12.0})
	src.ID = 7
	src.UserID = null.IntFrom(1)
	src.DatasetID = null.IntFrom(3)
	src.DatasetName = null.StringFrom("electricity")
	src.ModelID = null.IntFrom(2)
	src.SourcePath = "datasets/electricity.csv"
	require.NoError(t, src.Transition(RunningStatus))
	require.NoError(t, src.Complete(time.Now(), 1, Metrics{MSE: 1}, "results/task_7.json"))

	next := src.Rerun(null.IntFrom(5))

	assert.Equal(t, "weekly load (rerun)", next.Name)
	assert.Equal(t, PendingStatus, next.Status)
	assert.Equal(t, src.Hyperparams, next.Hyperparams)
	assert.Equal(t, int64(5), next.UserID.Int64)
	assert.Equal(t, src.DatasetID, next.DatasetID)
	assert.Equal(t, src.ModelID, next.ModelID)
	assert.Equal(t, src.SourcePath, next.SourcePath)
	assert.Nil(t, next.Metrics)
	assert.False(t, next.ResultPath.Valid)
	assert.False(t, next.CompletedAt.Valid)
	assert.Zero(t, next.ID)

	next.Hyperparams["predictionLength"] = 48.0
	assert.Equal(t, 12.0, src.Hyperparams["predictionLength"], "rerun must not share the source mapping")
}

func TestParamsScan(t *testing.T) {
	var p Params

	require.NoError(t, p.Scan([]byte(`{"predictionLength": 24, "lr": 0.01}`)))
	assert.Equal(t, 24.0, p["predictionLength"])
	assert.Equal(t, 0.01, p["lr"])

	require.NoError(t, p.Scan(nil))
	assert.Empty(t, p)

	assert.Error(t, p.Scan(42))
}

func TestMetricsScan(t *testing.T) {
	var m Metrics

	require.NoError(t, m.Scan(`{"mse": 0.0025, "mae": 0.05, "rmse": 0.05, "dataPoints": 10}`))
	assert.Equal(t, 0.0025, m.MSE)
	assert.Equal(t, 10, m.DataPoints)
}

func TestParamsValue_Nil(t *testing.T) {
	var p Params

	v, err := p.Value()

	require.NoError(t, err)
	assert.Equal(t, []byte("{}"), v)
}
