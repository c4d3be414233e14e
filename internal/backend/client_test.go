package backend_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/autosteer/internal/backend"
	"github.com/msageha/autosteer/internal/backend/backendtest"
	"github.com/msageha/autosteer/internal/model"
	"github.com/msageha/autosteer/internal/uds"
)

func serveFake(t *testing.T) (*backendtest.Fake, *backend.UDSClient) {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "as-be-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	sock := filepath.Join(dir, "b.sock")

	fake := backendtest.New()
	srv := uds.NewServer(sock)
	fake.Register(srv)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Stop() })

	return fake, backend.NewUDSClient(sock, 2*time.Second)
}

func TestUDSClient_ProfileRoundTrip(t *testing.T) {
	fake, client := serveFake(t)
	ctx := context.Background()

	p := model.Profile{
		ID:   "prof_1",
		Name: "Quality sweep",
		Phases: []model.Phase{{
			Mode:          model.ModeTest,
			MaxIterations: 3,
			StopConditions: []model.ConditionNode{{
				Type: model.ConditionCompound, Logic: model.LogicAnd,
				Conditions: []model.ConditionNode{
					{Type: model.ConditionSimple, Metric: "test_coverage", Operator: model.OpGTE, Value: 80},
				},
			}},
		}},
	}
	saved, err := client.SaveProfile(ctx, p)
	require.NoError(t, err)
	assert.NotEmpty(t, saved.UpdatedAt)
	assert.Equal(t, 1, fake.Calls(backend.CmdSaveProfile))

	got, err := client.GetProfile(ctx, "prof_1")
	require.NoError(t, err)
	assert.Equal(t, p.Phases, got.Phases)

	list, err := client.ListProfiles(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, client.DeleteProfile(ctx, "prof_1"))
	_, err = client.GetProfile(ctx, "prof_1")
	assert.True(t, errors.Is(err, model.ErrNotFound), "got %v", err)
}

func TestUDSClient_ErrorMapping(t *testing.T) {
	fake, client := serveFake(t)
	ctx := context.Background()
	fake.PutTask(model.Task{ID: "t1", Status: model.TaskStatusTodo})

	_, err := client.Seek(ctx, backend.SeekParams{TaskID: "t1", PhaseIndex: 1})
	assert.ErrorIs(t, err, model.ErrPreconditionFailed)
	assert.False(t, model.IsTransportError(err))

	_, err = client.UpdateTaskStatus(ctx, "t1", model.TaskStatusReview)
	assert.True(t, backend.IsValidation(err), "todo → review is not a board move: %v", err)

	fake.FailNext(backend.CmdGetQueueStatus, model.NewTransportError("engine", errors.New("engine offline")))
	_, err = client.GetQueueStatus(ctx)
	assert.True(t, model.IsTransportError(err), "UNAVAILABLE should surface as transport error: %v", err)
}

func TestUDSClient_SeekAndReset(t *testing.T) {
	fake, client := serveFake(t)
	ctx := context.Background()

	fake.PutProfile(model.Profile{ID: "p", Name: "p", Phases: []model.Phase{
		{Mode: model.ModeProgress, MaxIterations: 5},
		{Mode: model.ModeTest, MaxIterations: 3},
	}})
	fake.PutTask(model.Task{ID: "t1", AutoSteerProfileID: "p"})
	fake.PutState(model.ExecutionState{
		TaskID: "t1", ProfileID: "p", CurrentPhaseIndex: 0, CurrentPhaseIteration: 4,
		PhaseHistory: []model.PhaseRecord{{Mode: model.ModeProgress, Iterations: 2}},
	})

	st, err := client.Seek(ctx, backend.SeekParams{TaskID: "t1", PhaseIndex: 1, PhaseIteration: 9})
	require.NoError(t, err)
	assert.Equal(t, 1, st.CurrentPhaseIndex)
	assert.Equal(t, 3, st.CurrentPhaseIteration)
	assert.Len(t, st.PhaseHistory, 1)

	st, err = client.Reset(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 0, st.CurrentPhaseIndex)
	assert.Empty(t, st.PhaseHistory)
}

func TestUDSClient_BackendDown(t *testing.T) {
	client := backend.NewUDSClient(filepath.Join(t.TempDir(), "missing.sock"), 500*time.Millisecond)

	_, err := client.ListTasks(context.Background())
	require.Error(t, err)
	assert.True(t, model.IsTransportError(err))
	assert.Contains(t, err.Error(), "backend.socket_path")
}

func TestUDSClient_PerformanceFilter(t *testing.T) {
	fake, client := serveFake(t)
	fake.Performance = []model.ProfilePerformance{
		{ID: "r1", ProfileID: "a", Scenario: "greenfield"},
		{ID: "r2", ProfileID: "b", Scenario: "greenfield"},
		{ID: "r3", ProfileID: "a", Scenario: "legacy"},
	}

	got, err := client.ListPerformance(context.Background(), backend.PerformanceFilter{ProfileID: "a"})
	require.NoError(t, err)
	require.Len(t, got, 2)

	got, err = client.ListPerformance(context.Background(), backend.PerformanceFilter{ProfileID: "a", Scenario: "legacy"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "r3", got[0].ID)
}
