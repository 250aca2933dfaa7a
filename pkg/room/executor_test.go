package room

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wikiracing-llms/wikirace/pkg/models"
)

func addStartedLLMRun(t *testing.T, f *serviceFixture, roomID, owner string) string {
	t.Helper()
	snap, err := f.svc.AddLLM(context.Background(), AddLLMRequest{
		RoomID:              roomID,
		RequestedByPlayerID: owner,
		Model:               "gpt-test",
	})
	require.NoError(t, err)
	runID := llmRun(t, snap).ID
	_, err = f.svc.Start(context.Background(), roomID, owner)
	require.NoError(t, err)
	return runID
}

func TestExecutorWinsRace(t *testing.T) {
	f := newFixture(t, nil, ServiceConfig{})
	f.llm.outputs = []string{
		"The Middle article should connect onward. <answer>1</answer>",
		"<answer>1</answer>",
	}
	room, owner := f.createRoom(t)
	runID := addStartedLLMRun(t, f, room.ID, owner)

	run := waitForRunStatus(t, f.svc, room.ID, runID, models.RunStatusFinished)
	assert.Equal(t, models.RunResultWin, run.Result)
	require.Len(t, run.Steps, 3)

	assert.Equal(t, models.StepTypeStart, run.Steps[0].Type)
	assert.Equal(t, "Start", run.Steps[0].Article)

	move := run.Steps[1]
	assert.Equal(t, models.StepTypeMove, move.Type)
	assert.Equal(t, "Middle", move.Article)
	require.NotNil(t, move.Metadata)
	assert.Equal(t, 1, move.Metadata.SelectedIndex)
	assert.Equal(t, 1, move.Metadata.Tries)
	assert.Equal(t, f.llm.outputs[0], move.Metadata.LLMOutput)

	win := run.Steps[2]
	assert.Equal(t, models.StepTypeWin, win.Type)
	assert.Equal(t, "Goal", win.Article)
	require.NotNil(t, win.Metadata)
	assert.Equal(t, 1, win.Metadata.SelectedIndex)

	// the executor unregisters once the run is over
	assert.Eventually(t, func() bool { return f.svc.Registry().TaskCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestExecutorRetriesThenMoves(t *testing.T) {
	f := newFixture(t, nil, ServiceConfig{})
	f.llm.outputs = []string{
		"I cannot decide.",
		"<answer>1</answer>",
		"<answer>1</answer>",
	}
	room, owner := f.createRoom(t)
	runID := addStartedLLMRun(t, f, room.ID, owner)

	run := waitForRunStatus(t, f.svc, room.ID, runID, models.RunStatusFinished)
	assert.Equal(t, models.RunResultWin, run.Result)
	require.Len(t, run.Steps, 3)

	move := run.Steps[1]
	require.NotNil(t, move.Metadata)
	assert.Equal(t, 2, move.Metadata.Tries)
	assert.Len(t, move.Metadata.LLMOutputs, 2)
	assert.Equal(t, "<answer>1</answer>", move.Metadata.LLMOutput)
}

func TestExecutorBadAnswer(t *testing.T) {
	f := newFixture(t, nil, ServiceConfig{})
	f.llm.outputs = []string{"hmm", "still thinking", "no idea"}
	room, owner := f.createRoom(t)
	runID := addStartedLLMRun(t, f, room.ID, owner)

	run := waitForRunStatus(t, f.svc, room.ID, runID, models.RunStatusFinished)
	assert.Equal(t, models.RunResultLose, run.Result)

	last := run.Steps[len(run.Steps)-1]
	assert.Equal(t, models.StepTypeLose, last.Type)
	assert.Equal(t, "Start", last.Article)
	require.NotNil(t, last.Metadata)
	assert.Equal(t, models.LoseReasonBadAnswer, last.Metadata.Reason)
	assert.Equal(t, 3, last.Metadata.Tries)
	assert.Len(t, last.Metadata.AnswerErrors, 3)
	assert.Len(t, last.Metadata.LLMOutputs, 3)
	assert.Equal(t, "no idea", last.Metadata.LLMOutput)
	assert.Equal(t, 0, last.Metadata.SelectedIndex)
}

func TestExecutorNoLinks(t *testing.T) {
	f := newFixture(t, nil, ServiceConfig{})
	room, err := f.svc.CreateRoom(context.Background(), CreateRoomRequest{
		StartArticle:       "Lonely",
		DestinationArticle: "Goal",
		OwnerName:          "alice",
	})
	require.NoError(t, err)
	t.Cleanup(func() { f.svc.Registry().CancelRoomTasks(room.ID) })
	runID := addStartedLLMRun(t, f, room.ID, room.OwnerPlayerID)

	run := waitForRunStatus(t, f.svc, room.ID, runID, models.RunStatusFinished)
	assert.Equal(t, models.RunResultLose, run.Result)

	last := run.Steps[len(run.Steps)-1]
	assert.Equal(t, "Lonely", last.Article)
	require.NotNil(t, last.Metadata)
	assert.Equal(t, models.LoseReasonNoLinks, last.Metadata.Reason)

	// the dead end never needed the model
	assert.Equal(t, 0, f.llm.callCount())
}

func TestExecutorLLMError(t *testing.T) {
	f := newFixture(t, nil, ServiceConfig{})
	f.llm.err = fmt.Errorf("upstream exploded")
	room, owner := f.createRoom(t)
	runID := addStartedLLMRun(t, f, room.ID, owner)

	run := waitForRunStatus(t, f.svc, room.ID, runID, models.RunStatusFinished)
	assert.Equal(t, models.RunResultLose, run.Result)

	last := run.Steps[len(run.Steps)-1]
	assert.Equal(t, models.StepTypeLose, last.Type)
	assert.Equal(t, "Start", last.Article)
	require.NotNil(t, last.Metadata)
	assert.Equal(t, models.LoseReasonLLMError, last.Metadata.Reason)
	assert.Contains(t, last.Metadata.Error, "upstream exploded")
	assert.Equal(t, 1, last.Metadata.Tries)
}

func TestExecutorLosesAtMaxSteps(t *testing.T) {
	f := newFixture(t, nil, ServiceConfig{})
	f.llm.outputs = []string{"<answer>2</answer>"}
	room, err := f.svc.CreateRoom(context.Background(), CreateRoomRequest{
		StartArticle:       "Start",
		DestinationArticle: "Goal",
		OwnerName:          "alice",
		MaxHops:            1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { f.svc.Registry().CancelRoomTasks(room.ID) })
	runID := addStartedLLMRun(t, f, room.ID, room.OwnerPlayerID)

	run := waitForRunStatus(t, f.svc, room.ID, runID, models.RunStatusFinished)
	assert.Equal(t, models.RunResultLose, run.Result)

	last := run.Steps[len(run.Steps)-1]
	assert.Equal(t, models.StepTypeLose, last.Type)
	assert.Equal(t, "Side", last.Article)
	require.NotNil(t, last.Metadata)
	assert.Equal(t, models.LoseReasonMaxSteps, last.Metadata.Reason)
	assert.Equal(t, 2, last.Metadata.SelectedIndex)
}

func TestExecutorFinishingLastRunFinishesRoom(t *testing.T) {
	f := newFixture(t, nil, ServiceConfig{})
	f.llm.outputs = []string{"<answer>1</answer>", "<answer>1</answer>"}
	room, owner := f.createRoom(t)
	runID := addStartedLLMRun(t, f, room.ID, owner)

	// the human resigns, leaving only the agent
	humanRunID := room.Runs[0].ID
	_, err := f.svc.AbandonRun(context.Background(), room.ID, owner, humanRunID)
	require.NoError(t, err)

	waitForRunStatus(t, f.svc, room.ID, runID, models.RunStatusFinished)
	require.Eventually(t, func() bool {
		snap, err := f.svc.Get(room.ID)
		return err == nil && snap.Status == models.RoomStatusFinished
	}, 2*time.Second, 5*time.Millisecond)

	snap, err := f.svc.Get(room.ID)
	require.NoError(t, err)
	require.NotNil(t, snap.FinishedAt)
}

func TestReachesDestination(t *testing.T) {
	f := newFixture(t, map[string][]string{
		"Earth": {"Moon", "Sun"},
		"Moon":  {"Earth", "Sun"},
		"Sun":   {"Earth", "Moon"},
		"Luna":  {"Moon"},
	}, ServiceConfig{})
	ctx := context.Background()

	assert.True(t, f.svc.reachesDestination(ctx, "moon", "Moon"))
	assert.True(t, f.svc.reachesDestination(ctx, "Luna", "Moon"), "alias chases to the destination")
	assert.False(t, f.svc.reachesDestination(ctx, "Earth", "Moon"))
}
