package e2e

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wikiracing-llms/wikirace/pkg/models"
)

// llmWorld is a four-article map with one two-hop path from Harbor to
// Island. Reef and Moat-like dead ends keep canonicalization from
// collapsing the interior articles.
func llmWorld() map[string][]string {
	return map[string][]string{
		"Harbor":     {"Lighthouse", "Reef"},
		"Lighthouse": {"Island", "Reef"},
		"Island":     {},
		"Reef":       {},
	}
}

// TestLLMRunWinsRace drives an agent run from lobby to a win: two
// decision calls, each picking link 1, with the trace recorded on the
// steps and every hop broadcast.
func TestLLMRunWinsRace(t *testing.T) {
	llmClient := NewScriptedLLMClient()
	llmClient.AddText(
		"The lighthouse guards the strait. <answer>1</answer>",
		"<answer>1</answer>",
	)
	app := NewTestApp(t, WithWorld(llmWorld()), WithLLMClient(llmClient))

	temperature := 0.5
	roomID, ownerID, _ := app.CreateRoom(t, map[string]interface{}{
		"start_article":       "Harbor",
		"destination_article": "Island",
		"owner_name":          "alice",
	})
	snapshot := app.AddLLM(t, roomID, map[string]interface{}{
		"requested_by_player_id": ownerID,
		"model":                  "test-model",
		"player_name":            "beacon-bot",
		"temperature":            temperature,
		"max_links":              1,
	})
	llmRun := LLMRun(t, snapshot)
	require.Equal(t, models.RunStatusNotStarted, llmRun.Status)
	require.Equal(t, "beacon-bot", llmRun.PlayerName)
	require.Equal(t, "test-model", llmRun.Model)
	require.Equal(t, 20, llmRun.MaxSteps)

	ws, err := WSConnect(context.Background(), app.WSURL(roomID, ownerID))
	require.NoError(t, err)
	defer func() { _ = ws.Close() }()
	_, err = ws.WaitForRoomStatus(models.RoomStatusLobby, 5*time.Second)
	require.NoError(t, err)

	app.StartRoom(t, roomID, ownerID)

	run := app.WaitForRunStatus(t, roomID, llmRun.ID, models.RunStatusFinished)
	require.Equal(t, models.RunResultWin, run.Result)
	require.Equal(t, []models.StepType{models.StepTypeStart, models.StepTypeMove, models.StepTypeWin}, StepTypes(run))
	require.Equal(t, []string{"Harbor", "Lighthouse", "Island"}, StepArticles(run))

	// The decision trace rides on the steps it produced.
	move := run.Steps[1]
	require.NotNil(t, move.Metadata)
	require.Equal(t, 1, move.Metadata.SelectedIndex)
	require.Equal(t, 1, move.Metadata.Tries)
	require.Contains(t, move.Metadata.LLMOutput, "<answer>1</answer>")
	require.NotNil(t, move.Metadata.PromptTokens)
	require.Equal(t, 10, *move.Metadata.PromptTokens)
	require.NotNil(t, move.Metadata.TotalTokens)
	require.Equal(t, 15, *move.Metadata.TotalTokens)
	require.NotNil(t, run.Steps[2].Metadata)
	require.Equal(t, 1, run.Steps[2].Metadata.SelectedIndex)

	// Two decisions, both with the run's own parameters, and the link list
	// trimmed to max_links.
	require.Equal(t, 2, llmClient.CallCount())
	reqs := llmClient.CapturedRequests()
	require.Equal(t, "test-model", reqs[0].Model)
	require.NotNil(t, reqs[0].Temperature)
	require.Equal(t, temperature, *reqs[0].Temperature)
	require.Contains(t, reqs[0].Prompt, "Target article: Island")
	require.Contains(t, reqs[0].Prompt, "Current article: Harbor")
	require.Contains(t, reqs[0].Prompt, "1. Lighthouse")
	require.NotContains(t, reqs[0].Prompt, "Reef")
	require.Contains(t, reqs[1].Prompt, "Current article: Lighthouse")
	require.Contains(t, reqs[1].Prompt, "Path so far: Harbor -> Lighthouse")

	// The agent's hops were fanned out; the room stays open for alice.
	final, err := ws.WaitForRoomState(func(r *models.Room) bool {
		for i := range r.Runs {
			if r.Runs[i].Kind == models.RunKindLLM && r.Runs[i].Status == models.RunStatusFinished {
				return true
			}
		}
		return false
	}, 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, models.RoomStatusRunning, final.Status)
}

// TestLLMRunBadAnswerLoss exhausts the decision retry budget with three
// unparseable replies; the run loses with the full answer trace attached.
func TestLLMRunBadAnswerLoss(t *testing.T) {
	llmClient := NewScriptedLLMClient()
	llmClient.AddText(
		"Hmm, the lighthouse seems right.",   // no answer tag
		"<answer>7</answer>",                 // out of bounds
		"<answer>1</answer><answer>2</answer>", // multiple tags
	)
	app := NewTestApp(t, WithWorld(llmWorld()), WithLLMClient(llmClient))

	roomID, ownerID, _ := app.CreateRoom(t, map[string]interface{}{
		"start_article":       "Harbor",
		"destination_article": "Island",
		"owner_name":          "alice",
	})
	snapshot := app.AddLLM(t, roomID, map[string]interface{}{
		"requested_by_player_id": ownerID,
		"model":                  "test-model",
	})
	runID := LLMRun(t, snapshot).ID

	app.StartRoom(t, roomID, ownerID)

	run := app.WaitForRunStatus(t, roomID, runID, models.RunStatusFinished)
	require.Equal(t, models.RunResultLose, run.Result)
	require.Equal(t, []models.StepType{models.StepTypeStart, models.StepTypeLose}, StepTypes(run))

	lose := run.Steps[1]
	require.Equal(t, "Harbor", lose.Article)
	require.NotNil(t, lose.Metadata)
	require.Equal(t, models.LoseReasonBadAnswer, lose.Metadata.Reason)
	require.Equal(t, 3, lose.Metadata.Tries)
	require.Zero(t, lose.Metadata.SelectedIndex)
	require.Len(t, lose.Metadata.AnswerErrors, 3)
	require.Len(t, lose.Metadata.LLMOutputs, 3)
	require.Equal(t, 3, llmClient.CallCount())
}

// TestLLMRunRestartDuringCall restarts a run whose decision call is
// still in flight. The replaced executor must not write anything after
// the reset: the final log holds exactly one start step and the
// restarted attempt's moves.
func TestLLMRunRestartDuringCall(t *testing.T) {
	onBlock := make(chan struct{}, 1)
	llmClient := NewScriptedLLMClient()
	llmClient.Add(LLMScriptEntry{BlockUntilCancelled: true, OnBlock: onBlock})
	llmClient.AddText("<answer>1</answer>", "<answer>1</answer>")
	app := NewTestApp(t, WithWorld(llmWorld()), WithLLMClient(llmClient))

	roomID, ownerID, _ := app.CreateRoom(t, map[string]interface{}{
		"start_article":       "Harbor",
		"destination_article": "Island",
		"owner_name":          "alice",
	})
	snapshot := app.AddLLM(t, roomID, map[string]interface{}{
		"requested_by_player_id": ownerID,
		"model":                  "test-model",
	})
	runID := LLMRun(t, snapshot).ID

	app.StartRoom(t, roomID, ownerID)

	// The first executor is now parked inside its decision call.
	select {
	case <-onBlock:
	case <-time.After(10 * time.Second):
		t.Fatal("scripted LLM call never started")
	}

	snapshot = app.RestartRun(t, roomID, runID, ownerID)
	restarted := snapshot.Run(runID)
	require.Equal(t, models.RunStatusRunning, restarted.Status)
	require.Equal(t, []models.StepType{models.StepTypeStart}, StepTypes(restarted))

	run := app.WaitForRunStatus(t, roomID, runID, models.RunStatusFinished)
	require.Equal(t, models.RunResultWin, run.Result)
	require.Equal(t, []string{"Harbor", "Lighthouse", "Island"}, StepArticles(run))

	starts := 0
	for _, s := range run.Steps {
		if s.Type == models.StepTypeStart {
			starts++
		}
	}
	require.Equal(t, 1, starts, "the cancelled attempt must leave no steps behind")
	require.Equal(t, 3, llmClient.CallCount())
}

// TestLLMRunCancel removes a lobby run outright, then cancels a running
// one mid-call and checks the forced loss.
func TestLLMRunCancel(t *testing.T) {
	onBlock := make(chan struct{}, 1)
	llmClient := NewScriptedLLMClient()
	llmClient.Add(LLMScriptEntry{BlockUntilCancelled: true, OnBlock: onBlock})
	app := NewTestApp(t, WithWorld(llmWorld()), WithLLMClient(llmClient))

	roomID, ownerID, _ := app.CreateRoom(t, map[string]interface{}{
		"start_article":       "Harbor",
		"destination_article": "Island",
		"owner_name":          "alice",
	})

	// In the lobby, cancelling removes the run without a trace.
	snapshot := app.AddLLM(t, roomID, map[string]interface{}{
		"requested_by_player_id": ownerID,
		"model":                  "test-model",
	})
	lobbyRunID := LLMRun(t, snapshot).ID
	snapshot = app.CancelRun(t, roomID, lobbyRunID, ownerID)
	require.Len(t, snapshot.Runs, 1)
	require.Zero(t, llmClient.CallCount())

	app.StartRoom(t, roomID, ownerID)

	// Adding to a running room starts the run immediately.
	snapshot = app.AddLLM(t, roomID, map[string]interface{}{
		"requested_by_player_id": ownerID,
		"model":                  "test-model",
	})
	run := LLMRun(t, snapshot)
	require.Equal(t, models.RunStatusRunning, run.Status)
	require.Equal(t, []string{"Harbor"}, StepArticles(run))

	select {
	case <-onBlock:
	case <-time.After(10 * time.Second):
		t.Fatal("scripted LLM call never started")
	}

	snapshot = app.CancelRun(t, roomID, run.ID, ownerID)
	cancelled := snapshot.Run(run.ID)
	require.Equal(t, models.RunStatusFinished, cancelled.Status)
	require.Equal(t, models.RunResultLose, cancelled.Result)
	last := cancelled.Steps[len(cancelled.Steps)-1]
	require.Equal(t, models.StepTypeLose, last.Type)
	require.Equal(t, "Harbor", last.Article)
	require.Equal(t, models.LoseReasonCancelled, last.Metadata.Reason)

	// Alice never finished, so the room stays open.
	require.Equal(t, models.RoomStatusRunning, snapshot.Status)

	// The cancelled executor unwinds and releases its registration.
	require.Eventually(t, func() bool {
		return app.Registry.TaskCount() == 0
	}, 5*time.Second, 25*time.Millisecond)
	require.Equal(t, 1, llmClient.CallCount())
}

// TestLLMRunLimitAndKindGuards covers the per-room cap on unfinished LLM
// runs and the kind checks on run actions.
func TestLLMRunLimitAndKindGuards(t *testing.T) {
	llmClient := NewScriptedLLMClient()
	llmClient.AddText("<answer>1</answer>", "<answer>1</answer>")
	app := NewTestApp(t, WithWorld(llmWorld()), WithLLMClient(llmClient),
		WithMaxLLMRunsPerRoom(1), WithLLMMaxTries(1))

	roomID, ownerID, created := app.CreateRoom(t, map[string]interface{}{
		"start_article":       "Harbor",
		"destination_article": "Island",
		"owner_name":          "alice",
	})
	humanRunID := created.Runs[0].ID

	snapshot := app.AddLLM(t, roomID, map[string]interface{}{
		"requested_by_player_id": ownerID,
		"model":                  "test-model",
	})
	llmRunID := LLMRun(t, snapshot).ID
	// Defaulted display name falls back to the model.
	require.Equal(t, "test-model", LLMRun(t, snapshot).PlayerName)

	detail := app.postExpectError(t, "/rooms/"+roomID+"/add_llm", map[string]interface{}{
		"requested_by_player_id": ownerID,
		"model":                  "other-model",
	}, http.StatusConflict)
	require.Contains(t, detail, "limit")

	// Kind guards: cancel and restart are LLM-only, abandon human-only.
	app.postExpectError(t, "/rooms/"+roomID+"/runs/"+humanRunID+"/cancel",
		map[string]string{"player_id": ownerID}, http.StatusConflict)
	app.postExpectError(t, "/rooms/"+roomID+"/runs/"+humanRunID+"/restart",
		map[string]string{"player_id": ownerID}, http.StatusConflict)
	app.postExpectError(t, "/rooms/"+roomID+"/runs/"+llmRunID+"/abandon",
		map[string]string{"player_id": ownerID}, http.StatusConflict)

	// Restarting in the lobby just re-arms the run.
	snapshot = app.RestartRun(t, roomID, llmRunID, ownerID)
	rearmed := snapshot.Run(llmRunID)
	require.Equal(t, models.RunStatusNotStarted, rearmed.Status)
	require.Empty(t, rearmed.Steps)

	// A finished run no longer counts against the cap.
	app.StartRoom(t, roomID, ownerID)
	run := app.WaitForRunStatus(t, roomID, llmRunID, models.RunStatusFinished)
	require.Equal(t, models.RunResultWin, run.Result)
	snapshot = app.AddLLM(t, roomID, map[string]interface{}{
		"requested_by_player_id": ownerID,
		"model":                  "other-model",
	})
	require.Len(t, snapshot.Runs, 3)
}

// TestLLMRunNoLinksLoss starts an agent on a dead-end article; it loses
// without ever calling the model.
func TestLLMRunNoLinksLoss(t *testing.T) {
	llmClient := NewScriptedLLMClient()
	app := NewTestApp(t, WithWorld(llmWorld()), WithLLMClient(llmClient))

	roomID, ownerID, _ := app.CreateRoom(t, map[string]interface{}{
		"start_article":       "Island",
		"destination_article": "Harbor",
		"owner_name":          "alice",
	})
	snapshot := app.AddLLM(t, roomID, map[string]interface{}{
		"requested_by_player_id": ownerID,
		"model":                  "test-model",
	})
	runID := LLMRun(t, snapshot).ID

	app.StartRoom(t, roomID, ownerID)

	run := app.WaitForRunStatus(t, roomID, runID, models.RunStatusFinished)
	require.Equal(t, models.RunResultLose, run.Result)
	lose := run.Steps[len(run.Steps)-1]
	require.Equal(t, models.LoseReasonNoLinks, lose.Metadata.Reason)
	require.Equal(t, "Island", lose.Article)
	require.Zero(t, llmClient.CallCount())
}

// TestLLMRunProviderErrorLoss surfaces a provider failure as a terminal
// llm_error loss carrying the error text.
func TestLLMRunProviderErrorLoss(t *testing.T) {
	llmClient := NewScriptedLLMClient()
	llmClient.Add(LLMScriptEntry{Error: errors.New("provider exploded")})
	app := NewTestApp(t, WithWorld(llmWorld()), WithLLMClient(llmClient))

	roomID, ownerID, _ := app.CreateRoom(t, map[string]interface{}{
		"start_article":       "Harbor",
		"destination_article": "Island",
		"owner_name":          "alice",
	})
	snapshot := app.AddLLM(t, roomID, map[string]interface{}{
		"requested_by_player_id": ownerID,
		"model":                  "test-model",
	})
	runID := LLMRun(t, snapshot).ID

	app.StartRoom(t, roomID, ownerID)

	run := app.WaitForRunStatus(t, roomID, runID, models.RunStatusFinished)
	require.Equal(t, models.RunResultLose, run.Result)
	lose := run.Steps[len(run.Steps)-1]
	require.Equal(t, models.LoseReasonLLMError, lose.Metadata.Reason)
	require.Contains(t, lose.Metadata.Error, "provider exploded")
}

// TestLLMRunMaxStepsLoss gives the agent a one-hop budget it cannot win
// within; the chosen article lands on the lose step.
func TestLLMRunMaxStepsLoss(t *testing.T) {
	llmClient := NewScriptedLLMClient()
	llmClient.AddText("<answer>2</answer>")
	app := NewTestApp(t, WithWorld(llmWorld()), WithLLMClient(llmClient))

	roomID, ownerID, _ := app.CreateRoom(t, map[string]interface{}{
		"start_article":       "Harbor",
		"destination_article": "Island",
		"owner_name":          "alice",
	})
	snapshot := app.AddLLM(t, roomID, map[string]interface{}{
		"requested_by_player_id": ownerID,
		"model":                  "test-model",
		"max_steps":              1,
	})
	runID := LLMRun(t, snapshot).ID
	require.Equal(t, 1, snapshot.Run(runID).MaxSteps)

	app.StartRoom(t, roomID, ownerID)

	run := app.WaitForRunStatus(t, roomID, runID, models.RunStatusFinished)
	require.Equal(t, models.RunResultLose, run.Result)
	lose := run.Steps[len(run.Steps)-1]
	require.Equal(t, models.LoseReasonMaxSteps, lose.Metadata.Reason)
	require.Equal(t, "Reef", lose.Article)
	require.Equal(t, 2, lose.Metadata.SelectedIndex)
}
