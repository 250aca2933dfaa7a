package room

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/wikiracing-llms/wikirace/pkg/graph"
	"github.com/wikiracing-llms/wikirace/pkg/llm"
	"github.com/wikiracing-llms/wikirace/pkg/models"
)

// runSnapshot is everything an executor iteration needs, captured under
// the room lock. The executor holds no other state across the unlocked
// LLM and graph calls.
type runSnapshot struct {
	current     string
	destination string
	nextHops    int
	maxSteps    int
	maxLinks    int
	maxTokens   int
	model       string
	apiBase     string
	reasoning   string
	temperature *float64
	path        []string
}

// startExecutor spawns the background loop for an LLM run. Registration
// replaces (and cancels) any previous executor for the same run.
func (s *Service) startExecutor(roomID, runID string) {
	ctx, cancel := context.WithCancel(context.Background())
	handle := s.registry.RegisterTask(roomID, runID, cancel)
	go func() {
		defer cancel()
		defer s.registry.ReleaseTask(roomID, runID, handle)
		s.runExecutor(ctx, roomID, runID)
	}()
}

func (s *Service) runExecutor(ctx context.Context, roomID, runID string) {
	slog.Info("LLM executor started", "room_id", roomID, "run_id", runID)
	defer slog.Info("LLM executor stopped", "room_id", roomID, "run_id", runID)

	for {
		if ctx.Err() != nil {
			return
		}
		snap, ok := s.snapshotRun(roomID, runID)
		if !ok {
			return
		}

		// already standing on the destination
		if s.reachesDestination(ctx, snap.current, snap.destination) {
			s.commitStep(ctx, roomID, runID, snap.current, models.Step{
				Type:    models.StepTypeWin,
				Article: snap.destination,
			}, models.RunResultWin)
			return
		}

		article, err := s.graph.ArticleWithLinks(ctx, snap.current)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			reason := models.LoseReasonLLMError
			if errors.Is(err, graph.ErrArticleNotFound) {
				reason = models.LoseReasonArticleNotFound
			}
			s.commitStep(ctx, roomID, runID, snap.current, models.Step{
				Type:     models.StepTypeLose,
				Article:  snap.current,
				Metadata: &models.StepMeta{Reason: reason, Error: err.Error()},
			}, models.RunResultLose)
			return
		}

		links := article.Links
		if snap.maxLinks > 0 && len(links) > snap.maxLinks {
			links = links[:snap.maxLinks]
		}
		if len(links) == 0 {
			s.commitStep(ctx, roomID, runID, snap.current, models.Step{
				Type:     models.StepTypeLose,
				Article:  snap.current,
				Metadata: &models.StepMeta{Reason: models.LoseReasonNoLinks},
			}, models.RunResultLose)
			return
		}

		res, err := llm.ChooseLink(ctx, s.llmClient, llm.ChooseRequest{
			Model:           snap.model,
			Current:         snap.current,
			Target:          snap.destination,
			Path:            snap.path,
			Links:           links,
			MaxTokens:       snap.maxTokens,
			Temperature:     snap.temperature,
			APIBase:         snap.apiBase,
			ReasoningEffort: snap.reasoning,
			MaxTries:        s.llmMaxTries,
		})
		if err != nil {
			// a cancelled call never writes a step; whoever cancelled
			// already recorded the terminal state under the lock
			if ctx.Err() != nil {
				return
			}
			meta := metaFromChoose(res)
			if meta == nil {
				meta = &models.StepMeta{}
			}
			meta.Reason = models.LoseReasonLLMError
			meta.Error = err.Error()
			s.commitStep(ctx, roomID, runID, snap.current, models.Step{
				Type:     models.StepTypeLose,
				Article:  snap.current,
				Metadata: meta,
			}, models.RunResultLose)
			return
		}

		if !res.Chosen() {
			meta := metaFromChoose(res)
			meta.Reason = models.LoseReasonBadAnswer
			meta.AnswerErrors = append([]string(nil), res.AnswerErrors...)
			s.commitStep(ctx, roomID, runID, snap.current, models.Step{
				Type:     models.StepTypeLose,
				Article:  snap.current,
				Metadata: meta,
			}, models.RunResultLose)
			return
		}

		selected := links[res.Index-1]
		meta := metaFromChoose(res)

		if s.reachesDestination(ctx, selected, snap.destination) {
			s.commitStep(ctx, roomID, runID, snap.current, models.Step{
				Type:     models.StepTypeWin,
				Article:  snap.destination,
				Metadata: meta,
			}, models.RunResultWin)
			return
		}

		if snap.nextHops >= snap.maxSteps {
			meta.Reason = models.LoseReasonMaxSteps
			s.commitStep(ctx, roomID, runID, snap.current, models.Step{
				Type:     models.StepTypeLose,
				Article:  s.graph.CanonicalOr(ctx, selected, selected),
				Metadata: meta,
			}, models.RunResultLose)
			return
		}

		if !s.commitStep(ctx, roomID, runID, snap.current, models.Step{
			Type:     models.StepTypeMove,
			Article:  s.graph.CanonicalOr(ctx, selected, selected),
			Metadata: meta,
		}, "") {
			return
		}
	}
}

// snapshotRun captures the executor's view of the run under the room lock.
// ok is false when the room or run is gone or no longer running.
func (s *Service) snapshotRun(roomID, runID string) (*runSnapshot, bool) {
	var snap *runSnapshot
	err := s.registry.WithRoom(roomID, func(room *models.Room) error {
		if room.Status != models.RoomStatusRunning {
			return nil
		}
		run := room.Run(runID)
		if run == nil || run.Status != models.RunStatusRunning {
			return nil
		}
		snap = &runSnapshot{
			current:     run.CurrentArticle(room.StartArticle),
			destination: room.DestinationArticle,
			nextHops:    run.Hops() + 1,
			maxSteps:    run.MaxSteps,
			maxLinks:    run.MaxLinks,
			maxTokens:   run.MaxTokens,
			model:       run.Model,
			apiBase:     run.APIBase,
			reasoning:   run.ReasoningEffort,
			temperature: run.Temperature,
			path:        run.Path(),
		}
		return nil
	})
	if err != nil || snap == nil {
		return nil, false
	}
	return snap, true
}

// commitStep re-acquires the room lock and appends the step only if the
// snapshot is still current: room running, run running, and the run still
// standing on snapCurrent. A non-empty result finishes the run. Returns
// false when the commit was abandoned; the executor must stop then, since
// a restart or cancel took over the run.
func (s *Service) commitStep(ctx context.Context, roomID, runID, snapCurrent string, step models.Step, result models.RunResult) bool {
	if ctx.Err() != nil {
		return false
	}
	var out *models.Room
	committed := false
	err := s.registry.WithRoom(roomID, func(room *models.Room) error {
		// the cancel may have landed while this executor waited for the lock
		if ctx.Err() != nil {
			return nil
		}
		if room.Status != models.RoomStatusRunning {
			return nil
		}
		run := room.Run(runID)
		if run == nil || run.Status != models.RunStatusRunning {
			return nil
		}
		if run.CurrentArticle(room.StartArticle) != snapCurrent {
			return nil
		}

		now := time.Now().UTC()
		step.At = now
		run.Steps = append(run.Steps, step)
		if result != "" {
			finishRun(run, result, now)
			maybeFinishRoom(room, now)
		}
		room.UpdatedAt = now
		committed = true
		out = room.Clone()
		return nil
	})
	if err != nil || !committed {
		return false
	}
	s.broadcast(out)
	return true
}

// reachesDestination reports whether title already counts as the
// destination, directly or through canonicalization, case-insensitively.
func (s *Service) reachesDestination(ctx context.Context, title, destination string) bool {
	if strings.EqualFold(title, destination) {
		return true
	}
	c := s.graph.CanonicalOr(ctx, title, title)
	d := s.graph.CanonicalOr(ctx, destination, destination)
	return strings.EqualFold(c, d)
}

// metaFromChoose carries the decision trace onto the step the decision
// produced. Answer errors stay off successful steps; the bad_answer path
// adds them explicitly.
func metaFromChoose(res *llm.ChooseResult) *models.StepMeta {
	if res == nil {
		return nil
	}
	meta := &models.StepMeta{
		Tries:         res.Tries,
		LLMOutput:     res.Output,
		SelectedIndex: res.Index,
	}
	if len(res.Outputs) > 1 {
		meta.LLMOutputs = append([]string(nil), res.Outputs...)
	}
	if res.Usage != nil {
		meta.PromptTokens = res.Usage.PromptTokens
		meta.CompletionTokens = res.Usage.CompletionTokens
		meta.TotalTokens = res.Usage.TotalTokens
	}
	return meta
}
