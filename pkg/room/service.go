// Package room implements the multiplayer race core: the room registry,
// the state machine for rooms and runs, move validation, and the LLM run
// executors.
package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wikiracing-llms/wikirace/pkg/graph"
	"github.com/wikiracing-llms/wikirace/pkg/llm"
	"github.com/wikiracing-llms/wikirace/pkg/models"
)

// DefaultMaxHops applies when a room is created without an explicit limit.
const DefaultMaxHops = 20

const roomIDAttempts = 10

// Broadcaster pushes room snapshots to attached sockets. Implementations
// must tolerate rooms without listeners.
type Broadcaster interface {
	BroadcastRoom(room *models.Room)
	// CloseRoom closes every socket attached to the room.
	CloseRoom(roomID string)
}

// ServiceConfig tunes the room service.
type ServiceConfig struct {
	// MaxLLMRunsPerRoom caps unfinished LLM runs per room.
	MaxLLMRunsPerRoom int
	// LLMMaxTries is the decision-protocol retry budget.
	LLMMaxTries int
}

// Service owns all room operations. Every mutation happens under the
// room's lock; broadcasts go out only after the lock is released and only
// when state actually changed.
type Service struct {
	registry    *Registry
	graph       *graph.Graph
	validator   *Validator
	llmClient   llm.Client
	broadcaster Broadcaster
	maxLLMRuns  int
	llmMaxTries int
}

// NewService wires the room service. broadcaster may be nil (headless use).
func NewService(registry *Registry, g *graph.Graph, llmClient llm.Client, broadcaster Broadcaster, cfg ServiceConfig) *Service {
	maxLLMRuns := cfg.MaxLLMRunsPerRoom
	if maxLLMRuns <= 0 {
		maxLLMRuns = 8
	}
	llmMaxTries := cfg.LLMMaxTries
	if llmMaxTries <= 0 {
		llmMaxTries = llm.DefaultMaxTries
	}
	return &Service{
		registry:    registry,
		graph:       g,
		validator:   NewValidator(g),
		llmClient:   llmClient,
		broadcaster: broadcaster,
		maxLLMRuns:  maxLLMRuns,
		llmMaxTries: llmMaxTries,
	}
}

// Registry exposes the underlying registry (reaper and tests).
func (s *Service) Registry() *Registry {
	return s.registry
}

// Validator exposes the move validator (local validation endpoint).
func (s *Service) Validator() *Validator {
	return s.validator
}

func (s *Service) broadcast(room *models.Room) {
	if s.broadcaster != nil && room != nil {
		s.broadcaster.BroadcastRoom(room)
	}
}

// CreateRoomRequest carries the create parameters after transport decoding.
type CreateRoomRequest struct {
	StartArticle       string
	DestinationArticle string
	OwnerName          string
	MaxHops            int
	MaxLinks           int
	MaxTokens          int
	IncludeImageLinks  bool
	DisableLinksView   bool
}

// CreateRoom canonicalizes the article pair, builds the owner's player and
// human run, and installs the room in the lobby state.
func (s *Service) CreateRoom(ctx context.Context, req CreateRoomRequest) (*models.Room, error) {
	ownerName := strings.TrimSpace(req.OwnerName)
	if ownerName == "" {
		return nil, NewValidationError("owner_name", "required")
	}
	maxHops := req.MaxHops
	if maxHops == 0 {
		maxHops = DefaultMaxHops
	}
	if maxHops < 1 {
		return nil, NewValidationError("max_hops", "must be at least 1")
	}
	if req.MaxLinks < 0 {
		return nil, NewValidationError("max_links", "must be positive")
	}
	if req.MaxTokens < 0 {
		return nil, NewValidationError("max_tokens", "must be positive")
	}

	start, err := s.canonicalArticle(ctx, "start_article", req.StartArticle)
	if err != nil {
		return nil, err
	}
	dest, err := s.canonicalArticle(ctx, "destination_article", req.DestinationArticle)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(start, dest) {
		return nil, NewValidationError("destination_article", "must differ from the start article")
	}

	now := time.Now().UTC()
	owner := models.Player{ID: NewPlayerID(), Name: ownerName, JoinedAt: now}
	room := &models.Room{
		StartArticle:       start,
		DestinationArticle: dest,
		Rules: models.Rules{
			MaxHops:           maxHops,
			MaxLinks:          req.MaxLinks,
			MaxTokens:         req.MaxTokens,
			IncludeImageLinks: req.IncludeImageLinks,
			DisableLinksView:  req.DisableLinksView,
		},
		OwnerPlayerID: owner.ID,
		Status:        models.RoomStatusLobby,
		CreatedAt:     now,
		UpdatedAt:     now,
		Players:       []models.Player{owner},
		Runs: []models.Run{{
			ID:         NewRunID(),
			Kind:       models.RunKindHuman,
			Status:     models.RunStatusNotStarted,
			PlayerID:   owner.ID,
			PlayerName: owner.Name,
			MaxSteps:   maxHops,
			Steps:      []models.Step{},
		}},
	}

	for attempt := 0; attempt < roomIDAttempts; attempt++ {
		room.ID = NewRoomID()
		if s.registry.Install(room) {
			slog.Info("Room created",
				"room_id", room.ID,
				"start_article", start,
				"destination_article", dest,
				"max_hops", maxHops)
			return room.Clone(), nil
		}
	}
	return nil, fmt.Errorf("failed to allocate a unique room id")
}

func (s *Service) canonicalArticle(ctx context.Context, field, title string) (string, error) {
	c, err := s.graph.Canonical(ctx, title)
	if errors.Is(err, graph.ErrArticleNotFound) {
		return "", NewValidationError(field, fmt.Sprintf("article %q not found", strings.TrimSpace(title)))
	}
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize %s: %w", field, err)
	}
	return c, nil
}

// Get returns a snapshot of the room.
func (s *Service) Get(roomID string) (*models.Room, error) {
	return s.registry.Snapshot(roomID)
}

// Join adds a player and their human run. Joining a running room starts
// the run immediately; joining a finished room reopens the race.
func (s *Service) Join(ctx context.Context, roomID, name string) (string, *models.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", nil, NewValidationError("name", "required")
	}

	var out *models.Room
	var playerID string
	err := s.registry.WithRoom(roomID, func(room *models.Room) error {
		now := time.Now().UTC()
		player := models.Player{ID: NewPlayerID(), Name: name, JoinedAt: now}
		run := models.Run{
			ID:         NewRunID(),
			Kind:       models.RunKindHuman,
			Status:     models.RunStatusNotStarted,
			PlayerID:   player.ID,
			PlayerName: name,
			MaxSteps:   room.Rules.MaxHops,
			Steps:      []models.Step{},
		}

		switch room.Status {
		case models.RoomStatusRunning:
			beginRun(&run, room.StartArticle, now)
		case models.RoomStatusFinished:
			// late joins reopen the race
			room.Status = models.RoomStatusRunning
			room.FinishedAt = nil
			beginRun(&run, room.StartArticle, now)
		}

		room.Players = append(room.Players, player)
		room.Runs = append(room.Runs, run)
		room.UpdatedAt = now
		playerID = player.ID
		out = room.Clone()
		return nil
	})
	if err != nil {
		return "", nil, err
	}

	slog.Info("Player joined room", "room_id", roomID, "player_id", playerID, "name", name)
	s.broadcast(out)
	return playerID, out, nil
}

// Start moves the room from lobby to running and starts every run. Only
// the owner may start; a second start is a no-op returning current state.
func (s *Service) Start(ctx context.Context, roomID, playerID string) (*models.Room, error) {
	var out *models.Room
	var llmRunIDs []string
	changed := false
	err := s.registry.WithRoom(roomID, func(room *models.Room) error {
		if room.Player(playerID) == nil {
			return ErrPlayerNotFound
		}
		if room.OwnerPlayerID != playerID {
			return ErrNotOwner
		}
		if room.Status != models.RoomStatusLobby {
			out = room.Clone()
			return nil
		}

		now := time.Now().UTC()
		room.Status = models.RoomStatusRunning
		room.StartedAt = &now
		for i := range room.Runs {
			run := &room.Runs[i]
			if run.Status != models.RunStatusNotStarted {
				continue
			}
			beginRun(run, room.StartArticle, now)
			if run.Kind == models.RunKindLLM {
				llmRunIDs = append(llmRunIDs, run.ID)
			}
		}
		room.UpdatedAt = now
		changed = true
		out = room.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return out, nil
	}

	slog.Info("Room started", "room_id", roomID, "llm_runs", len(llmRunIDs))
	s.broadcast(out)
	for _, runID := range llmRunIDs {
		s.startExecutor(roomID, runID)
	}
	return out, nil
}

// NewRound rotates the room onto a fresh article pair: all runs reset to
// not_started with empty step logs and the room returns to the lobby.
func (s *Service) NewRound(ctx context.Context, roomID, playerID, startArticle, destinationArticle string) (*models.Room, error) {
	start, err := s.canonicalArticle(ctx, "start_article", startArticle)
	if err != nil {
		return nil, err
	}
	dest, err := s.canonicalArticle(ctx, "destination_article", destinationArticle)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(start, dest) {
		return nil, NewValidationError("destination_article", "must differ from the start article")
	}

	var out *models.Room
	err = s.registry.WithRoom(roomID, func(room *models.Room) error {
		if room.Player(playerID) == nil {
			return ErrPlayerNotFound
		}
		if room.OwnerPlayerID != playerID {
			return ErrNotOwner
		}

		// stale executors must not outlive the round they ran in
		s.registry.CancelRoomTasks(roomID)

		now := time.Now().UTC()
		room.StartArticle = start
		room.DestinationArticle = dest
		room.Status = models.RoomStatusLobby
		room.StartedAt = nil
		room.FinishedAt = nil
		for i := range room.Runs {
			resetRun(&room.Runs[i])
		}
		room.UpdatedAt = now
		out = room.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Room rotated to new round", "room_id", roomID, "start_article", start, "destination_article", dest)
	s.broadcast(out)
	return out, nil
}

// Move validates and applies one human move. A move onto the current
// article is a no-op: no state change, no broadcast, current snapshot back.
func (s *Service) Move(ctx context.Context, roomID, playerID, toArticle string) (*models.Room, error) {
	var out *models.Room
	changed := false
	err := s.registry.WithRoom(roomID, func(room *models.Room) error {
		if room.Player(playerID) == nil {
			return ErrPlayerNotFound
		}
		if room.Status != models.RoomStatusRunning {
			return ErrRoomNotRunning
		}
		run := room.HumanRunForPlayer(playerID)
		if run == nil {
			return ErrRunNotFound
		}
		if run.Status != models.RunStatusRunning {
			return ErrRunNotRunning
		}

		res, err := s.validator.Validate(ctx, MoveInput{
			Current:     run.CurrentArticle(room.StartArticle),
			To:          toArticle,
			Destination: room.DestinationArticle,
			CurrentHops: run.Hops(),
			MaxHops:     run.MaxSteps,
		})
		if err != nil {
			return err
		}
		if res.Outcome == MoveOutcomeNoop {
			out = room.Clone()
			return nil
		}

		now := time.Now().UTC()
		step := models.Step{Article: res.Article, At: now}
		switch res.Outcome {
		case MoveOutcomeWin:
			step.Type = models.StepTypeWin
			finishRun(run, models.RunResultWin, now)
		case MoveOutcomeLose:
			step.Type = models.StepTypeLose
			step.Metadata = &models.StepMeta{Reason: models.LoseReasonMaxHops, MaxHops: res.MaxHops}
			finishRun(run, models.RunResultLose, now)
		default:
			step.Type = models.StepTypeMove
		}
		run.Steps = append(run.Steps, step)
		maybeFinishRoom(room, now)
		room.UpdatedAt = now
		changed = true
		out = room.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.broadcast(out)
	}
	return out, nil
}

// AddLLMRequest carries the add_llm parameters after transport decoding.
type AddLLMRequest struct {
	RoomID              string
	RequestedByPlayerID string
	Model               string
	PlayerName          string
	APIBase             string
	ReasoningEffort     string
	Temperature         *float64
	MaxSteps            int
	MaxLinks            int
	MaxTokens           int
}

// AddLLM adds an agent run. In the lobby the run waits for start; in a
// running room it starts immediately; in a finished room it reopens the
// race. The per-room cap counts unfinished LLM runs only.
func (s *Service) AddLLM(ctx context.Context, req AddLLMRequest) (*models.Room, error) {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		return nil, NewValidationError("model", "required")
	}
	if req.MaxSteps < 0 {
		return nil, NewValidationError("max_steps", "must be positive")
	}
	if req.MaxLinks < 0 {
		return nil, NewValidationError("max_links", "must be positive")
	}
	if req.MaxTokens < 0 {
		return nil, NewValidationError("max_tokens", "must be positive")
	}

	var out *models.Room
	var runID string
	spawn := false
	err := s.registry.WithRoom(req.RoomID, func(room *models.Room) error {
		if room.Player(req.RequestedByPlayerID) == nil {
			return ErrPlayerNotFound
		}
		if room.OwnerPlayerID != req.RequestedByPlayerID {
			return ErrNotOwner
		}
		if room.ActiveLLMRuns() >= s.maxLLMRuns {
			return ErrLLMRunLimit
		}

		now := time.Now().UTC()
		name := strings.TrimSpace(req.PlayerName)
		if name == "" {
			name = model
		}
		run := models.Run{
			ID:              NewRunID(),
			Kind:            models.RunKindLLM,
			Status:          models.RunStatusNotStarted,
			PlayerName:      name,
			Model:           model,
			APIBase:         strings.TrimSpace(req.APIBase),
			ReasoningEffort: strings.TrimSpace(req.ReasoningEffort),
			Temperature:     req.Temperature,
			MaxSteps:        positiveOr(req.MaxSteps, room.Rules.MaxHops),
			MaxLinks:        positiveOr(req.MaxLinks, room.Rules.MaxLinks),
			MaxTokens:       positiveOr(req.MaxTokens, room.Rules.MaxTokens),
			Steps:           []models.Step{},
		}

		switch room.Status {
		case models.RoomStatusRunning:
			beginRun(&run, room.StartArticle, now)
			spawn = true
		case models.RoomStatusFinished:
			room.Status = models.RoomStatusRunning
			room.FinishedAt = nil
			beginRun(&run, room.StartArticle, now)
			spawn = true
		}

		room.Runs = append(room.Runs, run)
		room.UpdatedAt = now
		runID = run.ID
		out = room.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("LLM run added", "room_id", req.RoomID, "run_id", runID, "model", model, "started", spawn)
	s.broadcast(out)
	if spawn {
		s.startExecutor(req.RoomID, runID)
	}
	return out, nil
}

// CancelRun stops an LLM run. In the lobby the run is removed outright;
// in a running room it is forced to a terminal lose with reason cancelled.
func (s *Service) CancelRun(ctx context.Context, roomID, playerID, runID string) (*models.Room, error) {
	var out *models.Room
	err := s.registry.WithRoom(roomID, func(room *models.Room) error {
		if room.Player(playerID) == nil {
			return ErrPlayerNotFound
		}
		if room.OwnerPlayerID != playerID {
			return ErrNotOwner
		}
		run := room.Run(runID)
		if run == nil {
			return ErrRunNotFound
		}
		if run.Kind != models.RunKindLLM {
			return ErrWrongRunKind
		}

		now := time.Now().UTC()
		if room.Status == models.RoomStatusLobby {
			room.Runs = removeRun(room.Runs, runID)
		} else {
			if run.Status != models.RunStatusRunning {
				return ErrRunNotRunning
			}
			run.Steps = append(run.Steps, models.Step{
				Type:     models.StepTypeLose,
				Article:  run.CurrentArticle(room.StartArticle),
				At:       now,
				Metadata: &models.StepMeta{Reason: models.LoseReasonCancelled},
			})
			finishRun(run, models.RunResultLose, now)
			maybeFinishRoom(room, now)
		}

		// cancel under the lock so an in-flight commit observing the lock
		// afterwards always sees a dead context
		s.registry.CancelTask(roomID, runID)
		room.UpdatedAt = now
		out = room.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("LLM run cancelled", "room_id", roomID, "run_id", runID)
	s.broadcast(out)
	return out, nil
}

// RestartRun resets an LLM run to a fresh attempt. In a running room the
// run restarts immediately under a new executor; otherwise it returns to
// not_started and waits for the next start.
func (s *Service) RestartRun(ctx context.Context, roomID, playerID, runID string) (*models.Room, error) {
	var out *models.Room
	spawn := false
	err := s.registry.WithRoom(roomID, func(room *models.Room) error {
		if room.Player(playerID) == nil {
			return ErrPlayerNotFound
		}
		if room.OwnerPlayerID != playerID {
			return ErrNotOwner
		}
		run := room.Run(runID)
		if run == nil {
			return ErrRunNotFound
		}
		if run.Kind != models.RunKindLLM {
			return ErrWrongRunKind
		}

		// the old executor must die before the reset state is visible
		s.registry.CancelTask(roomID, runID)

		now := time.Now().UTC()
		resetRun(run)
		if room.Status == models.RoomStatusRunning {
			beginRun(run, room.StartArticle, now)
			spawn = true
		}
		room.UpdatedAt = now
		out = room.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("LLM run restarted", "room_id", roomID, "run_id", runID, "started", spawn)
	s.broadcast(out)
	if spawn {
		s.startExecutor(roomID, runID)
	}
	return out, nil
}

// AbandonRun lets a human player give up their own run.
func (s *Service) AbandonRun(ctx context.Context, roomID, playerID, runID string) (*models.Room, error) {
	var out *models.Room
	err := s.registry.WithRoom(roomID, func(room *models.Room) error {
		if room.Player(playerID) == nil {
			return ErrPlayerNotFound
		}
		run := room.Run(runID)
		if run == nil {
			return ErrRunNotFound
		}
		if run.Kind != models.RunKindHuman {
			return ErrWrongRunKind
		}
		if run.PlayerID != playerID {
			return ErrNotRunOwner
		}
		if run.Status != models.RunStatusRunning {
			return ErrRunNotRunning
		}

		now := time.Now().UTC()
		run.Steps = append(run.Steps, models.Step{
			Type:     models.StepTypeLose,
			Article:  run.CurrentArticle(room.StartArticle),
			At:       now,
			Metadata: &models.StepMeta{Reason: models.LoseReasonAbandoned},
		})
		finishRun(run, models.RunResultAbandoned, now)
		maybeFinishRoom(room, now)
		room.UpdatedAt = now
		out = room.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Run abandoned", "room_id", roomID, "run_id", runID, "player_id", playerID)
	s.broadcast(out)
	return out, nil
}

// SetPlayerConnected flips a player's presence flag, broadcasting only on
// an actual change. Unknown players are ignored (stale sockets).
func (s *Service) SetPlayerConnected(roomID, playerID string, connected bool) {
	if playerID == "" {
		return
	}
	var out *models.Room
	changed := false
	_ = s.registry.WithRoom(roomID, func(room *models.Room) error {
		p := room.Player(playerID)
		if p == nil || p.Connected == connected {
			return nil
		}
		p.Connected = connected
		room.UpdatedAt = time.Now().UTC()
		changed = true
		out = room.Clone()
		return nil
	})
	if changed {
		s.broadcast(out)
	}
}

// ReapIdle deletes rooms whose updated_at is older than ttl, cancelling
// their executors and closing their sockets. Returns the reaped ids.
func (s *Service) ReapIdle(ttl time.Duration) []string {
	cutoff := time.Now().UTC().Add(-ttl)
	var reaped []string
	for _, id := range s.registry.IDs() {
		expired := false
		err := s.registry.WithRoom(id, func(room *models.Room) error {
			expired = room.UpdatedAt.Before(cutoff)
			return nil
		})
		if err != nil || !expired {
			continue
		}
		if s.registry.Delete(id) {
			if s.broadcaster != nil {
				s.broadcaster.CloseRoom(id)
			}
			reaped = append(reaped, id)
			slog.Info("Reaped idle room", "room_id", id)
		}
	}
	return reaped
}

// beginRun transitions a fresh or reset run into the running state with
// its start step.
func beginRun(run *models.Run, startArticle string, now time.Time) {
	run.Status = models.RunStatusRunning
	run.StartedAt = &now
	run.Steps = append(run.Steps, models.Step{
		Type:    models.StepTypeStart,
		Article: startArticle,
		At:      now,
	})
}

func finishRun(run *models.Run, result models.RunResult, now time.Time) {
	run.Status = models.RunStatusFinished
	run.Result = result
	run.FinishedAt = &now
}

func resetRun(run *models.Run) {
	run.Status = models.RunStatusNotStarted
	run.Result = ""
	run.StartedAt = nil
	run.FinishedAt = nil
	run.Steps = []models.Step{}
}

// maybeFinishRoom closes the room once its last unfinished run terminates.
func maybeFinishRoom(room *models.Room, now time.Time) {
	if room.Status == models.RoomStatusRunning && room.AllRunsFinished() {
		room.Status = models.RoomStatusFinished
		room.FinishedAt = &now
	}
}

func removeRun(runs []models.Run, runID string) []models.Run {
	out := runs[:0]
	for i := range runs {
		if runs[i].ID != runID {
			out = append(out, runs[i])
		}
	}
	return out
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
