package models

import "time"

// RoomStatus is the lifecycle state of a room.
type RoomStatus string

const (
	RoomStatusLobby    RoomStatus = "lobby"
	RoomStatusRunning  RoomStatus = "running"
	RoomStatusFinished RoomStatus = "finished"
)

// RunKind distinguishes human-driven runs from LLM agent runs.
type RunKind string

const (
	RunKindHuman RunKind = "human"
	RunKindLLM   RunKind = "llm"
)

// RunStatus is the lifecycle state of a single run.
type RunStatus string

const (
	RunStatusNotStarted RunStatus = "not_started"
	RunStatusRunning    RunStatus = "running"
	RunStatusFinished   RunStatus = "finished"
)

// RunResult is the terminal outcome of a finished run.
type RunResult string

const (
	RunResultWin       RunResult = "win"
	RunResultLose      RunResult = "lose"
	RunResultAbandoned RunResult = "abandoned"
)

// StepType classifies entries in a run's step log.
type StepType string

const (
	StepTypeStart StepType = "start"
	StepTypeMove  StepType = "move"
	StepTypeWin   StepType = "win"
	StepTypeLose  StepType = "lose"
)

// Loss reasons recorded in StepMeta.Reason.
const (
	LoseReasonMaxHops         = "max_hops"
	LoseReasonMaxSteps        = "max_steps"
	LoseReasonCancelled       = "cancelled"
	LoseReasonAbandoned       = "abandoned"
	LoseReasonNoLinks         = "no_links"
	LoseReasonBadAnswer       = "bad_answer"
	LoseReasonLLMError        = "llm_error"
	LoseReasonArticleNotFound = "article_not_found"
)

// StepMeta carries the optional per-step detail: loss reasons for terminal
// steps and the LLM decision trace for agent steps. Token counters are
// pointers so absent usage stays absent on the wire.
type StepMeta struct {
	Reason           string   `json:"reason,omitempty"`
	MaxHops          int      `json:"max_hops,omitempty"`
	Error            string   `json:"error,omitempty"`
	SelectedIndex    int      `json:"selected_index,omitempty"`
	Tries            int      `json:"tries,omitempty"`
	LLMOutput        string   `json:"llm_output,omitempty"`
	LLMOutputs       []string `json:"llm_outputs,omitempty"`
	AnswerErrors     []string `json:"answer_errors,omitempty"`
	PromptTokens     *int     `json:"prompt_tokens,omitempty"`
	CompletionTokens *int     `json:"completion_tokens,omitempty"`
	TotalTokens      *int     `json:"total_tokens,omitempty"`
}

// Step is one entry in a run's append-only step log. Article holds the
// canonical title the run sits on after the step; win steps record the
// room's destination article verbatim.
type Step struct {
	Type     StepType  `json:"type"`
	Article  string    `json:"article"`
	At       time.Time `json:"at"`
	Metadata *StepMeta `json:"metadata,omitempty"`
}

// Run is one racer's attempt inside a room.
type Run struct {
	ID              string     `json:"id"`
	Kind            RunKind    `json:"kind"`
	Status          RunStatus  `json:"status"`
	Result          RunResult  `json:"result,omitempty"`
	PlayerID        string     `json:"player_id,omitempty"`
	PlayerName      string     `json:"player_name,omitempty"`
	Model           string     `json:"model,omitempty"`
	APIBase         string     `json:"api_base,omitempty"`
	ReasoningEffort string     `json:"reasoning_effort,omitempty"`
	Temperature     *float64   `json:"temperature,omitempty"`
	MaxSteps        int        `json:"max_steps"`
	MaxLinks        int        `json:"max_links,omitempty"`
	MaxTokens       int        `json:"max_tokens,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	Steps           []Step     `json:"steps"`
}

// CurrentArticle returns the article the run sits on, falling back to the
// given start article when the run has no steps yet.
func (r *Run) CurrentArticle(start string) string {
	if len(r.Steps) == 0 {
		return start
	}
	return r.Steps[len(r.Steps)-1].Article
}

// Hops counts completed hops: steps excluding the initial start step,
// clamped at zero.
func (r *Run) Hops() int {
	h := len(r.Steps) - 1
	if h < 0 {
		return 0
	}
	return h
}

// Path returns the ordered articles visited so far.
func (r *Run) Path() []string {
	path := make([]string, 0, len(r.Steps))
	for _, s := range r.Steps {
		path = append(path, s.Article)
	}
	return path
}

// Player is a human participant in a room.
type Player struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Connected bool      `json:"connected"`
	JoinedAt  time.Time `json:"joined_at"`
}

// Rules are the room-wide race settings chosen at creation (and on each
// new round). MaxLinks and MaxTokens are optional caps for LLM runs.
type Rules struct {
	MaxHops           int  `json:"max_hops"`
	MaxLinks          int  `json:"max_links,omitempty"`
	MaxTokens         int  `json:"max_tokens,omitempty"`
	IncludeImageLinks bool `json:"include_image_links"`
	DisableLinksView  bool `json:"disable_links_view"`
}

// Room is the full authoritative state of one race room. It is also the
// wire shape: snapshots of this struct are what REST responses and
// room_state frames carry.
type Room struct {
	ID                 string     `json:"id"`
	StartArticle       string     `json:"start_article"`
	DestinationArticle string     `json:"destination_article"`
	Rules              Rules      `json:"rules"`
	OwnerPlayerID      string     `json:"owner_player_id"`
	Status             RoomStatus `json:"status"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	FinishedAt         *time.Time `json:"finished_at,omitempty"`
	Players            []Player   `json:"players"`
	Runs               []Run      `json:"runs"`
}

// Player returns the player with the given id, or nil.
func (r *Room) Player(id string) *Player {
	for i := range r.Players {
		if r.Players[i].ID == id {
			return &r.Players[i]
		}
	}
	return nil
}

// Run returns the run with the given id, or nil.
func (r *Room) Run(id string) *Run {
	for i := range r.Runs {
		if r.Runs[i].ID == id {
			return &r.Runs[i]
		}
	}
	return nil
}

// HumanRunForPlayer returns the player's human run, or nil.
func (r *Room) HumanRunForPlayer(playerID string) *Run {
	for i := range r.Runs {
		if r.Runs[i].Kind == RunKindHuman && r.Runs[i].PlayerID == playerID {
			return &r.Runs[i]
		}
	}
	return nil
}

// ActiveLLMRuns counts LLM runs that have not finished.
func (r *Room) ActiveLLMRuns() int {
	n := 0
	for i := range r.Runs {
		if r.Runs[i].Kind == RunKindLLM && r.Runs[i].Status != RunStatusFinished {
			n++
		}
	}
	return n
}

// AllRunsFinished reports whether the room has at least one run and every
// run is finished.
func (r *Room) AllRunsFinished() bool {
	if len(r.Runs) == 0 {
		return false
	}
	for i := range r.Runs {
		if r.Runs[i].Status != RunStatusFinished {
			return false
		}
	}
	return true
}

// Clone deep-copies the room so callers can hand out snapshots after the
// room lock is released.
func (r *Room) Clone() *Room {
	c := *r
	c.StartedAt = cloneTime(r.StartedAt)
	c.FinishedAt = cloneTime(r.FinishedAt)
	c.Players = make([]Player, len(r.Players))
	copy(c.Players, r.Players)
	c.Runs = make([]Run, len(r.Runs))
	for i := range r.Runs {
		c.Runs[i] = *cloneRun(&r.Runs[i])
	}
	return &c
}

func cloneRun(r *Run) *Run {
	c := *r
	c.StartedAt = cloneTime(r.StartedAt)
	c.FinishedAt = cloneTime(r.FinishedAt)
	c.Temperature = cloneFloat(r.Temperature)
	c.Steps = make([]Step, len(r.Steps))
	for i := range r.Steps {
		c.Steps[i] = r.Steps[i]
		if m := r.Steps[i].Metadata; m != nil {
			mc := *m
			mc.LLMOutputs = append([]string(nil), m.LLMOutputs...)
			mc.AnswerErrors = append([]string(nil), m.AnswerErrors...)
			mc.PromptTokens = cloneInt(m.PromptTokens)
			mc.CompletionTokens = cloneInt(m.CompletionTokens)
			mc.TotalTokens = cloneInt(m.TotalTokens)
			c.Steps[i].Metadata = &mc
		}
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
