package api

// CreateRoomRequest is the HTTP request body for POST /rooms.
type CreateRoomRequest struct {
	StartArticle       string `json:"start_article"`
	DestinationArticle string `json:"destination_article"`
	OwnerName          string `json:"owner_name"`
	MaxHops            int    `json:"max_hops,omitempty"`
	MaxLinks           int    `json:"max_links,omitempty"`
	MaxTokens          int    `json:"max_tokens,omitempty"`
	IncludeImageLinks  bool   `json:"include_image_links,omitempty"`
	DisableLinksView   bool   `json:"disable_links_view,omitempty"`
}

// JoinRoomRequest is the HTTP request body for POST /rooms/:id/join.
type JoinRoomRequest struct {
	Name string `json:"name"`
}

// StartRoomRequest is the HTTP request body for POST /rooms/:id/start.
type StartRoomRequest struct {
	PlayerID string `json:"player_id"`
}

// NewRoundRequest is the HTTP request body for POST /rooms/:id/new_round.
type NewRoundRequest struct {
	PlayerID           string `json:"player_id"`
	StartArticle       string `json:"start_article"`
	DestinationArticle string `json:"destination_article"`
}

// MoveRequest is the HTTP request body for POST /rooms/:id/move.
type MoveRequest struct {
	PlayerID  string `json:"player_id"`
	ToArticle string `json:"to_article"`
}

// AddLLMRequest is the HTTP request body for POST /rooms/:id/add_llm.
// Effort is an alias accepted for providers that expose reasoning effort
// under that name.
type AddLLMRequest struct {
	RequestedByPlayerID string   `json:"requested_by_player_id"`
	Model               string   `json:"model"`
	PlayerName          string   `json:"player_name,omitempty"`
	APIBase             string   `json:"api_base,omitempty"`
	ReasoningEffort     string   `json:"reasoning_effort,omitempty"`
	Effort              string   `json:"effort,omitempty"`
	Temperature         *float64 `json:"temperature,omitempty"`
	MaxSteps            int      `json:"max_steps,omitempty"`
	MaxLinks            int      `json:"max_links,omitempty"`
	MaxTokens           int      `json:"max_tokens,omitempty"`
}

// RunActionRequest is the HTTP request body for the run cancel, restart,
// and abandon endpoints.
type RunActionRequest struct {
	PlayerID string `json:"player_id"`
}

// ChatRequest is the HTTP request body for POST /llm/chat.
type ChatRequest struct {
	Model           string   `json:"model"`
	Prompt          string   `json:"prompt"`
	MaxTokens       int      `json:"max_tokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	APIBase         string   `json:"api_base,omitempty"`
	ReasoningEffort string   `json:"reasoning_effort,omitempty"`
	Effort          string   `json:"effort,omitempty"`
}

// ChooseLinkRequest is the HTTP request body for POST /llm/choose_link.
type ChooseLinkRequest struct {
	Model           string   `json:"model"`
	Current         string   `json:"current"`
	Target          string   `json:"target"`
	Path            []string `json:"path,omitempty"`
	Links           []string `json:"links"`
	MaxTokens       int      `json:"max_tokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	APIBase         string   `json:"api_base,omitempty"`
	ReasoningEffort string   `json:"reasoning_effort,omitempty"`
	Effort          string   `json:"effort,omitempty"`
	MaxTries        int      `json:"max_tries,omitempty"`
}

// ValidateMoveRequest is the HTTP request body for POST /local/validate_move.
type ValidateMoveRequest struct {
	CurrentArticle     string `json:"current_article"`
	ToArticle          string `json:"to_article"`
	DestinationArticle string `json:"destination_article"`
	CurrentHops        int    `json:"current_hops"`
	MaxHops            int    `json:"max_hops"`
}
