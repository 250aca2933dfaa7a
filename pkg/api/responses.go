package api

import (
	"github.com/wikiracing-llms/wikirace/pkg/llm"
	"github.com/wikiracing-llms/wikirace/pkg/models"
)

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status       string `json:"status"`
	ArticleCount int    `json:"article_count"`
}

// ArticleResponse is returned by GET /get_article_with_links.
type ArticleResponse struct {
	Title string   `json:"title"`
	Links []string `json:"links"`
}

// ResolveResponse is returned by GET /resolve_article.
type ResolveResponse struct {
	Exists bool   `json:"exists"`
	Title  string `json:"title,omitempty"`
}

// CanonicalResponse is returned by GET /canonical_title.
type CanonicalResponse struct {
	Title string `json:"title"`
}

// CreateRoomResponse is returned by POST /rooms.
type CreateRoomResponse struct {
	RoomID        string       `json:"room_id"`
	OwnerPlayerID string       `json:"owner_player_id"`
	JoinURL       string       `json:"join_url"`
	Room          *models.Room `json:"room"`
}

// JoinRoomResponse is returned by POST /rooms/:id/join.
type JoinRoomResponse struct {
	PlayerID string       `json:"player_id"`
	Room     *models.Room `json:"room"`
}

// ChooseLinkResponse is returned by POST /llm/choose_link. SelectedIndex is
// 1-based; zero means the retry budget ran out without a parseable answer.
type ChooseLinkResponse struct {
	SelectedIndex int        `json:"selected_index"`
	Tries         int        `json:"tries"`
	LLMOutput     string     `json:"llm_output,omitempty"`
	LLMOutputs    []string   `json:"llm_outputs,omitempty"`
	AnswerErrors  []string   `json:"answer_errors,omitempty"`
	Usage         *llm.Usage `json:"usage,omitempty"`
}

// ValidateMoveResponse is returned by POST /local/validate_move.
type ValidateMoveResponse struct {
	Outcome string `json:"outcome"`
	Article string `json:"article,omitempty"`
	MaxHops int    `json:"max_hops,omitempty"`
}
