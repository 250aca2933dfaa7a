package api

import (
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/wikiracing-llms/wikirace/pkg/llm"
)

// llmChatHandler handles POST /llm/chat: a single-turn completion through
// the gated client, for frontends that drive an agent themselves.
func (s *Server) llmChatHandler(c *echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Model == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "model field is required")
	}
	if req.Prompt == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "prompt field is required")
	}

	effort := req.ReasoningEffort
	if effort == "" {
		effort = req.Effort
	}

	res, err := s.llmClient.Chat(c.Request().Context(), llm.ChatRequest{
		Model:           req.Model,
		Prompt:          req.Prompt,
		MaxTokens:       req.MaxTokens,
		Temperature:     req.Temperature,
		APIBase:         req.APIBase,
		ReasoningEffort: strings.TrimSpace(effort),
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, res)
}

// chooseLinkHandler handles POST /llm/choose_link: one decision-protocol
// round with no room attached. Headless harnesses race models through this.
func (s *Server) chooseLinkHandler(c *echo.Context) error {
	var req ChooseLinkRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Model == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "model field is required")
	}
	if len(req.Links) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "links must not be empty")
	}

	effort := req.ReasoningEffort
	if effort == "" {
		effort = req.Effort
	}

	res, err := llm.ChooseLink(c.Request().Context(), s.llmClient, llm.ChooseRequest{
		Model:           req.Model,
		Current:         req.Current,
		Target:          req.Target,
		Path:            req.Path,
		Links:           req.Links,
		MaxTokens:       req.MaxTokens,
		Temperature:     req.Temperature,
		APIBase:         req.APIBase,
		ReasoningEffort: strings.TrimSpace(effort),
		MaxTries:        req.MaxTries,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, &ChooseLinkResponse{
		SelectedIndex: res.Index,
		Tries:         res.Tries,
		LLMOutput:     res.Output,
		LLMOutputs:    res.Outputs,
		AnswerErrors:  res.AnswerErrors,
		Usage:         res.Usage,
	})
}
