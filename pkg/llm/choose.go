package llm

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// answerPattern matches the answer tag the prompt asks for.
var answerPattern = regexp.MustCompile(`(?i)<answer>(\d+)</answer>`)

const (
	// DefaultMaxTries is the retry budget when the caller does not set one.
	DefaultMaxTries = 3
	maxTriesCap     = 10
)

// ChooseRequest asks a model to pick one outbound link by 1-based index.
type ChooseRequest struct {
	Model           string
	Current         string
	Target          string
	Path            []string
	Links           []string
	MaxTokens       int
	Temperature     *float64
	APIBase         string
	ReasoningEffort string
	MaxTries        int
}

// ChooseResult reports the decision outcome. Index is 1-based; zero means
// the retry budget was exhausted without a parseable answer.
type ChooseResult struct {
	Index        int
	Tries        int
	Output       string
	Outputs      []string
	AnswerErrors []string
	Usage        *Usage
}

// Chosen reports whether a valid index was selected.
func (r *ChooseResult) Chosen() bool { return r.Index > 0 }

// BuildPrompt renders the fixed decision prompt.
func BuildPrompt(current, target string, path, links []string) string {
	var b strings.Builder
	b.WriteString("You are playing WikiRace: reach the target article by following links from the current article.\n\n")
	fmt.Fprintf(&b, "Target article: %s\n", target)
	fmt.Fprintf(&b, "Current article: %s\n", current)
	if len(path) > 0 {
		fmt.Fprintf(&b, "Path so far: %s\n", strings.Join(path, " -> "))
	}
	b.WriteString("\nLinks available from the current article:\n")
	for i, link := range links {
		fmt.Fprintf(&b, "%d. %s\n", i+1, link)
	}
	b.WriteString("\nPick the single link most likely to lead to the target article. Answer with its number inside answer tags, e.g. <answer>1</answer>.")
	return b.String()
}

// ExtractAnswer parses model output for exactly one in-range answer tag and
// returns the 1-based index. On failure the second return is the hint fed
// back to the model on the next attempt.
func ExtractAnswer(output string, linkCount int) (int, string) {
	matches := answerPattern.FindAllStringSubmatch(output, -1)
	if len(matches) == 0 {
		return 0, fmt.Sprintf("No <answer> found. Choose 1..%d", linkCount)
	}
	if len(matches) > 1 {
		return 0, "Multiple <answer> tags"
	}
	idx, err := strconv.Atoi(matches[0][1])
	if err != nil || idx < 1 || idx > linkCount {
		return 0, fmt.Sprintf("Answer out of bounds. Choose 1..%d", linkCount)
	}
	return idx, ""
}

// ChooseLink runs the decision protocol: prompt, parse, retry with an
// IMPORTANT hint appended, up to the request's try budget. A non-nil error
// is a transport or provider failure; running out of tries is not an error
// and is reported through the result (Index zero, AnswerErrors populated).
// Usage observed before a failure is kept on the result either way.
func ChooseLink(ctx context.Context, client Client, req ChooseRequest) (*ChooseResult, error) {
	maxTries := req.MaxTries
	if maxTries <= 0 {
		maxTries = DefaultMaxTries
	}
	if maxTries > maxTriesCap {
		maxTries = maxTriesCap
	}

	basePrompt := BuildPrompt(req.Current, req.Target, req.Path, req.Links)
	prompt := basePrompt
	res := &ChooseResult{}
	var usage usageAccumulator

	for try := 1; try <= maxTries; try++ {
		res.Tries = try

		chat, err := client.Chat(ctx, ChatRequest{
			Model:           req.Model,
			Prompt:          prompt,
			MaxTokens:       req.MaxTokens,
			Temperature:     req.Temperature,
			APIBase:         req.APIBase,
			ReasoningEffort: req.ReasoningEffort,
		})
		if err != nil {
			res.Usage = usage.sum()
			return res, err
		}

		usage.add(chat.Usage)
		res.Output = chat.Content
		res.Outputs = append(res.Outputs, chat.Content)

		idx, hint := ExtractAnswer(chat.Content, len(req.Links))
		if hint == "" {
			res.Index = idx
			res.Usage = usage.sum()
			return res, nil
		}
		res.AnswerErrors = append(res.AnswerErrors, hint)
		prompt = basePrompt + "\n\nIMPORTANT: " + hint
	}

	res.Usage = usage.sum()
	return res, nil
}

// usageAccumulator sums counters across attempts, tracking per field
// whether it was ever observed.
type usageAccumulator struct {
	prompt     *int
	completion *int
	total      *int
}

func (a *usageAccumulator) add(u *Usage) {
	if u == nil {
		return
	}
	addCounter(&a.prompt, u.PromptTokens)
	addCounter(&a.completion, u.CompletionTokens)
	addCounter(&a.total, u.TotalTokens)
}

func addCounter(dst **int, v *int) {
	if v == nil {
		return
	}
	if *dst == nil {
		n := 0
		*dst = &n
	}
	**dst += *v
}

// sum returns the accumulated usage, synthesizing total_tokens from the
// sub-counts when the provider never reported it.
func (a *usageAccumulator) sum() *Usage {
	if a.prompt == nil && a.completion == nil && a.total == nil {
		return nil
	}
	u := &Usage{
		PromptTokens:     a.prompt,
		CompletionTokens: a.completion,
		TotalTokens:      a.total,
	}
	if u.TotalTokens == nil {
		n := 0
		if a.prompt != nil {
			n += *a.prompt
		}
		if a.completion != nil {
			n += *a.completion
		}
		u.TotalTokens = &n
	}
	return u
}
