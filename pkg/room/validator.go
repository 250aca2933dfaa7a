package room

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wikiracing-llms/wikirace/pkg/graph"
)

// MoveOutcome classifies a validated move.
type MoveOutcome string

const (
	MoveOutcomeNoop MoveOutcome = "noop"
	MoveOutcomeMove MoveOutcome = "move"
	MoveOutcomeWin  MoveOutcome = "win"
	MoveOutcomeLose MoveOutcome = "lose"
)

// MoveInput carries everything a move check needs. It has no room
// dependency, so the standalone validation endpoint reuses it.
type MoveInput struct {
	Current     string
	To          string
	Destination string
	CurrentHops int
	MaxHops     int
}

// MoveResult is the outcome of a legal move. Article is the title the step
// records: the canonical next article for move/lose, the destination
// verbatim for win, and the canonical current article for no-ops.
type MoveResult struct {
	Outcome MoveOutcome
	Article string
	MaxHops int
}

// Validator applies the move legality rules over the article graph. It is
// shared by the move endpoint, the run executor, and the local validation
// endpoint.
type Validator struct {
	graph *graph.Graph
}

// NewValidator creates a validator over g.
func NewValidator(g *graph.Graph) *Validator {
	return &Validator{graph: g}
}

// normalizeTitle drops a #fragment suffix and maps underscores to spaces.
func normalizeTitle(t string) string {
	if i := strings.IndexByte(t, '#'); i >= 0 {
		t = t[:i]
	}
	return strings.TrimSpace(strings.ReplaceAll(t, "_", " "))
}

// Validate checks one move. Failures come back as errors:
// graph.ErrArticleNotFound for an unknown target, *IllegalMoveError when
// the target is not linked from the current article, and ErrInvariant when
// the current article itself is missing from the graph.
func (v *Validator) Validate(ctx context.Context, in MoveInput) (*MoveResult, error) {
	to := normalizeTitle(in.To)
	current := normalizeTitle(in.Current)

	resolved, err := v.graph.Resolve(ctx, to)
	if err != nil {
		return nil, err
	}
	canonicalNext := v.graph.CanonicalOr(ctx, resolved, resolved)

	currentResolved, err := v.graph.Resolve(ctx, current)
	if err != nil {
		if !errors.Is(err, graph.ErrArticleNotFound) {
			return nil, err
		}
		currentResolved = current
	}
	canonicalCurrent := v.graph.CanonicalOr(ctx, currentResolved, currentResolved)

	if strings.EqualFold(canonicalCurrent, canonicalNext) {
		return &MoveResult{Outcome: MoveOutcomeNoop, Article: canonicalCurrent}, nil
	}

	a, err := v.graph.ArticleWithLinks(ctx, canonicalCurrent)
	if err != nil {
		if errors.Is(err, graph.ErrArticleNotFound) {
			return nil, fmt.Errorf("%w: current article %q missing from graph", ErrInvariant, canonicalCurrent)
		}
		return nil, err
	}

	if !containsTitle(a.Links, resolved) && !containsTitle(a.Links, canonicalNext) {
		return nil, &IllegalMoveError{From: a.Title, To: to}
	}

	nextHops := in.CurrentHops
	if nextHops < 0 {
		nextHops = 0
	}
	nextHops++

	canonicalDest := v.graph.CanonicalOr(ctx, in.Destination, in.Destination)
	reached := strings.EqualFold(canonicalNext, canonicalDest) ||
		strings.EqualFold(canonicalNext, in.Destination)

	switch {
	case reached:
		return &MoveResult{Outcome: MoveOutcomeWin, Article: in.Destination}, nil
	case nextHops >= in.MaxHops:
		return &MoveResult{Outcome: MoveOutcomeLose, Article: canonicalNext, MaxHops: in.MaxHops}, nil
	default:
		return &MoveResult{Outcome: MoveOutcomeMove, Article: canonicalNext}, nil
	}
}

func containsTitle(links []string, title string) bool {
	for _, l := range links {
		if l == title {
			return true
		}
	}
	return false
}
