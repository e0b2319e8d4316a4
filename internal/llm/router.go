package llm

import (
	"context"
	"fmt"
	"unicode/utf8"
)

// Tier is a cost/capability class of model.
type Tier string

const (
	TierLight Tier = "light"
	TierHeavy Tier = "heavy"
)

// Purpose names the kind of work a model call serves. The purpose picks the
// default tier.
type Purpose string

const (
	PurposePlan       Purpose = "plan"
	PurposeSearch     Purpose = "search"
	PurposeClassify   Purpose = "classify"
	PurposeCritique   Purpose = "critique"
	PurposeSynthesize Purpose = "synthesize"
)

// DefaultLengthThreshold is the input size, in characters, above which every
// call is routed to the heavy tier.
const DefaultLengthThreshold = 5000

// Client is a model backend able to serve both tiers.
type Client interface {
	// Complete runs prompt on the model behind tier. When schema is non-empty
	// the payload is expected to be JSON conforming to it.
	Complete(ctx context.Context, tier Tier, prompt, schema string) (payload string, tokens int64, err error)
}

// Request is one routed model call.
type Request struct {
	Purpose Purpose
	// Instructions are prepended to Input and do not count toward the length threshold.
	Instructions string
	Input        string
	Schema       string
}

// Completion is the routed result.
type Completion struct {
	Tier    Tier
	Payload string
	Tokens  int64
}

// Router selects a tier per call and forwards to the client.
type Router struct {
	client    Client
	threshold int
}

// NewRouter returns a router over client. threshold <= 0 uses DefaultLengthThreshold.
func NewRouter(client Client, threshold int) *Router {
	if threshold <= 0 {
		threshold = DefaultLengthThreshold
	}
	return &Router{client: client, threshold: threshold}
}

// Route returns the tier for a purpose and input length. Length can only
// escalate light to heavy.
func (r *Router) Route(purpose Purpose, inputChars int) Tier {
	tier := TierLight
	switch purpose {
	case PurposeCritique, PurposeSynthesize:
		tier = TierHeavy
	}
	if inputChars > r.threshold {
		tier = TierHeavy
	}
	return tier
}

// Complete routes req and returns the payload with its token cost.
func (r *Router) Complete(ctx context.Context, req Request) (Completion, error) {
	if r == nil || r.client == nil {
		return Completion{}, fmt.Errorf("llm: no model client configured")
	}
	tier := r.Route(req.Purpose, utf8.RuneCountInString(req.Input))
	prompt := req.Input
	if req.Instructions != "" {
		prompt = req.Instructions + "\n\n" + req.Input
	}
	payload, tokens, err := r.client.Complete(ctx, tier, prompt, req.Schema)
	if err != nil {
		return Completion{Tier: tier, Tokens: tokens}, fmt.Errorf("%s completion (%s): %w", req.Purpose, tier, err)
	}
	return Completion{Tier: tier, Payload: payload, Tokens: tokens}, nil
}
