// Package confidence implements the multi-factor confidence model used to
// decide whether a scheduling message can be answered automatically.
//
// Score is a pure function: identical inputs always yield an identical
// Assessment, which keeps decisions reproducible from the audit trail.
package confidence

import (
	"math"
	"sort"
)

// Recommendation is the scorer's suggested routing for a message.
type Recommendation string

const (
	RecommendAutoRespond     Recommendation = "auto_respond"
	RecommendRequestApproval Recommendation = "request_approval"
	RecommendDecline         Recommendation = "decline"
)

// Default cut-offs.
const (
	DefaultThreshold     = 0.85
	DefaultApprovalFloor = 0.70
	// Neutral is substituted for any unavailable sub-score.
	Neutral = 0.5
)

// Factor names used in Assessment.Factors.
const (
	FactorIntent              = "intent"
	FactorTimeParsing         = "time_parsing"
	FactorSenderTrust         = "sender_trust"
	FactorConversationClarity = "conversation_clarity"
	FactorDegraded            = "degraded"
	FactorDegradedInputs      = "degraded_inputs"
	FactorThreshold           = "threshold"
	FactorApprovalFloor       = "approval_floor"
)

// Weights are the linear weights of the four sub-scores.
type Weights struct {
	Intent              float64 `json:"intent"`
	TimeParsing         float64 `json:"time_parsing"`
	SenderTrust         float64 `json:"sender_trust"`
	ConversationClarity float64 `json:"conversation_clarity"`
}

// DefaultWeights returns 0.4 / 0.3 / 0.2 / 0.1.
func DefaultWeights() Weights {
	return Weights{Intent: 0.4, TimeParsing: 0.3, SenderTrust: 0.2, ConversationClarity: 0.1}
}

func (w Weights) sum() float64 {
	return w.Intent + w.TimeParsing + w.SenderTrust + w.ConversationClarity
}

// Policy carries the tunable parameters of a scoring run.
type Policy struct {
	Weights       Weights
	Threshold     float64
	ApprovalFloor float64
}

// DefaultPolicy returns the stock weights and cut-offs.
func DefaultPolicy() Policy {
	return Policy{Weights: DefaultWeights(), Threshold: DefaultThreshold, ApprovalFloor: DefaultApprovalFloor}
}

// Input holds the raw sub-scores. A nil field means the upstream signal was
// unavailable.
type Input struct {
	Intent              *float64
	TimeParsing         *float64
	SenderTrust         *float64
	ConversationClarity *float64
}

// Assessment is the immutable result of scoring one message.
type Assessment struct {
	Overall             float64        `json:"overall"`
	Intent              float64        `json:"intent"`
	TimeParsing         float64        `json:"time_parsing"`
	SenderTrust         float64        `json:"sender_trust"`
	ConversationClarity float64        `json:"conversation_clarity"`
	Recommendation      Recommendation `json:"recommendation"`
	Degraded            bool           `json:"degraded"`
	Factors             map[string]any `json:"factors"`
}

// DegradedInputs lists the sub-scores that were substituted, sorted.
func (a *Assessment) DegradedInputs() []string {
	switch v := a.Factors[FactorDegradedInputs].(type) {
	case []string:
		return v
	case []any: // decoded from a stored snapshot
		out := make([]string, 0, len(v))
		for _, x := range v {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Score computes the assessment for in under p.
func Score(in Input, p Policy) Assessment {
	p = p.normalized()

	var degraded []string
	sub := func(name string, v *float64) float64 {
		if v == nil || math.IsNaN(*v) {
			degraded = append(degraded, name)
			return Neutral
		}
		return clamp(*v)
	}

	a := Assessment{
		Intent:              sub(FactorIntent, in.Intent),
		TimeParsing:         sub(FactorTimeParsing, in.TimeParsing),
		SenderTrust:         sub(FactorSenderTrust, in.SenderTrust),
		ConversationClarity: sub(FactorConversationClarity, in.ConversationClarity),
	}

	w := p.Weights
	overall := (w.Intent*a.Intent +
		w.TimeParsing*a.TimeParsing +
		w.SenderTrust*a.SenderTrust +
		w.ConversationClarity*a.ConversationClarity) / w.sum()
	a.Overall = round4(clamp(overall))
	a.Recommendation = Recommend(a.Overall, p.Threshold, p.ApprovalFloor)

	sort.Strings(degraded)
	if degraded == nil {
		degraded = []string{}
	}
	a.Degraded = len(degraded) > 0
	a.Factors = map[string]any{
		FactorIntent:              a.Intent,
		FactorTimeParsing:         a.TimeParsing,
		FactorSenderTrust:         a.SenderTrust,
		FactorConversationClarity: a.ConversationClarity,
		FactorDegraded:            a.Degraded,
		FactorDegradedInputs:      degraded,
		FactorThreshold:           p.Threshold,
		FactorApprovalFloor:       p.ApprovalFloor,
	}
	return a
}

// Recommend maps an overall score to a recommendation.
func Recommend(overall, threshold, floor float64) Recommendation {
	switch {
	case overall >= threshold:
		return RecommendAutoRespond
	case overall >= floor:
		return RecommendRequestApproval
	default:
		return RecommendDecline
	}
}

func (p Policy) normalized() Policy {
	if p.Weights.sum() <= 0 {
		p.Weights = DefaultWeights()
	}
	if p.Threshold <= 0 {
		p.Threshold = DefaultThreshold
	}
	if p.ApprovalFloor <= 0 {
		p.ApprovalFloor = DefaultApprovalFloor
	}
	return p
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
