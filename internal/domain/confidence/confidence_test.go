package confidence

import (
	"math"
	"reflect"
	"testing"
)

func f(v float64) *float64 { return &v }

func TestScore_ReferenceExample(t *testing.T) {
	a := Score(Input{
		Intent:              f(0.95),
		TimeParsing:         f(0.9),
		SenderTrust:         f(1.0),
		ConversationClarity: f(0.8),
	}, DefaultPolicy())

	if a.Overall != 0.93 {
		t.Fatalf("overall = %v, want 0.93", a.Overall)
	}
	if a.Recommendation != RecommendAutoRespond {
		t.Fatalf("recommendation = %s, want auto_respond", a.Recommendation)
	}
	if a.Degraded {
		t.Fatal("expected non-degraded assessment")
	}
}

func TestScore_RecommendationBands(t *testing.T) {
	tests := []struct {
		name  string
		score float64
		want  Recommendation
	}{
		{"all high", 0.9, RecommendAutoRespond},
		{"exactly threshold", 0.85, RecommendAutoRespond},
		{"between", 0.75, RecommendRequestApproval},
		{"exactly floor", 0.70, RecommendRequestApproval},
		{"below floor", 0.69, RecommendDecline},
		{"zero", 0, RecommendDecline},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Score(Input{Intent: f(tt.score), TimeParsing: f(tt.score), SenderTrust: f(tt.score), ConversationClarity: f(tt.score)}, DefaultPolicy())
			if a.Overall != tt.score {
				t.Fatalf("overall = %v, want %v", a.Overall, tt.score)
			}
			if a.Recommendation != tt.want {
				t.Errorf("recommendation = %s, want %s", a.Recommendation, tt.want)
			}
		})
	}
}

func TestScore_CustomThreshold(t *testing.T) {
	in := Input{Intent: f(0.8), TimeParsing: f(0.8), SenderTrust: f(0.8), ConversationClarity: f(0.8)}

	p := DefaultPolicy()
	if got := Score(in, p).Recommendation; got != RecommendRequestApproval {
		t.Fatalf("default threshold: got %s, want request_approval", got)
	}
	p.Threshold = 0.75
	if got := Score(in, p).Recommendation; got != RecommendAutoRespond {
		t.Fatalf("threshold 0.75: got %s, want auto_respond", got)
	}
}

func TestScore_DegradedInputsUseNeutralDefault(t *testing.T) {
	a := Score(Input{Intent: f(1), TimeParsing: nil, SenderTrust: nil, ConversationClarity: f(1)}, DefaultPolicy())

	if !a.Degraded {
		t.Fatal("expected degraded assessment")
	}
	if a.TimeParsing != Neutral || a.SenderTrust != Neutral {
		t.Fatalf("missing inputs should be %v, got time=%v trust=%v", Neutral, a.TimeParsing, a.SenderTrust)
	}
	// 0.4 + 0.15 + 0.1 + 0.1
	if a.Overall != 0.75 {
		t.Fatalf("overall = %v, want 0.75", a.Overall)
	}
	want := []string{FactorSenderTrust, FactorTimeParsing}
	if got := a.DegradedInputs(); !reflect.DeepEqual(got, want) {
		t.Fatalf("degraded inputs = %v, want %v", got, want)
	}
	if a.Factors[FactorDegraded] != true {
		t.Fatalf("factor map must flag degradation, got %v", a.Factors[FactorDegraded])
	}
}

func TestScore_NaNIsTreatedAsUnavailable(t *testing.T) {
	a := Score(Input{Intent: f(math.NaN()), TimeParsing: f(1), SenderTrust: f(1), ConversationClarity: f(1)}, DefaultPolicy())
	if !a.Degraded || a.Intent != Neutral {
		t.Fatalf("NaN intent should degrade to neutral, got %+v", a)
	}
}

func TestScore_ClampsOutOfRangeInputs(t *testing.T) {
	a := Score(Input{Intent: f(3), TimeParsing: f(-2), SenderTrust: f(1.5), ConversationClarity: f(-0.1)}, DefaultPolicy())

	if a.Intent != 1 || a.TimeParsing != 0 || a.SenderTrust != 1 || a.ConversationClarity != 0 {
		t.Fatalf("sub-scores not clamped: %+v", a)
	}
	if a.Overall < 0 || a.Overall > 1 {
		t.Fatalf("overall out of range: %v", a.Overall)
	}
	if a.Degraded {
		t.Fatal("clamping alone must not mark the assessment degraded")
	}
}

func TestScore_OverallAlwaysInUnitInterval(t *testing.T) {
	values := []float64{-1, 0, 0.1, 0.33, 0.5, 0.7, 0.85, 0.99, 1, 2}
	for _, i := range values {
		for _, tp := range values {
			for _, s := range values {
				for _, c := range values {
					a := Score(Input{Intent: f(i), TimeParsing: f(tp), SenderTrust: f(s), ConversationClarity: f(c)}, DefaultPolicy())
					if a.Overall < 0 || a.Overall > 1 {
						t.Fatalf("overall %v out of range for %v %v %v %v", a.Overall, i, tp, s, c)
					}
					if a.Recommendation != Recommend(a.Overall, DefaultThreshold, DefaultApprovalFloor) {
						t.Fatalf("recommendation not a function of overall for %v %v %v %v", i, tp, s, c)
					}
				}
			}
		}
	}
}

func TestScore_Deterministic(t *testing.T) {
	in := Input{Intent: f(0.91), TimeParsing: nil, SenderTrust: f(0.42), ConversationClarity: f(0.77)}
	first := Score(in, DefaultPolicy())
	for range 50 {
		if got := Score(in, DefaultPolicy()); !reflect.DeepEqual(got, first) {
			t.Fatalf("score changed between runs: %+v vs %+v", got, first)
		}
	}
}

func TestScore_UnnormalizedWeights(t *testing.T) {
	p := DefaultPolicy()
	p.Weights = Weights{Intent: 4, TimeParsing: 3, SenderTrust: 2, ConversationClarity: 1}
	a := Score(Input{Intent: f(0.95), TimeParsing: f(0.9), SenderTrust: f(1.0), ConversationClarity: f(0.8)}, p)
	if a.Overall != 0.93 {
		t.Fatalf("weights should be normalized, overall = %v", a.Overall)
	}
}

func TestScore_ZeroPolicyFallsBackToDefaults(t *testing.T) {
	a := Score(Input{Intent: f(0.95), TimeParsing: f(0.9), SenderTrust: f(1.0), ConversationClarity: f(0.8)}, Policy{})
	if a.Overall != 0.93 || a.Recommendation != RecommendAutoRespond {
		t.Fatalf("zero policy should behave like defaults, got %+v", a)
	}
}
