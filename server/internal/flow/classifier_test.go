package flow

import (
	"context"
	"errors"
	"testing"

	"charge-wizard/server/internal/llm"
	"charge-wizard/server/internal/model"
	"charge-wizard/server/internal/prompt"
)

func ruleOnlyClassifier(t *testing.T) *Classifier {
	t.Helper()
	mgr, err := prompt.NewManager("")
	if err != nil {
		t.Fatal(err)
	}
	return NewClassifier(nil, mgr)
}

func TestClassifyRules(t *testing.T) {
	c := ruleOnlyClassifier(t)
	sess := model.NewSession("s1")

	cases := []struct {
		message string
		want    FlowType
	}{
		{"I have 2 MCS and 3 excavators", FlowParameterExtraction},
		{"What does eta_ch_dch mean?", FlowSimpleQuestion},
		{"Is my configuration correct?", FlowValidationRequest},
		{"What values would you recommend for the SOE window?", FlowRecommendationRequest},
		{"Set up 2 MCS with 3 CEVs and check whether that is valid", FlowFullAnalysis},
	}
	for _, tc := range cases {
		res := c.Classify(context.Background(), tc.message, sess)
		if res.Flow != tc.want {
			t.Errorf("%q: got %s, want %s", tc.message, res.Flow, tc.want)
		}
	}
	t.Logf("✓ 规则定流 %d 例通过", len(cases))
}

func TestClassifyEmitsReactChain(t *testing.T) {
	c := ruleOnlyClassifier(t)
	res := c.Classify(context.Background(), "I have 2 MCS", model.NewSession("s1"))
	if len(res.Chain) != 4 {
		t.Fatalf("Expected a 4-step react chain, got %d", len(res.Chain))
	}
	for i, entry := range res.Chain {
		if entry.Step != i+1 {
			t.Errorf("Chain step %d numbered %d", i, entry.Step)
		}
		if entry.Thought == "" || entry.Action == "" || entry.Observation == "" {
			t.Errorf("Chain entry %d incomplete: %+v", i, entry)
		}
	}
	t.Logf("✓ ReAct 链完整: %s -> %s -> %s -> %s",
		res.Chain[0].Action, res.Chain[1].Action, res.Chain[2].Action, res.Chain[3].Action)
}

func TestClassifyLowConfidenceSuperset(t *testing.T) {
	res := Result{Flow: FlowSimpleQuestion, Confidence: 0.4}
	agents := res.Agents()
	if !agents.Understanding || !agents.Validation {
		t.Fatal("Low confidence must select the understanding+validation superset")
	}
	t.Logf("✓ 低置信度走安全超集")
}

func TestClassifyLLMPath(t *testing.T) {
	mock := llm.NewMockClient()
	mock.Script("flow_classification", `{"flow":"full_analysis","confidence":0.93,"reasoning":"values plus advice"}`)
	mgr, _ := prompt.NewManager("")
	c := NewClassifier(mock, mgr)

	res := c.Classify(context.Background(), "set up everything for me", model.NewSession("s1"))
	if res.Flow != FlowFullAnalysis {
		t.Fatalf("Expected full_analysis from llm, got %s", res.Flow)
	}
	if res.Chain[1].Action != "classify_flow_llm" {
		t.Errorf("Chain should record the llm path, got %s", res.Chain[1].Action)
	}
	t.Logf("✓ LLM 定流: %s (%.2f)", res.Flow, res.Confidence)
}

func TestClassifyLLMFallback(t *testing.T) {
	mock := llm.NewMockClient()
	mock.Err = errors.New("provider down")
	mgr, _ := prompt.NewManager("")
	c := NewClassifier(mock, mgr)

	res := c.Classify(context.Background(), "I have 2 MCS and 3 excavators", model.NewSession("s1"))
	if res.Flow != FlowParameterExtraction {
		t.Fatalf("Fallback should use rules, got %s", res.Flow)
	}
	if res.Chain[1].Action != "classify_flow_rules" {
		t.Errorf("Chain should record the fallback, got %s", res.Chain[1].Action)
	}
	t.Logf("✓ 模型故障回落规则定流")
}

func TestClassifyLLMUnknownFlowRejected(t *testing.T) {
	mock := llm.NewMockClient()
	mock.Script("flow_classification", `{"flow":"mystery_flow","confidence":0.9,"reasoning":"?"}`)
	mgr, _ := prompt.NewManager("")
	c := NewClassifier(mock, mgr)

	res := c.Classify(context.Background(), "I have 2 MCS", model.NewSession("s1"))
	if !Valid(string(res.Flow)) {
		t.Fatalf("Classifier must never emit an unknown flow, got %s", res.Flow)
	}
	t.Logf("✓ 非法流类型被拒，回落到 %s", res.Flow)
}

func TestDispatchTableClosed(t *testing.T) {
	if len(Dispatch) != 5 {
		t.Fatalf("Dispatch table must stay closed at 5 flows, got %d", len(Dispatch))
	}
	if set := Dispatch[FlowFullAnalysis]; !set.Understanding || !set.Validation || !set.Recommendation {
		t.Error("full_analysis must run all three agents")
	}
	if set := Dispatch[FlowSimpleQuestion]; set.Understanding || set.Validation || set.Recommendation {
		t.Error("simple_question runs no extraction agents")
	}
	t.Logf("✓ 调度表闭合")
}
