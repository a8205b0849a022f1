package agent

import (
	"context"
	"errors"
	"testing"

	"charge-wizard/server/internal/llm"
	"charge-wizard/server/internal/model"
	"charge-wizard/server/internal/prompt"
)

func ruleOnlyRecommendation(t *testing.T) *Recommendation {
	t.Helper()
	mgr, err := prompt.NewManager("")
	if err != nil {
		t.Fatal(err)
	}
	return NewRecommendation(nil, mgr)
}

func TestRecommendForRangeIssue(t *testing.T) {
	r := ruleOnlyRecommendation(t)
	v := NewValidation(nil, nil)

	var form model.FormData
	form.Parameters.MCSMax = model.Float64Ptr(50)
	res := v.Validate(&form, model.StepParameters)

	recs := r.Recommend(context.Background(), "set capacity to 50 kWh", &form, &res)
	var rec *model.Recommendation
	for i := range recs {
		if recs[i].Parameter == "MCS_max" {
			rec = &recs[i]
		}
	}
	if rec == nil {
		t.Fatalf("Expected a MCS_max recommendation, got %v", recs)
	}
	value, ok := rec.Value.(float64)
	if !ok || !model.Spec("MCS_max").InRange(value) {
		t.Fatalf("Recommended value %v must itself pass the range table", rec.Value)
	}
	if rec.Reasoning == "" {
		t.Error("Recommendation must carry reasoning")
	}
	t.Logf("✓ 越界修复建议: MCS_max=%v (%s)", rec.Value, rec.Reasoning)
}

func TestRecommendDefaultsForMissing(t *testing.T) {
	r := ruleOnlyRecommendation(t)
	v := NewValidation(nil, nil)

	var form model.FormData
	res := v.Validate(&form, model.StepScenario)

	recs := r.Recommend(context.Background(), "what should I use?", &form, &res)
	if len(recs) == 0 {
		t.Fatal("Expected defaults for missing scenario fields")
	}
	seen := map[string]bool{}
	for _, rec := range recs {
		seen[rec.Parameter] = true
	}
	for _, field := range []string{"numMCS", "numCEV", "numNodes"} {
		if !seen[field] {
			t.Errorf("Expected a recommendation for %s", field)
		}
	}
	t.Logf("✓ 缺失字段给默认值: %d 条", len(recs))
}

func TestRecommendMCSMinConflict(t *testing.T) {
	r := ruleOnlyRecommendation(t)

	var form model.FormData
	form.Parameters.MCSMax = model.Float64Ptr(1000)
	form.Parameters.MCSMin = model.Float64Ptr(1200)

	recs := r.Recommend(context.Background(), "", &form, nil)
	var rec *model.Recommendation
	for i := range recs {
		if recs[i].Parameter == "MCS_min" {
			rec = &recs[i]
		}
	}
	if rec == nil {
		t.Fatal("Expected a MCS_min fix")
	}
	if v, ok := rec.Value.(float64); !ok || v >= 1000 {
		t.Fatalf("MCS_min recommendation %v must stay below MCS_max", rec.Value)
	}
	t.Logf("✓ 一致性修复: MCS_min=%v", rec.Value)
}

func TestRecommendSelfValidation(t *testing.T) {
	// 模型给出越界建议时必须被丢弃
	mock := llm.NewMockClient()
	mock.Script("parameter_recommendations",
		`{"recommendations":[{"parameter":"numMCS","recommended_value":99,"reasoning":"bad"},{"parameter":"eta_ch_dch","recommended_value":0.95,"reasoning":"typical efficiency"}]}`)
	mgr, _ := prompt.NewManager("")
	r := NewRecommendation(mock, mgr)

	var form model.FormData
	recs := r.Recommend(context.Background(), "any advice?", &form, nil)
	for _, rec := range recs {
		if rec.Parameter == "numMCS" {
			t.Fatal("Out-of-range llm recommendation must be dropped")
		}
	}
	found := false
	for _, rec := range recs {
		if rec.Parameter == "eta_ch_dch" {
			found = true
		}
	}
	if !found {
		t.Fatal("In-range llm recommendation should be kept")
	}
	t.Logf("✓ 建议自检: 越界丢弃，在界保留")
}

func TestRecommendLLMFailureKeepsRules(t *testing.T) {
	mock := llm.NewMockClient()
	mock.Err = errors.New("provider down")
	mgr, _ := prompt.NewManager("")
	r := NewRecommendation(mock, mgr)
	v := NewValidation(nil, nil)

	var form model.FormData
	res := v.Validate(&form, model.StepScenario)
	recs := r.Recommend(context.Background(), "suggest values", &form, &res)
	if len(recs) == 0 {
		t.Fatal("Rule recommendations must survive llm failure")
	}
	t.Logf("✓ 模型故障保留规则建议: %d 条", len(recs))
}
