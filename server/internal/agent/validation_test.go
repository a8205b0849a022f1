package agent

import (
	"context"
	"errors"
	"testing"

	"charge-wizard/server/internal/llm"
	"charge-wizard/server/internal/model"
	"charge-wizard/server/internal/prompt"
)

func scenarioForm(mcs, cev, nodes int) model.FormData {
	var f model.FormData
	f.Scenario.NumMCS = model.IntPtr(mcs)
	f.Scenario.NumCEV = model.IntPtr(cev)
	f.Scenario.NumNodes = model.IntPtr(nodes)
	return f
}

func TestValidateCompleteScenarioStep(t *testing.T) {
	v := NewValidation(nil, nil)
	form := scenarioForm(2, 3, 4)

	res := v.Validate(&form, model.StepScenario)
	if !res.IsValid {
		t.Fatalf("Expected valid, issues: %v %v", res.Range.Issues, res.Consistency.Issues)
	}
	if res.Complete.Ratio != 1 {
		t.Fatalf("Expected 100%% completeness, got %.2f", res.Complete.Ratio)
	}
	if res.Score != 1 {
		t.Errorf("Expected score 1.0, got %v", res.Score)
	}
	t.Logf("✓ 第 1 步齐备: score=%.2f", res.Score)
}

func TestValidateMissingFields(t *testing.T) {
	v := NewValidation(nil, nil)
	var form model.FormData
	form.Scenario.NumMCS = model.IntPtr(2)

	res := v.Validate(&form, model.StepScenario)
	if res.Complete.Ratio == 1 {
		t.Fatal("Expected incomplete step")
	}
	if len(res.Complete.Missing) != 2 {
		t.Fatalf("Expected numCEV and numNodes missing, got %v", res.Complete.Missing)
	}
	// 完备性是 is_valid 的硬条件，缺必填字段即非法
	if res.IsValid {
		t.Error("Missing required fields must make the result invalid")
	}
	if !res.Range.Passed || !res.Consistency.Passed {
		t.Error("Range and consistency have nothing to flag here")
	}
	t.Logf("✓ 缺字段: missing=%v ratio=%.2f", res.Complete.Missing, res.Complete.Ratio)
}

func TestValidateIncompleteParametersStep(t *testing.T) {
	v := NewValidation(nil, nil)
	var form model.FormData
	form.Parameters.EtaChDch = model.Float64Ptr(0.9)

	res := v.Validate(&form, model.StepParameters)
	if res.IsValid {
		t.Fatal("One of eleven parameters must not validate the step")
	}
	if len(res.Complete.Missing) != 10 {
		t.Fatalf("Expected the ten unset parameter fields listed, got %v", res.Complete.Missing)
	}
	for _, f := range res.Complete.Missing {
		if f == "eta_ch_dch" {
			t.Error("eta_ch_dch was provided and must not be listed as missing")
		}
	}
	t.Logf("✓ 第 2 步缺 %d 项: %v", len(res.Complete.Missing), res.Complete.Missing[:3])
}

func TestValidateRangeIssue(t *testing.T) {
	v := NewValidation(nil, nil)
	form := scenarioForm(2, 3, 4)
	form.Parameters.MCSMax = model.Float64Ptr(50) // 界下

	res := v.Validate(&form, model.StepParameters)
	if res.Range.Passed {
		t.Fatal("Expected range failure for MCS_max=50")
	}
	issue := res.Range.Issues[0]
	if issue.Field != "MCS_max" || issue.Value != 50 {
		t.Errorf("Unexpected issue: %+v", issue)
	}
	if issue.Min == nil || *issue.Min != 500 || issue.Max == nil || *issue.Max != 10000 {
		t.Errorf("Issue must carry the bounds, got min=%v max=%v", issue.Min, issue.Max)
	}
	if res.IsValid {
		t.Error("Range failure must make the result invalid")
	}
	t.Logf("✓ 越界检出: %s", issue.Message)
}

func TestValidateConsistencyRules(t *testing.T) {
	v := NewValidation(nil, nil)
	form := scenarioForm(1, 1, 2)
	form.Parameters.MCSMax = model.Float64Ptr(1000)
	form.Parameters.MCSMin = model.Float64Ptr(1200)
	form.EVData = []model.EVRecord{{
		ID:     1,
		SOEMin: model.Float64Ptr(80),
		SOEMax: model.Float64Ptr(90),
		SOEIni: model.Float64Ptr(50), // 低于 SOE_min
		ChRate: model.Float64Ptr(50),
	}}

	res := v.Validate(&form, model.StepEVData)
	if res.Consistency.Passed {
		t.Fatal("Expected consistency failures")
	}
	if len(res.Consistency.Issues) < 2 {
		t.Fatalf("Expected MCS ordering and SOE ordering issues, got %v", res.Consistency.Issues)
	}
	t.Logf("✓ 一致性检出 %d 条: %v", len(res.Consistency.Issues), res.Consistency.Issues[0])
}

func TestValidateGridNodeRules(t *testing.T) {
	v := NewValidation(nil, nil)
	form := scenarioForm(1, 2, 3)
	form.Locations = []model.Location{
		{ID: 1, Type: model.LocationTypeConstruction, EVAssignments: map[int]int{1: 1}},
		{ID: 2, Type: model.LocationTypeConstruction, EVAssignments: map[int]int{2: 1}},
		{ID: 3, Type: model.LocationTypeConstruction},
	}

	res := v.Validate(&form, model.StepLocations)
	if res.Consistency.Passed {
		t.Fatal("Expected failure: no grid node")
	}
	found := false
	for _, issue := range res.Consistency.Issues {
		if issue == "exactly one grid node is required, found 0" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected grid node issue, got %v", res.Consistency.Issues)
	}
	t.Logf("✓ 电网节点规则检出")
}

func TestValidateMatrixRules(t *testing.T) {
	v := NewValidation(nil, nil)
	form := scenarioForm(1, 1, 2)
	form.DistanceMatrix = [][]float64{
		{0, 5},
		{6, 1}, // 不对称且对角非零
	}

	res := v.Validate(&form, model.StepDistances)
	if res.Consistency.Passed {
		t.Fatalf("Expected matrix issues, got none")
	}
	if len(res.Consistency.Issues) != 2 {
		t.Errorf("Expected diagonal and symmetry issues, got %v", res.Consistency.Issues)
	}

	form.DistanceMatrix = [][]float64{{0, -3}, {-3, 0}}
	res = v.Validate(&form, model.StepDistances)
	if res.Range.Passed {
		t.Error("Negative matrix entries must fail range validation")
	}
	t.Logf("✓ 矩阵对称/对角/非负规则生效")
}

func TestValidateDeterministic(t *testing.T) {
	v := NewValidation(nil, nil)
	form := scenarioForm(2, 3, 4)
	form.Parameters.EtaChDch = model.Float64Ptr(0.9)

	a := v.Validate(&form, model.StepParameters)
	b := v.Validate(&form, model.StepParameters)
	if a.Score != b.Score || a.IsValid != b.IsValid || a.Complete.Ratio != b.Complete.Ratio {
		t.Fatal("Same form and step must produce the same result")
	}
	t.Logf("✓ 校验确定性")
}

func TestValidateScoreWeights(t *testing.T) {
	v := NewValidation(nil, nil)
	form := scenarioForm(2, 3, 4)
	form.Parameters.MCSMax = model.Float64Ptr(50) // 范围违规不影响第 1 步完备性

	res := v.Validate(&form, model.StepScenario)
	want := weightCompleteness*1 + weightConsistency // 范围挂了
	if res.Score != want {
		t.Fatalf("Expected score %.2f, got %.2f", want, res.Score)
	}
	t.Logf("✓ 加权分: %.2f", res.Score)
}

func TestValidateReviewStepAggregates(t *testing.T) {
	v := NewValidation(nil, nil)
	var form model.FormData

	res := v.Validate(&form, model.StepReview)
	if res.Complete.Ratio != 0 {
		t.Fatalf("Empty form review completeness should be 0, got %v", res.Complete.Ratio)
	}
	if res.Complete.Required != 7 {
		t.Errorf("Review step should aggregate 7 prior steps, got %d", res.Complete.Required)
	}
	t.Logf("✓ 第 8 步聚合前七步: missing=%v", res.Complete.Missing)
}

func TestEnrichSuggestionsLLM(t *testing.T) {
	mock := llm.NewMockClient()
	mock.Script("validation_hints", `{"suggestions":["Set numCEV to the number of excavators on site","Add numNodes, one per site plus the grid"]}`)
	mgr, _ := prompt.NewManager("")
	v := NewValidation(mock, mgr)

	var form model.FormData
	form.Scenario.NumMCS = model.IntPtr(2)
	res := v.Validate(&form, model.StepScenario)
	ruleCount := len(res.Suggestions)

	v.EnrichSuggestions(context.Background(), &res)
	if len(res.Suggestions) != 2 {
		t.Fatalf("Expected the llm hints, got %v", res.Suggestions)
	}
	if res.Suggestions[0] != "Set numCEV to the number of excavators on site" {
		t.Errorf("Unexpected first hint: %q", res.Suggestions[0])
	}
	if res.IsValid || res.Complete.Ratio == 1 {
		t.Error("Enrichment must not touch the verdict")
	}
	t.Logf("✓ 建议润色: %d 条规则建议换成 %d 条提示", ruleCount, len(res.Suggestions))
}

func TestEnrichSuggestionsKeepsRulesOnFailure(t *testing.T) {
	mock := llm.NewMockClient()
	mock.Err = errors.New("provider down")
	mgr, _ := prompt.NewManager("")
	v := NewValidation(mock, mgr)

	var form model.FormData
	form.Scenario.NumMCS = model.IntPtr(2)
	res := v.Validate(&form, model.StepScenario)
	want := append([]string(nil), res.Suggestions...)

	v.EnrichSuggestions(context.Background(), &res)
	if len(res.Suggestions) != len(want) || res.Suggestions[0] != want[0] {
		t.Fatalf("Provider failure must keep rule suggestions, got %v", res.Suggestions)
	}
	t.Logf("✓ 模型故障时保留规则建议")
}

func TestEnrichSuggestionsSkipsValidResult(t *testing.T) {
	mock := llm.NewMockClient()
	mgr, _ := prompt.NewManager("")
	v := NewValidation(mock, mgr)

	form := scenarioForm(2, 3, 4)
	res := v.Validate(&form, model.StepScenario)

	v.EnrichSuggestions(context.Background(), &res)
	if mock.CallCount != 0 {
		t.Fatalf("Valid results need no hints, but the llm was called %d time(s)", mock.CallCount)
	}
	t.Logf("✓ 合法结果不调模型")
}
