package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	logx "charge-wizard/pkg/logger"
	"charge-wizard/server/internal/llm"
	"charge-wizard/server/internal/model"
	"charge-wizard/server/internal/prompt"
)

// Validation 校验智能体。Validate 纯规则、确定性：同一表单同一步
// 永远给出同一结果。范围界限全部来自参数目录，一致性规则是闭合集合。
// 配了 LLM 时 EnrichSuggestions 再把建议润色一遍，判定本身不经过模型。
type Validation struct {
	llmClient llm.Client
	prompts   *prompt.Manager
}

// NewValidation 创建校验智能体，llmClient 可为 nil。
func NewValidation(llmClient llm.Client, prompts *prompt.Manager) *Validation {
	return &Validation{llmClient: llmClient, prompts: prompts}
}

// 加权分里三个小节的权重。
const (
	weightCompleteness = 0.5
	weightRange        = 0.3
	weightConsistency  = 0.2
)

// Validate 对合并后的表单做当前步完备性、全表范围与一致性校验。
func (v *Validation) Validate(form *model.FormData, step int) model.ValidationResult {
	complete := completenessFor(form, step)
	rng := rangeCheck(form)
	cons := consistencyCheck(form)

	score := weightCompleteness * complete.Ratio
	if rng.Passed {
		score += weightRange
	}
	if cons.Passed {
		score += weightConsistency
	}

	// 三小节全过才算合法：缺必填字段同样挡住 is_valid
	res := model.ValidationResult{
		IsValid:     complete.Ratio == 1 && rng.Passed && cons.Passed,
		Score:       score,
		Complete:    complete,
		Range:       rng,
		Consistency: cons,
	}
	res.Suggestions = buildSuggestions(res, step)
	return res
}

// EnrichSuggestions 用 LLM 把规则建议改写成更口语的修复提示。
// 判定字段（is_valid、分数、各小节）保持不动；模型不可用或返回
// 不可用内容时原样保留规则建议。
func (v *Validation) EnrichSuggestions(ctx context.Context, res *model.ValidationResult) {
	if v.llmClient == nil || v.prompts == nil || res.IsValid || len(res.Suggestions) == 0 {
		return
	}

	findings, err := json.Marshal(res)
	if err != nil {
		return
	}
	sys, err := v.prompts.For(prompt.RoleValidationHints, map[string]string{
		"validation": string(findings),
	})
	if err != nil {
		return
	}

	raw, err := v.llmClient.Complete(ctx, []llm.Message{
		{Role: "system", Content: sys},
		{Role: "user", Content: "Rewrite the findings as suggestions."},
	}, validationHintsSchema())
	if err != nil {
		logx.Warn().Err(err).Msg("validation hints failed, keeping rule suggestions")
		return
	}

	var out struct {
		Suggestions []string `json:"suggestions"`
	}
	if err := llm.DecodeJSON(raw, &out); err != nil {
		logx.Warn().Err(err).Msg("validation hints undecodable, keeping rule suggestions")
		return
	}

	var hints []string
	for _, s := range out.Suggestions {
		if s != "" && len(hints) < 3 {
			hints = append(hints, s)
		}
	}
	if len(hints) > 0 {
		res.Suggestions = hints
	}
}

func validationHintsSchema() *llm.JSONSchema {
	return &llm.JSONSchema{
		Name: "validation_hints",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"suggestions": map[string]any{
					"type":     "array",
					"items":    map[string]any{"type": "string"},
					"maxItems": 3,
				},
			},
			"required": []string{"suggestions"},
		},
	}
}

// completenessFor 当前步必填字段的覆盖情况。第 8 步看前七步是否全齐。
func completenessFor(form *model.FormData, step int) model.Completeness {
	if step == model.StepReview {
		var missing []string
		done := 0
		for s := model.StepScenario; s < model.StepReview; s++ {
			c := completenessFor(form, s)
			if c.Ratio == 1 {
				done++
			} else {
				missing = append(missing, model.StepName(s))
			}
		}
		return model.Completeness{
			Required: model.StepReview - 1,
			Present:  done,
			Missing:  missing,
			Ratio:    float64(done) / float64(model.StepReview-1),
		}
	}

	var required, missing []string
	has := map[string]bool{}
	mark := func(name string, present bool) {
		required = append(required, name)
		has[name] = present
	}

	switch step {
	case model.StepScenario:
		mark("numMCS", form.Scenario.NumMCS != nil)
		mark("numCEV", form.Scenario.NumCEV != nil)
		mark("numNodes", form.Scenario.NumNodes != nil)
	case model.StepParameters:
		p := form.Parameters
		mark("eta_ch_dch", p.EtaChDch != nil)
		mark("MCS_max", p.MCSMax != nil)
		mark("MCS_min", p.MCSMin != nil)
		mark("MCS_ini", p.MCSIni != nil)
		mark("CH_MCS", p.CHMCS != nil)
		mark("DCH_MCS", p.DCHMCS != nil)
		mark("DCH_MCS_plug", p.DCHMCSPlug != nil)
		mark("C_MCS_plug", p.CMCSPlug != nil)
		mark("k_trv", p.KTrv != nil)
		mark("delta_T", p.DeltaT != nil)
		mark("rho_miss", p.RhoMiss != nil)
	case model.StepEVData:
		n := intOr(form.Scenario.NumCEV, 0)
		mark("evData", n > 0 && len(form.EVData) >= n)
		allFields := len(form.EVData) > 0
		for _, ev := range form.EVData {
			if ev.SOEMin == nil || ev.SOEMax == nil || ev.SOEIni == nil || ev.ChRate == nil {
				allFields = false
				break
			}
		}
		mark("evData fields", allFields)
	case model.StepLocations:
		n := intOr(form.Scenario.NumNodes, 0)
		mark("locations", n > 0 && len(form.Locations) >= n)
		mark("grid node", form.GridLocation() != nil)
		mark("ev assignments", allEVsAssigned(form))
	case model.StepTimePeriods:
		want := expectedPeriods(form)
		mark("timeData", len(form.TimeData) >= want && want > 0)
		allPrices := len(form.TimeData) > 0
		for _, t := range form.TimeData {
			if t.LambdaBuy == nil || t.LambdaCO2 == nil {
				allPrices = false
				break
			}
		}
		mark("prices", allPrices)
	case model.StepDistances:
		n := intOr(form.Scenario.NumNodes, 0)
		mark("distanceMatrix", n > 0 && matrixSquare(form.DistanceMatrix, n))
		mark("travelTimeMatrix", n > 0 && matrixSquare(form.TravelTimeMatrix, n))
	case model.StepWork:
		mark("workData", len(form.WorkData) > 0)
		periods := expectedPeriods(form)
		covered := len(form.WorkData) > 0
		for _, w := range form.WorkData {
			if len(w.WorkRequirements) < periods {
				covered = false
				break
			}
		}
		mark("work coverage", covered)
	}

	present := 0
	for _, name := range required {
		if has[name] {
			present++
		} else {
			missing = append(missing, name)
		}
	}
	ratio := 0.0
	if len(required) > 0 {
		ratio = float64(present) / float64(len(required))
	}
	return model.Completeness{Required: len(required), Present: present, Missing: missing, Ratio: ratio}
}

// rangeCheck 逐个已填数值字段对照目录边界。
func rangeCheck(form *model.FormData) model.RangeValidation {
	var issues []model.RangeIssue
	check := func(field string, v *float64) {
		if v == nil {
			return
		}
		spec := model.Spec(field)
		if spec == nil || spec.InRange(*v) {
			return
		}
		issues = append(issues, rangeIssue(spec, *v))
	}
	checkInt := func(field string, v *int) {
		if v == nil {
			return
		}
		f := float64(*v)
		spec := model.Spec(field)
		if spec == nil || spec.InRange(f) {
			return
		}
		issues = append(issues, rangeIssue(spec, f))
	}

	checkInt("numMCS", form.Scenario.NumMCS)
	checkInt("numCEV", form.Scenario.NumCEV)
	checkInt("numNodes", form.Scenario.NumNodes)

	p := form.Parameters
	check("eta_ch_dch", p.EtaChDch)
	check("MCS_max", p.MCSMax)
	check("MCS_min", p.MCSMin)
	check("MCS_ini", p.MCSIni)
	check("CH_MCS", p.CHMCS)
	check("DCH_MCS", p.DCHMCS)
	check("DCH_MCS_plug", p.DCHMCSPlug)
	checkInt("C_MCS_plug", p.CMCSPlug)
	check("k_trv", p.KTrv)
	check("delta_T", p.DeltaT)
	check("rho_miss", p.RhoMiss)

	for _, ev := range form.EVData {
		check("SOE_min", ev.SOEMin)
		check("SOE_max", ev.SOEMax)
		check("SOE_ini", ev.SOEIni)
		check("ch_rate", ev.ChRate)
	}
	for _, t := range form.TimeData {
		check("lambda_buy", t.LambdaBuy)
		check("lambda_CO2", t.LambdaCO2)
	}

	issues = append(issues, matrixNegatives("distanceMatrix", form.DistanceMatrix)...)
	issues = append(issues, matrixNegatives("travelTimeMatrix", form.TravelTimeMatrix)...)

	return model.RangeValidation{Passed: len(issues) == 0, Issues: issues}
}

func rangeIssue(spec *model.ParamSpec, v float64) model.RangeIssue {
	issue := model.RangeIssue{
		Field:   spec.Field,
		Value:   v,
		Message: fmt.Sprintf("%s must be %s, got %v", spec.Field, boundsText(spec), v),
	}
	if !math.IsNaN(spec.Min) {
		issue.Min = model.Float64Ptr(spec.Min)
	}
	if !math.IsNaN(spec.Max) {
		issue.Max = model.Float64Ptr(spec.Max)
	}
	return issue
}

func boundsText(spec *model.ParamSpec) string {
	lo, hi := "[", "]"
	if spec.ExclusiveMin {
		lo = "("
	}
	if spec.ExclusiveMax {
		hi = ")"
	}
	if math.IsNaN(spec.Max) {
		if spec.ExclusiveMin {
			return fmt.Sprintf("greater than %v", spec.Min)
		}
		return fmt.Sprintf("at least %v", spec.Min)
	}
	return fmt.Sprintf("in %s%v, %v%s", lo, spec.Min, spec.Max, hi)
}

func matrixNegatives(name string, m [][]float64) []model.RangeIssue {
	var issues []model.RangeIssue
	for i, row := range m {
		for j, v := range row {
			if v < 0 {
				issues = append(issues, model.RangeIssue{
					Field:   fmt.Sprintf("%s[%d][%d]", name, i, j),
					Value:   v,
					Min:     model.Float64Ptr(0),
					Message: fmt.Sprintf("%s entries must be non-negative, got %v at [%d][%d]", name, v, i, j),
				})
			}
		}
	}
	return issues
}

// consistencyCheck 跨字段一致性闭合规则集。
func consistencyCheck(form *model.FormData) model.ConsistencyCheck {
	var issues []string
	p := form.Parameters

	if p.MCSMin != nil && p.MCSMax != nil && *p.MCSMin >= *p.MCSMax {
		issues = append(issues, fmt.Sprintf("MCS_min (%v) must be strictly below MCS_max (%v)", *p.MCSMin, *p.MCSMax))
	}
	if p.MCSIni != nil {
		if p.MCSMin != nil && *p.MCSIni < *p.MCSMin {
			issues = append(issues, fmt.Sprintf("MCS_ini (%v) must be at least MCS_min (%v)", *p.MCSIni, *p.MCSMin))
		}
		if p.MCSMax != nil && *p.MCSIni > *p.MCSMax {
			issues = append(issues, fmt.Sprintf("MCS_ini (%v) must not exceed MCS_max (%v)", *p.MCSIni, *p.MCSMax))
		}
	}

	for _, ev := range form.EVData {
		if ev.SOEMin != nil && ev.SOEMax != nil && *ev.SOEMin >= *ev.SOEMax {
			issues = append(issues, fmt.Sprintf("EV %d: SOE_min (%v) must be strictly below SOE_max (%v)", ev.ID, *ev.SOEMin, *ev.SOEMax))
		}
		if ev.SOEIni != nil {
			if ev.SOEMin != nil && *ev.SOEIni <= *ev.SOEMin {
				issues = append(issues, fmt.Sprintf("EV %d: SOE_ini (%v) must be strictly above SOE_min (%v)", ev.ID, *ev.SOEIni, *ev.SOEMin))
			}
			if ev.SOEMax != nil && *ev.SOEIni >= *ev.SOEMax {
				issues = append(issues, fmt.Sprintf("EV %d: SOE_ini (%v) must be strictly below SOE_max (%v)", ev.ID, *ev.SOEIni, *ev.SOEMax))
			}
		}
	}

	if len(form.Locations) > 0 {
		grids := 0
		for _, loc := range form.Locations {
			if loc.Type == model.LocationTypeGrid {
				grids++
				if len(loc.EVAssignments) > 0 {
					for ev, flag := range loc.EVAssignments {
						if flag == 1 {
							issues = append(issues, fmt.Sprintf("EV %d is assigned to the grid node; EVs work only at construction sites", ev))
						}
					}
				}
			}
		}
		if grids != 1 {
			issues = append(issues, fmt.Sprintf("exactly one grid node is required, found %d", grids))
		}
		if n := form.Scenario.NumCEV; n != nil {
			for ev := 1; ev <= *n; ev++ {
				switch count := form.AssignmentCount(ev); {
				case count == 0:
					issues = append(issues, fmt.Sprintf("EV %d is not assigned to any construction site", ev))
				case count > 1:
					issues = append(issues, fmt.Sprintf("EV %d is assigned to %d sites; each EV works at exactly one", ev, count))
				}
			}
		}
	}

	if n := form.Scenario.NumNodes; n != nil {
		if len(form.Locations) > 0 && len(form.Locations) != *n {
			issues = append(issues, fmt.Sprintf("locations count (%d) must equal numNodes (%d)", len(form.Locations), *n))
		}
		issues = append(issues, matrixShapeIssues("distanceMatrix", form.DistanceMatrix, *n)...)
		issues = append(issues, matrixShapeIssues("travelTimeMatrix", form.TravelTimeMatrix, *n)...)
	}
	if n := form.Scenario.NumCEV; n != nil && len(form.EVData) > 0 && len(form.EVData) != *n {
		issues = append(issues, fmt.Sprintf("evData count (%d) must equal numCEV (%d)", len(form.EVData), *n))
	}

	return model.ConsistencyCheck{Passed: len(issues) == 0, Issues: issues}
}

func matrixShapeIssues(name string, m [][]float64, n int) []string {
	if len(m) == 0 {
		return nil
	}
	var issues []string
	if !matrixSquare(m, n) {
		issues = append(issues, fmt.Sprintf("%s must be %dx%d to match numNodes", name, n, n))
		return issues
	}
	for i := range m {
		if m[i][i] != 0 {
			issues = append(issues, fmt.Sprintf("%s diagonal must be zero, got %v at [%d][%d]", name, m[i][i], i, i))
		}
		for j := i + 1; j < len(m); j++ {
			if m[i][j] != m[j][i] {
				issues = append(issues, fmt.Sprintf("%s must be symmetric, [%d][%d]=%v but [%d][%d]=%v", name, i, j, m[i][j], j, i, m[j][i]))
			}
		}
	}
	return issues
}

func matrixSquare(m [][]float64, n int) bool {
	if len(m) != n {
		return false
	}
	for _, row := range m {
		if len(row) != n {
			return false
		}
	}
	return true
}

func allEVsAssigned(form *model.FormData) bool {
	n := intOr(form.Scenario.NumCEV, 0)
	if n == 0 || len(form.Locations) == 0 {
		return false
	}
	for ev := 1; ev <= n; ev++ {
		if form.AssignmentCount(ev) != 1 {
			return false
		}
	}
	return true
}

// expectedPeriods 时段数：24 小时模式 24 个，否则按 8 小时工作日。
func expectedPeriods(form *model.FormData) int {
	if form.Scenario.Is24Hours != nil && *form.Scenario.Is24Hours {
		return 24
	}
	return 8
}

func intOr(v *int, fallback int) int {
	if v == nil {
		return fallback
	}
	return *v
}

// buildSuggestions 把发现的问题压成最多三条可执行建议。
func buildSuggestions(res model.ValidationResult, step int) []string {
	var out []string
	if len(res.Complete.Missing) > 0 && len(out) < 3 {
		out = append(out, fmt.Sprintf("Provide %s to finish step %d (%s)", joinMax(res.Complete.Missing, 3), step, model.StepName(step)))
	}
	for _, issue := range res.Range.Issues {
		if len(out) >= 3 {
			break
		}
		out = append(out, issue.Message)
	}
	for _, issue := range res.Consistency.Issues {
		if len(out) >= 3 {
			break
		}
		out = append(out, issue)
	}
	return out
}

func joinMax(items []string, max int) string {
	if len(items) <= max {
		return listJoin(items)
	}
	return listJoin(items[:max]) + fmt.Sprintf(" and %d more", len(items)-max)
}

func listJoin(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	}
	out := items[0]
	for _, it := range items[1:] {
		out += ", " + it
	}
	return out
}
