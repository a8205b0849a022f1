package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	logx "charge-wizard/pkg/logger"
	"charge-wizard/server/internal/llm"
	"charge-wizard/server/internal/model"
	"charge-wizard/server/internal/prompt"
)

// Understanding 理解智能体：从自然语言里抽取配置参数。
// 配了 LLM 走结构化抽取，否则（以及模型故障时）走确定性规则抽取。
// 两条路都绝不编造：消息里没说的字段保持缺席。
type Understanding struct {
	llmClient llm.Client
	prompts   *prompt.Manager
}

// NewUnderstanding 创建理解智能体，llmClient 可为 nil。
func NewUnderstanding(llmClient llm.Client, prompts *prompt.Manager) *Understanding {
	return &Understanding{llmClient: llmClient, prompts: prompts}
}

// Extract 从消息抽取参数。sess 只读，提供当前步与已填表单做语境。
func (u *Understanding) Extract(ctx context.Context, message string, sess *model.SessionState) (model.ExtractionResult, error) {
	if u.llmClient != nil {
		res, err := u.extractLLM(ctx, message, sess)
		if err == nil {
			return res, nil
		}
		logx.Warn().Err(err).Msg("llm extraction failed, falling back to rules")
	}
	return u.extractRules(message, sess), nil
}

var (
	countRe      = regexp.MustCompile(`(\d+)\s*(mcs\b|mcss\b|chargers?\b|charging stations?\b|cevs?\b|excavators?\b|diggers?\b|vehicles?\b|evs?\b|nodes?\b|sites?\b|locations?\b)`)
	kwhRe        = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*kwh`)
	kwRe         = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*kw\b`)
	soeRangeRe   = regexp.MustCompile(`soe\s+(?:between|from)\s+(\d+(?:\.\d+)?)\s*%?\s+(?:and|to)\s+(\d+(?:\.\d+)?)`)
	soeFieldRe   = regexp.MustCompile(`(minimum|min|maximum|max|initial|starting)\s+soe\s*(?:of|is|at|=|:)?\s*(\d+(?:\.\d+)?)`)
	evTargetRe   = regexp.MustCompile(`(?:ev|cev|excavator|vehicle)\s*#?\s*(\d+)`)
	nameRe       = regexp.MustCompile(`(?:call it|name it|named|scenario called|scenario name is)\s+"?([\w][\w\s-]{0,40}?)"?(?:\.|,|$)`)
	efficiencyRe = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%?\s*(?:charging\s+)?(?:efficiency|eta)\b|(?:charging\s+)?\b(?:efficiency|eta)\b\s*(?:of|is|to|at|=|:)?\s*(\d+(?:\.\d+)?)\s*%?`)
)

// extractRules 确定性规则抽取。
func (u *Understanding) extractRules(message string, sess *model.SessionState) model.ExtractionResult {
	msg := strings.ToLower(message)
	var res model.ExtractionResult
	fields := 0

	// 设备数量
	for _, m := range countRe.FindAllStringSubmatch(msg, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		switch noun := m[2]; {
		case strings.HasPrefix(noun, "mcs"), strings.HasPrefix(noun, "charg"):
			res.Scenario.NumMCS = model.IntPtr(n)
			fields++
		case strings.HasPrefix(noun, "cev"), strings.HasPrefix(noun, "excavator"),
			strings.HasPrefix(noun, "digger"), strings.HasPrefix(noun, "vehicle"), strings.HasPrefix(noun, "ev"):
			res.Scenario.NumCEV = model.IntPtr(n)
			fields++
		case strings.HasPrefix(noun, "node"), strings.HasPrefix(noun, "site"), strings.HasPrefix(noun, "location"):
			res.Scenario.NumNodes = model.IntPtr(n)
			fields++
		}
	}

	// 节点数推断：说了 CEV 没说节点，按每台 CEV 一个工地加一个电网节点。
	if res.Scenario.NumCEV != nil && res.Scenario.NumNodes == nil && sess.Form.Scenario.NumNodes == nil {
		res.Scenario.NumNodes = model.IntPtr(*res.Scenario.NumCEV + 1)
		res.Inferred = append(res.Inferred, "numNodes")
	}

	// 效率：百分数或小数，数字在关键词前后都接受
	if m := efficiencyRe.FindStringSubmatch(msg); m != nil {
		num := m[1]
		if num == "" {
			num = m[2]
		}
		v, err := strconv.ParseFloat(num, 64)
		if err == nil {
			if v > 1 {
				v /= 100
			}
			res.Parameters.EtaChDch = model.Float64Ptr(v)
			fields++
		}
	}

	// 能量（kWh）：按上下文词落到具体容量字段
	if m := kwhRe.FindStringSubmatch(msg); m != nil {
		v, _ := strconv.ParseFloat(m[1], 64)
		switch {
		case strings.Contains(msg, "initial"):
			res.Parameters.MCSIni = model.Float64Ptr(v)
			fields++
		case strings.Contains(msg, "minimum") || strings.Contains(msg, "min "):
			res.Parameters.MCSMin = model.Float64Ptr(v)
			fields++
		case strings.Contains(msg, "capacit") || strings.Contains(msg, "mcs") || strings.Contains(msg, "battery"):
			res.Parameters.MCSMax = model.Float64Ptr(v)
			fields++
		}
	}

	// 功率（kW）：MCS 语境归充电桩，EV 语境归车
	if m := kwRe.FindStringSubmatch(msg); m != nil {
		v, _ := strconv.ParseFloat(m[1], 64)
		switch {
		case strings.Contains(msg, "plug"):
			res.Parameters.DCHMCSPlug = model.Float64Ptr(v)
			fields++
		case strings.Contains(msg, "discharg"):
			res.Parameters.DCHMCS = model.Float64Ptr(v)
			fields++
		case strings.Contains(msg, "mcs") && strings.Contains(msg, "charg"):
			res.Parameters.CHMCS = model.Float64Ptr(v)
			fields++
		case strings.Contains(msg, "ev") || strings.Contains(msg, "cev") || strings.Contains(msg, "excavator") || strings.Contains(msg, "vehicle"):
			res.EVData = applySOEField(res.EVData, targetEVs(msg, sess), "ch_rate", v)
			fields++
		}
	}

	// SOE：区间与单字段两种说法
	if m := soeRangeRe.FindStringSubmatch(msg); m != nil {
		lo, _ := strconv.ParseFloat(m[1], 64)
		hi, _ := strconv.ParseFloat(m[2], 64)
		ids := targetEVs(msg, sess)
		res.EVData = applySOEField(res.EVData, ids, "SOE_min", lo)
		res.EVData = applySOEField(res.EVData, ids, "SOE_max", hi)
		fields += 2
	}
	for _, m := range soeFieldRe.FindAllStringSubmatch(msg, -1) {
		v, _ := strconv.ParseFloat(m[2], 64)
		field := "SOE_ini"
		switch m[1] {
		case "minimum", "min":
			field = "SOE_min"
		case "maximum", "max":
			field = "SOE_max"
		}
		res.EVData = applySOEField(res.EVData, targetEVs(msg, sess), field, v)
		fields++
	}

	// 24 小时模式
	if strings.Contains(msg, "24 hour") || strings.Contains(msg, "24-hour") || strings.Contains(msg, "around the clock") || strings.Contains(msg, "24h") {
		res.Scenario.Is24Hours = model.BoolPtr(true)
		fields++
	}

	// 场景名
	if m := nameRe.FindStringSubmatch(message); m != nil {
		res.Scenario.ScenarioName = strings.TrimSpace(m[1])
		fields++
	}

	res.Confidence = ruleConfidence(fields)
	if fields == 0 {
		res.Notes = "no parameters recognized in the message"
	}
	res.MissingCritical = missingCritical(&res, sess)
	return res
}

// targetEVs 找消息点名的 EV 编号；没点名时落到会话已知的全部 CEV，
// 连数量都不知道就先建 1 号车。
func targetEVs(msg string, sess *model.SessionState) []int {
	if ms := evTargetRe.FindAllStringSubmatch(msg, -1); len(ms) > 0 {
		var ids []int
		seen := map[int]bool{}
		for _, m := range ms {
			if id, err := strconv.Atoi(m[1]); err == nil && !seen[id] {
				ids = append(ids, id)
				seen[id] = true
			}
		}
		if len(ids) > 0 {
			return ids
		}
	}
	if n := sess.Form.Scenario.NumCEV; n != nil && *n > 0 {
		ids := make([]int, *n)
		for i := range ids {
			ids[i] = i + 1
		}
		return ids
	}
	return []int{1}
}

func applySOEField(evs []model.EVRecord, ids []int, field string, v float64) []model.EVRecord {
	for _, id := range ids {
		idx := -1
		for i := range evs {
			if evs[i].ID == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			evs = append(evs, model.EVRecord{ID: id})
			idx = len(evs) - 1
		}
		switch field {
		case "SOE_min":
			evs[idx].SOEMin = model.Float64Ptr(v)
		case "SOE_max":
			evs[idx].SOEMax = model.Float64Ptr(v)
		case "SOE_ini":
			evs[idx].SOEIni = model.Float64Ptr(v)
		case "ch_rate":
			evs[idx].ChRate = model.Float64Ptr(v)
		}
	}
	return evs
}

func ruleConfidence(fields int) float64 {
	if fields == 0 {
		return 0.2
	}
	c := 0.5 + 0.15*float64(fields)
	if c > 0.95 {
		c = 0.95
	}
	return c
}

// missingCritical 当前步必填但这轮抽取加会话都还缺的字段。
func missingCritical(res *model.ExtractionResult, sess *model.SessionState) []string {
	var missing []string
	if sess.CurrentStep == model.StepScenario {
		if res.Scenario.NumMCS == nil && sess.Form.Scenario.NumMCS == nil {
			missing = append(missing, "numMCS")
		}
		if res.Scenario.NumCEV == nil && sess.Form.Scenario.NumCEV == nil {
			missing = append(missing, "numCEV")
		}
		if res.Scenario.NumNodes == nil && sess.Form.Scenario.NumNodes == nil {
			missing = append(missing, "numNodes")
		}
	}
	return missing
}

// extractLLM 结构化抽取。
func (u *Understanding) extractLLM(ctx context.Context, message string, sess *model.SessionState) (model.ExtractionResult, error) {
	formJSON, err := json.Marshal(sess.Form)
	if err != nil {
		return model.ExtractionResult{}, fmt.Errorf("marshal form data: %w", err)
	}
	sys, err := u.prompts.For(prompt.RoleUnderstanding, map[string]string{
		"currentStep": fmt.Sprintf("%d", sess.CurrentStep),
		"stepName":    model.StepName(sess.CurrentStep),
		"formData":    string(formJSON),
		"message":     message,
	})
	if err != nil {
		return model.ExtractionResult{}, err
	}

	raw, err := u.llmClient.Complete(ctx, []llm.Message{
		{Role: "system", Content: sys},
		{Role: "user", Content: message},
	}, extractionSchema())
	if err != nil {
		return model.ExtractionResult{}, err
	}

	var res model.ExtractionResult
	if err := llm.DecodeJSON(raw, &res); err != nil {
		return model.ExtractionResult{}, err
	}
	if res.Confidence <= 0 {
		res.Confidence = 0.5
	}
	res.MissingCritical = missingCritical(&res, sess)
	return res, nil
}

func extractionSchema() *llm.JSONSchema {
	num := map[string]any{"type": "number"}
	return &llm.JSONSchema{
		Name: "parameter_extraction",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"scenario": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"numMCS":       map[string]any{"type": "integer"},
						"numCEV":       map[string]any{"type": "integer"},
						"numNodes":     map[string]any{"type": "integer"},
						"is24Hours":    map[string]any{"type": "boolean"},
						"scenarioName": map[string]any{"type": "string"},
					},
				},
				"parameters": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"eta_ch_dch": num, "MCS_max": num, "MCS_min": num, "MCS_ini": num,
						"CH_MCS": num, "DCH_MCS": num, "DCH_MCS_plug": num,
						"C_MCS_plug": map[string]any{"type": "integer"},
						"k_trv":      num, "delta_T": num, "rho_miss": num,
					},
				},
				"evData": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"id":      map[string]any{"type": "integer"},
							"SOE_min": num, "SOE_max": num, "SOE_ini": num, "ch_rate": num,
						},
						"required": []string{"id"},
					},
				},
				"locations": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"id":   map[string]any{"type": "integer"},
							"name": map[string]any{"type": "string"},
							"type": map[string]any{"type": "string", "enum": []string{"grid", "construction"}},
							"evAssignments": map[string]any{
								"type":                 "object",
								"additionalProperties": map[string]any{"type": "integer"},
							},
						},
						"required": []string{"id", "type"},
					},
				},
				"timeData": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"time":       map[string]any{"type": "string"},
							"lambda_buy": num, "lambda_CO2": num,
						},
						"required": []string{"time"},
					},
				},
				"workData": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"location": map[string]any{"type": "integer"},
							"ev":       map[string]any{"type": "integer"},
							"workRequirements": map[string]any{
								"type":  "array",
								"items": num,
							},
						},
						"required": []string{"location", "ev"},
					},
				},
				"extraction_confidence": num,
				"inferredFields":        map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"notes":                 map[string]any{"type": "string"},
			},
		},
	}
}
