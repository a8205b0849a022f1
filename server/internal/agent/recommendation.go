package agent

import (
	"context"
	"encoding/json"
	"fmt"

	logx "charge-wizard/pkg/logger"
	"charge-wizard/server/internal/llm"
	"charge-wizard/server/internal/model"
	"charge-wizard/server/internal/prompt"
)

// Recommendation 推荐智能体。核心是确定性的：每条越界或缺失都对应
// 一个目录驱动的建议值，建议值发出前自检过界。配了 LLM 时在规则建议
// 之上做自由形式补充，补充项同样要过自检。
type Recommendation struct {
	llmClient llm.Client
	prompts   *prompt.Manager
}

// NewRecommendation 创建推荐智能体，llmClient 可为 nil。
func NewRecommendation(llmClient llm.Client, prompts *prompt.Manager) *Recommendation {
	return &Recommendation{llmClient: llmClient, prompts: prompts}
}

// Recommend 基于校验结果产出参数建议。
func (r *Recommendation) Recommend(ctx context.Context, message string, form *model.FormData, validation *model.ValidationResult) []model.Recommendation {
	recs := ruleRecommendations(form, validation)

	if r.llmClient != nil {
		extra, err := r.recommendLLM(ctx, message, form, validation)
		if err != nil {
			logx.Warn().Err(err).Msg("llm recommendation failed, keeping rule recommendations")
		} else {
			recs = appendValidated(recs, extra)
		}
	}
	return recs
}

// ruleRecommendations 每条违规一个修复建议，加上当前步缺失字段的
// 目录默认值。
func ruleRecommendations(form *model.FormData, validation *model.ValidationResult) []model.Recommendation {
	var recs []model.Recommendation
	seen := map[string]bool{}
	add := func(field string, value interface{}, reasoning string) {
		if seen[field] {
			return
		}
		if !selfValid(field, value, form) {
			return
		}
		seen[field] = true
		recs = append(recs, model.Recommendation{Parameter: field, Value: value, Reasoning: reasoning})
	}

	if validation != nil {
		for _, issue := range validation.Range.Issues {
			spec := model.Spec(issue.Field)
			if spec == nil {
				continue
			}
			v := spec.Clamp(issue.Value)
			add(spec.Field, numberValue(spec, v),
				fmt.Sprintf("%v violates the %s bound for %s; %v is the nearest accepted value", issue.Value, boundsText(spec), spec.Label, v))
		}
		for _, field := range validation.Complete.Missing {
			spec := model.Spec(field)
			if spec == nil {
				continue
			}
			add(spec.Field, numberValue(spec, spec.Default),
				fmt.Sprintf("%s is not set yet; %v is a typical value for %s", spec.Field, spec.Default, spec.Label))
		}
	}

	// 一致性修复：顺序冲突时回到目录默认的安全组合。
	p := form.Parameters
	if p.MCSMin != nil && p.MCSMax != nil && *p.MCSMin >= *p.MCSMax {
		v := 0.1 * *p.MCSMax
		add("MCS_min", v, fmt.Sprintf("MCS_min must stay strictly below MCS_max (%v); 10%% of capacity is a common floor", *p.MCSMax))
	}
	for _, ev := range form.EVData {
		if ev.SOEMin != nil && ev.SOEMax != nil && *ev.SOEMin >= *ev.SOEMax {
			add("SOE_min", model.Spec("SOE_min").Default,
				fmt.Sprintf("EV %d has SOE_min above SOE_max; the usual window is 20-90%%", ev.ID))
		}
	}

	return recs
}

// selfValid 建议值必须自己能过范围校验，违背这一点的建议直接丢弃。
func selfValid(field string, value interface{}, form *model.FormData) bool {
	spec := model.Spec(field)
	if spec == nil {
		return true
	}
	f, ok := toFloat(value)
	if !ok {
		return false
	}
	if !spec.InRange(f) {
		return false
	}
	// MCS_min 还受 MCS_max 的动态上界约束
	if field == "MCS_min" && form.Parameters.MCSMax != nil && f >= *form.Parameters.MCSMax {
		return false
	}
	return true
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// numberValue 整数型目录项出整数，避免 "numMCS: 2.0" 这种展示。
func numberValue(spec *model.ParamSpec, v float64) interface{} {
	switch spec.Field {
	case "numMCS", "numCEV", "numNodes", "C_MCS_plug":
		return int(v)
	}
	return v
}

func appendValidated(recs []model.Recommendation, extra []model.Recommendation) []model.Recommendation {
	seen := map[string]bool{}
	for _, r := range recs {
		seen[r.Parameter] = true
	}
	for _, r := range extra {
		if seen[r.Parameter] {
			continue
		}
		if f, ok := toFloat(r.Value); ok {
			if spec := model.Spec(r.Parameter); spec != nil && !spec.InRange(f) {
				continue
			}
		}
		seen[r.Parameter] = true
		recs = append(recs, r)
	}
	return recs
}

func (r *Recommendation) recommendLLM(ctx context.Context, message string, form *model.FormData, validation *model.ValidationResult) ([]model.Recommendation, error) {
	formJSON, err := json.Marshal(form)
	if err != nil {
		return nil, fmt.Errorf("marshal form data: %w", err)
	}
	valJSON := []byte("{}")
	if validation != nil {
		valJSON, err = json.Marshal(validation)
		if err != nil {
			return nil, fmt.Errorf("marshal validation: %w", err)
		}
	}
	sys, err := r.prompts.For(prompt.RoleRecommendation, map[string]string{
		"formData":   string(formJSON),
		"validation": string(valJSON),
		"message":    message,
	})
	if err != nil {
		return nil, err
	}

	raw, err := r.llmClient.Complete(ctx, []llm.Message{
		{Role: "system", Content: sys},
		{Role: "user", Content: message},
	}, recommendationSchema())
	if err != nil {
		return nil, err
	}

	var out struct {
		Recommendations []model.Recommendation `json:"recommendations"`
	}
	if err := llm.DecodeJSON(raw, &out); err != nil {
		return nil, err
	}
	return out.Recommendations, nil
}

func recommendationSchema() *llm.JSONSchema {
	return &llm.JSONSchema{
		Name: "parameter_recommendations",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"recommendations": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"parameter":         map[string]any{"type": "string"},
							"recommended_value": map[string]any{"type": "number"},
							"reasoning":         map[string]any{"type": "string"},
						},
						"required": []string{"parameter", "recommended_value", "reasoning"},
					},
				},
			},
			"required": []string{"recommendations"},
		},
	}
}
