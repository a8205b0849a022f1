package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	logx "charge-wizard/pkg/logger"
	"charge-wizard/server/internal/llm"
	"charge-wizard/server/internal/model"
	"charge-wizard/server/internal/prompt"
)

// Conversation 对话管理器：把各智能体的结果汇成一条用户可读回复。
// 配了 LLM 用模板生成自然回复；没配或模型故障时用确定性拼装，
// 此时 degraded=true，回复会说明助手能力受限。
type Conversation struct {
	llmClient llm.Client
	prompts   *prompt.Manager
}

// NewConversation 创建对话管理器，llmClient 可为 nil。
func NewConversation(llmClient llm.Client, prompts *prompt.Manager) *Conversation {
	return &Conversation{llmClient: llmClient, prompts: prompts}
}

// ComposeInput 汇集一次编排里所有要说给用户听的素材。
type ComposeInput struct {
	Message         string
	Extraction      *model.ExtractionResult
	Validation      *model.ValidationResult
	Recommendations []model.Recommendation
	NavigateTo      *int
	Session         *model.SessionState
}

// Compose 生成最终回复。degraded 表示走了确定性降级路径。
func (c *Conversation) Compose(ctx context.Context, in ComposeInput) (string, bool) {
	if c.llmClient != nil {
		msg, err := c.composeLLM(ctx, in)
		if err == nil && strings.TrimSpace(msg) != "" {
			return msg, false
		}
		if err != nil {
			logx.Warn().Err(err).Msg("llm composition failed, using deterministic composer")
		}
		return c.composeRules(in) + "\n\n(Note: the language model is currently unavailable, so this reply is rule-generated and less conversational than usual.)", true
	}
	return c.composeRules(in), false
}

// composeRules 确定性拼装：懂了什么、哪里不对、下一步干什么、推荐值。
func (c *Conversation) composeRules(in ComposeInput) string {
	var b strings.Builder
	step := in.Session.CurrentStep

	if in.Extraction != nil && !in.Extraction.FormData.IsEmpty() {
		b.WriteString("I recorded " + summarizeExtraction(in.Extraction) + ".")
	} else if in.Extraction != nil {
		b.WriteString("I could not find configuration values in that message.")
	}

	if in.Validation != nil {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		v := in.Validation
		switch {
		case v.IsValid:
			fmt.Fprintf(&b, "Step %d (%s) is complete and valid.", step, model.StepName(step))
		case !v.Range.Passed:
			fmt.Fprintf(&b, "%s", v.Range.Issues[0].Message)
			if len(v.Range.Issues) > 1 {
				fmt.Fprintf(&b, " (%d more range issues)", len(v.Range.Issues)-1)
			}
		case !v.Consistency.Passed:
			b.WriteString(v.Consistency.Issues[0])
		case len(v.Complete.Missing) > 0:
			fmt.Fprintf(&b, "Still needed for step %d: %s.", step, listJoin(v.Complete.Missing))
		}
	}

	if len(in.Recommendations) > 0 {
		b.WriteString(" Suggested values: ")
		for i, r := range in.Recommendations {
			if i > 0 {
				b.WriteString("; ")
			}
			fmt.Fprintf(&b, "%s = %v (%s)", r.Parameter, r.Value, r.Reasoning)
		}
		b.WriteString(".")
	}

	if in.NavigateTo != nil {
		fmt.Fprintf(&b, " Moving on to step %d (%s).", *in.NavigateTo, model.StepName(*in.NavigateTo))
	}

	// 全无上下文且什么都没听懂时才开放提问
	if b.Len() == 0 || (onlyNoValues(in) && len(in.Session.History) == 0) {
		fmt.Fprintf(&b, " Could you tell me about your charging scenario? For step %d (%s) I need things like the number of MCS units, CEVs and nodes.", step, model.StepName(step))
	}

	return strings.TrimSpace(b.String())
}

func onlyNoValues(in ComposeInput) bool {
	return in.Extraction != nil && in.Extraction.Confidence < 0.4 && in.Extraction.FormData.IsEmpty()
}

// summarizeExtraction 把抽到的字段列成短语。
func summarizeExtraction(ex *model.ExtractionResult) string {
	var parts []string
	s := ex.Scenario
	if s.NumMCS != nil {
		parts = append(parts, fmt.Sprintf("numMCS=%d", *s.NumMCS))
	}
	if s.NumCEV != nil {
		parts = append(parts, fmt.Sprintf("numCEV=%d", *s.NumCEV))
	}
	if s.NumNodes != nil {
		parts = append(parts, fmt.Sprintf("numNodes=%d", *s.NumNodes))
	}
	if s.Is24Hours != nil {
		parts = append(parts, fmt.Sprintf("is24Hours=%t", *s.Is24Hours))
	}
	if s.ScenarioName != "" {
		parts = append(parts, fmt.Sprintf("scenarioName=%q", s.ScenarioName))
	}
	p := ex.Parameters
	for _, f := range []struct {
		name string
		v    *float64
	}{
		{"eta_ch_dch", p.EtaChDch}, {"MCS_max", p.MCSMax}, {"MCS_min", p.MCSMin},
		{"MCS_ini", p.MCSIni}, {"CH_MCS", p.CHMCS}, {"DCH_MCS", p.DCHMCS},
		{"DCH_MCS_plug", p.DCHMCSPlug}, {"k_trv", p.KTrv}, {"delta_T", p.DeltaT}, {"rho_miss", p.RhoMiss},
	} {
		if f.v != nil {
			parts = append(parts, fmt.Sprintf("%s=%v", f.name, *f.v))
		}
	}
	if len(ex.EVData) > 0 {
		parts = append(parts, fmt.Sprintf("battery data for %d EV(s)", len(ex.EVData)))
	}
	if len(parts) == 0 {
		return "the update"
	}
	return listJoin(parts)
}

func (c *Conversation) composeLLM(ctx context.Context, in ComposeInput) (string, error) {
	toJSON := func(v any) string {
		if v == nil {
			return "null"
		}
		b, err := json.Marshal(v)
		if err != nil {
			return "null"
		}
		return string(b)
	}

	sys, err := c.prompts.For(prompt.RoleConversation, map[string]string{
		"currentStep":     fmt.Sprintf("%d", in.Session.CurrentStep),
		"stepName":        model.StepName(in.Session.CurrentStep),
		"extraction":      toJSON(in.Extraction),
		"validation":      toJSON(in.Validation),
		"recommendations": toJSON(in.Recommendations),
		"history":         formatTurns(in.Session.RecentHistory(8)),
		"message":         in.Message,
	})
	if err != nil {
		return "", err
	}

	return c.llmClient.Complete(ctx, []llm.Message{
		{Role: "system", Content: sys},
		{Role: "user", Content: in.Message},
	}, nil)
}

func formatTurns(turns []model.ChatTurn) string {
	if len(turns) == 0 {
		return "(new session)"
	}
	var b strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Content)
	}
	return b.String()
}
