package flow

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	logx "charge-wizard/pkg/logger"
	"charge-wizard/server/internal/llm"
	"charge-wizard/server/internal/model"
	"charge-wizard/server/internal/prompt"
)

// Result 分类结果：流类型、置信度与 ReAct 链。
type Result struct {
	Flow       FlowType
	Confidence float64
	Reasoning  string
	Chain      []model.TraceEntry
}

// Agents 本轮要跑的智能体组合。置信度低于 0.5 时取
// 理解+校验的安全超集，宁可多算不漏抽。
func (r *Result) Agents() AgentSet {
	if r.Confidence < 0.5 {
		return AgentSet{Understanding: true, Validation: true}
	}
	return Dispatch[r.Flow]
}

// Classifier 混合分类器：规则优先，配了 LLM 时先问模型，
// 模型出错或给出非法流类型时回落到规则。
type Classifier struct {
	llmClient llm.Client
	prompts   *prompt.Manager
}

// NewClassifier 创建分类器。llmClient 可以为 nil（纯规则模式）。
func NewClassifier(llmClient llm.Client, prompts *prompt.Manager) *Classifier {
	return &Classifier{llmClient: llmClient, prompts: prompts}
}

var numberRe = regexp.MustCompile(`\d`)

// 各流类型的信号词。分类按优先级：full > recommendation > validation >
// extraction > question。
var (
	recommendSignals = []string{"recommend", "suggest", "typical", "advice", "what should", "good value", "best value", "reasonable"}
	validateSignals  = []string{"validate", "verify", "check", "correct", "is this ok", "is it ok", "complete", "anything missing", "valid"}
	extractSignals   = []string{"set ", "use ", "change ", "update ", "make ", "i have", "we have", "i've got", "configure", "with ", "mcs", "cev", "excavator", "digger", "node", "charger", "efficiency", "capacity", "soe", "battery"}
	questionSignals  = []string{"what is", "what does", "what are", "how do", "how does", "why", "explain", "mean", "tell me about"}
)

// Classify 对一条用户消息定流。
func (c *Classifier) Classify(ctx context.Context, message string, sess *model.SessionState) Result {
	chain := []model.TraceEntry{{
		Step:        1,
		Thought:     fmt.Sprintf("User is at step %d (%s); analyze the message for intent signals", sess.CurrentStep, model.StepName(sess.CurrentStep)),
		Action:      "analyze_message",
		Observation: describeSignals(message),
	}}

	var res Result
	if c.llmClient != nil {
		llmRes, err := c.classifyLLM(ctx, message, sess)
		if err != nil {
			logx.Warn().Err(err).Msg("llm flow classification failed, falling back to rules")
			res = c.classifyRules(message)
			chain = append(chain, model.TraceEntry{
				Step:        2,
				Thought:     "Language model classification failed; fall back to signal rules",
				Action:      "classify_flow_rules",
				Observation: fmt.Sprintf("flow=%s confidence=%.2f (%s)", res.Flow, res.Confidence, res.Reasoning),
			})
		} else {
			res = llmRes
			chain = append(chain, model.TraceEntry{
				Step:        2,
				Thought:     "Ask the language model for a flow decision",
				Action:      "classify_flow_llm",
				Observation: fmt.Sprintf("flow=%s confidence=%.2f (%s)", res.Flow, res.Confidence, res.Reasoning),
			})
		}
	} else {
		res = c.classifyRules(message)
		chain = append(chain, model.TraceEntry{
			Step:        2,
			Thought:     "Match the message against the flow signal rules",
			Action:      "classify_flow_rules",
			Observation: fmt.Sprintf("flow=%s confidence=%.2f (%s)", res.Flow, res.Confidence, res.Reasoning),
		})
	}

	agents := res.Agents()
	chain = append(chain,
		model.TraceEntry{
			Step:        3,
			Thought:     fmt.Sprintf("Select the agent set for flow %s", res.Flow),
			Action:      "select_agents",
			Observation: fmt.Sprintf("understanding=%t validation=%t recommendation=%t", agents.Understanding, agents.Validation, agents.Recommendation),
		},
		model.TraceEntry{
			Step:        4,
			Thought:     "Hand the classified flow to the orchestration pipeline",
			Action:      "dispatch",
			Observation: "agents scheduled",
		},
	)
	res.Chain = chain
	return res
}

// classifyRules 纯规则分类，确定性。
func (c *Classifier) classifyRules(message string) Result {
	msg := strings.ToLower(strings.TrimSpace(message))

	hasValues := numberRe.MatchString(msg)
	wantsRecommend := containsAny(msg, recommendSignals)
	wantsValidate := containsAny(msg, validateSignals)
	hasExtract := hasValues && containsAny(msg, extractSignals)
	isQuestion := containsAny(msg, questionSignals) || (strings.HasSuffix(msg, "?") && !hasValues)

	switch {
	case hasExtract && (wantsValidate || wantsRecommend):
		return Result{Flow: FlowFullAnalysis, Confidence: 0.9, Reasoning: "message provides values and asks for checking or advice"}
	case wantsRecommend && !hasExtract:
		return Result{Flow: FlowRecommendationRequest, Confidence: 0.85, Reasoning: "message asks for suggested values"}
	case wantsValidate && !hasExtract:
		return Result{Flow: FlowValidationRequest, Confidence: 0.85, Reasoning: "message asks whether the configuration is correct"}
	case hasExtract:
		return Result{Flow: FlowParameterExtraction, Confidence: 0.8, Reasoning: "message provides configuration values"}
	case isQuestion:
		return Result{Flow: FlowSimpleQuestion, Confidence: 0.75, Reasoning: "message asks about meaning without providing data"}
	case hasValues:
		// 有数字但没抽取动词，保守按抽取处理
		return Result{Flow: FlowParameterExtraction, Confidence: 0.55, Reasoning: "message contains values without clear intent verbs"}
	default:
		return Result{Flow: FlowSimpleQuestion, Confidence: 0.4, Reasoning: "no strong signal, defaulting to question handling"}
	}
}

// classifyLLM 让模型定流；返回非法流类型视为错误。
func (c *Classifier) classifyLLM(ctx context.Context, message string, sess *model.SessionState) (Result, error) {
	sys, err := c.prompts.For(prompt.RoleFlowClassifier, map[string]string{
		"currentStep": fmt.Sprintf("%d", sess.CurrentStep),
		"stepName":    model.StepName(sess.CurrentStep),
		"history":     formatHistory(sess.RecentHistory(8)),
		"message":     message,
	})
	if err != nil {
		return Result{}, err
	}

	raw, err := c.llmClient.Complete(ctx, []llm.Message{
		{Role: "system", Content: sys},
		{Role: "user", Content: message},
	}, classificationSchema())
	if err != nil {
		return Result{}, err
	}

	var out struct {
		Flow       string  `json:"flow"`
		Confidence float64 `json:"confidence"`
		Reasoning  string  `json:"reasoning"`
	}
	if err := llm.DecodeJSON(raw, &out); err != nil {
		return Result{}, err
	}
	if !Valid(out.Flow) {
		return Result{}, fmt.Errorf("model returned unknown flow %q", out.Flow)
	}
	return Result{Flow: FlowType(out.Flow), Confidence: out.Confidence, Reasoning: out.Reasoning}, nil
}

func classificationSchema() *llm.JSONSchema {
	return &llm.JSONSchema{
		Name:   "flow_classification",
		Strict: true,
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"flow": map[string]any{
					"type": "string",
					"enum": []string{
						string(FlowSimpleQuestion),
						string(FlowParameterExtraction),
						string(FlowValidationRequest),
						string(FlowRecommendationRequest),
						string(FlowFullAnalysis),
					},
				},
				"confidence": map[string]any{"type": "number"},
				"reasoning":  map[string]any{"type": "string"},
			},
			"required":             []string{"flow", "confidence", "reasoning"},
			"additionalProperties": false,
		},
	}
}

func describeSignals(message string) string {
	msg := strings.ToLower(message)
	var signals []string
	if numberRe.MatchString(msg) {
		signals = append(signals, "numeric values")
	}
	if containsAny(msg, recommendSignals) {
		signals = append(signals, "recommendation keywords")
	}
	if containsAny(msg, validateSignals) {
		signals = append(signals, "validation keywords")
	}
	if containsAny(msg, questionSignals) {
		signals = append(signals, "question phrasing")
	}
	if len(signals) == 0 {
		return "no strong signals"
	}
	return strings.Join(signals, ", ")
}

func formatHistory(turns []model.ChatTurn) string {
	if len(turns) == 0 {
		return "(new session)"
	}
	var b strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Content)
	}
	return b.String()
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
