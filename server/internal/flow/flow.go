package flow

// FlowType 消息流类型，闭合枚举。
type FlowType string

const (
	FlowSimpleQuestion        FlowType = "simple_question"
	FlowParameterExtraction   FlowType = "parameter_extraction"
	FlowValidationRequest     FlowType = "validation_request"
	FlowRecommendationRequest FlowType = "recommendation_request"
	FlowFullAnalysis          FlowType = "full_analysis"
)

// AgentSet 一个流类型要跑哪些智能体。调度表是数据，不是代码分支。
type AgentSet struct {
	Understanding  bool
	Validation     bool
	Recommendation bool
}

// Dispatch 流类型到智能体组合的闭合表。
var Dispatch = map[FlowType]AgentSet{
	FlowSimpleQuestion:        {},
	FlowParameterExtraction:   {Understanding: true, Validation: true},
	FlowValidationRequest:     {Validation: true},
	FlowRecommendationRequest: {Recommendation: true},
	FlowFullAnalysis:          {Understanding: true, Validation: true, Recommendation: true},
}

// Valid 判断字符串是否是合法流类型。
func Valid(s string) bool {
	_, ok := Dispatch[FlowType(s)]
	return ok
}
