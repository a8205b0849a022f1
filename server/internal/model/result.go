package model

// 各智能体的结果类型与最终响应信封。JSON 键名与前端约定一致，
// 缺省字段一律 omitempty，信封里不出现空占位。

// ExtractionResult 理解智能体的输出：一棵稀疏表单加置信度。
// Inferred 列出非用户明说、由规则推断出的字段（如 numNodes=numCEV+1），
// 合并时这类字段只允许填空，不允许覆盖。
type ExtractionResult struct {
	FormData
	Confidence      float64  `json:"extraction_confidence"`
	Inferred        []string `json:"inferredFields,omitempty"`
	MissingCritical []string `json:"missing_critical_info,omitempty"`
	Notes           string   `json:"notes,omitempty"`
}

// RangeIssue 单个越界字段的完整边界信息，直接可渲染给用户。
// 无界一侧为 nil（JSON 里省略）。
type RangeIssue struct {
	Field   string   `json:"field"`
	Value   float64  `json:"value"`
	Min     *float64 `json:"min,omitempty"`
	Max     *float64 `json:"max,omitempty"`
	Message string   `json:"message"`
}

// Completeness 当前步必填字段的覆盖情况。
type Completeness struct {
	Required int      `json:"required"`
	Present  int      `json:"present"`
	Missing  []string `json:"missing,omitempty"`
	Ratio    float64  `json:"ratio"`
}

// RangeValidation 范围校验小节。
type RangeValidation struct {
	Passed bool         `json:"passed"`
	Issues []RangeIssue `json:"issues,omitempty"`
}

// ConsistencyCheck 跨字段一致性小节。
type ConsistencyCheck struct {
	Passed bool     `json:"passed"`
	Issues []string `json:"issues,omitempty"`
}

// ValidationResult 校验智能体的输出。Score 为加权分：
// 完备性 0.5、范围 0.3、一致性 0.2。
type ValidationResult struct {
	IsValid     bool             `json:"is_valid"`
	Score       float64          `json:"validation_score"`
	Complete    Completeness     `json:"completeness"`
	Range       RangeValidation  `json:"range_validation"`
	Consistency ConsistencyCheck `json:"consistency_check"`
	Suggestions []string         `json:"suggestions,omitempty"`
}

// Recommendation 一条参数建议：目标字段、建议值与一行理由。
type Recommendation struct {
	Parameter string      `json:"parameter"`
	Value     interface{} `json:"recommended_value"`
	Reasoning string      `json:"reasoning"`
}

// TraceEntry ReAct 链/编排链的一环。
type TraceEntry struct {
	Step        int    `json:"step"`
	Thought     string `json:"thought"`
	Action      string `json:"action"`
	Observation string `json:"observation"`
}

// Action 前端可执行的指令（导航、填表、高亮）。
type Action struct {
	Type    string                 `json:"type"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// FormUpdate 单字段写入指令。Section 指明表单分区
// （scenario / parameters / evData / ...），Inferred 标推断来源。
type FormUpdate struct {
	Section  string      `json:"section"`
	Field    string      `json:"field"`
	Value    interface{} `json:"value"`
	Inferred bool        `json:"inferred,omitempty"`
}

// WorkflowState 会话当前在向导里的位置快照。
type WorkflowState struct {
	CurrentStep  int     `json:"currentStep"`
	StepName     string  `json:"stepName"`
	Completeness float64 `json:"completeness"`
	CanAdvance   bool    `json:"canAdvance"`
}

// ChatResult 一轮对话的完整响应信封。
type ChatResult struct {
	Success            bool              `json:"success"`
	SessionID          string            `json:"sessionId"`
	Message            string            `json:"message"`
	Flow               string            `json:"flow,omitempty"`
	Actions            []Action          `json:"actions,omitempty"`
	FormUpdates        []FormUpdate      `json:"formUpdates,omitempty"`
	NavigateToStep     *int              `json:"navigateToStep,omitempty"`
	ExtractedParams    *ExtractionResult `json:"extractedParameters,omitempty"`
	Validation         *ValidationResult `json:"validationResult,omitempty"`
	Recommendations    []Recommendation  `json:"recommendations,omitempty"`
	Workflow           *WorkflowState    `json:"workflowState,omitempty"`
	ReactChain         []TraceEntry      `json:"reactChain,omitempty"`
	OrchestrationChain []TraceEntry      `json:"orchestrationChain,omitempty"`
	Degraded           bool              `json:"degraded,omitempty"`
}
