package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	logx "charge-wizard/pkg/logger"
	"charge-wizard/server/internal/agent"
	"charge-wizard/server/internal/flow"
	"charge-wizard/server/internal/model"
	"charge-wizard/server/internal/session"
	"charge-wizard/server/internal/stream"
)

// Orchestrator 多智能体编排器。
//
// 职责与契约：
//   - 单会话串行：整条流水线在 store 的按键锁内跑，同一会话并发请求排队。
//   - 决策集中：定流、抽取、合并、校验、推荐、导航全在这里裁决，
//     智能体本身无状态。
//   - 输出可审计：每个阶段写一条编排链记录进响应信封。
type Orchestrator struct {
	store          session.Store
	classifier     *flow.Classifier
	understanding  *agent.Understanding
	validation     *agent.Validation
	recommendation *agent.Recommendation
	conversation   *agent.Conversation
	hub            *stream.Hub
	now            func() time.Time
}

// Deps 编排器的全部依赖。hub 可为 nil（不推流）。
type Deps struct {
	Store          session.Store
	Classifier     *flow.Classifier
	Understanding  *agent.Understanding
	Validation     *agent.Validation
	Recommendation *agent.Recommendation
	Conversation   *agent.Conversation
	Hub            *stream.Hub
	Now            func() time.Time
}

// New 创建编排器。
func New(d Deps) *Orchestrator {
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Orchestrator{
		store:          d.Store,
		classifier:     d.Classifier,
		understanding:  d.Understanding,
		validation:     d.Validation,
		recommendation: d.Recommendation,
		conversation:   d.Conversation,
		hub:            d.Hub,
		now:            d.Now,
	}
}

// Request 一轮对话的输入。CurrentStep 非空表示前端显式回看某一步；
// Form 非空表示前端随消息带上了它当前的表单快照。
type Request struct {
	Message     string
	SessionID   string
	CurrentStep *int
	Form        *model.FormData
}

// ProcessMessage 跑完整条流水线并返回响应信封。
// 只有存储故障会返回 error；智能体故障都降级处理。
func (o *Orchestrator) ProcessMessage(ctx context.Context, req Request) (*model.ChatResult, error) {
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	var result *model.ChatResult
	err := o.store.WithLock(ctx, sessionID, func(ctx context.Context) error {
		var err error
		result, err = o.processLocked(ctx, sessionID, req)
		return err
	})
	if err != nil {
		return nil, err
	}

	if o.hub != nil {
		o.hub.Publish(sessionID, result)
	}
	return result, nil
}

func (o *Orchestrator) processLocked(ctx context.Context, sessionID string, req Request) (*model.ChatResult, error) {
	started := o.now()

	sess, err := o.store.Get(ctx, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		sess = model.NewSession(sessionID)
	} else if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	var chain []model.TraceEntry
	trace := func(thought, action, observation string) {
		chain = append(chain, model.TraceEntry{
			Step:        len(chain) + 1,
			Thought:     thought,
			Action:      action,
			Observation: observation,
		})
	}
	trace("A new user turn arrived; load or create the session",
		"load_session",
		fmt.Sprintf("session %s at step %d with %d history turns", sessionID, sess.CurrentStep, len(sess.History)))

	// 前端显式回看某一步：先切步，再处理消息
	if req.CurrentStep != nil {
		target := model.ClampStep(*req.CurrentStep)
		if target != sess.CurrentStep {
			trace("The client asked to revisit a specific wizard step",
				"set_current_step",
				fmt.Sprintf("step %d -> %d", sess.CurrentStep, target))
			sess.CurrentStep = target
		}
	}

	// 前端带了表单快照：手工编辑以界面为准，整棵替换
	if req.Form != nil {
		sess.Form = *req.Form
		trace("The client sent its current form snapshot; adopt it as the session form",
			"sync_form",
			"manual edits override the stored form")
	}

	cls := o.classifier.Classify(ctx, req.Message, sess)
	sess.LastFlowType = string(cls.Flow)
	agents := cls.Agents()
	trace("Classify the message to decide which agents run",
		"classify_flow",
		fmt.Sprintf("flow=%s confidence=%.2f", cls.Flow, cls.Confidence))

	var (
		extraction  *model.ExtractionResult
		formUpdates []model.FormUpdate
	)
	if agents.Understanding {
		ex, err := o.understanding.Extract(ctx, req.Message, sess)
		if err != nil {
			logx.Error().Err(err).Str("session_id", sessionID).Msg("understanding agent failed")
			trace("Extraction failed entirely; continue without form changes", "extract_parameters", err.Error())
		} else {
			extraction = &ex
			formUpdates = model.MergePatch(&sess.Form, &ex)
			trace("Extract parameters and merge them into the session form",
				"extract_parameters",
				fmt.Sprintf("confidence=%.2f, %d field(s) updated", ex.Confidence, len(formUpdates)))
		}
	}

	var validation *model.ValidationResult
	if agents.Validation {
		v := o.validation.Validate(&sess.Form, sess.CurrentStep)
		o.validation.EnrichSuggestions(ctx, &v)
		validation = &v
		trace("Validate the merged form for the current step",
			"validate_form",
			fmt.Sprintf("valid=%t score=%.2f completeness=%.0f%%", v.IsValid, v.Score, v.Complete.Ratio*100))
	}

	var recommendations []model.Recommendation
	if agents.Recommendation || (validation != nil && !validation.IsValid) {
		recommendations = o.recommendation.Recommend(ctx, req.Message, &sess.Form, validation)
		trace("Produce recommendations for missing or invalid values",
			"recommend_parameters",
			fmt.Sprintf("%d recommendation(s)", len(recommendations)))
	}

	navigateTo := o.decideNavigation(sess, validation)
	if navigateTo != nil {
		trace("The current step is complete and valid; advance the wizard",
			"navigate",
			fmt.Sprintf("step %d -> %d", sess.CurrentStep, *navigateTo))
	}

	// 回复基于本轮校验的那一步生成，切步放在生成之后
	message, degraded := o.conversation.Compose(ctx, agent.ComposeInput{
		Message:         req.Message,
		Extraction:      extraction,
		Validation:      validation,
		Recommendations: recommendations,
		NavigateTo:      navigateTo,
		Session:         sess,
	})
	trace("Compose the user-facing reply from all agent results",
		"compose_reply",
		fmt.Sprintf("%d chars, degraded=%t", len(message), degraded))

	if navigateTo != nil {
		sess.CurrentStep = *navigateTo
	}

	actions := buildActions(formUpdates, navigateTo)
	for _, a := range actions {
		sess.RecordAction(a.Type)
	}

	sess.AppendTurn("user", req.Message)
	sess.AppendTurn("assistant", message)
	sess.UpdatedAt = o.now()
	if err := o.store.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	trace("Persist the session and finish the turn",
		"save_session",
		fmt.Sprintf("turn handled in %s", o.now().Sub(started).Round(time.Millisecond)))

	workflow := o.workflowState(sess)
	return &model.ChatResult{
		Success:            true,
		SessionID:          sessionID,
		Message:            message,
		Flow:               string(cls.Flow),
		Actions:            actions,
		FormUpdates:        formUpdates,
		NavigateToStep:     navigateTo,
		ExtractedParams:    extraction,
		Validation:         validation,
		Recommendations:    recommendations,
		Workflow:           workflow,
		ReactChain:         cls.Chain,
		OrchestrationChain: chain,
		Degraded:           degraded,
	}, nil
}

// decideNavigation 确定性导航：当前步校验通过且完备时前进一步，
// 永不回退、永不跳步，第 8 步是终点。
func (o *Orchestrator) decideNavigation(sess *model.SessionState, validation *model.ValidationResult) *int {
	if validation == nil {
		return nil
	}
	if !validation.IsValid {
		return nil
	}
	if sess.CurrentStep >= model.MaxStep {
		return nil
	}
	next := sess.CurrentStep + 1
	return &next
}

// workflowState 导航决定之后的位置快照，完备性按落点步重算。
func (o *Orchestrator) workflowState(sess *model.SessionState) *model.WorkflowState {
	v := o.validation.Validate(&sess.Form, sess.CurrentStep)
	return &model.WorkflowState{
		CurrentStep:  sess.CurrentStep,
		StepName:     model.StepName(sess.CurrentStep),
		Completeness: v.Complete.Ratio,
		CanAdvance:   v.IsValid && sess.CurrentStep < model.MaxStep,
	}
}

func buildActions(updates []model.FormUpdate, navigateTo *int) []model.Action {
	var actions []model.Action
	if len(updates) > 0 {
		payload := make([]map[string]interface{}, 0, len(updates))
		for _, u := range updates {
			payload = append(payload, map[string]interface{}{
				"section":  u.Section,
				"field":    u.Field,
				"value":    u.Value,
				"inferred": u.Inferred,
			})
		}
		actions = append(actions, model.Action{
			Type:    "update_form",
			Payload: map[string]interface{}{"updates": payload},
		})
	}
	if navigateTo != nil {
		actions = append(actions, model.Action{
			Type:    "navigate",
			Payload: map[string]interface{}{"step": *navigateTo},
		})
	}
	return actions
}
