package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ayudatec/mesabot/pkg/llm"
	"github.com/ayudatec/mesabot/pkg/masking"
	"github.com/ayudatec/mesabot/pkg/models"
)

// maxClarificationAttempts is the consecutive clarification-failure count
// after which the conversation is handed to a human.
const maxClarificationAttempts = 3

// guidedStoryConfidence: strictly below this the scripted elicitation takes
// over instead of another clarification round.
const guidedStoryConfidence = 0.3

const classifierSystemPrompt = `You are the routing classifier of a technical help desk.
Read the user's problem description and reply with ONLY a JSON object:
{"intent": "network|install_os|install_app|hardware|software|peripheral|account|billing|other|unknown",
 "needs_clarification": bool,
 "missing": ["field", ...],
 "suggested_next_ask": "stage identifier or empty",
 "risk_level": "low|medium|high",
 "suggest_modes": {"ask_interaction_mode": bool, "ask_learning_depth": bool, "ask_executor_role": bool, "activate_advisory_mode": bool},
 "confidence": 0.0-1.0}
Risk is medium/high only for operations that can destroy data or configuration
(OS installs, partitioning, BIOS changes) or dangerous physical conditions.`

// handleAskProblem runs the first classification over the user's free-text
// problem description.
func (e *Engine) handleAskProblem(ctx context.Context, conv *models.Conversation, in Input) (result, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return result{reply: P(conv.Language).AskProblem, next: models.StageAskProblem}, nil
	}
	conv.Context.Problem = text
	return e.classify(ctx, conv, text)
}

// handleClarification folds the clarification answer into the problem
// description and classifies again. Three consecutive failures escalate.
func (e *Engine) handleClarification(ctx context.Context, conv *models.Conversation, in Input) (result, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return result{reply: fmt.Sprintf(P(conv.Language).AskClarify, missingSummary(conv, nil)), next: models.StageAskProblemClarify}, nil
	}
	if conv.Context.Problem != "" {
		conv.Context.Problem += ". " + text
	} else {
		conv.Context.Problem = text
	}
	return e.classify(ctx, conv, conv.Context.Problem)
}

// classify invokes the classifier through the gateway and routes on the
// result. Any gateway error degrades to the deterministic fallback result.
func (e *Engine) classify(ctx context.Context, conv *models.Conversation, problem string) (result, error) {
	userPrompt := fmt.Sprintf("language: %s\ndevice_category: %s\ndevice_type: %s\nproblem: %s",
		conv.Language, conv.Context.DeviceCategory, conv.Context.DeviceType, problem)
	summary := fmt.Sprintf("classify problem (%d chars), device=%s", len(problem),
		conv.Context.DeviceType)

	var cls llm.ClassifierResult
	fallback := false
	raw, err := e.gateway.Call(ctx, llm.KindClassifier, classifierSystemPrompt,
		masking.MaskText(userPrompt), summary, e.tracer(conv))
	if err != nil {
		cls = e.classifierFallback(ctx, conv, fallbackReason(err), err)
		fallback = true
	} else if cls, err = llm.DecodeClassifier(raw); err != nil {
		cls = e.classifierFallback(ctx, conv, "decode", err)
		fallback = true
	}

	conv.Append(models.NewSystemEvent(models.EventIAClassifierResult, map[string]any{
		"intent":              cls.Intent,
		"needs_clarification": cls.NeedsClarification,
		"missing":             cls.Missing,
		"suggested_next_ask":  cls.SuggestedNextAsk,
		"risk_level":          cls.RiskLevel,
		"confidence":          cls.Confidence,
	}))

	conv.Context.ProblemCategory = cls.Intent
	conv.Context.RiskLevel = cls.RiskLevel

	// Dangerous physical conditions need the keyword and the classifier
	// flag to agree before handing over.
	if PhysicalRiskDetected(problem) && cls.RiskLevel == "high" {
		return result{escalate: true, reason: models.ReasonRiskDetected}, nil
	}

	// The fallback result carries a synthetic zero confidence; it routes
	// through its own clarification ask, never into the story script.
	if !fallback && cls.Confidence < guidedStoryConfidence {
		conv.Context.GuidedStoryStep = 0
		conv.Context.Problem = ""
		return e.guidedStoryPrompt(conv), nil
	}

	if cls.NeedsClarification {
		conv.Context.ClarificationAttempts++
		if conv.Context.ClarificationAttempts >= maxClarificationAttempts {
			return result{escalate: true, reason: models.ReasonClarificationFailed}, nil
		}
		if next, ok := clarificationStage(cls.SuggestedNextAsk); ok {
			return result{reply: promptFor(conv, next), next: next}, nil
		}
		return result{
			reply: fmt.Sprintf(P(conv.Language).AskClarify, missingSummary(conv, cls.Missing)),
			next:  models.StageAskProblemClarify,
		}, nil
	}
	conv.Context.ClarificationAttempts = 0

	// Cross-cutting mode questions take one detour before diagnosis.
	if cls.SuggestModes.ActivateAdvisoryMode {
		conv.Modes.AdvisoryMode = true
	}
	target := targetForIntent(cls.Intent)
	if modeStage, ok := pendingModeAsk(conv, cls.SuggestModes); ok {
		conv.Context.SuspendedStage = target
		return result{reply: modePrompt(conv, modeStage), next: modeStage}, nil
	}

	// Risk gate: shown once per conversation before medium/high paths.
	if (cls.RiskLevel == "medium" || cls.RiskLevel == "high") && !conv.Context.RiskSummaryShown {
		conv.Context.RiskSummaryShown = true
		conv.Context.SuspendedStage = target
		conv.Append(models.NewSystemEvent(models.EventRiskSummaryShown, map[string]any{
			"risk_level": cls.RiskLevel,
		}))
		return result{reply: P(conv.Language).RiskSummary, next: models.StageRiskConfirmation}, nil
	}

	return e.enterTarget(ctx, conv, target), nil
}

// enterTarget starts the stage the classifier routed to.
func (e *Engine) enterTarget(ctx context.Context, conv *models.Conversation, target models.Stage) result {
	switch target {
	case models.StageConnectivityFlow:
		EnterConnectivity(conv)
		return e.connectivityPrompt(conv)
	default:
		reply, buttons := e.generateStep(ctx, conv, target)
		return result{reply: reply, buttons: buttons, next: target}
	}
}

// targetForIntent maps a classifier intent to the stage that works it.
func targetForIntent(intent string) models.Stage {
	switch intent {
	case "network":
		return models.StageConnectivityFlow
	case "install_os", "install_app":
		return models.StageInstallationStep
	default:
		return models.StageDiagnosticStep
	}
}

// clarificationStage maps a classifier suggested_next_ask to a stage we can
// actually route a clarification through.
func clarificationStage(s string) (models.Stage, bool) {
	switch models.Stage(s) {
	case models.StageAskDeviceCategory, models.StageAskDeviceTypeMain,
		models.StageAskDeviceTypeExternal, models.StageGuidedStory:
		return models.Stage(s), true
	}
	return "", false
}

// pendingModeAsk picks at most one unanswered mode question per turn.
func pendingModeAsk(conv *models.Conversation, m llm.SuggestModes) (models.Stage, bool) {
	switch {
	case m.AskInteractionMode && conv.Modes.InteractionMode == "":
		return models.StageAskInteractionMode, true
	case m.AskLearningDepth && conv.Modes.LearningDepth == "":
		return models.StageAskLearningDepth, true
	case m.AskExecutorRole && conv.Modes.ExecutorRole == "":
		return models.StageAskExecutorRole, true
	}
	return "", false
}

func modePrompt(conv *models.Conversation, stage models.Stage) string {
	p := P(conv.Language)
	switch stage {
	case models.StageAskInteractionMode:
		return p.AskInteraction
	case models.StageAskLearningDepth:
		return p.AskDepth
	default:
		return p.AskExecutor
	}
}

// promptFor replays the canned prompt of a deterministic elicitation stage.
func promptFor(conv *models.Conversation, stage models.Stage) string {
	p := P(conv.Language)
	switch stage {
	case models.StageAskDeviceCategory:
		return p.AskDeviceCat
	case models.StageAskDeviceTypeMain:
		return p.AskDeviceMain
	case models.StageAskDeviceTypeExternal:
		return p.AskDeviceExt
	case models.StageGuidedStory:
		return p.GuidedStory[0]
	default:
		return p.AskProblem
	}
}

// missingSummary renders the classifier's missing-field list for the
// clarification prompt.
func missingSummary(conv *models.Conversation, missing []string) string {
	if len(missing) == 0 {
		if conv.Language == models.LangEn {
			return "which device it is and what exactly happens"
		}
		return "qué dispositivo es y qué pasa exactamente"
	}
	return strings.Join(missing, ", ")
}

// classifierFallback records the substitution and returns the deterministic
// result. Every fallback, whatever the failure, leaves a FALLBACK_USED
// event and a metric sample.
func (e *Engine) classifierFallback(ctx context.Context, conv *models.Conversation, reason string, err error) llm.ClassifierResult {
	e.metrics.CountFallback(ctx, "classifier", reason)
	conv.Append(models.NewSystemEvent(models.EventFallbackUsed, map[string]any{
		"kind": "classifier", "error": err.Error(),
	}))
	return llm.FallbackClassifierResult()
}

// fallbackReason maps a gateway error to the metric attribute.
func fallbackReason(err error) string {
	switch {
	case errors.Is(err, llm.ErrTimeout):
		return "timeout"
	case errors.Is(err, llm.ErrInvalidJSON):
		return "invalid_json"
	case errors.Is(err, llm.ErrSchema):
		return "schema"
	default:
		return "transport"
	}
}

// tracer adapts transcript appends to the gateway's trace callback.
func (e *Engine) tracer(conv *models.Conversation) llm.TraceFunc {
	return func(name string, payload map[string]any) {
		conv.Append(models.NewSystemEvent(name, payload))
	}
}
