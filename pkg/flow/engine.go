package flow

import (
	"context"
	"math/rand/v2"

	"github.com/ayudatec/mesabot/pkg/config"
	"github.com/ayudatec/mesabot/pkg/llm"
	"github.com/ayudatec/mesabot/pkg/models"
	"github.com/ayudatec/mesabot/pkg/observe"
)

// Input is one user turn: free text or a button press, never both.
type Input struct {
	Text        string
	ButtonToken string
	ButtonLabel string
}

// IsButton reports whether the turn is a button press.
func (in Input) IsButton() bool { return in.ButtonToken != "" }

// Output is the engine's side of one turn. When Escalate is set the caller
// owns ticket emission and replaces Reply with the handover turn.
type Output struct {
	Reply    string
	Buttons  []models.Button
	End      bool
	Escalate bool
	Reason   string
}

// ReserveIDFunc allocates a fresh conversation ID. Injected so the engine
// stays free of storage concerns.
type ReserveIDFunc func(ctx context.Context) (string, error)

// Engine drives the conversation state machine. It mutates the conversation
// it is handed (the caller owns a clone under the per-conversation lock) and
// appends system events directly; the caller appends the user and bot
// events around the call.
type Engine struct {
	gateway   *llm.Gateway
	cfg       *config.Config
	metrics   *observe.Metrics
	reserveID ReserveIDFunc

	// rng drives the sparse-name-use decision; swapped in tests.
	rng func() float64
}

// NewEngine wires the conversation engine.
func NewEngine(gateway *llm.Gateway, cfg *config.Config, metrics *observe.Metrics, reserveID ReserveIDFunc) *Engine {
	return &Engine{
		gateway:   gateway,
		cfg:       cfg,
		metrics:   metrics,
		reserveID: reserveID,
		rng:       rand.Float64,
	}
}

// result is what a stage handler returns before contract enforcement.
type result struct {
	reply    string
	buttons  []models.Button
	next     models.Stage
	end      bool
	escalate bool
	reason   string
}

// Turn dispatches one user turn through the state machine.
func (e *Engine) Turn(ctx context.Context, conv *models.Conversation, in Input) (Output, error) {
	e.metrics.CountTurn(ctx, string(conv.Stage))

	// Unknown or missing stage (including records written by a future
	// schema) resets to the cold-start flow.
	if _, ok := ContractFor(conv.Stage); !ok || conv.LegacyIncompatible {
		reason := "stage_invalid"
		if conv.LegacyIncompatible {
			reason = "legacy_record"
			conv.LegacyIncompatible = false
		}
		from := conv.Stage
		conv.Stage = models.StageAskConsent
		conv.Append(models.NewSystemEvent(models.EventStageChanged, map[string]any{
			"from": string(from), "to": string(models.StageAskConsent), "reason": reason,
		}))
	}

	// Intents that transcend the current stage.
	if out, ok := e.crossStageIntent(conv, in); ok {
		return out, nil
	}

	res, err := e.dispatch(ctx, conv, in)
	if err != nil {
		return Output{}, err
	}
	if res.escalate {
		return Output{Escalate: true, Reason: res.reason}, nil
	}

	e.transition(conv, res.next)
	return Output{
		Reply:   res.reply,
		Buttons: EnforceButtons(conv.Stage, conv.Language, res.buttons),
		End:     res.end,
	}, nil
}

// Greeting is the opening turn for a fresh conversation: the consent
// prompt under ASK_CONSENT.
func (e *Engine) Greeting(conv *models.Conversation) Output {
	return Output{
		Reply:   P(conv.Language).Consent,
		Buttons: EnforceButtons(models.StageAskConsent, conv.Language, nil),
	}
}

// ResumeTurn switches an existing conversation into CONTEXT_RESUME and
// returns the continue-or-restart prompt. Terminal and escalated records
// are the caller's concern.
func (e *Engine) ResumeTurn(conv *models.Conversation) Output {
	if conv.Stage != models.StageContextResume {
		conv.Context.SuspendedStage = conv.Stage
		conv.Stage = models.StageContextResume
		conv.Append(models.NewSystemEvent(models.EventStageChanged, map[string]any{
			"from": string(conv.Context.SuspendedStage), "to": string(models.StageContextResume),
			"reason": "resume",
		}))
	}
	return Output{
		Reply:   e.resumeSummary(conv),
		Buttons: EnforceButtons(models.StageContextResume, conv.Language, nil),
	}
}

// crossStageIntent handles user intents that transcend the FSM: an explicit
// technician request (button or typed, typo-tolerant) and a one-shot
// emotional venting detour. Escalation is only meaningful once an ID exists.
func (e *Engine) crossStageIntent(conv *models.Conversation, in Input) (Output, bool) {
	if conv.ConversationID == "" || conv.Stage.Terminal() {
		return Output{}, false
	}
	if in.ButtonToken == models.BtnConnectTech {
		return Output{Escalate: true, Reason: models.ReasonUserRequested}, true
	}
	if !in.IsButton() && WantsTechnician(in.Text) {
		return Output{Escalate: true, Reason: models.ReasonUserRequested}, true
	}
	if !in.IsButton() && !conv.Modes.EmotionalReleaseUsed && WantsVenting(in.Text) && ventingAllowed(conv.Stage) {
		conv.Modes.EmotionalReleaseUsed = true
		conv.Context.SuspendedStage = conv.Stage
		// A cross-stage detour: legal from any mid-diagnosis stage.
		from := conv.Stage
		conv.Stage = models.StageEmotionalRelease
		conv.Append(models.NewSystemEvent(models.EventStageChanged, map[string]any{
			"from": string(from), "to": string(models.StageEmotionalRelease),
			"reason": "emotional_release",
		}))
		return Output{
			Reply:   P(conv.Language).EmotionalRelease,
			Buttons: EnforceButtons(models.StageEmotionalRelease, conv.Language, nil),
		}, true
	}
	return Output{}, false
}

// ventingAllowed limits the emotional detour to stages mid-diagnosis, where
// frustration actually builds; onboarding stages re-prompt instead.
func ventingAllowed(s models.Stage) bool {
	switch s {
	case models.StageAskProblem, models.StageAskProblemClarify,
		models.StageDiagnosticStep, models.StageConnectivityFlow,
		models.StageInstallationStep, models.StageGuidedStory:
		return true
	}
	return false
}

// dispatch runs the stage-specific handler.
func (e *Engine) dispatch(ctx context.Context, conv *models.Conversation, in Input) (result, error) {
	switch conv.Stage {
	case models.StageAskConsent:
		return e.handleConsent(conv, in), nil
	case models.StageAskLanguage:
		return e.handleLanguage(ctx, conv, in)
	case models.StageAskName:
		return e.handleName(conv, in), nil
	case models.StageAskUserLevel:
		return e.handleUserLevel(conv, in), nil
	case models.StageAskDeviceCategory:
		return e.handleDeviceCategory(conv, in), nil
	case models.StageAskDeviceTypeMain:
		return e.handleDeviceTypeMain(conv, in), nil
	case models.StageAskDeviceTypeExternal:
		return e.handleDeviceTypeExternal(conv, in), nil
	case models.StageAskProblem:
		return e.handleAskProblem(ctx, conv, in)
	case models.StageAskProblemClarify:
		return e.handleClarification(ctx, conv, in)
	case models.StageDiagnosticStep:
		return e.handleDiagnosticStep(ctx, conv, in)
	case models.StageConnectivityFlow:
		return e.handleConnectivity(ctx, conv, in)
	case models.StageInstallationStep:
		return e.handleInstallationStep(ctx, conv, in)
	case models.StageRiskConfirmation:
		return e.handleRiskConfirmation(ctx, conv, in)
	case models.StageGuidedStory:
		return e.handleGuidedStory(ctx, conv, in)
	case models.StageEmotionalRelease:
		return e.handleEmotionalRelease(ctx, conv, in)
	case models.StageContextResume:
		return e.handleContextResume(ctx, conv, in)
	case models.StageAskInteractionMode:
		return e.handleInteractionMode(ctx, conv, in)
	case models.StageAskLearningDepth:
		return e.handleLearningDepth(ctx, conv, in)
	case models.StageAskExecutorRole:
		return e.handleExecutorRole(ctx, conv, in)
	case models.StageAskFeedback:
		return e.handleFeedback(conv, in), nil
	case models.StageEnded:
		return result{reply: P(conv.Language).Goodbye, next: models.StageEnded, end: true}, nil
	}
	// Unreachable: ContractFor gated the stage above.
	return result{reply: P(conv.Language).FallbackProblem, next: models.StageAskConsent}, nil
}

// transition applies a stage change, emitting STAGE_CHANGED before any bot
// reply is appended. Illegal transitions are clamped to the current stage
// with a warning event.
func (e *Engine) transition(conv *models.Conversation, next models.Stage) {
	if next == "" || next == conv.Stage {
		return
	}
	if !TransitionAllowed(conv.Stage, next) {
		conv.Append(models.NewSystemEvent(models.EventStageChanged, map[string]any{
			"from": string(conv.Stage), "to": string(conv.Stage),
			"requested": string(next), "reason": "illegal_transition",
		}))
		return
	}
	from := conv.Stage
	conv.Stage = next
	conv.Append(models.NewSystemEvent(models.EventStageChanged, map[string]any{
		"from": string(from), "to": string(next),
	}))
}

// resumePrompt rebuilds the prompt for a stage being re-entered (after an
// emotional detour, a mode question, or an explicit resume). Deterministic
// stages replay their canned prompt; step stages generate a fresh step.
func (e *Engine) resumePrompt(ctx context.Context, conv *models.Conversation, target models.Stage) result {
	p := P(conv.Language)
	switch target {
	case models.StageAskProblem:
		return result{reply: p.AskProblem, next: target}
	case models.StageAskProblemClarify:
		return result{reply: p.FallbackProblem, next: models.StageAskProblem}
	case models.StageConnectivityFlow:
		return e.connectivityPrompt(conv)
	case models.StageGuidedStory:
		return e.guidedStoryPrompt(conv)
	case models.StageDiagnosticStep, models.StageInstallationStep:
		reply, buttons := e.generateStep(ctx, conv, target)
		return result{reply: reply, buttons: buttons, next: target}
	default:
		return result{reply: p.AskProblem, next: models.StageAskProblem}
	}
}
