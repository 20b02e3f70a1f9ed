package flow

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ayudatec/mesabot/pkg/llm"
	"github.com/ayudatec/mesabot/pkg/masking"
	"github.com/ayudatec/mesabot/pkg/models"
)

const (
	// maxPrevSteps bounds the do-not-repeat window shown to the generator.
	maxPrevSteps = 3

	// maxReplyRunes truncates a generated reply after sanitization.
	maxReplyRunes = 1200

	// prevStepSummaryRunes shortens a step before it enters the window.
	prevStepSummaryRunes = 140

	// nameUseProbability is the baseline chance of addressing the user by
	// name in a neutral turn.
	nameUseProbability = 0.3
)

var urlPattern = regexp.MustCompile(`https?://[^\s)>\]]+`)

// allowedLinkDomains is the outbound-link allow-list applied to generated
// replies. Anything else is stripped.
var allowedLinkDomains = []string{
	"support.google.com", "support.microsoft.com", "support.apple.com",
}

const stepSystemPrompt = `You are a patient help desk technician guiding a user through ONE
diagnostic step at a time. Reply with ONLY a JSON object:
{"reply": "the single next step, in the user's language",
 "buttons": [{"token": "BTN_SOLVED|BTN_PERSIST|BTN_ADVANCED_TESTS|BTN_CONNECT_TECH", "label": "localized label", "order": 1}],
 "emotion": "neutral|frustrated|anxious|confused|focused|satisfied"}
Give exactly one actionable step. Never give more than one step per reply.`

// handleDiagnosticStep drives the LLM-governed diagnosis loop.
func (e *Engine) handleDiagnosticStep(ctx context.Context, conv *models.Conversation, in Input) (result, error) {
	return e.stepTurn(ctx, conv, in, models.StageDiagnosticStep)
}

// handleInstallationStep is the same loop for guided installs; the risk
// gate has already run by the time the stage is reached.
func (e *Engine) handleInstallationStep(ctx context.Context, conv *models.Conversation, in Input) (result, error) {
	return e.stepTurn(ctx, conv, in, models.StageInstallationStep)
}

func (e *Engine) stepTurn(ctx context.Context, conv *models.Conversation, in Input, stage models.Stage) (result, error) {
	p := P(conv.Language)
	switch in.ButtonToken {
	case models.BtnSolved:
		conv.Context.LastButtonResult = "solved"
		return result{reply: p.AskFeedback, next: models.StageAskFeedback}, nil
	case models.BtnPersist:
		conv.Context.LastButtonResult = "persist"
		conv.Context.DiagnosticAttempts++
		if conv.Context.DiagnosticAttempts >= e.cfg.Escalation.DiagnosticAttemptsThreshold {
			return result{escalate: true, reason: models.ReasonMultipleAttemptsFailed}, nil
		}
	case models.BtnAdvancedTests:
		conv.Context.LastButtonResult = "advanced_tests"
		conv.Modes.TechFormat = true
	default:
		if text := strings.TrimSpace(in.Text); text != "" {
			// A step-stage description of a dangerous physical condition
			// escalates without waiting for a classifier pass.
			if PhysicalRiskDetected(text) {
				return result{escalate: true, reason: models.ReasonRiskDetected}, nil
			}
			conv.Context.LastButtonResult = ""
			if conv.Context.Problem == "" {
				conv.Context.Problem = text
			} else {
				conv.Context.Problem += ". " + text
			}
		}
	}

	reply, buttons := e.generateStep(ctx, conv, stage)
	return result{reply: reply, buttons: buttons, next: stage}, nil
}

// generateStep produces one diagnostic step through the gateway, falling
// back to the canned step on any gateway error. The generated reply is
// sanitized and recorded in the anti-repetition window.
func (e *Engine) generateStep(ctx context.Context, conv *models.Conversation, stage models.Stage) (string, []models.Button) {
	userPrompt := e.composeStepPrompt(conv, stage)
	summary := fmt.Sprintf("step for intent=%s device=%s attempt=%d",
		conv.Context.ProblemCategory, conv.Context.DeviceType, conv.Context.DiagnosticAttempts)

	raw, err := e.gateway.Call(ctx, llm.KindStep, stepSystemPrompt,
		masking.MaskText(userPrompt), summary, e.tracer(conv))
	if err != nil {
		return e.stepFallback(ctx, conv, stage, fallbackReason(err), err)
	}

	step, err := llm.DecodeStep(raw)
	if err != nil {
		return e.stepFallback(ctx, conv, stage, "decode", err)
	}

	reply := sanitizeReply(step.Reply)
	conv.Append(models.NewSystemEvent(models.EventIAStepResult, map[string]any{
		"reply":   reply,
		"emotion": step.Emotion,
	}))
	e.recordStep(conv, reply, step.Emotion)

	buttons := make([]models.Button, 0, len(step.Buttons))
	for _, b := range step.Buttons {
		buttons = append(buttons, models.Button{Token: b.Token, Label: b.Label, Order: b.Order})
	}
	if len(buttons) == 0 {
		buttons = DefaultButtons(stage, conv.Language)
	}
	return reply, buttons
}

// stepFallback substitutes the canned step, leaving the FALLBACK_USED event
// and metric sample every substitution must carry.
func (e *Engine) stepFallback(ctx context.Context, conv *models.Conversation, stage models.Stage, reason string, err error) (string, []models.Button) {
	p := P(conv.Language)
	e.metrics.CountFallback(ctx, "step", reason)
	conv.Append(models.NewSystemEvent(models.EventFallbackUsed, map[string]any{
		"kind": "step", "error": err.Error(),
	}))
	e.recordStep(conv, p.FallbackStep, "neutral")
	return p.FallbackStep, DefaultButtons(stage, conv.Language)
}

// composeStepPrompt assembles everything the generator must see: identity,
// device, history window, previous button result, level-gated security
// restrictions, and emotion-adaptive format directives.
func (e *Engine) composeStepPrompt(conv *models.Conversation, stage models.Stage) string {
	var b strings.Builder
	c := conv.Context

	fmt.Fprintf(&b, "language: %s\nuser_level: %s\nstage: %s\n", conv.Language, conv.UserLevel, stage)
	fmt.Fprintf(&b, "device_type: %s\nproblem_category: %s\nproblem: %s\n", c.DeviceType, c.ProblemCategory, c.Problem)

	if len(c.PrevSteps) > 0 {
		b.WriteString("previous steps already tried, DO NOT repeat any of them:\n")
		for i, s := range c.PrevSteps {
			fmt.Fprintf(&b, "%d. %s\n", i+1, s)
		}
	}
	if c.LastButtonResult == "persist" {
		b.WriteString("the last step did NOT work; try a genuinely different approach\n")
	}

	switch conv.UserLevel {
	case models.LevelBasic, models.LevelIntermediate, "":
		b.WriteString("restrictions: never suggest formatting, partitioning, BIOS changes, " +
			"opening the device physically, or complex terminal commands without a full explanation; " +
			"when a step would be risky, recommend contacting a human technician instead\n")
	}

	switch c.LastEmotion {
	case "focused":
		b.WriteString("format: no emojis, at most 3 lines\n")
	case "frustrated", "anxious":
		b.WriteString("format: at most 1 emoji, 2-4 short reassuring lines\n")
	default:
		b.WriteString("format: 1-2 emojis, 4-6 lines\n")
	}

	if conv.Modes.TechFormat {
		b.WriteString("the user asked for advanced tests: technical detail is welcome\n")
	}
	if conv.Modes.LearningDepth == "explain" {
		b.WriteString("briefly explain why the step helps\n")
	}
	if conv.Modes.ExecutorRole == "helper" {
		b.WriteString("the steps are executed by a helper next to the user; phrase accordingly\n")
	}

	if conv.User.Name != "" && e.shouldUseName(c.LastEmotion) {
		fmt.Fprintf(&b, "address the user by name: %s\n", firstName(conv.User.Name))
	}
	return b.String()
}

// shouldUseName keeps name use sparse: elevated in emotional turns, ~30%
// otherwise.
func (e *Engine) shouldUseName(emotion string) bool {
	if emotion == "frustrated" || emotion == "anxious" {
		return true
	}
	return e.rng() < nameUseProbability
}

// recordStep updates the anti-repetition window and the working context.
func (e *Engine) recordStep(conv *models.Conversation, reply, emotion string) {
	short := shorten(reply, prevStepSummaryRunes)
	conv.Context.LastStep = short
	conv.Context.LastEmotion = emotion
	conv.Context.PrevSteps = append(conv.Context.PrevSteps, short)
	if n := len(conv.Context.PrevSteps); n > maxPrevSteps {
		conv.Context.PrevSteps = conv.Context.PrevSteps[n-maxPrevSteps:]
	}
}

// sanitizeReply strips links outside the domain allow-list and truncates
// overlong replies.
func sanitizeReply(s string) string {
	s = urlPattern.ReplaceAllStringFunc(s, func(u string) string {
		for _, d := range allowedLinkDomains {
			if strings.Contains(u, "://"+d+"/") || strings.HasSuffix(u, "://"+d) || strings.Contains(u, "://"+d+"?") {
				return u
			}
		}
		return ""
	})
	s = strings.TrimSpace(s)
	return shorten(s, maxReplyRunes)
}

func shorten(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
