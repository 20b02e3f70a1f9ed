package flow

import (
	"context"
	"fmt"
	"strings"

	"github.com/ayudatec/mesabot/pkg/masking"
	"github.com/ayudatec/mesabot/pkg/models"
)

// Deterministic handlers compute reply and buttons locally. Unexpected
// input re-prompts the current stage instead of advancing.

func (e *Engine) handleConsent(conv *models.Conversation, in Input) result {
	p := P(conv.Language)
	switch in.ButtonToken {
	case models.BtnConsentYes:
		return result{reply: p.AskLanguage, next: models.StageAskLanguage}
	case models.BtnConsentNo:
		conv.Status = models.StatusClosed
		return result{reply: p.ConsentDeclined, next: models.StageEnded, end: true}
	}
	return result{reply: p.Consent, next: models.StageAskConsent}
}

func (e *Engine) handleLanguage(ctx context.Context, conv *models.Conversation, in Input) (result, error) {
	var lang models.Language
	switch in.ButtonToken {
	case models.BtnLangEsAR:
		lang = models.LangEsAR
	case models.BtnLangEn:
		lang = models.LangEn
	default:
		return result{reply: P(conv.Language).AskLanguage, next: models.StageAskLanguage}, nil
	}

	conv.Language = lang
	if conv.ConversationID == "" {
		id, err := e.reserveID(ctx)
		if err != nil {
			return result{}, err
		}
		conv.ConversationID = id
		conv.Append(models.NewSystemEvent(models.EventConversationIDAssigned, map[string]any{
			"conversation_id": id,
		}))
	}
	return result{
		reply: fmt.Sprintf(P(lang).AskName, conv.ConversationID),
		next:  models.StageAskName,
	}, nil
}

func (e *Engine) handleName(conv *models.Conversation, in Input) result {
	p := P(conv.Language)
	name := masking.SanitizeName(in.Text)
	if name == "" {
		return result{reply: fmt.Sprintf(p.AskName, conv.ConversationID), next: models.StageAskName}
	}
	conv.User.Name = name
	return result{
		reply: fmt.Sprintf(p.AskUserLevel, firstName(name)),
		next:  models.StageAskUserLevel,
	}
}

func (e *Engine) handleUserLevel(conv *models.Conversation, in Input) result {
	p := P(conv.Language)
	switch in.ButtonToken {
	case models.BtnUserLevelBasic:
		conv.UserLevel = models.LevelBasic
	case models.BtnUserLevelInterm:
		conv.UserLevel = models.LevelIntermediate
	case models.BtnUserLevelAdvanced:
		conv.UserLevel = models.LevelAdvanced
	default:
		return result{reply: fmt.Sprintf(p.AskUserLevel, firstName(conv.User.Name)), next: models.StageAskUserLevel}
	}
	return result{reply: p.AskDeviceCat, next: models.StageAskDeviceCategory}
}

func (e *Engine) handleDeviceCategory(conv *models.Conversation, in Input) result {
	p := P(conv.Language)
	switch in.ButtonToken {
	case models.BtnDeviceMain:
		conv.Context.DeviceCategory = "main"
		return result{reply: p.AskDeviceMain, next: models.StageAskDeviceTypeMain}
	case models.BtnDeviceExternal:
		conv.Context.DeviceCategory = "external"
		return result{reply: p.AskDeviceExt, next: models.StageAskDeviceTypeExternal}
	}
	return result{reply: p.AskDeviceCat, next: models.StageAskDeviceCategory}
}

func (e *Engine) handleDeviceTypeMain(conv *models.Conversation, in Input) result {
	p := P(conv.Language)
	switch in.ButtonToken {
	case models.BtnNotebook:
		conv.Context.DeviceType = "notebook"
	case models.BtnDesktop:
		conv.Context.DeviceType = "desktop"
	default:
		// Free text like "notebook" is accepted too.
		if t := strings.TrimSpace(in.Text); t != "" {
			conv.Context.DeviceType = strings.ToLower(masking.SanitizeName(t))
		} else {
			return result{reply: p.AskDeviceMain, next: models.StageAskDeviceTypeMain}
		}
	}
	return result{reply: p.AskProblem, next: models.StageAskProblem}
}

func (e *Engine) handleDeviceTypeExternal(conv *models.Conversation, in Input) result {
	p := P(conv.Language)
	t := strings.TrimSpace(in.Text)
	if t == "" {
		return result{reply: p.AskDeviceExt, next: models.StageAskDeviceTypeExternal}
	}
	conv.Context.DeviceType = strings.ToLower(masking.SanitizeName(t))
	return result{reply: p.AskProblem, next: models.StageAskProblem}
}

// handleRiskConfirmation gates medium and high risk paths. Cancel returns
// to problem elicitation; continue proceeds into the gated step stage
// recorded when the gate was raised.
func (e *Engine) handleRiskConfirmation(ctx context.Context, conv *models.Conversation, in Input) (result, error) {
	p := P(conv.Language)
	switch in.ButtonToken {
	case models.BtnRiskCancel:
		conv.Context.SuspendedStage = ""
		return result{reply: p.RiskCancelled, next: models.StageAskProblem}, nil
	case models.BtnRiskContinue:
		target := conv.Context.SuspendedStage
		conv.Context.SuspendedStage = ""
		if target == "" {
			target = models.StageDiagnosticStep
		}
		return e.resumePrompt(ctx, conv, target), nil
	}
	return result{reply: p.RiskSummary, next: models.StageRiskConfirmation}, nil
}

// handleGuidedStory is the scripted low-pressure elicitation used when the
// classifier is unsure. Three questions; the answers are folded into the
// problem description, then classified again.
func (e *Engine) handleGuidedStory(ctx context.Context, conv *models.Conversation, in Input) (result, error) {
	t := strings.TrimSpace(in.Text)
	if t == "" {
		return e.guidedStoryPrompt(conv), nil
	}
	if conv.Context.Problem == "" {
		conv.Context.Problem = t
	} else {
		conv.Context.Problem += ". " + t
	}
	conv.Context.GuidedStoryStep++
	if conv.Context.GuidedStoryStep < len(P(conv.Language).GuidedStory) {
		return e.guidedStoryPrompt(conv), nil
	}
	// Story complete: classify the assembled description.
	return e.classify(ctx, conv, conv.Context.Problem)
}

func (e *Engine) guidedStoryPrompt(conv *models.Conversation) result {
	p := P(conv.Language)
	step := conv.Context.GuidedStoryStep
	if step >= len(p.GuidedStory) {
		step = len(p.GuidedStory) - 1
	}
	return result{reply: p.GuidedStory[step], next: models.StageGuidedStory}
}

// handleEmotionalRelease returns to the suspended stage once the user is
// ready to continue.
func (e *Engine) handleEmotionalRelease(ctx context.Context, conv *models.Conversation, in Input) (result, error) {
	if in.ButtonToken != models.BtnResume {
		return result{reply: P(conv.Language).EmotionalRelease, next: models.StageEmotionalRelease}, nil
	}
	target := conv.Context.SuspendedStage
	conv.Context.SuspendedStage = ""
	if target == "" {
		target = models.StageAskProblem
	}
	return e.resumePrompt(ctx, conv, target), nil
}

// handleContextResume offers continue-or-restart after /resume.
func (e *Engine) handleContextResume(ctx context.Context, conv *models.Conversation, in Input) (result, error) {
	switch in.ButtonToken {
	case models.BtnResume:
		target := conv.Context.SuspendedStage
		conv.Context.SuspendedStage = ""
		if target == "" {
			target = models.StageAskProblem
		}
		return e.resumePrompt(ctx, conv, target), nil
	case models.BtnStartOver:
		// Identity survives; working memory resets.
		conv.Context = models.Context{}
		return result{reply: P(conv.Language).AskProblem, next: models.StageAskProblem}, nil
	}
	return result{reply: e.resumeSummary(conv), next: models.StageContextResume}, nil
}

// resumeSummary is the CONTEXT_RESUME greeting: who and what we remember.
func (e *Engine) resumeSummary(conv *models.Conversation) string {
	p := P(conv.Language)
	name := ""
	if conv.User.Name != "" {
		name = ", " + firstName(conv.User.Name)
	}
	problem := conv.Context.Problem
	if problem == "" {
		problem = string(conv.Context.SuspendedStage)
	}
	return fmt.Sprintf(p.ResumeSummary, name, problem)
}

func (e *Engine) handleInteractionMode(ctx context.Context, conv *models.Conversation, in Input) (result, error) {
	switch in.ButtonToken {
	case models.BtnModeGuided:
		conv.Modes.InteractionMode = "guided"
	case models.BtnModeAutonomous:
		conv.Modes.InteractionMode = "autonomous"
	default:
		return result{reply: P(conv.Language).AskInteraction, next: models.StageAskInteractionMode}, nil
	}
	return e.resumeSuspended(ctx, conv), nil
}

func (e *Engine) handleLearningDepth(ctx context.Context, conv *models.Conversation, in Input) (result, error) {
	switch in.ButtonToken {
	case models.BtnDepthJustFix:
		conv.Modes.LearningDepth = "just_fix"
	case models.BtnDepthExplain:
		conv.Modes.LearningDepth = "explain"
	default:
		return result{reply: P(conv.Language).AskDepth, next: models.StageAskLearningDepth}, nil
	}
	return e.resumeSuspended(ctx, conv), nil
}

func (e *Engine) handleExecutorRole(ctx context.Context, conv *models.Conversation, in Input) (result, error) {
	switch in.ButtonToken {
	case models.BtnExecutorSelf:
		conv.Modes.ExecutorRole = "self"
	case models.BtnExecutorHelper:
		conv.Modes.ExecutorRole = "helper"
	default:
		return result{reply: P(conv.Language).AskExecutor, next: models.StageAskExecutorRole}, nil
	}
	return e.resumeSuspended(ctx, conv), nil
}

func (e *Engine) resumeSuspended(ctx context.Context, conv *models.Conversation) result {
	target := conv.Context.SuspendedStage
	conv.Context.SuspendedStage = ""
	if target == "" {
		target = models.StageAskProblem
	}
	return e.resumePrompt(ctx, conv, target)
}

func (e *Engine) handleFeedback(conv *models.Conversation, in Input) result {
	p := P(conv.Language)
	switch in.ButtonToken {
	case models.BtnFeedbackPositive:
		conv.Feedback = models.FeedbackPositive
	case models.BtnFeedbackNegative:
		conv.Feedback = models.FeedbackNegative
	default:
		return result{reply: p.AskFeedback, next: models.StageAskFeedback}
	}
	conv.Status = models.StatusClosed
	return result{reply: p.FeedbackThanks, next: models.StageEnded, end: true}
}

// firstName trims a display name to its first token for friendlier replies.
func firstName(name string) string {
	if i := strings.IndexByte(name, ' '); i > 0 {
		return name[:i]
	}
	return name
}
