// Package flow implements the conversation engine: a hybrid finite-state
// machine where each stage is either deterministic (reply and buttons
// computed locally) or governed by the two-stage LLM pipeline, with a strict
// button contract enforced on every bot turn.
package flow

import (
	"github.com/ayudatec/mesabot/pkg/models"
)

// StageKind separates stages whose handler never calls the LLM from stages
// whose reply or routing comes from it.
type StageKind int

const (
	Deterministic StageKind = iota
	LLMGoverned
)

// Contract is the per-stage button and transition contract. Allowed is the
// closed token allow-list for bot turns emitted under the stage; Defaults
// are substituted when filtering leaves a deterministic stage without
// buttons; Next lists the legal transition targets.
type Contract struct {
	Kind     StageKind
	Allowed  []string
	Defaults []string
	Next     []models.Stage
}

var contracts = map[models.Stage]Contract{
	models.StageAskConsent: {
		Kind:     Deterministic,
		Allowed:  []string{models.BtnConsentYes, models.BtnConsentNo},
		Defaults: []string{models.BtnConsentYes, models.BtnConsentNo},
		Next:     []models.Stage{models.StageAskLanguage, models.StageEnded},
	},
	models.StageAskLanguage: {
		Kind:     Deterministic,
		Allowed:  []string{models.BtnLangEsAR, models.BtnLangEn},
		Defaults: []string{models.BtnLangEsAR, models.BtnLangEn},
		Next:     []models.Stage{models.StageAskName},
	},
	models.StageAskName: {
		Kind: Deterministic,
		Next: []models.Stage{models.StageAskUserLevel},
	},
	models.StageAskUserLevel: {
		Kind:     Deterministic,
		Allowed:  []string{models.BtnUserLevelBasic, models.BtnUserLevelInterm, models.BtnUserLevelAdvanced},
		Defaults: []string{models.BtnUserLevelBasic, models.BtnUserLevelInterm, models.BtnUserLevelAdvanced},
		Next:     []models.Stage{models.StageAskDeviceCategory},
	},
	models.StageAskDeviceCategory: {
		Kind:     Deterministic,
		Allowed:  []string{models.BtnDeviceMain, models.BtnDeviceExternal},
		Defaults: []string{models.BtnDeviceMain, models.BtnDeviceExternal},
		Next:     []models.Stage{models.StageAskDeviceTypeMain, models.StageAskDeviceTypeExternal},
	},
	models.StageAskDeviceTypeMain: {
		Kind:     Deterministic,
		Allowed:  []string{models.BtnNotebook, models.BtnDesktop},
		Defaults: []string{models.BtnNotebook, models.BtnDesktop},
		Next:     []models.Stage{models.StageAskProblem},
	},
	models.StageAskDeviceTypeExternal: {
		Kind: Deterministic,
		Next: []models.Stage{models.StageAskProblem},
	},
	models.StageAskProblem: {
		Kind:    LLMGoverned,
		Allowed: []string{models.BtnConnectTech},
		Next: []models.Stage{
			models.StageAskProblemClarify, models.StageDiagnosticStep,
			models.StageConnectivityFlow, models.StageInstallationStep,
			models.StageRiskConfirmation, models.StageGuidedStory,
			models.StageAskDeviceCategory, models.StageAskDeviceTypeMain,
			models.StageAskDeviceTypeExternal, models.StageEmotionalRelease,
			models.StageAskInteractionMode, models.StageAskLearningDepth,
			models.StageAskExecutorRole,
		},
	},
	models.StageAskProblemClarify: {
		Kind:    LLMGoverned,
		Allowed: []string{models.BtnConnectTech},
		Next: []models.Stage{
			models.StageAskProblemClarify, models.StageDiagnosticStep,
			models.StageConnectivityFlow, models.StageInstallationStep,
			models.StageRiskConfirmation, models.StageGuidedStory,
			models.StageAskDeviceCategory, models.StageAskDeviceTypeMain,
			models.StageAskDeviceTypeExternal,
			models.StageAskInteractionMode, models.StageAskLearningDepth,
			models.StageAskExecutorRole,
		},
	},
	models.StageDiagnosticStep: {
		Kind:     LLMGoverned,
		Allowed:  []string{models.BtnSolved, models.BtnPersist, models.BtnAdvancedTests, models.BtnConnectTech},
		Defaults: []string{models.BtnSolved, models.BtnPersist},
		Next:     []models.Stage{models.StageDiagnosticStep, models.StageAskFeedback, models.StageEnded},
	},
	models.StageConnectivityFlow: {
		Kind: Deterministic,
		Allowed: []string{
			models.BtnWifi, models.BtnWired, models.BtnNotebook, models.BtnDesktop,
			models.BtnYes, models.BtnNo, models.BtnOneBox, models.BtnTwoBoxes,
			models.BtnLightsOK, models.BtnLightsOff,
			models.BtnSolved, models.BtnPersist, models.BtnConnectTech,
		},
		Defaults: []string{models.BtnSolved, models.BtnPersist},
		Next:     []models.Stage{models.StageConnectivityFlow, models.StageDiagnosticStep, models.StageAskFeedback, models.StageEnded},
	},
	models.StageInstallationStep: {
		Kind:     LLMGoverned,
		Allowed:  []string{models.BtnSolved, models.BtnPersist, models.BtnConnectTech},
		Defaults: []string{models.BtnSolved, models.BtnPersist},
		Next:     []models.Stage{models.StageInstallationStep, models.StageAskFeedback, models.StageEnded},
	},
	models.StageRiskConfirmation: {
		Kind:     Deterministic,
		Allowed:  []string{models.BtnRiskContinue, models.BtnRiskCancel},
		Defaults: []string{models.BtnRiskContinue, models.BtnRiskCancel},
		Next:     []models.Stage{models.StageInstallationStep, models.StageDiagnosticStep, models.StageAskProblem},
	},
	models.StageGuidedStory: {
		Kind: Deterministic,
		Next: []models.Stage{
			models.StageGuidedStory, models.StageDiagnosticStep,
			models.StageConnectivityFlow, models.StageInstallationStep,
			models.StageRiskConfirmation, models.StageAskProblemClarify,
			models.StageAskDeviceCategory, models.StageAskDeviceTypeMain,
			models.StageAskDeviceTypeExternal,
			models.StageAskInteractionMode, models.StageAskLearningDepth,
			models.StageAskExecutorRole,
		},
	},
	models.StageEmotionalRelease: {
		Kind:     Deterministic,
		Allowed:  []string{models.BtnResume},
		Defaults: []string{models.BtnResume},
		Next: []models.Stage{
			models.StageAskProblem, models.StageDiagnosticStep,
			models.StageConnectivityFlow, models.StageInstallationStep,
			models.StageGuidedStory,
		},
	},
	models.StageContextResume: {
		Kind:     Deterministic,
		Allowed:  []string{models.BtnResume, models.BtnStartOver},
		Defaults: []string{models.BtnResume, models.BtnStartOver},
		Next: []models.Stage{
			models.StageAskProblem, models.StageDiagnosticStep,
			models.StageConnectivityFlow, models.StageInstallationStep,
			models.StageRiskConfirmation, models.StageGuidedStory,
			models.StageAskConsent,
		},
	},
	models.StageAskInteractionMode: {
		Kind:     Deterministic,
		Allowed:  []string{models.BtnModeGuided, models.BtnModeAutonomous},
		Defaults: []string{models.BtnModeGuided, models.BtnModeAutonomous},
		Next:     []models.Stage{models.StageDiagnosticStep, models.StageConnectivityFlow, models.StageInstallationStep, models.StageAskProblem},
	},
	models.StageAskLearningDepth: {
		Kind:     Deterministic,
		Allowed:  []string{models.BtnDepthJustFix, models.BtnDepthExplain},
		Defaults: []string{models.BtnDepthJustFix, models.BtnDepthExplain},
		Next:     []models.Stage{models.StageDiagnosticStep, models.StageConnectivityFlow, models.StageInstallationStep, models.StageAskProblem},
	},
	models.StageAskExecutorRole: {
		Kind:     Deterministic,
		Allowed:  []string{models.BtnExecutorSelf, models.BtnExecutorHelper},
		Defaults: []string{models.BtnExecutorSelf, models.BtnExecutorHelper},
		Next:     []models.Stage{models.StageDiagnosticStep, models.StageConnectivityFlow, models.StageInstallationStep, models.StageAskProblem},
	},
	models.StageAskFeedback: {
		Kind:     Deterministic,
		Allowed:  []string{models.BtnFeedbackPositive, models.BtnFeedbackNegative},
		Defaults: []string{models.BtnFeedbackPositive, models.BtnFeedbackNegative},
		Next:     []models.Stage{models.StageEnded},
	},
	models.StageEnded: {
		Kind: Deterministic,
		Next: []models.Stage{},
	},
}

// ContractFor returns the stage contract. ok is false for unknown stages,
// which the runtime resets to ASK_CONSENT.
func ContractFor(stage models.Stage) (Contract, bool) {
	c, ok := contracts[stage]
	return c, ok
}

// TransitionAllowed reports whether from → to is in the state map. Staying
// on the same stage is always legal.
func TransitionAllowed(from, to models.Stage) bool {
	if from == to {
		return true
	}
	c, ok := contracts[from]
	if !ok {
		return false
	}
	for _, n := range c.Next {
		if n == to {
			return true
		}
	}
	return false
}

// tokenAllowed reports whether the stage contract permits the token.
func tokenAllowed(c Contract, token string) bool {
	for _, t := range c.Allowed {
		if t == token {
			return true
		}
	}
	return false
}
