package models

// Stage identifies a state of the conversation flow. Stages are persisted on
// the record and in STAGE_CHANGED events, so the identifiers are part of the
// storage schema and must stay stable.
type Stage string

const (
	StageAskConsent            Stage = "ASK_CONSENT"
	StageAskLanguage           Stage = "ASK_LANGUAGE"
	StageAskName               Stage = "ASK_NAME"
	StageAskUserLevel          Stage = "ASK_USER_LEVEL"
	StageAskDeviceCategory     Stage = "ASK_DEVICE_CATEGORY"
	StageAskDeviceTypeMain     Stage = "ASK_DEVICE_TYPE_MAIN"
	StageAskDeviceTypeExternal Stage = "ASK_DEVICE_TYPE_EXTERNAL"
	StageAskProblem            Stage = "ASK_PROBLEM"
	StageAskProblemClarify     Stage = "ASK_PROBLEM_CLARIFICATION"
	StageDiagnosticStep        Stage = "DIAGNOSTIC_STEP"
	StageConnectivityFlow      Stage = "CONNECTIVITY_FLOW"
	StageInstallationStep      Stage = "INSTALLATION_STEP"
	StageRiskConfirmation      Stage = "RISK_CONFIRMATION"
	StageGuidedStory           Stage = "GUIDED_STORY"
	StageEmotionalRelease      Stage = "EMOTIONAL_RELEASE"
	StageContextResume         Stage = "CONTEXT_RESUME"
	StageAskInteractionMode    Stage = "ASK_INTERACTION_MODE"
	StageAskLearningDepth      Stage = "ASK_LEARNING_DEPTH"
	StageAskExecutorRole       Stage = "ASK_EXECUTOR_ROLE"
	StageAskFeedback           Stage = "ASK_FEEDBACK"
	StageEnded                 Stage = "ENDED"
)

// Terminal reports whether the stage admits no further transitions except
// into ENDED.
func (s Stage) Terminal() bool {
	return s == StageEnded
}
