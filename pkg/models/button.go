package models

// MaxButtonsPerTurn is the hard cap on buttons offered in one bot turn.
const MaxButtonsPerTurn = 4

// Button is one pressable option offered to the user. Token is a stable
// machine identifier from the closed catalog; Label is localized by the
// handler that selected the button.
type Button struct {
	Token string `json:"token"`
	Label string `json:"label"`
	Order int    `json:"order"`
}

// Button tokens. The catalog is closed and versioned with the schema: the
// widget sends tokens back verbatim, so renaming one is a breaking change.
const (
	BtnConsentYes        = "BTN_CONSENT_YES"
	BtnConsentNo         = "BTN_CONSENT_NO"
	BtnLangEsAR          = "BTN_LANG_ES_AR"
	BtnLangEn            = "BTN_LANG_EN"
	BtnUserLevelBasic    = "BTN_USER_LEVEL_BASIC"
	BtnUserLevelInterm   = "BTN_USER_LEVEL_INTERMEDIATE"
	BtnUserLevelAdvanced = "BTN_USER_LEVEL_ADVANCED"
	BtnProblema          = "BTN_PROBLEMA"
	BtnConsulta          = "BTN_CONSULTA"
	BtnDeviceMain        = "BTN_DEVICE_MAIN"
	BtnDeviceExternal    = "BTN_DEVICE_EXTERNAL"
	BtnNotebook          = "BTN_NOTEBOOK"
	BtnDesktop           = "BTN_DESKTOP"
	BtnWifi              = "BTN_WIFI"
	BtnWired             = "BTN_WIRED"
	BtnYes               = "BTN_YES"
	BtnNo                = "BTN_NO"
	BtnOneBox            = "BTN_ONE_BOX"
	BtnTwoBoxes          = "BTN_TWO_BOXES"
	BtnLightsOK          = "BTN_LIGHTS_OK"
	BtnLightsOff         = "BTN_LIGHTS_OFF"
	BtnSolved            = "BTN_SOLVED"
	BtnPersist           = "BTN_PERSIST"
	BtnAdvancedTests     = "BTN_ADVANCED_TESTS"
	BtnConnectTech       = "BTN_CONNECT_TECH"
	BtnRiskContinue      = "BTN_RISK_CONTINUE"
	BtnRiskCancel        = "BTN_RISK_CANCEL"
	BtnFeedbackPositive  = "BTN_FEEDBACK_POSITIVE"
	BtnFeedbackNegative  = "BTN_FEEDBACK_NEGATIVE"
	BtnResume            = "BTN_RESUME"
	BtnStartOver         = "BTN_START_OVER"
	BtnModeGuided        = "BTN_MODE_GUIDED"
	BtnModeAutonomous    = "BTN_MODE_AUTONOMOUS"
	BtnDepthJustFix      = "BTN_DEPTH_JUST_FIX"
	BtnDepthExplain      = "BTN_DEPTH_EXPLAIN"
	BtnExecutorSelf      = "BTN_EXECUTOR_SELF"
	BtnExecutorHelper    = "BTN_EXECUTOR_HELPER"
	BtnClose             = "BTN_CLOSE"
)
