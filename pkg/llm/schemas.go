package llm

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// classifierSchema validates the routing result produced for ASK_PROBLEM
// and clarification turns. Extra fields are ignored; missing required
// fields, wrong types, or out-of-range enums fail validation.
const classifierSchema = `{
  "type": "object",
  "required": ["intent", "needs_clarification", "suggested_next_ask", "risk_level", "confidence"],
  "properties": {
    "intent": {
      "type": "string",
      "enum": ["network", "install_os", "install_app", "hardware", "software", "peripheral", "account", "billing", "other", "unknown"]
    },
    "needs_clarification": {"type": "boolean"},
    "missing": {"type": "array", "items": {"type": "string"}},
    "suggested_next_ask": {"type": "string"},
    "risk_level": {"type": "string", "enum": ["low", "medium", "high"]},
    "suggest_modes": {
      "type": "object",
      "properties": {
        "ask_interaction_mode": {"type": "boolean"},
        "ask_learning_depth": {"type": "boolean"},
        "ask_executor_role": {"type": "boolean"},
        "activate_advisory_mode": {"type": "boolean"}
      }
    },
    "confidence": {"type": "number", "minimum": 0.0, "maximum": 1.0}
  }
}`

// stepSchema validates a single diagnostic step. Buttons are filtered
// afterwards by the stage contract; here only shape is checked.
const stepSchema = `{
  "type": "object",
  "required": ["reply"],
  "properties": {
    "reply": {"type": "string", "minLength": 1},
    "buttons": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["token", "label"],
        "properties": {
          "token": {"type": "string", "minLength": 1},
          "label": {"type": "string", "minLength": 1},
          "order": {"type": "integer"}
        }
      }
    },
    "emotion": {
      "type": "string",
      "enum": ["neutral", "frustrated", "anxious", "confused", "focused", "satisfied"]
    }
  }
}`

var schemas = map[Kind]*gojsonschema.Schema{
	KindClassifier: mustCompileSchema(classifierSchema),
	KindStep:       mustCompileSchema(stepSchema),
}

func mustCompileSchema(src string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("invalid llm result schema: %v", err))
	}
	return s
}

// SuggestModes are the cross-cutting toggles the classifier may propose.
type SuggestModes struct {
	AskInteractionMode   bool `json:"ask_interaction_mode"`
	AskLearningDepth     bool `json:"ask_learning_depth"`
	AskExecutorRole      bool `json:"ask_executor_role"`
	ActivateAdvisoryMode bool `json:"activate_advisory_mode"`
}

// ClassifierResult is the validated classifier output.
type ClassifierResult struct {
	Intent             string       `json:"intent"`
	NeedsClarification bool         `json:"needs_clarification"`
	Missing            []string     `json:"missing"`
	SuggestedNextAsk   string       `json:"suggested_next_ask"`
	RiskLevel          string       `json:"risk_level"`
	SuggestModes       SuggestModes `json:"suggest_modes"`
	Confidence         float64      `json:"confidence"`
}

// FallbackClassifierResult is substituted on timeout or schema failure: it
// routes conservatively to device-category elicitation at zero confidence.
func FallbackClassifierResult() ClassifierResult {
	return ClassifierResult{
		Intent:             "unknown",
		NeedsClarification: true,
		Missing:            []string{"device_type"},
		SuggestedNextAsk:   "ASK_DEVICE_CATEGORY",
		RiskLevel:          "low",
		Confidence:         0.0,
	}
}

// StepButton is a button as suggested by the step generator, before the
// stage contract filters it.
type StepButton struct {
	Token string `json:"token"`
	Label string `json:"label"`
	Order int    `json:"order"`
}

// StepResult is the validated step-generator output.
type StepResult struct {
	Reply   string       `json:"reply"`
	Buttons []StepButton `json:"buttons"`
	Emotion string       `json:"emotion"`
}

// DecodeClassifier unmarshals a schema-validated raw result.
func DecodeClassifier(raw json.RawMessage) (ClassifierResult, error) {
	var r ClassifierResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return r, fmt.Errorf("decode classifier result: %w", err)
	}
	return r, nil
}

// DecodeStep unmarshals a schema-validated raw result. A missing emotion
// defaults to neutral.
func DecodeStep(raw json.RawMessage) (StepResult, error) {
	var r StepResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return r, fmt.Errorf("decode step result: %w", err)
	}
	if r.Emotion == "" {
		r.Emotion = "neutral"
	}
	return r, nil
}
