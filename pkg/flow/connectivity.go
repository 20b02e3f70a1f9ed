package flow

import (
	"context"

	"github.com/ayudatec/mesabot/pkg/models"
)

// Connectivity sub-FSM steps, tracked in context. The order is fixed:
// medium → device kind → (wifi: ssid) → other device → boxes → lights →
// power cycle → result check.
const (
	connStepMedium      = "medium"
	connStepDeviceKind  = "device_kind"
	connStepSSID        = "ssid"
	connStepOtherDevice = "other_device"
	connStepBoxes       = "boxes"
	connStepLights      = "lights"
	connStepCheck       = "check"
)

// connMaxStepRetries bounds re-asks of one connectivity question before the
// conversation is handed to a human.
const connMaxStepRetries = 2

// EnterConnectivity initializes the sub-FSM. Called when the classifier
// routes a network intent here.
func EnterConnectivity(conv *models.Conversation) {
	conv.Context.ConnectivityStep = connStepMedium
	conv.Context.ConnectivityRetries = 0
}

// connectivityPrompt re-asks the current sub-step's question.
func (e *Engine) connectivityPrompt(conv *models.Conversation) result {
	p := P(conv.Language)
	next := models.StageConnectivityFlow
	switch conv.Context.ConnectivityStep {
	case connStepDeviceKind:
		return result{reply: p.ConnAskDeviceKind, buttons: Buttons(conv.Language, models.BtnNotebook, models.BtnDesktop), next: next}
	case connStepSSID:
		return result{reply: p.ConnAskSSID, buttons: Buttons(conv.Language, models.BtnYes, models.BtnNo), next: next}
	case connStepOtherDevice:
		return result{reply: p.ConnAskOtherDevice, buttons: Buttons(conv.Language, models.BtnYes, models.BtnNo), next: next}
	case connStepBoxes:
		return result{reply: p.ConnAskBoxes, buttons: Buttons(conv.Language, models.BtnOneBox, models.BtnTwoBoxes), next: next}
	case connStepLights:
		return result{reply: p.ConnAskLights, buttons: Buttons(conv.Language, models.BtnLightsOK, models.BtnLightsOff), next: next}
	case connStepCheck:
		return result{
			reply:   p.ConnPowerCycle + "\n\n" + p.ConnCheckResult,
			buttons: Buttons(conv.Language, models.BtnSolved, models.BtnPersist),
			next:    next,
		}
	default:
		conv.Context.ConnectivityStep = connStepMedium
		return result{reply: p.ConnAskMedium, buttons: Buttons(conv.Language, models.BtnWifi, models.BtnWired), next: next}
	}
}

// handleConnectivity advances the fully deterministic connectivity flow.
// Unexpected input re-asks the current question up to a bounded retry
// count, then escalates. The only LLM use is the hop into DIAGNOSTIC_STEP
// when the network itself turns out fine.
func (e *Engine) handleConnectivity(ctx context.Context, conv *models.Conversation, in Input) (result, error) {
	ctxm := &conv.Context
	advance := func(step string) result {
		ctxm.ConnectivityStep = step
		ctxm.ConnectivityRetries = 0
		return e.connectivityPrompt(conv)
	}

	switch ctxm.ConnectivityStep {
	case "", connStepMedium:
		switch in.ButtonToken {
		case models.BtnWifi:
			ctxm.LastButtonResult = "wifi"
			return advance(connStepDeviceKind), nil
		case models.BtnWired:
			ctxm.LastButtonResult = "wired"
			return advance(connStepDeviceKind), nil
		}
	case connStepDeviceKind:
		switch in.ButtonToken {
		case models.BtnNotebook, models.BtnDesktop:
			if ctxm.DeviceType == "" {
				if in.ButtonToken == models.BtnNotebook {
					ctxm.DeviceType = "notebook"
				} else {
					ctxm.DeviceType = "desktop"
				}
			}
			if ctxm.LastButtonResult == "wifi" {
				return advance(connStepSSID), nil
			}
			return advance(connStepOtherDevice), nil
		}
	case connStepSSID:
		switch in.ButtonToken {
		case models.BtnYes:
			return advance(connStepOtherDevice), nil
		case models.BtnNo:
			// Network not even visible: go straight to the ordered restart.
			return advance(connStepCheck), nil
		}
	case connStepOtherDevice:
		switch in.ButtonToken {
		case models.BtnYes:
			// The link is up elsewhere; the problem is local to the device.
			return e.resumePrompt(ctx, conv, models.StageDiagnosticStep), nil
		case models.BtnNo:
			return advance(connStepBoxes), nil
		}
	case connStepBoxes:
		switch in.ButtonToken {
		case models.BtnOneBox, models.BtnTwoBoxes:
			return advance(connStepLights), nil
		}
	case connStepLights:
		switch in.ButtonToken {
		case models.BtnLightsOK, models.BtnLightsOff:
			return advance(connStepCheck), nil
		}
	case connStepCheck:
		switch in.ButtonToken {
		case models.BtnSolved:
			return result{reply: P(conv.Language).AskFeedback,
				next: models.StageAskFeedback}, nil
		case models.BtnPersist:
			ctxm.DiagnosticAttempts++
			if ctxm.DiagnosticAttempts >= e.cfg.Escalation.DiagnosticAttemptsThreshold {
				return result{escalate: true, reason: models.ReasonMultipleAttemptsFailed}, nil
			}
			p := P(conv.Language)
			return result{
				reply:   p.ConnRetry + "\n\n" + p.ConnPowerCycle + "\n\n" + p.ConnCheckResult,
				buttons: Buttons(conv.Language, models.BtnSolved, models.BtnPersist),
				next:    models.StageConnectivityFlow,
			}, nil
		}
	}

	// Unexpected input: bounded re-ask, then hand over.
	ctxm.ConnectivityRetries++
	if ctxm.ConnectivityRetries > connMaxStepRetries {
		return result{escalate: true, reason: models.ReasonMultipleAttemptsFailed}, nil
	}
	return e.connectivityPrompt(conv), nil
}
