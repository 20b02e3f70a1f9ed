package flow

import (
	"fmt"

	"github.com/ayudatec/mesabot/pkg/models"
)

// buttonLabels is the localized label catalog. Tokens are stable; labels
// are presentation only and may change freely.
var buttonLabels = map[models.Language]map[string]string{
	models.LangEsAR: {
		models.BtnConsentYes:        "Acepto",
		models.BtnConsentNo:         "No acepto",
		models.BtnLangEsAR:          "Español (Argentina)",
		models.BtnLangEn:            "English",
		models.BtnUserLevelBasic:    "Básico",
		models.BtnUserLevelInterm:   "Intermedio",
		models.BtnUserLevelAdvanced: "Avanzado",
		models.BtnProblema:          "Tengo un problema",
		models.BtnConsulta:          "Quiero hacer una consulta",
		models.BtnDeviceMain:        "Mi computadora",
		models.BtnDeviceExternal:    "Otro dispositivo",
		models.BtnNotebook:          "Notebook",
		models.BtnDesktop:           "PC de escritorio",
		models.BtnWifi:              "WiFi",
		models.BtnWired:             "Por cable",
		models.BtnYes:               "Sí",
		models.BtnNo:                "No",
		models.BtnOneBox:            "Un solo aparato",
		models.BtnTwoBoxes:          "Dos aparatos",
		models.BtnLightsOK:          "Luces normales",
		models.BtnLightsOff:         "Apagadas o rojas",
		models.BtnSolved:            "¡Se solucionó!",
		models.BtnPersist:           "Sigue igual",
		models.BtnAdvancedTests:     "Pruebas avanzadas",
		models.BtnConnectTech:       "Hablar con un técnico",
		models.BtnRiskContinue:      "Continuar igual",
		models.BtnRiskCancel:        "Mejor no",
		models.BtnFeedbackPositive:  "Me sirvió 👍",
		models.BtnFeedbackNegative:  "No me sirvió 👎",
		models.BtnResume:            "Continuar",
		models.BtnStartOver:         "Empezar de nuevo",
		models.BtnModeGuided:        "Guiame paso a paso",
		models.BtnModeAutonomous:    "Dame todo junto",
		models.BtnDepthJustFix:      "Solo resolverlo",
		models.BtnDepthExplain:      "Quiero entender",
		models.BtnExecutorSelf:      "Lo hago yo",
		models.BtnExecutorHelper:    "Me ayuda alguien",
		models.BtnClose:             "Cerrar",
	},
	models.LangEn: {
		models.BtnConsentYes:        "I accept",
		models.BtnConsentNo:         "I don't accept",
		models.BtnLangEsAR:          "Español (Argentina)",
		models.BtnLangEn:            "English",
		models.BtnUserLevelBasic:    "Basic",
		models.BtnUserLevelInterm:   "Intermediate",
		models.BtnUserLevelAdvanced: "Advanced",
		models.BtnProblema:          "I have a problem",
		models.BtnConsulta:          "I have a question",
		models.BtnDeviceMain:        "My computer",
		models.BtnDeviceExternal:    "Another device",
		models.BtnNotebook:          "Notebook",
		models.BtnDesktop:           "Desktop PC",
		models.BtnWifi:              "WiFi",
		models.BtnWired:             "Wired",
		models.BtnYes:               "Yes",
		models.BtnNo:                "No",
		models.BtnOneBox:            "One box",
		models.BtnTwoBoxes:          "Two boxes",
		models.BtnLightsOK:          "Lights look normal",
		models.BtnLightsOff:         "Off or red",
		models.BtnSolved:            "Solved!",
		models.BtnPersist:           "Still the same",
		models.BtnAdvancedTests:     "Advanced tests",
		models.BtnConnectTech:       "Talk to a technician",
		models.BtnRiskContinue:      "Continue anyway",
		models.BtnRiskCancel:        "Better not",
		models.BtnFeedbackPositive:  "It helped 👍",
		models.BtnFeedbackNegative:  "It didn't help 👎",
		models.BtnResume:            "Continue",
		models.BtnStartOver:         "Start over",
		models.BtnModeGuided:        "Guide me step by step",
		models.BtnModeAutonomous:    "Give me everything at once",
		models.BtnDepthJustFix:      "Just fix it",
		models.BtnDepthExplain:      "I want to understand",
		models.BtnExecutorSelf:      "I'll do it myself",
		models.BtnExecutorHelper:    "Someone is helping me",
		models.BtnClose:             "Close",
	},
}

// ButtonLabel returns the localized label for a catalog token, falling back
// to es-AR and then to the raw token.
func ButtonLabel(lang models.Language, token string) string {
	if m, ok := buttonLabels[lang]; ok {
		if l, ok := m[token]; ok {
			return l
		}
	}
	if l, ok := buttonLabels[models.LangEsAR][token]; ok {
		return l
	}
	return token
}

// phrases holds every canned reply for one language.
type phrases struct {
	Consent          string
	ConsentDeclined  string
	AskLanguage      string
	IDAssigned       string // fmt: conversation id
	AskName          string // fmt: conversation id
	AskUserLevel     string // fmt: name
	AskDeviceCat     string
	AskDeviceMain    string
	AskDeviceExt     string
	AskProblem       string
	AskClarify       string // fmt: what is missing
	RiskSummary      string
	RiskCancelled    string
	GuidedStory      [3]string
	EmotionalRelease string
	ResumeSummary    string // fmt: name, problem
	AskInteraction   string
	AskDepth         string
	AskExecutor      string
	AskFeedback      string
	FeedbackThanks   string
	Goodbye          string
	Handover         string // fmt: contact url
	AlreadyEscalated string // fmt: contact url
	FallbackStep     string
	FallbackProblem  string

	ConnAskMedium      string
	ConnAskDeviceKind  string
	ConnAskSSID        string
	ConnAskOtherDevice string
	ConnAskBoxes       string
	ConnAskLights      string
	ConnPowerCycle     string
	ConnCheckResult    string
	ConnRetry          string
}

var locales = map[models.Language]*phrases{
	models.LangEsAR: {
		Consent: "¡Hola! 👋 Soy el asistente técnico de la mesa de ayuda. Antes de empezar necesito tu consentimiento: " +
			"guardamos la conversación para poder ayudarte mejor y auditar el servicio. ¿Estás de acuerdo?",
		ConsentDeclined: "Entiendo, no hay problema. Si cambiás de opinión, acá voy a estar. ¡Que tengas un buen día! 👋",
		AskLanguage:     "¡Genial! ¿En qué idioma preferís que hablemos?",
		IDAssigned:      "Tu número de conversación es %s. Guardalo por si querés retomar más tarde.",
		AskName:         "Tu número de conversación es %s. Guardalo por si querés retomar más tarde. 📝 ¿Cómo te llamás?",
		AskUserLevel:    "¡Un gusto, %s! 😊 Para adaptar las explicaciones: ¿cuánta experiencia tenés con tecnología?",
		AskDeviceCat:    "Perfecto. ¿El problema es con tu computadora o con otro dispositivo (impresora, router, etc.)?",
		AskDeviceMain:   "¿Qué tipo de computadora es?",
		AskDeviceExt:    "Contame qué dispositivo es (por ejemplo: impresora, router, monitor).",
		AskProblem:      "Listo. Contame con tus palabras qué está pasando. 🙌",
		AskClarify:      "Para ayudarte mejor necesito un poco más de detalle: %s",
		RiskSummary: "⚠️ Ojo: lo que querés hacer puede afectar datos o la configuración del equipo. " +
			"Antes de seguir te recomiendo hacer una copia de seguridad. ¿Querés continuar igual?",
		RiskCancelled: "Buena decisión. 👍 Contame de nuevo el problema o consultá otra cosa.",
		GuidedStory: [3]string{
			"Vamos de a poco. 🙂 Primero: ¿qué estabas haciendo con el equipo cuando apareció el problema?",
			"Bien. ¿Cuándo empezó? ¿Fue de golpe o venía pasando de a poco?",
			"Última: ¿cambió algo últimamente? (actualización, programa nuevo, golpe, mudanza de lugar...)",
		},
		EmotionalRelease: "Te entiendo, estas cosas sacan a cualquiera. 😮‍💨 Respirá hondo: lo vamos a resolver juntos, " +
			"paso a paso y sin apuro. Cuando estés para seguir, tocá continuar.",
		ResumeSummary:    "¡Hola de nuevo%s! Retomamos donde quedamos: %s. ¿Seguimos o preferís empezar de nuevo?",
		AskInteraction:   "¿Cómo preferís trabajar?",
		AskDepth:         "¿Querés que te explique el porqué de cada paso o vamos directo a resolverlo?",
		AskExecutor:      "¿Quién va a hacer los pasos en el equipo?",
		AskFeedback:      "Antes de cerrar: ¿te sirvió la ayuda de hoy?",
		FeedbackThanks:   "¡Gracias por tu respuesta! Que tengas un buen día. 👋",
		Goodbye:          "¡Listo! Cualquier cosa volvé cuando quieras. 👋",
		Handover:         "Te paso con un técnico humano. 🧑‍🔧 Tocá este enlace para continuar por WhatsApp con todo el contexto ya cargado:\n%s",
		AlreadyEscalated: "Ya tenés un ticket abierto con un técnico. Podés continuar por acá:\n%s",
		FallbackStep:     "Probemos algo simple: reiniciá el equipo por completo (apagar, esperar 10 segundos, prender) y fijate si el problema sigue.",
		FallbackProblem:  "No llegué a procesar eso. 😅 ¿Me contás de nuevo qué dispositivo tiene el problema y qué está pasando?",

		ConnAskMedium:      "Vamos a revisar tu conexión. 📶 ¿Te conectás por WiFi o por cable?",
		ConnAskDeviceKind:  "¿El equipo con el problema es una notebook o una PC de escritorio?",
		ConnAskSSID:        "Fijate en la lista de redes del equipo: ¿aparece el nombre de tu red WiFi?",
		ConnAskOtherDevice: "¿Otro dispositivo (por ejemplo tu teléfono) tiene internet en la misma red?",
		ConnAskBoxes:       "Vamos al equipo de internet. ¿Tenés un solo aparato (módem-router) o dos separados?",
		ConnAskLights:      "Mirá las luces del equipo de internet: ¿se ven normales (verdes/azules fijas o titilando) o hay alguna apagada o en rojo?",
		ConnPowerCycle: "Hagamos un reinicio ordenado: 1) desenchufá el equipo de internet, 2) esperá 30 segundos, " +
			"3) enchufalo y esperá 2 minutos a que levanten las luces, 4) probá de nuevo la conexión.",
		ConnCheckResult: "¿Cómo fue? ¿Volvió la conexión?",
		ConnRetry:       "Probemos una vez más con calma, a veces tarda en enganchar.",
	},
	models.LangEn: {
		Consent: "Hi! 👋 I'm the help desk assistant. Before we start I need your consent: " +
			"we store this conversation to help you better and audit the service. Is that OK?",
		ConsentDeclined: "Understood, no problem. If you change your mind I'll be right here. Have a great day! 👋",
		AskLanguage:     "Great! Which language do you prefer?",
		IDAssigned:      "Your conversation number is %s. Keep it in case you want to resume later.",
		AskName:         "Your conversation number is %s. Keep it in case you want to resume later. 📝 What's your name?",
		AskUserLevel:    "Nice to meet you, %s! 😊 To adapt my explanations: how much experience do you have with technology?",
		AskDeviceCat:    "Perfect. Is the problem with your computer or with another device (printer, router, etc.)?",
		AskDeviceMain:   "What kind of computer is it?",
		AskDeviceExt:    "Tell me which device it is (for example: printer, router, monitor).",
		AskProblem:      "All set. Tell me in your own words what's going on. 🙌",
		AskClarify:      "To help you better I need a bit more detail: %s",
		RiskSummary: "⚠️ Heads up: what you want to do may affect data or the device configuration. " +
			"I recommend a backup before continuing. Do you want to continue anyway?",
		RiskCancelled: "Good call. 👍 Tell me the problem again or ask about something else.",
		GuidedStory: [3]string{
			"Let's take it slow. 🙂 First: what were you doing with the device when the problem appeared?",
			"Good. When did it start? All of a sudden or gradually?",
			"Last one: did anything change recently? (an update, new software, a bump, moving it around...)",
		},
		EmotionalRelease: "I get it, this stuff is frustrating. 😮‍💨 Take a breath: we'll solve it together, " +
			"step by step, no rush. Tap continue whenever you're ready.",
		ResumeSummary:    "Welcome back%s! Picking up where we left off: %s. Shall we continue or start over?",
		AskInteraction:   "How do you prefer to work?",
		AskDepth:         "Do you want me to explain the why of each step, or go straight to fixing it?",
		AskExecutor:      "Who will perform the steps on the device?",
		AskFeedback:      "Before we close: did today's help work for you?",
		FeedbackThanks:   "Thanks for your feedback! Have a great day. 👋",
		Goodbye:          "Done! Come back whenever you want. 👋",
		Handover:         "I'm handing you over to a human technician. 🧑‍🔧 Tap this link to continue on WhatsApp with all the context preloaded:\n%s",
		AlreadyEscalated: "You already have an open ticket with a technician. You can continue here:\n%s",
		FallbackStep:     "Let's try something simple: fully restart the device (power off, wait 10 seconds, power on) and check whether the problem persists.",
		FallbackProblem:  "I couldn't process that. 😅 Could you tell me again which device has the problem and what's happening?",

		ConnAskMedium:      "Let's check your connection. 📶 Do you connect over WiFi or a cable?",
		ConnAskDeviceKind:  "Is the affected device a notebook or a desktop PC?",
		ConnAskSSID:        "Look at the network list on the device: does your WiFi network name show up?",
		ConnAskOtherDevice: "Does another device (your phone, for example) have internet on the same network?",
		ConnAskBoxes:       "Let's look at the internet equipment. Do you have a single box (modem-router) or two separate ones?",
		ConnAskLights:      "Check the lights on the internet equipment: do they look normal (solid or blinking green/blue) or is one off or red?",
		ConnPowerCycle: "Let's do an ordered restart: 1) unplug the internet equipment, 2) wait 30 seconds, " +
			"3) plug it back in and give it 2 minutes to come up, 4) try the connection again.",
		ConnCheckResult: "How did it go? Is the connection back?",
		ConnRetry:       "Let's try once more, calmly. Sometimes it takes a while to latch on.",
	},
}

// P returns the phrase set for a language, falling back to es-AR.
func P(lang models.Language) *phrases {
	if p, ok := locales[lang]; ok {
		return p
	}
	return locales[models.LangEsAR]
}

// HandoverReply builds the single-turn handover response shown when a
// conversation escalates: it states the transfer, includes the contact deep
// link, and offers a final close button.
func HandoverReply(lang models.Language, contactURL string) (string, []models.Button) {
	return fmt.Sprintf(P(lang).Handover, contactURL), Buttons(lang, models.BtnClose)
}

// AlreadyEscalatedReply is the polite conflict response for a conversation
// that already holds a ticket.
func AlreadyEscalatedReply(lang models.Language, contactURL string) (string, []models.Button) {
	return fmt.Sprintf(P(lang).AlreadyEscalated, contactURL), Buttons(lang, models.BtnClose)
}
