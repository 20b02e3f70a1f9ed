package flow

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// similarityThreshold is the Jaro-Winkler score above which a word counts
// as a (possibly misspelled) match for an intent keyword.
const similarityThreshold = 0.92

// technicianWords trigger an explicit human-handover request when typed,
// typo-tolerantly ("tecnco", "humno"). Both languages share one list.
var technicianWords = []string{
	"tecnico", "humano", "persona", "agente", "operador",
	"technician", "human", "agent", "operator",
}

// ventingPhrases mark a turn as emotional venting rather than a problem
// description. Matched as substrings on the normalized text.
var ventingPhrases = []string{
	"no doy mas", "estoy harto", "estoy harta", "me quiero morir",
	"no aguanto", "estoy podrido", "estoy podrida", "que bronca", "odio esta",
	"i give up", "i hate this", "so frustrated", "fed up",
}

// physicalRiskPhrases describe dangerous hardware conditions. A match must
// be confirmed by a high classifier risk flag before escalating, except in
// step stages where no classifier runs.
var physicalRiskPhrases = []string{
	"olor a quemado", "quemado", "quemada", "humo", "chispas", "chispazo",
	"liquido", "líquido", "se mojo", "se mojó", "derrame", "explot",
	"burning smell", "smoke", "sparks", "spilled", "liquid",
}

// WantsTechnician reports whether free text is an explicit request for a
// human, tolerating common typos via Jaro-Winkler word matching.
func WantsTechnician(text string) bool {
	norm := normalize(text)
	for _, w := range strings.Fields(norm) {
		for _, kw := range technicianWords {
			if w == kw || matchr.JaroWinkler(w, kw, true) >= similarityThreshold {
				// Bare "persona"/"human" only counts alongside a request verb.
				if requiresVerb(kw) && !hasRequestVerb(norm) {
					continue
				}
				return true
			}
		}
	}
	return false
}

func requiresVerb(kw string) bool {
	return kw == "persona" || kw == "humano" || kw == "human"
}

func hasRequestVerb(norm string) bool {
	for _, v := range []string{"quiero", "necesito", "dame", "pasame", "hablar", "want", "need", "talk", "speak"} {
		if strings.Contains(norm, v) {
			return true
		}
	}
	return false
}

// WantsVenting reports whether free text is emotional venting.
func WantsVenting(text string) bool {
	norm := normalize(text)
	for _, p := range ventingPhrases {
		if strings.Contains(norm, p) {
			return true
		}
	}
	return false
}

// PhysicalRiskDetected reports whether free text describes a dangerous
// physical condition (burning smell, liquid spill, sparks).
func PhysicalRiskDetected(text string) bool {
	norm := normalize(text)
	for _, p := range physicalRiskPhrases {
		if strings.Contains(norm, normalize(p)) {
			return true
		}
	}
	return false
}

// normalize lowercases and strips accents so keyword matching is stable
// across "técnico"/"tecnico".
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch r {
		case 'á':
			r = 'a'
		case 'é':
			r = 'e'
		case 'í':
			r = 'i'
		case 'ó':
			r = 'o'
		case 'ú', 'ü':
			r = 'u'
		case 'ñ':
			r = 'n'
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
