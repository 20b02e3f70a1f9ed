package flow

import (
	"github.com/ayudatec/mesabot/pkg/models"
)

// EnforceButtons applies the button contract to a proposed button set:
// tokens outside the stage allow-list are dropped, excess beyond the cap is
// dropped preserving order, empty labels are replaced with the localized
// catalog label, and order is normalized to 1..n. If filtering empties the
// set for a deterministic stage, the stage defaults are substituted.
func EnforceButtons(stage models.Stage, lang models.Language, proposed []models.Button) []models.Button {
	c, ok := contracts[stage]
	if !ok {
		return nil
	}

	out := make([]models.Button, 0, models.MaxButtonsPerTurn)
	for _, b := range proposed {
		if len(out) == models.MaxButtonsPerTurn {
			break
		}
		if !tokenAllowed(c, b.Token) {
			continue
		}
		if b.Label == "" {
			b.Label = ButtonLabel(lang, b.Token)
		}
		if b.Label == "" {
			continue
		}
		out = append(out, b)
	}

	if len(out) == 0 && c.Kind == Deterministic {
		out = DefaultButtons(stage, lang)
	}
	for i := range out {
		out[i].Order = i + 1
	}
	return out
}

// DefaultButtons returns the stage's default button set with localized
// labels and contiguous order.
func DefaultButtons(stage models.Stage, lang models.Language) []models.Button {
	c, ok := contracts[stage]
	if !ok {
		return nil
	}
	out := make([]models.Button, 0, len(c.Defaults))
	for i, token := range c.Defaults {
		out = append(out, models.Button{Token: token, Label: ButtonLabel(lang, token), Order: i + 1})
	}
	return out
}

// Buttons builds a localized button set from catalog tokens. Used by the
// deterministic handlers, which always pick buttons from scratch for the
// new stage.
func Buttons(lang models.Language, tokens ...string) []models.Button {
	out := make([]models.Button, 0, len(tokens))
	for i, token := range tokens {
		out = append(out, models.Button{Token: token, Label: ButtonLabel(lang, token), Order: i + 1})
	}
	return out
}
