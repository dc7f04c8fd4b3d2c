package usecase

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/entiendetuderecho/analysis-service/internal/core/domain"
)

// User-facing rejection messages. Kept in Spanish: the gate writes directly
// into the record the end user reads.
const (
	msgTextTooShort = "Lo siento, el texto extraído de la imagen es demasiado corto o está vacío. " +
		"Por favor, toma una foto más clara del documento completo, asegurándote de que todo el texto sea visible y legible."
	msgTooFewWords = "El texto extraído parece ser muy corto o incompleto. " +
		"Por favor, intenta tomar una foto más nítida del documento, asegurándote de capturar todo el contenido visible."
	msgTooMuchNoise = "El texto extraído parece contener demasiados caracteres especiales o no es legible. " +
		"Por favor, toma una foto más clara del documento, con buena iluminación y sin reflejos."
	msgRepeatedChars = "El texto extraído parece contener ruido o caracteres repetidos. " +
		"Por favor, intenta tomar una foto más nítida del documento, evitando sombras y asegurándote de que el texto esté bien enfocado."
	msgTooRepetitive = "El texto extraído parece ser muy repetitivo o no contiene suficiente información. " +
		"Por favor, toma una foto del documento completo, asegurándote de capturar todo el contenido."
)

// GateConfig holds the usable-text thresholds of the quality gate.
type GateConfig struct {
	MinTextLength  int
	MinWords       int
	MinAlnumRatio  float64
	MaxRepeatRun   int
	MinUniqueWords int
}

func DefaultGateConfig() GateConfig {
	return GateConfig{
		MinTextLength:  50,
		MinWords:       10,
		MinAlnumRatio:  0.5,
		MaxRepeatRun:   5,
		MinUniqueWords: 5,
	}
}

// QualityGate is the single branching point of the pipeline. It is pure and
// deterministic over the state it receives, so re-running it on resume is
// safe and never touches the OCR collaborator.
type QualityGate struct {
	cfg GateConfig
}

func NewQualityGate(cfg GateConfig) *QualityGate {
	def := DefaultGateConfig()
	if cfg.MinTextLength <= 0 {
		cfg.MinTextLength = def.MinTextLength
	}
	if cfg.MinWords <= 0 {
		cfg.MinWords = def.MinWords
	}
	if cfg.MinAlnumRatio <= 0 || cfg.MinAlnumRatio > 1 {
		cfg.MinAlnumRatio = def.MinAlnumRatio
	}
	if cfg.MaxRepeatRun <= 0 {
		cfg.MaxRepeatRun = def.MaxRepeatRun
	}
	if cfg.MinUniqueWords <= 0 {
		cfg.MinUniqueWords = def.MinUniqueWords
	}
	return &QualityGate{cfg: cfg}
}

// Check routes the state: extraction failures and unusable text become a
// failed state headed for terminal_error, anything else passes through
// unchanged toward the analyze stage.
func (g *QualityGate) Check(state domain.AnalysisState) domain.AnalysisState {
	if state.Error {
		return state
	}

	// Length is measured in characters, not bytes: accented text must not
	// slip past the threshold on UTF-8 encoding width.
	text := strings.TrimSpace(state.RawText)
	if text == "" || utf8.RuneCountInString(text) < g.cfg.MinTextLength {
		return state.Fail(msgTextTooShort)
	}

	words := strings.Fields(text)
	if len(words) < g.cfg.MinWords {
		return state.Fail(msgTooFewWords)
	}

	if alnumRatio(text) < g.cfg.MinAlnumRatio {
		return state.Fail(msgTooMuchNoise)
	}

	if maxRepeatRun(text) > g.cfg.MaxRepeatRun {
		return state.Fail(msgRepeatedChars)
	}

	if uniqueWordCount(words) < g.cfg.MinUniqueWords {
		return state.Fail(msgTooRepetitive)
	}

	return state
}

func alnumRatio(text string) float64 {
	runes := []rune(text)
	if len(runes) == 0 {
		return 0
	}
	usable := 0
	for _, r := range runes {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			usable++
		}
	}
	return float64(usable) / float64(len(runes))
}

func maxRepeatRun(text string) int {
	var prev rune
	run, longest := 0, 0
	for _, r := range text {
		if r == prev {
			run++
		} else {
			prev = r
			run = 1
		}
		if run > longest {
			longest = run
		}
	}
	return longest
}

func uniqueWordCount(words []string) int {
	seen := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.Trim(w, ".,;:!?()[]{}\"'"))
		if len(w) > 2 {
			seen[w] = struct{}{}
		}
	}
	return len(seen)
}
