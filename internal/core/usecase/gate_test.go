package usecase

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/entiendetuderecho/analysis-service/internal/core/domain"
)

func gateState(text string) domain.AnalysisState {
	return domain.AnalysisState{ThreadID: "user_owner-1_t1", RawText: text, Language: "es"}
}

func TestGateRejectsEmptyAndShortText(t *testing.T) {
	gate := NewQualityGate(DefaultGateConfig())
	for _, text := range []string{"", "   ", "contrato breve"} {
		out := gate.Check(gateState(text))
		if !out.Error {
			t.Fatalf("expected rejection for %q", text)
		}
		if out.ErrorMessage != msgTextTooShort {
			t.Fatalf("expected short-text message for %q, got %q", text, out.ErrorMessage)
		}
		if out.ConfidenceScore != 0 {
			t.Fatalf("expected zero confidence, got %f", out.ConfidenceScore)
		}
	}
}

func TestGateCountsCharactersNotBytes(t *testing.T) {
	gate := NewQualityGate(DefaultGateConfig())
	text := "ácidos únicos artículos clásicos jurídicos aquí"
	if runes, bytes := utf8.RuneCountInString(text), len(text); runes >= 50 || bytes < 50 {
		t.Fatalf("fixture must be short in runes but long in bytes, got runes=%d bytes=%d", runes, bytes)
	}

	out := gate.Check(gateState(text))
	if !out.Error || out.ErrorMessage != msgTextTooShort {
		t.Fatalf("expected short-text rejection for accented text, got %+v", out)
	}
}

func TestGateRejectsTooFewWords(t *testing.T) {
	gate := NewQualityGate(DefaultGateConfig())
	// Long enough in characters but fewer than ten words.
	out := gate.Check(gateState("palabralarguisimaunica otrapalabramuylarga tercerapalabraenorme cuartapalabragrande"))
	if !out.Error || out.ErrorMessage != msgTooFewWords {
		t.Fatalf("expected few-words rejection, got %+v", out)
	}
}

func TestGateRejectsNoisyText(t *testing.T) {
	gate := NewQualityGate(DefaultGateConfig())
	noise := strings.Repeat("#$ %& ", 20)
	out := gate.Check(gateState(noise))
	if !out.Error || out.ErrorMessage != msgTooMuchNoise {
		t.Fatalf("expected noise rejection, got %q", out.ErrorMessage)
	}
}

func TestGateRejectsLongCharacterRuns(t *testing.T) {
	gate := NewQualityGate(DefaultGateConfig())
	text := "documento con ruido aaaaaaaaaa del escaneo que parece texto pero repite caracteres sin sentido alguno"
	out := gate.Check(gateState(text))
	if !out.Error || out.ErrorMessage != msgRepeatedChars {
		t.Fatalf("expected repeated-chars rejection, got %q", out.ErrorMessage)
	}
}

func TestGateRejectsRepetitiveVocabulary(t *testing.T) {
	gate := NewQualityGate(DefaultGateConfig())
	text := strings.TrimSpace(strings.Repeat("pagar renta ", 15))
	out := gate.Check(gateState(text))
	if !out.Error || out.ErrorMessage != msgTooRepetitive {
		t.Fatalf("expected repetitive-text rejection, got %q", out.ErrorMessage)
	}
}

func TestGatePassesUsableText(t *testing.T) {
	gate := NewQualityGate(DefaultGateConfig())
	out := gate.Check(gateState(validText))
	if out.Error {
		t.Fatalf("expected pass, got rejection: %q", out.ErrorMessage)
	}
	if out.RawText != validText {
		t.Fatalf("gate must not mutate passing text")
	}
}

func TestGatePassesThroughExistingErrorState(t *testing.T) {
	gate := NewQualityGate(DefaultGateConfig())
	state := gateState(validText).Fail("fallo previo de extracción")
	out := gate.Check(state)
	if !out.Error || out.ErrorMessage != "fallo previo de extracción" {
		t.Fatalf("gate must preserve an upstream failure, got %+v", out)
	}
}

func TestGateIsDeterministic(t *testing.T) {
	gate := NewQualityGate(DefaultGateConfig())
	inputs := []string{"", "corto", validText, strings.Repeat("@!", 60)}
	for _, text := range inputs {
		first := gate.Check(gateState(text))
		for i := 0; i < 5; i++ {
			again := gate.Check(gateState(text))
			if again.Error != first.Error || again.ErrorMessage != first.ErrorMessage {
				t.Fatalf("non-deterministic routing for %q", text)
			}
		}
	}
}
