package domain

import (
	"time"
	"unicode/utf8"
)

// Stage names of the analysis pipeline. The graph is fixed:
// extract_text -> quality_gate -> {analyze | terminal_error},
// analyze -> {terminal_success | terminal_error}.
const (
	StageExtractText     = "extract_text"
	StageQualityGate     = "quality_gate"
	StageAnalyze         = "analyze"
	StageTerminalSuccess = "terminal_success"
	StageTerminalError   = "terminal_error"
)

// IsTerminalStage reports whether a stage is absorbing.
func IsTerminalStage(stage string) bool {
	return stage == StageTerminalSuccess || stage == StageTerminalError
}

// AnalysisState is the mutable payload carried through the pipeline for one
// run. It is serialized into every checkpoint, so it must stay JSON-stable.
type AnalysisState struct {
	ThreadID              string   `json:"thread_id"`
	RawText               string   `json:"raw_text"`
	DocType               string   `json:"doc_type"`
	SimplifiedExplanation string   `json:"simplified_explanation"`
	IdentifiedRisks       []string `json:"identified_risks"`
	ActionItems           []string `json:"action_items"`
	ConfidenceScore       float64  `json:"confidence_score"`
	Language              string   `json:"language"`
	Error                 bool     `json:"error"`
	ErrorMessage          string   `json:"error_message"`
}

// NewAnalysisState returns the initial state for a fresh run.
func NewAnalysisState(threadID ThreadID) AnalysisState {
	return AnalysisState{
		ThreadID:        threadID.String(),
		IdentifiedRisks: []string{},
		ActionItems:     []string{},
		Language:        "es",
	}
}

// Fail zeroes every analysis field and records a user-actionable message.
// Keeps the error invariant: error=true implies empty analysis fields,
// confidence 0 and a non-empty message.
func (s AnalysisState) Fail(message string) AnalysisState {
	s.DocType = ""
	s.SimplifiedExplanation = ""
	s.IdentifiedRisks = []string{}
	s.ActionItems = []string{}
	s.ConfidenceScore = 0
	s.Error = true
	s.ErrorMessage = message
	return s
}

// Analysis is the structured output of the language-model collaborator.
type Analysis struct {
	DocType               string   `json:"doc_type"`
	SimplifiedExplanation string   `json:"simplified_explanation"`
	IdentifiedRisks       []string `json:"identified_risks"`
	ActionItems           []string `json:"action_items"`
	ConfidenceScore       float64  `json:"confidence_score"`
	Language              string   `json:"language"`
}

// Checkpoint is an immutable snapshot of pipeline state after a stage.
// Sequence numbers are strictly increasing per thread and each checkpoint
// points at its predecessor, forming a single linear chain.
type Checkpoint struct {
	ThreadID       string        `json:"thread_id"`
	SequenceNumber int64         `json:"sequence_number"`
	Stage          string        `json:"stage"`
	State          AnalysisState `json:"state"`
	ParentSequence int64         `json:"parent_sequence"`
	CreatedAt      time.Time     `json:"created_at"`
}

// AnalysisRecord is the committed result of one run. Both successful and
// terminal-error runs produce a record.
type AnalysisRecord struct {
	ID                    int64     `json:"id"`
	ThreadID              string    `json:"thread_id"`
	UserID                string    `json:"user_id"`
	DocType               string    `json:"doc_type"`
	RawText               string    `json:"raw_text"`
	SimplifiedExplanation string    `json:"simplified_explanation"`
	IdentifiedRisks       []string  `json:"identified_risks"`
	ActionItems           []string  `json:"action_items"`
	ConfidenceScore       float64   `json:"confidence_score"`
	Language              string    `json:"language"`
	Error                 bool      `json:"error"`
	ErrorMessage          string    `json:"error_message,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// The stored raw text is capped so records stay bounded even for long
// documents; the full text lives only in checkpoints.
const maxStoredRawText = 1000

// truncateUTF8 cuts s to at most max bytes without splitting a rune.
func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// RecordFromState builds the committable record for a terminal state.
func RecordFromState(thread ThreadID, state AnalysisState) AnalysisRecord {
	raw := truncateUTF8(state.RawText, maxStoredRawText)
	risks := state.IdentifiedRisks
	if risks == nil {
		risks = []string{}
	}
	actions := state.ActionItems
	if actions == nil {
		actions = []string{}
	}
	return AnalysisRecord{
		ThreadID:              thread.String(),
		UserID:                thread.Owner(),
		DocType:               state.DocType,
		RawText:               raw,
		SimplifiedExplanation: state.SimplifiedExplanation,
		IdentifiedRisks:       risks,
		ActionItems:           actions,
		ConfidenceScore:       state.ConfidenceScore,
		Language:              state.Language,
		Error:                 state.Error,
		ErrorMessage:          state.ErrorMessage,
	}
}

// Upload is an incoming document image or PDF.
type Upload struct {
	Filename string
	MimeType string
	Data     []byte
}
