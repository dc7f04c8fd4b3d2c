package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/entiendetuderecho/analysis-service/internal/core/domain"
)

const validText = "Contrato de arrendamiento entre las partes. El arrendatario se compromete a pagar " +
	"la renta mensual acordada dentro de los primeros cinco días de cada mes calendario."

type memCheckpoints struct {
	mu          sync.Mutex
	chains      map[string][]domain.Checkpoint
	appendCalls int
	failOnCall  int
}

func newMemCheckpoints() *memCheckpoints {
	return &memCheckpoints{chains: make(map[string][]domain.Checkpoint)}
}

func (s *memCheckpoints) Append(_ context.Context, threadID, stage string, state domain.AnalysisState) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendCalls++
	if s.failOnCall > 0 && s.appendCalls == s.failOnCall {
		return 0, errors.New("storage write failed")
	}
	chain := s.chains[threadID]
	seq := int64(len(chain)) + 1
	s.chains[threadID] = append(chain, domain.Checkpoint{
		ThreadID:       threadID,
		SequenceNumber: seq,
		Stage:          stage,
		State:          state,
		ParentSequence: seq - 1,
		CreatedAt:      time.Now().UTC(),
	})
	return seq, nil
}

func (s *memCheckpoints) Latest(_ context.Context, threadID string) (*domain.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chain := s.chains[threadID]
	if len(chain) == 0 {
		return nil, nil
	}
	cp := chain[len(chain)-1]
	return &cp, nil
}

func (s *memCheckpoints) PruneThread(_ context.Context, threadID string, keep int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chain := s.chains[threadID]
	if len(chain) <= keep {
		return 0, nil
	}
	pruned := int64(len(chain) - keep)
	s.chains[threadID] = chain[len(chain)-keep:]
	return pruned, nil
}

func (s *memCheckpoints) stages(threadID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.chains[threadID]))
	for _, cp := range s.chains[threadID] {
		out = append(out, cp.Stage)
	}
	return out
}

type memResults struct {
	mu         sync.Mutex
	records    map[string]domain.AnalysisRecord
	nextID     int64
	upserts    int
	failUpsert error
}

func newMemResults() *memResults {
	return &memResults{records: make(map[string]domain.AnalysisRecord)}
}

func (s *memResults) Upsert(_ context.Context, rec domain.AnalysisRecord) (domain.AnalysisRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	if s.failUpsert != nil {
		return domain.AnalysisRecord{}, s.failUpsert
	}
	now := time.Now().UTC()
	if existing, ok := s.records[rec.ThreadID]; ok {
		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
	} else {
		s.nextID++
		rec.ID = s.nextID
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	s.records[rec.ThreadID] = rec
	return rec, nil
}

func (s *memResults) ListByOwner(_ context.Context, ownerID string, limit, offset int) ([]domain.AnalysisRecord, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var owned []domain.AnalysisRecord
	for _, rec := range s.records {
		if rec.UserID == ownerID {
			owned = append(owned, rec)
		}
	}
	for i := 0; i < len(owned); i++ {
		for j := i + 1; j < len(owned); j++ {
			if owned[j].CreatedAt.After(owned[i].CreatedAt) {
				owned[i], owned[j] = owned[j], owned[i]
			}
		}
	}
	total := len(owned)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return owned[offset:end], total, nil
}

func (s *memResults) GetByThread(_ context.Context, ownerID, threadID string) (*domain.AnalysisRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[threadID]
	if !ok || rec.UserID != ownerID {
		return nil, domain.WrapError(domain.ErrNotFound, "get analysis", errors.New(threadID))
	}
	out := rec
	return &out, nil
}

type fakeExtractor struct {
	text  string
	err   error
	calls int32
}

func (f *fakeExtractor) Extract(context.Context, domain.Upload) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

type fakeAnalyzer struct {
	analysis domain.Analysis
	err      error
	delay    time.Duration
	calls    int32
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, _, _ string) (domain.Analysis, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return domain.Analysis{}, ctx.Err()
		}
	}
	if f.err != nil {
		return domain.Analysis{}, f.err
	}
	return f.analysis, nil
}

type fakeQueue struct {
	mu     sync.Mutex
	events []string
}

func (q *fakeQueue) PublishAnalysisCompleted(_ context.Context, threadID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, threadID)
	return nil
}

func (q *fakeQueue) SubscribeAnalysisCompleted(context.Context, func(context.Context, string) error) error {
	return nil
}

func goodAnalysis() domain.Analysis {
	return domain.Analysis{
		DocType:               "Contrato de arrendamiento de vivienda",
		SimplifiedExplanation: "• Es un contrato de alquiler con renta mensual",
		IdentifiedRisks:       []string{"Plazo de pago muy corto"},
		ActionItems:           []string{"Revisar la fecha límite de pago"},
		ConfidenceScore:       0.92,
		Language:              "es",
	}
}

func newTestEngine(cps *memCheckpoints, res *memResults, ext *fakeExtractor, an *fakeAnalyzer, q *fakeQueue) *Engine {
	return NewEngine(cps, res, ext, an, q, nil, EngineConfig{}, nil, nil)
}

func TestRunSuccessProducesRecordAndLinearCheckpoints(t *testing.T) {
	cps := newMemCheckpoints()
	res := newMemResults()
	queue := &fakeQueue{}
	engine := newTestEngine(cps, res, &fakeExtractor{text: validText}, &fakeAnalyzer{analysis: goodAnalysis()}, queue)

	rec, err := engine.Run(context.Background(), "owner-1", "t1", domain.Upload{Data: []byte("img"), MimeType: "image/jpeg"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if rec.Error {
		t.Fatalf("expected success record, got error: %s", rec.ErrorMessage)
	}
	if rec.DocType == "" || rec.ConfidenceScore <= 0 || rec.ConfidenceScore > 1 {
		t.Fatalf("success invariant violated: %+v", rec)
	}
	if rec.UserID != "owner-1" || rec.ThreadID != "user_owner-1_t1" {
		t.Fatalf("unexpected ownership fields: %+v", rec)
	}

	want := []string{
		domain.StageExtractText,
		domain.StageQualityGate,
		domain.StageAnalyze,
		domain.StageTerminalSuccess,
	}
	got := cps.stages("user_owner-1_t1")
	if len(got) != len(want) {
		t.Fatalf("expected %d checkpoints, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("checkpoint %d = %q, want %q", i, got[i], want[i])
		}
	}
	if len(queue.events) != 1 || queue.events[0] != "user_owner-1_t1" {
		t.Fatalf("expected one completion event, got %v", queue.events)
	}
}

func TestRunShortTextTerminatesWithActionableError(t *testing.T) {
	cps := newMemCheckpoints()
	res := newMemResults()
	analyzer := &fakeAnalyzer{analysis: goodAnalysis()}
	engine := newTestEngine(cps, res, &fakeExtractor{text: "muy corto"}, analyzer, &fakeQueue{})

	rec, err := engine.Run(context.Background(), "owner-1", "t1", domain.Upload{Data: []byte("img")})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !rec.Error {
		t.Fatalf("expected error record")
	}
	if !strings.Contains(rec.ErrorMessage, "foto más clara") {
		t.Fatalf("expected clarity-retry instruction, got %q", rec.ErrorMessage)
	}
	if rec.ConfidenceScore != 0 || len(rec.IdentifiedRisks) != 0 || len(rec.ActionItems) != 0 {
		t.Fatalf("error invariant violated: %+v", rec)
	}
	if analyzer.calls != 0 {
		t.Fatalf("analyzer must not run after quality rejection, got %d calls", analyzer.calls)
	}

	got := cps.stages("user_owner-1_t1")
	if got[len(got)-1] != domain.StageTerminalError {
		t.Fatalf("expected terminal_error checkpoint, got %v", got)
	}
}

func TestRunResumesAfterCrashWithoutReexecutingStages(t *testing.T) {
	cps := newMemCheckpoints()
	res := newMemResults()
	extractor := &fakeExtractor{text: validText}
	analyzer := &fakeAnalyzer{analysis: goodAnalysis()}
	engine := newTestEngine(cps, res, extractor, analyzer, &fakeQueue{})

	// Crash immediately after the extract_text checkpoint commits.
	cps.failOnCall = 2
	_, err := engine.Run(context.Background(), "owner-1", "t1", domain.Upload{Data: []byte("img")})
	if !domain.IsKind(err, domain.ErrCheckpointPersist) {
		t.Fatalf("expected ErrCheckpointPersist, got %v", err)
	}
	if extractor.calls != 1 {
		t.Fatalf("expected one OCR call before crash, got %d", extractor.calls)
	}

	cps.failOnCall = 0
	rec, err := engine.Run(context.Background(), "owner-1", "t1", domain.Upload{Data: []byte("img")})
	if err != nil {
		t.Fatalf("resumed Run() error = %v", err)
	}
	if rec.Error {
		t.Fatalf("expected success after resume, got %q", rec.ErrorMessage)
	}
	if extractor.calls != 1 {
		t.Fatalf("resume re-executed extract_text: %d OCR calls", extractor.calls)
	}
	if analyzer.calls != 1 {
		t.Fatalf("expected exactly one LLM call across crash-resume, got %d", analyzer.calls)
	}
}

func TestRunResumesFromPersistedState(t *testing.T) {
	cps := newMemCheckpoints()
	res := newMemResults()
	thread := "user_owner-1_t1"
	state := domain.AnalysisState{ThreadID: thread, RawText: validText, Language: "es"}
	if _, err := cps.Append(context.Background(), thread, domain.StageExtractText, state); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}

	extractor := &fakeExtractor{err: errors.New("ocr must not be called")}
	analyzer := &fakeAnalyzer{analysis: goodAnalysis()}
	engine := newTestEngine(cps, res, extractor, analyzer, &fakeQueue{})

	rec, err := engine.Run(context.Background(), "owner-1", "t1", domain.Upload{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if rec.Error {
		t.Fatalf("expected success, got %q", rec.ErrorMessage)
	}
	if extractor.calls != 0 {
		t.Fatalf("resume must not re-invoke OCR, got %d calls", extractor.calls)
	}
}

func TestRunRecoverAnalyzerFailureIntoRecord(t *testing.T) {
	cps := newMemCheckpoints()
	res := newMemResults()
	analyzer := &fakeAnalyzer{err: domain.WrapError(domain.ErrAnalysisFailed, "analyze", errors.New("malformed output"))}
	engine := newTestEngine(cps, res, &fakeExtractor{text: validText}, analyzer, &fakeQueue{})

	rec, err := engine.Run(context.Background(), "owner-1", "t1", domain.Upload{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !rec.Error || rec.ConfidenceScore != 0 {
		t.Fatalf("expected recovered error record, got %+v", rec)
	}
	if !strings.Contains(rec.ErrorMessage, "procesar el documento") {
		t.Fatalf("expected processing-failure message, got %q", rec.ErrorMessage)
	}
	if strings.Contains(rec.ErrorMessage, "demasiado corto") {
		t.Fatalf("analyzer failure must not reuse the quality-gate message")
	}
}

func TestRunExtractionFailureRecoveredIntoRecord(t *testing.T) {
	cps := newMemCheckpoints()
	res := newMemResults()
	extractor := &fakeExtractor{err: domain.WrapError(domain.ErrExtractionFailed, "ocr", errors.New("engine crashed"))}
	engine := newTestEngine(cps, res, extractor, &fakeAnalyzer{analysis: goodAnalysis()}, &fakeQueue{})

	rec, err := engine.Run(context.Background(), "owner-1", "t1", domain.Upload{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !rec.Error {
		t.Fatalf("expected error record, got %+v", rec)
	}
}

func TestRunPropagatesCollaboratorTimeout(t *testing.T) {
	cps := newMemCheckpoints()
	res := newMemResults()
	analyzer := &fakeAnalyzer{err: context.DeadlineExceeded}
	engine := newTestEngine(cps, res, &fakeExtractor{text: validText}, analyzer, &fakeQueue{})

	_, err := engine.Run(context.Background(), "owner-1", "t1", domain.Upload{})
	if !domain.IsKind(err, domain.ErrCollaboratorTimeout) {
		t.Fatalf("expected ErrCollaboratorTimeout, got %v", err)
	}
	if res.upserts != 0 {
		t.Fatalf("timeout must not commit a record")
	}
}

func TestRunRecordCommitFailureIsRetryable(t *testing.T) {
	cps := newMemCheckpoints()
	res := newMemResults()
	res.failUpsert = errors.New("storage write failed")
	engine := newTestEngine(cps, res, &fakeExtractor{text: validText}, &fakeAnalyzer{analysis: goodAnalysis()}, &fakeQueue{})

	_, err := engine.Run(context.Background(), "owner-1", "t1", domain.Upload{})
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected retryable storage failure, got %v", err)
	}
}

func TestRunRejectsInvalidThreadBeforeStages(t *testing.T) {
	cps := newMemCheckpoints()
	extractor := &fakeExtractor{text: validText}
	engine := newTestEngine(cps, newMemResults(), extractor, &fakeAnalyzer{analysis: goodAnalysis()}, &fakeQueue{})

	_, err := engine.Run(context.Background(), "owner-1", "user_owner-1_", domain.Upload{})
	if !domain.IsKind(err, domain.ErrInvalidThread) {
		t.Fatalf("expected ErrInvalidThread, got %v", err)
	}
	if extractor.calls != 0 {
		t.Fatalf("no stage may run for an invalid thread id")
	}
}

func TestRunAfterTerminalStartsFreshAndOverwritesRecord(t *testing.T) {
	cps := newMemCheckpoints()
	res := newMemResults()
	extractor := &fakeExtractor{text: validText}
	analyzer := &fakeAnalyzer{analysis: goodAnalysis()}
	engine := newTestEngine(cps, res, extractor, analyzer, &fakeQueue{})

	first, err := engine.Run(context.Background(), "owner-1", "t1", domain.Upload{})
	if err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	second, err := engine.Run(context.Background(), "owner-1", "t1", domain.Upload{})
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if extractor.calls != 2 || analyzer.calls != 2 {
		t.Fatalf("re-analysis must run the full pipeline again: ocr=%d llm=%d", extractor.calls, analyzer.calls)
	}
	if second.ID != first.ID {
		t.Fatalf("re-analysis must update the same record, got ids %d and %d", first.ID, second.ID)
	}
	if got := cps.stages("user_owner-1_t1"); len(got) != 8 {
		t.Fatalf("expected 8 checkpoints after two full runs, got %d", len(got))
	}
}

func TestConcurrentRunsForOneThreadKeepSequenceLinear(t *testing.T) {
	cps := newMemCheckpoints()
	res := newMemResults()
	engine := newTestEngine(cps, res,
		&fakeExtractor{text: validText},
		&fakeAnalyzer{analysis: goodAnalysis(), delay: 2 * time.Millisecond},
		&fakeQueue{},
	)

	const runs = 10
	var wg sync.WaitGroup
	errs := make(chan error, runs)
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Run(context.Background(), "owner-1", "t1", domain.Upload{})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent Run() error = %v", err)
		}
	}

	cps.mu.Lock()
	chain := cps.chains["user_owner-1_t1"]
	cps.mu.Unlock()
	if len(chain) != runs*4 {
		t.Fatalf("expected %d checkpoints, got %d", runs*4, len(chain))
	}
	seen := make(map[int64]bool, len(chain))
	for i, cp := range chain {
		if cp.SequenceNumber != int64(i)+1 {
			t.Fatalf("sequence gap at index %d: %d", i, cp.SequenceNumber)
		}
		if seen[cp.SequenceNumber] {
			t.Fatalf("duplicate sequence number %d", cp.SequenceNumber)
		}
		seen[cp.SequenceNumber] = true
	}
	// Serialized runs never interleave stages: every run's 4 checkpoints
	// must be contiguous, starting with extract_text.
	for i := 0; i < len(chain); i += 4 {
		if chain[i].Stage != domain.StageExtractText {
			t.Fatalf("interleaved run detected at checkpoint %d: %s", i, chain[i].Stage)
		}
	}

	engine.mu.Lock()
	live := len(engine.threads)
	engine.mu.Unlock()
	if live != 0 {
		t.Fatalf("expected thread locks released after runs, got %d live entries", live)
	}
}

func TestDistinctThreadsRunIndependently(t *testing.T) {
	cps := newMemCheckpoints()
	res := newMemResults()
	engine := newTestEngine(cps, res, &fakeExtractor{text: validText}, &fakeAnalyzer{analysis: goodAnalysis()}, &fakeQueue{})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := engine.Run(context.Background(), "owner-1", fmt.Sprintf("t%d", n), domain.Upload{})
			if err != nil {
				t.Errorf("Run(t%d) error = %v", n, err)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 5; i++ {
		thread := fmt.Sprintf("user_owner-1_t%d", i)
		if got := cps.stages(thread); len(got) != 4 {
			t.Fatalf("thread %s: expected 4 checkpoints, got %d", thread, len(got))
		}
	}

	engine.mu.Lock()
	live := len(engine.threads)
	engine.mu.Unlock()
	if live != 0 {
		t.Fatalf("expected no live lock entries after all threads finished, got %d", live)
	}
}
