package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fishdash/internal/api"
	"fishdash/internal/faults"
	"fishdash/internal/history"
)

// fakeClient implements RemoteClient with overridable behavior per call.
type fakeClient struct {
	mu      sync.Mutex
	uploads int
	starts  int
	polls   int
	cancels int

	uploadFn func(ctx context.Context) (*api.BatchUploadResponse, error)
	pollFn   func(ctx context.Context, n int) (*api.AnalysisProgress, error)

	cancelled chan string
}

func newFakeClient() *fakeClient {
	return &fakeClient{cancelled: make(chan string, 1)}
}

func (f *fakeClient) UploadBatch(ctx context.Context, files []api.File, cfg api.AnalysisConfig, onProgress api.UploadProgressFunc) (*api.BatchUploadResponse, error) {
	f.mu.Lock()
	f.uploads++
	fn := f.uploadFn
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx)
	}
	if onProgress != nil {
		onProgress(api.BatchUploadProgress{
			FilesUploaded: len(files),
			FilesTotal:    len(files),
			BytesUploaded: 1000,
			BytesTotal:    1000,
		})
	}
	uploaded := make([]api.UploadedFile, len(files))
	for i, file := range files {
		uploaded[i] = api.UploadedFile{OriginalFilename: file.Name, SavedFilename: "saved-" + file.Name}
	}
	return &api.BatchUploadResponse{Status: "success", BatchID: "batch-1", UploadedFiles: uploaded}, nil
}

func (f *fakeClient) StartAnalysis(ctx context.Context, req api.BatchAnalysisRequest) (*api.BatchAnalysisStarted, error) {
	f.mu.Lock()
	f.starts++
	f.mu.Unlock()
	return &api.BatchAnalysisStarted{BatchID: req.BatchID, TotalImages: len(req.Images)}, nil
}

func (f *fakeClient) GetProgress(ctx context.Context, batchID string) (*api.AnalysisProgress, error) {
	f.mu.Lock()
	f.polls++
	n := f.polls
	fn := f.pollFn
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, n)
	}
	status := api.StatusProcessing
	if n >= 2 {
		status = api.StatusCompleted
	}
	return &api.AnalysisProgress{BatchID: batchID, Status: status, TotalImages: 5, CompletedImages: 5}, nil
}

func (f *fakeClient) GetComprehensive(ctx context.Context, batchID string) (*api.ComprehensiveBatchResult, error) {
	return &api.ComprehensiveBatchResult{
		BatchAnalysis: api.BatchAnalysisResultEnhanced{
			BatchAnalysisResult: api.BatchAnalysisResult{BatchID: batchID, Status: api.StatusCompleted},
		},
	}, nil
}

func (f *fakeClient) GetPaginatedResults(ctx context.Context, batchID string, query api.ResultsQuery) (*api.PaginatedResults, error) {
	return &api.PaginatedResults{Pagination: api.PaginationMeta{CurrentPage: query.Page, ItemsPerPage: query.PerPage}}, nil
}

func (f *fakeClient) CancelBatch(ctx context.Context, batchID string) (*api.CancelResponse, error) {
	f.mu.Lock()
	f.cancels++
	f.mu.Unlock()
	select {
	case f.cancelled <- batchID:
	default:
	}
	return &api.CancelResponse{BatchID: batchID, Status: "cancelled"}, nil
}

func (f *fakeClient) counts() (uploads, starts, polls int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads, f.starts, f.polls
}

// memRecorder collects records in memory.
type memRecorder struct {
	mu      sync.Mutex
	records []history.ActivityRecord
}

func (r *memRecorder) Record(ctx context.Context, rec history.ActivityRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *memRecorder) all() []history.ActivityRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]history.ActivityRecord(nil), r.records...)
}

func testOptions() Options {
	return Options{
		PollInterval:      time.Millisecond,
		MaxPollIterations: 50,
		MaxRetries:        3,
		RetryBase:         time.Millisecond,
		MinFiles:          2,
	}
}

func testFiles(n int) []api.File {
	files := make([]api.File, n)
	for i := range files {
		files[i] = api.File{Name: "fish.jpg", Path: "/tmp/fish.jpg"}
	}
	return files
}

func waitDone(t *testing.T, o *Orchestrator) {
	t.Helper()
	select {
	case <-o.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("job did not finish in time")
	}
}

func statusErr(code int, detail string) error {
	return &api.Error{StatusCode: code, Detail: detail}
}

func TestHappyPath(t *testing.T) {
	client := newFakeClient()
	recorder := &memRecorder{}
	o := New(client, recorder, testOptions(), nil)

	if err := o.Start(context.Background(), testFiles(5), api.AnalysisConfig{GridSquareSizeInches: 1.0}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitDone(t, o)

	job := o.Snapshot()
	if job.Stage != StageCompleted {
		t.Fatalf("Stage = %v, want completed", job.Stage)
	}
	if job.BatchID != "batch-1" {
		t.Errorf("BatchID = %q, want batch-1", job.BatchID)
	}
	if job.Analysis == nil || job.Analysis.TotalImages != 5 {
		t.Errorf("Analysis = %+v, want total_images=5", job.Analysis)
	}
	if job.Result == nil || job.FirstPage == nil {
		t.Fatal("Result or FirstPage missing after completion")
	}
	want := api.DefaultResultsQuery()
	if got := job.FirstPage.Pagination; got.CurrentPage != want.Page || got.ItemsPerPage != want.PerPage {
		t.Errorf("first page pagination = %+v, want page %d with %d per page", got, want.Page, want.PerPage)
	}
	if job.Err != nil {
		t.Errorf("Err = %+v, want nil", job.Err)
	}
	if job.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0", job.RetryCount)
	}

	recs := recorder.all()
	if len(recs) != 1 || recs[0].Status != "completed" || recs[0].TotalImages != 5 {
		t.Errorf("recorded = %+v, want one completed record with 5 images", recs)
	}
}

func TestStartRejectsTooFewFiles(t *testing.T) {
	o := New(newFakeClient(), nil, testOptions(), nil)

	err := o.Start(context.Background(), testFiles(1), api.AnalysisConfig{})
	if err == nil {
		t.Fatal("Start() with 1 file succeeded, want error")
	}
	if cls := faults.Classify(err); cls.Kind != faults.Validation {
		t.Errorf("Classify(Start error).Kind = %v, want %v", cls.Kind, faults.Validation)
	}
	if job := o.Snapshot(); job.Stage != StageIdle {
		t.Errorf("Stage after rejected Start = %v, want idle", job.Stage)
	}
}

func TestStartRejectsConcurrentJob(t *testing.T) {
	client := newFakeClient()
	client.uploadFn = func(ctx context.Context) (*api.BatchUploadResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	o := New(client, nil, testOptions(), nil)

	if err := o.Start(context.Background(), testFiles(2), api.AnalysisConfig{}); err != nil {
		t.Fatalf("first Start() error = %v", err)
	}
	if err := o.Start(context.Background(), testFiles(2), api.AnalysisConfig{}); !errors.Is(err, ErrJobInProgress) {
		t.Errorf("second Start() error = %v, want ErrJobInProgress", err)
	}

	o.Cancel()
	waitDone(t, o)
}

func TestTransientFailuresRetryToCeiling(t *testing.T) {
	client := newFakeClient()
	client.uploadFn = func(ctx context.Context) (*api.BatchUploadResponse, error) {
		return nil, statusErr(503, "service unavailable")
	}
	recorder := &memRecorder{}
	o := New(client, recorder, testOptions(), nil)

	if err := o.Start(context.Background(), testFiles(2), api.AnalysisConfig{}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitDone(t, o)

	job := o.Snapshot()
	if job.Stage != StageFailed {
		t.Fatalf("Stage = %v, want failed", job.Stage)
	}
	if job.RetryCount != 3 {
		t.Errorf("RetryCount = %d, want 3", job.RetryCount)
	}
	if job.Err == nil || !job.Err.Kind.Retryable() {
		t.Errorf("Err = %+v, want a transient classification", job.Err)
	}

	// Initial attempt plus three retries.
	if uploads, _, _ := client.counts(); uploads != 4 {
		t.Errorf("uploads = %d, want 4", uploads)
	}
	recs := recorder.all()
	if len(recs) != 1 || recs[0].Status != "failed" {
		t.Errorf("recorded = %+v, want one failed record", recs)
	}
}

func TestNonTransientFailureDoesNotRetry(t *testing.T) {
	client := newFakeClient()
	client.uploadFn = func(ctx context.Context) (*api.BatchUploadResponse, error) {
		return nil, statusErr(400, "unsupported file type")
	}
	o := New(client, nil, testOptions(), nil)

	if err := o.Start(context.Background(), testFiles(2), api.AnalysisConfig{}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitDone(t, o)

	job := o.Snapshot()
	if job.Stage != StageFailed {
		t.Fatalf("Stage = %v, want failed", job.Stage)
	}
	if job.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0", job.RetryCount)
	}
	if uploads, _, _ := client.counts(); uploads != 1 {
		t.Errorf("uploads = %d, want 1", uploads)
	}
}

func TestPollCeilingClassifiedAsTimeout(t *testing.T) {
	client := newFakeClient()
	client.pollFn = func(ctx context.Context, n int) (*api.AnalysisProgress, error) {
		return &api.AnalysisProgress{Status: api.StatusProcessing, TotalImages: 2}, nil
	}
	opts := testOptions()
	opts.MaxPollIterations = 5
	o := New(client, nil, opts, nil)

	if err := o.Start(context.Background(), testFiles(2), api.AnalysisConfig{}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitDone(t, o)

	job := o.Snapshot()
	if job.Stage != StageFailed {
		t.Fatalf("Stage = %v, want failed", job.Stage)
	}
	if job.Err == nil || job.Err.Kind != faults.Timeout {
		t.Errorf("Err = %+v, want timeout classification", job.Err)
	}
	if _, _, polls := client.counts(); polls != 5 {
		t.Errorf("polls = %d, want 5", polls)
	}
}

func TestRemoteFailureClassifiedAsDomain(t *testing.T) {
	client := newFakeClient()
	client.pollFn = func(ctx context.Context, n int) (*api.AnalysisProgress, error) {
		return &api.AnalysisProgress{Status: api.StatusFailed, TotalImages: 3, FailedImages: 3}, nil
	}
	o := New(client, nil, testOptions(), nil)

	if err := o.Start(context.Background(), testFiles(3), api.AnalysisConfig{}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitDone(t, o)

	job := o.Snapshot()
	if job.Err == nil || job.Err.Kind != faults.Domain {
		t.Errorf("Err = %+v, want domain classification", job.Err)
	}
	if job.Err != nil && job.Err.Kind == faults.Timeout {
		t.Error("remote failure classified as timeout")
	}
}

func TestCancelSuppressesLateResponses(t *testing.T) {
	client := newFakeClient()
	polling := make(chan struct{})
	var once sync.Once
	client.pollFn = func(ctx context.Context, n int) (*api.AnalysisProgress, error) {
		once.Do(func() { close(polling) })
		<-ctx.Done()
		// A response that raced with cancellation.
		return &api.AnalysisProgress{Status: api.StatusCompleted, TotalImages: 2}, nil
	}
	o := New(client, nil, testOptions(), nil)

	if err := o.Start(context.Background(), testFiles(2), api.AnalysisConfig{}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	select {
	case <-polling:
	case <-time.After(5 * time.Second):
		t.Fatal("job never reached the polling phase")
	}

	o.Cancel()
	waitDone(t, o)

	if job := o.Snapshot(); job.Stage != StageIdle {
		t.Errorf("Stage after Cancel = %v, want idle", job.Stage)
	}

	select {
	case batchID := <-client.cancelled:
		if batchID != "batch-1" {
			t.Errorf("remote cancel batch = %q, want batch-1", batchID)
		}
	case <-time.After(5 * time.Second):
		t.Error("remote CancelBatch was never attempted")
	}

	// The late completed response must not resurrect the job.
	time.Sleep(20 * time.Millisecond)
	if job := o.Snapshot(); job.Stage != StageIdle {
		t.Errorf("Stage after late poll response = %v, want idle", job.Stage)
	}
}

func TestCancelWithoutLiveJobIsNoOp(t *testing.T) {
	client := newFakeClient()
	o := New(client, nil, testOptions(), nil)
	o.Cancel()
	if job := o.Snapshot(); job.Stage != StageIdle {
		t.Errorf("Stage = %v, want idle", job.Stage)
	}
}

func TestRetryAfterFailure(t *testing.T) {
	client := newFakeClient()
	fail := true
	client.uploadFn = func(ctx context.Context) (*api.BatchUploadResponse, error) {
		if fail {
			fail = false
			return nil, statusErr(400, "bad request")
		}
		return &api.BatchUploadResponse{
			Status:  "success",
			BatchID: "batch-1",
			UploadedFiles: []api.UploadedFile{
				{SavedFilename: "a.jpg"}, {SavedFilename: "b.jpg"},
			},
		}, nil
	}
	o := New(client, nil, testOptions(), nil)

	if err := o.Start(context.Background(), testFiles(2), api.AnalysisConfig{}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitDone(t, o)
	if job := o.Snapshot(); job.Stage != StageFailed {
		t.Fatalf("Stage = %v, want failed before Retry", job.Stage)
	}

	if err := o.Retry(context.Background()); err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	waitDone(t, o)

	if job := o.Snapshot(); job.Stage != StageCompleted {
		t.Errorf("Stage after Retry = %v, want completed", job.Stage)
	}
}

func TestRetryWithoutFailureRejected(t *testing.T) {
	o := New(newFakeClient(), nil, testOptions(), nil)
	if err := o.Retry(context.Background()); !errors.Is(err, ErrNoFailedJob) {
		t.Errorf("Retry() error = %v, want ErrNoFailedJob", err)
	}
}

func TestResetClearsTerminalJob(t *testing.T) {
	client := newFakeClient()
	o := New(client, nil, testOptions(), nil)

	if err := o.Start(context.Background(), testFiles(2), api.AnalysisConfig{}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitDone(t, o)

	if err := o.Reset(); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	job := o.Snapshot()
	if job.Stage != StageIdle || job.Result != nil || job.BatchID != "" {
		t.Errorf("Snapshot after Reset = %+v, want zero idle job", job)
	}
}

func TestEventsCarryLatestSnapshot(t *testing.T) {
	client := newFakeClient()
	o := New(client, nil, testOptions(), nil)

	if err := o.Start(context.Background(), testFiles(2), api.AnalysisConfig{}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitDone(t, o)

	// The slot retains the newest snapshot for a slow consumer.
	select {
	case job := <-o.Events():
		if job.Stage != StageCompleted {
			t.Errorf("latest event stage = %v, want completed", job.Stage)
		}
	default:
		t.Error("no event available after job completion")
	}
}

func TestStageMonotonicWithinAttempt(t *testing.T) {
	client := newFakeClient()
	o := New(client, nil, testOptions(), nil)

	var mu sync.Mutex
	var stages []Stage
	done := make(chan struct{})
	go func() {
		defer close(done)
		for job := range o.Events() {
			mu.Lock()
			stages = append(stages, job.Stage)
			mu.Unlock()
			if job.Stage == StageCompleted || job.Stage == StageFailed {
				return
			}
		}
	}()

	if err := o.Start(context.Background(), testFiles(2), api.AnalysisConfig{}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitDone(t, o)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("event consumer never saw a terminal stage")
	}

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(stages); i++ {
		if stages[i] < stages[i-1] {
			t.Fatalf("stage regressed: %v after %v", stages[i], stages[i-1])
		}
	}
}
