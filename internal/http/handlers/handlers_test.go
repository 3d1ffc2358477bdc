package handlers

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"server/internal/credits"
	"server/internal/domain"
	"server/internal/infra"
	"server/internal/materialize"
	"server/internal/middleware"
	"server/internal/payment"
	"server/internal/provider"
	"server/internal/reconcile"
)

type memJobRepo struct {
	jobs map[string]*domain.Job
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{jobs: make(map[string]*domain.Job)}
}

func (m *memJobRepo) Create(ctx context.Context, job *domain.Job) error {
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *memJobRepo) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (m *memJobRepo) GetByTaskID(ctx context.Context, taskID string) (*domain.Job, error) {
	for _, job := range m.jobs {
		if job.TaskID == taskID {
			cp := *job
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memJobRepo) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Job, error) {
	var out []domain.Job
	for _, job := range m.jobs {
		if job.UserID == userID {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (m *memJobRepo) ListProcessing(ctx context.Context, olderThan time.Duration, limit int) ([]domain.Job, error) {
	return nil, nil
}

func (m *memJobRepo) SetSubmitted(ctx context.Context, jobID, providerName, taskID string) error {
	job, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	job.Provider = providerName
	job.TaskID = taskID
	return nil
}

func (m *memJobRepo) Complete(ctx context.Context, jobID, taskID, resultURL, analysis string, metadata json.RawMessage) error {
	job, ok := m.jobs[jobID]
	if !ok || job.TaskID != taskID || job.Status != domain.JobStatusProcessing {
		return domain.ErrStaleUpdate
	}
	job.Status = domain.JobStatusCompleted
	job.ResultURL = resultURL
	job.Analysis = analysis
	job.RetryState = domain.RetryStateTerminal
	job.Metadata = mergeMeta(job.Metadata, metadata)
	return nil
}

func (m *memJobRepo) Fail(ctx context.Context, jobID, taskID, errMsg string) error {
	job, ok := m.jobs[jobID]
	if !ok || job.TaskID != taskID || job.Status != domain.JobStatusProcessing {
		return domain.ErrStaleUpdate
	}
	job.Status = domain.JobStatusFailed
	job.ErrorMessage = errMsg
	job.RetryState = domain.RetryStateTerminal
	return nil
}

func (m *memJobRepo) RecordFallback(ctx context.Context, jobID, oldTaskID, newTaskID, providerName string, metadata json.RawMessage) error {
	job, ok := m.jobs[jobID]
	if !ok || job.TaskID != oldTaskID || job.RetryState != domain.RetryStateFresh {
		return domain.ErrStaleUpdate
	}
	job.TaskID = newTaskID
	job.Provider = providerName
	job.Status = domain.JobStatusProcessing
	job.ErrorMessage = ""
	job.RetryState = domain.RetryStateFallbackAttempted
	job.Metadata = mergeMeta(job.Metadata, metadata)
	return nil
}

func (m *memJobRepo) RefreshMetadata(ctx context.Context, jobID, taskID string, metadata json.RawMessage) error {
	job, ok := m.jobs[jobID]
	if !ok || job.TaskID != taskID {
		return domain.ErrStaleUpdate
	}
	job.Metadata = mergeMeta(job.Metadata, metadata)
	return nil
}

// mergeMeta applies the same key-by-key metadata merge as the jsonb store.
func mergeMeta(existing, update json.RawMessage) json.RawMessage {
	if len(update) == 0 {
		return existing
	}
	merged := map[string]json.RawMessage{}
	if len(existing) > 0 {
		_ = json.Unmarshal(existing, &merged)
	}
	var incoming map[string]json.RawMessage
	if err := json.Unmarshal(update, &incoming); err != nil {
		return existing
	}
	for k, v := range incoming {
		merged[k] = v
	}
	out, _ := json.Marshal(merged)
	return out
}

func (m *memJobRepo) Delete(ctx context.Context, jobID, userID string) error {
	job, ok := m.jobs[jobID]
	if !ok || job.UserID != userID {
		return domain.ErrNotFound
	}
	delete(m.jobs, jobID)
	return nil
}

type memCreditRepo struct {
	balances map[string]int
	entries  []domain.CreditTransaction
}

func newMemCreditRepo() *memCreditRepo {
	return &memCreditRepo{balances: make(map[string]int)}
}

func (m *memCreditRepo) GetBalance(ctx context.Context, userID string) (*domain.Balance, error) {
	bal, ok := m.balances[userID]
	if !ok {
		return nil, domain.ErrNotInitialized
	}
	return &domain.Balance{UserID: userID, Credits: bal}, nil
}

func (m *memCreditRepo) Initialize(ctx context.Context, userID string, welcome int) (*domain.Balance, error) {
	if bal, ok := m.balances[userID]; ok {
		return &domain.Balance{UserID: userID, Credits: bal}, nil
	}
	m.balances[userID] = welcome
	return &domain.Balance{UserID: userID, Credits: welcome}, nil
}

func (m *memCreditRepo) Debit(ctx context.Context, userID string, amount int, reason, referenceID string) (*domain.CreditTransaction, error) {
	bal, ok := m.balances[userID]
	if !ok {
		return nil, domain.ErrNotInitialized
	}
	if bal < amount {
		return nil, domain.ErrInsufficientCredits
	}
	m.balances[userID] = bal - amount
	tx := domain.CreditTransaction{UserID: userID, Delta: -amount, Kind: domain.TransactionUsage, BalanceAfter: bal - amount}
	m.entries = append(m.entries, tx)
	return &tx, nil
}

func (m *memCreditRepo) Credit(ctx context.Context, userID string, amount int, kind domain.TransactionKind, reason, referenceID string, expiresAt *time.Time) (*domain.CreditTransaction, error) {
	m.balances[userID] += amount
	tx := domain.CreditTransaction{UserID: userID, Delta: amount, Kind: kind, BalanceAfter: m.balances[userID]}
	m.entries = append(m.entries, tx)
	return &tx, nil
}

func (m *memCreditRepo) ListTransactions(ctx context.Context, userID string, limit int) ([]domain.CreditTransaction, error) {
	var out []domain.CreditTransaction
	for _, e := range m.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memCreditRepo) RecordEvent(ctx context.Context, userID string, kind domain.TransactionKind, reason, referenceID string) error {
	m.entries = append(m.entries, domain.CreditTransaction{UserID: userID, Kind: kind, Reason: reason, ReferenceID: referenceID})
	return nil
}

func (m *memCreditRepo) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}

type memOrderRepo struct {
	orders map[string]*domain.PaymentOrder
}

func newMemOrderRepo() *memOrderRepo {
	return &memOrderRepo{orders: make(map[string]*domain.PaymentOrder)}
}

func (m *memOrderRepo) CreateOrder(ctx context.Context, order *domain.PaymentOrder) error {
	cp := *order
	m.orders[order.OrderID] = &cp
	return nil
}

func (m *memOrderRepo) GetOrder(ctx context.Context, orderID string) (*domain.PaymentOrder, error) {
	order, ok := m.orders[orderID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *order
	return &cp, nil
}

func (m *memOrderRepo) Settle(ctx context.Context, orderID string) (*domain.PaymentOrder, error) {
	order, ok := m.orders[orderID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if order.Status != domain.PaymentStatusPending {
		return nil, domain.ErrDuplicateOperation
	}
	order.Status = domain.PaymentStatusSettled
	cp := *order
	return &cp, nil
}

func (m *memOrderRepo) MarkFailed(ctx context.Context, orderID string) error {
	order, ok := m.orders[orderID]
	if !ok {
		return domain.ErrNotFound
	}
	order.Status = domain.PaymentStatusFailed
	return nil
}

// stubAdapter answers with scripted task ids and decodes webhook bodies of
// the shape {taskId, status, resultUrl, error}.
type stubAdapter struct {
	name      string
	submitID  string
	submitErr error
}

func (s *stubAdapter) Name() string { return s.name }

func (s *stubAdapter) Submit(ctx context.Context, req provider.SubmitRequest) (string, error) {
	if s.submitErr != nil {
		return "", s.submitErr
	}
	return s.submitID, nil
}

func (s *stubAdapter) PollStatus(ctx context.Context, taskID string) (*provider.Event, error) {
	return &provider.Event{TaskID: taskID, Status: provider.StatusProcessing}, nil
}

func (s *stubAdapter) ParseWebhook(body []byte) (*provider.Event, error) {
	var payload struct {
		TaskID    string `json:"taskId"`
		Status    string `json:"status"`
		ResultURL string `json:"resultUrl"`
		Error     string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	return &provider.Event{
		TaskID:       payload.TaskID,
		Status:       provider.NormalizeStatus(payload.Status),
		ResultURL:    payload.ResultURL,
		ErrorMessage: payload.Error,
		Raw:          body,
	}, nil
}

type memStore struct{}

func (memStore) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	return "https://durable.example.com/" + key, nil
}

type testApp struct {
	app     *App
	jobs    *memJobRepo
	creds   *memCreditRepo
	orders  *memOrderRepo
	adapter *stubAdapter
	cdn     *httptest.Server
}

const testServerKey = "server-key-1234"

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	cdn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png-bytes"))
	}))
	t.Cleanup(cdn.Close)

	jobs := newMemJobRepo()
	creds := newMemCreditRepo()
	orders := newMemOrderRepo()
	adapter := &stubAdapter{name: "kie", submitID: "task-1"}

	registry := provider.NewRegistry()
	registry.Register(domain.JobTypeVirtualTryOn, adapter, nil)
	registry.Register(domain.JobTypeModelSwap, adapter, nil)
	registry.Register(domain.JobTypeProductMarketing, adapter, nil)

	creditSvc := credits.NewService(creds, zerolog.Nop())
	mat := materialize.New(memStore{}, cdn.Client(), zerolog.Nop())

	app := &App{
		Cfg:          &infra.Config{JWTSecret: "secret", StorageBackend: "filesystem"},
		Logger:       zerolog.Nop(),
		Jobs:         jobs,
		Credits:      creditSvc,
		Payments:     payment.NewService(orders, creditSvc, testServerKey, zerolog.Nop()),
		Registry:     registry,
		Reconciler:   reconcile.New(jobs, registry, mat, zerolog.Nop()),
		Materializer: mat,
	}
	return &testApp{app: app, jobs: jobs, creds: creds, orders: orders, adapter: adapter, cdn: cdn}
}

func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func authedRequest(method, target, body, userID string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	return req.WithContext(middleware.ContextWithUserID(req.Context(), userID))
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestTryOnSubmitHappyPath(t *testing.T) {
	ta := newTestApp(t)
	ta.creds.balances["user-1"] = 5

	req := authedRequest(http.MethodPost, "/v1/tryon",
		`{"input_image_url":"https://cdn/p.png","garment_image_url":"https://cdn/g.png"}`, "user-1")
	rec := httptest.NewRecorder()
	ta.app.TryOnSubmit(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body)
	}
	out := decodeBody(t, rec)
	if out["taskId"] != "task-1" || out["status"] != "processing" {
		t.Fatalf("unexpected response: %v", out)
	}
	if ta.creds.balances["user-1"] != 4 {
		t.Fatalf("balance = %d, want 4", ta.creds.balances["user-1"])
	}
	job, err := ta.jobs.GetByTaskID(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("job not stored: %v", err)
	}
	if job.Provider != "kie" || job.Status != domain.JobStatusProcessing {
		t.Fatalf("job record wrong: %+v", job)
	}
}

func TestTryOnSubmitInitializesNewUser(t *testing.T) {
	ta := newTestApp(t)

	req := authedRequest(http.MethodPost, "/v1/tryon",
		`{"input_image_url":"https://cdn/p.png","garment_image_url":"https://cdn/g.png"}`, "fresh-user")
	rec := httptest.NewRecorder()
	ta.app.TryOnSubmit(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body)
	}
	// Welcome bonus minus the job cost.
	if ta.creds.balances["fresh-user"] != domain.WelcomeCredits-1 {
		t.Fatalf("balance = %d, want %d", ta.creds.balances["fresh-user"], domain.WelcomeCredits-1)
	}
}

func TestTryOnSubmitInsufficientCredits(t *testing.T) {
	ta := newTestApp(t)
	ta.creds.balances["user-1"] = 0

	req := authedRequest(http.MethodPost, "/v1/tryon",
		`{"input_image_url":"https://cdn/p.png","garment_image_url":"https://cdn/g.png"}`, "user-1")
	rec := httptest.NewRecorder()
	ta.app.TryOnSubmit(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", rec.Code)
	}
	if len(ta.jobs.jobs) != 0 {
		t.Fatal("job created despite insufficient credits")
	}
}

func TestTryOnSubmitMissingImages(t *testing.T) {
	ta := newTestApp(t)
	ta.creds.balances["user-1"] = 5

	req := authedRequest(http.MethodPost, "/v1/tryon", `{"input_image_url":"https://cdn/p.png"}`, "user-1")
	rec := httptest.NewRecorder()
	ta.app.TryOnSubmit(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if ta.creds.balances["user-1"] != 5 {
		t.Fatal("validation failure must not debit credits")
	}
}

func TestTryOnSubmitProviderFailure(t *testing.T) {
	ta := newTestApp(t)
	ta.creds.balances["user-1"] = 5
	ta.adapter.submitErr = errors.New("kie: http 503")

	req := authedRequest(http.MethodPost, "/v1/tryon",
		`{"input_image_url":"https://cdn/p.png","garment_image_url":"https://cdn/g.png"}`, "user-1")
	rec := httptest.NewRecorder()
	ta.app.TryOnSubmit(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	var failed *domain.Job
	for _, job := range ta.jobs.jobs {
		failed = job
	}
	if failed == nil || failed.Status != domain.JobStatusFailed {
		t.Fatalf("job not marked failed: %+v", failed)
	}
}

func TestJobStatusShortCircuitsProbeIDs(t *testing.T) {
	ta := newTestApp(t)
	for _, probe := range []string{"test", "health"} {
		req := authedRequest(http.MethodGet, "/v1/status/"+probe, "", "user-1")
		req = withURLParam(req, "taskID", probe)
		rec := httptest.NewRecorder()
		ta.app.JobStatus(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status(%s) = %d, want 200", probe, rec.Code)
		}
		out := decodeBody(t, rec)
		if out["status"] != "completed" {
			t.Fatalf("probe %s returned %v", probe, out)
		}
	}
}

func TestJobStatusHidesOtherUsersJobs(t *testing.T) {
	ta := newTestApp(t)
	_ = ta.jobs.Create(context.Background(), &domain.Job{
		ID: "job-1", UserID: "owner", TaskID: "task-1",
		Status: domain.JobStatusProcessing, RetryState: domain.RetryStateFresh,
	})

	req := authedRequest(http.MethodGet, "/v1/status/task-1", "", "intruder")
	req = withURLParam(req, "taskID", "task-1")
	rec := httptest.NewRecorder()
	ta.app.JobStatus(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestProviderWebhookCompletesJob(t *testing.T) {
	ta := newTestApp(t)
	_ = ta.jobs.Create(context.Background(), &domain.Job{
		ID: "job-1", UserID: "user-1", Type: domain.JobTypeVirtualTryOn,
		TaskID: "task-1", Provider: "kie",
		Status: domain.JobStatusProcessing, RetryState: domain.RetryStateFresh,
		InputImageURL: "https://cdn/p.png", GarmentImageURL: "https://cdn/g.png",
	})

	body := `{"taskId":"task-1","status":"succeeded","resultUrl":"` + ta.cdn.URL + `/out.png"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/kie", strings.NewReader(body))
	rec := httptest.NewRecorder()
	ta.app.ProviderWebhook("kie")(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}
	out := decodeBody(t, rec)
	if out["success"] != true || out["jobId"] != "job-1" || out["status"] != "completed" {
		t.Fatalf("unexpected response: %v", out)
	}
	job, _ := ta.jobs.GetByID(context.Background(), "job-1")
	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("job status = %q", job.Status)
	}
	if !strings.HasPrefix(job.ResultURL, "https://durable.example.com/") {
		t.Fatalf("result not materialized: %s", job.ResultURL)
	}
}

func TestProviderWebhookUnattributable(t *testing.T) {
	ta := newTestApp(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/kie", strings.NewReader(`{"status":"succeeded"}`))
	rec := httptest.NewRecorder()
	ta.app.ProviderWebhook("kie")(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestProviderWebhookUnknownTask(t *testing.T) {
	ta := newTestApp(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/kie",
		strings.NewReader(`{"taskId":"ghost","status":"succeeded"}`))
	rec := httptest.NewRecorder()
	ta.app.ProviderWebhook("kie")(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestProviderWebhookTokenRequired(t *testing.T) {
	ta := newTestApp(t)
	ta.app.Cfg.WebhookToken = "hook-secret"

	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/kie",
		strings.NewReader(`{"taskId":"task-1","status":"succeeded"}`))
	rec := httptest.NewRecorder()
	ta.app.ProviderWebhook("kie")(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want 401", rec.Code)
	}
}

func TestMidtransWebhookBadSignature(t *testing.T) {
	ta := newTestApp(t)
	order, err := ta.app.Payments.CreateOrder(context.Background(), "user-1", 50, "100000.00")
	if err != nil {
		t.Fatalf("CreateOrder error: %v", err)
	}

	body := `{"order_id":"` + order.OrderID + `","status_code":"200","gross_amount":"100000.00","signature_key":"bogus","transaction_status":"settlement"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/midtrans", strings.NewReader(body))
	rec := httptest.NewRecorder()
	ta.app.MidtransWebhook(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if ta.creds.balances["user-1"] != 0 {
		t.Fatal("bad signature credited the ledger")
	}
}

func TestMidtransWebhookSettles(t *testing.T) {
	ta := newTestApp(t)
	order, err := ta.app.Payments.CreateOrder(context.Background(), "user-1", 50, "100000.00")
	if err != nil {
		t.Fatalf("CreateOrder error: %v", err)
	}

	sum := sha512.Sum512([]byte(order.OrderID + "200" + "100000.00" + testServerKey))
	body := `{"order_id":"` + order.OrderID + `","status_code":"200","gross_amount":"100000.00","signature_key":"` +
		hex.EncodeToString(sum[:]) + `","transaction_status":"settlement"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/midtrans", strings.NewReader(body))
	rec := httptest.NewRecorder()
	ta.app.MidtransWebhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}
	if ta.creds.balances["user-1"] != 50 {
		t.Fatalf("balance = %d, want 50", ta.creds.balances["user-1"])
	}
}

func TestCreditsActionCheckBalanceProvisionsWelcome(t *testing.T) {
	ta := newTestApp(t)

	req := authedRequest(http.MethodPost, "/v1/credits", `{"action":"check_balance"}`, "fresh-user")
	rec := httptest.NewRecorder()
	ta.app.CreditsAction(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}
	out := decodeBody(t, rec)
	if out["success"] != true || out["credits"] != float64(domain.WelcomeCredits) {
		t.Fatalf("unexpected response: %v", out)
	}
}

func TestCreditsActionAdminGrantRequiresRole(t *testing.T) {
	ta := newTestApp(t)

	req := authedRequest(http.MethodPost, "/v1/credits",
		`{"action":"add_credits","amount":100,"kind":"admin_grant","user_id":"someone"}`, "user-1")
	rec := httptest.NewRecorder()
	ta.app.CreditsAction(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if ta.creds.balances["someone"] != 0 {
		t.Fatal("grant landed without admin role")
	}
}

func TestCreditsActionRejectsPurchaseKind(t *testing.T) {
	ta := newTestApp(t)

	req := authedRequest(http.MethodPost, "/v1/credits",
		`{"action":"add_credits","amount":100,"kind":"purchase"}`, "user-1")
	rec := httptest.NewRecorder()
	ta.app.CreditsAction(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestCreditsActionUnknownAction(t *testing.T) {
	ta := newTestApp(t)

	req := authedRequest(http.MethodPost, "/v1/credits", `{"action":"steal_credits"}`, "user-1")
	rec := httptest.NewRecorder()
	ta.app.CreditsAction(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	out := decodeBody(t, rec)
	if out["success"] != false {
		t.Fatalf("unexpected envelope: %v", out)
	}
}
