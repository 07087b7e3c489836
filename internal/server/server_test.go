package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/scribeflow/creditcore/internal/config"
	jobdomain "github.com/scribeflow/creditcore/internal/job/domain"
	ledgerdomain "github.com/scribeflow/creditcore/internal/ledger/domain"
	paymentdomain "github.com/scribeflow/creditcore/internal/payment/domain"
	promodomain "github.com/scribeflow/creditcore/internal/promo/domain"
	"github.com/scribeflow/creditcore/internal/ratelimit"
)

type fakeLedgerService struct {
	balance ledgerdomain.Balance
	err     error
}

func (f *fakeLedgerService) AvailableBalance(ctx context.Context, accountID snowflake.ID) (ledgerdomain.Balance, error) {
	_ = ctx
	_ = accountID
	return f.balance, f.err
}

func (f *fakeLedgerService) Authorize(ctx context.Context, accountID, jobID snowflake.ID, amountCents int64) error {
	return f.err
}

func (f *fakeLedgerService) Commit(ctx context.Context, accountID, jobID snowflake.ID, detail ledgerdomain.CommitDetail) error {
	return f.err
}

func (f *fakeLedgerService) Release(ctx context.Context, accountID, jobID snowflake.ID) error {
	return f.err
}

func (f *fakeLedgerService) Grant(ctx context.Context, accountID snowflake.ID, amountCents int64, reason, reference string) error {
	return f.err
}

func (f *fakeLedgerService) GrantTx(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, amountCents int64, reason, reference string) error {
	return f.err
}

func (f *fakeLedgerService) DebitImmediate(ctx context.Context, accountID snowflake.ID, amountCents int64, reason string, jobID *snowflake.ID) error {
	return f.err
}

type fakeJobService struct {
	job   jobdomain.Job
	err   error
	calls int
}

func (f *fakeJobService) Submit(ctx context.Context, req jobdomain.SubmitRequest) (jobdomain.Job, error) {
	f.calls++
	_ = ctx
	_ = req
	return f.job, f.err
}

func (f *fakeJobService) Complete(ctx context.Context, jobID snowflake.ID, result jobdomain.Result) (jobdomain.Job, error) {
	f.calls++
	_ = ctx
	_ = jobID
	_ = result
	return f.job, f.err
}

func (f *fakeJobService) Get(ctx context.Context, jobID snowflake.ID) (jobdomain.Job, error) {
	_ = ctx
	_ = jobID
	return f.job, f.err
}

type fakePromoService struct {
	redemption promodomain.Redemption
	err        error
}

func (f *fakePromoService) Redeem(ctx context.Context, accountID snowflake.ID, code string) (promodomain.Redemption, error) {
	_ = ctx
	_ = accountID
	_ = code
	return f.redemption, f.err
}

type fakePaymentService struct {
	err   error
	calls int
}

func (f *fakePaymentService) Ingest(ctx context.Context, provider string, payload []byte, headers http.Header) error {
	f.calls++
	_ = ctx
	_ = provider
	_ = payload
	_ = headers
	return f.err
}

func (f *fakePaymentService) ProcessEvent(ctx context.Context, event *paymentdomain.Event) error {
	_ = ctx
	_ = event
	return f.err
}

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	return router
}

func TestGetBalanceReturnsLedgerView(t *testing.T) {
	srv := &Server{
		ledgerSvc: &fakeLedgerService{
			balance: ledgerdomain.Balance{
				CreditsCents:          1000,
				PendingDeductionCents: 300,
				AvailableCents:        700,
			},
		},
	}

	router := newTestRouter()
	router.GET("/api/accounts/:id/balance", srv.GetBalance)

	req := httptest.NewRequest(http.MethodGet, "/api/accounts/42/balance", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var body struct {
		Data ledgerdomain.Balance `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Data.AvailableCents != 700 {
		t.Fatalf("expected available 700, got %d", body.Data.AvailableCents)
	}
}

func TestGetBalanceRejectsInvalidAccountID(t *testing.T) {
	srv := &Server{ledgerSvc: &fakeLedgerService{}}

	router := newTestRouter()
	router.GET("/api/accounts/:id/balance", srv.GetBalance)

	req := httptest.NewRequest(http.MethodGet, "/api/accounts/not-a-number/balance", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestGetBalanceUnknownAccountReturns404(t *testing.T) {
	srv := &Server{
		ledgerSvc: &fakeLedgerService{err: ledgerdomain.ErrAccountNotFound},
	}

	router := newTestRouter()
	router.GET("/api/accounts/:id/balance", srv.GetBalance)

	req := httptest.NewRequest(http.MethodGet, "/api/accounts/42/balance", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}
}

func TestSubmitJobInsufficientCreditsReturns402(t *testing.T) {
	jobSvc := &fakeJobService{
		err: &ledgerdomain.InsufficientCreditsError{
			AccountID:      snowflake.ID(42),
			RequiredCents:  500,
			AvailableCents: 200,
		},
	}
	srv := &Server{jobSvc: jobSvc}

	router := newTestRouter()
	router.POST("/api/jobs", srv.SubmitJob)

	payload := `{"account_id":"42","kind":"transcription","title":"standup","duration_seconds":3600}`
	req := httptest.NewRequest(http.MethodPost, "/api/jobs", bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusPaymentRequired {
		t.Fatalf("expected status 402, got %d: %s", resp.Code, resp.Body.String())
	}

	var body errorResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Error.Type != "insufficient_credits" {
		t.Fatalf("expected insufficient_credits error, got %q", body.Error.Type)
	}
	if body.Error.Detail["shortfall_cents"] != float64(300) {
		t.Fatalf("expected shortfall 300, got %v", body.Error.Detail["shortfall_cents"])
	}
}

func TestSubmitJobRejectsMalformedBody(t *testing.T) {
	jobSvc := &fakeJobService{}
	srv := &Server{jobSvc: jobSvc}

	router := newTestRouter()
	router.POST("/api/jobs", srv.SubmitJob)

	req := httptest.NewRequest(http.MethodPost, "/api/jobs", bytes.NewBufferString(`{not json`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
	if jobSvc.calls != 0 {
		t.Fatal("expected job service not to be called")
	}
}

func TestRedeemPromoConflictReturns409(t *testing.T) {
	srv := &Server{
		promoSvc: &fakePromoService{err: promodomain.ErrAlreadyRedeemed},
	}

	router := newTestRouter()
	router.POST("/api/promo/redeem", srv.RedeemPromo)

	payload := `{"account_id":"42","code":"LAUNCH50"}`
	req := httptest.NewRequest(http.MethodPost, "/api/promo/redeem", bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
}

func TestPaymentWebhookBadSignatureReturns401(t *testing.T) {
	srv := &Server{
		paymentSvc: &fakePaymentService{err: paymentdomain.ErrInvalidSignature},
	}

	router := newTestRouter()
	router.POST("/webhooks/payments/:provider", srv.HandlePaymentWebhook)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/stripe", bytes.NewBufferString(`{}`))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", resp.Code)
	}
}

func TestSubmitRateLimitDeniesBeyondBurst(t *testing.T) {
	limiter, err := ratelimit.NewRequestLimiter(config.Config{
		RateLimitEnabled: true,
		SubmitRate:       0.001,
		SubmitBurst:      1,
		WebhookRate:      1,
		WebhookBurst:     1,
	})
	if err != nil {
		t.Fatalf("NewRequestLimiter: %v", err)
	}

	jobSvc := &fakeJobService{job: jobdomain.Job{ID: snowflake.ID(7)}}
	srv := &Server{jobSvc: jobSvc, limiter: limiter}

	router := newTestRouter()
	router.POST("/api/jobs", srv.SubmitRateLimit(), srv.SubmitJob)

	payload := `{"account_id":"42","kind":"transcription","title":"standup","duration_seconds":3600}`
	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
		req := httptest.NewRequest(http.MethodPost, "/api/jobs", bytes.NewBufferString(payload))
		req.Header.Set("Content-Type", "application/json")
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)

		if resp.Code != want {
			t.Fatalf("request %d: expected status %d, got %d: %s", i, want, resp.Code, resp.Body.String())
		}
	}
	if jobSvc.calls != 1 {
		t.Fatalf("expected one submit call, got %d", jobSvc.calls)
	}
}

func TestPaymentWebhookAcknowledgesSuccess(t *testing.T) {
	paymentSvc := &fakePaymentService{}
	srv := &Server{paymentSvc: paymentSvc}

	router := newTestRouter()
	router.POST("/webhooks/payments/:provider", srv.HandlePaymentWebhook)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/stripe", bytes.NewBufferString(`{"id":"evt_1"}`))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if paymentSvc.calls != 1 {
		t.Fatalf("expected one ingest call, got %d", paymentSvc.calls)
	}
}
