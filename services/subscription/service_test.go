package subscription

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"paylane/config"
	ledgerRepo "paylane/database/repository/ledger"
	subRepo "paylane/database/repository/subscription"
	txnRepo "paylane/database/repository/transaction"
	"paylane/models"
	"paylane/services/processor"

	"go.uber.org/zap"
)

func init() {
	config.AppConfig = config.Config{
		RegionalRegions:      []string{"KE", "TZ", "UG", "NG", "GH"},
		TrialGraceDays:       3,
		TrialCancelGraceDays: 7,
	}
}

// --- in-memory fakes ---

type memSubs struct {
	mu   sync.Mutex
	rows map[string]*models.Subscription
}

func newMemSubs() *memSubs { return &memSubs{rows: map[string]*models.Subscription{}} }

func (m *memSubs) Create(ctx context.Context, sub *models.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sub
	m.rows[sub.ID] = &cp
	return nil
}

func (m *memSubs) GetByID(ctx context.Context, id string) (*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok {
		return nil, subRepo.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memSubs) UpdateStatus(ctx context.Context, id string, expectVersion int64, status models.SubscriptionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok {
		return subRepo.ErrNotFound
	}
	if s.Version != expectVersion {
		return subRepo.ErrStaleVersion
	}
	s.Status = status
	s.Version++
	return nil
}

func (m *memSubs) FindTrialingEnded(ctx context.Context, at time.Time, limit int64) ([]models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Subscription
	for _, s := range m.rows {
		if s.Status == models.SubTrialing && s.TrialEnd != nil && !s.TrialEnd.After(at) {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memSubs) FindPastDue(ctx context.Context, at time.Time, limit int64) ([]models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Subscription
	for _, s := range m.rows {
		if s.Status == models.SubPastDue && s.TrialEnd != nil && !s.TrialEnd.After(at) {
			out = append(out, *s)
		}
	}
	return out, nil
}

type memTxns struct {
	txnRepo.TransactionRepository
	mu   sync.Mutex
	rows map[string]*models.PaymentTransaction
}

func newMemTxns() *memTxns { return &memTxns{rows: map[string]*models.PaymentTransaction{}} }

func (m *memTxns) Create(ctx context.Context, txn *models.PaymentTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *txn
	m.rows[txn.ID] = &cp
	return nil
}

func (m *memTxns) SetProcessorRef(ctx context.Context, id, ref, clientActionToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.rows[id]
	if !ok {
		return txnRepo.ErrNotFound
	}
	t.ProcessorRef = ref
	t.ClientActionToken = clientActionToken
	return nil
}

func (m *memTxns) MarkVerified(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.rows[id]
	if !ok {
		return txnRepo.ErrNotFound
	}
	if t.Status != models.TxnInitiated {
		return txnRepo.ErrAlreadyTerminal
	}
	t.Status = models.TxnVerified
	return nil
}

func (m *memTxns) MarkFailed(ctx context.Context, id, failureCode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.rows[id]
	if !ok {
		return txnRepo.ErrNotFound
	}
	if t.Status != models.TxnInitiated {
		return txnRepo.ErrAlreadyTerminal
	}
	t.Status = models.TxnFailed
	t.FailureCode = failureCode
	return nil
}

func (m *memTxns) HasVerifiedStage(ctx context.Context, ownerID string, stage models.ChargeStage) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.rows {
		if t.OwnerID == ownerID && t.Stage == stage && t.Status == models.TxnVerified {
			return true, nil
		}
	}
	return false, nil
}

func (m *memTxns) byOwner(ownerID string) []*models.PaymentTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.PaymentTransaction
	for _, t := range m.rows {
		if t.OwnerID == ownerID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out
}

type memLedger struct {
	mu   sync.Mutex
	rows map[string]string
}

func newMemLedger() *memLedger { return &memLedger{rows: map[string]string{}} }

func (m *memLedger) Reserve(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[key]; ok {
		return ledgerRepo.ErrDuplicateKey
	}
	m.rows[key] = ""
	return nil
}

func (m *memLedger) Get(ctx context.Context, key string) (*models.IdempotencyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	outcome, ok := m.rows[key]
	if !ok {
		return nil, ledgerRepo.ErrNotFound
	}
	return &models.IdempotencyRecord{Key: key, Outcome: outcome}, nil
}

func (m *memLedger) SetOutcome(ctx context.Context, key, outcome string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rows[key] == "" {
		m.rows[key] = outcome
	}
	return nil
}

func (m *memLedger) Release(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, key)
	return nil
}

func (m *memLedger) Prune(ctx context.Context, cutoff time.Time) (int64, error) { return 0, nil }

type fakeProc struct {
	name        string
	chargeCalls int
	verify      *processor.VerifyResult
}

func (f *fakeProc) Name() string { return f.name }

func (f *fakeProc) InitiateCharge(ctx context.Context, req processor.ChargeRequest) (*processor.ChargeResult, error) {
	f.chargeCalls++
	return &processor.ChargeResult{TransactionRef: "ref-" + req.IdempotencyKey}, nil
}

func (f *fakeProc) VerifyTransaction(ctx context.Context, ref string) (*processor.VerifyResult, error) {
	if f.verify != nil {
		return f.verify, nil
	}
	return &processor.VerifyResult{Status: processor.VerifyPending}, nil
}

func (f *fakeProc) VerifyRefund(ctx context.Context, ref string) (*processor.VerifyResult, error) {
	return f.VerifyTransaction(ctx, ref)
}

func (f *fakeProc) InitiateRefund(ctx context.Context, req processor.RefundRequest) (*processor.RefundResult, error) {
	return &processor.RefundResult{RefundRef: "rr"}, nil
}

func (f *fakeProc) VerifyWebhookAuthenticity(payload []byte, headers http.Header, sourceIP string) bool {
	return true
}

func (f *fakeProc) ParseWebhookEvent(payload []byte) (*models.NormalizedEvent, error) {
	return nil, processor.ErrIgnoredEvent
}

func newSubService(proc *fakeProc) (*DefaultSubscriptionService, *memSubs, *memTxns) {
	subs := newMemSubs()
	txns := newMemTxns()
	svc := &DefaultSubscriptionService{
		Repo:       subs,
		Txns:       txns,
		Ledger:     newMemLedger(),
		Registry:   processor.NewRegistryWith([]string{"KE", "TZ", "UG", "NG", "GH"}, proc),
		Logger:     zap.NewNop(),
		MaxRetries: 1,
		Backoff:    time.Millisecond,
		Timeout:    time.Second,
	}
	return svc, subs, txns
}

// --- tests ---

func TestOnboardTrialTierSkipsPayment(t *testing.T) {
	proc := &fakeProc{name: "stripe"}
	svc, _, _ := newSubService(proc)
	ctx := context.Background()

	sub, err := svc.Onboard(ctx, OnboardRequest{
		SubscriptionID: "sub-1", CustomerRef: "cus-1", Tier: "starter",
		Region: "US", Currency: "usd", Amount: 2900,
	})
	if err != nil {
		t.Fatalf("Onboard: %v", err)
	}
	if sub.Status != models.SubTrialing {
		t.Fatalf("status = %s, want trialing", sub.Status)
	}
	if sub.TrialEnd == nil || sub.TrialDurationDays != 30 {
		t.Fatalf("trial window not recorded: end=%v days=%d", sub.TrialEnd, sub.TrialDurationDays)
	}
	want := time.Now().AddDate(0, 0, 30)
	if d := sub.TrialEnd.Sub(want); d < -time.Minute || d > time.Minute {
		t.Errorf("trial end = %v, want ~%v", sub.TrialEnd, want)
	}
	if proc.chargeCalls != 0 {
		t.Errorf("trial onboarding called the processor %d times", proc.chargeCalls)
	}
}

func TestOnboardRegionalProTierGetsLongerTrial(t *testing.T) {
	proc := &fakeProc{name: "stripe"}
	svc, _, _ := newSubService(proc)
	ctx := context.Background()

	sub, err := svc.Onboard(ctx, OnboardRequest{
		SubscriptionID: "sub-ke", CustomerRef: "cus", Tier: "pro",
		Region: "KE", Currency: "kes", Amount: 250000,
	})
	if err != nil {
		t.Fatalf("Onboard: %v", err)
	}
	if sub.TrialDurationDays != 60 {
		t.Errorf("regional pro trial = %d days, want 60", sub.TrialDurationDays)
	}
}

func TestOnboardNoTrialTierRequiresVerifiedPayment(t *testing.T) {
	proc := &fakeProc{name: "stripe"}
	svc, _, txns := newSubService(proc)
	ctx := context.Background()

	_, err := svc.Onboard(ctx, OnboardRequest{
		SubscriptionID: "sub-2", CustomerRef: "cus-2", Tier: "premium",
		Region: "US", Currency: "usd", Amount: 9900,
	})
	if !errors.Is(err, processor.ErrInvalidRequest) {
		t.Fatalf("missing payment ref: error = %v, want ErrInvalidRequest", err)
	}

	proc.verify = &processor.VerifyResult{Status: processor.VerifySucceeded, Amount: 9900, Currency: "usd"}
	sub, err := svc.Onboard(ctx, OnboardRequest{
		SubscriptionID: "sub-2", CustomerRef: "cus-2", Tier: "premium",
		Region: "US", Currency: "usd", Amount: 9900,
		PaymentTransactionRef: "pi_123",
	})
	if err != nil {
		t.Fatalf("Onboard with verified payment: %v", err)
	}
	if sub.Status != models.SubActive {
		t.Errorf("status = %s, want active", sub.Status)
	}
	recorded := txns.byOwner("sub-2")
	if len(recorded) != 1 || recorded[0].Status != models.TxnVerified {
		t.Errorf("onboarding charge not recorded as verified")
	}
}

func TestSweepInitiatesTrialEndChargeOnce(t *testing.T) {
	proc := &fakeProc{name: "stripe"}
	svc, subs, txns := newSubService(proc)
	ctx := context.Background()
	now := time.Now()

	end := now.Add(-time.Hour)
	_ = subs.Create(ctx, &models.Subscription{
		ID: "sub-3", CustomerRef: "cus-3", Tier: "starter", Region: "US",
		Currency: "usd", Amount: 2900, Processor: "stripe",
		TrialEnabled: true, TrialDurationDays: 30, TrialEnd: &end,
		Status: models.SubTrialing,
	})

	if err := svc.SweepTrials(ctx, now); err != nil {
		t.Fatalf("SweepTrials: %v", err)
	}
	if proc.chargeCalls != 1 {
		t.Fatalf("charge calls = %d, want 1", proc.chargeCalls)
	}
	recorded := txns.byOwner("sub-3")
	if len(recorded) != 1 || recorded[0].Stage != models.StageSubscription {
		t.Fatalf("trial-end charge not recorded")
	}
	if recorded[0].Amount != 2900 {
		t.Errorf("charge amount = %d, want 2900", recorded[0].Amount)
	}

	// A second sweep over the same still-trialing subscription does not
	// initiate a second charge.
	if err := svc.SweepTrials(ctx, now.Add(time.Minute)); err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if proc.chargeCalls != 1 {
		t.Errorf("second sweep initiated another charge")
	}
}

func TestSweepActivatesChargedSubscription(t *testing.T) {
	proc := &fakeProc{name: "stripe"}
	svc, subs, txns := newSubService(proc)
	ctx := context.Background()
	now := time.Now()

	end := now.Add(-time.Hour)
	_ = subs.Create(ctx, &models.Subscription{
		ID: "sub-4", Tier: "starter", Region: "US", Currency: "usd", Amount: 2900,
		Processor: "stripe", TrialEnabled: true, TrialEnd: &end,
		Status: models.SubTrialing,
	})
	_ = txns.Create(ctx, &models.PaymentTransaction{
		ID: "tx-sub4", OwnerType: models.OwnerSubscription, OwnerID: "sub-4",
		Stage: models.StageSubscription, Amount: 2900, Status: models.TxnVerified,
	})

	if err := svc.SweepTrials(ctx, now); err != nil {
		t.Fatalf("SweepTrials: %v", err)
	}
	sub, _ := subs.GetByID(ctx, "sub-4")
	if sub.Status != models.SubActive {
		t.Errorf("status = %s, want active", sub.Status)
	}
	if proc.chargeCalls != 0 {
		t.Errorf("already-charged subscription was charged again")
	}
}

func TestSweepMovesUnpaidPastGraceToPastDue(t *testing.T) {
	proc := &fakeProc{name: "stripe"}
	svc, subs, _ := newSubService(proc)
	ctx := context.Background()
	now := time.Now()

	// Trial ended beyond the grace window (3 days in test config).
	end := now.AddDate(0, 0, -4)
	_ = subs.Create(ctx, &models.Subscription{
		ID: "sub-5", Tier: "starter", Region: "US", Currency: "usd", Amount: 2900,
		Processor: "stripe", TrialEnabled: true, TrialEnd: &end,
		Status: models.SubTrialing,
	})

	if err := svc.SweepTrials(ctx, now); err != nil {
		t.Fatalf("SweepTrials: %v", err)
	}
	sub, _ := subs.GetByID(ctx, "sub-5")
	if sub.Status != models.SubPastDue {
		t.Errorf("status = %s, want past_due", sub.Status)
	}
}

func TestSweepCancelsLongOverdueSubscription(t *testing.T) {
	proc := &fakeProc{name: "stripe"}
	svc, subs, _ := newSubService(proc)
	ctx := context.Background()
	now := time.Now()

	// Past both windows: 3 grace + 7 cancel grace.
	end := now.AddDate(0, 0, -11)
	_ = subs.Create(ctx, &models.Subscription{
		ID: "sub-6", Tier: "starter", Region: "US", Currency: "usd", Amount: 2900,
		Processor: "stripe", TrialEnabled: true, TrialEnd: &end,
		Status: models.SubPastDue,
	})

	if err := svc.SweepTrials(ctx, now); err != nil {
		t.Fatalf("SweepTrials: %v", err)
	}
	sub, _ := subs.GetByID(ctx, "sub-6")
	if sub.Status != models.SubCanceled {
		t.Errorf("status = %s, want canceled", sub.Status)
	}
}

func TestApplyChargeEventActivatesTrial(t *testing.T) {
	proc := &fakeProc{name: "stripe"}
	svc, subs, txns := newSubService(proc)
	ctx := context.Background()

	end := time.Now().Add(-time.Hour)
	_ = subs.Create(ctx, &models.Subscription{
		ID: "sub-7", Tier: "starter", Region: "US", Currency: "usd", Amount: 2900,
		Processor: "stripe", TrialEnabled: true, TrialEnd: &end,
		Status: models.SubTrialing,
	})
	txn := &models.PaymentTransaction{
		ID: "tx-sub7", OwnerType: models.OwnerSubscription, OwnerID: "sub-7",
		Stage: models.StageSubscription, Amount: 2900, Status: models.TxnInitiated,
		ProcessorRef: "ref-sub7",
	}
	_ = txns.Create(ctx, txn)

	ev := models.NormalizedEvent{Type: models.EventChargeSucceeded, EntityRef: "ref-sub7", Amount: 2900}
	if err := svc.ApplyChargeEvent(ctx, txn, ev); err != nil {
		t.Fatalf("ApplyChargeEvent: %v", err)
	}
	sub, _ := subs.GetByID(ctx, "sub-7")
	if sub.Status != models.SubActive {
		t.Fatalf("status = %s, want active", sub.Status)
	}

	// Duplicate delivery of the same outcome is a no-op.
	if err := svc.ApplyChargeEvent(ctx, txn, ev); err != nil {
		t.Fatalf("duplicate apply: %v", err)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	proc := &fakeProc{name: "stripe"}
	svc, subs, _ := newSubService(proc)
	ctx := context.Background()

	_ = subs.Create(ctx, &models.Subscription{
		ID: "sub-8", Tier: "starter", Status: models.SubActive, Processor: "stripe",
	})

	sub, err := svc.Cancel(ctx, "sub-8")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if sub.Status != models.SubCanceled {
		t.Fatalf("status = %s, want canceled", sub.Status)
	}
	if _, err := svc.Cancel(ctx, "sub-8"); err != nil {
		t.Fatalf("second cancel: %v", err)
	}
}
