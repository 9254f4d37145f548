package refund

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	bookingRepo "paylane/database/repository/booking"
	ledgerRepo "paylane/database/repository/ledger"
	refundRepo "paylane/database/repository/refund"
	txnRepo "paylane/database/repository/transaction"
	"paylane/models"
	"paylane/services/payment"
	"paylane/services/processor"

	"go.uber.org/zap"
)

// --- in-memory fakes ---

type memBookings struct {
	mu   sync.Mutex
	rows map[string]*models.Booking
}

func (m *memBookings) Create(ctx context.Context, b *models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	m.rows[b.ID] = &cp
	return nil
}

func (m *memBookings) GetByID(ctx context.Context, id string) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.rows[id]
	if !ok {
		return nil, bookingRepo.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *memBookings) UpdatePaymentState(ctx context.Context, id string, expectVersion int64, status models.PaymentStatus, refundedAmount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.rows[id]
	if !ok {
		return bookingRepo.ErrNotFound
	}
	if b.Version != expectVersion {
		return bookingRepo.ErrStaleVersion
	}
	b.PaymentStatus = status
	b.RefundedAmount = refundedAmount
	b.Version++
	return nil
}

// memTxns only carries what the refund paths read: verified transactions.
type memTxns struct {
	txnRepo.TransactionRepository
	verified []models.PaymentTransaction
}

func (m *memTxns) SumVerifiedByOwner(ctx context.Context, ownerID string) (int64, error) {
	var sum int64
	for _, t := range m.verified {
		if t.OwnerID == ownerID {
			sum += t.Amount
		}
	}
	return sum, nil
}

func (m *memTxns) ListVerifiedByOwner(ctx context.Context, ownerID string) ([]models.PaymentTransaction, error) {
	var out []models.PaymentTransaction
	for _, t := range m.verified {
		if t.OwnerID == ownerID {
			out = append(out, t)
		}
	}
	return out, nil
}

type memRefunds struct {
	mu   sync.Mutex
	rows map[string]*models.Refund
}

func newMemRefunds() *memRefunds {
	return &memRefunds{rows: map[string]*models.Refund{}}
}

func (m *memRefunds) Create(ctx context.Context, r *models.Refund) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.rows[r.ID] = &cp
	return nil
}

func (m *memRefunds) GetByID(ctx context.Context, id string) (*models.Refund, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return nil, refundRepo.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRefunds) GetByProcessorRef(ctx context.Context, ref string) (*models.Refund, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.ProcessorRef == ref {
			cp := *r
			return &cp, nil
		}
	}
	return nil, refundRepo.ErrNotFound
}

func (m *memRefunds) ListByBooking(ctx context.Context, bookingID string) ([]models.Refund, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Refund
	for _, r := range m.rows {
		if r.BookingID == bookingID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memRefunds) ListByRequestKey(ctx context.Context, key string) ([]models.Refund, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Refund
	for _, r := range m.rows {
		if r.RequestKey == key {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memRefunds) MarkProcessing(ctx context.Context, id, processorRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return refundRepo.ErrNotFound
	}
	if r.Status != models.RefundPending {
		return refundRepo.ErrAlreadyTerminal
	}
	r.Status = models.RefundProcessing
	r.ProcessorRef = processorRef
	return nil
}

func (m *memRefunds) MarkSucceeded(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return refundRepo.ErrNotFound
	}
	if r.Status == models.RefundSucceeded || r.Status == models.RefundFailed {
		return refundRepo.ErrAlreadyTerminal
	}
	r.Status = models.RefundSucceeded
	return nil
}

func (m *memRefunds) MarkFailed(ctx context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return refundRepo.ErrNotFound
	}
	if r.Status == models.RefundSucceeded || r.Status == models.RefundFailed {
		return refundRepo.ErrAlreadyTerminal
	}
	r.Status = models.RefundFailed
	r.FailureReason = reason
	return nil
}

func (m *memRefunds) SumSucceededByBooking(ctx context.Context, bookingID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum int64
	for _, r := range m.rows {
		if r.BookingID == bookingID && r.Status == models.RefundSucceeded {
			sum += r.Amount
		}
	}
	return sum, nil
}

func (m *memRefunds) SumOpenByBooking(ctx context.Context, bookingID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum int64
	for _, r := range m.rows {
		if r.BookingID == bookingID && (r.Status == models.RefundPending || r.Status == models.RefundProcessing) {
			sum += r.Amount
		}
	}
	return sum, nil
}

func (m *memRefunds) SumActiveByTransaction(ctx context.Context, transactionRef string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum int64
	for _, r := range m.rows {
		if r.TransactionRef == transactionRef && r.Status != models.RefundFailed {
			sum += r.Amount
		}
	}
	return sum, nil
}

func (m *memRefunds) FindStaleByStatus(ctx context.Context, status models.RefundStatus, cutoff time.Time, limit int64) ([]models.Refund, error) {
	return nil, nil
}

// inflatedTxns reports a larger captured sum than its listable charges,
// the window a concurrent write opens between the two reads.
type inflatedTxns struct {
	*memTxns
	sum int64
}

func (m *inflatedTxns) SumVerifiedByOwner(ctx context.Context, ownerID string) (int64, error) {
	return m.sum, nil
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

// fakeRefundProcessor scripts refund initiations per transaction reference.
type fakeRefundProcessor struct {
	name       string
	refundErr  error
	refundSeen []processor.RefundRequest
}

func (f *fakeRefundProcessor) Name() string { return f.name }

func (f *fakeRefundProcessor) InitiateCharge(ctx context.Context, req processor.ChargeRequest) (*processor.ChargeResult, error) {
	return nil, processor.ErrInvalidRequest
}

func (f *fakeRefundProcessor) VerifyTransaction(ctx context.Context, ref string) (*processor.VerifyResult, error) {
	return &processor.VerifyResult{Status: processor.VerifyPending}, nil
}

func (f *fakeRefundProcessor) VerifyRefund(ctx context.Context, ref string) (*processor.VerifyResult, error) {
	return &processor.VerifyResult{Status: processor.VerifyPending}, nil
}

func (f *fakeRefundProcessor) InitiateRefund(ctx context.Context, req processor.RefundRequest) (*processor.RefundResult, error) {
	f.refundSeen = append(f.refundSeen, req)
	if f.refundErr != nil {
		return nil, f.refundErr
	}
	return &processor.RefundResult{RefundRef: "rr-" + req.IdempotencyKey}, nil
}

func (f *fakeRefundProcessor) VerifyWebhookAuthenticity(payload []byte, headers http.Header, sourceIP string) bool {
	return true
}

func (f *fakeRefundProcessor) ParseWebhookEvent(payload []byte) (*models.NormalizedEvent, error) {
	return nil, processor.ErrIgnoredEvent
}

// booking bk-1: two verified charges, 2000 deposit + 8000 balance.
func newRefundFixture(proc *fakeRefundProcessor) (*DefaultRefundService, *memBookings, *memRefunds) {
	bookings := &memBookings{rows: map[string]*models.Booking{}}
	refunds := newMemRefunds()
	txns := &memTxns{verified: []models.PaymentTransaction{
		{ID: "tx-dep", OwnerID: "bk-1", OwnerType: models.OwnerBooking, ProcessorRef: "ref-dep", Amount: 2000, Status: models.TxnVerified},
		{ID: "tx-bal", OwnerID: "bk-1", OwnerType: models.OwnerBooking, ProcessorRef: "ref-bal", Amount: 8000, Status: models.TxnVerified},
	}}

	_ = bookings.Create(context.Background(), &models.Booking{
		ID: "bk-1", CustomerRef: "cus-1", Region: "US", Currency: "usd",
		DepositAmount: 2000, TotalAmount: 10000,
		Processor: "stripe", PaymentStatus: models.PaymentFullyPaid,
	})

	svc := &DefaultRefundService{
		Bookings: bookings,
		Refunds:  refunds,
		Txns:     txns,
		Ledger:   newMemLedger(),
		Registry: processor.NewRegistryWith(nil, proc),
		Logger:   zap.NewNop(),

		MaxRetries: 1,
		Backoff:    time.Millisecond,
		Timeout:    time.Second,
	}
	svc.Payments = &payment.DefaultPaymentService{
		Bookings:   bookings,
		Txns:       txns,
		Refunds:    refunds,
		Ledger:     svc.Ledger,
		Registry:   svc.Registry,
		Logger:     zap.NewNop(),
		MaxRetries: 1,
		Backoff:    time.Millisecond,
		Timeout:    time.Second,
	}
	return svc, bookings, refunds
}

// --- tests ---

func TestFullRefundSpansCharges(t *testing.T) {
	proc := &fakeRefundProcessor{name: "stripe"}
	svc, bookings, _ := newRefundFixture(proc)
	ctx := context.Background()

	records, err := svc.RequestRefund(ctx, Request{
		BookingID: "bk-1", Amount: 10000, Reason: "provider cancelled", IdempotencyKey: "rk-full",
	})
	if err != nil {
		t.Fatalf("RequestRefund: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want one per captured charge (2)", len(records))
	}
	var total int64
	for _, rec := range records {
		if rec.Status != models.RefundProcessing {
			t.Errorf("record %s status = %s, want PROCESSING", rec.ID, rec.Status)
		}
		total += rec.Amount
	}
	if total != 10000 {
		t.Fatalf("allocated %d, want 10000", total)
	}

	// Both refund events arrive; the booking ends REFUNDED.
	for _, rec := range records {
		if err := svc.ApplyRefundEvent(ctx, models.NormalizedEvent{
			Type: models.EventRefundSucceeded, EntityRef: rec.ProcessorRef, Amount: rec.Amount,
		}); err != nil {
			t.Fatalf("ApplyRefundEvent: %v", err)
		}
	}
	booking, _ := bookings.GetByID(ctx, "bk-1")
	if booking.PaymentStatus != models.PaymentRefunded {
		t.Errorf("status = %s, want REFUNDED", booking.PaymentStatus)
	}
	if booking.RefundedAmount != 10000 {
		t.Errorf("refunded amount = %d, want 10000", booking.RefundedAmount)
	}
}

func TestPartialRefund(t *testing.T) {
	proc := &fakeRefundProcessor{name: "stripe"}
	svc, bookings, _ := newRefundFixture(proc)
	ctx := context.Background()

	records, err := svc.RequestRefund(ctx, Request{
		BookingID: "bk-1", Amount: 2000, IdempotencyKey: "rk-part",
	})
	if err != nil {
		t.Fatalf("RequestRefund: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}

	if err := svc.ApplyRefundEvent(ctx, models.NormalizedEvent{
		Type: models.EventRefundSucceeded, EntityRef: records[0].ProcessorRef, Amount: 2000,
	}); err != nil {
		t.Fatalf("ApplyRefundEvent: %v", err)
	}

	booking, _ := bookings.GetByID(ctx, "bk-1")
	if booking.PaymentStatus != models.PaymentPartiallyRefunded {
		t.Errorf("status = %s, want PARTIALLY_REFUNDED", booking.PaymentStatus)
	}
}

func TestRefundOverCapturedRejected(t *testing.T) {
	proc := &fakeRefundProcessor{name: "stripe"}
	svc, _, refunds := newRefundFixture(proc)
	ctx := context.Background()

	// 4000 already succeeded: only 6000 remains refundable.
	_ = refunds.Create(ctx, &models.Refund{
		ID: "r-prev", BookingID: "bk-1", TransactionRef: "ref-bal",
		Amount: 4000, Status: models.RefundSucceeded,
	})

	_, err := svc.RequestRefund(ctx, Request{
		BookingID: "bk-1", Amount: 6100, IdempotencyKey: "rk-over",
	})
	var mismatch *payment.AmountMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("error = %v, want AmountMismatchError", err)
	}
	if mismatch.Expected != 6000 {
		t.Errorf("refundable = %d, want 6000", mismatch.Expected)
	}
	if len(proc.refundSeen) != 0 {
		t.Errorf("over-ask still reached the processor")
	}
}

func TestOpenRefundsCountAgainstRefundable(t *testing.T) {
	proc := &fakeRefundProcessor{name: "stripe"}
	svc, _, _ := newRefundFixture(proc)
	ctx := context.Background()

	if _, err := svc.RequestRefund(ctx, Request{
		BookingID: "bk-1", Amount: 8000, IdempotencyKey: "rk-first",
	}); err != nil {
		t.Fatalf("first request: %v", err)
	}

	// 8000 is still PROCESSING; a further 3000 would oversubscribe.
	_, err := svc.RequestRefund(ctx, Request{
		BookingID: "bk-1", Amount: 3000, IdempotencyKey: "rk-second",
	})
	var mismatch *payment.AmountMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("error = %v, want AmountMismatchError", err)
	}
}

func TestRefundRequestReplaySameKey(t *testing.T) {
	proc := &fakeRefundProcessor{name: "stripe"}
	svc, _, _ := newRefundFixture(proc)
	ctx := context.Background()

	first, err := svc.RequestRefund(ctx, Request{
		BookingID: "bk-1", Amount: 2000, IdempotencyKey: "rk-replay",
	})
	if err != nil {
		t.Fatalf("first request: %v", err)
	}
	calls := len(proc.refundSeen)

	second, err := svc.RequestRefund(ctx, Request{
		BookingID: "bk-1", Amount: 2000, IdempotencyKey: "rk-replay",
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(second) != len(first) || second[0].ID != first[0].ID {
		t.Errorf("replay returned different records")
	}
	if len(proc.refundSeen) != calls {
		t.Errorf("replay reached the processor again")
	}
}

func TestShortAllocationRollsBackAndFreesKey(t *testing.T) {
	proc := &fakeRefundProcessor{name: "stripe"}
	svc, _, refunds := newRefundFixture(proc)
	ctx := context.Background()

	// The booking-level sum says 10000 captured, but only one 6000 charge
	// is listable: the per-transaction pass comes up short.
	svc.Txns = &inflatedTxns{
		memTxns: &memTxns{verified: []models.PaymentTransaction{
			{ID: "tx-bal", OwnerID: "bk-1", OwnerType: models.OwnerBooking, ProcessorRef: "ref-bal", Amount: 6000, Status: models.TxnVerified},
		}},
		sum: 10000,
	}

	_, err := svc.RequestRefund(ctx, Request{
		BookingID: "bk-1", Amount: 10000, IdempotencyKey: "rk-short",
	})
	if !errors.Is(err, payment.ErrConflict) {
		t.Fatalf("error = %v, want ErrConflict", err)
	}

	// No partial slice survives for the sweep to initiate, and nothing
	// reached the processor.
	open, _ := refunds.SumOpenByBooking(ctx, "bk-1")
	if open != 0 {
		t.Errorf("open refund amount = %d after failed allocation, want 0", open)
	}
	if len(proc.refundSeen) != 0 {
		t.Errorf("failed allocation still reached the processor")
	}

	// The reservation was released: a retry on the same key, sized to what
	// is actually refundable, goes through in full.
	records, err := svc.RequestRefund(ctx, Request{
		BookingID: "bk-1", Amount: 6000, IdempotencyKey: "rk-short",
	})
	if err != nil {
		t.Fatalf("retry with same key: %v", err)
	}
	if len(records) != 1 || records[0].Amount != 6000 {
		t.Fatalf("retry allocated %d records, want one 6000 slice", len(records))
	}
	if records[0].Status != models.RefundProcessing {
		t.Errorf("retry record status = %s, want PROCESSING", records[0].Status)
	}
}

func TestAlreadyRefundedTreatedAsSuccess(t *testing.T) {
	proc := &fakeRefundProcessor{name: "stripe", refundErr: processor.ErrAlreadyRefunded}
	svc, bookings, _ := newRefundFixture(proc)
	ctx := context.Background()

	records, err := svc.RequestRefund(ctx, Request{
		BookingID: "bk-1", Amount: 2000, IdempotencyKey: "rk-already",
	})
	if err != nil {
		t.Fatalf("RequestRefund: %v", err)
	}
	if records[0].Status != models.RefundSucceeded {
		t.Fatalf("status = %s, want SUCCEEDED", records[0].Status)
	}

	booking, _ := bookings.GetByID(ctx, "bk-1")
	if booking.PaymentStatus != models.PaymentPartiallyRefunded {
		t.Errorf("status = %s, want PARTIALLY_REFUNDED", booking.PaymentStatus)
	}
}

func TestUnavailableLeavesPendingForSweep(t *testing.T) {
	proc := &fakeRefundProcessor{name: "stripe", refundErr: processor.ErrUnavailable}
	svc, _, refunds := newRefundFixture(proc)
	ctx := context.Background()

	records, err := svc.RequestRefund(ctx, Request{
		BookingID: "bk-1", Amount: 2000, IdempotencyKey: "rk-unavail",
	})
	if err != nil {
		t.Fatalf("RequestRefund: %v", err)
	}
	if records[0].Status != models.RefundPending {
		t.Fatalf("status = %s, want PENDING", records[0].Status)
	}

	// The sweep later re-drives it; the processor has recovered.
	proc.refundErr = nil
	if err := svc.RetryPending(ctx, records[0].ID); err != nil {
		t.Fatalf("RetryPending: %v", err)
	}
	rec, _ := refunds.GetByID(ctx, records[0].ID)
	if rec.Status != models.RefundProcessing {
		t.Errorf("after retry status = %s, want PROCESSING", rec.Status)
	}
	// Both attempts used the record-derived idempotency key.
	if len(proc.refundSeen) != 2 || proc.refundSeen[0].IdempotencyKey != proc.refundSeen[1].IdempotencyKey {
		t.Errorf("retry did not reuse the idempotency key")
	}
}

func TestDeclinedRefundMarksFailed(t *testing.T) {
	proc := &fakeRefundProcessor{name: "stripe", refundErr: &processor.DeclinedError{Code: "refund_window_closed", Message: "too old"}}
	svc, _, _ := newRefundFixture(proc)
	ctx := context.Background()

	records, err := svc.RequestRefund(ctx, Request{
		BookingID: "bk-1", Amount: 2000, IdempotencyKey: "rk-dec",
	})
	if err != nil {
		t.Fatalf("RequestRefund: %v", err)
	}
	if records[0].Status != models.RefundFailed {
		t.Fatalf("status = %s, want FAILED", records[0].Status)
	}
	if records[0].FailureReason != "refund_window_closed" {
		t.Errorf("failure reason = %q", records[0].FailureReason)
	}
}

func TestDuplicateRefundEventIsNoOp(t *testing.T) {
	proc := &fakeRefundProcessor{name: "stripe"}
	svc, bookings, _ := newRefundFixture(proc)
	ctx := context.Background()

	records, err := svc.RequestRefund(ctx, Request{
		BookingID: "bk-1", Amount: 2000, IdempotencyKey: "rk-dup",
	})
	if err != nil {
		t.Fatalf("RequestRefund: %v", err)
	}

	ev := models.NormalizedEvent{Type: models.EventRefundSucceeded, EntityRef: records[0].ProcessorRef, Amount: 2000}
	if err := svc.ApplyRefundEvent(ctx, ev); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if err := svc.ApplyRefundEvent(ctx, ev); err != nil {
		t.Fatalf("second apply should be a no-op, got %v", err)
	}

	booking, _ := bookings.GetByID(ctx, "bk-1")
	if booking.RefundedAmount != 2000 {
		t.Errorf("refunded amount = %d, want 2000 after duplicate event", booking.RefundedAmount)
	}
}
