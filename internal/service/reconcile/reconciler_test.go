package reconcile

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"paywall-service/internal/domain/membership"
	"paywall-service/internal/domain/payment"
	plandomain "paywall-service/internal/domain/plan"
	"paywall-service/internal/domain/purchase"
	"paywall-service/internal/domain/user"
	"paywall-service/internal/pkg/clock"
	xerrors "paywall-service/internal/pkg/errors"
	"paywall-service/internal/service/lifecycle"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// --- fakes ---------------------------------------------------------------

type fakeTxRunner struct{ failCommit error }

func (f *fakeTxRunner) InTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	if err := fn(ctx, nil); err != nil {
		return err
	}
	return f.failCommit
}

type fakeEvents struct {
	processed map[string]bool
	audits    []*payment.AuditEntry
	auditErr  error
}

func (f *fakeEvents) MarkProcessedWithTx(_ context.Context, _ pgx.Tx, providerTxnID, _ string, _ payment.EventType) (bool, error) {
	if f.processed[providerTxnID] {
		return false, nil
	}
	f.processed[providerTxnID] = true
	return true, nil
}

func (f *fakeEvents) InsertAudit(_ context.Context, entry *payment.AuditEntry) error {
	if f.auditErr != nil {
		return f.auditErr
	}
	f.audits = append(f.audits, entry)
	return nil
}

type fakePending struct {
	rows     map[string]*purchase.PendingTransaction
	consumed []string
}

func (f *fakePending) FindPendingForUpdate(_ context.Context, _ pgx.Tx, reference string) (*purchase.PendingTransaction, error) {
	p, ok := f.rows[reference]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakePending) ConsumePendingWithTx(_ context.Context, _ pgx.Tx, reference string) error {
	delete(f.rows, reference)
	f.consumed = append(f.consumed, reference)
	return nil
}

type fakePurchases struct {
	records []*purchase.Record
	insErr  error
}

func (f *fakePurchases) InsertWithTx(_ context.Context, _ pgx.Tx, rec *purchase.Record) error {
	if f.insErr != nil {
		return f.insErr
	}
	for _, existing := range f.records {
		if existing.UserID == rec.UserID && existing.ContentID == rec.ContentID {
			return xerrors.ErrDuplicateEvent
		}
	}
	f.records = append(f.records, rec)
	return nil
}

type fakeMembers struct {
	byUser    map[int64]*membership.Record
	updateErr error
}

func (f *fakeMembers) FindByUserForUpdate(_ context.Context, _ pgx.Tx, userID int64) (*membership.Record, error) {
	rec, ok := f.byUser[userID]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeMembers) FindByReferenceForUpdate(_ context.Context, _ pgx.Tx, reference, subscriptionID string) (*membership.Record, error) {
	for _, rec := range f.byUser {
		if (rec.CheckoutReference.Valid && rec.CheckoutReference.String == reference) ||
			(subscriptionID != "" && rec.ProviderSubscriptionID.Valid && rec.ProviderSubscriptionID.String == subscriptionID) {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, xerrors.ErrNotFound
}

func (f *fakeMembers) UpdateWithTx(_ context.Context, _ pgx.Tx, rec *membership.Record) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	rec.Version++
	cp := *rec
	f.byUser[rec.UserID] = &cp
	return nil
}

type fakePlans struct{ byID map[int64]*plandomain.Plan }

func (f *fakePlans) FindByID(_ context.Context, id int64) (*plandomain.Plan, error) {
	p, ok := f.byID[id]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return p, nil
}

type fakeUsers struct{ byID map[int64]*user.User }

func (f *fakeUsers) FindByID(_ context.Context, id int64) (*user.User, error) {
	u, ok := f.byID[id]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return u, nil
}

type fakeBlacklist struct{ contacts []string }

func (f *fakeBlacklist) AddWithTx(_ context.Context, _ pgx.Tx, contact, _ string) error {
	f.contacts = append(f.contacts, contact)
	return nil
}

type promoUse struct {
	code   string
	userID int64
	planID int64
}

type fakePromos struct{ uses []promoUse }

func (f *fakePromos) RecordUsage(_ context.Context, _ pgx.Tx, code string, userID, planID int64, _ string, _ time.Time) error {
	f.uses = append(f.uses, promoUse{code: code, userID: userID, planID: planID})
	return nil
}

type fakeLocker struct{}

func (fakeLocker) Acquire(context.Context, string) (func(), error) { return func() {}, nil }

type notice struct{ reference, status string }

type fakeNotifier struct{ notes []notice }

func (f *fakeNotifier) Notify(reference, status string) {
	f.notes = append(f.notes, notice{reference, status})
}

// --- fixture -------------------------------------------------------------

type fixture struct {
	db        *fakeTxRunner
	events    *fakeEvents
	pending   *fakePending
	purchases *fakePurchases
	members   *fakeMembers
	plans     *fakePlans
	users     *fakeUsers
	blacklist *fakeBlacklist
	promos    *fakePromos
	notifier  *fakeNotifier
	rec       *Reconciler
}

func newFixture() *fixture {
	f := &fixture{
		db:        &fakeTxRunner{},
		events:    &fakeEvents{processed: map[string]bool{}},
		pending:   &fakePending{rows: map[string]*purchase.PendingTransaction{}},
		purchases: &fakePurchases{},
		members:   &fakeMembers{byUser: map[int64]*membership.Record{}},
		plans: &fakePlans{byID: map[int64]*plandomain.Plan{
			1: {ID: 1, Code: "monthly", Name: "Monthly", Price: 9.99, Currency: "USD", PeriodDays: 30},
		}},
		users: &fakeUsers{byID: map[int64]*user.User{
			7: {ID: 7, Email: "member@example.com"},
		}},
		blacklist: &fakeBlacklist{},
		promos:    &fakePromos{},
		notifier:  &fakeNotifier{},
	}
	f.rec = NewReconciler(Deps{
		DB:        f.db,
		Events:    f.events,
		Pending:   f.pending,
		Purchases: f.purchases,
		Members:   f.members,
		Plans:     f.plans,
		Users:     f.users,
		Blacklist: f.blacklist,
		Promos:    f.promos,
		Lifecycle: lifecycle.NewManager(3),
		Locker:    fakeLocker{},
		Notifier:  f.notifier,
		Verify:    func(_ []byte, signature string) bool { return signature == "good" },
		Clock:     clock.Fixed(testNow),
		Logger:    zap.NewNop(),
	})
	return f
}

func (f *fixture) seedActiveMember(userID int64, reference, subID string) {
	f.members.byUser[userID] = &membership.Record{
		UserID:                 userID,
		Status:                 membership.StatusActive,
		PlanID:                 sql.NullInt64{Int64: 1, Valid: true},
		ProviderSubscriptionID: sql.NullString{String: subID, Valid: subID != ""},
		CheckoutReference:      sql.NullString{String: reference, Valid: reference != ""},
		NextRebillAt:           sql.NullTime{Time: testNow.AddDate(0, 0, 10), Valid: true},
		StartedAt:              sql.NullTime{Time: testNow.AddDate(0, -2, 0), Valid: true},
	}
}

func eventBody(t *testing.T, ev payment.Event) []byte {
	t.Helper()
	raw, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

// --- tests ---------------------------------------------------------------

func TestHandleRejectsBadSignature(t *testing.T) {
	f := newFixture()
	err := f.rec.Handle(context.Background(), []byte(`{}`), "bad")
	if !errors.Is(err, xerrors.ErrAuthenticity) {
		t.Fatalf("err = %v, want ErrAuthenticity", err)
	}
	if len(f.events.audits) != 0 {
		t.Fatal("unauthentic payloads must not be audited as events")
	}
}

func TestHandleMalformedPayloadAuditedAndAcked(t *testing.T) {
	f := newFixture()
	err := f.rec.Handle(context.Background(), []byte(`{"event_type":"initial"}`), "good")
	if err != nil {
		t.Fatalf("malformed authentic payload must be acked, got %v", err)
	}
	if len(f.events.audits) != 1 {
		t.Fatalf("audits = %d, want 1", len(f.events.audits))
	}
}

func TestInitialActivatesSubscription(t *testing.T) {
	f := newFixture()
	f.members.byUser[7] = &membership.Record{UserID: 7, Status: membership.StatusNone}
	f.pending.rows["PAY-1"] = &purchase.PendingTransaction{
		Reference:      "PAY-1",
		UserID:         7,
		PlanID:         sql.NullInt64{Int64: 1, Valid: true},
		PromoCode:      sql.NullString{String: "SPRING20", Valid: true},
		ExpectedAmount: 9.99,
		Currency:       "USD",
		Status:         purchase.PendingStatusPending,
	}

	body := eventBody(t, payment.Event{
		Reference: "PAY-1", Type: payment.EventInitial,
		ProviderTransactionID: "txn-1", Amount: 9.99, Currency: "USD",
		SubscriptionID: "sub-1",
	})
	if err := f.rec.Handle(context.Background(), body, "good"); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	rec := f.members.byUser[7]
	if rec.Status != membership.StatusActive {
		t.Fatalf("status = %s, want active", rec.Status)
	}
	wantRebill := testNow.AddDate(0, 0, 30)
	if !rec.NextRebillAt.Valid || !rec.NextRebillAt.Time.Equal(wantRebill) {
		t.Fatalf("next_rebill_at = %+v, want %s", rec.NextRebillAt, wantRebill)
	}
	if len(f.pending.consumed) != 1 || f.pending.consumed[0] != "PAY-1" {
		t.Fatalf("pending not consumed: %v", f.pending.consumed)
	}
	if len(f.promos.uses) != 1 || f.promos.uses[0].code != "SPRING20" || f.promos.uses[0].planID != 1 {
		t.Fatalf("promo usage = %+v", f.promos.uses)
	}
	if len(f.notifier.notes) != 1 || f.notifier.notes[0] != (notice{"PAY-1", "confirmed"}) {
		t.Fatalf("notifications = %+v", f.notifier.notes)
	}
}

func TestInitialRecordsPurchase(t *testing.T) {
	f := newFixture()
	f.pending.rows["PAY-2"] = &purchase.PendingTransaction{
		Reference:      "PAY-2",
		UserID:         7,
		ContentID:      sql.NullInt64{Int64: 42, Valid: true},
		ExpectedAmount: 5.00,
		Currency:       "USD",
		Status:         purchase.PendingStatusPending,
	}

	body := eventBody(t, payment.Event{
		Reference: "PAY-2", Type: payment.EventInitial,
		ProviderTransactionID: "txn-2", Amount: 5.00, Currency: "USD",
	})
	if err := f.rec.Handle(context.Background(), body, "good"); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if len(f.purchases.records) != 1 {
		t.Fatalf("purchases = %d, want 1", len(f.purchases.records))
	}
	got := f.purchases.records[0]
	if got.UserID != 7 || got.ContentID != 42 || got.AmountPaid != 5.00 {
		t.Fatalf("purchase = %+v", got)
	}
	if len(f.pending.consumed) != 1 {
		t.Fatal("pending transaction not consumed")
	}
}

func TestDuplicateDeliveryIsNoOp(t *testing.T) {
	f := newFixture()
	f.members.byUser[7] = &membership.Record{UserID: 7, Status: membership.StatusNone}
	f.pending.rows["PAY-1"] = &purchase.PendingTransaction{
		Reference: "PAY-1", UserID: 7,
		PlanID: sql.NullInt64{Int64: 1, Valid: true},
		Status: purchase.PendingStatusPending,
	}

	body := eventBody(t, payment.Event{
		Reference: "PAY-1", Type: payment.EventInitial,
		ProviderTransactionID: "txn-1", SubscriptionID: "sub-1",
	})
	if err := f.rec.Handle(context.Background(), body, "good"); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	version := f.members.byUser[7].Version

	if err := f.rec.Handle(context.Background(), body, "good"); err != nil {
		t.Fatalf("redelivery must be acked, got %v", err)
	}
	if f.members.byUser[7].Version != version {
		t.Fatal("redelivery mutated the membership")
	}
	if len(f.pending.consumed) != 1 {
		t.Fatalf("pending consumed %d times", len(f.pending.consumed))
	}
	if len(f.events.audits) != 0 {
		t.Fatal("duplicate acknowledgment must not be audited")
	}
}

func TestDistinctTxnIDsCannotDoubleGrant(t *testing.T) {
	// Two initial events for the same purchase under different provider
	// transaction ids: the second passes the idempotency claim but finds
	// the pending row already consumed.
	f := newFixture()
	f.pending.rows["PAY-2"] = &purchase.PendingTransaction{
		Reference: "PAY-2", UserID: 7,
		ContentID: sql.NullInt64{Int64: 42, Valid: true},
		Status:    purchase.PendingStatusPending,
	}

	first := eventBody(t, payment.Event{
		Reference: "PAY-2", Type: payment.EventInitial, ProviderTransactionID: "txn-a",
	})
	second := eventBody(t, payment.Event{
		Reference: "PAY-2", Type: payment.EventInitial, ProviderTransactionID: "txn-b",
	})

	if err := f.rec.Handle(context.Background(), first, "good"); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := f.rec.Handle(context.Background(), second, "good"); err != nil {
		t.Fatalf("second must be audited and acked, got %v", err)
	}
	if len(f.purchases.records) != 1 {
		t.Fatalf("purchases = %d, want exactly 1", len(f.purchases.records))
	}
	if len(f.events.audits) != 1 {
		t.Fatalf("audits = %d, want 1", len(f.events.audits))
	}
}

func TestInitialForOwnedContentAuditedAndConsumed(t *testing.T) {
	// A confirmed payment for content the user already owns must leave a
	// review record and retire the pending row, not vanish.
	f := newFixture()
	f.purchases.records = append(f.purchases.records, &purchase.Record{
		UserID: 7, ContentID: 42, ProviderTransactionID: "txn-old",
	})
	f.pending.rows["PAY-9"] = &purchase.PendingTransaction{
		Reference: "PAY-9", UserID: 7,
		ContentID: sql.NullInt64{Int64: 42, Valid: true},
		Status:    purchase.PendingStatusPending,
	}

	body := eventBody(t, payment.Event{
		Reference: "PAY-9", Type: payment.EventInitial, ProviderTransactionID: "txn-own",
	})
	if err := f.rec.Handle(context.Background(), body, "good"); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if len(f.purchases.records) != 1 {
		t.Fatalf("purchases = %d, want the original 1 only", len(f.purchases.records))
	}
	if len(f.events.audits) != 1 {
		t.Fatalf("audits = %d, want 1", len(f.events.audits))
	}
	if len(f.pending.consumed) != 1 || f.pending.consumed[0] != "PAY-9" {
		t.Fatalf("pending consumed = %v, want [PAY-9]", f.pending.consumed)
	}
	if !f.events.processed["txn-own"] {
		t.Fatal("idempotency claim must commit with the consumption")
	}
}

func TestAuditWriteFailureTriggersRetry(t *testing.T) {
	// When the review record cannot be written there is nothing durable
	// yet, so the delivery must not be acknowledged.
	f := newFixture()
	f.events.auditErr = errors.New("disk full")

	body := eventBody(t, payment.Event{
		Reference: "PAY-GHOST", Type: payment.EventCancel, ProviderTransactionID: "txn-g1",
	})
	if err := f.rec.Handle(context.Background(), body, "good"); err == nil {
		t.Fatal("unknown reference with failing audit store must not be acked")
	}

	if err := f.rec.Handle(context.Background(), []byte(`{"event_type":"initial"}`), "good"); err == nil {
		t.Fatal("malformed payload with failing audit store must not be acked")
	}
}

func TestUnknownReferenceAuditedAndAcked(t *testing.T) {
	f := newFixture()
	for _, typ := range []payment.EventType{payment.EventInitial, payment.EventRebill, payment.EventCancel} {
		body := eventBody(t, payment.Event{
			Reference: "PAY-GHOST", Type: typ,
			ProviderTransactionID: fmt.Sprintf("txn-%s", typ),
		})
		if err := f.rec.Handle(context.Background(), body, "good"); err != nil {
			t.Fatalf("%s for unknown reference must be acked, got %v", typ, err)
		}
	}
	if len(f.events.audits) != 3 {
		t.Fatalf("audits = %d, want 3", len(f.events.audits))
	}
}

func TestExpiredPendingIsAudited(t *testing.T) {
	f := newFixture()
	f.pending.rows["PAY-OLD"] = &purchase.PendingTransaction{
		Reference: "PAY-OLD", UserID: 7,
		ContentID: sql.NullInt64{Int64: 42, Valid: true},
		Status:    purchase.PendingStatusExpired,
	}

	body := eventBody(t, payment.Event{
		Reference: "PAY-OLD", Type: payment.EventInitial, ProviderTransactionID: "txn-late",
	})
	if err := f.rec.Handle(context.Background(), body, "good"); err != nil {
		t.Fatalf("late event against swept pending must be acked, got %v", err)
	}
	if len(f.purchases.records) != 0 {
		t.Fatal("expired pending must not grant a purchase")
	}
	if len(f.events.audits) != 1 {
		t.Fatalf("audits = %d, want 1", len(f.events.audits))
	}
}

func TestRebillExtendsActiveMembership(t *testing.T) {
	f := newFixture()
	f.seedActiveMember(7, "PAY-1", "sub-1")

	body := eventBody(t, payment.Event{
		Reference: "PAY-1", Type: payment.EventRebill, ProviderTransactionID: "txn-r1",
	})
	if err := f.rec.Handle(context.Background(), body, "good"); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	rec := f.members.byUser[7]
	want := testNow.AddDate(0, 0, 30)
	if !rec.NextRebillAt.Time.Equal(want) {
		t.Fatalf("next_rebill_at = %s, want %s", rec.NextRebillAt.Time, want)
	}
	if rec.Status != membership.StatusActive {
		t.Fatalf("status = %s", rec.Status)
	}
}

func TestRebillOnCancelledReactivates(t *testing.T) {
	f := newFixture()
	f.seedActiveMember(7, "PAY-1", "sub-1")
	f.members.byUser[7].Status = membership.StatusCancelled

	body := eventBody(t, payment.Event{
		Reference: "PAY-1", Type: payment.EventRebill, ProviderTransactionID: "txn-r2",
	})
	if err := f.rec.Handle(context.Background(), body, "good"); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if got := f.members.byUser[7].Status; got != membership.StatusActive {
		t.Fatalf("status = %s, want active after reactivating rebill", got)
	}
}

func TestCancelStopsFutureRebills(t *testing.T) {
	f := newFixture()
	f.seedActiveMember(7, "PAY-1", "sub-1")
	paidThrough := f.members.byUser[7].NextRebillAt.Time

	body := eventBody(t, payment.Event{
		Reference: "PAY-1", Type: payment.EventCancel, ProviderTransactionID: "txn-c1",
	})
	if err := f.rec.Handle(context.Background(), body, "good"); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	rec := f.members.byUser[7]
	if rec.Status != membership.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", rec.Status)
	}
	if !rec.NextRebillAt.Time.Equal(paidThrough) {
		t.Fatal("cancel must not move the paid-through date")
	}
}

func TestThreeDeclinesExpireMembership(t *testing.T) {
	f := newFixture()
	f.seedActiveMember(7, "PAY-1", "sub-1")

	for i := 1; i <= 3; i++ {
		body := eventBody(t, payment.Event{
			Reference: "PAY-1", Type: payment.EventDecline,
			ProviderTransactionID: fmt.Sprintf("txn-d%d", i),
		})
		if err := f.rec.Handle(context.Background(), body, "good"); err != nil {
			t.Fatalf("decline %d: %v", i, err)
		}
	}
	if got := f.members.byUser[7].Status; got != membership.StatusExpired {
		t.Fatalf("status = %s, want expired after three declines", got)
	}
}

func TestChargebackBansAndBlacklistsOnce(t *testing.T) {
	f := newFixture()
	f.seedActiveMember(7, "PAY-1", "sub-1")

	body := eventBody(t, payment.Event{
		Reference: "PAY-1", Type: payment.EventChargeback, ProviderTransactionID: "txn-cb1",
	})
	if err := f.rec.Handle(context.Background(), body, "good"); err != nil {
		t.Fatalf("chargeback: %v", err)
	}
	rec := f.members.byUser[7]
	if rec.Status != membership.StatusBanned {
		t.Fatalf("status = %s, want banned", rec.Status)
	}
	if len(f.blacklist.contacts) != 1 || f.blacklist.contacts[0] != "member@example.com" {
		t.Fatalf("blacklist = %v", f.blacklist.contacts)
	}

	// A second chargeback with a fresh transaction id hits the absorbing
	// banned state: audited, acked, no second blacklist entry.
	second := eventBody(t, payment.Event{
		Reference: "PAY-1", Type: payment.EventChargeback, ProviderTransactionID: "txn-cb2",
	})
	if err := f.rec.Handle(context.Background(), second, "good"); err != nil {
		t.Fatalf("second chargeback must be acked, got %v", err)
	}
	if len(f.blacklist.contacts) != 1 {
		t.Fatalf("blacklist notified %d times, want 1", len(f.blacklist.contacts))
	}
	if len(f.events.audits) != 1 {
		t.Fatalf("audits = %d, want 1", len(f.events.audits))
	}
}

func TestBannedIgnoresLaterEvents(t *testing.T) {
	f := newFixture()
	f.seedActiveMember(7, "PAY-1", "sub-1")
	f.members.byUser[7].Status = membership.StatusBanned

	for i, typ := range []payment.EventType{payment.EventRebill, payment.EventCancel, payment.EventExpire} {
		body := eventBody(t, payment.Event{
			Reference: "PAY-1", Type: typ,
			ProviderTransactionID: fmt.Sprintf("txn-post-ban-%d", i),
		})
		if err := f.rec.Handle(context.Background(), body, "good"); err != nil {
			t.Fatalf("%s after ban must be acked, got %v", typ, err)
		}
		if got := f.members.byUser[7].Status; got != membership.StatusBanned {
			t.Fatalf("%s left banned state: %s", typ, got)
		}
	}
	if len(f.events.audits) != 3 {
		t.Fatalf("audits = %d, want 3", len(f.events.audits))
	}
}

func TestStorageErrorTriggersRetry(t *testing.T) {
	f := newFixture()
	f.seedActiveMember(7, "PAY-1", "sub-1")
	f.members.updateErr = errors.New("connection reset")

	body := eventBody(t, payment.Event{
		Reference: "PAY-1", Type: payment.EventCancel, ProviderTransactionID: "txn-c9",
	})
	err := f.rec.Handle(context.Background(), body, "good")
	if err == nil {
		t.Fatal("storage failure must propagate so the provider retries")
	}
	if len(f.events.audits) != 0 {
		t.Fatal("storage failures are retried, not audited")
	}
}
