// internal/service/reconcile/reconciler.go
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"paywall-service/internal/domain/membership"
	"paywall-service/internal/domain/payment"
	plandomain "paywall-service/internal/domain/plan"
	"paywall-service/internal/domain/purchase"
	"paywall-service/internal/domain/user"
	"paywall-service/internal/pkg/clock"
	xerrors "paywall-service/internal/pkg/errors"
	"paywall-service/internal/service/lifecycle"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error
}

type EventStore interface {
	MarkProcessedWithTx(ctx context.Context, tx pgx.Tx, providerTxnID, reference string, eventType payment.EventType) (bool, error)
	InsertAudit(ctx context.Context, entry *payment.AuditEntry) error
}

type PendingStore interface {
	FindPendingForUpdate(ctx context.Context, tx pgx.Tx, reference string) (*purchase.PendingTransaction, error)
	ConsumePendingWithTx(ctx context.Context, tx pgx.Tx, reference string) error
}

type PurchaseStore interface {
	InsertWithTx(ctx context.Context, tx pgx.Tx, rec *purchase.Record) error
}

type MembershipStore interface {
	FindByUserForUpdate(ctx context.Context, tx pgx.Tx, userID int64) (*membership.Record, error)
	FindByReferenceForUpdate(ctx context.Context, tx pgx.Tx, reference, subscriptionID string) (*membership.Record, error)
	UpdateWithTx(ctx context.Context, tx pgx.Tx, rec *membership.Record) error
}

type PlanReader interface {
	FindByID(ctx context.Context, id int64) (*plandomain.Plan, error)
}

type UserReader interface {
	FindByID(ctx context.Context, id int64) (*user.User, error)
}

type Blacklist interface {
	AddWithTx(ctx context.Context, tx pgx.Tx, contact, reason string) error
}

type PromoRecorder interface {
	RecordUsage(ctx context.Context, tx pgx.Tx, code string, userID, planID int64, reference string, usedAt time.Time) error
}

type ReferenceLocker interface {
	Acquire(ctx context.Context, reference string) (func(), error)
}

// StatusNotifier pushes a checkout outcome to clients watching the
// reference (the websocket hub in production).
type StatusNotifier interface {
	Notify(reference, status string)
}

// Verifier checks webhook authenticity against the raw payload.
type Verifier func(body []byte, signature string) bool

// Reconciler applies provider webhook events to the membership store and
// purchase ledger. Deliveries are at-least-once, possibly concurrent and
// out of order; every transition commits atomically with the idempotency
// claim of its provider transaction id.
type Reconciler struct {
	db        TxRunner
	events    EventStore
	pending   PendingStore
	purchases PurchaseStore
	members   MembershipStore
	plans     PlanReader
	users     UserReader
	blacklist Blacklist
	promos    PromoRecorder
	lifecycle *lifecycle.Manager
	locker    ReferenceLocker
	notifier  StatusNotifier
	verify    Verifier
	clock     clock.Clock
	logger    *zap.Logger
}

type Deps struct {
	DB        TxRunner
	Events    EventStore
	Pending   PendingStore
	Purchases PurchaseStore
	Members   MembershipStore
	Plans     PlanReader
	Users     UserReader
	Blacklist Blacklist
	Promos    PromoRecorder
	Lifecycle *lifecycle.Manager
	Locker    ReferenceLocker
	Notifier  StatusNotifier
	Verify    Verifier
	Clock     clock.Clock
	Logger    *zap.Logger
}

func NewReconciler(d Deps) *Reconciler {
	return &Reconciler{
		db:        d.DB,
		events:    d.Events,
		pending:   d.Pending,
		purchases: d.Purchases,
		members:   d.Members,
		plans:     d.Plans,
		users:     d.Users,
		blacklist: d.Blacklist,
		promos:    d.Promos,
		lifecycle: d.Lifecycle,
		locker:    d.Locker,
		notifier:  d.Notifier,
		verify:    d.Verify,
		clock:     d.Clock,
		logger:    d.Logger,
	}
}

// unappliedError marks an event that cannot ever be applied. The
// delivery is acknowledged (to stop provider retries) after writing an
// audit entry.
type unappliedError struct{ reason string }

func (e *unappliedError) Error() string { return e.reason }

func unapplied(format string, args ...interface{}) error {
	return &unappliedError{reason: fmt.Sprintf(format, args...)}
}

// Handle processes one raw webhook delivery. A nil return means the
// provider must receive a 2xx acknowledgment; ErrAuthenticity and
// storage errors mean non-2xx so the provider retries.
func (r *Reconciler) Handle(ctx context.Context, rawBody []byte, signature string) error {
	if !r.verify(rawBody, signature) {
		r.logger.Warn("webhook rejected: bad signature")
		return xerrors.ErrAuthenticity
	}

	ev, err := payment.ParseEvent(rawBody)
	if err != nil {
		// Authentic but malformed: the event's fault. Audit and ack.
		if aErr := r.audit(ctx, "", "", rawBody, err.Error()); aErr != nil {
			return aErr
		}
		return nil
	}

	release, err := r.locker.Acquire(ctx, ev.Reference)
	if err != nil {
		return fmt.Errorf("could not serialize delivery: %w", err)
	}
	defer release()

	var notify string
	err = r.db.InTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		fresh, err := r.events.MarkProcessedWithTx(ctx, tx, ev.ProviderTransactionID, ev.Reference, ev.Type)
		if err != nil {
			return err
		}
		if !fresh {
			return xerrors.ErrDuplicateEvent
		}

		status, err := r.apply(ctx, tx, ev, rawBody)
		if err != nil {
			return err
		}
		notify = status
		return nil
	})

	switch {
	case err == nil:
		if notify != "" && r.notifier != nil {
			r.notifier.Notify(ev.Reference, notify)
		}
		return nil

	case errors.Is(err, xerrors.ErrDuplicateEvent):
		// At-least-once redelivery: already applied, ack without effects.
		r.logger.Info("duplicate webhook acknowledged",
			zap.String("reference", ev.Reference),
			zap.String("provider_txn_id", ev.ProviderTransactionID),
		)
		return nil

	case isUnapplied(err) || errors.Is(err, xerrors.ErrConflict):
		// Permanently unresolvable for this event: audit, then ack so the
		// provider stops retrying. If the audit write itself fails there is
		// no durable record yet, so the delivery must not be acknowledged.
		if aErr := r.audit(ctx, ev.Reference, string(ev.Type), rawBody, err.Error()); aErr != nil {
			return aErr
		}
		return nil

	default:
		// Our fault (storage and similar). Non-2xx so the provider retries.
		return err
	}
}

func isUnapplied(err error) bool {
	var ue *unappliedError
	return errors.As(err, &ue)
}

func (r *Reconciler) audit(ctx context.Context, reference, eventType string, rawBody []byte, reason string) error {
	entry := &payment.AuditEntry{
		Reference: reference,
		EventType: eventType,
		Reason:    reason,
		Payload:   rawBody,
	}
	if err := r.events.InsertAudit(ctx, entry); err != nil {
		r.logger.Error("failed to write webhook audit entry",
			zap.String("reference", reference),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return fmt.Errorf("failed to write webhook audit entry: %w", err)
	}
	r.logger.Warn("webhook acknowledged without effect",
		zap.String("reference", reference),
		zap.String("event_type", eventType),
		zap.String("reason", reason),
	)
	return nil
}

// apply routes the event to its transition. Returns the status string to
// push to watchers of the reference, if any.
func (r *Reconciler) apply(ctx context.Context, tx pgx.Tx, ev *payment.Event, rawBody []byte) (string, error) {
	if ev.Type == payment.EventInitial {
		return r.applyInitial(ctx, tx, ev, rawBody)
	}
	return r.applySubsequent(ctx, tx, ev)
}

// applyInitial consumes the pending transaction opened at checkout.
func (r *Reconciler) applyInitial(ctx context.Context, tx pgx.Tx, ev *payment.Event, rawBody []byte) (string, error) {
	pend, err := r.pending.FindPendingForUpdate(ctx, tx, ev.Reference)
	if err != nil {
		if errors.Is(err, xerrors.ErrNotFound) {
			return "", unapplied("initial event for unknown reference %s", ev.Reference)
		}
		return "", err
	}
	if pend.Status == purchase.PendingStatusExpired {
		return "", unapplied("initial event for expired pending transaction %s", ev.Reference)
	}

	now := r.clock.Now()

	if pend.ForSubscription() {
		if err := r.activateSubscription(ctx, tx, ev, pend, now); err != nil {
			return "", err
		}
	} else {
		err := r.recordPurchase(ctx, tx, ev, pend, now)
		if errors.Is(err, xerrors.ErrDuplicateEvent) {
			// Confirmed payment for content the user already owns. The money
			// moved, so leave a review record and consume the pending row in
			// this commit instead of granting a second time.
			if aErr := r.audit(ctx, ev.Reference, string(ev.Type), rawBody, "payment confirmed for already-owned content"); aErr != nil {
				return "", aErr
			}
			if err := r.pending.ConsumePendingWithTx(ctx, tx, ev.Reference); err != nil {
				return "", err
			}
			return "confirmed", nil
		}
		if err != nil {
			return "", err
		}
	}

	if err := r.pending.ConsumePendingWithTx(ctx, tx, ev.Reference); err != nil {
		return "", err
	}

	if pend.PromoCode.Valid {
		planID := pend.PlanID.Int64 // zero for one-time purchases
		if err := r.promos.RecordUsage(ctx, tx, pend.PromoCode.String, pend.UserID, planID, ev.Reference, now); err != nil {
			return "", err
		}
	}

	return "confirmed", nil
}

func (r *Reconciler) activateSubscription(ctx context.Context, tx pgx.Tx, ev *payment.Event, pend *purchase.PendingTransaction, now time.Time) error {
	p, err := r.plans.FindByID(ctx, pend.PlanID.Int64)
	if err != nil {
		return fmt.Errorf("plan %d for pending %s not found: %w", pend.PlanID.Int64, pend.Reference, err)
	}

	rec, err := r.members.FindByUserForUpdate(ctx, tx, pend.UserID)
	if err != nil {
		return err
	}

	nextRebill := now.AddDate(0, 0, p.PeriodDays)
	if err := r.lifecycle.Activate(rec, p.ID, ev.SubscriptionID, ev.Reference, nextRebill, now); err != nil {
		return err
	}
	if err := r.members.UpdateWithTx(ctx, tx, rec); err != nil {
		return err
	}

	r.logger.Info("membership activated",
		zap.Int64("user_id", rec.UserID),
		zap.Int64("plan_id", p.ID),
		zap.String("reference", ev.Reference),
		zap.Time("next_rebill_at", nextRebill),
	)
	return nil
}

func (r *Reconciler) recordPurchase(ctx context.Context, tx pgx.Tx, ev *payment.Event, pend *purchase.PendingTransaction, now time.Time) error {
	rec := &purchase.Record{
		UserID:                pend.UserID,
		ContentID:             pend.ContentID.Int64,
		AmountPaid:            ev.Amount,
		Currency:              ev.Currency,
		ProviderTransactionID: ev.ProviderTransactionID,
		PurchasedAt:           now,
	}
	if rec.Currency == "" {
		rec.Currency = pend.Currency
	}
	if err := r.purchases.InsertWithTx(ctx, tx, rec); err != nil {
		return err
	}

	r.logger.Info("purchase recorded",
		zap.Int64("user_id", rec.UserID),
		zap.Int64("content_id", rec.ContentID),
		zap.String("reference", ev.Reference),
		zap.Float64("amount", rec.AmountPaid),
	)
	return nil
}

// applySubsequent handles events against an already-activated
// subscription, resolved by the original reference or subscription id.
func (r *Reconciler) applySubsequent(ctx context.Context, tx pgx.Tx, ev *payment.Event) (string, error) {
	rec, err := r.members.FindByReferenceForUpdate(ctx, tx, ev.Reference, ev.SubscriptionID)
	if err != nil {
		if errors.Is(err, xerrors.ErrNotFound) {
			return "", unapplied("%s event for unknown reference %s", ev.Type, ev.Reference)
		}
		return "", err
	}

	now := r.clock.Now()
	notify := ""

	switch ev.Type {
	case payment.EventRebill:
		periodDays, err := r.planPeriodDays(ctx, rec)
		if err != nil {
			return "", err
		}
		if rec.Status == membership.StatusCancelled {
			// Provider should not rebill a cancelled subscription. Treat as
			// reactivation but keep a loud trace.
			r.logger.Warn("rebill on cancelled membership, treating as reactivation",
				zap.Int64("user_id", rec.UserID),
				zap.String("reference", ev.Reference),
			)
			if err := r.lifecycle.Activate(rec, rec.PlanID.Int64, ev.SubscriptionID, ev.Reference, now.AddDate(0, 0, periodDays), now); err != nil {
				return "", err
			}
		} else {
			if err := r.lifecycle.Extend(rec, now.AddDate(0, 0, periodDays)); err != nil {
				return "", err
			}
		}
		notify = "rebilled"

	case payment.EventCancel:
		if err := r.lifecycle.Cancel(rec); err != nil {
			return "", err
		}
		notify = "cancelled"

	case payment.EventDecline:
		expired, err := r.lifecycle.RecordDecline(rec)
		if err != nil {
			return "", err
		}
		if expired {
			r.logger.Warn("membership expired after repeated declines",
				zap.Int64("user_id", rec.UserID),
				zap.Int("declines", rec.DeclineCount),
			)
		}

	case payment.EventChargeback:
		if err := r.lifecycle.Ban(rec); err != nil {
			return "", err
		}
		// Notify the blacklist collaborator in the same commit as the ban,
		// so it happens exactly once per ban transition.
		u, err := r.users.FindByID(ctx, rec.UserID)
		if err != nil {
			return "", err
		}
		if err := r.blacklist.AddWithTx(ctx, tx, u.Email, "chargeback"); err != nil {
			return "", err
		}
		r.logger.Warn("membership banned after chargeback",
			zap.Int64("user_id", rec.UserID),
			zap.String("reference", ev.Reference),
		)

	case payment.EventExpire:
		if err := r.lifecycle.Expire(rec); err != nil {
			return "", err
		}

	default:
		return "", unapplied("unhandled event type %s", ev.Type)
	}

	if err := r.members.UpdateWithTx(ctx, tx, rec); err != nil {
		return "", err
	}
	return notify, nil
}

func (r *Reconciler) planPeriodDays(ctx context.Context, rec *membership.Record) (int, error) {
	if !rec.PlanID.Valid {
		return 0, unapplied("membership of user %d has no plan to rebill", rec.UserID)
	}
	p, err := r.plans.FindByID(ctx, rec.PlanID.Int64)
	if err != nil {
		return 0, err
	}
	return p.PeriodDays, nil
}
