package rsvp

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"ms-rsvp/internal/config"
	"ms-rsvp/internal/logger"
	"ms-rsvp/internal/models"
)

// StoreLayer is the reservation store consumed by the engine.
type StoreLayer interface {
	SweepExpiredTx(ctx context.Context, idb bun.IDB, window time.Duration) (int64, error)
	GetByEventAndUserTx(ctx context.Context, idb bun.IDB, eventID, userID string, forUpdate bool) (*models.Reservation, error)
	GetPendingByTokenTx(ctx context.Context, idb bun.IDB, token string) (*models.Reservation, error)
	CreateTx(ctx context.Context, idb bun.IDB, reservation *models.Reservation) error
	PromoteTx(ctx context.Context, idb bun.IDB, id string, confirmedAt time.Time) error
	DeleteTx(ctx context.Context, idb bun.IDB, id string) error
}

// CapacityLedger is the slice of the events collaborator the engine may
// touch. No other component mutates confirmed_count.
type CapacityLedger interface {
	GetEventTx(ctx context.Context, idb bun.IDB, eventID string) (*models.Event, error)
	TryIncrementConfirmed(ctx context.Context, idb bun.IDB, eventID string) (bool, error)
	DecrementConfirmed(ctx context.Context, idb bun.IDB, eventID string) error
}

// ClaimGuard absorbs double submits before the reserve transaction. It
// is advisory; a guard outage must not block reservations.
type ClaimGuard interface {
	ClaimReservation(eventID, userID string) (bool, error)
	ReleaseClaim(eventID, userID string) error
}

// ProfileDirectory resolves a requester to notification contact details.
type ProfileDirectory interface {
	GetContactInfo(ctx context.Context, userID string) (*models.Contact, error)
}

// Notifier sends the confirmation and cancellation emails. Both calls
// are best-effort: a send failure is logged and never rolls back
// reservation state.
type Notifier interface {
	SendConfirmationEmail(email, name, eventTitle, confirmLink string) error
	SendCancellationEmail(email, name, eventTitle string) error
}

// Publisher streams reservation lifecycle events to Kafka, best-effort.
type Publisher interface {
	PublishRSVPCreated(reservation models.Reservation) error
	PublishRSVPConfirmed(reservation models.Reservation) error
	PublishRSVPCancelled(reservation models.Reservation) error
}

// Service orchestrates reserve / confirm / cancel against the
// reservation store and the capacity ledger. Every mutation runs inside
// a single transaction; side effects (email, Kafka) happen only after
// commit.
type Service struct {
	Bun      *bun.DB
	Store    StoreLayer
	Ledger   CapacityLedger
	Claims   ClaimGuard
	Profiles ProfileDirectory
	Mailer   Notifier
	Kafka    Publisher
	Logger   *logger.Logger

	window         time.Duration
	confirmBaseURL string
}

func NewService(bunDB *bun.DB, store StoreLayer, ledger CapacityLedger, claims ClaimGuard,
	profilesDir ProfileDirectory, mailer Notifier, kafka Publisher, log *logger.Logger,
	cfg config.ReservationConfig) *Service {
	return &Service{
		Bun:            bunDB,
		Store:          store,
		Ledger:         ledger,
		Claims:         claims,
		Profiles:       profilesDir,
		Mailer:         mailer,
		Kafka:          kafka,
		Logger:         log,
		window:         cfg.ConfirmationWindow,
		confirmBaseURL: cfg.ConfirmBaseURL,
	}
}

// Window returns the configured confirmation window.
func (s *Service) Window() time.Duration {
	return s.window
}

// Reserve creates a pending reservation for (eventID, userID) and mails
// the requester a confirmation link. The reservation succeeds or fails
// on the store outcome alone; email delivery is best-effort.
func (s *Service) Reserve(ctx context.Context, eventID, userID string) (*models.Reservation, error) {
	claimed := false
	if s.Claims != nil {
		ok, err := s.Claims.ClaimReservation(eventID, userID)
		if err != nil {
			// The guard is advisory; keep going when redis is down.
			s.Logger.Warn("RSVP", fmt.Sprintf("Reserve: claim guard unavailable: %v", err))
		} else if !ok {
			return nil, ErrAlreadyPending
		} else {
			claimed = true
		}
	}

	reservation, event, err := s.reserveTx(ctx, eventID, userID)
	if err != nil {
		if claimed {
			if relErr := s.Claims.ReleaseClaim(eventID, userID); relErr != nil {
				s.Logger.Warn("RSVP", fmt.Sprintf("Reserve: failed to release claim: %v", relErr))
			}
		}
		return nil, err
	}

	s.Logger.LogReservation("RESERVE", reservation.ID, fmt.Sprintf("pending reservation created for event %s", eventID))

	// Side effects outside the unit of work: confirmation email and the
	// lifecycle event. Neither may fail the reservation.
	s.sendConfirmation(ctx, reservation, event)
	if s.Kafka != nil {
		if err := s.Kafka.PublishRSVPCreated(*reservation); err != nil {
			s.Logger.Error("KAFKA", fmt.Sprintf("Reserve: publish failed: %v", err))
		}
	}

	return reservation, nil
}

func (s *Service) reserveTx(ctx context.Context, eventID, userID string) (*models.Reservation, *models.Event, error) {
	tx, err := s.Bun.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("begin reserve transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	// A requester who abandoned an earlier pending reservation gets to
	// retry once the window has passed.
	if _, err := s.Store.SweepExpiredTx(ctx, tx, s.window); err != nil {
		return nil, nil, fmt.Errorf("sweep expired reservations: %w", err)
	}

	event, err := s.Ledger.GetEventTx(ctx, tx, eventID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("load event %s: %w", eventID, err)
	}

	existing, err := s.Store.GetByEventAndUserTx(ctx, tx, eventID, userID, false)
	if err == nil {
		if existing.Status == models.StatusConfirmed {
			return nil, nil, ErrAlreadyConfirmed
		}
		return nil, nil, ErrAlreadyPending
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("check existing reservation: %w", err)
	}

	if !event.HasRoom() {
		return nil, nil, ErrCapacityExceeded
	}

	token, err := newConfirmationToken()
	if err != nil {
		return nil, nil, fmt.Errorf("generate confirmation token: %w", err)
	}

	reservation := &models.Reservation{
		ID:                uuid.NewString(),
		EventID:           eventID,
		UserID:            userID,
		Status:            models.StatusPending,
		ConfirmationToken: token,
		RequestedAt:       time.Now().UTC(),
	}
	if err := s.Store.CreateTx(ctx, tx, reservation); err != nil {
		// The unique index closes the race between two concurrent
		// first-time reserves from the same requester.
		if isUniqueViolation(err) {
			return nil, nil, ErrAlreadyPending
		}
		return nil, nil, fmt.Errorf("create reservation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit reserve transaction: %w", err)
	}
	committed = true
	return reservation, event, nil
}

// Confirm promotes the pending reservation matching the token to
// confirmed, incrementing the event's confirmed count. When two
// confirmations race for the last seat exactly one wins; the loser sees
// ErrCapacityExceeded and its reservation stays pending so the requester
// can be told the event filled up.
func (s *Service) Confirm(ctx context.Context, token string) (*models.Reservation, error) {
	tx, err := s.Bun.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin confirm transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	reservation, err := s.Store.GetPendingByTokenTx(ctx, tx, token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidOrExpiredToken
		}
		return nil, fmt.Errorf("look up confirmation token: %w", err)
	}

	now := time.Now().UTC()
	if now.Sub(reservation.RequestedAt) > s.window {
		// The stale row is removed as part of the failure so the
		// requester's next reserve attempt starts clean. The deletion
		// must land, so this path commits.
		if err := s.Store.DeleteTx(ctx, tx, reservation.ID); err != nil {
			return nil, fmt.Errorf("delete expired reservation: %w", err)
		}
		if _, err := s.Store.SweepExpiredTx(ctx, tx, s.window); err != nil {
			return nil, fmt.Errorf("sweep expired reservations: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit expiry cleanup: %w", err)
		}
		committed = true
		return nil, ErrConfirmationWindowExpired
	}

	// Sweep other stray pending rows while we hold the transaction.
	if _, err := s.Store.SweepExpiredTx(ctx, tx, s.window); err != nil {
		return nil, fmt.Errorf("sweep expired reservations: %w", err)
	}

	ok, err := s.Ledger.TryIncrementConfirmed(ctx, tx, reservation.EventID)
	if err != nil {
		return nil, fmt.Errorf("increment confirmed count: %w", err)
	}
	if !ok {
		// Rolling back leaves the reservation pending on purpose.
		return nil, ErrCapacityExceeded
	}

	if err := s.Store.PromoteTx(ctx, tx, reservation.ID, now); err != nil {
		return nil, fmt.Errorf("promote reservation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit confirm transaction: %w", err)
	}
	committed = true

	reservation.Status = models.StatusConfirmed
	reservation.ConfirmationToken = ""
	reservation.ConfirmedAt = now

	s.Logger.LogReservation("CONFIRM", reservation.ID, fmt.Sprintf("reservation confirmed for event %s", reservation.EventID))
	if s.Kafka != nil {
		if err := s.Kafka.PublishRSVPConfirmed(*reservation); err != nil {
			s.Logger.Error("KAFKA", fmt.Sprintf("Confirm: publish failed: %v", err))
		}
	}

	return reservation, nil
}

// Cancel removes the reservation for (eventID, userID), reversing the
// confirmed count when the reservation had been confirmed. It returns
// the prior reservation snapshot for UI confirmation messages.
func (s *Service) Cancel(ctx context.Context, eventID, userID string) (*models.Reservation, error) {
	tx, err := s.Bun.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin cancel transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	reservation, err := s.Store.GetByEventAndUserTx(ctx, tx, eventID, userID, true)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("look up reservation: %w", err)
	}

	event, err := s.Ledger.GetEventTx(ctx, tx, eventID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load event %s: %w", eventID, err)
	}

	if err := s.Store.DeleteTx(ctx, tx, reservation.ID); err != nil {
		return nil, fmt.Errorf("delete reservation: %w", err)
	}
	if reservation.Status == models.StatusConfirmed {
		if err := s.Ledger.DecrementConfirmed(ctx, tx, eventID); err != nil {
			return nil, fmt.Errorf("decrement confirmed count: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit cancel transaction: %w", err)
	}
	committed = true

	s.Logger.LogReservation("CANCEL", reservation.ID, fmt.Sprintf("reservation removed for event %s", eventID))
	s.sendCancellation(ctx, reservation, event)
	if s.Kafka != nil {
		if err := s.Kafka.PublishRSVPCancelled(*reservation); err != nil {
			s.Logger.Error("KAFKA", fmt.Sprintf("Cancel: publish failed: %v", err))
		}
	}

	return reservation, nil
}

// Status returns the current reservation for (eventID, userID).
func (s *Service) Status(ctx context.Context, eventID, userID string) (*models.Reservation, error) {
	reservation, err := s.Store.GetByEventAndUserTx(ctx, s.Bun, eventID, userID, false)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return reservation, nil
}

func (s *Service) sendConfirmation(ctx context.Context, reservation *models.Reservation, event *models.Event) {
	if s.Mailer == nil || s.Profiles == nil {
		return
	}
	contact, err := s.Profiles.GetContactInfo(ctx, reservation.UserID)
	if err != nil {
		s.Logger.Error("MAIL", fmt.Sprintf("Reserve: contact lookup failed for user %s: %v", reservation.UserID, err))
		return
	}
	link := s.confirmBaseURL + "?token=" + reservation.ConfirmationToken
	if err := s.Mailer.SendConfirmationEmail(contact.Email, contact.Name, event.Title, link); err != nil {
		s.Logger.Error("MAIL", fmt.Sprintf("Reserve: confirmation email failed for reservation %s: %v", reservation.ID, err))
	}
}

func (s *Service) sendCancellation(ctx context.Context, reservation *models.Reservation, event *models.Event) {
	if s.Mailer == nil || s.Profiles == nil {
		return
	}
	contact, err := s.Profiles.GetContactInfo(ctx, reservation.UserID)
	if err != nil {
		s.Logger.Error("MAIL", fmt.Sprintf("Cancel: contact lookup failed for user %s: %v", reservation.UserID, err))
		return
	}
	title := reservation.EventID
	if event != nil {
		title = event.Title
	}
	if err := s.Mailer.SendCancellationEmail(contact.Email, contact.Name, title); err != nil {
		s.Logger.Error("MAIL", fmt.Sprintf("Cancel: cancellation email failed for reservation %s: %v", reservation.ID, err))
	}
}

// isUniqueViolation matches unique-constraint errors across the postgres
// and sqlite drivers.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate key")
}
