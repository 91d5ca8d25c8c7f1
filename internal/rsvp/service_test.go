package rsvp_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"

	"ms-rsvp/internal/config"
	"ms-rsvp/internal/events"
	"ms-rsvp/internal/logger"
	"ms-rsvp/internal/models"
	"ms-rsvp/internal/rsvp"
	rsvpdb "ms-rsvp/internal/rsvp/db"
)

// --- Mocks ---

type MockClaimGuard struct {
	mock.Mock
}

func (m *MockClaimGuard) ClaimReservation(eventID, userID string) (bool, error) {
	args := m.Called(eventID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockClaimGuard) ReleaseClaim(eventID, userID string) error {
	args := m.Called(eventID, userID)
	return args.Error(0)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) SendConfirmationEmail(email, name, eventTitle, confirmLink string) error {
	args := m.Called(email, name, eventTitle, confirmLink)
	return args.Error(0)
}

func (m *MockNotifier) SendCancellationEmail(email, name, eventTitle string) error {
	args := m.Called(email, name, eventTitle)
	return args.Error(0)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishRSVPCreated(reservation models.Reservation) error {
	args := m.Called(reservation)
	return args.Error(0)
}

func (m *MockPublisher) PublishRSVPConfirmed(reservation models.Reservation) error {
	args := m.Called(reservation)
	return args.Error(0)
}

func (m *MockPublisher) PublishRSVPCancelled(reservation models.Reservation) error {
	args := m.Called(reservation)
	return args.Error(0)
}

type MockProfileDirectory struct {
	mock.Mock
}

func (m *MockProfileDirectory) GetContactInfo(ctx context.Context, userID string) (*models.Contact, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Contact), args.Error(1)
}

// --- Fixture ---

type fixture struct {
	svc      *rsvp.Service
	bunDB    *bun.DB
	store    *rsvpdb.DB
	ledger   *events.DB
	claims   *MockClaimGuard
	notifier *MockNotifier
	pub      *MockPublisher
	profiles *MockProfileDirectory
}

func newFixture(t *testing.T) *fixture {
	sqldb, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to connect to in-memory database: %v", err)
	}
	// Single connection: transactions and plain queries must share the
	// same in-memory database.
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	ctx := context.Background()
	for _, model := range []interface{}{(*models.Event)(nil), (*models.User)(nil), (*models.Reservation)(nil)} {
		if _, err := bunDB.NewCreateTable().Model(model).Exec(ctx); err != nil {
			t.Fatalf("Failed to create table: %v", err)
		}
	}

	f := &fixture{
		bunDB:    bunDB,
		store:    rsvpdb.NewDB(bunDB),
		ledger:   events.NewDB(bunDB),
		claims:   new(MockClaimGuard),
		notifier: new(MockNotifier),
		pub:      new(MockPublisher),
		profiles: new(MockProfileDirectory),
	}
	f.svc = rsvp.NewService(bunDB, f.store, f.ledger, f.claims, f.profiles,
		f.notifier, f.pub, logger.NewLogger(), config.ReservationConfig{
			ConfirmationWindow: 30 * time.Minute,
			ConfirmBaseURL:     "http://localhost:8080/api/v1/rsvps/confirm",
		})

	t.Cleanup(func() { bunDB.Close() })
	return f
}

func (f *fixture) insertEvent(t *testing.T, id string, capacity *int) {
	t.Helper()
	event := models.Event{
		ID:        id,
		Title:     "Launch Party",
		StartDate: time.Now().Add(24 * time.Hour),
		EndDate:   time.Now().Add(26 * time.Hour),
		Capacity:  capacity,
		CreatedAt: time.Now(),
	}
	_, err := f.bunDB.NewInsert().Model(&event).Exec(context.Background())
	require.NoError(t, err)
}

// allowClaims lets every claim through and accepts releases.
func (f *fixture) allowClaims() {
	f.claims.On("ClaimReservation", mock.Anything, mock.Anything).Return(true, nil)
	f.claims.On("ReleaseClaim", mock.Anything, mock.Anything).Return(nil)
}

// allowSideEffects wires the happy-path contact lookup, email sends and
// Kafka publishes.
func (f *fixture) allowSideEffects() {
	f.profiles.On("GetContactInfo", mock.Anything, mock.Anything).
		Return(&models.Contact{Email: "alice@example.com", Name: "Alice"}, nil)
	f.notifier.On("SendConfirmationEmail", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.notifier.On("SendCancellationEmail", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.pub.On("PublishRSVPCreated", mock.Anything).Return(nil)
	f.pub.On("PublishRSVPConfirmed", mock.Anything).Return(nil)
	f.pub.On("PublishRSVPCancelled", mock.Anything).Return(nil)
}

// tokenFor pulls the confirmation token straight from the store; the
// engine never exposes it anywhere but the email link.
func (f *fixture) tokenFor(t *testing.T, eventID, userID string) string {
	t.Helper()
	var reservation models.Reservation
	err := f.bunDB.NewSelect().
		Model(&reservation).
		Where("event_id = ?", eventID).
		Where("user_id = ?", userID).
		Scan(context.Background())
	require.NoError(t, err)
	return reservation.ConfirmationToken
}

// backdate pushes a reservation's requested_at into the past.
func (f *fixture) backdate(t *testing.T, reservationID string, age time.Duration) {
	t.Helper()
	_, err := f.bunDB.NewUpdate().
		Model((*models.Reservation)(nil)).
		Set("requested_at = ?", time.Now().UTC().Add(-age)).
		Where("id = ?", reservationID).
		Exec(context.Background())
	require.NoError(t, err)
}

func (f *fixture) confirmedCount(t *testing.T, eventID string) int {
	t.Helper()
	event, err := f.ledger.GetEventByID(context.Background(), eventID)
	require.NoError(t, err)
	return event.ConfirmedCount
}

// --- Reserve ---

func TestReserveCreatesPendingAndMailsLink(t *testing.T) {
	f := newFixture(t)
	f.insertEvent(t, "event1", nil)
	f.allowClaims()
	f.pub.On("PublishRSVPCreated", mock.Anything).Return(nil)
	f.profiles.On("GetContactInfo", mock.Anything, "user1").
		Return(&models.Contact{Email: "alice@example.com", Name: "Alice"}, nil)
	f.notifier.On("SendConfirmationEmail", "alice@example.com", "Alice", "Launch Party",
		mock.MatchedBy(func(link string) bool {
			return strings.HasPrefix(link, "http://localhost:8080/api/v1/rsvps/confirm?token=")
		})).Return(nil)

	reservation, err := f.svc.Reserve(context.Background(), "event1", "user1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, reservation.Status)
	assert.Len(t, reservation.ConfirmationToken, 64)
	assert.False(t, reservation.RequestedAt.IsZero())
	assert.Equal(t, 0, f.confirmedCount(t, "event1"))

	f.notifier.AssertExpectations(t)
	f.pub.AssertExpectations(t)

	// The token travels only via email, never in the JSON body.
	body, err := json.Marshal(reservation)
	require.NoError(t, err)
	assert.NotContains(t, string(body), reservation.ConfirmationToken)
}

func TestReserveSucceedsWhenEmailFails(t *testing.T) {
	f := newFixture(t)
	f.insertEvent(t, "event1", nil)
	f.allowClaims()
	f.pub.On("PublishRSVPCreated", mock.Anything).Return(nil)
	f.profiles.On("GetContactInfo", mock.Anything, mock.Anything).
		Return(&models.Contact{Email: "alice@example.com", Name: "Alice"}, nil)
	f.notifier.On("SendConfirmationEmail", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(assert.AnError)

	reservation, err := f.svc.Reserve(context.Background(), "event1", "user1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, reservation.Status)

	// The row is still there even though the email bounced.
	_, err = f.svc.Status(context.Background(), "event1", "user1")
	assert.NoError(t, err)
}

func TestReserveUnknownEvent(t *testing.T) {
	f := newFixture(t)
	f.allowClaims()

	_, err := f.svc.Reserve(context.Background(), "nope", "user1")
	assert.ErrorIs(t, err, rsvp.ErrNotFound)

	// The advisory claim is released when the reservation fails.
	f.claims.AssertCalled(t, "ReleaseClaim", "nope", "user1")
}

func TestReserveTwiceWhilePending(t *testing.T) {
	f := newFixture(t)
	f.insertEvent(t, "event1", nil)
	f.allowClaims()
	f.allowSideEffects()

	_, err := f.svc.Reserve(context.Background(), "event1", "user1")
	require.NoError(t, err)

	_, err = f.svc.Reserve(context.Background(), "event1", "user1")
	assert.ErrorIs(t, err, rsvp.ErrAlreadyPending)
}

func TestReserveAfterConfirm(t *testing.T) {
	f := newFixture(t)
	f.insertEvent(t, "event1", nil)
	f.allowClaims()
	f.allowSideEffects()

	_, err := f.svc.Reserve(context.Background(), "event1", "user1")
	require.NoError(t, err)
	_, err = f.svc.Confirm(context.Background(), f.tokenFor(t, "event1", "user1"))
	require.NoError(t, err)

	_, err = f.svc.Reserve(context.Background(), "event1", "user1")
	assert.ErrorIs(t, err, rsvp.ErrAlreadyConfirmed)
}

func TestReserveFullEvent(t *testing.T) {
	f := newFixture(t)
	capacity := 1
	f.insertEvent(t, "event1", &capacity)
	f.allowClaims()
	f.allowSideEffects()

	_, err := f.svc.Reserve(context.Background(), "event1", "user1")
	require.NoError(t, err)
	_, err = f.svc.Confirm(context.Background(), f.tokenFor(t, "event1", "user1"))
	require.NoError(t, err)

	_, err = f.svc.Reserve(context.Background(), "event1", "user2")
	assert.ErrorIs(t, err, rsvp.ErrCapacityExceeded)
}

func TestReserveClaimHeldElsewhere(t *testing.T) {
	f := newFixture(t)
	f.insertEvent(t, "event1", nil)
	f.claims.On("ClaimReservation", "event1", "user1").Return(false, nil)

	_, err := f.svc.Reserve(context.Background(), "event1", "user1")
	assert.ErrorIs(t, err, rsvp.ErrAlreadyPending)

	// Nothing was written.
	_, err = f.svc.Status(context.Background(), "event1", "user1")
	assert.ErrorIs(t, err, rsvp.ErrNotFound)
}

func TestReserveProceedsWhenClaimGuardDown(t *testing.T) {
	f := newFixture(t)
	f.insertEvent(t, "event1", nil)
	f.claims.On("ClaimReservation", mock.Anything, mock.Anything).Return(false, assert.AnError)
	f.allowSideEffects()

	reservation, err := f.svc.Reserve(context.Background(), "event1", "user1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, reservation.Status)
}

// --- Confirm ---

func TestConfirmPromotesAndIncrements(t *testing.T) {
	f := newFixture(t)
	capacity := 5
	f.insertEvent(t, "event1", &capacity)
	f.allowClaims()
	f.allowSideEffects()

	_, err := f.svc.Reserve(context.Background(), "event1", "user1")
	require.NoError(t, err)
	token := f.tokenFor(t, "event1", "user1")

	reservation, err := f.svc.Confirm(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, reservation.Status)
	assert.Empty(t, reservation.ConfirmationToken)
	assert.False(t, reservation.ConfirmedAt.IsZero())
	assert.Equal(t, 1, f.confirmedCount(t, "event1"))
	f.pub.AssertCalled(t, "PublishRSVPConfirmed", mock.Anything)
}

func TestConfirmTokenIsSingleUse(t *testing.T) {
	f := newFixture(t)
	f.insertEvent(t, "event1", nil)
	f.allowClaims()
	f.allowSideEffects()

	_, err := f.svc.Reserve(context.Background(), "event1", "user1")
	require.NoError(t, err)
	token := f.tokenFor(t, "event1", "user1")

	_, err = f.svc.Confirm(context.Background(), token)
	require.NoError(t, err)

	_, err = f.svc.Confirm(context.Background(), token)
	assert.ErrorIs(t, err, rsvp.ErrInvalidOrExpiredToken)

	// The replay must not bump the count again.
	assert.Equal(t, 1, f.confirmedCount(t, "event1"))
}

func TestConfirmUnknownToken(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Confirm(context.Background(), "deadbeef")
	assert.ErrorIs(t, err, rsvp.ErrInvalidOrExpiredToken)
}

func TestConfirmAfterWindowExpired(t *testing.T) {
	f := newFixture(t)
	f.insertEvent(t, "event1", nil)
	f.allowClaims()
	f.allowSideEffects()

	reservation, err := f.svc.Reserve(context.Background(), "event1", "user1")
	require.NoError(t, err)
	token := f.tokenFor(t, "event1", "user1")
	f.backdate(t, reservation.ID, 31*time.Minute)

	_, err = f.svc.Confirm(context.Background(), token)
	assert.ErrorIs(t, err, rsvp.ErrConfirmationWindowExpired)

	// The stale row is gone, so the requester can start over.
	_, err = f.svc.Status(context.Background(), "event1", "user1")
	assert.ErrorIs(t, err, rsvp.ErrNotFound)

	fresh, err := f.svc.Reserve(context.Background(), "event1", "user1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, fresh.Status)
	assert.Equal(t, 0, f.confirmedCount(t, "event1"))
}

func TestConfirmLastSeatLoserStaysPending(t *testing.T) {
	f := newFixture(t)
	capacity := 1
	f.insertEvent(t, "event1", &capacity)
	f.allowClaims()
	f.allowSideEffects()

	// Two pending reservations on a one-seat event: the read-time check
	// admits both because neither is counted yet.
	_, err := f.svc.Reserve(context.Background(), "event1", "user1")
	require.NoError(t, err)
	_, err = f.svc.Reserve(context.Background(), "event1", "user2")
	require.NoError(t, err)

	tokenA := f.tokenFor(t, "event1", "user1")
	tokenB := f.tokenFor(t, "event1", "user2")

	_, err = f.svc.Confirm(context.Background(), tokenA)
	require.NoError(t, err)

	_, err = f.svc.Confirm(context.Background(), tokenB)
	assert.ErrorIs(t, err, rsvp.ErrCapacityExceeded)

	// The loser keeps its pending reservation; the count never passes
	// capacity.
	loser, err := f.svc.Status(context.Background(), "event1", "user2")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, loser.Status)
	assert.Equal(t, 1, f.confirmedCount(t, "event1"))

	confirmed, err := f.store.CountConfirmedTx(context.Background(), f.bunDB, "event1")
	require.NoError(t, err)
	assert.Equal(t, 1, confirmed)
}

// --- Cancel ---

func TestCancelConfirmedFreesSeat(t *testing.T) {
	f := newFixture(t)
	capacity := 1
	f.insertEvent(t, "event1", &capacity)
	f.allowClaims()
	f.allowSideEffects()

	_, err := f.svc.Reserve(context.Background(), "event1", "user1")
	require.NoError(t, err)
	_, err = f.svc.Confirm(context.Background(), f.tokenFor(t, "event1", "user1"))
	require.NoError(t, err)
	require.Equal(t, 1, f.confirmedCount(t, "event1"))

	prior, err := f.svc.Cancel(context.Background(), "event1", "user1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, prior.Status)
	assert.Equal(t, 0, f.confirmedCount(t, "event1"))
	f.notifier.AssertCalled(t, "SendCancellationEmail", mock.Anything, mock.Anything, mock.Anything)
	f.pub.AssertCalled(t, "PublishRSVPCancelled", mock.Anything)

	// The freed seat can be taken again.
	_, err = f.svc.Reserve(context.Background(), "event1", "user2")
	assert.NoError(t, err)
}

func TestCancelPendingLeavesCountAlone(t *testing.T) {
	f := newFixture(t)
	capacity := 3
	f.insertEvent(t, "event1", &capacity)
	f.allowClaims()
	f.allowSideEffects()

	_, err := f.svc.Reserve(context.Background(), "event1", "user1")
	require.NoError(t, err)

	prior, err := f.svc.Cancel(context.Background(), "event1", "user1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, prior.Status)
	assert.Equal(t, 0, f.confirmedCount(t, "event1"))
}

func TestCancelTwice(t *testing.T) {
	f := newFixture(t)
	f.insertEvent(t, "event1", nil)
	f.allowClaims()
	f.allowSideEffects()

	_, err := f.svc.Reserve(context.Background(), "event1", "user1")
	require.NoError(t, err)

	_, err = f.svc.Cancel(context.Background(), "event1", "user1")
	require.NoError(t, err)

	_, err = f.svc.Cancel(context.Background(), "event1", "user1")
	assert.ErrorIs(t, err, rsvp.ErrNotFound)
}

// --- Sweeping on reserve ---

func TestReserveSweepsOwnExpiredReservation(t *testing.T) {
	f := newFixture(t)
	f.insertEvent(t, "event1", nil)
	f.allowClaims()
	f.allowSideEffects()

	first, err := f.svc.Reserve(context.Background(), "event1", "user1")
	require.NoError(t, err)
	f.backdate(t, first.ID, time.Hour)

	// The abandoned pending row no longer blocks a retry.
	second, err := f.svc.Reserve(context.Background(), "event1", "user1")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, models.StatusPending, second.Status)
}

func TestStatusReportsCurrentState(t *testing.T) {
	f := newFixture(t)
	f.insertEvent(t, "event1", nil)
	f.allowClaims()
	f.allowSideEffects()

	_, err := f.svc.Status(context.Background(), "event1", "user1")
	assert.ErrorIs(t, err, rsvp.ErrNotFound)

	_, err = f.svc.Reserve(context.Background(), "event1", "user1")
	require.NoError(t, err)

	reservation, err := f.svc.Status(context.Background(), "event1", "user1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, reservation.Status)
}
