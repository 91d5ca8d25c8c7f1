package redis

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// Redis holds short-lived reserve claims. A claim is taken with SetNX
// before the reserve transaction starts so a double-submitted form or an
// impatient retry does not race itself through the engine. Claims are
// advisory only: the unique index on the reservations table remains the
// real uniqueness guarantee.
type Redis struct {
	Client *redis.Client
	Logger *log.Logger
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{
		Client: client,
		Logger: log.Default(),
	}
}

// getClaimTTL returns the claim TTL from environment variables or the default value
func (r *Redis) getClaimTTL() time.Duration {
	// Default claim TTL is 10 seconds
	defaultTTL := 10 * time.Second

	ttlStr := os.Getenv("RSVP_CLAIM_TTL_SECONDS")
	if ttlStr == "" {
		return defaultTTL
	}

	ttlSec, err := strconv.Atoi(ttlStr)
	if err != nil {
		r.Logger.Println("REDIS: Invalid RSVP_CLAIM_TTL_SECONDS value '" + ttlStr + "', using default 10 seconds")
		return defaultTTL
	}

	return time.Duration(ttlSec) * time.Second
}

func claimKey(eventID, userID string) string {
	return "rsvp_claim:" + eventID + ":" + userID
}

// ClaimReservation takes the claim for an (event, user) pair. A false
// return means another reserve call for the same pair is in flight.
func (r *Redis) ClaimReservation(eventID, userID string) (bool, error) {
	key := claimKey(eventID, userID)
	ok, err := r.Client.SetNX(context.Background(), key, userID, r.getClaimTTL()).Result()
	return ok, err
}

// ReleaseClaim drops the claim so the requester can retry immediately
// after a failed reserve. Already-expired claims are not an error.
func (r *Redis) ReleaseClaim(eventID, userID string) error {
	ctx := context.Background()
	key := claimKey(eventID, userID)
	val, err := r.Client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil // already released
	}
	if err != nil {
		return err
	}
	if val == userID {
		_, err := r.Client.Del(ctx, key).Result()
		return err
	}
	return nil
}
