package counter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/quillforge/quillforge/app/repository"
	"github.com/quillforge/quillforge/internal/pkg/cache"
	"github.com/quillforge/quillforge/internal/pkg/database"
)

const (
	tokenValidationsKey = "user:counters:token_validations"
	checkoutStartsKey   = "billing:counters:checkout_starts"
)

// AddTokenValidation increments the pending validation counter for a user
// in Redis. Non-critical: callers log and continue on error.
func AddTokenValidation(userID uint) error {
	ctx := context.Background()
	field := strconv.FormatUint(uint64(userID), 10)
	return cache.GetClient().HIncrBy(ctx, tokenValidationsKey, field, 1).Err()
}

// AddCheckoutStart increments the pending checkout counter for a plan.
func AddCheckoutStart(plan string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, checkoutStartsKey, plan, 1).Err()
}

// FlushAll drains every pending counter hash into the database.
func FlushAll() error {
	if err := flushValidationCounters(); err != nil {
		return err
	}
	return flushCheckoutCounters()
}

// drainHash atomically takes over a Redis hash via RENAME so in-flight
// increments land in a fresh hash instead of getting lost. Returns nil
// when nothing is pending.
func drainHash(hashKey string) (map[string]string, error) {
	ctx := context.Background()
	client := cache.GetClient()

	tmpKey := fmt.Sprintf("%s:flush:%d", hashKey, time.Now().UnixNano())
	if err := client.Rename(ctx, hashKey, tmpKey).Err(); err != nil {
		// Nothing pending.
		return nil, nil
	}
	defer client.Del(ctx, tmpKey)

	return client.HGetAll(ctx, tmpKey).Result()
}

// flushValidationCounters applies batched per-user validation counts
// through the user repository.
func flushValidationCounters() error {
	pending, err := drainHash(tokenValidationsKey)
	if err != nil {
		return err
	}
	repo := repository.GetGlobalFactory().GetUserRepository()
	for userID, delta := range parseUserDeltas(pending) {
		if err := repo.AddValidationCount(uint(userID), delta); err != nil {
			return err
		}
	}
	return nil
}

// flushCheckoutCounters accumulates per-plan checkout starts into the
// plan_counters table.
func flushCheckoutCounters() error {
	pending, err := drainHash(checkoutStartsKey)
	if err != nil {
		return err
	}
	db := database.GetDB()
	for plan, delta := range parsePlanDeltas(pending) {
		if err := db.Exec(
			"INSERT INTO plan_counters (plan, checkout_starts) VALUES (?, ?) "+
				"ON DUPLICATE KEY UPDATE checkout_starts = checkout_starts + VALUES(checkout_starts)",
			plan, delta,
		).Error; err != nil {
			return err
		}
	}
	return nil
}

// parseUserDeltas converts a drained hash into user-id keyed deltas,
// dropping malformed fields and zero deltas.
func parseUserDeltas(pending map[string]string) map[uint64]int64 {
	out := make(map[uint64]int64, len(pending))
	for field, raw := range pending {
		userID, err := strconv.ParseUint(field, 10, 64)
		if err != nil {
			continue
		}
		delta, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || delta == 0 {
			continue
		}
		out[userID] = delta
	}
	return out
}

// parsePlanDeltas converts a drained hash into plan keyed deltas.
func parsePlanDeltas(pending map[string]string) map[string]int64 {
	out := make(map[string]int64, len(pending))
	for plan, raw := range pending {
		if plan == "" {
			continue
		}
		delta, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || delta == 0 {
			continue
		}
		out[plan] = delta
	}
	return out
}
