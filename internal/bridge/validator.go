package bridge

import (
	"context"
	"log/slog"
)

// ValidationThreshold is how many consecutive missing/inactive reads of the
// local user the validator tolerates before forcing a logout. The hysteresis
// absorbs the multi-second windows where the upstream active flag lags
// reality during reconnect storms.
const ValidationThreshold = 10

// validate cross-checks the believed identity against a freshly fetched
// user list. Runs opportunistically on system/status reads, never on a
// timer. A session that is not explicit, or has no tracked user id, has
// nothing to validate and resets the streak.
func (c *Client) validate(users []User) {
	c.mu.Lock()
	if !c.machine.Session.Explicit || c.machine.Session.CurrentUserID == "" {
		c.validationMisses = 0
		c.mu.Unlock()
		return
	}
	uid := c.machine.Session.CurrentUserID

	alive := false
	for _, u := range users {
		if u.ID == uid && u.Active {
			alive = true
			break
		}
	}
	if alive {
		c.validationMisses = 0
		c.mu.Unlock()
		return
	}

	c.validationMisses++
	n := c.validationMisses
	exhausted := n >= ValidationThreshold
	if exhausted {
		c.validationMisses = 0
	}
	c.mu.Unlock()

	slog.Debug("session validation miss", "user", uid, "consecutive", n)
	if exhausted {
		c.forceLogout("user absent or inactive in authoritative list")
	}
}

// maybeValidate triggers a throttled user refetch purely to feed the
// validator. Skipped entirely when there is nothing to validate.
func (c *Client) maybeValidate(ctx context.Context) {
	c.mu.Lock()
	skip := !c.machine.Session.Explicit || c.machine.Session.CurrentUserID == ""
	if skip {
		c.validationMisses = 0
	}
	c.mu.Unlock()
	if skip || !c.refetch.Allow() {
		return
	}

	// GetUsers runs the validator on its result; failures here are soft.
	if _, err := c.GetUsers(ctx, false); err != nil {
		slog.Debug("validation refetch failed", "error", err)
	}
}
