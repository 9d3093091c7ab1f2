package usertoken

import (
	"fmt"
	"time"
)

const (
	rejectNotFound = "Invalid token. Please check your API key."
	rejectExpired  = "Your token has expired. Please contact the administrator to renew it."
)

// Validate checks token and IP against expiry, IP-binding limits, and
// curfew, binding the IP if it is new and the token is accepted.
// Grounded on original_source/src-tauri/src/modules/user_token_db.rs's
// validate_token.
func (s *Store) Validate(tokenValue, ip string) (ok bool, reason string, err error) {
	t, err := s.GetByValue(tokenValue)
	if err != nil {
		return false, "", err
	}
	if t == nil {
		return false, rejectNotFound, nil
	}
	if !t.Enabled {
		return false, "This token has been disabled.", nil
	}

	if t.ExpiresAt != nil && *t.ExpiresAt < time.Now().Unix() {
		return false, rejectExpired, nil
	}

	if t.MaxIPs > 0 {
		bound, count, err := s.ipBindingStatus(t.ID, ip)
		if err != nil {
			return false, "", err
		}
		if !bound && count >= t.MaxIPs {
			return false, fmt.Sprintf(
				"IP limit reached (%d/%d). Please contact the administrator to increase the limit.", count, t.MaxIPs,
			), nil
		}
	}

	if t.CurfewStart != "" && t.CurfewEnd != "" {
		if inCurfew(t.CurfewStart, t.CurfewEnd, time.Now()) {
			return false, fmt.Sprintf(
				"Service is not available between %s and %s (Curfew enabled). Current server time: %s",
				t.CurfewStart, t.CurfewEnd, time.Now().Format("15:04"),
			), nil
		}
	}

	return true, "", nil
}

// ipBindingStatus reports whether ip is already bound to tokenID, and how
// many distinct IPs are currently bound.
func (s *Store) ipBindingStatus(tokenID, ip string) (bound bool, count int, err error) {
	if err := s.db.QueryRow(
		`SELECT EXISTS(SELECT 1 FROM token_ip_bindings WHERE token_id = ? AND ip_address = ?)`,
		tokenID, ip,
	).Scan(&bound); err != nil {
		return false, 0, fmt.Errorf("failed to check ip binding: %w", err)
	}
	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM token_ip_bindings WHERE token_id = ?`, tokenID,
	).Scan(&count); err != nil {
		return false, 0, fmt.Errorf("failed to count ip bindings: %w", err)
	}
	return bound, count, nil
}

// inCurfew reports whether now's HH:MM falls within [start, end), where
// start > end means the window wraps past midnight (e.g. 23:00 to 06:00).
func inCurfew(start, end string, now time.Time) bool {
	current := now.Format("15:04")
	if start > end {
		return current >= start || current < end
	}
	return current >= start && current < end
}
