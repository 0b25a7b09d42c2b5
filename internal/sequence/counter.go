// Package sequence allocates the per-organization order numbers.
package sequence

import (
	"context"
	"fmt"
	"regexp"

	"workorders/internal/domain"
)

// Counter hands out strictly increasing numbers per organization. Values are never
// reused; gaps are allowed.
type Counter interface {
	Next(ctx context.Context, orgID string) (int64, error)
}

var orgIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidateOrgID rejects identifiers that cannot name a counter.
func ValidateOrgID(orgID string) error {
	if !orgIDPattern.MatchString(orgID) {
		return fmt.Errorf("%w: %q", domain.ErrInvalidTenant, orgID)
	}
	return nil
}

func unavailable(orgID string, err error) error {
	return fmt.Errorf("%w: org %s: %v", domain.ErrCounterUnavailable, orgID, err)
}
