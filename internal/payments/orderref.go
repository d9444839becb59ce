package payments

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const orderRefPrefix = "WEB"

// ErrInvalidOrderRef is returned for references that are not WEB_<user>_<millis>.
var ErrInvalidOrderRef = errors.New("invalid order reference")

// OrderRef is a parsed order reference.
type OrderRef struct {
	UserID    string
	CreatedAt time.Time
}

// BuildOrderRef returns WEB_<userID>_<epochMillis>.
func BuildOrderRef(userID string, t time.Time) string {
	return fmt.Sprintf("%s_%s_%d", orderRefPrefix, userID, t.UnixMilli())
}

// ParseOrderRef recovers the owning user from a reference. The user id is
// everything between the prefix and the final timestamp segment, so ids that
// contain underscores survive the round trip.
func ParseOrderRef(ref string) (OrderRef, error) {
	ref = strings.TrimSpace(ref)
	parts := strings.Split(ref, "_")
	if len(parts) < 3 || parts[0] != orderRefPrefix {
		return OrderRef{}, fmt.Errorf("%w: %q", ErrInvalidOrderRef, ref)
	}

	millis, err := strconv.ParseInt(parts[len(parts)-1], 10, 64)
	if err != nil || millis < 0 {
		return OrderRef{}, fmt.Errorf("%w: %q", ErrInvalidOrderRef, ref)
	}

	userID := strings.Join(parts[1:len(parts)-1], "_")
	if userID == "" {
		return OrderRef{}, fmt.Errorf("%w: %q", ErrInvalidOrderRef, ref)
	}

	return OrderRef{UserID: userID, CreatedAt: time.UnixMilli(millis).UTC()}, nil
}
