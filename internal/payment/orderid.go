package payment

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/DukeRupert/reelstat/internal/domain"
)

// ErrInvalidOrderID is returned when an order identifier cannot be decoded.
var ErrInvalidOrderID = errors.New("invalid order id")

// OrderID encodes the purchasing user and tariff so a payment can be traced
// back to them from gateway state alone.
type OrderID struct {
	UserID   int64
	Tariff   domain.TariffCode
	IssuedAt time.Time
}

// String renders userId_tariff_unixMillis.
func (o OrderID) String() string {
	return fmt.Sprintf("%d_%s_%d", o.UserID, o.Tariff, o.IssuedAt.UnixMilli())
}

// ParseOrderID decodes an identifier produced by OrderID.String. The
// timestamp segment is optional.
func ParseOrderID(s string) (OrderID, error) {
	parts := strings.Split(s, "_")
	if len(parts) < 2 || len(parts) > 3 {
		return OrderID{}, fmt.Errorf("%w: %q", ErrInvalidOrderID, s)
	}

	userID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || userID <= 0 {
		return OrderID{}, fmt.Errorf("%w: bad user id in %q", ErrInvalidOrderID, s)
	}

	code := domain.TariffCode(parts[1])
	if _, err := code.Lookup(); err != nil {
		return OrderID{}, fmt.Errorf("%w: %w", ErrInvalidOrderID, err)
	}

	o := OrderID{UserID: userID, Tariff: code}
	if len(parts) == 3 {
		ms, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			return OrderID{}, fmt.Errorf("%w: bad timestamp in %q", ErrInvalidOrderID, s)
		}
		o.IssuedAt = time.UnixMilli(ms).UTC()
	}
	return o, nil
}
