package domain

import (
	"errors"
	"fmt"
	"strings"
)

// TariffCode identifies a subscription tier. The set of codes is closed.
type TariffCode string

const (
	TariffTest TariffCode = "TEST"
	TariffS    TariffCode = "S"
	TariffM    TariffCode = "M"
	TariffFree TariffCode = "FREE"
)

// DefaultTariff is assigned to new users and to users whose paid tariff expired.
const DefaultTariff = TariffTest

// ErrUnknownTariff is returned for any code outside the catalog.
var ErrUnknownTariff = errors.New("unknown tariff")

// Checks is a check allotment. UnlimitedChecks marks an unbounded allotment.
type Checks int

const UnlimitedChecks Checks = -1

func (c Checks) IsUnlimited() bool {
	return c == UnlimitedChecks
}

func (c Checks) String() string {
	if c.IsUnlimited() {
		return "∞"
	}
	return fmt.Sprintf("%d", int(c))
}

// Tariff is a static catalog entry.
type Tariff struct {
	Code         TariffCode
	Name         string
	MaxChecks    Checks
	DurationDays int   // 0 = never expires
	Price        int64 // kopecks
}

// Purchasable reports whether the tariff can be bought through the payment gateway.
func (t Tariff) Purchasable() bool {
	return t.Price > 0
}

// Lookup returns the catalog entry for a code.
func (c TariffCode) Lookup() (Tariff, error) {
	switch c {
	case TariffTest:
		return Tariff{Code: TariffTest, Name: "Test", MaxChecks: 5, DurationDays: 0, Price: 0}, nil
	case TariffS:
		return Tariff{Code: TariffS, Name: "S", MaxChecks: 100, DurationDays: 31, Price: 119000}, nil
	case TariffM:
		return Tariff{Code: TariffM, Name: "M", MaxChecks: 300, DurationDays: 31, Price: 297000}, nil
	case TariffFree:
		return Tariff{Code: TariffFree, Name: "Free", MaxChecks: UnlimitedChecks, DurationDays: 0, Price: 0}, nil
	}
	return Tariff{}, fmt.Errorf("%w: %q", ErrUnknownTariff, string(c))
}

// ParseTariffCode validates a code received from outside the process.
func ParseTariffCode(s string) (TariffCode, error) {
	code := TariffCode(strings.ToUpper(strings.TrimSpace(s)))
	if _, err := code.Lookup(); err != nil {
		return "", &Error{Code: EINVALID, Op: "tariff.parse", Message: "unknown tariff code", Err: err}
	}
	return code, nil
}

// Tariffs returns the full catalog in display order.
func Tariffs() []Tariff {
	codes := []TariffCode{TariffTest, TariffS, TariffM, TariffFree}
	out := make([]Tariff, 0, len(codes))
	for _, c := range codes {
		t, _ := c.Lookup()
		out = append(out, t)
	}
	return out
}

// PurchasableTariffs returns the tariffs offered for sale.
func PurchasableTariffs() []Tariff {
	var out []Tariff
	for _, t := range Tariffs() {
		if t.Purchasable() {
			out = append(out, t)
		}
	}
	return out
}
