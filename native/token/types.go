package token

import (
	"fmt"
	"strings"
)

// Standard identifies which token service implementation owns a mint's type
// descriptor. The custody layer selects the transfer implementation at call
// time by inspecting this value.
type Standard uint8

const (
	StandardLegacy   Standard = 0x01
	StandardExtended Standard = 0x02
)

// Valid reports whether the standard value is within the supported range.
func (s Standard) Valid() bool {
	switch s {
	case StandardLegacy, StandardExtended:
		return true
	default:
		return false
	}
}

func (s Standard) String() string {
	switch s {
	case StandardLegacy:
		return "legacy"
	case StandardExtended:
		return "extended"
	default:
		return fmt.Sprintf("standard(%d)", uint8(s))
	}
}

// ParseStandard converts a configuration string into a Standard.
func ParseStandard(value string) (Standard, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "legacy":
		return StandardLegacy, nil
	case "extended":
		return StandardExtended, nil
	default:
		return 0, fmt.Errorf("token: unknown standard %q", value)
	}
}

// Mint is the registered type descriptor for a fungible asset.
type Mint struct {
	ID       [32]byte
	Decimals uint8
	Standard Standard
}

// Clone returns a copy of the mint descriptor.
func (m *Mint) Clone() *Mint {
	if m == nil {
		return nil
	}
	clone := *m
	return &clone
}

// Account is a custody account holding units of one mint for one owner.
// DepositLamports is the storage deposit charged at creation and refunded when
// the account closes.
type Account struct {
	Mint            [32]byte
	Owner           [20]byte
	Balance         uint64
	DepositLamports uint64
}

// Clone returns a copy of the token account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := *a
	return &clone
}

// AccountDepositLamports is the storage deposit for a token account record.
const AccountDepositLamports uint64 = 2_039_280
