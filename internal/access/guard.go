// Package access gates sheet operations behind an optional 4-digit PIN.
// PINs are stored as bcrypt hashes and every denial is uniform, so a caller
// probing the API cannot tell a wrong PIN from a sheet that does not exist.
package access

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"gridbook/internal/core"
	applog "gridbook/internal/log"
)

// PINStore is the slice of the repository the guard needs.
type PINStore interface {
	GetSheetPINHash(ctx context.Context, sheetID string) (string, error)
}

type Guard struct {
	store PINStore
	log   *applog.Logger
}

func NewGuard(store PINStore, logger *applog.Logger) *Guard {
	return &Guard{store: store, log: logger.WithComponent(applog.ComponentAccess)}
}

// HashPIN bcrypt-hashes a PIN for storage. An empty PIN yields an empty
// hash, meaning the sheet is unprotected.
func HashPIN(pin string) (string, error) {
	if err := core.ValidatePIN(pin); err != nil {
		return "", fmt.Errorf("%w: %w", core.ErrValidation, err)
	}
	if pin == "" {
		return "", nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing pin: %w", err)
	}
	return string(hash), nil
}

// Check grants access to a sheet. Unprotected sheets always pass. For
// protected sheets the supplied PIN must match; all failure modes,
// including an unknown sheet, map to the same denial.
func (g *Guard) Check(ctx context.Context, sheetID, pin string) error {
	hash, err := g.store.GetSheetPINHash(ctx, sheetID)
	if err != nil {
		if core.IsNotFound(err) {
			return core.ErrAccessDenied
		}
		return fmt.Errorf("loading pin hash: %w", err)
	}
	if hash == "" {
		return nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin)); err != nil {
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			g.log.WarnContext(ctx, "pin comparison failed",
				applog.FieldSheetID, sheetID, applog.FieldError, err)
		}
		return core.ErrAccessDenied
	}
	return nil
}
