package access

import (
	"context"
	"errors"
	"testing"

	"gridbook/internal/core"
	applog "gridbook/internal/log"
)

type stubPINStore struct {
	hashes map[string]string
}

func (s *stubPINStore) GetSheetPINHash(_ context.Context, sheetID string) (string, error) {
	hash, ok := s.hashes[sheetID]
	if !ok {
		return "", core.NotFoundErrorf("sheet %s", sheetID)
	}
	return hash, nil
}

func TestHashPIN(t *testing.T) {
	tests := []struct {
		name    string
		pin     string
		wantErr bool
	}{
		{name: "valid pin", pin: "1234"},
		{name: "empty pin is unprotected", pin: ""},
		{name: "too short", pin: "123", wantErr: true},
		{name: "too long", pin: "12345", wantErr: true},
		{name: "non numeric", pin: "12a4", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := HashPIN(tt.pin)
			if tt.wantErr {
				if !core.IsValidation(err) {
					t.Fatalf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.pin == "" && hash != "" {
				t.Fatal("empty pin should produce empty hash")
			}
			if tt.pin != "" && hash == "" {
				t.Fatal("non-empty pin should produce a hash")
			}
		})
	}
}

func TestGuardCheck(t *testing.T) {
	hash, err := HashPIN("1234")
	if err != nil {
		t.Fatalf("hash pin: %v", err)
	}
	store := &stubPINStore{hashes: map[string]string{
		"open":      "",
		"protected": hash,
	}}
	guard := NewGuard(store, applog.New(applog.DefaultConfig()))

	tests := []struct {
		name    string
		sheetID string
		pin     string
		wantErr error
	}{
		{name: "unprotected sheet, no pin", sheetID: "open", pin: ""},
		{name: "unprotected sheet, pin ignored", sheetID: "open", pin: "9999"},
		{name: "protected sheet, correct pin", sheetID: "protected", pin: "1234"},
		{name: "protected sheet, wrong pin", sheetID: "protected", pin: "0000", wantErr: core.ErrAccessDenied},
		{name: "protected sheet, missing pin", sheetID: "protected", pin: "", wantErr: core.ErrAccessDenied},
		{name: "unknown sheet is denied, not revealed", sheetID: "ghost", pin: "1234", wantErr: core.ErrAccessDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := guard.Check(context.Background(), tt.sheetID, tt.pin)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Check() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
