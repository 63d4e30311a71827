package authcore

import (
	"bytes"
	"testing"
)

func newTestTwoFactorManager(t *testing.T) *twoFactorManager {
	t.Helper()
	cfg := testConfig().TwoFactor
	m, err := newTwoFactorManager(cfg, newFakeClock().Now)
	if err != nil {
		t.Fatalf("new manager failed: %v", err)
	}
	return m
}

func TestSealedBackupCodesAreOpaque(t *testing.T) {
	m := newTestTwoFactorManager(t)

	codes, err := m.GenerateBackupCodes()
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	sealed, err := m.SealBackupCodes(codes)
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}

	for _, code := range codes {
		if bytes.Contains(sealed, []byte(code)) {
			t.Fatalf("sealed blob contains plaintext code %q", code)
		}
	}
}

func TestConsumeBackupCodeRejectsTamperedBlob(t *testing.T) {
	m := newTestTwoFactorManager(t)

	codes, err := m.GenerateBackupCodes()
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	sealed, err := m.SealBackupCodes(codes)
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}

	tampered := bytes.Clone(sealed)
	tampered[len(tampered)-1] ^= 0xff
	if _, _, err := m.ConsumeBackupCode(tampered, codes[0]); err == nil {
		t.Error("tampered blob accepted")
	}

	if _, _, err := m.ConsumeBackupCode([]byte("short"), codes[0]); err == nil {
		t.Error("truncated blob accepted")
	}
}

func TestConsumeBackupCodeUnknownCode(t *testing.T) {
	m := newTestTwoFactorManager(t)

	codes, err := m.GenerateBackupCodes()
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	sealed, err := m.SealBackupCodes(codes)
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}

	resealed, ok, err := m.ConsumeBackupCode(sealed, "ZZZZ-ZZZZ")
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if ok || resealed != nil {
		t.Error("unknown code reported as consumed")
	}

	remaining, err := m.RemainingBackupCodes(sealed)
	if err != nil {
		t.Fatalf("remaining failed: %v", err)
	}
	if remaining != len(codes) {
		t.Errorf("remaining = %d, want %d", remaining, len(codes))
	}
}

func TestRemainingBackupCodesEmptyBlob(t *testing.T) {
	m := newTestTwoFactorManager(t)
	remaining, err := m.RemainingBackupCodes(nil)
	if err != nil {
		t.Fatalf("remaining failed: %v", err)
	}
	if remaining != 0 {
		t.Errorf("remaining = %d, want 0", remaining)
	}
}
