package authcore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const backupCodeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// twoFactorManager implements the TOTP and backup-code mechanics. Backup
// codes are stored as a fixed-length list of SHA-256 fingerprints with null
// slots for consumed codes, and the list is sealed with AES-256-GCM before
// it reaches the store (hash-then-encrypt, both layers kept).
type twoFactorManager struct {
	config TwoFactorConfig
	clock  Clock
	aead   cipher.AEAD
}

func newTwoFactorManager(cfg TwoFactorConfig, clock Clock) (*twoFactorManager, error) {
	block, err := aes.NewCipher(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("two-factor encryption key: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &twoFactorManager{config: cfg, clock: clock, aead: aead}, nil
}

// GenerateSecret creates a fresh TOTP secret and its otpauth provisioning
// URI for the given account label. QR rendering is the caller's concern.
func (m *twoFactorManager) GenerateSecret(account string) (string, string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.config.Issuer,
		AccountName: account,
		Period:      m.config.Period,
		Digits:      otp.Digits(m.config.Digits),
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", "", err
	}
	return key.Secret(), key.URL(), nil
}

// VerifyTOTP checks a code against the secret at the current clock time,
// tolerating one time step of drift in either direction. Replay within a
// step is not detected here; that is an accepted TOTP limitation.
func (m *twoFactorManager) VerifyTOTP(secret, code string) bool {
	ok, err := totp.ValidateCustom(code, secret, m.clock().UTC(), totp.ValidateOpts{
		Period:    m.config.Period,
		Skew:      m.config.Skew,
		Digits:    otp.Digits(m.config.Digits),
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// GenerateBackupCodes produces the configured number of single-use codes in
// XXXX-XXXX form over [0-9A-Z].
func (m *twoFactorManager) GenerateBackupCodes() ([]string, error) {
	codes := make([]string, m.config.BackupCodes)
	for i := range codes {
		code, err := randomBackupCode()
		if err != nil {
			return nil, err
		}
		codes[i] = code
	}
	return codes, nil
}

func randomBackupCode() (string, error) {
	buf := make([]byte, 9)
	for i := range buf {
		if i == 4 {
			buf[i] = '-'
			continue
		}
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(backupCodeAlphabet))))
		if err != nil {
			return "", err
		}
		buf[i] = backupCodeAlphabet[n.Int64()]
	}
	return string(buf), nil
}

// SealBackupCodes fingerprints each code and encrypts the fingerprint list.
func (m *twoFactorManager) SealBackupCodes(codes []string) ([]byte, error) {
	slots := make([]*string, len(codes))
	for i, code := range codes {
		fp := fingerprint(code)
		slots[i] = &fp
	}
	return m.seal(slots)
}

// ConsumeBackupCode scans the sealed list for the code's fingerprint. On a
// match it nulls that slot and returns the re-sealed blob; a consumed slot
// can never verify again. The caller persists the returned blob under the
// account lock.
func (m *twoFactorManager) ConsumeBackupCode(blob []byte, code string) ([]byte, bool, error) {
	slots, err := m.open(blob)
	if err != nil {
		return nil, false, err
	}

	fp := fingerprint(code)
	matched := -1
	// Full scan regardless of where the match lands, comparing fingerprints
	// in constant time per slot.
	for i, slot := range slots {
		if slot == nil {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(fp), []byte(*slot)) == 1 && matched < 0 {
			matched = i
		}
	}
	if matched < 0 {
		return nil, false, nil
	}

	slots[matched] = nil
	resealed, err := m.seal(slots)
	if err != nil {
		return nil, false, err
	}
	return resealed, true, nil
}

// RemainingBackupCodes counts unconsumed slots in a sealed list.
func (m *twoFactorManager) RemainingBackupCodes(blob []byte) (int, error) {
	if len(blob) == 0 {
		return 0, nil
	}
	slots, err := m.open(blob)
	if err != nil {
		return 0, err
	}
	remaining := 0
	for _, slot := range slots {
		if slot != nil {
			remaining++
		}
	}
	return remaining, nil
}

func (m *twoFactorManager) seal(slots []*string) ([]byte, error) {
	plain, err := json.Marshal(slots)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, m.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return m.aead.Seal(nonce, nonce, plain, nil), nil
}

func (m *twoFactorManager) open(blob []byte) ([]*string, error) {
	if len(blob) < m.aead.NonceSize() {
		return nil, errors.New("backup code blob too short")
	}
	nonce, sealed := blob[:m.aead.NonceSize()], blob[m.aead.NonceSize():]
	plain, err := m.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, errors.New("backup code blob unreadable")
	}
	var slots []*string
	if err := json.Unmarshal(plain, &slots); err != nil {
		return nil, errors.New("backup code blob corrupt")
	}
	return slots, nil
}

func fingerprint(code string) string {
	sum := sha256.Sum256([]byte(code))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
