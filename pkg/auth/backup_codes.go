package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

const (
	// BackupCodeCount is the number of codes issued per batch.
	BackupCodeCount = 10
	// BackupCodeLength is the number of characters in a code.
	BackupCodeLength = 8

	backupCodeChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// BackupCodeBatch holds a freshly generated batch. Plain is handed to the
// user once; only Hashes are persisted.
type BackupCodeBatch struct {
	Plain  []string
	Hashes []string
}

// GenerateBackupCodes produces BackupCodeCount random codes and their hashes.
func GenerateBackupCodes() (*BackupCodeBatch, error) {
	batch := &BackupCodeBatch{
		Plain:  make([]string, BackupCodeCount),
		Hashes: make([]string, BackupCodeCount),
	}
	for i := 0; i < BackupCodeCount; i++ {
		code, err := generateBackupCode()
		if err != nil {
			return nil, fmt.Errorf("failed to generate backup code: %w", err)
		}
		hash, err := HashSecret(code)
		if err != nil {
			return nil, fmt.Errorf("failed to hash backup code: %w", err)
		}
		batch.Plain[i] = code
		batch.Hashes[i] = hash
	}
	return batch, nil
}

// generateBackupCode draws BackupCodeLength characters uniformly from crypto/rand.
func generateBackupCode() (string, error) {
	max := big.NewInt(int64(len(backupCodeChars)))
	var b strings.Builder
	b.Grow(BackupCodeLength)
	for i := 0; i < BackupCodeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(backupCodeChars[n.Int64()])
	}
	return b.String(), nil
}

// NormalizeBackupCode uppercases and strips spaces and dashes.
func NormalizeBackupCode(code string) string {
	code = strings.ReplaceAll(code, "-", "")
	code = strings.ReplaceAll(code, " ", "")
	return strings.ToUpper(code)
}

// validBackupCode reports whether a normalized code has the issued shape.
func validBackupCode(code string) bool {
	if len(code) != BackupCodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(backupCodeChars, code[i]) < 0 {
			return false
		}
	}
	return true
}

// validTOTPCode reports whether code is exactly six decimal digits.
func validTOTPCode(code string) bool {
	if len(code) != 6 {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
