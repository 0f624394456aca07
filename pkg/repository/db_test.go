package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
)

func TestConfig_DSN(t *testing.T) {
	cfg := Config{
		Host:     "localhost",
		Port:     25432,
		User:     "postgres",
		Password: "secret",
		DBName:   "trustgate",
		SSLMode:  "disable",
	}

	want := "host=localhost port=25432 user=postgres password=secret dbname=trustgate sslmode=disable"
	if got := cfg.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "plain error", err: errors.New("boom"), want: false},
		{name: "unique violation", err: &pq.Error{Code: "23505"}, want: true},
		{name: "wrapped unique violation", err: fmt.Errorf("insert: %w", &pq.Error{Code: "23505"}), want: true},
		{name: "foreign key violation", err: &pq.Error{Code: "23503"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isUniqueViolation(tt.err); got != tt.want {
				t.Errorf("isUniqueViolation() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRepositories_Structure(t *testing.T) {
	codes := NewMFABackupCodesRepository(nil)
	if codes == nil {
		t.Fatal("NewMFABackupCodesRepository should not return nil")
	}
	factors := NewMFAFactorsRepository(nil, codes)
	if factors.codes != codes {
		t.Error("factors repository should share the backup codes repository")
	}

	if NewBansRepository(nil) == nil {
		t.Error("NewBansRepository should not return nil")
	}
	if NewWarningsRepository(nil) == nil {
		t.Error("NewWarningsRepository should not return nil")
	}
	if NewMFAAttemptsRepository(nil) == nil {
		t.Error("NewMFAAttemptsRepository should not return nil")
	}

	t.Log("MFABackupCodesRepository.MarkUsed only matches rows WHERE used_at IS NULL")
	t.Log("MFAFactorsRepository.Create maps unique violations to domain.ErrEnrollmentConflict")
}
