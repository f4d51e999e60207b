package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestValidationErrorNamesAllFields(t *testing.T) {
	err := &ValidationError{
		Entity: "brews",
		Fields: []FieldError{
			{Field: "method_id", Reason: "required field missing"},
			{Field: "rating", Reason: "value 9 above maximum 5"},
		},
	}
	msg := err.Error()
	for _, want := range []string{"brews", "method_id", "rating"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("error message %q missing %q", msg, want)
		}
	}
	if !IsValidation(fmt.Errorf("create: %w", err)) {
		t.Fatal("IsValidation should see through wrapping")
	}
	if IsValidation(errors.New("other")) {
		t.Fatal("IsValidation matched an unrelated error")
	}
}

func TestLockTimeoutError(t *testing.T) {
	err := &LockTimeoutError{Path: "/data/house/brews.json", Timeout: 250 * time.Millisecond}
	if !strings.Contains(err.Error(), "brews.json") {
		t.Fatalf("error message %q missing path", err.Error())
	}
	if !IsLockTimeout(fmt.Errorf("wrapped: %w", err)) {
		t.Fatal("IsLockTimeout should see through wrapping")
	}
	if IsLockTimeout(ErrNotFound) {
		t.Fatal("IsLockTimeout matched ErrNotFound")
	}
}

func TestMigrationErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := &MigrationError{From: "1.3", To: "1.4", Err: cause}
	if !errors.Is(err, cause) {
		t.Fatal("MigrationError should unwrap to its cause")
	}
	if !strings.Contains(err.Error(), "1.3->1.4") {
		t.Fatalf("error message %q missing version pair", err.Error())
	}
}
