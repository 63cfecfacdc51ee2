package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("join: %w", New(CodeSessionClosed, "map is closed"))
	if !HasCode(err, CodeSessionClosed) {
		t.Fatal("expected wrapped error to match SESSION_CLOSED")
	}
	if HasCode(err, CodeForbidden) {
		t.Fatal("did not expect wrapped error to match FORBIDDEN")
	}
}

func TestCodeOfUnknownForPlainErrors(t *testing.T) {
	if got := CodeOf(stderrors.New("plain")); got != CodeUnknown {
		t.Fatalf("CodeOf = %q, want %q", got, CodeUnknown)
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := stderrors.New("disk full")
	err := Wrap(CodePersistenceFailure, "save map", cause)
	if !stderrors.Is(err, cause) {
		t.Fatal("expected cause to be reachable through Unwrap")
	}
	if err.Error() != "save map: disk full" {
		t.Fatalf("Error() = %q", err.Error())
	}
}

func TestWireCodes(t *testing.T) {
	cases := map[Code]string{
		CodeUnauthenticated:    "UNAUTHENTICATED",
		CodeInvalidArgument:    "INVALID_ARGUMENT",
		CodeNotFound:           "NOT_FOUND",
		CodeForbidden:          "FORBIDDEN",
		CodeNotJoined:          "FORBIDDEN",
		CodeSessionClosed:      "FAILED_PRECONDITION",
		CodeOwnerOffline:       "UNAVAILABLE",
		CodePersistenceFailure: "UNAVAILABLE",
		CodeUnknown:            "INTERNAL",
	}
	for code, want := range cases {
		if got := code.WireCode(); got != want {
			t.Fatalf("%s.WireCode() = %q, want %q", code, got, want)
		}
	}
}

func TestGRPCCodeAndRetryable(t *testing.T) {
	if CodePersistenceFailure.GRPCCode() != codes.Unavailable {
		t.Fatalf("persistence failure maps to %v", CodePersistenceFailure.GRPCCode())
	}
	if !CodePersistenceFailure.Retryable() {
		t.Fatal("expected persistence failure to be retryable")
	}
	if CodeForbidden.Retryable() {
		t.Fatal("did not expect forbidden to be retryable")
	}
}

func TestResourceOf(t *testing.T) {
	err := WithMetadata(CodeNotFound, "user not found", map[string]string{MetadataResource: "user"})
	if got := ResourceOf(fmt.Errorf("join: %w", err)); got != "user" {
		t.Fatalf("ResourceOf = %q, want user", got)
	}
	if got := ResourceOf(stderrors.New("plain")); got != "" {
		t.Fatalf("ResourceOf(plain) = %q, want empty", got)
	}
}

func TestMetadataOf(t *testing.T) {
	err := WithMetadata(CodeNotFound, "map not found", map[string]string{"MapID": "7"})
	if got := MetadataOf(fmt.Errorf("wrap: %w", err))["MapID"]; got != "7" {
		t.Fatalf("MapID metadata = %q, want 7", got)
	}
}
