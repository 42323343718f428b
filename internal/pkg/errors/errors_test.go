package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(CodeValidation, "No workflow provided")

	if err.Code != CodeValidation {
		t.Errorf("expected code=%s, got %s", CodeValidation, err.Code)
	}
	if err.Message != "No workflow provided" {
		t.Errorf("unexpected message %q", err.Message)
	}
	if len(err.Stack) == 0 {
		t.Error("expected stack trace to be captured")
	}
}

func TestErrorString(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name:     "simple error",
			err:      New(CodeExecution, "Workflow execution failed"),
			contains: []string{"EXECUTION_FAILED", "Workflow execution failed"},
		},
		{
			name: "error with op",
			err: &Error{
				Code:    CodeSubmission,
				Message: "Failed to queue prompt",
				Op:      "coordinator.submit",
			},
			contains: []string{"coordinator.submit", "SUBMISSION_FAILED", "Failed to queue prompt"},
		},
		{
			name: "error with underlying",
			err: &Error{
				Code:    CodeInternal,
				Message: "wrapper",
				Err:     fmt.Errorf("connection refused"),
			},
			contains: []string{"wrapper", "connection refused"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			str := tt.err.Error()
			for _, c := range tt.contains {
				if !strings.Contains(str, c) {
					t.Errorf("expected error string to contain %q, got: %s", c, str)
				}
			}
		})
	}
}

func TestPublic(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"message only", New(CodeDelivery, "No output files generated"), "No output files generated"},
		{"message and cause", Wrap(fmt.Errorf("dial tcp: refused"), "comfy.history", "history request failed"), "history request failed: dial tcp: refused"},
		{"cause only", &Error{Err: fmt.Errorf("boom")}, "boom"},
		{"plain error", fmt.Errorf("plain"), "plain"},
		{"nil", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PublicMessage(tt.err); got != tt.want {
				t.Errorf("PublicMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	original := fmt.Errorf("original error")
	wrapped := Wrap(original, "service.call", "service call failed")

	if wrapped.Code != CodeInternal {
		t.Errorf("expected code=%s, got %s", CodeInternal, wrapped.Code)
	}
	if wrapped.Op != "service.call" {
		t.Errorf("expected op='service.call', got %s", wrapped.Op)
	}
	if errors.Unwrap(wrapped) != original {
		t.Error("Unwrap should return original error")
	}
	if Wrap(nil, "op", "message") != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestWrapPreservesCode(t *testing.T) {
	original := New(CodeSubmission, "rejected").WithField("status", 400)
	wrapped := Wrap(original, "coordinator", "job failed")

	if wrapped.Code != CodeSubmission {
		t.Errorf("expected code to be preserved as %s, got %s", CodeSubmission, wrapped.Code)
	}
	if wrapped.Fields["status"] != 400 {
		t.Errorf("expected fields to be preserved, got %v", wrapped.Fields)
	}
}

func TestWrapWithCode(t *testing.T) {
	wrapped := WrapWithCode(fmt.Errorf("timeout"), CodeTimeout, "api.call", "request timed out")

	if wrapped.Code != CodeTimeout {
		t.Errorf("expected code=%s, got %s", CodeTimeout, wrapped.Code)
	}
	if WrapWithCode(nil, CodeTimeout, "", "") != nil {
		t.Error("WrapWithCode(nil) should return nil")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code   Code
		status int
	}{
		{CodeValidation, 400},
		{CodeBadRequest, 400},
		{CodeNotFound, 404},
		{CodeSubmission, 422},
		{CodeExecution, 422},
		{CodeDelivery, 422},
		{CodeInternal, 500},
		{CodeUnavailable, 503},
		{CodeTimeout, 504},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := New(tt.code, "test").HTTPStatus(); got != tt.status {
				t.Errorf("expected status=%d, got %d", tt.status, got)
			}
		})
	}

	if GetHTTPStatus(fmt.Errorf("standard")) != 500 {
		t.Error("expected 500 for standard error")
	}
}

func TestConvenienceConstructors(t *testing.T) {
	if err := ValidationField("input.workflow", "No workflow provided"); err.Fields["field"] != "input.workflow" {
		t.Errorf("expected field='input.workflow', got %v", err.Fields["field"])
	}
	if err := Timeout("poll"); err.Code != CodeTimeout || err.Fields["operation"] != "poll" {
		t.Errorf("unexpected timeout error %+v", err)
	}
	if err := Unavailable("comfy"); err.Code != CodeUnavailable {
		t.Errorf("expected code=%s, got %s", CodeUnavailable, err.Code)
	}
}

func TestGetCode(t *testing.T) {
	if GetCode(New(CodeExecution, "x")) != CodeExecution {
		t.Error("expected code from coded error")
	}
	if GetCode(fmt.Errorf("standard error")) != CodeInternal {
		t.Error("expected internal code for standard error")
	}
	if !IsValidation(Wrap(Validation("invalid"), "handler", "wrapped")) {
		t.Error("expected wrapped validation error to keep its code")
	}
	if GetFields(fmt.Errorf("standard")) != nil {
		t.Error("expected nil fields for standard error")
	}
}

func TestStackTrace(t *testing.T) {
	stack := New(CodeInternal, "test error").StackTrace()
	if !strings.Contains(stack, ".go:") {
		t.Errorf("expected stack trace to contain file references, got: %s", stack)
	}
}

func TestErrorIs(t *testing.T) {
	err1 := New(CodeDelivery, "error 1")
	err2 := New(CodeDelivery, "error 2")
	err3 := New(CodeValidation, "error 3")

	if !errors.Is(err1, err2) {
		t.Error("expected errors with same code to match with Is")
	}
	if errors.Is(err1, err3) {
		t.Error("expected errors with different codes to not match")
	}

	wrapped := fmt.Errorf("wrapped: %w", err1)
	var target *Error
	if !As(wrapped, &target) || target.Code != CodeDelivery {
		t.Error("expected As to find Error in chain")
	}
	if !Is(wrapped, err1) {
		t.Error("expected Is to match original error")
	}
}
