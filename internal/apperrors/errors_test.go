package apperrors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAppErrorConstructors(t *testing.T) {
	tests := []struct {
		name       string
		err        *AppError
		wantCode   string
		wantStatus int
	}{
		{"bad request", BadRequest("nope"), CodeInvalidRequest, http.StatusBadRequest},
		{"validation", ValidationError("missing field"), CodeValidationError, http.StatusBadRequest},
		{"unauthorized", Unauthorized("no token"), CodeUnauthorized, http.StatusUnauthorized},
		{"invalid credentials", InvalidCredentials(), CodeInvalidCredentials, http.StatusUnauthorized},
		{"invalid token", InvalidToken("bad"), CodeInvalidToken, http.StatusUnauthorized},
		{"token expired", TokenExpired(), CodeTokenExpired, http.StatusUnauthorized},
		{"forbidden", Forbidden("not yours"), CodeForbidden, http.StatusForbidden},
		{"not found", NotFound("channel"), CodeNotFound, http.StatusNotFound},
		{"conflict", Conflict("taken"), CodeConflict, http.StatusConflict},
		{"user exists", UserExists(), CodeUserExists, http.StatusConflict},
		{"internal", InternalError("boom"), CodeInternalError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", tt.err.Code, tt.wantCode)
			}
			if tt.err.HTTPStatus != tt.wantStatus {
				t.Errorf("HTTPStatus = %d, want %d", tt.err.HTTPStatus, tt.wantStatus)
			}
		})
	}
}

func TestNotFoundMessage(t *testing.T) {
	err := NotFound("channel")
	if err.Message != "channel not found" {
		t.Errorf("Message = %q, want %q", err.Message, "channel not found")
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := DatabaseError("query failed").WithCause(cause)

	if !errors.Is(err, cause) {
		t.Error("wrapped cause not reachable via errors.Is")
	}
	if got := err.Error(); got == "" || got == cause.Error() {
		t.Errorf("Error() = %q, want code, message and cause", got)
	}
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, "req-123", NotFound("user").WithDetails("id was not recognized"))

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if got := w.Header().Get(RequestIDHeader); got != "req-123" {
		t.Errorf("request id header = %q, want req-123", got)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if resp.Success {
		t.Error("success = true, want false")
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("statusCode = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
	if len(resp.Errors) != 1 || resp.Errors[0] != "id was not recognized" {
		t.Errorf("errors = %v, want the detail string", resp.Errors)
	}
}

func TestWriteErrorWrapsUnknown(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, "", fmt.Errorf("something leaked"))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}

	// The raw internal error text must not reach the client.
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if resp.Message == "something leaked" {
		t.Error("internal error message leaked to the client")
	}
	if resp.Errors == nil {
		t.Error("errors must be an empty array, not null")
	}
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, "req-456", http.StatusCreated, map[string]string{"username": "alice"}, "user registered successfully")

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}

	var resp struct {
		StatusCode int               `json:"statusCode"`
		Data       map[string]string `json:"data"`
		Message    string            `json:"message"`
		Success    bool              `json:"success"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if !resp.Success {
		t.Error("success = false, want true")
	}
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("statusCode = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	if resp.Data["username"] != "alice" {
		t.Errorf("data = %v, want username alice", resp.Data)
	}
	if resp.Message != "user registered successfully" {
		t.Errorf("message = %q", resp.Message)
	}
}

func TestHandleFunc(t *testing.T) {
	handler := HandleFunc(func(w http.ResponseWriter, r *http.Request) error {
		return Unauthorized("missing access token")
	})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestHandleFuncNoError(t *testing.T) {
	handler := HandleFunc(func(w http.ResponseWriter, r *http.Request) error {
		WriteJSON(w, "", http.StatusOK, struct{}{}, "ok")
		return nil
	})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	})

	t.Run("generated when absent", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		w := httptest.NewRecorder()
		RequestIDMiddleware(next).ServeHTTP(w, r)

		if seen == "" {
			t.Error("request id missing from context")
		}
		if got := w.Header().Get(RequestIDHeader); got != seen {
			t.Errorf("header = %q, context = %q; want equal", got, seen)
		}
	})

	t.Run("incoming id preserved", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set(RequestIDHeader, "client-supplied")
		w := httptest.NewRecorder()
		RequestIDMiddleware(next).ServeHTTP(w, r)

		if seen != "client-supplied" {
			t.Errorf("context id = %q, want client-supplied", seen)
		}
	})
}

func TestCategoryPredicates(t *testing.T) {
	if !IsClientError(NotFound("user")) {
		t.Error("NotFound should be a client error")
	}
	if IsClientError(InternalError("boom")) {
		t.Error("InternalError should not be a client error")
	}
	if !IsServerError(DatabaseError("down")) {
		t.Error("DatabaseError should be a server error")
	}
	if IsServerError(errors.New("plain")) {
		t.Error("plain errors are not categorized")
	}
}
