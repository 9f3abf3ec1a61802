// Copyright 2025 The Camellones Authors
// SPDX-License-Identifier: Apache-2.0

package imagery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

var (
	// ErrExternalService matches every *TileError, and wraps failures of
	// the model backends.
	ErrExternalService = errors.New("external service failure")
	// ErrClassifierUnavailable is returned when a classifier can't be
	// reached or isn't configured. It's fatal before processing starts.
	ErrClassifierUnavailable = errors.New("classifier unavailable")
)

// TileError represents failures fetching satellite imagery.
type TileError struct {
	Type    ErrorType
	Message string
	Err     error
}

// ErrorType classifies tile errors.
type ErrorType int

const (
	// ErrorTypeUnknown unknown error.
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeRateLimit rate limit reached.
	ErrorTypeRateLimit
	// ErrorTypeQuotaExceeded quota exceeded or key rejected.
	ErrorTypeQuotaExceeded
	// ErrorTypeTimeout connection timeout.
	ErrorTypeTimeout
	// ErrorTypeNotFound tile doesn't exist.
	ErrorTypeNotFound
	// ErrorTypeInvalidRequest malformed request.
	ErrorTypeInvalidRequest
	// ErrorTypeNetworkError network or upstream failure.
	ErrorTypeNetworkError
	// ErrorTypeInvalidImage the payload isn't a decodable image.
	ErrorTypeInvalidImage
)

var errorTypeNames = map[ErrorType]string{
	ErrorTypeUnknown:        "unknown",
	ErrorTypeRateLimit:      "rate_limit",
	ErrorTypeQuotaExceeded:  "quota_exceeded",
	ErrorTypeTimeout:        "timeout",
	ErrorTypeNotFound:       "not_found",
	ErrorTypeInvalidRequest: "invalid_request",
	ErrorTypeNetworkError:   "network_error",
	ErrorTypeInvalidImage:   "invalid_image",
}

func (t ErrorType) String() string {
	if s, ok := errorTypeNames[t]; ok {
		return s
	}

	return fmt.Sprintf("ErrorType(%d)", int(t))
}

func (e *TileError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}

	return e.Message
}

func (e *TileError) Unwrap() error {
	return e.Err
}

// Is makes every tile error match ErrExternalService.
func (e *TileError) Is(target error) bool {
	return target == ErrExternalService
}

// IsRateLimitError tells whether err is due to a rate limit.
func IsRateLimitError(err error) bool {
	var tileErr *TileError
	if errors.As(err, &tileErr) {
		return tileErr.Type == ErrorTypeRateLimit
	}

	errStr := strings.ToLower(err.Error())

	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "429")
}

// IsQuotaExceededError tells whether err is due to an exhausted quota or a
// rejected key.
func IsQuotaExceededError(err error) bool {
	var tileErr *TileError
	if errors.As(err, &tileErr) {
		return tileErr.Type == ErrorTypeQuotaExceeded
	}

	errStr := strings.ToLower(err.Error())

	return strings.Contains(errStr, "over_query_limit") ||
		strings.Contains(errStr, "quota exceeded")
}

// IsTimeoutError tells whether err is a timeout.
func IsTimeoutError(err error) bool {
	var tileErr *TileError
	if errors.As(err, &tileErr) {
		return tileErr.Type == ErrorTypeTimeout
	}

	errStr := strings.ToLower(err.Error())

	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded")
}

// ClassifyHTTPError maps a non 200 status of a tile server to a TileError.
// The body, when any, is kept as detail.
func ClassifyHTTPError(statusCode int, body string) *TileError {
	var e *TileError

	switch statusCode {
	case http.StatusTooManyRequests: // 429
		e = &TileError{
			Type:    ErrorTypeRateLimit,
			Message: "rate limit reached",
		}
	case http.StatusUnauthorized, http.StatusForbidden: // 401, 403
		e = &TileError{
			Type:    ErrorTypeQuotaExceeded,
			Message: "quota exceeded or access denied",
		}
	case http.StatusBadRequest: // 400
		e = &TileError{
			Type:    ErrorTypeInvalidRequest,
			Message: "invalid request",
		}
	case http.StatusNotFound: // 404
		e = &TileError{
			Type:    ErrorTypeNotFound,
			Message: "tile not found",
		}
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		e = &TileError{
			Type:    ErrorTypeNetworkError,
			Message: fmt.Sprintf("service unavailable (status %d)", statusCode),
		}
	default:
		e = &TileError{
			Type:    ErrorTypeUnknown,
			Message: fmt.Sprintf("HTTP error %d", statusCode),
		}
	}

	if body = strings.TrimSpace(body); body != "" {
		e.Err = errors.New(body)
	}

	return e
}

// classifyTransportError wraps a failed round trip.
func classifyTransportError(err error) *TileError {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &TileError{Type: ErrorTypeTimeout, Message: "tile request timed out", Err: err}
	}

	return &TileError{Type: ErrorTypeNetworkError, Message: "tile request failed", Err: err}
}
