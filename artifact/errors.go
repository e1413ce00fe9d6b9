package artifact

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/redis/go-redis/v9"
)

// Sentinel errors for fetch failure classification.
// Use errors.Is(err, ErrXxx) for typed assertions.
var (
	// ErrNotFound indicates the artifact does not exist (ENOENT, NoSuchKey, redis nil).
	ErrNotFound = errors.New("artifact not found")

	// ErrAccessDenied indicates valid credentials without permission.
	ErrAccessDenied = errors.New("access denied")

	// ErrAuth indicates missing or rejected credentials.
	ErrAuth = errors.New("authentication failed")

	// ErrTimeout indicates the fetch timed out.
	ErrTimeout = errors.New("fetch timed out")

	// ErrThrottled indicates rate limiting (SlowDown, 429).
	ErrThrottled = errors.New("rate limited")

	// ErrNetwork indicates a network-level failure (connection refused, DNS).
	ErrNetwork = errors.New("network error")

	// ErrTooLarge indicates the artifact exceeds the configured size limit.
	ErrTooLarge = errors.New("artifact too large")

	// ErrUnsupported indicates a reference with an unknown scheme.
	ErrUnsupported = errors.New("unsupported artifact reference")

	// ErrFetch is the kind for failures that fit no other class.
	ErrFetch = errors.New("fetch failed")
)

// FetchError wraps an underlying error with its classification.
type FetchError struct {
	// Kind is the sentinel for classification (e.g., ErrNotFound).
	Kind error
	// Source is the backend that failed ("file", "s3", "redis").
	Source string
	// Ref is the artifact reference involved.
	Ref string
	// Err is the underlying error.
	Err error
}

func (e *FetchError) Error() string {
	if e.Err == nil || errors.Is(e.Err, e.Kind) {
		return fmt.Sprintf("%s %s: %v", e.Source, e.Ref, e.Kind)
	}
	return fmt.Sprintf("%s %s: %v: %v", e.Source, e.Ref, e.Kind, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As chain traversal.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target sentinel.
func (e *FetchError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// wrapFetchError classifies err. Returns nil if err is nil.
func wrapFetchError(source, ref string, err error) error {
	if err == nil {
		return nil
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return err
	}
	return &FetchError{Kind: classifyError(err), Source: source, Ref: ref, Err: err}
}

// classifyError maps backend errors onto the sentinels. Typed errors are
// checked first; message patterns catch what the SDKs leave untyped.
func classifyError(err error) error {
	var (
		noSuchKey *s3types.NoSuchKey
		notFound  *s3types.NotFound
		apiErr    smithy.APIError
		netErr    *net.OpError
		timeout   interface{ Timeout() bool }
	)

	switch {
	case errors.Is(err, ErrTooLarge):
		return ErrTooLarge
	case errors.Is(err, os.ErrNotExist), errors.Is(err, redis.Nil),
		errors.As(err, &noSuchKey), errors.As(err, &notFound):
		return ErrNotFound
	case errors.Is(err, os.ErrPermission):
		return ErrAccessDenied
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	case errors.As(err, &timeout) && timeout.Timeout():
		return ErrTimeout
	case errors.As(err, &apiErr):
		return classifyCode(apiErr.ErrorCode())
	case errors.As(err, &netErr):
		return ErrNetwork
	}
	return classifyMessage(err.Error())
}

func classifyCode(code string) error {
	switch code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return ErrNotFound
	case "AccessDenied", "Forbidden", "AllAccessDisabled":
		return ErrAccessDenied
	case "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken", "InvalidToken":
		return ErrAuth
	case "SlowDown", "Throttling", "ThrottlingException", "RequestLimitExceeded":
		return ErrThrottled
	case "RequestTimeout":
		return ErrTimeout
	}
	return ErrFetch
}

func classifyMessage(msg string) error {
	msg = strings.ToLower(msg)
	switch {
	case containsAny(msg, "noauth", "wrongpass", "no credential", "unauthorized"):
		return ErrAuth
	case containsAny(msg, "connection refused", "no route to host", "network unreachable", "no such host"):
		return ErrNetwork
	case containsAny(msg, "timeout", "timed out"):
		return ErrTimeout
	}
	return ErrFetch
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
