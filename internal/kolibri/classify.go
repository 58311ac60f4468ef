package kolibri

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

const unknownErrorMessage = "unknown error"

var statusMessages = map[int]string{
	400: "Bad request: check the submitted parameters.",
	401: "Authentication required.",
	403: "Access denied.",
	404: "Endpoint not found or unavailable.",
	409: "Conflict: the resource was modified concurrently.",
	429: "Rate limit exceeded, try again later.",
	500: "Internal node error.",
	502: "Bad gateway: upstream node unreachable.",
	503: "Node temporarily unavailable.",
	504: "Gateway timeout: the node did not respond in time.",
}

// Category groups errors for display and metrics.
type Category string

const (
	CategoryAPI     Category = "api"
	CategoryTimeout Category = "timeout"
	CategoryAborted Category = "aborted"
	CategoryNetwork Category = "network"
	CategoryUnknown Category = "unknown"
)

// Classify turns any error into a message fit for display. It never panics.
func Classify(err error) (msg string) {
	defer func() {
		if recover() != nil {
			msg = unknownErrorMessage
		}
	}()
	if err == nil {
		return unknownErrorMessage
	}
	if apiErr, ok := AsAPIError(err); ok {
		if text, ok := statusMessages[apiErr.Status]; ok {
			return text
		}
		detail := strings.TrimSpace(apiErr.Message)
		if detail == "" {
			detail = "The API request failed."
		}
		return fmt.Sprintf("API error (%d). %s", apiErr.Status, detail)
	}
	switch {
	case IsTimeout(err):
		return "Request timed out."
	case IsAborted(err):
		return "Request cancelled."
	}
	if text := strings.TrimSpace(err.Error()); text != "" {
		return text
	}
	return unknownErrorMessage
}

// CategoryOf reports the broad failure class of err.
func CategoryOf(err error) Category {
	if err == nil {
		return CategoryUnknown
	}
	if _, ok := AsAPIError(err); ok {
		return CategoryAPI
	}
	if IsTimeout(err) {
		return CategoryTimeout
	}
	if IsAborted(err) {
		return CategoryAborted
	}
	var netErr *NetworkError
	var opErr net.Error
	if errors.As(err, &netErr) || errors.As(err, &opErr) {
		return CategoryNetwork
	}
	return CategoryUnknown
}

// Describe prefixes the classified message with its category.
func Describe(err error) string {
	return fmt.Sprintf("[%s] %s", CategoryOf(err), Classify(err))
}
