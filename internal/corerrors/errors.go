// Package corerrors declares the error taxonomy shared by every component of
// the runtime. Each kind is a concrete type so callers can use errors.As to
// recover structured detail; the argument-less kinds are plain sentinel
// values usable with errors.Is.
package corerrors

import (
	"errors"
	"fmt"
)

// Sentinels for error kinds that carry no extra data.
var (
	ErrTransportClosed = errors.New("transport closed")
	ErrTimeout         = errors.New("timeout")
	ErrWriteError      = errors.New("write error")
	ErrTargetNotFound  = errors.New("target not found")
	ErrTargetDetached  = errors.New("target detached")
	ErrTargetCrashed   = errors.New("target crashed")
	ErrPageCrashed     = errors.New("page crashed")
	ErrPoolClosed      = errors.New("pool closed")
	ErrPoolExhausted   = errors.New("pool exhausted")
	ErrProfileMissing  = errors.New("profile missing")
)

// ProtocolError mirrors a CDP error reply: {code, message, data?}.
type ProtocolError struct {
	Code    int64
	Message string
	Data    any
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error %d: %s", e.Code, e.Message)
}

// NavigationError reports a failed navigation attempt.
type NavigationErrorKind string

const (
	NavDNS      NavigationErrorKind = "dns"
	NavNet      NavigationErrorKind = "net"
	NavAborted  NavigationErrorKind = "aborted"
	NavSSL      NavigationErrorKind = "ssl"
	NavOther    NavigationErrorKind = "other"
)

type NavigationError struct {
	Kind NavigationErrorKind
	URL  string
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigation error (%s) for %s", e.Kind, e.URL)
}

// LifecycleTimeout reports that a navigation wait_until state never arrived.
type LifecycleTimeout struct {
	State string
}

func (e *LifecycleTimeout) Error() string {
	return fmt.Sprintf("lifecycle timeout waiting for state %q", e.State)
}

// ElementNotFound reports a selector that matched nothing within deadline.
type ElementNotFound struct {
	Selector string
}

func (e *ElementNotFound) Error() string {
	return fmt.Sprintf("element not found: %s", e.Selector)
}

// ElementNotVisible reports a selector that matched a hidden element.
type ElementNotVisible struct {
	Selector string
}

func (e *ElementNotVisible) Error() string {
	return fmt.Sprintf("element not visible: %s", e.Selector)
}

// NoBoundingBox reports a selector whose element has no content quad.
type NoBoundingBox struct {
	Selector string
}

func (e *NoBoundingBox) Error() string {
	return fmt.Sprintf("no bounding box: %s", e.Selector)
}

// ScriptError carries a JS exception summary from Runtime.evaluate.
type ScriptError struct {
	Text string
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("script error: %s", e.Text)
}

// NetworkEntryEvicted reports that a waiter's target entry left the ring
// before it resolved; only returned to waiters that opted in.
type NetworkEntryEvicted struct {
	RequestID string
}

func (e *NetworkEntryEvicted) Error() string {
	return fmt.Sprintf("network entry evicted: %s", e.RequestID)
}

// ProfileLocked reports a profile directory held by another live process.
type ProfileLocked struct {
	PID int
}

func (e *ProfileLocked) Error() string {
	return fmt.Sprintf("profile locked by pid %d", e.PID)
}

// UnsupportedSelectorMode reports a Locator mode a given query engine can't
// evaluate, e.g. an XPath locator reaching the session-mode (HTTP-only, no
// DOM) query path, which only understands CSS.
type UnsupportedSelectorMode struct {
	Mode   string
	Engine string
}

func (e *UnsupportedSelectorMode) Error() string {
	return fmt.Sprintf("%s locator not supported by %s", e.Mode, e.Engine)
}
