// Package aaerr defines the error kinds raised across the transport,
// framing, and AOAP discovery layers, each carrying an optional
// native error and string context.
package aaerr

import (
	"errors"
	"fmt"
)

// Kind enumerates the error kinds raised by the core.
type Kind int

const (
	KindUnknown Kind = iota

	// USB device setup (aoap.Create).
	KindUSBClaimInterface
	KindUSBObtainConfigDescriptor
	KindUSBInvalidConfigDescriptor
	KindUSBEmptyInterfaces
	KindUSBObtainInterfaceDescriptor
	KindUSBInvalidDeviceEndpoints

	// USBEndpoint.
	KindUSBInvalidTransferMethod
	KindUSBTransferAllocation
	KindUSBTransfer

	// AOAP query chain.
	KindUSBAOAPProtocolVersion
	KindUSBSendIdentificationString
	KindUSBAccessoryStart

	// TCP.
	KindTCPTransfer

	// Shared lifecycle.
	KindOperationAborted
	KindOperationInProgress
	KindSendQueueOverflow

	// Service layer (surfaced for completeness; raised externally).
	KindParsePayload

	// Cryptor.
	KindSSLHandshake
	KindSSLRead
	KindSSLWrite
)

func (k Kind) String() string {
	switch k {
	case KindUSBClaimInterface:
		return "USB_CLAIM_INTERFACE"
	case KindUSBObtainConfigDescriptor:
		return "USB_OBTAIN_CONFIG_DESCRIPTOR"
	case KindUSBInvalidConfigDescriptor:
		return "USB_INVALID_CONFIG_DESCRIPTOR"
	case KindUSBEmptyInterfaces:
		return "USB_EMPTY_INTERFACES"
	case KindUSBObtainInterfaceDescriptor:
		return "USB_OBTAIN_INTERFACE_DESCRIPTOR"
	case KindUSBInvalidDeviceEndpoints:
		return "USB_INVALID_DEVICE_ENDPOINTS"
	case KindUSBInvalidTransferMethod:
		return "USB_INVALID_TRANSFER_METHOD"
	case KindUSBTransferAllocation:
		return "USB_TRANSFER_ALLOCATION"
	case KindUSBTransfer:
		return "USB_TRANSFER"
	case KindUSBAOAPProtocolVersion:
		return "USB_AOAP_PROTOCOL_VERSION"
	case KindUSBSendIdentificationString:
		return "USB_SEND_IDENTIFICATION_STRING"
	case KindUSBAccessoryStart:
		return "USB_ACCESSORY_START"
	case KindTCPTransfer:
		return "TCP_TRANSFER"
	case KindOperationAborted:
		return "OPERATION_ABORTED"
	case KindOperationInProgress:
		return "OPERATION_IN_PROGRESS"
	case KindSendQueueOverflow:
		return "SEND_QUEUE_OVERFLOW"
	case KindParsePayload:
		return "PARSE_PAYLOAD"
	case KindSSLHandshake:
		return "SSL_HANDSHAKE"
	case KindSSLRead:
		return "SSL_READ"
	case KindSSLWrite:
		return "SSL_WRITE"
	default:
		return "UNKNOWN"
	}
}

// Error is the carrier type for every error this module raises: a Kind
// plus an optional wrapped native error and optional string context.
type Error struct {
	Kind    Kind
	Native  error
	Context string
}

// New creates an Error of the given kind with no native cause.
func New(kind Kind) *Error {
	return &Error{Kind: kind}
}

// Wrap creates an Error of the given kind wrapping a native cause.
func Wrap(kind Kind, native error) *Error {
	return &Error{Kind: kind, Native: native}
}

// WithContext creates an Error of the given kind carrying a string
// context and optional native cause.
func WithContext(kind Kind, context string, native error) *Error {
	return &Error{Kind: kind, Context: context, Native: native}
}

func (e *Error) Error() string {
	switch {
	case e.Native != nil && e.Context != "":
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Context, e.Native)
	case e.Native != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Native)
	case e.Context != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Context)
	default:
		return e.Kind.String()
	}
}

// Unwrap exposes the wrapped native error to errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Native }

// Is reports whether target is an *Error of the same Kind, letting
// callers write errors.Is(err, aaerr.New(aaerr.KindOperationAborted)).
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}

// Aborted reports whether err is (or wraps) an OPERATION_ABORTED error.
func Aborted(err error) bool {
	return errors.Is(err, New(KindOperationAborted))
}

// KindOf extracts the Kind from err if it is (or wraps) an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return KindUnknown, false
}
