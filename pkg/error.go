package pkg

import "errors"

// Bridge error taxonomy.
var (
	// ErrTransport indicates the controller rejected a transfer submission.
	// Fatal to that transfer only, not to the interface.
	ErrTransport = errors.New("transport error")

	// ErrBusy indicates the transmit buffer is still owned by hardware.
	// The caller may retry.
	ErrBusy = errors.New("resource busy")

	// ErrResourceExhausted indicates no endpoint slot or buffer is free.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrStackRejected indicates the protocol stack declined an inbound frame.
	ErrStackRejected = errors.New("frame rejected by stack")
)

// USB protocol and state errors.
var (
	// ErrStall indicates an endpoint stall condition.
	ErrStall = errors.New("endpoint stalled")

	// ErrNAK indicates the endpoint is not ready to accept data.
	ErrNAK = errors.New("NAK received")

	// ErrTimeout indicates a bounded wait expired.
	ErrTimeout = errors.New("timeout")

	// ErrCancelled indicates a transfer was aborted by endpoint close or reset.
	ErrCancelled = errors.New("transfer cancelled")

	// ErrOverrun indicates more data arrived than the buffer can hold.
	ErrOverrun = errors.New("data overrun")

	// ErrProtocol indicates a protocol error.
	ErrProtocol = errors.New("protocol error")

	// ErrNotConfigured indicates the device or class is not configured.
	ErrNotConfigured = errors.New("not configured")

	// ErrInvalidEndpoint indicates an invalid or unopened endpoint address.
	ErrInvalidEndpoint = errors.New("invalid endpoint")

	// ErrInvalidState indicates an invalid state for the operation.
	ErrInvalidState = errors.New("invalid state")

	// ErrInvalidRequest indicates an invalid or unsupported control request.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrBufferTooSmall indicates the provided buffer is too small.
	ErrBufferTooSmall = errors.New("buffer too small")

	// ErrFrameTooLarge indicates a frame exceeds the maximum segment size.
	ErrFrameTooLarge = errors.New("frame too large")

	// ErrOwnership indicates a buffer was accessed by an actor that does not own it.
	ErrOwnership = errors.New("buffer ownership violation")

	// ErrDescriptorTooShort indicates the descriptor data is too short.
	ErrDescriptorTooShort = errors.New("descriptor too short")

	// ErrDescriptorTypeMismatch indicates the descriptor type does not match expected.
	ErrDescriptorTypeMismatch = errors.New("descriptor type mismatch")

	// ErrSetupPacketTooShort indicates the setup packet data is too short.
	ErrSetupPacketTooShort = errors.New("setup packet too short")

	// ErrAlreadyRunning indicates the component is already running.
	ErrAlreadyRunning = errors.New("already running")

	// ErrNotRunning indicates the component is not running.
	ErrNotRunning = errors.New("not running")

	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")
)

// TransferStatus represents the completion status of a transfer.
type TransferStatus int

// Transfer status values.
const (
	TransferStatusPending   TransferStatus = iota // Submitted, not yet complete
	TransferStatusSuccess                         // Transfer completed successfully
	TransferStatusError                           // Submission or transfer failed
	TransferStatusStall                           // Endpoint stalled
	TransferStatusCancelled                       // Aborted by close or reset
	TransferStatusOverrun                         // Data overrun
)

// String returns a string representation of the transfer status.
func (s TransferStatus) String() string {
	switch s {
	case TransferStatusPending:
		return "pending"
	case TransferStatusSuccess:
		return "success"
	case TransferStatusError:
		return "error"
	case TransferStatusStall:
		return "stall"
	case TransferStatusCancelled:
		return "cancelled"
	case TransferStatusOverrun:
		return "overrun"
	default:
		return "unknown"
	}
}

// Error returns the corresponding error for the transfer status.
func (s TransferStatus) Error() error {
	switch s {
	case TransferStatusPending, TransferStatusSuccess:
		return nil
	case TransferStatusStall:
		return ErrStall
	case TransferStatusCancelled:
		return ErrCancelled
	case TransferStatusOverrun:
		return ErrOverrun
	case TransferStatusError:
		return ErrTransport
	default:
		return ErrProtocol
	}
}
