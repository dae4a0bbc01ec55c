package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// DefaultMTU is the ATT MTU every link starts with before negotiation.
const DefaultMTU = 23

// Descriptor identifies a discovered peripheral. Identity is ID; Name is the
// advertised local name and may be empty.
type Descriptor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	RSSI int    `json:"rssi,omitempty"`
}

// DisplayName returns the name, or the id when the peripheral is anonymous.
func (d Descriptor) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.ID
}

// DialOptions tune a connection attempt.
type DialOptions struct {
	// MTU requested during negotiation; zero skips the exchange.
	MTU int
	// Service and Characteristic select the notification source. When empty
	// the first notifiable characteristic is used.
	Service        string
	Characteristic string
}

// Transport is the radio strategy a client is constructed with.
type Transport interface {
	// Scan reports advertisements until ctx is done. Implementations may
	// report the same peripheral many times.
	Scan(ctx context.Context, handler func(Descriptor)) error
	// Dial connects to a peripheral. Cancelling ctx aborts the attempt.
	Dial(ctx context.Context, d Descriptor, opts DialOptions) (Link, error)
}

// Link is one live connection.
type Link interface {
	Descriptor() Descriptor
	// MTU is the negotiated (or default) MTU.
	MTU() int
	// Subscribe enables notifications. The handler is called from the radio
	// stack's goroutine and must not block.
	Subscribe(handler func([]byte)) error
	// Unsubscribe disables notifications; calling it when not subscribed is a no-op.
	Unsubscribe() error
	// Disconnected is closed when the link drops for any reason.
	Disconnected() <-chan struct{}
	// Close tears the link down. It is safe to call more than once.
	Close() error
}

// NotFoundError represents a missing GATT resource on a connected peripheral
type NotFoundError struct {
	Resource string // "service", "characteristic"
	UUIDs    []string
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
}

// ScanError reports a discovery failure. Partial results are returned
// alongside it by the client.
type ScanError struct {
	Err error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("scan failed: %v", e.Err)
}

func (e *ScanError) Unwrap() error { return e.Err }

// ConnectionState represents the specific kind of connection failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	Unreachable      ConnectionState = "unreachable"
	Rejected         ConnectionState = "rejected"
	TimedOut         ConnectionState = "timeout"
	Canceled         ConnectionState = "canceled"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
	Err   error
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch {
	case e.Msg == "" && e.Err == nil:
		return string(e.State)
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.State, e.Msg)
	case e.Msg == "":
		return fmt.Sprintf("%s: %v", e.State, e.Err)
	default:
		return fmt.Sprintf("%s: %s: %v", e.State, e.Msg, e.Err)
	}
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrUnreachable      = &ConnectionError{State: Unreachable}
	ErrRejected         = &ConnectionError{State: Rejected}
	ErrConnectTimeout   = &ConnectionError{State: TimedOut}
	ErrConnectCanceled  = &ConnectionError{State: Canceled}
)

// Operation errors
var (
	ErrBluetoothOff = errors.New("bluetooth is turned off")
	ErrUnsupported  = errors.New("unsupported")
)

// NewConnectionError builds a ConnectionError wrapping cause.
func NewConnectionError(state ConnectionState, msg string, cause error) *ConnectionError {
	return &ConnectionError{State: state, Msg: msg, Err: cause}
}

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// ClassifyDialError maps a dial failure to a ConnectionError. Context
// expiry wins over whatever the backend reported, so an unresponsive
// peripheral always surfaces as a timeout.
func ClassifyDialError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return err
	}
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return NewConnectionError(TimedOut, "peripheral did not respond", err)
	case errors.Is(ctx.Err(), context.Canceled), errors.Is(err, context.Canceled):
		return NewConnectionError(Canceled, "connect aborted", err)
	case containsIgnoreCase(err.Error(), "reject"), containsIgnoreCase(err.Error(), "refused"),
		containsIgnoreCase(err.Error(), "not permitted"):
		return NewConnectionError(Rejected, "", err)
	case errors.Is(err, ErrBluetoothOff):
		return err
	default:
		return NewConnectionError(Unreachable, "", err)
	}
}

// containsIgnoreCase checks substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
