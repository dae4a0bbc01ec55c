// Package device defines the transport boundary between the streaming client
// and a radio stack.
//
// A Transport discovers peripherals and dials them; a Link is one live
// connection with a single notification stream. Implementations live in
// sub-packages:
//   - go-ble: real Bluetooth Low Energy radio via github.com/go-ble/ble
//   - simulated: synthetic ECG, PPG and structured-packet peripherals
//
// Errors crossing the boundary are normalized to the typed errors declared
// here so callers can use errors.Is / errors.As regardless of the backend.
package device
