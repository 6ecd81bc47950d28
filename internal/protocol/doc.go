// Package protocol implements the Myo armband GATT wire protocol.
//
// It covers:
//   - Command encoding (set mode, vibration, LEDs, sleep, unlock, deep sleep, user action)
//   - Notification decoding (EMG, filtered EMG, IMU, classifier and motion events)
//   - Informational characteristics (firmware version, battery level, device name)
//   - The fixed GATT handle layout with the UUID of every characteristic
//
// Everything in this package is stateless and free of side effects. Decoders
// fail only on payload length (or opcode) mismatches; enumerated values the
// firmware may add later are preserved as raw values and reported as unknown.
package protocol
