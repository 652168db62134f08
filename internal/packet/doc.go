// Package packet implements the little-endian frame codec shared by the
// coordinator and channel servers.
//
// Layout conventions:
//   - Integers are fixed width, little-endian (int = int32, short = int16)
//   - Booleans are a single byte (0 or 1)
//   - Strings are a uint16 byte length followed by the raw bytes
//   - Fixed-size arrays (fingerprints, session keys, IPv4 hosts) are raw bytes
package packet
