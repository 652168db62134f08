// Package relay forwards opaque client payloads between channels.
package relay
