// Package user tracks where every connected character is hosted.
package user
