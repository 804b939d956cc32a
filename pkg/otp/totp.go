// Package otp generates time-based one-time passwords (RFC 6238) from a
// base32 seed. It is a pure function of seed and time so account login flows
// can be tested with a fixed clock.
package otp

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

const (
	// Period is the TOTP time step
	Period = 30 * time.Second
	// Digits is the code length
	Digits = 6
)

// Code returns the 6-digit TOTP code for the seed at time t.
// The seed is base32 as issued by the platform; spaces and case are ignored.
func Code(seed string, t time.Time) (string, error) {
	normalized := strings.ToUpper(strings.ReplaceAll(seed, " ", ""))
	key, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.TrimRight(normalized, "="))
	if err != nil {
		return "", fmt.Errorf("invalid OTP seed: %w", err)
	}

	counter := uint64(t.Unix()) / uint64(Period/time.Second)

	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(sha1.New, key)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	// Dynamic truncation per RFC 4226 §5.3
	offset := sum[len(sum)-1] & 0x0f
	code := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	return fmt.Sprintf("%06d", code%1000000), nil
}

// Now returns the code for the current time
func Now(seed string) (string, error) {
	return Code(seed, time.Now())
}
