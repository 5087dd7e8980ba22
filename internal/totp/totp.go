// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package totp provides the client-side pieces of the two-factor flow.
//
// Verification of a login code is the backend's job; this package only
// normalizes user input and, during enrollment, lets the user confirm their
// authenticator app against the freshly issued secret before the backend
// ever sees a code.
package totp

import (
	"errors"
	"strings"
	"unicode"

	"github.com/pquerna/otp/totp"
)

// CodeLength is the digit count of a standard TOTP code.
const CodeLength = 6

// ErrBadCode is returned when user input is not a plausible TOTP code.
var ErrBadCode = errors.New("code must be 6 digits")

// Normalize strips spaces from user input and checks it looks like a TOTP
// code, catching typos locally before a network round trip.
func Normalize(input string) (string, error) {
	code := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, input)

	if len(code) != CodeLength {
		return "", ErrBadCode
	}
	for _, r := range code {
		if !unicode.IsDigit(r) {
			return "", ErrBadCode
		}
	}
	return code, nil
}

// ConfirmEnrollment checks a code against the secret issued during 2FA setup.
// Used to verify the user's authenticator app is in sync before enabling
// two-factor on the account.
func ConfirmEnrollment(secret, code string) bool {
	normalized, err := Normalize(code)
	if err != nil {
		return false
	}
	return totp.Validate(normalized, secret)
}
