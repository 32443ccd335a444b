// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package id

import (
	"encoding/base64"
	"fmt"

	"github.com/hashicorp/go-uuid"
)

// DefaultEntropyBytes is the number of random bytes used by Random when a
// size isn't specified.
const DefaultEntropyBytes = 32

// New generates a random UUID with an optional prefix. The result is suitable
// for opaque identifiers such as session ids.
func New(optionalPrefix string) (string, error) {
	id, err := uuid.GenerateUUID()
	if err != nil {
		return "", fmt.Errorf("unable to generate id: %w", err)
	}
	switch {
	case optionalPrefix != "":
		return fmt.Sprintf("%s_%s", optionalPrefix, id), nil
	default:
		return id, nil
	}
}

// Random returns size bytes of crypto random data encoded as unpadded
// base64url text. A size <= 0 uses DefaultEntropyBytes.
func Random(size int) (string, error) {
	if size <= 0 {
		size = DefaultEntropyBytes
	}
	b, err := uuid.GenerateRandomBytes(size)
	if err != nil {
		return "", fmt.Errorf("unable to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
