package types

import (
	"fmt"
	"log/slog"
)

const redacted = "***REDACTED***"

// SecretString holds a credential. It never prints, logs or serializes its
// value; call Unmask where the plaintext is required.
type SecretString string

var (
	_ fmt.Stringer   = SecretString("")
	_ fmt.GoStringer = SecretString("")
	_ slog.LogValuer = SecretString("")
)

func (s SecretString) String() string   { return redacted }
func (s SecretString) GoString() string { return `"` + redacted + `"` }

// LogValue keeps the secret out of structured logs.
func (s SecretString) LogValue() slog.Value { return slog.StringValue(redacted) }

// MarshalJSON writes the redacted placeholder.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}

// IsSet reports whether a value is present.
func (s SecretString) IsSet() bool { return s != "" }

// Unmask returns the plaintext.
func (s SecretString) Unmask() string { return string(s) }
