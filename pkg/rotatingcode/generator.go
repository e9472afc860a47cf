// Package rotatingcode derives short-lived numeric customer codes from a
// long-lived secret. Codes carry no identity: the same (secret, step) always
// yields the same code and nothing about the secret can be read back from it.
package rotatingcode

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"
)

const (
	// PayloadPrefix tags the scannable form so terminals can tell codes from other barcodes.
	PayloadPrefix = "LT1:"

	secretBytes    = 20
	minSecretBytes = 16
	keyInfo        = "lealtad/rotating-code/v1"
)

var (
	secretEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

	ErrInvalidSecret = errors.New("rotating code secret is not valid base32 of at least 16 bytes")
)

// Options configures a Generator.
type Options struct {
	Digits     int
	Step       time.Duration
	DriftSteps int
	Pepper     string
}

// Generator computes codes for any secret. It holds no per-customer state.
type Generator struct {
	digits  int
	modulo  uint64
	stepSec int64
	drift   int
	pepper  []byte
}

func New(opts Options) (*Generator, error) {
	if opts.Digits < 6 || opts.Digits > 10 {
		return nil, fmt.Errorf("digits must be between 6 and 10, got %d", opts.Digits)
	}
	if opts.Step < time.Second {
		return nil, fmt.Errorf("step must be at least one second, got %s", opts.Step)
	}
	if opts.DriftSteps < 0 {
		return nil, fmt.Errorf("drift steps must not be negative")
	}
	modulo := uint64(1)
	for i := 0; i < opts.Digits; i++ {
		modulo *= 10
	}
	return &Generator{
		digits:  opts.Digits,
		modulo:  modulo,
		stepSec: int64(opts.Step / time.Second),
		drift:   opts.DriftSteps,
		pepper:  []byte(opts.Pepper),
	}, nil
}

func (g *Generator) Digits() int { return g.digits }

// StepDuration returns the rotation period.
func (g *Generator) StepDuration() time.Duration {
	return time.Duration(g.stepSec) * time.Second
}

// Step returns the time step containing t.
func (g *Generator) Step(t time.Time) int64 {
	unix := t.Unix()
	step := unix / g.stepSec
	if unix < 0 && unix%g.stepSec != 0 {
		step--
	}
	return step
}

// StepStart returns the instant step begins.
func (g *Generator) StepStart(step int64) time.Time {
	return time.Unix(step*g.stepSec, 0).UTC()
}

// SecondsUntilRotation returns how long the current code at t stays current.
func (g *Generator) SecondsUntilRotation(t time.Time) int {
	next := g.StepStart(g.Step(t) + 1)
	remaining := next.Sub(t)
	secs := int((remaining + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

// DriftWindow returns the steps a lookup at step must consult, oldest first.
func (g *Generator) DriftWindow(step int64) []int64 {
	steps := make([]int64, 0, 2*g.drift+1)
	for s := step - int64(g.drift); s <= step+int64(g.drift); s++ {
		steps = append(steps, s)
	}
	return steps
}

// DriftSteps returns the tolerated clock skew in steps.
func (g *Generator) DriftSteps() int { return g.drift }

// Key derives the per-customer code key from a secret. Callers that compute
// many steps for one secret should derive once and reuse the Key.
func (g *Generator) Key(secret string) (Key, error) {
	raw, err := decodeSecret(secret)
	if err != nil {
		return Key{}, err
	}
	mac := make([]byte, sha256.Size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, raw, g.pepper, []byte(keyInfo)), mac); err != nil {
		return Key{}, fmt.Errorf("derive code key: %w", err)
	}
	return Key{mac: mac, digits: g.digits, modulo: g.modulo}, nil
}

// Code is shorthand for Key(secret).Code(step).
func (g *Generator) Code(secret string, step int64) (Code, error) {
	key, err := g.Key(secret)
	if err != nil {
		return "", err
	}
	return key.Code(step), nil
}

// Window is what a customer device shows: the current code plus its neighbours.
type Window struct {
	Step                 int64
	Previous             Code
	Current              Code
	Next                 Code
	SecondsUntilRotation int
	RotatesAt            time.Time
}

func (g *Generator) Window(secret string, at time.Time) (Window, error) {
	key, err := g.Key(secret)
	if err != nil {
		return Window{}, err
	}
	step := g.Step(at)
	return Window{
		Step:                 step,
		Previous:             key.Code(step - 1),
		Current:              key.Code(step),
		Next:                 key.Code(step + 1),
		SecondsUntilRotation: g.SecondsUntilRotation(at),
		RotatesAt:            g.StepStart(step + 1),
	}, nil
}

// Normalize accepts either the scannable payload or a hand-typed code and
// returns the bare digits. ok is false for anything that cannot be a code.
func (g *Generator) Normalize(input string) (string, bool) {
	s := strings.TrimSpace(input)
	if len(s) >= len(PayloadPrefix) && strings.EqualFold(s[:len(PayloadPrefix)], PayloadPrefix) {
		s = s[len(PayloadPrefix):]
	}
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-':
		default:
			return "", false
		}
	}
	if b.Len() != g.digits {
		return "", false
	}
	return b.String(), true
}

// Key is a derived per-customer HMAC key.
type Key struct {
	mac    []byte
	digits int
	modulo uint64
}

// Code computes the code for step: HMAC-SHA256 over the big-endian step,
// dynamically truncated to 63 bits and reduced to the configured width.
func (k Key) Code(step int64) Code {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(step))
	h := hmac.New(sha256.New, k.mac)
	h.Write(msg[:])
	sum := h.Sum(nil)

	offset := int(sum[len(sum)-1] & 0x0f)
	bin := binary.BigEndian.Uint64(sum[offset:offset+8]) & 0x7fffffffffffffff
	return Code(fmt.Sprintf("%0*d", k.digits, bin%k.modulo))
}

// Code is a fixed-width numeric code.
type Code string

func (c Code) String() string { return string(c) }

// Payload is the string encoded into the QR/barcode.
func (c Code) Payload() string {
	return PayloadPrefix + string(c)
}

// ManualEntry groups digits for reading aloud or typing.
func (c Code) ManualEntry() string {
	s := string(c)
	group := 4
	if len(s)%3 == 0 {
		group = 3
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && i%group == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// NewSecret issues a fresh random secret in its storage encoding.
func NewSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random secret: %w", err)
	}
	return secretEncoding.EncodeToString(buf), nil
}

// ValidateSecret reports whether secret can key a generator.
func ValidateSecret(secret string) error {
	_, err := decodeSecret(secret)
	return err
}

// CanonicalSecret returns the storage encoding of secret. Case, padding and
// unused trailing bits do not change the derived key, so two inputs that
// canonicalise to the same string are the same secret.
func CanonicalSecret(secret string) (string, error) {
	raw, err := decodeSecret(secret)
	if err != nil {
		return "", err
	}
	return secretEncoding.EncodeToString(raw), nil
}

func decodeSecret(secret string) ([]byte, error) {
	clean := strings.ToUpper(strings.TrimRight(strings.TrimSpace(secret), "="))
	raw, err := secretEncoding.DecodeString(clean)
	if err != nil || len(raw) < minSecretBytes {
		return nil, ErrInvalidSecret
	}
	return raw, nil
}
