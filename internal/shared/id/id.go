// Package id mints prefixed ULIDs for invocations and trace spans, for
// example "inv_01HZX3...". They sort by creation time, which keeps the log
// of a busy host readable.
package id

import (
	"crypto/rand"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Kind is the prefix naming what an id identifies.
type Kind string

const (
	KindInvocation Kind = "inv"
	KindTrace      Kind = "trc"
	KindSpan       Kind = "spn"
)

// ID is a prefixed ULID.
type ID string

func (i ID) String() string { return string(i) }

// Kind returns the prefix, or "" if i is malformed.
func (i ID) Kind() Kind {
	k, _, err := split(i)
	if err != nil {
		return ""
	}
	return k
}

// Time is the creation time encoded in the ULID half.
func (i ID) Time() (time.Time, error) {
	_, u, err := split(i)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(u.Time()), nil
}

var ErrMalformed = errors.New("malformed id")

// Parse validates s as an id of kind k.
func Parse(k Kind, s string) (ID, error) {
	got, _, err := split(ID(s))
	if err != nil {
		return "", err
	}
	if got != k {
		return "", ErrMalformed
	}
	return ID(s), nil
}

func split(i ID) (Kind, ulid.ULID, error) {
	prefix, rest, ok := strings.Cut(string(i), "_")
	if !ok || prefix == "" {
		return "", ulid.ULID{}, ErrMalformed
	}
	u, err := ulid.ParseStrict(rest)
	if err != nil {
		return "", ulid.ULID{}, ErrMalformed
	}
	return Kind(prefix), u, nil
}

// Source mints ids. Within one millisecond ids from the same Source are
// strictly increasing.
type Source struct {
	mu      sync.Mutex
	entropy io.Reader
	now     func() time.Time
}

// NewSource reads entropy from r, crypto/rand when nil.
func NewSource(r io.Reader) *Source {
	if r == nil {
		r = rand.Reader
	}
	return &Source{entropy: ulid.Monotonic(r, 0), now: time.Now}
}

// New mints an id of kind k.
func (s *Source) New(k Kind) ID {
	s.mu.Lock()
	u := ulid.MustNew(ulid.Timestamp(s.now()), s.entropy)
	s.mu.Unlock()
	return ID(string(k) + "_" + u.String())
}

var shared = NewSource(nil)

func NewInvocation() ID { return shared.New(KindInvocation) }
func NewTrace() ID      { return shared.New(KindTrace) }
func NewSpan() ID       { return shared.New(KindSpan) }
