package keys

import (
	"errors"
	"strings"
	"sync"
)

// ErrNoCredentials is a configuration error: the rotator needs at least one key
var ErrNoCredentials = errors.New("no upstream API credentials configured")

// Credential is an opaque upstream API key
type Credential string

// Rotator hands out credentials round-robin. It is built once at startup and
// shared by every request.
type Rotator struct {
	mu    sync.Mutex
	creds []Credential
	next  int
}

// NewRotator creates a rotator over keys, in order. Blank entries are
// dropped; an empty result is ErrNoCredentials.
func NewRotator(keys []string) (*Rotator, error) {
	creds := make([]Credential, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			creds = append(creds, Credential(k))
		}
	}
	if len(creds) == 0 {
		return nil, ErrNoCredentials
	}
	return &Rotator{creds: creds}, nil
}

// Next returns the credential at the cursor and its index, then advances
// the cursor. The cursor stays in [0, Len()).
func (r *Rotator) Next() (Credential, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.next
	r.next = (r.next + 1) % len(r.creds)
	return r.creds[idx], idx
}

// Len returns the number of credentials
func (r *Rotator) Len() int {
	return len(r.creds)
}

// Fingerprint masks a credential for logs, keeping only its last 4 characters
func Fingerprint(c Credential) string {
	s := string(c)
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}
