// Package session implements the experimental session resumption blob
// sink of spec.md §9 Open Questions: blobs are written through the same
// RotatingWriter-style atomic-append discipline as every other sink, but
// nothing in this engine reads them back (spec.md §9: "write-only...
// nothing reads them back").
package session

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sync"

	"github.com/QUIC-Lab/quic-lab/internal/agderrors"
	"github.com/QUIC-Lab/quic-lab/internal/rotate"
)

// defaultMaxBytes bounds each per-host session file.  Resumption blobs are
// small and a host gets at most one attempt per retry-ladder variant for
// each time it appears in the domains file, so this is generous
// headroom rather than a tuned limit; unlike the other artifact sinks,
// spec.md §6 names no `*_max_bytes` key for this experimental feature.
const defaultMaxBytes = 1 << 20

// Sink appends opaque per-host session blobs under
// <dir>/<shard>/<host>.session, sharding by the high byte (the first two
// hex digits) of a 32-bit FNV-1a hash of the host the way getShard in grimm-is-flywall's dns service buckets
// cache keys.  Each per-host file is itself a [*rotate.Writer].
type Sink struct {
	dir string

	mu      sync.Mutex
	writers map[string]*rotate.Writer
}

// New creates a *Sink rooted at dir.  dir is created if it does not already
// exist.
func New(dir string) (s *Sink, err error) {
	err = os.MkdirAll(dir, 0o700)
	if err != nil {
		return nil, agderrors.IOf("creating session directory: %w", err)
	}

	return &Sink{
		dir:     dir,
		writers: make(map[string]*rotate.Writer),
	}, nil
}

// shard returns the two-hex-digit directory name for host: the first two
// hex digits of its 32-bit FNV-1a hash.
func shard(host string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(host))

	return fmt.Sprintf("%02x", h.Sum32()>>24)
}

// Write appends blob as host's session resumption state, opening (and
// caching) the host's rotating file on first use.  Write is the sink's only
// operation: session state is never read back within this engine.
func (s *Sink) Write(host string, blob []byte) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.writers[host]
	if !ok {
		w, err = s.open(host)
		if err != nil {
			return err
		}

		s.writers[host] = w
	}

	return w.Write(blob)
}

func (s *Sink) open(host string) (w *rotate.Writer, err error) {
	dir := filepath.Join(s.dir, shard(host))

	err = os.MkdirAll(dir, 0o700)
	if err != nil {
		return nil, agderrors.IOf("creating session shard directory: %w", err)
	}

	w, err = rotate.New(&rotate.Config{
		BasePath: filepath.Join(dir, host+".session"),
		MaxBytes: defaultMaxBytes,
	})
	if err != nil {
		return nil, agderrors.IOf("opening session file for %s: %w", host, err)
	}

	return w, nil
}

// Close closes every rotating file this Sink has opened.
func (s *Sink) Close() (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for host, w := range s.writers {
		closeErr := w.Close()
		if closeErr != nil && err == nil {
			err = agderrors.IOf("closing session file for %s: %w", host, closeErr)
		}
	}

	return err
}

// sessionBlob is the on-disk JSON shape of one resumption record: the
// session ticket plus the marshaled [tls.SessionState], the two halves
// crypto/tls splits a [*tls.ClientSessionState] into.
type sessionBlob struct {
	Ticket []byte `json:"ticket"`
	State  []byte `json:"state"`
}

// PerConnSessionCache is the per-connection view of a shared [*Sink] for
// one host, implementing [tls.ClientSessionCache] so it can be assigned
// directly to tls.Config.ClientSessionCache.
type PerConnSessionCache struct {
	sink *Sink
	host string
}

// ForConn returns a [*PerConnSessionCache] that persists session tickets for
// host into s.
func (s *Sink) ForConn(host string) *PerConnSessionCache {
	return &PerConnSessionCache{sink: s, host: host}
}

// Get implements [tls.ClientSessionCache].  The sink never reads its own
// files back (spec.md §9), so every lookup is a miss; resumption is
// recorded for later inspection, not used to skip a future handshake.
func (c *PerConnSessionCache) Get(string) (cs *tls.ClientSessionState, ok bool) {
	return nil, false
}

// Put implements [tls.ClientSessionCache], appending the session's
// serialized ticket and state to the sink.  Marshal errors are swallowed:
// a session blob that can't be captured must never fail the probe itself.
func (c *PerConnSessionCache) Put(_ string, cs *tls.ClientSessionState) {
	if cs == nil {
		return
	}

	ticket, state, err := cs.ResumptionState()
	if err != nil {
		return
	}

	stateBytes, err := state.Bytes()
	if err != nil {
		return
	}

	blob, err := json.Marshal(sessionBlob{Ticket: ticket, State: stateBytes})
	if err != nil {
		return
	}

	_ = c.sink.Write(c.host, append(blob, '\n'))
}
