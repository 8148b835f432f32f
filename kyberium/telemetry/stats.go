// Package telemetry counts cryptographic operations and keeps running mean
// latencies for them.
package telemetry

import (
	"sync"
	"time"
)

// Op identifies a counted operation.
type Op int

const (
	OpEncrypt Op = iota
	OpDecrypt
	OpSign
	OpVerify
	numOps
)

func (o Op) String() string {
	switch o {
	case OpEncrypt:
		return "encrypt"
	case OpDecrypt:
		return "decrypt"
	case OpSign:
		return "sign"
	case OpVerify:
		return "verify"
	default:
		return "unknown"
	}
}

// Stats is a read-only snapshot of a Recorder.
type Stats struct {
	TotalEncryptions    uint64        `json:"total_encryptions"`
	TotalDecryptions    uint64        `json:"total_decryptions"`
	TotalSignatures     uint64        `json:"total_signatures"`
	TotalVerifications  uint64        `json:"total_verifications"`
	AvgEncryptionTime   time.Duration `json:"avg_encryption_time_ns"`
	AvgDecryptionTime   time.Duration `json:"avg_decryption_time_ns"`
	AvgSignatureTime    time.Duration `json:"avg_signature_time_ns"`
	AvgVerificationTime time.Duration `json:"avg_verification_time_ns"`
}

type metric struct {
	count uint64
	mean  float64 // nanoseconds
}

// Recorder accumulates operation counts and Welford running means. A
// Recorder with a parent forwards every observation to it, which is how
// per-session metrics also feed the process-wide set.
type Recorder struct {
	mu      sync.Mutex
	metrics [numOps]metric
	parent  *Recorder
}

// NewRecorder creates a Recorder. parent may be nil.
func NewRecorder(parent *Recorder) *Recorder {
	return &Recorder{parent: parent}
}

// Observe folds one completed operation into the running statistics.
func (r *Recorder) Observe(op Op, d time.Duration) {
	if r == nil || op < 0 || op >= numOps {
		return
	}
	r.mu.Lock()
	m := &r.metrics[op]
	m.count++
	m.mean += (float64(d) - m.mean) / float64(m.count)
	r.mu.Unlock()

	r.parent.Observe(op, d)
}

// Start returns a function that observes op with the time elapsed since
// Start was called.
func (r *Recorder) Start(op Op) func() {
	begin := time.Now()
	return func() { r.Observe(op, time.Since(begin)) }
}

// Count returns the number of observations of op.
func (r *Recorder) Count(op Op) uint64 {
	if op < 0 || op >= numOps {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.metrics[op].count
}

// Snapshot returns the current statistics.
func (r *Recorder) Snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	avg := func(op Op) time.Duration { return time.Duration(r.metrics[op].mean) }
	return Stats{
		TotalEncryptions:    r.metrics[OpEncrypt].count,
		TotalDecryptions:    r.metrics[OpDecrypt].count,
		TotalSignatures:     r.metrics[OpSign].count,
		TotalVerifications:  r.metrics[OpVerify].count,
		AvgEncryptionTime:   avg(OpEncrypt),
		AvgDecryptionTime:   avg(OpDecrypt),
		AvgSignatureTime:    avg(OpSign),
		AvgVerificationTime: avg(OpVerify),
	}
}

// Reset clears the recorder. Only session cleanup calls it; the parent is
// left untouched.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = [numOps]metric{}
}
