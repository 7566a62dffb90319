package logmanager

import (
	"sync"

	"physlog/pkg/primitives"
	"physlog/pkg/recovery"
)

// RecordVerifier validates one stream type's user records against
// their metadata during recovery's replay of the log.
type RecordVerifier func(metadata, payload []byte) error

// VerifierRegistry maps stream types to their registered verifiers,
// shared by every log a LogManager opens. A stream type with no
// registered verifier is trusted on checksum alone.
type VerifierRegistry struct {
	mu        sync.RWMutex
	verifiers map[primitives.StreamType]RecordVerifier
}

func NewVerifierRegistry() *VerifierRegistry {
	return &VerifierRegistry{verifiers: make(map[primitives.StreamType]RecordVerifier)}
}

// Register installs verify as the record verifier for streamType,
// replacing any prior registration.
func (r *VerifierRegistry) Register(streamType primitives.StreamType, verify RecordVerifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verifiers[streamType] = verify
}

// asRecoveryVerifier adapts the registry into the callback recovery.Recover
// expects; recovery treats a returned error like a torn record and
// ends the log's live window at the failing record's LSN.
func (r *VerifierRegistry) asRecoveryVerifier() recovery.RecordVerifier {
	return func(streamType primitives.StreamType, metadata, payload []byte) error {
		r.mu.RLock()
		verify, ok := r.verifiers[streamType]
		r.mu.RUnlock()
		if !ok {
			return nil
		}
		return verify(metadata, payload)
	}
}
