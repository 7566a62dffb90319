package logengine

import (
	"context"
	"testing"
	"time"

	"physlog/pkg/primitives"
)

func TestEngineTruncateDefersUntilAsnPersisted(t *testing.T) {
	e, _ := newTestEngine(t, 4<<20, 1<<20)
	s := e.CreateStream(primitives.NewStreamId(), primitives.StreamType{})
	ctx := context.Background()

	if _, err := e.Write(ctx, WriteRequest{Stream: s, Asn: 1, Version: 1, Payload: []byte("x")}); err != nil {
		t.Fatalf("write asn=1: %v", err)
	}

	result := make(chan error, 1)
	go func() { result <- e.Truncate(s, 3) }()

	select {
	case <-result:
		t.Fatalf("Truncate(3) returned before ASN 3 was ever written")
	case <-time.After(50 * time.Millisecond):
		// expected: still held
	}

	if _, err := e.Write(ctx, WriteRequest{Stream: s, Asn: 2, Version: 1, Payload: []byte("y")}); err != nil {
		t.Fatalf("write asn=2: %v", err)
	}
	if _, err := e.Write(ctx, WriteRequest{Stream: s, Asn: 3, Version: 1, Payload: []byte("z")}); err != nil {
		t.Fatalf("write asn=3: %v", err)
	}

	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("Truncate(3) = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Truncate(3) never unblocked after ASN 3 was persisted")
	}

	if _, ok := s.Asn.Get(1); ok {
		t.Errorf("ASN 1 should have been truncated")
	}
}
