package logmanager

import (
	"context"
	"testing"

	"physlog/pkg/primitives"
)

func testOptions() CreateLogOptions {
	opts := DefaultCreateLogOptions(4 << 20)
	opts.Checkpoint.Enabled = false
	return opts
}

func TestCreateLogThenOpenLogSharedHandle(t *testing.T) {
	ctx := context.Background()
	m, err := NewLogManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewLogManager: %v", err)
	}

	id := primitives.NewLogId()
	created, err := m.CreateLog(ctx, id, testOptions())
	if err != nil {
		t.Fatalf("CreateLog: %v", err)
	}
	t.Cleanup(func() { created.Close() })

	opened, err := m.OpenLog(ctx, id)
	if err != nil {
		t.Fatalf("OpenLog: %v", err)
	}
	if opened != created {
		t.Fatalf("OpenLog on an already-open log returned a different handle")
	}
}

func TestCreateLogRejectsDuplicateId(t *testing.T) {
	ctx := context.Background()
	m, err := NewLogManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewLogManager: %v", err)
	}

	id := primitives.NewLogId()
	log, err := m.CreateLog(ctx, id, testOptions())
	if err != nil {
		t.Fatalf("CreateLog: %v", err)
	}
	t.Cleanup(func() { log.Close() })

	if _, err := m.CreateLog(ctx, id, testOptions()); err == nil {
		t.Fatalf("expected CreateLog to reject a duplicate id")
	}
}

func TestOpenLogMissingFile(t *testing.T) {
	ctx := context.Background()
	m, err := NewLogManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewLogManager: %v", err)
	}

	if _, err := m.OpenLog(ctx, primitives.NewLogId()); err == nil {
		t.Fatalf("expected OpenLog to fail for a log that was never created")
	}
}

func TestDeleteLogRemovesFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	m, err := NewLogManager(dir)
	if err != nil {
		t.Fatalf("NewLogManager: %v", err)
	}

	id := primitives.NewLogId()
	log, err := m.CreateLog(ctx, id, testOptions())
	if err != nil {
		t.Fatalf("CreateLog: %v", err)
	}
	_ = log

	if err := m.DeleteLog(ctx, id); err != nil {
		t.Fatalf("DeleteLog: %v", err)
	}
	if _, err := m.OpenLog(ctx, id); err == nil {
		t.Fatalf("expected OpenLog to fail after DeleteLog")
	}
}

func TestEnumerateLogsListsCreatedLogs(t *testing.T) {
	ctx := context.Background()
	m, err := NewLogManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewLogManager: %v", err)
	}

	var ids []primitives.LogId
	for i := 0; i < 3; i++ {
		id := primitives.NewLogId()
		log, err := m.CreateLog(ctx, id, testOptions())
		if err != nil {
			t.Fatalf("CreateLog: %v", err)
		}
		t.Cleanup(func() { log.Close() })
		ids = append(ids, id)
	}

	got, err := m.EnumerateLogs()
	if err != nil {
		t.Fatalf("EnumerateLogs: %v", err)
	}
	if len(got) != len(ids) {
		t.Fatalf("EnumerateLogs returned %d ids, want %d", len(got), len(ids))
	}
	seen := make(map[primitives.LogId]bool)
	for _, id := range got {
		seen[id] = true
	}
	for _, id := range ids {
		if !seen[id] {
			t.Fatalf("EnumerateLogs missing id %v", id)
		}
	}
}

func TestOpenLogRunsRecoveryAfterClose(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	m1, err := NewLogManager(dir)
	if err != nil {
		t.Fatalf("NewLogManager: %v", err)
	}

	id := primitives.NewLogId()
	log, err := m1.CreateLog(ctx, id, testOptions())
	if err != nil {
		t.Fatalf("CreateLog: %v", err)
	}
	streamId := primitives.NewStreamId()
	stream, err := log.CreateStream(streamId, primitives.StreamType{})
	if err != nil {
		t.Fatalf("CreateStream: %v", err)
	}
	if err := stream.Write(ctx, 1, 1, []byte("meta"), []byte("payload")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := log.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	m2, err := NewLogManager(dir)
	if err != nil {
		t.Fatalf("NewLogManager: %v", err)
	}
	reopened, err := m2.OpenLog(ctx, id)
	if err != nil {
		t.Fatalf("OpenLog after close: %v", err)
	}
	t.Cleanup(func() { reopened.Close() })

	reopenedStream, err := reopened.OpenStream(streamId)
	if err != nil {
		t.Fatalf("OpenStream after recovery: %v", err)
	}
	_, _, payload, err := reopenedStream.Read(ctx, 1)
	if err != nil {
		t.Fatalf("Read after recovery: %v", err)
	}
	if string(payload) != "payload" {
		t.Fatalf("Read after recovery = %q, want %q", payload, "payload")
	}
}
