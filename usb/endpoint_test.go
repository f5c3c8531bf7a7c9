package usb

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/opencardev/aahead/aaerr"
	"github.com/opencardev/aahead/executor"
)

func TestBulkTransferResolvesWithByteCount(t *testing.T) {
	handle := &MockHandle{BulkResponses: []MockTransferResult{{Data: []byte("hello")}}}
	q := executor.NewQueue(2)
	defer q.Close()
	ep := NewEndpoint(q, handle, 0x81)

	var got int
	var wg sync.WaitGroup
	wg.Add(1)
	ep.BulkTransfer(context.Background(), make([]byte, 5), time.Second).Then(func(n int) {
		got = n
		wg.Done()
	}, func(error) {
		wg.Done()
	})
	wg.Wait()

	if got != 5 {
		t.Fatalf("got %d", got)
	}
}

func TestControlTransferRejectedOnNonZeroEndpoint(t *testing.T) {
	handle := &MockHandle{}
	q := executor.NewQueue(1)
	defer q.Close()
	ep := NewEndpoint(q, handle, 0x81)

	var got error
	var wg sync.WaitGroup
	wg.Add(1)
	ep.ControlTransfer(context.Background(), 0, 0, 0, 0, nil).Then(func(int) {
		wg.Done()
	}, func(err error) {
		got = err
		wg.Done()
	})
	wg.Wait()

	kind, ok := aaerr.KindOf(got)
	if !ok || kind != aaerr.KindUSBInvalidTransferMethod {
		t.Fatalf("got %v", got)
	}
}

func TestCloseRejectsSubsequentTransfers(t *testing.T) {
	handle := &MockHandle{BulkResponses: []MockTransferResult{{Data: []byte("x")}}}
	q := executor.NewQueue(2)
	defer q.Close()
	ep := NewEndpoint(q, handle, 0x81)

	done := make(chan struct{})
	ep.BulkTransfer(context.Background(), make([]byte, 1), time.Second).Then(func(int) {
		close(done)
	}, func(error) {
		close(done)
	})
	<-done

	ep.Close()
	// Close returning at all, without deadlock, demonstrates the
	// WaitGroup drained; a new transfer after Close must be rejected.
	var got error
	var wg sync.WaitGroup
	wg.Add(1)
	ep.BulkTransfer(context.Background(), make([]byte, 1), time.Second).Then(func(int) {
		wg.Done()
	}, func(err error) {
		got = err
		wg.Done()
	})
	wg.Wait()

	if !aaerr.Aborted(got) {
		t.Fatalf("expected aborted error after Close, got %v", got)
	}
}
