package future

import (
	"errors"
	"testing"
	"time"

	"github.com/patrickhulce/asyncronaut/cancel"
	"github.com/patrickhulce/asyncronaut/internal/safe"
)

func TestWithTimeout(t *testing.T) {
	t.Run("non-positive TimeoutMs returns source unchanged", func(t *testing.T) {
		source, _, _ := NewSettable[int]()
		wrapped := WithTimeout(source, TimeoutOptions[int]{})
		if wrapped != source {
			t.Fatal("expected the exact same future back")
		}
	})

	t.Run("source settling first wins", func(t *testing.T) {
		source, resolve, _ := NewSettable[int]()
		wrapped := WithTimeout(source, TimeoutOptions[int]{TimeoutMs: time.Second})
		resolve(3)
		v, err := wrapped.Wait()
		if err != nil || v != 3 {
			t.Fatalf("got (%v, %v), want (3, nil)", v, err)
		}
	})

	t.Run("timer elapsing produces a TimeoutError", func(t *testing.T) {
		source, _, _ := NewSettable[int]()
		wrapped := WithTimeout(source, TimeoutOptions[int]{
			TimeoutMs:           5 * time.Millisecond,
			TimeoutErrorMessage: "too slow",
		})
		_, err := wrapped.Wait()
		te, ok := AsTimeout(err)
		if !ok || te.Message != "too slow" {
			t.Fatalf("got %v, want *TimeoutError{too slow}", err)
		}
	})

	t.Run("external cancel firing produces an AbortError", func(t *testing.T) {
		source, _, _ := NewSettable[int]()
		tok := cancel.New()
		wrapped := WithTimeout(source, TimeoutOptions[int]{
			TimeoutMs:      time.Second,
			ExternalCancel: tok,
		})
		reason := errors.New("shutdown")
		tok.Abort(reason)
		_, err := wrapped.Wait()
		ae, ok := AsAbort(err)
		if !ok || !errors.Is(ae.Reason, reason) {
			t.Fatalf("got %v, want *AbortError{%v}", err, reason)
		}
	})

	t.Run("timer win aborts the external token with the TimeoutError", func(t *testing.T) {
		source, _, _ := NewSettable[int]()
		tok := cancel.New()
		wrapped := WithTimeout(source, TimeoutOptions[int]{
			TimeoutMs:      5 * time.Millisecond,
			ExternalCancel: tok,
		})
		wrapped.Wait()
		if !tok.Aborted() {
			t.Fatal("expected the external token to be aborted on timeout")
		}
		if _, ok := AsTimeout(tok.Reason()); !ok {
			t.Fatalf("got %v, want the token's reason to be a *TimeoutError", tok.Reason())
		}
	})

	t.Run("late resolve after losing the race runs the cleanup hook once", func(t *testing.T) {
		source, resolve, _ := NewSettable[int]()
		cleaned := make(chan int, 1)
		wrapped := WithTimeout(source, TimeoutOptions[int]{
			TimeoutMs: 5 * time.Millisecond,
			CleanupOnLateResolve: func(v int) {
				cleaned <- v
			},
		})
		wrapped.Wait()
		resolve(11)
		select {
		case v := <-cleaned:
			if v != 11 {
				t.Fatalf("got %v, want 11", v)
			}
		case <-time.After(time.Second):
			t.Fatal("cleanup never ran")
		}
	})

	t.Run("late reject with a recovered panic unwraps to the original value", func(t *testing.T) {
		source, _, reject := NewSettable[int]()
		cleaned := make(chan any, 1)
		wrapped := WithTimeout(source, TimeoutOptions[int]{
			TimeoutMs: 5 * time.Millisecond,
			CleanupOnLateReject: func(err error) {
				var tsr *TimeoutSourceLateRejection
				if errors.As(err, &tsr) {
					cleaned <- tsr.Value
					return
				}
				cleaned <- err
			},
		})
		wrapped.Wait()
		panicErr := safe.Call(func() error {
			panic("disk full")
		})
		reject(panicErr)
		select {
		case v := <-cleaned:
			if v != "disk full" {
				t.Fatalf("got %v, want %q", v, "disk full")
			}
		case <-time.After(time.Second):
			t.Fatal("cleanup never ran")
		}
	})
}
