package task

import (
	"errors"
	"testing"
	"time"
)

func receiveOutcome(t *testing.T, cb *ResultCallback) interface{} {
	t.Helper()
	select {
	case v := <-cb.Result():
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for callback outcome")
		return nil
	}
}

func TestResultCallbackDeliversResult(t *testing.T) {
	cb := NewResultCallback()
	cb.OnComplete("done")

	if got := receiveOutcome(t, cb); got != "done" {
		t.Errorf("outcome = %v, want done", got)
	}
}

func TestResultCallbackDeliversError(t *testing.T) {
	cb := NewResultCallback()
	wantErr := errors.New("task failed")
	cb.OnError(wantErr)

	got, ok := receiveOutcome(t, cb).(error)
	if !ok || !errors.Is(got, wantErr) {
		t.Errorf("outcome = %v, want %v", got, wantErr)
	}
}

func TestResultCallbackSecondReportDropped(t *testing.T) {
	cb := NewResultCallback()
	cb.OnComplete("first")
	// Must not block even though nobody drained the first outcome
	cb.OnError(errors.New("second"))

	if got := receiveOutcome(t, cb); got != "first" {
		t.Errorf("outcome = %v, want first", got)
	}
	select {
	case v := <-cb.Result():
		t.Errorf("unexpected second outcome: %v", v)
	default:
	}
}
