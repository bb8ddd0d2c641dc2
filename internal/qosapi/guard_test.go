package qosapi

import (
	"sync"
	"testing"
)

func TestGuardRunsWhenFree(t *testing.T) {
	g := NewGuard("test", nil)
	ran := g.Run(func() {})
	if !ran {
		t.Fatal("expected Run to execute on a free guard")
	}
}

func TestGuardSkipsWhenBusy(t *testing.T) {
	g := NewGuard("test", nil)
	started := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		g.Run(func() {
			close(started)
			<-release
		})
	}()

	<-started
	if ran := g.Run(func() {}); ran {
		t.Error("expected second Run to be skipped while guard is held")
	}
	close(release)
	wg.Wait()

	if ran := g.Run(func() {}); !ran {
		t.Error("expected Run to succeed once the guard is released")
	}
}

func TestGuardRunErrPropagatesError(t *testing.T) {
	g := NewGuard("test", nil)
	wantErr := errTest
	err, ran := g.RunErr(func() error { return wantErr })
	if !ran {
		t.Fatal("expected RunErr to run on a free guard")
	}
	if err != wantErr {
		t.Errorf("RunErr() err = %v, want %v", err, wantErr)
	}
}

func TestGuardRunBlockingWaitsForRelease(t *testing.T) {
	g := NewGuard("test", nil)
	started := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		g.Run(func() {
			close(started)
			<-release
		})
	}()
	<-started

	done := make(chan struct{})
	go func() {
		_ = g.RunBlocking(func() error { return nil })
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("RunBlocking returned before the guard was released")
	default:
	}
	close(release)
	wg.Wait()
	<-done
}

var errTest = &testError{"boom"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
