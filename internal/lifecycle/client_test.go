package lifecycle_test

import (
	"context"
	"errors"
	"testing"

	"dozer/internal/adapter/fake"
	"dozer/internal/lifecycle"
)

func TestClientConnect(t *testing.T) {
	t.Run("reachable host is not woken", func(t *testing.T) {
		prober := fake.NewProber(true)
		waker := &fake.Waker{}
		woke := false
		c := &lifecycle.Client{
			Host:       testHost,
			WakeBudget: 6,
			Prober:     prober,
			Waker:      waker,
			Opener:     fake.NewBackend(),
			OnWaking:   func() { woke = true },
		}

		sess, err := c.Connect(context.Background())
		if err != nil {
			t.Fatalf("Connect() error = %v", err)
		}
		defer sess.Close()
		if waker.Count("Wake") != 0 || woke {
			t.Error("reachable host was woken")
		}
	})

	t.Run("failed wake is a connectivity fault", func(t *testing.T) {
		backend := fake.NewBackend()
		woke := false
		c := &lifecycle.Client{
			Host:       testHost,
			WakeBudget: 3,
			Prober:     fake.NewProber(false),
			Waker:      &fake.Waker{},
			Opener:     backend,
			OnWaking:   func() { woke = true },
		}

		_, err := c.Connect(context.Background())
		if !errors.Is(err, lifecycle.ErrConnectivity) {
			t.Fatalf("Connect() error = %v, want ErrConnectivity", err)
		}
		if !woke {
			t.Error("OnWaking was not called")
		}
		if backend.Count("Open") != 0 {
			t.Error("session opened after failed wake")
		}
	})
}

func TestClientNormalizesSessionErrors(t *testing.T) {
	backend := fake.NewBackend().Put("game1", lifecycle.StateStopped)
	c := &lifecycle.Client{Host: testHost, Prober: fake.NewProber(true), Opener: backend}

	sess, err := c.Open(context.Background())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer sess.Close()

	cause := errors.New("unexpected EOF")
	backend.Faults.FailNext(fake.FaultStart, cause)
	err = sess.Start(context.Background(), "game1")
	if !errors.Is(err, lifecycle.ErrConnectivity) || !errors.Is(err, cause) {
		t.Errorf("Start() error = %v, want ErrConnectivity wrapping cause", err)
	}

	err = sess.Stop(context.Background(), "ghost")
	if !errors.Is(err, lifecycle.ErrNotFound) {
		t.Errorf("Stop(ghost) error = %v, want ErrNotFound", err)
	}
	if errors.Is(err, lifecycle.ErrConnectivity) {
		t.Errorf("Stop(ghost) error = %v, must not be a connectivity fault", err)
	}

	backend.Faults.FailNext(fake.FaultList, cause)
	if _, err := sess.List(context.Background(), lifecycle.ScopeRunning); !errors.Is(err, lifecycle.ErrConnectivity) {
		t.Errorf("List() error = %v, want ErrConnectivity", err)
	}
}

type nilOpener struct{}

func (nilOpener) Open(context.Context) (lifecycle.Session, error) { return nil, nil }

func TestClientOpenRejectsNilSession(t *testing.T) {
	c := &lifecycle.Client{Host: testHost, Opener: nilOpener{}}
	if _, err := c.Open(context.Background()); !errors.Is(err, lifecycle.ErrConnectivity) {
		t.Fatalf("Open() error = %v, want ErrConnectivity", err)
	}
}
