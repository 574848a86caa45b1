package lifecycle

import "context"

// Prober reports whether the host answers a reachability probe.
// Production: *probe.ICMP or *probe.TCP
// Testing: fake.Prober with scripted answers
type Prober interface {
	Probe(ctx context.Context, address string) bool
}

// Waker brings a sleeping host online, blocking until it answers probes or
// the attempt budget is spent.
// Production: *wake.Driver
// Testing: fake.Waker, or wake.Driver over fake.Prober and fake.PacketSender
type Waker interface {
	Wake(ctx context.Context, maxAttempts int) bool
}

// Opener opens a session to the host's container engine. It never wakes the
// host; Client.Connect does that first.
// Production: *docker.Opener
// Testing: fake.Backend
type Opener interface {
	Open(ctx context.Context) (Session, error)
}

// Session is an open connection to the container engine. Errors are
// ErrNotFound, ErrConnectivity, or wrap one of them.
type Session interface {
	List(ctx context.Context, scope Scope) ([]ContainerRecord, error)
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
	Close() error
}

// Suspender puts the host to sleep. A non-nil error is a SuspendError.
// Production: *suspend.Driver
// Testing: fake.Suspender
type Suspender interface {
	Suspend(ctx context.Context) error
}
