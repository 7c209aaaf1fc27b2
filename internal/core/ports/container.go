package ports

import (
	"context"
	"io"

	"github.com/melih/lighthouse-ctl/internal/core/domain"
)

// Container is a handle bound to one container on one host. Binding does not
// check existence; the first call made through the handle does.
//
// Implementations report a missing container from Inspect with an error of
// kind domain.KindContainerNotFound, and every other failure with an error of
// kind domain.KindRuntimeOperationFailed carrying the runtime's status.
type Container interface {
	ID() string
	Inspect(ctx context.Context) (domain.Snapshot, error)
	Start(ctx context.Context) error
	Restart(ctx context.Context) error
	Stop(ctx context.Context) error
	Pause(ctx context.Context) error
	Unpause(ctx context.Context) error
	Remove(ctx context.Context) error

	// Logs opens a follow-mode subscription on stdout and stderr. Canceling
	// ctx or closing the returned body terminates it.
	Logs(ctx context.Context) (io.ReadCloser, error)
	// Stats opens a follow-mode resource-usage subscription.
	Stats(ctx context.Context) (StatsFeed, error)
}

// StatsFeed yields decoded stats samples until the upstream ends. Next
// returns io.EOF on a clean end.
type StatsFeed interface {
	Next() (domain.StatsSample, error)
	Close() error
}

// Host is a live connection to one runtime endpoint.
type Host interface {
	Name() string
	// Container binds a handle to id without contacting the runtime.
	Container(id string) Container
	List(ctx context.Context) ([]domain.ContainerSummary, error)
	Ping(ctx context.Context) error
	Close() error
}

// HostRegistry resolves logical host names. It is immutable once built and
// safe for concurrent use.
type HostRegistry interface {
	Resolve(name string) (Host, error)
	// Container resolves name and binds id on it.
	Container(name, id string) (Container, error)
	Names() []string
}
