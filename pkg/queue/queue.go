// Package queue specifies the asynchronous work the registry schedules
// onto itself: re-ingesting a package's releases, and garbage-collecting
// superseded provider-tree files after their delay window. The concrete
// transport is an external collaborator; memqueue provides an in-process
// implementation good enough to run and test the rest of the module
// against.
package queue

import (
	"context"
	"time"
)

// Queue is the contract UpdateEngine and ProviderEmitter schedule work
// through.
type Queue interface {
	// EnqueueUpdatePackage schedules an UpdatePackage run for name. force
	// mirrors UpdateEngine.UpdatePackage's force flag.
	EnqueueUpdatePackage(ctx context.Context, name string, force bool) error

	// EnqueueDeletePaths schedules the removal of paths no sooner than
	// after, giving in-flight readers of the superseded provider-tree
	// files time to finish.
	EnqueueDeletePaths(ctx context.Context, paths []string, after time.Duration) error
}

// UpdateHandler performs one scheduled UpdatePackage job.
type UpdateHandler func(ctx context.Context, name string, force bool) error

// DeleteHandler performs one scheduled path-deletion job.
type DeleteHandler func(ctx context.Context, paths []string) error
