// Command registryd runs the package metadata registry: a worker pool
// draining UpdatePackage/DeletePaths jobs, and a periodic
// DumpProviderJSON sweep. It wires every component behind an explicit
// services struct rather than package-level globals, and never runs
// its own HTTP front-end: serving the published webroot is an external
// collaborator's job.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/craftreg/registry/pkg/config"
	"github.com/craftreg/registry/pkg/logging"
	"github.com/craftreg/registry/pkg/provider"
	"github.com/craftreg/registry/pkg/queue/memqueue"
	"github.com/craftreg/registry/pkg/store/postgres"
	"github.com/craftreg/registry/pkg/update"
	"github.com/craftreg/registry/pkg/vcs"
	"github.com/craftreg/registry/pkg/vcs/github"
	"github.com/craftreg/registry/pkg/vcs/gitlab"
)

// services bundles every component main wires together, passed around
// explicitly instead of reached for through package-level state.
type services struct {
	cfg    *config.Config
	store  *postgres.Store
	engine *update.Engine
	emit   *provider.Emitter
	queue  *memqueue.Queue
}

func main() {
	emitInterval := flag.Duration("emit-interval", 10*time.Minute, "interval between full provider tree republications")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "registryd:", err)
		os.Exit(1)
	}

	log := logging.New(cfg.LogLevel)

	svc, err := build(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to start")
	}
	defer svc.store.Close()
	defer svc.queue.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ticker := time.NewTicker(*emitInterval)
	defer ticker.Stop()

	log.WithField("interval", emitInterval.String()).Info("registryd started")

	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return
		case <-ticker.C:
			if err := svc.emit.DumpProviderJSON(ctx); err != nil {
				log.WithError(err).Warn("provider emission failed")
			}
		}
	}
}

// build wires every component. The write path (UpdateEngine cascading
// dependency updates through the job queue) and the read/publish path
// (ProviderEmitter) share one Store and one Queue.
func build(cfg *config.Config, log *logrus.Entry) (*services, error) {
	st, err := postgres.Open(cfg.DatabaseURL, log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	vcsFactory, err := buildVcsFactory(cfg)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("build vcs factory: %w", err)
	}

	svc := &services{cfg: cfg, store: st}

	svc.queue = memqueue.New(cfg.UpdateConcurrency, func(ctx context.Context, name string, force bool) error {
		return svc.engine.UpdatePackage(ctx, name, force)
	}, func(ctx context.Context, paths []string) error {
		return deletePaths(paths)
	}, log)

	svc.engine = update.New(st, vcsFactory, svc.queue, log)
	svc.emit = provider.New(st, svc.queue, cfg.ComposerWebroot, cfg.ProviderGCDelay, log)

	return svc, nil
}

// buildVcsFactory picks the GitLab adapter when an endpoint is
// configured, falling back to GitHub otherwise, and wraps either in the
// requirePluginVcsTokens policy.
func buildVcsFactory(cfg *config.Config) (vcs.Factory, error) {
	githubFactory, err := github.NewFactory(cfg.GithubFallbackTokens)
	if err != nil {
		return nil, err
	}

	var base vcs.Factory = githubFactory
	if cfg.GitLabEndpoint != "" {
		gitlabFactory, err := gitlab.NewFactory(cfg.GitLabEndpoint, githubFactory)
		if err != nil {
			return nil, err
		}
		base = gitlabFactory
	}

	return vcs.RequireTokenForManaged(base, githubFactory, cfg.RequirePluginVcsTokens), nil
}

// deletePaths removes superseded provider-tree files. Idempotent: a path
// already removed by a prior run is simply skipped.
func deletePaths(paths []string) error {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("delete %s: %w", p, err)
		}
	}
	return nil
}
