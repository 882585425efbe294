package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/sync/errgroup"
	"k8s.io/client-go/util/flowcontrol"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	"github.com/yuriy-kovalchuk/droplet-dns-sync/internal/config"
	"github.com/yuriy-kovalchuk/droplet-dns-sync/internal/controller"
	"github.com/yuriy-kovalchuk/droplet-dns-sync/internal/dns"
	"github.com/yuriy-kovalchuk/droplet-dns-sync/internal/dns/digitalocean"
	"github.com/yuriy-kovalchuk/droplet-dns-sync/internal/probes"
	"github.com/yuriy-kovalchuk/droplet-dns-sync/internal/scheduler"
	"github.com/yuriy-kovalchuk/droplet-dns-sync/internal/syncerr"
)

var Version = "dev"

// errStopped ends the errgroup once the scheduler returns cleanly.
var errStopped = errors.New("scheduler stopped")

type options struct {
	syncInterval  time.Duration
	syncTimeout   time.Duration
	metricsAddr   string
	probeAddr     string
	apiQPS        float64
	apiBurst      int

	// lookupEnviron replaces the process environment when set.
	lookupEnviron config.LookupFunc
}

func (o *options) bindFlags(fs *flag.FlagSet) {
	fs.DurationVar(&o.syncInterval, "sync-interval", scheduler.DefaultInterval, "Time between two syncs.")
	fs.DurationVar(&o.syncTimeout, "sync-timeout", 5*time.Minute, "Upper bound for a single sync. 0 disables the bound.")
	fs.StringVar(&o.metricsAddr, "metrics-bind-address", ":9090", "The address the metrics endpoint binds to. Use 0 to disable it.")
	fs.StringVar(&o.probeAddr, "health-probe-bind-address", ":8081", "The address the health probe endpoint binds to. Use 0 to disable it.")
	fs.Float64Var(&o.apiQPS, "api-qps", 5, "Maximum record changes per second sent to the API. 0 disables pacing.")
	fs.IntVar(&o.apiBurst, "api-burst", 1, "Burst allowed on top of api-qps.")
}

func main() {
	opts := zap.Options{
		Development: true,
	}
	opts.BindFlags(flag.CommandLine)
	var o options
	o.bindFlags(flag.CommandLine)
	flag.Parse()

	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))

	if err := run(ctrl.SetupSignalHandler(), o); err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}

// printError writes err followed by one line per underlying cause.
func printError(w io.Writer, err error) {
	for i, msg := range syncerr.Chain(err) {
		if i == 0 {
			fmt.Fprintf(w, "error: %s\n", msg)
			continue
		}
		fmt.Fprintf(w, "caused by: %s\n", msg)
	}
}

func run(ctx context.Context, o options) error {
	log := ctrl.Log.WithName("setup")

	log.Info("starting droplet-dns-sync", "version", Version)

	load := config.Load
	if o.lookupEnviron != nil {
		load = func() (*config.Config, error) { return config.LoadFrom(o.lookupEnviron) }
	}
	cfg, err := load()
	if err != nil {
		return fmt.Errorf("unable to load config: %w", err)
	}
	log.Info("loaded config",
		"domain", cfg.DomainName, "record", cfg.RecordName, "kind", cfg.RecordKind,
		"ttl", cfg.RecordTTL, "tag", cfg.DropletTag)

	provider, err := dns.NewProvider(digitalocean.Name, ctrl.Log.WithName("dns-"+digitalocean.Name), cfg.ProviderSettings())
	if err != nil {
		return syncerr.New(syncerr.LoginFail, err)
	}
	if err := provider.Verify(ctx); err != nil {
		return syncerr.New(syncerr.LoginFail, err)
	}
	log.Info("authenticated against the DigitalOcean API")

	var limiter flowcontrol.RateLimiter
	if o.apiQPS > 0 {
		burst := o.apiBurst
		if burst < 1 {
			burst = 1
		}
		limiter = flowcontrol.NewTokenBucketRateLimiter(float32(o.apiQPS), burst)
	}

	reconciler := &controller.RecordSetReconciler{
		Instances: provider,
		Records:   provider,
		Log:       ctrl.Log.WithName("recordset-controller"),
		Tag:       cfg.DropletTag,
		Target:    cfg.Target(),
		Limiter:   limiter,
	}

	sched := &scheduler.Scheduler{
		Run: func(ctx context.Context) error {
			_, err := reconciler.Reconcile(ctx)
			return err
		},
		Interval: o.syncInterval,
		Timeout:  o.syncTimeout,
		Log:      ctrl.Log.WithName("scheduler"),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return serveMetrics(gctx, o.metricsAddr)
	})
	g.Go(func() error {
		return probes.Serve(gctx, ctrl.Log.WithName("health"), o.probeAddr, probes.HealthHandler(map[string]healthz.Checker{
			"initial-sync": sched.ReadyzCheck,
		}))
	})
	g.Go(func() error {
		if err := sched.Start(gctx); err != nil {
			return err
		}
		return errStopped
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errStopped) {
		return err
	}
	log.Info("shutting down")
	return nil
}

// serveMetrics serves the controller-runtime metrics registry, which the
// controller metrics are registered with, until ctx is cancelled.
func serveMetrics(ctx context.Context, addr string) error {
	if addr == "" || addr == probes.Disabled {
		return nil
	}
	srv, err := metricsserver.NewServer(metricsserver.Options{BindAddress: addr}, nil, nil)
	if err != nil {
		return fmt.Errorf("unable to create metrics server: %w", err)
	}
	return srv.Start(ctx)
}
