// Command weaved is weave's long-running node daemon: it loads a
// node's configuration and identity, opens its address/routing/policy
// stores and Git storage, wires the gossip/session service to a real
// libp2p host, and serves the local read-only operator API until
// signalled to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/weavenet/weave/internal/address"
	"github.com/weavenet/weave/internal/config"
	"github.com/weavenet/weave/internal/daemon"
	"github.com/weavenet/weave/internal/identity"
	"github.com/weavenet/weave/internal/metrics"
	"github.com/weavenet/weave/internal/nodeid"
	"github.com/weavenet/weave/internal/policy"
	"github.com/weavenet/weave/internal/routing"
	"github.com/weavenet/weave/internal/service"
	"github.com/weavenet/weave/internal/storage"
	"github.com/weavenet/weave/internal/transport"
	"github.com/weavenet/weave/internal/watchdog"
	"github.com/weavenet/weave/internal/wire"
)

// Set via -ldflags at build time:
//
//	go build -ldflags "-X main.version=0.1.0 -X main.commit=$(git rev-parse --short HEAD) -X main.buildDate=$(date -u +%Y-%m-%dT%H:%M:%SZ)" ./cmd/weaved
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version", "--version":
			fmt.Printf("weaved %s (%s) built %s\n", version, commit, buildDate)
			fmt.Printf("go %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
			return
		case "help", "--help", "-h":
			printUsage()
			return
		}
	}

	fs := flag.NewFlagSet("weaved", flag.ExitOnError)
	configPath := fs.String("config", "", "path to weave config.yaml (default: search standard locations)")
	fs.Parse(os.Args[1:])

	if err := run(*configPath); err != nil {
		slog.Error("weaved exiting", "error", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("weaved - weave peer-to-peer code-collaboration node daemon")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  weaved [--config <path>]")
	fmt.Println("  weaved version")
	fmt.Println("  weaved help")
}

func run(explicitConfigPath string) error {
	path, err := config.FindConfigFile(explicitConfigPath)
	if err != nil {
		return err
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return err
	}
	config.ResolveConfigPaths(cfg, filepath.Dir(path))
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := config.Archive(path); err != nil {
		slog.Warn("failed to archive last-known-good config", "error", err)
	}

	setupLogging(cfg.Log)
	slog.Info("starting weaved", "version", version, "config", path, "alias", cfg.Alias)

	home, err := config.HomeDir()
	if err != nil {
		return err
	}
	nodeDir := filepath.Join(home, "node")
	storageDir := filepath.Join(home, "storage")
	if err := os.MkdirAll(nodeDir, 0700); err != nil {
		return fmt.Errorf("creating node dir: %w", err)
	}
	if err := os.MkdirAll(storageDir, 0700); err != nil {
		return fmt.Errorf("creating storage dir: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	addrs, err := address.Open(filepath.Join(nodeDir, "node.db"))
	if err != nil {
		return fmt.Errorf("opening address book: %w", err)
	}
	defer addrs.Close()

	routingMaxAge := cfg.Limits.RoutingEntryAge
	if routingMaxAge <= 0 {
		routingMaxAge = 7 * 24 * time.Hour
	}
	routingMaxSize := cfg.Limits.MaxOpenFiles
	if routingMaxSize <= 0 {
		routingMaxSize = 100_000
	}
	routes, err := routing.Open(filepath.Join(nodeDir, "node.db"), routingMaxSize, routingMaxAge)
	if err != nil {
		return fmt.Errorf("opening routing table: %w", err)
	}
	defer routes.Close()

	pol, err := policy.Open(filepath.Join(nodeDir, "policies.db"), policyDefault(cfg.SeedingPolicy))
	if err != nil {
		return fmt.Errorf("opening policy store: %w", err)
	}
	defer pol.Close()

	gater := transport.NewBlockGater(pol)
	h, priv, err := transport.NewHost(transport.HostConfig{
		KeyFile:          cfg.Identity.KeyFile,
		ListenAddrs:      cfg.Listen,
		EnableNATPortMap: true,
		EnableRelay:      cfg.Relay != config.RelayNever,
		EnableHolePunch:  true,
		Gater:            gater,
	})
	if err != nil {
		return fmt.Errorf("starting libp2p host: %w", err)
	}
	defer h.Close()

	signer, err := identity.NodeSigner(priv)
	if err != nil {
		return fmt.Errorf("deriving node signer: %w", err)
	}
	self := signer.NodeId()
	slog.Info("node identity", "node", self.String(), "peer_id", h.ID().String())

	opener := func(rid nodeid.RepoId) (*storage.GitRepository, error) {
		dir := filepath.Join(storageDir, rid.String()+".git")
		return storage.OpenGitRepository(dir, rid, signer)
	}
	cache := transport.NewFileRepoCache(opener)

	svcCfg := service.DefaultConfig()
	if cfg.Peers.Target > 0 {
		svcCfg.TargetOutbound = cfg.Peers.Target
	}
	if cfg.Limits.FetchConcurrency > 0 {
		svcCfg.FetchConcurrency = cfg.Limits.FetchConcurrency
	}
	if cfg.Limits.RateLimitPerSec > 0 {
		svcCfg.RateLimit.InboundFillRate = cfg.Limits.RateLimitPerSec
		svcCfg.RateLimit.OutboundFillRate = cfg.Limits.RateLimitPerSec
	}
	if cfg.Limits.RateLimitBurst > 0 {
		svcCfg.RateLimit.InboundCapacity = cfg.Limits.RateLimitBurst
		svcCfg.RateLimit.OutboundCapacity = cfg.Limits.RateLimitBurst
	}

	svc := service.New(self, svcCfg, addrs, routes, pol, cache)

	maxPack := int64(0)
	if cfg.Limits.FetchPackSize != "" {
		maxPack, _ = config.ParseDataSize(cfg.Limits.FetchPackSize)
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	node := transport.NewNode(h, svc, self, opener, workers, maxPack)

	h.SetStreamHandler(transport.FetchProtocol, transport.FetchStreamHandler(
		func(rid nodeid.RepoId) (*storage.GitRepository, bool) {
			repo, err := opener(rid)
			if err != nil {
				return nil, false
			}
			return repo, true
		},
		maxPack,
	))

	m := metrics.New(version, runtime.Version())
	if cfg.Telemetry.Metrics.Enabled {
		go serveMetrics(ctx, cfg.Telemetry.Metrics.ListenAddress, m)
	}

	events := daemon.NewEventLog(256)
	if cfg.Daemon.Enabled {
		rt := &daemonRuntime{node: node, svc: svc, version: version, start: time.Now()}
		socketPath := filepath.Join(nodeDir, "weaved.sock")
		cookiePath := filepath.Join(nodeDir, "weaved.cookie")
		srv := daemon.NewServer(rt, socketPath, cookiePath, m, events)
		if err := srv.Start(); err != nil {
			return fmt.Errorf("starting daemon API: %w", err)
		}
		defer srv.Stop()
	}

	for _, c := range cfg.Connect {
		peerID, addr, err := parseConnectEntry(c)
		if err != nil {
			slog.Warn("skipping malformed connect entry", "entry", c, "error", err)
			continue
		}
		node.SubmitCommand(service.Command{Kind: service.CommandConnect, Peer: peerID, Addr: addr})
	}

	watchdog.Ready()
	go watchdog.Run(ctx, watchdog.Config{Interval: 30 * time.Second}, []watchdog.HealthCheck{
		{Name: "host-listening", Check: func() error {
			if len(h.Addrs()) == 0 {
				return fmt.Errorf("no listen addresses")
			}
			return nil
		}},
	})

	wakeupLoop(ctx, node)

	slog.Info("weaved running", "listen", h.Addrs())
	err = node.Run(ctx)
	watchdog.Stopping()
	node.Wait()
	if err != nil && err != context.Canceled {
		return err
	}
	slog.Info("weaved stopped")
	return nil
}

// wakeupLoop submits the initial Wake event that bootstraps the
// service loop's connection-selection algorithm (spec.md §4.1); every
// Io{Kind: IoWakeup} the service returns thereafter reschedules
// itself (internal/transport.Node.execute), so only one kick is
// needed here.
func wakeupLoop(ctx context.Context, node *transport.Node) {
	node.Wake(time.Now())
}

func serveMetrics(ctx context.Context, addr string, m *metrics.Metrics) {
	if addr == "" {
		addr = "127.0.0.1:9477"
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("metrics server error", "error", err)
	}
}

func setupLogging(level string) {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

func policyDefault(sp config.SeedingPolicyConfig) policy.DefaultPolicy {
	def := policy.DefaultBlock
	if sp.Default == config.SeedingAllow {
		def = policy.DefaultAllow
	}
	scope := policy.ScopeFollowed
	if sp.Scope == config.SeedingScopeAll {
		scope = policy.ScopeAll
	}
	return policy.DefaultPolicy{Default: def, Scope: scope}
}

// parseConnectEntry parses a config `connect` entry of the form
// "<nodeId>@<host>:<port>" (spec.md §6: "connect: [nodeId@address]").
func parseConnectEntry(s string) (nodeid.NodeId, wire.Address, error) {
	parts := strings.SplitN(s, "@", 2)
	if len(parts) != 2 {
		return nodeid.NodeId{}, wire.Address{}, fmt.Errorf("expected \"nodeId@host:port\", got %q", s)
	}
	id, err := nodeid.ParseNodeId(parts[0])
	if err != nil {
		return nodeid.NodeId{}, wire.Address{}, err
	}
	addr, err := wire.ParseAddress(parts[1])
	if err != nil {
		return nodeid.NodeId{}, wire.Address{}, err
	}
	return id, addr, nil
}

// daemonRuntime adapts a running node to daemon.Runtime, keeping the
// daemon package decoupled from transport.Node/service.Service
// (mirrors the teacher's RuntimeInfo decoupling).
type daemonRuntime struct {
	node    *transport.Node
	svc     *service.Service
	version string
	start   time.Time
}

func (r *daemonRuntime) Self() nodeid.NodeId { return r.svc.Self() }
func (r *daemonRuntime) Version() string     { return r.version }
func (r *daemonRuntime) StartTime() time.Time { return r.start }

func (r *daemonRuntime) Sessions() map[nodeid.NodeId]service.Session { return r.svc.Sessions() }
func (r *daemonRuntime) KnownPeers() ([]address.Entry, error)        { return r.svc.KnownPeers() }
func (r *daemonRuntime) Routes() ([]routing.Entry, error)            { return r.svc.Routes() }
func (r *daemonRuntime) Seeded() ([]policy.SeedingPolicy, error)     { return r.svc.Seeded() }
func (r *daemonRuntime) Followed() ([]policy.FollowedPeer, error)    { return r.svc.Followed() }
func (r *daemonRuntime) BlockedPeers() ([]policy.BlockedPeer, error) { return r.svc.BlockedPeers() }

func (r *daemonRuntime) Submit(cmd service.Command) { r.node.SubmitCommand(cmd) }
