package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"saltmesh/internal/api"
	"saltmesh/internal/config"
	"saltmesh/internal/metrics"
	"saltmesh/internal/node"
	"saltmesh/internal/status"
	"saltmesh/internal/store"
	"saltmesh/internal/stunutil"
	"saltmesh/internal/transport"
)

const usage = `saltmesh - LAN convergence daemon for scalar sensor estimates

Usage:
  saltmesh init --config <path> [--force]
  saltmesh run --config <path>
  saltmesh status --addr <host:port> | --config <path>
  saltmesh peers --addr <host:port> | --config <path>
  saltmesh discover --config <path> [--stun server,...]
  saltmesh stats --config <path> [--window 5m]
  saltmesh export csv --config <path> --out <file>
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	switch cmd := os.Args[1]; cmd {
	case "-h", "--help", "help":
		fmt.Print(usage)
	case "init":
		handleInit(os.Args[2:])
	case "run":
		handleRun(os.Args[2:])
	case "status":
		handleStatus(os.Args[2:])
	case "peers":
		handlePeers(os.Args[2:])
	case "discover":
		handleDiscover(os.Args[2:])
	case "stats":
		handleStats(os.Args[2:])
	case "export":
		handleExport(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func handleInit(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	force := fs.Bool("force", false, "overwrite an existing config")
	_ = fs.Parse(args)

	if *configPath == "" {
		log.Fatal("--config is required")
	}
	if _, err := os.Stat(*configPath); err == nil && !*force {
		log.Fatalf("%s exists; use --force to overwrite", *configPath)
	}

	cfg := config.Config{Node: &config.NodeConfig{}}
	if err := config.Save(*configPath, cfg); err != nil {
		log.Fatalf("write config: %v", err)
	}
	fmt.Printf("wrote %s\n", *configPath)
}

func handleRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	_ = fs.Parse(args)

	cfg := loadNodeConfig(*configPath)

	sock, err := transport.Bind(cfg.Ports)
	if err != nil {
		log.Fatalf("bind: %v", err)
	}
	defer sock.Close()

	if cfg.Broadcast() {
		if err := sock.EnableBroadcast(); err != nil {
			log.Printf("enable broadcast failed: %v", err)
		}
	}
	if cfg.Multicast() {
		group := netip.MustParseAddr(cfg.MulticastAddr)
		ifaces, err := net.Interfaces()
		if err != nil {
			log.Printf("interface enumeration failed: %v", err)
		}
		if err := sock.JoinMulticast(group, ifaces); err != nil {
			log.Printf("multicast setup failed: %v", err)
		}
	}

	n, err := node.New(cfg, sock)
	if err != nil {
		log.Fatalf("node: %v", err)
	}

	if cfg.RegistryPath != "" {
		reg, err := store.LoadRegistry(cfg.RegistryPath)
		if err != nil {
			log.Printf("load registry: %v", err)
		} else if len(reg.Peers) > 0 {
			log.Printf("registry knows %d peers from previous runs", len(reg.Peers))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.StatusListen != "" {
		srv := status.NewServer(cfg.StatusListen, n)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("status server: %v", err)
			}
		}()
	}

	if *configPath != "" {
		events, err := config.Watch(ctx, *configPath)
		if err != nil {
			log.Printf("config watch failed: %v", err)
		} else {
			go func() {
				for range events {
					log.Printf("config file changed on disk; restart to apply")
				}
			}()
		}
	}

	if len(cfg.STUNServers) > 0 {
		go func() {
			addr, nat, err := stunutil.Probe(ctx, cfg.STUNServers, 5*time.Second)
			if err != nil {
				log.Printf("STUN probe failed: %v", err)
				return
			}
			log.Printf("public address %s nat=%s", addr, nat)
		}()
	}

	log.Printf("node source=%d policy=%s delta=%g port=%d", cfg.SourceID, cfg.Policy, cfg.Delta, sock.Port())
	err = n.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("run: %v", err)
	}

	if cfg.RegistryPath != "" {
		saveRegistry(cfg.RegistryPath, n)
	}
}

func saveRegistry(path string, n *node.Node) {
	reg, err := store.LoadRegistry(path)
	if err != nil {
		log.Printf("load registry: %v", err)
		reg = &store.Registry{}
	}
	for _, p := range n.Peers() {
		reg.Upsert(store.PeerRecord{
			Addr:          p.Addr,
			Source:        p.Source,
			LastTimestamp: p.LastTimestamp,
			LastValue:     p.LastValue,
			Messages:      p.Messages,
			LastSeenAt:    p.LastSeenAt,
		})
	}
	if err := store.SaveRegistry(path, reg); err != nil {
		log.Printf("save registry: %v", err)
		return
	}
	log.Printf("saved %d peers to %s", len(reg.Peers), path)
}

func handleStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	addr := fs.String("addr", "", "status address of a running node")
	configPath := fs.String("config", "", "path to YAML config")
	_ = fs.Parse(args)

	target := statusAddr(*addr, *configPath)
	client := api.NewClient(target)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := client.Status(ctx)
	if err != nil {
		log.Fatalf("status: %v", err)
	}
	fmt.Printf("source:    %d\n", resp.Source)
	fmt.Printf("policy:    %s (bound %g)\n", resp.Policy, resp.Bound)
	fmt.Printf("value:     %g\n", resp.Value)
	fmt.Printf("cycles:    %d periodic, %d receipt\n", resp.PeriodicCycles, resp.ReceiptCycles)
	fmt.Printf("failures:  %d\n", resp.SendFailures)
	fmt.Printf("peers:     %d\n", resp.PeersKnown)
	if !resp.StartedAt.IsZero() {
		fmt.Printf("uptime:    %s\n", time.Since(resp.StartedAt).Round(time.Second))
	}
}

func handlePeers(args []string) {
	fs := flag.NewFlagSet("peers", flag.ExitOnError)
	addr := fs.String("addr", "", "status address of a running node")
	configPath := fs.String("config", "", "path to YAML config")
	_ = fs.Parse(args)

	if *addr == "" && *configPath != "" {
		// Fall back to the persisted registry when no node is running.
		cfg := loadNodeConfig(*configPath)
		if cfg.StatusListen == "" && cfg.RegistryPath != "" {
			printRegistry(cfg.RegistryPath)
			return
		}
	}

	target := statusAddr(*addr, *configPath)
	client := api.NewClient(target)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := client.Peers(ctx)
	if err != nil {
		log.Fatalf("peers: %v", err)
	}
	for _, p := range resp.Peers {
		fmt.Printf("%-18s source=%-5d value=%-10g msgs=%-6d last=%s\n",
			p.Addr, p.Source, p.LastValue, p.Messages, p.LastSeenAt.Format(time.RFC3339))
	}
	if len(resp.Peers) == 0 {
		fmt.Println("no peers observed")
	}
}

func printRegistry(path string) {
	reg, err := store.LoadRegistry(path)
	if err != nil {
		log.Fatalf("load registry: %v", err)
	}
	for _, p := range reg.Peers {
		fmt.Printf("%-18s source=%-5d value=%-10g msgs=%-6d last=%s\n",
			p.Addr, p.Source, p.LastValue, p.Messages, p.LastSeenAt.Format(time.RFC3339))
	}
	if len(reg.Peers) == 0 {
		fmt.Println("no peers recorded")
	}
}

func handleDiscover(args []string) {
	fs := flag.NewFlagSet("discover", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	stunList := fs.String("stun", "", "comma-separated STUN servers")
	_ = fs.Parse(args)

	servers := splitList(*stunList)
	if len(servers) == 0 && *configPath != "" {
		servers = loadNodeConfig(*configPath).STUNServers
	}
	if len(servers) == 0 {
		log.Fatal("no STUN servers; set --stun or node.stun_servers")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	addr, nat, err := stunutil.Probe(ctx, servers, 5*time.Second)
	if err != nil {
		log.Fatalf("discover: %v", err)
	}
	fmt.Printf("public address: %s\n", addr)
	fmt.Printf("nat type:       %s\n", nat)
}

func handleStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	metricsPath := fs.String("metrics", "", "metrics CSV path (overrides config)")
	window := fs.Duration("window", 5*time.Minute, "summary window")
	_ = fs.Parse(args)

	path := selectMetricsPath(*configPath, *metricsPath)
	items, err := metrics.ReadCSV(path)
	if err != nil {
		log.Fatalf("read metrics: %v", err)
	}

	s := metrics.Summarize(items, time.Now().UTC().Add(-*window))
	if s.Count == 0 {
		fmt.Printf("no samples in the last %s\n", window)
		return
	}
	fmt.Printf("samples:   %d (%s .. %s)\n", s.Count, s.From.Format(time.RFC3339), s.To.Format(time.RFC3339))
	fmt.Printf("value:     last=%g avg=%.3f min=%g max=%g\n", s.LastValue, s.AvgValue, s.MinValue, s.MaxValue)
	fmt.Printf("cycles:    %d periodic, %d receipt\n", s.PeriodicCycles, s.ReceiptCycles)
	fmt.Printf("failures:  %d\n", s.SendFailures)
	fmt.Printf("peers:     %d\n", s.PeersKnown)
}

func handleExport(args []string) {
	if len(args) == 0 || args[0] != "csv" {
		fmt.Fprint(os.Stderr, "export subcommand required: csv\n")
		os.Exit(2)
	}

	fs := flag.NewFlagSet("export csv", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	metricsPath := fs.String("metrics", "", "metrics CSV path (overrides config)")
	out := fs.String("out", "", "output file")
	_ = fs.Parse(args[1:])

	if *out == "" {
		log.Fatal("--out is required")
	}

	path := selectMetricsPath(*configPath, *metricsPath)
	items, err := metrics.ReadCSV(path)
	if err != nil {
		log.Fatalf("read metrics: %v", err)
	}

	f, err := os.Create(*out)
	if err != nil {
		log.Fatalf("create %s: %v", *out, err)
	}
	defer f.Close()

	if err := metrics.WriteCSV(f, items); err != nil {
		log.Fatalf("write csv: %v", err)
	}
	fmt.Printf("exported %d samples to %s\n", len(items), *out)
}

func loadNodeConfig(path string) *config.NodeConfig {
	if path == "" {
		log.Fatal("--config is required")
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	return cfg.Node
}

func statusAddr(addr, configPath string) string {
	if addr != "" {
		return addr
	}
	if configPath != "" {
		cfg := loadNodeConfig(configPath)
		if cfg.StatusListen != "" {
			return cfg.StatusListen
		}
	}
	log.Fatal("no status address; set --addr or node.status_listen")
	return ""
}

func selectMetricsPath(configPath, override string) string {
	if override != "" {
		return override
	}
	if configPath != "" {
		cfg := loadNodeConfig(configPath)
		if cfg.MetricsPath != "" {
			return cfg.MetricsPath
		}
	}
	log.Fatal("no metrics path; set --metrics or node.metrics_path")
	return ""
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
