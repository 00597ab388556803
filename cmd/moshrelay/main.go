// Package main provides the CLI entry point for moshrelay.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/postalsys/moshrelay/internal/client"
	"github.com/postalsys/moshrelay/internal/config"
	"github.com/postalsys/moshrelay/internal/crypto"
	"github.com/postalsys/moshrelay/internal/liveness"
	"github.com/postalsys/moshrelay/internal/logging"
	"github.com/postalsys/moshrelay/internal/metrics"
	"github.com/postalsys/moshrelay/internal/pacing"
	"github.com/postalsys/moshrelay/internal/sysinfo"
	"github.com/postalsys/moshrelay/internal/wizard"
)

// Version is set at build time via ldflags.
// When "dev", we use sysinfo.Version which has enhanced dev version info.
var Version = "dev"

func init() {
	if Version == "dev" {
		Version = sysinfo.Version
	} else {
		sysinfo.Version = Version
	}
}

func main() {
	rootCmd := &cobra.Command{
		Use:     "moshrelay",
		Short:   "moshrelay - state-synchronization carrier over UDP",
		Version: Version,
		Long: `moshrelay carries an opaque byte stream across unreliable UDP
using the mosh State Synchronization Protocol: cumulative ACKs,
adaptive retransmission, and AES-128-OCB3 encrypted fragments.`,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(genkeyCmd())
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(statsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var configPath string
	var asServer bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay, bridging stdin/stdout to a UDP peer",
		Long: `serve opens a UDP socket, exchanges Instructions with the
configured peer, and bridges the session's byte stream to stdin/stdout
so it can sit behind an SSH ProxyCommand or similar pipe.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			return runServe(cfg, asServer)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./moshrelay.yaml", "Path to configuration file")
	cmd.Flags().BoolVar(&asServer, "server", false, "Own the server half of the direction-tagged sequence space")

	return cmd
}

func runServe(cfg *config.Config, asServer bool) error {
	log := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)

	key, err := crypto.ParseKey(cfg.Session.Key)
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	defer crypto.ZeroBytes(key)

	direction := crypto.ToServer
	if asServer {
		direction = crypto.ToClient
	}

	c, err := client.New(key, direction, cfg.Session.MTU, cfg.Session.HeartbeatIntervalMs, log)
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	conn, err := dialUDP(cfg.Listen.Address, cfg.Peer.Address)
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	defer conn.Close()

	m := metrics.Default()
	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.Address, log)
	}

	pacer := pacing.NewPacer(0, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	lastRecv := time.Now()
	go watchLiveness(ctx, cfg.Peer.Address, cfg.Session.StaleTimeout, &lastRecv, log)

	// fatalCh carries egress errors from Client.Send/Tick: per spec §7
	// these are a programming bug (e.g. a corrupted crypto session), not
	// network noise, so the session tears down rather than swallowing them.
	fatalCh := make(chan error, 2)

	go pumpStdinToStream(ctx, c, conn, pacer, m, log, fatalCh)
	go pumpUDPToStdout(ctx, conn, c, m, log, &lastRecv)

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	log.Info("serving", logging.KeyLocalAddr, cfg.Listen.Address, logging.KeyRemoteAddr, cfg.Peer.Address)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-fatalCh:
			cancel()
			return fmt.Errorf("serve: %w", err)
		case <-ticker.C:
			now := uint64(time.Now().UnixMilli())
			datagrams, err := c.Tick(now)
			if err != nil {
				cancel()
				return fmt.Errorf("serve: %w", err)
			}
			stats := c.Stats()
			m.SetRTT(stats.SRTTMs, float64(stats.RTOMs))
			if serr := pacer.SendAll(ctx, datagrams, func(dg []byte) error {
				_, werr := conn.Write(dg)
				return werr
			}); serr != nil && ctx.Err() == nil {
				log.Warn("tick send failed", logging.KeyError, serr)
			}
			for range datagrams {
				m.RecordFragmentSent()
			}
		}
	}
}

func dialUDP(listenAddr, peerAddr string) (*net.UDPConn, error) {
	localAddr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve listen address: %w", err)
	}
	remoteAddr, err := net.ResolveUDPAddr("udp", peerAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve peer address: %w", err)
	}
	return net.DialUDP("udp", localAddr, remoteAddr)
}

// watchLiveness probes the peer's network reachability independently of
// the carrier's own staleness tracking: a path that filters ICMP but
// carries UDP fine will report probe failures that the operator can
// safely ignore, but a peer that's gone dark on both is worth a log line.
func watchLiveness(ctx context.Context, peerAddr string, staleTimeout time.Duration, lastRecv *time.Time, log *slog.Logger) {
	if staleTimeout <= 0 {
		staleTimeout = liveness.DefaultStaleThreshold
	}

	host, _, err := net.SplitHostPort(peerAddr)
	if err != nil {
		host = peerAddr
	}
	ips, err := net.LookupIP(host)
	if err != nil || len(ips) == 0 {
		log.Debug("liveness: cannot resolve peer for probing", logging.KeyError, err)
		return
	}

	prober, err := liveness.NewProber(ips[0], uint16(os.Getpid()), 2*time.Second)
	if err != nil {
		log.Debug("liveness: probe unavailable, likely missing permissions", logging.KeyError, err)
		return
	}
	defer prober.Close()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !liveness.IsStale(*lastRecv, staleTimeout) {
				continue
			}
			if rtt, err := prober.Probe(); err != nil {
				log.Warn("peer unreachable at network layer", logging.KeyRemoteAddr, peerAddr, logging.KeyError, err)
			} else {
				log.Warn("session stale but peer answers ICMP", logging.KeyRemoteAddr, peerAddr, logging.KeyDuration, rtt)
			}
		}
	}
}

func pumpStdinToStream(ctx context.Context, c *client.Client, conn *net.UDPConn, pacer *pacing.Pacer, m *metrics.Metrics, log *slog.Logger, fatalCh chan<- error) {
	reader := bufio.NewReader(os.Stdin)
	buf := make([]byte, 4096)
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := reader.Read(buf)
		if n > 0 {
			now := uint64(time.Now().UnixMilli())
			datagrams, serr := c.Send(buf[:n], now)
			if serr != nil {
				fatalCh <- serr
				return
			}
			m.RecordBytesSent(n)
			if serr := pacer.SendAll(ctx, datagrams, func(dg []byte) error {
				_, werr := conn.Write(dg)
				return werr
			}); serr != nil && ctx.Err() == nil {
				log.Warn("send failed", logging.KeyError, serr)
			}
			for range datagrams {
				m.RecordFragmentSent()
			}
		}
		if err != nil {
			if err != io.EOF {
				log.Warn("stdin read failed", logging.KeyError, err)
			}
			return
		}
	}
}

func pumpUDPToStdout(ctx context.Context, conn *net.UDPConn, c *client.Client, m *metrics.Metrics, log *slog.Logger, lastRecv *time.Time) {
	writer := bufio.NewWriter(os.Stdout)
	defer writer.Flush()

	buf := make([]byte, 65536)
	for {
		if ctx.Err() != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, err := conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			log.Warn("udp read failed", logging.KeyError, err)
			continue
		}
		*lastRecv = time.Now()
		m.RecordFragmentReceived()
		now := uint64(time.Now().UnixMilli())
		payload := c.RecvUDP(buf[:n], now)
		if len(payload) > 0 {
			m.RecordBytesReceived(len(payload))
			if _, werr := writer.Write(payload); werr != nil {
				log.Warn("stdout write failed", logging.KeyError, werr)
				continue
			}
			writer.Flush()
		}
	}
}

func serveMetrics(address string, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Info("metrics listening", logging.KeyLocalAddr, address)
	if err := http.ListenAndServe(address, mux); err != nil {
		log.Error("metrics listener exited", logging.KeyError, err)
	}
}

func genkeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "genkey",
		Short: "Generate a fresh pre-shared key",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := crypto.GenerateKey()
			if err != nil {
				return fmt.Errorf("genkey: %w", err)
			}
			defer crypto.ZeroBytes(key)

			encoded, err := crypto.EncodeKey(key)
			if err != nil {
				return fmt.Errorf("genkey: %w", err)
			}
			fmt.Println(encoded)
			return nil
		},
	}
}

func initCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Run the interactive setup wizard",
		RunE: func(cmd *cobra.Command, args []string) error {
			var existing *config.Config
			if data, err := os.ReadFile(configPath); err == nil {
				existing, _ = config.Parse(data)
			}

			w := wizard.New(existing)
			result, err := w.Run()
			if err != nil {
				return fmt.Errorf("init: %w", err)
			}

			if err := config.Save(result.ConfigPath, result.Config); err != nil {
				return fmt.Errorf("init: %w", err)
			}

			fmt.Printf("Wrote configuration to %s\n", result.ConfigPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./moshrelay.yaml", "Path to existing configuration to use as defaults")

	return cmd
}

func statsCmd() *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print a running session's metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printStats(metricsAddr)
		},
	}

	cmd.Flags().StringVarP(&metricsAddr, "metrics-listen", "m", "127.0.0.1:9090", "Address of a running moshrelay's metrics endpoint")

	return cmd
}

func printStats(metricsAddr string) error {
	resp, err := http.Get(fmt.Sprintf("http://%s/metrics", metricsAddr))
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}

	width := 80
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		width = w
	}

	uptime := sysinfo.Uptime()
	fmt.Printf("moshrelay %s, uptime %s\n", Version, humanize.RelTime(time.Now().Add(-uptime), time.Now(), "", ""))
	fmt.Println(dividerLine(width))
	fmt.Print(string(body))
	return nil
}

func dividerLine(width int) string {
	b := make([]byte, width)
	for i := range b {
		b[i] = '-'
	}
	return string(b)
}
