package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // Intentionally exposed on debug port.
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/socksgate/internal/config"
	"github.com/die-net/socksgate/internal/dialer"
	"github.com/die-net/socksgate/internal/logging"
	"github.com/die-net/socksgate/internal/proxy"
	"github.com/die-net/socksgate/internal/socks5"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	config.RegisterFlags(pflag.CommandLine)
	pflag.CommandLine.SortFlags = false
	pflag.Parse()

	settings, err := config.Load(pflag.CommandLine)
	if err != nil {
		return err
	}

	logger, err := logging.New(settings.LogLevel, settings.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if settings.ConfigFile != "" {
		logger.Info("loaded config", zap.String("path", settings.ConfigFile))
	}

	ka, err := parseTCPKeepAlive(settings.TCPKeepAlive)
	if err != nil {
		return fmt.Errorf("invalid --tcp-keepalive: %w", err)
	}

	dialCfg := dialer.Config{
		DialTimeout:        settings.DialTimeout,
		NegotiationTimeout: settings.NegotiationTimeout,
		KeepAlive:          ka,
		DNSServer:          settings.DNSServer,
		SSHKeyPath:         settings.SSHKey,
		SSHKnownHostsPath:  settings.SSHKnownHosts,
		Logger:             logger.Named("dialer"),
	}
	d, err := dialer.New(dialCfg, settings.Upstream)
	if err != nil {
		return fmt.Errorf("invalid --upstream: %w", err)
	}

	g, ctx := errgroup.WithContext(context.Background())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if settings.DebugListen != "" {
		debugSrv := &http.Server{Handler: http.DefaultServeMux} //nolint:gosec // Not concerned about timeouts on debug port.
		lc := net.ListenConfig{KeepAliveConfig: ka}
		debugLn, err := lc.Listen(ctx, "tcp", settings.DebugListen)
		if err != nil {
			return fmt.Errorf("debug listen: %w", err)
		}
		context.AfterFunc(ctx, func() {
			_ = debugSrv.Close()
			_ = debugLn.Close()
		})

		g.Go(func() error {
			if err := debugSrv.Serve(debugLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("debug serve: %w", err)
			}
			return nil
		})
		logger.Info("debug listening", zap.String("addr", settings.DebugListen))
	}

	ln, err := proxy.ListenTCP(ctx, settings.SOCKS5Listen, ka)
	if err != nil {
		return fmt.Errorf("socks5 listen: %w", err)
	}

	srv := proxy.NewSOCKS5Server(ctx, proxy.Config{
		Dialer:             d,
		Auth:               socks5.Auth{Username: settings.Username, Password: settings.Password},
		NegotiationTimeout: settings.NegotiationTimeout,
		DialTimeout:        settings.DialTimeout,
		IdleTimeout:        settings.IdleTimeout,
		MaxSessions:        settings.MaxSessions,
		BufferSize:         settings.BufferSize,
		HalfClose:          settings.HalfClose,
		Logger:             logger.Named("socks5"),
		Verbose:            settings.Verbose,
	})
	context.AfterFunc(ctx, func() {
		_ = srv.Close()
	})

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, proxy.ErrServerClosed) {
			return fmt.Errorf("socks5 serve: %w", err)
		}
		return nil
	})

	logger.Info("socks5 proxy listening",
		zap.Stringer("addr", ln.Addr()),
		zap.String("upstream", redactURL(settings.Upstream)),
		zap.Bool("auth", settings.Username != ""),
	)

	err = g.Wait()

	logger.Info("shutting down")
	return err
}

// redactURL hides any password in an upstream URL.
func redactURL(s string) string {
	u, err := url.Parse(s)
	if err != nil {
		return "invalid"
	}
	return u.Redacted()
}

func parseTCPKeepAlive(s string) (net.KeepAliveConfig, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	switch s {
	case "":
		return net.KeepAliveConfig{}, errors.New("empty")
	case "on":
		return net.KeepAliveConfig{Enable: true}, nil
	case "off":
		return net.KeepAliveConfig{Enable: false}, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return net.KeepAliveConfig{}, errors.New("expected on|off|keepidle:keepintvl:keepcnt")
	}
	keepIdle, err := parsePositiveInt(parts[0])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepidle: %w", err)
	}
	keepIntvl, err := parsePositiveInt(parts[1])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepintvl: %w", err)
	}
	keepCnt, err := parsePositiveInt(parts[2])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepcnt: %w", err)
	}

	return net.KeepAliveConfig{
		Enable:   true,
		Idle:     time.Duration(keepIdle) * time.Second,
		Interval: time.Duration(keepIntvl) * time.Second,
		Count:    keepCnt,
	}, nil
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be > 0")
	}
	return n, nil
}
