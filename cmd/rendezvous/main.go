// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/rendezvous/bus"
	"github.com/bureau-foundation/rendezvous/lib/config"
	"github.com/bureau-foundation/rendezvous/lib/netutil"
	"github.com/bureau-foundation/rendezvous/lib/secret"
	"github.com/bureau-foundation/rendezvous/lib/version"
	"github.com/bureau-foundation/rendezvous/relay"
	"github.com/bureau-foundation/rendezvous/signaling"
	"github.com/bureau-foundation/rendezvous/transport"
)

// announceInterval re-broadcasts discovery while waiting. Discover
// messages expire after a few seconds, so a participant that joins
// later would otherwise never see them.
const announceInterval = 3 * time.Second

// listeningKey marks discovery data from a participant started with
// --listen. Only those are connected to.
const listeningKey = "listening"

type options struct {
	configPath     string
	listen         bool
	relayURL       string
	passwordFile   string
	promptPassword bool
	logLevel       string
	label          string
	name           string
	timeout        time.Duration
	loopback       bool
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Handle --version before flag parsing to match the relay binary.
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("rendezvous")
		return nil
	}

	var opts options
	flagSet := newFlagSet(&opts)
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if flagSet.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %v", flagSet.Args())
	}

	cfg, err := loadConfig(opts, flagSet)
	if err != nil {
		return err
	}
	level, err := cfg.Level()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	password, err := roomPassword(cfg, opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	carrier, err := relay.Dial(ctx, cfg.RelayURL, logger)
	if err != nil {
		return err
	}
	defer carrier.Close()

	node := bus.NewNode(carrier, bus.NodeConfig{Logger: logger})
	defer node.Close()

	discoveries := make(chan signaling.Discovery, 16)
	requests := make(chan *signaling.Request, 4)
	client, err := signaling.New(node, signaling.Config{
		ConnectionTimeout: cfg.ConnectionTimeout.Std(),
		RoomPassword:      password,
		Peers: transport.NewPeerFactory(transport.FactoryConfig{
			ICE:             transport.ICEConfigFromServers(cfg.ICEServers),
			IncludeLoopback: opts.loopback,
			Logger:          logger,
		}),
		OnDiscover: func(discovery signaling.Discovery) {
			select {
			case discoveries <- discovery:
			default:
			}
		},
		OnRequest: func(request *signaling.Request) {
			if !opts.listen {
				request.Reject(signaling.Metadata{"reason": "not listening"})
				return
			}
			select {
			case requests <- request:
			default:
				request.Reject(signaling.Metadata{"reason": "busy"})
			}
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		client.Destroy()
		<-client.Done()
	}()

	if err := client.WaitReady(ctx); err != nil {
		return fmt.Errorf("joining room: %w", err)
	}
	if identity, ok := client.Identity(); ok {
		logger.Info("joined room", "signature", identity.SignatureKey, "listen", opts.listen)
	}

	connection, err := establish(ctx, client, opts, discoveryData(cfg.DiscoveryData, opts.listen), requests, discoveries, logger)
	if err != nil {
		return err
	}
	peer, ok := connection.Peer.Connection().(*transport.Peer)
	if !ok {
		return fmt.Errorf("unexpected peer connection type %T", connection.Peer.Connection())
	}
	conn, err := peer.Conn()
	if err != nil {
		return err
	}
	logger.Info("connected",
		"session", connection.Peer.SessionID(),
		"remote", connection.Peer.Remote().SignatureKey,
		"metadata", connection.Metadata,
	)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	return netutil.Pipe(conn, os.Stdin, os.Stdout)
}

func newFlagSet(opts *options) *pflag.FlagSet {
	hostname, _ := os.Hostname()

	flagSet := pflag.NewFlagSet("rendezvous", pflag.ContinueOnError)
	flagSet.StringVar(&opts.configPath, "config", "", "path to config file (default: $"+config.EnvironmentVariable+")")
	flagSet.BoolVar(&opts.listen, "listen", false, "accept the first incoming request instead of connecting")
	flagSet.StringVar(&opts.relayURL, "relay", "", "relay websocket URL (overrides relay_url)")
	flagSet.StringVar(&opts.passwordFile, "room-password-file", "", "read the room password from this file")
	flagSet.BoolVar(&opts.promptPassword, "prompt-password", false, "prompt for the room password on the terminal")
	flagSet.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error (overrides log_level)")
	flagSet.StringVar(&opts.label, "label", transport.DefaultChannelLabel, "data channel label")
	flagSet.StringVar(&opts.name, "name", hostname, "name sent to the other side as metadata")
	flagSet.DurationVar(&opts.timeout, "timeout", 0, "handshake timeout (overrides connection_timeout)")
	flagSet.BoolVar(&opts.loopback, "loopback", false, "gather loopback ICE candidates")
	flagSet.BoolP("help", "h", false, "show help")
	return flagSet
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, "Usage: rendezvous [flags]\n\n")
	fmt.Fprintf(os.Stderr, "Meet another participant through a relay and pipe stdin/stdout over a WebRTC data channel.\n\n")
	fmt.Fprintf(os.Stderr, "Flags:\n")
	flagSet.PrintDefaults()
}

// loadConfig reads the config file named by --config or the
// environment, falling back to defaults, then applies flag overrides.
func loadConfig(opts options, flagSet *pflag.FlagSet) (*config.Config, error) {
	var cfg *config.Config
	var err error
	switch {
	case opts.configPath != "":
		cfg, err = config.LoadFile(opts.configPath)
	case os.Getenv(config.EnvironmentVariable) != "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if flagSet.Changed("relay") {
		cfg.RelayURL = opts.relayURL
	}
	if flagSet.Changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}
	if flagSet.Changed("timeout") {
		cfg.ConnectionTimeout = config.Duration(opts.timeout)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.RelayURL == "" {
		return nil, fmt.Errorf("no relay URL: set relay_url or use --relay")
	}
	return cfg, nil
}

// roomPassword picks the password from --room-password-file, the
// terminal, or the config, in that order.
func roomPassword(cfg *config.Config, opts options) (string, error) {
	switch {
	case opts.passwordFile == "-":
		return "", fmt.Errorf("--room-password-file cannot be stdin: stdin carries the data stream")
	case opts.passwordFile != "":
		buffer, err := secret.ReadFromPath(opts.passwordFile)
		if err != nil {
			return "", fmt.Errorf("reading room password: %w", err)
		}
		defer buffer.Close()
		return buffer.String(), nil
	case opts.promptPassword:
		return promptPassword()
	}
	return cfg.RoomPassword, nil
}

// promptPassword reads from the controlling terminal rather than stdin,
// which is reserved for the data stream.
func promptPassword() (string, error) {
	tty, err := os.Open("/dev/tty")
	if err != nil {
		return "", fmt.Errorf("no terminal available for password prompt (use --room-password-file): %w", err)
	}
	defer tty.Close()

	fileDescriptor := int(tty.Fd())
	if !term.IsTerminal(fileDescriptor) {
		return "", fmt.Errorf("no terminal available for password prompt (use --room-password-file)")
	}

	fmt.Fprint(os.Stderr, "Room password: ")
	passwordBytes, err := term.ReadPassword(fileDescriptor)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	defer secret.Zero(passwordBytes)
	if len(passwordBytes) == 0 {
		return "", fmt.Errorf("room password is empty")
	}
	return string(passwordBytes), nil
}

// discoveryData is the configured discovery data plus the listening
// marker. The configured map is not modified.
func discoveryData(configured map[string]any, listening bool) map[string]any {
	data := make(map[string]any, len(configured)+1)
	maps.Copy(data, configured)
	data[listeningKey] = listening
	return data
}

// acceptsConnections reports whether discovery data came from a
// participant started with --listen.
func acceptsConnections(data any) bool {
	fields, ok := data.(map[string]any)
	if !ok {
		return false
	}
	listening, _ := fields[listeningKey].(bool)
	return listening
}

// establish announces this participant until one handshake succeeds.
// A listener accepts requests one at a time; a connecting participant
// tries each listener it discovers once.
func establish(
	ctx context.Context,
	client *signaling.Client,
	opts options,
	data map[string]any,
	requests <-chan *signaling.Request,
	discoveries <-chan signaling.Discovery,
	logger *slog.Logger,
) (*signaling.Connection, error) {
	metadata := signaling.Metadata{"name": opts.name}
	handshake := signaling.Options{ChannelLabel: opts.label}

	announce := time.NewTicker(announceInterval)
	defer announce.Stop()
	client.Discover(data)

	var pending *signaling.Future
	var pendingDone <-chan struct{}
	tried := make(map[string]bool)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-client.Done():
			return nil, signaling.ErrClientDestroyed

		case <-announce.C:
			client.Discover(data)

		case request := <-requests:
			if pending != nil {
				request.Reject(signaling.Metadata{"reason": "busy"})
				continue
			}
			logger.Info("accepting request",
				"session", request.SessionID(),
				"initiator", request.Initiator.SignatureKey,
				"metadata", request.Metadata,
			)
			pending = request.Accept(metadata, handshake)
			pendingDone = pending.Done()

		case discovery := <-discoveries:
			if opts.listen || pending != nil || !acceptsConnections(discovery.Data) {
				continue
			}
			target := discovery.Identity.SignatureKey
			if tried[target] {
				continue
			}
			tried[target] = true
			logger.Info("connecting", "target", target)
			future, err := client.Connect(discovery.Identity, metadata, handshake)
			if err != nil {
				return nil, err
			}
			pending = future
			pendingDone = future.Done()

		case <-pendingDone:
			connection, err := pending.Result()
			if err == nil {
				return connection, nil
			}
			var failure *signaling.Failure
			if errors.As(err, &failure) {
				logger.Warn("handshake failed", "error", err, "metadata", failure.Metadata)
			} else {
				logger.Warn("handshake failed", "error", err)
			}
			pending, pendingDone = nil, nil
		}
	}
}
