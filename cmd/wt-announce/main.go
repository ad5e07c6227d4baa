// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Wt-announce joins a swarm through WebTorrent trackers: it announces
// an info-hash with a batch of WebRTC offers, answers remote offers,
// and reports every peer whose data channel opens. It is a diagnostic
// tool for tracker and signaling behavior, not a torrent client.
package main

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/webtorrent/protocol"
	"github.com/bureau-foundation/webtorrent/rtc"
	"github.com/bureau-foundation/webtorrent/tracker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// fileConfig is the optional YAML configuration. Flags override it.
type fileConfig struct {
	Trackers  []string `yaml:"trackers"`
	UserAgent string   `yaml:"user_agent"`
	NumOffers int      `yaml:"num_offers"`
	NumWant   int      `yaml:"numwant"`
}

func loadConfig(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var config fileConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &config, nil
}

func run() error {
	var (
		configPath string
		trackers   []string
		infoHashes []string
		userAgent  string
		numOffers  int
		numWant    int
		verbose    bool
	)

	pflag.StringVar(&configPath, "config", "", "path to YAML config file")
	pflag.StringSliceVar(&trackers, "tracker", nil, "tracker URL (wss only, repeatable)")
	pflag.StringSliceVar(&infoHashes, "info-hash", nil, "info-hash as 40 hex digits (repeatable)")
	pflag.StringVar(&userAgent, "user-agent", "wt-announce/1.0", "User-Agent for the tracker handshake")
	pflag.IntVar(&numOffers, "offers", 5, "WebRTC offers per announce")
	pflag.IntVar(&numWant, "numwant", 50, "peers to request per announce")
	pflag.BoolVar(&verbose, "verbose", false, "enable debug logging")
	pflag.Parse()

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if configPath != "" {
		config, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		if len(trackers) == 0 {
			trackers = config.Trackers
		}
		if config.UserAgent != "" {
			userAgent = config.UserAgent
		}
		if config.NumOffers > 0 {
			numOffers = config.NumOffers
		}
		if config.NumWant > 0 {
			numWant = config.NumWant
		}
	}
	if len(trackers) == 0 {
		return fmt.Errorf("at least one --tracker is required")
	}
	if len(infoHashes) == 0 {
		return fmt.Errorf("at least one --info-hash is required")
	}

	hashes := make([]protocol.InfoHash, 0, len(infoHashes))
	for _, arg := range infoHashes {
		raw, err := hex.DecodeString(arg)
		if err != nil {
			return fmt.Errorf("info-hash %q is not hex: %w", arg, err)
		}
		hash, err := protocol.InfoHashFromBytes(raw)
		if err != nil {
			return fmt.Errorf("info-hash %q must be %d bytes", arg, protocol.IDSize)
		}
		hashes = append(hashes, hash)
	}

	engine := rtc.NewPionEngine()
	peerID := protocol.GeneratePeerID()
	logger.Info("starting", "peer_id", peerID, "trackers", len(trackers), "swarms", len(hashes))

	var clients []*tracker.Client
	for _, rawURL := range trackers {
		client, err := tracker.NewClient(rawURL, tracker.Options{
			UserAgent: userAgent,
			Logger:    logger.With("tracker", rawURL),
		})
		if err != nil {
			return err
		}
		clients = append(clients, client)
	}

	for _, hash := range hashes {
		for _, client := range clients {
			swarm := newSwarm(hash, peerID, client, engine, numOffers, numWant, logger)
			client.Register(hash, swarm)
			swarm.announce(tracker.EventStarted)
		}
	}
	for _, client := range clients {
		client.Start()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	for _, client := range clients {
		client.Close()
	}
	return nil
}

// swarm ties one info-hash on one tracker to a signaling coordinator.
// It implements tracker.Callback.
type swarm struct {
	hash      protocol.InfoHash
	peerID    protocol.PeerID
	client    *tracker.Client
	signaling *rtc.Signaling
	numOffers int
	numWant   int
	logger    *slog.Logger
}

var _ tracker.Callback = (*swarm)(nil)

func newSwarm(hash protocol.InfoHash, peerID protocol.PeerID, client *tracker.Client, engine rtc.Engine, numOffers, numWant int, logger *slog.Logger) *swarm {
	s := &swarm{
		hash:      hash,
		peerID:    peerID,
		client:    client,
		numOffers: numOffers,
		numWant:   numWant,
		logger:    logger.With("info_hash", hash),
	}
	s.signaling = rtc.NewSignaling(engine, s.streamOpened, rtc.SignalingOptions{
		Logger: s.logger,
	})
	return s
}

// announce generates a fresh offer batch and queues one announce frame
// carrying it.
func (s *swarm) announce(event tracker.Event) {
	s.signaling.GenerateOffers(s.numOffers, func(offers []protocol.Offer) {
		s.logger.Info("announcing", "event", string(event), "offers", len(offers))
		s.client.QueueAnnounce(tracker.AnnounceRequest{
			InfoHash: s.hash,
			PeerID:   s.peerID,
			Left:     -1,
			NumWant:  s.numWant,
			Event:    event,
			Offers:   offers,
		}, s)
	})
}

func (s *swarm) streamOpened(peer protocol.PeerID, stream *rtc.Stream) {
	remote := "unknown"
	if endpoint, err := stream.RemoteEndpoint(); err == nil {
		remote = endpoint.String()
	}
	s.logger.Info("peer connected", "peer_id", peer, "remote", remote)

	// This tool only proves reachability; it has no wire protocol to
	// speak, so the stream is closed straight away.
	stream.Close()
}

func (s *swarm) OnTrackerResponse(resp tracker.Response) {
	s.logger.Info("tracker response",
		"interval", resp.Interval,
		"min_interval", resp.MinInterval,
		"complete", resp.Complete,
		"incomplete", resp.Incomplete)

	interval := resp.Interval
	if interval < resp.MinInterval {
		interval = resp.MinInterval
	}
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	time.AfterFunc(interval, func() { s.announce(tracker.EventNone) })
}

func (s *swarm) OnRTCOffer(offer protocol.Offer) {
	s.logger.Debug("remote offer", "offer_id", offer.ID, "peer_id", offer.PeerID)
	s.signaling.ProcessOffer(offer)
}

func (s *swarm) OnRTCAnswer(answer protocol.Answer) {
	s.logger.Debug("remote answer", "offer_id", answer.OfferID, "peer_id", answer.PeerID)
	s.signaling.ProcessAnswer(answer)
}

func (s *swarm) OnTrackerError(err error, retry time.Duration) {
	s.logger.Warn("tracker error", "error", err, "retry_in", retry)
	time.AfterFunc(retry, s.client.Start)
}
