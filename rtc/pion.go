// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rtc

import (
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/pion/webrtc/v4"
)

// PionEngine is the production Engine on pion/webrtc. Candidate
// gathering is vanilla ICE: the local description is reported only
// once gathering completes, so every offer and answer is
// self-contained.
type PionEngine struct {
	api *webrtc.API
}

var _ Engine = (*PionEngine)(nil)

// NewPionEngine builds an engine with loopback candidates enabled so
// two peers on one host can reach each other.
func NewPionEngine() *PionEngine {
	settings := webrtc.SettingEngine{}
	settings.SetIncludeLoopbackCandidate(true)
	return &PionEngine{
		api: webrtc.NewAPI(webrtc.WithSettingEngine(settings)),
	}
}

// NewPeerConnection implements Engine.
func (e *PionEngine) NewPeerConnection(config Config) (PeerConnection, error) {
	urls := config.STUNServers
	if len(urls) == 0 {
		urls = []string{DefaultSTUNServer}
	}
	pc, err := e.api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: urls}},
	})
	if err != nil {
		return nil, fmt.Errorf("creating peer connection: %w", err)
	}

	p := &pionPeerConnection{pc: pc}
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.mu.Lock()
		fn := p.onState
		p.mu.Unlock()
		if fn != nil {
			fn(mapState(state))
		}
	})
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		p.mu.Lock()
		fn := p.onChannel
		p.mu.Unlock()
		if fn != nil {
			fn(newPionDataChannel(dc))
		}
	})
	return p, nil
}

func mapState(state webrtc.PeerConnectionState) State {
	switch state {
	case webrtc.PeerConnectionStateNew:
		return StateNew
	case webrtc.PeerConnectionStateConnecting:
		return StateConnecting
	case webrtc.PeerConnectionStateConnected:
		return StateConnected
	case webrtc.PeerConnectionStateFailed:
		return StateFailed
	case webrtc.PeerConnectionStateClosed:
		return StateClosed
	default:
		// Disconnected is transient; ICE may still recover.
		return StateConnecting
	}
}

type pionPeerConnection struct {
	pc *webrtc.PeerConnection

	mu          sync.Mutex
	onGathering func(localSDP string)
	onState     func(State)
	onChannel   func(DataChannel)
}

var _ PeerConnection = (*pionPeerConnection)(nil)

// CreateDataChannel opens the channel and starts offer generation.
// The complete offer SDP is reported through OnGatheringComplete once
// every candidate has been gathered.
func (p *pionPeerConnection) CreateDataChannel(label string) (DataChannel, error) {
	dc, err := p.pc.CreateDataChannel(label, nil)
	if err != nil {
		return nil, fmt.Errorf("creating data channel: %w", err)
	}

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("creating offer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("setting local offer: %w", err)
	}
	go p.reportWhenGathered(gathered)

	return newPionDataChannel(dc), nil
}

// SetRemoteDescription applies the remote SDP. An offer additionally
// starts local answer generation.
func (p *pionPeerConnection) SetRemoteDescription(desc Description) error {
	switch desc.Type {
	case DescriptionOffer:
		remote := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: desc.SDP}
		if err := p.pc.SetRemoteDescription(remote); err != nil {
			return fmt.Errorf("setting remote offer: %w", err)
		}
		answer, err := p.pc.CreateAnswer(nil)
		if err != nil {
			return fmt.Errorf("creating answer: %w", err)
		}
		gathered := webrtc.GatheringCompletePromise(p.pc)
		if err := p.pc.SetLocalDescription(answer); err != nil {
			return fmt.Errorf("setting local answer: %w", err)
		}
		go p.reportWhenGathered(gathered)
		return nil

	case DescriptionAnswer:
		remote := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: desc.SDP}
		if err := p.pc.SetRemoteDescription(remote); err != nil {
			return fmt.Errorf("setting remote answer: %w", err)
		}
		return nil

	default:
		return fmt.Errorf("unknown description type %q", desc.Type)
	}
}

func (p *pionPeerConnection) reportWhenGathered(gathered <-chan struct{}) {
	<-gathered
	local := p.pc.LocalDescription()
	if local == nil {
		return
	}
	p.mu.Lock()
	fn := p.onGathering
	p.mu.Unlock()
	if fn != nil {
		fn(local.SDP)
	}
}

func (p *pionPeerConnection) OnGatheringComplete(fn func(localSDP string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onGathering = fn
}

func (p *pionPeerConnection) OnStateChange(fn func(State)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onState = fn
}

func (p *pionPeerConnection) OnDataChannel(fn func(DataChannel)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChannel = fn
}

// LocalAddress reports the local half of the selected ICE candidate
// pair.
func (p *pionPeerConnection) LocalAddress() (string, bool) {
	pair := p.selectedPair()
	if pair == nil || pair.Local == nil {
		return "", false
	}
	return net.JoinHostPort(pair.Local.Address, strconv.Itoa(int(pair.Local.Port))), true
}

// RemoteAddress reports the remote half of the selected ICE candidate
// pair.
func (p *pionPeerConnection) RemoteAddress() (string, bool) {
	pair := p.selectedPair()
	if pair == nil || pair.Remote == nil {
		return "", false
	}
	return net.JoinHostPort(pair.Remote.Address, strconv.Itoa(int(pair.Remote.Port))), true
}

func (p *pionPeerConnection) selectedPair() *webrtc.ICECandidatePair {
	sctp := p.pc.SCTP()
	if sctp == nil {
		return nil
	}
	dtls := sctp.Transport()
	if dtls == nil {
		return nil
	}
	ice := dtls.ICETransport()
	if ice == nil {
		return nil
	}
	pair, err := ice.GetSelectedCandidatePair()
	if err != nil {
		return nil
	}
	return pair
}

func (p *pionPeerConnection) Close() error {
	return p.pc.Close()
}

// pionDataChannel adapts a pion data channel. Messages arriving before
// the consumer registers OnMessage are buffered and flushed on
// registration, matching the DataChannel contract.
type pionDataChannel struct {
	dc *webrtc.DataChannel

	mu       sync.Mutex
	opened   bool
	pending  [][]byte
	pendingN int
	onOpen   func()
	onMsg    func(data []byte)
	onClose  func()
}

var _ DataChannel = (*pionDataChannel)(nil)

func newPionDataChannel(dc *webrtc.DataChannel) *pionDataChannel {
	c := &pionDataChannel{dc: dc}
	dc.OnOpen(func() {
		c.mu.Lock()
		c.opened = true
		fn := c.onOpen
		c.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		c.mu.Lock()
		fn := c.onMsg
		if fn == nil {
			c.pending = append(c.pending, msg.Data)
			c.pendingN += len(msg.Data)
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
		fn(msg.Data)
	})
	dc.OnClose(func() {
		c.mu.Lock()
		fn := c.onClose
		c.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
	return c
}

func (c *pionDataChannel) Label() string { return c.dc.Label() }

func (c *pionDataChannel) OnOpen(fn func()) {
	c.mu.Lock()
	fire := c.opened
	c.onOpen = fn
	c.mu.Unlock()
	if fire && fn != nil {
		fn()
	}
}

func (c *pionDataChannel) OnMessage(fn func(data []byte)) {
	c.mu.Lock()
	c.onMsg = fn
	flush := c.pending
	c.pending = nil
	c.pendingN = 0
	c.mu.Unlock()
	if fn != nil {
		for _, msg := range flush {
			fn(msg)
		}
	}
}

func (c *pionDataChannel) OnClose(fn func()) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

func (c *pionDataChannel) Send(data []byte) error {
	return c.dc.Send(data)
}

func (c *pionDataChannel) BufferedInbound() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingN
}

func (c *pionDataChannel) Close() error {
	return c.dc.Close()
}
