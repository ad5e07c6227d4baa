// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rtc

import (
	"fmt"
	"sync"

	"github.com/bureau-foundation/webtorrent/protocol"
)

// MemoryEngine is an in-process Engine for tests. Two coordinators
// sharing one MemoryEngine can complete a full offer/answer/open cycle
// without touching the network: the "SDP" strings it generates are
// opaque tokens that the engine resolves back to peer connections when
// a remote description is applied.
//
// Callbacks fire synchronously from the triggering call, which keeps
// tests deterministic. Production code should never see this type.
type MemoryEngine struct {
	// FailConnections makes every subsequently created peer
	// connection report StateFailed instead of gathering.
	FailConnections bool

	// HoldGathering suppresses gathering-complete events, leaving
	// connections stuck in negotiation until a deadline reaps them.
	HoldGathering bool

	// LocalAddr and RemoteAddr, when non-empty, are reported by every
	// peer connection's address accessors.
	LocalAddr  string
	RemoteAddr string

	mu     sync.Mutex
	nextID int
	bySDP  map[string]*memoryPeerConnection
}

var _ Engine = (*MemoryEngine)(nil)

// NewMemoryEngine returns an empty in-process engine.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{bySDP: make(map[string]*memoryPeerConnection)}
}

// NewPeerConnection implements Engine.
func (e *MemoryEngine) NewPeerConnection(config Config) (PeerConnection, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	return &memoryPeerConnection{
		engine: e,
		id:     e.nextID,
		fail:   e.FailConnections,
		hold:   e.HoldGathering,
	}, nil
}

func (e *MemoryEngine) register(sdp string, pc *memoryPeerConnection) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bySDP[sdp] = pc
}

func (e *MemoryEngine) lookup(sdp string) *memoryPeerConnection {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bySDP[sdp]
}

type memoryPeerConnection struct {
	engine *MemoryEngine
	id     int
	fail   bool
	hold   bool

	mu        sync.Mutex
	closed    bool
	label     string
	localSDP  string
	ch        *memoryDataChannel
	gathering func(localSDP string)
	state     func(State)
	incoming  func(DataChannel)
}

var _ PeerConnection = (*memoryPeerConnection)(nil)

// CreateDataChannel starts the offer side: the local description is
// generated and reported synchronously unless the engine is configured
// to hold gathering or fail.
func (pc *memoryPeerConnection) CreateDataChannel(label string) (DataChannel, error) {
	pc.mu.Lock()
	if pc.closed {
		pc.mu.Unlock()
		return nil, protocol.ErrNotConnected
	}
	pc.label = label
	ch := &memoryDataChannel{label: label}
	pc.ch = ch
	pc.mu.Unlock()

	if pc.fail {
		pc.fireState(StateFailed)
		return ch, nil
	}
	if !pc.hold {
		pc.gather("memoffer")
	}
	return ch, nil
}

// SetRemoteDescription links this connection to the one that produced
// the given SDP token. Applying an offer generates and reports the
// local answer; applying an answer opens the channel pair end to end.
func (pc *memoryPeerConnection) SetRemoteDescription(desc Description) error {
	remote := pc.engine.lookup(desc.SDP)
	if remote == nil {
		return fmt.Errorf("unknown remote description %q", desc.SDP)
	}

	switch desc.Type {
	case DescriptionOffer:
		if pc.fail {
			pc.fireState(StateFailed)
			return nil
		}
		pc.mu.Lock()
		pc.label = remote.channelLabel()
		pc.mu.Unlock()
		if !pc.hold {
			pc.gather("memanswer")
		}
		return nil

	case DescriptionAnswer:
		if pc.fail {
			pc.fireState(StateFailed)
			return nil
		}
		link(pc, remote)
		return nil

	default:
		return fmt.Errorf("unknown description type %q", desc.Type)
	}
}

// gather mints the local SDP token, registers it with the
// engine, and reports it through the gathering callback.
func (pc *memoryPeerConnection) gather(kind string) {
	pc.mu.Lock()
	if pc.closed || pc.localSDP != "" {
		pc.mu.Unlock()
		return
	}
	sdp := fmt.Sprintf("%s-%d", kind, pc.id)
	pc.localSDP = sdp
	fn := pc.gathering
	pc.mu.Unlock()

	pc.engine.register(sdp, pc)
	if fn != nil {
		fn(sdp)
	}
}

func (pc *memoryPeerConnection) channelLabel() string {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.label
}

// link wires the offerer's channel to a fresh mirror on the answerer,
// delivers the mirror through OnDataChannel, and opens both ends.
func link(offerer, answerer *memoryPeerConnection) {
	offerer.mu.Lock()
	chA := offerer.ch
	offerer.mu.Unlock()
	if chA == nil {
		return
	}

	chB := &memoryDataChannel{label: chA.label}
	chA.peer, chB.peer = chB, chA

	answerer.mu.Lock()
	answerer.ch = chB
	deliver := answerer.incoming
	answerer.mu.Unlock()

	if deliver != nil {
		deliver(chB)
	}
	chA.open()
	chB.open()
	offerer.fireState(StateConnected)
	answerer.fireState(StateConnected)
}

func (pc *memoryPeerConnection) fireState(s State) {
	pc.mu.Lock()
	fn := pc.state
	pc.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (pc *memoryPeerConnection) OnGatheringComplete(fn func(localSDP string)) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.gathering = fn
}

func (pc *memoryPeerConnection) OnStateChange(fn func(State)) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.state = fn
}

func (pc *memoryPeerConnection) OnDataChannel(fn func(DataChannel)) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.incoming = fn
}

func (pc *memoryPeerConnection) LocalAddress() (string, bool) {
	return pc.engine.LocalAddr, pc.engine.LocalAddr != ""
}

func (pc *memoryPeerConnection) RemoteAddress() (string, bool) {
	return pc.engine.RemoteAddr, pc.engine.RemoteAddr != ""
}

func (pc *memoryPeerConnection) Close() error {
	pc.mu.Lock()
	if pc.closed {
		pc.mu.Unlock()
		return nil
	}
	pc.closed = true
	ch := pc.ch
	pc.mu.Unlock()

	if ch != nil {
		ch.Close()
	}
	return nil
}

// memoryDataChannel delivers messages straight to its peer. Payloads
// arriving before the peer registers OnMessage are buffered and
// flushed on registration; BufferedInbound reports those bytes.
type memoryDataChannel struct {
	label string
	peer  *memoryDataChannel

	mu       sync.Mutex
	opened   bool
	closed   bool
	pending  [][]byte
	pendingN int
	onOpen   func()
	onMsg    func(data []byte)
	onClose  func()
}

var _ DataChannel = (*memoryDataChannel)(nil)

func (c *memoryDataChannel) Label() string { return c.label }

func (c *memoryDataChannel) OnOpen(fn func()) {
	c.mu.Lock()
	fire := c.opened
	c.onOpen = fn
	c.mu.Unlock()
	if fire && fn != nil {
		fn()
	}
}

func (c *memoryDataChannel) OnMessage(fn func(data []byte)) {
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

func (c *memoryDataChannel) OnClose(fn func()) {
	c.mu.Lock()
	fire := c.closed
	c.onClose = fn
	c.mu.Unlock()
	if fire && fn != nil {
		fn()
	}
}

func (c *memoryDataChannel) Send(data []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return protocol.ErrNotConnected
	}
	peer := c.peer
	c.mu.Unlock()
	if peer == nil {
		return protocol.ErrNotConnected
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	peer.deliver(buf)
	return nil
}

func (c *memoryDataChannel) deliver(msg []byte) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	fn := c.onMsg
	if fn == nil {
		c.pending = append(c.pending, msg)
		c.pendingN += len(msg)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	fn(msg)
}

func (c *memoryDataChannel) BufferedInbound() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingN
}

func (c *memoryDataChannel) open() {
	c.mu.Lock()
	c.opened = true
	fn := c.onOpen
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *memoryDataChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	fn := c.onClose
	peer := c.peer
	c.mu.Unlock()

	if fn != nil {
		fn()
	}
	if peer != nil {
		peer.remoteClosed()
	}
	return nil
}

func (c *memoryDataChannel) remoteClosed() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	fn := c.onClose
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}
