// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/bureau-foundation/rendezvous/signaling"
)

// DefaultChannelLabel names the data channel when PeerOptions leaves it
// empty.
const DefaultChannelLabel = "rendezvous"

// signalRenegotiate is sent by a responder that needs a new offer, for
// example after adding a track.
const signalRenegotiate = "renegotiate"

// ErrNotConnected is returned by operations that need an open data
// channel.
var ErrNotConnected = errors.New("transport: data channel not open")

// FactoryConfig configures a PeerFactory.
type FactoryConfig struct {
	ICE ICEConfig

	// IncludeLoopback gathers loopback candidates, for connections
	// within one machine.
	IncludeLoopback bool

	Logger *slog.Logger
}

// PeerFactory creates pion PeerConnections for signaling.Client.
type PeerFactory struct {
	ice    ICEConfig
	api    *webrtc.API
	logger *slog.Logger
}

var _ signaling.PeerFactory = (*PeerFactory)(nil)

// NewPeerFactory creates a factory. Data channels are detached so they
// can be used as streams.
func NewPeerFactory(config FactoryConfig) *PeerFactory {
	settingEngine := webrtc.SettingEngine{}
	settingEngine.DetachDataChannels()
	settingEngine.SetIncludeLoopbackCandidate(config.IncludeLoopback)

	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &PeerFactory{
		ice:    config.ICE,
		api:    webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine)),
		logger: logger,
	}
}

// NewPeer creates a peer. An initiator creates the data channel and
// emits its offer before returning.
func (f *PeerFactory) NewPeer(options signaling.PeerOptions, emit func(signaling.PeerEvent)) (signaling.PeerConnection, error) {
	connection, err := f.api.NewPeerConnection(webrtc.Configuration{ICEServers: f.ice.Servers})
	if err != nil {
		return nil, fmt.Errorf("creating PeerConnection: %w", err)
	}

	label := options.ChannelLabel
	if label == "" {
		label = DefaultChannelLabel
	}
	peer := &Peer{
		connection: connection,
		initiator:  options.Initiator,
		label:      label,
		emit:       emit,
		logger:     f.logger.With("initiator", options.Initiator, "label", label),
		streams:    make(map[string]bool),
	}
	peer.wire()

	if options.Initiator {
		ordered := true
		channel, err := connection.CreateDataChannel(label, &webrtc.DataChannelInit{Ordered: &ordered})
		if err != nil {
			connection.Close()
			return nil, fmt.Errorf("creating data channel %s: %w", label, err)
		}
		peer.attachChannel(channel)
		if err := peer.offer(); err != nil {
			connection.Close()
			return nil, err
		}
		// Registered after the first offer so only renegotiation, such
		// as an added track, reaches it.
		connection.OnNegotiationNeeded(func() {
			if connection.SignalingState() != webrtc.SignalingStateStable {
				return
			}
			if err := peer.offer(); err != nil {
				peer.fail(err)
			}
		})
	}
	return peer, nil
}

// Peer is a pion PeerConnection driven by signaling.Client. Signals
// use trickle ICE: the SDP goes out as soon as it is set, and each
// candidate follows as it is gathered.
type Peer struct {
	connection *webrtc.PeerConnection
	initiator  bool
	label      string
	emit       func(signaling.PeerEvent)
	logger     *slog.Logger

	mu sync.Mutex
	// candidates holds remote candidates that arrived before the remote
	// description.
	candidates []webrtc.ICECandidateInit
	conn       *DataChannelConn
	streams    map[string]bool
	closed     bool

	connectOnce sync.Once
}

var _ signaling.PeerConnection = (*Peer)(nil)

func (p *Peer) wire() {
	p.connection.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		local := candidate.ToJSON()
		p.emit(signaling.PeerEvent{Kind: signaling.EventSignal, Signal: signaling.Signal{
			Type: "candidate",
			Candidate: &signaling.CandidateInit{
				Candidate:        local.Candidate,
				SDPMid:           local.SDPMid,
				SDPMLineIndex:    local.SDPMLineIndex,
				UsernameFragment: local.UsernameFragment,
			},
		}})
	})

	if !p.initiator {
		p.connection.OnDataChannel(func(channel *webrtc.DataChannel) {
			if channel.Label() != p.label {
				p.logger.Debug("ignoring unexpected data channel", "channel", channel.Label())
				channel.Close()
				return
			}
			p.attachChannel(channel)
		})
	}

	p.connection.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		stream := track.StreamID()
		p.mu.Lock()
		first := !p.streams[stream]
		p.streams[stream] = true
		p.mu.Unlock()
		if first {
			p.emit(signaling.PeerEvent{Kind: signaling.EventStream, Stream: stream})
		}
		p.emit(signaling.PeerEvent{Kind: signaling.EventTrack, Stream: stream, Track: track})
	})

	p.connection.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.logger.Debug("peer connection state", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed:
			p.fail(errors.New("transport: peer connection failed"))
		case webrtc.PeerConnectionStateClosed:
			p.Destroy()
		}
	})
}

func (p *Peer) attachChannel(channel *webrtc.DataChannel) {
	channel.OnOpen(func() {
		stream, err := channel.Detach()
		if err != nil {
			p.fail(fmt.Errorf("detaching data channel %s: %w", channel.Label(), err))
			return
		}
		id := uint16(0)
		if channel.ID() != nil {
			id = *channel.ID()
		}
		side, other := "responder", "initiator"
		if p.initiator {
			side, other = other, side
		}
		conn := NewDataChannelConn(stream,
			fmt.Sprintf("%s/%s/%d", side, channel.Label(), id),
			fmt.Sprintf("%s/%s/%d", other, channel.Label(), id))

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			conn.Close()
			return
		}
		p.conn = conn
		p.mu.Unlock()

		p.connectOnce.Do(func() {
			p.logger.Info("data channel open")
			p.emit(signaling.PeerEvent{Kind: signaling.EventConnect})
		})
	})
	channel.OnClose(func() {
		p.Destroy()
	})
}

// Signal applies a signal from the other side.
func (p *Peer) Signal(signal signaling.Signal) error {
	switch {
	case signal.Type == signalRenegotiate:
		if !p.initiator {
			return errors.New("transport: renegotiation request sent to responder")
		}
		return p.offer()

	case signal.HasSDP():
		return p.applyDescription(signal)

	case signal.Candidate != nil:
		return p.addCandidate(webrtc.ICECandidateInit{
			Candidate:        signal.Candidate.Candidate,
			SDPMid:           signal.Candidate.SDPMid,
			SDPMLineIndex:    signal.Candidate.SDPMLineIndex,
			UsernameFragment: signal.Candidate.UsernameFragment,
		})
	}
	return fmt.Errorf("transport: unsupported signal type %q", signal.Type)
}

func (p *Peer) applyDescription(signal signaling.Signal) error {
	kind := webrtc.NewSDPType(signal.Type)
	if kind == webrtc.SDPTypeUnknown {
		return fmt.Errorf("transport: unknown SDP type %q", signal.Type)
	}
	if err := p.connection.SetRemoteDescription(webrtc.SessionDescription{Type: kind, SDP: signal.SDP}); err != nil {
		return fmt.Errorf("setting remote %s: %w", kind, err)
	}

	p.mu.Lock()
	queued := p.candidates
	p.candidates = nil
	p.mu.Unlock()
	for _, candidate := range queued {
		if err := p.connection.AddICECandidate(candidate); err != nil {
			p.logger.Warn("adding queued candidate", "error", err)
		}
	}

	if kind != webrtc.SDPTypeOffer {
		return nil
	}
	answer, err := p.connection.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("creating SDP answer: %w", err)
	}
	if err := p.connection.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("setting local answer: %w", err)
	}
	p.emitDescription(answer)
	return nil
}

func (p *Peer) addCandidate(candidate webrtc.ICECandidateInit) error {
	p.mu.Lock()
	if p.connection.RemoteDescription() == nil {
		p.candidates = append(p.candidates, candidate)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()
	if err := p.connection.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("adding ICE candidate: %w", err)
	}
	return nil
}

// offer creates and emits a new offer. Only the initiator offers.
func (p *Peer) offer() error {
	offer, err := p.connection.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("creating SDP offer: %w", err)
	}
	if err := p.connection.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("setting local offer: %w", err)
	}
	p.emitDescription(offer)
	return nil
}

func (p *Peer) emitDescription(description webrtc.SessionDescription) {
	p.emit(signaling.PeerEvent{Kind: signaling.EventSignal, Signal: signaling.Signal{
		Type: description.Type.String(),
		SDP:  description.SDP,
	}})
}

// AddTrack sends track to the other side. The initiator renegotiates
// directly; a responder asks the initiator for a new offer.
func (p *Peer) AddTrack(track webrtc.TrackLocal) error {
	if _, err := p.connection.AddTrack(track); err != nil {
		return fmt.Errorf("adding track %s: %w", track.ID(), err)
	}
	if !p.initiator {
		p.emit(signaling.PeerEvent{Kind: signaling.EventSignal, Signal: signaling.Signal{Type: signalRenegotiate}})
	}
	return nil
}

// Conn returns the data channel as a net.Conn once connect has been
// emitted.
func (p *Peer) Conn() (net.Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil, ErrNotConnected
	}
	return p.conn, nil
}

// ConnectionState returns pion's view of the connection.
func (p *Peer) ConnectionState() webrtc.PeerConnectionState {
	return p.connection.ConnectionState()
}

func (p *Peer) fail(err error) {
	p.logger.Warn("peer connection error", "error", err)
	p.emit(signaling.PeerEvent{Kind: signaling.EventError, Err: err})
	p.Destroy()
}

// Destroy closes the data channel and the PeerConnection and emits
// close. Later calls do nothing.
func (p *Peer) Destroy() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	conn := p.conn
	p.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	err := p.connection.Close()
	p.emit(signaling.PeerEvent{Kind: signaling.EventClose})
	return err
}
