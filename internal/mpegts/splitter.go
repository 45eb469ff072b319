// Package mpegts splits a raw MPEG transport stream into elementary-stream
// packets for the network packet source: PAT/PMT discovery classifies PIDs
// as audio or video, PES reassembly recovers payloads with their 90 kHz
// PTS/DTS, and per-PID continuity tracking discards corrupt runs.
package mpegts

import (
	"fmt"

	"github.com/lumenplay/lumen/media"
)

const (
	packetSize = 188
	syncByte   = 0x47
	pidPAT     = 0x0000

	tableIDPAT = 0x00
	tableIDPMT = 0x02
)

// ESPacket is one reassembled elementary-stream unit, ready to become a
// pipeline packet.
type ESPacket struct {
	PID        uint16
	StreamType uint8
	Kind       media.StreamKind
	Data       []byte
	// PTS and DTS are 90 kHz ticks; media.NoTicks when absent.
	PTS          int64
	DTS          int64
	RandomAccess bool
}

// kindForStreamType maps PMT stream_type values onto the pipeline's
// audio/video classification.
func kindForStreamType(t uint8) media.StreamKind {
	switch t {
	case 0x01, 0x02, 0x10, 0x1B, 0x24: // MPEG-1/2, MPEG-4, H.264, HEVC
		return media.StreamVideo
	case 0x03, 0x04, 0x0F, 0x11, 0x81: // MP2/MP3, AAC, LATM, AC-3
		return media.StreamAudio
	default:
		return media.StreamUnknown
	}
}

// tsPacket is one parsed 188-byte transport packet.
type tsPacket struct {
	pid           uint16
	cc            uint8
	unitStart     bool
	transportErr  bool
	discontinuity bool
	randomAccess  bool
	payload       []byte
}

// Splitter is the push-mode stream splitter: feed it reads of any size,
// collect ESPackets. It is not safe for concurrent use; the SRT source
// drives it from its single read loop.
type Splitter struct {
	carry   []byte
	pmtPIDs map[uint16]bool
	// streamTypes maps elementary PIDs to their PMT stream_type.
	streamTypes map[uint16]uint8
	accs        map[uint16]*accumulator
	out         []ESPacket
}

// NewSplitter creates an empty splitter; stream classification starts
// once the first PAT and PMT arrive.
func NewSplitter() *Splitter {
	return &Splitter{
		pmtPIDs:     make(map[uint16]bool),
		streamTypes: make(map[uint16]uint8),
		accs:        make(map[uint16]*accumulator),
	}
}

// Split consumes one chunk of the byte stream and returns the elementary
// packets completed by it. Partial transport packets are carried over to
// the next call.
func (s *Splitter) Split(chunk []byte) []ESPacket {
	s.out = s.out[:0]

	data := chunk
	if len(s.carry) > 0 {
		data = append(s.carry, chunk...)
		s.carry = nil
	}

	for len(data) > 0 {
		// Resynchronize on the 0x47 marker after corruption.
		if data[0] != syncByte {
			data = data[1:]
			continue
		}
		if len(data) < packetSize {
			break
		}
		if pkt, err := parseTSPacket(data[:packetSize]); err == nil {
			s.ingest(pkt)
		}
		data = data[packetSize:]
	}
	if len(data) > 0 {
		s.carry = append(s.carry, data...)
	}

	return s.out
}

// Flush drains every partially accumulated PES at end of stream.
func (s *Splitter) Flush() []ESPacket {
	s.out = s.out[:0]
	for pid, acc := range s.accs {
		if buffered := acc.take(); buffered != nil {
			s.emitPES(pid, buffered)
		}
	}
	return s.out
}

// StreamTypes returns the PID classification discovered so far.
func (s *Splitter) StreamTypes() map[uint16]uint8 {
	out := make(map[uint16]uint8, len(s.streamTypes))
	for pid, t := range s.streamTypes {
		out[pid] = t
	}
	return out
}

func (s *Splitter) ingest(pkt *tsPacket) {
	acc := s.accs[pkt.pid]
	if acc == nil {
		acc = &accumulator{}
		s.accs[pkt.pid] = acc
	}
	flushed := acc.add(pkt, s.isPSI(pkt.pid))
	if flushed == nil {
		return
	}
	if s.isPSI(pkt.pid) {
		s.parsePSI(flushed)
		return
	}
	s.emitPES(pkt.pid, flushed)
}

func (s *Splitter) isPSI(pid uint16) bool {
	return pid == pidPAT || s.pmtPIDs[pid]
}

func (s *Splitter) emitPES(pid uint16, run []*tsPacket) {
	payload := concatPayloads(run)
	pes, err := parsePES(payload)
	if err != nil {
		return
	}
	streamType := s.streamTypes[pid]
	es := ESPacket{
		PID:        pid,
		StreamType: streamType,
		Kind:       kindForStreamType(streamType),
		Data:       pes.data,
		PTS:        pes.pts,
		DTS:        pes.dts,
	}
	for _, p := range run {
		if p.randomAccess {
			es.RandomAccess = true
			break
		}
	}
	s.out = append(s.out, es)
}

func (s *Splitter) parsePSI(run []*tsPacket) {
	payload := concatPayloads(run)
	sections, err := splitSections(payload)
	if err != nil {
		return
	}
	for _, sec := range sections {
		switch sec[0] {
		case tableIDPAT:
			for _, pmtPID := range parsePAT(sec) {
				s.pmtPIDs[pmtPID] = true
			}
		case tableIDPMT:
			for pid, streamType := range parsePMT(sec) {
				s.streamTypes[pid] = streamType
			}
		}
	}
}

func concatPayloads(run []*tsPacket) []byte {
	var payload []byte
	for _, p := range run {
		payload = append(payload, p.payload...)
	}
	return payload
}

// accumulator buffers one PID's packets until a payload-unit boundary (or,
// for PSI, a complete section) triggers a flush. Continuity errors discard
// the buffered run rather than emit a corrupt unit.
type accumulator struct {
	packets []*tsPacket
}

func (a *accumulator) add(p *tsPacket, psi bool) []*tsPacket {
	if p.transportErr {
		a.packets = nil
		return nil
	}
	if len(p.payload) == 0 {
		return nil
	}

	if len(a.packets) > 0 && !p.discontinuity {
		prev := a.packets[len(a.packets)-1].cc
		expected := (prev + 1) & 0x0F
		if p.cc != expected {
			if p.cc == prev {
				return nil // retransmitted duplicate
			}
			a.packets = nil
		}
	}

	var flushed []*tsPacket
	if p.unitStart && len(a.packets) > 0 {
		flushed = a.packets
		a.packets = nil
	}
	a.packets = append(a.packets, p)

	if flushed == nil && psi && psiComplete(concatPayloads(a.packets)) {
		flushed = a.packets
		a.packets = nil
	}
	return flushed
}

func (a *accumulator) take() []*tsPacket {
	run := a.packets
	a.packets = nil
	return run
}

func parseTSPacket(buf []byte) (*tsPacket, error) {
	if len(buf) != packetSize {
		return nil, fmt.Errorf("mpegts: packet size %d, expected %d", len(buf), packetSize)
	}
	if buf[0] != syncByte {
		return nil, fmt.Errorf("mpegts: invalid sync byte 0x%02X", buf[0])
	}

	p := &tsPacket{
		transportErr: buf[1]&0x80 != 0,
		unitStart:    buf[1]&0x40 != 0,
		pid:          uint16(buf[1]&0x1F)<<8 | uint16(buf[2]),
		cc:           buf[3] & 0x0F,
	}
	hasAdaptation := buf[3]&0x20 != 0
	hasPayload := buf[3]&0x10 != 0

	offset := 4
	if hasAdaptation {
		if offset >= packetSize {
			return p, nil
		}
		afLen := int(buf[offset])
		if afLen > 0 && offset+1 < packetSize {
			p.discontinuity = buf[offset+1]&0x80 != 0
			p.randomAccess = buf[offset+1]&0x40 != 0
		}
		offset += 1 + afLen
		if offset > packetSize {
			offset = packetSize
		}
	}
	if hasPayload && offset < packetSize {
		p.payload = make([]byte, packetSize-offset)
		copy(p.payload, buf[offset:])
	}
	return p, nil
}
