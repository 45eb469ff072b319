package mpegts

import (
	"encoding/binary"
	"testing"

	"github.com/lumenplay/lumen/media"
)

// buildSection appends the MPEG CRC32 to a PSI section body.
func buildSection(body []byte) []byte {
	// Patch section_length to cover the rest of the body plus the CRC.
	sectionLength := len(body) - 3 + 4
	body[1] = 0x80 | 0x30 | byte(sectionLength>>8&0x0F)
	body[2] = byte(sectionLength)
	crc := computeCRC(body)
	out := make([]byte, 0, len(body)+4)
	out = append(out, body...)
	var crcBytes [4]byte
	binary.BigEndian.PutUint32(crcBytes[:], crc)
	return append(out, crcBytes[:]...)
}

// tsPack wraps a payload in one 188-byte TS packet.
func tsPack(pid uint16, cc byte, unitStart bool, psi bool, payload []byte) []byte {
	pkt := make([]byte, packetSize)
	pkt[0] = syncByte
	pkt[1] = byte(pid >> 8 & 0x1F)
	if unitStart {
		pkt[1] |= 0x40
	}
	pkt[2] = byte(pid)
	pkt[3] = 0x10 | cc&0x0F // payload only
	offset := 4
	if psi && unitStart {
		pkt[offset] = 0 // pointer field
		offset++
	}
	copy(pkt[offset:], payload)
	for i := offset + len(payload); i < packetSize; i++ {
		pkt[i] = 0xFF
	}
	return pkt
}

func patPacket() []byte {
	body := []byte{
		tableIDPAT, 0, 0, // table id + patched length
		0x00, 0x01, // transport stream id
		0xC1, 0x00, 0x00, // version/current, section numbers
		0x00, 0x01, // program number 1
		0xE0, 0x42, // PMT PID 0x42
	}
	return tsPack(pidPAT, 0, true, true, buildSection(body))
}

func pmtPacket() []byte {
	body := []byte{
		tableIDPMT, 0, 0,
		0x00, 0x01,
		0xC1, 0x00, 0x00,
		0xE1, 0x00, // PCR PID
		0xF0, 0x00, // program info length 0
		0x1B, 0xE1, 0x00, 0xF0, 0x00, // H.264 on PID 0x100
		0x0F, 0xE1, 0x01, 0xF0, 0x00, // AAC on PID 0x101
	}
	return tsPack(0x42, 0, true, true, buildSection(body))
}

// pesPayload builds a minimal PES with a PTS.
func pesPayload(streamID byte, pts int64, es []byte) []byte {
	header := []byte{
		0x00, 0x00, 0x01, streamID,
		0x00, 0x00, // length 0: unbounded
		0x80,       // marker bits
		0x80,       // PTS only
		0x05,       // header data length
		0, 0, 0, 0, 0,
	}
	header[9] = 0x21 | byte(pts>>29)&0x0E
	header[10] = byte(pts >> 22)
	header[11] = 0x01 | byte(pts>>14)&0xFE
	header[12] = byte(pts >> 7)
	header[13] = 0x01 | byte(pts<<1)&0xFE
	return append(header, es...)
}

// primedSplitter returns a splitter that has already seen PAT and PMT.
func primedSplitter(t *testing.T) *Splitter {
	t.Helper()
	s := NewSplitter()
	s.Split(patPacket())
	s.Split(pmtPacket())
	if len(s.StreamTypes()) != 2 {
		t.Fatalf("stream types = %v, want video+audio PIDs", s.StreamTypes())
	}
	return s
}

func TestSplitterClassifiesStreams(t *testing.T) {
	t.Parallel()

	s := primedSplitter(t)
	types := s.StreamTypes()
	if types[0x100] != 0x1B {
		t.Errorf("PID 0x100 type = 0x%02X, want H.264", types[0x100])
	}
	if types[0x101] != 0x0F {
		t.Errorf("PID 0x101 type = 0x%02X, want AAC", types[0x101])
	}
}

func TestSplitterEmitsPESWithPTS(t *testing.T) {
	t.Parallel()

	s := primedSplitter(t)

	const pts = int64(900_000) // 10s at 90kHz
	es := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	s.Split(tsPack(0x100, 0, true, false, pesPayload(0xE0, pts, es)))

	// The unbounded PES flushes when the next unit starts.
	packets := s.Split(tsPack(0x100, 1, true, false, pesPayload(0xE0, pts+3003, es)))
	if len(packets) != 1 {
		t.Fatalf("got %d packets, want 1", len(packets))
	}
	p := packets[0]
	if p.Kind != media.StreamVideo {
		t.Errorf("Kind = %v, want video", p.Kind)
	}
	if p.PTS != pts {
		t.Errorf("PTS = %d, want %d", p.PTS, pts)
	}
	if len(p.Data) < 4 || p.Data[0] != 0xDE {
		t.Errorf("payload = %x, want ES bytes first", p.Data[:4])
	}
}

func TestSplitterFlushDrainsPending(t *testing.T) {
	t.Parallel()

	s := primedSplitter(t)
	s.Split(tsPack(0x101, 0, true, false, pesPayload(0xC0, 45_000, []byte{1, 2, 3})))

	packets := s.Flush()
	if len(packets) != 1 {
		t.Fatalf("Flush returned %d packets, want 1", len(packets))
	}
	if packets[0].Kind != media.StreamAudio {
		t.Errorf("Kind = %v, want audio", packets[0].Kind)
	}
	if packets[0].PTS != 45_000 {
		t.Errorf("PTS = %d, want 45000", packets[0].PTS)
	}
}

func TestSplitterCarriesPartialPackets(t *testing.T) {
	t.Parallel()

	s := primedSplitter(t)
	first := tsPack(0x100, 0, true, false, pesPayload(0xE0, 1000, []byte{7}))
	second := tsPack(0x100, 1, true, false, pesPayload(0xE0, 2000, []byte{8}))
	stream := append(append([]byte{}, first...), second...)

	// Deliver in awkward chunk sizes, like network reads.
	var got []ESPacket
	for i := 0; i < len(stream); i += 100 {
		end := i + 100
		if end > len(stream) {
			end = len(stream)
		}
		got = append(got, s.Split(stream[i:end])...)
	}
	got = append(got, s.Flush()...)

	if len(got) != 2 {
		t.Fatalf("got %d packets across chunked delivery, want 2", len(got))
	}
	if got[0].PTS != 1000 || got[1].PTS != 2000 {
		t.Errorf("PTS order = %d,%d want 1000,2000", got[0].PTS, got[1].PTS)
	}
}

func TestSplitterDiscardsContinuityGaps(t *testing.T) {
	t.Parallel()

	s := primedSplitter(t)
	s.Split(tsPack(0x100, 0, true, false, pesPayload(0xE0, 1000, []byte{1})))
	// Gap: cc jumps from 0 to 2. The buffered run is discarded.
	s.Split(tsPack(0x100, 2, false, false, []byte{9, 9, 9}))

	packets := s.Split(tsPack(0x100, 3, true, false, pesPayload(0xE0, 2000, []byte{2})))
	if len(packets) != 0 {
		t.Errorf("corrupt run emitted %d packets, want 0", len(packets))
	}
}

func TestSplitterResyncsAfterGarbage(t *testing.T) {
	t.Parallel()

	s := primedSplitter(t)
	garbage := []byte{0x00, 0x12, 0x34}
	stream := append(garbage, tsPack(0x100, 0, true, false, pesPayload(0xE0, 5000, []byte{1}))...)
	s.Split(stream)

	packets := s.Flush()
	if len(packets) != 1 || packets[0].PTS != 5000 {
		t.Fatalf("resync failed: %+v", packets)
	}
}

func TestParseTimestampRoundTrip(t *testing.T) {
	t.Parallel()

	for _, pts := range []int64{0, 1, 90_000, 8_589_934_591} { // up to 2^33-1
		payload := pesPayload(0xE0, pts, nil)
		got := parseTimestamp(payload[9:14])
		if got != pts {
			t.Errorf("timestamp round trip: got %d, want %d", got, pts)
		}
	}
}
