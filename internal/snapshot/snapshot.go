// Package snapshot implements the broadcast-side state history: numbered
// world snapshots held in a bounded ring buffer, linear interpolation
// between bracketing snapshots, and a per-field delta encoding used to keep
// broadcasts small.
package snapshot

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"sync"

	"pvpserver/internal/session"
)

const (
	// BufferCapacity holds ~1s of history at 60 ticks/second.
	BufferCapacity = 64

	positionEpsilon = 1e-3
)

// Snapshot is an immutable, versioned copy of world state.
type Snapshot struct {
	Sequence    uint32
	TimestampMs uint64
	Players     []session.PlayerState
	Projectiles []session.ProjectileState
}

func (s Snapshot) findPlayer(id string) (session.PlayerState, bool) {
	for _, p := range s.Players {
		if p.ID == id {
			return p, true
		}
	}
	return session.PlayerState{}, false
}

// Delta is a base-relative, wire-ready encoding of the difference between
// two stored snapshots. Changes is opaque to callers; each player entry is
// a length-prefixed ID followed by a dirty-field bitmap and only the
// fields that changed.
type Delta struct {
	BaseSequence   uint32 `json:"baseSequence"`
	TargetSequence uint32 `json:"targetSequence"`
	Changes        []byte `json:"changes"`
}

const (
	bitX      = 0x01
	bitY      = 0x02
	bitFacing = 0x04
	bitHealth = 0x08
	bitAlive  = 0x10
	bitNew    = 0xFF
)

// Manager produces, stores, and diffs snapshots. All mutation serializes on
// its own mutex; readers never observe a half-built snapshot.
type Manager struct {
	mu      sync.Mutex
	buf     [BufferCapacity]Snapshot
	head    int // index of the next slot to write
	count   int
	lastSeq uint32
}

func NewManager() *Manager {
	return &Manager{}
}

// CreateSnapshot allocates the next sequence number, stamps it, and stores
// copies of the given inputs. Does not itself store into the ring buffer;
// call SaveSnapshot with the result.
func (m *Manager) CreateSnapshot(timestampMs uint64, players []session.PlayerState, projectiles []session.ProjectileState) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSeq++
	return Snapshot{
		Sequence:    m.lastSeq,
		TimestampMs: timestampMs,
		Players:     append([]session.PlayerState(nil), players...),
		Projectiles: append([]session.ProjectileState(nil), projectiles...),
	}
}

// SaveSnapshot appends to the bounded circular buffer; oldest is evicted.
func (m *Manager) SaveSnapshot(s Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buf[m.head] = s
	m.head = (m.head + 1) % BufferCapacity
	if m.count < BufferCapacity {
		m.count++
	}
}

func (m *Manager) findLocked(seq uint32) (Snapshot, bool) {
	for i := 0; i < m.count; i++ {
		idx := (m.head - 1 - i + BufferCapacity) % BufferCapacity
		if m.buf[idx].Sequence == seq {
			return m.buf[idx], true
		}
	}
	return Snapshot{}, false
}

// GetSnapshot looks up a stored snapshot by sequence number.
func (m *Manager) GetSnapshot(seq uint32) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findLocked(seq)
}

// GetLatestSnapshot returns the most recently saved snapshot.
func (m *Manager) GetLatestSnapshot() (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.count == 0 {
		return Snapshot{}, false
	}
	idx := (m.head - 1 + BufferCapacity) % BufferCapacity
	return m.buf[idx], true
}

// orderedLocked returns stored snapshots oldest-first. Caller holds m.mu.
func (m *Manager) orderedLocked() []Snapshot {
	out := make([]Snapshot, m.count)
	for i := 0; i < m.count; i++ {
		idx := (m.head - m.count + i + BufferCapacity*2) % BufferCapacity
		out[i] = m.buf[idx]
	}
	return out
}

// GetSnapshotAt returns a linearly interpolated snapshot between the two
// stored snapshots bracketing timestampMs. Out-of-range requests clamp to
// the oldest/newest stored snapshot. The player list driving the result is
// the "after" (target) snapshot's list — players present only in "before"
// are dropped; players present only in "after" appear with after's values
// uninterpolated.
func (m *Manager) GetSnapshotAt(timestampMs uint64) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.count == 0 {
		return Snapshot{}, false
	}
	ordered := m.orderedLocked()
	if timestampMs <= ordered[0].TimestampMs {
		return ordered[0], true
	}
	last := ordered[len(ordered)-1]
	if timestampMs >= last.TimestampMs {
		return last, true
	}
	for i := 1; i < len(ordered); i++ {
		if ordered[i].TimestampMs >= timestampMs {
			before := ordered[i-1]
			after := ordered[i]
			return interpolate(before, after, timestampMs), true
		}
	}
	return last, true
}

func interpolate(before, after Snapshot, timestampMs uint64) Snapshot {
	span := after.TimestampMs - before.TimestampMs
	var t float64
	if span > 0 {
		t = float64(timestampMs-before.TimestampMs) / float64(span)
	}

	result := Snapshot{
		Sequence:    after.Sequence,
		TimestampMs: timestampMs,
		Projectiles: after.Projectiles,
	}
	result.Players = make([]session.PlayerState, 0, len(after.Players))
	for _, ap := range after.Players {
		interp := ap
		if bp, ok := before.findPlayer(ap.ID); ok {
			interp.X = bp.X + t*(ap.X-bp.X)
			interp.Y = bp.Y + t*(ap.Y-bp.Y)
			interp.FacingRadians = bp.FacingRadians + t*(ap.FacingRadians-bp.FacingRadians)
		}
		result.Players = append(result.Players, interp)
	}
	return result
}

// CalculateDelta iterates the target's player list and, for each player,
// compares against the base by id, emitting either a new-player record or a
// change bitmap with only the changed fields.
func (m *Manager) CalculateDelta(baseSeq, targetSeq uint32) (Delta, error) {
	m.mu.Lock()
	base, okBase := m.findLocked(baseSeq)
	target, okTarget := m.findLocked(targetSeq)
	m.mu.Unlock()
	if !okBase || !okTarget {
		return Delta{}, fmt.Errorf("snapshot: base or target sequence not found (base=%d target=%d)", baseSeq, targetSeq)
	}

	players := append([]session.PlayerState(nil), target.Players...)
	sort.Slice(players, func(i, j int) bool { return players[i].ID < players[j].ID })

	var buf []byte
	count := 0
	for _, tp := range players {
		bp, existed := base.findPlayer(tp.ID)
		var bitmap byte
		var fields []byte
		if !existed {
			bitmap = bitNew
			fields = encodeAllFields(tp)
		} else {
			bitmap, fields = diffFields(bp, tp)
			if bitmap == 0 {
				continue
			}
		}
		count++
		buf = appendLengthPrefixed(buf, tp.ID)
		buf = append(buf, bitmap)
		buf = append(buf, fields...)
	}

	out := make([]byte, 0, len(buf)+1)
	out = append(out, byte(count))
	out = append(out, buf...)

	return Delta{BaseSequence: baseSeq, TargetSequence: targetSeq, Changes: out}, nil
}

// ApplyDelta reconstructs the target snapshot: fields the delta marks
// changed are taken from it, all other fields inherit from base.
func ApplyDelta(base Snapshot, delta Delta) (Snapshot, error) {
	result := Snapshot{
		Sequence:    delta.TargetSequence,
		TimestampMs: base.TimestampMs,
		Players:     append([]session.PlayerState(nil), base.Players...),
		Projectiles: base.Projectiles,
	}

	buf := delta.Changes
	if len(buf) == 0 {
		return result, nil
	}
	count := int(buf[0])
	pos := 1
	for i := 0; i < count; i++ {
		id, n, err := readLengthPrefixed(buf[pos:])
		if err != nil {
			return Snapshot{}, err
		}
		pos += n
		if pos >= len(buf) {
			return Snapshot{}, fmt.Errorf("snapshot: truncated delta at player %q", id)
		}
		bitmap := buf[pos]
		pos++

		existing, idx := findIndex(result.Players, id)
		if bitmap == bitNew {
			ps, n, err := decodeAllFields(id, buf[pos:])
			if err != nil {
				return Snapshot{}, err
			}
			pos += n
			if idx >= 0 {
				result.Players[idx] = ps
			} else {
				result.Players = append(result.Players, ps)
			}
			continue
		}

		if idx < 0 {
			return Snapshot{}, fmt.Errorf("snapshot: delta references unknown base player %q", id)
		}
		ps := existing
		n, err = applyBitmapFields(&ps, bitmap, buf[pos:])
		if err != nil {
			return Snapshot{}, err
		}
		pos += n
		result.Players[idx] = ps
	}
	return result, nil
}

func findIndex(players []session.PlayerState, id string) (session.PlayerState, int) {
	for i, p := range players {
		if p.ID == id {
			return p, i
		}
	}
	return session.PlayerState{}, -1
}

func appendLengthPrefixed(buf []byte, id string) []byte {
	buf = append(buf, byte(len(id)))
	return append(buf, id...)
}

func readLengthPrefixed(buf []byte) (string, int, error) {
	if len(buf) < 1 {
		return "", 0, fmt.Errorf("snapshot: truncated delta id length")
	}
	n := int(buf[0])
	if len(buf) < 1+n {
		return "", 0, fmt.Errorf("snapshot: truncated delta id")
	}
	return string(buf[1 : 1+n]), 1 + n, nil
}

func encodeAllFields(p session.PlayerState) []byte {
	buf := make([]byte, 0, 17)
	buf = appendFloat32(buf, p.X)
	buf = appendFloat32(buf, p.Y)
	buf = appendFloat32(buf, p.FacingRadians)
	buf = appendUint32(buf, uint32(p.Health))
	buf = append(buf, boolByte(p.Alive))
	return buf
}

func decodeAllFields(id string, buf []byte) (session.PlayerState, int, error) {
	if len(buf) < 17 {
		return session.PlayerState{}, 0, fmt.Errorf("snapshot: truncated new-player record for %q", id)
	}
	p := session.PlayerState{ID: id}
	p.X = readFloat32(buf[0:4])
	p.Y = readFloat32(buf[4:8])
	p.FacingRadians = readFloat32(buf[8:12])
	p.Health = int(readUint32(buf[12:16]))
	p.Alive = buf[16] != 0
	p.MaxHealth = session.DefaultMaxHealth
	return p, 17, nil
}

func diffFields(base, target session.PlayerState) (byte, []byte) {
	var bitmap byte
	var buf []byte
	if !almostEqual(base.X, target.X) {
		bitmap |= bitX
		buf = appendFloat32(buf, target.X)
	}
	if !almostEqual(base.Y, target.Y) {
		bitmap |= bitY
		buf = appendFloat32(buf, target.Y)
	}
	if !almostEqual(base.FacingRadians, target.FacingRadians) {
		bitmap |= bitFacing
		buf = appendFloat32(buf, target.FacingRadians)
	}
	if base.Health != target.Health {
		bitmap |= bitHealth
		buf = appendUint32(buf, uint32(target.Health))
	}
	if base.Alive != target.Alive {
		bitmap |= bitAlive
		buf = append(buf, boolByte(target.Alive))
	}
	return bitmap, buf
}

func applyBitmapFields(p *session.PlayerState, bitmap byte, buf []byte) (int, error) {
	pos := 0
	if bitmap&bitX != 0 {
		if len(buf) < pos+4 {
			return 0, fmt.Errorf("snapshot: truncated delta field x")
		}
		p.X = readFloat32(buf[pos : pos+4])
		pos += 4
	}
	if bitmap&bitY != 0 {
		if len(buf) < pos+4 {
			return 0, fmt.Errorf("snapshot: truncated delta field y")
		}
		p.Y = readFloat32(buf[pos : pos+4])
		pos += 4
	}
	if bitmap&bitFacing != 0 {
		if len(buf) < pos+4 {
			return 0, fmt.Errorf("snapshot: truncated delta field facing")
		}
		p.FacingRadians = readFloat32(buf[pos : pos+4])
		pos += 4
	}
	if bitmap&bitHealth != 0 {
		if len(buf) < pos+4 {
			return 0, fmt.Errorf("snapshot: truncated delta field health")
		}
		p.Health = int(readUint32(buf[pos : pos+4]))
		pos += 4
	}
	if bitmap&bitAlive != 0 {
		if len(buf) < pos+1 {
			return 0, fmt.Errorf("snapshot: truncated delta field alive")
		}
		p.Alive = buf[pos] != 0
		pos++
	}
	return pos, nil
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) <= positionEpsilon
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func appendFloat32(buf []byte, v float64) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], math.Float32bits(float32(v)))
	return append(buf, tmp[:]...)
}

func readFloat32(buf []byte) float64 {
	return float64(math.Float32frombits(binary.BigEndian.Uint32(buf)))
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func readUint32(buf []byte) uint32 {
	return binary.BigEndian.Uint32(buf)
}
