// Package transport defines the on-wire message layouts of spec.md §6 and
// the point-to-point/collective primitives of §5 that move them between
// ranks. Each rank (coordinator or worker) runs as its own goroutine and
// talks to its peers exclusively through this package's Fabric — never
// through shared memory — mirroring the "one OS process per rank, no
// in-process sharing" rule at the goroutine boundary instead of the process
// boundary (see SPEC_FULL.md §2 for why no MPI/RPC binding is wired here).
package transport

import (
	"encoding/binary"
	"fmt"
	"math"
)

// TunablesMsg is the scatter payload: the coordinator's authoritative
// tunables, customized per worker via NodeStartX/NodeEndX/Active (§6).
type TunablesMsg struct {
	G             float64
	H             float64
	K             float64
	DQ            float64
	Rho0          float64
	C             float64
	DT            float64
	MoverCX       float64
	MoverCY       float64
	MoverRadius   float64
	NodeStartX    float64
	NodeEndX      float64
	StepsPerFrame int32
	Active        bool
	KillSim       bool
}

// wireFloats is the fixed on-wire field order for TunablesMsg's float64
// fields, per spec.md §6.
func (m TunablesMsg) wireFloats() [11]float64 {
	return [11]float64{m.G, m.H, m.K, m.DQ, m.Rho0, m.C, m.DT, m.MoverCX, m.MoverCY, m.MoverRadius, m.NodeStartX}
}

// Encode serializes m to its fixed-layout wire form: 12 float64 fields (the
// 11 above plus NodeEndX), then a 4-byte steps_per_frame, then one byte each
// for active and kill_sim.
func (m TunablesMsg) Encode() []byte {
	buf := make([]byte, 12*8+4+1+1)
	wf := m.wireFloats()
	floats := append(wf[:], m.NodeEndX)
	for i, f := range floats {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	off := 12 * 8
	binary.LittleEndian.PutUint32(buf[off:], uint32(m.StepsPerFrame))
	off += 4
	buf[off] = boolByte(m.Active)
	buf[off+1] = boolByte(m.KillSim)
	return buf
}

// DecodeTunablesMsg parses the wire form Encode produces.
func DecodeTunablesMsg(buf []byte) (TunablesMsg, error) {
	const want = 12*8 + 4 + 1 + 1
	if len(buf) != want {
		return TunablesMsg{}, fmt.Errorf("transport: TunablesMsg wants %d bytes, got %d", want, len(buf))
	}
	floats := make([]float64, 12)
	for i := range floats {
		floats[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	off := 12 * 8
	steps := int32(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	return TunablesMsg{
		G: floats[0], H: floats[1], K: floats[2], DQ: floats[3], Rho0: floats[4],
		C: floats[5], DT: floats[6], MoverCX: floats[7], MoverCY: floats[8], MoverRadius: floats[9],
		NodeStartX: floats[10], NodeEndX: floats[11],
		StepsPerFrame: steps,
		Active:        buf[off] != 0,
		KillSim:       buf[off+1] != 0,
	}, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// ParticlePayload is the fixed-layout record exchanged during OOB migration
// and halo exchange: position, predicted position, velocity as six 32-bit
// floats, per spec.md §6.
type ParticlePayload struct {
	X, Y   float32
	PX, PY float32
	VX, VY float32
}

const particlePayloadSize = 6 * 4

// Encode serializes a ParticlePayload to its 24-byte wire form.
func (p ParticlePayload) Encode() []byte {
	buf := make([]byte, particlePayloadSize)
	vals := [6]float32{p.X, p.Y, p.PX, p.PY, p.VX, p.VY}
	for i, v := range vals {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// DecodeParticlePayload parses the wire form Encode produces.
func DecodeParticlePayload(buf []byte) (ParticlePayload, error) {
	if len(buf) != particlePayloadSize {
		return ParticlePayload{}, fmt.Errorf("transport: ParticlePayload wants %d bytes, got %d", particlePayloadSize, len(buf))
	}
	var vals [6]float32
	for i := range vals {
		vals[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return ParticlePayload{X: vals[0], Y: vals[1], PX: vals[2], PY: vals[3], VX: vals[4], VY: vals[5]}, nil
}

// EncodeParticlePayloads serializes a slice of payloads back to back.
func EncodeParticlePayloads(ps []ParticlePayload) []byte {
	buf := make([]byte, len(ps)*particlePayloadSize)
	for i, p := range ps {
		copy(buf[i*particlePayloadSize:], p.Encode())
	}
	return buf
}

// DecodeParticlePayloads parses a back-to-back buffer of n payloads.
func DecodeParticlePayloads(buf []byte, n int) ([]ParticlePayload, error) {
	if len(buf) != n*particlePayloadSize {
		return nil, fmt.Errorf("transport: expected %d payloads (%d bytes), got %d bytes", n, n*particlePayloadSize, len(buf))
	}
	out := make([]ParticlePayload, n)
	for i := range out {
		p, err := DecodeParticlePayload(buf[i*particlePayloadSize : (i+1)*particlePayloadSize])
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

// FrameCoordsTag is the literal message tag used for the terminal-substep
// coordinate send, named directly in spec.md §6.
const FrameCoordsTag = 17

// CoordFrame is the pixel-packed coordinate buffer sent once per frame from
// an active worker to the coordinator: int16 pairs, per spec.md §6.
type CoordFrame struct {
	Coords []int16 // [x0,y0,x1,y1,...]
}

// PackCoord projects a simulation-space coordinate into the signed 16-bit
// pixel range, per spec.md §4.8: 2*x/max_x - 1, scaled by SHRT_MAX.
func PackCoord(v, maxV float64) int16 {
	scaled := (2*v/maxV - 1) * math.MaxInt16
	if scaled > math.MaxInt16 {
		scaled = math.MaxInt16
	}
	if scaled < math.MinInt16 {
		scaled = math.MinInt16
	}
	return int16(math.Round(scaled))
}

// UnpackCoord inverts PackCoord: x = (v/SHRT_MAX + 1) * max_x / 2, per
// spec.md invariant 8.
func UnpackCoord(v int16, maxV float64) float64 {
	return (float64(v)/math.MaxInt16 + 1) * maxV / 2
}

// LambdaUpdate carries the updated lambda scalar for each halo particle, in
// the pairing order established by the preceding halo exchange (spec.md
// §4.3 step 3, §6).
type LambdaUpdate struct {
	Lambdas []float64
}

// Encode serializes l to a back-to-back float64 buffer.
func (l LambdaUpdate) Encode() []byte {
	buf := make([]byte, len(l.Lambdas)*8)
	for i, v := range l.Lambdas {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

// DecodeLambdaUpdate parses the wire form Encode produces.
func DecodeLambdaUpdate(buf []byte) (LambdaUpdate, error) {
	if len(buf)%8 != 0 {
		return LambdaUpdate{}, fmt.Errorf("transport: LambdaUpdate buffer length %d not a multiple of 8", len(buf))
	}
	out := make([]float64, len(buf)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return LambdaUpdate{Lambdas: out}, nil
}

// PositionUpdate carries updated predicted-position pairs for each halo
// particle, in the same pairing order (spec.md §4.3 step 5, §6).
type PositionUpdate struct {
	PX, PY []float64
}

// Encode serializes p to a back-to-back (px,py) float64 buffer.
func (p PositionUpdate) Encode() []byte {
	n := len(p.PX)
	buf := make([]byte, n*16)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint64(buf[i*16:], math.Float64bits(p.PX[i]))
		binary.LittleEndian.PutUint64(buf[i*16+8:], math.Float64bits(p.PY[i]))
	}
	return buf
}

// DecodePositionUpdate parses the wire form Encode produces.
func DecodePositionUpdate(buf []byte) (PositionUpdate, error) {
	if len(buf)%16 != 0 {
		return PositionUpdate{}, fmt.Errorf("transport: PositionUpdate buffer length %d not a multiple of 16", len(buf))
	}
	n := len(buf) / 16
	px := make([]float64, n)
	py := make([]float64, n)
	for i := 0; i < n; i++ {
		px[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*16:]))
		py[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*16+8:]))
	}
	return PositionUpdate{PX: px, PY: py}, nil
}
