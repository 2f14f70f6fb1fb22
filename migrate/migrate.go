// Package migrate implements the two message-driven protocols that keep a
// worker's particle store consistent with its neighbors each substep: OOB
// migration (spec.md §4.6) and halo exchange (spec.md §4.7). Both follow
// the same shape — exchange counts, then exchange fixed-layout payloads,
// in that order on both sides — so they share the pairwise exchange helper
// in this package.
package migrate

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/pthm-cable/pbfcluster/particle"
	"github.com/pthm-cable/pbfcluster/transport"
)

// DetectOOB scans owned particles for those whose predicted position has
// crossed the slab boundary, splitting them into left/right index lists
// (store-local indices), per spec.md §4.6.
func DetectOOB(store *particle.Store, start, end float64) (left, right []int) {
	owned := store.Owned()
	for i := range owned {
		x := owned[i].PX
		switch {
		case x < start:
			left = append(left, i)
		case x >= end:
			right = append(right, i)
		}
	}
	return left, right
}

// toPayload converts a particle to its OOB/halo wire record.
func toPayload(p *particle.Particle) transport.ParticlePayload {
	return transport.ParticlePayload{
		X: float32(p.X), Y: float32(p.Y),
		PX: float32(p.PX), PY: float32(p.PY),
		VX: float32(p.VX), VY: float32(p.VY),
	}
}

func fromPayload(p transport.ParticlePayload) particle.Particle {
	return particle.Particle{
		X: float64(p.X), Y: float64(p.Y),
		PX: float64(p.PX), PY: float64(p.PY),
		VX: float64(p.VX), VY: float64(p.VY),
	}
}

func sendCount(ctx context.Context, conn *transport.Conn, n int) error {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(n))
	return conn.Send(ctx, buf)
}

func recvCount(ctx context.Context, conn *transport.Conn) (int, error) {
	buf, err := conn.Recv(ctx)
	if err != nil {
		return 0, err
	}
	if len(buf) != 4 {
		return 0, fmt.Errorf("migrate: count frame wants 4 bytes, got %d", len(buf))
	}
	return int(binary.LittleEndian.Uint32(buf)), nil
}

// ExchangeOOB runs the OOB migration protocol with one neighbor over conn:
// post the outgoing count and receive the neighbor's count, then post the
// outgoing payloads (for the particles at store-local indices outgoing) and
// receive the neighbor's payloads, appending them as new owned particles.
// It does NOT remove the outgoing particles from store — when a worker has
// both a left and right neighbor, removing after each side's exchange would
// invalidate the other side's pending indices via swap-removal, since
// AppendOwned only grows the store but RemoveOwnedSwap reorders it. Call
// RemoveMigrated once, after every neighbor's ExchangeOOB this substep has
// completed, with the union of their outgoing lists.
//
// Both sides must call this once per active neighbor per substep; spec.md
// §4.6 requires the count exchange to precede the payload exchange on both
// sides; Conn buffers one message per direction, so both sides can post
// before they receive.
func ExchangeOOB(ctx context.Context, conn *transport.Conn, store *particle.Store, outgoing []int) error {
	out := make([]transport.ParticlePayload, len(outgoing))
	for i, idx := range outgoing {
		out[i] = toPayload(store.At(idx))
	}

	if err := sendCount(ctx, conn, len(out)); err != nil {
		return err
	}
	peerCount, err := recvCount(ctx, conn)
	if err != nil {
		return err
	}

	if len(out) > 0 {
		if err := conn.Send(ctx, transport.EncodeParticlePayloads(out)); err != nil {
			return err
		}
	}
	if peerCount > 0 {
		buf, err := conn.Recv(ctx)
		if err != nil {
			return err
		}
		incoming, err := transport.DecodeParticlePayloads(buf, peerCount)
		if err != nil {
			return err
		}
		for _, p := range incoming {
			store.AppendOwned(fromPayload(p))
		}
	}
	return nil
}

// RemoveMigrated removes the particles at store-local indices idxs (the
// union of every neighbor's outgoing list for this substep) via
// swap-removal, highest index first so earlier indices stay valid as the
// removal proceeds (RemoveOwnedSwap moves the last owned particle into the
// removed slot).
func RemoveMigrated(store *particle.Store, idxs []int) {
	sorted := append([]int(nil), idxs...)
	sort.Sort(sort.Reverse(sort.IntSlice(sorted)))
	for _, idx := range sorted {
		store.RemoveOwnedSwap(idx)
	}
}

// HaloCandidates returns the store-local indices of owned particles whose
// position lies within h of the given boundary coordinate, per spec.md
// §4.7 ("owned particles whose x lies within h of the shared boundary").
func HaloCandidates(store *particle.Store, boundary, h float64) []int {
	var idxs []int
	owned := store.Owned()
	for i := range owned {
		if abs(owned[i].X-boundary) <= h {
			idxs = append(idxs, i)
		}
	}
	return idxs
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// ExchangeHalo runs the halo exchange protocol with one neighbor over conn:
// post the outgoing count and payloads for the owned particles at
// store-local indices outgoing, then receive the neighbor's payloads into
// the halo region via AppendHalo. The halo region must already be cleared
// by the caller at the start of the substep (spec.md §4.7). Returns the
// number of halo particles received from this neighbor, which establishes
// the pairing order later λ/position publishes reuse.
func ExchangeHalo(ctx context.Context, conn *transport.Conn, store *particle.Store, outgoing []int) (int, error) {
	out := make([]transport.ParticlePayload, len(outgoing))
	for i, idx := range outgoing {
		out[i] = toPayload(store.At(idx))
	}

	if err := sendCount(ctx, conn, len(out)); err != nil {
		return 0, err
	}
	peerCount, err := recvCount(ctx, conn)
	if err != nil {
		return 0, err
	}

	if len(out) > 0 {
		if err := conn.Send(ctx, transport.EncodeParticlePayloads(out)); err != nil {
			return 0, err
		}
	}
	if peerCount == 0 {
		return 0, nil
	}
	buf, err := conn.Recv(ctx)
	if err != nil {
		return 0, err
	}
	incoming, err := transport.DecodeParticlePayloads(buf, peerCount)
	if err != nil {
		return 0, err
	}
	for _, p := range incoming {
		store.AppendHalo(fromPayload(p))
	}
	return peerCount, nil
}
