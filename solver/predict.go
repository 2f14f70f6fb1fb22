package solver

import "github.com/pthm-cable/pbfcluster/particle"

// ApplyGravityAndPredict integrates gravity into each owned particle's
// velocity, then predicts its next position from that velocity, per
// spec.md §4.1 step 2 ("apply gravity → predict positions").
func ApplyGravityAndPredict(store *particle.Store, g, dt float64) {
	owned := store.Owned()
	for i := range owned {
		p := &owned[i]
		p.VY -= g * dt
		p.PX = p.X + p.VX*dt
		p.PY = p.Y + p.VY*dt
	}
}
