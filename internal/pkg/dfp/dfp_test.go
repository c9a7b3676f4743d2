package dfp

import (
	"testing"
	"time"

	"gotest.tools/v3/assert"
)

func fixedRegistry() *Registry {
	r := NewRegistry()
	r.now = func() time.Time {
		return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	}
	return r
}

func TestRegister(t *testing.T) {
	r := fixedRegistry()
	p, err := r.Register("peak_shave", "evening curtailment", 50, 0.95)
	assert.NilError(t, err)
	assert.Equal(t, p.Index, 1)
	assert.Equal(t, p.Name, "peak_shave")
	assert.Equal(t, p.MinPowerKW, 50.0)
	assert.Equal(t, p.RegisteredAt, "2025-06-01 12:00:00")
}

func TestRegisterDuplicate(t *testing.T) {
	r := fixedRegistry()
	_, err := r.Register("peak_shave", "", 50, 0.95)
	assert.NilError(t, err)
	_, err = r.Register("PEAK_SHAVE", "", 60, 0.9)
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestRejectsBadPowerFactor(t *testing.T) {
	r := fixedRegistry()
	for _, pf := range []float64{0, -0.5, 1.01} {
		_, err := r.Register("peak_shave", "", 50, pf)
		assert.Assert(t, err != nil, "pf %v", pf)
	}

	_, err := r.Register("peak_shave", "", 50, 1.0)
	assert.NilError(t, err)
	_, err = r.Update("peak_shave", 50, 0, "")
	assert.Assert(t, err != nil)

	// A rejected update leaves the program untouched.
	p, ok := r.Program("peak_shave")
	assert.Assert(t, ok)
	assert.Equal(t, p.TargetPF, 1.0)
}

func TestUpdateKeepsDescription(t *testing.T) {
	r := fixedRegistry()
	_, err := r.Register("peak_shave", "original", 50, 0.95)
	assert.NilError(t, err)

	p, err := r.Update("peak_shave", 75, 0.9, "")
	assert.NilError(t, err)
	assert.Equal(t, p.MinPowerKW, 75.0)
	assert.Equal(t, p.TargetPF, 0.9)
	assert.Equal(t, p.Description, "original")
}

func TestDeleteReindexes(t *testing.T) {
	r := fixedRegistry()
	for _, name := range []string{"a", "b", "c"} {
		_, err := r.Register(name, "", 10, 0.95)
		assert.NilError(t, err)
	}
	assert.NilError(t, r.Delete("b"))

	programs := r.Programs()
	assert.Equal(t, len(programs), 2)
	assert.Equal(t, programs[0].Name, "a")
	assert.Equal(t, programs[0].Index, 1)
	assert.Equal(t, programs[1].Name, "c")
	assert.Equal(t, programs[1].Index, 2)

	err := r.Delete("b")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSubscriptions(t *testing.T) {
	r := fixedRegistry()
	_, err := r.Register("peak_shave", "", 50, 0.95)
	assert.NilError(t, err)
	_, err = r.Register("pf_correct", "", 0, 0.99)
	assert.NilError(t, err)

	assert.NilError(t, r.Subscribe("B2", "peak_shave"))
	assert.NilError(t, r.Subscribe("b7", "peak_shave"))
	assert.NilError(t, r.Subscribe("b2", "pf_correct"))

	assert.DeepEqual(t, r.Subscribers("peak_shave"), []string{"b2", "b7"})
	assert.DeepEqual(t, r.SubscriptionFlags("b2"), []int{1, 1})
	assert.DeepEqual(t, r.SubscriptionFlags("b7"), []int{1, 0})
	assert.DeepEqual(t, r.SubscriptionFlags("b99"), []int{0, 0})

	assert.NilError(t, r.Unsubscribe("b2", "peak_shave"))
	assert.DeepEqual(t, r.Subscribers("peak_shave"), []string{"b7"})
}

func TestSubscribeUnknownProgram(t *testing.T) {
	r := fixedRegistry()
	err := r.Subscribe("b2", "nosuch")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteClearsSubscriptions(t *testing.T) {
	r := fixedRegistry()
	_, err := r.Register("peak_shave", "", 50, 0.95)
	assert.NilError(t, err)
	assert.NilError(t, r.Subscribe("b2", "peak_shave"))
	assert.NilError(t, r.Delete("peak_shave"))

	_, err = r.Register("peak_shave", "", 50, 0.95)
	assert.NilError(t, err)
	assert.Equal(t, len(r.Subscribers("peak_shave")), 0)
}

func TestSnapshotRestore(t *testing.T) {
	r := fixedRegistry()
	_, err := r.Register("peak_shave", "evening", 50, 0.95)
	assert.NilError(t, err)
	assert.NilError(t, r.Subscribe("b2", "peak_shave"))

	programs, subs := r.Snapshot()

	fresh := NewRegistry()
	fresh.Restore(programs, subs)
	p, ok := fresh.Program("peak_shave")
	assert.Assert(t, ok)
	assert.Equal(t, p.RegisteredAt, "2025-06-01 12:00:00")
	assert.DeepEqual(t, fresh.Subscribers("peak_shave"), []string{"b2"})
}
