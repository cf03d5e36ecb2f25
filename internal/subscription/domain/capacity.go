package domain

// Capacity is the balance of a plan: either a bounded credit count or
// unlimited. Arithmetic goes through this type so no caller ever encodes
// "unlimited" as a large numeric sentinel.
type Capacity struct {
	unlimited bool
	credits   int64
}

// Bounded returns a capacity holding n credits. Negative input clamps to zero.
func Bounded(n int64) Capacity {
	if n < 0 {
		n = 0
	}
	return Capacity{credits: n}
}

// UnlimitedCapacity returns the unlimited capacity.
func UnlimitedCapacity() Capacity {
	return Capacity{unlimited: true}
}

// IsUnlimited reports whether the plan has no credit bound.
func (c Capacity) IsUnlimited() bool { return c.unlimited }

// Credits returns the bounded credit count; zero for unlimited plans.
func (c Capacity) Credits() int64 {
	if c.unlimited {
		return 0
	}
	return c.credits
}

// CanAfford reports whether amount credits can be deducted.
func (c Capacity) CanAfford(amount int64) bool {
	if amount <= 0 {
		return false
	}
	return c.unlimited || c.credits >= amount
}

// Deduct removes amount credits. The second return is false when the balance
// is insufficient; the capacity is unchanged in that case.
func (c Capacity) Deduct(amount int64) (Capacity, bool) {
	if !c.CanAfford(amount) {
		return c, false
	}
	if c.unlimited {
		return c, true
	}
	return Capacity{credits: c.credits - amount}, true
}

// Add grants amount credits. An unlimited capacity stays unlimited.
func (c Capacity) Add(amount int64) Capacity {
	if amount <= 0 || c.unlimited {
		return c
	}
	return Capacity{credits: c.credits + amount}
}
