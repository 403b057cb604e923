// Package affection maps behavior tags onto relationship-vector updates and
// a bounded visible score. Apply is a pure function: no hidden state, no
// randomness, identical inputs always produce identical outputs.
package affection

// #region vector
// Vector is the four-dimensional relationship vector. Every dimension is
// kept within [-1,1].
type Vector struct {
	Trust      float64 `json:"trust"`
	Attraction float64 `json:"attraction"`
	Fear       float64 `json:"fear"`
	Respect    float64 `json:"respect"`
}

// Clamp restricts every dimension to [-1,1].
func (v Vector) Clamp() Vector {
	return Vector{
		Trust:      clamp1(v.Trust),
		Attraction: clamp1(v.Attraction),
		Fear:       clamp1(v.Fear),
		Respect:    clamp1(v.Respect),
	}
}

// Add returns the element-wise sum.
func (v Vector) Add(o Vector) Vector {
	return Vector{
		Trust:      v.Trust + o.Trust,
		Attraction: v.Attraction + o.Attraction,
		Fear:       v.Fear + o.Fear,
		Respect:    v.Respect + o.Respect,
	}
}

// Scale returns the vector multiplied by f.
func (v Vector) Scale(f float64) Vector {
	return Vector{
		Trust:      v.Trust * f,
		Attraction: v.Attraction * f,
		Fear:       v.Fear * f,
		Respect:    v.Respect * f,
	}
}

func clamp1(x float64) float64 {
	if x < -1 {
		return -1
	}
	if x > 1 {
		return 1
	}
	return x
}

// #endregion vector
