package rsr

import "math"

// i0e is the exponentially scaled modified Bessel function of the first
// kind of order zero, I0(x)·exp(-|x|), using the Abramowitz & Stegun 9.8.1
// and 9.8.2 polynomial approximations (|ε| < 2e-7).
func i0e(x float64) float64 {
	ax := math.Abs(x)
	if ax <= 3.75 {
		t := x / 3.75
		t *= t
		i0 := 1 + t*(3.5156229+t*(3.0899424+t*(1.2067492+t*(0.2659732+t*(0.0360768+t*0.0045813)))))
		return i0 * math.Exp(-ax)
	}
	t := 3.75 / ax
	p := 0.39894228 + t*(0.01328592+t*(0.00225319+t*(-0.00157565+t*(0.00916281+
		t*(-0.02057706+t*(0.02635537+t*(-0.01647633+t*0.00392377)))))))
	return p / math.Sqrt(ax)
}

// rice is the Rice density of amplitude x for coherent amplitude a and
// per-component diffuse deviation sigma.
func rice(x, a, sigma float64) float64 {
	if x < 0 || sigma <= 0 {
		return 0
	}
	s2 := sigma * sigma
	d := x - a
	return x / s2 * math.Exp(-d*d/(2*s2)) * i0e(x*a/s2)
}
