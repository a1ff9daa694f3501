package arbitrage

import "math"

const (
	brentMaxEvaluations = 500
	brentSqrtEps        = 1.4832396974191326e-08 // sqrt(2.2e-16)
)

var goldenMean = 0.5 * (3.0 - math.Sqrt(5.0))

// minimizeBounded finds a local minimum of f on [lo, hi] with Brent's method,
// falling back to golden section steps when a parabolic step is not acceptable.
// It stops once the minimum is bracketed within xatol or after
// brentMaxEvaluations calls of f. An error from f aborts the search.
func minimizeBounded(f func(float64) (float64, error), lo, hi, xatol float64) (float64, float64, error) {
	a, b := lo, hi
	fulc := a + goldenMean*(b-a)
	nfc, xf := fulc, fulc
	var rat, e float64
	x := xf

	fx, err := f(x)
	if err != nil {
		return 0, 0, err
	}
	evaluations := 1
	ffulc, fnfc := fx, fx

	xm := 0.5 * (a + b)
	tol1 := brentSqrtEps*math.Abs(xf) + xatol/3.0
	tol2 := 2.0 * tol1

	for math.Abs(xf-xm) > tol2-0.5*(b-a) {
		golden := true

		if math.Abs(e) > tol1 {
			golden = false
			r := (xf - nfc) * (fx - ffulc)
			q := (xf - fulc) * (fx - fnfc)
			p := (xf-fulc)*q - (xf-nfc)*r
			q = 2.0 * (q - r)
			if q > 0.0 {
				p = -p
			}
			q = math.Abs(q)
			r = e
			e = rat

			if math.Abs(p) < math.Abs(0.5*q*r) && p > q*(a-xf) && p < q*(b-xf) {
				rat = p / q
				x = xf + rat
				if (x-a) < tol2 || (b-x) < tol2 {
					rat = tol1 * stepSign(xm-xf)
				}
			} else {
				golden = true
			}
		}

		if golden {
			if xf >= xm {
				e = a - xf
			} else {
				e = b - xf
			}
			rat = goldenMean * e
		}

		x = xf + stepSign(rat)*math.Max(math.Abs(rat), tol1)
		fu, err := f(x)
		if err != nil {
			return 0, 0, err
		}
		evaluations++

		if fu <= fx {
			if x >= xf {
				a = xf
			} else {
				b = xf
			}
			fulc, ffulc = nfc, fnfc
			nfc, fnfc = xf, fx
			xf, fx = x, fu
		} else {
			if x < xf {
				a = x
			} else {
				b = x
			}
			if fu <= fnfc || nfc == xf {
				fulc, ffulc = nfc, fnfc
				nfc, fnfc = x, fu
			} else if fu <= ffulc || fulc == xf || fulc == nfc {
				fulc, ffulc = x, fu
			}
		}

		xm = 0.5 * (a + b)
		tol1 = brentSqrtEps*math.Abs(xf) + xatol/3.0
		tol2 = 2.0 * tol1

		if evaluations >= brentMaxEvaluations {
			break
		}
	}

	return xf, fx, nil
}

// stepSign is the sign of v with zero treated as positive.
func stepSign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}
