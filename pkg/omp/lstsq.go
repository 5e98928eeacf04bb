package omp

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrSingular is returned when the signature system cannot be solved reliably.
var ErrSingular = errors.New("singular or ill-conditioned signature system")

// leastSquares solves min |W(Ax - y)| with QR decomposition. weights may be
// nil for an unweighted fit. A failed or non-finite solve returns
// ErrSingular. No regularisation is applied.
func leastSquares(a *mat.Dense, y, weights []float64) ([]float64, error) {
	rows, cols := a.Dims()
	if cols == 0 {
		return nil, nil
	}
	if cols > rows {
		return nil, fmt.Errorf("%w: %d genes for %d measurements", ErrSingular, cols, rows)
	}

	target := make([]float64, rows)
	copy(target, y)
	system := a
	if weights != nil {
		system = mat.DenseCopyOf(a)
		for i := 0; i < rows; i++ {
			w := weights[i]
			for j := 0; j < cols; j++ {
				system.Set(i, j, system.At(i, j)*w)
			}
			target[i] *= w
		}
	}

	var qr mat.QR
	qr.Factorize(system)

	var x mat.VecDense
	if err := qr.SolveVecTo(&x, false, mat.NewVecDense(rows, target)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingular, err)
	}

	solution := make([]float64, cols)
	for j := range solution {
		v := x.AtVec(j)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: non-finite coefficient", ErrSingular)
		}
		solution[j] = v
	}
	return solution, nil
}
