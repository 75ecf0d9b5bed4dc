package matrix

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrDimension is returned when a sample, bias or matrix disagree on size.
var ErrDimension = errors.New("dimension mismatch")

// Calibration is an immutable N x C linear map from C raw channels to N outputs.
type Calibration struct {
	m *mat.Dense
}

// NewCalibration copies rows into a new Calibration. All rows must have the same
// non-zero length.
func NewCalibration(rows [][]float64) (*Calibration, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("calibration matrix has no rows")
	}
	cols := len(rows[0])
	if cols == 0 {
		return nil, fmt.Errorf("calibration matrix has no columns")
	}
	data := make([]float64, 0, len(rows)*cols)
	for i, r := range rows {
		if len(r) != cols {
			return nil, fmt.Errorf("%w: row %d has %d values, row 1 has %d", ErrDimension, i+1, len(r), cols)
		}
		data = append(data, r...)
	}
	return &Calibration{m: mat.NewDense(len(rows), cols, data)}, nil
}

// Identity returns an n x n identity calibration.
func Identity(n int) *Calibration {
	d := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		d.Set(i, i, 1)
	}
	return &Calibration{m: d}
}

// Dims returns the number of outputs and input channels.
func (c *Calibration) Dims() (outputs, channels int) {
	return c.m.Dims()
}

// Rows returns a copy of the matrix as row slices.
func (c *Calibration) Rows() [][]float64 {
	r, cols := c.m.Dims()
	out := make([][]float64, r)
	for i := 0; i < r; i++ {
		out[i] = make([]float64, cols)
		mat.Row(out[i], i, c.m)
	}
	return out
}

// Validate checks that the matrix accepts samples of the given channel count.
func (c *Calibration) Validate(channels int) error {
	if c == nil {
		return fmt.Errorf("calibration matrix not loaded")
	}
	_, cols := c.m.Dims()
	if cols != channels {
		return fmt.Errorf("%w: calibration matrix has %d columns but %d DAQ channels are configured", ErrDimension, cols, channels)
	}
	return nil
}

func (c *Calibration) String() string {
	return fmt.Sprintf("%v", mat.Formatted(c.m, mat.Prefix(""), mat.Squeeze()))
}

// Transform returns cal · (raw − bias). It does not modify its inputs.
func Transform(cal *Calibration, raw, bias []float64) ([]float64, error) {
	if cal == nil {
		return nil, fmt.Errorf("calibration matrix not loaded")
	}
	rows, cols := cal.m.Dims()
	if len(raw) != cols {
		return nil, fmt.Errorf("%w: sample has %d channels, matrix expects %d", ErrDimension, len(raw), cols)
	}
	if len(bias) != cols {
		return nil, fmt.Errorf("%w: bias has %d channels, matrix expects %d", ErrDimension, len(bias), cols)
	}
	d := mat.NewVecDense(cols, nil)
	d.SubVec(mat.NewVecDense(cols, raw), mat.NewVecDense(cols, bias))

	out := mat.NewVecDense(rows, nil)
	out.MulVec(cal.m, d)
	return vecToSlice(out), nil
}

// TransformBatch applies Transform to every sample with a single matrix product.
func TransformBatch(cal *Calibration, raws [][]float64, bias []float64) ([][]float64, error) {
	if cal == nil {
		return nil, fmt.Errorf("calibration matrix not loaded")
	}
	if len(raws) == 0 {
		return [][]float64{}, nil
	}
	rows, cols := cal.m.Dims()
	if len(bias) != cols {
		return nil, fmt.Errorf("%w: bias has %d channels, matrix expects %d", ErrDimension, len(bias), cols)
	}
	// One column per sample, as the DAQ delivers channel x sample blocks.
	biased := mat.NewDense(cols, len(raws), nil)
	for k, raw := range raws {
		if len(raw) != cols {
			return nil, fmt.Errorf("%w: sample %d has %d channels, matrix expects %d", ErrDimension, k+1, len(raw), cols)
		}
		for ch := 0; ch < cols; ch++ {
			biased.Set(ch, k, raw[ch]-bias[ch])
		}
	}
	var prod mat.Dense
	prod.Mul(cal.m, biased)

	out := make([][]float64, len(raws))
	for k := range raws {
		out[k] = make([]float64, rows)
		mat.Col(out[k], k, &prod)
	}
	return out, nil
}

// PseudoInverse returns the Moore-Penrose inverse (C x N) computed by SVD.
func (c *Calibration) PseudoInverse() (*Calibration, error) {
	var svd mat.SVD
	if ok := svd.Factorize(c.m, mat.SVDThin); !ok {
		return nil, fmt.Errorf("SVD failed; cannot compute pseudoinverse")
	}
	s := svd.Values(nil)
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	r, cols := c.m.Dims()
	tol := 0.0
	if len(s) > 0 {
		tol = math.Nextafter(1, 2) - 1
		tol *= float64(max(r, cols)) * s[0]
	}
	inv := make([]float64, len(s))
	for i, sv := range s {
		if sv > tol {
			inv[i] = 1 / sv
		}
	}
	var vs mat.Dense
	vs.Mul(&v, mat.NewDiagDense(len(inv), inv))
	var p mat.Dense
	p.Mul(&vs, u.T())
	return &Calibration{m: &p}, nil
}

// Mean averages samples channel by channel.
func Mean(samples [][]float64) ([]float64, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("no samples to average")
	}
	n := len(samples[0])
	sum := make([]float64, n)
	for k, s := range samples {
		if len(s) != n {
			return nil, fmt.Errorf("%w: sample %d has %d channels, sample 1 has %d", ErrDimension, k+1, len(s), n)
		}
		for i, v := range s {
			sum[i] += v
		}
	}
	for i := range sum {
		sum[i] /= float64(len(samples))
	}
	return sum, nil
}

func vecToSlice(v *mat.VecDense) []float64 {
	out := make([]float64, v.Len())
	for i := range out {
		out[i] = v.AtVec(i)
	}
	return out
}
