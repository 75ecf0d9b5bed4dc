package matrix

import (
	"errors"
	"math"
	"strings"
	"testing"
)

const tol = 1e-9

// FT21484 factory matrix.
var gamma = [][]float64{
	{-0.25125, -0.06105, 1.17338, -13.52482, -0.47675, 14.42734},
	{-1.00959, 16.23421, 0.48377, -7.75925, 0.49090, -8.31992},
	{25.07049, -0.43117, 25.14917, -0.09450, 25.11196, -0.27838},
	{-0.01317, 0.19581, -0.72139, -0.09435, 0.72986, -0.10509},
	{0.83684, -0.00962, -0.43756, 0.16328, -0.41280, -0.17187},
	{0.02547, -0.43748, 0.03185, -0.41796, 0.02164, -0.44538},
}

func mustCal(t *testing.T, rows [][]float64) *Calibration {
	t.Helper()
	c, err := NewCalibration(rows)
	if err != nil {
		t.Fatalf("NewCalibration: %v", err)
	}
	return c
}

func assertClose(t *testing.T, got, want []float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length: got %d, want %d", len(got), len(want))
	}
	for i := range got {
		if math.Abs(got[i]-want[i]) > tol {
			t.Errorf("[%d]: got %.12f, want %.12f", i, got[i], want[i])
		}
	}
}

func naive(m [][]float64, raw, bias []float64) []float64 {
	out := make([]float64, len(m))
	for i, row := range m {
		for j, v := range row {
			out[i] += v * (raw[j] - bias[j])
		}
	}
	return out
}

func TestTransformMatchesExplicitProduct(t *testing.T) {
	cal := mustCal(t, gamma)
	raw := []float64{0.12, -0.34, 1.5, 0.002, -2.25, 0.9}
	bias := []float64{0.01, 0.02, -0.03, 0.04, -0.05, 0.06}

	got, err := Transform(cal, raw, bias)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	assertClose(t, got, naive(gamma, raw, bias))
}

func TestTransformDoesNotModifyInputs(t *testing.T) {
	cal := mustCal(t, gamma)
	raw := []float64{1, 2, 3, 4, 5, 6}
	bias := []float64{1, 1, 1, 1, 1, 1}
	if _, err := Transform(cal, raw, bias); err != nil {
		t.Fatal(err)
	}
	assertClose(t, raw, []float64{1, 2, 3, 4, 5, 6})
	assertClose(t, bias, []float64{1, 1, 1, 1, 1, 1})
}

func TestTransformAffine(t *testing.T) {
	cal := mustCal(t, gamma)
	r1 := []float64{0.5, -0.1, 0.2, 0.3, -0.4, 0.05}
	r2 := []float64{-0.2, 0.7, 0.1, -0.6, 0.25, 0.3}
	bias := []float64{0.1, 0.2, 0.3, -0.1, -0.2, -0.3}
	sum := make([]float64, 6)
	for i := range sum {
		sum[i] = r1[i] + r2[i]
	}
	zero := make([]float64, 6)

	t12, _ := Transform(cal, sum, bias)
	t1, _ := Transform(cal, r1, bias)
	t2, _ := Transform(cal, r2, bias)
	t0, _ := Transform(cal, zero, bias)

	for i := range t12 {
		if d := t12[i] - t1[i] - t2[i] + t0[i]; math.Abs(d) > tol {
			t.Errorf("output %d: affine residual %g", i, d)
		}
	}
}

func TestTransformAtBiasIsZero(t *testing.T) {
	for _, rows := range [][][]float64{gamma, Identity(6).Rows()} {
		cal := mustCal(t, rows)
		bias := []float64{0.3, -1.2, 4.4, 0, 2.5, -0.7}
		got, err := Transform(cal, bias, bias)
		if err != nil {
			t.Fatal(err)
		}
		assertClose(t, got, make([]float64, 6))
	}
}

func TestTransformIdentityPassesThrough(t *testing.T) {
	raw := []float64{1, 1, 1, 1, 1, 1}
	got, err := Transform(Identity(6), raw, make([]float64, 6))
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, got, raw)
}

func TestTransformDimensionMismatch(t *testing.T) {
	cal := mustCal(t, gamma)
	cases := []struct {
		name      string
		raw, bias []float64
	}{
		{"short sample", make([]float64, 5), make([]float64, 6)},
		{"long sample", make([]float64, 7), make([]float64, 6)},
		{"short bias", make([]float64, 6), make([]float64, 4)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Transform(cal, tc.raw, tc.bias)
			if !errors.Is(err, ErrDimension) {
				t.Fatalf("got %v, want ErrDimension", err)
			}
		})
	}
}

func TestTransformNonSquare(t *testing.T) {
	rows := [][]float64{
		{1, 0, 0, 0, 0, 0},
		{0, 0, 0, 0, 0, 2},
		{1, 1, 1, 1, 1, 1},
	}
	cal := mustCal(t, rows)
	got, err := Transform(cal, []float64{1, 2, 3, 4, 5, 6}, make([]float64, 6))
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, got, []float64{1, 12, 21})
}

func TestTransformBatchMatchesTransform(t *testing.T) {
	cal := mustCal(t, gamma)
	bias := []float64{0.01, 0.02, 0.03, 0.04, 0.05, 0.06}
	raws := [][]float64{
		{1, 0, 0, 0, 0, 0},
		{0.2, 0.4, -0.1, 0.3, 0.9, -0.5},
		{-1, -2, -3, 4, 5, 6},
	}
	batch, err := TransformBatch(cal, raws, bias)
	if err != nil {
		t.Fatal(err)
	}
	for k, raw := range raws {
		one, _ := Transform(cal, raw, bias)
		assertClose(t, batch[k], one)
	}

	raws[1] = raws[1][:5]
	if _, err := TransformBatch(cal, raws, bias); !errors.Is(err, ErrDimension) {
		t.Fatalf("got %v, want ErrDimension", err)
	}
}

func TestValidate(t *testing.T) {
	cal := mustCal(t, gamma)
	if err := cal.Validate(6); err != nil {
		t.Fatalf("Validate(6): %v", err)
	}
	if err := cal.Validate(12); !errors.Is(err, ErrDimension) {
		t.Fatalf("Validate(12): got %v, want ErrDimension", err)
	}
	var nilCal *Calibration
	if err := nilCal.Validate(6); err == nil {
		t.Fatal("nil calibration should not validate")
	}
}

func TestNewCalibrationRagged(t *testing.T) {
	_, err := NewCalibration([][]float64{{1, 2, 3}, {1, 2}})
	if !errors.Is(err, ErrDimension) {
		t.Fatalf("got %v, want ErrDimension", err)
	}
	if _, err := NewCalibration(nil); err == nil {
		t.Fatal("empty matrix accepted")
	}
}

func TestPseudoInverseRecoversRaw(t *testing.T) {
	cal := mustCal(t, gamma)
	pinv, err := cal.PseudoInverse()
	if err != nil {
		t.Fatal(err)
	}
	if r, c := pinv.Dims(); r != 6 || c != 6 {
		t.Fatalf("pinv dims %dx%d", r, c)
	}
	load := []float64{10, -5, 40, 0.2, -0.1, 0.05}
	raw, err := Transform(pinv, load, make([]float64, 6))
	if err != nil {
		t.Fatal(err)
	}
	back, err := Transform(cal, raw, make([]float64, 6))
	if err != nil {
		t.Fatal(err)
	}
	for i := range load {
		if math.Abs(back[i]-load[i]) > 1e-6 {
			t.Errorf("output %d: got %g, want %g", i, back[i], load[i])
		}
	}
}

func TestMean(t *testing.T) {
	got, err := Mean([][]float64{{1, 2}, {3, 4}, {5, 6}})
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, got, []float64{3, 4})
	if _, err := Mean(nil); err == nil {
		t.Fatal("mean of nothing should fail")
	}
	if _, err := Mean([][]float64{{1, 2}, {3}}); !errors.Is(err, ErrDimension) {
		t.Fatalf("got %v, want ErrDimension", err)
	}
}

func TestParseCalibration(t *testing.T) {
	text := "# FT21484\n" +
		"-0.25125\t-0.06105\t1.17338\n" +
		"\n" +
		"  1 2   3  \n" +
		"4,5,6\n"
	cal, err := ParseCalibration(strings.NewReader(text))
	if err != nil {
		t.Fatalf("ParseCalibration: %v", err)
	}
	if n, c := cal.Dims(); n != 3 || c != 3 {
		t.Fatalf("dims %dx%d, want 3x3", n, c)
	}
	rows := cal.Rows()
	assertClose(t, rows[0], []float64{-0.25125, -0.06105, 1.17338})
	assertClose(t, rows[2], []float64{4, 5, 6})
}

func TestParseCalibrationErrors(t *testing.T) {
	cases := map[string]string{
		"ragged":    "1 2 3\n4 5\n",
		"non-float": "1 2 x\n",
		"empty":     "# nothing\n\n",
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseCalibration(strings.NewReader(text)); err == nil {
				t.Fatalf("%q parsed without error", text)
			}
		})
	}
	_, err := ParseCalibration(strings.NewReader("1 2 3\n4 5\n"))
	if !strings.Contains(err.Error(), "line 2") {
		t.Errorf("error %q does not name the line", err)
	}
}
