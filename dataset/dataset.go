package dataset

import (
	"io/ioutil"
	"math"
	"path/filepath"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/CraigKelly/vinfer/rand"
)

// Dataset is a dense row-major matrix of observations: Rows samples of Cols
// features each.
type Dataset struct {
	Name string    // Dataset name (file name without extension when read from disk)
	Rows int       // Number of samples
	Cols int       // Number of features per sample
	Data []float64 // len must be Rows*Cols
}

// Read parses a data buffer. The format is UAI-like: a header line with the
// row and column counts followed by Rows*Cols whitespace separated values.
// Blank lines and lines starting with 'c' are ignored.
func Read(data []byte) (*Dataset, error) {
	fr := NewFieldReader(string(data))
	if len(fr.Fields) < 2 {
		return nil, errors.Errorf("Invalid data: only %d fields found (<2)", len(fr.Fields))
	}

	d := &Dataset{}

	var err error
	d.Rows, err = fr.ReadInt()
	if err != nil {
		return nil, errors.Wrap(err, "Error reading row count")
	}
	d.Cols, err = fr.ReadInt()
	if err != nil {
		return nil, errors.Wrap(err, "Error reading column count")
	}
	if d.Rows < 1 || d.Cols < 1 {
		return nil, errors.Errorf("Invalid dimensions %dx%d", d.Rows, d.Cols)
	}

	if fr.Remaining() != d.Rows*d.Cols {
		return nil, errors.Errorf("Expected %d values for %dx%d, found %d", d.Rows*d.Cols, d.Rows, d.Cols, fr.Remaining())
	}

	d.Data = make([]float64, d.Rows*d.Cols)
	err = fr.ReadFloats(d.Data)
	if err != nil {
		return nil, errors.Wrap(err, "Could not PARSE dataset values")
	}

	err = d.Check()
	if err != nil {
		return nil, errors.Wrap(err, "Parsed dataset is not valid")
	}

	return d, nil
}

// ReadFile reads and parses the given file, naming the dataset after it
func ReadFile(filename string) (*Dataset, error) {
	data, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "Could not READ dataset from %s", filename)
	}

	d, err := Read(data)
	if err != nil {
		return nil, errors.Wrapf(err, "Could not load dataset %s", filename)
	}

	var ext = filepath.Ext(filename)
	d.Name = filename[0 : len(filename)-len(ext)]

	return d, nil
}

// Check returns an error if there is a problem with the dataset
func (d *Dataset) Check() error {
	if d.Rows < 0 || d.Cols < 0 {
		return errors.Errorf("Dataset %s has negative dimensions %dx%d", d.Name, d.Rows, d.Cols)
	}
	if len(d.Data) != d.Rows*d.Cols {
		return errors.Errorf("Dataset %s has %d values but is %dx%d", d.Name, len(d.Data), d.Rows, d.Cols)
	}
	for i, v := range d.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.Errorf("Dataset %s has non-finite value %v at row %d col %d", d.Name, v, i/d.Cols, i%d.Cols)
		}
	}
	return nil
}

// Row returns a view of row i
func (d *Dataset) Row(i int) []float64 {
	return d.Data[i*d.Cols : (i+1)*d.Cols]
}

// Split returns the first frac of the rows as one dataset and the rest as a
// second. The data is copied.
func (d *Dataset) Split(frac float64) (*Dataset, *Dataset, error) {
	if frac <= 0 || frac >= 1 {
		return nil, nil, errors.Errorf("Split fraction must be in (0, 1), got %v", frac)
	}

	first := int(math.Round(float64(d.Rows) * frac))
	if first < 1 || first >= d.Rows {
		return nil, nil, errors.Errorf("Split %v of %d rows leaves an empty side", frac, d.Rows)
	}

	mk := func(name string, from, to int) *Dataset {
		data := make([]float64, (to-from)*d.Cols)
		copy(data, d.Data[from*d.Cols:to*d.Cols])
		return &Dataset{Name: name, Rows: to - from, Cols: d.Cols, Data: data}
	}

	return mk(d.Name+"-train", 0, first), mk(d.Name+"-test", first, d.Rows), nil
}

// Batches returns the rows as [size, Cols] minibatches. When gen is not nil
// the rows are shuffled first. A trailing partial batch is dropped since the
// graphs we feed are built for a fixed batch size.
func (d *Dataset) Batches(size int, gen *rand.Generator) ([]*tensor.Dense, error) {
	if size < 1 {
		return nil, errors.Errorf("Invalid batch size %d", size)
	}
	if size > d.Rows {
		return nil, errors.Errorf("Batch size %d is larger than dataset %s (%d rows)", size, d.Name, d.Rows)
	}

	var order []int
	if gen != nil {
		order = gen.Perm(d.Rows)
	} else {
		order = make([]int, d.Rows)
		for i := range order {
			order[i] = i
		}
	}

	count := d.Rows / size
	batches := make([]*tensor.Dense, count)
	for b := 0; b < count; b++ {
		backing := make([]float64, size*d.Cols)
		for r := 0; r < size; r++ {
			copy(backing[r*d.Cols:(r+1)*d.Cols], d.Row(order[b*size+r]))
		}
		batches[b] = tensor.New(tensor.WithShape(size, d.Cols), tensor.WithBacking(backing))
	}

	return batches, nil
}

// Synthetic builds a binary dataset from a few random prototype patterns,
// each row being one prototype with every bit flipped with probability
// noise. Handy for smoke testing a model without a data file.
func Synthetic(gen *rand.Generator, rows, cols, patterns int, noise float64) (*Dataset, error) {
	if rows < 1 || cols < 1 || patterns < 1 {
		return nil, errors.Errorf("Invalid synthetic dataset %dx%d with %d patterns", rows, cols, patterns)
	}
	if noise < 0 || noise > 1 {
		return nil, errors.Errorf("Invalid noise probability %v", noise)
	}

	protos := make([][]float64, patterns)
	for p := range protos {
		protos[p] = make([]float64, cols)
		for c := range protos[p] {
			if gen.Float64() < 0.5 {
				protos[p][c] = 1.0
			}
		}
	}

	d := &Dataset{
		Name: "synthetic",
		Rows: rows,
		Cols: cols,
		Data: make([]float64, rows*cols),
	}
	for r := 0; r < rows; r++ {
		proto := protos[int(gen.Int63n(int64(patterns)))]
		row := d.Row(r)
		for c, v := range proto {
			if gen.Float64() < noise {
				v = 1.0 - v
			}
			row[c] = v
		}
	}

	return d, nil
}
