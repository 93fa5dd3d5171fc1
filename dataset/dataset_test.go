package dataset

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/CraigKelly/vinfer/rand"
)

const tinyData = `
c a comment line
3 2
0 1
1 0.5

c another
1 1
`

func TestFieldReader(t *testing.T) {
	assert := assert.New(t)

	fr := NewFieldReader("c skip me\n 1 2.5\nabc\n")
	assert.Equal([]string{"1", "2.5", "abc"}, fr.Fields)
	assert.Equal(3, fr.Remaining())

	i, err := fr.ReadInt()
	assert.NoError(err)
	assert.Equal(1, i)

	f, err := fr.ReadFloat()
	assert.NoError(err)
	assert.InDelta(2.5, f, 1e-12)

	_, err = fr.ReadFloat()
	assert.Error(err)

	_, err = fr.Read()
	assert.Error(err)

	dst := make([]float64, 1)
	assert.Error(fr.ReadFloats(dst))
}

func TestRead(t *testing.T) {
	assert := assert.New(t)

	d, err := Read([]byte(tinyData))
	assert.NoError(err)
	assert.Equal(3, d.Rows)
	assert.Equal(2, d.Cols)
	assert.InDeltaSlice([]float64{0, 1, 1, 0.5, 1, 1}, d.Data, 1e-12)
	assert.InDeltaSlice([]float64{1, 0.5}, d.Row(1), 1e-12)
}

func TestReadBad(t *testing.T) {
	assert := assert.New(t)

	cases := []string{
		"",
		"3",
		"0 2",
		"2 x 1 1 1 1",
		"2 2 1 1 1",
		"2 2 1 1 1 1 1",
		"1 2 1 nope",
		"1 2 1 NaN",
	}

	for _, c := range cases {
		d, err := Read([]byte(c))
		assert.Nil(d, c)
		assert.Error(err, c)
	}
}

func TestReadFile(t *testing.T) {
	assert := assert.New(t)

	dir, err := ioutil.TempDir("", "vinfer-dataset")
	assert.NoError(err)
	defer os.RemoveAll(dir)

	fn := filepath.Join(dir, "tiny.dat")
	assert.NoError(ioutil.WriteFile(fn, []byte(tinyData), 0644))

	d, err := ReadFile(fn)
	assert.NoError(err)
	assert.Equal(filepath.Join(dir, "tiny"), d.Name)

	_, err = ReadFile(filepath.Join(dir, "missing.dat"))
	assert.Error(err)
}

func TestBatches(t *testing.T) {
	assert := assert.New(t)

	d := &Dataset{Name: "b", Rows: 5, Cols: 2, Data: []float64{0, 0, 1, 1, 2, 2, 3, 3, 4, 4}}

	batches, err := d.Batches(2, nil)
	assert.NoError(err)
	assert.Len(batches, 2) // last row dropped
	assert.Equal([]int{2, 2}, []int(batches[0].Shape()))
	assert.Equal([]float64{0, 0, 1, 1}, batches[0].Float64s())
	assert.Equal([]float64{2, 2, 3, 3}, batches[1].Float64s())

	gen, err := rand.NewGenerator(5)
	assert.NoError(err)
	shuffled, err := d.Batches(5, gen)
	assert.NoError(err)
	assert.Len(shuffled, 1)
	seen := make(map[float64]bool)
	vals := shuffled[0].Float64s()
	for r := 0; r < 5; r++ {
		assert.Equal(vals[2*r], vals[2*r+1]) // rows stay intact
		seen[vals[2*r]] = true
	}
	assert.Len(seen, 5)

	_, err = d.Batches(0, nil)
	assert.Error(err)
	_, err = d.Batches(6, nil)
	assert.Error(err)
}

func TestSplit(t *testing.T) {
	assert := assert.New(t)

	d := &Dataset{Name: "s", Rows: 4, Cols: 1, Data: []float64{1, 2, 3, 4}}
	tr, te, err := d.Split(0.75)
	assert.NoError(err)
	assert.Equal(3, tr.Rows)
	assert.Equal(1, te.Rows)
	assert.Equal([]float64{4}, te.Data)
	assert.NoError(tr.Check())

	_, _, err = d.Split(0)
	assert.Error(err)
	_, _, err = d.Split(0.01)
	assert.Error(err)
}

func TestSynthetic(t *testing.T) {
	assert := assert.New(t)

	gen, err := rand.NewGenerator(11)
	assert.NoError(err)

	d, err := Synthetic(gen, 20, 8, 3, 0.1)
	assert.NoError(err)
	assert.NoError(d.Check())
	for _, v := range d.Data {
		assert.True(v == 0.0 || v == 1.0)
	}

	_, err = Synthetic(gen, 0, 8, 3, 0.1)
	assert.Error(err)
	_, err = Synthetic(gen, 10, 8, 3, 1.5)
	assert.Error(err)
}
