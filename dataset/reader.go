package dataset

import (
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// FieldReader tokenizes a data file on whitespace. Lines that are blank or
// start with 'c' are comments and never produce fields.
type FieldReader struct {
	Pos    int
	Fields []string
}

// NewFieldReader constructs a new field reader around the given data
func NewFieldReader(data string) *FieldReader {
	lines := strings.Split(data, "\n")

	fields := make([]string, 0, len(lines))
	for _, ln := range lines {
		ln = strings.TrimSpace(ln)
		if len(ln) < 1 || ln[0] == 'c' {
			continue
		}
		fields = append(fields, strings.Fields(ln)...)
	}

	return &FieldReader{0, fields}
}

// Remaining is the number of fields not yet read
func (fr *FieldReader) Remaining() int {
	return len(fr.Fields) - fr.Pos
}

// Read returns the next space-delimited field/token
func (fr *FieldReader) Read() (string, error) {
	if fr.Pos >= len(fr.Fields) {
		return "", io.EOF
	}
	p := fr.Pos
	fr.Pos++
	return fr.Fields[p], nil
}

// ReadInt reads the next token as an int
func (fr *FieldReader) ReadInt() (int, error) {
	s, err := fr.Read()
	if err != nil {
		return 0, err
	}

	i, err := strconv.ParseInt(s, 10, 0)
	return int(i), err
}

// ReadFloat reads the next token as a float
func (fr *FieldReader) ReadFloat() (float64, error) {
	s, err := fr.Read()
	if err != nil {
		return 0, err
	}

	return strconv.ParseFloat(s, 64)
}

// ReadFloats fills dst from the next len(dst) tokens
func (fr *FieldReader) ReadFloats(dst []float64) error {
	for i := range dst {
		f, err := fr.ReadFloat()
		if err != nil {
			return errors.Wrapf(err, "Error reading value %d of %d", i, len(dst))
		}
		dst[i] = f
	}
	return nil
}
