package performer

import (
	"fmt"
	"io"
	"sort"

	"github.com/chewxy/math32"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/x448/float16"
)

// HalfTensor is a tensor stored as IEEE 754 binary16 bit patterns.
type HalfTensor struct {
	Name string   `msgpack:"name"`
	Rows int      `msgpack:"rows"`
	Cols int      `msgpack:"cols"`
	Data []uint16 `msgpack:"data"`
}

// HalfModel is the compact export consumed by the sensor firmware.
type HalfModel struct {
	Config     Config       `msgpack:"config"`
	SampleRate float64      `msgpack:"sample_rate"`
	Tensors    []HalfTensor `msgpack:"tensors"`
}

// QuantReport summarises the precision lost by the export.
type QuantReport struct {
	Values   int
	MaxError float32
	MaxName  string
	Overflow int
}

// Half converts every parameter and buffer to float16, sorted by name.
func (m *Model) Half(sampleRate float64) (*HalfModel, QuantReport) {
	var rep QuantReport
	state := m.State()
	names := make([]string, 0, len(state))
	for name := range state {
		names = append(names, name)
	}
	sort.Strings(names)

	out := &HalfModel{Config: m.cfg, SampleRate: sampleRate}
	for _, name := range names {
		s := state[name]
		ht := HalfTensor{Name: name, Rows: s.Rows, Cols: s.Cols, Data: make([]uint16, len(s.Data))}
		for i, v := range s.Data {
			f32 := float32(v)
			h := float16.Fromfloat32(f32)
			ht.Data[i] = h.Bits()
			if h.IsInf(0) && !math32.IsInf(f32, 0) {
				rep.Overflow++
				continue
			}
			if e := math32.Abs(h.Float32() - f32); e > rep.MaxError {
				rep.MaxError = e
				rep.MaxName = name
			}
		}
		rep.Values += len(s.Data)
		out.Tensors = append(out.Tensors, ht)
	}
	return out, rep
}

// ExportHalf writes the float16 model as msgpack.
func (m *Model) ExportHalf(w io.Writer, sampleRate float64) (QuantReport, error) {
	hm, rep := m.Half(sampleRate)
	if err := msgpack.NewEncoder(w).Encode(hm); err != nil {
		return rep, fmt.Errorf("encode half model: %w", err)
	}
	return rep, nil
}

// Float32 expands a half tensor back to single precision.
func (t HalfTensor) Float32() []float32 {
	out := make([]float32, len(t.Data))
	for i, b := range t.Data {
		out[i] = float16.Frombits(b).Float32()
	}
	return out
}
