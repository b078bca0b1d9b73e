package runtime

import (
	"sort"

	"github.com/james-bowman/sparse"
	"github.com/notargets/SpikeKernel/model"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// SetSparseConnectivity fills the row lengths and postsynaptic indices of a
// sparse synapse group from the non-zero pattern of conn
func (r *Runtime) SetSparseConnectivity(sg *model.SynapseGroup, conn *sparse.CSR) error {
	if !sg.IsSparse() {
		return errors.Errorf("synapse group '%s' does not have sparse connectivity", sg.Name)
	}
	numPre, numPost := sg.Source.NumNeurons, sg.Target.NumNeurons
	if rows, cols := conn.Dims(); rows != numPre || cols != numPost {
		return errors.Errorf("connectivity of synapse group '%s' must be %dx%d, not %dx%d",
			sg.Name, numPre, numPost, rows, cols)
	}
	rowLength, err := r.Array(sg.Name, "rowLength")
	if err != nil {
		return err
	}
	ind, err := r.Array(sg.Name, "ind")
	if err != nil {
		return err
	}
	rowStride := r.b.SynapticMatrixRowStride(sg)
	lengths := make([]int, numPre)
	var overflow error
	conn.DoNonZero(func(i, j int, _ float64) {
		if overflow != nil {
			return
		}
		if lengths[i] == rowStride {
			overflow = errors.Errorf("row %d of synapse group '%s' has more than %d synapses", i, sg.Name, rowStride)
			return
		}
		overflow = ind.Set(i*rowStride+lengths[i], float64(j))
		lengths[i]++
	})
	if overflow != nil {
		return overflow
	}
	for i, n := range lengths {
		if err := rowLength.Set(i, float64(n)); err != nil {
			return err
		}
	}
	return nil
}

// SparseConnectivity reads the host copy of a sparse synapse group's
// connectivity back as a pattern of ones
func (r *Runtime) SparseConnectivity(sg *model.SynapseGroup) (*sparse.CSR, error) {
	return r.sparseValues(sg, func(int) (float64, error) { return 1, nil })
}

// SparseWeights reads variable name of a sparse synapse group at every
// existing synapse of batch
func (r *Runtime) SparseWeights(sg *model.SynapseGroup, name string, batch int) (*sparse.CSR, error) {
	v, err := r.Array(sg.Name, name)
	if err != nil {
		return nil, err
	}
	offset, err := r.synapseBatchOffset(sg, v, batch)
	if err != nil {
		return nil, err
	}
	return r.sparseValues(sg, func(syn int) (float64, error) { return v.Get(offset + syn) })
}

func (r *Runtime) sparseValues(sg *model.SynapseGroup, value func(syn int) (float64, error)) (*sparse.CSR, error) {
	if !sg.IsSparse() {
		return nil, errors.Errorf("synapse group '%s' does not have sparse connectivity", sg.Name)
	}
	rowLength, err := r.Array(sg.Name, "rowLength")
	if err != nil {
		return nil, err
	}
	ind, err := r.Array(sg.Name, "ind")
	if err != nil {
		return nil, err
	}
	numPre, numPost := sg.Source.NumNeurons, sg.Target.NumNeurons
	rowStride := r.b.SynapticMatrixRowStride(sg)

	type entry struct {
		col int
		val float64
	}
	ia := make([]int, 1, numPre+1)
	var ja []int
	var data []float64
	for i := 0; i < numPre; i++ {
		n, err := rowLength.Get(i)
		if err != nil {
			return nil, err
		}
		row := make([]entry, int(n))
		for k := range row {
			syn := i*rowStride + k
			j, err := ind.Get(syn)
			if err != nil {
				return nil, err
			}
			v, err := value(syn)
			if err != nil {
				return nil, err
			}
			row[k] = entry{col: int(j), val: v}
		}
		sort.Slice(row, func(a, b int) bool { return row[a].col < row[b].col })
		for _, e := range row {
			ja = append(ja, e.col)
			data = append(data, e.val)
		}
		ia = append(ia, len(ja))
	}
	return sparse.NewCSR(numPre, numPost, ia, ja, data), nil
}

// SetDenseWeights writes w into variable name of a dense synapse group for batch
func (r *Runtime) SetDenseWeights(sg *model.SynapseGroup, name string, batch int, w mat.Matrix) error {
	v, offset, err := r.denseVar(sg, name, batch)
	if err != nil {
		return err
	}
	rows, cols := w.Dims()
	if rows != sg.Source.NumNeurons || cols != sg.Target.NumNeurons {
		return errors.Errorf("weights of synapse group '%s' must be %dx%d, not %dx%d",
			sg.Name, sg.Source.NumNeurons, sg.Target.NumNeurons, rows, cols)
	}
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if err := v.Set(offset+i*cols+j, w.At(i, j)); err != nil {
				return err
			}
		}
	}
	return nil
}

// DenseWeights reads variable name of a dense synapse group for batch
func (r *Runtime) DenseWeights(sg *model.SynapseGroup, name string, batch int) (*mat.Dense, error) {
	v, offset, err := r.denseVar(sg, name, batch)
	if err != nil {
		return nil, err
	}
	rows, cols := sg.Source.NumNeurons, sg.Target.NumNeurons
	w := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			x, err := v.Get(offset + i*cols + j)
			if err != nil {
				return nil, err
			}
			w.Set(i, j, x)
		}
	}
	return w, nil
}

func (r *Runtime) denseVar(sg *model.SynapseGroup, name string, batch int) (*Array, int, error) {
	if !sg.IsDense() || !sg.HasIndividualWeights() {
		return nil, 0, errors.Errorf("synapse group '%s' does not have dense individual weights", sg.Name)
	}
	v, err := r.Array(sg.Name, name)
	if err != nil {
		return nil, 0, err
	}
	offset, err := r.synapseBatchOffset(sg, v, batch)
	return v, offset, err
}

// synapseBatchOffset is the first element of batch in a weight update
// variable, zero for variables shared across batches
func (r *Runtime) synapseBatchOffset(sg *model.SynapseGroup, v *Array, batch int) (int, error) {
	if batch < 0 || batch >= r.m.BatchSize {
		return 0, errors.Errorf("batch %d out of range for batch size %d", batch, r.m.BatchSize)
	}
	perBatch := sg.Source.NumNeurons * r.b.SynapticMatrixRowStride(sg)
	if v.Count() <= perBatch {
		return 0, nil
	}
	return batch * perBatch, nil
}
