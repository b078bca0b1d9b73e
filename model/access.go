package model

// VarAccessMode flags describe how generated code may touch a variable
type VarAccessMode int

const (
	AccessRead VarAccessMode = 1 << iota
	AccessWrite
	AccessReduce
	AccessSum
	AccessMax
)

const (
	ReadOnly  = AccessRead
	ReadWrite = AccessRead | AccessWrite
	ReduceSum = AccessReduce | AccessSum
	ReduceMax = AccessReduce | AccessMax
)

// IsReadOnly reports whether code can only read the variable
func (m VarAccessMode) IsReadOnly() bool {
	return m&(AccessWrite|AccessReduce) == 0
}

// IsReduction reports whether the variable is a reduction target
func (m VarAccessMode) IsReduction() bool {
	return m&AccessReduce != 0
}

// ReductionOperation names the combine operator of a reduction access mode
type ReductionOperation int

const (
	ReductionNone ReductionOperation = iota
	ReductionSum
	ReductionMax
)

func (m VarAccessMode) ReductionOperation() ReductionOperation {
	switch {
	case m&AccessReduce == 0:
		return ReductionNone
	case m&AccessMax != 0:
		return ReductionMax
	default:
		return ReductionSum
	}
}

// VarAccessDim flags describe which axes a variable is duplicated over
type VarAccessDim int

const (
	DimElement VarAccessDim = 1 << iota
	DimBatch
)

// DimAll is the default shape for state variables
const DimAll = DimElement | DimBatch

func (d VarAccessDim) Has(o VarAccessDim) bool {
	return d&o != 0
}

// VarLocation flags say where the storage for an array lives
type VarLocation int

const (
	LocationHost VarLocation = 1 << iota
	LocationDevice
	LocationZeroCopy

	LocationHostDevice = LocationHost | LocationDevice
)
