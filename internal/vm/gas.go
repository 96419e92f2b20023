package vm

import "github.com/holiman/uint256"

// CostTable is a minimal protocol gas cost table, sufficient to populate
// Effects.gas_consumed and detect OutOfGas per SPEC_FULL's gas-accounting
// supplement. It does not attempt bit-exact metering fidelity, which §1's
// Non-goals explicitly excludes.
type CostTable struct {
	ComputePerCommand uint64
	StoragePerByte    uint64
	// StorageRebateBasisPoints is the fraction of storage cost rebated on
	// deletion, expressed in basis points (10000 = 100%).
	StorageRebateBasisPoints uint64
}

// DefaultCostTable returns a representative baseline cost table.
func DefaultCostTable() CostTable {
	return CostTable{
		ComputePerCommand:        1_000,
		StoragePerByte:           76,
		StorageRebateBasisPoints: 9900,
	}
}

// Estimate computes the total gas a replay consumed, given the number of
// executed commands and the total byte size of objects created or mutated.
// It uses uint256.Int accumulators for overflow-safe intermediate
// arithmetic, even though realistic inputs never approach 256 bits; both
// results are returned as uint64.
func Estimate(table CostTable, commandsExecuted int, touchedBytes int) (used uint64, storageRebate uint64) {
	compute := new(uint256.Int).Mul(
		uint256.NewInt(table.ComputePerCommand),
		uint256.NewInt(uint64(commandsExecuted)),
	)
	storage := new(uint256.Int).Mul(
		uint256.NewInt(table.StoragePerByte),
		uint256.NewInt(uint64(touchedBytes)),
	)
	rebate := new(uint256.Int).Div(
		new(uint256.Int).Mul(storage, uint256.NewInt(table.StorageRebateBasisPoints)),
		uint256.NewInt(10_000),
	)
	total := new(uint256.Int).Add(compute, storage)
	return total.Uint64(), rebate.Uint64()
}

// OutOfGas reports whether used exceeds budget.
func OutOfGas(used, budget uint64) bool {
	return used > budget
}
