package idgen

import (
	"os"
	"strconv"

	"github.com/fundwit/go-commons/types"
	"github.com/sony/sonyflake"
)

// NewIdWorker builds a sonyflake worker. The machine id comes from IDGEN_MACHINE_ID,
// falling back to the process id so that hosts without a private address still work.
func NewIdWorker() *sonyflake.Sonyflake {
	return sonyflake.NewSonyflake(sonyflake.Settings{MachineID: machineID})
}

func NextID(idWorker *sonyflake.Sonyflake) types.ID {
	id, err := idWorker.NextID()
	if err != nil {
		panic(err)
	}
	return types.ID(id)
}

func machineID() (uint16, error) {
	if v := os.Getenv("IDGEN_MACHINE_ID"); v != "" {
		id, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			return 0, err
		}
		return uint16(id), nil
	}
	return uint16(os.Getpid()), nil
}

var processWorker = NewIdWorker()

// Next returns an id from the worker shared by the whole process. Separate workers with the
// same machine id would produce colliding ids.
func Next() types.ID {
	return NextID(processWorker)
}
