package schedule

import (
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/teranos/keywatch/errors"
)

const bytesPerGB = 1024 * 1024 * 1024

// systemMemory is host memory usage shown in ticker stats
type systemMemory struct {
	UsedGB  float64
	TotalGB float64
	Percent float64
}

func readSystemMemory() (systemMemory, error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return systemMemory{}, errors.Wrap(err, "failed to get memory stats")
	}

	used := v.Total - v.Available
	return systemMemory{
		UsedGB:  float64(used) / bytesPerGB,
		TotalGB: float64(v.Total) / bytesPerGB,
		Percent: v.UsedPercent,
	}, nil
}
