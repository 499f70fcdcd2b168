package ios

import (
	"github.com/lufia/iostat"
)

// DiskSample is a point-in-time disk IO sample surfaced in local-du's
// diagnostic details (§4.3 "details" of the computeUsage result).
type DiskSample struct {
	Name        string
	ReadBytes   uint64
	WrittenBytes uint64
}

// SampleDisks returns one sample per device lufia/iostat can see on this
// host. It never errors hard: a platform lufia/iostat doesn't support
// yields an empty slice so local-du's main result is never blocked on it.
func SampleDisks() []DiskSample {
	drives, err := iostat.ReadDriveStats()
	if err != nil {
		return nil
	}
	out := make([]DiskSample, 0, len(drives))
	for _, d := range drives {
		out = append(out, DiskSample{
			Name:         d.Name,
			ReadBytes:    uint64(d.BytesRead),
			WrittenBytes: uint64(d.BytesWritten),
		})
	}
	return out
}
