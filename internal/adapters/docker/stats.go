package docker

import (
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/docker/docker/api/types"

	"github.com/melih/lighthouse-ctl/internal/core/domain"
)

// statsFeed decodes the daemon's stream of stats documents.
type statsFeed struct {
	body io.ReadCloser
	dec  *json.Decoder
}

func newStatsFeed(body io.ReadCloser) *statsFeed {
	return &statsFeed{body: body, dec: json.NewDecoder(body)}
}

// Next blocks until the daemon sends the next reading.
func (f *statsFeed) Next() (domain.StatsSample, error) {
	var v types.StatsJSON
	if err := f.dec.Decode(&v); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			err = io.EOF
		}
		return domain.StatsSample{}, err
	}
	return sampleFrom(&v), nil
}

func (f *statsFeed) Close() error {
	return f.body.Close()
}

// sampleFrom derives a reading the same way `docker stats` does.
func sampleFrom(v *types.StatsJSON) domain.StatsSample {
	s := domain.StatsSample{
		Read:        v.Read,
		OnlineCPUs:  v.CPUStats.OnlineCPUs,
		MemoryLimit: v.MemoryStats.Limit,
		Pids:        v.PidsStats.Current,
	}
	if s.OnlineCPUs == 0 {
		s.OnlineCPUs = uint32(len(v.CPUStats.CPUUsage.PercpuUsage))
	}

	cpuDelta := float64(v.CPUStats.CPUUsage.TotalUsage) - float64(v.PreCPUStats.CPUUsage.TotalUsage)
	sysDelta := float64(v.CPUStats.SystemUsage) - float64(v.PreCPUStats.SystemUsage)
	if cpuDelta > 0 && sysDelta > 0 {
		s.CPUPercent = cpuDelta / sysDelta * float64(s.OnlineCPUs) * 100
	}

	// Page cache is reclaimable and not reported as usage. cgroup v1 names it
	// total_inactive_file, v2 inactive_file.
	s.MemoryUsage = v.MemoryStats.Usage
	for _, key := range []string{"total_inactive_file", "inactive_file"} {
		if cache, ok := v.MemoryStats.Stats[key]; ok {
			if cache < s.MemoryUsage {
				s.MemoryUsage -= cache
			}
			break
		}
	}
	if s.MemoryLimit > 0 {
		s.MemoryPercent = float64(s.MemoryUsage) / float64(s.MemoryLimit) * 100
	}

	for _, n := range v.Networks {
		s.NetworkRx += n.RxBytes
		s.NetworkTx += n.TxBytes
	}
	for _, e := range v.BlkioStats.IoServiceBytesRecursive {
		switch strings.ToLower(e.Op) {
		case "read":
			s.BlockRead += e.Value
		case "write":
			s.BlockWrite += e.Value
		}
	}
	return s
}
