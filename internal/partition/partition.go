// Package partition implements deterministic shard assignment across a
// fixed number of workers, so a distributed crawl can split the frontier
// without any cross-worker coordination.
package partition

import (
	"encoding/binary"
	"net/url"
	"strconv"
	"strings"

	"github.com/osint-platform/crawler-core/pkg/urlutil"
	"lukechampine.com/blake3"
)

// Partitioner decides whether this worker owns a given URL.
// should_process(url) == H(canonical(url)) mod total_workers == worker_id_index.
// Disabled (always true) when totalWorkers <= 1.
type Partitioner struct {
	workerIndex  int
	totalWorkers int
}

// New builds a Partitioner for workerIndex of totalWorkers. workerIndex
// is expected to be in [0, totalWorkers).
func New(workerIndex, totalWorkers int) Partitioner {
	return Partitioner{workerIndex: workerIndex, totalWorkers: totalWorkers}
}

// ShouldProcess reports whether u is assigned to this worker.
func (p Partitioner) ShouldProcess(u url.URL) bool {
	if p.totalWorkers <= 1 {
		return true
	}
	canonical := urlutil.Canonicalize(u)
	h := hashString(canonical.String())
	return int(h%uint64(p.totalWorkers)) == p.workerIndex
}

func hashString(s string) uint64 {
	digest := blake3.Sum256([]byte(s))
	return binary.BigEndian.Uint64(digest[:8])
}

// IndexFromWorkerID extracts the numeric suffix from a worker id of the
// form "worker-N" (the config default naming scheme). Any id that does
// not end in digits is treated as index 0.
func IndexFromWorkerID(id string) int {
	i := strings.LastIndexByte(id, '-')
	if i == -1 || i == len(id)-1 {
		return 0
	}
	n, err := strconv.Atoi(id[i+1:])
	if err != nil {
		return 0
	}
	return n
}
