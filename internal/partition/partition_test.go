package partition_test

import (
	"net/url"
	"testing"

	"github.com/osint-platform/crawler-core/internal/partition"
	"github.com/stretchr/testify/assert"
)

func mustParse(t *testing.T, raw string) url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("invalid url %q: %v", raw, err)
	}
	return *u
}

func TestPartitioner_DisabledForSingleWorker(t *testing.T) {
	p := partition.New(0, 1)
	assert.True(t, p.ShouldProcess(mustParse(t, "https://example.com/a")))
	assert.True(t, p.ShouldProcess(mustParse(t, "https://example.com/b")))
}

func TestPartitioner_ExactlyOneWorkerOwnsEachURL(t *testing.T) {
	const totalWorkers = 4
	urls := []string{
		"https://example.com/a",
		"https://example.com/b",
		"https://example.com/c",
		"https://example.com/d",
		"https://example.com/e",
		"https://example.com/f",
	}

	partitioners := make([]partition.Partitioner, totalWorkers)
	for i := range partitioners {
		partitioners[i] = partition.New(i, totalWorkers)
	}

	for _, raw := range urls {
		u := mustParse(t, raw)
		owners := 0
		for _, p := range partitioners {
			if p.ShouldProcess(u) {
				owners++
			}
		}
		assert.Equal(t, 1, owners, "url %s should be owned by exactly one worker", raw)
	}
}

func TestPartitioner_DeterministicAcrossCalls(t *testing.T) {
	p := partition.New(2, 5)
	u := mustParse(t, "https://example.com/stable")
	first := p.ShouldProcess(u)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, p.ShouldProcess(u))
	}
}

func TestPartitioner_CanonicalizationAffectsAssignment(t *testing.T) {
	const totalWorkers = 4
	p := partition.New(0, totalWorkers)

	// Same canonical identity (default port made explicit) must land on
	// the same worker.
	a := mustParse(t, "https://example.com:443/path")
	b := mustParse(t, "https://example.com/path")

	assert.Equal(t, p.ShouldProcess(a), p.ShouldProcess(b))
}
