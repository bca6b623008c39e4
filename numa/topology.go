// ════════════════════════════════════════════════════════════════════════════════════════════════
// NUMA TOPOLOGY
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Component: Node Discovery & Thread Placement
//
// Description:
//   Discovers which logical CPUs belong to which NUMA node from sysfs and maps worker thread ids
//   onto nodes. The mapping is a pure function of the configured CPU and node counts so that a
//   thread's elimination array and request slot land on the same node it is pinned to.
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package numa

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"numastack/utils"
)

// SysfsNodeRoot is where the kernel exposes NUMA nodes.
const SysfsNodeRoot = "/sys/devices/system/node"

// ErrNoSuchNode reports a node id outside the discovered topology.
var ErrNoSuchNode = errors.New("numa: no such node")

// Topology lists the CPUs of each NUMA node, indexed by node id.
type Topology struct {
	nodes [][]int
}

// NewTopology builds a topology from explicit per-node CPU lists.
func NewTopology(nodeCPUs [][]int) *Topology {
	nodes := make([][]int, len(nodeCPUs))
	for i, cpus := range nodeCPUs {
		nodes[i] = append([]int(nil), cpus...)
	}
	return &Topology{nodes: nodes}
}

// Uniform builds a synthetic topology of nodes × (cpus/nodes) contiguous CPU
// blocks, the layout the thread→node mapping assumes.
func Uniform(nodes, cpus int) *Topology {
	per := CPUsPerNode(cpus, nodes)
	nodeCPUs := make([][]int, nodes)
	for n := range nodeCPUs {
		for c := 0; c < per; c++ {
			nodeCPUs[n] = append(nodeCPUs[n], n*per+c)
		}
	}
	return &Topology{nodes: nodeCPUs}
}

// Discover reads the host topology from sysfs, falling back to a single node
// owning every CPU when sysfs has no node information.
func Discover() *Topology {
	t, err := discover(SysfsNodeRoot)
	if err != nil {
		return single()
	}
	return t
}

func single() *Topology {
	cpus := make([]int, runtime.NumCPU())
	for i := range cpus {
		cpus[i] = i
	}
	return &Topology{nodes: [][]int{cpus}}
}

func discover(root string) (*Topology, error) {
	online, err := os.ReadFile(filepath.Join(root, "online"))
	if err != nil {
		return nil, err
	}
	ids, err := utils.ParseCPUList(string(online))
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("numa: %s lists no nodes", root)
	}
	// Node ids may be sparse; index by id so NodeOf results stay valid.
	nodes := make([][]int, ids[len(ids)-1]+1)
	for _, id := range ids {
		raw, err := os.ReadFile(filepath.Join(root, fmt.Sprintf("node%d", id), "cpulist"))
		if err != nil {
			return nil, err
		}
		if nodes[id], err = utils.ParseCPUList(string(raw)); err != nil {
			return nil, err
		}
	}
	return &Topology{nodes: nodes}, nil
}

// Nodes returns the number of node ids (including empty, sparse ones).
func (t *Topology) Nodes() int {
	return len(t.nodes)
}

// CPUs returns the total number of CPUs across all nodes.
func (t *Topology) CPUs() int {
	n := 0
	for _, cpus := range t.nodes {
		n += len(cpus)
	}
	return n
}

// CPUsOf returns the CPUs of node.
func (t *Topology) CPUsOf(node int) ([]int, error) {
	if node < 0 || node >= len(t.nodes) || len(t.nodes[node]) == 0 {
		return nil, fmt.Errorf("%w: %d", ErrNoSuchNode, node)
	}
	return t.nodes[node], nil
}

// CPUsPerNode is cpus/nodes, at least 1.
func CPUsPerNode(cpus, nodes int) int {
	if nodes < 1 {
		return max(cpus, 1)
	}
	return max(cpus/nodes, 1)
}

// NodeOf maps a worker thread id to its NUMA node:
// (tid / (cpus / nodes)) mod nodes.
func NodeOf(tid, cpus, nodes int) int {
	if nodes < 1 {
		return 0
	}
	return (tid / CPUsPerNode(cpus, nodes)) % nodes
}
