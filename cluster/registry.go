package cluster

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/hupe1980/dedupgo/codec"
)

var (
	// ErrAlreadyAssigned is returned when an item would be reassigned to a
	// different cluster. Assignments are monotonic: once set, never changed.
	ErrAlreadyAssigned = errors.New("item already assigned to a different cluster")

	// ErrUnknownCluster is returned when an assignment references a cluster
	// that is not in the registry.
	ErrUnknownCluster = errors.New("unknown cluster")
)

// Registry is the in-memory view of the durable cluster table plus the
// item -> cluster assignment map. It is safe for concurrent readers; writes
// are expected to come from a single coordinator.
type Registry struct {
	mu          sync.RWMutex
	clusters    map[string]Cluster
	assignments map[string]string // item ID -> cluster ID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		clusters:    make(map[string]Cluster),
		assignments: make(map[string]string),
	}
}

// Get returns a copy of the cluster with the given ID.
func (r *Registry) Get(clusterID string) (Cluster, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clusters[clusterID]
	return c, ok
}

// Assignment returns the cluster ID the item is assigned to, if any.
func (r *Registry) Assignment(itemID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.assignments[itemID]
	return id, ok
}

// Apply stores the (possibly new, possibly updated) cluster record and
// records the item's assignment to it. Assignments are monotonic: applying
// the same item to the same cluster is a no-op, applying it to a different
// cluster is an error.
func (r *Registry) Apply(c Cluster, itemID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.assignments[itemID]; ok && existing != c.ID {
		return fmt.Errorf("%w: item %q is in %q", ErrAlreadyAssigned, itemID, existing)
	}
	r.clusters[c.ID] = c
	r.assignments[itemID] = c.ID
	return nil
}

// Len returns the number of clusters.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clusters)
}

// Assignments returns the number of assigned items.
func (r *Registry) Assignments() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.assignments)
}

// Clusters returns all clusters with at least minSize members, sorted by ID.
// minSize is a reporting-only filter; it never affects assignment.
func (r *Registry) Clusters(minSize int) []Cluster {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Cluster, 0, len(r.clusters))
	for _, c := range r.clusters {
		if c.MemberCount >= minSize {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// assignmentRecord is the persisted form of one item assignment.
type assignmentRecord struct {
	ItemID    string `json:"item_id"`
	ClusterID string `json:"cluster_id"`
}

// snapshot is the persisted form of the registry. Both slices are sorted so
// that encoding the same logical state always produces the same bytes.
type snapshot struct {
	Clusters    []Cluster          `json:"clusters"`
	Assignments []assignmentRecord `json:"assignments"`
}

// EncodeTo writes the registry in its stable serialized form.
//
// A staged mutation (updated cluster record plus the item joining it) can be
// overlaid without touching the live registry; this is how commits persist
// before they apply.
func (r *Registry) EncodeTo(w io.Writer, c codec.Codec, staged *Cluster, stagedItemID string) error {
	if c == nil {
		c = codec.Default
	}

	r.mu.RLock()
	snap := snapshot{
		Clusters:    make([]Cluster, 0, len(r.clusters)+1),
		Assignments: make([]assignmentRecord, 0, len(r.assignments)+1),
	}
	for id, cl := range r.clusters {
		if staged != nil && id == staged.ID {
			continue
		}
		snap.Clusters = append(snap.Clusters, cl)
	}
	for item, clusterID := range r.assignments {
		snap.Assignments = append(snap.Assignments, assignmentRecord{ItemID: item, ClusterID: clusterID})
	}
	r.mu.RUnlock()

	if staged != nil {
		snap.Clusters = append(snap.Clusters, *staged)
	}
	if stagedItemID != "" && staged != nil {
		snap.Assignments = append(snap.Assignments, assignmentRecord{ItemID: stagedItemID, ClusterID: staged.ID})
	}

	sort.Slice(snap.Clusters, func(i, j int) bool { return snap.Clusters[i].ID < snap.Clusters[j].ID })
	sort.Slice(snap.Assignments, func(i, j int) bool {
		return snap.Assignments[i].ItemID < snap.Assignments[j].ItemID
	})

	data, err := c.Marshal(snap)
	if err != nil {
		return fmt.Errorf("registry: encode failed: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	return nil
}

// DecodeFrom replaces the registry content with the serialized form read from r.
func (r *Registry) DecodeFrom(rd io.Reader, c codec.Codec) error {
	if c == nil {
		c = codec.Default
	}

	data, err := io.ReadAll(rd)
	if err != nil {
		return err
	}

	var snap snapshot
	if err := c.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("registry: decode failed: %w", err)
	}

	clusters := make(map[string]Cluster, len(snap.Clusters))
	for _, cl := range snap.Clusters {
		clusters[cl.ID] = cl
	}
	assignments := make(map[string]string, len(snap.Assignments))
	for _, a := range snap.Assignments {
		if _, ok := clusters[a.ClusterID]; !ok {
			return fmt.Errorf("%w: assignment %q -> %q", ErrUnknownCluster, a.ItemID, a.ClusterID)
		}
		assignments[a.ItemID] = a.ClusterID
	}

	r.mu.Lock()
	r.clusters = clusters
	r.assignments = assignments
	r.mu.Unlock()
	return nil
}
