// Package dedupgo implements an incremental semantic deduplication index.
//
// Each ingested text item is embedded, compared against the items already
// indexed, and either joins the best-matching existing cluster or founds a
// new one. Decisions are permanent: items never move between clusters, and
// cluster centroids never change. Every decision is committed durably as a
// generation-numbered snapshot before it is applied in memory, so a crash at
// any point leaves the state directory at the last complete generation and a
// re-run of the same batch converges to the same result.
//
// The entry point is Open with a Config and an embedding.Embedder; the flat
// exact-search backend is the default and can be swapped via WithIndex.
package dedupgo
