// Package mirror implements the dependency resolution and fetch pipeline.
//
// A mirror run flows one way: seeds (explicit specs, a manifest file, or
// the registry's most popular packages) are turned into a root manifest;
// the [Resolver] walks the transitive dependency graph against the
// registry and produces a flat de-duplicated set of resolved packages;
// the [Downloader] writes each package's tarball into the destination
// directory. The [Pipeline] wires the stages together and owns the
// run-level bookkeeping.
//
// Concurrency model: the resolver fetches the sibling edges of one
// manifest in parallel (bounded) and recurses sequentially across the
// fetched manifests in arrival order, so a parent is always emitted
// before any of its descendants. The downloader settles all tarballs
// with bounded parallelism. De-duplication is two-tier: an in-memory
// [Visited] set suppresses re-traversal within a run, and a durable
// tarball index (pkg/cache) suppresses re-downloads across runs.
package mirror
