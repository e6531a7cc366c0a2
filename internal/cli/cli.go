// Package cli implements the packmule command-line interface.
//
// Commands:
//   - mirror: resolve a wanted set of packages and download their tarballs
//   - publish: republish a mirror directory against a private registry
//   - bundle: pack a mirror directory into a single archive (and back)
//   - cache: manage the HTTP response cache and the tarball index
//
// All commands support --verbose (-v) for debug-level logging. Loggers
// are passed through context.Context so library packages stay free of
// logging globals.
package cli
