// Package manifest provides experimental declarative asset loading for hotreload.
//
// Reconciler is the core type and performs:
// 1. hash every declared asset
// 2. diff against the previously applied declarations
// 3. prewarm added and changed assets by loading them
// 4. apply to the store only if every prewarm succeeded
// 5. remove assets that are no longer declared, closing their content
//
// This package is EXPERIMENTAL and its API may change before v1.
package manifest
