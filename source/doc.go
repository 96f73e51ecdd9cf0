// Package source provides file-backed hot reload sources.
//
// A File compares the modification time and size reported by os.Stat with
// the ones of its last successful load, so NeedsReload never reads content.
// Content is decoded with a Format; JSON, YAML, TOML and raw bytes are built in
// and further formats can be registered by name and file extension.
package source
