// Package hotreload coordinates per-frame hot reloading of loaded assets.
//
// It offers:
// - one process-wide Strategy (periodic, triggered or disabled) turned into a single-frame reload pulse
// - a StrategyTicker stepping the strategy from a frame Clock once per frame
// - the Source/Attempt capability any asset loader implements to take part in hot reload
// - a Store that swaps in fresh content and keeps the previous content on failure
// - a Registry running the reload pass of every attached store on due frames
package hotreload
