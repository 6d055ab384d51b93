// Package dmt is the public API of the deterministic multithreading
// runtime, a thin wrapper package sitting over internal/dmt/runtime.
//
// A compiler instrumentation pass (or, short of that, hand instrumentation)
// calls Init once at process startup, then calls the wrapper function
// matching each intercepted synchronization primitive in place of the
// primitive itself, and calls Fini at exit. When the runtime is disabled
// (Init never called, or called with a Config whose DMT field is false),
// every wrapper is a no-op passthrough, so an instrumented binary remains
// runnable standalone.
//
// Every wrapper except SetBaseTimespec and SetBaseTimeval takes an
// instructionID uint32 first, used to correlate event-log records back
// to source locations, and an *int32 errno out-parameter second, since
// Go has no global errno; the wrappers that can time out set it to
// ETIMEDOUT on expiry.
package dmt
