// Package entitlements stores module toggles and produces effective module
// configuration.
//
// The tenant entitlement is the master switch; per-user overrides refine it
// for junior ranks. The merge pipeline layers module defaults, industry
// presets, and tenant limits into one document.
package entitlements
