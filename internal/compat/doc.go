// Package compat is the host compatibility layer extensions run against.
//
// It provides the platform modules a bundle expects to find through require:
// the HttpSource base class and data models, a network bridge, Jsoup-style
// HTML parsing, a nested script engine, Android utility shims and
// per-source preferences. The Patcher redirects a bundle's direct platform
// references to the compat.* namespace during conversion.
package compat
