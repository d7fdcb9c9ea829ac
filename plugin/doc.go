// Package plugin defines the capability contracts third-party providers must
// implement and the registry that discovers and validates them.
//
// A provider implements Plugin (plus one of the typed driver interfaces in
// the stt, tts, or search packages) and runs inside an isolated worker
// process — a Satellite — supervised by the host. The registry only ever
// handles Descriptors; it never loads provider code into the host process.
//
// # Registration
//
//	reg := plugin.NewRegistry(log,
//	    plugin.NewStaticDiscoverer(descriptors...),
//	    plugin.NewBinaryDiscoverer("/usr/lib/orbit/plugins"),
//	)
//	if err := reg.Discover(ctx); err != nil { ... }
package plugin
