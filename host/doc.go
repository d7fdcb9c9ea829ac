// Package host assembles a provider host process: configuration loading,
// logging, the plugin registry, the capability router, and the admin server,
// all under one lifecycle. A daemon main is a config struct and a Run call.
package host
