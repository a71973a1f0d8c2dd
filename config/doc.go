// Package config loads wasm-bridge.toml files.
//
// A file overrides the defaults returned by Default. Memory and asset sizes
// accept human units ("256MiB", "64m"). Watch reloads the file on change;
// only the log level and the frame rate take effect on a running runtime.
//
//	[module]
//	path = "game.wasm"
//	memory_limit = "256MiB"
//
//	[frame]
//	fps = 60
//
//	[fetch]
//	root = "assets"
//	allowed_hosts = ["cdn.example.com"]
//
//	[storage]
//	path = "saves.db"
package config
