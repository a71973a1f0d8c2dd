// Command wasm-bridge runs, inspects and replays wasm compute modules.
package main

func main() {
	Execute()
}
