// NTONIX is a high-performance reverse proxy for LLM inference traffic.
package main

func main() {
	Execute()
}
