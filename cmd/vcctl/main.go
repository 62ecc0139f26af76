// Command vcctl sends one render command to a voxelcast server over its
// websocket and prints the result.
package main

func main() {
	Execute()
}
