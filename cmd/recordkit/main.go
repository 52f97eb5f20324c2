// Command recordkit inspects and moves the tables of a recordkit store.
package main

import "github.com/mesh-intelligence/recordkit/internal/cli"

func main() {
	cli.Execute()
}
