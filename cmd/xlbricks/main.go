// Command xlbricks stores spreadsheet ranges as named, nested bricks.
package main

import "github.com/mesh-intelligence/xlbricks/internal/cli"

func main() {
	cli.Execute()
}
