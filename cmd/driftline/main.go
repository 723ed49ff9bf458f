// Command driftline runs the insider-risk telemetry pipeline.
package main

import "github.com/driftline/driftline/cmd/driftline/cmd"

func main() {
	cmd.Execute()
}
