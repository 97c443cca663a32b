// Command sandboxctl is the host-side control-plane CLI.
package main

import "github.com/sandboxagent/core/cmd"

func main() {
	cmd.Execute()
}
