// Command htsimctl is an admin/control client for htsimd: it installs
// forwarding rules, reads device counters, and queries the path engine
// over the admin HTTP API.
package main

import "github.com/ngvozdiev/htsim/cmd/htsimctl/commands"

func main() {
	commands.Execute()
}
