// Command portmapctl is the read-only companion CLI for portmapd's admin
// HTTP surface (internal/admin): list live connections/sessions and the
// traffic stats snapshot.
//
// Grounded on the teacher's cmd/gobfdctl/main.go, a one-line entry point
// that defers the whole command tree to a commands package.
package main

import "github.com/vanenet/portmapd/cmd/portmapctl/commands"

func main() {
	commands.Execute()
}
