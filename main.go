// Command syncctl drives one usersync engine instance from the shell.
package main

import "usersync/cmd/syncctl"

// version is overridden at build time via -ldflags.
var version = "dev"

func main() {
	syncctl.SetVersion(version)
	syncctl.Execute()
}
