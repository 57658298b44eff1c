// Command sonetd runs the messaging core server: the realtime hub, the
// messaging service and their supporting stores.
package main

import "sonet/cmd/sonetd/commands"

func main() {
	commands.Execute()
}
