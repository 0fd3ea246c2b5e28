// Command quernd runs the iOS device-control and UI-automation server.
package main

import "github.com/devicelab-dev/quern/internal/cliapp"

func main() {
	cliapp.Execute()
}
