package main

import "github.com/kozaktomas/candy-kiosk/cmd"

func main() {
	cmd.Execute()
}
