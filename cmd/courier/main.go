package main

import "github.com/hallmarket/courier/cmd/courier/commands"

func main() {
	commands.Execute()
}
