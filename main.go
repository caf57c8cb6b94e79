package main

import "github.com/sergev/drawbridge/cmd"

func main() {
	cmd.Execute()
}
