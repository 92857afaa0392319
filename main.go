package main

import "anclora/cmd"

func main() {
	cmd.Execute()
}
