package main

import "snapsched/internal/cmd"

func main() {
	cmd.Execute()
}
