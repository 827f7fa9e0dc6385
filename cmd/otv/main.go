package main

import "github.com/OpenTraceLab/OpenTraceVISA/cmd/otv/cmd"

func main() {
	cmd.Execute()
}
