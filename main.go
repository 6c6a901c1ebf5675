package main

import (
	"github.com/BioHazard786/ShareAudio/cmd"
)

func main() {
	cmd.Execute()
}
