package main

import "github.com/mossy-p/webrtc-mesh/internal/cli"

func main() {
	cli.Execute()
}
