package main

import "github.com/mossy-p/webrtc-meet/internal/cli"

func main() {
	cli.Execute()
}
