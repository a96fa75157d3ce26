package main

import "github.com/mihaisavezi/chat-proxy/cmd"

func main() {
	cmd.Execute()
}
