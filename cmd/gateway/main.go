package main

import "github.com/Davide9292/v-try.app-sub001/services/gateway/cli"

func main() {
	cli.Execute()
}
