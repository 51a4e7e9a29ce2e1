package main

import "github.com/Davide9292/v-try.app-sub001/services/worker/cli"

func main() {
	cli.Execute()
}
