package main

import "github.com/Davide9292/v-try.app-sub001/services/sweeper/cli"

func main() {
	cli.Execute()
}
