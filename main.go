package main

import (
	"github.com/superfluid-org/super-rpc/cmd"
)

func main() {
	cmd.Execute()
}
