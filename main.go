// File: main.go
package main

import (
	"github.com/xkilldash9x/airwork-authcheck/cmd"
)

func main() {
	cmd.Execute()
}
