package cmd

import "fmt"

// consoleWriter is the command output sink. Tests swap it out to capture
// what a command prints.
var consoleWriter consolePrinter = stdoutPrinter{}

type consolePrinter interface {
	Println(a ...any)
}

type stdoutPrinter struct{}

func (stdoutPrinter) Println(a ...any) {
	fmt.Println(a...)
}
