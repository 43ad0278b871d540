package main

import (
	"os"

	"github.com/sirupsen/logrus"
)

var log = logrus.StandardLogger()

func main() {
	commandInit()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
