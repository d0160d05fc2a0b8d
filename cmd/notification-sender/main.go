package main

import (
	"os"

	"github.com/lupppig/notifysender/cmd/notification-sender/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
