package main

import (
	"github.com/sirupsen/logrus"

	"github.com/packdock/packdock/registry"
	_ "github.com/packdock/packdock/registry/storage/driver/filesystem"
	_ "github.com/packdock/packdock/registry/storage/driver/inmemory"
)

func main() {
	if err := registry.RootCmd.Execute(); err != nil {
		logrus.Fatalln(err)
	}
}
