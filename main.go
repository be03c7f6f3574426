// Package main is the entry point of the ASN lookup service.
package main

import (
	"os"

	"github.com/gtriggiano/asn-lookup-service/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
