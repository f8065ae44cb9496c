// Command kagami plays legacy multimedia movies.
package main

import (
	"embed"
	"fmt"
	"io"
	"os"

	"github.com/zurustar/kagami/pkg/app"
)

//go:embed titles soundfonts
var embedded embed.FS

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	if err := app.New(embedded).Run(args); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
