// Command deevent はDeEventのWebフロントエンドを起動する。
//
//	deevent [serve|worker|migrate|healthcheck|help]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/deevent/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "deevent: %v\n", err)
		os.Exit(1)
	}
}
