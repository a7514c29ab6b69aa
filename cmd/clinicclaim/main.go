// Command clinicclaim はクリニッククレームAPIサーバーとワーカーを起動する。
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/clinicclaim/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "clinicclaim: %v\n", err)
		os.Exit(1)
	}
}
