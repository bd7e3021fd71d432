// Command quic-lab runs the QUIC/HTTP/3 measurement engine described in
// spec.md: runner [config_path].
package main

import (
	"os"

	"github.com/QUIC-Lab/quic-lab/internal/cmd"
)

func main() {
	os.Exit(cmd.Main(os.Args[1:]))
}
