package main

import (
	"encoding/json"
	"fmt"
	"os"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "formula":
			formulaCmd(os.Args[2:])
			return
		case "give":
			giveCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		}
	}
	usage()
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  admin db [-data ./data] [-limit N] players|actions|battles|matches|audits|snapshots")
	fmt.Fprintln(os.Stderr, "  admin formula [-data ./data] list")
	fmt.Fprintln(os.Stderr, "  admin formula [-data ./data] set NAME EXPR")
	fmt.Fprintln(os.Stderr, "  admin give [-data ./data] -player ID [-gold N] [-item ID -count N]")
	fmt.Fprintln(os.Stderr, "  admin snapshot [-data ./data] ID")
	os.Exit(2)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
