package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/harmonize-tools/mosaic-utils/internal/crop"
	"github.com/harmonize-tools/mosaic-utils/internal/cut"
	"github.com/harmonize-tools/mosaic-utils/internal/footprint"
	"github.com/harmonize-tools/mosaic-utils/internal/info"
	"github.com/harmonize-tools/mosaic-utils/internal/preview"
)

type command struct {
	name        string
	description string
	run         func(*flag.FlagSet, []string)
}

var subCommands []command

func init() {
	subCommands = []command{
		{"crop", "Crop the empty margins off a drone mosaic.", crop.Run},
		{"footprint", "Write the mapped-area outline of a mosaic as GeoJSON.", footprint.Run},
		{"cut", "Cut a mosaic along a GeoJSON cutline.", cut.Run},
		{"info", "Print mosaic metadata.", info.Run},
		{"preview", "Render a PNG preview of a mosaic.", preview.Run},
		{"help", "Print this message.", func(s *flag.FlagSet, args []string) { printUsage() }},
	}
}

func printUsage() {
	fmt.Printf("USAGE:\n    %s [SUBCOMMAND] [SUBCOMMAND FLAGS]\n\n", os.Args[0])
	fmt.Print("SUBCOMMANDS: \n")

	for i := 0; i < len(subCommands); i++ {
		name := subCommands[i].name

		fmt.Printf("%12s    %s\n", name, subCommands[i].description)
	}

	fmt.Printf("\nUse -h as SUBCOMMAND FLAG to print help for each subcommand.\n\n")
}

func main() {

	if len(os.Args) < 2 {
		fmt.Printf("\nERROR: No subcommand was provided.\n\n")
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	// a bare flag list runs the cropper, so the tool can be invoked as
	// mosaic-utils --mosaic_image ... --threshold_area ...
	if strings.HasPrefix(cmd, "-") {
		cmd = "crop"
		args = os.Args[1:]
	}

	for i := 0; i < len(subCommands); i++ {
		if subCommands[i].name == cmd {
			set := flag.NewFlagSet(cmd, flag.ExitOnError)
			subCommands[i].run(set, args)
			return
		}
	}

	fmt.Printf("\nERROR: Subcommand '%s' was not found.\n\n", cmd)
	printUsage()
	os.Exit(1)
}
