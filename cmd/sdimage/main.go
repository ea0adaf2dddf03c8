package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "sdimage",
		Usage: "Create and inspect randomly accessible compressed SD card images",
		Commands: []*cli.Command{
			{
				Name:      "compress",
				Usage:     "Compress a raw image",
				Action:    compressImage,
				ArgsUsage: "RAW_IMAGE  OUTPUT",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "layout",
						Value: "rle",
						Usage: "directory layout: rle, offsets, or sector",
					},
					&cli.StringFlag{
						Name:  "format",
						Usage: "slug of a known format; overrides --layout",
					},
					&cli.BoolFlag{
						Name:    "verbose",
						Aliases: []string{"v"},
						Usage:   "log every page as it's written",
					},
				},
			},
			{
				Name:      "decompress",
				Usage:     "Expand a compressed image back to the raw image",
				Action:    decompressImage,
				ArgsUsage: "IMAGE  OUTPUT",
			},
			{
				Name:      "info",
				Usage:     "Show the header and directory summary of a compressed image",
				Action:    showInfo,
				ArgsUsage: "IMAGE",
			},
			{
				Name:      "verify",
				Usage:     "Check that a compressed image decodes to the given raw image",
				Action:    verifyImage,
				ArgsUsage: "IMAGE  RAW_IMAGE",
			},
			{
				Name:   "formats",
				Usage:  "List the supported image formats",
				Action: listFormats,
			},
		},
	}
}

func main() {
	err := newApp().Run(os.Args)
	if err != nil {
		log.Fatalf("fatal error: %s", err.Error())
	}
}
