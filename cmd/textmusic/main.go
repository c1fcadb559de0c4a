package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
)

var version = "dev"

func main() {
	if err := execute(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "textmusic: %s\n", err.Error())
		os.Exit(1)
	}
}

var configFlag = cli.StringFlag{
	Name:   "config, c",
	Usage:  "path to a YAML config file",
	EnvVar: "TEXTMUSIC_CONFIG",
}

func execute(args []string) error {
	app := cli.App{
		Name:      "textmusic",
		HelpName:  "textmusic",
		Usage:     "turn text into music and back",
		Version:   version,
		UsageText: "textmusic [--config FILE] <command> [arguments...]",
		Flags:     []cli.Flag{configFlag},
		Commands: []cli.Command{
			{
				Name:      "encode",
				Aliases:   []string{"e"},
				Usage:     "encode text into music",
				ArgsUsage: "TEXT",
				Action:    encodeCmd,
				Flags: []cli.Flag{
					cli.StringFlag{Name: "out, o", Usage: "save the generated MIDI file into `DIR`"},
				},
			},
			{
				Name:      "decode",
				Aliases:   []string{"d"},
				Usage:     "recover the text hidden in a MIDI file",
				ArgsUsage: "FILE.mid",
				Action:    decodeCmd,
			},
			{
				Name:      "play",
				Aliases:   []string{"p"},
				Usage:     "encode text and play it with a phoneme cursor",
				ArgsUsage: "TEXT",
				Action:    playCmd,
				Flags: []cli.Flag{
					cli.BoolFlag{Name: "plain", Usage: "print phonemes as they sound instead of drawing the player"},
				},
			},
			{
				Name:      "render",
				Usage:     "encode text and render it to a WAV file",
				ArgsUsage: "TEXT",
				Action:    renderCmd,
				Flags: []cli.Flag{
					cli.StringFlag{Name: "out, o", Value: "textmusic.wav", Usage: "output `FILE`"},
					cli.Float64Flag{Name: "tail", Value: 1, Usage: "seconds of audio after the last note"},
					cli.BoolFlag{Name: "float", Usage: "write 32-bit float samples instead of 16-bit PCM"},
				},
			},
			{
				Name:   "history",
				Usage:  "show journal entries",
				Action: historyCmd,
				Flags: []cli.Flag{
					cli.IntFlag{Name: "limit, n", Value: 20, Usage: "number of entries"},
					cli.DurationFlag{Name: "prune", Usage: "delete entries older than this before listing"},
				},
			},
		},
	}
	return app.Run(args)
}
