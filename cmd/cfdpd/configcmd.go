package main

import (
	"fmt"
	"io"
	"os"

	"github.com/danmuck/cfdp/internal/config"
	"github.com/urfave/cli"
)

func runConfigInit(c *cli.Context) error {
	path, err := requireArg(c, "PATH")
	if err != nil {
		return err
	}
	if err := config.WriteTemplate(path, c.Bool("force")); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "wrote %s\n", path)
	return nil
}

func runConfigValidate(c *cli.Context) error {
	path, err := requireArg(c, "PATH")
	if err != nil {
		return err
	}
	cfg, warnings, err := config.Load(path)
	if err != nil {
		return err
	}
	for _, w := range warnings {
		fmt.Fprintf(errWriter(c), "warning: %s\n", w)
	}
	out, err := config.Render(cfg)
	if err != nil {
		return err
	}
	_, err = c.App.Writer.Write(out)
	return err
}

func errWriter(c *cli.Context) io.Writer {
	if c.App.ErrWriter != nil {
		return c.App.ErrWriter
	}
	return os.Stderr
}
