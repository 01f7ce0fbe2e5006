package main

import (
	"fmt"
	"os"

	cli "github.com/spf13/pflag"

	"airpiece/internal/ipc"
	"airpiece/internal/nlu"
)

func main() {
	socket := cli.StringP("socket", "s", ipc.DefaultSocketPath, "Control socket path")
	cli.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: airpiece-ctl [-s socket] <stop|shutdown|sleep|wake|mute|unmute|status|report>")
		cli.PrintDefaults()
	}
	cli.Parse()

	if cli.NArg() != 1 {
		cli.Usage()
		os.Exit(2)
	}

	cmd := cli.Arg(0)
	if _, err := nlu.ParseAction(cmd); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	resp, err := ipc.Send(*socket, ipc.Request{Cmd: cmd})
	if err != nil {
		fmt.Fprintln(os.Stderr, "airpiece-daemon not running:", err)
		os.Exit(1)
	}
	if !resp.OK {
		fmt.Fprintln(os.Stderr, resp.Error)
		os.Exit(1)
	}
	if resp.Text != "" {
		fmt.Println(resp.Text)
	}
}
