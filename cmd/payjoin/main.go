// Command payjoin is the receiver-side CLI around internal/receive's
// typestate pipeline (spec §6 "CLI surface"): enroll a session, wait for a
// sender's proposal over the v2 transport, drive it through the checks a
// receiver must apply, and hand the signed result back.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "receive":
		err = runReceiveCmd(os.Args[2:])
	case "receive-batch":
		err = runReceiveBatchCmd(os.Args[2:])
	case "send":
		err = runSendCmd(os.Args[2:])
	case "resume":
		err = runResumeCmd(os.Args[2:])
	case "-h", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "payjoin: unknown subcommand %q\n", os.Args[1])
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "payjoin %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  payjoin receive <amount_sats>
  payjoin receive-batch <amount_sats_per_sender> <n_senders> [--daemon-port N]
  payjoin send <bip21> --fee-rate F [--retry]
  payjoin resume [--daemon-port N]`)
}

func runReceiveCmd(args []string) error {
	fs := flag.NewFlagSet("receive", flag.ContinueOnError)
	daemonPort := fs.Int("daemon-port", 0, "if nonzero, also serve the operator HTTP/WS API on this port")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: payjoin receive <amount_sats>")
	}
	var amountSats int64
	if _, err := fmt.Sscanf(fs.Arg(0), "%d", &amountSats); err != nil || amountSats <= 0 {
		return fmt.Errorf("invalid amount_sats %q", fs.Arg(0))
	}
	return runReceive(amountSats, *daemonPort)
}

func runReceiveBatchCmd(args []string) error {
	fs := flag.NewFlagSet("receive-batch", flag.ContinueOnError)
	daemonPort := fs.Int("daemon-port", 0, "if nonzero, also serve the operator HTTP/WS API on this port")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("usage: payjoin receive-batch <amount_sats_per_sender> <n_senders>")
	}
	var amountSats int64
	if _, err := fmt.Sscanf(fs.Arg(0), "%d", &amountSats); err != nil || amountSats <= 0 {
		return fmt.Errorf("invalid amount_sats_per_sender %q", fs.Arg(0))
	}
	var n int
	if _, err := fmt.Sscanf(fs.Arg(1), "%d", &n); err != nil || n < 2 {
		return fmt.Errorf("invalid n_senders %q, must be an integer >= 2", fs.Arg(1))
	}
	return runReceiveBatch(amountSats, n, *daemonPort)
}

func runResumeCmd(args []string) error {
	fs := flag.NewFlagSet("resume", flag.ContinueOnError)
	daemonPort := fs.Int("daemon-port", 0, "if nonzero, also serve the operator HTTP/WS API on this port")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return runResume(*daemonPort)
}

func runSendCmd(args []string) error {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	feeRate := fs.Float64("fee-rate", 0, "fee rate in sat/vB")
	retry := fs.Bool("retry", false, "retry the original transaction broadcast if the payjoin round fails")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: payjoin send <bip21> --fee-rate F [--retry]")
	}
	return runSend(fs.Arg(0), *feeRate, *retry)
}
