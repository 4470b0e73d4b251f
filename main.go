package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"ftransfer/client"
	"ftransfer/server"
	"ftransfer/transfer"
	"ftransfer/watch"
)

// version is replaced at compile time using -X flag.
var version = "dev"

// exitInvalid is returned for malformed arguments.
const exitInvalid = int(syscall.EINVAL)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	code := run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

func usage(w io.Writer) {
	fmt.Fprintf(w, "Usage:\n")
	fmt.Fprintf(w, "  %s server [flags] <bind_address> <bind_port>\n", os.Args[0])
	fmt.Fprintf(w, "  %s client [flags] <server_address> <server_port> <file>...\n", os.Args[0])
	fmt.Fprintf(w, "  %s watch [flags] <server_address> <server_port> <directory>\n", os.Args[0])
}

func run(ctx context.Context, args []string) int {
	if len(args) == 0 {
		usage(os.Stdout)
		return 0
	}
	switch args[0] {
	case "server":
		return runServer(ctx, args[1:])
	case "client":
		return runClient(ctx, args[1:])
	case "watch":
		return runWatch(ctx, args[1:])
	case "version":
		fmt.Println(version)
		return 0
	}
	usage(os.Stderr)
	return exitInvalid
}

func runServer(ctx context.Context, args []string) int {
	cfg := server.DefaultConfig()
	flags := flag.NewFlagSet("server", flag.ContinueOnError)
	flags.StringVar(&cfg.DestDir, "dir", cfg.DestDir, "directory uploads are stored in")
	flags.IntVar(&cfg.MaxConns, "max-conns", cfg.MaxConns, "maximum simultaneous uploads")
	flags.IntVar(&cfg.BufferSize, "buffer", cfg.BufferSize, "receive buffer size in bytes")
	flags.BoolVar(&cfg.RemovePartial, "remove-partial", false, "delete files whose upload failed")
	verbose := flags.Bool("progress", false, "log upload progress")
	if err := flags.Parse(args); err != nil || flags.NArg() != 2 {
		usage(os.Stderr)
		return exitInvalid
	}
	cfg.Addr, cfg.Port = flags.Arg(0), flags.Arg(1)
	if *verbose {
		progress := newPeerProgress()
		cfg.OnProgress = progress.report
		cfg.OnClose = progress.forget
	}

	log.Println("running version", version)
	srv, err := server.New(cfg)
	if err != nil {
		log.Println(err)
		return 1
	}
	if err := srv.Serve(ctx); err != nil {
		log.Println(err)
		return 1
	}
	log.Println("server has been stopped gracefully")
	return 0
}

func runClient(ctx context.Context, args []string) int {
	flags := flag.NewFlagSet("client", flag.ContinueOnError)
	parallel := flags.Int("parallel", 1, "files uploaded at the same time")
	chunk := flags.Int("chunk", transfer.DefaultBufferSize, "send chunk size in bytes")
	if err := flags.Parse(args); err != nil || flags.NArg() < 3 {
		usage(os.Stderr)
		return exitInvalid
	}

	opts := []transfer.SenderOption{transfer.WithChunkSize(*chunk)}
	paths := flags.Args()[2:]
	if len(paths) == 1 {
		opts = append(opts, transfer.WithSendProgress(logProgress(paths[0])))
	}
	c := client.New(flags.Arg(0), flags.Arg(1), opts...)
	if err := c.UploadAll(ctx, paths, *parallel); err != nil {
		log.Println("upload failed:", err)
		return 1
	}
	return 0
}

func runWatch(ctx context.Context, args []string) int {
	flags := flag.NewFlagSet("watch", flag.ContinueOnError)
	settle := flags.Duration("settle", 0, "quiet period before a changed file is sent")
	parallel := flags.Int("parallel", 2, "files uploaded at the same time")
	if err := flags.Parse(args); err != nil || flags.NArg() != 3 {
		usage(os.Stderr)
		return exitInvalid
	}

	c := client.New(flags.Arg(0), flags.Arg(1))
	w := watch.New(flags.Arg(2), c.Upload)
	if *settle > 0 {
		w.Settle = *settle
	}
	w.Parallel = *parallel
	if err := w.Run(ctx); err != nil {
		log.Println(err)
		return 1
	}
	return 0
}

// logProgress logs every tenth of a transfer.
func logProgress(name string) func(transfer.Progress) {
	last := -1
	return func(p transfer.Progress) {
		if step := int(p.Percent()) / 10; step != last {
			last = step
			log.Printf("%s: %v", name, p)
		}
	}
}

// peerProgress throttles progress logging per connected peer.
type peerProgress struct {
	peers map[string]func(transfer.Progress)
}

func newPeerProgress() *peerProgress {
	return &peerProgress{peers: make(map[string]func(transfer.Progress))}
}

func (pp *peerProgress) report(peer string, p transfer.Progress) {
	report, ok := pp.peers[peer]
	if !ok {
		report = logProgress(peer)
		pp.peers[peer] = report
	}
	report(p)
}

func (pp *peerProgress) forget(peer string, _ error) {
	delete(pp.peers, peer)
}
