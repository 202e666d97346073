// Command qrxfer demonstrates an end-to-end transfer of a real file
// through an in-process Loopback channel: no camera, no QR image, just
// the Sender and Receiver sessions driving each other the way two
// phones pointed at each other's screens would.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/qrxfer/qrxfer/channel"
	"github.com/qrxfer/qrxfer/chunker"
	"github.com/qrxfer/qrxfer/daemon/config"
	"github.com/qrxfer/qrxfer/daemon/service"
	"github.com/qrxfer/qrxfer/internal/observability"
)

type fileDelivery struct {
	outputDir string
}

func (d *fileDelivery) Deliver(fileName, fileType string, content io.Reader) error {
	path := filepath.Join(d.outputDir, fileName)
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	written, err := io.Copy(f, content)
	if err != nil {
		return err
	}
	fmt.Printf("delivered %s (%s, %s)\n", path, fileType, humanize.Bytes(uint64(written)))
	return nil
}

func main() {
	chunkSize := flag.Uint64("chunk-size", 0, "chunk size in bytes (default: config default)")
	outputDir := flag.String("output-dir", ".", "directory the received file is written to")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: qrxfer [options] <file_path>")
		flag.PrintDefaults()
		os.Exit(1)
	}
	srcPath := flag.Arg(0)

	cfg := config.DefaultConfig()
	size := cfg.ChunkSize
	if *chunkSize > 0 {
		size = *chunkSize
	}

	src, err := os.Open(srcPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	meta, err := chunker.NewMetadata(filepath.Base(srcPath), "", uint64(info.Size()), size)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(3)
	}

	fmt.Printf("sending %s (%s) in %d chunks of %s\n",
		srcPath, humanize.Bytes(meta.FileSize), meta.ChunkCount, humanize.Bytes(meta.ChunkSize))

	shutdownTracing, err := observability.InitTracing(context.Background(), "qrxfer", os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(5)
	}
	defer shutdownTracing(context.Background())

	log := observability.NewLogger("qrxfer", os.Stderr)
	metrics := observability.NewMetrics()
	events := service.NewEventPublisher(cfg.EventBufferSize)

	lb := channel.NewLoopback()
	senderOrch := service.NewSenderOrchestrator(src, meta, lb.SenderAdapter(), log, metrics, events)
	receiverOrch := service.NewReceiverOrchestrator(&fileDelivery{outputDir: *outputDir}, lb.ReceiverAdapter(), log, metrics, events)

	if err := senderOrch.Begin(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(4)
	}
	lb.PumpUntilIdle(4*int(meta.ChunkCount) + 8)

	fmt.Printf("receiver committed %d/%d chunks\n", receiverOrch.CommittedCount(), meta.ChunkCount)
}
