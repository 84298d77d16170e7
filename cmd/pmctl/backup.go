package main

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/spf13/cobra"

	"github.com/joshuapare/pmemkit/container"
	"github.com/joshuapare/pmemkit/pool"
)

var (
	backupCodec  string
	restoreForce bool
)

var (
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	lz4Magic  = []byte{0x04, 0x22, 0x4d, 0x18}
)

func init() {
	b := newBackupCmd()
	b.Flags().StringVar(&backupCodec, "codec", "zstd", "Compression: zstd or lz4")
	rootCmd.AddCommand(b)

	r := newRestoreCmd()
	r.Flags().BoolVarP(&restoreForce, "force", "f", false, "Overwrite an existing pool file")
	rootCmd.AddCommand(r)
}

func newBackupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup <pool> <output>",
		Short: "Write a compressed copy of a pool",
		Long: `The backup command opens a pool, recovering it if needed, and writes
a compressed image of the whole region.

Example:
  pmctl backup replica.pmk replica.pmk.zst
  pmctl backup replica.pmk replica.pmk.lz4 --codec lz4`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackup(args)
		},
	}
}

func newRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <backup> <pool>",
		Short: "Recreate a pool from a backup",
		Long: `The restore command decompresses a backup written by pmctl backup,
detecting the codec from the frame header, and checks that the result
opens as a pool.

Example:
  pmctl restore replica.pmk.zst replica.pmk`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRestore(args)
		},
	}
}

func runBackup(args []string) error {
	p, err := openPool(args[0])
	if err != nil {
		return err
	}
	image := p.Clone()
	if err := p.Close(); err != nil {
		return err
	}

	f, err := os.Create(args[1])
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	if err := compress(bw, image, backupCodec); err != nil {
		_ = f.Close()
		return err
	}
	if err := errors.Join(bw.Flush(), f.Sync(), f.Close()); err != nil {
		return err
	}

	pr := container.Printer()
	log.Info("backup written", "pool", args[0], "output", args[1], "codec", backupCodec, "bytes", len(image))
	printInfo("Backed up %s to %s (%s, %s bytes)\n", args[0], args[1], backupCodec, pr.Sprintf("%d", len(image)))
	return nil
}

func compress(w io.Writer, image []byte, codec string) error {
	var zw io.WriteCloser
	switch codec {
	case "zstd":
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
		if err != nil {
			return err
		}
		zw = enc
	case "lz4":
		zw = lz4.NewWriter(w)
	default:
		return fmt.Errorf("unknown codec %q", codec)
	}
	if _, err := zw.Write(image); err != nil {
		_ = zw.Close()
		return err
	}
	return zw.Close()
}

func decompress(data []byte) ([]byte, string, error) {
	switch {
	case bytes.HasPrefix(data, zstdMagic):
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, "", err
		}
		defer dec.Close()
		out, err := dec.DecodeAll(data, nil)
		return out, "zstd", err
	case bytes.HasPrefix(data, lz4Magic):
		out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
		return out, "lz4", err
	default:
		return nil, "", errors.New("not a pmctl backup: unknown frame header")
	}
}

func runRestore(args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	image, codec, err := decompress(data)
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if restoreForce {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(args[1], flags, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(image); err != nil {
		_ = f.Close()
		return err
	}
	if err := errors.Join(f.Sync(), f.Close()); err != nil {
		return err
	}

	p, err := pool.Open(args[1], pool.Options{Logger: log.Logger})
	if err != nil {
		return fmt.Errorf("restored image does not open: %w", err)
	}
	id := p.UUID()
	if err := p.Close(); err != nil {
		return err
	}
	printInfo("Restored %s from %s (%s, pool %s)\n", args[1], args[0], codec, id)
	return nil
}
