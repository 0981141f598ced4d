package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ferryfm/ferry/internal/backend"
	"github.com/ferryfm/ferry/internal/backend/localfs"
	s3backend "github.com/ferryfm/ferry/internal/backend/s3"
	"github.com/ferryfm/ferry/internal/config"
	"github.com/ferryfm/ferry/internal/events"
	"github.com/ferryfm/ferry/internal/progress"
	"github.com/ferryfm/ferry/internal/transfer"
)

// Object storage flags shared by copy and move.
var (
	s3Endpoint  string
	s3Region    string
	s3AccessKey string
	s3SecretKey string
	s3PathStyle bool
)

func addObjectStorageFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s3Endpoint, "endpoint", "", "object storage endpoint URL (for s3:// paths)")
	cmd.Flags().StringVar(&s3Region, "region", "", "object storage region")
	cmd.Flags().StringVar(&s3AccessKey, "access-key", "", "object storage access key")
	cmd.Flags().StringVar(&s3SecretKey, "secret-key", "", "object storage secret key")
	cmd.Flags().BoolVar(&s3PathStyle, "path-style", true, "use path-style addressing (MinIO, Ceph)")
}

func newCopyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "copy SOURCE... DEST",
		Short: "Copy files to a destination directory or s3:// prefix",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransfer(cmd, backend.KindCopy, args)
		},
	}
	addObjectStorageFlags(cmd)
	return cmd
}

func newMoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "move SOURCE... DEST",
		Short: "Move files to a destination directory or s3:// prefix",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransfer(cmd, backend.KindMove, args)
		},
	}
	addObjectStorageFlags(cmd)
	return cmd
}

func newExtractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extract ARCHIVE... DEST",
		Short: "Extract archives (.tar, .tar.gz, .tgz, .zip) into a directory",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransfer(cmd, backend.KindExtract, args)
		},
	}
}

// runTransfer wires up a one-shot engine: event bus, backend, registry.
// It submits a single transfer and blocks until the terminal event.
func runTransfer(cmd *cobra.Command, kind backend.Kind, args []string) error {
	sources := args[:len(args)-1]
	dest := args[len(args)-1]

	session, err := config.LoadSession(cfgFile)
	if err != nil {
		return err
	}

	bus := events.NewEventBus(0)
	defer bus.Close()

	// The registry is constructed first so it can serve as the backend's
	// event sink; the backend is attached before any submission.
	reg := transfer.NewRegistry(transfer.Options{
		Bus:            bus,
		Store:          session,
		Log:            logger,
		MaxConcurrent:  session.MaxConcurrent,
		BandwidthLimit: session.BandwidthLimit,
		PanelVisible:   session.ShowTransferPanel,
	})

	exec, err := buildBackend(cmd, kind, sources, dest, reg)
	if err != nil {
		return err
	}
	reg.AttachBackend(exec)

	// Subscribe before submitting: a small local transfer can reach its
	// terminal event before Wait would otherwise get a channel.
	reporter := progress.NewReporter(bus)

	id, err := reg.Submit(kind, sources, dest)
	if err != nil {
		return err
	}
	logger.Debugf("submitted %s transfer %s", kind, id)

	return reporter.Wait(id)
}

// buildBackend picks the executor: object storage when any path is an
// s3:// URL, the local filesystem otherwise.
func buildBackend(cmd *cobra.Command, kind backend.Kind, sources []string, dest string, sink backend.EventSink) (backend.Backend, error) {
	usesObjectStorage := strings.HasPrefix(dest, "s3://")
	for _, src := range sources {
		if strings.HasPrefix(src, "s3://") {
			usesObjectStorage = true
		}
	}

	if !usesObjectStorage {
		return localfs.New(sink, logger), nil
	}

	if kind == backend.KindExtract {
		return nil, fmt.Errorf("extract is not supported against object storage")
	}
	client, err := s3backend.NewClient(cmd.Context(), s3backend.ClientConfig{
		Endpoint:     s3Endpoint,
		Region:       s3Region,
		AccessKey:    s3AccessKey,
		SecretKey:    s3SecretKey,
		UsePathStyle: s3PathStyle,
	})
	if err != nil {
		return nil, err
	}
	return s3backend.New(client, sink, logger), nil
}
