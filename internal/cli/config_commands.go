package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ferryfm/ferry/internal/config"
	"github.com/ferryfm/ferry/internal/constants"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change persisted engine settings",
	}
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigSetCmd())
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the current engine settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := config.LoadSession(cfgFile)
			if err != nil {
				return err
			}
			fmt.Printf("max_concurrent: %d\n", session.MaxConcurrent)
			if session.BandwidthLimit == 0 {
				fmt.Println("bandwidth_limit: unlimited")
			} else {
				fmt.Printf("bandwidth_limit: %d bytes/sec\n", session.BandwidthLimit)
			}
			return nil
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change a persisted engine setting",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "max-concurrent N",
		Short: fmt.Sprintf("Set concurrent transfer limit (1-%d)", constants.MaxConcurrentCeiling),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid value %q: %w", args[0], err)
			}
			if n < 1 || n > constants.MaxConcurrentCeiling {
				return config.ErrInvalidMaxConcurrent
			}
			session, err := config.LoadSession(cfgFile)
			if err != nil {
				return err
			}
			session.MaxConcurrent = n
			return session.Save()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "bandwidth-limit BYTES_PER_SEC",
		Short: "Set global bandwidth limit in bytes/sec (0 = unlimited)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value %q: %w", args[0], err)
			}
			if n < 0 {
				return config.ErrInvalidBandwidthLimit
			}
			session, err := config.LoadSession(cfgFile)
			if err != nil {
				return err
			}
			session.BandwidthLimit = n
			return session.Save()
		},
	})

	return cmd
}
