package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mossy-p/webrtc-meet/internal/ui"
)

var newCmd = &cobra.Command{
	Use:   "new",
	Short: "Create a new room ID",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		api := NewAPI(cfg.HTTPBaseURL())

		room, err := api.NewRoom(cmd.Context())
		if err != nil {
			return err
		}
		info, err := api.RoomInfo(cmd.Context(), room)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.RoomView(info, cfg.HTTPBaseURL()+"/room/"+room))
		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:   "info <room>",
	Short: "Show how many participants are in a room",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		info, err := NewAPI(cfg.HTTPBaseURL()).RoomInfo(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.RoomView(info, ""))
		return nil
	},
}

var (
	flagReserveName string
	flagReserveMax  int
)

var reserveCmd = &cobra.Command{
	Use:   "reserve",
	Short: "Reserve a room with a short shareable code",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		room, err := NewAPI(cfg.HTTPBaseURL()).Reserve(cmd.Context(), flagReserveName, flagReserveMax)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		ui.PrintSuccess(out, "room reserved")
		fmt.Fprintf(out, "  code: %s\n  id:   %s\n", ui.BoldStyle.Render(room.Code), ui.MutedStyle.Render(room.RoomID))
		return nil
	},
}

func init() {
	reserveCmd.Flags().StringVarP(&flagReserveName, "name", "n", "", "your name, recorded as the room's creator")
	reserveCmd.Flags().IntVar(&flagReserveMax, "max", 0, "participant limit, 2 to 16 (server default when unset)")
	_ = reserveCmd.MarkFlagRequired("name")
}
