package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/majorcontext/xboxauth/internal/device"
	"github.com/majorcontext/xboxauth/internal/log"
	"github.com/majorcontext/xboxauth/internal/ui"
)

var (
	deviceReset     bool
	devicePublicKey bool
)

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Show or rotate the device identity",
	Long: `Show the device identity used to sign Xbox Live requests.

Device and identity tokens are bound to the device key. --reset creates a
new device and discards those tokens; the user token is kept, so the next
login does not prompt.`,
	Args: cobra.NoArgs,
	RunE: runDevice,
}

func init() {
	deviceCmd.Flags().BoolVar(&deviceReset, "reset", false, "replace the device identity with a new one")
	deviceCmd.Flags().BoolVar(&devicePublicKey, "public-key", false, "print the device public key as PEM")
	rootCmd.AddCommand(deviceCmd)
}

func runDevice(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	var dev *device.Identity
	if deviceReset {
		dev, err = device.New()
		if err != nil {
			return err
		}
		if err := store.SetDevice(dev); err != nil {
			return fmt.Errorf("saving device identity: %w", err)
		}
		log.Info("device identity replaced", "device_id", dev.UUID)
	} else if dev, err = store.EnsureDevice(); err != nil {
		return fmt.Errorf("loading device identity: %w", err)
	}

	if devicePublicKey {
		pem, err := device.MarshalKeyPair(dev.Key, false)
		if err != nil {
			return err
		}
		fmt.Print(pem)
		return nil
	}

	proofKey, err := device.Signer{}.ProofKey(dev.Key)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(map[string]any{
			"id":            dev.UUID,
			"serial_number": dev.SerialNumber,
			"created_at":    dev.CreatedAt,
			"proof_key":     json.RawMessage(proofKey),
		})
	}
	ui.Fields(os.Stdout, [][2]string{
		{"Device ID", dev.BracedUUID()},
		{"Serial", dev.BracedSerial()},
		{"Created", dev.CreatedAt.Local().Format(time.DateTime)},
		{"Proof key", string(proofKey)},
	})
	return nil
}
