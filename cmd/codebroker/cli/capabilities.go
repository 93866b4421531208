// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"codebroker/internal/capability"
	"codebroker/internal/container"
)

var capabilitiesJSON bool

var capabilitiesCmd = &cobra.Command{
	Use:   "capabilities",
	Short: "Introspect the guest image's Python runtime and network policy",
	Long: `capabilities runs the same one-shot probe container a production
/capabilities endpoint would, reporting the guest's Python version,
installed packages, and the network policy implied by the configured
Docker network mode.`,
	RunE: runCapabilities,
}

func init() {
	capabilitiesCmd.Flags().BoolVar(&capabilitiesJSON, "json", false, "print the raw result as JSON instead of a summary")
}

func runCapabilities(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	engine, err := container.NewEngine(container.EngineTypeDocker)
	if err != nil {
		return fmt.Errorf("select container engine: %w", err)
	}

	prober := capability.NewProber(engine)
	info := prober.RuntimeInfo(context.Background(), settings)
	capability.SortPackages(info.InstalledPackages)
	policy := capability.DeriveNetworkPolicy(settings, info)

	out := cmd.OutOrStdout()
	if capabilitiesJSON {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(struct {
			Runtime capability.RuntimeInfo   `json:"runtime"`
			Network capability.NetworkPolicy `json:"networkPolicy"`
		}{info, policy})
	}

	if !info.OK {
		fmt.Fprintf(out, "guest introspection failed: %s\n", info.Error)
	} else {
		fmt.Fprintf(out, "python version: %s\n", info.PythonVersion)
		fmt.Fprintf(out, "installed packages: %d\n", len(info.InstalledPackages))
	}
	fmt.Fprintf(out, "network mode: %s (internet access: %t, pip install: %t)\n",
		policy.ExecutorNetworkMode, policy.InternetAccess, policy.SupportsPipInstall)
	return nil
}
